package eventsub

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/you/chatminder/internal/core"
)

func TestDecodeWelcome(t *testing.T) {
	frame := `{
		"metadata": {"message_id": "m-1", "message_type": "session_welcome", "message_timestamp": "2024-01-01T00:00:00Z"},
		"payload": {"session": {"id": "s-abc", "status": "connected", "keepalive_timeout_seconds": 10}}
	}`
	env, err := Decode([]byte(frame))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.Metadata.MessageType != TypeWelcome {
		t.Fatalf("message_type = %q", env.Metadata.MessageType)
	}
	if env.Payload.Session == nil || env.Payload.Session.ID != "s-abc" {
		t.Fatalf("session = %+v", env.Payload.Session)
	}
}

func TestDecodeReconnect(t *testing.T) {
	frame := `{
		"metadata": {"message_id": "m-2", "message_type": "session_reconnect"},
		"payload": {"session": {"id": "s-abc", "status": "reconnecting", "reconnect_url": "wss://example.com/ws?id=next"}}
	}`
	env, err := Decode([]byte(frame))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.Payload.Session.ReconnectURL != "wss://example.com/ws?id=next" {
		t.Fatalf("reconnect_url = %q", env.Payload.Session.ReconnectURL)
	}
}

func notification(t *testing.T, subType, event string) Envelope {
	t.Helper()
	return Envelope{
		Metadata: Metadata{
			MessageID:        "msg-1",
			MessageType:      TypeNotification,
			MessageTimestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
			SubscriptionType: subType,
		},
		Payload: Payload{
			Subscription: &Subscription{Type: subType},
			Event:        json.RawMessage(event),
		},
	}
}

func TestDecodeNotification(t *testing.T) {
	tests := []struct {
		name    string
		subType string
		event   string
		check   func(t *testing.T, ev core.Event)
	}{
		{
			name:    "subscribe",
			subType: SubChannelSubscribe,
			event:   `{"user_id":"1","user_login":"foo","user_name":"Foo","tier":"1000","is_gift":false}`,
			check: func(t *testing.T, ev core.Event) {
				sub := ev.(core.Subscription)
				if sub.Tier != "1000" || sub.Gift || sub.Username != "Foo" {
					t.Fatalf("unexpected: %+v", sub)
				}
			},
		},
		{
			name:    "gift total",
			subType: SubChannelSubGift,
			event:   `{"user_id":"2","user_name":"Rich","total":10,"tier":"2000"}`,
			check: func(t *testing.T, ev core.Event) {
				sub := ev.(core.Subscription)
				if !sub.Gift || sub.GiftCount != 10 {
					t.Fatalf("unexpected: %+v", sub)
				}
			},
		},
		{
			name:    "gift without total still counts one",
			subType: SubChannelSubGift,
			event:   `{"user_id":"2","user_name":"Rich","tier":"1000"}`,
			check: func(t *testing.T, ev core.Event) {
				if ev.(core.Subscription).GiftCount != 1 {
					t.Fatalf("unexpected: %+v", ev)
				}
			},
		},
		{
			name:    "resub message",
			subType: SubChannelSubMessage,
			event:   `{"user_id":"3","user_name":"Loyal","tier":"1000","cumulative_months":14,"message":{"text":"here again"}}`,
			check: func(t *testing.T, ev core.Event) {
				sub := ev.(core.Subscription)
				if sub.Months != 14 || sub.Text != "here again" {
					t.Fatalf("unexpected: %+v", sub)
				}
			},
		},
		{
			name:    "cheer",
			subType: SubChannelCheer,
			event:   `{"user_id":"4","user_name":"Fan","bits":500,"message":"nice stream"}`,
			check: func(t *testing.T, ev core.Event) {
				bits := ev.(core.Bits)
				if bits.Amount != 500 || bits.Text != "nice stream" {
					t.Fatalf("unexpected: %+v", bits)
				}
			},
		},
		{
			name:    "anonymous cheer",
			subType: SubChannelCheer,
			event:   `{"is_anonymous":true,"bits":100,"message":"boo"}`,
			check: func(t *testing.T, ev core.Event) {
				if ev.EventMeta().Username != "anonymous" {
					t.Fatalf("username = %q", ev.EventMeta().Username)
				}
			},
		},
		{
			name:    "raid",
			subType: SubChannelRaid,
			event:   `{"from_broadcaster_user_id":"5","from_broadcaster_user_name":"Pal","viewers":77}`,
			check: func(t *testing.T, ev core.Event) {
				raid := ev.(core.Raid)
				if raid.Viewers != 77 || raid.Username != "Pal" {
					t.Fatalf("unexpected: %+v", raid)
				}
			},
		},
		{
			name:    "follow uses followed_at",
			subType: SubChannelFollow,
			event:   `{"user_id":"6","user_name":"New","followed_at":"2024-05-06T07:08:09Z"}`,
			check: func(t *testing.T, ev core.Event) {
				want := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
				if !ev.EventMeta().Ts.Equal(want) {
					t.Fatalf("ts = %v", ev.EventMeta().Ts)
				}
			},
		},
		{
			name:    "redemption",
			subType: SubChannelRedemption,
			event:   `{"user_id":"7","user_name":"Spender","user_input":"play my song","reward":{"title":"Song request","cost":300}}`,
			check: func(t *testing.T, ev core.Event) {
				red := ev.(core.Redemption)
				if red.Reward != "Song request" || red.Cost != 300 || red.Input != "play my song" {
					t.Fatalf("unexpected: %+v", red)
				}
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := DecodeNotification(notification(t, tt.subType, tt.event))
			if !ok {
				t.Fatalf("DecodeNotification rejected %s", tt.subType)
			}
			if ev.EventMeta().ID != "msg-1" {
				t.Fatalf("id = %q, want message id", ev.EventMeta().ID)
			}
			if ev.EventMeta().Platform != core.PlatformTwitch {
				t.Fatalf("platform = %q", ev.EventMeta().Platform)
			}
			tt.check(t, ev)
		})
	}

	t.Run("unknown type rejected", func(t *testing.T) {
		if _, ok := DecodeNotification(notification(t, "channel.update", `{}`)); ok {
			t.Fatalf("accepted unknown type")
		}
	})

	t.Run("missing message id synthesized", func(t *testing.T) {
		env := notification(t, SubChannelFollow, `{"user_id":"1","user_name":"x"}`)
		env.Metadata.MessageID = ""
		ev, ok := DecodeNotification(env)
		if !ok || ev.EventMeta().ID == "" {
			t.Fatalf("no id synthesized: %+v", ev)
		}
	})
}

func TestNewCreateRequest(t *testing.T) {
	req := NewCreateRequest(SubChannelSubscribe, "123", "sess-1")
	if req.Version != "1" || req.Condition["broadcaster_user_id"] != "123" {
		t.Fatalf("subscribe request: %+v", req)
	}
	if req.Transport.Method != "websocket" || req.Transport.SessionID != "sess-1" {
		t.Fatalf("transport: %+v", req.Transport)
	}

	follow := NewCreateRequest(SubChannelFollow, "123", "sess-1")
	if follow.Version != "2" || follow.Condition["moderator_user_id"] != "123" {
		t.Fatalf("follow request: %+v", follow)
	}

	raid := NewCreateRequest(SubChannelRaid, "123", "sess-1")
	if raid.Condition["to_broadcaster_user_id"] != "123" {
		t.Fatalf("raid request: %+v", raid)
	}
	if _, ok := raid.Condition["broadcaster_user_id"]; ok {
		t.Fatalf("raid request kept broadcaster_user_id: %+v", raid)
	}
}
