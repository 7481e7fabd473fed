package irc

import (
	"testing"
	"time"

	"github.com/you/chatminder/internal/core"
)

func mustParse(t *testing.T, line string) Message {
	t.Helper()
	msg, ok := ParseLine(line)
	if !ok {
		t.Fatalf("ParseLine(%q) rejected", line)
	}
	return msg
}

func TestChatFromPrivmsg(t *testing.T) {
	msg := mustParse(t, "@badges=subscriber/1;display-name=Foo;user-id=42 :foo!foo@foo.tmi.twitch.tv PRIVMSG #chan :hello")
	ev, ok := ChatFromPrivmsg(msg, "chan")
	if !ok {
		t.Fatalf("ChatFromPrivmsg rejected")
	}
	if ev.Username != "Foo" || ev.UserID != "42" || !ev.Subscriber || ev.Text != "hello" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Platform != core.PlatformTwitch {
		t.Fatalf("platform = %q", ev.Platform)
	}
	if ev.Moderator || ev.Verified || ev.FirstMessage || ev.Bits != 0 {
		t.Fatalf("unexpected flags: %+v", ev)
	}
}

func TestChatFromPrivmsgTags(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		check func(t *testing.T, ev core.Chat)
	}{
		{
			name: "bits and first message",
			line: "@bits=500;first-msg=1;id=m1;user-id=7 :new!new@new.tmi.twitch.tv PRIVMSG #chan :nice stream",
			check: func(t *testing.T, ev core.Chat) {
				if ev.Bits != 500 || !ev.FirstMessage {
					t.Fatalf("bits=%d first=%v", ev.Bits, ev.FirstMessage)
				}
				if ev.ID != "m1" {
					t.Fatalf("id = %q", ev.ID)
				}
			},
		},
		{
			name: "moderator via mod tag",
			line: "@mod=1;user-id=8 :m!m@m.tmi.twitch.tv PRIVMSG #chan :hi",
			check: func(t *testing.T, ev core.Chat) {
				if !ev.Moderator {
					t.Fatalf("moderator not set: %+v", ev)
				}
			},
		},
		{
			name: "broadcaster counts as moderator",
			line: "@badges=broadcaster/1 :b!b@b.tmi.twitch.tv PRIVMSG #chan :hi",
			check: func(t *testing.T, ev core.Chat) {
				if !ev.Moderator {
					t.Fatalf("broadcaster not moderator: %+v", ev)
				}
			},
		},
		{
			name: "vip is verified",
			line: "@badges=vip/1 :v!v@v.tmi.twitch.tv PRIVMSG #chan :hi",
			check: func(t *testing.T, ev core.Chat) {
				if !ev.Verified {
					t.Fatalf("vip not verified: %+v", ev)
				}
			},
		},
		{
			name: "founder counts as subscriber",
			line: "@badges=founder/0 :f!f@f.tmi.twitch.tv PRIVMSG #chan :hi",
			check: func(t *testing.T, ev core.Chat) {
				if !ev.Subscriber {
					t.Fatalf("founder not subscriber: %+v", ev)
				}
			},
		},
		{
			name: "timestamp from tmi-sent-ts",
			line: "@tmi-sent-ts=1700000000000 :x!x@x.tmi.twitch.tv PRIVMSG #chan :hi",
			check: func(t *testing.T, ev core.Chat) {
				want := time.UnixMilli(1700000000000).UTC()
				if !ev.Ts.Equal(want) {
					t.Fatalf("ts = %v, want %v", ev.Ts, want)
				}
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := ChatFromPrivmsg(mustParse(t, tt.line), "chan")
			if !ok {
				t.Fatalf("rejected %q", tt.line)
			}
			tt.check(t, ev)
		})
	}
}

func TestChatFromPrivmsgRejects(t *testing.T) {
	other := mustParse(t, ":x!x@x.tmi.twitch.tv PRIVMSG #other :hi")
	if _, ok := ChatFromPrivmsg(other, "chan"); ok {
		t.Fatalf("accepted message for another channel")
	}
	join := mustParse(t, ":x!x@x.tmi.twitch.tv JOIN #chan")
	if _, ok := ChatFromPrivmsg(join, "chan"); ok {
		t.Fatalf("accepted JOIN as chat")
	}
}

func TestEventFromUsernotice(t *testing.T) {
	t.Run("resub with message", func(t *testing.T) {
		line := "@msg-id=resub;msg-param-sub-plan=1000;msg-param-cumulative-months=9;login=foo;user-id=42;id=n1 :tmi.twitch.tv USERNOTICE #chan :nine months!"
		ev, ok := EventFromUsernotice(mustParse(t, line), "chan")
		if !ok {
			t.Fatalf("rejected")
		}
		sub, ok := ev.(core.Subscription)
		if !ok {
			t.Fatalf("got %T, want Subscription", ev)
		}
		if sub.Tier != "1000" || sub.Months != 9 || sub.Text != "nine months!" || sub.Gift {
			t.Fatalf("unexpected: %+v", sub)
		}
		if sub.Username != "foo" || sub.UserID != "42" {
			t.Fatalf("identity: %+v", sub.Meta)
		}
	})

	t.Run("display name beats login", func(t *testing.T) {
		line := "@msg-id=sub;msg-param-sub-plan=1000;login=foo;display-name=FooBar;user-id=42;id=n5 :tmi.twitch.tv USERNOTICE #chan"
		ev, ok := EventFromUsernotice(mustParse(t, line), "chan")
		if !ok {
			t.Fatalf("rejected")
		}
		if sub := ev.(core.Subscription); sub.Username != "FooBar" {
			t.Fatalf("identity: %+v", sub.Meta)
		}
	})

	t.Run("mystery gift", func(t *testing.T) {
		line := "@msg-id=submysterygift;msg-param-sub-plan=2000;msg-param-mass-gift-count=5;login=rich;id=n2 :tmi.twitch.tv USERNOTICE #chan"
		ev, ok := EventFromUsernotice(mustParse(t, line), "chan")
		if !ok {
			t.Fatalf("rejected")
		}
		sub := ev.(core.Subscription)
		if !sub.Gift || sub.GiftCount != 5 || sub.Tier != "2000" {
			t.Fatalf("unexpected: %+v", sub)
		}
	})

	t.Run("raid", func(t *testing.T) {
		line := "@msg-id=raid;msg-param-viewerCount=133;login=raider;id=n3 :tmi.twitch.tv USERNOTICE #chan"
		ev, ok := EventFromUsernotice(mustParse(t, line), "chan")
		if !ok {
			t.Fatalf("rejected")
		}
		raid := ev.(core.Raid)
		if raid.Viewers != 133 || raid.Username != "raider" {
			t.Fatalf("unexpected: %+v", raid)
		}
	})

	t.Run("unknown notice rejected", func(t *testing.T) {
		line := "@msg-id=announcement;login=mod :tmi.twitch.tv USERNOTICE #chan :big news"
		if _, ok := EventFromUsernotice(mustParse(t, line), "chan"); ok {
			t.Fatalf("accepted announcement")
		}
	})
}
