package eventsub

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/you/chatminder/internal/core"
)

// Wire shapes for the notification payloads this process subscribes to.
// Fields not consumed downstream are left out; unknown fields are ignored.

type userFields struct {
	UserID    string `json:"user_id"`
	UserLogin string `json:"user_login"`
	UserName  string `json:"user_name"`
}

func (u userFields) displayName() string {
	if u.UserName != "" {
		return u.UserName
	}
	if u.UserLogin != "" {
		return u.UserLogin
	}
	return "anonymous"
}

type subscribeEvent struct {
	userFields
	Tier   string `json:"tier"`
	IsGift bool   `json:"is_gift"`
}

type subGiftEvent struct {
	userFields
	Total       int    `json:"total"`
	Tier        string `json:"tier"`
	IsAnonymous bool   `json:"is_anonymous"`
}

type subMessageEvent struct {
	userFields
	Tier    string `json:"tier"`
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
	CumulativeMonths int `json:"cumulative_months"`
}

type cheerEvent struct {
	userFields
	IsAnonymous bool   `json:"is_anonymous"`
	Message     string `json:"message"`
	Bits        int    `json:"bits"`
}

type raidEvent struct {
	FromID      string `json:"from_broadcaster_user_id"`
	FromLogin   string `json:"from_broadcaster_user_login"`
	FromName    string `json:"from_broadcaster_user_name"`
	ViewerCount int    `json:"viewers"`
}

type followEvent struct {
	userFields
	FollowedAt time.Time `json:"followed_at"`
}

type redemptionEvent struct {
	userFields
	UserInput string `json:"user_input"`
	Reward    struct {
		Title string `json:"title"`
		Cost  int    `json:"cost"`
	} `json:"reward"`
}

// DecodeNotification maps a notification payload onto a normalized event.
// Unknown subscription types and undecodable payloads are rejected, never
// fatal; the caller counts drops.
func DecodeNotification(env Envelope) (core.Event, bool) {
	if env.Payload.Subscription == nil || len(env.Payload.Event) == 0 {
		return nil, false
	}

	meta := core.Meta{
		ID:       env.Metadata.MessageID,
		Platform: core.PlatformTwitch,
		Ts:       env.Metadata.MessageTimestamp,
	}
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	if meta.Ts.IsZero() {
		meta.Ts = time.Now().UTC()
	}

	raw := env.Payload.Event
	switch env.Payload.Subscription.Type {
	case SubChannelSubscribe:
		var ev subscribeEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, false
		}
		meta.Username, meta.UserID = ev.displayName(), ev.UserID
		return core.Subscription{Meta: meta, Tier: ev.Tier, Gift: ev.IsGift}, true

	case SubChannelSubGift:
		var ev subGiftEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, false
		}
		meta.Username, meta.UserID = ev.displayName(), ev.UserID
		count := ev.Total
		if count == 0 {
			count = 1
		}
		return core.Subscription{Meta: meta, Tier: ev.Tier, Gift: true, GiftCount: count}, true

	case SubChannelSubMessage:
		var ev subMessageEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, false
		}
		meta.Username, meta.UserID = ev.displayName(), ev.UserID
		return core.Subscription{Meta: meta, Tier: ev.Tier, Months: ev.CumulativeMonths, Text: ev.Message.Text}, true

	case SubChannelCheer:
		var ev cheerEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, false
		}
		meta.Username, meta.UserID = ev.displayName(), ev.UserID
		return core.Bits{Meta: meta, Amount: ev.Bits, Text: ev.Message}, true

	case SubChannelRaid:
		var ev raidEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, false
		}
		name := ev.FromName
		if name == "" {
			name = ev.FromLogin
		}
		meta.Username, meta.UserID = name, ev.FromID
		return core.Raid{Meta: meta, Viewers: ev.ViewerCount}, true

	case SubChannelFollow:
		var ev followEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, false
		}
		meta.Username, meta.UserID = ev.displayName(), ev.UserID
		if !ev.FollowedAt.IsZero() {
			meta.Ts = ev.FollowedAt
		}
		return core.Follow{Meta: meta}, true

	case SubChannelRedemption:
		var ev redemptionEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, false
		}
		meta.Username, meta.UserID = ev.displayName(), ev.UserID
		return core.Redemption{Meta: meta, Reward: ev.Reward.Title, Cost: ev.Reward.Cost, Input: ev.UserInput}, true
	}
	return nil, false
}
