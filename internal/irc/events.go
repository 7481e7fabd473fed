package irc

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/you/chatminder/internal/core"
)

// ChatFromPrivmsg maps a parsed PRIVMSG for the given channel onto a chat
// event. Messages for other channels or without text are rejected.
func ChatFromPrivmsg(msg Message, channel string) (core.Chat, bool) {
	if msg.Command != "PRIVMSG" || !strings.EqualFold(msg.Channel, channel) {
		return core.Chat{}, false
	}
	if msg.Trailing == "" {
		return core.Chat{}, false
	}

	badges := msg.Tag("badges")
	return core.Chat{
		Meta:         metaFromTags(msg, PrefixNick(msg.Prefix)),
		Text:         msg.Trailing,
		Subscriber:   hasBadge(badges, "subscriber") || hasBadge(badges, "founder") || msg.Tag("subscriber") == "1",
		Moderator:    msg.Tag("mod") == "1" || hasBadge(badges, "moderator") || hasBadge(badges, "broadcaster"),
		Verified:     hasBadge(badges, "partner") || hasBadge(badges, "vip") || msg.Tag("vip") == "1",
		FirstMessage: msg.Tag("first-msg") == "1",
		Bits:         tagInt(msg, "bits"),
	}, true
}

// EventFromUsernotice maps a USERNOTICE onto its typed event. These duplicate
// what EventSub delivers and act as the backup path; notices outside the
// sub/gift/raid family are rejected.
func EventFromUsernotice(msg Message, channel string) (core.Event, bool) {
	if msg.Command != "USERNOTICE" || !strings.EqualFold(msg.Channel, channel) {
		return nil, false
	}

	// USERNOTICE comes prefixed tmi.twitch.tv; the acting user rides in the
	// login tag, not the prefix.
	meta := metaFromTags(msg, msg.Tag("login"))

	switch msg.Tag("msg-id") {
	case "sub", "resub":
		return core.Subscription{
			Meta:   meta,
			Tier:   msg.Tag("msg-param-sub-plan"),
			Months: tagInt(msg, "msg-param-cumulative-months"),
			Text:   msg.Trailing,
		}, true
	case "subgift":
		return core.Subscription{
			Meta:      meta,
			Tier:      msg.Tag("msg-param-sub-plan"),
			Gift:      true,
			GiftCount: 1,
		}, true
	case "submysterygift":
		return core.Subscription{
			Meta:      meta,
			Tier:      msg.Tag("msg-param-sub-plan"),
			Gift:      true,
			GiftCount: tagInt(msg, "msg-param-mass-gift-count"),
		}, true
	case "raid":
		return core.Raid{
			Meta:    meta,
			Viewers: tagInt(msg, "msg-param-viewerCount"),
		}, true
	}
	return nil, false
}

func metaFromTags(msg Message, fallbackUser string) core.Meta {
	user := fallbackUser
	if display := msg.Tag("display-name"); display != "" {
		user = display
	}

	ts := time.Now().UTC()
	if raw := msg.Tag("tmi-sent-ts"); raw != "" {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			ts = time.UnixMilli(ms).UTC()
		}
	}

	id := msg.Tag("id")
	if id == "" {
		id = fmt.Sprintf("%s-%d", user, ts.UnixNano())
	}

	return core.Meta{
		ID:       id,
		Platform: core.PlatformTwitch,
		Username: user,
		UserID:   msg.Tag("user-id"),
		Ts:       ts,
	}
}

func hasBadge(badges, name string) bool {
	for _, b := range strings.Split(badges, ",") {
		if b == "" {
			continue
		}
		if set, _, _ := strings.Cut(b, "/"); set == name {
			return true
		}
	}
	return false
}

func tagInt(msg Message, key string) int {
	raw := msg.Tag(key)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
