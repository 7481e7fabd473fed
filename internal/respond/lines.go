package respond

import (
	"fmt"

	"github.com/you/chatminder/internal/core"
)

// Acknowledgement lines for signals that never reach the generator.

func subLine(s core.Subscription) string {
	name := displayName(s.Meta)
	switch {
	case s.Gift && s.GiftCount > 1:
		return fmt.Sprintf("%s just gifted %d subs, absolute legend!", name, s.GiftCount)
	case s.Gift:
		return fmt.Sprintf("%s just gifted a sub, what a move!", name)
	case s.Months > 1:
		return fmt.Sprintf("%s resubbed for month %d, welcome back!", name, s.Months)
	default:
		return fmt.Sprintf("%s just subscribed, welcome aboard!", name)
	}
}

func bitsLine(b core.Bits) string {
	return fmt.Sprintf("%s dropped %d bits, much appreciated!", displayName(b.Meta), b.Amount)
}

func raidLine(r core.Raid) string {
	if r.Viewers > 0 {
		return fmt.Sprintf("raid incoming! welcome to the %d raiders from %s's channel!",
			r.Viewers, displayName(r.Meta))
	}
	return fmt.Sprintf("welcome raiders from %s's channel!", displayName(r.Meta))
}

func displayName(meta core.Meta) string {
	if meta.Username != "" {
		return "@" + meta.Username
	}
	return "someone"
}
