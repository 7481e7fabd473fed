package brain

import (
	"context"
	"math/rand/v2"
	"strings"

	"github.com/you/chatminder/internal/respond"
)

// Lines is the offline generator: canned replies chosen by simple cues. It
// keeps the pipeline alive when no model is configured and backs the
// scorelab harness.
type Lines struct {
	pick func(n int) int
}

func NewLines() *Lines {
	return &Lines{pick: rand.IntN}
}

var (
	questionLines = []string{
		"good question {user}, putting it on screen",
		"{user} asking the real questions today",
		"honestly {user}, nobody knows, and that is the fun of it",
	}
	donationLines = []string{
		"{user} you absolute legend, thank you!",
		"big love {user}, that keeps the stream going",
		"{user} coming in huge, appreciate you!",
	}
	defaultLines = []string{
		"{user} welcome in, grab a seat",
		"seeing you {user}, glad you made it",
		"{user} good to have you here",
	}
)

func (l *Lines) Generate(_ context.Context, p respond.Prompt) (string, error) {
	pool := poolFor(p)

	// prefer a line the channel has not heard recently
	var fresh []string
	for _, line := range pool {
		if !recentlyUsed(line, p) {
			fresh = append(fresh, line)
		}
	}
	if len(fresh) == 0 {
		fresh = pool
	}

	line := fresh[l.pick(len(fresh))]
	return strings.ReplaceAll(line, "{user}", displayUser(p.Username)), nil
}

func poolFor(p respond.Prompt) []string {
	switch {
	case p.Tier == "DONATION":
		return donationLines
	case strings.Contains(p.Text, "?"):
		return questionLines
	default:
		return defaultLines
	}
}

func recentlyUsed(line string, p respond.Prompt) bool {
	rendered := strings.ReplaceAll(line, "{user}", displayUser(p.Username))
	for _, h := range p.History {
		if h == rendered {
			return true
		}
	}
	return false
}

func displayUser(name string) string {
	if name == "" {
		return "chat"
	}
	return "@" + name
}
