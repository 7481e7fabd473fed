package triage

import (
	"strings"

	"github.com/you/chatminder/internal/core"
)

// Tier is a priority class whose value doubles as the base score. An event
// is assigned the highest tier it qualifies for, never a lower one.
type Tier int

const (
	TierRandom         Tier = 10
	TierKeyword        Tier = 30
	TierFirstMessage   Tier = 40
	TierMention        Tier = 45
	TierQuestion       Tier = 50
	TierVerified       Tier = 55
	TierModerator      Tier = 60
	TierSubscriberChat Tier = 70
	TierDonation       Tier = 100
)

func (t Tier) String() string {
	switch t {
	case TierDonation:
		return "DONATION"
	case TierSubscriberChat:
		return "SUBSCRIBER_CHAT"
	case TierModerator:
		return "MODERATOR"
	case TierVerified:
		return "VERIFIED"
	case TierQuestion:
		return "QUESTION"
	case TierMention:
		return "MENTION"
	case TierFirstMessage:
		return "FIRST_MESSAGE"
	case TierKeyword:
		return "KEYWORD"
	case TierRandom:
		return "RANDOM"
	}
	return "UNKNOWN"
}

const (
	questionBonus     = 15
	botNameBonus      = 10
	firstMessageBonus = 10
	keywordBonus      = 5
	keywordBonusCap   = 20
	bitsBonusCap      = 50
	monthsBonusCap    = 20
)

// Words that open a question when no question mark is present.
var interrogatives = map[string]struct{}{
	"who": {}, "what": {}, "when": {}, "where": {}, "why": {}, "how": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "am": {},
	"do": {}, "does": {}, "did": {},
	"can": {}, "could": {}, "will": {}, "would": {}, "should": {},
}

// Scorer rates events against a fixed tier ladder plus additive modifiers.
// It is pure and side-effect free; the manager owns all state.
type Scorer struct {
	// BotName marks messages that address the bot directly.
	BotName string
	// Keywords are streamer interests, matched case-insensitively.
	Keywords []string
}

// Rating is the scored form of an event before it enters the queue.
type Rating struct {
	Tier  Tier
	Score int
}

// Contribution is one additive term of an explained score.
type Contribution struct {
	Reason string `json:"reason"`
	Points int    `json:"points"`
}

// Explanation is a Rating broken into its terms, for the tuning lab.
type Explanation struct {
	Tier          Tier
	Score         int
	Contributions []Contribution
}

// Rate assigns the base tier and accumulates modifiers. Events that carry a
// paid signal (bits, any subscription tier) start at DONATION regardless of
// their text.
func (s Scorer) Rate(ev core.Event) Rating {
	return s.rate(ev, nil)
}

// Explain rates the event and reports where every point came from.
func (s Scorer) Explain(ev core.Event) Explanation {
	var parts []Contribution
	r := s.rate(ev, func(reason string, points int) {
		parts = append(parts, Contribution{Reason: reason, Points: points})
	})
	return Explanation{Tier: r.Tier, Score: r.Score, Contributions: parts}
}

func (s Scorer) rate(ev core.Event, note func(reason string, points int)) Rating {
	if note == nil {
		note = func(string, int) {}
	}
	text := core.EventText(ev)
	lower := strings.ToLower(text)
	question := isInterrogative(lower)

	var (
		tier       Tier
		bits       int
		months     int
		followers  int
		firstMsg   bool
		subscriber bool
		moderator  bool
		verified   bool
	)

	switch e := ev.(type) {
	case core.Chat:
		bits = e.Bits
		followers = e.Followers
		firstMsg = e.FirstMessage
		subscriber = e.Subscriber
		moderator = e.Moderator
		verified = e.Verified
		if e.Bits > 0 {
			tier = TierDonation
		}
	case core.Subscription:
		tier = TierDonation
		months = e.Months
	case core.Bits:
		tier = TierDonation
		bits = e.Amount
	default:
		tier = TierRandom
	}

	raise := func(t Tier) {
		if t > tier {
			tier = t
		}
	}
	if subscriber {
		raise(TierSubscriberChat)
	}
	if moderator {
		raise(TierModerator)
	}
	if verified {
		raise(TierVerified)
	}
	if question {
		raise(TierQuestion)
	}
	if ev.EventMeta().Platform == core.PlatformX {
		raise(TierMention)
	}
	if firstMsg {
		raise(TierFirstMessage)
	}
	if s.keywordHits(lower) > 0 {
		raise(TierKeyword)
	}
	raise(TierRandom)

	score := int(tier)
	note("tier", int(tier))
	if question {
		score += questionBonus
		note("question", questionBonus)
	}
	if s.namesBot(lower) {
		score += botNameBonus
		note("bot_name", botNameBonus)
	}
	if firstMsg {
		score += firstMessageBonus
		note("first_message", firstMessageBonus)
	}
	if hits := s.keywordHits(lower); hits > 0 {
		bonus := hits * keywordBonus
		if bonus > keywordBonusCap {
			bonus = keywordBonusCap
		}
		score += bonus
		note("keywords", bonus)
	}
	if ev.EventMeta().Platform == core.PlatformX {
		if bonus := followerBonus(followers); bonus > 0 {
			score += bonus
			note("followers", bonus)
		}
	}
	if bits > 0 {
		bonus := bits / 10
		if bonus > bitsBonusCap {
			bonus = bitsBonusCap
		}
		score += bonus
		note("bits", bonus)
	}
	if months > 0 {
		bonus := months
		if bonus > monthsBonusCap {
			bonus = monthsBonusCap
		}
		score += bonus
		note("months", bonus)
	}

	return Rating{Tier: tier, Score: score}
}

func (s Scorer) namesBot(lower string) bool {
	name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s.BotName), "@"))
	if name == "" {
		return false
	}
	return strings.Contains(lower, name)
}

func (s Scorer) keywordHits(lower string) int {
	hits := 0
	for _, kw := range s.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(lower, kw) {
			hits++
		}
	}
	return hits
}

func followerBonus(followers int) int {
	switch {
	case followers >= 10000:
		return 20
	case followers >= 1000:
		return 10
	case followers >= 100:
		return 5
	}
	return 0
}

func isInterrogative(text string) bool {
	lower := strings.ToLower(text)
	if strings.Contains(lower, "?") {
		return true
	}
	fields := strings.Fields(lower)
	if len(fields) == 0 {
		return false
	}
	first := strings.Trim(fields[0], ",.!:;\"'")
	if _, ok := interrogatives[first]; ok {
		return true
	}
	// contractions: "what's", "who'd", "how're"
	for w := range interrogatives {
		if strings.HasPrefix(first, w) && len(first) > len(w) && first[len(w)] == '\'' {
			return true
		}
	}
	return false
}
