package core

import "time"

// Platform identifies the source of an event.
type Platform string

const (
	PlatformTwitch Platform = "twitch"
	PlatformX      Platform = "x"
)

// Kind names the concrete event payload, used for logging and metric labels.
type Kind string

const (
	KindChat         Kind = "chat"
	KindSubscription Kind = "subscription"
	KindBits         Kind = "bits"
	KindRaid         Kind = "raid"
	KindFollow       Kind = "follow"
	KindRedemption   Kind = "redemption"
)

// Meta is the header shared by every normalized event. IDs are unique within
// their platform; adapters synthesize one when the source supplies none.
type Meta struct {
	ID       string
	Platform Platform
	Username string
	UserID   string
	Ts       time.Time
}

// EventMeta returns the shared header. Embedding Meta satisfies this half of
// the Event interface; each payload adds its own EventKind.
func (m Meta) EventMeta() Meta { return m }

// Event is one normalized platform occurrence. Adapters produce events, the
// triage manager and dispatcher switch on the concrete type and never mutate
// a payload after it is emitted.
type Event interface {
	EventMeta() Meta
	EventKind() Kind
}

// Chat is a regular chat line or X mention.
type Chat struct {
	Meta
	Text         string
	Subscriber   bool
	Moderator    bool
	Verified     bool
	FirstMessage bool
	Bits         int // cheer embedded in the message, 0 otherwise
	Followers    int // audience size on X, 0 for Twitch
}

func (Chat) EventKind() Kind { return KindChat }

// Subscription covers new subs, resubs, and gift subs. Text carries the
// optional resub message; Months is 0 when the platform omits it.
type Subscription struct {
	Meta
	Tier      string // "1000" | "2000" | "3000" | "Prime"
	Months    int
	Text      string
	Gift      bool
	GiftCount int
}

func (Subscription) EventKind() Kind { return KindSubscription }

// Bits is a standalone cheer event.
type Bits struct {
	Meta
	Amount int
	Text   string
}

func (Bits) EventKind() Kind { return KindBits }

// Raid announces an incoming raid; Username is the raiding broadcaster.
type Raid struct {
	Meta
	Viewers int
}

func (Raid) EventKind() Kind { return KindRaid }

// Follow is a new follower notification.
type Follow struct {
	Meta
}

func (Follow) EventKind() Kind { return KindFollow }

// Redemption is a channel-point reward redemption.
type Redemption struct {
	Meta
	Reward string
	Cost   int
	Input  string
}

func (Redemption) EventKind() Kind { return KindRedemption }

// EventText extracts whatever text rides on the event; empty means the event
// is a pure signal.
func EventText(ev Event) string {
	switch e := ev.(type) {
	case Chat:
		return e.Text
	case Subscription:
		return e.Text
	case Bits:
		return e.Text
	case Redemption:
		return e.Input
	}
	return ""
}
