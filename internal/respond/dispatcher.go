package respond

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/you/chatminder/internal/core"
	"github.com/you/chatminder/internal/metrics"
	"github.com/you/chatminder/internal/triage"
)

const (
	defaultGenTimeout = 30 * time.Second
	sendTimeout       = 10 * time.Second
	historyDepth      = 10
)

// Prompt carries everything the generator may condition on for one reply.
type Prompt struct {
	Platform  core.Platform
	Username  string
	Text      string
	Tier      string
	Score     int
	GameState string
	Viewer    *Viewer
	History   []string
}

// Generator produces one reply for a prompt. A generation that errors or
// returns an empty string costs the viewer their reply; the selection is
// never requeued.
type Generator interface {
	Generate(ctx context.Context, p Prompt) (string, error)
}

// Viewer is the cross-session memory attached to a prompt when a store is
// configured.
type Viewer struct {
	Username  string
	Sightings int
	FirstSeen time.Time
	LastSeen  time.Time
	LastReply string
}

// ViewerStore records sightings and outbound replies and returns what is
// known about the viewer. Observe runs before generation, RecordReply after
// a successful send.
type ViewerStore interface {
	Observe(ctx context.Context, platform core.Platform, userID, username string) (Viewer, error)
	RecordReply(ctx context.Context, platform core.Platform, userID, reply string) error
}

// TwitchSender is the outbound half of the chat adapter.
type TwitchSender interface {
	SendMessage(ctx context.Context, text string) error
	ReplyTo(ctx context.Context, parentID, text string) error
}

// XPoster publishes replies on X.
type XPoster interface {
	Post(ctx context.Context, text, replyToID string) (string, error)
}

// Source is the triage side of the dispatcher: typed streams of selected
// work and signals, plus the shared outcome trace.
type Source interface {
	Selected() <-chan triage.Selection
	Subscriptions() <-chan core.Subscription
	Bits() <-chan core.Bits
	Raids() <-chan core.Raid
	Follows() <-chan core.Follow
	Redemptions() <-chan core.Redemption
	NoteOutcome(ev core.Event, stage core.Stage, score int)
}

type Config struct {
	Source    Source
	Generator Generator
	Twitch    TwitchSender
	// X is optional; when nil, replies to X mentions are logged and dropped.
	X XPoster
	// Viewers is optional; when set, prompts carry cross-session memory.
	Viewers ViewerStore
	// GameState is optional; when set, its snapshot is taken per reply.
	GameState  func(ctx context.Context) string
	GenTimeout time.Duration
	Log        *slog.Logger
	Metrics    *metrics.Metrics
}

// Dispatcher turns selections into generated replies and signals into
// acknowledgement lines. One Run goroutine owns all of its state.
type Dispatcher struct {
	src        Source
	gen        Generator
	twitch     TwitchSender
	x          XPoster
	viewers    ViewerStore
	gameState  func(ctx context.Context) string
	genTimeout time.Duration
	log        *slog.Logger
	metrics    *metrics.Metrics

	history *history
}

func New(cfg Config) (*Dispatcher, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("respond: source is required")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("respond: generator is required")
	}
	if cfg.Twitch == nil {
		return nil, fmt.Errorf("respond: twitch sender is required")
	}
	genTimeout := cfg.GenTimeout
	if genTimeout <= 0 {
		genTimeout = defaultGenTimeout
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		src:        cfg.Source,
		gen:        cfg.Generator,
		twitch:     cfg.Twitch,
		x:          cfg.X,
		viewers:    cfg.Viewers,
		gameState:  cfg.GameState,
		genTimeout: genTimeout,
		log:        log,
		metrics:    cfg.Metrics,
		history:    newHistory(historyDepth),
	}, nil
}

// Run consumes the typed streams until ctx ends. Selections and signals are
// handled serially; a slow generation delays acknowledgements rather than
// reordering them.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sel := <-d.src.Selected():
			d.handleSelection(ctx, sel)
		case sub := <-d.src.Subscriptions():
			d.ack(ctx, sub, subLine(sub))
		case b := <-d.src.Bits():
			d.ack(ctx, b, bitsLine(b))
		case r := <-d.src.Raids():
			d.ack(ctx, r, raidLine(r))
		case f := <-d.src.Follows():
			d.noteFollow(ctx, f)
		case rd := <-d.src.Redemptions():
			d.log.Debug("respond: redemption noted, no acknowledgement",
				"user", rd.Meta.Username, "reward", rd.Reward)
		}
	}
}

func (d *Dispatcher) handleSelection(ctx context.Context, sel triage.Selection) {
	meta := sel.Event.EventMeta()

	genCtx, cancel := context.WithTimeout(ctx, d.genTimeout)
	defer cancel()

	prompt := Prompt{
		Platform: meta.Platform,
		Username: meta.Username,
		Text:     core.EventText(sel.Event),
		Tier:     sel.Tier.String(),
		Score:    sel.Score,
		History:  d.history.snapshot(),
	}
	if d.gameState != nil {
		prompt.GameState = d.gameState(genCtx)
	}
	if d.viewers != nil && meta.UserID != "" {
		v, err := d.viewers.Observe(genCtx, meta.Platform, meta.UserID, meta.Username)
		if err != nil {
			d.log.Warn("respond: viewer lookup failed", "user", meta.Username, "err", err)
		} else {
			prompt.Viewer = &v
		}
	}

	start := time.Now()
	reply, err := d.gen.Generate(genCtx, prompt)
	d.metrics.ObserveGeneration(time.Since(start))
	reply = strings.TrimSpace(reply)
	if err != nil || reply == "" {
		d.metrics.IncGenerationFailure()
		d.src.NoteOutcome(sel.Event, core.StageGenerationFailed, sel.Score)
		d.log.Warn("respond: generation failed, reply dropped",
			"platform", meta.Platform, "user", meta.Username, "err", err)
		return
	}

	if meta.Platform == core.PlatformX && d.x == nil {
		d.src.NoteOutcome(sel.Event, core.StageSkipped, sel.Score)
		d.log.Debug("respond: x posting disabled, reply dropped", "id", meta.ID)
		return
	}
	if err := d.send(ctx, meta, reply); err != nil {
		d.metrics.IncSendError(meta.Platform)
		d.src.NoteOutcome(sel.Event, core.StageSendFailed, sel.Score)
		d.log.Error("respond: send failed",
			"platform", meta.Platform, "id", meta.ID, "err", err)
		return
	}

	d.history.push(reply)
	if d.viewers != nil && meta.UserID != "" {
		if err := d.viewers.RecordReply(ctx, meta.Platform, meta.UserID, reply); err != nil {
			d.log.Warn("respond: reply not recorded", "user", meta.Username, "err", err)
		}
	}
	d.metrics.IncDispatched(meta.Platform)
	d.src.NoteOutcome(sel.Event, core.StageDispatched, sel.Score)
	d.log.Info("respond: reply sent",
		"platform", meta.Platform, "user", meta.Username,
		"score", sel.Score, "sampled", sel.Sampled)
}

func (d *Dispatcher) send(ctx context.Context, meta core.Meta, reply string) error {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if meta.Platform == core.PlatformX {
		_, err := d.x.Post(sendCtx, reply, meta.ID)
		return err
	}
	return d.twitch.ReplyTo(sendCtx, meta.ID, reply)
}

// noteFollow drains a follow without thanking the follower; the sighting
// still lands in viewer memory when a store is configured.
func (d *Dispatcher) noteFollow(ctx context.Context, f core.Follow) {
	meta := f.Meta
	if d.viewers != nil && meta.UserID != "" {
		obsCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		_, err := d.viewers.Observe(obsCtx, meta.Platform, meta.UserID, meta.Username)
		cancel()
		if err != nil {
			d.log.Warn("respond: follow sighting not recorded", "user", meta.Username, "err", err)
			return
		}
	}
	d.log.Debug("respond: follow noted", "user", meta.Username)
}

// ack sends a canned acknowledgement line for a paid signal. These skip the
// generator and the triage rate window; every one of them earns a line.
func (d *Dispatcher) ack(ctx context.Context, ev core.Event, line string) {
	if line == "" {
		return
	}
	meta := ev.EventMeta()
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := d.twitch.SendMessage(sendCtx, line); err != nil {
		d.metrics.IncSendError(meta.Platform)
		d.src.NoteOutcome(ev, core.StageSendFailed, 0)
		d.log.Warn("respond: acknowledgement failed",
			"kind", ev.EventKind(), "user", meta.Username, "err", err)
		return
	}
	d.metrics.IncAck(ev.EventKind())
	d.src.NoteOutcome(ev, core.StageDispatched, 0)
	d.log.Info("respond: signal acknowledged", "kind", ev.EventKind(), "user", meta.Username)
}

// history is the rolling window of recent outbound replies, handed to the
// generator so it can steer away from repeating itself. Owned by the Run
// goroutine.
type history struct {
	max     int
	entries []string
}

func newHistory(max int) *history { return &history{max: max} }

func (h *history) push(s string) {
	h.entries = append(h.entries, s)
	if len(h.entries) > h.max {
		h.entries = h.entries[len(h.entries)-h.max:]
	}
}

func (h *history) snapshot() []string {
	return append([]string(nil), h.entries...)
}
