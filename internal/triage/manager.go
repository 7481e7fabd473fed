package triage

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/you/chatminder/internal/core"
	"github.com/you/chatminder/internal/metrics"

	"log/slog"
)

// Settings are the triage knobs. Zero values fall back to the defaults, so a
// partially filled struct behaves sensibly.
type Settings struct {
	TickInterval         time.Duration
	AutoRespondThreshold int
	// ImmediateMargin above the threshold triggers an out-of-band tick.
	ImmediateMargin int
	MaxPerMinute    int
	MinGap          time.Duration
	QueueCap        int
	QueueMaxAge     time.Duration
	StaleAfter      time.Duration
	TopK int
	// SampleChance < 0 switches the sampled path off outright; zero falls
	// back to the default like every other knob.
	SampleChance float64
	CostControl  bool
	DedupTTL        time.Duration
	TraceDepth      int
}

func DefaultSettings() Settings {
	return Settings{
		TickInterval:         2 * time.Second,
		AutoRespondThreshold: 60,
		ImmediateMargin:      50,
		MaxPerMinute:         6,
		MinGap:               8 * time.Second,
		QueueCap:             100,
		QueueMaxAge:          5 * time.Minute,
		StaleAfter:           2 * time.Minute,
		TopK:                 10,
		SampleChance:         0.15,
		CostControl:          true,
		DedupTTL:             2 * time.Minute,
		TraceDepth:           256,
	}
}

func (s Settings) withDefaults() Settings {
	def := DefaultSettings()
	if s.TickInterval <= 0 {
		s.TickInterval = def.TickInterval
	}
	if s.AutoRespondThreshold <= 0 {
		s.AutoRespondThreshold = def.AutoRespondThreshold
	}
	if s.ImmediateMargin <= 0 {
		s.ImmediateMargin = def.ImmediateMargin
	}
	if s.MaxPerMinute <= 0 {
		s.MaxPerMinute = def.MaxPerMinute
	}
	if s.MinGap <= 0 {
		s.MinGap = def.MinGap
	}
	if s.QueueCap <= 0 {
		s.QueueCap = def.QueueCap
	}
	if s.QueueMaxAge <= 0 {
		s.QueueMaxAge = def.QueueMaxAge
	}
	if s.StaleAfter <= 0 {
		s.StaleAfter = def.StaleAfter
	}
	if s.TopK <= 0 {
		s.TopK = def.TopK
	}
	if s.SampleChance == 0 {
		s.SampleChance = def.SampleChance
	} else if s.SampleChance < 0 {
		s.SampleChance = 0
	}
	if s.DedupTTL <= 0 {
		s.DedupTTL = def.DedupTTL
	}
	if s.TraceDepth <= 0 {
		s.TraceDepth = def.TraceDepth
	}
	return s
}

// Selection is one queue pick handed to dispatch.
type Selection struct {
	Event      core.Event
	Tier       Tier
	Score      int
	Sampled    bool
	EnqueuedAt time.Time
}

// Snapshot is the manager state exposed on the status endpoint.
type Snapshot struct {
	QueueDepth   int            `json:"queue_depth"`
	Unprocessed  int            `json:"unprocessed"`
	WindowUsed   int            `json:"window_used"`
	WindowMax    int            `json:"window_max"`
	LastDispatch time.Time      `json:"last_dispatch"`
	CostControl  bool           `json:"cost_control"`
	Trace        []core.Outcome `json:"trace,omitempty"`
}

type managerCmd interface{ managerCmd() }

type cmdIngest struct{ ev core.Event }

func (cmdIngest) managerCmd() {}

type cmdTick struct{}

func (cmdTick) managerCmd() {}

type cmdSetCostControl struct {
	enabled bool
	replyCh chan bool
}

func (cmdSetCostControl) managerCmd() {}

type cmdSnapshot struct{ replyCh chan Snapshot }

func (cmdSnapshot) managerCmd() {}

type cmdOutcome struct{ out core.Outcome }

func (cmdOutcome) managerCmd() {}

// Config wires one manager. Exactly one manager runs per process; adapters
// and the dispatcher receive its handle explicitly.
type Config struct {
	Settings Settings
	Scorer   Scorer
	Clock    clockwork.Clock
	Log      *slog.Logger
	Metrics  *metrics.Metrics
}

// Manager is the single funnel between adapters and dispatch. All state
// (queue, rate window, dedup set, trace) is confined to the Run goroutine;
// everything else talks to it through commands and typed output channels.
type Manager struct {
	cfg     Settings
	scorer  Scorer
	clock   clockwork.Clock
	log     *slog.Logger
	metrics *metrics.Metrics

	cmdCh chan managerCmd
	// done closes when Run returns, so control calls fail instead of wedging
	// against a loop that will never answer.
	done chan struct{}

	selectedCh    chan Selection
	subsCh        chan core.Subscription
	bitsCh        chan core.Bits
	raidsCh       chan core.Raid
	followsCh     chan core.Follow
	redemptionsCh chan core.Redemption

	queue  *queue
	window *dispatchWindow
	trace  *traceRing
	seen   map[string]time.Time

	costControl bool

	randFloat func() float64
	randIntN  func(n int) int
}

func New(cfg Config) *Manager {
	settings := cfg.Settings.withDefaults()
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:           settings,
		scorer:        cfg.Scorer,
		clock:         clock,
		log:           log,
		metrics:       cfg.Metrics,
		cmdCh:         make(chan managerCmd, 256),
		done:          make(chan struct{}),
		selectedCh:    make(chan Selection, 16),
		subsCh:        make(chan core.Subscription, 32),
		bitsCh:        make(chan core.Bits, 32),
		raidsCh:       make(chan core.Raid, 32),
		followsCh:     make(chan core.Follow, 32),
		redemptionsCh: make(chan core.Redemption, 32),
		queue:         newQueue(settings.QueueCap),
		window:        newDispatchWindow(settings.MaxPerMinute, time.Minute, settings.MinGap),
		trace:         newTraceRing(settings.TraceDepth),
		seen:          make(map[string]time.Time),
		costControl:   settings.CostControl,
		randFloat:     rand.Float64,
		randIntN:      rand.IntN,
	}
}

// Typed output streams, one per consumer concern.

func (m *Manager) Selected() <-chan Selection              { return m.selectedCh }
func (m *Manager) Subscriptions() <-chan core.Subscription { return m.subsCh }
func (m *Manager) Bits() <-chan core.Bits                  { return m.bitsCh }
func (m *Manager) Raids() <-chan core.Raid                 { return m.raidsCh }
func (m *Manager) Follows() <-chan core.Follow             { return m.followsCh }
func (m *Manager) Redemptions() <-chan core.Redemption     { return m.redemptionsCh }

// Ingest feeds one normalized event into the funnel. It never blocks an
// adapter; if the funnel is saturated the event is dropped and counted.
func (m *Manager) Ingest(ev core.Event) {
	select {
	case m.cmdCh <- cmdIngest{ev: ev}:
	default:
		meta := ev.EventMeta()
		m.metrics.IncDropped("triage", "funnel_full")
		m.log.Warn("triage: funnel saturated, dropping event",
			"platform", meta.Platform, "kind", ev.EventKind(), "id", meta.ID)
	}
}

// ErrStopped reports a control call against a manager whose Run loop has
// exited.
var ErrStopped = errors.New("triage: manager stopped")

// SetCostControl flips the pre-score gate and returns the previous value.
// The call travels through the funnel; when the loop is down or the caller
// gives up first, it errors instead of blocking forever.
func (m *Manager) SetCostControl(ctx context.Context, enabled bool) (bool, error) {
	replyCh := make(chan bool, 1)
	select {
	case m.cmdCh <- cmdSetCostControl{enabled: enabled, replyCh: replyCh}:
	case <-m.done:
		return false, ErrStopped
	case <-ctx.Done():
		return false, ctx.Err()
	}
	select {
	case prev := <-replyCh:
		return prev, nil
	case <-m.done:
		return false, ErrStopped
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Snapshot reports queue, window and trace state through the funnel, so the
// numbers are mutually consistent. Same liveness contract as SetCostControl.
func (m *Manager) Snapshot(ctx context.Context) (Snapshot, error) {
	replyCh := make(chan Snapshot, 1)
	select {
	case m.cmdCh <- cmdSnapshot{replyCh: replyCh}:
	case <-m.done:
		return Snapshot{}, ErrStopped
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case snap := <-replyCh:
		return snap, nil
	case <-m.done:
		return Snapshot{}, ErrStopped
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// NoteOutcome appends a dispatch-side outcome to the shared trace. It never
// blocks the caller; under saturation the trace entry is lost, not the reply.
func (m *Manager) NoteOutcome(ev core.Event, stage core.Stage, score int) {
	meta := ev.EventMeta()
	out := core.Outcome{
		EventID:  meta.ID,
		Platform: meta.Platform,
		Kind:     ev.EventKind(),
		Stage:    stage,
		Score:    score,
		Ts:       m.clock.Now(),
	}
	select {
	case m.cmdCh <- cmdOutcome{out: out}:
	default:
	}
}

// Run owns all triage state until ctx ends. Ingestion and ticks are
// serialized here; there is no locking anywhere else in the package.
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.done)
	go m.tickerLoop(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-m.cmdCh:
			switch c := cmd.(type) {
			case cmdIngest:
				m.handleIngest(c.ev)
			case cmdTick:
				m.handleTick()
			case cmdSetCostControl:
				prev := m.costControl
				m.costControl = c.enabled
				m.log.Info("triage: cost control toggled", "enabled", c.enabled, "was", prev)
				c.replyCh <- prev
			case cmdSnapshot:
				c.replyCh <- m.buildSnapshot()
			case cmdOutcome:
				m.trace.add(c.out)
			}
		}
	}
}

func (m *Manager) tickerLoop(ctx context.Context) {
	t := m.clock.NewTicker(m.cfg.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.Chan():
			select {
			case m.cmdCh <- cmdTick{}:
			default:
				// funnel saturated; the next tick catches up
			}
		}
	}
}

func (m *Manager) handleIngest(ev core.Event) {
	now := m.clock.Now()
	meta := ev.EventMeta()
	kind := ev.EventKind()

	// IRC USERNOTICE and EventSub can both report the same subscription or
	// raid; a short-lived (kind, user) set collapses the pair.
	if kind != core.KindChat {
		key := string(kind) + "|" + dedupUser(meta)
		if at, ok := m.seen[key]; ok && now.Sub(at) < m.cfg.DedupTTL {
			m.metrics.IncDuplicate()
			m.record(ev, core.StageDuplicate, 0, now)
			m.log.Debug("triage: duplicate event suppressed", "kind", kind, "user", meta.Username)
			return
		}
		m.seen[key] = now
	}

	if !carriesText(ev) {
		m.notify(ev, now)
		return
	}

	if m.costControl && !paidSignal(ev) {
		m.metrics.IncGateDiscard()
		m.record(ev, core.StageGateDiscarded, 0, now)
		m.log.Debug("triage: cost gate discarded event",
			"platform", meta.Platform, "kind", kind, "user", meta.Username)
		return
	}

	rating := m.scorer.Rate(ev)
	it := &item{ev: ev, tier: rating.Tier, score: rating.Score, enqueuedAt: now}
	m.record(ev, core.StageQueued, rating.Score, now)
	for _, gone := range m.queue.add(it) {
		m.record(gone.ev, core.StageEvicted, gone.score, now)
		m.metrics.AddEvicted(1)
	}
	m.metrics.SetQueueDepth(m.queue.len())
	m.log.Debug("triage: queued event",
		"platform", meta.Platform, "kind", kind, "user", meta.Username,
		"tier", rating.Tier.String(), "score", rating.Score, "depth", m.queue.len())

	if rating.Score >= m.cfg.AutoRespondThreshold+m.cfg.ImmediateMargin {
		m.handleTick()
	}
}

func (m *Manager) notify(ev core.Event, now time.Time) {
	meta := ev.EventMeta()
	kind := ev.EventKind()

	ok := false
	switch e := ev.(type) {
	case core.Subscription:
		ok = trySend(m.subsCh, e)
	case core.Bits:
		ok = trySend(m.bitsCh, e)
	case core.Raid:
		ok = trySend(m.raidsCh, e)
	case core.Follow:
		ok = trySend(m.followsCh, e)
	case core.Redemption:
		ok = trySend(m.redemptionsCh, e)
	}
	if !ok {
		m.metrics.IncDropped("triage", "notify_full")
		m.log.Warn("triage: notification channel full, dropping",
			"platform", meta.Platform, "kind", kind, "user", meta.Username)
		return
	}
	m.record(ev, core.StageNotified, 0, now)
}

func (m *Manager) handleTick() {
	now := m.clock.Now()

	m.pruneSeen(now)
	expired, staled := m.queue.sweep(now, m.cfg.QueueMaxAge, m.cfg.StaleAfter)
	for _, it := range expired {
		m.record(it.ev, core.StageExpired, it.score, now)
	}
	for _, it := range staled {
		m.record(it.ev, core.StageStale, it.score, now)
	}
	if len(expired) > 0 {
		m.metrics.AddExpired(len(expired))
	}
	if len(staled) > 0 {
		m.metrics.AddStale(len(staled))
	}
	m.metrics.SetQueueDepth(m.queue.len())

	pick, sampled := m.pick()
	if pick == nil {
		return
	}

	if ok, reason := m.window.allow(now); !ok {
		m.metrics.IncRateSkip(reason)
		m.record(pick.ev, core.StageRateLimited, pick.score, now)
		m.log.Debug("triage: selection skipped by rate limit",
			"reason", reason, "id", pick.ev.EventMeta().ID, "score", pick.score)
		return
	}

	pick.processed = true
	m.window.note(now)

	stage := core.StageSelected
	if sampled {
		stage = core.StageSampled
	}
	m.record(pick.ev, stage, pick.score, now)

	sel := Selection{
		Event:      pick.ev,
		Tier:       pick.tier,
		Score:      pick.score,
		Sampled:    sampled,
		EnqueuedAt: pick.enqueuedAt,
	}
	if !trySend(m.selectedCh, sel) {
		m.metrics.IncDropped("triage", "selected_full")
		m.log.Error("triage: dispatcher backlogged, dropping selection",
			"id", pick.ev.EventMeta().ID, "score", pick.score)
		return
	}
	meta := pick.ev.EventMeta()
	m.log.Info("triage: selected message",
		"platform", meta.Platform, "kind", pick.ev.EventKind(), "user", meta.Username,
		"tier", pick.tier.String(), "score", pick.score, "sampled", sampled)
}

// pick applies the selection policy: best unprocessed entry at or above the
// threshold, or, with cost control off, an occasional uniform sample from
// the top K.
func (m *Manager) pick() (*item, bool) {
	if it := m.queue.best(m.cfg.AutoRespondThreshold); it != nil {
		return it, false
	}
	if m.costControl {
		return nil, false
	}
	if m.randFloat() >= m.cfg.SampleChance {
		return nil, false
	}
	top := m.queue.top(m.cfg.TopK)
	if len(top) == 0 {
		return nil, false
	}
	return top[m.randIntN(len(top))], true
}

func (m *Manager) buildSnapshot() Snapshot {
	now := m.clock.Now()
	used, limit := m.window.usage(now)
	return Snapshot{
		QueueDepth:   m.queue.len(),
		Unprocessed:  m.queue.unprocessed(),
		WindowUsed:   used,
		WindowMax:    limit,
		LastDispatch: m.window.lastDispatch(),
		CostControl:  m.costControl,
		Trace:        m.trace.recent(),
	}
}

func (m *Manager) record(ev core.Event, stage core.Stage, score int, now time.Time) {
	meta := ev.EventMeta()
	m.trace.add(core.Outcome{
		EventID:  meta.ID,
		Platform: meta.Platform,
		Kind:     ev.EventKind(),
		Stage:    stage,
		Score:    score,
		Ts:       now,
	})
}

func (m *Manager) pruneSeen(now time.Time) {
	for key, at := range m.seen {
		if now.Sub(at) >= m.cfg.DedupTTL {
			delete(m.seen, key)
		}
	}
}

// carriesText reports whether the event rides the scored queue. Pure signals
// (raids, follows, redemptions, textless subs and cheers) take the
// notification path instead.
func carriesText(ev core.Event) bool {
	switch e := ev.(type) {
	case core.Chat:
		return true
	case core.Subscription:
		return e.Text != ""
	case core.Bits:
		return e.Text != ""
	}
	return false
}

// paidSignal reports whether the event clears the cost-control gate.
func paidSignal(ev core.Event) bool {
	switch e := ev.(type) {
	case core.Chat:
		return e.Subscriber || e.Bits > 0
	case core.Subscription, core.Bits:
		return true
	}
	return false
}

func dedupUser(meta core.Meta) string {
	if meta.UserID != "" {
		return meta.UserID
	}
	return meta.Username
}

func trySend[T any](ch chan T, v T) bool {
	select {
	case ch <- v:
		return true
	default:
		return false
	}
}
