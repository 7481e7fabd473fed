package respond

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/you/chatminder/internal/core"
	"github.com/you/chatminder/internal/triage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSource struct {
	selected    chan triage.Selection
	subs        chan core.Subscription
	bits        chan core.Bits
	raids       chan core.Raid
	follows     chan core.Follow
	redemptions chan core.Redemption

	mu       sync.Mutex
	outcomes []core.Outcome
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		selected:    make(chan triage.Selection, 16),
		subs:        make(chan core.Subscription, 16),
		bits:        make(chan core.Bits, 16),
		raids:       make(chan core.Raid, 16),
		follows:     make(chan core.Follow, 16),
		redemptions: make(chan core.Redemption, 16),
	}
}

func (s *fakeSource) Selected() <-chan triage.Selection      { return s.selected }
func (s *fakeSource) Subscriptions() <-chan core.Subscription { return s.subs }
func (s *fakeSource) Bits() <-chan core.Bits                 { return s.bits }
func (s *fakeSource) Raids() <-chan core.Raid                { return s.raids }
func (s *fakeSource) Follows() <-chan core.Follow            { return s.follows }
func (s *fakeSource) Redemptions() <-chan core.Redemption    { return s.redemptions }

func (s *fakeSource) NoteOutcome(ev core.Event, stage core.Stage, score int) {
	meta := ev.EventMeta()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, core.Outcome{
		EventID:  meta.ID,
		Platform: meta.Platform,
		Kind:     ev.EventKind(),
		Stage:    stage,
		Score:    score,
	})
}

func (s *fakeSource) hasOutcome(id string, stage core.Stage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.outcomes {
		if o.EventID == id && o.Stage == stage {
			return true
		}
	}
	return false
}

func (s *fakeSource) waitOutcome(t *testing.T, id string, stage core.Stage) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.hasOutcome(id, stage) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no %s outcome for %s", stage, id)
}

type sentLine struct {
	parent string
	text   string
}

type fakeTwitch struct {
	lines chan sentLine
	fail  atomic.Bool
}

func newFakeTwitch() *fakeTwitch {
	return &fakeTwitch{lines: make(chan sentLine, 16)}
}

func (f *fakeTwitch) SendMessage(_ context.Context, text string) error {
	if f.fail.Load() {
		return errors.New("socket closed")
	}
	f.lines <- sentLine{text: text}
	return nil
}

func (f *fakeTwitch) ReplyTo(_ context.Context, parentID, text string) error {
	if f.fail.Load() {
		return errors.New("socket closed")
	}
	f.lines <- sentLine{parent: parentID, text: text}
	return nil
}

func (f *fakeTwitch) take(t *testing.T) sentLine {
	t.Helper()
	select {
	case l := <-f.lines:
		return l
	case <-time.After(2 * time.Second):
		t.Fatal("no outbound line")
		return sentLine{}
	}
}

type fakePoster struct {
	posts chan [2]string
}

func (f *fakePoster) Post(_ context.Context, text, replyToID string) (string, error) {
	f.posts <- [2]string{text, replyToID}
	return "post-1", nil
}

type generatorFunc func(ctx context.Context, p Prompt) (string, error)

func (f generatorFunc) Generate(ctx context.Context, p Prompt) (string, error) { return f(ctx, p) }

type fixedStore struct {
	v   Viewer
	err error
}

func (f fixedStore) Observe(context.Context, core.Platform, string, string) (Viewer, error) {
	return f.v, f.err
}

func (f fixedStore) RecordReply(context.Context, core.Platform, string, string) error {
	return f.err
}

func startDispatcher(t *testing.T, mutate func(*Config)) (*fakeSource, *fakeTwitch) {
	t.Helper()
	src := newFakeSource()
	tw := newFakeTwitch()
	cfg := Config{
		Source: src,
		Generator: generatorFunc(func(_ context.Context, p Prompt) (string, error) {
			return "ok", nil
		}),
		Twitch: tw,
		Log:    testLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	d, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = d.Run(ctx) }()
	return src, tw
}

func chatSelection(id, user, text string, score int) triage.Selection {
	return triage.Selection{
		Event: core.Chat{
			Meta: core.Meta{ID: id, Platform: core.PlatformTwitch, Username: user, UserID: "u-" + user},
			Text: text,
		},
		Tier:  triage.TierModerator,
		Score: score,
	}
}

func takePrompt(t *testing.T, ch <-chan Prompt) Prompt {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("generator never invoked")
		return Prompt{}
	}
}

func TestSelectionRepliesInThread(t *testing.T) {
	prompts := make(chan Prompt, 1)
	src, tw := startDispatcher(t, func(cfg *Config) {
		cfg.Generator = generatorFunc(func(_ context.Context, p Prompt) (string, error) {
			prompts <- p
			return "aim with your heart", nil
		})
		cfg.GameState = func(context.Context) string { return "boss fight, low hp" }
	})

	src.selected <- chatSelection("m1", "foo", "how do you aim like that", 75)

	line := tw.take(t)
	if line.parent != "m1" || line.text != "aim with your heart" {
		t.Errorf("reply = %q in thread %q, want aim with your heart in m1", line.text, line.parent)
	}

	p := takePrompt(t, prompts)
	if p.Username != "foo" || p.Text != "how do you aim like that" {
		t.Errorf("prompt user/text = %q/%q", p.Username, p.Text)
	}
	if p.Tier != "MODERATOR" || p.Score != 75 {
		t.Errorf("prompt tier/score = %s/%d, want MODERATOR/75", p.Tier, p.Score)
	}
	if p.GameState != "boss fight, low hp" {
		t.Errorf("prompt game state = %q", p.GameState)
	}
	if len(p.History) != 0 {
		t.Errorf("first prompt history = %v, want empty", p.History)
	}

	src.waitOutcome(t, "m1", core.StageDispatched)
}

func TestGenerationFailureDropsReplyQuietly(t *testing.T) {
	src, tw := startDispatcher(t, func(cfg *Config) {
		cfg.Generator = generatorFunc(func(_ context.Context, p Prompt) (string, error) {
			if p.Text == "blank" {
				return "   ", nil
			}
			return "", errors.New("model overloaded")
		})
	})

	src.selected <- chatSelection("m2", "foo", "any tips?", 70)
	src.waitOutcome(t, "m2", core.StageGenerationFailed)

	// a blank generation is a failure too
	src.selected <- chatSelection("m3", "foo", "blank", 70)
	src.waitOutcome(t, "m3", core.StageGenerationFailed)

	select {
	case line := <-tw.lines:
		t.Fatalf("unexpected outbound line %q", line.text)
	default:
	}
}

func TestXSelectionPostsInReply(t *testing.T) {
	posts := make(chan [2]string, 1)
	src, _ := startDispatcher(t, func(cfg *Config) {
		cfg.Generator = generatorFunc(func(context.Context, Prompt) (string, error) {
			return "thanks for the shoutout", nil
		})
		cfg.X = &fakePoster{posts: posts}
	})

	src.selected <- triage.Selection{
		Event: core.Chat{
			Meta:      core.Meta{ID: "900", Platform: core.PlatformX, Username: "mentioner", UserID: "x-1"},
			Text:      "@botty hello",
			Followers: 1500,
		},
		Tier:  triage.TierMention,
		Score: 55,
	}

	select {
	case p := <-posts:
		if p[0] != "thanks for the shoutout" || p[1] != "900" {
			t.Errorf("post = %q in reply to %q, want thanks for the shoutout / 900", p[0], p[1])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poster never invoked")
	}
	src.waitOutcome(t, "900", core.StageDispatched)
}

func TestXDisabledDropsReply(t *testing.T) {
	src, tw := startDispatcher(t, nil)

	src.selected <- triage.Selection{
		Event: core.Chat{
			Meta: core.Meta{ID: "x-drop", Platform: core.PlatformX, Username: "mentioner"},
			Text: "@botty hello",
		},
		Tier:  triage.TierMention,
		Score: 55,
	}
	// a follow-up twitch selection proves the loop moved past the drop
	src.selected <- chatSelection("after", "foo", "hi there", 70)

	if line := tw.take(t); line.parent != "after" {
		t.Fatalf("expected the follow-up reply, got thread %q", line.parent)
	}
	if src.hasOutcome("x-drop", core.StageDispatched) || src.hasOutcome("x-drop", core.StageSendFailed) {
		t.Error("dropped x reply should leave no dispatch outcome")
	}
	// the trace still explains the drop
	src.waitOutcome(t, "x-drop", core.StageSkipped)
}

func TestSendFailureLeavesHistoryUntouched(t *testing.T) {
	prompts := make(chan Prompt, 4)
	src, tw := startDispatcher(t, func(cfg *Config) {
		cfg.Generator = generatorFunc(func(_ context.Context, p Prompt) (string, error) {
			prompts <- p
			return "echo: " + p.Text, nil
		})
	})

	tw.fail.Store(true)
	src.selected <- chatSelection("m4", "foo", "hi", 70)
	takePrompt(t, prompts)
	src.waitOutcome(t, "m4", core.StageSendFailed)

	tw.fail.Store(false)
	src.selected <- chatSelection("m5", "foo", "again", 70)
	if p := takePrompt(t, prompts); len(p.History) != 0 {
		t.Errorf("history = %v, want empty after a failed send", p.History)
	}
	tw.take(t)
}

func TestHistoryWindowHoldsLastTenReplies(t *testing.T) {
	prompts := make(chan Prompt, 16)
	src, tw := startDispatcher(t, func(cfg *Config) {
		cfg.Generator = generatorFunc(func(_ context.Context, p Prompt) (string, error) {
			prompts <- p
			return "reply-" + p.Text, nil
		})
	})

	for i := 0; i < 12; i++ {
		src.selected <- chatSelection(fmt.Sprintf("h%d", i), "foo", fmt.Sprintf("%d", i), 70)
	}
	for i := 0; i < 12; i++ {
		takePrompt(t, prompts)
		tw.take(t)
	}

	src.selected <- chatSelection("h-final", "foo", "final", 70)
	p := takePrompt(t, prompts)
	if len(p.History) != 10 {
		t.Fatalf("history length = %d, want 10", len(p.History))
	}
	if p.History[0] != "reply-2" || p.History[9] != "reply-11" {
		t.Errorf("history window = [%s .. %s], want [reply-2 .. reply-11]", p.History[0], p.History[9])
	}
	tw.take(t)
}

func TestSignalAcksGoStraightToChat(t *testing.T) {
	src, tw := startDispatcher(t, nil)

	src.subs <- core.Subscription{
		Meta: core.Meta{ID: "s1", Platform: core.PlatformTwitch, Username: "subber"},
		Tier: "1000", Months: 4,
	}
	line := tw.take(t)
	if line.parent != "" || !strings.Contains(line.text, "@subber") || !strings.Contains(line.text, "month 4") {
		t.Errorf("sub ack = %q", line.text)
	}

	src.subs <- core.Subscription{
		Meta: core.Meta{ID: "s2", Platform: core.PlatformTwitch, Username: "gifter"},
		Tier: "1000", Gift: true, GiftCount: 5,
	}
	if line = tw.take(t); !strings.Contains(line.text, "gifted 5 subs") {
		t.Errorf("gift ack = %q", line.text)
	}

	src.bits <- core.Bits{
		Meta:   core.Meta{ID: "b1", Platform: core.PlatformTwitch, Username: "tipper"},
		Amount: 250,
	}
	if line = tw.take(t); !strings.Contains(line.text, "250 bits") {
		t.Errorf("bits ack = %q", line.text)
	}

	src.raids <- core.Raid{
		Meta:    core.Meta{ID: "r1", Platform: core.PlatformTwitch, Username: "raider"},
		Viewers: 33,
	}
	if line = tw.take(t); !strings.Contains(line.text, "33 raiders") {
		t.Errorf("raid ack = %q", line.text)
	}

	src.waitOutcome(t, "r1", core.StageDispatched)
}

type recordingStore struct {
	calls   chan string
	replies chan string
}

func (r *recordingStore) Observe(_ context.Context, _ core.Platform, _, username string) (Viewer, error) {
	r.calls <- username
	return Viewer{Username: username, Sightings: 1}, nil
}

func (r *recordingStore) RecordReply(_ context.Context, _ core.Platform, _, reply string) error {
	if r.replies != nil {
		r.replies <- reply
	}
	return nil
}

func TestFollowsAndRedemptionsDrainWithoutAcks(t *testing.T) {
	store := &recordingStore{calls: make(chan string, 2)}
	src, tw := startDispatcher(t, func(cfg *Config) {
		cfg.Viewers = store
	})

	src.follows <- core.Follow{
		Meta: core.Meta{ID: "f1", Platform: core.PlatformTwitch, Username: "newbie", UserID: "u-newbie"},
	}
	select {
	case user := <-store.calls:
		if user != "newbie" {
			t.Errorf("sighting recorded for %q, want newbie", user)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("follow never reached the viewer store")
	}

	src.redemptions <- core.Redemption{
		Meta:   core.Meta{ID: "p1", Platform: core.PlatformTwitch, Username: "spender"},
		Reward: "hydrate", Cost: 200,
	}

	select {
	case line := <-tw.lines:
		t.Fatalf("unexpected outbound line %q", line.text)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestAckFailureRecordsOutcome(t *testing.T) {
	src, tw := startDispatcher(t, nil)
	tw.fail.Store(true)

	src.subs <- core.Subscription{
		Meta: core.Meta{ID: "s-fail", Platform: core.PlatformTwitch, Username: "subber"},
		Tier: "1000",
	}
	src.waitOutcome(t, "s-fail", core.StageSendFailed)
}

func TestViewerMemoryEnrichesPrompt(t *testing.T) {
	prompts := make(chan Prompt, 1)
	src, tw := startDispatcher(t, func(cfg *Config) {
		cfg.Generator = generatorFunc(func(_ context.Context, p Prompt) (string, error) {
			prompts <- p
			return "welcome back", nil
		})
		cfg.Viewers = fixedStore{v: Viewer{Username: "foo", Sightings: 5}}
	})

	src.selected <- chatSelection("m6", "foo", "hello again", 70)
	p := takePrompt(t, prompts)
	if p.Viewer == nil || p.Viewer.Sightings != 5 {
		t.Errorf("prompt viewer = %+v, want 5 sightings", p.Viewer)
	}
	tw.take(t)
}

func TestReplyRecordedAfterDispatch(t *testing.T) {
	store := &recordingStore{calls: make(chan string, 1), replies: make(chan string, 1)}
	src, tw := startDispatcher(t, func(cfg *Config) {
		cfg.Generator = generatorFunc(func(context.Context, Prompt) (string, error) {
			return "nice run", nil
		})
		cfg.Viewers = store
	})

	src.selected <- chatSelection("m8", "foo", "gg", 70)
	tw.take(t)

	select {
	case reply := <-store.replies:
		if reply != "nice run" {
			t.Errorf("recorded reply = %q, want nice run", reply)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reply never reached the viewer store")
	}
	src.waitOutcome(t, "m8", core.StageDispatched)
}

func TestViewerStoreErrorLeavesPromptBare(t *testing.T) {
	prompts := make(chan Prompt, 1)
	src, tw := startDispatcher(t, func(cfg *Config) {
		cfg.Generator = generatorFunc(func(_ context.Context, p Prompt) (string, error) {
			prompts <- p
			return "still works", nil
		})
		cfg.Viewers = fixedStore{err: errors.New("database locked")}
	})

	src.selected <- chatSelection("m7", "foo", "hello", 70)
	if p := takePrompt(t, prompts); p.Viewer != nil {
		t.Errorf("prompt viewer = %+v, want nil on store error", p.Viewer)
	}
	if line := tw.take(t); line.text != "still works" {
		t.Errorf("reply = %q, want still works", line.text)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected an error for an empty config")
	}
	if _, err := New(Config{Source: newFakeSource()}); err == nil {
		t.Fatal("expected an error without a generator")
	}
}
