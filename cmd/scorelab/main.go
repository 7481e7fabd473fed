// Command scorelab runs the triage pipeline against synthetic events so
// tier weights and keyword lists can be tuned without a live channel.
// POST /score rates one event; POST /emit pushes it through a real manager
// and dispatcher whose replies land in GET /replies instead of chat.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/you/chatminder/internal/brain"
	"github.com/you/chatminder/internal/core"
	"github.com/you/chatminder/internal/respond"
	"github.com/you/chatminder/internal/triage"
)

type eventReq struct {
	Platform     string    `json:"platform"`
	Kind         string    `json:"kind,omitempty"`
	Username     string    `json:"username"`
	Text         string    `json:"text,omitempty"`
	Ts           time.Time `json:"ts,omitempty"`
	Subscriber   bool      `json:"subscriber,omitempty"`
	Moderator    bool      `json:"moderator,omitempty"`
	Verified     bool      `json:"verified,omitempty"`
	FirstMessage bool      `json:"first_message,omitempty"`
	Bits         int       `json:"bits,omitempty"`
	Followers    int       `json:"followers,omitempty"`
	Months       int       `json:"months,omitempty"`
	Viewers      int       `json:"viewers,omitempty"`
	Reward       string    `json:"reward,omitempty"`
	Cost         int       `json:"cost,omitempty"`
}

func (r eventReq) toEvent() (core.Event, string) {
	platform := core.Platform(strings.ToLower(strings.TrimSpace(r.Platform)))
	if platform != core.PlatformTwitch && platform != core.PlatformX {
		return nil, "platform must be twitch or x"
	}
	if strings.TrimSpace(r.Username) == "" {
		return nil, "username required"
	}

	ts := r.Ts
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	meta := core.Meta{
		ID:       string(platform) + "-" + ts.Format("20060102T150405.000000000Z07:00"),
		Platform: platform,
		Username: r.Username,
		UserID:   r.Username,
		Ts:       ts,
	}

	switch strings.ToLower(strings.TrimSpace(r.Kind)) {
	case "", "chat":
		return core.Chat{
			Meta:         meta,
			Text:         r.Text,
			Subscriber:   r.Subscriber,
			Moderator:    r.Moderator,
			Verified:     r.Verified,
			FirstMessage: r.FirstMessage,
			Bits:         r.Bits,
			Followers:    r.Followers,
		}, ""
	case "subscription":
		return core.Subscription{Meta: meta, Months: r.Months, Text: r.Text}, ""
	case "bits":
		return core.Bits{Meta: meta, Amount: r.Bits, Text: r.Text}, ""
	case "raid":
		return core.Raid{Meta: meta, Viewers: r.Viewers}, ""
	case "follow":
		return core.Follow{Meta: meta}, ""
	case "redemption":
		return core.Redemption{Meta: meta, Reward: r.Reward, Cost: r.Cost, Input: r.Text}, ""
	}
	return nil, "kind must be chat, subscription, bits, raid, follow, or redemption"
}

type sentReply struct {
	Kind     string    `json:"kind"`
	ParentID string    `json:"parent_id,omitempty"`
	Text     string    `json:"text"`
	Ts       time.Time `json:"ts"`
}

// captureSender stands in for the Twitch socket; the lab reads what would
// have been said instead of saying it.
type captureSender struct {
	mu   sync.Mutex
	sent []sentReply
}

func (c *captureSender) SendMessage(_ context.Context, text string) error {
	c.record(sentReply{Kind: "message", Text: text, Ts: time.Now().UTC()})
	return nil
}

func (c *captureSender) ReplyTo(_ context.Context, parentID, text string) error {
	c.record(sentReply{Kind: "reply", ParentID: parentID, Text: text, Ts: time.Now().UTC()})
	return nil
}

func (c *captureSender) record(r sentReply) {
	c.mu.Lock()
	c.sent = append(c.sent, r)
	c.mu.Unlock()
}

func (c *captureSender) Replies() []sentReply {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sentReply, len(c.sent))
	copy(out, c.sent)
	return out
}

func main() {
	var (
		addr         string
		botName      string
		keywords     string
		threshold    int
		costControl  bool
		tickMS       int
		minGapMS     int
		maxPerMinute int
	)

	flag.StringVar(&addr, "addr", ":8777", "HTTP listen address")
	flag.StringVar(&botName, "bot-name", "chatminder", "Name the scorer treats as addressing the bot")
	flag.StringVar(&keywords, "keywords", "", "Comma-separated keyword list")
	flag.IntVar(&threshold, "threshold", 60, "Auto-respond threshold")
	flag.BoolVar(&costControl, "cost-control", false, "Queue only revenue events")
	flag.IntVar(&tickMS, "tick-ms", 500, "Selection tick interval in milliseconds")
	flag.IntVar(&minGapMS, "min-gap-ms", 1000, "Minimum gap between replies in milliseconds")
	flag.IntVar(&maxPerMinute, "max-per-minute", 60, "Reply budget per minute")
	flag.Parse()

	var kws []string
	for _, k := range strings.Split(keywords, ",") {
		if k = strings.TrimSpace(k); k != "" {
			kws = append(kws, strings.ToLower(k))
		}
	}
	scorer := triage.Scorer{BotName: botName, Keywords: kws}

	settings := triage.DefaultSettings()
	settings.AutoRespondThreshold = threshold
	settings.CostControl = costControl
	settings.TickInterval = time.Duration(tickMS) * time.Millisecond
	settings.MinGap = time.Duration(minGapMS) * time.Millisecond
	settings.MaxPerMinute = maxPerMinute

	manager := triage.New(triage.Config{Settings: settings, Scorer: scorer})
	sender := &captureSender{}

	disp, err := respond.New(respond.Config{
		Source:     manager,
		Generator:  brain.NewLines(),
		Twitch:     sender,
		GenTimeout: 5 * time.Second,
	})
	if err != nil {
		log.Fatalf("dispatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = manager.Run(ctx) }()
	go func() { _ = disp.Run(ctx) }()

	log.Printf("scorelab listening on %s (threshold=%d cost_control=%t keywords=%d)",
		addr, threshold, costControl, len(kws))

	mux := http.NewServeMux()

	mux.HandleFunc("POST /score", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req eventReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		ev, problem := req.toEvent()
		if problem != "" {
			http.Error(w, problem, http.StatusBadRequest)
			return
		}
		ex := scorer.Explain(ev)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"tier":      ex.Tier.String(),
			"score":     ex.Score,
			"auto":      ex.Score >= threshold,
			"modifiers": ex.Contributions,
		})
	})

	mux.HandleFunc("POST /emit", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req eventReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		ev, problem := req.toEvent()
		if problem != "" {
			http.Error(w, problem, http.StatusBadRequest)
			return
		}
		manager.Ingest(ev)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "id": ev.EventMeta().ID})
	})

	mux.HandleFunc("GET /snapshot", func(w http.ResponseWriter, r *http.Request) {
		snap, err := manager.Snapshot(r.Context())
		if err != nil {
			http.Error(w, "manager unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snap)
	})

	mux.HandleFunc("GET /replies", func(w http.ResponseWriter, r *http.Request) {
		replies := sender.Replies()
		if replies == nil {
			replies = []sentReply{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(replies)
	})

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal(err)
	}
}
