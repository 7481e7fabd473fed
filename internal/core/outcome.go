package core

import "time"

// Stage marks where in the triage pipeline an event ended up.
type Stage string

const (
	StageGateDiscarded    Stage = "gate_discarded"
	StageQueued           Stage = "queued"
	StageEvicted          Stage = "evicted"
	StageExpired          Stage = "expired"
	StageStale            Stage = "stale"
	StageSelected         Stage = "selected"
	StageSampled          Stage = "sampled"
	StageRateLimited      Stage = "rate_limited"
	StageNotified         Stage = "notified"
	StageDuplicate        Stage = "duplicate"
	StageSkipped          Stage = "skipped"
	StageDispatched       Stage = "dispatched"
	StageSendFailed       Stage = "send_failed"
	StageGenerationFailed Stage = "generation_failed"
)

// Outcome records one triage decision. Recent outcomes are kept in a ring
// for the /status endpoint so "why was this message (not) answered" can be
// answered without raising log verbosity.
type Outcome struct {
	EventID  string    `json:"event_id"`
	Platform Platform  `json:"platform"`
	Kind     Kind      `json:"kind"`
	Stage    Stage     `json:"stage"`
	Score    int       `json:"score,omitempty"`
	Ts       time.Time `json:"ts"`
}
