package core

import (
	"fmt"
	"time"
)

// ConnState tracks one socket's lifecycle.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateConnected
	StateReconnecting
	// StateDisconnected is terminal; the owning adapter has given up.
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// MarshalText makes the state readable in /status JSON.
func (s ConnState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText is the inverse, so /status payloads decode back into typed
// state.
func (s *ConnState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "connecting":
		*s = StateConnecting
	case "connected":
		*s = StateConnected
	case "reconnecting":
		*s = StateReconnecting
	case "disconnected":
		*s = StateDisconnected
	default:
		return fmt.Errorf("core: unknown connection state %q", text)
	}
	return nil
}

// ConnStatus is a point-in-time view of one socket for diagnostics. Attempt
// and NextDelay are meaningful while reconnecting.
type ConnStatus struct {
	State     ConnState     `json:"state"`
	Attempt   int           `json:"attempt,omitempty"`
	NextDelay time.Duration `json:"next_delay,omitempty"`
}
