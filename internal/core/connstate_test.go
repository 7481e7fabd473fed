package core

import (
	"encoding/json"
	"testing"
)

func TestConnStateTextRoundTrip(t *testing.T) {
	for _, state := range []ConnState{StateConnecting, StateConnected, StateReconnecting, StateDisconnected} {
		data, err := json.Marshal(ConnStatus{State: state})
		if err != nil {
			t.Fatalf("marshal %v: %v", state, err)
		}
		var got ConnStatus
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if got.State != state {
			t.Errorf("round trip %v -> %v", state, got.State)
		}
	}

	var bad ConnState
	if err := bad.UnmarshalText([]byte("limbo")); err == nil {
		t.Error("unknown state text should not decode")
	}
}
