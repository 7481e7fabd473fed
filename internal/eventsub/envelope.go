package eventsub

import (
	"encoding/json"
	"time"
)

// Message types carried in the envelope metadata.
const (
	TypeWelcome      = "session_welcome"
	TypeKeepalive    = "session_keepalive"
	TypeReconnect    = "session_reconnect"
	TypeNotification = "notification"
	TypeRevocation   = "revocation"
)

// Envelope is one frame from the EventSub websocket.
type Envelope struct {
	Metadata Metadata `json:"metadata"`
	Payload  Payload  `json:"payload"`
}

type Metadata struct {
	MessageID        string    `json:"message_id"`
	MessageType      string    `json:"message_type"`
	MessageTimestamp time.Time `json:"message_timestamp"`
	SubscriptionType string    `json:"subscription_type"`
}

type Payload struct {
	Session      *Session        `json:"session,omitempty"`
	Subscription *Subscription   `json:"subscription,omitempty"`
	Event        json.RawMessage `json:"event,omitempty"`
}

// Session describes the socket session; delivered on welcome and reconnect.
type Session struct {
	ID                      string    `json:"id"`
	Status                  string    `json:"status"`
	KeepaliveTimeoutSeconds int       `json:"keepalive_timeout_seconds"`
	ReconnectURL            string    `json:"reconnect_url"`
	ConnectedAt             time.Time `json:"connected_at"`
}

// Subscription identifies which registration a notification or revocation
// belongs to.
type Subscription struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Version string `json:"version"`
	Status  string `json:"status"`
}

// Decode parses one websocket frame.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
