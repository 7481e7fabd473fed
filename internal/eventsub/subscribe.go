package eventsub

// Subscription types requested on every new session.
const (
	SubChannelSubscribe  = "channel.subscribe"
	SubChannelSubGift    = "channel.subscription.gift"
	SubChannelSubMessage = "channel.subscription.message"
	SubChannelCheer      = "channel.cheer"
	SubChannelRaid       = "channel.raid"
	SubChannelFollow     = "channel.follow"
	SubChannelRedemption = "channel.channel_points_custom_reward_redemption.add"
)

// DefaultSubscriptions lists the event types registered against a fresh
// session, in registration order. Each registration is independent; one
// rejection does not block the rest.
func DefaultSubscriptions() []string {
	return []string{
		SubChannelSubscribe,
		SubChannelSubGift,
		SubChannelSubMessage,
		SubChannelCheer,
		SubChannelRaid,
		SubChannelFollow,
		SubChannelRedemption,
	}
}

// CreateRequest is the body for POST /helix/eventsub/subscriptions.
type CreateRequest struct {
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Condition map[string]string `json:"condition"`
	Transport Transport         `json:"transport"`
}

type Transport struct {
	Method    string `json:"method"`
	SessionID string `json:"session_id"`
}

// WebsocketTransport binds a subscription to the current socket session.
func WebsocketTransport(sessionID string) Transport {
	return Transport{Method: "websocket", SessionID: sessionID}
}

// NewCreateRequest builds the registration body for one event type. The
// broadcaster id scopes the condition; follow (v2) additionally requires a
// moderator id, for which the broadcaster qualifies; raid conditions key on
// the raid target instead.
func NewCreateRequest(subType, broadcasterID, sessionID string) CreateRequest {
	version := "1"
	condition := map[string]string{"broadcaster_user_id": broadcasterID}
	switch subType {
	case SubChannelFollow:
		version = "2"
		condition["moderator_user_id"] = broadcasterID
	case SubChannelRaid:
		condition = map[string]string{"to_broadcaster_user_id": broadcasterID}
	}
	return CreateRequest{
		Type:      subType,
		Version:   version,
		Condition: condition,
		Transport: WebsocketTransport(sessionID),
	}
}
