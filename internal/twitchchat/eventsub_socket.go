package twitchchat

import (
	"context"
	"errors"
	"fmt"

	"github.com/you/chatminder/internal/core"
	"github.com/you/chatminder/internal/eventsub"
	"github.com/you/chatminder/internal/helix"
	"github.com/you/chatminder/internal/retry"
)

// runEventSub reconnects the EventSub socket with exponential backoff.
// A server-initiated session move redials immediately without burning an
// attempt; auth failures and an exhausted budget are terminal.
func (a *Adapter) runEventSub(ctx context.Context) error {
	attempt := 0
	a.setStatus(ComponentEventSub, core.ConnStatus{State: core.StateConnecting})
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		connected, err := a.runEventSubOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			attempt = 0
		}
		if errors.Is(err, errSessionMoved) {
			a.log.Info("twitch eventsub: following session reconnect")
			continue
		}
		if errors.Is(err, helix.ErrUnauthorized) {
			a.terminal(ComponentEventSub, err)
			return err
		}
		attempt++
		if a.cfg.Policy.Exhausted(attempt) {
			a.terminal(ComponentEventSub, err)
			return fmt.Errorf("twitch eventsub: reconnect budget exhausted: %w", err)
		}
		delay := a.cfg.Policy.Delay(attempt)
		a.setStatus(ComponentEventSub, core.ConnStatus{State: core.StateReconnecting, Attempt: attempt, NextDelay: delay})
		a.cfg.Metrics.IncReconnect(ComponentEventSub)
		a.log.Warn("twitch eventsub: disconnected", "err", err, "attempt", attempt, "delay", delay)
		if err := retry.Sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (a *Adapter) runEventSubOnce(ctx context.Context) (bool, error) {
	if err := a.ensureBroadcasterID(ctx); err != nil {
		return false, fmt.Errorf("resolve broadcaster: %w", err)
	}

	url := a.cfg.EventSubURL
	if url == "" {
		url = defaultEventSubURL
	}
	a.mu.Lock()
	if a.reconnectURL != "" {
		url = a.reconnectURL
		a.reconnectURL = ""
	}
	a.mu.Unlock()

	conn, err := a.dial(ctx, url)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()

	connected := false
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return connected, fmt.Errorf("read: %w", err)
		}
		env, err := eventsub.Decode(data)
		if err != nil {
			a.cfg.Metrics.IncDropped(ComponentEventSub, "undecodable")
			a.log.Debug("twitch eventsub: undecodable frame", "err", err)
			continue
		}

		switch env.Metadata.MessageType {
		case eventsub.TypeWelcome:
			if env.Payload.Session == nil {
				return connected, errors.New("welcome without session")
			}
			sessionID := env.Payload.Session.ID
			a.mu.Lock()
			a.sessionID = sessionID
			a.mu.Unlock()
			a.setStatus(ComponentEventSub, core.ConnStatus{State: core.StateConnected})
			connected = true
			a.log.Info("twitch eventsub: session established", "session_id", sessionID)
			go a.subscribeAll(ctx, sessionID)
		case eventsub.TypeKeepalive:
			// nothing to do; receipt alone keeps the session alive
		case eventsub.TypeNotification:
			if ev, ok := eventsub.DecodeNotification(env); ok {
				a.emit(ev)
			} else {
				a.cfg.Metrics.IncDropped(ComponentEventSub, "unhandled_notification")
				a.log.Debug("twitch eventsub: unhandled notification", "type", env.Metadata.SubscriptionType)
			}
		case eventsub.TypeReconnect:
			if env.Payload.Session == nil || env.Payload.Session.ReconnectURL == "" {
				return connected, errors.New("reconnect without url")
			}
			a.mu.Lock()
			a.reconnectURL = env.Payload.Session.ReconnectURL
			a.mu.Unlock()
			return connected, errSessionMoved
		case eventsub.TypeRevocation:
			if sub := env.Payload.Subscription; sub != nil {
				a.log.Warn("twitch eventsub: subscription revoked", "type", sub.Type, "status", sub.Status)
				a.mu.Lock()
				delete(a.subAcks, sub.Type)
				a.mu.Unlock()
			}
		default:
			a.cfg.Metrics.IncDropped(ComponentEventSub, "unknown_type")
			a.log.Debug("twitch eventsub: unknown message type", "type", env.Metadata.MessageType)
		}
	}
}

// subscribeAll creates one subscription per event type. Failures are logged
// and skipped so a partial set still delivers what it can.
func (a *Adapter) subscribeAll(ctx context.Context, sessionID string) {
	for _, subType := range eventsub.DefaultSubscriptions() {
		req := eventsub.NewCreateRequest(subType, a.broadcasterLocked(), sessionID)
		id, err := a.cfg.Helix.CreateSubscription(ctx, req)
		if err != nil {
			a.log.Warn("twitch eventsub: subscribe failed", "type", subType, "err", err)
			continue
		}
		a.mu.Lock()
		a.subAcks[subType] = id
		a.mu.Unlock()
		a.log.Info("twitch eventsub: subscribed", "type", subType, "subscription_id", id)
	}
}

func (a *Adapter) ensureBroadcasterID(ctx context.Context) error {
	a.mu.Lock()
	id := a.broadcasterID
	a.mu.Unlock()
	if id != "" {
		return nil
	}
	user, err := a.cfg.Helix.UserByLogin(ctx, a.cfg.Channel)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.broadcasterID = user.ID
	a.mu.Unlock()
	a.log.Info("twitch: resolved broadcaster", "channel", a.cfg.Channel, "user_id", user.ID)
	return nil
}

func (a *Adapter) broadcasterLocked() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.broadcasterID
}
