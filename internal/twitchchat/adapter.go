package twitchchat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/you/chatminder/internal/core"
	"github.com/you/chatminder/internal/helix"
	"github.com/you/chatminder/internal/irc"
	"github.com/you/chatminder/internal/metrics"
	"github.com/you/chatminder/internal/retry"

	"log/slog"
)

const (
	defaultIRCURL      = "wss://irc-ws.chat.twitch.tv:443"
	defaultEventSubURL = "wss://eventsub.wss.twitch.tv/ws"
	defaultKeepalive   = 60 * time.Second

	dialTimeout  = 10 * time.Second
	writeTimeout = 5 * time.Second
	readLimit    = 512 * 1024

	ComponentIRC      = "twitch_irc"
	ComponentEventSub = "twitch_eventsub"
)

var (
	errAuthFailed   = errors.New("twitchchat: authentication failed")
	errNotConnected = errors.New("twitchchat: not connected")
	errSessionMoved = errors.New("twitchchat: session moved")
)

// Config wires one Twitch channel. Token is read per connect so rotated
// credentials apply on the next dial.
type Config struct {
	Channel string
	Nick    string
	Token   func() string

	Helix *helix.Client

	IRCURL      string
	EventSubURL string
	Keepalive   time.Duration
	Policy      retry.Policy

	// OnEvent receives every normalized event; it must not block for long.
	OnEvent func(core.Event)
	// OnTerminal fires exactly once per socket that exhausts its
	// reconnect budget or hits an auth failure.
	OnTerminal func(component string, err error)

	Log     *slog.Logger
	Metrics *metrics.Metrics
}

// Adapter owns the IRC and EventSub sockets for one channel. The two
// connections reconnect independently; either can be terminally down while
// the other keeps serving.
type Adapter struct {
	cfg Config
	log *slog.Logger

	mu            sync.Mutex
	ircConn       *websocket.Conn
	status        map[string]core.ConnStatus
	broadcasterID string
	sessionID     string
	reconnectURL  string
	subAcks       map[string]string
}

func New(cfg Config) (*Adapter, error) {
	if strings.TrimSpace(cfg.Channel) == "" || strings.TrimSpace(cfg.Nick) == "" {
		return nil, errors.New("twitchchat: channel and nick are required")
	}
	if cfg.Token == nil {
		return nil, errors.New("twitchchat: token source is required")
	}
	if cfg.Helix == nil {
		return nil, errors.New("twitchchat: helix client is required")
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		cfg:     cfg,
		log:     log,
		status:  make(map[string]core.ConnStatus, 2),
		subAcks: make(map[string]string),
	}, nil
}

// Run drives both sockets until ctx ends or both are terminally down.
func (a *Adapter) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	var ircErr, esErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		ircErr = a.runIRC(ctx)
	}()
	go func() {
		defer wg.Done()
		esErr = a.runEventSub(ctx)
	}()
	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return errors.Join(ircErr, esErr)
}

// SendMessage posts one chat line to the joined channel. It fails fast when
// the IRC socket is down; callers log and move on.
func (a *Adapter) SendMessage(ctx context.Context, text string) error {
	return a.writeIRC(ctx, irc.Privmsg(a.cfg.Channel, text))
}

// ReplyTo threads a reply under the given parent message id, falling back to
// a plain send when the id is unknown.
func (a *Adapter) ReplyTo(ctx context.Context, parentID, text string) error {
	if parentID == "" {
		return a.SendMessage(ctx, text)
	}
	return a.writeIRC(ctx, irc.Reply(a.cfg.Channel, parentID, text))
}

// Redial drops the live IRC connection so the loop reconnects with the
// current token. No-op when the socket is already down.
func (a *Adapter) Redial() {
	a.mu.Lock()
	conn := a.ircConn
	a.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "token rotated")
	}
}

// Status reports both sockets for diagnostics.
func (a *Adapter) Status() map[string]core.ConnStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]core.ConnStatus, len(a.status))
	for k, v := range a.status {
		out[k] = v
	}
	return out
}

// Session reports the EventSub session id and per-type subscription acks.
func (a *Adapter) Session() (string, map[string]string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	acks := make(map[string]string, len(a.subAcks))
	for k, v := range a.subAcks {
		acks[k] = v
	}
	return a.sessionID, acks
}

func (a *Adapter) writeIRC(ctx context.Context, frame string) error {
	a.mu.Lock()
	conn := a.ircConn
	a.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, []byte(frame+"\r\n"))
}

func (a *Adapter) emit(ev core.Event) {
	meta := ev.EventMeta()
	a.cfg.Metrics.IncIngested(meta.Platform, ev.EventKind())
	if a.cfg.OnEvent != nil {
		a.cfg.OnEvent(ev)
	}
}

func (a *Adapter) setStatus(component string, st core.ConnStatus) {
	a.mu.Lock()
	a.status[component] = st
	a.mu.Unlock()
	a.cfg.Metrics.SetConnState(component, st.State)
}

// terminal marks a socket permanently down. Each loop calls this at most
// once, right before returning.
func (a *Adapter) terminal(component string, err error) {
	a.setStatus(component, core.ConnStatus{State: core.StateDisconnected})
	a.cfg.Metrics.IncTerminal(component)
	a.log.Error("twitch: socket terminally down", "component", component, "err", err)
	if a.cfg.OnTerminal != nil {
		a.cfg.OnTerminal(component, err)
	}
}

func (a *Adapter) dial(ctx context.Context, url string) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dctx, url, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(readLimit)
	return conn, nil
}
