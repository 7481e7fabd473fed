package twitchchat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"github.com/you/chatminder/internal/core"
	"github.com/you/chatminder/internal/irc"
	"github.com/you/chatminder/internal/retry"
)

// runIRC reconnects the chat socket with exponential backoff. Auth failures
// and an exhausted budget are terminal; everything else redials.
func (a *Adapter) runIRC(ctx context.Context) error {
	attempt := 0
	a.setStatus(ComponentIRC, core.ConnStatus{State: core.StateConnecting})
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		connected, err := a.runIRCOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			attempt = 0
		}
		if errors.Is(err, errAuthFailed) {
			a.terminal(ComponentIRC, err)
			return err
		}
		attempt++
		if a.cfg.Policy.Exhausted(attempt) {
			a.terminal(ComponentIRC, err)
			return fmt.Errorf("twitch irc: reconnect budget exhausted: %w", err)
		}
		delay := a.cfg.Policy.Delay(attempt)
		a.setStatus(ComponentIRC, core.ConnStatus{State: core.StateReconnecting, Attempt: attempt, NextDelay: delay})
		a.cfg.Metrics.IncReconnect(ComponentIRC)
		a.log.Warn("twitch irc: disconnected", "err", err, "attempt", attempt, "delay", delay)
		if err := retry.Sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// runIRCOnce dials, authenticates, joins and reads until the connection
// drops. The bool reports whether the handshake completed, so the caller can
// reset its backoff streak.
func (a *Adapter) runIRCOnce(ctx context.Context) (bool, error) {
	token := strings.TrimSpace(a.cfg.Token())
	if token == "" {
		return false, fmt.Errorf("%w: empty token", errAuthFailed)
	}

	url := a.cfg.IRCURL
	if url == "" {
		url = defaultIRCURL
	}
	conn, err := a.dial(ctx, url)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()

	send := func(frame string) error {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		defer cancel()
		return conn.Write(wctx, websocket.MessageText, []byte(frame+"\r\n"))
	}

	for _, frame := range []string{irc.CapReq(), irc.Pass(token), irc.Nick(a.cfg.Nick), irc.Join(a.cfg.Channel)} {
		if err := send(frame); err != nil {
			return false, fmt.Errorf("handshake: %w", err)
		}
	}
	a.log.Info("twitch irc: joined", "channel", a.cfg.Channel, "nick", a.cfg.Nick)

	a.mu.Lock()
	a.ircConn = conn
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.ircConn = nil
		a.mu.Unlock()
	}()
	a.setStatus(ComponentIRC, core.ConnStatus{State: core.StateConnected})

	keepalive := a.cfg.Keepalive
	if keepalive <= 0 {
		keepalive = defaultKeepalive
	}
	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go func() {
		t := time.NewTicker(keepalive)
		defer t.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-t.C:
				if err := send(irc.Ping("chatminder")); err != nil {
					conn.CloseNow() // wake the reader
					return
				}
			}
		}
	}()

	drops := irc.NewDropLog(a.log, time.Now())
	defer drops.Flush(time.Now())
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}
		// Twitch batches several IRC lines into one websocket frame.
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimRight(line, "\r")
			if strings.TrimSpace(line) == "" {
				continue
			}
			if err := a.handleIRCLine(send, drops, line); err != nil {
				return true, err
			}
		}
	}
}

func (a *Adapter) handleIRCLine(send func(string) error, drops *irc.DropLog, line string) error {
	msg, ok := irc.ParseLine(line)
	if !ok {
		a.cfg.Metrics.IncDropped(ComponentIRC, "unparsed")
		drops.Note(time.Now(), "unparsed", line)
		return nil
	}
	if irc.AuthFailure(msg) {
		return errAuthFailed
	}
	switch msg.Command {
	case "PING":
		return send(irc.Pong(msg.Trailing))
	case "RECONNECT":
		return errors.New("server requested reconnect")
	case "PRIVMSG":
		if ev, ok := irc.ChatFromPrivmsg(msg, a.cfg.Channel); ok {
			a.emit(ev)
			return nil
		}
	case "USERNOTICE":
		if ev, ok := irc.EventFromUsernotice(msg, a.cfg.Channel); ok {
			a.emit(ev)
			return nil
		}
	}
	a.cfg.Metrics.IncDropped(ComponentIRC, "ignored")
	drops.Note(time.Now(), "ignored_"+strings.ToLower(msg.Command), line)
	return nil
}
