package twitchchat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"log/slog"

	"github.com/you/chatminder/internal/core"
	"github.com/you/chatminder/internal/eventsub"
	"github.com/you/chatminder/internal/helix"
	"github.com/you/chatminder/internal/retry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// wsServer runs script against each accepted websocket connection.
func wsServer(t *testing.T, script func(ctx context.Context, c *websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer c.CloseNow()
		script(r.Context(), c)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readLines collects n IRC lines from the socket, splitting batched frames.
func readLines(ctx context.Context, c *websocket.Conn, n int) ([]string, error) {
	var lines []string
	for len(lines) < n {
		_, data, err := c.Read(ctx)
		if err != nil {
			return lines, err
		}
		for _, ln := range strings.Split(string(data), "\r\n") {
			if strings.TrimSpace(ln) != "" {
				lines = append(lines, ln)
			}
		}
	}
	return lines, nil
}

func stubHelix(t *testing.T, userID string, created chan<- eventsub.CreateRequest) *helix.Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/users", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"data":[{"id":"`+userID+`","login":"somechannel","display_name":"SomeChannel"}]}`)
	})
	mux.HandleFunc("/eventsub/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		var req eventsub.CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode create request: %v", err)
		}
		if created != nil {
			created <- req
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		io.WriteString(w, `{"data":[{"id":"sub-`+req.Type+`","status":"enabled"}]}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &helix.Client{BaseURL: srv.URL, ClientID: "cid", Token: func() string { return "secret" }}
}

func newTestAdapter(t *testing.T, cfg Config) *Adapter {
	t.Helper()
	if cfg.Channel == "" {
		cfg.Channel = "somechannel"
	}
	if cfg.Nick == "" {
		cfg.Nick = "botty"
	}
	if cfg.Token == nil {
		cfg.Token = func() string { return "secret" }
	}
	if cfg.Helix == nil {
		cfg.Helix = stubHelix(t, "77", nil)
	}
	if cfg.Log == nil {
		cfg.Log = testLogger()
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestIRCHandshakePongAndEmit(t *testing.T) {
	gotPong := make(chan string, 1)
	srv := wsServer(t, func(ctx context.Context, c *websocket.Conn) {
		lines, err := readLines(ctx, c, 4)
		if err != nil {
			return
		}
		want := []string{
			"CAP REQ :twitch.tv/membership twitch.tv/tags twitch.tv/commands",
			"PASS oauth:secret",
			"NICK botty",
			"JOIN #somechannel",
		}
		for i, w := range want {
			if lines[i] != w {
				t.Errorf("handshake[%d] = %q, want %q", i, lines[i], w)
			}
		}
		c.Write(ctx, websocket.MessageText, []byte("PING :tmi.twitch.tv\r\n"))
		_, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		gotPong <- strings.TrimSpace(string(data))
		frame := "@badges=subscriber/1;display-name=Foo;user-id=42;id=abc :foo!foo@foo.tmi.twitch.tv PRIVMSG #somechannel :hello\r\n" +
			":tmi.twitch.tv ROOMSTATE #somechannel\r\n"
		c.Write(ctx, websocket.MessageText, []byte(frame))
		<-ctx.Done()
	})

	events := make(chan core.Event, 8)
	a := newTestAdapter(t, Config{
		IRCURL:  wsURL(srv),
		Policy:  retry.Policy{Base: time.Millisecond, Cap: time.Millisecond, MaxAttempts: 3},
		OnEvent: func(ev core.Event) { events <- ev },
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.runIRC(ctx) }()

	select {
	case pong := <-gotPong:
		if pong != "PONG :tmi.twitch.tv" {
			t.Errorf("pong = %q, want %q", pong, "PONG :tmi.twitch.tv")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no pong before timeout")
	}

	select {
	case ev := <-events:
		chat, ok := ev.(core.Chat)
		if !ok {
			t.Fatalf("event type = %T, want core.Chat", ev)
		}
		m := chat.EventMeta()
		if m.Username != "Foo" || m.UserID != "42" || m.ID != "abc" {
			t.Errorf("meta = %+v", m)
		}
		if chat.Text != "hello" || !chat.Subscriber {
			t.Errorf("chat = %+v", chat)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no event before timeout")
	}

	if err := a.SendMessage(ctx, "hi chat"); err != nil {
		t.Errorf("SendMessage: %v", err)
	}

	cancel()
	<-done
}

func TestIRCChatTextMentioningAuthFailureIsJustChat(t *testing.T) {
	srv := wsServer(t, func(ctx context.Context, c *websocket.Conn) {
		if _, err := readLines(ctx, c, 4); err != nil {
			return
		}
		frame := ":foo!foo@foo.tmi.twitch.tv PRIVMSG #somechannel :lol my authentication failed earlier today\r\n" +
			":bar!bar@bar.tmi.twitch.tv PRIVMSG #somechannel :still here\r\n"
		c.Write(ctx, websocket.MessageText, []byte(frame))
		<-ctx.Done()
	})

	events := make(chan core.Event, 8)
	a := newTestAdapter(t, Config{
		IRCURL:  wsURL(srv),
		Policy:  retry.Policy{Base: time.Millisecond, Cap: time.Millisecond, MaxAttempts: 3},
		OnEvent: func(ev core.Event) { events <- ev },
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.runIRC(ctx) }()

	// both messages arrive: the first did not kill the socket
	want := []string{"lol my authentication failed earlier today", "still here"}
	for _, text := range want {
		select {
		case ev := <-events:
			chat, ok := ev.(core.Chat)
			if !ok {
				t.Fatalf("event type = %T, want core.Chat", ev)
			}
			if chat.Text != text {
				t.Errorf("chat text = %q, want %q", chat.Text, text)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("no chat event for %q before timeout", text)
		}
	}

	cancel()
	if err := <-done; errors.Is(err, errAuthFailed) {
		t.Fatalf("viewer chat text terminated the socket as an auth failure: %v", err)
	}
}

func TestIRCAuthFailureIsTerminal(t *testing.T) {
	srv := wsServer(t, func(ctx context.Context, c *websocket.Conn) {
		if _, err := readLines(ctx, c, 4); err != nil {
			return
		}
		c.Write(ctx, websocket.MessageText, []byte(":tmi.twitch.tv NOTICE * :Login authentication failed\r\n"))
		<-ctx.Done()
	})

	terminals := make(chan string, 2)
	a := newTestAdapter(t, Config{
		IRCURL:     wsURL(srv),
		Policy:     retry.Policy{Base: time.Millisecond, Cap: time.Millisecond, MaxAttempts: 5},
		OnTerminal: func(component string, err error) { terminals <- component },
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := a.runIRC(ctx)
	if !errors.Is(err, errAuthFailed) {
		t.Fatalf("runIRC err = %v, want auth failure", err)
	}
	select {
	case component := <-terminals:
		if component != ComponentIRC {
			t.Errorf("terminal component = %q, want %q", component, ComponentIRC)
		}
	default:
		t.Fatal("no terminal callback")
	}
	if len(terminals) != 0 {
		t.Errorf("got %d extra terminal callbacks, want 0", len(terminals))
	}
	if st := a.Status()[ComponentIRC]; st.State != core.StateDisconnected {
		t.Errorf("state = %v, want disconnected", st.State)
	}
}

func TestIRCBackoffExhaustedIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not a websocket endpoint", http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	terminals := make(chan string, 2)
	a := newTestAdapter(t, Config{
		IRCURL:     wsURL(srv),
		Policy:     retry.Policy{Base: time.Millisecond, Cap: 2 * time.Millisecond, MaxAttempts: 2},
		OnTerminal: func(component string, err error) { terminals <- component },
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := a.runIRC(ctx)
	if err == nil || !strings.Contains(err.Error(), "reconnect budget exhausted") {
		t.Fatalf("runIRC err = %v, want exhausted budget", err)
	}
	if got := len(terminals); got != 1 {
		t.Fatalf("terminal callbacks = %d, want exactly 1", got)
	}
}

func TestEventSubWelcomeSubscribesAndEmits(t *testing.T) {
	welcome := `{"metadata":{"message_id":"m1","message_type":"session_welcome","message_timestamp":"2026-06-01T12:00:00Z"},"payload":{"session":{"id":"sess-1","status":"connected","keepalive_timeout_seconds":10,"connected_at":"2026-06-01T12:00:00Z"}}}`
	cheer := `{"metadata":{"message_id":"m2","message_type":"notification","message_timestamp":"2026-06-01T12:00:05Z","subscription_type":"channel.cheer"},"payload":{"subscription":{"id":"s1","type":"channel.cheer","version":"1","status":"enabled"},"event":{"user_id":"9","user_login":"big","user_name":"Big","bits":500,"message":"nice stream"}}}`

	srv := wsServer(t, func(ctx context.Context, c *websocket.Conn) {
		c.Write(ctx, websocket.MessageText, []byte(welcome))
		c.Write(ctx, websocket.MessageText, []byte(cheer))
		<-ctx.Done()
	})

	created := make(chan eventsub.CreateRequest, 16)
	events := make(chan core.Event, 8)
	a := newTestAdapter(t, Config{
		EventSubURL: wsURL(srv),
		Helix:       stubHelix(t, "77", created),
		Policy:      retry.Policy{Base: time.Millisecond, Cap: time.Millisecond, MaxAttempts: 3},
		OnEvent:     func(ev core.Event) { events <- ev },
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.runEventSub(ctx) }()

	byType := make(map[string]eventsub.CreateRequest)
	for range eventsub.DefaultSubscriptions() {
		select {
		case req := <-created:
			byType[req.Type] = req
		case <-time.After(3 * time.Second):
			t.Fatalf("only %d subscriptions created before timeout", len(byType))
		}
	}
	for _, subType := range eventsub.DefaultSubscriptions() {
		req, ok := byType[subType]
		if !ok {
			t.Errorf("no subscription created for %s", subType)
			continue
		}
		if req.Transport.Method != "websocket" || req.Transport.SessionID != "sess-1" {
			t.Errorf("%s transport = %+v", subType, req.Transport)
		}
	}
	if cond := byType[eventsub.SubChannelRaid].Condition; cond["to_broadcaster_user_id"] != "77" {
		t.Errorf("raid condition = %v", cond)
	}
	if req := byType[eventsub.SubChannelFollow]; req.Version != "2" || req.Condition["moderator_user_id"] != "77" {
		t.Errorf("follow request = %+v", req)
	}

	select {
	case ev := <-events:
		bits, ok := ev.(core.Bits)
		if !ok {
			t.Fatalf("event type = %T, want core.Bits", ev)
		}
		if bits.Amount != 500 || bits.Text != "nice stream" {
			t.Errorf("bits = %+v", bits)
		}
		if m := bits.EventMeta(); m.Username != "Big" || m.UserID != "9" {
			t.Errorf("meta = %+v", m)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no event before timeout")
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		sessionID, acks := a.Session()
		if sessionID == "sess-1" && len(acks) == len(eventsub.DefaultSubscriptions()) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session = %q acks = %v", sessionID, acks)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	<-done
}

func TestEventSubSessionReconnect(t *testing.T) {
	secondHit := make(chan struct{}, 1)
	second := wsServer(t, func(ctx context.Context, c *websocket.Conn) {
		secondHit <- struct{}{}
		welcome := `{"metadata":{"message_id":"m9","message_type":"session_welcome","message_timestamp":"2026-06-01T12:01:00Z"},"payload":{"session":{"id":"sess-2","status":"connected","keepalive_timeout_seconds":10,"connected_at":"2026-06-01T12:01:00Z"}}}`
		c.Write(ctx, websocket.MessageText, []byte(welcome))
		<-ctx.Done()
	})

	first := wsServer(t, func(ctx context.Context, c *websocket.Conn) {
		reconnect := `{"metadata":{"message_id":"m8","message_type":"session_reconnect","message_timestamp":"2026-06-01T12:00:30Z"},"payload":{"session":{"id":"sess-1","status":"reconnecting","reconnect_url":"` + wsURL(second) + `"}}}`
		c.Write(ctx, websocket.MessageText, []byte(reconnect))
		<-ctx.Done()
	})

	a := newTestAdapter(t, Config{
		EventSubURL: wsURL(first),
		Policy:      retry.Policy{Base: time.Millisecond, Cap: time.Millisecond, MaxAttempts: 3},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.runEventSub(ctx) }()

	select {
	case <-secondHit:
	case <-time.After(3 * time.Second):
		t.Fatal("reconnect url was never dialed")
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		if id, _ := a.Session(); id == "sess-2" {
			break
		}
		if time.Now().After(deadline) {
			id, _ := a.Session()
			t.Fatalf("session id = %q, want sess-2", id)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	<-done
}

func TestSendWhenDisconnected(t *testing.T) {
	a := newTestAdapter(t, Config{})
	if err := a.SendMessage(context.Background(), "hi"); !errors.Is(err, errNotConnected) {
		t.Errorf("SendMessage err = %v, want not connected", err)
	}
	if err := a.ReplyTo(context.Background(), "parent-1", "hi"); !errors.Is(err, errNotConnected) {
		t.Errorf("ReplyTo err = %v, want not connected", err)
	}
	a.Redial() // no-op while down
}
