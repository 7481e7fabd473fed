package xfeed

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"

	"github.com/you/chatminder/internal/core"
	"github.com/you/chatminder/internal/metrics"
	"github.com/you/chatminder/internal/retry"

	"log/slog"
)

const (
	defaultBaseURL      = "https://api.x.com/2"
	defaultPollInterval = 15 * time.Second
	defaultMaxResults   = 25
	suspendFallback     = 15 * time.Minute
)

// ErrUnauthorized marks rejected X credentials; the poller stops instead of
// hammering the API with a dead token.
var ErrUnauthorized = errors.New("xfeed: unauthorized")

// Config wires the mentions poller for one account. Reads use the app bearer
// token; posting is a separate concern (see Poster).
type Config struct {
	Username    string
	BearerToken string

	BaseURL      string
	PollInterval time.Duration
	MaxResults   int
	// SinceID resumes the watermark across restarts. When empty, the first
	// successful poll primes the watermark without emitting, so a fresh boot
	// does not reply to stale mentions.
	SinceID string

	Policy retry.Policy
	HTTP   *http.Client
	Clock  clockwork.Clock

	OnEvent    func(core.Event)
	OnTerminal func(err error)

	Log     *slog.Logger
	Metrics *metrics.Metrics
}

// Client polls the X mentions timeline and emits chat events in causal
// order. The API returns batches newest-first; emission reverses them.
type Client struct {
	cfg   Config
	log   *slog.Logger
	clock clockwork.Clock
	http  *http.Client

	mu      sync.Mutex
	selfID  string
	sinceID string
	primed  bool
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Username) == "" {
		return nil, errors.New("xfeed: username is required")
	}
	if strings.TrimSpace(cfg.BearerToken) == "" {
		return nil, errors.New("xfeed: bearer token is required")
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	httpClient := cfg.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		cfg:     cfg,
		log:     log,
		clock:   clock,
		http:    httpClient,
		sinceID: strings.TrimSpace(cfg.SinceID),
		primed:  strings.TrimSpace(cfg.SinceID) != "",
	}, nil
}

// Watermark reports the newest mention id observed so far.
func (c *Client) Watermark() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sinceID
}

// Run polls until ctx ends, credentials are rejected, or the transient
// failure budget is exhausted. Rate-limit suspensions do not count against
// the budget.
func (c *Client) Run(ctx context.Context) error {
	interval := c.cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	attempt := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := c.pollOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var limited *retry.RateLimited
		switch {
		case err == nil:
			attempt = 0
			c.cfg.Metrics.IncPoll()
			if err := c.sleep(ctx, interval); err != nil {
				return err
			}
		case errors.As(err, &limited):
			attempt = 0
			c.cfg.Metrics.IncPollSuspended()
			// a reset already behind us means the suspension is over
			d := limited.Reset.Sub(c.clock.Now())
			if d < 0 {
				d = 0
			}
			c.log.Warn("x: mentions poll rate limited", "resume_in", d)
			if err := c.sleep(ctx, d); err != nil {
				return err
			}
		case errors.Is(err, ErrUnauthorized):
			c.terminal(err)
			return err
		default:
			attempt++
			if c.cfg.Policy.Exhausted(attempt) {
				c.terminal(err)
				return errors.Wrap(err, "xfeed: poll budget exhausted")
			}
			delay := c.cfg.Policy.Delay(attempt)
			c.log.Warn("x: mentions poll failed", "err", err, "attempt", attempt, "delay", delay)
			if err := c.sleep(ctx, delay); err != nil {
				return err
			}
		}
	}
}

func (c *Client) pollOnce(ctx context.Context) error {
	if err := c.ensureSelfID(ctx); err != nil {
		return err
	}

	resp, err := c.fetchMentions(ctx)
	if err != nil {
		return err
	}

	newest := resp.Meta.NewestID
	if newest == "" && len(resp.Data) > 0 {
		newest = resp.Data[0].ID
	}

	c.mu.Lock()
	primed := c.primed
	if newest != "" {
		c.sinceID = newest
	}
	c.primed = true
	c.mu.Unlock()

	if !primed {
		if len(resp.Data) > 0 {
			c.log.Info("x: primed mentions watermark", "since_id", newest, "skipped", len(resp.Data))
		}
		return nil
	}

	for _, ev := range c.eventsFromBatch(resp) {
		c.cfg.Metrics.IncIngested(core.PlatformX, core.KindChat)
		if c.cfg.OnEvent != nil {
			c.cfg.OnEvent(ev)
		}
	}
	return nil
}

// ensureSelfID resolves the numeric user id once and caches it.
func (c *Client) ensureSelfID(ctx context.Context) error {
	c.mu.Lock()
	id := c.selfID
	c.mu.Unlock()
	if id != "" {
		return nil
	}

	var parsed struct {
		Data struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"data"`
	}
	if err := c.get(ctx, "/users/by/username/"+url.PathEscape(c.cfg.Username), &parsed); err != nil {
		return errors.Wrap(err, "resolve self")
	}
	if parsed.Data.ID == "" {
		return errors.Errorf("xfeed: no user for %q", c.cfg.Username)
	}

	c.mu.Lock()
	c.selfID = parsed.Data.ID
	c.mu.Unlock()
	c.log.Info("x: resolved account", "username", c.cfg.Username, "user_id", parsed.Data.ID)
	return nil
}

type tweet struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	AuthorID  string    `json:"author_id"`
	CreatedAt time.Time `json:"created_at"`
}

type account struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Name          string `json:"name"`
	PublicMetrics struct {
		FollowersCount int `json:"followers_count"`
	} `json:"public_metrics"`
}

type mentionsResponse struct {
	Data     []tweet `json:"data"`
	Includes struct {
		Users []account `json:"users"`
	} `json:"includes"`
	Meta struct {
		NewestID    string `json:"newest_id"`
		ResultCount int    `json:"result_count"`
	} `json:"meta"`
}

func (c *Client) fetchMentions(ctx context.Context) (mentionsResponse, error) {
	maxResults := c.cfg.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}

	q := url.Values{}
	q.Set("max_results", strconv.Itoa(maxResults))
	if since := c.Watermark(); since != "" {
		q.Set("since_id", since)
	}
	q.Set("tweet.fields", "author_id,created_at")
	q.Set("expansions", "author_id")
	q.Set("user.fields", "username,name,public_metrics")

	c.mu.Lock()
	selfID := c.selfID
	c.mu.Unlock()

	var parsed mentionsResponse
	if err := c.get(ctx, "/users/"+selfID+"/mentions?"+q.Encode(), &parsed); err != nil {
		return mentionsResponse{}, err
	}
	return parsed, nil
}

// eventsFromBatch maps one newest-first batch onto chat events in causal
// (oldest-first) order.
func (c *Client) eventsFromBatch(resp mentionsResponse) []core.Chat {
	users := make(map[string]account, len(resp.Includes.Users))
	for _, u := range resp.Includes.Users {
		users[u.ID] = u
	}

	out := make([]core.Chat, 0, len(resp.Data))
	for i := len(resp.Data) - 1; i >= 0; i-- {
		tw := resp.Data[i]
		if tw.ID == "" || tw.Text == "" {
			continue
		}
		author := users[tw.AuthorID]
		username := author.Username
		if username == "" {
			username = author.Name
		}
		if username == "" {
			username = tw.AuthorID
		}
		ts := tw.CreatedAt
		if ts.IsZero() {
			ts = c.clock.Now().UTC()
		}
		out = append(out, core.Chat{
			Meta: core.Meta{
				ID:       tw.ID,
				Platform: core.PlatformX,
				Username: username,
				UserID:   tw.AuthorID,
				Ts:       ts,
			},
			Text:      tw.Text,
			Followers: author.PublicMetrics.FollowersCount,
		})
	}
	return out
}

// get issues one bearer-authenticated GET and maps error statuses the same
// way everywhere: 401/403 reject credentials, 429 carries the reset time.
func (c *Client) get(ctx context.Context, path string, out any) error {
	base := strings.TrimSuffix(c.cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(c.cfg.BearerToken))

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decode response")
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errors.Wrapf(ErrUnauthorized, "status %d", resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		reset, ok := retry.ResetFromHeader(resp.Header, "x-rate-limit-reset")
		if !ok {
			reset = c.clock.Now().Add(suspendFallback)
		}
		return &retry.RateLimited{Reset: reset}
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return errors.Errorf("xfeed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := c.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.Chan():
		return nil
	}
}

func (c *Client) terminal(err error) {
	c.cfg.Metrics.IncTerminal("x_mentions")
	c.log.Error("x: mentions poller terminally down", "err", err)
	if c.cfg.OnTerminal != nil {
		c.cfg.OnTerminal(err)
	}
}
