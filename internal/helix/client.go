package helix

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/you/chatminder/internal/eventsub"
	"github.com/you/chatminder/internal/retry"
)

const defaultBaseURL = "https://api.twitch.tv/helix"

// ErrUnauthorized marks rejected credentials; callers treat it as an auth
// failure for the Twitch adapter only.
var ErrUnauthorized = errors.New("helix: unauthorized")

// Client calls the Twitch Helix REST API. Token is read per request so
// rotated credentials apply without rebuilding the client.
type Client struct {
	BaseURL  string
	ClientID string
	Token    func() string
	HTTP     *http.Client
}

// User is the subset of GET /users this process consumes.
type User struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

type envelope[T any] struct {
	Data []T `json:"data"`
}

// UserByLogin resolves the numeric id for a login name.
func (c *Client) UserByLogin(ctx context.Context, login string) (User, error) {
	// Twitch logins are lowercase; channel config may carry #CamelCase.
	login = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(login, "#")))
	if login == "" {
		return User{}, errors.New("helix: empty login")
	}

	resp, err := c.do(ctx, http.MethodGet, "/users?login="+url.QueryEscape(login), nil)
	if err != nil {
		return User{}, errors.Wrap(err, "resolve user")
	}
	defer resp.Body.Close()

	var parsed envelope[User]
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return User{}, errors.Wrap(err, "decode users response")
	}
	if len(parsed.Data) == 0 {
		return User{}, errors.Errorf("helix: no user for login %q", login)
	}
	return parsed.Data[0], nil
}

type createdSubscription struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CreateSubscription registers one EventSub subscription and returns the id
// Twitch assigned. Each registration is independent; the caller logs
// failures and keeps going.
func (c *Client) CreateSubscription(ctx context.Context, req eventsub.CreateRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", errors.Wrap(err, "encode subscription")
	}

	resp, err := c.do(ctx, http.MethodPost, "/eventsub/subscriptions", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrapf(err, "subscribe %s", req.Type)
	}
	defer resp.Body.Close()

	var parsed envelope[createdSubscription]
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", errors.Wrap(err, "decode subscription response")
	}
	if len(parsed.Data) == 0 {
		return "", errors.Errorf("helix: empty response for %s", req.Type)
	}
	return parsed.Data[0].ID, nil
}

// do issues one authenticated request and maps error statuses. The response
// body is open only for 2xx results.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	base := strings.TrimSuffix(c.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}

	req, err := http.NewRequestWithContext(ctx, method, base+path, body)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Client-Id", strings.TrimSpace(c.ClientID))
	if c.Token != nil {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(c.Token()))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := c.HTTP
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "do request")
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return resp, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, errors.Wrapf(ErrUnauthorized, "status %d", resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		reset, ok := retry.ResetFromHeader(resp.Header, "Ratelimit-Reset")
		if !ok {
			reset = time.Now().Add(time.Minute)
		}
		resp.Body.Close()
		return nil, &retry.RateLimited{Reset: reset}
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		return nil, errors.Errorf("helix: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
}
