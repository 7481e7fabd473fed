package xfeed

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dghubble/oauth1"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"log/slog"
)

// ErrNoCredentials means posting was never configured. A nil *Poster is
// valid and returns this from every call, so callers log and move on
// instead of branching on configuration.
var ErrNoCredentials = errors.New("xfeed: posting credentials not configured")

// PosterConfig holds the OAuth 1.0a user context required by POST /2/tweets.
type PosterConfig struct {
	ConsumerKey    string
	ConsumerSecret string
	AccessToken    string
	AccessSecret   string

	BaseURL string
	// PostInterval paces outbound tweets; zero means one per five seconds.
	PostInterval time.Duration

	Log *slog.Logger
}

// Poster publishes tweets with signed requests. Reads and writes use
// different auth schemes, so posting lives apart from the poller.
type Poster struct {
	cfg     PosterConfig
	http    *http.Client
	limiter *rate.Limiter
	log     *slog.Logger
}

func NewPoster(cfg PosterConfig) (*Poster, error) {
	for _, v := range []string{cfg.ConsumerKey, cfg.ConsumerSecret, cfg.AccessToken, cfg.AccessSecret} {
		if strings.TrimSpace(v) == "" {
			return nil, ErrNoCredentials
		}
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	interval := cfg.PostInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	oaConfig := oauth1.NewConfig(cfg.ConsumerKey, cfg.ConsumerSecret)
	token := oauth1.NewToken(cfg.AccessToken, cfg.AccessSecret)
	httpClient := oaConfig.Client(oauth1.NoContext, token)
	httpClient.Timeout = 15 * time.Second

	return &Poster{
		cfg:     cfg,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		log:     log,
	}, nil
}

type postRequest struct {
	Text  string `json:"text"`
	Reply *struct {
		InReplyToTweetID string `json:"in_reply_to_tweet_id"`
	} `json:"reply,omitempty"`
}

// Post publishes text, threaded under replyToID when given, and returns the
// created tweet id.
func (p *Poster) Post(ctx context.Context, text, replyToID string) (string, error) {
	if p == nil {
		return "", ErrNoCredentials
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("xfeed: empty tweet text")
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return "", err
	}

	body := postRequest{Text: text}
	if replyToID != "" {
		body.Reply = &struct {
			InReplyToTweetID string `json:"in_reply_to_tweet_id"`
		}{InReplyToTweetID: replyToID}
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return "", errors.Wrap(err, "encode tweet")
	}

	base := strings.TrimSuffix(p.cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/tweets", bytes.NewReader(buf))
	if err != nil {
		return "", errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", errors.Wrapf(ErrUnauthorized, "status %d", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", errors.Errorf("xfeed: post status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var parsed struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", errors.Wrap(err, "decode post response")
	}
	p.log.Info("x: posted tweet", "tweet_id", parsed.Data.ID, "reply_to", replyToID)
	return parsed.Data.ID, nil
}
