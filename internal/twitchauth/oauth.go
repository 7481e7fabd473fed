package twitchauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	validateURL = "https://id.twitch.tv/oauth2/validate"
	tokenURL    = "https://id.twitch.tv/oauth2/token"
)

// ErrInvalidToken marks a token the id service rejected outright.
var ErrInvalidToken = errors.New("twitchauth: invalid token")

// Credentials locates the token material for one Twitch account. Tokens live
// in files so rotation does not need a restart.
type Credentials struct {
	AccessPath   string
	RefreshPath  string
	ClientID     string
	ClientSecret string
}

func (c Credentials) ReadAccess() (string, error) {
	b, err := os.ReadFile(c.AccessPath)
	if err != nil {
		return "", err
	}
	token := BareToken(string(b))
	if token == "" {
		return "", ErrEmptyToken
	}
	return token, nil
}

func (c Credentials) ReadRefresh() (string, error) {
	b, err := os.ReadFile(c.RefreshPath)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// ValidateLogin confirms the access token against the id service and returns
// the login it belongs to.
func ValidateLogin(ctx context.Context, access string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, validateURL, nil)
	if err != nil {
		return "", fmt.Errorf("twitchauth: build validate request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+BareToken(access))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("twitchauth: validate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return "", ErrInvalidToken
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("twitchauth: validate status %d", resp.StatusCode)
	}

	var v struct {
		Login string `json:"login"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return "", fmt.Errorf("twitchauth: decode validate response: %w", err)
	}
	if v.Login == "" {
		return "", errors.New("twitchauth: validate returned no login")
	}
	return v.Login, nil
}

type refreshResp struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// Refresh exchanges the refresh token on disk for a new access + refresh
// pair, atomically rewrites both files, and returns the new access token
// with its reported lifetime (one hour when the id service omits it).
func (c Credentials) Refresh(ctx context.Context) (string, time.Duration, error) {
	if strings.TrimSpace(c.AccessPath) == "" || strings.TrimSpace(c.RefreshPath) == "" {
		return "", 0, errors.New("twitchauth: token file paths are required for refresh")
	}

	refresh, err := c.ReadRefresh()
	if err != nil {
		return "", 0, fmt.Errorf("twitchauth: read refresh token: %w", err)
	}
	if refresh == "" {
		return "", 0, errors.New("twitchauth: empty refresh token")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refresh)
	form.Set("client_id", strings.TrimSpace(c.ClientID))
	form.Set("client_secret", strings.TrimSpace(c.ClientSecret))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("twitchauth: build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("twitchauth: refresh request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("twitchauth: read refresh response: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest {
		return "", 0, fmt.Errorf("%w: refresh status %d: %s", ErrInvalidToken, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if resp.StatusCode/100 != 2 {
		return "", 0, fmt.Errorf("twitchauth: refresh status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var rr refreshResp
	if err := json.Unmarshal(body, &rr); err != nil {
		return "", 0, fmt.Errorf("twitchauth: decode refresh response: %w", err)
	}
	if rr.AccessToken == "" || rr.RefreshToken == "" {
		return "", 0, errors.New("twitchauth: refresh returned empty tokens")
	}

	if err := atomicWrite(c.AccessPath, []byte("oauth:"+strings.TrimSpace(rr.AccessToken)), 0o600); err != nil {
		return "", 0, fmt.Errorf("twitchauth: write access token: %w", err)
	}
	if err := atomicWrite(c.RefreshPath, []byte(strings.TrimSpace(rr.RefreshToken)), 0o600); err != nil {
		return "", 0, fmt.Errorf("twitchauth: write refresh token: %w", err)
	}

	expires := time.Duration(rr.ExpiresIn) * time.Second
	if rr.ExpiresIn <= 0 {
		expires = time.Hour
	}
	return rr.AccessToken, expires, nil
}

func atomicWrite(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil && !os.IsExist(err) {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, mode); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Chmod(path, mode)
}
