package twitchauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNormalizeToken(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"abc", "oauth:abc"},
		{" oauth:abc \n", "oauth:abc"},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		if got := NormalizeToken(tt.in); got != tt.want {
			t.Fatalf("NormalizeToken(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if got := BareToken("oauth:abc"); got != "abc" {
		t.Fatalf("BareToken = %q", got)
	}
}

func TestFileTokenSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "irc-token")
	if err := os.WriteFile(path, []byte("tok-1\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	src := NewFileTokenSource(path)
	token, changed, err := src.Load()
	if err != nil || !changed || token != "oauth:tok-1" {
		t.Fatalf("first load = %q changed=%v err=%v", token, changed, err)
	}

	// unchanged content is not a rotation
	if _, changed, err = src.Load(); err != nil || changed {
		t.Fatalf("second load changed=%v err=%v", changed, err)
	}

	if err := os.WriteFile(path, []byte("oauth:tok-2"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	token, changed, err = src.Load()
	if err != nil || !changed || token != "oauth:tok-2" {
		t.Fatalf("rotated load = %q changed=%v err=%v", token, changed, err)
	}
	if got := src.Current(); got != "oauth:tok-2" {
		t.Fatalf("Current = %q", got)
	}
}

func TestFileTokenSourceEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "irc-token")
	if err := os.WriteFile(path, []byte("  \n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := NewFileTokenSource(path).Load(); !errors.Is(err, ErrEmptyToken) {
		t.Fatalf("err = %v, want ErrEmptyToken", err)
	}
}

func TestValidateLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"login": "streamer"})
	}))
	defer srv.Close()

	oldURL := validateURL
	validateURL = srv.URL
	defer func() { validateURL = oldURL }()

	login, err := ValidateLogin(context.Background(), "oauth:tok-1")
	if err != nil {
		t.Fatalf("ValidateLogin: %v", err)
	}
	if login != "streamer" {
		t.Fatalf("login = %q", login)
	}

	if _, err := ValidateLogin(context.Background(), "bad"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestRefreshRewritesTokenFiles(t *testing.T) {
	dir := t.TempDir()
	accessPath := filepath.Join(dir, "irc-token")
	refreshPath := filepath.Join(dir, "refresh-token")
	if err := os.WriteFile(refreshPath, []byte("refresh-1"), 0o600); err != nil {
		t.Fatalf("seed refresh: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.Form.Get("grant_type") != "refresh_token" || r.Form.Get("refresh_token") != "refresh-1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-2",
			"refresh_token": "refresh-2",
			"expires_in":    3600,
		})
	}))
	defer srv.Close()

	oldURL := tokenURL
	tokenURL = srv.URL
	defer func() { tokenURL = oldURL }()

	creds := Credentials{
		AccessPath:   accessPath,
		RefreshPath:  refreshPath,
		ClientID:     "client",
		ClientSecret: "secret",
	}
	access, expires, err := creds.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if access != "access-2" {
		t.Fatalf("access = %q", access)
	}
	if expires != time.Hour {
		t.Fatalf("expires = %v, want 1h", expires)
	}

	onDisk, err := creds.ReadAccess()
	if err != nil || onDisk != "access-2" {
		t.Fatalf("ReadAccess = %q err=%v", onDisk, err)
	}
	refreshOnDisk, err := creds.ReadRefresh()
	if err != nil || refreshOnDisk != "refresh-2" {
		t.Fatalf("ReadRefresh = %q err=%v", refreshOnDisk, err)
	}
}
