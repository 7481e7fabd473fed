package twitchauth

import (
	"errors"
	"os"
	"strings"
	"sync"
)

var ErrEmptyToken = errors.New("twitchauth: empty token")

// NormalizeToken trims the token and ensures it is prefixed with "oauth:".
// If the input is empty after trimming, an empty string is returned.
func NormalizeToken(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "oauth:") {
		return trimmed
	}
	return "oauth:" + trimmed
}

// BareToken strips the "oauth:" prefix for APIs that want the raw value.
func BareToken(s string) string {
	return strings.TrimPrefix(NormalizeToken(s), "oauth:")
}

// FileTokenSource reads a token from disk and caches the last normalized
// value, so the watcher can tell rotation apart from a redundant rewrite.
type FileTokenSource struct {
	path   string
	mu     sync.Mutex
	cached string
}

func NewFileTokenSource(path string) *FileTokenSource {
	return &FileTokenSource{path: path}
}

// Load reads and normalizes the token from the source file. The returned
// boolean reports whether the value differs from the cached one.
func (s *FileTokenSource) Load() (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", false, err
	}

	token := NormalizeToken(string(data))
	if token == "" {
		s.cached = ""
		return "", false, ErrEmptyToken
	}

	if token == s.cached {
		return s.cached, false, nil
	}

	s.cached = token
	return token, true, nil
}

// Current returns the last good value without touching the filesystem;
// adapters use it as a per-connect token supplier.
func (s *FileTokenSource) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cached
}

// SetCached pre-populates the cached value, for falling back to a static
// token while still monitoring the file for future rotations.
func (s *FileTokenSource) SetCached(token string) {
	s.mu.Lock()
	s.cached = NormalizeToken(token)
	s.mu.Unlock()
}
