package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	tokenDebounce       = 250 * time.Millisecond
	firstRefreshDelay   = time.Minute
	refreshRetryCeiling = time.Minute
)

// ReloadTwitch re-reads the token file and forces both Twitch sockets to
// redial with the fresh credential. An admin reload redials even when the
// file content did not change.
func (a *App) ReloadTwitch() (string, error) {
	if a.tokens == nil {
		return "", errors.New("twitch token file not configured")
	}
	if _, _, err := a.tokens.Load(); err != nil {
		return "", fmt.Errorf("reload twitch token: %w", err)
	}
	a.adapter.Redial()
	return a.cfg.Twitch.Nick, nil
}

// refreshLoop exchanges the refresh token ahead of access-token expiry and
// redials with the result. Refresh rewrites both token files, so the fsnotify
// watcher would also notice; the explicit Load here keeps the loop working
// when the watcher could not start.
func (a *App) refreshLoop(ctx context.Context) {
	timer := time.NewTimer(firstRefreshDelay)
	defer timer.Stop()

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		_, expires, err := a.creds.Refresh(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.log.Warn("app: twitch token refresh failed", "err", err, "retry_in", backoff)
			timer.Reset(backoff)
			if backoff < refreshRetryCeiling {
				backoff *= 2
				if backoff > refreshRetryCeiling {
					backoff = refreshRetryCeiling
				}
			}
			continue
		}
		backoff = time.Second

		if _, changed, err := a.tokens.Load(); err != nil {
			a.log.Warn("app: reload refreshed token", "err", err)
		} else if changed {
			a.log.Info("app: twitch token refreshed, redialing", "expires_in", expires)
			a.adapter.Redial()
		}

		timer.Reset(nextRefresh(expires))
	}
}

// nextRefresh schedules the following exchange at 85% of the reported
// lifetime, but never more often than once a minute.
func nextRefresh(expires time.Duration) time.Duration {
	next := time.Duration(float64(expires) * 0.85)
	if next < time.Minute {
		next = time.Minute
	}
	return next
}

// watchTokenFile redials when the token file rotates. Editors and secret
// managers replace the file rather than rewrite it, so Remove and Rename
// need a re-add and every burst of events collapses into one debounce fire.
func (a *App) watchTokenFile(ctx context.Context) {
	path := a.cfg.Twitch.TokenFile

	w, err := fsnotify.NewWatcher()
	if err != nil {
		a.log.Warn("app: token watcher unavailable", "err", err)
		return
	}
	defer w.Close()

	if err := w.Add(path); err != nil {
		a.log.Warn("app: watch token file", "path", path, "err", err)
		return
	}

	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				if err := w.Add(path); err != nil {
					a.log.Warn("app: re-add token watch", "path", path, "err", err)
				}
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(tokenDebounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			a.log.Warn("app: token watcher error", "err", err)
		case <-debounce.C:
			_, changed, err := a.tokens.Load()
			if err != nil {
				a.log.Warn("app: reload twitch token", "err", err)
				continue
			}
			if !changed {
				a.log.Debug("app: token file rewritten without change")
				continue
			}
			a.log.Info("app: twitch token rotated, redialing")
			a.adapter.Redial()
		}
	}
}
