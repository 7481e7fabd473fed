// Package app assembles the responder from configuration: Twitch adapter,
// X poller, triage manager, dispatcher, viewer store, and the ops surface.
// It owns the run lifecycle so main stays a thin flag-and-signal shell.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/you/chatminder/internal/brain"
	"github.com/you/chatminder/internal/config"
	"github.com/you/chatminder/internal/helix"
	"github.com/you/chatminder/internal/httpadmin"
	"github.com/you/chatminder/internal/httpapi"
	"github.com/you/chatminder/internal/metrics"
	"github.com/you/chatminder/internal/respond"
	"github.com/you/chatminder/internal/retry"
	"github.com/you/chatminder/internal/triage"
	"github.com/you/chatminder/internal/twitchauth"
	"github.com/you/chatminder/internal/twitchchat"
	"github.com/you/chatminder/internal/viewerstore"
	"github.com/you/chatminder/internal/xfeed"
)

const opsShutdownTimeout = 5 * time.Second

// Options is everything main resolves before assembly: the validated
// config (flags already overlaid), build info, and the logger.
type Options struct {
	Config config.Config

	Build httpapi.BuildInfo

	Log *slog.Logger
}

// App is the assembled responder. Optional pieces (X poller, X poster,
// viewer store, ops server) are nil when their configuration is absent.
type App struct {
	cfg config.Config
	log *slog.Logger

	metrics *metrics.Metrics
	tokens  *twitchauth.FileTokenSource
	creds   *twitchauth.Credentials
	helix   *helix.Client
	manager *triage.Manager
	adapter *twitchchat.Adapter
	feed    *xfeed.Client
	poster  *xfeed.Poster
	store   *viewerstore.Store
	disp    *respond.Dispatcher
	ops     *httpapi.Server

	mu   sync.Mutex
	down map[string]error
}

// New wires the pipeline. ctx is only used for constructions that talk to
// the network up front (the Ark chain compile); the run lifetime comes
// later through Run.
func New(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	a := &App{
		cfg:     cfg,
		log:     log,
		metrics: metrics.New(),
		down:    make(map[string]error),
	}

	token, err := a.buildTokenSource()
	if err != nil {
		return nil, err
	}
	// Refresh needs the file source; Validate enforces the token file, the
	// nil check covers callers that skipped it.
	if cfg.Twitch.RefreshConfigured() && a.tokens != nil {
		a.creds = &twitchauth.Credentials{
			AccessPath:   cfg.Twitch.TokenFile,
			RefreshPath:  cfg.Twitch.RefreshTokenFile,
			ClientID:     cfg.Twitch.ClientID,
			ClientSecret: cfg.Twitch.ClientSecret,
		}
	}

	a.helix = &helix.Client{
		BaseURL:  cfg.Twitch.HelixURL,
		ClientID: cfg.Twitch.ClientID,
		// Helix wants the bare value, the IRC PASS wants the oauth: prefix.
		Token: func() string { return twitchauth.BareToken(token()) },
	}

	a.manager = triage.New(triage.Config{
		Settings: a.triageSettings(),
		Scorer:   triage.Scorer{BotName: a.botName(), Keywords: cfg.Triage.Keywords},
		Log:      log,
		Metrics:  a.metrics,
	})

	a.adapter, err = twitchchat.New(twitchchat.Config{
		Channel:     cfg.Twitch.Channel,
		Nick:        cfg.Twitch.Nick,
		Token:       token,
		Helix:       a.helix,
		IRCURL:      cfg.Twitch.IRCURL,
		EventSubURL: cfg.Twitch.EventSubURL,
		Keepalive:   cfg.Twitch.Keepalive(),
		Policy:      retry.DefaultPolicy(),
		OnEvent:     a.manager.Ingest,
		Log:         log,
		Metrics:     a.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("app: twitch adapter: %w", err)
	}

	if cfg.X.PollingConfigured() {
		a.feed, err = xfeed.New(xfeed.Config{
			Username:     cfg.X.Username,
			BearerToken:  cfg.X.BearerToken,
			BaseURL:      cfg.X.BaseURL,
			PollInterval: cfg.X.PollInterval(),
			SinceID:      cfg.X.SinceID,
			Policy:       retry.DefaultPolicy(),
			OnEvent:      a.manager.Ingest,
			Log:          log,
			Metrics:      a.metrics,
		})
		if err != nil {
			return nil, fmt.Errorf("app: x poller: %w", err)
		}
	} else {
		log.Info("app: x polling disabled, no username or bearer token")
	}

	if cfg.X.PostingConfigured() {
		a.poster, err = xfeed.NewPoster(xfeed.PosterConfig{
			ConsumerKey:    cfg.X.ConsumerKey,
			ConsumerSecret: cfg.X.ConsumerSecret,
			AccessToken:    cfg.X.AccessToken,
			AccessSecret:   cfg.X.AccessSecret,
			BaseURL:        cfg.X.BaseURL,
			PostInterval:   cfg.X.PostGap(),
			Log:            log,
		})
		if err != nil {
			return nil, fmt.Errorf("app: x poster: %w", err)
		}
	} else {
		log.Info("app: x posting disabled, replies to mentions will be logged and dropped")
	}

	var gen respond.Generator
	if cfg.Ark.Configured() {
		gen, err = brain.NewArkGenerator(ctx, brain.ArkConfig{
			APIKey:      cfg.Ark.APIKey,
			Model:       cfg.Ark.Model,
			BaseURL:     cfg.Ark.BaseURL,
			Region:      cfg.Ark.Region,
			Persona:     cfg.Ark.Persona,
			MaxTokens:   cfg.Ark.MaxTokens,
			Temperature: cfg.Ark.Temperature,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("app: ark generator: %w", err)
		}
	} else {
		log.Info("app: no ark credentials, replies come from canned lines")
		gen = brain.NewLines()
	}

	if cfg.Viewers.Enabled {
		a.store, err = viewerstore.Open(cfg.Viewers.Path, viewerstore.Options{
			BatchSize:     cfg.Viewers.Batch(),
			FlushInterval: cfg.Viewers.FlushInterval(),
		}, log, a.metrics)
		if err != nil {
			return nil, fmt.Errorf("app: viewer store: %w", err)
		}
	}

	// Interface fields must stay untyped-nil when the concrete value is
	// absent; assigning a nil *xfeed.Poster would defeat the dispatcher's
	// nil check.
	dispCfg := respond.Config{
		Source:     a.manager,
		Generator:  gen,
		Twitch:     a.adapter,
		GenTimeout: cfg.Ark.Timeout(),
		Log:        log,
		Metrics:    a.metrics,
	}
	if a.poster != nil {
		dispCfg.X = a.poster
	}
	if a.store != nil {
		dispCfg.Viewers = a.store
	}
	a.disp, err = respond.New(dispCfg)
	if err != nil {
		return nil, fmt.Errorf("app: dispatcher: %w", err)
	}

	if cfg.Ops.Addr != "" {
		apiOpts := httpapi.Options{
			Addr:           cfg.Ops.Addr,
			RateLimitRPS:   cfg.Ops.RateRPS,
			RateLimitBurst: cfg.Ops.RateBurst,
			Build:          opts.Build,
			Triage:         a.manager,
			Conns:          a.adapter,
			Log:            log,
			Metrics:        a.metrics,
		}
		if a.feed != nil {
			apiOpts.Feed = a.feed
		}
		if a.store != nil {
			apiOpts.Viewers = a.store
		}
		a.ops = httpapi.New(apiOpts)

		adminOpts := httpadmin.Options{
			Reloader: a,
			Cost:     a.manager,
			Log:      log,
		}
		if a.store != nil {
			adminOpts.Viewers = a.store
		}
		httpadmin.New(adminOpts).Register(a.ops.Mux())
	}

	return a, nil
}

// buildTokenSource resolves the Twitch credential. A token file wins and
// enables rotation; a static token works but cannot be reloaded.
func (a *App) buildTokenSource() (func() string, error) {
	cfg := a.cfg.Twitch
	if strings.TrimSpace(cfg.TokenFile) == "" {
		static := twitchauth.NormalizeToken(cfg.Token)
		return func() string { return static }, nil
	}

	src := twitchauth.NewFileTokenSource(cfg.TokenFile)
	if _, _, err := src.Load(); err != nil {
		if strings.TrimSpace(cfg.Token) == "" {
			return nil, fmt.Errorf("app: read twitch token file: %w", err)
		}
		a.log.Warn("app: twitch token file unreadable, starting on static token",
			"path", cfg.TokenFile, "err", err)
		src.SetCached(cfg.Token)
	}
	a.tokens = src
	return src.Current, nil
}

func (a *App) triageSettings() triage.Settings {
	cfg := a.cfg.Triage
	s := triage.DefaultSettings()
	if cfg.RespondThreshold > 0 {
		s.AutoRespondThreshold = cfg.RespondThreshold
	}
	if cfg.ImmediateMargin > 0 {
		s.ImmediateMargin = cfg.ImmediateMargin
	}
	if cfg.MaxPerMinute > 0 {
		s.MaxPerMinute = cfg.MaxPerMinute
	}
	if cfg.MinGap() > 0 {
		s.MinGap = cfg.MinGap()
	}
	if cfg.QueueCap > 0 {
		s.QueueCap = cfg.QueueCap
	}
	if cfg.TopK > 0 {
		s.TopK = cfg.TopK
	}
	if cfg.SampleChance > 0 {
		s.SampleChance = cfg.SampleChance
	} else {
		// config defaults the chance to a positive value, so zero here is an
		// operator explicitly switching the sampled path off
		s.SampleChance = -1
	}
	s.CostControl = cfg.CostControl
	return s
}

func (a *App) botName() string {
	if name := strings.TrimSpace(a.cfg.Triage.BotName); name != "" {
		return name
	}
	return a.cfg.Twitch.Nick
}

// Run drives every goroutine until ctx ends or all event sources are
// terminally down. The triage manager and dispatcher only stop on cancel;
// the adapters can die on their own when reconnect budgets run out.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.manager.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Error("app: triage manager stopped", "err", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.disp.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Error("app: dispatcher stopped", "err", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		err := a.adapter.Run(runCtx)
		if runCtx.Err() == nil {
			a.noteDown("twitch", err)
			a.maybeStop(cancel)
		}
	}()

	if a.feed != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := a.feed.Run(runCtx)
			if runCtx.Err() == nil {
				a.noteDown("x", err)
				a.maybeStop(cancel)
			}
		}()
	}

	if a.tokens != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.watchTokenFile(runCtx)
		}()
	}

	if a.creds != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.refreshLoop(runCtx)
		}()
	}

	if a.ops != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.ops.Start(); err != nil {
				a.log.Error("app: ops server failed", "err", err)
			}
		}()
	}

	<-runCtx.Done()

	if a.ops != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), opsShutdownTimeout)
		if err := a.ops.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("app: ops server shutdown", "err", err)
		}
		shutdownCancel()
	}

	wg.Wait()

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("app: close viewer store", "err", err)
		}
	}

	if ctx.Err() != nil {
		return nil
	}
	return a.downError()
}

// noteDown records a source that exited on its own. Cancellation paths
// never reach here; Run checks runCtx before calling.
func (a *App) noteDown(component string, err error) {
	if err == nil {
		err = errors.New("stopped")
	}
	a.mu.Lock()
	a.down[component] = err
	a.mu.Unlock()
	a.log.Error("app: event source terminally down", "component", component, "err", err)
}

// maybeStop cancels the run once no source can produce events anymore.
// A dead Twitch adapter with a live X poller keeps running, and vice versa.
func (a *App) maybeStop(cancel context.CancelFunc) {
	a.mu.Lock()
	twitchDown := a.down["twitch"] != nil
	feedDown := a.feed == nil || a.down["x"] != nil
	a.mu.Unlock()

	if twitchDown && feedDown {
		a.log.Error("app: all event sources down, stopping")
		cancel()
	}
}

func (a *App) downError() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.down) == 0 {
		return nil
	}
	parts := make([]string, 0, len(a.down))
	for component, err := range a.down {
		parts = append(parts, component+": "+err.Error())
	}
	sort.Strings(parts)
	return fmt.Errorf("app: event sources down: %s", strings.Join(parts, "; "))
}
