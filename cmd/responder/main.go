// Command responder joins one Twitch channel (and optionally an X mention
// timeline), triages everything that happens there, and replies to the
// small slice worth replying to.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/you/chatminder/internal/app"
	"github.com/you/chatminder/internal/config"
	"github.com/you/chatminder/internal/httpapi"
	"github.com/you/chatminder/internal/version"
)

func main() {
	var (
		versionFlag   bool
		envFile       string
		opsAddr       string
		opsRateRPS    int
		opsRateBurst  int
		twChannel     string
		twNick        string
		twToken       string
		twTokenFile   string
		twClientID    string
		twSecret      string
		twRefreshFile string
		xUsername     string
		xSinceID      string
		costControl   bool
		logLevel      string
		logFormat     string
	)

	flag.BoolVar(&versionFlag, "version", false, "Print build version and exit")
	flag.StringVar(&envFile, "env-file", "", "Load environment from this file before reading config")
	flag.StringVar(&opsAddr, "ops-addr", "", "Ops HTTP address for /healthz, /status, /metrics, /admin (e.g., :8776)")
	flag.IntVar(&opsRateRPS, "ops-rate-rps", 20, "Maximum ops requests per second per client")
	flag.IntVar(&opsRateBurst, "ops-rate-burst", 40, "Burst size for the ops rate limiter")
	flag.StringVar(&twChannel, "twitch-channel", "", "Twitch channel to join (without #)")
	flag.StringVar(&twNick, "twitch-nick", "", "Twitch nickname to login as")
	flag.StringVar(&twToken, "twitch-token", "", "Twitch OAuth token (format: oauth:xxxxx)")
	flag.StringVar(&twTokenFile, "twitch-token-file", "", "Path to file containing the Twitch OAuth token")
	flag.StringVar(&twClientID, "twitch-client-id", "", "Twitch application client ID")
	flag.StringVar(&twSecret, "twitch-client-secret", "", "Twitch application client secret (enables token refresh)")
	flag.StringVar(&twRefreshFile, "twitch-refresh-token-file", "", "Path to file containing the Twitch refresh token")
	flag.StringVar(&xUsername, "x-username", "", "X handle whose mentions are polled (without @)")
	flag.StringVar(&xSinceID, "x-since-id", "", "Resume the X mention watermark from this tweet id")
	flag.BoolVar(&costControl, "cost-control", true, "Queue only revenue events (bits, subs) for generated replies")
	flag.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.StringVar(&logFormat, "log-format", "", "Log format: text or json")
	flag.Parse()

	if versionFlag {
		fmt.Printf(
			"responder version: %s (commit %s, built %s)\n",
			version.Version,
			version.Commit,
			version.BuildTime,
		)
		os.Exit(0)
	}

	overrides := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		overrides[f.Name] = true
	})

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			fmt.Fprintf(os.Stderr, "responder: load env file %s: %v\n", envFile, err)
			os.Exit(1)
		}
	} else {
		// Best effort; running without a .env is the normal case.
		_ = godotenv.Load()
	}

	cfg := config.Load()

	if overrides["ops-addr"] {
		cfg.Ops.Addr = strings.TrimSpace(opsAddr)
	}
	if overrides["ops-rate-rps"] {
		cfg.Ops.RateRPS = opsRateRPS
	}
	if overrides["ops-rate-burst"] {
		cfg.Ops.RateBurst = opsRateBurst
	}
	if overrides["twitch-channel"] {
		cfg.Twitch.Channel = strings.TrimSpace(twChannel)
	}
	if overrides["twitch-nick"] {
		cfg.Twitch.Nick = strings.TrimSpace(twNick)
	}
	if overrides["twitch-token"] {
		cfg.Twitch.Token = strings.TrimSpace(twToken)
	}
	if overrides["twitch-token-file"] {
		cfg.Twitch.TokenFile = strings.TrimSpace(twTokenFile)
	}
	if overrides["twitch-client-id"] {
		cfg.Twitch.ClientID = strings.TrimSpace(twClientID)
	}
	if overrides["twitch-client-secret"] {
		cfg.Twitch.ClientSecret = strings.TrimSpace(twSecret)
	}
	if overrides["twitch-refresh-token-file"] {
		cfg.Twitch.RefreshTokenFile = strings.TrimSpace(twRefreshFile)
	}
	if overrides["x-username"] {
		cfg.X.Username = strings.TrimSpace(strings.TrimPrefix(xUsername, "@"))
	}
	if overrides["x-since-id"] {
		cfg.X.SinceID = strings.TrimSpace(xSinceID)
	}
	if overrides["cost-control"] {
		cfg.Triage.CostControl = costControl
	}
	if overrides["log-level"] {
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(logLevel))
	}
	if overrides["log-format"] {
		cfg.Log.Format = strings.ToLower(strings.TrimSpace(logFormat))
	}

	logger := buildLogger(cfg.Log)
	slog.SetDefault(logger)

	for _, legacy := range []struct{ used, replacement string }{
		{cfg.Twitch.LegacyChannelEnv, "CHATMINDER_TWITCH_CHANNEL"},
		{cfg.Twitch.LegacyTokenEnv, "CHATMINDER_TWITCH_TOKEN"},
		{cfg.Twitch.LegacyClientIDEnv, "CHATMINDER_TWITCH_CLIENT_ID"},
	} {
		if legacy.used != "" {
			logger.Warn("responder: legacy environment variable in use",
				"var", legacy.used, "replacement", legacy.replacement)
		}
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("responder: invalid configuration", "err", err)
		os.Exit(1)
	}

	logger.Info("responder: starting",
		"version", version.Version,
		"commit", version.Commit,
		"config_summary", cfg.Summary(),
	)

	build := httpapi.BuildInfo{Version: version.Version, Revision: version.Commit}
	if version.BuildTime != "" && version.BuildTime != "unknown" {
		if t, err := time.Parse(time.RFC3339, version.BuildTime); err == nil {
			build.BuiltAt = t
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("responder: received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	a, err := app.New(ctx, app.Options{
		Config: cfg,
		Build:  build,
		Log:    logger,
	})
	if err != nil {
		logger.Error("responder: assembly failed", "err", err)
		os.Exit(1)
	}

	if err := a.Run(ctx); err != nil {
		logger.Error("responder: exited", "err", err)
		os.Exit(1)
	}
	logger.Info("responder: shutdown complete")
}

func buildLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
