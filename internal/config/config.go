package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Twitch  TwitchConfig
	X       XConfig
	Ark     ArkConfig
	Triage  TriageConfig
	Viewers ViewerConfig
	Ops     OpsConfig
	Log     LogConfig
}

type TwitchConfig struct {
	Channel   string
	Nick      string
	Token     string
	TokenFile string
	ClientID  string

	// ClientSecret and RefreshTokenFile enable the oauth refresh grant;
	// both token files are rewritten on each refresh.
	ClientSecret     string
	RefreshTokenFile string

	HelixURL    string
	IRCURL      string
	EventSubURL string
	KeepaliveS  int

	LegacyChannelEnv  string
	LegacyTokenEnv    string
	LegacyClientIDEnv string
}

type XConfig struct {
	Username    string
	BearerToken string
	SinceID     string
	PollSeconds int

	ConsumerKey    string
	ConsumerSecret string
	AccessToken    string
	AccessSecret   string
	PostGapSeconds int

	BaseURL string
}

type ArkConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	Region      string
	Persona     string
	MaxTokens   int
	Temperature float64
	TimeoutSecs int
}

type TriageConfig struct {
	RespondThreshold int
	ImmediateMargin  int
	MaxPerMinute     int
	MinGapSeconds    int
	QueueCap         int
	TopK             int
	SampleChance     float64
	CostControl      bool
	BotName          string
	Keywords         []string
}

type ViewerConfig struct {
	Enabled    bool
	Path       string
	BatchSize  int
	FlushMaxMS int
}

// OpsConfig controls the optional HTTP surface. An empty Addr leaves the
// server off entirely.
type OpsConfig struct {
	Addr      string
	RateRPS   int
	RateBurst int
}

type LogConfig struct {
	Level  string
	Format string
}

const (
	defaultKeepaliveS  = 60
	defaultPollSecs    = 15
	defaultPostGapSecs = 5

	defaultArkTimeoutSecs = 30

	defaultThreshold       = 60
	defaultImmediateMargin = 50
	defaultMaxPerMinute    = 6
	defaultMinGapSecs      = 8
	defaultQueueCap        = 100
	defaultTopK            = 10
	defaultSampleChance    = 0.15

	defaultViewersPath = "viewers.db"
	defaultBatchSize   = 16
	defaultFlushMS     = 2000

	defaultOpsRateRPS   = 20
	defaultOpsRateBurst = 40
)

func Load() Config {
	cfg := Config{}

	cfg.Twitch.Channel = strings.TrimSpace(os.Getenv("CHATMINDER_TWITCH_CHANNEL"))
	if cfg.Twitch.Channel == "" {
		legacy := strings.TrimSpace(os.Getenv("TWITCH_CHANNEL"))
		if legacy != "" {
			cfg.Twitch.LegacyChannelEnv = "TWITCH_CHANNEL"
			cfg.Twitch.Channel = legacy
		}
	}
	cfg.Twitch.Nick = strings.TrimSpace(os.Getenv("CHATMINDER_TWITCH_NICK"))
	if cfg.Twitch.Nick == "" {
		cfg.Twitch.Nick = strings.TrimSpace(os.Getenv("TWITCH_NICK"))
	}
	cfg.Twitch.Token = strings.TrimSpace(os.Getenv("CHATMINDER_TWITCH_TOKEN"))
	if cfg.Twitch.Token == "" {
		cfg.Twitch.Token = strings.TrimSpace(os.Getenv("TWITCH_TOKEN"))
		if cfg.Twitch.Token != "" {
			cfg.Twitch.LegacyTokenEnv = "TWITCH_TOKEN"
		}
	}
	cfg.Twitch.TokenFile = strings.TrimSpace(os.Getenv("CHATMINDER_TWITCH_TOKEN_FILE"))
	if cfg.Twitch.TokenFile == "" {
		cfg.Twitch.TokenFile = strings.TrimSpace(os.Getenv("TWITCH_TOKEN_FILE"))
	}
	cfg.Twitch.ClientID = strings.TrimSpace(os.Getenv("CHATMINDER_TWITCH_CLIENT_ID"))
	if cfg.Twitch.ClientID == "" {
		cfg.Twitch.ClientID = strings.TrimSpace(os.Getenv("TWITCH_CLIENT_ID"))
		if cfg.Twitch.ClientID != "" {
			cfg.Twitch.LegacyClientIDEnv = "TWITCH_CLIENT_ID"
		}
	}
	cfg.Twitch.ClientSecret = strings.TrimSpace(os.Getenv("CHATMINDER_TWITCH_CLIENT_SECRET"))
	if cfg.Twitch.ClientSecret == "" {
		cfg.Twitch.ClientSecret = strings.TrimSpace(os.Getenv("TWITCH_CLIENT_SECRET"))
	}
	cfg.Twitch.RefreshTokenFile = strings.TrimSpace(os.Getenv("CHATMINDER_TWITCH_REFRESH_TOKEN_FILE"))
	if cfg.Twitch.RefreshTokenFile == "" {
		cfg.Twitch.RefreshTokenFile = strings.TrimSpace(os.Getenv("TWITCH_REFRESH_TOKEN_FILE"))
	}
	cfg.Twitch.HelixURL = strings.TrimSpace(os.Getenv("CHATMINDER_TWITCH_HELIX_URL"))
	cfg.Twitch.IRCURL = strings.TrimSpace(os.Getenv("CHATMINDER_TWITCH_IRC_URL"))
	cfg.Twitch.EventSubURL = strings.TrimSpace(os.Getenv("CHATMINDER_TWITCH_EVENTSUB_URL"))
	cfg.Twitch.KeepaliveS = readInt("CHATMINDER_TWITCH_KEEPALIVE_SECS", defaultKeepaliveS)

	cfg.X.Username = strings.TrimSpace(os.Getenv("CHATMINDER_X_USERNAME"))
	if cfg.X.Username == "" {
		cfg.X.Username = strings.TrimSpace(os.Getenv("X_USERNAME"))
	}
	cfg.X.BearerToken = strings.TrimSpace(os.Getenv("CHATMINDER_X_BEARER_TOKEN"))
	if cfg.X.BearerToken == "" {
		cfg.X.BearerToken = strings.TrimSpace(os.Getenv("X_BEARER_TOKEN"))
	}
	cfg.X.SinceID = strings.TrimSpace(os.Getenv("CHATMINDER_X_SINCE_ID"))
	cfg.X.PollSeconds = readInt("CHATMINDER_X_POLL_SECS", defaultPollSecs)
	cfg.X.ConsumerKey = strings.TrimSpace(os.Getenv("CHATMINDER_X_CONSUMER_KEY"))
	cfg.X.ConsumerSecret = strings.TrimSpace(os.Getenv("CHATMINDER_X_CONSUMER_SECRET"))
	cfg.X.AccessToken = strings.TrimSpace(os.Getenv("CHATMINDER_X_ACCESS_TOKEN"))
	cfg.X.AccessSecret = strings.TrimSpace(os.Getenv("CHATMINDER_X_ACCESS_SECRET"))
	cfg.X.PostGapSeconds = readInt("CHATMINDER_X_POST_GAP_SECS", defaultPostGapSecs)
	cfg.X.BaseURL = strings.TrimSpace(os.Getenv("CHATMINDER_X_BASE_URL"))

	cfg.Ark.APIKey = strings.TrimSpace(os.Getenv("CHATMINDER_ARK_API_KEY"))
	if cfg.Ark.APIKey == "" {
		cfg.Ark.APIKey = strings.TrimSpace(os.Getenv("ARK_API_KEY"))
	}
	cfg.Ark.Model = strings.TrimSpace(os.Getenv("CHATMINDER_ARK_MODEL"))
	if cfg.Ark.Model == "" {
		cfg.Ark.Model = strings.TrimSpace(os.Getenv("ARK_MODEL"))
	}
	cfg.Ark.BaseURL = strings.TrimSpace(os.Getenv("CHATMINDER_ARK_BASE_URL"))
	cfg.Ark.Region = strings.TrimSpace(os.Getenv("CHATMINDER_ARK_REGION"))
	cfg.Ark.Persona = strings.TrimSpace(os.Getenv("CHATMINDER_ARK_PERSONA"))
	cfg.Ark.MaxTokens = readInt("CHATMINDER_ARK_MAX_TOKENS", 0)
	cfg.Ark.Temperature = readFloat("CHATMINDER_ARK_TEMPERATURE", 0)
	cfg.Ark.TimeoutSecs = readInt("CHATMINDER_ARK_TIMEOUT_SECS", defaultArkTimeoutSecs)

	cfg.Triage.RespondThreshold = readInt("CHATMINDER_RESPOND_THRESHOLD", defaultThreshold)
	cfg.Triage.ImmediateMargin = readInt("CHATMINDER_IMMEDIATE_MARGIN", defaultImmediateMargin)
	cfg.Triage.MaxPerMinute = readInt("CHATMINDER_MAX_PER_MINUTE", defaultMaxPerMinute)
	cfg.Triage.MinGapSeconds = readInt("CHATMINDER_MIN_GAP_SECS", defaultMinGapSecs)
	cfg.Triage.QueueCap = readInt("CHATMINDER_QUEUE_CAP", defaultQueueCap)
	cfg.Triage.TopK = readInt("CHATMINDER_TOP_K", defaultTopK)
	cfg.Triage.SampleChance = readFloat("CHATMINDER_SAMPLE_CHANCE", defaultSampleChance)
	cfg.Triage.CostControl = readBool("CHATMINDER_COST_CONTROL", true)
	cfg.Triage.BotName = strings.TrimSpace(os.Getenv("CHATMINDER_BOT_NAME"))
	cfg.Triage.Keywords = splitList(os.Getenv("CHATMINDER_KEYWORDS"))

	cfg.Viewers.Enabled = readBool("CHATMINDER_VIEWERS_ENABLED", true)
	cfg.Viewers.Path = strings.TrimSpace(os.Getenv("CHATMINDER_VIEWERS_PATH"))
	if cfg.Viewers.Path == "" {
		cfg.Viewers.Path = defaultViewersPath
	}
	cfg.Viewers.BatchSize = readInt("CHATMINDER_VIEWERS_BATCH_SIZE", defaultBatchSize)
	cfg.Viewers.FlushMaxMS = readInt("CHATMINDER_VIEWERS_FLUSH_MAX_MS", defaultFlushMS)

	cfg.Ops.Addr = strings.TrimSpace(os.Getenv("CHATMINDER_OPS_ADDR"))
	cfg.Ops.RateRPS = readInt("CHATMINDER_OPS_RATE_RPS", defaultOpsRateRPS)
	cfg.Ops.RateBurst = readInt("CHATMINDER_OPS_RATE_BURST", defaultOpsRateBurst)

	cfg.Log.Level = strings.ToLower(strings.TrimSpace(os.Getenv("CHATMINDER_LOG_LEVEL")))
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(os.Getenv("CHATMINDER_LOG_FORMAT")))
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	return cfg
}

// Validate reports configuration that is present but unusable. Absent
// optional sections (X, Ark) are not errors; half-configured ones are.
func (c Config) Validate() error {
	var problems []string

	var missing []string
	if c.Twitch.Channel == "" {
		missing = append(missing, "channel")
	}
	if c.Twitch.Nick == "" {
		missing = append(missing, "nick")
	}
	if c.Twitch.Token == "" && c.Twitch.TokenFile == "" {
		missing = append(missing, "token or token file")
	}
	if c.Twitch.ClientID == "" {
		missing = append(missing, "client id")
	}
	if len(missing) > 0 {
		problems = append(problems, "twitch: missing "+strings.Join(missing, ", "))
	}

	if (c.Twitch.ClientSecret == "") != (c.Twitch.RefreshTokenFile == "") {
		problems = append(problems, "twitch: client secret and refresh token file must be set together")
	}
	if c.Twitch.RefreshConfigured() && c.Twitch.TokenFile == "" {
		problems = append(problems, "twitch: token file is required when refresh credentials are set")
	}

	if (c.X.Username == "") != (c.X.BearerToken == "") {
		problems = append(problems, "x: username and bearer token must be set together")
	}
	postCreds := 0
	for _, v := range []string{c.X.ConsumerKey, c.X.ConsumerSecret, c.X.AccessToken, c.X.AccessSecret} {
		if v != "" {
			postCreds++
		}
	}
	if postCreds > 0 && postCreds < 4 {
		problems = append(problems, "x: posting needs consumer key/secret and access token/secret")
	}
	if c.X.PostingConfigured() && !c.X.PollingConfigured() {
		problems = append(problems, "x: posting credentials set without username and bearer token")
	}

	if (c.Ark.APIKey == "") != (c.Ark.Model == "") {
		problems = append(problems, "ark: api key and model must be set together")
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Configured reports whether the Twitch section carries everything the chat
// adapter needs to dial.
func (c TwitchConfig) Configured() bool {
	return c.Channel != "" && c.Nick != "" && (c.Token != "" || c.TokenFile != "") && c.ClientID != ""
}

// RefreshConfigured reports whether the oauth refresh grant can run.
func (c TwitchConfig) RefreshConfigured() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.RefreshTokenFile != ""
}

func (c TwitchConfig) Keepalive() time.Duration {
	if c.KeepaliveS <= 0 {
		return time.Duration(defaultKeepaliveS) * time.Second
	}
	return time.Duration(c.KeepaliveS) * time.Second
}

// PollingConfigured reports whether the mentions poller can run.
func (c XConfig) PollingConfigured() bool {
	return c.Username != "" && c.BearerToken != ""
}

// PostingConfigured reports whether the OAuth 1.0a user context is complete.
func (c XConfig) PostingConfigured() bool {
	return c.ConsumerKey != "" && c.ConsumerSecret != "" && c.AccessToken != "" && c.AccessSecret != ""
}

func (c XConfig) PollInterval() time.Duration {
	if c.PollSeconds <= 0 {
		return time.Duration(defaultPollSecs) * time.Second
	}
	return time.Duration(c.PollSeconds) * time.Second
}

func (c XConfig) PostGap() time.Duration {
	if c.PostGapSeconds <= 0 {
		return time.Duration(defaultPostGapSecs) * time.Second
	}
	return time.Duration(c.PostGapSeconds) * time.Second
}

func (c ArkConfig) Configured() bool {
	return c.APIKey != "" && c.Model != ""
}

// Timeout bounds a single generation call.
func (c ArkConfig) Timeout() time.Duration {
	if c.TimeoutSecs <= 0 {
		return time.Duration(defaultArkTimeoutSecs) * time.Second
	}
	return time.Duration(c.TimeoutSecs) * time.Second
}

func (c TriageConfig) MinGap() time.Duration {
	if c.MinGapSeconds <= 0 {
		return time.Duration(defaultMinGapSecs) * time.Second
	}
	return time.Duration(c.MinGapSeconds) * time.Second
}

func (c ViewerConfig) FlushInterval() time.Duration {
	if c.FlushMaxMS <= 0 {
		return time.Duration(defaultFlushMS) * time.Millisecond
	}
	return time.Duration(c.FlushMaxMS) * time.Millisecond
}

func (c ViewerConfig) Batch() int {
	if c.BatchSize <= 0 {
		return defaultBatchSize
	}
	return c.BatchSize
}

func splitList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case ',', ';', ' ', '\t', '\n':
			return true
		}
		return false
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return dedupe(out)
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, strings.TrimSpace(v))
	}
	sort.Strings(out)
	return out
}

func readInt(name string, def int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if n <= 0 {
		return def
	}
	return n
}

func readFloat(name string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	if v <= 0 {
		return def
	}
	return v
}

func readBool(name string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func (c Config) Summary() Summary {
	return Summary{
		Twitch: TwitchSummary{
			Configured:  c.Twitch.Configured(),
			Channel:     c.Twitch.Channel,
			Nick:        c.Twitch.Nick,
			Token:       redactString(c.Twitch.Token),
			TokenFile:   c.Twitch.TokenFile,
			ClientID:    redactString(c.Twitch.ClientID),
			Refresh:     c.Twitch.RefreshConfigured(),
			RefreshFile: c.Twitch.RefreshTokenFile,
		},
		X: XSummary{
			Polling:  c.X.PollingConfigured(),
			Posting:  c.X.PostingConfigured(),
			Username: c.X.Username,
			Bearer:   redactString(c.X.BearerToken),
			PollSecs: c.X.PollSeconds,
			SinceID:  c.X.SinceID,
		},
		Ark: ArkSummary{
			Configured: c.Ark.Configured(),
			Model:      c.Ark.Model,
			APIKey:     redactString(c.Ark.APIKey),
			BaseURL:    c.Ark.BaseURL,
		},
		Triage: TriageSummary{
			Threshold:       c.Triage.RespondThreshold,
			ImmediateMargin: c.Triage.ImmediateMargin,
			MaxPerMinute:    c.Triage.MaxPerMinute,
			MinGapSecs:      c.Triage.MinGapSeconds,
			QueueCap:        c.Triage.QueueCap,
			TopK:            c.Triage.TopK,
			SampleChance:    c.Triage.SampleChance,
			CostControl:     c.Triage.CostControl,
			BotName:         c.Triage.BotName,
			Keywords:        len(c.Triage.Keywords),
		},
		Viewers: ViewerSummary{
			Enabled: c.Viewers.Enabled,
			Path:    c.Viewers.Path,
			Batch:   c.Viewers.Batch(),
			FlushMS: c.Viewers.FlushMaxMS,
		},
		Ops: OpsSummary{
			Enabled:   c.Ops.Addr != "",
			Addr:      c.Ops.Addr,
			RateRPS:   c.Ops.RateRPS,
			RateBurst: c.Ops.RateBurst,
		},
		LogLevel:  c.Log.Level,
		LogFormat: c.Log.Format,
	}
}

type Summary struct {
	Twitch    TwitchSummary `json:"twitch"`
	X         XSummary      `json:"x"`
	Ark       ArkSummary    `json:"ark"`
	Triage    TriageSummary `json:"triage"`
	Viewers   ViewerSummary `json:"viewers"`
	Ops       OpsSummary    `json:"ops"`
	LogLevel  string        `json:"log_level"`
	LogFormat string        `json:"log_format"`
}

type TwitchSummary struct {
	Configured  bool   `json:"configured"`
	Channel     string `json:"channel,omitempty"`
	Nick        string `json:"nick,omitempty"`
	Token       string `json:"token,omitempty"`
	TokenFile   string `json:"token_file,omitempty"`
	ClientID    string `json:"client_id,omitempty"`
	Refresh     bool   `json:"refresh"`
	RefreshFile string `json:"refresh_file,omitempty"`
}

type XSummary struct {
	Polling  bool   `json:"polling"`
	Posting  bool   `json:"posting"`
	Username string `json:"username,omitempty"`
	Bearer   string `json:"bearer,omitempty"`
	PollSecs int    `json:"poll_secs"`
	SinceID  string `json:"since_id,omitempty"`
}

type ArkSummary struct {
	Configured bool   `json:"configured"`
	Model      string `json:"model,omitempty"`
	APIKey     string `json:"api_key,omitempty"`
	BaseURL    string `json:"base_url,omitempty"`
}

type TriageSummary struct {
	Threshold       int     `json:"threshold"`
	ImmediateMargin int     `json:"immediate_margin"`
	MaxPerMinute    int     `json:"max_per_minute"`
	MinGapSecs      int     `json:"min_gap_secs"`
	QueueCap        int     `json:"queue_cap"`
	TopK            int     `json:"top_k"`
	SampleChance    float64 `json:"sample_chance"`
	CostControl     bool    `json:"cost_control"`
	BotName         string  `json:"bot_name,omitempty"`
	Keywords        int     `json:"keywords"`
}

type ViewerSummary struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
	Batch   int    `json:"batch"`
	FlushMS int    `json:"flush_ms"`
}

type OpsSummary struct {
	Enabled   bool   `json:"enabled"`
	Addr      string `json:"addr,omitempty"`
	RateRPS   int    `json:"rate_rps"`
	RateBurst int    `json:"rate_burst"`
}

func (c Config) Redacted() map[string]any {
	return map[string]any{
		"twitch": map[string]any{
			"configured":         c.Twitch.Configured(),
			"channel":            c.Twitch.Channel,
			"nick":               c.Twitch.Nick,
			"token":              redactString(c.Twitch.Token),
			"token_file":         c.Twitch.TokenFile,
			"client_id":          redactString(c.Twitch.ClientID),
			"client_secret":      redactString(c.Twitch.ClientSecret),
			"refresh_token_file": c.Twitch.RefreshTokenFile,
			"helix_url":          c.Twitch.HelixURL,
			"irc_url":            c.Twitch.IRCURL,
			"eventsub_url":       c.Twitch.EventSubURL,
			"keepalive_s":        c.Twitch.KeepaliveS,
		},
		"x": map[string]any{
			"polling":         c.X.PollingConfigured(),
			"posting":         c.X.PostingConfigured(),
			"username":        c.X.Username,
			"bearer":          redactString(c.X.BearerToken),
			"since_id":        c.X.SinceID,
			"poll_secs":       c.X.PollSeconds,
			"consumer_key":    redactString(c.X.ConsumerKey),
			"consumer_secret": redactString(c.X.ConsumerSecret),
			"access_token":    redactString(c.X.AccessToken),
			"access_secret":   redactString(c.X.AccessSecret),
			"post_gap_secs":   c.X.PostGapSeconds,
		},
		"ark": map[string]any{
			"configured":   c.Ark.Configured(),
			"model":        c.Ark.Model,
			"api_key":      redactString(c.Ark.APIKey),
			"base_url":     c.Ark.BaseURL,
			"region":       c.Ark.Region,
			"max_tokens":   c.Ark.MaxTokens,
			"temperature":  c.Ark.Temperature,
			"timeout_secs": c.Ark.TimeoutSecs,
		},
		"triage": map[string]any{
			"threshold":        c.Triage.RespondThreshold,
			"immediate_margin": c.Triage.ImmediateMargin,
			"max_per_minute":   c.Triage.MaxPerMinute,
			"min_gap_secs":     c.Triage.MinGapSeconds,
			"queue_cap":        c.Triage.QueueCap,
			"top_k":            c.Triage.TopK,
			"sample_chance":    c.Triage.SampleChance,
			"cost_control":     c.Triage.CostControl,
			"bot_name":         c.Triage.BotName,
			"keywords":         append([]string(nil), c.Triage.Keywords...),
		},
		"viewers": map[string]any{
			"enabled":  c.Viewers.Enabled,
			"path":     c.Viewers.Path,
			"batch":    c.Viewers.Batch(),
			"flush_ms": c.Viewers.FlushMaxMS,
		},
		"ops": map[string]any{
			"addr":       c.Ops.Addr,
			"rate_rps":   c.Ops.RateRPS,
			"rate_burst": c.Ops.RateBurst,
		},
		"log": map[string]any{
			"level":  c.Log.Level,
			"format": c.Log.Format,
		},
	}
}

func (c Config) RedactedJSON() []byte {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return data
}

func redactString(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return "***REDACTED*** (len=" + strconv.Itoa(len(value)) + ")"
}

func (c Config) SummaryJSON() []byte {
	summary := struct {
		Config Summary `json:"config_summary"`
	}{Config: c.Summary()}
	data, _ := json.Marshal(summary)
	return data
}
