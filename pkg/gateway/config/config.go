package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

type Config struct {
	Addr string

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	// If true, client identity may be derived from proxy headers like X-Forwarded-For.
	// This should only be enabled when the gateway is deployed behind a trusted proxy/LB.
	TrustProxyHeaders bool

	MaxBodyBytes int64

	// Model access.
	GeminiAPIKey  string
	GeminiBaseURL string // empty => provider default
	LiveModel     string
	AgentModel    string
	Voice         string

	// Postgres DSN. Empty => the gateway runs without persistence and the
	// agents fall back to their built-in defaults.
	DatabaseURL string

	// Ticketmaster Discovery API key for the events sync job. Optional.
	TicketmasterAPIKey string

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Voice session tuning.
	SessionMaxDuration    time.Duration
	AnalysisInterval      time.Duration
	ContextInjectInterval time.Duration
	WaitTimeoutCap        time.Duration

	// Live WebSocket mode (/v1/sessions/{id}/live).
	LiveMaxAudioFrameBytes  int
	LiveMaxJSONMessageBytes int64
	LiveWSPingInterval      time.Duration
	LiveWSWriteTimeout      time.Duration

	// SSE observer stream (/v1/sessions/{id}/events).
	SSEPingInterval time.Duration

	// In-memory limits on session creation (per client).
	LimitRPS              float64
	LimitBurst            int
	MaxConcurrentSessions int

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                    envOr("ATTUNE_ADDR", ":8080"),
		AuthMode:                AuthMode(envOr("ATTUNE_AUTH_MODE", string(AuthModeDisabled))),
		APIKeys:                 make(map[string]struct{}),
		TrustProxyHeaders:       envBoolOr("ATTUNE_TRUST_PROXY_HEADERS", false),
		MaxBodyBytes:            envInt64Or("ATTUNE_MAX_BODY_BYTES", 1<<20), // 1 MiB
		GeminiAPIKey:            envOr("GEMINI_API_KEY", ""),
		GeminiBaseURL:           envOr("ATTUNE_GEMINI_BASE_URL", ""),
		LiveModel:               envOr("ATTUNE_LIVE_MODEL", "gemini-2.0-flash-exp"),
		AgentModel:              envOr("ATTUNE_AGENT_MODEL", "gemini-2.0-flash-exp"),
		Voice:                   envOr("ATTUNE_VOICE", "Zephyr"),
		DatabaseURL:             envOr("ATTUNE_DATABASE_URL", os.Getenv("DATABASE_URL")),
		TicketmasterAPIKey:      envOr("TICKETMASTER_API_KEY", ""),
		CORSAllowedOrigins:      make(map[string]struct{}),
		SessionMaxDuration:      envDurationOr("ATTUNE_SESSION_MAX_DURATION", time.Hour),
		AnalysisInterval:        envDurationOr("ATTUNE_ANALYSIS_INTERVAL", 30*time.Second),
		ContextInjectInterval:   envDurationOr("ATTUNE_CONTEXT_INJECT_INTERVAL", 45*time.Second),
		WaitTimeoutCap:          envDurationOr("ATTUNE_WAIT_TIMEOUT_CAP", time.Hour),
		LiveMaxAudioFrameBytes:  envIntOr("ATTUNE_LIVE_MAX_AUDIO_FRAME_BYTES", 8192),
		LiveMaxJSONMessageBytes: envInt64Or("ATTUNE_LIVE_MAX_JSON_MESSAGE_BYTES", 64*1024),
		LiveWSPingInterval:      envDurationOr("ATTUNE_LIVE_WS_PING_INTERVAL", 20*time.Second),
		LiveWSWriteTimeout:      envDurationOr("ATTUNE_LIVE_WS_WRITE_TIMEOUT", 5*time.Second),
		SSEPingInterval:         envDurationOr("ATTUNE_SSE_PING_INTERVAL", 15*time.Second),
		LimitRPS:                envFloat64Or("ATTUNE_RATE_LIMIT_RPS", 2.0),
		LimitBurst:              envIntOr("ATTUNE_RATE_LIMIT_BURST", 4),
		MaxConcurrentSessions:   envIntOr("ATTUNE_MAX_CONCURRENT_SESSIONS", 32),
		ReadHeaderTimeout:       envDurationOr("ATTUNE_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:             envDurationOr("ATTUNE_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:     envDurationOr("ATTUNE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("ATTUNE_AUTH_MODE must be one of required|optional|disabled")
	}

	for _, key := range splitCSV(os.Getenv("ATTUNE_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}

	for _, origin := range splitCSV(os.Getenv("ATTUNE_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
		return Config{}, fmt.Errorf("GEMINI_API_KEY must be set")
	}
	if strings.TrimSpace(cfg.LiveModel) == "" {
		return Config{}, fmt.Errorf("ATTUNE_LIVE_MODEL must not be empty")
	}
	if strings.TrimSpace(cfg.AgentModel) == "" {
		return Config{}, fmt.Errorf("ATTUNE_AGENT_MODEL must not be empty")
	}
	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("ATTUNE_MAX_BODY_BYTES must be > 0")
	}
	if cfg.SessionMaxDuration <= 0 {
		return Config{}, fmt.Errorf("ATTUNE_SESSION_MAX_DURATION must be > 0")
	}
	if cfg.AnalysisInterval <= 0 {
		return Config{}, fmt.Errorf("ATTUNE_ANALYSIS_INTERVAL must be > 0")
	}
	if cfg.ContextInjectInterval <= 0 {
		return Config{}, fmt.Errorf("ATTUNE_CONTEXT_INJECT_INTERVAL must be > 0")
	}
	if cfg.WaitTimeoutCap <= 0 {
		return Config{}, fmt.Errorf("ATTUNE_WAIT_TIMEOUT_CAP must be > 0")
	}
	if cfg.LiveMaxAudioFrameBytes <= 0 {
		return Config{}, fmt.Errorf("ATTUNE_LIVE_MAX_AUDIO_FRAME_BYTES must be > 0")
	}
	if cfg.LiveMaxJSONMessageBytes <= 0 {
		return Config{}, fmt.Errorf("ATTUNE_LIVE_MAX_JSON_MESSAGE_BYTES must be > 0")
	}
	if cfg.LiveWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("ATTUNE_LIVE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.LiveWSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("ATTUNE_LIVE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.SSEPingInterval <= 0 {
		return Config{}, fmt.Errorf("ATTUNE_SSE_PING_INTERVAL must be > 0")
	}
	if cfg.LimitRPS < 0 {
		return Config{}, fmt.Errorf("ATTUNE_RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.LimitBurst < 0 {
		return Config{}, fmt.Errorf("ATTUNE_RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.MaxConcurrentSessions < 0 {
		return Config{}, fmt.Errorf("ATTUNE_MAX_CONCURRENT_SESSIONS must be >= 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("ATTUNE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("ATTUNE_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("ATTUNE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("ATTUNE_API_KEYS must be set when ATTUNE_AUTH_MODE=required")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
