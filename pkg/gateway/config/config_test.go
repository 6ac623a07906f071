package config

import (
	"strings"
	"testing"
	"time"
)

var gatewayEnvKeys = []string{
	"ATTUNE_ADDR",
	"ATTUNE_AUTH_MODE",
	"ATTUNE_API_KEYS",
	"ATTUNE_TRUST_PROXY_HEADERS",
	"ATTUNE_CORS_ORIGINS",
	"ATTUNE_MAX_BODY_BYTES",
	"ATTUNE_GEMINI_BASE_URL",
	"ATTUNE_LIVE_MODEL",
	"ATTUNE_AGENT_MODEL",
	"ATTUNE_VOICE",
	"ATTUNE_DATABASE_URL",
	"ATTUNE_SESSION_MAX_DURATION",
	"ATTUNE_ANALYSIS_INTERVAL",
	"ATTUNE_CONTEXT_INJECT_INTERVAL",
	"ATTUNE_WAIT_TIMEOUT_CAP",
	"ATTUNE_LIVE_MAX_AUDIO_FRAME_BYTES",
	"ATTUNE_LIVE_MAX_JSON_MESSAGE_BYTES",
	"ATTUNE_LIVE_WS_PING_INTERVAL",
	"ATTUNE_LIVE_WS_WRITE_TIMEOUT",
	"ATTUNE_RATE_LIMIT_RPS",
	"ATTUNE_RATE_LIMIT_BURST",
	"ATTUNE_MAX_CONCURRENT_SESSIONS",
	"ATTUNE_READ_HEADER_TIMEOUT",
	"ATTUNE_READ_TIMEOUT",
	"ATTUNE_SHUTDOWN_GRACE_PERIOD",
	"GEMINI_API_KEY",
	"TICKETMASTER_API_KEY",
	"DATABASE_URL",
}

func clearGatewayEnv(t *testing.T) {
	t.Helper()
	for _, key := range gatewayEnvKeys {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnvDefaults(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != ":8080" {
		t.Fatalf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.AuthMode != AuthModeDisabled {
		t.Fatalf("AuthMode = %q, want %q", cfg.AuthMode, AuthModeDisabled)
	}
	if cfg.MaxBodyBytes != 1<<20 {
		t.Fatalf("MaxBodyBytes = %d, want %d", cfg.MaxBodyBytes, int64(1<<20))
	}
	if cfg.TrustProxyHeaders {
		t.Fatalf("TrustProxyHeaders = true, want false")
	}
	if cfg.GeminiAPIKey != "test-key" {
		t.Fatalf("GeminiAPIKey = %q", cfg.GeminiAPIKey)
	}
	if cfg.LiveModel != "gemini-2.0-flash-exp" {
		t.Fatalf("LiveModel = %q", cfg.LiveModel)
	}
	if cfg.AgentModel != "gemini-2.0-flash-exp" {
		t.Fatalf("AgentModel = %q", cfg.AgentModel)
	}
	if cfg.Voice != "Zephyr" {
		t.Fatalf("Voice = %q, want Zephyr", cfg.Voice)
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("DatabaseURL = %q, want empty", cfg.DatabaseURL)
	}
	if cfg.SessionMaxDuration != time.Hour {
		t.Fatalf("SessionMaxDuration = %v, want 1h", cfg.SessionMaxDuration)
	}
	if cfg.AnalysisInterval != 30*time.Second {
		t.Fatalf("AnalysisInterval = %v, want 30s", cfg.AnalysisInterval)
	}
	if cfg.ContextInjectInterval != 45*time.Second {
		t.Fatalf("ContextInjectInterval = %v, want 45s", cfg.ContextInjectInterval)
	}
	if cfg.WaitTimeoutCap != time.Hour {
		t.Fatalf("WaitTimeoutCap = %v, want 1h", cfg.WaitTimeoutCap)
	}
	if cfg.LiveMaxAudioFrameBytes != 8192 {
		t.Fatalf("LiveMaxAudioFrameBytes = %d, want 8192", cfg.LiveMaxAudioFrameBytes)
	}
	if cfg.LiveMaxJSONMessageBytes != 64*1024 {
		t.Fatalf("LiveMaxJSONMessageBytes = %d, want 65536", cfg.LiveMaxJSONMessageBytes)
	}
	if cfg.LiveWSPingInterval != 20*time.Second {
		t.Fatalf("LiveWSPingInterval = %v, want 20s", cfg.LiveWSPingInterval)
	}
	if cfg.LiveWSWriteTimeout != 5*time.Second {
		t.Fatalf("LiveWSWriteTimeout = %v, want 5s", cfg.LiveWSWriteTimeout)
	}
	if cfg.SSEPingInterval != 15*time.Second {
		t.Fatalf("SSEPingInterval = %v, want 15s", cfg.SSEPingInterval)
	}
	if cfg.LimitRPS != 2.0 || cfg.LimitBurst != 4 {
		t.Fatalf("rate limit defaults = %v/%d", cfg.LimitRPS, cfg.LimitBurst)
	}
	if cfg.MaxConcurrentSessions != 32 {
		t.Fatalf("MaxConcurrentSessions = %d, want 32", cfg.MaxConcurrentSessions)
	}
	if cfg.ReadHeaderTimeout != 10*time.Second {
		t.Fatalf("ReadHeaderTimeout = %v, want 10s", cfg.ReadHeaderTimeout)
	}
	if cfg.ReadTimeout != 30*time.Second {
		t.Fatalf("ReadTimeout = %v, want 30s", cfg.ReadTimeout)
	}
	if cfg.ShutdownGracePeriod != 30*time.Second {
		t.Fatalf("ShutdownGracePeriod = %v, want 30s", cfg.ShutdownGracePeriod)
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("ATTUNE_ADDR", ":9090")
	t.Setenv("ATTUNE_AUTH_MODE", "optional")
	t.Setenv("ATTUNE_API_KEYS", "k1,k2")
	t.Setenv("ATTUNE_TRUST_PROXY_HEADERS", "true")
	t.Setenv("ATTUNE_CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("ATTUNE_MAX_BODY_BYTES", "12345")
	t.Setenv("ATTUNE_GEMINI_BASE_URL", "https://gemini.internal")
	t.Setenv("ATTUNE_LIVE_MODEL", "gemini-live-x")
	t.Setenv("ATTUNE_AGENT_MODEL", "gemini-agent-y")
	t.Setenv("ATTUNE_VOICE", "Puck")
	t.Setenv("ATTUNE_DATABASE_URL", "postgres://localhost/attune")
	t.Setenv("TICKETMASTER_API_KEY", "tm-key")
	t.Setenv("ATTUNE_SESSION_MAX_DURATION", "45m")
	t.Setenv("ATTUNE_ANALYSIS_INTERVAL", "12s")
	t.Setenv("ATTUNE_CONTEXT_INJECT_INTERVAL", "33s")
	t.Setenv("ATTUNE_WAIT_TIMEOUT_CAP", "10m")
	t.Setenv("ATTUNE_LIVE_MAX_AUDIO_FRAME_BYTES", "1234")
	t.Setenv("ATTUNE_LIVE_MAX_JSON_MESSAGE_BYTES", "77777")
	t.Setenv("ATTUNE_LIVE_WS_PING_INTERVAL", "9s")
	t.Setenv("ATTUNE_LIVE_WS_WRITE_TIMEOUT", "3s")
	t.Setenv("ATTUNE_RATE_LIMIT_RPS", "3.5")
	t.Setenv("ATTUNE_RATE_LIMIT_BURST", "8")
	t.Setenv("ATTUNE_MAX_CONCURRENT_SESSIONS", "44")
	t.Setenv("ATTUNE_READ_HEADER_TIMEOUT", "12s")
	t.Setenv("ATTUNE_READ_TIMEOUT", "33s")
	t.Setenv("ATTUNE_SHUTDOWN_GRACE_PERIOD", "31s")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != ":9090" || cfg.AuthMode != AuthModeOptional {
		t.Fatalf("Addr/AuthMode = %q/%q", cfg.Addr, cfg.AuthMode)
	}
	if cfg.MaxBodyBytes != 12345 {
		t.Fatalf("MaxBodyBytes = %d", cfg.MaxBodyBytes)
	}
	if cfg.GeminiBaseURL != "https://gemini.internal" {
		t.Fatalf("GeminiBaseURL = %q", cfg.GeminiBaseURL)
	}
	if cfg.LiveModel != "gemini-live-x" || cfg.AgentModel != "gemini-agent-y" {
		t.Fatalf("models = %q/%q", cfg.LiveModel, cfg.AgentModel)
	}
	if cfg.Voice != "Puck" {
		t.Fatalf("Voice = %q", cfg.Voice)
	}
	if cfg.DatabaseURL != "postgres://localhost/attune" {
		t.Fatalf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.TicketmasterAPIKey != "tm-key" {
		t.Fatalf("TicketmasterAPIKey = %q", cfg.TicketmasterAPIKey)
	}
	if cfg.SessionMaxDuration != 45*time.Minute {
		t.Fatalf("SessionMaxDuration = %v", cfg.SessionMaxDuration)
	}
	if cfg.AnalysisInterval != 12*time.Second || cfg.ContextInjectInterval != 33*time.Second {
		t.Fatalf("analysis intervals = %v/%v", cfg.AnalysisInterval, cfg.ContextInjectInterval)
	}
	if cfg.WaitTimeoutCap != 10*time.Minute {
		t.Fatalf("WaitTimeoutCap = %v", cfg.WaitTimeoutCap)
	}
	if cfg.LiveMaxAudioFrameBytes != 1234 || cfg.LiveMaxJSONMessageBytes != 77777 {
		t.Fatalf("live size limits = %d/%d", cfg.LiveMaxAudioFrameBytes, cfg.LiveMaxJSONMessageBytes)
	}
	if cfg.LiveWSPingInterval != 9*time.Second || cfg.LiveWSWriteTimeout != 3*time.Second {
		t.Fatalf("live ws timeouts = %v/%v", cfg.LiveWSPingInterval, cfg.LiveWSWriteTimeout)
	}
	if cfg.LimitRPS != 3.5 || cfg.LimitBurst != 8 || cfg.MaxConcurrentSessions != 44 {
		t.Fatalf("limits = %v/%d/%d", cfg.LimitRPS, cfg.LimitBurst, cfg.MaxConcurrentSessions)
	}
	if cfg.ReadHeaderTimeout != 12*time.Second || cfg.ReadTimeout != 33*time.Second {
		t.Fatalf("server timeouts = %v/%v", cfg.ReadHeaderTimeout, cfg.ReadTimeout)
	}
	if cfg.ShutdownGracePeriod != 31*time.Second {
		t.Fatalf("ShutdownGracePeriod = %v", cfg.ShutdownGracePeriod)
	}
	if len(cfg.APIKeys) != 2 {
		t.Fatalf("APIKeys len = %d, want 2", len(cfg.APIKeys))
	}
	if _, ok := cfg.APIKeys["k1"]; !ok {
		t.Fatalf("expected API key k1")
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("CORSAllowedOrigins len = %d, want 2", len(cfg.CORSAllowedOrigins))
	}
	if !cfg.TrustProxyHeaders {
		t.Fatalf("TrustProxyHeaders = false, want true")
	}
}

func TestLoadFromEnvFallsBackToDatabaseURL(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("DATABASE_URL", "postgres://fallback/db")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.DatabaseURL != "postgres://fallback/db" {
		t.Fatalf("DatabaseURL = %q, want fallback", cfg.DatabaseURL)
	}
}

func TestLoadFromEnvRequiresGeminiKey(t *testing.T) {
	clearGatewayEnv(t)

	_, err := LoadFromEnv()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "GEMINI_API_KEY") {
		t.Fatalf("error = %v, expected GEMINI_API_KEY in message", err)
	}
}

func TestLoadFromEnvRequiredAuthNeedsAPIKeys(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("ATTUNE_AUTH_MODE", "required")

	_, err := LoadFromEnv()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "ATTUNE_API_KEYS") {
		t.Fatalf("error = %v, expected ATTUNE_API_KEYS in message", err)
	}
}

func TestLoadFromEnvParsesCSV(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("ATTUNE_CORS_ORIGINS", "https://one.example, https://two.example,,")
	t.Setenv("ATTUNE_API_KEYS", "a, b,,")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("CORSAllowedOrigins len = %d, want 2", len(cfg.CORSAllowedOrigins))
	}
	if _, ok := cfg.CORSAllowedOrigins["https://two.example"]; !ok {
		t.Fatalf("missing https://two.example")
	}
	if len(cfg.APIKeys) != 2 {
		t.Fatalf("APIKeys len = %d, want 2", len(cfg.APIKeys))
	}
}

func TestLoadFromEnvInvalidBounds(t *testing.T) {
	cases := []struct {
		name      string
		env       map[string]string
		errSubstr string
	}{
		{
			name:      "invalid auth mode",
			env:       map[string]string{"ATTUNE_AUTH_MODE": "sometimes"},
			errSubstr: "ATTUNE_AUTH_MODE",
		},
		{
			name:      "invalid session max duration",
			env:       map[string]string{"ATTUNE_SESSION_MAX_DURATION": "0s"},
			errSubstr: "ATTUNE_SESSION_MAX_DURATION",
		},
		{
			name:      "invalid analysis interval",
			env:       map[string]string{"ATTUNE_ANALYSIS_INTERVAL": "0s"},
			errSubstr: "ATTUNE_ANALYSIS_INTERVAL",
		},
		{
			name:      "invalid inject interval",
			env:       map[string]string{"ATTUNE_CONTEXT_INJECT_INTERVAL": "0s"},
			errSubstr: "ATTUNE_CONTEXT_INJECT_INTERVAL",
		},
		{
			name:      "invalid wait cap",
			env:       map[string]string{"ATTUNE_WAIT_TIMEOUT_CAP": "0s"},
			errSubstr: "ATTUNE_WAIT_TIMEOUT_CAP",
		},
		{
			name:      "invalid audio frame bytes",
			env:       map[string]string{"ATTUNE_LIVE_MAX_AUDIO_FRAME_BYTES": "0"},
			errSubstr: "ATTUNE_LIVE_MAX_AUDIO_FRAME_BYTES",
		},
		{
			name:      "invalid rate limit rps",
			env:       map[string]string{"ATTUNE_RATE_LIMIT_RPS": "-1"},
			errSubstr: "ATTUNE_RATE_LIMIT_RPS",
		},
		{
			name:      "invalid shutdown grace period",
			env:       map[string]string{"ATTUNE_SHUTDOWN_GRACE_PERIOD": "0s"},
			errSubstr: "ATTUNE_SHUTDOWN_GRACE_PERIOD",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearGatewayEnv(t)
			t.Setenv("GEMINI_API_KEY", "test-key")
			for key, value := range tc.env {
				t.Setenv(key, value)
			}
			_, err := LoadFromEnv()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.errSubstr) {
				t.Fatalf("error = %v, expected substring %q", err, tc.errSubstr)
			}
		})
	}
}
