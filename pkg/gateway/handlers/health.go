package handlers

import (
	"net/http"

	"github.com/attune-ai/attune/pkg/gateway/config"
	"github.com/attune-ai/attune/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK            bool     `json:"ok"`
		AuthMode      string   `json:"auth_mode"`
		Draining      bool     `json:"draining"`
		DrainingForMS int64    `json:"draining_for_ms,omitempty"`
		StoreEnabled  bool     `json:"store_enabled"`
		Issues        []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	switch h.Config.AuthMode {
	case config.AuthModeRequired, config.AuthModeOptional, config.AuthModeDisabled:
	default:
		issues = append(issues, "invalid auth_mode")
	}
	if h.Config.AuthMode == config.AuthModeRequired && len(h.Config.APIKeys) == 0 {
		issues = append(issues, "auth_mode=required but no api keys configured")
	}
	if h.Config.GeminiAPIKey == "" {
		issues = append(issues, "GEMINI_API_KEY is not set")
	}
	if h.Config.MaxBodyBytes <= 0 {
		issues = append(issues, "max_body_bytes must be > 0")
	}
	if h.Config.SessionMaxDuration <= 0 {
		issues = append(issues, "session max duration must be > 0")
	}
	if h.Config.AnalysisInterval <= 0 || h.Config.ContextInjectInterval <= 0 {
		issues = append(issues, "analysis intervals must be > 0")
	}
	if h.Config.WaitTimeoutCap <= 0 {
		issues = append(issues, "wait timeout cap must be > 0")
	}
	if h.Config.LiveMaxAudioFrameBytes <= 0 || h.Config.LiveMaxJSONMessageBytes <= 0 {
		issues = append(issues, "live frame limits must be > 0")
	}
	if h.Config.LiveWSPingInterval <= 0 || h.Config.LiveWSWriteTimeout <= 0 {
		issues = append(issues, "live ws intervals must be > 0")
	}
	if h.Config.SSEPingInterval <= 0 {
		issues = append(issues, "sse ping interval must be > 0")
	}
	if h.Config.ReadHeaderTimeout <= 0 || h.Config.ReadTimeout <= 0 {
		issues = append(issues, "timeouts must be > 0")
	}

	draining := h.Lifecycle != nil && h.Lifecycle.IsDraining()

	ok := len(issues) == 0 && !draining
	status := http.StatusOK
	switch {
	case draining:
		status = http.StatusServiceUnavailable
	case !ok:
		status = http.StatusInternalServerError
	}

	writeJSON(w, status, readyResp{
		OK:            ok,
		AuthMode:      string(h.Config.AuthMode),
		Draining:      draining,
		DrainingForMS: h.Lifecycle.DrainingFor().Milliseconds(),
		StoreEnabled:  h.Config.DatabaseURL != "",
		Issues:        issues,
	})
}
