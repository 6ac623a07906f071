package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/attune-ai/attune/pkg/core"
	"github.com/attune-ai/attune/pkg/core/types"
	"github.com/attune-ai/attune/pkg/gateway/config"
	"github.com/attune-ai/attune/pkg/gateway/lifecycle"
	"github.com/attune-ai/attune/pkg/gateway/live"
	"github.com/attune-ai/attune/pkg/gateway/live/sessions"
	"github.com/attune-ai/attune/pkg/gateway/mw"
	"github.com/attune-ai/attune/pkg/gateway/ratelimit"
)

// StartSessionHandler handles POST /v1/sessions: it runs the pre-session
// agent orchestration and starts the voice session.
type StartSessionHandler struct {
	Config    config.Config
	Logger    *slog.Logger
	Launcher  *live.Launcher
	Limiter   *ratelimit.Limiter
	Lifecycle *lifecycle.Lifecycle

	// Principal keys the concurrent-session cap. Wired by the server to the
	// same resolution the rate-limit middleware uses.
	Principal func(*http.Request) string
}

type startSessionRequest struct {
	Name                string               `json:"name"`
	Mood                string               `json:"mood"`
	Health              types.HealthSnapshot `json:"health"`
	ConversationSummary string               `json:"conversation_summary"`
	Goals               string               `json:"goals"`
	AudioMode           string               `json:"audio_mode"`
}

type startSessionResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	AudioMode string `json:"audio_mode"`
}

func (h StartSessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())

	if h.Lifecycle != nil && h.Lifecycle.IsDraining() {
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrOverloaded, Message: "gateway is draining", Code: "draining", RequestID: reqID}, 529)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.Config.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestError("failed to read request body"), http.StatusBadRequest)
		return
	}
	var req startSessionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestError("invalid json body"), http.StatusBadRequest)
		return
	}
	mode, err := live.ParseMode(req.AudioMode)
	if err != nil {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestError(`audio_mode must be "device" or "stream"`), http.StatusBadRequest)
		return
	}

	// One concurrent-session slot per principal, held until the session ends.
	var permit *ratelimit.Permit
	if h.Limiter != nil {
		dec := h.Limiter.AcquireSession(h.principalKey(r), time.Now())
		if !dec.Allowed {
			coreErr := core.NewRateLimitError("too many active sessions", dec.RetryAfter)
			coreErr.Code = "concurrent_sessions_exhausted"
			writeCoreErrorJSON(w, reqID, coreErr, http.StatusTooManyRequests)
			return
		}
		permit = dec.Permit
	}

	rec, err := h.Launcher.Start(types.UserContext{
		Name:                strings.TrimSpace(req.Name),
		Mood:                req.Mood,
		Health:              req.Health,
		ConversationSummary: req.ConversationSummary,
		Goals:               req.Goals,
	}, mode)
	if err != nil {
		permit.Release()
		writeError(w, r, err)
		return
	}
	if permit != nil {
		go func() {
			<-rec.Done()
			permit.Release()
		}()
	}

	if h.Logger != nil {
		h.Logger.Info("session started", "session_id", rec.ID, "user", rec.UserName, "audio_mode", string(mode), "request_id", reqID)
	}
	writeJSON(w, http.StatusCreated, startSessionResponse{
		SessionID: rec.ID,
		Status:    string(rec.Status()),
		AudioMode: string(mode),
	})
}

func (h StartSessionHandler) principalKey(r *http.Request) string {
	if h.Principal != nil {
		if key := strings.TrimSpace(h.Principal(r)); key != "" {
			return key
		}
	}
	return "anonymous"
}

type sessionStatusResponse struct {
	SessionID       string  `json:"session_id"`
	Status          string  `json:"status"`
	Ended           bool    `json:"ended"`
	Reason          string  `json:"reason,omitempty"`
	Error           string  `json:"error,omitempty"`
	StartedAt       string  `json:"started_at"`
	DurationSeconds float64 `json:"duration_seconds"`
}

func statusResponseFrom(snap sessions.Snapshot) sessionStatusResponse {
	return sessionStatusResponse{
		SessionID:       snap.ID,
		Status:          string(snap.Status),
		Ended:           snap.Ended,
		Reason:          string(snap.Reason),
		Error:           snap.Error,
		StartedAt:       snap.StartedAt.UTC().Format(time.RFC3339),
		DurationSeconds: snap.Duration.Seconds(),
	}
}

// SessionStatusHandler handles GET /v1/sessions/{id}.
type SessionStatusHandler struct {
	Registry *sessions.Registry
}

func (h SessionStatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	rec, ok := h.Registry.Lookup(r.PathValue("id"))
	if !ok {
		writeCoreErrorJSON(w, reqID, core.NewNotFoundError("session not found"), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, statusResponseFrom(rec.Snapshot()))
}

// EndSessionHandler handles POST /v1/sessions/{id}/end: manual completion.
type EndSessionHandler struct {
	Logger   *slog.Logger
	Registry *sessions.Registry
}

func (h EndSessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	rec, ok := h.Registry.Lookup(r.PathValue("id"))
	if !ok {
		writeCoreErrorJSON(w, reqID, core.NewNotFoundError("session not found"), http.StatusNotFound)
		return
	}
	rec.End(types.EndManualCompletion)
	if h.Logger != nil {
		h.Logger.Info("session end requested", "session_id", rec.ID, "request_id", reqID)
	}
	writeJSON(w, http.StatusOK, statusResponseFrom(rec.Snapshot()))
}

// WaitSessionHandler handles GET /v1/sessions/{id}/wait: a bounded long
// poll for session completion.
type WaitSessionHandler struct {
	Config   config.Config
	Registry *sessions.Registry
}

type waitSessionResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

func (h WaitSessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	rec, ok := h.Registry.Lookup(r.PathValue("id"))
	if !ok {
		writeCoreErrorJSON(w, reqID, core.NewNotFoundError("session not found"), http.StatusNotFound)
		return
	}
	timeout, err := parseWaitTimeout(r.URL.Query().Get("timeout"), h.Config.WaitTimeoutCap)
	if err != nil {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestError("timeout must be a duration or a number of seconds"), http.StatusBadRequest)
		return
	}

	resp := waitSessionResponse{SessionID: rec.ID, Status: "timeout"}
	if reason, ended := rec.WaitForEnd(r.Context(), timeout); ended {
		resp.Status = "ended"
		resp.Reason = string(reason)
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseWaitTimeout accepts "90s"/"2m" durations or a bare number of seconds.
// Empty falls back to 30s; anything above the cap clamps to it.
func parseWaitTimeout(raw string, limit time.Duration) (time.Duration, error) {
	d := 30 * time.Second
	raw = strings.TrimSpace(raw)
	if raw != "" {
		if secs, err := strconv.ParseFloat(raw, 64); err == nil {
			d = time.Duration(secs * float64(time.Second))
		} else if parsed, perr := time.ParseDuration(raw); perr == nil {
			d = parsed
		} else {
			return 0, perr
		}
	}
	if d <= 0 {
		return 0, errors.New("timeout must be > 0")
	}
	if limit > 0 && d > limit {
		d = limit
	}
	return d, nil
}
