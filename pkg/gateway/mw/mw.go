package mw

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/attune-ai/attune/pkg/core"
	"github.com/attune-ai/attune/pkg/gateway/config"
)

type ctxKeyRequestID struct{}

func RequestIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKeyRequestID{}).(string)
	return id, ok && id != ""
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID{}, id)
}

func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = "req_" + randHex(10)
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), id)))
	})
}

// Principal identifies an authenticated caller.
type Principal struct {
	APIKey string
}

type ctxKeyPrincipal struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKeyPrincipal{}, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ctxKeyPrincipal{}).(*Principal)
	return p, ok && p != nil
}

// ParseBearer extracts a bearer token from the Authorization header.
func ParseBearer(r *http.Request) (string, bool) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authz, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}

// requestToken resolves the caller's credential. Browser WebSocket and
// EventSource clients cannot set Authorization, so an access_token query
// parameter is accepted as the equivalent.
func requestToken(r *http.Request) (string, bool) {
	if token, ok := ParseBearer(r); ok {
		return token, true
	}
	token := strings.TrimSpace(r.URL.Query().Get("access_token"))
	return token, token != ""
}

func Auth(cfg config.Config, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID, _ := RequestIDFrom(r.Context())

		switch cfg.AuthMode {
		case config.AuthModeDisabled:
			next.ServeHTTP(w, r)
			return
		case config.AuthModeOptional, config.AuthModeRequired:
		default:
			writeJSONError(w, http.StatusInternalServerError, &core.Error{
				Type:      core.ErrAPI,
				Message:   "invalid auth_mode",
				RequestID: reqID,
			})
			return
		}

		token, ok := requestToken(r)
		if !ok {
			if cfg.AuthMode == config.AuthModeRequired {
				writeJSONError(w, http.StatusUnauthorized, &core.Error{
					Type:      core.ErrAuthentication,
					Message:   "missing bearer token",
					RequestID: reqID,
				})
				return
			}
			next.ServeHTTP(w, r)
			return
		}
		if _, ok := cfg.APIKeys[token]; !ok {
			writeJSONError(w, http.StatusUnauthorized, &core.Error{
				Type:      core.ErrAuthentication,
				Message:   "invalid api key",
				RequestID: reqID,
			})
			return
		}
		p := &Principal{APIKey: token}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

func Recover(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				reqID, _ := RequestIDFrom(r.Context())
				if logger != nil {
					logger.Error("panic", "panic", v, "request_id", reqID, "path", r.URL.Path)
				}
				writeJSONError(w, http.StatusInternalServerError, &core.Error{
					Type:      core.ErrAPI,
					Message:   "internal error",
					RequestID: reqID,
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// wrapStatus records the response status without hiding the optional
// interfaces the underlying writer supports. SSE needs Flusher and the
// websocket upgrade needs Hijacker.
func wrapStatus(w http.ResponseWriter) (http.ResponseWriter, *statusWriter) {
	sw := &statusWriter{ResponseWriter: w, status: 200}
	flusher, canFlush := w.(http.Flusher)
	hijacker, canHijack := w.(http.Hijacker)
	switch {
	case canFlush && canHijack:
		return &flushHijackStatusWriter{statusWriter: sw, flusher: flusher, hijacker: hijacker}, sw
	case canFlush:
		return &flushStatusWriter{statusWriter: sw, flusher: flusher}, sw
	case canHijack:
		return &hijackStatusWriter{statusWriter: sw, hijacker: hijacker}, sw
	default:
		return sw, sw
	}
}

type flushStatusWriter struct {
	*statusWriter
	flusher http.Flusher
}

func (w *flushStatusWriter) Flush() { w.flusher.Flush() }

type hijackStatusWriter struct {
	*statusWriter
	hijacker http.Hijacker
}

func (w *hijackStatusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return w.hijacker.Hijack()
}

type flushHijackStatusWriter struct {
	*statusWriter
	flusher  http.Flusher
	hijacker http.Hijacker
}

func (w *flushHijackStatusWriter) Flush() { w.flusher.Flush() }

func (w *flushHijackStatusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return w.hijacker.Hijack()
}

func AccessLog(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped, sw := wrapStatus(w)
		next.ServeHTTP(wrapped, r)
		if logger == nil {
			return
		}
		reqID, _ := RequestIDFrom(r.Context())
		logger.Info("request",
			"request_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func randHex(nbytes int) string {
	b := make([]byte, nbytes)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand should not fail in practice; fall back to time-based entropy.
		return hex.EncodeToString([]byte(time.Now().Format("20060102150405.000000000")))
	}
	return hex.EncodeToString(b)
}

type errorEnvelope struct {
	Error *core.Error `json:"error"`
}

func writeJSONError(w http.ResponseWriter, status int, err *core.Error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: err})
}
