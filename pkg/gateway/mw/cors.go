package mw

import (
	"net/http"
	"strings"

	"github.com/attune-ai/attune/pkg/gateway/config"
)

var corsAllowedMethods = "GET, POST, OPTIONS"

var corsAllowedHeaders = strings.Join([]string{
	"Authorization",
	"Content-Type",
	"X-Request-ID",
	"X-Attune-Version",
	"Last-Event-ID",
}, ", ")

var corsExposedHeaders = strings.Join([]string{
	"X-Request-ID",
}, ", ")

// CORS enforces the configured origin allowlist. With an empty allowlist the
// middleware attaches nothing and browsers reject cross-origin reads, which
// is the right default for a gateway that mostly serves native clients.
func CORS(cfg config.Config, next http.Handler) http.Handler {
	allowed := cfg.CORSAllowedOrigins
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))

		if isPreflight(r) {
			servePreflight(w, allowed, origin)
			return
		}

		if originAllowed(allowed, origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Vary", "Origin")
			h.Set("Access-Control-Expose-Headers", corsExposedHeaders)
		}
		next.ServeHTTP(w, r)
	})
}

func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions && strings.TrimSpace(r.Header.Get("Access-Control-Request-Method")) != ""
}

// servePreflight answers an OPTIONS probe without invoking the rest of the
// chain. Denials are explicit 403s so browser callers see deterministic
// failures instead of missing-header ambiguity.
func servePreflight(w http.ResponseWriter, allowed map[string]struct{}, origin string) {
	if !originAllowed(allowed, origin) {
		http.Error(w, "cors preflight not allowed", http.StatusForbidden)
		return
	}
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Vary", "Origin")
	h.Set("Access-Control-Allow-Methods", corsAllowedMethods)
	h.Set("Access-Control-Allow-Headers", corsAllowedHeaders)
	h.Set("Access-Control-Max-Age", "600")
	w.WriteHeader(http.StatusNoContent)
}

func originAllowed(allowed map[string]struct{}, origin string) bool {
	if origin == "" || len(allowed) == 0 {
		return false
	}
	_, ok := allowed[origin]
	return ok
}
