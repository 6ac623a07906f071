package mw

import (
	"net/http"
	"strconv"
	"time"

	"github.com/attune-ai/attune/pkg/core"
	"github.com/attune-ai/attune/pkg/gateway/config"
	"github.com/attune-ai/attune/pkg/gateway/ratelimit"
)

// RateLimit applies the per-principal token bucket to every request.
// resolve maps a request to its limiter key; when nil, authenticated
// callers are keyed by API key and everyone else shares one bucket.
func RateLimit(cfg config.Config, limiter *ratelimit.Limiter, resolve func(*http.Request) string, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if limitExempt(r) {
			next.ServeHTTP(w, r)
			return
		}

		dec := limiter.AcquireRequest(limiterKey(r, resolve), time.Now())
		if !dec.Allowed {
			writeLimited(w, r, dec.RetryAfter)
			return
		}
		if dec.Permit != nil {
			defer dec.Permit.Release()
		}

		next.ServeHTTP(w, r)
	})
}

// Health and scrape endpoints must remain cheap and reliable, and CORS
// preflights never carry credentials to key a bucket on.
func limitExempt(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/readyz", "/metrics":
		return true
	}
	return r.Method == http.MethodOptions
}

func limiterKey(r *http.Request, resolve func(*http.Request) string) string {
	if resolve != nil {
		return resolve(r)
	}
	if p, ok := PrincipalFrom(r.Context()); ok {
		return ratelimit.PrincipalKeyFromAPIKey(p.APIKey)
	}
	return "anonymous"
}

func writeLimited(w http.ResponseWriter, r *http.Request, retryAfter int) {
	reqID, _ := RequestIDFrom(r.Context())
	apiErr := &core.Error{
		Type:      core.ErrRateLimit,
		Message:   "rate limit exceeded",
		RequestID: reqID,
	}
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		apiErr.RetryAfter = &retryAfter
	}
	writeJSONError(w, http.StatusTooManyRequests, apiErr)
}
