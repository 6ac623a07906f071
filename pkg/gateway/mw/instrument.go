package mw

import (
	"net/http"
	"strings"
	"time"
)

// RequestRecorder receives one entry per completed request.
type RequestRecorder interface {
	RecordRequest(route, method string, status int, duration time.Duration)
}

// Instrument records status and latency for every request. Paths are
// collapsed onto their route patterns so the labels stay low-cardinality.
func Instrument(rec RequestRecorder, next http.Handler) http.Handler {
	if rec == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped, sw := wrapStatus(w)
		next.ServeHTTP(wrapped, r)
		rec.RecordRequest(routeLabel(r.URL.Path), r.Method, sw.status, time.Since(start))
	})
}

// routeLabel maps a request path onto the route pattern that serves it.
// Unknown paths share a single "other" bucket.
func routeLabel(path string) string {
	switch path {
	case "/healthz", "/readyz", "/metrics", "/v1/sessions":
		return path
	}
	seg := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(seg) == 3 && seg[0] == "v1" && seg[1] == "sessions":
		return "/v1/sessions/{id}"
	case len(seg) == 4 && seg[0] == "v1" && seg[1] == "sessions":
		switch seg[3] {
		case "end", "wait", "live", "events":
			return "/v1/sessions/{id}/" + seg[3]
		}
	case len(seg) == 5 && seg[0] == "v1" && seg[1] == "users" && seg[3] == "health" && seg[4] == "daily":
		return "/v1/users/{name}/health/daily"
	}
	return "other"
}
