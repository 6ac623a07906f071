package mw

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/attune-ai/attune/pkg/core"
)

const (
	apiVersionHeader    = "X-Attune-Version"
	supportedAPIVersion = "1"
)

// APIVersion rejects /v1 requests that pin an API version this gateway does
// not speak. Requests without the header pass through, as do CORS preflights
// and WebSocket upgrades (browser WebSocket clients cannot set headers).
func APIVersion(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if versionExempt(r) {
			next.ServeHTTP(w, r)
			return
		}
		if bad, ok := firstUnsupportedVersion(r.Header.Values(apiVersionHeader)); ok {
			reqID, _ := RequestIDFrom(r.Context())
			writeJSONError(w, http.StatusBadRequest, &core.Error{
				Type:      core.ErrInvalidRequest,
				Message:   fmt.Sprintf("unsupported API version %q", bad),
				Code:      "unsupported_version",
				RequestID: reqID,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func versionExempt(r *http.Request) bool {
	if r.Method == http.MethodOptions {
		return true
	}
	if connectionHasUpgrade(r.Header) && strings.EqualFold(strings.TrimSpace(r.Header.Get("Upgrade")), "websocket") {
		return true
	}
	return r.URL.Path != "/v1" && !strings.HasPrefix(r.URL.Path, "/v1/")
}

func connectionHasUpgrade(h http.Header) bool {
	for _, value := range h.Values("Connection") {
		for _, token := range strings.Split(value, ",") {
			if strings.EqualFold(strings.TrimSpace(token), "upgrade") {
				return true
			}
		}
	}
	return false
}

// firstUnsupportedVersion scans comma-separated header values and returns the
// first version token that is not the supported one. Empty tokens are skipped
// so "1, 1" and " 1 " both pass.
func firstUnsupportedVersion(values []string) (string, bool) {
	for _, value := range values {
		for _, token := range strings.Split(value, ",") {
			version := strings.TrimSpace(token)
			if version == "" || version == supportedAPIVersion {
				continue
			}
			return version, true
		}
	}
	return "", false
}
