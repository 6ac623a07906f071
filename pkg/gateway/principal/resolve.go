// Package principal maps a request to the identity the rate limiter and the
// session caps key on: the caller's API key when authenticated, the client
// IP otherwise.
package principal

import (
	"net/http"
	"net/netip"
	"strings"

	"github.com/attune-ai/attune/pkg/gateway/config"
	"github.com/attune-ai/attune/pkg/gateway/mw"
	"github.com/attune-ai/attune/pkg/gateway/ratelimit"
)

type Kind string

const (
	KindAPIKey Kind = "api_key"
	KindIP     Kind = "ip"
	KindAnon   Kind = "anonymous"
)

type Resolved struct {
	Kind Kind
	// Raw is the raw resolved identifier (API key or IP). It must not be logged.
	Raw string
	// Key is a hashed identifier suitable for in-memory maps.
	Key string
}

// proxyIPHeaders are consulted in order when the gateway sits behind a
// trusted proxy. X-Forwarded-For may carry a chain; the left-most entry is
// the client.
var proxyIPHeaders = []string{"CF-Connecting-IP", "X-Real-IP", "X-Forwarded-For"}

func Resolve(r *http.Request, cfg config.Config) Resolved {
	if r == nil {
		return Resolved{Kind: KindAnon, Key: "anonymous"}
	}

	if p, ok := mw.PrincipalFrom(r.Context()); ok && strings.TrimSpace(p.APIKey) != "" {
		return Resolved{
			Kind: KindAPIKey,
			Raw:  p.APIKey,
			Key:  ratelimit.PrincipalKeyFromAPIKey(p.APIKey),
		}
	}

	ip := clientIP(r, cfg.TrustProxyHeaders)
	if ip == "" {
		return Resolved{Kind: KindAnon, Key: "anonymous"}
	}
	return Resolved{
		Kind: KindIP,
		Raw:  ip,
		Key:  ratelimit.PrincipalKeyFromIP(ip),
	}
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		for _, name := range proxyIPHeaders {
			raw := r.Header.Get(name)
			if name == "X-Forwarded-For" {
				raw, _, _ = strings.Cut(raw, ",")
			}
			if ip := canonicalIP(raw); ip != "" {
				return ip
			}
		}
	}
	return canonicalIP(r.RemoteAddr)
}

// canonicalIP parses s as a bare IP or an "ip:port" pair and returns the
// canonical address text, or "" when s holds neither.
func canonicalIP(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap.Addr().String()
	}
	if addr, err := netip.ParseAddr(s); err == nil {
		return addr.String()
	}
	return ""
}
