package mw

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/attune-ai/attune/pkg/gateway/config"
	"github.com/attune-ai/attune/pkg/gateway/ratelimit"
)

func TestRateLimit_Burst429IncludesRetryAfter(t *testing.T) {
	lim := ratelimit.New(ratelimit.Config{
		RPS:   1,
		Burst: 1,
	})

	h := RateLimit(config.Config{}, lim, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	{
		req := httptest.NewRequest(http.MethodPost, "/v1/sessions", nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("first request status=%d body=%q", rr.Code, rr.Body.String())
		}
	}

	{
		req := httptest.NewRequest(http.MethodPost, "/v1/sessions", nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusTooManyRequests {
			t.Fatalf("second request status=%d body=%q", rr.Code, rr.Body.String())
		}
		if got := rr.Header().Get("Retry-After"); got == "" {
			t.Fatalf("expected Retry-After header")
		}
		if body := rr.Body.String(); body == "" || !strings.Contains(body, `"type":"rate_limit_error"`) {
			t.Fatalf("unexpected body: %q", body)
		}
	}
}

func TestRateLimit_ResolverKeysBucketsIndependently(t *testing.T) {
	lim := ratelimit.New(ratelimit.Config{
		RPS:   1,
		Burst: 1,
	})

	h := RateLimit(config.Config{}, lim, func(r *http.Request) string {
		return r.Header.Get("X-Test-Principal")
	}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(principal string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/sessions", nil)
		req.Header.Set("X-Test-Principal", principal)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	if got := send("alpha"); got != http.StatusOK {
		t.Fatalf("alpha first request status=%d", got)
	}
	if got := send("alpha"); got != http.StatusTooManyRequests {
		t.Fatalf("alpha second request status=%d, want 429", got)
	}
	if got := send("beta"); got != http.StatusOK {
		t.Fatalf("beta should have its own bucket, status=%d", got)
	}
}

func TestRateLimit_HealthPathsExempt(t *testing.T) {
	lim := ratelimit.New(ratelimit.Config{
		RPS:   1,
		Burst: 1,
	})

	h := RateLimit(config.Config{}, lim, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("healthz request %d status=%d", i, rr.Code)
		}
	}
}
