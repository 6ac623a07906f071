package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRouteLabel(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/healthz", "/healthz"},
		{"/readyz", "/readyz"},
		{"/metrics", "/metrics"},
		{"/v1/sessions", "/v1/sessions"},
		{"/v1/sessions/s_abc123", "/v1/sessions/{id}"},
		{"/v1/sessions/s_abc123/end", "/v1/sessions/{id}/end"},
		{"/v1/sessions/s_abc123/wait", "/v1/sessions/{id}/wait"},
		{"/v1/sessions/s_abc123/live", "/v1/sessions/{id}/live"},
		{"/v1/sessions/s_abc123/events", "/v1/sessions/{id}/events"},
		{"/v1/users/margaret/health/daily", "/v1/users/{name}/health/daily"},
		{"/v1/sessions/s_abc123/unknown", "other"},
		{"/v1/users/margaret", "other"},
		{"/", "other"},
		{"/robots.txt", "other"},
	}
	for _, tt := range tests {
		if got := routeLabel(tt.path); got != tt.want {
			t.Errorf("routeLabel(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

type recordedRequest struct {
	route    string
	method   string
	status   int
	duration time.Duration
}

type fakeRecorder struct {
	requests []recordedRequest
}

func (f *fakeRecorder) RecordRequest(route, method string, status int, duration time.Duration) {
	f.requests = append(f.requests, recordedRequest{route, method, status, duration})
}

func TestInstrument_RecordsRouteAndStatus(t *testing.T) {
	rec := &fakeRecorder{}
	h := Instrument(rec, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest("GET", "/v1/sessions/s_42", nil)
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)

	if len(rec.requests) != 1 {
		t.Fatalf("recorded %d requests, want 1", len(rec.requests))
	}
	got := rec.requests[0]
	if got.route != "/v1/sessions/{id}" {
		t.Errorf("route = %q, want %q", got.route, "/v1/sessions/{id}")
	}
	if got.method != "GET" {
		t.Errorf("method = %q, want GET", got.method)
	}
	if got.status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", got.status)
	}
	if got.duration < 0 {
		t.Errorf("duration = %v, want >= 0", got.duration)
	}
}

func TestInstrument_DefaultsToOK(t *testing.T) {
	rec := &fakeRecorder{}
	h := Instrument(rec, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/healthz", nil))

	if len(rec.requests) != 1 || rec.requests[0].status != 200 {
		t.Fatalf("requests = %+v, want one 200 entry", rec.requests)
	}
}

func TestInstrument_NilRecorderPassesThrough(t *testing.T) {
	called := false
	h := Instrument(nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/healthz", nil))
	if !called {
		t.Fatal("next handler not called")
	}
}
