package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("scrape status = %d, want 200", rec.Code)
	}
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read scrape body: %v", err)
	}
	return string(body)
}

func TestNew_DefaultNamespace(t *testing.T) {
	m := New("")
	m.RecordRequest("/v1/sessions", "POST", 201, 10*time.Millisecond)

	body := scrape(t, m)
	if !strings.Contains(body, "attune_requests_total") {
		t.Fatalf("scrape missing attune_requests_total:\n%s", body)
	}
}

func TestRecordRequest(t *testing.T) {
	m := New("test")
	m.RecordRequest("/v1/sessions", "POST", 201, 25*time.Millisecond)
	m.RecordRequest("/v1/sessions", "POST", 201, 40*time.Millisecond)
	m.RecordRequest("/healthz", "GET", 200, time.Millisecond)

	body := scrape(t, m)
	want := `test_requests_total{method="POST",route="/v1/sessions",status="201"} 2`
	if !strings.Contains(body, want) {
		t.Fatalf("scrape missing %q:\n%s", want, body)
	}
	if !strings.Contains(body, `test_request_duration_seconds_count{method="GET",route="/healthz"} 1`) {
		t.Fatalf("scrape missing /healthz duration sample:\n%s", body)
	}
}

func TestSessionLifecycle(t *testing.T) {
	m := New("test")

	m.SessionStarted()
	m.SessionStarted()
	body := scrape(t, m)
	if !strings.Contains(body, "test_sessions_active 2") {
		t.Fatalf("active gauge after two starts:\n%s", body)
	}

	m.SessionEnded("ai_initiated", 90*time.Second)
	body = scrape(t, m)
	if !strings.Contains(body, "test_sessions_active 1") {
		t.Fatalf("active gauge after one end:\n%s", body)
	}
	if !strings.Contains(body, `test_sessions_total{reason="ai_initiated"} 1`) {
		t.Fatalf("sessions_total by reason:\n%s", body)
	}
	if !strings.Contains(body, "test_session_duration_seconds_count 1") {
		t.Fatalf("session duration sample:\n%s", body)
	}
}

func TestAnalysisRecorded(t *testing.T) {
	m := New("test")
	m.AnalysisRecorded("none")
	m.AnalysisRecorded("none")
	m.AnalysisRecorded("high")

	body := scrape(t, m)
	if !strings.Contains(body, `test_analyses_total{urgency="none"} 2`) {
		t.Fatalf("analyses_total none:\n%s", body)
	}
	if !strings.Contains(body, `test_analyses_total{urgency="high"} 1`) {
		t.Fatalf("analyses_total high:\n%s", body)
	}
}
