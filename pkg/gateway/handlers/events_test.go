package handlers

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/attune-ai/attune/pkg/core/session"
	"github.com/attune-ai/attune/pkg/core/types"
	"github.com/attune-ai/attune/pkg/gateway/live"
	"github.com/attune-ai/attune/pkg/gateway/live/sessions"
)

// streamLines feeds the response body to a channel line by line so tests
// can wait on stream content with a timeout.
func streamLines(t *testing.T, body io.Reader) <-chan string {
	t.Helper()
	lines := make(chan string, 64)
	go func() {
		scanner := bufio.NewScanner(body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()
	return lines
}

func expectLine(t *testing.T, lines <-chan string, want string) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatalf("stream closed before %q arrived", want)
			}
			if strings.Contains(line, want) {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestEventsStreamMirrorsFrames(t *testing.T) {
	fx := newGatewayFixture(t)
	rec := fx.startSession(t, "Margaret", live.ModeDevice)
	defer func() {
		rec.End(types.EndManualCompletion)
		rec.WaitForEnd(context.Background(), 3*time.Second)
	}()

	srv := httptest.NewServer(fx.mux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/sessions/" + rec.ID + "/events")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}

	lines := streamLines(t, resp.Body)
	expectLine(t, lines, "event: session_started")
	expectLine(t, lines, "event: orchestration_complete")

	waitUntil(t, 3*time.Second, "session active", func() bool {
		return rec.Status() == sessions.StatusActive
	})
	fx.lastVoice().push(&session.ChannelEvent{AgentTranscript: "How did you sleep?", TurnComplete: true})
	expectLine(t, lines, "event: agent_transcript")
	expectLine(t, lines, "How did you sleep?")
	expectLine(t, lines, "event: turn_complete")

	// Keepalives keep flowing between frames.
	expectLine(t, lines, ": ping")
}

func TestEventsStreamEndedSession(t *testing.T) {
	fx := newGatewayFixture(t)
	rec := fx.startSession(t, "Walter", live.ModeDevice)
	rec.End(types.EndManualCompletion)
	if _, ok := rec.WaitForEnd(context.Background(), 3*time.Second); !ok {
		t.Fatalf("session did not end")
	}
	waitUntil(t, 3*time.Second, "hub teardown", func() bool {
		_, ok := fx.launcher.Hub(rec.ID)
		return !ok
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/"+rec.ID+"/events", nil)
	fx.mux().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "event: session_ended") {
		t.Fatalf("body missing session_ended event: %q", body)
	}
	if !strings.Contains(body, `"reason":"manual_completion"`) {
		t.Fatalf("body missing end reason: %q", body)
	}
}

func TestEventsUnknownSession(t *testing.T) {
	fx := newGatewayFixture(t)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/s_missing/events", nil)
	fx.mux().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
	if !strings.Contains(rr.Body.String(), "not_found_error") {
		t.Fatalf("body = %q, want a not_found_error payload", rr.Body.String())
	}
}
