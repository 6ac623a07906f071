package sse

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type noFlushWriter struct {
	header http.Header
}

func (w *noFlushWriter) Header() http.Header {
	if w.header == nil {
		w.header = http.Header{}
	}
	return w.header
}

func (w *noFlushWriter) Write(b []byte) (int, error) { return len(b), nil }
func (w *noFlushWriter) WriteHeader(int)             {}

func TestNew_RequiresFlusher(t *testing.T) {
	t.Parallel()
	if _, err := New(&noFlushWriter{}); err == nil {
		t.Fatalf("expected error for a non-flushing writer")
	}
}

func TestNew_SetsStreamHeaders(t *testing.T) {
	t.Parallel()
	rr := httptest.NewRecorder()
	if _, err := New(rr); err != nil {
		t.Fatalf("New: %v", err)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}
	if cc := rr.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Fatalf("Cache-Control = %q, want no-cache", cc)
	}
}

func TestSend_FramesAndIncrementsIDs(t *testing.T) {
	t.Parallel()
	rr := httptest.NewRecorder()
	sw, err := New(rr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := sw.Send("mood_update", map[string]string{"trend": "improving"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := sw.Send("turn_complete", json.RawMessage(`{"type":"turn_complete"}`)); err != nil {
		t.Fatalf("Send raw: %v", err)
	}

	body := rr.Body.String()
	if !strings.Contains(body, "id: 1\nevent: mood_update\ndata: {\"trend\":\"improving\"}\n\n") {
		t.Fatalf("first frame malformed: %q", body)
	}
	if !strings.Contains(body, "id: 2\nevent: turn_complete\ndata: {\"type\":\"turn_complete\"}\n\n") {
		t.Fatalf("second frame malformed: %q", body)
	}
	if !rr.Flushed {
		t.Fatalf("expected Send to flush")
	}
}

func TestSend_RejectsUnencodableData(t *testing.T) {
	t.Parallel()
	rr := httptest.NewRecorder()
	sw, err := New(rr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := sw.Send("bad", func() {}); err == nil {
		t.Fatalf("expected marshal error")
	}
	if rr.Body.Len() != 0 {
		t.Fatalf("no bytes should be written on marshal failure, got %q", rr.Body.String())
	}
}

func TestComment_Keepalive(t *testing.T) {
	t.Parallel()
	rr := httptest.NewRecorder()
	sw, err := New(rr)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := sw.Comment("ping"); err != nil {
		t.Fatalf("Comment: %v", err)
	}
	if got := rr.Body.String(); got != ": ping\n\n" {
		t.Fatalf("comment = %q, want %q", got, ": ping\n\n")
	}
}
