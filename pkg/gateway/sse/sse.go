// Package sse writes Server-Sent Events streams. The gateway uses it to
// mirror a session's live frames to plain-HTTP observers.
package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
)

// Writer serializes SSE frames onto one HTTP response. Events carry
// increasing ids so a reconnecting client can tell where the previous
// stream stopped.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mu     sync.Mutex
	nextID uint64
}

// New prepares w for an event stream and returns the frame writer. It fails
// when the connection cannot flush incrementally.
func New(w http.ResponseWriter) (*Writer, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	return &Writer{w: w, flusher: f}, nil
}

// Send writes one named event with a JSON payload. Pass json.RawMessage to
// forward bytes that are already encoded.
func (sw *Writer) Send(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.nextID++
	var frame bytes.Buffer
	frame.WriteString("id: ")
	frame.WriteString(strconv.FormatUint(sw.nextID, 10))
	frame.WriteString("\nevent: ")
	frame.WriteString(event)
	frame.WriteString("\ndata: ")
	frame.Write(payload)
	frame.WriteString("\n\n")

	if _, err := sw.w.Write(frame.Bytes()); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}

// Comment writes a comment line. Used as a keepalive so idle streams are
// not reaped by proxies.
func (sw *Writer) Comment(text string) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if _, err := fmt.Fprintf(sw.w, ": %s\n\n", text); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}
