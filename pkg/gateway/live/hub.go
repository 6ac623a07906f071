// Package live bridges running voice sessions to gateway clients. It
// launches one session per start request, fans session events out to any
// number of observers, and in stream mode carries the session's audio over
// the attached WebSocket.
package live

import (
	"log/slog"
	"sync"

	"github.com/attune-ai/attune/pkg/gateway/live/protocol"
)

// Frame is one encoded server frame ready to write to an observer.
type Frame struct {
	Type    string
	Payload []byte
}

// Subscriber receives a session's frames. Reading too slowly loses frames
// rather than stalling the session.
type Subscriber struct {
	ch   chan Frame
	hub  *Hub
	once sync.Once
}

// Frames is the subscriber's delivery channel. It is closed when the
// session's hub shuts down.
func (s *Subscriber) Frames() <-chan Frame { return s.ch }

// Close detaches the subscriber. Safe to call more than once.
func (s *Subscriber) Close() {
	s.once.Do(func() { s.hub.unsubscribe(s) })
}

// Hub broadcasts one session's frames to its observers. Audio never passes
// through the hub; in stream mode it flows through the Bridge directly.
// A bounded backlog of published frames is replayed to late subscribers so
// a client attaching just after session start still sees the lifecycle
// frames it missed.
type Hub struct {
	logger *slog.Logger

	mu      sync.Mutex
	subs    map[*Subscriber]struct{}
	history []Frame
	closed  bool
}

// historyLimit bounds the replay backlog. Frames on the hub are transcripts,
// analysis, and lifecycle markers, all low-rate.
const historyLimit = 64

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		subs:   make(map[*Subscriber]struct{}),
	}
}

// Subscribe attaches an observer with the given delivery buffer. The
// retained backlog is replayed into the buffer first, oldest frames dropped
// if it does not fit. On a hub that has already closed the returned
// subscriber's channel is closed.
func (h *Hub) Subscribe(buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &Subscriber{ch: make(chan Frame, buffer), hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.ch)
		return sub
	}
	replay := h.history
	if len(replay) > buffer {
		replay = replay[len(replay)-buffer:]
	}
	for _, f := range replay {
		sub.ch <- f
	}
	h.subs[sub] = struct{}{}
	return sub
}

// Publish encodes the frame once and delivers it to every subscriber.
// Delivery never blocks; a subscriber with a full buffer misses the frame.
func (h *Hub) Publish(frameType string, frame any) {
	payload, err := protocol.Marshal(frame)
	if err != nil {
		h.logger.Warn("dropping unencodable frame", "type", frameType, "error", err)
		return
	}
	out := Frame{Type: frameType, Payload: payload}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.history = append(h.history, out)
	if len(h.history) > historyLimit {
		h.history = h.history[1:]
	}
	for sub := range h.subs {
		select {
		case sub.ch <- out:
		default:
			h.logger.Debug("observer too slow, dropping frame", "type", frameType)
		}
	}
}

// Close ends the broadcast: every subscriber's channel is closed after the
// frames already queued. Publish and Subscribe become no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		close(sub.ch)
	}
	h.subs = nil
}

func (h *Hub) unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.ch)
	}
}
