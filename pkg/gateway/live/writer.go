package live

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the slice of *websocket.Conn the writer needs. Tests substitute
// an in-memory implementation.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
}

type WriterConfig struct {
	PingInterval  time.Duration
	WriteTimeout  time.Duration
	PriorityDepth int
	NormalDepth   int
}

func (c WriterConfig) withDefaults() WriterConfig {
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.PriorityDepth <= 0 {
		c.PriorityDepth = 16
	}
	if c.NormalDepth <= 0 {
		c.NormalDepth = 128
	}
	return c
}

// Writer owns all writes to one observer socket. Lifecycle frames travel on
// the priority lane and preempt the normal stream; audio and transcripts use
// the normal lane and are dropped when the client cannot keep up.
type Writer struct {
	conn   Conn
	cfg    WriterConfig
	logger *slog.Logger

	priority chan []byte
	normal   chan []byte
}

func NewWriter(conn Conn, cfg WriterConfig, logger *slog.Logger) *Writer {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		conn:     conn,
		cfg:      cfg,
		logger:   logger,
		priority: make(chan []byte, cfg.PriorityDepth),
		normal:   make(chan []byte, cfg.NormalDepth),
	}
}

// Send queues a frame on the normal lane. Returns false when the lane is
// full and the frame was dropped.
func (w *Writer) Send(payload []byte) bool {
	select {
	case w.normal <- payload:
		return true
	default:
		return false
	}
}

// SendPriority queues a frame on the priority lane.
func (w *Writer) SendPriority(payload []byte) bool {
	select {
	case w.priority <- payload:
		return true
	default:
		return false
	}
}

// Run pumps queued frames onto the socket until ctx is cancelled or a write
// fails. On cancellation it flushes the priority lane and sends a close
// frame so lifecycle notices still reach the client.
func (w *Writer) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PingInterval)
	defer ticker.Stop()

	for {
		// Priority frames jump the queue.
		select {
		case payload := <-w.priority:
			if err := w.write(payload); err != nil {
				return err
			}
			continue
		default:
		}

		select {
		case <-ctx.Done():
			w.flushPriority()
			deadline := time.Now().Add(w.cfg.WriteTimeout)
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = w.conn.WriteControl(websocket.CloseMessage, msg, deadline)
			return ctx.Err()
		case payload := <-w.priority:
			if err := w.write(payload); err != nil {
				return err
			}
		case payload := <-w.normal:
			if err := w.write(payload); err != nil {
				return err
			}
		case <-ticker.C:
			deadline := time.Now().Add(w.cfg.WriteTimeout)
			if err := w.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return err
			}
		}
	}
}

func (w *Writer) write(payload []byte) error {
	if err := w.conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout)); err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, payload)
}

func (w *Writer) flushPriority() {
	for {
		select {
		case payload := <-w.priority:
			if err := w.write(payload); err != nil {
				return
			}
		default:
			return
		}
	}
}
