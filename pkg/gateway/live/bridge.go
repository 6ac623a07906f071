package live

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/attune-ai/attune/pkg/gateway/live/protocol"
)

// ErrBridgeClosed reports use of a bridge after its socket detached.
var ErrBridgeClosed = errors.New("live: bridge closed")

// Bridge adapts one attached WebSocket into the session's audio surface.
// Inbound microphone frames arrive via PushAudio from the socket's read
// pump; synthesized audio leaves through the socket writer's normal lane.
// Neither direction ever blocks the session: both sides shed frames under
// backpressure, which for live audio beats growing latency.
type Bridge struct {
	writer *Writer
	logger *slog.Logger

	inbound   chan []byte
	accepting atomic.Bool

	inDropped  atomic.Int64
	outDropped atomic.Int64

	closeOnce sync.Once
	closed    chan struct{}
}

func NewBridge(writer *Writer, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{
		writer:  writer,
		logger:  logger,
		inbound: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
	// Clients that never send start_speaking still get heard.
	b.accepting.Store(true)
	return b
}

func (b *Bridge) OpenInput() error  { return nil }
func (b *Bridge) OpenOutput() error { return nil }

// SetAccepting gates inbound audio. The client toggles it with the
// start_speaking and stop_speaking controls.
func (b *Bridge) SetAccepting(on bool) { b.accepting.Store(on) }

// PushAudio hands a decoded microphone frame to the session. Frames pushed
// while the gate is closed, or while the session is not consuming fast
// enough, are dropped.
func (b *Bridge) PushAudio(pcm []byte) {
	if !b.accepting.Load() {
		return
	}
	select {
	case <-b.closed:
	case b.inbound <- pcm:
	default:
		b.inDropped.Add(1)
	}
}

func (b *Bridge) ReadChunk(ctx context.Context) ([]byte, error) {
	select {
	case pcm := <-b.inbound:
		return pcm, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.closed:
		return nil, ErrBridgeClosed
	}
}

func (b *Bridge) WriteChunk(ctx context.Context, pcm []byte) error {
	select {
	case <-b.closed:
		return ErrBridgeClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	payload, err := protocol.Marshal(protocol.Audio(pcm))
	if err != nil {
		return err
	}
	if !b.writer.Send(payload) {
		b.outDropped.Add(1)
	}
	return nil
}

// Close detaches the bridge from the session. The socket itself belongs to
// the handler that accepted it.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() {
		close(b.closed)
		in, out := b.inDropped.Load(), b.outDropped.Load()
		if in > 0 || out > 0 {
			b.logger.Debug("bridge dropped audio under backpressure", "inbound", in, "outbound", out)
		}
	})
	return nil
}
