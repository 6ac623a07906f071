package live

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestBridgeCarriesMicAudio(t *testing.T) {
	b := NewBridge(NewWriter(&fakeConn{}, WriterConfig{}, nil), nil)
	defer b.Close()

	pcm := []byte{1, 2, 3, 4}
	b.PushAudio(pcm)

	got, err := b.ReadChunk(context.Background())
	if err != nil {
		t.Fatalf("ReadChunk: %v", err)
	}
	if !bytes.Equal(got, pcm) {
		t.Errorf("chunk = %v, want %v", got, pcm)
	}
}

func TestBridgeGateDropsAudio(t *testing.T) {
	b := NewBridge(NewWriter(&fakeConn{}, WriterConfig{}, nil), nil)
	defer b.Close()

	b.SetAccepting(false)
	b.PushAudio([]byte{1})
	b.SetAccepting(true)
	b.PushAudio([]byte{2})

	got, err := b.ReadChunk(context.Background())
	if err != nil {
		t.Fatalf("ReadChunk: %v", err)
	}
	if !bytes.Equal(got, []byte{2}) {
		t.Errorf("chunk = %v, want the post-gate frame", got)
	}
}

func TestBridgeReadRespectsContext(t *testing.T) {
	b := NewBridge(NewWriter(&fakeConn{}, WriterConfig{}, nil), nil)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := b.ReadChunk(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("ReadChunk error = %v, want deadline exceeded", err)
	}
}

func TestBridgeClosedBehavior(t *testing.T) {
	b := NewBridge(NewWriter(&fakeConn{}, WriterConfig{}, nil), nil)
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if _, err := b.ReadChunk(context.Background()); !errors.Is(err, ErrBridgeClosed) {
		t.Errorf("ReadChunk after close = %v, want ErrBridgeClosed", err)
	}
	if err := b.WriteChunk(context.Background(), []byte{1}); !errors.Is(err, ErrBridgeClosed) {
		t.Errorf("WriteChunk after close = %v, want ErrBridgeClosed", err)
	}
	// Pushing into a closed bridge must not panic or block.
	b.PushAudio([]byte{9})
}

func TestBridgeWriteChunkEncodesAudioFrame(t *testing.T) {
	conn := &fakeConn{}
	w := NewWriter(conn, WriterConfig{PingInterval: time.Hour}, nil)
	b := NewBridge(w, nil)
	defer b.Close()

	pcm := []byte{0x10, 0x20, 0x30}
	if err := b.WriteChunk(context.Background(), pcm); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	waitUntil(t, time.Second, "frame written", func() bool { return len(conn.sent()) == 1 })
	cancel()

	var frame struct {
		Type    string `json:"type"`
		DataB64 string `json:"data"`
	}
	if err := json.Unmarshal(conn.sent()[0], &frame); err != nil {
		t.Fatalf("decoding frame: %v", err)
	}
	if frame.Type != "audio" {
		t.Errorf("frame type = %q, want audio", frame.Type)
	}
	data, err := base64.StdEncoding.DecodeString(frame.DataB64)
	if err != nil {
		t.Fatalf("decoding audio payload: %v", err)
	}
	if !bytes.Equal(data, pcm) {
		t.Errorf("audio payload = %v, want %v", data, pcm)
	}
}

func TestBridgeShedsOutboundWhenWriterFull(t *testing.T) {
	w := NewWriter(&fakeConn{}, WriterConfig{NormalDepth: 1, PingInterval: time.Hour}, nil)
	b := NewBridge(w, nil)
	defer b.Close()

	if err := b.WriteChunk(context.Background(), []byte{1}); err != nil {
		t.Fatalf("first WriteChunk: %v", err)
	}
	// The lane is full; the second chunk is shed, not an error.
	if err := b.WriteChunk(context.Background(), []byte{2}); err != nil {
		t.Fatalf("second WriteChunk: %v", err)
	}
	if got := b.outDropped.Load(); got != 1 {
		t.Errorf("outbound drops = %d, want 1", got)
	}
}
