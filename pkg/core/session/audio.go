package session

import "context"

// Audio format constants. Input is what the live model expects from the
// microphone; output is what it synthesizes.
const (
	InputSampleRate  = 16000
	OutputSampleRate = 24000

	// ChunkFrames is the microphone read granularity.
	ChunkFrames = 512
	// ChunkBytes is ChunkFrames of mono signed 16-bit samples.
	ChunkBytes = ChunkFrames * 2
)

// AudioDuplexer is the bidirectional audio surface a session drives. Local
// device and WebSocket-bridged implementations both satisfy it.
type AudioDuplexer interface {
	OpenInput() error
	OpenOutput() error

	// ReadChunk blocks until a microphone chunk is available or ctx is
	// done. It returns a nil chunk without error while the stream is
	// inactive.
	ReadChunk(ctx context.Context) ([]byte, error)

	// WriteChunk plays one chunk of synthesized audio.
	WriteChunk(ctx context.Context, pcm []byte) error

	// Close releases both streams. It must be safe to call repeatedly.
	Close() error
}
