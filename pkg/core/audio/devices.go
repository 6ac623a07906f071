// Package audio drives the local microphone and speaker for command-line
// voice sessions. Capture runs at the model's 16kHz input rate, playback at
// its 24kHz output rate, both mono signed 16-bit.
package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/gen2brain/malgo"

	"github.com/attune-ai/attune/pkg/core/session"
)

const channels = 1

// Devices implements session.AudioDuplexer on top of the host's default
// capture and playback devices.
type Devices struct {
	logger *slog.Logger

	malgoCtx *malgo.AllocatedContext
	mic      *malgo.Device

	mu     sync.Mutex
	inBuf  []byte
	closed bool
	notify chan struct{}

	otoCtx  *oto.Context
	speaker *speaker

	closeOnce sync.Once
}

var _ session.AudioDuplexer = (*Devices)(nil)

func NewDevices(logger *slog.Logger) *Devices {
	if logger == nil {
		logger = slog.Default()
	}
	return &Devices{
		logger: logger.With("component", "audio"),
		notify: make(chan struct{}, 1),
	}
}

// OpenInput initializes the capture device and starts filling the read
// buffer.
func (d *Devices) OpenInput() error {
	ctxConfig := malgo.ContextConfig{}
	ctxConfig.ThreadPriority = malgo.ThreadPriorityRealtime
	malgoCtx, err := malgo.InitContext(nil, ctxConfig, nil)
	if err != nil {
		return fmt.Errorf("audio: initializing capture context: %w", err)
	}
	d.malgoCtx = malgoCtx

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = channels
	deviceConfig.SampleRate = session.InputSampleRate
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, samples []byte, _ uint32) {
			d.mu.Lock()
			d.inBuf = append(d.inBuf, samples...)
			d.mu.Unlock()
			select {
			case d.notify <- struct{}{}:
			default:
			}
		},
	}
	mic, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("audio: initializing microphone: %w", err)
	}
	if err := mic.Start(); err != nil {
		mic.Uninit()
		return fmt.Errorf("audio: starting microphone: %w", err)
	}
	d.mic = mic
	d.logger.Debug("microphone started", "sample_rate", session.InputSampleRate)
	return nil
}

// OpenOutput initializes the playback side. The player itself starts
// lazily on the first WriteChunk.
func (d *Devices) OpenOutput() error {
	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   session.OutputSampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   100 * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("audio: initializing speaker: %w", err)
	}
	<-ready
	d.otoCtx = otoCtx
	d.speaker = newSpeaker(otoCtx)
	d.logger.Debug("speaker ready", "sample_rate", session.OutputSampleRate)
	return nil
}

// ReadChunk blocks until a full chunk of microphone audio is buffered.
func (d *Devices) ReadChunk(ctx context.Context) ([]byte, error) {
	for {
		d.mu.Lock()
		if len(d.inBuf) >= session.ChunkBytes {
			chunk := make([]byte, session.ChunkBytes)
			copy(chunk, d.inBuf)
			d.inBuf = d.inBuf[session.ChunkBytes:]
			d.mu.Unlock()
			return chunk, nil
		}
		closed := d.closed
		d.mu.Unlock()
		if closed {
			return nil, errors.New("audio: input closed")
		}
		select {
		case <-d.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (d *Devices) WriteChunk(_ context.Context, pcm []byte) error {
	if d.speaker == nil {
		return errors.New("audio: output not open")
	}
	d.speaker.write(pcm)
	return nil
}

// Close stops capture and playback. Safe to call more than once.
func (d *Devices) Close() error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		select {
		case d.notify <- struct{}{}:
		default:
		}
		if d.mic != nil {
			d.mic.Stop()
			d.mic.Uninit()
		}
		if d.speaker != nil {
			d.speaker.close()
		}
		if d.malgoCtx != nil {
			d.malgoCtx.Uninit()
		}
	})
	return nil
}

// speaker buffers model audio and feeds it to an oto player on demand.
type speaker struct {
	otoCtx *oto.Context

	mu      sync.Mutex
	cond    *sync.Cond
	buf     []byte
	player  *oto.Player
	playing bool
	closed  bool
}

func newSpeaker(ctx *oto.Context) *speaker {
	s := &speaker{
		otoCtx: ctx,
		buf:    make([]byte, 0, session.OutputSampleRate*4),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *speaker) write(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.buf = append(s.buf, data...)
	if !s.playing {
		s.playing = true
		s.player = s.otoCtx.NewPlayer(s)
		s.player.Play()
	}
	s.cond.Signal()
}

// Read feeds the oto player. After close it returns silence so the device
// drains without clicks.
func (s *speaker) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.buf) == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.closed && len(s.buf) == 0 {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

func (s *speaker) close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	player := s.player
	s.player = nil
	s.mu.Unlock()
	if player != nil {
		player.Close()
	}
}
