package handlers

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/attune-ai/attune/pkg/core/agents"
	"github.com/attune-ai/attune/pkg/core/providers/gemini"
	"github.com/attune-ai/attune/pkg/core/session"
	"github.com/attune-ai/attune/pkg/core/types"
	"github.com/attune-ai/attune/pkg/gateway/config"
	"github.com/attune-ai/attune/pkg/gateway/lifecycle"
	"github.com/attune-ai/attune/pkg/gateway/live"
	"github.com/attune-ai/attune/pkg/gateway/live/sessions"
	"github.com/attune-ai/attune/pkg/gateway/ratelimit"
	"github.com/attune-ai/attune/pkg/store"
)

func testConfig() config.Config {
	return config.Config{
		AuthMode:                config.AuthModeDisabled,
		GeminiAPIKey:            "k-test",
		MaxBodyBytes:            1 << 20,
		SessionMaxDuration:      time.Hour,
		AnalysisInterval:        time.Hour,
		ContextInjectInterval:   time.Hour,
		WaitTimeoutCap:          time.Hour,
		LiveMaxAudioFrameBytes:  8192,
		LiveMaxJSONMessageBytes: 64 * 1024,
		LiveWSPingInterval:      time.Hour,
		LiveWSWriteTimeout:      5 * time.Second,
		SSEPingInterval:         50 * time.Millisecond,
		ReadHeaderTimeout:       10 * time.Second,
		ReadTimeout:             30 * time.Second,
	}
}

type fakeVoice struct {
	mu    sync.Mutex
	audio [][]byte
	turns []string

	events    chan *session.ChannelEvent
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeVoice() *fakeVoice {
	return &fakeVoice{
		events: make(chan *session.ChannelEvent, 32),
		closed: make(chan struct{}),
	}
}

func (f *fakeVoice) push(ev *session.ChannelEvent) { f.events <- ev }

func (f *fakeVoice) SendAudio(_ context.Context, pcm []byte) error {
	select {
	case <-f.closed:
		return session.ErrChannelClosed
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, append([]byte(nil), pcm...))
	return nil
}

func (f *fakeVoice) SendTurn(_ context.Context, text string) error {
	select {
	case <-f.closed:
		return session.ErrChannelClosed
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append(f.turns, text)
	return nil
}

func (f *fakeVoice) RespondTool(context.Context, session.ToolCall, map[string]any) error {
	return nil
}

func (f *fakeVoice) Receive(ctx context.Context) (*session.ChannelEvent, error) {
	select {
	case ev := <-f.events:
		return ev, nil
	case <-f.closed:
		return nil, session.ErrChannelClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeVoice) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeVoice) audioCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.audio)
}

type fakeAudio struct {
	input chan []byte
}

func newFakeAudio() *fakeAudio {
	return &fakeAudio{input: make(chan []byte, 64)}
}

func (f *fakeAudio) OpenInput() error  { return nil }
func (f *fakeAudio) OpenOutput() error { return nil }

func (f *fakeAudio) ReadChunk(ctx context.Context) ([]byte, error) {
	select {
	case chunk := <-f.input:
		return chunk, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeAudio) WriteChunk(context.Context, []byte) error { return nil }

func (f *fakeAudio) Close() error { return nil }

type stubSentiment struct{}

func (stubSentiment) Analyze(context.Context, types.UserContext) agents.SentimentResult {
	return agents.SentimentResult{MoodScore: 6, MoodAnalysis: "steady"}
}

type stubSocial struct{}

func (stubSocial) Analyze(context.Context, types.UserContext) agents.SocialResult {
	return agents.SocialResult{Suggestion: "Join the morning walking group."}
}

type stubHealth struct{}

func (stubHealth) Analyze(context.Context, types.UserContext) agents.HealthResult {
	return agents.HealthResult{HealthScore: 70, HealthSuggestion: "Keep the streak going."}
}

// gatewayFixture assembles a launcher over fakes plus the registry and
// config the handlers need. Each session gets its own voice channel and
// device duplexer.
type gatewayFixture struct {
	cfg       config.Config
	registry  *sessions.Registry
	launcher  *live.Launcher
	limiter   *ratelimit.Limiter
	lifecycle *lifecycle.Lifecycle

	mu     sync.Mutex
	voices []*fakeVoice
	audios []*fakeAudio
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	fx := &gatewayFixture{
		cfg:       testConfig(),
		registry:  sessions.NewRegistry(),
		lifecycle: &lifecycle.Lifecycle{},
	}
	l, err := live.NewLauncher(live.Config{AnalysisInterval: time.Hour, ContextInterval: time.Hour}, live.Dependencies{
		Registry:  fx.registry,
		Store:     store.Unconfigured{},
		Sentiment: stubSentiment{},
		Social:    stubSocial{},
		Health:    stubHealth{},
		Connect: func(context.Context, gemini.LiveConfig) (session.LiveChannel, error) {
			v := newFakeVoice()
			fx.mu.Lock()
			fx.voices = append(fx.voices, v)
			fx.mu.Unlock()
			return v, nil
		},
		NewDeviceAudio: func() session.AudioDuplexer {
			a := newFakeAudio()
			fx.mu.Lock()
			fx.audios = append(fx.audios, a)
			fx.mu.Unlock()
			return a
		},
	})
	if err != nil {
		t.Fatalf("NewLauncher: %v", err)
	}
	fx.launcher = l
	return fx
}

func (fx *gatewayFixture) lastVoice() *fakeVoice {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	if len(fx.voices) == 0 {
		return nil
	}
	return fx.voices[len(fx.voices)-1]
}

// mux mirrors the server's route table without the middleware onion, so
// handler behavior is exercised in isolation.
func (fx *gatewayFixture) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("POST /v1/sessions", StartSessionHandler{
		Config:    fx.cfg,
		Launcher:  fx.launcher,
		Limiter:   fx.limiter,
		Lifecycle: fx.lifecycle,
	})
	mux.Handle("GET /v1/sessions/{id}", SessionStatusHandler{Registry: fx.registry})
	mux.Handle("POST /v1/sessions/{id}/end", EndSessionHandler{Registry: fx.registry})
	mux.Handle("GET /v1/sessions/{id}/wait", WaitSessionHandler{Config: fx.cfg, Registry: fx.registry})
	mux.Handle("GET /v1/sessions/{id}/live", LiveHandler{
		Config:    fx.cfg,
		Launcher:  fx.launcher,
		Registry:  fx.registry,
		Lifecycle: fx.lifecycle,
	})
	mux.Handle("GET /v1/sessions/{id}/events", EventsHandler{
		Config:   fx.cfg,
		Launcher: fx.launcher,
		Registry: fx.registry,
	})
	return mux
}

// startSession launches a session directly on the launcher, bypassing the
// HTTP layer, for tests that focus on the read side.
func (fx *gatewayFixture) startSession(t *testing.T, name string, mode live.Mode) *sessions.Record {
	t.Helper()
	rec, err := fx.launcher.Start(types.UserContext{Name: name}, mode)
	if err != nil {
		t.Fatalf("Start(%s): %v", mode, err)
	}
	return rec
}

func waitUntil(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
