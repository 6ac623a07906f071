package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/attune-ai/attune/pkg/core"
	"github.com/attune-ai/attune/pkg/core/agents"
	"github.com/attune-ai/attune/pkg/core/coordinator"
	"github.com/attune-ai/attune/pkg/core/providers/gemini"
	"github.com/attune-ai/attune/pkg/core/session"
	"github.com/attune-ai/attune/pkg/core/types"
	"github.com/attune-ai/attune/pkg/gateway/live/protocol"
	"github.com/attune-ai/attune/pkg/gateway/live/sessions"
	"github.com/attune-ai/attune/pkg/store"
)

// Mode selects where a session's audio lives.
type Mode string

const (
	// ModeDevice uses the gateway host's microphone and speaker.
	ModeDevice Mode = "device"
	// ModeStream carries audio over the session's attached WebSocket.
	ModeStream Mode = "stream"
)

// ParseMode maps the audio_mode request field to a Mode. Empty means
// device audio.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", string(ModeDevice):
		return ModeDevice, nil
	case string(ModeStream):
		return ModeStream, nil
	default:
		return "", fmt.Errorf("unknown audio_mode %q", s)
	}
}

var (
	ErrUnknownSession  = errors.New("live: unknown session")
	ErrNotStreamMode   = errors.New("live: session does not accept streamed audio")
	ErrAlreadyAttached = errors.New("live: session already has an audio stream")
)

// Config tunes every session the launcher starts.
type Config struct {
	LiveModel    string
	Voice        string
	SystemPrompt string

	AnalysisInterval time.Duration
	ContextInterval  time.Duration

	// MaxSessionDuration hard-caps a session's lifetime. Default 1h.
	MaxSessionDuration time.Duration

	// AttachTimeout bounds how long a stream-mode session waits for its
	// audio socket before giving up. Default 60s.
	AttachTimeout time.Duration
}

func (c *Config) fillDefaults() {
	if c.SystemPrompt == "" {
		c.SystemPrompt = session.WellnessSystemPrompt
	}
	if c.Voice == "" {
		c.Voice = session.DefaultVoice
	}
	if c.MaxSessionDuration <= 0 {
		c.MaxSessionDuration = time.Hour
	}
	if c.AttachTimeout <= 0 {
		c.AttachTimeout = 60 * time.Second
	}
}

// Stats receives session lifecycle and analysis counts. Implementations
// must be safe for concurrent use.
type Stats interface {
	SessionStarted()
	SessionEnded(reason string, duration time.Duration)
	AnalysisRecorded(urgency string)
}

// Dependencies are the collaborators the launcher assembles sessions from.
// Connect and Registry are required; the audio constructor is only needed
// when device-mode sessions are allowed.
type Dependencies struct {
	Logger   *slog.Logger
	Registry *sessions.Registry
	Store    store.Store

	// Stats is optional; nil disables reporting.
	Stats Stats

	Sentiment agents.SentimentAnalyzer
	Social    agents.SocialAdvisor
	Health    agents.HealthScorer

	// Connect opens the live voice channel for one session.
	Connect func(ctx context.Context, cfg gemini.LiveConfig) (session.LiveChannel, error)

	// NewDeviceAudio builds the host microphone/speaker duplexer. Nil
	// disables device mode.
	NewDeviceAudio func() session.AudioDuplexer
}

// Launcher starts voice sessions and tracks the running ones.
type Launcher struct {
	cfg    Config
	deps   Dependencies
	orch   *agents.Orchestrator
	logger *slog.Logger

	mu      sync.Mutex
	running map[string]*runningSession
}

type runningSession struct {
	rec  *sessions.Record
	hub  *Hub
	mode Mode
	user types.UserContext

	sess     atomic.Pointer[session.Coordinator]
	earlyEnd chan types.EndReason
	attach   chan *Bridge
	attached atomic.Bool
}

// end carries a stop request to the session, or parks it until the session
// exists.
func (rs *runningSession) end(reason types.EndReason) {
	if s := rs.sess.Load(); s != nil {
		s.Shutdown(reason)
		return
	}
	select {
	case rs.earlyEnd <- reason:
	default:
	}
}

func NewLauncher(cfg Config, deps Dependencies) (*Launcher, error) {
	if deps.Registry == nil {
		return nil, errors.New("live: registry is required")
	}
	if deps.Connect == nil {
		return nil, errors.New("live: connect function is required")
	}
	cfg.fillDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Store == nil {
		deps.Store = store.Unconfigured{}
	}
	return &Launcher{
		cfg:     cfg,
		deps:    deps,
		orch:    agents.NewOrchestrator(deps.Sentiment, deps.Social, deps.Health, logger),
		logger:  logger,
		running: make(map[string]*runningSession),
	}, nil
}

// Start registers a session and launches it in the background. The returned
// record is live immediately; the session itself comes up asynchronously.
func (l *Launcher) Start(user types.UserContext, mode Mode) (*sessions.Record, error) {
	if strings.TrimSpace(user.Name) == "" {
		return nil, core.NewInvalidRequestError("name is required")
	}
	switch mode {
	case ModeDevice:
		if l.deps.NewDeviceAudio == nil {
			return nil, core.NewInvalidRequestError("device audio is not available on this gateway")
		}
	case ModeStream:
	default:
		return nil, core.NewInvalidRequestError(fmt.Sprintf("unknown audio_mode %q", mode))
	}

	rs := &runningSession{
		hub:      NewHub(l.logger),
		mode:     mode,
		user:     user,
		earlyEnd: make(chan types.EndReason, 1),
		attach:   make(chan *Bridge, 1),
	}
	rec := l.deps.Registry.Register(user.Name, sessions.Handle{End: rs.end})
	rs.rec = rec

	l.mu.Lock()
	l.running[rec.ID] = rs
	l.mu.Unlock()

	go l.run(rs)
	return rec, nil
}

// Hub returns the event hub for a session still starting or running.
func (l *Launcher) Hub(id string) (*Hub, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rs, ok := l.running[id]
	if !ok {
		return nil, false
	}
	return rs.hub, true
}

// Mode reports the audio mode of a session still starting or running.
func (l *Launcher) Mode(id string) (Mode, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rs, ok := l.running[id]
	if !ok {
		return "", false
	}
	return rs.mode, true
}

// Attach hands a stream-mode session its audio bridge. Only the first
// socket per session is accepted.
func (l *Launcher) Attach(id string, b *Bridge) error {
	l.mu.Lock()
	rs, ok := l.running[id]
	l.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}
	if rs.mode != ModeStream {
		return ErrNotStreamMode
	}
	if !rs.attached.CompareAndSwap(false, true) {
		return ErrAlreadyAttached
	}
	rs.attach <- b
	return nil
}

func (l *Launcher) forget(id string) {
	l.mu.Lock()
	delete(l.running, id)
	l.mu.Unlock()
}

// run drives one session from orchestration to teardown.
func (l *Launcher) run(rs *runningSession) {
	defer l.forget(rs.rec.ID)
	defer rs.hub.Close()

	if l.deps.Stats != nil {
		start := time.Now()
		l.deps.Stats.SessionStarted()
		defer func() {
			reason := string(rs.rec.Reason())
			if reason == "" {
				reason = "error"
			}
			l.deps.Stats.SessionEnded(reason, time.Since(start))
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.MaxSessionDuration)
	defer cancel()

	log := l.logger.With("session_id", rs.rec.ID, "user", rs.user.Name)

	rs.hub.Publish("session_started", protocol.SessionStarted(rs.rec.ID, rs.user.Name))

	l.fillHealth(ctx, &rs.user, log)

	orch := l.orch.Run(ctx, rs.user)
	rs.hub.Publish("orchestration_complete", protocol.OrchestrationComplete(
		orch.Sentiment.MoodAnalysis,
		orch.Health.HealthSuggestion,
		orch.Social.Suggestion,
	))

	dup, ok := l.audioFor(ctx, rs, log)
	if !ok {
		return
	}

	channel, err := l.deps.Connect(ctx, gemini.LiveConfig{
		Model:         l.cfg.LiveModel,
		SystemPrompt:  l.cfg.SystemPrompt,
		Voice:         l.cfg.Voice,
		Tools:         []gemini.Tool{session.EndSessionTool()},
		Transcription: true,
	})
	if err != nil {
		log.Error("live connect failed", "error", err)
		l.fail(rs, "live_connect_failed", err)
		dup.Close()
		return
	}

	coord := coordinator.New(rs.user, coordinator.Config{
		AnalysisInterval: l.cfg.AnalysisInterval,
	}, coordinator.Dependencies{
		Sentiment: l.deps.Sentiment,
		Social:    l.deps.Social,
		Health:    l.deps.Health,
		Logger:    log,
		OnAnalysis: func(r types.LiveAnalysisResult) {
			if l.deps.Stats != nil {
				l.deps.Stats.AnalysisRecorded(string(r.Urgency))
			}
			rs.hub.Publish("live_analysis", protocol.LiveAnalysis(r))
		},
	})

	sess, err := session.New(session.Config{
		InitialContext:  orch.FinalPrompt,
		ContextInterval: l.cfg.ContextInterval,
	}, session.Dependencies{
		Channel:  channel,
		Audio:    dup,
		Analysis: coord,
		Logger:   log,
		OnEnd: func(reason types.EndReason) {
			l.saveConversation(rs, coord, log)
			rs.rec.Complete(reason)
		},
	})
	if err != nil {
		log.Error("session assembly failed", "error", err)
		l.fail(rs, "session_failed", err)
		channel.Close()
		dup.Close()
		return
	}

	rs.sess.Store(sess)
	// An end requested before the session existed applies now.
	select {
	case reason := <-rs.earlyEnd:
		sess.Shutdown(reason)
	default:
	}

	rs.rec.MarkActive()

	stopPump := make(chan struct{})
	pumpDone := make(chan struct{})
	sawEnded := false
	go func() {
		defer close(pumpDone)
		sawEnded = l.pump(rs, sess, stopPump)
	}()

	if err := sess.Run(ctx); err != nil {
		log.Error("session run failed", "error", err)
		rs.hub.Publish("error", protocol.Error("session_failed", err.Error(), true))
		rs.rec.Fail(err)
	}
	close(stopPump)
	<-pumpDone

	if !sawEnded {
		reason := rs.rec.Reason()
		if reason == "" {
			reason = types.EndConnectionClosed
		}
		rs.hub.Publish("session_ended", protocol.SessionEnded(reason, time.Now()))
	}
	log.Info("session complete", "reason", rs.rec.Reason())
}

// audioFor resolves the session's duplexer: the host devices, or the bridge
// of the socket that attaches. Reports false when the session cannot go
// live, with the record already settled.
func (l *Launcher) audioFor(ctx context.Context, rs *runningSession, log *slog.Logger) (session.AudioDuplexer, bool) {
	if rs.mode == ModeDevice {
		return l.deps.NewDeviceAudio(), true
	}

	timer := time.NewTimer(l.cfg.AttachTimeout)
	defer timer.Stop()
	select {
	case b := <-rs.attach:
		return b, true
	case reason := <-rs.earlyEnd:
		log.Info("session ended before audio attached", "reason", reason)
		rs.hub.Publish("session_ended", protocol.SessionEnded(reason, time.Now()))
		rs.rec.Complete(reason)
		return nil, false
	case <-timer.C:
		err := errors.New("no audio stream attached")
		log.Warn("session abandoned", "error", err)
		l.fail(rs, "attach_timeout", err)
		return nil, false
	case <-ctx.Done():
		l.fail(rs, "session_expired", ctx.Err())
		return nil, false
	}
}

// fail settles a session that never went live.
func (l *Launcher) fail(rs *runningSession, code string, err error) {
	rs.hub.Publish("error", protocol.Error(code, err.Error(), true))
	rs.rec.Fail(err)
	rs.hub.Publish("session_ended", protocol.SessionEnded(rs.rec.Reason(), time.Now()))
}

// pump mirrors session events onto the hub until the session ends. Reports
// whether a session_ended frame was published.
func (l *Launcher) pump(rs *runningSession, sess *session.Coordinator, stop <-chan struct{}) bool {
	for {
		select {
		case ev := <-sess.Events():
			if l.publishEvent(rs, ev) {
				return true
			}
		case <-stop:
			for {
				select {
				case ev := <-sess.Events():
					if l.publishEvent(rs, ev) {
						return true
					}
				default:
					return false
				}
			}
		}
	}
}

// publishEvent maps one session event to its wire frame. Reports whether it
// was the final session_ended frame.
func (l *Launcher) publishEvent(rs *runningSession, ev session.Event) bool {
	switch ev.Type {
	case session.EventAgentTranscript:
		rs.hub.Publish("agent_transcript", protocol.AgentTranscript(ev.Text))
	case session.EventUserTranscript:
		rs.hub.Publish("user_transcript", protocol.UserTranscript(ev.Text))
	case session.EventTurnComplete:
		rs.hub.Publish("turn_complete", protocol.TurnComplete())
	case session.EventContextUpdate:
		rs.hub.Publish("context_update", protocol.ContextUpdate(ev.Text))
	case session.EventEnding:
		rs.rec.MarkEnding()
		rs.hub.Publish("session_ending", protocol.SessionEnding(ev.Text))
	case session.EventEnded:
		rs.hub.Publish("session_ended", protocol.SessionEnded(ev.Reason, time.Now()))
		return true
	case session.EventError:
		msg := "session error"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		rs.hub.Publish("error", protocol.Error("session_error", msg, false))
	}
	return false
}

// fillHealth backfills missing health numbers from the store's most recent
// daily row. Absence of data is not an error.
func (l *Launcher) fillHealth(ctx context.Context, user *types.UserContext, log *slog.Logger) {
	if user.Health.StepsToday != 0 || user.Health.SleepHoursLastNight != 0 {
		return
	}
	dh, err := l.deps.Store.LatestDailyHealth(ctx, user.Name)
	if err != nil {
		if !errors.Is(err, store.ErrUnavailable) && !errors.Is(err, store.ErrNotFound) {
			log.Warn("health backfill failed", "error", err)
		}
		return
	}
	user.Health.StepsToday = dh.Steps
	user.Health.SleepHoursLastNight = dh.SleepHours
	log.Debug("health backfilled from store", "date", dh.Date)
}

// saveConversation persists the transcript after the session ends. Best
// effort only.
func (l *Launcher) saveConversation(rs *runningSession, coord *coordinator.Coordinator, log *slog.Logger) {
	text := coord.Conversation()
	if strings.TrimSpace(text) == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.deps.Store.SaveConversation(ctx, rs.user.Name, text); err != nil {
		if !errors.Is(err, store.ErrUnavailable) {
			log.Warn("saving conversation failed", "error", err)
		}
		return
	}
	log.Info("conversation saved", "chars", len(text))
}
