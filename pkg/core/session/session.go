// Package session runs one live voice conversation end to end: microphone
// audio up to the model, synthesized audio back out, transcripts into the
// analysis coordinator, periodic context injection, and a single, reliably
// reported end of session.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/attune-ai/attune/pkg/core/coordinator"
	"github.com/attune-ai/attune/pkg/core/types"
)

// Defaults for Config fields left zero.
const (
	DefaultEchoDelay       = 300 * time.Millisecond
	DefaultFinalAudioWait  = 2 * time.Second
	DefaultContextInterval = 45 * time.Second
	DefaultDrainTimeout    = 5 * time.Second
)

// Config tunes one voice session.
type Config struct {
	// InitialContext, when set, is sent as the first turn so the model
	// opens the conversation grounded in the user's state.
	InitialContext string

	// EchoDelay is how long the microphone stays gated after the model
	// finishes a turn, so the tail of playback is not fed back in.
	EchoDelay time.Duration

	// FinalAudioWait is how long to let farewell audio play out after the
	// model asks to end the session.
	FinalAudioWait time.Duration

	// ContextInterval is the cadence of analysis context injection.
	ContextInterval time.Duration

	// DrainTimeout bounds how long teardown waits for the output loop.
	DrainTimeout time.Duration
}

func (c *Config) fillDefaults() {
	if c.EchoDelay <= 0 {
		c.EchoDelay = DefaultEchoDelay
	}
	if c.FinalAudioWait <= 0 {
		c.FinalAudioWait = DefaultFinalAudioWait
	}
	if c.ContextInterval <= 0 {
		c.ContextInterval = DefaultContextInterval
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
}

// Dependencies are the collaborators a session drives. Channel, Audio and
// Analysis are required.
type Dependencies struct {
	Channel  LiveChannel
	Audio    AudioDuplexer
	Analysis *coordinator.Coordinator

	Logger *slog.Logger

	// OnEnd is invoked exactly once, after teardown, with the reason the
	// session ended.
	OnEnd func(types.EndReason)
}

// Coordinator owns the lifecycle of a single voice session.
type Coordinator struct {
	cfg  Config
	deps Dependencies

	state  *State
	comp   *completion
	events chan Event

	started atomic.Bool
	logger  *slog.Logger
}

// New validates deps and builds a session ready to Run.
func New(cfg Config, deps Dependencies) (*Coordinator, error) {
	if deps.Channel == nil {
		return nil, errors.New("session: live channel is required")
	}
	if deps.Audio == nil {
		return nil, errors.New("session: audio duplexer is required")
	}
	if deps.Analysis == nil {
		return nil, errors.New("session: analysis coordinator is required")
	}
	cfg.fillDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cfg:    cfg,
		deps:   deps,
		state:  &State{},
		comp:   newCompletion(),
		events: make(chan Event, 64),
		logger: logger.With("component", "session"),
	}, nil
}

// Events returns the session's notification stream. It is never closed;
// readers should also select on Done.
func (s *Coordinator) Events() <-chan Event { return s.events }

// Done is closed once an end reason has been decided.
func (s *Coordinator) Done() <-chan struct{} { return s.comp.wait() }

// Reason returns the end reason, or "" while the session is still live.
func (s *Coordinator) Reason() types.EndReason { return s.comp.value() }

// Shutdown requests an end with the given reason. The first caller to
// decide a reason wins; later requests are no-ops.
func (s *Coordinator) Shutdown(reason types.EndReason) {
	if reason == "" {
		reason = types.EndManualCompletion
	}
	if s.comp.resolve(reason) {
		s.logger.Info("session shutdown requested", "reason", reason)
	}
}

type loopExit struct {
	name string
	err  error
}

// Run executes the session until it ends, then tears everything down and
// reports the end reason through OnEnd. It returns an error only for
// failures before the session goes live.
func (s *Coordinator) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("session: already started")
	}

	if err := s.deps.Audio.OpenInput(); err != nil {
		return fmt.Errorf("session: opening audio input: %w", err)
	}
	defer s.deps.Audio.Close()
	if err := s.deps.Audio.OpenOutput(); err != nil {
		return fmt.Errorf("session: opening audio output: %w", err)
	}
	defer s.deps.Channel.Close()

	if s.cfg.InitialContext != "" {
		if err := s.deps.Channel.SendTurn(ctx, s.cfg.InitialContext); err != nil {
			return fmt.Errorf("session: sending initial context: %w", err)
		}
	}

	s.deps.Analysis.Start(ctx)
	s.logger.Info("session live")

	loopCtx, cancelLoops := context.WithCancel(ctx)
	defer cancelLoops()

	errs := make(chan loopExit, 3)
	outputExited := make(chan struct{})
	go func() {
		err := s.outputLoop(loopCtx)
		close(outputExited)
		errs <- loopExit{"output", err}
	}()
	go func() { errs <- loopExit{"input", s.inputLoop(loopCtx)} }()
	go func() { errs <- loopExit{"inject", s.injectLoop(loopCtx)} }()

	s.waitForTrigger(ctx, errs)

	// Teardown. Give the output loop a bounded window to finish playing,
	// then stop everything and settle the reason.
	cancelLoops()
	select {
	case <-outputExited:
	case <-time.After(s.cfg.DrainTimeout):
		s.logger.Warn("output loop still draining at teardown")
	}
	s.deps.Analysis.Stop()
	s.deps.Channel.Close()
	s.deps.Audio.Close()

	s.comp.resolve(types.EndManualCompletion)
	reason := s.comp.value()
	s.emit(Event{Type: EventEnded, Reason: reason})
	s.logger.Info("session ended", "reason", reason)
	if s.deps.OnEnd != nil {
		s.deps.OnEnd(reason)
	}
	return nil
}

// waitForTrigger blocks until something decides the session is over: a
// resolved completion, context cancellation, or a loop failure.
func (s *Coordinator) waitForTrigger(ctx context.Context, errs <-chan loopExit) {
	for {
		select {
		case <-s.comp.wait():
			return
		case <-ctx.Done():
			s.comp.resolve(types.EndUserInterrupted)
			return
		case exit := <-errs:
			if exit.err == nil {
				continue
			}
			s.logger.Error("session loop failed", "loop", exit.name, "error", exit.err)
			s.emit(Event{Type: EventError, Err: exit.err})
			return
		}
	}
}

// inputLoop pumps microphone chunks to the model. Chunks are dropped while
// the model is speaking or the session is winding down, so playback does
// not echo back into the conversation.
func (s *Coordinator) inputLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		chunk, err := s.deps.Audio.ReadChunk(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading audio: %w", err)
		}
		if len(chunk) == 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(20 * time.Millisecond):
			}
			continue
		}
		if s.state.AISpeaking() || s.state.EndRequested() {
			continue
		}
		if err := s.deps.Channel.SendAudio(ctx, chunk); err != nil {
			if errors.Is(err, ErrChannelClosed) {
				s.comp.resolve(types.EndConnectionClosed)
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("sending audio: %w", err)
		}
	}
}

// outputLoop consumes model events: it plays audio, commits transcripts to
// the analysis coordinator, answers tool calls, and handles the model's own
// decision to end the session.
func (s *Coordinator) outputLoop(ctx context.Context) error {
	var turnText, turnTranscript, pendingUser string
	for {
		ev, err := s.deps.Channel.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrChannelClosed) {
				if s.comp.resolve(types.EndConnectionClosed) {
					s.logger.Info("live channel closed")
				}
				return nil
			}
			return fmt.Errorf("receiving: %w", err)
		}
		if ev == nil {
			continue
		}

		if ev.UserTranscript != "" {
			pendingUser += ev.UserTranscript
		}
		if len(ev.AudioChunks) > 0 || ev.Text != "" || ev.AgentTranscript != "" {
			// The model has started answering; whatever the user said
			// before this is one finished utterance.
			pendingUser = s.commitUserTranscript(pendingUser)
			s.state.SetAISpeaking(true)
		}

		for _, chunk := range ev.AudioChunks {
			if err := s.deps.Audio.WriteChunk(ctx, chunk); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("playing audio: %w", err)
			}
		}
		turnText += ev.Text
		turnTranscript += ev.AgentTranscript

		for _, call := range ev.ToolCalls {
			if call.Name != EndSessionToolName {
				s.logger.Warn("ignoring unsupported tool call", "tool", call.Name)
				continue
			}
			s.state.RequestEnd()
			s.emit(Event{Type: EventEnding, Text: "The companion is wrapping up the session."})
			s.logger.Info("model requested session end")
			if err := s.deps.Channel.RespondTool(ctx, call, map[string]any{"status": "session_ended"}); err != nil {
				s.logger.Warn("tool response failed", "error", err)
			}
		}

		if ev.Interrupted {
			// The user talked over the model. Keep what was said so far
			// and reopen the microphone immediately.
			turnText, turnTranscript = s.commitAgentTranscript(turnText, turnTranscript)
			s.state.SetAISpeaking(false)
		}

		if ev.TurnComplete {
			turnText, turnTranscript = s.commitAgentTranscript(turnText, turnTranscript)
			pendingUser = s.commitUserTranscript(pendingUser)
			s.emit(Event{Type: EventTurnComplete})

			select {
			case <-time.After(s.cfg.EchoDelay):
			case <-ctx.Done():
				return nil
			}
			s.state.SetAISpeaking(false)

			if s.state.EndRequested() {
				select {
				case <-time.After(s.cfg.FinalAudioWait):
				case <-ctx.Done():
					return nil
				}
				if s.comp.resolve(types.EndAIInitiated) {
					s.logger.Info("session ended by companion")
				}
				return nil
			}
		}
	}
}

// injectLoop periodically pushes fresh analysis context to the model. An
// empty or unchanged snapshot is skipped, as is everything once the session
// is winding down.
func (s *Coordinator) injectLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.ContextInterval)
	defer ticker.Stop()

	var lastInjected string
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if s.state.EndRequested() {
			continue
		}
		update := s.deps.Analysis.ContextForAgent()
		if update == "" || update == lastInjected {
			continue
		}
		if err := s.deps.Channel.SendTurn(ctx, update); err != nil {
			if errors.Is(err, ErrChannelClosed) {
				s.comp.resolve(types.EndConnectionClosed)
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("injecting context: %w", err)
		}
		lastInjected = update
		s.emit(Event{Type: EventContextUpdate, Text: update})
		s.logger.Debug("context update injected")
	}
}

// commitAgentTranscript records the model's side of the turn. Inline text
// wins over the speech transcript when both are present.
func (s *Coordinator) commitAgentTranscript(text, transcript string) (string, string) {
	said := strings.TrimSpace(text)
	if said == "" {
		said = strings.TrimSpace(transcript)
	}
	if said != "" {
		s.deps.Analysis.AddTranscript(types.SpeakerAgent, said)
		s.emit(Event{Type: EventAgentTranscript, Text: said})
	}
	return "", ""
}

func (s *Coordinator) commitUserTranscript(pending string) string {
	said := strings.TrimSpace(pending)
	if said != "" {
		s.deps.Analysis.AddTranscript(types.SpeakerUser, said)
		s.emit(Event{Type: EventUserTranscript, Text: said})
	}
	return ""
}

// emit never blocks; slow readers lose events rather than stalling audio.
func (s *Coordinator) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Debug("dropping session event", "type", ev.Type)
	}
}
