package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/attune-ai/attune/pkg/core"
)

const (
	liveHandshakeTimeout = 45 * time.Second
	liveSetupTimeout     = 15 * time.Second
	liveWriteTimeout     = 10 * time.Second

	// Server frames carry base64 audio and can get large.
	liveReadLimit = 16 * 1024 * 1024

	// DefaultInputMIMEType tags realtime microphone audio.
	DefaultInputMIMEType = "audio/pcm;rate=16000"
)

// ErrLiveClosed reports that the live channel is no longer usable.
var ErrLiveClosed = errors.New("gemini: live channel closed")

// LiveConfig describes a live session to establish.
type LiveConfig struct {
	Model         string
	SystemPrompt  string
	Voice         string
	Tools         []Tool
	Transcription bool
	InputMIMEType string
}

// LiveServerEvent is one decoded server message, flattened for consumers.
type LiveServerEvent struct {
	SetupComplete      bool
	AudioChunks        [][]byte
	Text               string
	InputTranscript    string
	OutputTranscript   string
	FunctionCalls      []FunctionCall
	TurnComplete       bool
	GenerationComplete bool
	Interrupted        bool
}

// LiveSession is an established bidirectional channel. A background read
// loop decodes server frames into an event queue; Receive drains it.
type LiveSession struct {
	conn   *websocket.Conn
	logger *slog.Logger

	inputMIME string

	writeMu sync.Mutex
	events  chan *LiveServerEvent
	closed  chan struct{}
	closing atomic.Bool

	errMu   sync.Mutex
	readErr error
}

// ConnectLive dials the Live API, performs the setup handshake, and returns
// a ready session.
func (p *Provider) ConnectLive(ctx context.Context, cfg LiveConfig) (*LiveSession, error) {
	if cfg.Model == "" {
		return nil, core.NewInvalidRequestError("live: model is required")
	}

	dialer := websocket.Dialer{HandshakeTimeout: liveHandshakeTimeout}
	header := http.Header{}
	header.Set("x-goog-api-key", p.apiKey)

	conn, resp, err := dialer.DialContext(ctx, p.liveURL, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, p.parseError(resp)
		}
		return nil, core.NewProviderError("gemini", fmt.Errorf("live dial: %w", err))
	}
	conn.SetReadLimit(liveReadLimit)

	inputMIME := cfg.InputMIMEType
	if inputMIME == "" {
		inputMIME = DefaultInputMIMEType
	}
	s := &LiveSession{
		conn:      conn,
		logger:    p.logger.With("component", "gemini.live"),
		inputMIME: inputMIME,
		events:    make(chan *LiveServerEvent, 32),
		closed:    make(chan struct{}),
	}
	go s.readLoop()

	if err := s.send(ctx, &liveClientMessage{Setup: buildSetup(cfg)}); err != nil {
		s.Close()
		return nil, err
	}

	select {
	case ev, ok := <-s.events:
		if !ok {
			err := s.terminalErr()
			s.Close()
			return nil, err
		}
		if !ev.SetupComplete {
			s.Close()
			return nil, core.NewAPIError("live: unexpected message before setup completion")
		}
	case <-time.After(liveSetupTimeout):
		s.Close()
		return nil, core.NewAPIError("live: timed out waiting for setup completion")
	case <-ctx.Done():
		s.Close()
		return nil, ctx.Err()
	}

	s.logger.Debug("live session established", "model", cfg.Model, "voice", cfg.Voice)
	return s, nil
}

func buildSetup(cfg LiveConfig) *liveSetup {
	model := cfg.Model
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	setup := &liveSetup{
		Model: model,
		GenerationConfig: &liveGenerationConfig{
			ResponseModalities: []string{"AUDIO"},
		},
		Tools: cfg.Tools,
	}
	if cfg.Voice != "" {
		setup.GenerationConfig.SpeechConfig = &liveSpeechConfig{
			VoiceConfig: &liveVoiceConfig{
				PrebuiltVoiceConfig: &livePrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.SystemPrompt != "" {
		setup.SystemInstruction = SystemText(cfg.SystemPrompt)
	}
	if cfg.Transcription {
		setup.InputAudioTranscription = &struct{}{}
		setup.OutputAudioTranscription = &struct{}{}
	}
	return setup
}

// SendAudio streams one chunk of microphone PCM to the model.
func (s *LiveSession) SendAudio(ctx context.Context, pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	return s.send(ctx, &liveClientMessage{
		RealtimeInput: &liveRealtimeInput{
			MediaChunks: []Blob{{
				MIMEType: s.inputMIME,
				Data:     base64.StdEncoding.EncodeToString(pcm),
			}},
		},
	})
}

// SendTurn sends a complete user text turn.
func (s *LiveSession) SendTurn(ctx context.Context, text string) error {
	return s.send(ctx, &liveClientMessage{
		ClientContent: &liveClientContent{
			Turns:        []Content{UserText(text)},
			TurnComplete: true,
		},
	})
}

// SendToolResponse answers a function call from the model.
func (s *LiveSession) SendToolResponse(ctx context.Context, fr FunctionResponse) error {
	return s.send(ctx, &liveClientMessage{
		ToolResponse: &liveToolResponse{
			FunctionResponses: []FunctionResponse{fr},
		},
	})
}

// Receive returns the next server event. It returns ErrLiveClosed (possibly
// wrapped) once the channel is gone.
func (s *LiveSession) Receive(ctx context.Context) (*LiveServerEvent, error) {
	select {
	case ev, ok := <-s.events:
		if !ok {
			return nil, s.terminalErr()
		}
		return ev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close tears down the connection. Safe to call more than once.
func (s *LiveSession) Close() error {
	if !s.closing.CompareAndSwap(false, true) {
		return nil
	}
	close(s.closed)

	s.writeMu.Lock()
	deadline := time.Now().Add(time.Second)
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	s.writeMu.Unlock()

	return s.conn.Close()
}

func (s *LiveSession) send(ctx context.Context, msg *liveClientMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closing.Load() {
		return ErrLiveClosed
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("live: encoding message: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("%w: %v", ErrLiveClosed, err)
	}
	return nil
}

func (s *LiveSession) readLoop() {
	defer close(s.events)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.setTerminalErr(fmt.Errorf("%w: %v", ErrLiveClosed, err))
			return
		}

		var msg liveServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("live: dropping undecodable frame", "error", err)
			continue
		}
		ev := flattenServerMessage(&msg)
		if ev == nil {
			continue
		}

		select {
		case s.events <- ev:
		case <-s.closed:
			return
		}
	}
}

func (s *LiveSession) setTerminalErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.readErr == nil {
		s.readErr = err
	}
}

func (s *LiveSession) terminalErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.readErr != nil {
		return s.readErr
	}
	return ErrLiveClosed
}

func flattenServerMessage(msg *liveServerMessage) *LiveServerEvent {
	ev := &LiveServerEvent{}
	filled := false

	if msg.SetupComplete != nil {
		ev.SetupComplete = true
		filled = true
	}
	if sc := msg.ServerContent; sc != nil {
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part.InlineData != nil && strings.HasPrefix(part.InlineData.MIMEType, "audio/") {
					raw, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
					if err == nil && len(raw) > 0 {
						ev.AudioChunks = append(ev.AudioChunks, raw)
						filled = true
					}
				}
				if part.Text != "" {
					ev.Text += part.Text
					filled = true
				}
			}
		}
		if t := sc.InputTranscription; t != nil && t.Text != "" {
			ev.InputTranscript = t.Text
			filled = true
		}
		if t := sc.OutputTranscription; t != nil && t.Text != "" {
			ev.OutputTranscript = t.Text
			filled = true
		}
		if sc.TurnComplete {
			ev.TurnComplete = true
			filled = true
		}
		if sc.GenerationComplete {
			ev.GenerationComplete = true
			filled = true
		}
		if sc.Interrupted {
			ev.Interrupted = true
			filled = true
		}
	}
	if tc := msg.ToolCall; tc != nil && len(tc.FunctionCalls) > 0 {
		ev.FunctionCalls = tc.FunctionCalls
		filled = true
	}

	if !filled {
		return nil
	}
	return ev
}

// Live wire frames. Field names follow the BidiGenerateContent JSON mapping.

type liveClientMessage struct {
	Setup         *liveSetup         `json:"setup,omitempty"`
	ClientContent *liveClientContent `json:"clientContent,omitempty"`
	RealtimeInput *liveRealtimeInput `json:"realtimeInput,omitempty"`
	ToolResponse  *liveToolResponse  `json:"toolResponse,omitempty"`
}

type liveSetup struct {
	Model                    string                `json:"model"`
	GenerationConfig         *liveGenerationConfig `json:"generationConfig,omitempty"`
	SystemInstruction        *Content              `json:"systemInstruction,omitempty"`
	Tools                    []Tool                `json:"tools,omitempty"`
	InputAudioTranscription  *struct{}             `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}             `json:"outputAudioTranscription,omitempty"`
}

type liveGenerationConfig struct {
	ResponseModalities []string          `json:"responseModalities,omitempty"`
	SpeechConfig       *liveSpeechConfig `json:"speechConfig,omitempty"`
}

type liveSpeechConfig struct {
	VoiceConfig *liveVoiceConfig `json:"voiceConfig,omitempty"`
}

type liveVoiceConfig struct {
	PrebuiltVoiceConfig *livePrebuiltVoiceConfig `json:"prebuiltVoiceConfig,omitempty"`
}

type livePrebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName,omitempty"`
}

type liveClientContent struct {
	Turns        []Content `json:"turns,omitempty"`
	TurnComplete bool      `json:"turnComplete,omitempty"`
}

type liveRealtimeInput struct {
	MediaChunks []Blob `json:"mediaChunks,omitempty"`
}

type liveToolResponse struct {
	FunctionResponses []FunctionResponse `json:"functionResponses,omitempty"`
}

type liveServerMessage struct {
	SetupComplete *struct{}          `json:"setupComplete,omitempty"`
	ServerContent *liveServerContent `json:"serverContent,omitempty"`
	ToolCall      *liveToolCall      `json:"toolCall,omitempty"`
	UsageMetadata *UsageMetadata     `json:"usageMetadata,omitempty"`
}

type liveServerContent struct {
	ModelTurn           *Content           `json:"modelTurn,omitempty"`
	TurnComplete        bool               `json:"turnComplete,omitempty"`
	GenerationComplete  bool               `json:"generationComplete,omitempty"`
	Interrupted         bool               `json:"interrupted,omitempty"`
	InputTranscription  *liveTranscription `json:"inputTranscription,omitempty"`
	OutputTranscription *liveTranscription `json:"outputTranscription,omitempty"`
}

type liveTranscription struct {
	Text     string `json:"text,omitempty"`
	Finished bool   `json:"finished,omitempty"`
}

type liveToolCall struct {
	FunctionCalls []FunctionCall `json:"functionCalls,omitempty"`
}
