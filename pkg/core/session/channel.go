package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/attune-ai/attune/pkg/core/providers/gemini"
)

// ErrChannelClosed reports that the live channel is gone and no further
// sends or receives will succeed.
var ErrChannelClosed = errors.New("session: live channel closed")

// ToolCall is a function invocation requested by the model mid-turn.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ChannelEvent is one batch of model output. Any combination of fields may
// be set on a single event.
type ChannelEvent struct {
	// AudioChunks are raw PCM chunks of synthesized speech.
	AudioChunks [][]byte

	// Text is inline text produced alongside (or instead of) audio.
	Text string

	// UserTranscript is a fragment of the recognized user utterance.
	UserTranscript string

	// AgentTranscript is a fragment of the transcript of the model's own
	// speech.
	AgentTranscript string

	ToolCalls []ToolCall

	TurnComplete bool
	Interrupted  bool
}

// LiveChannel is the transport a session speaks over. The production
// implementation wraps a Gemini live connection; tests substitute fakes.
type LiveChannel interface {
	SendAudio(ctx context.Context, pcm []byte) error
	SendTurn(ctx context.Context, text string) error
	RespondTool(ctx context.Context, call ToolCall, response map[string]any) error

	// Receive blocks for the next event. After the connection is gone it
	// returns an error satisfying errors.Is(err, ErrChannelClosed).
	Receive(ctx context.Context) (*ChannelEvent, error)

	Close() error
}

// GeminiChannel adapts a connected gemini.LiveSession to LiveChannel.
type GeminiChannel struct {
	Session *gemini.LiveSession
}

func (g GeminiChannel) SendAudio(ctx context.Context, pcm []byte) error {
	return mapClosed(g.Session.SendAudio(ctx, pcm))
}

func (g GeminiChannel) SendTurn(ctx context.Context, text string) error {
	return mapClosed(g.Session.SendTurn(ctx, text))
}

func (g GeminiChannel) RespondTool(ctx context.Context, call ToolCall, response map[string]any) error {
	return mapClosed(g.Session.SendToolResponse(ctx, gemini.FunctionResponse{
		ID:       call.ID,
		Name:     call.Name,
		Response: response,
	}))
}

func (g GeminiChannel) Receive(ctx context.Context) (*ChannelEvent, error) {
	ev, err := g.Session.Receive(ctx)
	if err != nil {
		return nil, mapClosed(err)
	}
	out := &ChannelEvent{
		AudioChunks:     ev.AudioChunks,
		Text:            ev.Text,
		UserTranscript:  ev.InputTranscript,
		AgentTranscript: ev.OutputTranscript,
		TurnComplete:    ev.TurnComplete,
		Interrupted:     ev.Interrupted,
	}
	for _, fc := range ev.FunctionCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
	}
	return out, nil
}

func (g GeminiChannel) Close() error {
	return g.Session.Close()
}

func mapClosed(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gemini.ErrLiveClosed) {
		return fmt.Errorf("%w: %v", ErrChannelClosed, err)
	}
	return err
}
