package session

import "github.com/attune-ai/attune/pkg/core/types"

// EventType identifies a session event.
type EventType string

const (
	EventAgentTranscript EventType = "agent_transcript"
	EventUserTranscript  EventType = "user_transcript"
	EventTurnComplete    EventType = "turn_complete"
	EventContextUpdate   EventType = "context_update"
	EventEnding          EventType = "session_ending"
	EventEnded           EventType = "session_ended"
	EventError           EventType = "error"
)

// Event is a non-audio notification from a running session. Audio flows
// through the AudioDuplexer, analysis results through the coordinator
// callback; everything else lands here.
type Event struct {
	Type   EventType
	Text   string
	Reason types.EndReason
	Err    error
}
