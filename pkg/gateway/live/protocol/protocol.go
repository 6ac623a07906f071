// Package protocol defines the JSON frames spoken on the live session
// WebSocket. Clients send audio and control frames; the server pushes
// audio, transcripts, analysis, and lifecycle frames.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/attune-ai/attune/pkg/core/types"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// Client frames.

// ClientAudio carries one chunk of microphone PCM, 16kHz mono s16le.
type ClientAudio struct {
	Type    string `json:"type"`
	DataB64 string `json:"data"`
}

func (a ClientAudio) PCM() ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(a.DataB64)
	if err != nil {
		return nil, badRequest("audio.data is not valid base64", "data")
	}
	return pcm, nil
}

// ClientControl covers the parameterless control frames.
type ClientControl struct {
	Type string `json:"type"`
}

const (
	ControlStartSpeaking = "start_speaking"
	ControlStopSpeaking  = "stop_speaking"
	ControlEndSession    = "end_session"
)

// DecodeClientMessage parses one inbound frame into its typed form.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "audio":
		var msg ClientAudio
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid audio frame", "")
		}
		if strings.TrimSpace(msg.DataB64) == "" {
			return nil, badRequest("audio.data is required", "data")
		}
		return msg, nil
	case ControlStartSpeaking, ControlStopSpeaking, ControlEndSession:
		var msg ClientControl
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid control frame", "")
		}
		msg.Type = typ
		return msg, nil
	default:
		return nil, unsupported("unsupported message type", "type")
	}
}

// Server frames. Constructors fill the type tag so handlers cannot
// mislabel a frame.

type ServerSessionStarted struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	UserName  string `json:"user_name,omitempty"`
}

func SessionStarted(sessionID, userName string) ServerSessionStarted {
	return ServerSessionStarted{Type: "session_started", SessionID: sessionID, UserName: userName}
}

type ServerOrchestrationComplete struct {
	Type             string `json:"type"`
	MoodAnalysis     string `json:"mood_analysis,omitempty"`
	HealthSuggestion string `json:"health_suggestion,omitempty"`
	SocialSuggestion string `json:"social_suggestion,omitempty"`
}

func OrchestrationComplete(mood, health, social string) ServerOrchestrationComplete {
	return ServerOrchestrationComplete{
		Type:             "orchestration_complete",
		MoodAnalysis:     mood,
		HealthSuggestion: health,
		SocialSuggestion: social,
	}
}

type ServerLiveAnalysis struct {
	Type              string   `json:"type"`
	MoodScore         int      `json:"mood_score"`
	MoodTrend         string   `json:"mood_trend"`
	Urgency           string   `json:"urgency"`
	SocialSuggestions []string `json:"social_suggestions,omitempty"`
	HealthInsights    string   `json:"health_insights,omitempty"`
}

func LiveAnalysis(r types.LiveAnalysisResult) ServerLiveAnalysis {
	return ServerLiveAnalysis{
		Type:              "live_analysis",
		MoodScore:         r.MoodScore,
		MoodTrend:         string(r.MoodTrend),
		Urgency:           string(r.Urgency),
		SocialSuggestions: r.SocialSuggestions,
		HealthInsights:    r.HealthInsights,
	}
}

type ServerAudio struct {
	Type    string `json:"type"`
	DataB64 string `json:"data"`
}

func Audio(pcm []byte) ServerAudio {
	return ServerAudio{Type: "audio", DataB64: base64.StdEncoding.EncodeToString(pcm)}
}

type ServerTranscript struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func AgentTranscript(text string) ServerTranscript {
	return ServerTranscript{Type: "agent_transcript", Text: text}
}

func UserTranscript(text string) ServerTranscript {
	return ServerTranscript{Type: "user_transcript", Text: text}
}

type ServerTurnComplete struct {
	Type string `json:"type"`
}

func TurnComplete() ServerTurnComplete {
	return ServerTurnComplete{Type: "turn_complete"}
}

type ServerContextUpdate struct {
	Type    string `json:"type"`
	Context string `json:"context"`
}

func ContextUpdate(context string) ServerContextUpdate {
	return ServerContextUpdate{Type: "context_update", Context: context}
}

type ServerSessionEnding struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

func SessionEnding(message string) ServerSessionEnding {
	return ServerSessionEnding{Type: "session_ending", Message: message}
}

type ServerSessionEnded struct {
	Type      string `json:"type"`
	Reason    string `json:"reason"`
	Timestamp string `json:"timestamp"`
}

func SessionEnded(reason types.EndReason, at time.Time) ServerSessionEnded {
	return ServerSessionEnded{
		Type:      "session_ended",
		Reason:    string(reason),
		Timestamp: at.UTC().Format(time.RFC3339),
	}
}

type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Close   bool   `json:"close,omitempty"`
}

func Error(code, message string, close bool) ServerError {
	return ServerError{Type: "error", Code: code, Message: message, Close: close}
}

// Marshal encodes a server frame. Frames are small; an encode failure is a
// programming error surfaced to the caller.
func Marshal(frame any) ([]byte, error) {
	return json.Marshal(frame)
}
