// Package agents implements the analysis agents that score a wellness
// conversation: sentiment, social suggestions, and health. Agents never
// propagate provider failures; every path degrades to a usable fallback.
package agents

import (
	"context"
	"strings"

	"github.com/attune-ai/attune/pkg/core/providers/gemini"
	"github.com/attune-ai/attune/pkg/core/types"
)

// DefaultModel is the text model agents use unless configured otherwise.
const DefaultModel = "gemini-2.0-flash-exp"

// LLM is the text-model surface agents call. *gemini.Provider satisfies it.
type LLM interface {
	GenerateContent(ctx context.Context, model string, req *gemini.GenerateRequest) (*gemini.GenerateResponse, error)
}

// SentimentResult is the mood agent's output.
type SentimentResult struct {
	MoodScore    int    `json:"mood_score"`
	MoodAnalysis string `json:"mood_analysis"`
}

// SocialResult is the social agent's output.
type SocialResult struct {
	Suggestion string `json:"social_suggestion"`
}

// HealthResult is the health agent's output.
type HealthResult struct {
	HealthScore      int    `json:"health_score"`
	HealthSuggestion string `json:"health_suggestion"`
}

// SentimentAnalyzer scores mood from the user's current context.
type SentimentAnalyzer interface {
	Analyze(ctx context.Context, user types.UserContext) SentimentResult
}

// SocialAdvisor suggests social activities for the user.
type SocialAdvisor interface {
	Analyze(ctx context.Context, user types.UserContext) SocialResult
}

// HealthScorer scores the user's daily health metrics.
type HealthScorer interface {
	Analyze(ctx context.Context, user types.UserContext) HealthResult
}

// stripCodeFences removes a surrounding markdown code fence, which models
// add even when asked for bare JSON.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// agentMessage combines a system prompt with the engineered user context
// into the single-turn message shape the agents use.
func agentMessage(systemPrompt string, user types.UserContext) gemini.Content {
	return gemini.UserText(systemPrompt + "\n\n[CONTEXT]: " + user.AgentContext())
}

func newGenerateRequest(contents ...gemini.Content) *gemini.GenerateRequest {
	return &gemini.GenerateRequest{Contents: contents}
}
