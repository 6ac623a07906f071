package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/attune-ai/attune/pkg/core/types"
)

const sentimentSystemPrompt = `You are a specialized Mood/Sentiment Analysis Agent. ` +
	`Your task is to analyze the provided initial context (user name, mood, health data) ` +
	`and produce a mood score and a short analysis. Output *only* a JSON object with the ` +
	`following schema: {"mood_score": int (1-10, 1=very low, 10=very high), ` +
	`"mood_analysis": str (a short, one-sentence justification)}.`

// SentimentAgent scores the user's mood 1-10 with a one-sentence analysis.
type SentimentAgent struct {
	llm    LLM
	model  string
	logger *slog.Logger
}

// NewSentimentAgent creates a sentiment agent. A nil llm puts the agent in
// skip mode, where every analysis returns the neutral default.
func NewSentimentAgent(llm LLM, model string, logger *slog.Logger) *SentimentAgent {
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SentimentAgent{llm: llm, model: model, logger: logger.With("agent", "sentiment")}
}

// Analyze scores the mood expressed in the user context. Failures degrade
// to a neutral score of 5.
func (a *SentimentAgent) Analyze(ctx context.Context, user types.UserContext) SentimentResult {
	if a.llm == nil {
		return SentimentResult{MoodScore: 5, MoodAnalysis: "Agent skipped due to missing API key."}
	}

	resp, err := a.llm.GenerateContent(ctx, a.model, newGenerateRequest(agentMessage(sentimentSystemPrompt, user)))
	if err != nil {
		a.logger.Warn("mood analysis failed", "error", err)
		return a.fallback(user)
	}

	var out SentimentResult
	if err := json.Unmarshal([]byte(stripCodeFences(resp.Text())), &out); err != nil {
		a.logger.Warn("mood analysis returned unparseable JSON", "error", err)
		return a.fallback(user)
	}
	if out.MoodScore < 1 {
		out.MoodScore = 5
	}
	if out.MoodScore > 10 {
		out.MoodScore = 10
	}
	if out.MoodAnalysis == "" {
		out.MoodAnalysis = "Mood analyzed based on initial context."
	}
	return out
}

func (a *SentimentAgent) fallback(user types.UserContext) SentimentResult {
	return SentimentResult{
		MoodScore:    5,
		MoodAnalysis: fmt.Sprintf("Based on feeling '%s', mood appears moderate.", user.Mood),
	}
}
