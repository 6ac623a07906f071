package agents

import (
	"context"
	"log/slog"
	"math"

	"github.com/attune-ai/attune/pkg/core/types"
)

const healthSystemPrompt = `You are a specialized Health and Fitness Agent. ` +
	`Analyze the provided initial health data (steps, sleep). Calculate a Health Score ` +
	`(1-100, where 100 is excellent). Provide a one-sentence health suggestion based on ` +
	`the data. Output *only* a JSON object with the following schema: ` +
	`{"health_score": int, "health_suggestion": str}.`

const (
	stepsTarget = 10000
	sleepTarget = 8.0

	lowSleepHours = 7.0
	lowStepCount  = 5000
)

// HealthAgent scores daily health metrics. The score and suggestion are
// computed deterministically; the model call, when a model is configured,
// is advisory only and never changes the output.
type HealthAgent struct {
	llm    LLM
	model  string
	logger *slog.Logger
}

// NewHealthAgent creates a health agent. llm may be nil.
func NewHealthAgent(llm LLM, model string, logger *slog.Logger) *HealthAgent {
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthAgent{llm: llm, model: model, logger: logger.With("agent", "health")}
}

// Analyze scores the health snapshot in the user context.
func (a *HealthAgent) Analyze(ctx context.Context, user types.UserContext) HealthResult {
	result := HealthResult{
		HealthScore:      HealthScore(user.Health),
		HealthSuggestion: healthSuggestion(user.Health),
	}

	if a.llm != nil {
		if _, err := a.llm.GenerateContent(ctx, a.model, newGenerateRequest(agentMessage(healthSystemPrompt, user))); err != nil {
			a.logger.Debug("advisory health model call failed", "error", err)
		}
	}
	return result
}

// HealthScore computes the 0-100 score: up to 50 points for steps against a
// 10000-step target and up to 50 for sleep against an 8-hour target.
func HealthScore(h types.HealthSnapshot) int {
	stepsPart := math.Min(float64(h.StepsToday)/stepsTarget*50, 50)
	sleepPart := math.Min(h.SleepHoursLastNight/sleepTarget*50, 50)
	return int(math.Round(stepsPart + sleepPart))
}

func healthSuggestion(h types.HealthSnapshot) string {
	lowSleep := h.SleepHoursLastNight < lowSleepHours
	lowSteps := h.StepsToday < lowStepCount
	switch {
	case lowSleep && lowSteps:
		return "You were low on both sleep and activity. Prioritize an early bedtime and a 30-minute walk."
	case lowSleep:
		return "Your sleep was low. Try to reduce screen time an hour before bed."
	case lowSteps:
		return "Your steps are low. Incorporate a short walk during lunch today."
	default:
		return "Your health metrics look good! Keep up the great work."
	}
}
