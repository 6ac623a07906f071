package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/attune-ai/attune/pkg/core/types"
)

// Orchestration is the combined output of the pre-session agent fan-out.
type Orchestration struct {
	Sentiment SentimentResult
	Social    SocialResult
	Health    HealthResult

	// FinalPrompt is the briefing handed to the voice model as its
	// opening context.
	FinalPrompt string
}

// Orchestrator fans the three agents out over the initial user context and
// assembles the final briefing for the voice session.
type Orchestrator struct {
	sentiment SentimentAnalyzer
	social    SocialAdvisor
	health    HealthScorer
	logger    *slog.Logger
}

// NewOrchestrator wires the three agents together.
func NewOrchestrator(sentiment SentimentAnalyzer, social SocialAdvisor, health HealthScorer, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		sentiment: sentiment,
		social:    social,
		health:    health,
		logger:    logger.With("component", "orchestrator"),
	}
}

// Run executes all three agents concurrently. Agents absorb their own
// failures, so Run always produces a complete orchestration.
func (o *Orchestrator) Run(ctx context.Context, user types.UserContext) Orchestration {
	var out Orchestration

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out.Sentiment = o.sentiment.Analyze(gctx, user)
		return nil
	})
	g.Go(func() error {
		out.Social = o.social.Analyze(gctx, user)
		return nil
	})
	g.Go(func() error {
		out.Health = o.health.Analyze(gctx, user)
		return nil
	})
	g.Wait()

	out.FinalPrompt = buildFinalPrompt(user, out)
	o.logger.Info("orchestration complete",
		"user", user.Name,
		"mood_score", out.Sentiment.MoodScore,
		"health_score", out.Health.HealthScore)
	return out
}

func buildFinalPrompt(user types.UserContext, out Orchestration) string {
	moodAnalysis := out.Sentiment.MoodAnalysis
	if moodAnalysis == "" {
		moodAnalysis = "No mood analysis available."
	}
	healthSuggestion := out.Health.HealthSuggestion
	if healthSuggestion == "" {
		healthSuggestion = "No health suggestions available."
	}
	socialSuggestion := out.Social.Suggestion
	if socialSuggestion == "" {
		socialSuggestion = "No social suggestions available."
	}
	goals := user.Goals
	if goals == "" {
		goals = "N/A"
	}

	var b strings.Builder
	b.WriteString("*** FINAL CONTEXT FOR WELLNESS AGENT ***\n\n")
	fmt.Fprintf(&b, "You are interacting with %s.\n\n", user.Name)

	b.WriteString("**Initial State:**\n")
	fmt.Fprintf(&b, "- Reported Mood: %s\n", user.Mood)
	fmt.Fprintf(&b, "- Steps Today: %d\n", user.Health.StepsToday)
	fmt.Fprintf(&b, "- Sleep Last Night: %.1f hours\n", user.Health.SleepHoursLastNight)
	fmt.Fprintf(&b, "- Wellbeing Goals: %s\n\n", goals)

	b.WriteString("**Agent-Generated Analysis:**\n")
	fmt.Fprintf(&b, "1. Mood Analysis: %s\n", moodAnalysis)
	fmt.Fprintf(&b, "2. Health Score (%d/100): %s\n", out.Health.HealthScore, healthSuggestion)
	fmt.Fprintf(&b, "3. Social Suggestion: %s\n\n", socialSuggestion)

	b.WriteString("**Instructions for Voice Agent:**\n")
	fmt.Fprintf(&b, "1. Personalized Greeting: Greet %s by name and acknowledge how they said they feel.\n", user.Name)
	b.WriteString("2. Acknowledge Data: Gently mention anything notable in the health data, like low activity or poor sleep.\n")
	b.WriteString("3. Integrate Suggestions: Weave the social suggestion into the conversation naturally.\n")
	b.WriteString("4. Focus: Keep the conversation supportive and centered on how they are feeling today.\n")
	return b.String()
}
