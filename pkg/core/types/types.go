// Package types holds the domain model shared across attune: user context,
// transcript segments, live analysis results, and session end reasons.
package types

import (
	"fmt"
	"strings"
	"time"
)

// Speaker identifies who produced a transcript segment.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerAgent Speaker = "agent"
)

// TranscriptSegment is one utterance in a conversation.
type TranscriptSegment struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthSnapshot carries the daily metrics the health agent scores.
type HealthSnapshot struct {
	StepsToday          int     `json:"steps_today"`
	SleepHoursLastNight float64 `json:"sleep_hours_last_night"`
}

// UserContext is everything known about the user when a session starts.
type UserContext struct {
	Name                string         `json:"name"`
	Mood                string         `json:"mood"`
	Health              HealthSnapshot `json:"health"`
	ConversationSummary string         `json:"conversation_summary,omitempty"`
	Goals               string         `json:"goals,omitempty"`
}

// AgentContext renders the one-line context string handed to the analysis
// agents alongside their system prompts.
func (c UserContext) AgentContext() string {
	return fmt.Sprintf(
		"User Name: %s. Initial Mood: %s. Initial Health: steps today %d, sleep last night %.1f hours.",
		c.Name, c.Mood, c.Health.StepsToday, c.Health.SleepHoursLastNight,
	)
}

// OpeningContext renders the briefing sent to the voice model as the first
// turn when no richer orchestrated briefing is available.
func (c UserContext) OpeningContext() string {
	parts := []string{
		fmt.Sprintf("The user's name is %s.", c.Name),
		fmt.Sprintf("They currently feel %s.", c.Mood),
		fmt.Sprintf("Today they have walked about %d steps.", c.Health.StepsToday),
		fmt.Sprintf("Last night they slept about %.1f hours.", c.Health.SleepHoursLastNight),
	}
	if c.ConversationSummary != "" {
		parts = append(parts, fmt.Sprintf("In the previous conversation, they said: %s", c.ConversationSummary))
	}
	if c.Goals != "" {
		parts = append(parts, fmt.Sprintf("Their current wellbeing goals are: %s.", c.Goals))
	}
	parts = append(parts,
		"Start by gently acknowledging anything notable (like low activity or poor sleep), "+
			"then ask how they are feeling about their day. Keep the tone warm and non-judgmental.")
	return strings.Join(parts, " ")
}

// MoodTrend describes the direction of recent mood scores.
type MoodTrend string

const (
	TrendImproving MoodTrend = "improving"
	TrendDeclining MoodTrend = "declining"
	TrendStable    MoodTrend = "stable"
)

// Urgency grades how quickly the companion should act on an analysis.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// LiveAnalysisResult is one combined snapshot from the analysis agents.
type LiveAnalysisResult struct {
	MoodScore         int       `json:"mood_score"`
	MoodTrend         MoodTrend `json:"mood_trend"`
	MoodContext       string    `json:"mood_context,omitempty"`
	SocialSuggestions []string  `json:"social_suggestions"`
	HealthInsights    string    `json:"health_insights,omitempty"`
	Urgency           Urgency   `json:"urgency"`
	SuggestedTopics   []string  `json:"suggested_topics"`
	Timestamp         time.Time `json:"timestamp"`
}

// EndReason tags how a voice session terminated. Exactly one reason is
// reported per session.
type EndReason string

const (
	EndAIInitiated      EndReason = "ai_initiated"
	EndConnectionClosed EndReason = "connection_closed"
	EndManualCompletion EndReason = "manual_completion"
	EndUserInterrupted  EndReason = "user_interrupted"
)
