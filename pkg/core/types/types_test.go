package types

import (
	"strings"
	"testing"
)

func TestAgentContext(t *testing.T) {
	ctx := UserContext{
		Name: "Sagar",
		Mood: "a bit tired",
		Health: HealthSnapshot{
			StepsToday:          2000,
			SleepHoursLastNight: 5.0,
		},
	}
	got := ctx.AgentContext()
	want := "User Name: Sagar. Initial Mood: a bit tired. Initial Health: steps today 2000, sleep last night 5.0 hours."
	if got != want {
		t.Errorf("AgentContext() = %q, want %q", got, want)
	}
}

func TestOpeningContextIncludesOptionalFields(t *testing.T) {
	ctx := UserContext{
		Name:                "Maya",
		Mood:                "stressed",
		Health:              HealthSnapshot{StepsToday: 8500, SleepHoursLastNight: 7.2},
		ConversationSummary: "work has been overwhelming",
		Goals:               "sleep earlier",
	}
	got := ctx.OpeningContext()
	for _, want := range []string{
		"The user's name is Maya.",
		"They currently feel stressed.",
		"walked about 8500 steps",
		"slept about 7.2 hours",
		"In the previous conversation, they said: work has been overwhelming",
		"Their current wellbeing goals are: sleep earlier.",
		"warm and non-judgmental",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("OpeningContext() missing %q in %q", want, got)
		}
	}
}

func TestOpeningContextOmitsEmptyFields(t *testing.T) {
	ctx := UserContext{Name: "Jo", Mood: "fine"}
	got := ctx.OpeningContext()
	if strings.Contains(got, "previous conversation") {
		t.Errorf("OpeningContext() mentions summary for empty summary: %q", got)
	}
	if strings.Contains(got, "wellbeing goals") {
		t.Errorf("OpeningContext() mentions goals for empty goals: %q", got)
	}
}
