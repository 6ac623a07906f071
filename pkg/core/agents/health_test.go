package agents

import (
	"context"
	"errors"
	"testing"

	"github.com/attune-ai/attune/pkg/core/types"
)

func TestHealthScore(t *testing.T) {
	tests := []struct {
		name  string
		steps int
		sleep float64
		want  int
	}{
		{"perfect day", 10000, 8.0, 100},
		{"nothing recorded", 0, 0, 0},
		{"partial day", 2000, 5.0, 41},
		{"overachiever capped", 25000, 11.0, 100},
		{"steps only", 10000, 0, 50},
		{"sleep only", 0, 8.0, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := types.HealthSnapshot{StepsToday: tt.steps, SleepHoursLastNight: tt.sleep}
			if got := HealthScore(h); got != tt.want {
				t.Errorf("HealthScore(%d, %.1f) = %d, want %d", tt.steps, tt.sleep, got, tt.want)
			}
		})
	}
}

func TestHealthScore_Reproducible(t *testing.T) {
	h := types.HealthSnapshot{StepsToday: 2000, SleepHoursLastNight: 5.0}
	first := HealthScore(h)
	for i := 0; i < 10; i++ {
		if got := HealthScore(h); got != first {
			t.Fatalf("HealthScore not reproducible: %d then %d", first, got)
		}
	}
}

func TestHealthSuggestion(t *testing.T) {
	tests := []struct {
		name  string
		steps int
		sleep float64
		want  string
	}{
		{
			"both low", 3000, 6.0,
			"You were low on both sleep and activity. Prioritize an early bedtime and a 30-minute walk.",
		},
		{
			"sleep low", 8000, 6.0,
			"Your sleep was low. Try to reduce screen time an hour before bed.",
		},
		{
			"steps low", 3000, 8.0,
			"Your steps are low. Incorporate a short walk during lunch today.",
		},
		{
			"all good", 10000, 8.0,
			"Your health metrics look good! Keep up the great work.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := types.HealthSnapshot{StepsToday: tt.steps, SleepHoursLastNight: tt.sleep}
			if got := healthSuggestion(h); got != tt.want {
				t.Errorf("healthSuggestion() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHealthAnalyze_NoModel(t *testing.T) {
	a := NewHealthAgent(nil, "", nil)
	got := a.Analyze(context.Background(), types.UserContext{
		Health: types.HealthSnapshot{StepsToday: 2000, SleepHoursLastNight: 5.0},
	})
	if got.HealthScore != 41 {
		t.Errorf("HealthScore = %d, want 41", got.HealthScore)
	}
	if got.HealthSuggestion == "" {
		t.Error("HealthSuggestion is empty")
	}
}

func TestHealthAnalyze_ModelFailureDoesNotChangeResult(t *testing.T) {
	fake := &fakeLLM{err: errors.New("model down")}
	a := NewHealthAgent(fake, "", nil)
	got := a.Analyze(context.Background(), types.UserContext{
		Health: types.HealthSnapshot{StepsToday: 10000, SleepHoursLastNight: 8.0},
	})
	if got.HealthScore != 100 {
		t.Errorf("HealthScore = %d, want 100", got.HealthScore)
	}
	if fake.requestCount() != 1 {
		t.Errorf("advisory call count = %d, want 1", fake.requestCount())
	}
}
