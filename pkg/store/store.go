// Package store defines the persistence interfaces the agents and gateway
// consume. Implementations live in subpackages; callers treat every method
// as fallible and degrade rather than fail.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound reports that the requested row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrUnavailable reports that no backing store is configured.
	ErrUnavailable = errors.New("store: unavailable")
)

// SocialEvent is one upcoming event matched to a user interest.
type SocialEvent struct {
	Interest    string `json:"interest"`
	Name        string `json:"name"`
	Date        string `json:"date"`
	Location    string `json:"location"`
	Description string `json:"description,omitempty"`
}

// DailyHealth is one day of device health metrics.
type DailyHealth struct {
	Date               string  `json:"date"`
	Steps              int     `json:"steps"`
	ActiveEnergyKcal   float64 `json:"active_energy_kcal"`
	SleepHours         float64 `json:"sleep_hours"`
	StandHours         int     `json:"stand_hours"`
	RestingHR          int     `json:"resting_hr"`
	MindfulnessMinutes int     `json:"mindfulness_minutes"`
}

// ProfileStore resolves a user's stored interests as a comma-separated list.
type ProfileStore interface {
	UserInterests(ctx context.Context, userName string) (string, error)
}

// EventsStore finds upcoming events for a set of interest tags. Only events
// strictly after the given date are returned.
type EventsStore interface {
	UpcomingEvents(ctx context.Context, interests []string, after time.Time) ([]SocialEvent, error)
}

// EventsWriter ingests events, keyed by name and date.
type EventsWriter interface {
	UpsertEvent(ctx context.Context, ev SocialEvent) error
}

// ConversationStore persists conversation transcripts. Saving is best-effort
// for callers; an error must never abort a session.
type ConversationStore interface {
	SaveConversation(ctx context.Context, userName, text string) error
}

// HealthStore reads device health history.
type HealthStore interface {
	LatestDailyHealth(ctx context.Context, userID string) (*DailyHealth, error)
	DailyHealthRange(ctx context.Context, userID string, days int) ([]DailyHealth, error)
}

// Store bundles every read/write surface a fully configured backend offers.
type Store interface {
	ProfileStore
	EventsStore
	ConversationStore
	HealthStore
}

// Unconfigured satisfies Store without any backend. Every call reports
// ErrUnavailable, which pushes the agents onto their fallback paths. Used
// when the gateway runs without a database.
type Unconfigured struct{}

func (Unconfigured) UserInterests(context.Context, string) (string, error) {
	return "", ErrUnavailable
}

func (Unconfigured) UpcomingEvents(context.Context, []string, time.Time) ([]SocialEvent, error) {
	return nil, ErrUnavailable
}

func (Unconfigured) SaveConversation(context.Context, string, string) error {
	return ErrUnavailable
}

func (Unconfigured) LatestDailyHealth(context.Context, string) (*DailyHealth, error) {
	return nil, ErrUnavailable
}

func (Unconfigured) DailyHealthRange(context.Context, string, int) ([]DailyHealth, error) {
	return nil, ErrUnavailable
}
