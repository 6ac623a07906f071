// Package postgres backs the store interfaces with a Postgres database via
// pgx. Schema setup lives in embedded goose migrations; call Migrate before
// Open in any binary that owns the schema.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/attune-ai/attune/pkg/store"
)

// DB implements store.Store over a pgx connection pool.
type DB struct {
	pool *pgxpool.Pool
}

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &DB{pool: pool}, nil
}

func (d *DB) Close() {
	d.pool.Close()
}

func (d *DB) UserInterests(ctx context.Context, userName string) (string, error) {
	var interests string
	err := d.pool.QueryRow(ctx,
		`SELECT interests FROM user_interests WHERE user_name = $1`,
		userName,
	).Scan(&interests)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query user interests: %w", err)
	}
	return interests, nil
}

func (d *DB) UpcomingEvents(ctx context.Context, interests []string, after time.Time) ([]store.SocialEvent, error) {
	tags := normalizeTags(interests)
	if len(tags) == 0 {
		return nil, nil
	}

	rows, err := d.pool.Query(ctx,
		`SELECT interest_tag, event_name, date, location, COALESCE(description, '')
		 FROM social_events
		 WHERE interest_tag = ANY($1) AND date > $2
		 ORDER BY date, event_name`,
		tags, after.Format("2006-01-02"),
	)
	if err != nil {
		return nil, fmt.Errorf("query social events: %w", err)
	}
	defer rows.Close()

	var events []store.SocialEvent
	for rows.Next() {
		var ev store.SocialEvent
		if err := rows.Scan(&ev.Interest, &ev.Name, &ev.Date, &ev.Location, &ev.Description); err != nil {
			return nil, fmt.Errorf("scan social event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate social events: %w", err)
	}
	return events, nil
}

func (d *DB) UpsertEvent(ctx context.Context, ev store.SocialEvent) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO social_events (event_name, date, location, interest_tag, description)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''))
		 ON CONFLICT (event_name, date) DO UPDATE
		 SET location = EXCLUDED.location,
		     interest_tag = EXCLUDED.interest_tag,
		     description = EXCLUDED.description`,
		ev.Name, ev.Date, ev.Location, strings.ToLower(strings.TrimSpace(ev.Interest)), ev.Description,
	)
	if err != nil {
		return fmt.Errorf("upsert social event: %w", err)
	}
	return nil
}

func (d *DB) SaveConversation(ctx context.Context, userName, text string) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO conversations (user_name, conversation_text) VALUES ($1, $2)`,
		userName, text,
	)
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

func (d *DB) LatestDailyHealth(ctx context.Context, userID string) (*store.DailyHealth, error) {
	var row store.DailyHealth
	err := d.pool.QueryRow(ctx,
		`SELECT date, steps, active_energy_kcal, sleep_hours, stand_hours, resting_hr, mindfulness_minutes
		 FROM apple_health_daily
		 WHERE user_id = $1
		 ORDER BY date DESC
		 LIMIT 1`,
		userID,
	).Scan(&row.Date, &row.Steps, &row.ActiveEnergyKcal, &row.SleepHours, &row.StandHours, &row.RestingHR, &row.MindfulnessMinutes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query latest daily health: %w", err)
	}
	return &row, nil
}

func (d *DB) DailyHealthRange(ctx context.Context, userID string, days int) ([]store.DailyHealth, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT date, steps, active_energy_kcal, sleep_hours, stand_hours, resting_hr, mindfulness_minutes
		 FROM apple_health_daily
		 WHERE user_id = $1
		 ORDER BY date DESC
		 LIMIT $2`,
		userID, days,
	)
	if err != nil {
		return nil, fmt.Errorf("query daily health range: %w", err)
	}
	defer rows.Close()

	var out []store.DailyHealth
	for rows.Next() {
		var row store.DailyHealth
		if err := rows.Scan(&row.Date, &row.Steps, &row.ActiveEnergyKcal, &row.SleepHours, &row.StandHours, &row.RestingHR, &row.MindfulnessMinutes); err != nil {
			return nil, fmt.Errorf("scan daily health: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily health: %w", err)
	}
	return out, nil
}

// normalizeTags lowercases and trims interest tags, dropping empties. Stored
// interest_tag values are lowercase by convention.
func normalizeTags(interests []string) []string {
	tags := make([]string, 0, len(interests))
	for _, raw := range interests {
		if tag := strings.ToLower(strings.TrimSpace(raw)); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}
