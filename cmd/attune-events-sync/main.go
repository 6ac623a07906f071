// Command attune-events-sync pulls upcoming events from the Ticketmaster
// Discovery API and upserts them into the social_events table, where the
// social agent matches them against user interests.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/attune-ai/attune/internal/dotenv"
	"github.com/attune-ai/attune/pkg/events/ticketmaster"
	"github.com/attune-ai/attune/pkg/store"
	"github.com/attune-ai/attune/pkg/store/postgres"
)

type syncConfig struct {
	Lat      float64
	Lon      float64
	RadiusKm float64
	Keyword  string
	Interest string
	Size     int
	DryRun   bool

	TicketmasterAPIKey string
	DatabaseURL        string
}

func parseSyncConfig(args []string, getenv func(string) string) (syncConfig, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	cfg := syncConfig{}
	fs := flag.NewFlagSet("attune-events-sync", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.Float64Var(&cfg.Lat, "lat", 0, "search latitude")
	fs.Float64Var(&cfg.Lon, "lon", 0, "search longitude")
	fs.Float64Var(&cfg.RadiusKm, "radius-km", 25, "search radius in km")
	fs.StringVar(&cfg.Keyword, "keyword", "", "Discovery keyword filter")
	fs.StringVar(&cfg.Interest, "interest", "", "interest tag to store the events under (defaults to the keyword)")
	fs.IntVar(&cfg.Size, "size", 20, "maximum events to fetch")
	fs.BoolVar(&cfg.DryRun, "dry-run", false, "print the rows instead of writing them")

	if err := fs.Parse(args); err != nil {
		return syncConfig{}, err
	}

	seen := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { seen[f.Name] = true })
	if !seen["lat"] || !seen["lon"] {
		return syncConfig{}, errors.New("lat and lon are required")
	}

	cfg.TicketmasterAPIKey = strings.TrimSpace(getenv("TICKETMASTER_API_KEY"))
	cfg.DatabaseURL = strings.TrimSpace(getenv("ATTUNE_DATABASE_URL"))
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = strings.TrimSpace(getenv("DATABASE_URL"))
	}

	if err := validateSyncConfig(cfg); err != nil {
		return syncConfig{}, err
	}
	return cfg, nil
}

func validateSyncConfig(cfg syncConfig) error {
	if cfg.Lat < -90 || cfg.Lat > 90 {
		return errors.New("lat must be between -90 and 90")
	}
	if cfg.Lon < -180 || cfg.Lon > 180 {
		return errors.New("lon must be between -180 and 180")
	}
	if cfg.Size <= 0 || cfg.Size > 200 {
		return errors.New("size must be between 1 and 200")
	}
	if strings.TrimSpace(cfg.Keyword) == "" && strings.TrimSpace(cfg.Interest) == "" {
		return errors.New("at least one of keyword or interest is required")
	}
	if cfg.TicketmasterAPIKey == "" {
		return errors.New("TICKETMASTER_API_KEY is required")
	}
	if !cfg.DryRun && cfg.DatabaseURL == "" {
		return errors.New("ATTUNE_DATABASE_URL is required (or pass -dry-run)")
	}
	return nil
}

// interestTag is the tag rows are stored under: the explicit -interest flag,
// falling back to the search keyword. Matching in the store is
// case-insensitive on lowercase tags.
func (c syncConfig) interestTag() string {
	tag := strings.TrimSpace(c.Interest)
	if tag == "" {
		tag = strings.TrimSpace(c.Keyword)
	}
	return strings.ToLower(tag)
}

// mapEvent turns one Discovery result into a social_events row. Events
// without a name or a resolvable date are skipped.
func mapEvent(ev ticketmaster.Event, interest string) (store.SocialEvent, bool) {
	name := strings.TrimSpace(ev.Name)
	if name == "" {
		return store.SocialEvent{}, false
	}

	date := strings.TrimSpace(ev.LocalDate)
	if date == "" && ev.StartDateTime != "" {
		if t, err := time.Parse(time.RFC3339, ev.StartDateTime); err == nil {
			date = t.Format("2006-01-02")
		}
	}
	if date == "" {
		return store.SocialEvent{}, false
	}

	location := ev.VenueName
	if ev.City != "" {
		if location != "" {
			location += ", "
		}
		location += ev.City
	}

	desc := ev.Segment
	if ev.Genre != "" && !strings.EqualFold(ev.Genre, ev.Segment) {
		if desc != "" {
			desc += " / "
		}
		desc += ev.Genre
	}
	if ev.URL != "" {
		if desc != "" {
			desc += " "
		}
		desc += ev.URL
	}

	return store.SocialEvent{
		Interest:    interest,
		Name:        name,
		Date:        date,
		Location:    location,
		Description: desc,
	}, true
}

// eventsSink is the slice of the store the sync writes through.
type eventsSink interface {
	store.EventsWriter
	Close()
}

type syncDeps struct {
	search    func(context.Context, ticketmaster.Query) ([]ticketmaster.Event, error)
	openStore func(context.Context, string) (eventsSink, error)
}

func defaultSyncDeps(cfg syncConfig) syncDeps {
	client := ticketmaster.New(cfg.TicketmasterAPIKey)
	return syncDeps{
		search: client.Search,
		openStore: func(ctx context.Context, databaseURL string) (eventsSink, error) {
			if err := postgres.Migrate(ctx, databaseURL); err != nil {
				return nil, fmt.Errorf("migrate database: %w", err)
			}
			db, err := postgres.Open(ctx, databaseURL)
			if err != nil {
				return nil, err
			}
			return db, nil
		},
	}
}

func runSync(ctx context.Context, cfg syncConfig, deps syncDeps, out io.Writer) error {
	if deps.search == nil {
		return errors.New("missing search dependency")
	}
	if !cfg.DryRun && deps.openStore == nil {
		return errors.New("missing openStore dependency")
	}

	events, err := deps.search(ctx, ticketmaster.Query{
		Lat:      cfg.Lat,
		Lon:      cfg.Lon,
		RadiusKm: cfg.RadiusKm,
		Keyword:  cfg.Keyword,
		Size:     cfg.Size,
	})
	if err != nil {
		return fmt.Errorf("search events: %w", err)
	}

	interest := cfg.interestTag()
	rows := make([]store.SocialEvent, 0, len(events))
	skipped := 0
	for _, ev := range events {
		row, ok := mapEvent(ev, interest)
		if !ok {
			skipped++
			continue
		}
		rows = append(rows, row)
	}

	if cfg.DryRun {
		for _, row := range rows {
			fmt.Fprintf(out, "%s  %s  %s  (%s)\n", row.Date, row.Name, row.Location, row.Interest)
		}
		fmt.Fprintf(out, "dry run: %d events matched, %d skipped\n", len(rows), skipped)
		return nil
	}

	sink, err := deps.openStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer sink.Close()

	stored := 0
	for _, row := range rows {
		if err := sink.UpsertEvent(ctx, row); err != nil {
			return fmt.Errorf("upsert %q: %w", row.Name, err)
		}
		stored++
	}

	fmt.Fprintf(out, "synced %d events under %q, %d skipped\n", stored, interest, skipped)
	return nil
}

func main() {
	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "attune-events-sync: %v\n", err)
		os.Exit(1)
	}

	cfg, err := parseSyncConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "attune-events-sync: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := runSync(ctx, cfg, defaultSyncDeps(cfg), os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "attune-events-sync: %v\n", err)
		os.Exit(1)
	}
}
