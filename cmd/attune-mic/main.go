// Command attune-mic runs a voice session against an attune gateway using
// the local microphone and speaker. It starts a stream-mode session over
// HTTP, attaches to its live WebSocket, and prints transcripts as the
// conversation runs. Ctrl-C asks the gateway to wrap up the session.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/attune-ai/attune/internal/dotenv"
)

const defaultBaseURL = "http://127.0.0.1:8080"

type micConfig struct {
	BaseURL string
	Name    string
	Mood    string
	APIKey  string
	Verbose bool
}

func parseMicConfig(args []string, getenv func(string) string) (micConfig, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	cfg := micConfig{}
	fs := flag.NewFlagSet("attune-mic", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.BaseURL, "base-url", defaultBaseURL, "attune gateway base URL")
	fs.StringVar(&cfg.Name, "name", "", "user name for the session")
	fs.StringVar(&cfg.Mood, "mood", "", "optional mood descriptor shared with the companion")
	fs.StringVar(&cfg.APIKey, "api-key", strings.TrimSpace(getenv("ATTUNE_API_KEY")), "optional gateway api key (or ATTUNE_API_KEY)")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "print analysis and context updates as they arrive")

	if err := fs.Parse(args); err != nil {
		return micConfig{}, err
	}
	if err := validateMicConfig(cfg); err != nil {
		return micConfig{}, err
	}
	return cfg, nil
}

func validateMicConfig(cfg micConfig) error {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return errors.New("base-url must not be empty")
	}
	baseURL, err := url.Parse(base)
	if err != nil || baseURL.Host == "" {
		return errors.New("base-url must be a valid absolute URL")
	}
	switch baseURL.Scheme {
	case "http", "https":
	default:
		return errors.New("base-url scheme must be http or https")
	}
	if baseURL.User != nil {
		return errors.New("base-url must not include credentials")
	}
	if strings.TrimSpace(cfg.Name) == "" {
		return errors.New("name is required (who is the session for?)")
	}
	return nil
}

func main() {
	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "attune-mic: %v\n", err)
		os.Exit(1)
	}

	cfg, err := parseMicConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "attune-mic: %v\n", err)
		os.Exit(1)
	}

	logLevel := slog.LevelWarn
	if cfg.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runMic(ctx, cfg, defaultMicDeps(logger), os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "attune-mic: %v\n", err)
		os.Exit(1)
	}
}
