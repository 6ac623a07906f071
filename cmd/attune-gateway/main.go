package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/attune-ai/attune/internal/dotenv"
	"github.com/attune-ai/attune/pkg/core/agents"
	"github.com/attune-ai/attune/pkg/core/audio"
	"github.com/attune-ai/attune/pkg/core/providers/gemini"
	"github.com/attune-ai/attune/pkg/core/session"
	"github.com/attune-ai/attune/pkg/core/types"
	"github.com/attune-ai/attune/pkg/gateway/config"
	"github.com/attune-ai/attune/pkg/gateway/live"
	"github.com/attune-ai/attune/pkg/gateway/live/sessions"
	"github.com/attune-ai/attune/pkg/gateway/metrics"
	gatewayserver "github.com/attune-ai/attune/pkg/gateway/server"
	"github.com/attune-ai/attune/pkg/store"
	"github.com/attune-ai/attune/pkg/store/postgres"
)

type gatewayDeps struct {
	loadConfig   func() (config.Config, error)
	openStore    func(context.Context, config.Config, *slog.Logger) (store.Store, func(), error)
	newGateway   func(config.Config, *slog.Logger, store.Store) (*gatewayserver.Server, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultGatewayDeps() gatewayDeps {
	return gatewayDeps{
		loadConfig: config.LoadFromEnv,
		openStore:  openStore,
		newGateway: newGateway,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

// openStore migrates and connects to Postgres when a DSN is configured. With
// no DSN the gateway keeps working and the agents fall back to their
// built-in defaults.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("no database configured, running without persistence")
		return store.Unconfigured{}, func() {}, nil
	}

	if err := postgres.Migrate(ctx, cfg.DatabaseURL); err != nil {
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	logger.Info("connected to postgres")
	return db, db.Close, nil
}

func newGateway(cfg config.Config, logger *slog.Logger, st store.Store) (*gatewayserver.Server, error) {
	opts := []gemini.Option{gemini.WithLogger(logger)}
	if cfg.GeminiBaseURL != "" {
		opts = append(opts, gemini.WithBaseURL(cfg.GeminiBaseURL))
	}
	provider := gemini.New(cfg.GeminiAPIKey, opts...)

	m := metrics.New("attune")
	registry := sessions.NewRegistry()
	launcher, err := live.NewLauncher(live.Config{
		LiveModel:          cfg.LiveModel,
		Voice:              cfg.Voice,
		AnalysisInterval:   cfg.AnalysisInterval,
		ContextInterval:    cfg.ContextInjectInterval,
		MaxSessionDuration: cfg.SessionMaxDuration,
	}, live.Dependencies{
		Logger:    logger,
		Registry:  registry,
		Store:     st,
		Stats:     m,
		Sentiment: agents.NewSentimentAgent(provider, cfg.AgentModel, logger),
		Social:    agents.NewSocialAgent(provider, cfg.AgentModel, st, st, logger),
		Health:    agents.NewHealthAgent(provider, cfg.AgentModel, logger),
		Connect: func(ctx context.Context, liveCfg gemini.LiveConfig) (session.LiveChannel, error) {
			ls, err := provider.ConnectLive(ctx, liveCfg)
			if err != nil {
				return nil, err
			}
			return session.GeminiChannel{Session: ls}, nil
		},
		NewDeviceAudio: func() session.AudioDuplexer {
			return audio.NewDevices(logger)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("build session launcher: %w", err)
	}

	return gatewayserver.New(cfg, logger, gatewayserver.Dependencies{
		Launcher: launcher,
		Registry: registry,
		Store:    st,
		Metrics:  m,
	}), nil
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func runGateway(ctx context.Context, logger *slog.Logger, deps gatewayDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.openStore == nil {
		return errors.New("missing openStore dependency")
	}
	if deps.newGateway == nil {
		return errors.New("missing newGateway dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, closeStore, err := deps.openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	gw, err := deps.newGateway(cfg, logger, st)
	if err != nil {
		return fmt.Errorf("build gateway: %w", err)
	}
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting gateway", "addr", cfg.Addr, "auth_mode", cfg.AuthMode, "live_model", cfg.LiveModel)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	// Stop admitting new sessions, then give the running ones the grace
	// period to wrap up on their own before forcing the issue. Sessions
	// must end before Shutdown: their event streams hold the HTTP
	// connections Shutdown waits on.
	gw.SetDraining()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	if !gw.WaitLiveSessions(waitCtx) {
		n := gw.EndLiveSessions(types.EndUserInterrupted)
		logger.Warn("grace period expired, ending live sessions", "count", n)

		endCtx, endCancel := context.WithTimeout(context.Background(), 5*time.Second)
		gw.WaitLiveSessions(endCtx)
		endCancel()
	}
	waitCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("gateway stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps gatewayDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "attune-gateway: %v\n", err)
		return 1
	}

	if err := runGateway(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "attune-gateway: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultGatewayDeps()))
}
