package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/attune-ai/attune/pkg/gateway/config"
	gatewayserver "github.com/attune-ai/attune/pkg/gateway/server"
	"github.com/attune-ai/attune/pkg/store"
)

func testGatewayConfig() config.Config {
	return config.Config{
		Addr:     "127.0.0.1:0",
		AuthMode: config.AuthModeDisabled,
		APIKeys:  map[string]struct{}{},

		GeminiAPIKey: "k-test",
		LiveModel:    "gemini-2.0-flash-exp",
		AgentModel:   "gemini-2.0-flash-exp",
		Voice:        "Zephyr",

		CORSAllowedOrigins: map[string]struct{}{},
		MaxBodyBytes:       1 << 20,

		SessionMaxDuration:    time.Hour,
		AnalysisInterval:      30 * time.Second,
		ContextInjectInterval: 45 * time.Second,
		WaitTimeoutCap:        time.Hour,

		LiveMaxAudioFrameBytes:  8192,
		LiveMaxJSONMessageBytes: 64 * 1024,
		LiveWSPingInterval:      20 * time.Second,
		LiveWSWriteTimeout:      5 * time.Second,
		SSEPingInterval:         15 * time.Second,

		LimitRPS:              10,
		LimitBurst:            20,
		MaxConcurrentSessions: 4,

		ReadHeaderTimeout:   2 * time.Second,
		ReadTimeout:         30 * time.Second,
		ShutdownGracePeriod: 2 * time.Second,
	}
}

func TestRunMain_ReturnsNonZeroWhenConfigLoadFails(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	exitCode := runMain(context.Background(), &stderr, gatewayDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{}, errors.New("boom")
		},
		openStore: func(context.Context, config.Config, *slog.Logger) (store.Store, func(), error) {
			t.Fatalf("openStore should not be called when config load fails")
			return nil, nil, nil
		},
		newGateway: func(config.Config, *slog.Logger, store.Store) (*gatewayserver.Server, error) {
			t.Fatalf("newGateway should not be called when config load fails")
			return nil, nil
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {},
		signalStop:   func(c chan<- os.Signal) {},
	})

	if exitCode != 1 {
		t.Fatalf("exitCode=%d, want 1", exitCode)
	}
	if got := stderr.String(); got == "" {
		t.Fatalf("expected stderr output for startup error")
	}
}

func TestBuildHTTPServer_UsesConfiguredAddress(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Addr:              "127.0.0.1:9999",
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       3 * time.Second,
	}

	srv := buildHTTPServer(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	if srv.Addr != cfg.Addr {
		t.Fatalf("Addr=%q, want %q", srv.Addr, cfg.Addr)
	}
	if srv.ReadHeaderTimeout != cfg.ReadHeaderTimeout {
		t.Fatalf("ReadHeaderTimeout=%v, want %v", srv.ReadHeaderTimeout, cfg.ReadHeaderTimeout)
	}
	if srv.ReadTimeout != cfg.ReadTimeout {
		t.Fatalf("ReadTimeout=%v, want %v", srv.ReadTimeout, cfg.ReadTimeout)
	}
}

func TestNewGateway_HandlerStackSmoke(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw, err := newGateway(testGatewayConfig(), logger, store.Unconfigured{})
	if err != nil {
		t.Fatalf("newGateway error: %v", err)
	}

	ts := httptest.NewServer(gw.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestRunGateway_StopsOnSignal(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	notified := make(chan struct{})
	var sigCh chan<- os.Signal
	storeClosed := make(chan struct{})

	deps := gatewayDeps{
		loadConfig: func() (config.Config, error) {
			return testGatewayConfig(), nil
		},
		openStore: func(context.Context, config.Config, *slog.Logger) (store.Store, func(), error) {
			return store.Unconfigured{}, func() { close(storeClosed) }, nil
		},
		newGateway: newGateway,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			sigCh = c
			close(notified)
		},
		signalStop: func(c chan<- os.Signal) {},
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- runGateway(context.Background(), logger, deps)
	}()

	select {
	case <-notified:
	case <-time.After(5 * time.Second):
		t.Fatal("runGateway never registered for signals")
	}
	sigCh <- syscall.SIGTERM

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("runGateway error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("runGateway did not stop after signal")
	}

	select {
	case <-storeClosed:
	case <-time.After(time.Second):
		t.Fatal("store was not closed on shutdown")
	}
}
