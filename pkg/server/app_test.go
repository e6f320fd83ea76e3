package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"OptionPull/internal/repository"
	"OptionPull/internal/service/optionchain"
	"OptionPull/internal/services/pricing"
	"OptionPull/internal/usecase"
	"OptionPull/pkg/config"
	xhttp "OptionPull/pkg/http"
	"OptionPull/pkg/metrics"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Default()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.Server.ShutdownTimeout = time.Second
	cfg.Ingest.CycleTimeout = time.Second
	return cfg
}

func TestRunContextStopsLoopAndReleasesStore(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	store, err := repository.NewSnapshotStore(repository.WithDriver("sqlite", ":memory:"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}

	proc := usecase.NewCycleProcessor(optionchain.New(upstream.URL), pricing.NewEngine(pricing.WithPaths(100)),
		store, nil, metrics.Nop{}, "NIFTY", nil)
	loop := usecase.NewIngestionLoop(proc, metrics.Nop{}, 10*time.Millisecond, time.Second)
	app := New(testConfig(t), nil, WithLoop(loop, proc))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.RunContext(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for loop.LastReport() == nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if rep := loop.LastReport(); rep == nil || rep.Result != usecase.ResultFetchFailed {
		t.Fatalf("expected failing cycles to keep the loop alive, got %+v", rep)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("app did not shut down")
	}
	if loop.State() != usecase.StateStopped {
		t.Fatalf("loop still %s", loop.State())
	}
	if err := store.Health(context.Background()); err == nil {
		t.Fatalf("store should be closed on shutdown")
	}
}

func TestRunContextReturnsListenError(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer busy.Close()
	port := busy.Addr().(*net.TCPAddr).Port

	srv := xhttp.NewServer(nil, nil, xhttp.WithHost("127.0.0.1"), xhttp.WithPort(port))
	app := New(testConfig(t), nil, WithHTTPServer(srv, nil))

	done := make(chan error, 1)
	go func() { done <- app.RunContext(context.Background()) }()
	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected the listen error")
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("listen error not propagated")
	}
}
