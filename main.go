package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"

	"mutation-queue/internal/app"
	"mutation-queue/internal/config"
	"mutation-queue/internal/connectivity"
	"mutation-queue/internal/handler"
	"mutation-queue/internal/logging"
	"mutation-queue/internal/model"
	"mutation-queue/internal/queue"
	"mutation-queue/internal/storage"
	"mutation-queue/internal/transport"
	"mutation-queue/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	startOffline := flag.Bool("offline", false, "start with connectivity forced off (no health probing)")
	flag.Parse()

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Logging)

	if err := run(cfg, logger, *startOffline); err != nil {
		logger.Error().Err(err).Msg("Mutation queue exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger arbor.ILogger, startOffline bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Durable storage
	backend, err := storage.NewBackend(logger, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer backend.Close()

	store := storage.NewStore(backend, cfg.Storage.QueueKey, logger)
	tokens := storage.NewTokenSource(backend, cfg.Storage.TokenKey, logger)
	q := queue.New(ctx, store, logger)

	// 2. Connectivity
	var sig connectivity.Signal
	switch {
	case startOffline:
		sig = connectivity.NewManual(false)
	case cfg.Connectivity.HealthURL == "":
		sig = connectivity.NewManual(true)
	default:
		monitor := connectivity.NewMonitor(cfg.Connectivity.HealthURL, cfg.ProbeInterval(), cfg.ProbeTimeout(), logger)
		if err := monitor.Start(ctx); err != nil {
			return err
		}
		defer monitor.Stop()
		sig = monitor
	}

	// 3. Dispatcher
	tr := transport.NewHTTPTransport(cfg.Transport.BaseURL,
		transport.WithTimeout(cfg.TransportTimeout()),
		transport.WithRateLimit(cfg.Transport.RateLimit),
		transport.WithLogger(logger),
	)
	opts := []worker.Option{
		worker.WithMaxRetries(cfg.Retry.MaxRetries),
		worker.WithCredentials(tokens),
		worker.WithConnectivity(sig.Online),
		worker.WithDropHandler(func(req model.QueuedRequest, err error) {
			logger.Warn().
				Str("id", req.ID).
				Str("method", req.Method).
				Str("target", req.Target).
				Int("retry_count", req.RetryCount).
				Err(err).
				Msg("Dead-lettered request")
		}),
	}
	if cfg.Retry.ShortCircuitPermanent {
		opts = append(opts, worker.WithFailureClassifier(worker.PermanentHTTPFailure))
	}
	d := worker.NewDispatcher(q, tr, logger, opts...)

	offline := app.New(q, d, sig, logger)
	if err := offline.Start(); err != nil {
		return err
	}
	defer offline.Stop()

	// 4. Admin surface
	mux := http.NewServeMux()
	handler.NewRequestsHandler(offline, logger).Register(mux)
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("storage", cfg.Storage.Type).Msg("Mutation queue started")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
