package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/ride-passenger/internal/api"
	"github.com/example/ride-passenger/internal/channel"
	"github.com/example/ride-passenger/internal/config"
	"github.com/example/ride-passenger/internal/fare"
	"github.com/example/ride-passenger/internal/history"
	httpapi "github.com/example/ride-passenger/internal/http"
	"github.com/example/ride-passenger/internal/ingest"
	"github.com/example/ride-passenger/internal/logging"
	"github.com/example/ride-passenger/internal/passenger"
	"github.com/example/ride-passenger/internal/ride"
	"github.com/example/ride-passenger/internal/routing"
	"github.com/example/ride-passenger/internal/session"
	"github.com/example/ride-passenger/internal/storage"
)

func main() {
	cfg, err := config.LoadClientConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)
	if err := run(cfg, logger); err != nil {
		logger.Error("passenger agent exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.ClientConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("shutdown close failed", "error", err)
			}
		}
	}()

	backend, closeBackend := sessionBackend(cfg)
	if closeBackend != nil {
		closers = append(closers, closeBackend)
	}
	store := session.NewStore(backend, logger)

	src, err := distanceSource(cfg)
	if err != nil {
		return fmt.Errorf("routing provider %s: %w", cfg.RoutingProvider, err)
	}
	estimator := fare.NewEstimator(cfg.FareRatePerKm, routing.Cached{Source: src, Cache: routing.NewCache(cfg.RouteCacheTTL)})

	client := api.NewClient(cfg.APIBaseURL, cfg.APITimeout, logger)

	var historyStore storage.HistoryStore = storage.NewMemoryStore()
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		closers = append(closers, pg.Close)
		historyStore = pg
	}
	var journal history.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		producer := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		closers = append(closers, producer.Close)
		journal = producer
	}
	recorder := history.NewRecorder(historyStore, journal, logger)

	agent := passenger.New(passenger.Config{
		Session: store,
		Backend: client,
		Reauth:  api.TelegramReauth{Client: client, InitData: cfg.TelegramInitData},
		NewChannel: func() passenger.RideChannel {
			return channel.New(channel.Config{
				URL:          cfg.RideSocketURL,
				ReconnectMin: cfg.ReconnectMin,
				ReconnectMax: cfg.ReconnectMax,
				Logger:       logger,
			})
		},
		History: recorder,
		Ride: ride.Config{
			Estimator:      estimator,
			Recorder:       recorder,
			CompletedDelay: cfg.CompletedDisplayDelay,
		},
		OpenMin: cfg.ReconnectMin,
		OpenMax: cfg.ReconnectMax,
		Logger:  logger,
	})
	defer agent.Close()

	gateway := httpapi.NewServer(agent, logger)
	defer gateway.Close()

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      gateway,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	// a failed restore leaves the dashboard up on the sign-in view
	_ = agent.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("passenger dashboard listening", "addr", cfg.HTTPAddr, "routing", cfg.RoutingProvider, "session_backend", cfg.SessionBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown incomplete", "error", err)
	}
	logger.Info("passenger dashboard stopped")
	return serveErr
}

func sessionBackend(cfg config.ClientConfig) (session.Backend, func() error) {
	switch cfg.SessionBackend {
	case config.SessionRedis:
		rb := session.NewRedisBackend(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisSessionKey, 30*24*time.Hour)
		return rb, rb.Close
	case config.SessionMemory:
		return session.NewMemoryBackend(), nil
	default:
		return session.NewFileBackend(cfg.SessionFile), nil
	}
}

func distanceSource(cfg config.ClientConfig) (routing.Source, error) {
	switch cfg.RoutingProvider {
	case config.RoutingOSRM:
		return routing.NewOSRMClient(cfg.OSRMEndpoint), nil
	case config.RoutingGoogle:
		return routing.NewGoogleMaps(cfg.MapsAPIKey)
	default:
		return routing.GreatCircle{}, nil
	}
}
