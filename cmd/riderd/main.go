package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-client/internal/auth"
	"github.com/example/ride-client/internal/booking"
	"github.com/example/ride-client/internal/config"
	"github.com/example/ride-client/internal/history"
	"github.com/example/ride-client/internal/kvstore"
	"github.com/example/ride-client/internal/logging"
	"github.com/example/ride-client/internal/models"
	"github.com/example/ride-client/internal/pipeline"
	"github.com/example/ride-client/internal/ride"
	"github.com/example/ride-client/internal/route"
	"github.com/example/ride-client/internal/statusapi"
	"github.com/example/ride-client/internal/telemetry"
)

func main() {
	cfg, err := config.LoadClientConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("config_invalid", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// token storage: redis when configured so the session survives restarts
	var store kvstore.Store
	if cfg.RedisAddr != "" {
		rs := kvstore.NewRedis(cfg.RedisAddr, cfg.RedisPassword)
		if err := rs.Ping(ctx); err != nil {
			logger.Error("redis_unreachable", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		defer rs.Close()
		store = rs
	} else {
		store = kvstore.NewMemory()
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	tokens := auth.NewManager(store, cfg.APIBaseURL, httpClient, logger)
	pipe := pipeline.New(cfg.APIBaseURL, tokens, httpClient, logger)

	routes := route.NewProvider(pipe, cfg.FallbackSpeedMps, route.NewCache(30*time.Second), logger)

	var payments booking.Payments
	if cfg.StripeAPIKey != "" {
		payments = booking.NewStripePayments(cfg.StripeAPIKey)
	}
	coord := booking.NewCoordinator(pipe, routes, payments, logger)

	hist := openHistory(cfg, logger)

	var events *telemetry.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		events = telemetry.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer events.Close()
	}

	orch := ride.New(&ride.PipelinePoller{Pipe: pipe}, coord, ride.Config{
		PollInterval:  cfg.PollInterval,
		SearchTimeout: cfg.SearchTimeout,
		HandoffDelay:  cfg.HandoffDelay,
		SimTick:       cfg.SimTick,
		SimSpeedMps:   cfg.SimSpeedMps,
	}, logger)

	api := statusapi.NewServer(coord, orch, tokens, routes, hist, logger)

	orch.OnChange = api.Broadcast
	orch.OnNoDriver = func(rideID string) {
		logger.Warn("still_searching", "ride_id", rideID)
	}
	orch.OnHandoff = func(snap models.RideSnapshot) {
		hctx, cancel := context.WithTimeout(context.Background(), cfg.HTTPTimeout)
		defer cancel()
		coord.CompletePayment(hctx, snap.RideID)
		logger.Info("ride_summary_ready", "ride_id", snap.RideID)
	}
	orch.OnTransition = func(snap models.RideSnapshot, from, to models.RidePhase) {
		if events != nil {
			if err := events.PublishTransition(snap.RideID, from, to); err != nil {
				logger.Warn("telemetry_publish_failed", "ride_id", snap.RideID, "error", err)
			}
		}
		if !to.Terminal() {
			return
		}
		hctx, cancel := context.WithTimeout(context.Background(), cfg.HTTPTimeout)
		defer cancel()
		if to == models.PhaseCancelled {
			// covers cancellations the server reported first, where the
			// coordinator's own cancel path never ran
			coord.ReleaseHold(hctx, snap.RideID)
		}
		if b, ok := coord.Current(); ok && b.RideID == snap.RideID {
			rec := &history.RideRecord{
				RideID:     b.RideID,
				Pickup:     b.Pickup,
				Dropoff:    b.Dropoff,
				RideType:   b.RideType,
				FareAmount: b.Fare.Amount,
				Phase:      to,
				StartedAt:  b.CreatedAt,
				EndedAt:    time.Now(),
			}
			if err := hist.SaveRide(hctx, rec); err != nil {
				logger.Warn("history_save_failed", "ride_id", b.RideID, "error", err)
			}
		}
	}

	srv := &http.Server{
		Addr:         cfg.StatusAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	go func() {
		logger.Info("status_api_listening", "addr", cfg.StatusAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status_api_stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown_incomplete", "error", err)
	}
	orch.Stop()
}

func openHistory(cfg config.ClientConfig, logger *slog.Logger) history.Store {
	if cfg.PGDSN == "" {
		return history.NewMemoryStore()
	}
	if cfg.RunMigrations {
		if db, err := sql.Open("postgres", cfg.PGDSN); err == nil {
			if b, err := os.ReadFile(filepath.Join("migrations", "001_create_ride_history.sql")); err == nil {
				if _, err := db.Exec(string(b)); err != nil {
					logger.Warn("migration_exec_error", "error", err)
				} else {
					logger.Info("migration_applied", "file", "001_create_ride_history.sql")
				}
			}
			_ = db.Close()
		} else {
			logger.Warn("migration_db_open_error", "error", err)
		}
	}
	ps, err := history.NewPostgresStore(cfg.PGDSN)
	if err != nil {
		logger.Warn("postgres_unavailable_using_memory", "error", err)
		return history.NewMemoryStore()
	}
	return ps
}
