// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Ava Engage server
//
// Entry point for the sales engagement service. It:
//  1. Loads location and engagement configuration from config.yaml
//  2. Connects to PostgreSQL (OAuth credentials, objection examples) and Redis
//  3. Builds one orchestrator per CRM location
//  4. Serves the LeadConnector webhook, queueing accepted events in Redis
//  5. Consumes queued events and replies to leads
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/avasales/engage/internal/assembler"
	"github.com/avasales/engage/internal/config"
	"github.com/avasales/engage/internal/credential"
	"github.com/avasales/engage/internal/dedup"
	"github.com/avasales/engage/internal/metrics"
	"github.com/avasales/engage/internal/objection"
	"github.com/avasales/engage/internal/orchestrator"
	"github.com/avasales/engage/internal/queue"
	"github.com/avasales/engage/internal/session"
	"github.com/avasales/engage/internal/webhook"
)

func main() {
	// Configuration comes first so the log level can be applied.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	slog.Info("starting engage server",
		"locations", len(cfg.Locations),
		"llm_provider", cfg.LLM.Provider,
		"objections", cfg.Objections.Enabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Metrics ---
	metricsHandler, err := metrics.InitMeterProvider(ctx, "engage")
	if err != nil {
		slog.Error("failed to initialise metrics", "error", err)
		os.Exit(1)
	}
	rec, err := metrics.NewRecorder(metrics.Meter())
	if err != nil {
		slog.Error("failed to create metric instruments", "error", err)
		os.Exit(1)
	}

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	publisher := queue.NewPublisher(rdb, cfg.EventsQueue)
	if err := publisher.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	filter := dedup.NewFilter(rdb, cfg.DedupTTL)
	locker := dedup.NewLocker(rdb, dedup.LockerConfig{TTL: cfg.LockTTL, Wait: cfg.LockWait})

	// --- Credential Store (Postgres) ---
	credStore, err := credential.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise credential store", "error", err)
		os.Exit(1)
	}

	// --- LLM Backend ---
	llmClient := session.NewLLM(cfg)

	deps := session.Deps{
		Tokens:    credStore,
		Generator: llmClient,
		Geocoder:  assembler.NewOpenMeteo(cfg.GeocodeURL),
		Metrics:   rec,
	}

	// --- Objection Examples (pgvector) ---
	if cfg.Objections.Enabled {
		store, err := objection.NewStore(ctx, pgPool, llmClient)
		if err != nil {
			slog.Error("failed to initialise objection store", "error", err)
			os.Exit(1)
		}
		deps.Augmenter = objection.NewAugmenter(llmClient, store, objection.Config{
			Threshold: &cfg.Objections.Threshold,
			TopK:      cfg.Objections.TopK,
		})
	}

	// --- Location Sessions ---
	sessions, err := session.BuildAll(ctx, cfg, deps)
	if err != nil {
		slog.Error("failed to build location sessions", "error", err)
		os.Exit(1)
	}
	router := orchestrator.NewRouter(locker, sessions...)

	// --- Event Consumer ---
	consumer := queue.NewConsumer(rdb, cfg.EventsQueue, router.Handle)
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		consumer.Run(ctx)
	}()

	// --- Webhook Server ---
	handler := webhook.NewHandler(publisher, filter, cfg.LocationIDs(), rec)
	ready, err := webhook.Serve(ctx, cfg.Port, handler)
	if err != nil {
		slog.Error("failed to start webhook server", "error", err)
		os.Exit(1)
	}
	<-ready
	slog.Info("webhook server ready", "path", webhook.Path, "port", cfg.Port)

	// --- Health Check Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		// Check Redis
		if err := publisher.Ping(r.Context()); err != nil {
			http.Error(w, "redis unhealthy", http.StatusServiceUnavailable)
			return
		}
		// Check Postgres
		if err := pgPool.Ping(r.Context()); err != nil {
			http.Error(w, "postgres unhealthy", http.StatusServiceUnavailable)
			return
		}
		depth, err := publisher.Depth(r.Context())
		if err != nil {
			http.Error(w, "redis unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status": "healthy", "queue_depth": %d}`, depth)
	})
	mux.Handle("/metrics", metricsHandler)

	addr := fmt.Sprintf(":%d", cfg.HealthPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// --- Graceful Shutdown ---
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)
		cancel() // Stops the webhook server and the consumer

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}

		// Let an in-flight event finish before closing its connections.
		select {
		case <-consumerDone:
		case <-shutdownCtx.Done():
			slog.Warn("consumer did not stop before shutdown timeout")
		}

		rdb.Close()
		pgPool.Close()
	}()

	slog.Info("health server listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	<-stopped
	slog.Info("engage server stopped")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
