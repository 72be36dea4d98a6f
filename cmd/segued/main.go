// Segue - Concert Setlist Stream Analytics
// Copyright 2026 Setlist Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/setlistlab/segue

// Command segued runs the setlist stream engine: ingestion gate, dedup
// coordinator, enrichment, transition detection and the aggregation
// views, behind one HTTP surface.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/setlistlab/segue/internal/aggregate"
	"github.com/setlistlab/segue/internal/api"
	"github.com/setlistlab/segue/internal/canonical"
	"github.com/setlistlab/segue/internal/config"
	"github.com/setlistlab/segue/internal/deadletter"
	"github.com/setlistlab/segue/internal/enrich"
	"github.com/setlistlab/segue/internal/ingest"
	"github.com/setlistlab/segue/internal/logging"
	"github.com/setlistlab/segue/internal/pipeline"
	"github.com/setlistlab/segue/internal/supervisor"
	"github.com/setlistlab/segue/internal/transition"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "segued: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})
	logging.Info().
		Str("component", "main").
		Int("workers", cfg.Pipeline.Workers).
		Str("listen", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)).
		Msg("Starting segued")

	sink, err := deadletter.NewSink(cfg.DeadLetter)
	if err != nil {
		return fmt.Errorf("create dead-letter sink: %w", err)
	}
	defer func() {
		if cerr := sink.Close(); cerr != nil {
			logging.Error().Err(cerr).Msg("Dead-letter sink close failed")
		}
	}()

	engine := aggregate.NewEngine(sink)
	coord := canonical.NewCoordinator(cfg.Coordinator, sink)
	enricher := enrich.NewEnricher(cfg.Enrich, engine)
	detector := transition.NewDetector(cfg.Transitions)
	gate := ingest.NewGate(sink)
	proc := pipeline.NewProcessor(cfg.Pipeline, coord, enricher, detector, engine, sink)

	pipe, err := pipeline.New(cfg, gate, coord, proc, engine, sink)
	if err != nil {
		return fmt.Errorf("assemble pipeline: %w", err)
	}
	defer func() {
		if cerr := pipe.Close(); cerr != nil {
			logging.Error().Err(cerr).Msg("Pipeline close failed")
		}
	}()

	server := api.NewServer(cfg, gate, pipe, coord, engine, sink)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           server.Router(),
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	tree := supervisor.NewTree(
		slog.New(slog.NewJSONHandler(os.Stderr, nil)),
		supervisor.TreeConfig{ShutdownTimeout: cfg.Server.ShutdownTimeout},
	)
	tree.AddDataService(supervisor.NewFuncService("deadletter-janitor", func(ctx context.Context) error {
		sink.RunJanitor(ctx)
		return ctx.Err()
	}))
	tree.AddProcessingService(pipe)
	tree.AddAPIService(supervisor.NewHTTPService(httpServer, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = tree.Serve(ctx)
	if err != nil && err != context.Canceled {
		return fmt.Errorf("supervisor: %w", err)
	}

	logging.Info().Str("component", "main").Msg("Shutdown complete")
	return nil
}
