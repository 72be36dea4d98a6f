// Segue - Concert Setlist Stream Analytics
// Copyright 2026 Setlist Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/setlistlab/segue

// Package api exposes the HTTP surface: the ingestion boundary and the
// read-only query layer over published aggregate snapshots. Query handlers
// never touch pipeline locks; they read the snapshot the engine last
// published.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/setlistlab/segue/internal/aggregate"
	"github.com/setlistlab/segue/internal/canonical"
	"github.com/setlistlab/segue/internal/config"
	"github.com/setlistlab/segue/internal/deadletter"
	"github.com/setlistlab/segue/internal/ingest"
	"github.com/setlistlab/segue/internal/metrics"
)

// Publisher submits gated payloads to the stream. The pipeline implements
// it; tests substitute a capture.
type Publisher interface {
	PublishShow(raw json.RawMessage) error
	PublishEntry(raw json.RawMessage) error
}

// Server holds the HTTP handlers' dependencies.
type Server struct {
	cfg    *config.Config
	gate   *ingest.Gate
	pub    Publisher
	coord  *canonical.Coordinator
	engine *aggregate.Engine
	sink   *deadletter.Sink
}

// NewServer builds the HTTP layer over the running pipeline components.
func NewServer(
	cfg *config.Config,
	gate *ingest.Gate,
	pub Publisher,
	coord *canonical.Coordinator,
	engine *aggregate.Engine,
	sink *deadletter.Sink,
) *Server {
	return &Server{cfg: cfg, gate: gate, pub: pub, coord: coord, engine: engine, sink: sink}
}

// Router assembles the chi routing tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.API.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	if s.cfg.API.RateLimitReqs > 0 {
		r.Use(httprate.LimitByIP(s.cfg.API.RateLimitReqs, s.cfg.API.RateLimitWindow))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/ingest/shows", s.timed("ingest_shows", s.IngestShow))
		r.Post("/ingest/entries", s.timed("ingest_entries", s.IngestEntry))

		r.Get("/song-stats", s.timed("song_stats", s.SongStats))
		r.Get("/shows", s.timed("shows", s.Shows))
		r.Get("/shows/{showID}/entries", s.timed("show_entries", s.ShowEntries))
		r.Get("/venue-stats", s.timed("venue_stats", s.VenueStats))
		r.Get("/daily-stats", s.timed("daily_stats", s.DailyStats))
		r.Get("/song-transitions", s.timed("song_transitions", s.SongTransitions))
		r.Get("/deadletter", s.timed("deadletter", s.DeadLetters))

		r.Get("/health", s.Health)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// timed wraps a handler with the query latency histogram.
func (s *Server) timed(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		h(w, r)
		metrics.QueryDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}
