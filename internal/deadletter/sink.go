// Segue - Concert Setlist Stream Analytics
// Copyright 2026 Setlist Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/setlistlab/segue

// Package deadletter implements the append-only sink for rejected and
// failed records. A bounded in-memory window serves the query layer;
// Badger persistence, when configured, survives restarts and is written
// behind a circuit breaker so a sick disk never stalls the pipeline.
package deadletter

import (
	"context"
	"sort"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/setlistlab/segue/internal/cache"
	"github.com/setlistlab/segue/internal/config"
	"github.com/setlistlab/segue/internal/logging"
	"github.com/setlistlab/segue/internal/metrics"
	"github.com/setlistlab/segue/internal/models"
)

// Store persists dead letters. The Badger implementation is the only one;
// the interface exists so tests can run without a disk.
type Store interface {
	Put(dl *models.DeadLetter) error
	Close() error
}

// Sink is the single dead-letter entry point for every pipeline stage.
// Record never returns an error: dead-lettering is best effort by design
// and must not become a failure mode of its own.
type Sink struct {
	cfg     config.DeadLetterConfig
	window  *cache.MinHeap[*models.DeadLetter]
	store   Store
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewSink builds a sink. Persistence is enabled when cfg.Path is set;
// otherwise the in-memory window is all there is.
func NewSink(cfg config.DeadLetterConfig) (*Sink, error) {
	s := &Sink{
		cfg:    cfg,
		window: cache.NewMinHeap[*models.DeadLetter](cfg.MaxEntries),
	}

	if cfg.Path != "" {
		store, err := newBadgerStore(cfg.Path, cfg.Retention)
		if err != nil {
			return nil, err
		}
		s.store = store
		s.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:    "deadletter-store",
			Timeout: cfg.BreakerOpenInterval,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(cfg.BreakerMaxFailures)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logging.Warn().
					Str("component", "deadletter").
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("Dead-letter store breaker state changed")
			},
		})
	}

	return s, nil
}

// Record appends a dead letter to the window and, when configured, to the
// persistent store.
func (s *Sink) Record(dl *models.DeadLetter) {
	s.window.Push(dl.ID, dl, dl.Timestamp)
	metrics.DeadLetters.WithLabelValues(string(dl.Stage), string(dl.ReasonCode)).Inc()
	metrics.DeadLetterWindow.Set(float64(s.window.Len()))

	if s.store == nil {
		return
	}
	_, err := s.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, s.store.Put(dl)
	})
	if err != nil {
		logging.Error().
			Err(err).
			Str("component", "deadletter").
			Str("id", dl.ID).
			Msg("Dead-letter persistence failed")
	}
}

// List returns a page of the window, newest first.
func (s *Sink) List(offset, limit int) []*models.DeadLetter {
	all := s.window.All()
	out := make([]*models.DeadLetter, 0, len(all))
	for _, he := range all {
		out = append(out, he.Value)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})

	if offset >= len(out) {
		return nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Len reports the current window size.
func (s *Sink) Len() int {
	return s.window.Len()
}

// RunJanitor evicts window entries past retention on an interval until the
// context ends. Persistent entries expire through store TTLs instead.
func (s *Sink) RunJanitor(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			expired := s.window.PopBefore(now.Add(-s.cfg.Retention))
			metrics.DeadLetterWindow.Set(float64(s.window.Len()))
			if len(expired) > 0 {
				logging.Debug().
					Str("component", "deadletter").
					Int("expired", len(expired)).
					Msg("Dead-letter window entries expired")
			}
		}
	}
}

// Close releases the persistent store, if any.
func (s *Sink) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}
