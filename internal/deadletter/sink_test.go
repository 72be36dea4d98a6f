// Segue - Concert Setlist Stream Analytics
// Copyright 2026 Setlist Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/setlistlab/segue

package deadletter

import (
	"errors"
	"testing"
	"time"

	"github.com/setlistlab/segue/internal/config"
	"github.com/setlistlab/segue/internal/models"
)

func testCfg() config.DeadLetterConfig {
	return config.DeadLetterConfig{
		MaxEntries:          5,
		Retention:           time.Hour,
		JanitorInterval:     time.Minute,
		BreakerMaxFailures:  3,
		BreakerOpenInterval: time.Second,
	}
}

func letter(detail string, ts time.Time) *models.DeadLetter {
	dl := models.NewDeadLetter([]byte(`{}`), models.StageGate, models.ReasonMalformedField, detail)
	dl.Timestamp = ts
	return dl
}

func TestRecordAndList(t *testing.T) {
	s, err := NewSink(testCfg())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	base := time.Now()
	s.Record(letter("first", base))
	s.Record(letter("second", base.Add(time.Second)))
	s.Record(letter("third", base.Add(2*time.Second)))

	got := s.List(0, 10)
	if len(got) != 3 {
		t.Fatalf("listed %d entries, want 3", len(got))
	}
	if got[0].Detail != "third" || got[2].Detail != "first" {
		t.Errorf("expected newest first, got %s .. %s", got[0].Detail, got[2].Detail)
	}
}

func TestListPagination(t *testing.T) {
	s, err := NewSink(testCfg())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	base := time.Now()
	for i := 0; i < 5; i++ {
		s.Record(letter("entry", base.Add(time.Duration(i)*time.Second)))
	}

	if got := s.List(0, 2); len(got) != 2 {
		t.Errorf("page size = %d, want 2", len(got))
	}
	if got := s.List(4, 2); len(got) != 1 {
		t.Errorf("last page size = %d, want 1", len(got))
	}
	if got := s.List(10, 2); got != nil {
		t.Errorf("out-of-range page = %v, want nil", got)
	}
}

func TestWindowCapacityEvictsOldest(t *testing.T) {
	s, err := NewSink(testCfg())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	base := time.Now()
	for i := 0; i < 7; i++ {
		s.Record(letter("entry", base.Add(time.Duration(i)*time.Second)))
	}

	if s.Len() != 5 {
		t.Errorf("window size = %d, want 5", s.Len())
	}
	got := s.List(0, 10)
	oldest := got[len(got)-1]
	if !oldest.Timestamp.Equal(base.Add(2 * time.Second)) {
		t.Errorf("oldest retained entry at %v, expected the two oldest evicted", oldest.Timestamp)
	}
}

func TestBadgerPersistenceRoundTrip(t *testing.T) {
	cfg := testCfg()
	cfg.Path = t.TempDir()

	s, err := NewSink(cfg)
	if err != nil {
		t.Fatal(err)
	}

	s.Record(letter("persisted", time.Now()))
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopening the same path must succeed; the window starts empty but the
	// store holds the previous entry until its TTL expires.
	s2, err := NewSink(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if s2.Len() != 0 {
		t.Errorf("window after reopen = %d, want 0", s2.Len())
	}
}

type failingStore struct {
	calls int
}

func (f *failingStore) Put(*models.DeadLetter) error {
	f.calls++
	return errors.New("disk on fire")
}

func (f *failingStore) Close() error { return nil }

func TestBreakerStopsHammeringFailingStore(t *testing.T) {
	cfg := testCfg()
	cfg.Path = t.TempDir()
	s, err := NewSink(cfg)
	if err != nil {
		t.Fatal(err)
	}
	s.store.Close()
	fs := &failingStore{}
	s.store = fs

	for i := 0; i < 10; i++ {
		s.Record(letter("entry", time.Now().Add(time.Duration(i)*time.Millisecond)))
	}

	// Breaker opens after 3 consecutive failures; later records skip the store.
	if fs.calls >= 10 {
		t.Errorf("store called %d times, breaker never opened", fs.calls)
	}
	// The window still holds every record regardless of persistence health.
	if s.Len() != 5 {
		t.Errorf("window size = %d, want capacity 5", s.Len())
	}
}
