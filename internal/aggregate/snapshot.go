// Segue - Concert Setlist Stream Analytics
// Copyright 2026 Setlist Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/setlistlab/segue

package aggregate

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/setlistlab/segue/internal/models"
)

// Snapshot is an immutable point-in-time view of all four aggregates.
// Slices come pre-sorted for the query layer; the song index serves the
// enricher's jam inference. Nothing in a snapshot is ever mutated after
// publish.
type Snapshot struct {
	SongStats   []*models.SongStat
	VenueStats  []*models.VenueStat
	DailyStats  []*models.DailyStat
	Transitions []*models.SongTransition

	Generation uint64
	TakenAt    time.Time

	songIndex map[string]*models.SongStat
}

// SongStat looks up one song's aggregate in the snapshot.
func (s *Snapshot) SongStat(bandName, songName string) (*models.SongStat, bool) {
	stat, ok := s.songIndex[bandName+"|"+songName]
	return stat, ok
}

func emptySnapshot() *Snapshot {
	return &Snapshot{TakenAt: time.Now().UTC(), songIndex: map[string]*models.SongStat{}}
}

// snapshotPublisher holds the published pointer plus the refresh guard.
// TryLock on refresh means a reader asking for a rebuild while one is in
// flight just gets the in-flight result; nobody queues behind the builder.
type snapshotPublisher struct {
	ptr        atomic.Pointer[Snapshot]
	refreshMu  sync.Mutex
	generation atomic.Uint64
}

func (p *snapshotPublisher) publish(s *Snapshot) {
	s.Generation = p.generation.Add(1)
	p.ptr.Store(s)
}

// Snapshot returns the current published view. Never nil, never blocks.
func (e *Engine) Snapshot() *Snapshot {
	return e.snapshot.ptr.Load()
}

// SongStat reads one song's aggregate from the published snapshot, which
// makes the engine itself usable as the enricher's history source.
func (e *Engine) SongStat(bandName, songName string) (*models.SongStat, bool) {
	return e.Snapshot().SongStat(bandName, songName)
}

// Refresh rebuilds and publishes a snapshot from current accumulator
// state. Concurrent callers coalesce: if a rebuild is already running the
// call returns immediately and readers keep the previous snapshot until
// the in-flight one lands.
func (e *Engine) Refresh() {
	if !e.snapshot.refreshMu.TryLock() {
		return
	}
	defer e.snapshot.refreshMu.Unlock()

	e.mu.Lock()
	snap := &Snapshot{
		SongStats:   make([]*models.SongStat, 0, len(e.songs)),
		VenueStats:  make([]*models.VenueStat, 0, len(e.venues)),
		DailyStats:  make([]*models.DailyStat, 0, len(e.days)),
		Transitions: make([]*models.SongTransition, 0, len(e.transitions)),
		TakenAt:     time.Now().UTC(),
		songIndex:   make(map[string]*models.SongStat, len(e.songs)),
	}
	for key, acc := range e.songs {
		stat := acc.materialize()
		snap.SongStats = append(snap.SongStats, stat)
		snap.songIndex[key] = stat
	}
	for _, acc := range e.venues {
		snap.VenueStats = append(snap.VenueStats, acc.materialize())
	}
	for _, acc := range e.days {
		snap.DailyStats = append(snap.DailyStats, acc.materialize())
	}
	for _, acc := range e.transitions {
		snap.Transitions = append(snap.Transitions, acc.materialize())
	}
	e.mu.Unlock()

	sort.Slice(snap.SongStats, func(i, j int) bool {
		a, b := snap.SongStats[i], snap.SongStats[j]
		if a.PlayCount != b.PlayCount {
			return a.PlayCount > b.PlayCount
		}
		if a.BandName != b.BandName {
			return a.BandName < b.BandName
		}
		return a.SongName < b.SongName
	})
	sort.Slice(snap.VenueStats, func(i, j int) bool {
		a, b := snap.VenueStats[i], snap.VenueStats[j]
		if a.ShowCount != b.ShowCount {
			return a.ShowCount > b.ShowCount
		}
		if a.BandName != b.BandName {
			return a.BandName < b.BandName
		}
		return a.VenueSlug < b.VenueSlug
	})
	sort.Slice(snap.DailyStats, func(i, j int) bool {
		a, b := snap.DailyStats[i], snap.DailyStats[j]
		if a.Date != b.Date {
			return a.Date > b.Date
		}
		return a.BandName < b.BandName
	})
	sort.Slice(snap.Transitions, func(i, j int) bool {
		a, b := snap.Transitions[i], snap.Transitions[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if a.FromSong != b.FromSong {
			return a.FromSong < b.FromSong
		}
		return a.ToSong < b.ToSong
	})

	e.snapshot.publish(snap)
}
