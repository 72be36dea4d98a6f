// Segue - Concert Setlist Stream Analytics
// Copyright 2026 Setlist Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/setlistlab/segue

// Package aggregate maintains the four materialized views: song stats,
// venue stats, daily stats and song transitions. Every apply has an exact
// inverse; corrections retract old contributions and apply new ones, so a
// corrected record leaves the views as if only the correct version was
// ever seen.
package aggregate

import (
	"fmt"
	"sync"

	"github.com/goccy/go-json"

	"github.com/setlistlab/segue/internal/logging"
	"github.com/setlistlab/segue/internal/models"
)

// Recorder receives inconsistency reports. A retraction that finds no
// matching contribution signals an internal bug; the operation is skipped
// and recorded, never applied partially.
type Recorder interface {
	Record(dl *models.DeadLetter)
}

// Engine owns the accumulator state behind the materialized views.
// Writers mutate under one mutex; readers only ever touch immutable
// snapshots, so queries never contend with the stream.
type Engine struct {
	recorder Recorder

	mu          sync.Mutex
	songs       map[string]*songAcc  // band|song
	venues      map[string]*venueAcc // band|venue_slug
	days        map[string]*dailyAcc // band|date
	transitions map[string]*transAcc // band|from|to

	snapshot snapshotPublisher
}

// NewEngine builds an engine with an empty published snapshot so readers
// never observe nil. A nil recorder disables inconsistency routing.
func NewEngine(recorder Recorder) *Engine {
	e := &Engine{
		recorder:    recorder,
		songs:       make(map[string]*songAcc),
		venues:      make(map[string]*venueAcc),
		days:        make(map[string]*dailyAcc),
		transitions: make(map[string]*transAcc),
	}
	e.snapshot.publish(emptySnapshot())
	return e
}

// ApplyShow folds a show's show-level contribution into the venue and
// daily views. With retract true the contribution is removed instead.
func (e *Engine) ApplyShow(show *models.Show, retract bool) {
	sign := 1
	if retract {
		sign = -1
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	vkey := show.BandName + "|" + show.VenueSlug
	va := e.venues[vkey]
	if va == nil {
		if retract {
			e.inconsistent("venue", vkey, show)
			return
		}
		va = newVenueAcc(show.BandName, show.VenueSlug)
		e.venues[vkey] = va
	}
	if retract && va.shows[show.ShowID] <= 0 {
		e.inconsistent("venue", vkey, show)
		return
	}

	dkey := show.BandName + "|" + show.ShowDate
	da := e.days[dkey]
	if da == nil {
		if retract {
			e.inconsistent("daily", dkey, show)
			return
		}
		da = newDailyAcc(show.BandName, show.ShowDate)
		e.days[dkey] = da
	}
	if retract && da.shows[show.ShowID] <= 0 {
		e.inconsistent("daily", dkey, show)
		return
	}

	va.applyShow(show, sign)
	bumpCount(da.shows, show.ShowID, sign)

	if va.empty() {
		delete(e.venues, vkey)
	}
	if da.empty() {
		delete(e.days, dkey)
	}
}

// ApplyEnriched folds one enriched entry into the song, venue and daily
// views. With retract true the exact contribution is removed.
func (e *Engine) ApplyEnriched(entry *models.EnrichedEntry, retract bool) {
	sign := 1
	if retract {
		sign = -1
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	skey := entry.BandName + "|" + entry.SongName
	sa := e.songs[skey]
	if sa == nil {
		if retract {
			e.inconsistent("song", skey, entry)
			return
		}
		sa = newSongAcc(entry.BandName, entry.SongName)
		e.songs[skey] = sa
	}
	if retract && !sa.canRetract(entry) {
		e.inconsistent("song", skey, entry)
		return
	}

	vkey := entry.BandName + "|" + entry.VenueSlug
	va := e.venues[vkey]
	if va == nil {
		if retract {
			e.inconsistent("venue", vkey, entry)
			return
		}
		va = newVenueAcc(entry.BandName, entry.VenueSlug)
		e.venues[vkey] = va
	}
	if retract && va.songs[entry.SongName] <= 0 {
		e.inconsistent("venue", vkey, entry)
		return
	}

	dkey := entry.BandName + "|" + entry.ShowDate
	da := e.days[dkey]
	if da == nil {
		if retract {
			e.inconsistent("daily", dkey, entry)
			return
		}
		da = newDailyAcc(entry.BandName, entry.ShowDate)
		e.days[dkey] = da
	}
	if retract && da.totalSongs <= 0 {
		e.inconsistent("daily", dkey, entry)
		return
	}

	sa.apply(entry, sign)
	va.applyEntry(entry, sign)
	da.totalSongs += sign
	if entry.ResolvedJam {
		da.totalJams += sign
	}

	if sa.empty() {
		delete(e.songs, skey)
	}
	if va.empty() {
		delete(e.venues, vkey)
	}
	if da.empty() {
		delete(e.days, dkey)
	}
}

// ApplyTransition folds one transition event into the transition view.
func (e *Engine) ApplyTransition(ev *models.TransitionEvent, retract bool) {
	sign := 1
	if retract {
		sign = -1
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	key := ev.Key()
	ta := e.transitions[key]
	if ta == nil {
		if retract {
			e.inconsistent("transition", key, ev)
			return
		}
		ta = newTransAcc(ev)
		e.transitions[key] = ta
	}
	if retract && ta.byType[ev.Type] <= 0 {
		e.inconsistent("transition", key, ev)
		return
	}

	ta.apply(ev, sign)
	if ta.empty() {
		delete(e.transitions, key)
	}
}

// inconsistent records a retraction that found no matching contribution.
// Must be called with e.mu held; it only logs and routes, it never mutates.
func (e *Engine) inconsistent(view, key string, subject any) {
	detail := fmt.Sprintf("retraction without prior contribution in %s view, key %q", view, key)
	logging.Error().
		Str("component", "aggregate_engine").
		Str("view", view).
		Str("key", key).
		Msg("Aggregation inconsistency: retraction skipped")

	if e.recorder == nil {
		return
	}
	payload, err := json.Marshal(subject)
	if err != nil {
		payload = []byte(`{"key":"` + key + `"}`)
	}
	e.recorder.Record(models.NewDeadLetter(payload, models.StageAggregator,
		models.ReasonAggregationInconsistency, detail))
}
