// Segue - Concert Setlist Stream Analytics
// Copyright 2026 Setlist Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/setlistlab/segue

// Package canonical maintains the authoritative show and setlist-entry state.
// The coordinator classifies every arriving record as new, an exact replay,
// or a correction, and buffers entries that reference a show not yet seen.
package canonical

import (
	"bytes"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/setlistlab/segue/internal/cache"
	"github.com/setlistlab/segue/internal/config"
	"github.com/setlistlab/segue/internal/logging"
	"github.com/setlistlab/segue/internal/models"
)

// Outcome classifies what an apply did to canonical state.
type Outcome string

const (
	// OutcomeNew means the record's identity was not seen before.
	OutcomeNew Outcome = "new"
	// OutcomeReplay means the record is byte-identical to stored state
	// and produced no downstream effect.
	OutcomeReplay Outcome = "replay"
	// OutcomeCorrection means the identity existed with different
	// attributes; stored state was replaced.
	OutcomeCorrection Outcome = "correction"
	// OutcomePending means the entry references a show not yet seen and
	// was buffered rather than applied.
	OutcomePending Outcome = "pending"
)

// Recorder receives entries demoted to the dead letter when their show
// never arrives.
type Recorder interface {
	Record(dl *models.DeadLetter)
}

// ShowResult reports the effect of applying a show.
type ShowResult struct {
	Outcome Outcome
	Show    *models.Show

	// Previous is the replaced show on a correction, nil otherwise. The
	// caller retracts its show-level aggregate contribution.
	Previous *models.Show

	// Resolved holds buffered entries released by this show's arrival.
	// The caller re-applies them; they are no longer pending.
	Resolved []*models.SetlistEntry
}

// EntryResult reports the effect of applying a setlist entry.
type EntryResult struct {
	Outcome Outcome
	Entry   *models.SetlistEntry

	// Previous is the replaced entry on a correction, nil otherwise.
	Previous *models.SetlistEntry
}

// Coordinator serializes upserts per show while letting distinct shows
// proceed in parallel. Stored records are treated as immutable; a
// correction swaps the pointer, it never mutates in place.
type Coordinator struct {
	cfg      config.CoordinatorConfig
	recorder Recorder

	stripes []sync.Mutex

	mu      sync.RWMutex
	shows   map[string]*models.Show
	entries map[string]map[string]*models.SetlistEntry // showID -> entry key -> entry

	pendMu        sync.Mutex
	pending       *cache.MinHeap[*models.SetlistEntry]
	pendingByShow map[string]map[string]struct{} // showID -> pending entry keys
}

// NewCoordinator builds a coordinator. A nil recorder disables dead-letter
// routing for expired pending entries.
func NewCoordinator(cfg config.CoordinatorConfig, recorder Recorder) *Coordinator {
	stripes := cfg.LockStripes
	if stripes <= 0 {
		stripes = 64
	}
	return &Coordinator{
		cfg:           cfg,
		recorder:      recorder,
		stripes:       make([]sync.Mutex, stripes),
		shows:         make(map[string]*models.Show),
		entries:       make(map[string]map[string]*models.SetlistEntry),
		pending:       cache.NewMinHeap[*models.SetlistEntry](cfg.PendingCapacity),
		pendingByShow: make(map[string]map[string]struct{}),
	}
}

// stripe returns the mutex guarding all state transitions for one show.
func (c *Coordinator) stripe(showID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(showID))
	return &c.stripes[h.Sum32()%uint32(len(c.stripes))]
}

// ApplyShow upserts a show and releases any entries that were waiting for it.
func (c *Coordinator) ApplyShow(show *models.Show) *ShowResult {
	lock := c.stripe(show.ShowID)
	lock.Lock()
	defer lock.Unlock()

	c.mu.Lock()
	existing := c.shows[show.ShowID]
	if existing != nil && showsEqual(existing, show) {
		c.mu.Unlock()
		return &ShowResult{Outcome: OutcomeReplay, Show: existing}
	}
	c.shows[show.ShowID] = show
	c.mu.Unlock()

	if existing != nil {
		logging.Info().
			Str("component", "coordinator").
			Str("show_id", show.ShowID).
			Msg("Show correction applied")
		return &ShowResult{Outcome: OutcomeCorrection, Show: show, Previous: existing}
	}

	resolved := c.releasePending(show.ShowID)
	if len(resolved) > 0 {
		logging.Debug().
			Str("component", "coordinator").
			Str("show_id", show.ShowID).
			Int("resolved", len(resolved)).
			Msg("Pending entries released by show arrival")
	}
	return &ShowResult{Outcome: OutcomeNew, Show: show, Resolved: resolved}
}

// ApplyEntry upserts a setlist entry. Entries referencing an unknown show
// are buffered and reported as pending; ExpirePending demotes them if the
// show never arrives.
func (c *Coordinator) ApplyEntry(entry *models.SetlistEntry) *EntryResult {
	lock := c.stripe(entry.ShowID)
	lock.Lock()
	defer lock.Unlock()

	c.mu.Lock()
	if _, known := c.shows[entry.ShowID]; !known {
		c.mu.Unlock()
		c.buffer(entry)
		return &EntryResult{Outcome: OutcomePending, Entry: entry}
	}

	byKey := c.entries[entry.ShowID]
	if byKey == nil {
		byKey = make(map[string]*models.SetlistEntry)
		c.entries[entry.ShowID] = byKey
	}

	key := entry.Key()
	existing := byKey[key]
	if existing != nil && entriesEqual(existing, entry) {
		c.mu.Unlock()
		return &EntryResult{Outcome: OutcomeReplay, Entry: existing}
	}
	byKey[key] = entry
	c.mu.Unlock()

	if existing != nil {
		return &EntryResult{Outcome: OutcomeCorrection, Entry: entry, Previous: existing}
	}
	return &EntryResult{Outcome: OutcomeNew, Entry: entry}
}

// buffer parks an entry until its show arrives. At capacity the oldest
// pending entry is demoted immediately.
func (c *Coordinator) buffer(entry *models.SetlistEntry) {
	c.pendMu.Lock()
	evicted := c.pending.Push(entry.Key(), entry, time.Now())
	keys := c.pendingByShow[entry.ShowID]
	if keys == nil {
		keys = make(map[string]struct{})
		c.pendingByShow[entry.ShowID] = keys
	}
	keys[entry.Key()] = struct{}{}
	if evicted != nil {
		c.unindexPending(evicted.Value)
	}
	c.pendMu.Unlock()

	if evicted != nil {
		c.demote(evicted.Value, "pending buffer at capacity")
	}
}

// releasePending removes and returns all entries buffered for showID.
func (c *Coordinator) releasePending(showID string) []*models.SetlistEntry {
	c.pendMu.Lock()
	defer c.pendMu.Unlock()

	keys := c.pendingByShow[showID]
	if len(keys) == 0 {
		return nil
	}
	delete(c.pendingByShow, showID)

	resolved := make([]*models.SetlistEntry, 0, len(keys))
	for key := range keys {
		if he := c.pending.Remove(key); he != nil {
			resolved = append(resolved, he.Value)
		}
	}
	sort.Slice(resolved, func(i, j int) bool {
		return entryLess(resolved[i], resolved[j])
	})
	return resolved
}

// ExpirePending demotes every entry buffered longer than the configured
// pending timeout. Returns the number demoted. The pipeline calls this
// on a ticker.
func (c *Coordinator) ExpirePending(now time.Time) int {
	cutoff := now.Add(-c.cfg.PendingTimeout)

	c.pendMu.Lock()
	expired := c.pending.PopBefore(cutoff)
	for _, he := range expired {
		c.unindexPending(he.Value)
	}
	c.pendMu.Unlock()

	for _, he := range expired {
		c.demote(he.Value, "show never arrived within pending timeout")
	}
	return len(expired)
}

// unindexPending must be called with pendMu held.
func (c *Coordinator) unindexPending(entry *models.SetlistEntry) {
	keys := c.pendingByShow[entry.ShowID]
	delete(keys, entry.Key())
	if len(keys) == 0 {
		delete(c.pendingByShow, entry.ShowID)
	}
}

// demote routes a pending entry to the dead letter as an unknown show
// reference. The entry has had no aggregate effect.
func (c *Coordinator) demote(entry *models.SetlistEntry, detail string) {
	logging.Warn().
		Str("component", "coordinator").
		Str("show_id", entry.ShowID).
		Str("entry_key", entry.Key()).
		Msg("Entry demoted to dead letter: unknown show reference")

	if c.recorder == nil {
		return
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		payload = []byte(`{"entry_key":"` + entry.Key() + `"}`)
	}
	c.recorder.Record(models.NewDeadLetter(payload, models.StageCoordinator,
		models.ReasonUnknownShowReference, detail))
}

// Show returns the canonical show for an ID, if known.
func (c *Coordinator) Show(showID string) (*models.Show, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	show, ok := c.shows[showID]
	return show, ok
}

// Shows returns all canonical shows, most recent show date first.
func (c *Coordinator) Shows() []*models.Show {
	c.mu.RLock()
	out := make([]*models.Show, 0, len(c.shows))
	for _, s := range c.shows {
		out = append(out, s)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ShowDate != out[j].ShowDate {
			return out[i].ShowDate > out[j].ShowDate
		}
		return out[i].ShowID < out[j].ShowID
	})
	return out
}

// Entries returns a show's entries in running order: set ordinal, then
// position. The slice is a copy; stored entries are shared and immutable.
func (c *Coordinator) Entries(showID string) []*models.SetlistEntry {
	c.mu.RLock()
	byKey := c.entries[showID]
	out := make([]*models.SetlistEntry, 0, len(byKey))
	for _, e := range byKey {
		out = append(out, e)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return entryLess(out[i], out[j])
	})
	return out
}

// HasEntry reports whether the canonical state holds an entry at the
// given identity. The ordering buffer uses it to check predecessors.
func (c *Coordinator) HasEntry(showID string, set models.SetLabel, position int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[showID][models.EntryKey(showID, set, position)]
	return ok
}

// PendingCount reports how many entries are parked awaiting their show.
func (c *Coordinator) PendingCount() int {
	c.pendMu.Lock()
	defer c.pendMu.Unlock()
	return c.pending.Len()
}

func entryLess(a, b *models.SetlistEntry) bool {
	ao, bo := a.SetLabel.Ordinal(), b.SetLabel.Ordinal()
	if ao != bo {
		return ao < bo
	}
	if a.Position != b.Position {
		return a.Position < b.Position
	}
	return a.SetLabel < b.SetLabel
}

// showsEqual compares shows ignoring ingest timestamps: a replay is the
// same attributes arriving again, whenever it arrives.
func showsEqual(a, b *models.Show) bool {
	ca, cb := *a, *b
	ca.IngestedAt, cb.IngestedAt = time.Time{}, time.Time{}
	ja, errA := json.Marshal(&ca)
	jb, errB := json.Marshal(&cb)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}

// entriesEqual compares entries ignoring ingest timestamps.
func entriesEqual(a, b *models.SetlistEntry) bool {
	ca, cb := *a, *b
	ca.IngestedAt, cb.IngestedAt = time.Time{}, time.Time{}
	ja, errA := json.Marshal(&ca)
	jb, errB := json.Marshal(&cb)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}
