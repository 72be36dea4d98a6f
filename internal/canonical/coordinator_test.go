// Segue - Concert Setlist Stream Analytics
// Copyright 2026 Setlist Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/setlistlab/segue

package canonical

import (
	"sync"
	"testing"
	"time"

	"github.com/setlistlab/segue/internal/config"
	"github.com/setlistlab/segue/internal/models"
)

type captureRecorder struct {
	mu       sync.Mutex
	recorded []*models.DeadLetter
}

func (c *captureRecorder) Record(dl *models.DeadLetter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recorded = append(c.recorded, dl)
}

func (c *captureRecorder) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.recorded)
}

func testCfg() config.CoordinatorConfig {
	return config.CoordinatorConfig{
		LockStripes:     8,
		PendingTimeout:  30 * time.Second,
		PendingCapacity: 100,
	}
}

func show(id string) *models.Show {
	return &models.Show{
		ShowID:     id,
		BandName:   "Goose",
		ShowDate:   "2025-06-20",
		VenueName:  "The Salt Shed",
		VenueSlug:  "the-salt-shed",
		IngestedAt: time.Now(),
	}
}

func entry(showID string, set models.SetLabel, pos int, song string) *models.SetlistEntry {
	return &models.SetlistEntry{
		ShowID:     showID,
		SetLabel:   set,
		Position:   pos,
		SongName:   song,
		IngestedAt: time.Now(),
	}
}

func TestApplyShowNewReplayCorrection(t *testing.T) {
	c := NewCoordinator(testCfg(), nil)

	first := c.ApplyShow(show("s1"))
	if first.Outcome != OutcomeNew {
		t.Fatalf("first apply outcome = %s, want new", first.Outcome)
	}

	// Same attributes, later ingest timestamp: replay.
	replay := show("s1")
	replay.IngestedAt = time.Now().Add(time.Hour)
	if got := c.ApplyShow(replay); got.Outcome != OutcomeReplay {
		t.Errorf("replay outcome = %s, want replay", got.Outcome)
	}

	// Changed attribute: correction.
	corrected := show("s1")
	corrected.VenueCity = "Chicago"
	if got := c.ApplyShow(corrected); got.Outcome != OutcomeCorrection {
		t.Errorf("correction outcome = %s, want correction", got.Outcome)
	}

	stored, ok := c.Show("s1")
	if !ok || stored.VenueCity != "Chicago" {
		t.Error("correction did not replace stored show")
	}
}

func TestApplyEntryNewReplayCorrection(t *testing.T) {
	c := NewCoordinator(testCfg(), nil)
	c.ApplyShow(show("s1"))

	e := entry("s1", models.SetOne, 0, "Arrow")
	if got := c.ApplyEntry(e); got.Outcome != OutcomeNew {
		t.Fatalf("first entry outcome = %s, want new", got.Outcome)
	}

	replay := entry("s1", models.SetOne, 0, "Arrow")
	if got := c.ApplyEntry(replay); got.Outcome != OutcomeReplay {
		t.Errorf("replay outcome = %s, want replay", got.Outcome)
	}

	dur := 1510
	corrected := entry("s1", models.SetOne, 0, "Arrow")
	corrected.DurationSeconds = &dur
	got := c.ApplyEntry(corrected)
	if got.Outcome != OutcomeCorrection {
		t.Fatalf("correction outcome = %s, want correction", got.Outcome)
	}
	if got.Previous == nil || got.Previous.DurationSeconds != nil {
		t.Error("correction result must carry the replaced entry")
	}
}

func TestEntryBeforeShowIsPendingThenResolved(t *testing.T) {
	c := NewCoordinator(testCfg(), nil)

	e1 := entry("s1", models.SetOne, 1, "Madhuvan")
	e2 := entry("s1", models.SetOne, 0, "Arrow")
	if got := c.ApplyEntry(e1); got.Outcome != OutcomePending {
		t.Fatalf("outcome = %s, want pending", got.Outcome)
	}
	if got := c.ApplyEntry(e2); got.Outcome != OutcomePending {
		t.Fatalf("outcome = %s, want pending", got.Outcome)
	}
	if c.PendingCount() != 2 {
		t.Fatalf("pending count = %d, want 2", c.PendingCount())
	}

	res := c.ApplyShow(show("s1"))
	if res.Outcome != OutcomeNew {
		t.Fatalf("show outcome = %s", res.Outcome)
	}
	if len(res.Resolved) != 2 {
		t.Fatalf("resolved = %d entries, want 2", len(res.Resolved))
	}
	// Released in running order.
	if res.Resolved[0].SongName != "Arrow" || res.Resolved[1].SongName != "Madhuvan" {
		t.Errorf("resolved order: %s, %s", res.Resolved[0].SongName, res.Resolved[1].SongName)
	}
	if c.PendingCount() != 0 {
		t.Errorf("pending count after resolution = %d", c.PendingCount())
	}
}

func TestExpirePendingDemotesToDeadLetter(t *testing.T) {
	rec := &captureRecorder{}
	c := NewCoordinator(testCfg(), rec)

	c.ApplyEntry(entry("ghost", models.SetOne, 0, "Arrow"))
	if n := c.ExpirePending(time.Now()); n != 0 {
		t.Fatalf("expired %d entries before timeout", n)
	}

	if n := c.ExpirePending(time.Now().Add(time.Minute)); n != 1 {
		t.Fatalf("expired %d entries after timeout, want 1", n)
	}
	if rec.count() != 1 {
		t.Fatalf("dead letters = %d, want 1", rec.count())
	}
	rec.mu.Lock()
	dl := rec.recorded[0]
	rec.mu.Unlock()
	if dl.ReasonCode != models.ReasonUnknownShowReference {
		t.Errorf("reason = %s", dl.ReasonCode)
	}
	if dl.Stage != models.StageCoordinator {
		t.Errorf("stage = %s", dl.Stage)
	}
	if c.PendingCount() != 0 {
		t.Error("expired entry still pending")
	}
}

func TestPendingCapacityEviction(t *testing.T) {
	cfg := testCfg()
	cfg.PendingCapacity = 2
	rec := &captureRecorder{}
	c := NewCoordinator(cfg, rec)

	c.ApplyEntry(entry("ghost", models.SetOne, 0, "A"))
	c.ApplyEntry(entry("ghost", models.SetOne, 1, "B"))
	c.ApplyEntry(entry("ghost", models.SetOne, 2, "C"))

	if c.PendingCount() != 2 {
		t.Errorf("pending count = %d, want 2", c.PendingCount())
	}
	if rec.count() != 1 {
		t.Errorf("dead letters = %d, want 1 for the evicted entry", rec.count())
	}
}

func TestEntriesRunningOrder(t *testing.T) {
	c := NewCoordinator(testCfg(), nil)
	c.ApplyShow(show("s1"))

	c.ApplyEntry(entry("s1", models.SetEncore, 0, "Hot Tea"))
	c.ApplyEntry(entry("s1", models.SetTwo, 1, "Madhuvan"))
	c.ApplyEntry(entry("s1", models.SetTwo, 0, "Arrow"))
	c.ApplyEntry(entry("s1", models.SetOne, 0, "Borne"))

	got := c.Entries("s1")
	want := []string{"Borne", "Arrow", "Madhuvan", "Hot Tea"}
	if len(got) != len(want) {
		t.Fatalf("entries = %d, want %d", len(got), len(want))
	}
	for i, song := range want {
		if got[i].SongName != song {
			t.Errorf("entries[%d] = %s, want %s", i, got[i].SongName, song)
		}
	}
}

func TestShowsSortedByDateDescending(t *testing.T) {
	c := NewCoordinator(testCfg(), nil)

	early := show("a")
	early.ShowDate = "2024-01-01"
	late := show("b")
	late.ShowDate = "2025-06-20"
	c.ApplyShow(early)
	c.ApplyShow(late)

	shows := c.Shows()
	if len(shows) != 2 || shows[0].ShowID != "b" {
		t.Errorf("expected most recent show first, got %+v", shows)
	}
}

func TestConcurrentApplies(t *testing.T) {
	c := NewCoordinator(testCfg(), nil)
	c.ApplyShow(show("s1"))
	c.ApplyShow(show("s2"))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "s1"
			if i%2 == 0 {
				id = "s2"
			}
			c.ApplyEntry(entry(id, models.SetOne, i, "Song"))
		}(i)
	}
	wg.Wait()

	if got := len(c.Entries("s1")) + len(c.Entries("s2")); got != 50 {
		t.Errorf("total entries = %d, want 50", got)
	}
}
