// Segue - Concert Setlist Stream Analytics
// Copyright 2026 Setlist Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/setlistlab/segue

package pipeline

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/setlistlab/segue/internal/aggregate"
	"github.com/setlistlab/segue/internal/canonical"
	"github.com/setlistlab/segue/internal/config"
	"github.com/setlistlab/segue/internal/deadletter"
	"github.com/setlistlab/segue/internal/enrich"
	"github.com/setlistlab/segue/internal/metrics"
	"github.com/setlistlab/segue/internal/models"
	"github.com/setlistlab/segue/internal/transition"
)

// testRig drives the worker pool synchronously: tasks go straight to the
// owning worker's handle method, no goroutines, no sleeps.
type testRig struct {
	coord  *canonical.Coordinator
	engine *aggregate.Engine
	sink   *deadletter.Sink
	proc   *Processor
}

func newTestRig() *testRig {
	cfg := config.PipelineConfig{
		Workers:         2,
		BufferSize:      16,
		OrderingTimeout: 5 * time.Second,
	}
	engine := aggregate.NewEngine(nil)
	coord := canonical.NewCoordinator(config.CoordinatorConfig{
		LockStripes:     8,
		PendingTimeout:  30 * time.Second,
		PendingCapacity: 100,
	}, nil)
	enricher := enrich.NewEnricher(config.EnrichConfig{
		BucketShortSeconds:  300,
		BucketMediumSeconds: 600,
		BucketLongSeconds:   1200,
		JamAbsoluteSeconds:  1200,
		JamAvgRatio:         1.5,
		JamMinHistory:       3,
	}, engine)
	detector := transition.NewDetector(config.TransitionsConfig{
		SegueMarkers: []string{">", "->"},
		GapPositions: 2,
	})
	sink, err := deadletter.NewSink(config.DeadLetterConfig{
		MaxEntries:      100,
		Retention:       time.Hour,
		JanitorInterval: time.Minute,
	})
	if err != nil {
		panic(err)
	}
	return &testRig{
		coord:  coord,
		engine: engine,
		sink:   sink,
		proc:   NewProcessor(cfg, coord, enricher, detector, engine, sink),
	}
}

func (r *testRig) show(s *models.Show) {
	r.proc.workerFor(s.ShowID).handle(task{show: s})
}

func (r *testRig) entry(e *models.SetlistEntry) {
	r.proc.workerFor(e.ShowID).handle(task{entry: e})
}

func (r *testRig) snapshot() *aggregate.Snapshot {
	r.engine.Refresh()
	return r.engine.Snapshot()
}

func intp(n int) *int { return &n }

func gooseShow() *models.Show {
	return &models.Show{
		ShowID:    "goose:2025-06-20:salt-shed",
		BandName:  "Goose",
		ShowDate:  "2025-06-20",
		VenueName: "The Salt Shed",
		VenueSlug: "salt-shed",
	}
}

func gooseEntry(set models.SetLabel, pos int, song, mark string, dur *int) *models.SetlistEntry {
	return &models.SetlistEntry{
		ShowID:          "goose:2025-06-20:salt-shed",
		SetLabel:        set,
		Position:        pos,
		SongName:        song,
		TransitionMark:  mark,
		DurationSeconds: dur,
	}
}

func TestSegueFlowsIntoTransitionView(t *testing.T) {
	r := newTestRig()

	r.show(gooseShow())
	r.entry(gooseEntry(models.SetTwo, 0, "Arrow", ">", intp(900)))
	r.entry(gooseEntry(models.SetTwo, 1, "Madhuvan", "", intp(1500)))

	snap := r.snapshot()
	if len(snap.Transitions) != 1 {
		t.Fatalf("transitions = %d, want 1", len(snap.Transitions))
	}
	tr := snap.Transitions[0]
	if tr.FromSong != "Arrow" || tr.ToSong != "Madhuvan" {
		t.Errorf("transition %s -> %s", tr.FromSong, tr.ToSong)
	}
	if tr.ByType[models.TransitionSegue] != 1 {
		t.Errorf("segue count = %d, want 1", tr.ByType[models.TransitionSegue])
	}

	stat, ok := snap.SongStat("Goose", "Madhuvan")
	if !ok {
		t.Fatal("expected Madhuvan stat")
	}
	// 1500s crosses the absolute jam threshold.
	if stat.JamCount != 1 {
		t.Errorf("jam count = %d, want 1", stat.JamCount)
	}
}

func TestReplayedEntryChangesNothing(t *testing.T) {
	r := newTestRig()

	r.show(gooseShow())
	r.entry(gooseEntry(models.SetOne, 0, "Borne", "", intp(600)))
	before := r.snapshot()

	r.entry(gooseEntry(models.SetOne, 0, "Borne", "", intp(600)))
	after := r.snapshot()

	bs, _ := before.SongStat("Goose", "Borne")
	as, _ := after.SongStat("Goose", "Borne")
	if bs.PlayCount != 1 || as.PlayCount != 1 {
		t.Errorf("play counts = %d then %d, want 1 and 1", bs.PlayCount, as.PlayCount)
	}
	if as.TotalDurationSeconds != 600 {
		t.Errorf("total duration = %d, want 600", as.TotalDurationSeconds)
	}
}

func TestEntryCorrectionReplacesContribution(t *testing.T) {
	r := newTestRig()

	r.show(gooseShow())
	r.entry(gooseEntry(models.SetOne, 0, "Borne", "", intp(600)))
	r.entry(gooseEntry(models.SetOne, 0, "Borne", "", intp(720)))

	stat, ok := r.snapshot().SongStat("Goose", "Borne")
	if !ok {
		t.Fatal("expected stat")
	}
	if stat.PlayCount != 1 || stat.TotalDurationSeconds != 720 || stat.LongestSeconds != 720 {
		t.Errorf("stat after correction = %+v", stat)
	}
}

func TestVenueCorrectionMovesAggregates(t *testing.T) {
	r := newTestRig()

	wrong := gooseShow()
	wrong.VenueName = "Wrong Venue"
	wrong.VenueSlug = "wrong-venue"
	r.show(wrong)
	r.entry(gooseEntry(models.SetOne, 0, "Arrow", "", intp(900)))

	// Correction with the same identity but the right venue.
	r.show(gooseShow())

	snap := r.snapshot()
	if len(snap.VenueStats) != 1 {
		t.Fatalf("venue stats = %d, want exactly 1 after correction", len(snap.VenueStats))
	}
	vs := snap.VenueStats[0]
	if vs.VenueSlug != "salt-shed" {
		t.Errorf("venue = %s, want salt-shed", vs.VenueSlug)
	}
	if vs.ShowCount != 1 || vs.TotalSongs != 1 {
		t.Errorf("venue stat = %+v", vs)
	}
}

func TestUnknownShowEntryHasNoAggregateEffect(t *testing.T) {
	r := newTestRig()

	orphan := gooseEntry(models.SetOne, 0, "Arrow", "", intp(900))
	orphan.ShowID = "nobody:2025-01-01:nowhere"
	r.entry(orphan)

	snap := r.snapshot()
	if len(snap.SongStats) != 0 || len(snap.VenueStats) != 0 || len(snap.DailyStats) != 0 {
		t.Error("pending entry leaked into aggregates")
	}
	if r.coord.PendingCount() != 1 {
		t.Errorf("pending count = %d, want 1", r.coord.PendingCount())
	}
}

func TestOutOfOrderEntryWaitsForPredecessor(t *testing.T) {
	r := newTestRig()
	r.show(gooseShow())

	// Position 1 arrives first; it must park, not apply.
	r.entry(gooseEntry(models.SetOne, 1, "Madhuvan", "", nil))
	snap := r.snapshot()
	if len(snap.SongStats) != 0 {
		t.Fatal("successor applied before its predecessor")
	}

	// Predecessor arrives; both apply, in order, unflagged.
	r.entry(gooseEntry(models.SetOne, 0, "Arrow", ">", nil))
	snap = r.snapshot()
	if len(snap.SongStats) != 2 {
		t.Fatalf("song stats = %d, want 2", len(snap.SongStats))
	}
	if len(snap.Transitions) != 1 || snap.Transitions[0].ByType[models.TransitionSegue] != 1 {
		t.Error("expected the segue detected once the gap filled")
	}

	entries := r.coord.Entries("goose:2025-06-20:salt-shed")
	for _, e := range entries {
		if e.SongName == "" {
			t.Error("empty entry in canonical state")
		}
	}
}

func TestLateEntryFlaggedAsOrderingAnomaly(t *testing.T) {
	r := newTestRig()
	r.show(gooseShow())

	w := r.proc.workerFor("goose:2025-06-20:salt-shed")
	w.handle(task{entry: gooseEntry(models.SetOne, 1, "Madhuvan", "", nil)})

	// Deadline passes without the predecessor; flush applies it flagged.
	w.flushLate(time.Now().Add(time.Minute))

	stat, ok := r.snapshot().SongStat("Goose", "Madhuvan")
	if !ok || stat.PlayCount != 1 {
		t.Fatal("late entry was not applied")
	}

	found := false
	for _, p := range w.projections {
		for _, e := range p.entries {
			if e.SongName == "Madhuvan" && e.OrderingAnomaly {
				found = true
			}
		}
	}
	if !found {
		t.Error("late entry not flagged as ordering anomaly")
	}
}

func TestOrderIndependentConvergence(t *testing.T) {
	build := func(order []int) *aggregate.Snapshot {
		r := newTestRig()
		tasks := []func(){
			func() { r.show(gooseShow()) },
			func() { r.entry(gooseEntry(models.SetOne, 0, "Borne", "", intp(480))) },
			func() { r.entry(gooseEntry(models.SetOne, 1, "Arrow", ">", intp(900))) },
			func() { r.entry(gooseEntry(models.SetEncore, 0, "Hot Tea", "", nil)) },
		}
		for _, i := range order {
			tasks[i]()
		}
		// Flush anything parked by the ordering buffer.
		for _, w := range r.proc.workers {
			w.flushLate(time.Now().Add(time.Hour))
		}
		return r.snapshot()
	}

	a := build([]int{0, 1, 2, 3})
	b := build([]int{3, 2, 1, 0})

	if len(a.SongStats) != len(b.SongStats) {
		t.Fatalf("song stat counts differ: %d vs %d", len(a.SongStats), len(b.SongStats))
	}
	for i := range a.SongStats {
		x, y := a.SongStats[i], b.SongStats[i]
		if x.SongName != y.SongName || x.PlayCount != y.PlayCount ||
			x.TotalDurationSeconds != y.TotalDurationSeconds {
			t.Errorf("song stat %d differs: %+v vs %+v", i, x, y)
		}
	}
	if len(a.Transitions) != len(b.Transitions) {
		t.Fatalf("transition counts differ: %d vs %d", len(a.Transitions), len(b.Transitions))
	}
	for i := range a.Transitions {
		if a.Transitions[i].Count != b.Transitions[i].Count {
			t.Errorf("transition %d counts differ", i)
		}
	}
}

func TestReplayCountsAsPipelineDuplicate(t *testing.T) {
	r := newTestRig()
	r.show(gooseShow())
	r.entry(gooseEntry(models.SetOne, 0, "Borne", "", intp(600)))

	before := testutil.ToFloat64(metrics.PipelineDuplicates)
	r.entry(gooseEntry(models.SetOne, 0, "Borne", "", intp(600)))
	r.show(gooseShow())
	after := testutil.ToFloat64(metrics.PipelineDuplicates)

	if delta := after - before; delta != 2 {
		t.Errorf("duplicate count delta = %v, want 2", delta)
	}
}

func TestShowVanishedDeadLettersOrphanedEntries(t *testing.T) {
	r := newTestRig()
	w := r.proc.workerFor("ghost")

	e := models.EnrichedEntry{
		SetlistEntry: models.SetlistEntry{ShowID: "ghost", SetLabel: models.SetOne, SongName: "Arrow"},
		BandName:     "Goose",
		ShowDate:     "2025-06-20",
		VenueSlug:    "salt-shed",
	}
	r.engine.ApplyEnriched(&e, false)
	w.projections["ghost"] = &projection{entries: []models.EnrichedEntry{e}}
	w.anomalous[e.Key()] = struct{}{}

	w.reproject("ghost")

	letters := r.sink.List(0, 10)
	if len(letters) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(letters))
	}
	if letters[0].ReasonCode != models.ReasonOrphanedEntry || letters[0].Stage != models.StageEnricher {
		t.Errorf("letter = stage %s reason %s", letters[0].Stage, letters[0].ReasonCode)
	}
	if len(w.anomalous) != 0 {
		t.Error("anomaly mark survived the show's removal")
	}
	if _, ok := r.snapshot().SongStat("Goose", "Arrow"); ok {
		t.Error("orphaned contribution not retracted")
	}
}

func TestOnTimeCorrectionClearsAnomalyMark(t *testing.T) {
	r := newTestRig()
	r.show(gooseShow())
	w := r.proc.workerFor("goose:2025-06-20:salt-shed")

	w.handle(task{entry: gooseEntry(models.SetOne, 1, "Madhuvan", "", nil)})
	w.flushLate(time.Now().Add(time.Minute))
	if len(w.anomalous) != 1 {
		t.Fatalf("anomalous marks = %d, want 1", len(w.anomalous))
	}

	// A corrected version arriving on time supersedes the late apply.
	w.handle(task{entry: gooseEntry(models.SetOne, 0, "Arrow", "", nil)})
	w.handle(task{entry: gooseEntry(models.SetOne, 1, "Madhuvan", "", intp(900))})

	if len(w.anomalous) != 0 {
		t.Error("anomaly mark not cleared by on-time correction")
	}
	for _, p := range w.projections {
		for _, pe := range p.entries {
			if pe.OrderingAnomaly {
				t.Errorf("%s still flagged after on-time correction", pe.SongName)
			}
		}
	}
}

func TestShowVanishedRetractsProjection(t *testing.T) {
	r := newTestRig()
	r.show(gooseShow())
	r.entry(gooseEntry(models.SetOne, 0, "Arrow", "", intp(900)))

	// Simulate a reprojection for a show the coordinator no longer knows.
	w := r.proc.workerFor("missing-show")
	w.reproject("missing-show")

	// The real show's data is untouched.
	if _, ok := r.snapshot().SongStat("Goose", "Arrow"); !ok {
		t.Error("unrelated projection affected by missing show")
	}
}
