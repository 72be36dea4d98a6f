// Segue - Concert Setlist Stream Analytics
// Copyright 2026 Setlist Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/setlistlab/segue

package pipeline

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/setlistlab/segue/internal/aggregate"
	"github.com/setlistlab/segue/internal/cache"
	"github.com/setlistlab/segue/internal/canonical"
	"github.com/setlistlab/segue/internal/config"
	"github.com/setlistlab/segue/internal/enrich"
	"github.com/setlistlab/segue/internal/logging"
	"github.com/setlistlab/segue/internal/metrics"
	"github.com/setlistlab/segue/internal/models"
	"github.com/setlistlab/segue/internal/transition"
)

// task is one unit of work for a partition worker. Exactly one of show
// and entry is set.
type task struct {
	show  *models.Show
	entry *models.SetlistEntry
	late  bool
}

// projection is the last enriched state a worker applied for one show.
// Reprojection retracts it before applying the fresh one, which is what
// makes corrections exact.
type projection struct {
	entries []models.EnrichedEntry
	events  []models.TransitionEvent
}

// Recorder receives records the worker pool had to give up on.
type Recorder interface {
	Record(dl *models.DeadLetter)
}

// Processor runs the partitioned worker pool. All records for one show
// hash to the same worker, which serializes that show's pipeline while
// unrelated shows proceed in parallel on other workers.
type Processor struct {
	cfg      config.PipelineConfig
	coord    *canonical.Coordinator
	enricher *enrich.Enricher
	detector *transition.Detector
	engine   *aggregate.Engine
	recorder Recorder

	workers []*worker
	wg      sync.WaitGroup
}

// NewProcessor builds the worker pool. Workers do not run until Start.
func NewProcessor(
	cfg config.PipelineConfig,
	coord *canonical.Coordinator,
	enricher *enrich.Enricher,
	detector *transition.Detector,
	engine *aggregate.Engine,
	recorder Recorder,
) *Processor {
	p := &Processor{
		cfg:      cfg,
		coord:    coord,
		enricher: enricher,
		detector: detector,
		engine:   engine,
		recorder: recorder,
	}
	n := cfg.Workers
	if n <= 0 {
		n = 1
	}
	p.workers = make([]*worker, n)
	for i := range p.workers {
		p.workers[i] = &worker{
			proc:        p,
			tasks:       make(chan task, cfg.BufferSize),
			projections: make(map[string]*projection),
			waiting:     cache.NewMinHeap[*models.SetlistEntry](0),
			anomalous:   make(map[string]struct{}),
		}
	}
	return p
}

// Start launches the workers; they stop when ctx ends.
func (p *Processor) Start(ctx context.Context) {
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *worker) {
			defer p.wg.Done()
			w.run(ctx)
		}(w)
	}
}

// Wait blocks until every worker has stopped.
func (p *Processor) Wait() {
	p.wg.Wait()
}

// DispatchShow routes a show to its partition. Blocks when the worker's
// buffer is full; that is the pipeline's backpressure point.
func (p *Processor) DispatchShow(s *models.Show) {
	p.workerFor(s.ShowID).tasks <- task{show: s}
}

// DispatchEntry routes an entry to its show's partition.
func (p *Processor) DispatchEntry(e *models.SetlistEntry) {
	p.workerFor(e.ShowID).tasks <- task{entry: e}
}

func (p *Processor) workerFor(showID string) *worker {
	h := fnv.New32a()
	h.Write([]byte(showID))
	return p.workers[h.Sum32()%uint32(len(p.workers))]
}

// worker owns the per-show state of its partition: last applied
// projections, the ordering wait buffer and the anomaly marks. No other
// goroutine touches these maps.
type worker struct {
	proc        *Processor
	tasks       chan task
	projections map[string]*projection
	waiting     *cache.MinHeap[*models.SetlistEntry] // deadline-ordered
	anomalous   map[string]struct{}                  // entry keys processed late
}

func (w *worker) run(ctx context.Context) {
	tick := w.proc.cfg.OrderingTimeout / 4
	if tick < 50*time.Millisecond {
		tick = 50 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-w.tasks:
			w.handle(t)
		case now := <-ticker.C:
			w.flushLate(now)
		}
	}
}

func (w *worker) handle(t task) {
	if t.show != nil {
		w.handleShow(t.show)
		return
	}
	w.handleEntry(t.entry, t.late)
}

func (w *worker) handleShow(s *models.Show) {
	res := w.proc.coord.ApplyShow(s)
	metrics.UpsertOutcomes.WithLabelValues("show", string(res.Outcome)).Inc()
	metrics.PendingEntries.Set(float64(w.proc.coord.PendingCount()))

	switch res.Outcome {
	case canonical.OutcomeReplay:
		metrics.PipelineDuplicates.Inc()
		return
	case canonical.OutcomeNew:
		w.proc.engine.ApplyShow(s, false)
		for _, e := range res.Resolved {
			w.applyEntry(e, false)
		}
	case canonical.OutcomeCorrection:
		w.proc.engine.ApplyShow(res.Previous, true)
		w.proc.engine.ApplyShow(s, false)
		metrics.Retractions.WithLabelValues("show").Inc()
		// Venue or date may have moved; every derived entry fact moves too.
		w.reproject(s.ShowID)
	}
}

func (w *worker) handleEntry(e *models.SetlistEntry, late bool) {
	if !late && w.shouldWait(e) {
		w.waiting.Push(e.Key(), e, time.Now().Add(w.proc.cfg.OrderingTimeout))
		return
	}
	w.applyEntry(e, late)
}

// shouldWait holds an entry back when its in-set predecessor has not been
// seen yet, bounded by the ordering timeout. Entries for unknown shows go
// through immediately; the coordinator's pending buffer owns that case.
func (w *worker) shouldWait(e *models.SetlistEntry) bool {
	if e.Position == 0 {
		return false
	}
	if _, known := w.proc.coord.Show(e.ShowID); !known {
		return false
	}
	if w.proc.coord.HasEntry(e.ShowID, e.SetLabel, e.Position) {
		return false // replay or correction of an existing entry
	}
	return !w.proc.coord.HasEntry(e.ShowID, e.SetLabel, e.Position-1)
}

func (w *worker) applyEntry(e *models.SetlistEntry, late bool) {
	res := w.proc.coord.ApplyEntry(e)
	metrics.UpsertOutcomes.WithLabelValues("entry", string(res.Outcome)).Inc()
	metrics.PendingEntries.Set(float64(w.proc.coord.PendingCount()))

	switch res.Outcome {
	case canonical.OutcomePending:
		return
	case canonical.OutcomeReplay:
		metrics.PipelineDuplicates.Inc()
		return
	}

	if late {
		w.anomalous[e.Key()] = struct{}{}
		metrics.OrderingAnomalies.Inc()
		logging.Warn().
			Str("component", "pipeline").
			Str("entry_key", e.Key()).
			Msg("Entry processed past ordering timeout")
	} else {
		// An on-time correction supersedes any earlier late apply.
		delete(w.anomalous, e.Key())
	}

	w.reproject(e.ShowID)
	w.releaseWaiters(e.ShowID)
}

// releaseWaiters re-checks parked entries for a show after canonical state
// changed; anything whose predecessor now exists proceeds on time.
func (w *worker) releaseWaiters(showID string) {
	for {
		released := false
		for _, he := range w.waiting.All() {
			e := he.Value
			if e.ShowID != showID || w.shouldWait(e) {
				continue
			}
			w.waiting.Remove(he.Key)
			w.applyEntry(e, false)
			released = true
			break
		}
		if !released {
			return
		}
	}
}

// flushLate applies every parked entry whose deadline passed, flagged as
// an ordering anomaly.
func (w *worker) flushLate(now time.Time) {
	for _, he := range w.waiting.PopBefore(now) {
		w.applyEntry(he.Value, true)
	}
}

// reproject recomputes a show's entire derived state and swaps it into
// the aggregates: retract the previous projection, apply the fresh one.
// Processing the same canonical state twice is therefore a no-op, and
// corrections leave the views as if only the final version was ever seen.
func (w *worker) reproject(showID string) {
	old := w.projections[showID]

	show, ok := w.proc.coord.Show(showID)
	if !ok {
		if old != nil {
			w.retractProjection(old)
			w.orphanEntries(old.entries)
			delete(w.projections, showID)
		}
		return
	}

	entries := w.proc.coord.Entries(showID)
	enriched := w.proc.enricher.Project(show, entries)
	for i := range enriched {
		if _, bad := w.anomalous[enriched[i].Key()]; bad {
			enriched[i].OrderingAnomaly = true
		}
	}
	events := w.proc.detector.Detect(enriched)

	if old != nil {
		w.retractProjection(old)
	}
	for i := range enriched {
		w.proc.engine.ApplyEnriched(&enriched[i], false)
	}
	for i := range events {
		w.proc.engine.ApplyTransition(&events[i], false)
	}
	w.projections[showID] = &projection{entries: enriched, events: events}
}

// orphanEntries dead-letters entries whose show left canonical state and
// drops their anomaly marks; nothing references those keys afterwards.
func (w *worker) orphanEntries(entries []models.EnrichedEntry) {
	for i := range entries {
		e := &entries[i].SetlistEntry
		delete(w.anomalous, e.Key())
		if w.proc.recorder == nil {
			continue
		}
		payload, err := json.Marshal(e)
		if err != nil {
			payload = []byte(e.Key())
		}
		w.proc.recorder.Record(models.NewDeadLetter(
			payload, models.StageEnricher, models.ReasonOrphanedEntry,
			"show "+e.ShowID+" is no longer known"))
	}
}

func (w *worker) retractProjection(p *projection) {
	for i := range p.events {
		w.proc.engine.ApplyTransition(&p.events[i], true)
	}
	for i := range p.entries {
		w.proc.engine.ApplyEnriched(&p.entries[i], true)
	}
	if n := len(p.entries); n > 0 {
		metrics.Retractions.WithLabelValues("projection").Add(float64(n))
	}
}
