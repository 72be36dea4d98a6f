// Segue - Concert Setlist Stream Analytics
// Copyright 2026 Setlist Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/setlistlab/segue

// Package enrich derives read-only projections from canonical entries:
// sequence indices across sets, duration buckets, and jam resolution.
// Projection is pure; it reads aggregate history through a snapshot
// interface and never writes anything.
package enrich

import (
	"strings"

	"github.com/setlistlab/segue/internal/config"
	"github.com/setlistlab/segue/internal/models"
)

// SongStatReader exposes historical per-song aggregates for jam inference.
// The aggregation engine's snapshot view implements it. Readers may serve
// slightly stale data; the inference degrades, it never blocks.
type SongStatReader interface {
	SongStat(bandName, songName string) (*models.SongStat, bool)
}

// Enricher projects canonical entries into enriched entries.
type Enricher struct {
	cfg   config.EnrichConfig
	stats SongStatReader
}

// NewEnricher builds an enricher. A nil stats reader disables the
// ratio-based jam inference; explicit and absolute rules still apply.
func NewEnricher(cfg config.EnrichConfig, stats SongStatReader) *Enricher {
	return &Enricher{cfg: cfg, stats: stats}
}

// Project derives the enriched projection of a show's full entry list.
// Entries must already be in running order (set ordinal, then position);
// the coordinator's Entries accessor guarantees that.
func (e *Enricher) Project(show *models.Show, entries []*models.SetlistEntry) []models.EnrichedEntry {
	out := make([]models.EnrichedEntry, 0, len(entries))
	for i, entry := range entries {
		out = append(out, models.EnrichedEntry{
			SetlistEntry:   *entry,
			BandName:       show.BandName,
			ShowDate:       show.ShowDate,
			VenueSlug:      show.VenueSlug,
			SequenceIndex:  i,
			DurationBucket: e.bucket(entry.DurationSeconds),
			ResolvedJam:    e.resolveJam(show.BandName, entry),
		})
	}
	return out
}

// bucket classifies a duration. Missing durations are unknown, never zero.
func (e *Enricher) bucket(duration *int) models.DurationBucket {
	if duration == nil {
		return models.BucketUnknown
	}
	d := *duration
	switch {
	case d <= e.cfg.BucketShortSeconds:
		return models.BucketShort
	case d <= e.cfg.BucketMediumSeconds:
		return models.BucketMedium
	case d <= e.cfg.BucketLongSeconds:
		return models.BucketLong
	default:
		return models.BucketEpic
	}
}

// resolveJam applies the jam rules in order: explicit flag, song name,
// absolute duration threshold, then the historical-average ratio when
// enough timed plays exist.
func (e *Enricher) resolveJam(bandName string, entry *models.SetlistEntry) bool {
	if entry.IsJam {
		return true
	}
	if strings.Contains(strings.ToLower(entry.SongName), "jam") {
		return true
	}
	if entry.DurationSeconds == nil {
		return false
	}
	d := *entry.DurationSeconds
	if d >= e.cfg.JamAbsoluteSeconds {
		return true
	}

	if e.stats == nil {
		return false
	}
	stat, ok := e.stats.SongStat(bandName, entry.SongName)
	if !ok || stat.TimedPlayCount < e.cfg.JamMinHistory {
		return false
	}
	avg := stat.AvgDurationSeconds()
	return avg > 0 && float64(d) > e.cfg.JamAvgRatio*avg
}
