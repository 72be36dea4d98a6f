// Segue - Concert Setlist Stream Analytics
// Copyright 2026 Setlist Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/setlistlab/segue

// Package transition classifies song-to-song transitions within a show.
// The detector is pure: same enriched sequence in, same events out. The
// marker vocabulary comes from configuration because source conventions
// for segues vary.
package transition

import (
	"github.com/setlistlab/segue/internal/config"
	"github.com/setlistlab/segue/internal/models"
)

// Detector turns an enriched running order into transition events.
type Detector struct {
	segueMarks map[string]struct{}
	breakMarks map[string]struct{}
	gap        int
}

// NewDetector builds a detector from the configured marker vocabulary.
func NewDetector(cfg config.TransitionsConfig) *Detector {
	d := &Detector{
		segueMarks: make(map[string]struct{}, len(cfg.SegueMarkers)),
		breakMarks: make(map[string]struct{}, len(cfg.BreakMarkers)),
		gap:        cfg.GapPositions,
	}
	for _, m := range cfg.SegueMarkers {
		d.segueMarks[m] = struct{}{}
	}
	for _, m := range cfg.BreakMarkers {
		d.breakMarks[m] = struct{}{}
	}
	return d
}

// Classify determines the transition type between two consecutive entries
// of a running order. A set change is always a set boundary. An explicit
// marker wins over positional inference; the gap rule applies only when
// the previous entry carries no recognized marker.
func (d *Detector) Classify(prev, next *models.EnrichedEntry) models.TransitionType {
	if prev.SetLabel != next.SetLabel {
		return models.TransitionSetBoundary
	}
	if _, ok := d.segueMarks[prev.TransitionMark]; ok {
		return models.TransitionSegue
	}
	if _, ok := d.breakMarks[prev.TransitionMark]; ok {
		return models.TransitionBreak
	}
	if d.gap > 0 && next.Position-prev.Position >= d.gap {
		return models.TransitionBreak
	}
	return models.TransitionBreak
}

// Detect emits one event per consecutive pair of the running order.
// The final entry emits nothing; a show's last song transitions nowhere.
func (d *Detector) Detect(entries []models.EnrichedEntry) []models.TransitionEvent {
	if len(entries) < 2 {
		return nil
	}

	events := make([]models.TransitionEvent, 0, len(entries)-1)
	for i := 0; i < len(entries)-1; i++ {
		prev, next := &entries[i], &entries[i+1]
		events = append(events, models.TransitionEvent{
			BandName: prev.BandName,
			ShowID:   prev.ShowID,
			FromSong: prev.SongName,
			ToSong:   next.SongName,
			Type:     d.Classify(prev, next),
		})
	}
	return events
}
