// Segue - Concert Setlist Stream Analytics
// Copyright 2026 Setlist Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/setlistlab/segue

package transition

import (
	"testing"

	"github.com/setlistlab/segue/internal/config"
	"github.com/setlistlab/segue/internal/models"
)

func testCfg() config.TransitionsConfig {
	return config.TransitionsConfig{
		SegueMarkers: []string{">", "->", ">>"},
		BreakMarkers: []string{","},
		GapPositions: 2,
	}
}

func enriched(set models.SetLabel, pos int, song, mark string) models.EnrichedEntry {
	return models.EnrichedEntry{
		SetlistEntry: models.SetlistEntry{
			ShowID:         "goose:2025-06-20:the-salt-shed",
			SetLabel:       set,
			Position:       pos,
			SongName:       song,
			TransitionMark: mark,
		},
		BandName: "Goose",
	}
}

func TestClassify(t *testing.T) {
	d := NewDetector(testCfg())

	tests := []struct {
		name string
		prev models.EnrichedEntry
		next models.EnrichedEntry
		want models.TransitionType
	}{
		{
			"segue marker",
			enriched(models.SetOne, 0, "Arrow", ">"),
			enriched(models.SetOne, 1, "Madhuvan", ""),
			models.TransitionSegue,
		},
		{
			"arrow marker",
			enriched(models.SetOne, 0, "Arrow", "->"),
			enriched(models.SetOne, 1, "Madhuvan", ""),
			models.TransitionSegue,
		},
		{
			"no marker is a break",
			enriched(models.SetOne, 0, "Arrow", ""),
			enriched(models.SetOne, 1, "Madhuvan", ""),
			models.TransitionBreak,
		},
		{
			"explicit break marker",
			enriched(models.SetOne, 0, "Arrow", ","),
			enriched(models.SetOne, 1, "Madhuvan", ""),
			models.TransitionBreak,
		},
		{
			"set change overrides marker",
			enriched(models.SetOne, 5, "Arrow", ">"),
			enriched(models.SetEncore, 0, "Hot Tea", ""),
			models.TransitionSetBoundary,
		},
		{
			"segue marker wins over position gap",
			enriched(models.SetOne, 1, "Arrow", ">"),
			enriched(models.SetOne, 3, "Madhuvan", ""),
			models.TransitionSegue,
		},
		{
			"break marker with position gap",
			enriched(models.SetOne, 1, "Arrow", ","),
			enriched(models.SetOne, 3, "Madhuvan", ""),
			models.TransitionBreak,
		},
		{
			"position gap with no marker",
			enriched(models.SetOne, 0, "Arrow", ""),
			enriched(models.SetOne, 2, "Madhuvan", ""),
			models.TransitionBreak,
		},
		{
			"unknown marker is a break",
			enriched(models.SetOne, 0, "Arrow", "~"),
			enriched(models.SetOne, 1, "Madhuvan", ""),
			models.TransitionBreak,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.Classify(&tt.prev, &tt.next); got != tt.want {
				t.Errorf("Classify = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDetectEmitsPairwiseEvents(t *testing.T) {
	d := NewDetector(testCfg())

	seq := []models.EnrichedEntry{
		enriched(models.SetOne, 0, "Borne", ""),
		enriched(models.SetOne, 1, "Arrow", ">"),
		enriched(models.SetOne, 2, "Madhuvan", ""),
		enriched(models.SetEncore, 0, "Hot Tea", ""),
	}

	events := d.Detect(seq)
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}

	want := []struct {
		from, to string
		typ      models.TransitionType
	}{
		{"Borne", "Arrow", models.TransitionBreak},
		{"Arrow", "Madhuvan", models.TransitionSegue},
		{"Madhuvan", "Hot Tea", models.TransitionSetBoundary},
	}
	for i, w := range want {
		ev := events[i]
		if ev.FromSong != w.from || ev.ToSong != w.to || ev.Type != w.typ {
			t.Errorf("event %d = %s -> %s (%s), want %s -> %s (%s)",
				i, ev.FromSong, ev.ToSong, ev.Type, w.from, w.to, w.typ)
		}
		if ev.BandName != "Goose" {
			t.Errorf("event %d missing band context", i)
		}
	}
}

func TestDetectIsDeterministic(t *testing.T) {
	d := NewDetector(testCfg())

	seq := []models.EnrichedEntry{
		enriched(models.SetOne, 0, "Borne", ">"),
		enriched(models.SetOne, 1, "Arrow", ""),
	}

	a := d.Detect(seq)
	b := d.Detect(seq)
	if len(a) != len(b) || a[0] != b[0] {
		t.Error("same sequence produced different events")
	}
}

func TestDetectShortSequences(t *testing.T) {
	d := NewDetector(testCfg())

	if got := d.Detect(nil); got != nil {
		t.Errorf("Detect(nil) = %v", got)
	}
	single := []models.EnrichedEntry{enriched(models.SetOne, 0, "Arrow", ">")}
	if got := d.Detect(single); got != nil {
		t.Errorf("single entry emitted events: %v", got)
	}
}
