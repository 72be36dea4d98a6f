// Segue - Concert Setlist Stream Analytics
// Copyright 2026 Setlist Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/setlistlab/segue

package models

import "testing"

func TestSetLabelOrdinals(t *testing.T) {
	tests := []struct {
		label SetLabel
		want  int
	}{
		{SetSoundcheck, 0},
		{SetOne, 1},
		{SetSingle, 1},
		{SetTwo, 2},
		{SetThree, 3},
		{SetEncore, 4},
		{SetOther, 5},
		{SetLabel("Set 99"), 6},
	}

	for _, tt := range tests {
		if got := tt.label.Ordinal(); got != tt.want {
			t.Errorf("Ordinal(%q) = %d, want %d", tt.label, got, tt.want)
		}
	}
}

func TestSetLabelValid(t *testing.T) {
	for _, label := range SetLabels() {
		if !label.Valid() {
			t.Errorf("expected %q to be valid", label)
		}
	}
	if SetLabel("Third Set").Valid() {
		t.Error("expected unknown label to be invalid")
	}
	if SetLabel("").Valid() {
		t.Error("expected empty label to be invalid")
	}
}

func TestEntryKey(t *testing.T) {
	got := EntryKey("goose:2025-01-12:moon-palace", SetOne, 3)
	want := "goose:2025-01-12:moon-palace|Set 1|3"
	if got != want {
		t.Errorf("EntryKey = %q, want %q", got, want)
	}

	e := &SetlistEntry{ShowID: "s", SetLabel: SetEncore, Position: 1}
	if e.Key() != "s|Encore|1" {
		t.Errorf("entry.Key() = %q", e.Key())
	}
}

func TestReasonCodePermanence(t *testing.T) {
	permanent := []ReasonCode{ReasonMalformedField, ReasonMissingRequiredField, ReasonInvalidEnumValue}
	for _, r := range permanent {
		if !r.Permanent() {
			t.Errorf("expected %q permanent", r)
		}
	}

	transient := []ReasonCode{ReasonUnknownShowReference, ReasonOrderingAnomaly, ReasonPoisoned}
	for _, r := range transient {
		if r.Permanent() {
			t.Errorf("expected %q not permanent", r)
		}
	}
}

func TestSongStatAvgDuration(t *testing.T) {
	s := &SongStat{TotalDurationSeconds: 900, TimedPlayCount: 2}
	if avg := s.AvgDurationSeconds(); avg != 450 {
		t.Errorf("AvgDurationSeconds = %v, want 450", avg)
	}

	empty := &SongStat{}
	if avg := empty.AvgDurationSeconds(); avg != 0 {
		t.Errorf("AvgDurationSeconds on empty stat = %v, want 0", avg)
	}
}

func TestNewDeadLetter(t *testing.T) {
	dl := NewDeadLetter([]byte(`{"x":1}`), StageGate, ReasonMalformedField, "bad date")
	if dl.ID == "" {
		t.Error("expected generated ID")
	}
	if dl.Timestamp.IsZero() {
		t.Error("expected timestamp set")
	}
	if dl.Stage != StageGate || dl.ReasonCode != ReasonMalformedField {
		t.Errorf("unexpected stage/reason: %s/%s", dl.Stage, dl.ReasonCode)
	}
}
