// Segue - Concert Setlist Stream Analytics
// Copyright 2026 Setlist Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/setlistlab/segue

// Package models defines the canonical entities, enriched projections and
// aggregate rows that flow through the Segue pipeline.
package models

import (
	"strconv"
	"strings"
	"time"
)

// SetLabel identifies the logical grouping a song was performed in.
// The vocabulary is closed; the ingestion gate rejects anything else
// with InvalidEnumValue.
type SetLabel string

const (
	SetSoundcheck SetLabel = "Soundcheck"
	SetOne        SetLabel = "Set 1"
	SetTwo        SetLabel = "Set 2"
	SetThree      SetLabel = "Set 3"
	SetSingle     SetLabel = "One Set"
	SetEncore     SetLabel = "Encore"
	SetOther      SetLabel = "Other"
)

// setLabelOrdinals orders sets as they occur in a show. Soundcheck precedes
// the main sets, the encore follows them, and Other sorts last.
var setLabelOrdinals = map[SetLabel]int{
	SetSoundcheck: 0,
	SetOne:        1,
	SetSingle:     1, // a one-set show's single set occupies the Set 1 slot
	SetTwo:        2,
	SetThree:      3,
	SetEncore:     4,
	SetOther:      5,
}

// Ordinal returns the position of this set within a show's running order.
// Unknown labels sort last; the gate guarantees they never enter the pipeline.
func (s SetLabel) Ordinal() int {
	if ord, ok := setLabelOrdinals[s]; ok {
		return ord
	}
	return 6
}

// Valid reports whether the label belongs to the closed vocabulary.
func (s SetLabel) Valid() bool {
	_, ok := setLabelOrdinals[s]
	return ok
}

// SetLabels lists the accepted vocabulary, in running order.
func SetLabels() []SetLabel {
	return []SetLabel{SetSoundcheck, SetOne, SetSingle, SetTwo, SetThree, SetEncore, SetOther}
}

// Show is one concert, uniquely identified by (band, date, venue).
// Re-ingesting the same identity with different attributes is a correction,
// never a new entity.
type Show struct {
	ShowID       string    `json:"show_id"`
	BandName     string    `json:"band_name"`
	ShowDate     string    `json:"show_date"` // YYYY-MM-DD
	VenueName    string    `json:"venue_name"`
	VenueSlug    string    `json:"venue_slug"`
	VenueCity    string    `json:"venue_city,omitempty"`
	VenueState   string    `json:"venue_state,omitempty"`
	VenueCountry string    `json:"venue_country,omitempty"`
	TourName     string    `json:"tour_name,omitempty"`
	ShowNotes    string    `json:"show_notes,omitempty"`
	Verified     bool      `json:"verified"`
	SourceURL    string    `json:"source_url,omitempty"`
	IngestedAt   time.Time `json:"ingested_at"`
}

// SetlistEntry is one song performance within a show's set.
// Identity is (show_id, set_label, position).
type SetlistEntry struct {
	ShowID           string    `json:"show_id"`
	SetLabel         SetLabel  `json:"set_label"`
	Position         int       `json:"position"`
	SongName         string    `json:"song_name"`
	DurationSeconds  *int      `json:"duration_seconds,omitempty"`
	IsJam            bool      `json:"is_jam"`
	IsTease          bool      `json:"is_tease"`
	IsPartial        bool      `json:"is_partial"`
	IsCover          bool      `json:"is_cover"`
	OriginalArtist   string    `json:"original_artist,omitempty"`
	TransitionMark   string    `json:"transition_mark,omitempty"` // raw marker to the next entry, e.g. ">"
	PerformanceNotes string    `json:"performance_notes,omitempty"`
	GuestMusicians   []string  `json:"guest_musicians,omitempty"`
	IngestedAt       time.Time `json:"ingested_at"`
}

// Key returns the entry's canonical identity key.
func (e *SetlistEntry) Key() string {
	return EntryKey(e.ShowID, e.SetLabel, e.Position)
}

// EntryKey builds the canonical identity key for a setlist entry.
func EntryKey(showID string, set SetLabel, position int) string {
	var b strings.Builder
	b.Grow(len(showID) + len(set) + 8)
	b.WriteString(showID)
	b.WriteByte('|')
	b.WriteString(string(set))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(position))
	return b.String()
}

// DurationBucket is the categorical duration classification of a performance.
type DurationBucket string

const (
	BucketUnknown DurationBucket = "unknown"
	BucketShort   DurationBucket = "short"
	BucketMedium  DurationBucket = "medium"
	BucketLong    DurationBucket = "long"
	BucketEpic    DurationBucket = "epic"
)

// EnrichedEntry is the read-only projection the enricher derives from a
// canonical entry plus its show context. It is never addressable on its own;
// it only feeds the transition detector and the aggregation engine.
type EnrichedEntry struct {
	SetlistEntry

	BandName  string `json:"band_name"`
	ShowDate  string `json:"show_date"`
	VenueSlug string `json:"venue_slug"`

	// SequenceIndex is the 0-based running position across all sets of the show.
	SequenceIndex int `json:"sequence_index"`

	DurationBucket DurationBucket `json:"duration_bucket"`

	// ResolvedJam is the explicit flag when present, otherwise inferred.
	ResolvedJam bool `json:"resolved_jam"`

	// OrderingAnomaly marks entries processed past the reordering timeout.
	// A quality signal, not a correctness violation.
	OrderingAnomaly bool `json:"ordering_anomaly,omitempty"`
}

// TransitionType classifies the relationship between consecutive songs.
type TransitionType string

const (
	TransitionSegue       TransitionType = "segue"
	TransitionBreak       TransitionType = "break"
	TransitionSetBoundary TransitionType = "set_boundary"
)

// TransitionEvent is one directed song-to-song transition within a show.
// The final entry of a show emits no event.
type TransitionEvent struct {
	BandName string         `json:"band_name"`
	ShowID   string         `json:"show_id"`
	FromSong string         `json:"from_song"`
	ToSong   string         `json:"to_song"`
	Type     TransitionType `json:"type"`
}

// Key returns the grouping key for the transition's aggregate accumulator.
func (t *TransitionEvent) Key() string {
	return t.BandName + "|" + t.FromSong + "|" + t.ToSong
}
