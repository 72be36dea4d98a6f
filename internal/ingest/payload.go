// Segue - Concert Setlist Stream Analytics
// Copyright 2026 Setlist Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/setlistlab/segue

// Package ingest implements the ingestion gate: payload shape validation,
// identity normalization, and dead-letter routing for malformed records.
// The gate checks shape only; referential integrity belongs to the
// coordinator so validation never couples to canonical state.
package ingest

import (
	"strings"
	"unicode"
)

// ShowPayload is the raw submission shape for a show.
type ShowPayload struct {
	BandName     string `json:"band_name" validate:"required,min=1,max=300"`
	ShowDate     string `json:"show_date" validate:"required,datetime=2006-01-02"`
	VenueName    string `json:"venue_name" validate:"required,min=1,max=300"`
	VenueCity    string `json:"venue_city,omitempty" validate:"omitempty,max=200"`
	VenueState   string `json:"venue_state,omitempty" validate:"omitempty,max=200"`
	VenueCountry string `json:"venue_country,omitempty" validate:"omitempty,max=200"`
	TourName     string `json:"tour_name,omitempty" validate:"omitempty,max=300"`
	ShowNotes    string `json:"show_notes,omitempty"`
	Verified     bool   `json:"verified,omitempty"`
	SourceURL    string `json:"source_url,omitempty" validate:"omitempty,url"`
}

// EntryPayload is the raw submission shape for a setlist entry.
type EntryPayload struct {
	ShowID           string   `json:"show_id" validate:"required,min=1,max=700"`
	SetLabel         string   `json:"set_label" validate:"required"`
	Position         int      `json:"position" validate:"gte=0"`
	SongName         string   `json:"song_name" validate:"required,min=1,max=300"`
	DurationSeconds  *int     `json:"duration_seconds,omitempty" validate:"omitempty,gte=0"`
	IsJam            bool     `json:"is_jam,omitempty"`
	IsTease          bool     `json:"is_tease,omitempty"`
	IsPartial        bool     `json:"is_partial,omitempty"`
	IsCover          bool     `json:"is_cover,omitempty"`
	OriginalArtist   string   `json:"original_artist,omitempty" validate:"omitempty,max=300"`
	TransitionMark   string   `json:"transition_mark,omitempty" validate:"omitempty,max=8"`
	PerformanceNotes string   `json:"performance_notes,omitempty"`
	GuestMusicians   []string `json:"guest_musicians,omitempty" validate:"omitempty,dive,min=1,max=300"`
}

// Slug normalizes a free-text name into a stable identity component:
// lowercase, runs of non-alphanumerics collapsed to a single dash, trimmed.
// Slugging must stay deterministic; show identity depends on it.
func Slug(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}

	return strings.TrimRight(b.String(), "-")
}

// ShowID derives the deterministic show identity from its composite key.
func ShowID(bandName, showDate, venueSlug string) string {
	return Slug(bandName) + ":" + showDate + ":" + venueSlug
}
