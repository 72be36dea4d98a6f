// Segue - Concert Setlist Stream Analytics
// Copyright 2026 Setlist Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/setlistlab/segue

package models

// SongStat is the materialized per-song accumulator, keyed by
// (band_name, song_name). Counts use exact integer arithmetic; averages are
// derived at read time, never accumulated as floats.
type SongStat struct {
	BandName string `json:"band_name"`
	SongName string `json:"song_name"`

	PlayCount            int   `json:"play_count"`
	TotalDurationSeconds int64 `json:"total_duration_seconds"`
	TimedPlayCount       int   `json:"timed_play_count"` // plays with a known duration
	LongestSeconds       int   `json:"longest_seconds"`
	JamCount             int   `json:"jam_count"`
	TeaseCount           int   `json:"tease_count"`

	FirstPlayed string `json:"first_played,omitempty"` // YYYY-MM-DD
	LastPlayed  string `json:"last_played,omitempty"`  // YYYY-MM-DD

	DistinctShows int `json:"distinct_shows"`
}

// AvgDurationSeconds derives the mean duration over timed plays.
// Returns 0 when no play carried a duration.
func (s *SongStat) AvgDurationSeconds() float64 {
	if s.TimedPlayCount == 0 {
		return 0
	}
	return float64(s.TotalDurationSeconds) / float64(s.TimedPlayCount)
}

// VenueStat is the materialized per-venue accumulator, keyed by
// (band_name, venue_slug).
type VenueStat struct {
	BandName  string `json:"band_name"`
	VenueSlug string `json:"venue_slug"`
	VenueName string `json:"venue_name,omitempty"`

	ShowCount     int    `json:"show_count"`
	DistinctSongs int    `json:"distinct_songs"`
	TotalSongs    int    `json:"total_songs"`
	FirstShowDate string `json:"first_show_date,omitempty"`
	LastShowDate  string `json:"last_show_date,omitempty"`
}

// AvgSongsPerShow derives the mean setlist length at this venue.
func (v *VenueStat) AvgSongsPerShow() float64 {
	if v.ShowCount == 0 {
		return 0
	}
	return float64(v.TotalSongs) / float64(v.ShowCount)
}

// DailyStat is the materialized per-day accumulator, keyed by
// (band_name, date). Multiple shows on one day aggregate correctly.
type DailyStat struct {
	BandName string `json:"band_name"`
	Date     string `json:"date"` // YYYY-MM-DD

	ShowCount  int `json:"show_count"`
	TotalSongs int `json:"total_songs"`
	TotalJams  int `json:"total_jams"`
}

// SongTransition is the materialized transition accumulator, keyed by
// (band_name, from_song, to_song), with a per-type breakdown.
type SongTransition struct {
	BandName string `json:"band_name"`
	FromSong string `json:"from_song"`
	ToSong   string `json:"to_song"`

	Count  int                    `json:"count"`
	ByType map[TransitionType]int `json:"by_type"`
}
