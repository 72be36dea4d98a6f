// Segue - Concert Setlist Stream Analytics
// Copyright 2026 Setlist Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/setlistlab/segue

package aggregate

import (
	"github.com/setlistlab/segue/internal/models"
)

// Accumulators keep multisets alongside plain counters so a retraction can
// restore any derived extreme exactly. A max tracked as a single int cannot
// survive retracting the max; a duration multiset can.

// songAcc accumulates one (band, song) pair.
type songAcc struct {
	band string
	song string

	playCount  int
	totalDur   int64
	timedPlays int
	jamCount   int
	teaseCount int

	durations map[int]int    // duration multiset, recovers longest exactly
	dates     map[string]int // show-date multiset, recovers first/last played
	shows     map[string]int // showID -> plays, recovers distinct shows
}

func newSongAcc(band, song string) *songAcc {
	return &songAcc{
		band:      band,
		song:      song,
		durations: make(map[int]int),
		dates:     make(map[string]int),
		shows:     make(map[string]int),
	}
}

// canRetract reports whether the entry's contribution is actually present.
func (a *songAcc) canRetract(e *models.EnrichedEntry) bool {
	if a.playCount <= 0 || a.dates[e.ShowDate] <= 0 || a.shows[e.ShowID] <= 0 {
		return false
	}
	if e.DurationSeconds != nil && a.durations[*e.DurationSeconds] <= 0 {
		return false
	}
	if e.ResolvedJam && a.jamCount <= 0 {
		return false
	}
	if e.IsTease && a.teaseCount <= 0 {
		return false
	}
	return true
}

func (a *songAcc) apply(e *models.EnrichedEntry, sign int) {
	a.playCount += sign
	if e.DurationSeconds != nil {
		d := *e.DurationSeconds
		a.totalDur += int64(sign) * int64(d)
		a.timedPlays += sign
		bumpCount(a.durations, d, sign)
	}
	if e.ResolvedJam {
		a.jamCount += sign
	}
	if e.IsTease {
		a.teaseCount += sign
	}
	bumpCount(a.dates, e.ShowDate, sign)
	bumpCount(a.shows, e.ShowID, sign)
}

func (a *songAcc) empty() bool {
	return a.playCount == 0
}

func (a *songAcc) materialize() *models.SongStat {
	first, last := dateRange(a.dates)
	return &models.SongStat{
		BandName:             a.band,
		SongName:             a.song,
		PlayCount:            a.playCount,
		TotalDurationSeconds: a.totalDur,
		TimedPlayCount:       a.timedPlays,
		LongestSeconds:       maxKey(a.durations),
		JamCount:             a.jamCount,
		TeaseCount:           a.teaseCount,
		FirstPlayed:          first,
		LastPlayed:           last,
		DistinctShows:        len(a.shows),
	}
}

// venueAcc accumulates one (band, venue_slug) pair. Show-level facts come
// from ApplyShow, song-level facts from ApplyEnriched; the two retract
// independently.
type venueAcc struct {
	band      string
	venueSlug string
	venueName string

	shows      map[string]int // showID multiset
	dates      map[string]int // show-date multiset
	songs      map[string]int // song name -> plays, recovers distinct songs
	totalSongs int
}

func newVenueAcc(band, slug string) *venueAcc {
	return &venueAcc{
		band:      band,
		venueSlug: slug,
		shows:     make(map[string]int),
		dates:     make(map[string]int),
		songs:     make(map[string]int),
	}
}

func (a *venueAcc) applyShow(s *models.Show, sign int) {
	bumpCount(a.shows, s.ShowID, sign)
	bumpCount(a.dates, s.ShowDate, sign)
	if sign > 0 {
		a.venueName = s.VenueName
	}
}

func (a *venueAcc) applyEntry(e *models.EnrichedEntry, sign int) {
	bumpCount(a.songs, e.SongName, sign)
	a.totalSongs += sign
}

func (a *venueAcc) empty() bool {
	return len(a.shows) == 0 && a.totalSongs == 0
}

func (a *venueAcc) materialize() *models.VenueStat {
	first, last := dateRange(a.dates)
	return &models.VenueStat{
		BandName:      a.band,
		VenueSlug:     a.venueSlug,
		VenueName:     a.venueName,
		ShowCount:     len(a.shows),
		DistinctSongs: len(a.songs),
		TotalSongs:    a.totalSongs,
		FirstShowDate: first,
		LastShowDate:  last,
	}
}

// dailyAcc accumulates one (band, date) pair.
type dailyAcc struct {
	band string
	date string

	shows      map[string]int // showID multiset
	totalSongs int
	totalJams  int
}

func newDailyAcc(band, date string) *dailyAcc {
	return &dailyAcc{band: band, date: date, shows: make(map[string]int)}
}

func (a *dailyAcc) empty() bool {
	return len(a.shows) == 0 && a.totalSongs == 0 && a.totalJams == 0
}

func (a *dailyAcc) materialize() *models.DailyStat {
	return &models.DailyStat{
		BandName:   a.band,
		Date:       a.date,
		ShowCount:  len(a.shows),
		TotalSongs: a.totalSongs,
		TotalJams:  a.totalJams,
	}
}

// transAcc accumulates one (band, from_song, to_song) triple.
type transAcc struct {
	band string
	from string
	to   string

	count  int
	byType map[models.TransitionType]int
}

func newTransAcc(ev *models.TransitionEvent) *transAcc {
	return &transAcc{
		band:   ev.BandName,
		from:   ev.FromSong,
		to:     ev.ToSong,
		byType: make(map[models.TransitionType]int),
	}
}

func (a *transAcc) apply(ev *models.TransitionEvent, sign int) {
	a.count += sign
	bumpCount(a.byType, ev.Type, sign)
}

func (a *transAcc) empty() bool {
	return a.count == 0
}

func (a *transAcc) materialize() *models.SongTransition {
	byType := make(map[models.TransitionType]int, len(a.byType))
	for k, v := range a.byType {
		byType[k] = v
	}
	return &models.SongTransition{
		BandName: a.band,
		FromSong: a.from,
		ToSong:   a.to,
		Count:    a.count,
		ByType:   byType,
	}
}

// bumpCount adjusts a multiset count and drops zeroed keys so len() stays
// an exact distinct count.
func bumpCount[K comparable](m map[K]int, key K, sign int) {
	m[key] += sign
	if m[key] <= 0 {
		delete(m, key)
	}
}

// dateRange returns the lexicographic min and max of a date multiset.
// YYYY-MM-DD sorts chronologically, so string order is date order.
func dateRange(dates map[string]int) (first, last string) {
	for d := range dates {
		if first == "" || d < first {
			first = d
		}
		if d > last {
			last = d
		}
	}
	return first, last
}

// maxKey returns the largest key of an int-keyed multiset, 0 when empty.
func maxKey(m map[int]int) int {
	max := 0
	for k := range m {
		if k > max {
			max = k
		}
	}
	return max
}