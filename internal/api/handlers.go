// Segue - Concert Setlist Stream Analytics
// Copyright 2026 Setlist Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/setlistlab/segue

package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/setlistlab/segue/internal/models"
)

const maxIngestBody = 1 << 20 // 1 MiB

// IngestShow gates a show payload synchronously and, when accepted,
// submits it to the stream. The caller always learns the outcome and the
// derived show identity in one round trip.
func (s *Server) IngestShow(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIngestBody))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body exceeds limit")
		return
	}

	show, rej := s.gate.AcceptShow(raw)
	if rej != nil {
		respondData(w, http.StatusUnprocessableEntity, &models.IngestResult{
			Accepted:   false,
			ReasonCode: rej.Reason,
			Detail:     rej.Detail,
		})
		return
	}

	if err := s.pub.PublishShow(raw); err != nil {
		respondError(w, http.StatusServiceUnavailable, "PUBLISH_FAILED", "could not submit payload to the stream")
		return
	}
	respondData(w, http.StatusAccepted, &models.IngestResult{
		Accepted: true,
		ShowID:   show.ShowID,
	})
}

// IngestEntry gates a setlist-entry payload and submits it to the stream.
// A reference to an unseen show is not a rejection; the coordinator
// buffers it.
func (s *Server) IngestEntry(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIngestBody))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body exceeds limit")
		return
	}

	entry, rej := s.gate.AcceptEntry(raw)
	if rej != nil {
		respondData(w, http.StatusUnprocessableEntity, &models.IngestResult{
			Accepted:   false,
			ReasonCode: rej.Reason,
			Detail:     rej.Detail,
		})
		return
	}

	if err := s.pub.PublishEntry(raw); err != nil {
		respondError(w, http.StatusServiceUnavailable, "PUBLISH_FAILED", "could not submit payload to the stream")
		return
	}
	respondData(w, http.StatusAccepted, &models.IngestResult{
		Accepted: true,
		ShowID:   entry.ShowID,
		EntryKey: entry.Key(),
	})
}

// SongStats serves the song view, ordered by play count. Optional band
// filter, paginated.
func (s *Server) SongStats(w http.ResponseWriter, r *http.Request) {
	band := r.URL.Query().Get("band")
	stats := s.engine.Snapshot().SongStats
	if band != "" {
		filtered := make([]*models.SongStat, 0, len(stats))
		for _, st := range stats {
			if st.BandName == band {
				filtered = append(filtered, st)
			}
		}
		stats = filtered
	}
	respondData(w, http.StatusOK, paginate(stats, s.parsePage(r)))
}

// Shows serves canonical shows, most recent first.
func (s *Server) Shows(w http.ResponseWriter, r *http.Request) {
	band := r.URL.Query().Get("band")
	shows := s.coord.Shows()
	if band != "" {
		filtered := make([]*models.Show, 0, len(shows))
		for _, sh := range shows {
			if sh.BandName == band {
				filtered = append(filtered, sh)
			}
		}
		shows = filtered
	}
	respondData(w, http.StatusOK, paginate(shows, s.parsePage(r)))
}

// ShowEntries serves one show's setlist in running order.
func (s *Server) ShowEntries(w http.ResponseWriter, r *http.Request) {
	showID := chi.URLParam(r, "showID")
	if _, ok := s.coord.Show(showID); !ok {
		respondError(w, http.StatusNotFound, "SHOW_NOT_FOUND", "no show with id "+showID)
		return
	}
	respondData(w, http.StatusOK, s.coord.Entries(showID))
}

// VenueStats serves the venue view.
func (s *Server) VenueStats(w http.ResponseWriter, r *http.Request) {
	band := r.URL.Query().Get("band")
	stats := s.engine.Snapshot().VenueStats
	if band != "" {
		filtered := make([]*models.VenueStat, 0, len(stats))
		for _, st := range stats {
			if st.BandName == band {
				filtered = append(filtered, st)
			}
		}
		stats = filtered
	}
	respondData(w, http.StatusOK, paginate(stats, s.parsePage(r)))
}

// DailyStats serves the per-day view, newest first.
func (s *Server) DailyStats(w http.ResponseWriter, r *http.Request) {
	respondData(w, http.StatusOK, paginate(s.engine.Snapshot().DailyStats, s.parsePage(r)))
}

// SongTransitions serves the transition view, optionally filtered by
// origin song.
func (s *Server) SongTransitions(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	trans := s.engine.Snapshot().Transitions
	if from != "" {
		filtered := make([]*models.SongTransition, 0, len(trans))
		for _, tr := range trans {
			if tr.FromSong == from {
				filtered = append(filtered, tr)
			}
		}
		trans = filtered
	}
	respondData(w, http.StatusOK, paginate(trans, s.parsePage(r)))
}

// DeadLetters serves the in-memory dead-letter window, newest first.
func (s *Server) DeadLetters(w http.ResponseWriter, r *http.Request) {
	p := s.parsePage(r)
	respondData(w, http.StatusOK, s.sink.List(p.Offset, p.Limit))
}

// Health reports liveness plus a few cheap gauges.
func (s *Server) Health(w http.ResponseWriter, _ *http.Request) {
	snap := s.engine.Snapshot()
	respondData(w, http.StatusOK, map[string]string{
		"status":              "ok",
		"snapshot_generation": strconv.FormatUint(snap.Generation, 10),
		"snapshot_taken_at":   snap.TakenAt.Format("2006-01-02T15:04:05Z07:00"),
		"pending_entries":     strconv.Itoa(s.coord.PendingCount()),
		"dead_letters":        strconv.Itoa(s.sink.Len()),
	})
}
