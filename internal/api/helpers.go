// Segue - Concert Setlist Stream Analytics
// Copyright 2026 Setlist Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/setlistlab/segue

package api

import (
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/setlistlab/segue/internal/logging"
	"github.com/setlistlab/segue/internal/models"
)

// respondJSON sends the uniform response envelope.
func respondJSON(w http.ResponseWriter, status int, resp *models.APIResponse) {
	w.Header().Set("Content-Type", "application/json")

	data, err := json.Marshal(resp)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func respondData(w http.ResponseWriter, status int, data any) {
	respondJSON(w, status, &models.APIResponse{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, &models.APIResponse{
		Success: false,
		Error:   &models.APIError{Code: code, Message: message},
	})
}

// page is the parsed pagination window of a list request.
type page struct {
	Offset int
	Limit  int
}

// parsePage reads limit/offset query params, clamped to configured bounds.
func (s *Server) parsePage(r *http.Request) page {
	p := page{Limit: s.cfg.API.DefaultPageSize}

	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.Limit = n
		}
	}
	if p.Limit > s.cfg.API.MaxPageSize {
		p.Limit = s.cfg.API.MaxPageSize
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			p.Offset = n
		}
	}
	return p
}

// paginate slices a window out of a pre-sorted list.
func paginate[T any](items []T, p page) []T {
	if p.Offset >= len(items) {
		return []T{}
	}
	items = items[p.Offset:]
	if len(items) > p.Limit {
		items = items[:p.Limit]
	}
	return items
}
