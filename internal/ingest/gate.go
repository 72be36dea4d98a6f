// Segue - Concert Setlist Stream Analytics
// Copyright 2026 Setlist Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/setlistlab/segue

package ingest

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/setlistlab/segue/internal/logging"
	"github.com/setlistlab/segue/internal/models"
)

// Recorder receives rejected payloads. The dead-letter sink implements it.
type Recorder interface {
	Record(dl *models.DeadLetter)
}

// Rejection describes why the gate refused a payload. Reason is always one
// of the closed set of codes; Detail is a human-readable explanation.
type Rejection struct {
	Reason models.ReasonCode
	Detail string
}

func (r *Rejection) Error() string {
	return string(r.Reason) + ": " + r.Detail
}

// Gate validates raw submissions and normalizes them into canonical records.
// Every rejection carries a closed reason code and is routed to the recorder;
// a rejected payload never reaches the coordinator.
type Gate struct {
	validate *validator.Validate
	recorder Recorder
}

// NewGate builds a gate routing rejections to recorder. A nil recorder
// disables dead-letter routing (used by tests).
func NewGate(recorder Recorder) *Gate {
	return &Gate{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		recorder: recorder,
	}
}

// AcceptShow validates a raw show payload and returns the canonical Show,
// or a Rejection with the payload already dead-lettered.
func (g *Gate) AcceptShow(raw json.RawMessage) (*models.Show, *Rejection) {
	var p ShowPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, g.reject(raw, models.ReasonMalformedField, "show payload is not valid JSON: "+err.Error())
	}

	if rej := g.check(raw, &p); rej != nil {
		return nil, rej
	}

	venueSlug := Slug(p.VenueName)
	show := &models.Show{
		ShowID:       ShowID(p.BandName, p.ShowDate, venueSlug),
		BandName:     strings.TrimSpace(p.BandName),
		ShowDate:     p.ShowDate,
		VenueName:    strings.TrimSpace(p.VenueName),
		VenueSlug:    venueSlug,
		VenueCity:    strings.TrimSpace(p.VenueCity),
		VenueState:   strings.TrimSpace(p.VenueState),
		VenueCountry: strings.TrimSpace(p.VenueCountry),
		TourName:     strings.TrimSpace(p.TourName),
		ShowNotes:    p.ShowNotes,
		Verified:     p.Verified,
		SourceURL:    p.SourceURL,
		IngestedAt:   time.Now().UTC(),
	}
	return show, nil
}

// AcceptEntry validates a raw setlist entry payload and returns the canonical
// SetlistEntry, or a Rejection with the payload already dead-lettered.
// Whether the referenced show exists is the coordinator's question, not ours.
func (g *Gate) AcceptEntry(raw json.RawMessage) (*models.SetlistEntry, *Rejection) {
	var p EntryPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, g.reject(raw, models.ReasonMalformedField, "entry payload is not valid JSON: "+err.Error())
	}

	if rej := g.check(raw, &p); rej != nil {
		return nil, rej
	}

	label := models.SetLabel(strings.TrimSpace(p.SetLabel))
	if !label.Valid() {
		return nil, g.reject(raw, models.ReasonInvalidEnumValue,
			fmt.Sprintf("set_label %q is not in the accepted vocabulary", p.SetLabel))
	}

	entry := &models.SetlistEntry{
		ShowID:           p.ShowID,
		SetLabel:         label,
		Position:         p.Position,
		SongName:         strings.TrimSpace(p.SongName),
		DurationSeconds:  p.DurationSeconds,
		IsJam:            p.IsJam,
		IsTease:          p.IsTease,
		IsPartial:        p.IsPartial,
		IsCover:          p.IsCover,
		OriginalArtist:   strings.TrimSpace(p.OriginalArtist),
		TransitionMark:   strings.TrimSpace(p.TransitionMark),
		PerformanceNotes: p.PerformanceNotes,
		GuestMusicians:   p.GuestMusicians,
		IngestedAt:       time.Now().UTC(),
	}
	return entry, nil
}

// check runs struct validation and maps the first field error onto the
// closed reason vocabulary.
func (g *Gate) check(raw json.RawMessage, payload any) *Rejection {
	err := g.validate.Struct(payload)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return g.reject(raw, models.ReasonMalformedField, err.Error())
	}

	fe := verrs[0]
	reason := models.ReasonMalformedField
	if fe.Tag() == "required" {
		reason = models.ReasonMissingRequiredField
	}
	detail := fmt.Sprintf("field %s failed %q validation", fe.Field(), fe.Tag())
	return g.reject(raw, reason, detail)
}

// reject routes the payload to the dead letter and returns the rejection.
func (g *Gate) reject(raw json.RawMessage, reason models.ReasonCode, detail string) *Rejection {
	logging.Debug().
		Str("component", "ingest_gate").
		Str("reason", string(reason)).
		Str("detail", detail).
		Msg("Payload rejected at gate")

	if g.recorder != nil {
		g.recorder.Record(models.NewDeadLetter(raw, models.StageGate, reason, detail))
	}
	return &Rejection{Reason: reason, Detail: detail}
}
