// Segue - Concert Setlist Stream Analytics
// Copyright 2026 Setlist Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/setlistlab/segue

package models

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Stage identifies which pipeline stage rejected or failed a record.
type Stage string

const (
	StageGate        Stage = "gate"
	StageCoordinator Stage = "coordinator"
	StageEnricher    Stage = "enricher"
	StageAggregator  Stage = "aggregator"
	StagePipeline    Stage = "pipeline"
)

// ReasonCode is the closed set of dead-letter reasons. Validation reasons are
// permanent; referential and ordering reasons may resolve on retry before
// being demoted here.
type ReasonCode string

const (
	// ReasonMalformedField marks a present but untypable/unparsable field.
	ReasonMalformedField ReasonCode = "MalformedField"
	// ReasonMissingRequiredField marks an absent required field.
	ReasonMissingRequiredField ReasonCode = "MissingRequiredField"
	// ReasonInvalidEnumValue marks a set label outside the closed vocabulary.
	ReasonInvalidEnumValue ReasonCode = "InvalidEnumValue"
	// ReasonUnknownShowReference marks an entry whose show never arrived.
	ReasonUnknownShowReference ReasonCode = "UnknownShowReference"
	// ReasonOrphanedEntry marks an entry whose show state vanished mid-stream.
	ReasonOrphanedEntry ReasonCode = "OrphanedEntry"
	// ReasonOrderingAnomaly marks an entry processed past the reorder timeout.
	ReasonOrderingAnomaly ReasonCode = "OrderingAnomaly"
	// ReasonAggregationInconsistency marks a retraction with no recorded
	// prior contribution. Internal bug signal; the operation is skipped.
	ReasonAggregationInconsistency ReasonCode = "AggregationInconsistency"
	// ReasonPoisoned marks a message that exhausted pipeline retries.
	ReasonPoisoned ReasonCode = "Poisoned"
)

// Permanent reports whether the reason can never resolve by retrying.
func (r ReasonCode) Permanent() bool {
	switch r {
	case ReasonMalformedField, ReasonMissingRequiredField, ReasonInvalidEnumValue:
		return true
	default:
		return false
	}
}

// DeadLetter is one rejected or failed record. Append-only: entries are
// written once and never mutated, for consumption by external monitoring.
type DeadLetter struct {
	ID              string          `json:"id"`
	OriginalPayload json.RawMessage `json:"original_payload"`
	Stage           Stage           `json:"stage"`
	ReasonCode      ReasonCode      `json:"reason_code"`
	Detail          string          `json:"detail,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
}

// NewDeadLetter builds a dead-letter record with a fresh ID and timestamp.
func NewDeadLetter(payload json.RawMessage, stage Stage, reason ReasonCode, detail string) *DeadLetter {
	return &DeadLetter{
		ID:              uuid.New().String(),
		OriginalPayload: payload,
		Stage:           stage,
		ReasonCode:      reason,
		Detail:          detail,
		Timestamp:       time.Now().UTC(),
	}
}
