// Segue - Concert Setlist Stream Analytics
// Copyright 2026 Setlist Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/setlistlab/segue

// Package metrics defines the Prometheus instrumentation for the Segue
// pipeline and query layer. All metrics register through promauto on the
// default registry and are served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IngestAccepted counts payloads that passed the gate, by kind.
	IngestAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segue_ingest_accepted_total",
		Help: "Payloads accepted by the ingestion gate",
	}, []string{"kind"})

	// IngestRejected counts gate rejections by kind and reason code.
	IngestRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segue_ingest_rejected_total",
		Help: "Payloads rejected by the ingestion gate",
	}, []string{"kind", "reason"})

	// UpsertOutcomes counts coordinator outcomes (new, replay, correction,
	// pending) by record kind.
	UpsertOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segue_upsert_outcomes_total",
		Help: "Dedup/upsert coordinator outcomes",
	}, []string{"kind", "outcome"})

	// PendingEntries gauges entries buffered awaiting their show.
	PendingEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "segue_pending_entries",
		Help: "Entries buffered awaiting their show's arrival",
	})

	// Retractions counts aggregate retractions by view.
	Retractions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segue_retractions_total",
		Help: "Aggregate contributions retracted during corrections",
	}, []string{"view"})

	// OrderingAnomalies counts entries processed past the reorder timeout.
	OrderingAnomalies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "segue_ordering_anomalies_total",
		Help: "Entries processed after the ordering timeout expired",
	})

	// DeadLetters counts dead-letter records by stage and reason.
	DeadLetters = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segue_dead_letters_total",
		Help: "Records routed to the dead-letter sink",
	}, []string{"stage", "reason"})

	// DeadLetterWindow gauges the in-memory dead-letter window size.
	DeadLetterWindow = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "segue_dead_letter_window_entries",
		Help: "Dead-letter entries held in the in-memory window",
	})

	// SnapshotGeneration gauges the published aggregate snapshot generation.
	SnapshotGeneration = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "segue_snapshot_generation",
		Help: "Generation counter of the published aggregate snapshot",
	})

	// PipelineMessages counts messages routed through the pipeline by topic.
	PipelineMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "segue_pipeline_messages_total",
		Help: "Messages processed by the stream pipeline",
	}, []string{"topic"})

	// PipelineDuplicates counts exact message replays dropped before apply.
	PipelineDuplicates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "segue_pipeline_duplicates_total",
		Help: "Exact message replays dropped by the dedup cache",
	})

	// QueryDuration observes query-layer request latency by route.
	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "segue_query_duration_seconds",
		Help:    "Query-layer request duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)
