// Segue - Concert Setlist Stream Analytics
// Copyright 2026 Setlist Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/setlistlab/segue

// Package pipeline wires the stream together: ingestion topics feed the
// gate, accepted records dispatch to per-show partition workers, and
// poisoned messages land in the dead letter. The transport is Watermill's
// in-process pub/sub; the interfaces stay message.Publisher/Subscriber so
// an external broker can replace it without touching the stages.
package pipeline

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/setlistlab/segue/internal/aggregate"
	"github.com/setlistlab/segue/internal/canonical"
	"github.com/setlistlab/segue/internal/config"
	"github.com/setlistlab/segue/internal/deadletter"
	"github.com/setlistlab/segue/internal/ingest"
	"github.com/setlistlab/segue/internal/logging"
	"github.com/setlistlab/segue/internal/metrics"
	"github.com/setlistlab/segue/internal/models"
)

// Topic names for the in-process stream.
const (
	TopicShows   = "setlist.shows"
	TopicEntries = "setlist.entries"
)

const housekeepingInterval = time.Second

// Pipeline is the running stream: pub/sub, router, gate and worker pool.
// It implements suture.Service.
type Pipeline struct {
	cfg    *config.Config
	pubsub *gochannel.GoChannel
	router *Router
	gate   *ingest.Gate
	proc   *Processor
	coord  *canonical.Coordinator
	engine *aggregate.Engine
	sink   *deadletter.Sink
}

// New assembles the pipeline around already-constructed stages.
func New(
	cfg *config.Config,
	gate *ingest.Gate,
	coord *canonical.Coordinator,
	proc *Processor,
	engine *aggregate.Engine,
	sink *deadletter.Sink,
) (*Pipeline, error) {
	logger := newWatermillLogger()

	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: int64(cfg.Pipeline.BufferSize),
	}, logger)

	router, err := NewRouter(cfg.Pipeline, pubsub, logger)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:    cfg,
		pubsub: pubsub,
		router: router,
		gate:   gate,
		proc:   proc,
		coord:  coord,
		engine: engine,
		sink:   sink,
	}

	router.AddConsumerHandler("show-consumer", TopicShows, pubsub, p.handleShow)
	router.AddConsumerHandler("entry-consumer", TopicEntries, pubsub, p.handleEntry)
	router.AddConsumerHandler("poison-consumer", cfg.Pipeline.PoisonTopic, pubsub, p.handlePoison)

	return p, nil
}

// PublishShow submits a raw show payload to the stream.
func (p *Pipeline) PublishShow(raw json.RawMessage) error {
	metrics.PipelineMessages.WithLabelValues(TopicShows).Inc()
	return p.pubsub.Publish(TopicShows, message.NewMessage(watermill.NewUUID(), message.Payload(raw)))
}

// PublishEntry submits a raw setlist-entry payload to the stream.
func (p *Pipeline) PublishEntry(raw json.RawMessage) error {
	metrics.PipelineMessages.WithLabelValues(TopicEntries).Inc()
	return p.pubsub.Publish(TopicEntries, message.NewMessage(watermill.NewUUID(), message.Payload(raw)))
}

// handleShow gates a raw show payload and dispatches it to its partition.
// Gate rejections are already dead-lettered; the message still acks since
// redelivery cannot fix a permanently invalid payload.
func (p *Pipeline) handleShow(msg *message.Message) error {
	show, rej := p.gate.AcceptShow(json.RawMessage(msg.Payload))
	if rej != nil {
		metrics.IngestRejected.WithLabelValues("show", string(rej.Reason)).Inc()
		return nil
	}
	metrics.IngestAccepted.WithLabelValues("show").Inc()
	p.proc.DispatchShow(show)
	return nil
}

func (p *Pipeline) handleEntry(msg *message.Message) error {
	entry, rej := p.gate.AcceptEntry(json.RawMessage(msg.Payload))
	if rej != nil {
		metrics.IngestRejected.WithLabelValues("entry", string(rej.Reason)).Inc()
		return nil
	}
	metrics.IngestAccepted.WithLabelValues("entry").Inc()
	p.proc.DispatchEntry(entry)
	return nil
}

// handlePoison records messages that exhausted their retries.
func (p *Pipeline) handlePoison(msg *message.Message) error {
	reason := msg.Metadata.Get(middleware.ReasonForPoisonedKey)
	logging.Error().
		Str("component", "pipeline").
		Str("message_id", msg.UUID).
		Str("reason", reason).
		Msg("Message poisoned after retries exhausted")

	if p.sink != nil {
		p.sink.Record(models.NewDeadLetter(json.RawMessage(msg.Payload), models.StagePipeline,
			models.ReasonPoisoned, reason))
	}
	return nil
}

// Serve runs the pipeline until the context ends. Implements suture.Service.
func (p *Pipeline) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.proc.Start(ctx)

	go p.housekeeping(ctx)

	err := p.router.Run(ctx)
	p.proc.Wait()
	if err != nil && ctx.Err() == nil {
		return err
	}
	return ctx.Err()
}

// housekeeping expires pending references and republishes the aggregate
// snapshot on a fixed cadence.
func (p *Pipeline) housekeeping(ctx context.Context) {
	ticker := time.NewTicker(housekeepingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := p.coord.ExpirePending(now); n > 0 {
				metrics.PendingEntries.Set(float64(p.coord.PendingCount()))
			}
			p.engine.Refresh()
			metrics.SnapshotGeneration.Set(float64(p.engine.Snapshot().Generation))
		}
	}
}

// Close releases the transport. Call after Serve has returned.
func (p *Pipeline) Close() error {
	if err := p.router.Close(); err != nil {
		return err
	}
	return p.pubsub.Close()
}
