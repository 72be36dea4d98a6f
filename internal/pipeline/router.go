// Segue - Concert Setlist Stream Analytics
// Copyright 2026 Setlist Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/setlistlab/segue

package pipeline

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/setlistlab/segue/internal/cache"
	"github.com/setlistlab/segue/internal/config"
)

// Router wraps the Watermill router with the middleware stack the stream
// needs: panic recovery, exponential-backoff retry, exact-replay dropping
// and poison-queue routing after retries exhaust.
type Router struct {
	router *message.Router
	logger watermill.LoggerAdapter
}

// messageDeduplicator implements middleware.ExpiringKeyRepository on the
// LRU cache, dropping byte-identical redeliveries by message UUID before
// they reach a handler.
type messageDeduplicator struct {
	cache *cache.LRUCache
}

func (d *messageDeduplicator) IsDuplicate(_ context.Context, key string) (bool, error) {
	return d.cache.IsDuplicate(key), nil
}

// NewRouter builds the configured router. A nil poison publisher disables
// poison-queue routing.
func NewRouter(cfg config.PipelineConfig, poisonPub message.Publisher, logger watermill.LoggerAdapter) (*Router, error) {
	if logger == nil {
		logger = newWatermillLogger()
	}

	wmRouter, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: cfg.CloseTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}

	wmRouter.AddMiddleware(middleware.Recoverer)

	retry := middleware.Retry{
		MaxRetries:      cfg.RetryMaxRetries,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
		Multiplier:      2.0,
		Logger:          logger,
	}
	wmRouter.AddMiddleware(retry.Middleware)

	if cfg.DedupTTL > 0 && cfg.DedupCapacity > 0 {
		dedup := middleware.Deduplicator{
			KeyFactory: func(msg *message.Message) (string, error) {
				return msg.UUID, nil
			},
			Repository: &messageDeduplicator{
				cache: cache.NewLRUCache(cfg.DedupCapacity, cfg.DedupTTL),
			},
		}
		wmRouter.AddMiddleware(dedup.Middleware)
	}

	if poisonPub != nil && cfg.PoisonTopic != "" {
		poison, err := middleware.PoisonQueue(poisonPub, cfg.PoisonTopic)
		if err != nil {
			return nil, fmt.Errorf("create poison queue middleware: %w", err)
		}
		wmRouter.AddMiddleware(poison)
	}

	return &Router{router: wmRouter, logger: logger}, nil
}

// AddConsumerHandler registers a consume-only handler.
func (r *Router) AddConsumerHandler(name, topic string, sub message.Subscriber, h message.NoPublishHandlerFunc) {
	r.router.AddConsumerHandler(name, topic, sub, h)
}

// Run blocks until the context is cancelled or the router fails.
func (r *Router) Run(ctx context.Context) error {
	return r.router.Run(ctx)
}

// Running returns a channel closed once all handlers are consuming.
func (r *Router) Running() <-chan struct{} {
	return r.router.Running()
}

// Close shuts the router down, waiting up to the close timeout.
func (r *Router) Close() error {
	return r.router.Close()
}
