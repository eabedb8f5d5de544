package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

// OutboxReader lists events that have not been relayed yet.
type OutboxReader interface {
	ListUnpublished(ctx context.Context, limit int) ([]domain.Event, error)
}

// Relay republishes outbox events whose post-commit publish failed or never
// ran, for example because the process stopped between commit and publish.
type Relay struct {
	outbox    OutboxReader
	publisher domain.EventPublisher
	interval  time.Duration
	batch     int
	logger    *slog.Logger
}

// NewRelay creates a Relay. Non-positive interval and batch fall back to 5s
// and 500.
func NewRelay(outbox OutboxReader, publisher domain.EventPublisher, interval time.Duration, batch int, logger *slog.Logger) *Relay {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batch <= 0 {
		batch = 500
	}
	return &Relay{
		outbox:    outbox,
		publisher: publisher,
		interval:  interval,
		batch:     batch,
		logger:    logger.With(slog.String("component", "relay")),
	}
}

// RunOnce drains the outbox one batch at a time and returns how many events
// were handed to the publisher.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	total := 0
	for {
		events, err := r.outbox.ListUnpublished(ctx, r.batch)
		if err != nil {
			return total, fmt.Errorf("pipeline: list unpublished: %w", err)
		}
		if len(events) == 0 {
			return total, nil
		}
		if err := r.publisher.Publish(ctx, events); err != nil {
			return total, fmt.Errorf("pipeline: relay publish: %w", err)
		}
		total += len(events)
		if len(events) < r.batch {
			return total, nil
		}
	}
}

// Run relays on a ticker until ctx is cancelled. Failed runs are logged
// and retried on the next tick.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("pipeline: relay started",
		slog.Duration("interval", r.interval),
		slog.Int("batch_size", r.batch),
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		n, err := r.RunOnce(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			r.logger.Error("pipeline: relay run failed", slog.String("error", err.Error()))
		case n > 0:
			r.logger.Info("pipeline: relayed events", slog.Int("count", n))
		}

		select {
		case <-ctx.Done():
			r.logger.Info("pipeline: relay stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
