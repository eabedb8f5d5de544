package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

// EventStream is the durable stream every committed event is appended to.
const EventStream = "market_events"

// MarketChannel returns the pub/sub channel carrying live events for one
// market. Websocket clients subscribe to "ch:market:*".
func MarketChannel(marketID string) string {
	return "ch:market:" + marketID
}

// OutboxMarker flags relayed events in the outbox.
type OutboxMarker interface {
	MarkPublished(ctx context.Context, ids []string) error
}

// BusPublisher implements domain.EventPublisher on a SignalBus. Each event
// goes to the durable stream first and then to its market channel. Events
// that made it onto the stream are marked published even when a later one
// fails, so the relay picks up where this left off.
type BusPublisher struct {
	bus    domain.SignalBus
	outbox OutboxMarker
	logger *slog.Logger
}

// NewBusPublisher creates a BusPublisher.
func NewBusPublisher(bus domain.SignalBus, outbox OutboxMarker, logger *slog.Logger) *BusPublisher {
	return &BusPublisher{
		bus:    bus,
		outbox: outbox,
		logger: logger.With(slog.String("component", "publisher")),
	}
}

// Publish fans events out in order.
func (p *BusPublisher) Publish(ctx context.Context, events []domain.Event) error {
	sent := make([]string, 0, len(events))
	var pubErr error
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			pubErr = fmt.Errorf("pipeline: marshal event %s: %w", ev.ID, err)
			break
		}
		if err := p.bus.StreamAppend(ctx, EventStream, data); err != nil {
			pubErr = fmt.Errorf("pipeline: append event %s: %w", ev.ID, err)
			break
		}
		sent = append(sent, ev.ID)

		// Live delivery is best effort; the stream is the record.
		if err := p.bus.Publish(ctx, MarketChannel(ev.MarketID), data); err != nil {
			p.logger.WarnContext(ctx, "pipeline: live publish failed",
				slog.String("event_id", ev.ID),
				slog.String("market_id", ev.MarketID),
				slog.String("error", err.Error()),
			)
		}
	}

	if len(sent) > 0 {
		if err := p.outbox.MarkPublished(ctx, sent); err != nil {
			return fmt.Errorf("pipeline: mark published: %w", err)
		}
	}
	return pubErr
}

var _ domain.EventPublisher = (*BusPublisher)(nil)
