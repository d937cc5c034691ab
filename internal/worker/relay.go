package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sales-arena/internal/config"
	"github.com/sales-arena/internal/domain"
)

// RelayCursor is the name under which the relay stores its progress
const RelayCursor = "kafka-relay"

// EventSource is the outbox the relay drains
type EventSource interface {
	EventsAfter(ctx context.Context, afterID int64, limit int) ([]domain.PipelineEvent, error)
	Cursor(ctx context.Context, name string) (int64, error)
	SaveCursor(ctx context.Context, name string, lastID int64) error
}

// EventPublisher delivers events downstream
type EventPublisher interface {
	Publish(ctx context.Context, events []domain.PipelineEvent) error
}

// RelayWorker forwards committed pipeline events from the outbox to a
// publisher. The cursor advances only after a batch is published, so
// delivery is at least once.
type RelayWorker struct {
	*runner
	source    EventSource
	publisher EventPublisher
	batchSize int
	logger    *slog.Logger
}

// NewRelayWorker creates a new outbox relay
func NewRelayWorker(source EventSource, publisher EventPublisher, cfg *config.SyncConfig, logger *slog.Logger) *RelayWorker {
	w := &RelayWorker{
		source:    source,
		publisher: publisher,
		batchSize: max(cfg.RelayBatchSize, 1),
		logger:    logger,
	}
	w.runner = newRunner("relay", cfg.RelayInterval, w.RunOnce, logger)
	return w
}

// RunOnce drains the outbox
func (w *RelayWorker) RunOnce(ctx context.Context) {
	n, err := w.Drain(ctx)
	if err != nil {
		w.logger.Error("relaying events", "relayed", n, "error", err)
		return
	}
	if n > 0 {
		w.logger.Debug("relayed events", "count", n)
	}
}

// Drain publishes every event past the stored cursor and returns how many
// were relayed.
func (w *RelayWorker) Drain(ctx context.Context) (int, error) {
	cursor, err := w.source.Cursor(ctx, RelayCursor)
	if err != nil {
		return 0, fmt.Errorf("reading cursor: %w", err)
	}

	relayed := 0
	for {
		events, err := w.source.EventsAfter(ctx, cursor, w.batchSize)
		if err != nil {
			return relayed, fmt.Errorf("reading events: %w", err)
		}
		if len(events) == 0 {
			return relayed, nil
		}

		if err := w.publisher.Publish(ctx, events); err != nil {
			return relayed, err
		}
		cursor = events[len(events)-1].ID
		if err := w.source.SaveCursor(ctx, RelayCursor, cursor); err != nil {
			return relayed, fmt.Errorf("saving cursor: %w", err)
		}
		relayed += len(events)

		if len(events) < w.batchSize {
			return relayed, nil
		}
	}
}
