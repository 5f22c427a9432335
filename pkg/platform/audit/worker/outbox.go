package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"sos/pkg/platform/audit/store/postgres"
)

// OutboxSource is the outbox table.
type OutboxSource interface {
	FetchUnprocessed(ctx context.Context, limit int) ([]postgres.OutboxEntry, error)
	MarkProcessed(ctx context.Context, ids []uuid.UUID) error
}

// Publisher ships one outbox payload to the broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// OutboxRelay polls the outbox and publishes rows to the audit topic. Rows are
// marked processed only after the broker acknowledged them, so delivery is at
// least once and the consumer dedupes on event id.
type OutboxRelay struct {
	source    OutboxSource
	publisher Publisher
	topic     string
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

func NewOutboxRelay(source OutboxSource, publisher Publisher, topic string, logger *slog.Logger) *OutboxRelay {
	return &OutboxRelay{
		source:    source,
		publisher: publisher,
		topic:     topic,
		interval:  time.Second,
		batchSize: 100,
		logger:    logger,
	}
}

// Run relays until ctx is cancelled.
func (r *OutboxRelay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if _, err := r.RelayOnce(ctx); err != nil {
			r.logger.ErrorContext(ctx, "outbox relay failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RelayOnce publishes one batch and returns the number of rows shipped.
func (r *OutboxRelay) RelayOnce(ctx context.Context) (int, error) {
	entries, err := r.source.FetchUnprocessed(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}
	done := make([]uuid.UUID, 0, len(entries))
	for _, e := range entries {
		headers := map[string]string{"event_type": e.EventType}
		if err := r.publisher.Publish(ctx, r.topic, []byte(e.AggregateID), e.Payload, headers); err != nil {
			if markErr := r.source.MarkProcessed(ctx, done); markErr != nil {
				r.logger.ErrorContext(ctx, "failed to mark shipped outbox rows",
					"rows", len(done),
					"error", markErr,
				)
			}
			return len(done), err
		}
		done = append(done, e.ID)
	}
	return len(done), r.source.MarkProcessed(ctx, done)
}
