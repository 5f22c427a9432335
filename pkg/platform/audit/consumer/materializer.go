package consumer

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"sos/internal/platform/kafka"
	audit "sos/pkg/platform/audit"
	"sos/pkg/platform/audit/store/postgres"
)

// EventWriter stores materialised events idempotently.
type EventWriter interface {
	AppendWithID(ctx context.Context, eventID uuid.UUID, event audit.Event) error
}

// Materializer writes audit topic messages into the queryable audit_events table.
type Materializer struct {
	store  EventWriter
	logger *slog.Logger
}

func NewMaterializer(store EventWriter, logger *slog.Logger) *Materializer {
	return &Materializer{store: store, logger: logger}
}

// Handle decodes and stores one event. Malformed payloads are logged and
// skipped so a poison message cannot block the partition.
func (m *Materializer) Handle(ctx context.Context, msg *kafka.Message) error {
	var payload postgres.Payload
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		m.logger.WarnContext(ctx, "skipping malformed audit payload",
			"topic", msg.Topic,
			"offset", msg.Offset,
			"error", err,
		)
		return nil
	}
	id, event, err := payload.Event()
	if err != nil {
		m.logger.WarnContext(ctx, "skipping invalid audit payload",
			"topic", msg.Topic,
			"offset", msg.Offset,
			"error", err,
		)
		return nil
	}
	return m.store.AppendWithID(ctx, id, event)
}
