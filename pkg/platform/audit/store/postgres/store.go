package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/lib/pq"

	audit "sos/pkg/platform/audit"
	txcontext "sos/pkg/platform/tx"
)

// Store implements audit.Store using the transactional outbox pattern.
// Events are written to the outbox table and published to Kafka by the
// outbox relay; the Kafka consumer materialises them into audit_events.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL audit store that writes to the outbox.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// execer writes through the transaction in ctx, so outbox rows commit with
// the writes that produced them.
func (s *Store) execer(ctx context.Context) txcontext.Conn {
	return txcontext.ConnFrom(ctx, s.db)
}

// Payload is the JSON structure published to Kafka.
type Payload struct {
	ID            string            `json:"id"`
	Category      string            `json:"category"`
	Timestamp     string            `json:"timestamp"`
	Actor         string            `json:"actor"`
	Subject       string            `json:"subject"`
	Action        string            `json:"action"`
	FundID        *uint64           `json:"fund_id,omitempty"`
	RequestID     *uint64           `json:"request_id,omitempty"`
	Details       map[string]string `json:"details,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
}

// NewPayload flattens an event for the wire.
func NewPayload(event audit.Event) Payload {
	return Payload{
		ID:            event.ID.String(),
		Category:      string(audit.AuditEvent(event.Action).Category()),
		Timestamp:     event.Timestamp.Format(time.RFC3339Nano),
		Actor:         event.Actor.Hex(),
		Subject:       event.Subject,
		Action:        event.Action,
		FundID:        event.FundID,
		RequestID:     event.RequestID,
		Details:       event.Details,
		CorrelationID: event.CorrelationID,
	}
}

// Event rebuilds the event from a decoded payload.
func (p Payload) Event() (uuid.UUID, audit.Event, error) {
	id, err := uuid.Parse(p.ID)
	if err != nil {
		return uuid.Nil, audit.Event{}, fmt.Errorf("parse event id: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, p.Timestamp)
	if err != nil {
		return uuid.Nil, audit.Event{}, fmt.Errorf("parse event timestamp: %w", err)
	}
	return id, audit.Event{
		ID:            id,
		Category:      audit.EventCategory(p.Category),
		Timestamp:     ts,
		Actor:         common.HexToAddress(p.Actor),
		Subject:       p.Subject,
		Action:        p.Action,
		FundID:        p.FundID,
		RequestID:     p.RequestID,
		Details:       p.Details,
		CorrelationID: p.CorrelationID,
	}, nil
}

// Append writes an audit event to the outbox table for Kafka publishing.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	payloadBytes, err := json.Marshal(NewPayload(event))
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	aggregateType := "ledger"
	aggregateID := event.Subject
	switch {
	case event.RequestID != nil:
		aggregateType = "request"
		aggregateID = fmt.Sprint(*event.RequestID)
	case event.FundID != nil:
		aggregateType = "fund"
		aggregateID = fmt.Sprint(*event.FundID)
	}

	query := `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		uuid.New(),
		aggregateType,
		aggregateID,
		event.Action,
		payloadBytes,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// AppendWithID inserts an audit event into the audit_events table with a specific ID.
// Used by the Kafka consumer to materialize events for querying.
// Idempotent: duplicate inserts are ignored via ON CONFLICT DO NOTHING.
func (s *Store) AppendWithID(ctx context.Context, eventID uuid.UUID, event audit.Event) error {
	details, err := json.Marshal(event.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}
	query := `
		INSERT INTO audit_events (
			id, category, timestamp, actor, subject, action,
			fund_id, request_id, details, correlation_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = s.db.ExecContext(ctx, query,
		eventID,
		string(event.Category),
		event.Timestamp,
		event.Actor.Hex(),
		event.Subject,
		event.Action,
		nullableID(event.FundID),
		nullableID(event.RequestID),
		details,
		event.CorrelationID,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListBySubject returns materialised events for a subject, newest first.
func (s *Store) ListBySubject(ctx context.Context, subject string) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, selectEvents+` WHERE subject = $1 ORDER BY timestamp DESC`, subject)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListRecent returns the N most recent events.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, selectEvents+` ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

const selectEvents = `
	SELECT id, category, timestamp, actor, subject, action,
		   fund_id, request_id, details, correlation_id
	FROM audit_events`

func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event
	for rows.Next() {
		var (
			event     audit.Event
			category  string
			actor     string
			fundID    sql.NullInt64
			requestID sql.NullInt64
			details   []byte
		)
		if err := rows.Scan(
			&event.ID,
			&category,
			&event.Timestamp,
			&actor,
			&event.Subject,
			&event.Action,
			&fundID,
			&requestID,
			&details,
			&event.CorrelationID,
		); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Category = audit.EventCategory(category)
		event.Actor = common.HexToAddress(actor)
		if fundID.Valid {
			v := uint64(fundID.Int64)
			event.FundID = &v
		}
		if requestID.Valid {
			v := uint64(requestID.Int64)
			event.RequestID = &v
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &event.Details); err != nil {
				return nil, fmt.Errorf("decode details: %w", err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

func nullableID(id *uint64) any {
	if id == nil {
		return nil
	}
	return int64(*id)
}

// OutboxEntry is an unpublished outbox row.
type OutboxEntry struct {
	ID          uuid.UUID
	AggregateID string
	EventType   string
	Payload     []byte
}

// FetchUnprocessed returns up to limit outbox rows not yet published, oldest first.
func (s *Store) FetchUnprocessed(ctx context.Context, limit int) ([]OutboxEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, aggregate_id, event_type, payload
		FROM outbox
		WHERE processed_at IS NULL
		ORDER BY created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var out []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &e.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkProcessed flags outbox rows as published.
func (s *Store) MarkProcessed(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = id.String()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox SET processed_at = $1 WHERE id = ANY($2::uuid[])`,
		time.Now(), pq.Array(strIDs))
	if err != nil {
		return fmt.Errorf("mark outbox processed: %w", err)
	}
	return nil
}
