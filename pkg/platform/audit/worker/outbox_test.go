package worker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sos/pkg/platform/audit/store/postgres"
)

type fakeOutbox struct {
	entries   []postgres.OutboxEntry
	processed []uuid.UUID
	markErr   error
}

func (f *fakeOutbox) FetchUnprocessed(_ context.Context, limit int) ([]postgres.OutboxEntry, error) {
	if limit < len(f.entries) {
		return f.entries[:limit], nil
	}
	return f.entries, nil
}

func (f *fakeOutbox) MarkProcessed(_ context.Context, ids []uuid.UUID) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.processed = append(f.processed, ids...)
	return nil
}

type fakePublisher struct {
	failOn int
	calls  int
	keys   []string
}

func (f *fakePublisher) Publish(_ context.Context, _ string, key, _ []byte, _ map[string]string) error {
	f.calls++
	if f.failOn > 0 && f.calls == f.failOn {
		return errors.New("broker down")
	}
	f.keys = append(f.keys, string(key))
	return nil
}

func TestOutboxRelay(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	entries := []postgres.OutboxEntry{
		{ID: uuid.New(), AggregateID: "0", EventType: "donated", Payload: []byte(`{}`)},
		{ID: uuid.New(), AggregateID: "1", EventType: "signed", Payload: []byte(`{}`)},
	}

	t.Run("publishes and marks every row", func(t *testing.T) {
		src := &fakeOutbox{entries: entries}
		pub := &fakePublisher{}
		n, err := NewOutboxRelay(src, pub, "sos.audit", logger).RelayOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, []string{"0", "1"}, pub.keys)
		assert.Len(t, src.processed, 2)
	})

	t.Run("marks only rows shipped before a failure", func(t *testing.T) {
		src := &fakeOutbox{entries: entries}
		pub := &fakePublisher{failOn: 2}
		n, err := NewOutboxRelay(src, pub, "sos.audit", logger).RelayOnce(context.Background())
		require.Error(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, []uuid.UUID{entries[0].ID}, src.processed)
	})

	t.Run("a failed mark after a failed publish is logged", func(t *testing.T) {
		var logs bytes.Buffer
		src := &fakeOutbox{entries: entries, markErr: errors.New("outbox locked")}
		pub := &fakePublisher{failOn: 2}
		n, err := NewOutboxRelay(src, pub, "sos.audit", slog.New(slog.NewTextHandler(&logs, nil))).
			RelayOnce(context.Background())
		require.EqualError(t, err, "broker down")
		assert.Equal(t, 1, n)
		assert.Contains(t, logs.String(), "failed to mark shipped outbox rows")
		assert.Contains(t, logs.String(), "outbox locked")
	})
}
