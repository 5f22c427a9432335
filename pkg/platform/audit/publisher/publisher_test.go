package publisher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "sos/pkg/platform/audit"
	"sos/pkg/platform/audit/store/memory"
	"sos/pkg/requestcontext"
)

func TestPublisher_SyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	err := pub.Emit(context.Background(), audit.Event{
		Subject: "fund:0",
		Action:  string(audit.EventFundCreated),
	})
	require.NoError(t, err)

	events, err := pub.List(context.Background(), "fund:0")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(audit.EventFundCreated), events[0].Action)
	assert.Equal(t, audit.CategoryOperations, events[0].Category)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestPublisher_AsyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(10))
	defer pub.Close()

	err := pub.Emit(context.Background(), audit.Event{
		Subject: "request:0",
		Action:  string(audit.EventSigned),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		events, _ := pub.List(context.Background(), "request:0")
		return len(events) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(100))

	for range 10 {
		require.NoError(t, pub.Emit(context.Background(), audit.Event{
			Subject: "donor",
			Action:  string(audit.EventDonated),
		}))
	}

	pub.Close()

	events, err := store.ListBySubject(context.Background(), "donor")
	require.NoError(t, err)
	assert.Len(t, events, 10)
}

func TestPublisher_EnvelopeFromContext(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)

	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), fixed)
	ctx = requestcontext.WithRequestID(ctx, "req-123")

	require.NoError(t, pub.Emit(ctx, audit.Event{Subject: "s", Action: string(audit.EventDonated)}))

	events, err := store.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, fixed, events[0].Timestamp)
	assert.Equal(t, "req-123", events[0].CorrelationID)
	assert.Equal(t, audit.CategoryCompliance, events[0].Category)
}

func TestPublisher_Subscribe(t *testing.T) {
	pub := NewPublisher(memory.NewInMemoryStore())
	ch := make(chan audit.Event, 1)
	sub := pub.Subscribe(ch)
	defer sub.Unsubscribe()

	require.NoError(t, pub.Emit(context.Background(), audit.Event{Action: string(audit.EventRegistered)}))

	select {
	case e := <-ch:
		assert.Equal(t, string(audit.EventRegistered), e.Action)
	case <-time.After(time.Second):
		t.Fatal("expected event on subscription")
	}
}

type failingStore struct{ memory.InMemoryStore }

func (f *failingStore) Append(context.Context, audit.Event) error { return errors.New("disk full") }

func TestPublisher_SyncModeFailsClosed(t *testing.T) {
	pub := NewPublisher(&failingStore{})
	err := pub.Emit(context.Background(), audit.Event{Action: string(audit.EventDonated)})
	require.Error(t, err)
}
