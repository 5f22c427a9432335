package tx

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "sos/pkg/domain-errors"
)

func TestLedger_NestedCallsJoinOuterTransaction(t *testing.T) {
	l := NewLedger()
	calls := 0
	err := l.RunInTx(context.Background(), func(ctx context.Context) error {
		calls++
		return l.RunInTx(ctx, func(ctx context.Context) error {
			calls++
			assert.True(t, InLedger(ctx, l))
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestLedger_SerialisesOperations(t *testing.T) {
	l := NewLedger()
	var (
		wg      sync.WaitGroup
		counter int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.RunInTx(context.Background(), func(context.Context) error {
				v := counter
				time.Sleep(time.Microsecond)
				counter = v + 1
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
}

func TestLedger_CancelledContext(t *testing.T) {
	l := NewLedger()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.RunInTx(ctx, func(context.Context) error {
		t.Fatal("fn must not run")
		return nil
	})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTimeout))
}

func TestLedger_TimesOutWhileBusy(t *testing.T) {
	l := NewLedger(WithTimeout(20 * time.Millisecond))
	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = l.RunInTx(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	defer close(release)

	err := l.RunInTx(context.Background(), func(context.Context) error { return nil })
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTimeout))
}

func TestLedger_RollsBackRegisteredWritesInReverse(t *testing.T) {
	l := NewLedger()
	var undone []string
	boom := dErrors.New(dErrors.CodeInternal, "boom")

	err := l.RunInTx(context.Background(), func(ctx context.Context) error {
		OnRollback(ctx, func() { undone = append(undone, "first") })
		return l.RunInTx(ctx, func(ctx context.Context) error {
			OnRollback(ctx, func() { undone = append(undone, "second") })
			return boom
		})
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"second", "first"}, undone)
}

func TestLedger_NestedFailureOnlyUndoesItsOwnWrites(t *testing.T) {
	l := NewLedger()
	var undone []string

	err := l.RunInTx(context.Background(), func(ctx context.Context) error {
		OnRollback(ctx, func() { undone = append(undone, "outer") })
		inner := l.RunInTx(ctx, func(ctx context.Context) error {
			OnRollback(ctx, func() { undone = append(undone, "inner") })
			return dErrors.New(dErrors.CodeNotAllowed, "refused")
		})
		assert.Error(t, inner)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"inner"}, undone)
}

func TestLedger_AfterCommitWaitsForOutermostCommit(t *testing.T) {
	l := NewLedger()
	var fired []string

	err := l.RunInTx(context.Background(), func(ctx context.Context) error {
		require.NoError(t, l.RunInTx(ctx, func(ctx context.Context) error {
			AfterCommit(ctx, func() { fired = append(fired, "inner") })
			return nil
		}))
		assert.Empty(t, fired)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"inner"}, fired)

	fired = nil
	err = l.RunInTx(context.Background(), func(ctx context.Context) error {
		AfterCommit(ctx, func() { fired = append(fired, "dropped") })
		return dErrors.New(dErrors.CodeInternal, "boom")
	})
	require.Error(t, err)
	assert.Empty(t, fired)

	AfterCommit(context.Background(), func() { fired = append(fired, "now") })
	assert.Equal(t, []string{"now"}, fired)
}

func TestLedger_PanicRollsBackAndReleasesLock(t *testing.T) {
	l := NewLedger()
	undone := false
	assert.Panics(t, func() {
		_ = l.RunInTx(context.Background(), func(ctx context.Context) error {
			OnRollback(ctx, func() { undone = true })
			panic("boom")
		})
	})
	assert.True(t, undone)
	require.NoError(t, l.RunInTx(context.Background(), func(context.Context) error { return nil }))
}

func TestSQLTxContext(t *testing.T) {
	db := &sql.DB{}

	t.Run("without a transaction statements go to the database", func(t *testing.T) {
		ctx := WithTx(context.Background(), nil)
		_, ok := From(ctx)
		assert.False(t, ok)
		assert.Same(t, db, ConnFrom(ctx, db))
	})

	t.Run("a carried transaction is used and joined", func(t *testing.T) {
		sqlTx := &sql.Tx{}
		ctx := WithTx(context.Background(), sqlTx)
		got, ok := From(ctx)
		require.True(t, ok)
		assert.Same(t, sqlTx, got)
		assert.Same(t, sqlTx, ConnFrom(ctx, db))

		var inner context.Context
		require.NoError(t, RunInSQLTx(ctx, nil, func(ctx context.Context) error {
			inner = ctx
			return nil
		}))
		assert.Equal(t, ctx, inner)
	})
}
