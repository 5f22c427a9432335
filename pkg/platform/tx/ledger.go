package tx

import (
	"context"
	"sync"
	"time"

	dErrors "sos/pkg/domain-errors"
)

// defaultLedgerTimeout bounds how long a caller waits for the ledger lock.
const defaultLedgerTimeout = 5 * time.Second

type ledgerKey struct{}

// journal records how to undo the writes of the running transaction and what
// to run once it commits.
type journal struct {
	ledger   *Ledger
	undo     []func()
	onCommit []func()
}

// Ledger serialises state-changing operations into a single total order.
// Operations nested inside an outer RunInTx (a donation updating a fund
// balance, for example) join the outer transaction instead of deadlocking.
// A failing operation is rolled back through the undo steps its writers
// registered with OnRollback.
type Ledger struct {
	mu      sync.Mutex
	timeout time.Duration
}

type LedgerOption func(*Ledger)

// WithTimeout overrides the default wait applied when the caller's context
// has no deadline.
func WithTimeout(d time.Duration) LedgerOption {
	return func(l *Ledger) {
		l.timeout = d
	}
}

func NewLedger(opts ...LedgerOption) *Ledger {
	l := &Ledger{timeout: defaultLedgerTimeout}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RunInTx runs fn while holding the ledger lock. When fn fails, every undo
// step registered since it started runs in reverse order, so a returned error
// means nothing was written. A nested call that fails is rolled back on its
// own, like a savepoint; the outer call decides whether to fail as well.
func (l *Ledger) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if j := current(ctx); j != nil && j.ledger == l {
		undoMark, commitMark := len(j.undo), len(j.onCommit)
		if err := fn(ctx); err != nil {
			j.rollback(undoMark)
			j.onCommit = j.onCommit[:commitMark]
			return err
		}
		return nil
	}
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	if !l.lock(ctx) {
		return dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "transaction aborted: ledger busy")
	}

	j := &journal{ledger: l}
	if err := l.run(context.WithValue(ctx, ledgerKey{}, j), j, fn); err != nil {
		return err
	}
	for _, hook := range j.onCommit {
		hook()
	}
	return nil
}

// run executes the outermost fn and releases the lock, rolling back on error
// or panic.
func (l *Ledger) run(ctx context.Context, j *journal, fn func(ctx context.Context) error) (err error) {
	defer l.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			j.rollback(0)
			panic(r)
		}
	}()
	if err = fn(ctx); err != nil {
		j.rollback(0)
	}
	return err
}

func (j *journal) rollback(mark int) {
	for i := len(j.undo) - 1; i >= mark; i-- {
		j.undo[i]()
	}
	j.undo = j.undo[:mark]
}

// OnRollback registers undo to run if the enclosing transaction fails. Outside
// a transaction it does nothing.
func OnRollback(ctx context.Context, undo func()) {
	if j := current(ctx); j != nil {
		j.undo = append(j.undo, undo)
	}
}

// AfterCommit runs fn once the outermost transaction has committed and
// released the lock, or right away when ctx is not inside a transaction. fn
// is dropped if the transaction rolls back.
func AfterCommit(ctx context.Context, fn func()) {
	if j := current(ctx); j != nil {
		j.onCommit = append(j.onCommit, fn)
		return
	}
	fn()
}

// InLedger reports whether ctx is already inside l's transaction.
func InLedger(ctx context.Context, l *Ledger) bool {
	j := current(ctx)
	return j != nil && j.ledger == l
}

func current(ctx context.Context) *journal {
	j, _ := ctx.Value(ledgerKey{}).(*journal)
	return j
}

func (l *Ledger) lock(ctx context.Context) bool {
	for {
		if l.mu.TryLock() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(time.Millisecond):
		}
	}
}
