// Package publisher emits ledger events to the audit store and to in-process
// subscribers.
package publisher

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/event"
	"github.com/google/uuid"

	audit "sos/pkg/platform/audit"
	"sos/pkg/platform/audit/worker"
	"sos/pkg/requestcontext"
)

// Publisher persists events and fans them out to subscribers. In sync mode
// Emit returns the store error so the calling operation can fail closed. In
// async mode events are buffered and drained by a worker.
type Publisher struct {
	store  audit.Store
	feed   event.FeedOf[audit.Event]
	logger *slog.Logger

	bufferSize int
	inbox      chan audit.Event
	done       chan struct{}
	closeOnce  sync.Once
}

type Option func(*Publisher)

// WithAsyncBuffer switches the publisher to async mode with a buffer of n events.
func WithAsyncBuffer(n int) Option {
	return func(p *Publisher) {
		p.bufferSize = n
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	if p.bufferSize > 0 {
		p.inbox = make(chan audit.Event, p.bufferSize)
		p.done = make(chan struct{})
		w := worker.NewWorker(sink{p}, p.inbox, p.logger)
		go func() {
			defer close(p.done)
			_ = w.Run(context.Background())
		}()
	}
	return p
}

// Emit completes the event envelope and publishes it.
func (p *Publisher) Emit(ctx context.Context, e audit.Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = requestcontext.Now(ctx)
	}
	if e.Category == "" {
		e.Category = audit.AuditEvent(e.Action).Category()
	}
	if e.CorrelationID == "" {
		e.CorrelationID = requestcontext.RequestID(ctx)
	}

	if p.inbox == nil {
		return p.deliver(ctx, e)
	}
	select {
	case p.inbox <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe delivers every published event to ch. Subscribers must keep up:
// a full channel stalls publication.
func (p *Publisher) Subscribe(ch chan<- audit.Event) event.Subscription {
	return p.feed.Subscribe(ch)
}

// List returns stored events for subject.
func (p *Publisher) List(ctx context.Context, subject string) ([]audit.Event, error) {
	return p.store.ListBySubject(ctx, subject)
}

// Close drains pending async events.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		if p.inbox != nil {
			close(p.inbox)
			<-p.done
		}
	})
}

func (p *Publisher) deliver(ctx context.Context, e audit.Event) error {
	if err := p.store.Append(ctx, e); err != nil {
		return err
	}
	p.feed.Send(e)
	return nil
}

type sink struct{ p *Publisher }

func (s sink) Append(ctx context.Context, e audit.Event) error {
	return s.p.deliver(ctx, e)
}
