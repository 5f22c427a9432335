package worker

import (
	"context"
	"log/slog"

	audit "sos/pkg/platform/audit"
)

// Sink receives events drained by the worker.
type Sink interface {
	Append(ctx context.Context, event audit.Event) error
}

// Worker consumes audit events from a channel and hands them to a sink. It
// returns when the inbox is closed and drained, or when ctx is cancelled.
type Worker struct {
	sink   Sink
	inbox  <-chan audit.Event
	logger *slog.Logger
}

func NewWorker(sink Sink, inbox <-chan audit.Event, logger *slog.Logger) *Worker {
	return &Worker{sink: sink, inbox: inbox, logger: logger}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.inbox:
			if !ok {
				return nil
			}
			if err := w.sink.Append(ctx, event); err != nil && w.logger != nil {
				w.logger.ErrorContext(ctx, "failed to persist audit event",
					"action", event.Action,
					"subject", event.Subject,
					"error", err,
				)
			}
		}
	}
}
