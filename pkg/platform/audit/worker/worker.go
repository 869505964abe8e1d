package worker

import (
	"context"
	"log/slog"

	audit "delego/pkg/platform/audit"
)

// Worker consumes audit events from a channel and forwards them to a sink,
// typically the Kafka publisher. It decouples streaming delivery from the
// synchronous audit path: a slow or failing sink delays only the mirror
// copy, never the operation that emitted the event.
type Worker struct {
	sink   audit.Appender
	inbox  <-chan audit.Event
	logger *slog.Logger
}

func New(sink audit.Appender, inbox <-chan audit.Event, logger *slog.Logger) *Worker {
	return &Worker{sink: sink, inbox: inbox, logger: logger}
}

// Run forwards events until ctx is cancelled. Sink failures are logged and
// the event is dropped; the durable copy already lives in the primary store.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.sink.Append(ctx, event); err != nil {
				w.logger.ErrorContext(ctx, "audit sink append failed",
					"event_id", event.ID,
					"kind", event.Kind,
					"error", err,
				)
			}
		}
	}
}
