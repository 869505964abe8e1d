package audit

import (
	"context"
	"log/slog"
	"time"

	"delego/pkg/domain"
	"delego/pkg/requestcontext"

	"github.com/google/uuid"
)

// Appender is the minimal append target for audit events. Durable stores
// and streaming sinks both satisfy it.
type Appender interface {
	Append(ctx context.Context, event Event) error
}

// Store is an append-only audit store with query support for hosts that
// expose audit history.
type Store interface {
	Appender
	ListByAgent(ctx context.Context, agentID domain.AgentID) ([]Event, error)
	ListByTask(ctx context.Context, taskID domain.TaskID) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}

// Emitter is the port domain services use to record audit events.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

// Publisher captures structured audit events. The primary store is written
// synchronously; an optional mirror channel feeds a background worker for
// streaming sinks so the hot path never blocks on them.
type Publisher struct {
	store  Appender
	mirror chan<- Event
	logger *slog.Logger
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithMirror fans emitted events out to a channel, typically consumed by a
// worker that forwards them to Kafka. Sends never block: if the channel is
// full the mirror copy is dropped and the drop is logged.
func WithMirror(ch chan<- Event) Option {
	return func(p *Publisher) { p.mirror = ch }
}

// WithLogger sets a logger for mirror-drop reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

// NewPublisher constructs a publisher over the given primary store.
func NewPublisher(store Appender, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit assigns the event an id and timestamp when missing, enriches it with
// request-scoped context, and appends it to the primary store. The primary
// write is synchronous: if it fails, the caller's operation must treat the
// event as unrecorded.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.Metadata = enrich(ctx, event.Metadata)
	if err := p.store.Append(ctx, event); err != nil {
		return err
	}
	if p.mirror != nil {
		select {
		case p.mirror <- event:
		default:
			if p.logger != nil {
				p.logger.WarnContext(ctx, "audit mirror full, event dropped",
					"event_id", event.ID,
					"kind", event.Kind,
				)
			}
		}
	}
	return nil
}

// enrich copies request-scoped correlation data into the event metadata.
// The caller's map is never mutated.
func enrich(ctx context.Context, metadata map[string]any) map[string]any {
	requestID := requestcontext.RequestID(ctx)
	clientInfo := requestcontext.ClientInfo(ctx)
	if requestID == "" && clientInfo == "" {
		return metadata
	}
	enriched := make(map[string]any, len(metadata)+2)
	for k, v := range metadata {
		enriched[k] = v
	}
	if requestID != "" {
		enriched["request_id"] = requestID
	}
	if clientInfo != "" {
		enriched["client"] = clientInfo
	}
	return enriched
}
