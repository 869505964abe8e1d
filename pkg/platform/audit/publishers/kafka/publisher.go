// Package kafka forwards audit events to a Kafka topic for downstream
// compliance and SIEM consumers. It is a streaming sink, not a query store:
// pair it with a durable audit.Store via the publisher's mirror channel.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	audit "delego/pkg/platform/audit"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Publisher appends audit events to a Kafka topic. Records are keyed by
// task id so all events for one delegation land in one partition, in order.
type Publisher struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// record is the wire payload. Field names are part of the consumer contract.
type record struct {
	ID          string         `json:"id"`
	Timestamp   string         `json:"timestamp"`
	Kind        string         `json:"kind"`
	Category    string         `json:"category"`
	PrincipalID string         `json:"principal_id,omitempty"`
	AgentID     string         `json:"agent_id,omitempty"`
	TaskID      string         `json:"task_id,omitempty"`
	ResourceID  string         `json:"resource_id,omitempty"`
	Decision    string         `json:"decision,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// New connects to the given brokers and publishes to topic.
func New(brokers []string, topic string, logger *slog.Logger) (*Publisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	return &Publisher{client: client, topic: topic, logger: logger}, nil
}

// Append produces one event synchronously. Callers wanting async delivery
// should feed this publisher from the audit worker, not the hot path.
func (p *Publisher) Append(ctx context.Context, event audit.Event) error {
	payload, err := json.Marshal(record{
		ID:          event.ID,
		Timestamp:   event.Timestamp.Format(time.RFC3339Nano),
		Kind:        string(event.Kind),
		Category:    string(event.Kind.Category()),
		PrincipalID: string(event.PrincipalID),
		AgentID:     string(event.AgentID),
		TaskID:      string(event.TaskID),
		ResourceID:  string(event.ResourceID),
		Decision:    string(event.Decision),
		Reason:      event.Reason,
		Metadata:    event.Metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	rec := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.TaskID),
		Value: payload,
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "audit kafka produce failed",
				"event_id", event.ID,
				"kind", event.Kind,
				"error", err,
			)
		}
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}

// Close flushes buffered records and releases the client.
func (p *Publisher) Close() {
	p.client.Close()
}
