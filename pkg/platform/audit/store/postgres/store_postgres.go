package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"delego/pkg/domain"
	audit "delego/pkg/platform/audit"
	txcontext "delego/pkg/platform/tx"
)

// Store implements audit.Store over an append-only PostgreSQL table.
// Rows are never updated or deleted here; retention is an external concern.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Schema is the DDL for the audit table. Hosts apply it via their own
// migration tooling; integration tests execute it directly.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id           UUID PRIMARY KEY,
	ts           TIMESTAMPTZ NOT NULL,
	kind         TEXT NOT NULL,
	category     TEXT NOT NULL,
	principal_id TEXT NOT NULL DEFAULT '',
	agent_id     TEXT NOT NULL DEFAULT '',
	task_id      TEXT NOT NULL DEFAULT '',
	resource_id  TEXT NOT NULL DEFAULT '',
	decision     TEXT NOT NULL DEFAULT '',
	reason       TEXT NOT NULL DEFAULT '',
	metadata     JSONB
);
CREATE INDEX IF NOT EXISTS audit_events_agent_idx ON audit_events (agent_id, ts);
CREATE INDEX IF NOT EXISTS audit_events_task_idx ON audit_events (task_id, ts);
`

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// execer returns the context transaction when one is present so the append
// joins the caller's unit of work.
func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Append inserts one audit event.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	var metadata []byte
	if event.Metadata != nil {
		var err error
		metadata, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
	}
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO audit_events
			(id, ts, kind, category, principal_id, agent_id, task_id, resource_id, decision, reason, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		event.ID,
		event.Timestamp,
		string(event.Kind),
		string(event.Kind.Category()),
		string(event.PrincipalID),
		string(event.AgentID),
		string(event.TaskID),
		string(event.ResourceID),
		string(event.Decision),
		event.Reason,
		nullableJSON(metadata),
	)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (s *Store) ListByAgent(ctx context.Context, agentID domain.AgentID) ([]audit.Event, error) {
	return s.list(ctx, `SELECT `+columns+` FROM audit_events WHERE agent_id = $1 ORDER BY ts`, string(agentID))
}

func (s *Store) ListByTask(ctx context.Context, taskID domain.TaskID) ([]audit.Event, error) {
	return s.list(ctx, `SELECT `+columns+` FROM audit_events WHERE task_id = $1 ORDER BY ts`, string(taskID))
}

func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	events, err := s.list(ctx, `SELECT `+columns+` FROM audit_events ORDER BY ts DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	// Restore append order.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

const columns = `id, ts, kind, principal_id, agent_id, task_id, resource_id, decision, reason, metadata`

func (s *Store) list(ctx context.Context, query string, args ...any) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			event     audit.Event
			ts        time.Time
			kind      string
			principal string
			agent     string
			task      string
			resource  string
			decision  string
			metadata  []byte
		)
		if err := rows.Scan(&event.ID, &ts, &kind, &principal, &agent, &task, &resource, &decision, &event.Reason, &metadata); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Timestamp = ts
		event.Kind = audit.Kind(kind)
		event.PrincipalID = domain.PrincipalID(principal)
		event.AgentID = domain.AgentID(agent)
		event.TaskID = domain.TaskID(task)
		event.ResourceID = domain.ResourceID(resource)
		event.Decision = audit.Decision(decision)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal audit metadata: %w", err)
			}
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
