package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"delego/internal/delegation/models"
	"delego/pkg/domain"
	"delego/pkg/platform/sentinel"
	txcontext "delego/pkg/platform/tx"
)

// PostgresStore persists task metadata in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// Schema is the DDL for the task metadata table.
const Schema = `
CREATE TABLE IF NOT EXISTS delegation_tasks (
	task_id     TEXT PRIMARY KEY,
	delegator   TEXT NOT NULL,
	agent       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL,
	expires_at  TIMESTAMPTZ NOT NULL,
	status      TEXT NOT NULL,
	grants      JSONB NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS delegation_tasks_expiry_idx ON delegation_tasks (status, expires_at);
`

// NewPostgresStore constructs a PostgreSQL-backed metadata store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type grantRow struct {
	Resource string `json:"resource"`
	Access   string `json:"access"`
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Put(ctx context.Context, task *models.Task) error {
	grants := make([]grantRow, len(task.Grants))
	for i, g := range task.Grants {
		grants[i] = grantRow{Resource: string(g.Resource), Access: string(g.Access)}
	}
	encoded, err := json.Marshal(grants)
	if err != nil {
		return fmt.Errorf("marshal grants: %w", err)
	}
	_, err = s.execer(ctx).ExecContext(ctx, `
		INSERT INTO delegation_tasks
			(task_id, delegator, agent, description, created_at, expires_at, status, grants)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (task_id) DO UPDATE SET
			expires_at = EXCLUDED.expires_at,
			status = EXCLUDED.status,
			grants = EXCLUDED.grants`,
		string(task.ID),
		string(task.Delegator),
		string(task.Agent),
		task.Description,
		task.CreatedAt,
		task.ExpiresAt,
		string(task.Status),
		encoded,
	)
	if err != nil {
		return fmt.Errorf("put task metadata: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, taskID domain.TaskID) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT task_id, delegator, agent, description, created_at, expires_at, status, grants
		FROM delegation_tasks WHERE task_id = $1`,
		string(taskID),
	)
	task, err := scanTask(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get task metadata: %w", err)
	}
	return task, nil
}

func (s *PostgresStore) Delete(ctx context.Context, taskID domain.TaskID) error {
	_, err := s.execer(ctx).ExecContext(ctx, `DELETE FROM delegation_tasks WHERE task_id = $1`, string(taskID))
	if err != nil {
		return fmt.Errorf("delete task metadata: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, delegator, agent, description, created_at, expires_at, status, grants
		FROM delegation_tasks`)
	if err != nil {
		return nil, fmt.Errorf("list task metadata: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("list task metadata: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var (
		task      models.Task
		id        string
		delegator string
		agent     string
		status    string
		grants    []byte
	)
	if err := row.Scan(&id, &delegator, &agent, &task.Description, &task.CreatedAt, &task.ExpiresAt, &status, &grants); err != nil {
		return nil, err
	}
	task.ID = domain.TaskID(id)
	task.Delegator = domain.PrincipalID(delegator)
	task.Agent = domain.AgentID(agent)
	task.Status = models.TaskStatus(status)

	var rows []grantRow
	if err := json.Unmarshal(grants, &rows); err != nil {
		return nil, fmt.Errorf("unmarshal grants: %w", err)
	}
	for _, g := range rows {
		task.Grants = append(task.Grants, models.ResourceGrant{
			Resource: domain.ResourceID(g.Resource),
			Access:   domain.AccessLevel(g.Access),
		})
	}
	return &task, nil
}
