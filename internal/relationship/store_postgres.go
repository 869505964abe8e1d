package relationship

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore persists relationship tuples in PostgreSQL. Batches run in
// a single transaction, satisfying the Store contract's atomicity.
type PostgresStore struct {
	db *sql.DB
}

// Schema is the DDL for the tuple table. Hosts apply it via their own
// migration tooling; integration tests execute it directly.
const Schema = `
CREATE TABLE IF NOT EXISTS relationship_tuples (
	subject  TEXT NOT NULL,
	relation TEXT NOT NULL,
	object   TEXT NOT NULL,
	PRIMARY KEY (subject, relation, object)
);
CREATE INDEX IF NOT EXISTS relationship_tuples_object_idx ON relationship_tuples (object);
`

// NewPostgresStore constructs a PostgreSQL-backed tuple store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// WriteBatch inserts all tuples in one transaction. Uses unnest for O(1)
// round trips instead of O(n).
func (s *PostgresStore) WriteBatch(ctx context.Context, tuples []Tuple) error {
	if len(tuples) == 0 {
		return nil
	}
	subjects, relations, objects := columns(tuples)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relationship_tuples (subject, relation, object)
		SELECT * FROM unnest($1::text[], $2::text[], $3::text[])
		ON CONFLICT (subject, relation, object) DO NOTHING`,
		pq.Array(subjects), pq.Array(relations), pq.Array(objects),
	)
	if err != nil {
		return fmt.Errorf("write tuple batch: %w", err)
	}
	return nil
}

// DeleteBatch removes all tuples in one statement.
func (s *PostgresStore) DeleteBatch(ctx context.Context, tuples []Tuple) error {
	if len(tuples) == 0 {
		return nil
	}
	subjects, relations, objects := columns(tuples)
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM relationship_tuples t
		USING unnest($1::text[], $2::text[], $3::text[]) AS d(subject, relation, object)
		WHERE t.subject = d.subject AND t.relation = d.relation AND t.object = d.object`,
		pq.Array(subjects), pq.Array(relations), pq.Array(objects),
	)
	if err != nil {
		return fmt.Errorf("delete tuple batch: %w", err)
	}
	return nil
}

func (s *PostgresStore) CheckTuple(ctx context.Context, subject, relation, object string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM relationship_tuples
		WHERE subject = $1 AND relation = $2 AND object = $3`,
		subject, relation, object,
	).Scan(&one)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check tuple: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) ReadTuples(ctx context.Context, filter Filter) ([]Tuple, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT subject, relation, object FROM relationship_tuples
		WHERE ($1 = '' OR subject = $1)
		  AND ($2 = '' OR relation = $2)
		  AND ($3 = '' OR object = $3)`,
		filter.Subject, filter.Relation, filter.Object,
	)
	if err != nil {
		return nil, fmt.Errorf("read tuples: %w", err)
	}
	defer rows.Close()

	var out []Tuple
	for rows.Next() {
		var t Tuple
		if err := rows.Scan(&t.Subject, &t.Relation, &t.Object); err != nil {
			return nil, fmt.Errorf("scan tuple: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func columns(tuples []Tuple) (subjects, relations, objects []string) {
	subjects = make([]string, len(tuples))
	relations = make([]string, len(tuples))
	objects = make([]string, len(tuples))
	for i, t := range tuples {
		subjects[i] = t.Subject
		relations[i] = t.Relation
		objects[i] = t.Object
	}
	return subjects, relations, objects
}
