package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/foremanlabs/foreman/internal/dag"
)

// SaveDag saves or updates a graph snapshot.
func (s *Store) SaveDag(ctx context.Context, d *dag.Dag) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal dag: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO dags (id, name, status, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			data = excluded.data,
			updated_at = CURRENT_TIMESTAMP
	`, d.ID, d.Name, string(d.Status), string(data))
	if err != nil {
		return fmt.Errorf("failed to upsert dag: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetDag retrieves a graph by ID.
func (s *Store) GetDag(ctx context.Context, dagID string) (*dag.Dag, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM dags WHERE id = ?
	`, dagID).Scan(&data)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", dag.ErrDagNotFound, dagID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query dag: %w", err)
	}

	var d dag.Dag
	if err := json.Unmarshal([]byte(data), &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dag %s: %w", dagID, err)
	}

	return &d, nil
}

// ListDags returns all stored graphs in insertion order.
func (s *Store) ListDags(ctx context.Context) ([]*dag.Dag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM dags ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query dags: %w", err)
	}
	defer rows.Close()

	var dags []*dag.Dag
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan dag: %w", err)
		}

		var d dag.Dag
		if err := json.Unmarshal([]byte(data), &d); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dag: %w", err)
		}
		dags = append(dags, &d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dags: %w", err)
	}

	return dags, nil
}

// DeleteDag removes a stored graph.
func (s *Store) DeleteDag(ctx context.Context, dagID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dags WHERE id = ?`, dagID)
	if err != nil {
		return fmt.Errorf("failed to delete dag: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", dag.ErrDagNotFound, dagID)
	}

	return nil
}
