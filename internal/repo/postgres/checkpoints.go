package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const (
	selectCheckpointQuery = `SELECT cursor FROM sweep_checkpoints WHERE name = $1`

	upsertCheckpointQuery = `INSERT INTO sweep_checkpoints (name, cursor, updated_at)
	VALUES ($1, $2, now())
	ON CONFLICT (name) DO UPDATE SET cursor = EXCLUDED.cursor, updated_at = EXCLUDED.updated_at`

	deleteCheckpointQuery = `DELETE FROM sweep_checkpoints WHERE name = $1`
)

type CheckpointStore struct {
	db DB
}

func NewCheckpointStore(db DB) *CheckpointStore {
	if db == nil {
		return nil
	}
	return &CheckpointStore{db: db}
}

// LoadCheckpoint returns "" when the sweep has no saved cursor.
func (s *CheckpointStore) LoadCheckpoint(ctx context.Context, name string) (string, error) {
	if s == nil || s.db == nil {
		return "", fmt.Errorf("checkpoint store not initialized")
	}
	var cursor string
	if err := s.db.QueryRowContext(ctx, selectCheckpointQuery, name).Scan(&cursor); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("load checkpoint: %w", err)
	}
	return cursor, nil
}

func (s *CheckpointStore) SaveCheckpoint(ctx context.Context, name, cursor string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("checkpoint store not initialized")
	}
	if _, err := s.db.ExecContext(ctx, upsertCheckpointQuery, name, cursor); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (s *CheckpointStore) ClearCheckpoint(ctx context.Context, name string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("checkpoint store not initialized")
	}
	if _, err := s.db.ExecContext(ctx, deleteCheckpointQuery, name); err != nil {
		return fmt.Errorf("clear checkpoint: %w", err)
	}
	return nil
}
