package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/icm/internal/execlog"
)

// LogArchive returns an execlog.Archive backed by the execution_logs table.
func (s *Store) LogArchive() execlog.Archive {
	return logArchive{s: s}
}

type logArchive struct {
	s *Store
}

func (a logArchive) Save(ctx context.Context, l *execlog.Log) error {
	doc, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("archive execution log %s: %w", l.ExecutionID, err)
	}
	_, err = a.s.db.ExecContext(ctx, `
		INSERT INTO execution_logs (id, plan_id, status, log, archived_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			log = excluded.log,
			archived_at = excluded.archived_at
	`, l.ExecutionID, l.PlanID, string(l.Status), string(doc), a.s.timestamp())
	if err != nil {
		return fmt.Errorf("archive execution log %s: %w", l.ExecutionID, err)
	}
	return nil
}

func (a logArchive) Load(ctx context.Context, executionID string) (*execlog.Log, error) {
	var doc string
	err := a.s.db.QueryRowContext(ctx, `
		SELECT log FROM execution_logs WHERE id = ?
	`, executionID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", execlog.ErrNotFound, executionID)
	}
	if err != nil {
		return nil, fmt.Errorf("load execution log %s: %w", executionID, err)
	}

	var l execlog.Log
	if err := json.Unmarshal([]byte(doc), &l); err != nil {
		return nil, fmt.Errorf("decode execution log %s: %w", executionID, err)
	}
	return &l, nil
}
