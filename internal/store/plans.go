package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/icm/internal/canonical"
	"github.com/roach88/icm/internal/plan"
)

// SavePlan inserts or replaces a plan document. Status and last execution
// time are kept in their own columns and override the document on read.
func (s *Store) SavePlan(ctx context.Context, p plan.IncentivePlan) error {
	if p.ID == "" {
		return fmt.Errorf("save plan: id is required")
	}
	p = plan.Normalize(p)
	doc, err := canonical.Marshal(p)
	if err != nil {
		return fmt.Errorf("save plan %s: %w", p.ID, err)
	}

	var lastExecuted any
	if p.LastExecutedAt != nil {
		lastExecuted = p.LastExecutedAt.UTC().Format(timeLayout)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO plans (id, name, status, document, last_executed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			document = excluded.document,
			last_executed_at = excluded.last_executed_at,
			updated_at = excluded.updated_at
	`, p.ID, p.Name, string(p.Status), string(doc), lastExecuted, s.timestamp())
	if err != nil {
		return fmt.Errorf("save plan %s: %w", p.ID, err)
	}
	return nil
}

// GetPlan reads a plan. A missing plan yields plan.ErrNotFound.
func (s *Store) GetPlan(ctx context.Context, planID string) (plan.IncentivePlan, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT document, status, last_executed_at FROM plans WHERE id = ?
	`, planID)
	p, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return plan.IncentivePlan{}, fmt.Errorf("%w: %s", plan.ErrNotFound, planID)
	}
	if err != nil {
		return plan.IncentivePlan{}, fmt.Errorf("get plan %s: %w", planID, err)
	}
	return p, nil
}

// ListPlans returns every plan ordered by id.
func (s *Store) ListPlans(ctx context.Context) ([]plan.IncentivePlan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document, status, last_executed_at FROM plans
		ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	plans := make([]plan.IncentivePlan, 0)
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("list plans: %w", err)
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return plans, nil
}

// MarkPlanExecuted sets the plan status to executed and records at.
func (s *Store) MarkPlanExecuted(ctx context.Context, planID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE plans SET status = ?, last_executed_at = ?, updated_at = ? WHERE id = ?
	`, string(plan.StatusExecuted), at.UTC().Format(timeLayout), s.timestamp(), planID)
	if err != nil {
		return fmt.Errorf("mark plan %s executed: %w", planID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark plan %s executed: %w", planID, err)
	}
	if n == 0 {
		return fmt.Errorf("mark plan executed: %w: %s", plan.ErrNotFound, planID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (plan.IncentivePlan, error) {
	var (
		doc          string
		status       string
		lastExecuted sql.NullString
	)
	if err := row.Scan(&doc, &status, &lastExecuted); err != nil {
		return plan.IncentivePlan{}, err
	}

	var p plan.IncentivePlan
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return plan.IncentivePlan{}, fmt.Errorf("decode plan document: %w", err)
	}
	p.Status = plan.Status(status)
	p.LastExecutedAt = nil
	if lastExecuted.Valid {
		t, err := time.Parse(timeLayout, lastExecuted.String)
		if err != nil {
			return plan.IncentivePlan{}, fmt.Errorf("decode last_executed_at: %w", err)
		}
		p.LastExecutedAt = &t
	}
	return plan.Normalize(p), nil
}
