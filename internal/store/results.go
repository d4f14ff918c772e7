package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/icm/internal/canonical"
	"github.com/roach88/icm/internal/commission"
)

// ErrResultNotFound is returned when no result has the requested execution
// id.
var ErrResultNotFound = errors.New("execution result not found")

// SaveExecutionResult writes a result keyed by execution id. Writing the
// same execution id twice is a no-op.
func (s *Store) SaveExecutionResult(ctx context.Context, res commission.Result) error {
	doc, err := canonical.Marshal(res)
	if err != nil {
		return fmt.Errorf("save execution result %s: %w", res.ExecutionID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO execution_results
		(id, plan_id, mode, status, currency, total_commission, digest, result, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		res.ExecutionID,
		res.PlanID,
		string(res.Mode),
		string(res.Status),
		res.Currency,
		res.TotalCommission.String(),
		res.Digest,
		string(doc),
		res.Timestamp.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("save execution result %s: %w", res.ExecutionID, err)
	}
	return nil
}

// ExecutionResult reads one stored result.
func (s *Store) ExecutionResult(ctx context.Context, executionID string) (commission.Result, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `
		SELECT result FROM execution_results WHERE id = ?
	`, executionID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return commission.Result{}, fmt.Errorf("%w: %s", ErrResultNotFound, executionID)
	}
	if err != nil {
		return commission.Result{}, fmt.Errorf("read execution result %s: %w", executionID, err)
	}
	return decodeResult(doc)
}

// ExecutionResultsForPlan returns a plan's results, oldest first.
func (s *Store) ExecutionResultsForPlan(ctx context.Context, planID string) ([]commission.Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT result FROM execution_results
		WHERE plan_id = ?
		ORDER BY created_at ASC, id COLLATE BINARY ASC
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("list execution results: %w", err)
	}
	defer rows.Close()

	results := make([]commission.Result, 0)
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan execution result: %w", err)
		}
		res, err := decodeResult(doc)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list execution results: %w", err)
	}
	return results, nil
}

func decodeResult(doc string) (commission.Result, error) {
	var res commission.Result
	if err := json.Unmarshal([]byte(doc), &res); err != nil {
		return commission.Result{}, fmt.Errorf("decode execution result: %w", err)
	}
	return res, nil
}
