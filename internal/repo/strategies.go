package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"castd/internal/domain"
)

func (r Repo) InsertStrategyTx(ctx context.Context, tx *sql.Tx, s domain.Strategy) error {
	actions, err := json.Marshal(s.Actions)
	if err != nil {
		return fmt.Errorf("marshal actions: %w", err)
	}
	var required any
	if len(s.RequiredResources) > 0 {
		data, err := json.Marshal(s.RequiredResources)
		if err != nil {
			return fmt.Errorf("marshal required resources: %w", err)
		}
		required = string(data)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO strategies(id,name,domain,rule,description,actions_json,estimated_roi,required_json,status,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.Name, s.Domain, nullable(s.Rule), nullable(s.Description), string(actions), s.EstimatedROI, required, s.Status, s.CreatedAt, s.UpdatedAt)
	return err
}

func (r Repo) GetStrategy(ctx context.Context, id string) (domain.Strategy, error) {
	row := r.DB.QueryRowContext(ctx, selectStrategy+` WHERE id=?`, id)
	s, err := scanStrategy(row)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) ListActiveStrategies(ctx context.Context) ([]domain.Strategy, error) {
	return r.listStrategies(ctx, selectStrategy+` WHERE status='active' ORDER BY created_at, id`)
}

func (r Repo) ListStrategies(ctx context.Context) ([]domain.Strategy, error) {
	return r.listStrategies(ctx, selectStrategy+` ORDER BY created_at DESC, id`)
}

func (r Repo) ListStrategiesByDomain(ctx context.Context, domainID string) ([]domain.Strategy, error) {
	return r.listStrategies(ctx, selectStrategy+` WHERE domain=? ORDER BY created_at, id`, domainID)
}

// HasActiveUnexecuted reports whether an active, never-executed strategy
// from this rule exists. Used by dedupe to suppress re-generating a
// strategy whose predecessor has not run yet.
func (r Repo) HasActiveUnexecuted(ctx context.Context, domainID, rule string) (bool, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT 1 FROM strategies WHERE domain=? AND rule=? AND status='active' AND last_executed_at IS NULL LIMIT 1`, domainID, rule)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	return rows.Next(), rows.Err()
}

func (r Repo) UpdateStrategyPerformanceTx(ctx context.Context, tx *sql.Tx, id string, performance float64, executedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE strategies SET last_performance=?, last_executed_at=?, updated_at=? WHERE id=?`,
		performance, executedAt, executedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetStrategyStatus(ctx context.Context, id, status, updatedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE strategies SET status=?, updated_at=? WHERE id=?`, status, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const selectStrategy = `SELECT id,name,domain,rule,description,actions_json,estimated_roi,required_json,status,created_at,updated_at,last_executed_at,last_performance FROM strategies`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStrategy(row rowScanner) (domain.Strategy, error) {
	var s domain.Strategy
	var rule, desc, required, lastExec sql.NullString
	var lastPerf sql.NullFloat64
	var actions string
	err := row.Scan(&s.ID, &s.Name, &s.Domain, &rule, &desc, &actions, &s.EstimatedROI, &required, &s.Status, &s.CreatedAt, &s.UpdatedAt, &lastExec, &lastPerf)
	if err != nil {
		return s, err
	}
	if rule.Valid {
		s.Rule = rule.String
	}
	if desc.Valid {
		s.Description = desc.String
	}
	if err := json.Unmarshal([]byte(actions), &s.Actions); err != nil {
		return s, fmt.Errorf("strategy %s actions: %w", s.ID, err)
	}
	if required.Valid && required.String != "" {
		if err := json.Unmarshal([]byte(required.String), &s.RequiredResources); err != nil {
			return s, fmt.Errorf("strategy %s required resources: %w", s.ID, err)
		}
	}
	if lastExec.Valid {
		v := lastExec.String
		s.LastExecutedAt = &v
	}
	if lastPerf.Valid {
		v := lastPerf.Float64
		s.LastPerformance = &v
	}
	return s, nil
}

func (r Repo) listStrategies(ctx context.Context, query string, args ...any) ([]domain.Strategy, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Strategy
	for rows.Next() {
		s, err := scanStrategy(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
