package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"castd/internal/domain"
)

// PerfMeta anchors ROI math: the portfolio value at first record and the
// recording timestamps.
type PerfMeta struct {
	StartingValue  float64 `json:"starting_value"`
	StartedAt      string  `json:"started_at" format:"date-time"`
	LastRecordedAt string  `json:"last_recorded_at" format:"date-time"`
}

func (r Repo) GetPerfMeta(ctx context.Context) (PerfMeta, error) {
	var m PerfMeta
	err := r.DB.QueryRowContext(ctx, `SELECT starting_value,started_at,last_recorded_at FROM perf_meta WHERE id=1`).
		Scan(&m.StartingValue, &m.StartedAt, &m.LastRecordedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	return m, err
}

func (r Repo) InitPerfMetaTx(ctx context.Context, tx *sql.Tx, startingValue float64, ts string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO perf_meta(id,starting_value,started_at,last_recorded_at) VALUES (1,?,?,?)`,
		startingValue, ts, ts)
	return err
}

func (r Repo) TouchPerfMetaTx(ctx context.Context, tx *sql.Tx, ts string) error {
	_, err := tx.ExecContext(ctx, `UPDATE perf_meta SET last_recorded_at=? WHERE id=1`, ts)
	return err
}

// --- snapshots ---

func (r Repo) InsertSnapshotTx(ctx context.Context, tx *sql.Tx, s domain.Snapshot) error {
	var actions, strategies any
	if len(s.Actions) > 0 {
		data, err := json.Marshal(s.Actions)
		if err != nil {
			return fmt.Errorf("marshal snapshot actions: %w", err)
		}
		actions = string(data)
	}
	if len(s.Strategies) > 0 {
		data, err := json.Marshal(s.Strategies)
		if err != nil {
			return fmt.Errorf("marshal snapshot strategies: %w", err)
		}
		strategies = string(data)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO snapshots(id,ts,domain,asset_value,cash_balance,total_value,actions_json,strategies_json) VALUES (?,?,?,?,?,?,?,?)`,
		s.ID, s.TS, s.Domain, s.AssetValue, s.CashBalance, s.TotalValue, actions, strategies)
	return err
}

func (r Repo) ListRecentSnapshots(ctx context.Context, limit int) ([]domain.Snapshot, error) {
	if limit <= 0 {
		limit = 20
	}
	return r.listSnapshots(ctx, selectSnapshot+` ORDER BY ts DESC, id DESC LIMIT ?`, limit)
}

func (r Repo) ListSnapshotsSince(ctx context.Context, since string) ([]domain.Snapshot, error) {
	return r.listSnapshots(ctx, selectSnapshot+` WHERE ts>=? ORDER BY ts, id`, since)
}

const selectSnapshot = `SELECT id,ts,domain,asset_value,cash_balance,total_value,actions_json,strategies_json FROM snapshots`

func scanSnapshot(row rowScanner) (domain.Snapshot, error) {
	var s domain.Snapshot
	var actions, strategies sql.NullString
	err := row.Scan(&s.ID, &s.TS, &s.Domain, &s.AssetValue, &s.CashBalance, &s.TotalValue, &actions, &strategies)
	if err != nil {
		return s, err
	}
	if actions.Valid && actions.String != "" {
		if err := json.Unmarshal([]byte(actions.String), &s.Actions); err != nil {
			return s, fmt.Errorf("snapshot %s actions: %w", s.ID, err)
		}
	}
	if strategies.Valid && strategies.String != "" {
		if err := json.Unmarshal([]byte(strategies.String), &s.Strategies); err != nil {
			return s, fmt.Errorf("snapshot %s strategies: %w", s.ID, err)
		}
	}
	return s, nil
}

func (r Repo) listSnapshots(ctx context.Context, query string, args ...any) ([]domain.Snapshot, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// --- per-domain performance ---

func (r Repo) UpsertDomainPerfTx(ctx context.Context, tx *sql.Tx, p domain.DomainPerformance) error {
	var best, worst any
	if p.BestStrategy != nil {
		data, err := json.Marshal(p.BestStrategy)
		if err != nil {
			return err
		}
		best = string(data)
	}
	if p.WorstStrategy != nil {
		data, err := json.Marshal(p.WorstStrategy)
		if err != nil {
			return err
		}
		worst = string(data)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO domain_perf(domain,name,roi,total_investment,current_value,best_strategy_json,worst_strategy_json) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(domain) DO UPDATE SET name=excluded.name, roi=excluded.roi, total_investment=excluded.total_investment,
current_value=excluded.current_value, best_strategy_json=excluded.best_strategy_json, worst_strategy_json=excluded.worst_strategy_json`,
		p.Domain, p.Name, p.ROI, p.TotalInvestment, p.CurrentValue, best, worst)
	return err
}

func (r Repo) ListDomainPerf(ctx context.Context) ([]domain.DomainPerformance, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT domain,name,roi,total_investment,current_value,best_strategy_json,worst_strategy_json FROM domain_perf ORDER BY roi DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DomainPerformance
	for rows.Next() {
		var p domain.DomainPerformance
		var best, worst sql.NullString
		if err := rows.Scan(&p.Domain, &p.Name, &p.ROI, &p.TotalInvestment, &p.CurrentValue, &best, &worst); err != nil {
			return nil, err
		}
		if best.Valid && best.String != "" {
			var s domain.StrategyScore
			if err := json.Unmarshal([]byte(best.String), &s); err != nil {
				return nil, fmt.Errorf("domain perf %s best strategy: %w", p.Domain, err)
			}
			p.BestStrategy = &s
		}
		if worst.Valid && worst.String != "" {
			var s domain.StrategyScore
			if err := json.Unmarshal([]byte(worst.String), &s); err != nil {
				return nil, fmt.Errorf("domain perf %s worst strategy: %w", p.Domain, err)
			}
			p.WorstStrategy = &s
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
