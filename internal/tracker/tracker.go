// Package tracker records portfolio snapshots and computes ROI against the
// portfolio value observed at first record.
package tracker

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"castd/internal/domain"
	"castd/internal/events"
	"castd/internal/repo"
)

type Tracker struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Now    func() time.Time
}

// Overall is the portfolio-wide performance summary.
type Overall struct {
	ROI            float64 `json:"roi"`
	StartingValue  float64 `json:"starting_value"`
	CurrentValue   float64 `json:"current_value"`
	LastRecordedAt string  `json:"last_recorded_at" format:"date-time"`
}

// Record captures a snapshot of the portfolio: asset and cash values, the
// transactions settled since the previous record, and the performance of
// active strategies. Domain performance rows are refreshed for every domain
// touched by those transactions. The starting value anchoring ROI is fixed
// at the first ever record.
func (t Tracker) Record(ctx context.Context) (domain.Snapshot, error) {
	now := t.Now().UTC().Format(time.RFC3339)

	currentValue, err := t.Repo.PortfolioValue(ctx)
	if err != nil {
		return domain.Snapshot{}, err
	}
	balance, err := t.Repo.GetBalance(ctx)
	if err != nil {
		return domain.Snapshot{}, err
	}

	meta, err := t.Repo.GetPerfMeta(ctx)
	first := err == repo.ErrNotFound
	if err != nil && !first {
		return domain.Snapshot{}, err
	}

	var recent []domain.Transaction
	if !first {
		recent, err = t.Repo.ListTransactionsAfter(ctx, meta.LastRecordedAt)
		if err != nil {
			return domain.Snapshot{}, err
		}
	}

	snap := domain.Snapshot{
		ID:          uuid.New().String(),
		TS:          now,
		Domain:      "all",
		AssetValue:  currentValue - balance,
		CashBalance: balance,
		TotalValue:  currentValue,
	}
	for _, txn := range recent {
		snap.Actions = append(snap.Actions, domain.SnapshotAction{
			ActionType: txn.ActionType,
			Value:      txn.Value,
			Status:     txn.Status,
		})
	}
	active, err := t.Repo.ListActiveStrategies(ctx)
	if err != nil {
		return domain.Snapshot{}, err
	}
	for _, s := range active {
		if s.LastPerformance != nil {
			snap.Strategies = append(snap.Strategies, domain.StrategyScore{
				StrategyID:  s.ID,
				Name:        s.Name,
				Performance: *s.LastPerformance,
			})
		}
	}

	touched := map[string]bool{}
	for _, txn := range recent {
		touched[txn.Domain] = true
	}
	var perfs []domain.DomainPerformance
	for id := range touched {
		p, err := t.domainPerformance(ctx, id)
		if err != nil {
			return domain.Snapshot{}, err
		}
		perfs = append(perfs, p)
	}

	tx, err := t.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Snapshot{}, err
	}
	defer tx.Rollback()

	if first {
		if err := t.Repo.InitPerfMetaTx(ctx, tx, currentValue, now); err != nil {
			return domain.Snapshot{}, err
		}
	} else if err := t.Repo.TouchPerfMetaTx(ctx, tx, now); err != nil {
		return domain.Snapshot{}, err
	}
	if err := t.Repo.InsertSnapshotTx(ctx, tx, snap); err != nil {
		return domain.Snapshot{}, err
	}
	for _, p := range perfs {
		if err := t.Repo.UpsertDomainPerfTx(ctx, tx, p); err != nil {
			return domain.Snapshot{}, err
		}
	}
	if err := t.Events.Append(ctx, tx, "performance.recorded", "", "snapshot", snap.ID, events.EventPayload{
		"total_value": currentValue,
		"actions":     len(snap.Actions),
	}); err != nil {
		return domain.Snapshot{}, err
	}
	return snap, tx.Commit()
}

func (t Tracker) domainPerformance(ctx context.Context, domainID string) (domain.DomainPerformance, error) {
	p := domain.DomainPerformance{Domain: domainID, Name: domainID}
	if d, err := t.Repo.GetDomain(ctx, domainID); err == nil {
		p.Name = d.Name
	}

	var err error
	p.CurrentValue, err = t.Repo.AssetValueByDomain(ctx, domainID)
	if err != nil {
		return p, err
	}
	p.TotalInvestment, err = t.Repo.DomainInvestment(ctx, domainID)
	if err != nil {
		return p, err
	}
	if p.TotalInvestment > 0 {
		p.ROI = (p.CurrentValue - p.TotalInvestment) / p.TotalInvestment * 100
	}

	strategies, err := t.Repo.ListStrategiesByDomain(ctx, domainID)
	if err != nil {
		return p, err
	}
	for _, s := range strategies {
		if s.LastPerformance == nil {
			continue
		}
		score := domain.StrategyScore{StrategyID: s.ID, Name: s.Name, Performance: *s.LastPerformance}
		if p.BestStrategy == nil || score.Performance > p.BestStrategy.Performance {
			v := score
			p.BestStrategy = &v
		}
		if p.WorstStrategy == nil || score.Performance < p.WorstStrategy.Performance {
			v := score
			p.WorstStrategy = &v
		}
	}
	return p, nil
}

// Overall reports ROI relative to the starting value. Before the first
// record it returns zeros with the current portfolio value.
func (t Tracker) Overall(ctx context.Context) (Overall, error) {
	currentValue, err := t.Repo.PortfolioValue(ctx)
	if err != nil {
		return Overall{}, err
	}
	meta, err := t.Repo.GetPerfMeta(ctx)
	if err == repo.ErrNotFound {
		return Overall{CurrentValue: currentValue}, nil
	}
	if err != nil {
		return Overall{}, err
	}
	o := Overall{
		StartingValue:  meta.StartingValue,
		CurrentValue:   currentValue,
		LastRecordedAt: meta.LastRecordedAt,
	}
	if meta.StartingValue > 0 {
		o.ROI = (currentValue - meta.StartingValue) / meta.StartingValue * 100
	}
	return o, nil
}

// Trend returns total portfolio value over the trailing window, oldest
// first.
func (t Tracker) Trend(ctx context.Context, days int) ([]domain.TrendPoint, error) {
	if days <= 0 {
		days = 7
	}
	since := t.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour).Format(time.RFC3339)
	snaps, err := t.Repo.ListSnapshotsSince(ctx, since)
	if err != nil {
		return nil, err
	}
	points := make([]domain.TrendPoint, 0, len(snaps))
	for _, s := range snaps {
		points = append(points, domain.TrendPoint{TS: s.TS, TotalValue: s.TotalValue})
	}
	return points, nil
}

func fmtTimestamp(ts string) string {
	if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
		return parsed.Format("2006-01-02 15:04 MST")
	}
	return ts
}
