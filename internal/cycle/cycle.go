// Package cycle orchestrates one control loop pass: gather intel, generate
// and rank strategies, execute the top picks, then record performance.
package cycle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"castd/internal/config"
	"castd/internal/domain"
	"castd/internal/events"
	"castd/internal/executor"
	"castd/internal/intel"
	"castd/internal/ledger"
	"castd/internal/repo"
	"castd/internal/strategy"
	"castd/internal/tracker"
)

// ErrBusy is returned when a cycle is requested while one is running.
// Cycles never queue; the caller retries after the current one finishes.
var ErrBusy = errors.New("cycle already in progress")

// ErrPersistence marks failures of the backing store, as opposed to domain
// or boundary failures which settle into the ledger.
var ErrPersistence = errors.New("persistence failure")

type Orchestrator struct {
	DB        *sql.DB
	Repo      repo.Repo
	Ledger    ledger.Ledger
	Events    events.Writer
	Config    *config.Config
	Collector intel.Collector
	Generator strategy.Generator
	Executor  executor.Executor
	Tracker   tracker.Tracker
	ReportDir string
	Now       func() time.Time

	busy   atomic.Bool
	cycles atomic.Int64

	mu   sync.Mutex
	last *domain.CycleResult
}

// Status is the orchestrator's externally visible state.
type Status struct {
	Busy       bool                `json:"busy"`
	CyclesRun  int64               `json:"cycles_run"`
	LastResult *domain.CycleResult `json:"last_result,omitempty"`
}

// Bootstrap initializes the wallet, seeds the starting inventory, and
// registers the configured domains. Safe to run repeatedly.
func (o *Orchestrator) Bootstrap(ctx context.Context) error {
	now := o.Now().UTC().Format(time.RFC3339)
	for id, d := range o.Config.Domains {
		if err := o.Repo.UpsertDomain(ctx, domain.TrackedDomain{ID: id, Name: d.Name}); err != nil {
			return fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	}
	tx, err := o.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	defer tx.Rollback()
	if err := o.Ledger.InitWallet(ctx, tx, o.Config.Ledger.StartingBalance); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	for _, seed := range o.Config.Ledger.Seed {
		if err := o.Ledger.SeedResource(ctx, tx, seed.Domain, seed.ResourceID, seed.Name, seed.Quantity, seed.Value, now); err != nil {
			return fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// Run executes one full cycle. Only one cycle runs at a time; concurrent
// calls get ErrBusy and no state is touched. The context is honored at
// stage and action borders, so cancellation never tears a settlement.
func (o *Orchestrator) Run(ctx context.Context) (domain.CycleResult, error) {
	if !o.busy.CompareAndSwap(false, true) {
		return domain.CycleResult{}, ErrBusy
	}
	defer o.busy.Store(false)

	n := o.cycles.Add(1)
	result := domain.CycleResult{
		Cycle:     int(n),
		StartedAt: o.Now().UTC().Format(time.RFC3339),
	}

	signals, err := o.Collector.Gather(ctx, o.Config.Domains)
	if err != nil {
		return result, o.wrap(ctx, fmt.Errorf("gather signals: %w", err))
	}
	result.SignalsGathered = signals

	generated, err := o.Generator.Generate(ctx, o.Config.Domains)
	if err != nil {
		return result, o.wrap(ctx, fmt.Errorf("generate strategies: %w", err))
	}
	result.StrategiesGenerated = len(generated)

	active, err := o.Repo.ListActiveStrategies(ctx)
	if err != nil {
		return result, o.wrap(ctx, err)
	}
	selected := strategy.Select(active, o.Config.SelectLimit())
	result.StrategiesSelected = len(selected)

	for _, s := range selected {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		outcomes, err := o.Executor.ExecuteStrategy(ctx, s)
		result.Outcomes = append(result.Outcomes, outcomes...)
		if err != nil {
			return result, o.wrap(ctx, fmt.Errorf("execute %s: %w", s.Name, err))
		}
	}

	if _, err := o.Tracker.Record(ctx); err != nil {
		return result, o.wrap(ctx, fmt.Errorf("record performance: %w", err))
	}
	if o.ReportDir != "" {
		if _, err := o.Tracker.SaveReport(ctx, o.ReportDir); err != nil {
			log.Printf("cycle: save report: %v", err)
		}
	}

	overall, err := o.Tracker.Overall(ctx)
	if err != nil {
		return result, o.wrap(ctx, err)
	}
	result.PortfolioValue = overall.CurrentValue
	result.ROI = overall.ROI
	result.FinishedAt = o.Now().UTC().Format(time.RFC3339)

	tx, err := o.DB.BeginTx(ctx, nil)
	if err != nil {
		return result, o.wrap(ctx, err)
	}
	defer tx.Rollback()
	if err := o.Events.Append(ctx, tx, "cycle.completed", "", "cycle", fmt.Sprintf("%d", n), events.EventPayload{
		"signals":   result.SignalsGathered,
		"generated": result.StrategiesGenerated,
		"selected":  result.StrategiesSelected,
		"portfolio": result.PortfolioValue,
		"roi":       result.ROI,
	}); err != nil {
		return result, o.wrap(ctx, err)
	}
	if err := tx.Commit(); err != nil {
		return result, o.wrap(ctx, err)
	}

	o.mu.Lock()
	r := result
	o.last = &r
	o.mu.Unlock()
	return result, nil
}

// RunAuto runs a cycle immediately and then on every interval tick until
// the context is cancelled. Individual cycle failures are logged, not
// fatal.
func (o *Orchestrator) RunAuto(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = o.Config.Interval()
	}
	run := func() {
		result, err := o.Run(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Printf("cycle %d: %v", result.Cycle, err)
			return
		}
		log.Printf("cycle %d done: %d signals, %d generated, %d selected, portfolio %.4f (ROI %.2f%%)",
			result.Cycle, result.SignalsGathered, result.StrategiesGenerated, result.StrategiesSelected,
			result.PortfolioValue, result.ROI)
	}

	run()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			run()
		}
	}
}

func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	last := o.last
	o.mu.Unlock()
	return Status{
		Busy:       o.busy.Load(),
		CyclesRun:  o.cycles.Load(),
		LastResult: last,
	}
}

// wrap classifies an error: cancellation passes through untouched, anything
// else from a storage-backed stage is a persistence failure.
func (o *Orchestrator) wrap(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%w: %v", ErrPersistence, err)
}
