// Package executor runs strategy actions against the domain boundary and
// settles their ledger effects.
//
// Each action moves through two transactions: a pending transaction record
// is committed before the boundary call, and the settlement (ledger moves
// plus final status) is committed after. A crash between the two leaves a
// durable pending row instead of an untracked side effect.
package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"castd/internal/config"
	"castd/internal/domain"
	"castd/internal/events"
	"castd/internal/ledger"
	"castd/internal/repo"
	"castd/internal/rng"
)

// Boundary submits an action to the external domain and returns an opaque
// reference. The default implementation always accepts; outcome draws stay
// with the executor so the boundary remains a pure transport.
type Boundary interface {
	Submit(ctx context.Context, action domain.Action, strategyID string) (string, error)
}

// SimBoundary accepts every submission with a synthetic reference.
type SimBoundary struct{}

func (SimBoundary) Submit(_ context.Context, action domain.Action, _ string) (string, error) {
	return fmt.Sprintf("sim:%s:%s", action.Type, uuid.New().String()[:8]), nil
}

type Executor struct {
	DB       *sql.DB
	Repo     repo.Repo
	Ledger   ledger.Ledger
	Events   events.Writer
	Boundary Boundary
	Rand     rng.Rand
	Tuning   config.Executor
	Now      func() time.Time
}

// ExecuteStrategy runs every action of the strategy in order and records the
// strategy's performance: the share of actions that confirmed, as a
// percentage. Skipped actions count against performance the same as
// failures. The context is checked between actions so a cancelled cycle
// stops cleanly at an action border.
func (e Executor) ExecuteStrategy(ctx context.Context, s domain.Strategy) ([]domain.ActionOutcome, error) {
	var outcomes []domain.ActionOutcome
	success := 0
	for _, action := range s.Actions {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		outcome, err := e.executeAction(ctx, s, action)
		if err != nil {
			return outcomes, fmt.Errorf("strategy %s action %s: %w", s.ID, action.Type, err)
		}
		if outcome.Status == domain.OutcomeConfirmed {
			success++
		}
		outcomes = append(outcomes, outcome)
	}

	performance := 0.0
	if len(s.Actions) > 0 {
		performance = float64(success) / float64(len(s.Actions)) * 100
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return outcomes, err
	}
	defer tx.Rollback()
	now := e.Now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateStrategyPerformanceTx(ctx, tx, s.ID, performance, now); err != nil {
		return outcomes, err
	}
	if err := e.Events.Append(ctx, tx, "strategy.executed", s.Domain, "strategy", s.ID, events.EventPayload{
		"performance": performance,
		"actions":     len(s.Actions),
	}); err != nil {
		return outcomes, err
	}
	return outcomes, tx.Commit()
}

func (e Executor) executeAction(ctx context.Context, s domain.Strategy, action domain.Action) (domain.ActionOutcome, error) {
	outcome := domain.ActionOutcome{
		StrategyID:   s.ID,
		StrategyName: s.Name,
		ActionType:   action.Type,
	}

	// Policy gate: reasons the action should not reach the boundary at
	// all. Skips leave no transaction row, only an audit event.
	if reason, skip, err := e.policyCheck(ctx, s, action); err != nil {
		return outcome, err
	} else if skip {
		outcome.Status = domain.OutcomeSkipped
		outcome.Reason = reason
		return outcome, e.recordSkip(ctx, s, action, reason)
	}

	txn := domain.Transaction{
		ID:         uuid.New().String(),
		Domain:     action.Domain,
		ActionType: string(action.Type),
		TS:         e.Now().UTC().Format(time.RFC3339),
		Status:     domain.TxPending,
		StrategyID: s.ID,
	}
	if err := e.commitPending(ctx, txn); err != nil {
		return outcome, err
	}
	outcome.TransactionID = txn.ID

	ref, submitErr := e.submit(ctx, action, s.ID)
	if submitErr != nil {
		outcome.Status = domain.OutcomeFailed
		outcome.Reason = submitErr.Error()
		return outcome, e.settleFailure(ctx, txn, 0, "")
	}

	return e.settle(ctx, s, action, txn, ref, outcome)
}

// policyCheck evaluates preconditions without mutating anything.
func (e Executor) policyCheck(ctx context.Context, s domain.Strategy, action domain.Action) (string, bool, error) {
	for _, resourceID := range s.RequiredResources {
		item, err := e.Repo.GetInventoryItem(ctx, s.Domain, resourceID)
		if err == repo.ErrNotFound || (err == nil && item.Quantity <= 0) {
			return "missing required resource " + resourceID, true, nil
		}
		if err != nil {
			return "", false, err
		}
	}

	switch action.Type {
	case domain.ActionSell:
		eligible, err := e.eligibleDisposals(ctx, action)
		if err != nil {
			return "", false, err
		}
		if len(eligible) == 0 {
			return "no assets appreciated enough to sell", true, nil
		}
	case domain.ActionEnter:
		fee := enterFee(action)
		balance, err := e.Repo.GetBalance(ctx)
		if err != nil {
			return "", false, err
		}
		if balance < fee {
			return fmt.Sprintf("insufficient balance %.4f for entry fee %.4f", balance, fee), true, nil
		}
	case domain.ActionDevelop:
		investment := developInvestment(action)
		balance, err := e.Repo.GetBalance(ctx)
		if err != nil {
			return "", false, err
		}
		if balance < investment {
			return fmt.Sprintf("insufficient balance %.4f for investment %.4f", balance, investment), true, nil
		}
	}
	return "", false, nil
}

func (e Executor) recordSkip(ctx context.Context, s domain.Strategy, action domain.Action, reason string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, "action.skipped", action.Domain, "strategy", s.ID, events.EventPayload{
		"action_type": string(action.Type),
		"reason":      reason,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Executor) commitPending(ctx context.Context, txn domain.Transaction) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTransactionTx(ctx, tx, txn); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "action.submitted", txn.Domain, "transaction", txn.ID, events.EventPayload{
		"action_type": txn.ActionType,
		"strategy_id": txn.StrategyID,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// submit calls the boundary under its own deadline; a timeout is an
// execution failure, not a skip.
func (e Executor) submit(ctx context.Context, action domain.Action, strategyID string) (string, error) {
	timeout := time.Duration(e.Tuning.BoundaryTimeout)
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ref, err := e.Boundary.Submit(ctx, action, strategyID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("boundary timed out after %s", timeout)
		}
		return "", err
	}
	return ref, nil
}

func (e Executor) settle(ctx context.Context, s domain.Strategy, action domain.Action, txn domain.Transaction, ref string, outcome domain.ActionOutcome) (domain.ActionOutcome, error) {
	var res settlement
	var err error
	switch action.Type {
	case domain.ActionFarm:
		res, err = e.settleFarm(ctx, action, txn, ref)
	case domain.ActionSell:
		res, err = e.settleSell(ctx, action, txn, ref)
	case domain.ActionEnter:
		res, err = e.settleEnter(ctx, action, txn, ref)
	case domain.ActionDevelop:
		res, err = e.settleDevelop(ctx, action, txn, ref)
	default:
		res, err = e.settleFallback(ctx, action, txn, ref)
	}
	if err != nil {
		return outcome, err
	}
	if res.confirmed {
		outcome.Status = domain.OutcomeConfirmed
	} else {
		outcome.Status = domain.OutcomeFailed
	}
	outcome.Reason = res.reason
	outcome.Value = res.value
	return outcome, nil
}

type settlement struct {
	confirmed bool
	value     float64
	reason    string
}

func (e Executor) settleFarm(ctx context.Context, action domain.Action, txn domain.Transaction, ref string) (settlement, error) {
	if e.Rand.Next() >= e.Tuning.FarmSuccess {
		return settlement{reason: "farming run failed"}, e.settleFailure(ctx, txn, 0, ref)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return settlement{}, err
	}
	defer tx.Rollback()

	now := e.Now().UTC().Format(time.RFC3339)
	kinds := []string{"resources"}
	if action.Params.Farm != nil && len(action.Params.Farm.ResourceKinds) > 0 {
		kinds = action.Params.Farm.ResourceKinds
	}
	totalUnits := 0
	var gained []string
	for _, kind := range kinds {
		quantity := int(e.Rand.Next()*float64(e.Tuning.FarmMaxUnits)) + 1
		if err := e.Ledger.AddResource(ctx, tx, action.Domain, kind, titleCase(kind), quantity, e.Tuning.FarmUnitValue, now); err != nil {
			return settlement{}, err
		}
		totalUnits += quantity
		gained = append(gained, kind)
	}

	value := float64(totalUnits) * e.Tuning.FarmUnitValue * e.Tuning.FarmMultiplier
	if err := e.Repo.SettleTransactionTx(ctx, tx, txn.ID, domain.TxConfirmed, value, gained, ref); err != nil {
		return settlement{}, err
	}
	if err := e.appendSettled(ctx, tx, txn, domain.TxConfirmed, value); err != nil {
		return settlement{}, err
	}
	return settlement{confirmed: true, value: value}, tx.Commit()
}

func (e Executor) settleSell(ctx context.Context, action domain.Action, txn domain.Transaction, ref string) (settlement, error) {
	if e.Rand.Next() >= e.Tuning.SellSuccess {
		return settlement{reason: "sale failed"}, e.settleFailure(ctx, txn, 0, ref)
	}

	eligible, err := e.eligibleDisposals(ctx, action)
	if err != nil {
		return settlement{}, err
	}
	if len(eligible) == 0 {
		// Holdings moved between policy check and settlement.
		return settlement{reason: "no assets appreciated enough to sell"}, e.settleFailure(ctx, txn, 0, ref)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return settlement{}, err
	}
	defer tx.Rollback()

	var total float64
	var sold []string
	for _, item := range eligible {
		total += item.LastKnownValue * float64(item.Quantity)
		if err := e.Ledger.RemoveResource(ctx, tx, item.Domain, item.ResourceID, item.Quantity); err != nil {
			return settlement{}, err
		}
		sold = append(sold, item.ResourceID)
	}
	if _, err := e.Ledger.AdjustBalance(ctx, tx, total); err != nil {
		return settlement{}, err
	}
	if err := e.Repo.SettleTransactionTx(ctx, tx, txn.ID, domain.TxConfirmed, total, sold, ref); err != nil {
		return settlement{}, err
	}
	if err := e.appendSettled(ctx, tx, txn, domain.TxConfirmed, total); err != nil {
		return settlement{}, err
	}
	return settlement{confirmed: true, value: total}, tx.Commit()
}

func (e Executor) settleEnter(ctx context.Context, action domain.Action, txn domain.Transaction, ref string) (settlement, error) {
	fee := enterFee(action)
	draw := e.Rand.Next()
	prize := 0.0
	for _, tier := range e.Tuning.PrizeTiers {
		if draw < tier.P {
			prize = fee * tier.Multiplier
			break
		}
	}
	net := prize - fee

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return settlement{}, err
	}
	defer tx.Rollback()

	if _, err := e.Ledger.AdjustBalance(ctx, tx, net); err != nil {
		return settlement{}, err
	}
	// The entry itself settles either way; winning nothing is still a
	// confirmed entry with negative net value.
	if err := e.Repo.SettleTransactionTx(ctx, tx, txn.ID, domain.TxConfirmed, net, nil, ref); err != nil {
		return settlement{}, err
	}
	if err := e.appendSettled(ctx, tx, txn, domain.TxConfirmed, net); err != nil {
		return settlement{}, err
	}
	s := settlement{confirmed: prize > 0, value: net}
	if prize == 0 {
		s.reason = "no prize won"
	}
	return s, tx.Commit()
}

func (e Executor) settleDevelop(ctx context.Context, action domain.Action, txn domain.Transaction, ref string) (settlement, error) {
	investment := developInvestment(action)
	if e.Rand.Next() >= e.Tuning.DevelopSuccess {
		// Investment is spent even when the build fails.
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return settlement{}, err
		}
		defer tx.Rollback()
		if _, err := e.Ledger.AdjustBalance(ctx, tx, -investment); err != nil {
			return settlement{}, err
		}
		if err := e.Repo.SettleTransactionTx(ctx, tx, txn.ID, domain.TxFailed, -investment, nil, ref); err != nil {
			return settlement{}, err
		}
		if err := e.appendSettled(ctx, tx, txn, domain.TxFailed, -investment); err != nil {
			return settlement{}, err
		}
		return settlement{value: -investment, reason: "development failed"}, tx.Commit()
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return settlement{}, err
	}
	defer tx.Rollback()

	buildingKind := "resource_generator"
	if action.Params.Develop != nil && action.Params.Develop.BuildingKind != "" {
		buildingKind = action.Params.Develop.BuildingKind
	}
	buildingID := fmt.Sprintf("%s_%s", buildingKind, uuid.New().String()[:8])
	now := e.Now().UTC().Format(time.RFC3339)

	if _, err := e.Ledger.AdjustBalance(ctx, tx, -investment); err != nil {
		return settlement{}, err
	}
	if err := e.Ledger.AddResource(ctx, tx, action.Domain, buildingID, titleCase(buildingKind), 1, investment*e.Tuning.Appreciation, now); err != nil {
		return settlement{}, err
	}

	value := investment * (e.Tuning.Appreciation - 1)
	if err := e.Repo.SettleTransactionTx(ctx, tx, txn.ID, domain.TxConfirmed, value, []string{buildingID}, ref); err != nil {
		return settlement{}, err
	}
	if err := e.appendSettled(ctx, tx, txn, domain.TxConfirmed, value); err != nil {
		return settlement{}, err
	}
	return settlement{confirmed: true, value: value}, tx.Commit()
}

func (e Executor) settleFallback(ctx context.Context, action domain.Action, txn domain.Transaction, ref string) (settlement, error) {
	if e.Rand.Next() >= e.Tuning.FallbackSuccess {
		return settlement{reason: "action failed"}, e.settleFailure(ctx, txn, 0, ref)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return settlement{}, err
	}
	defer tx.Rollback()
	value := e.Tuning.FallbackValue
	if err := e.Repo.SettleTransactionTx(ctx, tx, txn.ID, domain.TxConfirmed, value, nil, ref); err != nil {
		return settlement{}, err
	}
	if err := e.appendSettled(ctx, tx, txn, domain.TxConfirmed, value); err != nil {
		return settlement{}, err
	}
	return settlement{confirmed: true, value: value}, tx.Commit()
}

func (e Executor) settleFailure(ctx context.Context, txn domain.Transaction, value float64, ref string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.SettleTransactionTx(ctx, tx, txn.ID, domain.TxFailed, value, nil, ref); err != nil {
		return err
	}
	if err := e.appendSettled(ctx, tx, txn, domain.TxFailed, value); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Executor) appendSettled(ctx context.Context, tx *sql.Tx, txn domain.Transaction, status string, value float64) error {
	return e.Events.Append(ctx, tx, "action.settled", txn.Domain, "transaction", txn.ID, events.EventPayload{
		"action_type": txn.ActionType,
		"status":      status,
		"value":       value,
	})
}

// eligibleDisposals lists held assets whose value rose over acquisition
// price by at least the action's threshold percentage.
func (e Executor) eligibleDisposals(ctx context.Context, action domain.Action) ([]domain.InventoryItem, error) {
	threshold := 10.0
	if action.Params.Sell != nil && action.Params.Sell.MinPriceIncrease > 0 {
		threshold = action.Params.Sell.MinPriceIncrease
	}
	items, err := e.Repo.ListInventory(ctx, action.Domain)
	if err != nil {
		return nil, err
	}
	var eligible []domain.InventoryItem
	for _, item := range items {
		if item.AcquisitionPrice <= 0 {
			continue
		}
		increase := (item.LastKnownValue - item.AcquisitionPrice) / item.AcquisitionPrice * 100
		if increase >= threshold {
			eligible = append(eligible, item)
		}
	}
	return eligible, nil
}

func enterFee(action domain.Action) float64 {
	if action.Params.Enter != nil && action.Params.Enter.MaxFee > 0 {
		return action.Params.Enter.MaxFee
	}
	return 0.1
}

func developInvestment(action domain.Action) float64 {
	if action.Params.Develop != nil && action.Params.Develop.MaxInvestment > 0 {
		return action.Params.Develop.MaxInvestment
	}
	return 0.5
}

func titleCase(id string) string {
	words := strings.Split(id, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
