package executor_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"castd/internal/config"
	"castd/internal/db"
	"castd/internal/domain"
	"castd/internal/events"
	"castd/internal/executor"
	"castd/internal/ledger"
	"castd/internal/migrate"
	"castd/internal/repo"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// scriptRand replays a fixed sequence of draws.
type scriptRand struct {
	seq []float64
	i   int
}

func (r *scriptRand) Next() float64 {
	if r.i >= len(r.seq) {
		return 0.5
	}
	v := r.seq[r.i]
	r.i++
	return v
}

type stubBoundary struct {
	ref string
	err error
}

func (b stubBoundary) Submit(context.Context, domain.Action, string) (string, error) {
	return b.ref, b.err
}

type testEnv struct {
	Conn *sql.DB
	Repo repo.Repo
	Led  ledger.Ledger
	Exec executor.Executor
	Ctx  context.Context
}

func newTestEnv(t *testing.T, draws []float64) *testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	env := &testEnv{Conn: conn, Repo: r, Led: ledger.Ledger{}, Ctx: context.Background()}
	env.Exec = executor.Executor{
		DB:       conn,
		Repo:     r,
		Ledger:   env.Led,
		Events:   events.Writer{DB: conn, Now: func() time.Time { return testNow }},
		Boundary: stubBoundary{ref: "sim:test:deadbeef"},
		Rand:     &scriptRand{seq: draws},
		Tuning:   (&config.Config{}).Tuning(),
		Now:      func() time.Time { return testNow },
	}
	return env
}

func (env *testEnv) fundWallet(t *testing.T, amount float64) {
	t.Helper()
	env.inTx(t, func(tx *sql.Tx) error {
		return env.Led.InitWallet(env.Ctx, tx, amount)
	})
}

func (env *testEnv) inTx(t *testing.T, fn func(tx *sql.Tx) error) {
	t.Helper()
	tx, err := env.Conn.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func (env *testEnv) balance(t *testing.T) float64 {
	t.Helper()
	balance, err := env.Repo.GetBalance(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	return balance
}

func (env *testEnv) txCount(t *testing.T) int {
	t.Helper()
	var n int
	if err := env.Conn.QueryRow(`SELECT COUNT(*) FROM transactions`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n
}

func oneActionStrategy(action domain.Action, required ...string) domain.Strategy {
	return domain.Strategy{
		ID:                "strat-1",
		Name:              "Test Strategy",
		Domain:            action.Domain,
		Actions:           []domain.Action{action},
		RequiredResources: required,
		Status:            "active",
	}
}

func seedStrategy(t *testing.T, env *testEnv, s domain.Strategy) {
	t.Helper()
	s.CreatedAt = testNow.Format(time.RFC3339)
	s.UpdatedAt = s.CreatedAt
	env.inTx(t, func(tx *sql.Tx) error {
		return env.Repo.InsertStrategyTx(env.Ctx, tx, s)
	})
}

func TestDevelopSuccess(t *testing.T) {
	env := newTestEnv(t, []float64{0.5}) // below the 0.85 success bar
	env.fundWallet(t, 5.0)
	s := oneActionStrategy(domain.Action{
		Type:   domain.ActionDevelop,
		Domain: "aptos_lands",
		Params: domain.ActionParams{Develop: &domain.DevelopParams{BuildingKind: "resource_generator", MaxInvestment: 0.5}},
	})
	seedStrategy(t, env, s)

	outcomes, err := env.Exec.ExecuteStrategy(env.Ctx, s)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Status != domain.OutcomeConfirmed {
		t.Fatalf("outcome = %+v, want confirmed", outcomes)
	}
	if got := env.balance(t); got != 4.5 {
		t.Fatalf("balance = %v, want 4.5 after 0.5 investment", got)
	}

	items, err := env.Repo.ListInventory(env.Ctx, "aptos_lands")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("inventory = %v, want one building", items)
	}
	if items[0].LastKnownValue != 0.5*1.2 {
		t.Fatalf("building value = %v, want 0.6", items[0].LastKnownValue)
	}

	txn, err := env.Repo.GetTransaction(env.Ctx, outcomes[0].TransactionID)
	if err != nil {
		t.Fatal(err)
	}
	if txn.Status != domain.TxConfirmed {
		t.Fatalf("tx status = %q, want confirmed", txn.Status)
	}
	// appreciation minus spent investment
	if diff := txn.Value - 0.1; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("tx value = %v, want 0.1", txn.Value)
	}
}

func TestDevelopFailureSpendsInvestment(t *testing.T) {
	env := newTestEnv(t, []float64{0.95}) // above the 0.85 success bar
	env.fundWallet(t, 5.0)
	s := oneActionStrategy(domain.Action{
		Type:   domain.ActionDevelop,
		Domain: "aptos_lands",
		Params: domain.ActionParams{Develop: &domain.DevelopParams{MaxInvestment: 0.5}},
	})
	seedStrategy(t, env, s)

	outcomes, err := env.Exec.ExecuteStrategy(env.Ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if outcomes[0].Status != domain.OutcomeFailed {
		t.Fatalf("status = %q, want failed", outcomes[0].Status)
	}
	if got := env.balance(t); got != 4.5 {
		t.Fatalf("balance = %v, want 4.5: failed builds still spend", got)
	}
	txn, err := env.Repo.GetTransaction(env.Ctx, outcomes[0].TransactionID)
	if err != nil {
		t.Fatal(err)
	}
	if txn.Status != domain.TxFailed || txn.Value != -0.5 {
		t.Fatalf("tx = %q/%v, want failed/-0.5", txn.Status, txn.Value)
	}
}

func TestSellAppreciatedAsset(t *testing.T) {
	env := newTestEnv(t, []float64{0.1}) // below the 0.8 success bar
	env.fundWallet(t, 1.0)
	env.inTx(t, func(tx *sql.Tx) error {
		if err := env.Led.AddResource(env.Ctx, tx, "aptos_knights", "sword", "Sword", 1, 0.1, testNow.Format(time.RFC3339)); err != nil {
			return err
		}
		// value doubled since acquisition
		return env.Led.SetResourceValue(env.Ctx, tx, "aptos_knights", "sword", 0.2)
	})
	s := oneActionStrategy(domain.Action{
		Type:   domain.ActionSell,
		Domain: "aptos_knights",
		Params: domain.ActionParams{Sell: &domain.SellParams{MinPriceIncrease: 15}},
	})
	seedStrategy(t, env, s)

	outcomes, err := env.Exec.ExecuteStrategy(env.Ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if outcomes[0].Status != domain.OutcomeConfirmed {
		t.Fatalf("outcome = %+v, want confirmed", outcomes[0])
	}
	if outcomes[0].Value != 0.2 {
		t.Fatalf("sale value = %v, want 0.2", outcomes[0].Value)
	}
	if got := env.balance(t); got != 1.2 {
		t.Fatalf("balance = %v, want 1.2 after sale", got)
	}
	items, err := env.Repo.ListInventory(env.Ctx, "aptos_knights")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 0 {
		t.Fatalf("inventory = %v, want sold item removed", items)
	}
}

func TestSkipMissingRequiredResource(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fundWallet(t, 5.0)
	s := oneActionStrategy(domain.Action{
		Type:   domain.ActionEnter,
		Domain: "crypto_racers",
		Params: domain.ActionParams{Enter: &domain.EnterParams{MaxFee: 0.1}},
	}, "race_car")
	seedStrategy(t, env, s)

	outcomes, err := env.Exec.ExecuteStrategy(env.Ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if outcomes[0].Status != domain.OutcomeSkipped {
		t.Fatalf("status = %q, want skipped", outcomes[0].Status)
	}
	if outcomes[0].TransactionID != "" {
		t.Fatalf("skip produced transaction %q", outcomes[0].TransactionID)
	}
	if n := env.txCount(t); n != 0 {
		t.Fatalf("transactions = %d, want 0: skips leave no ledger trace", n)
	}
	evts, err := env.Repo.LatestEvents(env.Ctx, 10, "action.skipped", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 1 {
		t.Fatalf("skip events = %d, want 1", len(evts))
	}
	if got := env.balance(t); got != 5.0 {
		t.Fatalf("balance = %v, want untouched 5.0", got)
	}
}

func TestSkipInsufficientBalance(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fundWallet(t, 0.05)
	s := oneActionStrategy(domain.Action{
		Type:   domain.ActionEnter,
		Domain: "crypto_racers",
		Params: domain.ActionParams{Enter: &domain.EnterParams{MaxFee: 0.1}},
	})
	seedStrategy(t, env, s)

	outcomes, err := env.Exec.ExecuteStrategy(env.Ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if outcomes[0].Status != domain.OutcomeSkipped {
		t.Fatalf("status = %q, want skipped", outcomes[0].Status)
	}
	if n := env.txCount(t); n != 0 {
		t.Fatalf("transactions = %d, want 0", n)
	}
}

func TestFarmAddsInventory(t *testing.T) {
	// success draw, then one quantity draw per resource kind
	env := newTestEnv(t, []float64{0.5, 0.35, 0.75})
	env.fundWallet(t, 5.0)
	s := oneActionStrategy(domain.Action{
		Type:   domain.ActionFarm,
		Domain: "aptos_knights",
		Params: domain.ActionParams{Farm: &domain.FarmParams{ResourceKinds: []string{"wood", "stone"}}},
	})
	seedStrategy(t, env, s)

	outcomes, err := env.Exec.ExecuteStrategy(env.Ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if outcomes[0].Status != domain.OutcomeConfirmed {
		t.Fatalf("outcome = %+v", outcomes[0])
	}

	wood, err := env.Repo.GetInventoryItem(env.Ctx, "aptos_knights", "wood")
	if err != nil {
		t.Fatal(err)
	}
	stone, err := env.Repo.GetInventoryItem(env.Ctx, "aptos_knights", "stone")
	if err != nil {
		t.Fatal(err)
	}
	if wood.Quantity != 4 || stone.Quantity != 8 {
		t.Fatalf("quantities = %d/%d, want 4/8 from scripted draws", wood.Quantity, stone.Quantity)
	}
	// 12 units at 0.01 with the 5x yield multiplier
	want := 12 * 0.01 * 5.0
	if diff := outcomes[0].Value - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("value = %v, want %v", outcomes[0].Value, want)
	}
}

func TestEnterWinsPrize(t *testing.T) {
	env := newTestEnv(t, []float64{0.05}) // top prize tier: 5x the fee
	env.fundWallet(t, 1.0)
	s := oneActionStrategy(domain.Action{
		Type:   domain.ActionEnter,
		Domain: "crypto_racers",
		Params: domain.ActionParams{Enter: &domain.EnterParams{MaxFee: 0.1}},
	})
	seedStrategy(t, env, s)

	outcomes, err := env.Exec.ExecuteStrategy(env.Ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if outcomes[0].Status != domain.OutcomeConfirmed {
		t.Fatalf("outcome = %+v", outcomes[0])
	}
	// prize 0.5 minus fee 0.1
	if diff := outcomes[0].Value - 0.4; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("net = %v, want 0.4", outcomes[0].Value)
	}
	if got := env.balance(t); got < 1.4-1e-9 || got > 1.4+1e-9 {
		t.Fatalf("balance = %v, want 1.4", got)
	}
}

func TestEnterNoPrizeStillSettles(t *testing.T) {
	env := newTestEnv(t, []float64{0.9}) // outside every prize tier
	env.fundWallet(t, 1.0)
	s := oneActionStrategy(domain.Action{
		Type:   domain.ActionEnter,
		Domain: "crypto_racers",
		Params: domain.ActionParams{Enter: &domain.EnterParams{MaxFee: 0.1}},
	})
	seedStrategy(t, env, s)

	outcomes, err := env.Exec.ExecuteStrategy(env.Ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if outcomes[0].Status != domain.OutcomeFailed || outcomes[0].Reason != "no prize won" {
		t.Fatalf("outcome = %+v", outcomes[0])
	}
	txn, err := env.Repo.GetTransaction(env.Ctx, outcomes[0].TransactionID)
	if err != nil {
		t.Fatal(err)
	}
	// the entry itself settled; only the prize failed to materialize
	if txn.Status != domain.TxConfirmed {
		t.Fatalf("tx status = %q, want confirmed", txn.Status)
	}
	if diff := txn.Value + 0.1; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("tx value = %v, want -0.1", txn.Value)
	}
}

func TestBoundaryFailureMarksTransactionFailed(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fundWallet(t, 5.0)
	env.Exec.Boundary = stubBoundary{err: errors.New("boundary unavailable")}
	s := oneActionStrategy(domain.Action{
		Type:   domain.ActionFarm,
		Domain: "aptos_knights",
		Params: domain.ActionParams{Farm: &domain.FarmParams{ResourceKinds: []string{"wood"}}},
	})
	seedStrategy(t, env, s)

	outcomes, err := env.Exec.ExecuteStrategy(env.Ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if outcomes[0].Status != domain.OutcomeFailed {
		t.Fatalf("status = %q, want failed", outcomes[0].Status)
	}
	txn, err := env.Repo.GetTransaction(env.Ctx, outcomes[0].TransactionID)
	if err != nil {
		t.Fatal(err)
	}
	if txn.Status != domain.TxFailed {
		t.Fatalf("tx status = %q, want failed", txn.Status)
	}
	if got := env.balance(t); got != 5.0 {
		t.Fatalf("balance = %v, want untouched 5.0", got)
	}
}

func TestPerformanceIsConfirmedShare(t *testing.T) {
	// farm succeeds (0.5 + one quantity draw), enter skipped for funds
	env := newTestEnv(t, []float64{0.5, 0.4})
	env.fundWallet(t, 0.05)
	s := domain.Strategy{
		ID:     "strat-mixed",
		Name:   "Mixed Strategy",
		Domain: "aptos_knights",
		Status: "active",
		Actions: []domain.Action{
			{Type: domain.ActionFarm, Domain: "aptos_knights", Params: domain.ActionParams{Farm: &domain.FarmParams{ResourceKinds: []string{"wood"}}}},
			{Type: domain.ActionEnter, Domain: "aptos_knights", Params: domain.ActionParams{Enter: &domain.EnterParams{MaxFee: 0.1}}},
		},
	}
	seedStrategy(t, env, s)

	outcomes, err := env.Exec.ExecuteStrategy(env.Ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(outcomes))
	}
	if outcomes[0].Status != domain.OutcomeConfirmed || outcomes[1].Status != domain.OutcomeSkipped {
		t.Fatalf("outcomes = %+v", outcomes)
	}

	stored, err := env.Repo.GetStrategy(env.Ctx, "strat-mixed")
	if err != nil {
		t.Fatal(err)
	}
	if stored.LastPerformance == nil || *stored.LastPerformance != 50 {
		t.Fatalf("performance = %v, want 50", stored.LastPerformance)
	}
	if stored.LastExecutedAt == nil {
		t.Fatal("last executed at not set")
	}
}
