package tracker_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"castd/internal/db"
	"castd/internal/domain"
	"castd/internal/events"
	"castd/internal/ledger"
	"castd/internal/migrate"
	"castd/internal/repo"
	"castd/internal/tracker"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	Conn *sql.DB
	Repo repo.Repo
	Led  ledger.Ledger
	Trk  tracker.Tracker
	Ctx  context.Context
	now  time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	env := &testEnv{Conn: conn, Repo: repo.Repo{DB: conn}, Ctx: context.Background(), now: testStart}
	clock := func() time.Time { return env.now }
	env.Trk = tracker.Tracker{
		DB:     conn,
		Repo:   env.Repo,
		Events: events.Writer{DB: conn, Now: clock},
		Now:    clock,
	}
	return env
}

func (env *testEnv) advance(d time.Duration) { env.now = env.now.Add(d) }

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

func (env *testEnv) fund(t *testing.T, amount float64) {
	t.Helper()
	env.inTx(t, func(tx *sql.Tx) error {
		return env.Led.InitWallet(env.Ctx, tx, amount)
	})
}

func (env *testEnv) settledTx(t *testing.T, id, domainID, actionType string, value float64) {
	t.Helper()
	env.inTx(t, func(tx *sql.Tx) error {
		txn := domain.Transaction{
			ID: id, Domain: domainID, ActionType: actionType,
			TS: env.now.Format(time.RFC3339), Status: domain.TxPending,
		}
		if err := env.Repo.InsertTransactionTx(env.Ctx, tx, txn); err != nil {
			return err
		}
		return env.Repo.SettleTransactionTx(env.Ctx, tx, id, domain.TxConfirmed, value, nil, "ref")
	})
}

func TestFirstRecordFixesStartingValue(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, 1.0)

	snap, err := env.Trk.Record(env.Ctx)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if snap.TotalValue != 1.0 || snap.CashBalance != 1.0 || snap.AssetValue != 0 {
		t.Fatalf("snapshot = %+v, want total/cash 1.0", snap)
	}

	// the portfolio grows; starting value must not move
	env.inTx(t, func(tx *sql.Tx) error {
		return env.Led.AddResource(env.Ctx, tx, "aptos_knights", "wood", "Wood", 10, 0.05, env.now.Format(time.RFC3339))
	})
	env.advance(time.Hour)
	if _, err := env.Trk.Record(env.Ctx); err != nil {
		t.Fatal(err)
	}

	overall, err := env.Trk.Overall(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if overall.StartingValue != 1.0 {
		t.Fatalf("starting value = %v, want 1.0", overall.StartingValue)
	}
	if overall.CurrentValue != 1.5 {
		t.Fatalf("current value = %v, want 1.5", overall.CurrentValue)
	}
	if overall.ROI != 50 {
		t.Fatalf("roi = %v, want 50", overall.ROI)
	}
}

func TestOverallBeforeFirstRecord(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, 2.0)

	overall, err := env.Trk.Overall(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if overall.StartingValue != 0 || overall.ROI != 0 {
		t.Fatalf("overall = %+v, want zeros before first record", overall)
	}
	if overall.CurrentValue != 2.0 {
		t.Fatalf("current value = %v, want 2.0", overall.CurrentValue)
	}
}

func TestRecordCollectsTransactionsSinceLast(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, 1.0)

	env.settledTx(t, "tx-before", "aptos_knights", "farm_resources", 0.1)
	if _, err := env.Trk.Record(env.Ctx); err != nil {
		t.Fatal(err)
	}

	env.advance(time.Hour)
	env.settledTx(t, "tx-after", "aptos_knights", "sell_assets", 0.3)
	env.advance(time.Hour)

	snap, err := env.Trk.Record(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Actions) != 1 {
		t.Fatalf("actions = %+v, want only the transaction settled since last record", snap.Actions)
	}
	if snap.Actions[0].ActionType != "sell_assets" || snap.Actions[0].Value != 0.3 {
		t.Fatalf("action = %+v", snap.Actions[0])
	}
}

func TestDomainPerformanceInvestmentMath(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, 1.0)
	if err := env.Repo.UpsertDomain(env.Ctx, domain.TrackedDomain{ID: "aptos_lands", Name: "Aptos Lands"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Trk.Record(env.Ctx); err != nil {
		t.Fatal(err)
	}

	// a confirmed spend of 0.5 producing an asset worth 0.6
	env.advance(time.Hour)
	env.settledTx(t, "tx-dev", "aptos_lands", "develop_land", -0.5)
	env.inTx(t, func(tx *sql.Tx) error {
		return env.Led.AddResource(env.Ctx, tx, "aptos_lands", "generator_1", "Generator", 1, 0.6, env.now.Format(time.RFC3339))
	})
	env.advance(time.Hour)
	if _, err := env.Trk.Record(env.Ctx); err != nil {
		t.Fatal(err)
	}

	perfs, err := env.Repo.ListDomainPerf(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(perfs) != 1 {
		t.Fatalf("domain perf rows = %d, want 1", len(perfs))
	}
	p := perfs[0]
	if p.Name != "Aptos Lands" {
		t.Fatalf("name = %q", p.Name)
	}
	if p.TotalInvestment != 0.5 || p.CurrentValue != 0.6 {
		t.Fatalf("investment/value = %v/%v, want 0.5/0.6", p.TotalInvestment, p.CurrentValue)
	}
	// (0.6 - 0.5) / 0.5 * 100
	if p.ROI < 19.999 || p.ROI > 20.001 {
		t.Fatalf("roi = %v, want 20", p.ROI)
	}
}

func TestTrendOldestFirst(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, 1.0)

	for i := 0; i < 3; i++ {
		if _, err := env.Trk.Record(env.Ctx); err != nil {
			t.Fatal(err)
		}
		env.inTx(t, func(tx *sql.Tx) error {
			_, err := env.Led.AdjustBalance(env.Ctx, tx, 0.5)
			return err
		})
		env.advance(24 * time.Hour)
	}

	points, err := env.Trk.Trend(env.Ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(points) != 3 {
		t.Fatalf("points = %d, want 3", len(points))
	}
	for i := 1; i < len(points); i++ {
		if points[i].TS < points[i-1].TS {
			t.Fatalf("trend not oldest-first: %v", points)
		}
	}
	if points[0].TotalValue != 1.0 || points[2].TotalValue != 2.0 {
		t.Fatalf("values = %v, want rising 1.0..2.0", points)
	}
}

func TestReportSections(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, 1.0)
	if err := env.Repo.UpsertDomain(env.Ctx, domain.TrackedDomain{ID: "aptos_knights", Name: "Aptos Knights"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Trk.Record(env.Ctx); err != nil {
		t.Fatal(err)
	}
	env.advance(time.Hour)
	env.settledTx(t, "tx-1", "aptos_knights", "farm_resources", 0.2)
	env.advance(time.Hour)
	if _, err := env.Trk.Record(env.Ctx); err != nil {
		t.Fatal(err)
	}

	report, err := env.Trk.Report(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"# CAST Performance Report",
		"## Overall Performance",
		"- Starting Value: 1.0000 APT",
		"## Domain Performances",
		"### Aptos Knights",
		"## Recent Activity",
		"#### Actions",
		"- farm_resources: 0.2000 APT (confirmed)",
	} {
		if !strings.Contains(report, want) {
			t.Fatalf("report missing %q:\n%s", want, report)
		}
	}
}

func TestSaveReportWritesFile(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, 1.0)
	if _, err := env.Trk.Record(env.Ctx); err != nil {
		t.Fatal(err)
	}

	dir := filepath.Join(t.TempDir(), "reports")
	path, err := env.Trk.SaveReport(env.Ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "performance-report.md" {
		t.Fatalf("path = %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "# CAST Performance Report") {
		t.Fatalf("report file content:\n%s", data)
	}
}
