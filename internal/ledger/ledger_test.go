package ledger_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"castd/internal/db"
	"castd/internal/ledger"
	"castd/internal/migrate"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func inTx(t *testing.T, conn *sql.DB, fn func(tx *sql.Tx) error) {
	t.Helper()
	tx, err := conn.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		t.Fatalf("tx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestWalletInitAndAdjust(t *testing.T) {
	conn := newTestDB(t)
	ctx := context.Background()
	led := ledger.Ledger{}

	inTx(t, conn, func(tx *sql.Tx) error {
		if err := led.InitWallet(ctx, tx, 5.0); err != nil {
			return err
		}
		// second init must not reset the balance
		if _, err := led.AdjustBalance(ctx, tx, -1.5); err != nil {
			return err
		}
		return led.InitWallet(ctx, tx, 5.0)
	})

	inTx(t, conn, func(tx *sql.Tx) error {
		balance, err := led.Balance(ctx, tx)
		if err != nil {
			return err
		}
		if balance != 3.5 {
			t.Fatalf("balance = %v, want 3.5", balance)
		}
		return nil
	})
}

func TestAdjustBalanceInsufficientFunds(t *testing.T) {
	conn := newTestDB(t)
	ctx := context.Background()
	led := ledger.Ledger{}

	tx, err := conn.Begin()
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if err := led.InitWallet(ctx, tx, 1.0); err != nil {
		t.Fatal(err)
	}
	if _, err := led.AdjustBalance(ctx, tx, -2.0); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	// balance untouched after rejected debit
	balance, err := led.Balance(ctx, tx)
	if err != nil {
		t.Fatal(err)
	}
	if balance != 1.0 {
		t.Fatalf("balance = %v, want 1.0", balance)
	}
}

func TestInventoryDrainDeletesRow(t *testing.T) {
	conn := newTestDB(t)
	ctx := context.Background()
	led := ledger.Ledger{}

	inTx(t, conn, func(tx *sql.Tx) error {
		if err := led.AddResource(ctx, tx, "d1", "wood", "Wood", 3, 0.01, "2026-01-01T00:00:00Z"); err != nil {
			return err
		}
		if err := led.RemoveResource(ctx, tx, "d1", "wood", 3); err != nil {
			return err
		}
		return nil
	})

	var n int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM inventory WHERE resource_id='wood'`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("drained slot left %d rows, want 0", n)
	}
}

func TestRemoveMoreThanHeld(t *testing.T) {
	conn := newTestDB(t)
	ctx := context.Background()
	led := ledger.Ledger{}

	tx, err := conn.Begin()
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if err := led.AddResource(ctx, tx, "d1", "stone", "Stone", 2, 0.01, "2026-01-01T00:00:00Z"); err != nil {
		t.Fatal(err)
	}
	if err := led.RemoveResource(ctx, tx, "d1", "stone", 5); err == nil {
		t.Fatal("expected error removing more than held")
	}
	if err := led.RemoveResource(ctx, tx, "d1", "missing", 1); err == nil {
		t.Fatal("expected error removing unheld resource")
	}
}

func TestSeedResourceIdempotent(t *testing.T) {
	conn := newTestDB(t)
	ctx := context.Background()
	led := ledger.Ledger{}

	inTx(t, conn, func(tx *sql.Tx) error {
		for i := 0; i < 2; i++ {
			if err := led.SeedResource(ctx, tx, "d1", "race_car", "Race Car", 1, 0.2, "2026-01-01T00:00:00Z"); err != nil {
				return err
			}
		}
		return nil
	})

	var qty int
	if err := conn.QueryRow(`SELECT quantity FROM inventory WHERE resource_id='race_car'`).Scan(&qty); err != nil {
		t.Fatal(err)
	}
	if qty != 1 {
		t.Fatalf("seeded quantity = %d, want 1", qty)
	}
}

func TestPortfolioValueIdentity(t *testing.T) {
	conn := newTestDB(t)
	ctx := context.Background()
	led := ledger.Ledger{}

	tx, err := conn.Begin()
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if err := led.InitWallet(ctx, tx, 5.0); err != nil {
		t.Fatal(err)
	}
	if err := led.AddResource(ctx, tx, "d1", "land_plot", "Land Plot", 2, 0.5, "2026-01-01T00:00:00Z"); err != nil {
		t.Fatal(err)
	}
	value, err := led.PortfolioValue(ctx, tx)
	if err != nil {
		t.Fatal(err)
	}
	if value != 6.0 {
		t.Fatalf("portfolio value = %v, want 6.0", value)
	}
}
