// Package ledger mutates the wallet and inventory inside caller-owned
// transactions, so a failed settlement rolls back cash and asset moves
// together with the transaction row.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var ErrInsufficientFunds = errors.New("insufficient funds")

type Ledger struct{}

// InitWallet creates the singleton wallet row if missing.
func (Ledger) InitWallet(ctx context.Context, tx *sql.Tx, startingBalance float64) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO wallet(id,balance) VALUES (1,?)`, startingBalance)
	return err
}

func (Ledger) Balance(ctx context.Context, tx *sql.Tx) (float64, error) {
	var balance float64
	err := tx.QueryRowContext(ctx, `SELECT balance FROM wallet WHERE id=1`).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, errors.New("wallet not initialized")
	}
	return balance, err
}

// AdjustBalance credits (positive delta) or debits (negative delta) the
// wallet. Debits below zero fail with ErrInsufficientFunds.
func (l Ledger) AdjustBalance(ctx context.Context, tx *sql.Tx, delta float64) (float64, error) {
	balance, err := l.Balance(ctx, tx)
	if err != nil {
		return 0, err
	}
	next := balance + delta
	if next < 0 {
		return balance, fmt.Errorf("%w: balance %.4f, requested %.4f", ErrInsufficientFunds, balance, -delta)
	}
	_, err = tx.ExecContext(ctx, `UPDATE wallet SET balance=? WHERE id=1`, next)
	return next, err
}

// SeedResource creates an inventory slot only if it does not exist yet, so
// bootstrap seeding is idempotent.
func (Ledger) SeedResource(ctx context.Context, tx *sql.Tx, domainID, resourceID, name string, quantity int, unitValue float64, acquiredAt string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO inventory(domain,resource_id,name,quantity,last_known_value,acquisition_date,acquisition_price) VALUES (?,?,?,?,?,?,?)`,
		domainID, resourceID, name, quantity, unitValue, acquiredAt, unitValue)
	return err
}

// AddResource adds quantity to an inventory slot, creating the row when the
// slot is new. unitValue updates the slot's last known value either way.
func (Ledger) AddResource(ctx context.Context, tx *sql.Tx, domainID, resourceID, name string, quantity int, unitValue float64, acquiredAt string) error {
	if quantity <= 0 {
		return fmt.Errorf("add resource %s: quantity must be positive", resourceID)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO inventory(domain,resource_id,name,quantity,last_known_value,acquisition_date,acquisition_price) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(domain,resource_id) DO UPDATE SET quantity=quantity+excluded.quantity, last_known_value=excluded.last_known_value, name=excluded.name`,
		domainID, resourceID, name, quantity, unitValue, acquiredAt, unitValue)
	return err
}

// RemoveResource removes quantity from a slot. Slots never go negative, and
// a slot drained to zero is deleted rather than kept as a zero row.
func (Ledger) RemoveResource(ctx context.Context, tx *sql.Tx, domainID, resourceID string, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("remove resource %s: quantity must be positive", resourceID)
	}
	var have int
	err := tx.QueryRowContext(ctx, `SELECT quantity FROM inventory WHERE domain=? AND resource_id=?`, domainID, resourceID).Scan(&have)
	if err == sql.ErrNoRows {
		return fmt.Errorf("remove resource %s: not held", resourceID)
	}
	if err != nil {
		return err
	}
	if have < quantity {
		return fmt.Errorf("remove resource %s: have %d, requested %d", resourceID, have, quantity)
	}
	if have == quantity {
		_, err = tx.ExecContext(ctx, `DELETE FROM inventory WHERE domain=? AND resource_id=?`, domainID, resourceID)
		return err
	}
	_, err = tx.ExecContext(ctx, `UPDATE inventory SET quantity=quantity-? WHERE domain=? AND resource_id=?`, quantity, domainID, resourceID)
	return err
}

// SetResourceValue revalues a held slot without touching quantity.
func (Ledger) SetResourceValue(ctx context.Context, tx *sql.Tx, domainID, resourceID string, unitValue float64) error {
	res, err := tx.ExecContext(ctx, `UPDATE inventory SET last_known_value=? WHERE domain=? AND resource_id=?`, unitValue, domainID, resourceID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("revalue resource %s: not held", resourceID)
	}
	return nil
}

// HasResource reports whether the slot holds at least one unit.
func (Ledger) HasResource(ctx context.Context, tx *sql.Tx, domainID, resourceID string) (bool, error) {
	var have int
	err := tx.QueryRowContext(ctx, `SELECT quantity FROM inventory WHERE domain=? AND resource_id=?`, domainID, resourceID).Scan(&have)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return have > 0, err
}

// PortfolioValue is cash plus quantity-weighted inventory value, read
// inside the transaction so settlements see their own writes.
func (l Ledger) PortfolioValue(ctx context.Context, tx *sql.Tx) (float64, error) {
	balance, err := l.Balance(ctx, tx)
	if err != nil {
		return 0, err
	}
	var assets float64
	err = tx.QueryRowContext(ctx, `SELECT COALESCE(SUM(quantity*last_known_value),0) FROM inventory`).Scan(&assets)
	return balance + assets, err
}
