package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"castd/internal/domain"
)

// --- wallet / inventory reads (mutations live in the ledger package) ---

func (r Repo) GetBalance(ctx context.Context) (float64, error) {
	var balance float64
	err := r.DB.QueryRowContext(ctx, `SELECT balance FROM wallet WHERE id=1`).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return balance, err
}

func (r Repo) ListInventory(ctx context.Context, domainID string) ([]domain.InventoryItem, error) {
	query := `SELECT domain,resource_id,name,quantity,last_known_value,acquisition_date,acquisition_price FROM inventory`
	var args []any
	if domainID != "" {
		query += ` WHERE domain=?`
		args = append(args, domainID)
	}
	query += ` ORDER BY domain, resource_id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.InventoryItem
	for rows.Next() {
		var it domain.InventoryItem
		if err := rows.Scan(&it.Domain, &it.ResourceID, &it.Name, &it.Quantity, &it.LastKnownValue, &it.AcquisitionDate, &it.AcquisitionPrice); err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

func (r Repo) GetInventoryItem(ctx context.Context, domainID, resourceID string) (domain.InventoryItem, error) {
	var it domain.InventoryItem
	err := r.DB.QueryRowContext(ctx, `SELECT domain,resource_id,name,quantity,last_known_value,acquisition_date,acquisition_price FROM inventory WHERE domain=? AND resource_id=?`,
		domainID, resourceID).
		Scan(&it.Domain, &it.ResourceID, &it.Name, &it.Quantity, &it.LastKnownValue, &it.AcquisitionDate, &it.AcquisitionPrice)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	return it, err
}

// PortfolioValue is the cash balance plus the summed quantity-weighted
// value of all inventory.
func (r Repo) PortfolioValue(ctx context.Context) (float64, error) {
	balance, err := r.GetBalance(ctx)
	if err != nil {
		return 0, err
	}
	var assets float64
	err = r.DB.QueryRowContext(ctx, `SELECT COALESCE(SUM(quantity*last_known_value),0) FROM inventory`).Scan(&assets)
	return balance + assets, err
}

func (r Repo) AssetValueByDomain(ctx context.Context, domainID string) (float64, error) {
	var v float64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(SUM(quantity*last_known_value),0) FROM inventory WHERE domain=?`, domainID).Scan(&v)
	return v, err
}

// --- transactions ---

func (r Repo) InsertTransactionTx(ctx context.Context, tx *sql.Tx, t domain.Transaction) error {
	var resources any
	if len(t.ResourceIDs) > 0 {
		data, err := json.Marshal(t.ResourceIDs)
		if err != nil {
			return fmt.Errorf("marshal resource ids: %w", err)
		}
		resources = string(data)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO transactions(id,domain,action_type,description,resource_ids_json,value,ts,status,reference,strategy_id) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Domain, t.ActionType, nullable(t.Description), resources, t.Value, t.TS, t.Status, nullable(t.Reference), nullable(t.StrategyID))
	return err
}

// SettleTransactionTx moves a pending transaction to its final status and
// records the realized value.
func (r Repo) SettleTransactionTx(ctx context.Context, tx *sql.Tx, id, status string, value float64, resourceIDs []string, reference string) error {
	var resources any
	if len(resourceIDs) > 0 {
		data, err := json.Marshal(resourceIDs)
		if err != nil {
			return fmt.Errorf("marshal resource ids: %w", err)
		}
		resources = string(data)
	}
	res, err := tx.ExecContext(ctx, `UPDATE transactions SET status=?, value=?, resource_ids_json=COALESCE(?,resource_ids_json), reference=COALESCE(?,reference) WHERE id=?`,
		status, value, resources, nullable(reference), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	row := r.DB.QueryRowContext(ctx, selectTransaction+` WHERE id=?`, id)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) ListRecentTransactions(ctx context.Context, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 20
	}
	return r.listTransactions(ctx, selectTransaction+` ORDER BY ts DESC, id DESC LIMIT ?`, limit)
}

// ListTransactionsAfter returns transactions strictly newer than ts, oldest
// first. Drives the "since last snapshot" window.
func (r Repo) ListTransactionsAfter(ctx context.Context, ts string) ([]domain.Transaction, error) {
	return r.listTransactions(ctx, selectTransaction+` WHERE ts>? ORDER BY ts, id`, ts)
}

func (r Repo) ListTransactionsByDomain(ctx context.Context, domainID string) ([]domain.Transaction, error) {
	return r.listTransactions(ctx, selectTransaction+` WHERE domain=? ORDER BY ts, id`, domainID)
}

// DomainInvestment sums what was spent in a domain: the absolute value of
// confirmed negative-value transactions.
func (r Repo) DomainInvestment(ctx context.Context, domainID string) (float64, error) {
	var v float64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(SUM(-value),0) FROM transactions WHERE domain=? AND status='confirmed' AND value<0`, domainID).Scan(&v)
	return v, err
}

const selectTransaction = `SELECT id,domain,action_type,description,resource_ids_json,value,ts,status,reference,strategy_id FROM transactions`

func scanTransaction(row rowScanner) (domain.Transaction, error) {
	var t domain.Transaction
	var desc, resources, ref, stratID sql.NullString
	err := row.Scan(&t.ID, &t.Domain, &t.ActionType, &desc, &resources, &t.Value, &t.TS, &t.Status, &ref, &stratID)
	if err != nil {
		return t, err
	}
	if desc.Valid {
		t.Description = desc.String
	}
	if resources.Valid && resources.String != "" {
		if err := json.Unmarshal([]byte(resources.String), &t.ResourceIDs); err != nil {
			return t, fmt.Errorf("transaction %s resource ids: %w", t.ID, err)
		}
	}
	if ref.Valid {
		t.Reference = ref.String
	}
	if stratID.Valid {
		t.StrategyID = stratID.String
	}
	return t, nil
}

func (r Repo) listTransactions(ctx context.Context, query string, args ...any) ([]domain.Transaction, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
