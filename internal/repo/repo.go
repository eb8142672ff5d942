package repo

import (
	"context"
	"database/sql"
	"errors"

	"castd/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// --- domains ---

func (r Repo) UpsertDomain(ctx context.Context, d domain.TrackedDomain) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO domains(id,name,activity,last_updated) VALUES (?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name`,
		d.ID, d.Name, d.Activity, nullable(d.LastUpdated))
	return err
}

func (r Repo) UpdateDomainActivityTx(ctx context.Context, tx *sql.Tx, id string, activity float64, lastUpdated string) error {
	res, err := tx.ExecContext(ctx, `UPDATE domains SET activity=?, last_updated=? WHERE id=?`, activity, lastUpdated, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetDomain(ctx context.Context, id string) (domain.TrackedDomain, error) {
	var d domain.TrackedDomain
	var last sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,activity,last_updated FROM domains WHERE id=?`, id).
		Scan(&d.ID, &d.Name, &d.Activity, &last)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if last.Valid {
		d.LastUpdated = last.String
	}
	return d, err
}

func (r Repo) ListDomains(ctx context.Context) ([]domain.TrackedDomain, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,activity,last_updated FROM domains ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TrackedDomain
	for rows.Next() {
		var d domain.TrackedDomain
		var last sql.NullString
		if err := rows.Scan(&d.ID, &d.Name, &d.Activity, &last); err != nil {
			return nil, err
		}
		if last.Valid {
			d.LastUpdated = last.String
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// --- signals ---

// InsertSignalTx appends a signal. IDs are deterministic per source post,
// so re-collecting the same post is a no-op.
func (r Repo) InsertSignalTx(ctx context.Context, tx *sql.Tx, s domain.Signal) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO signals(id,domain,kind,description,ts,source,relevance) VALUES (?,?,?,?,?,?,?)`,
		s.ID, s.Domain, s.Kind, s.Description, s.TS, s.Source, s.Relevance)
	return err
}

func (r Repo) ListSignals(ctx context.Context, domainID, since string) ([]domain.Signal, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,domain,kind,description,ts,source,relevance FROM signals
WHERE domain=? AND ts>=? ORDER BY ts DESC`, domainID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Signal
	for rows.Next() {
		var s domain.Signal
		if err := rows.Scan(&s.ID, &s.Domain, &s.Kind, &s.Description, &s.TS, &s.Source, &s.Relevance); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// --- tracked resources ---

func (r Repo) UpsertResourceTx(ctx context.Context, tx *sql.Tx, res domain.TrackedResource) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO resources(domain,resource_id,name,type,last_price) VALUES (?,?,?,?,?)
ON CONFLICT(domain,resource_id) DO UPDATE SET name=excluded.name,
type=CASE WHEN excluded.type!='unknown' THEN excluded.type ELSE resources.type END`,
		res.Domain, res.ResourceID, res.Name, res.Type, nullFloat(res.LastPrice))
	return err
}

// SetResourcePriceTx records a price observation: appends to the price
// history and overwrites the last known price.
func (r Repo) SetResourcePriceTx(ctx context.Context, tx *sql.Tx, domainID, resourceID, ts string, price float64) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO price_points(domain,resource_id,ts,price) VALUES (?,?,?,?)`,
		domainID, resourceID, ts, price); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `UPDATE resources SET last_price=? WHERE domain=? AND resource_id=?`,
		price, domainID, resourceID)
	return err
}

func (r Repo) ListResources(ctx context.Context, domainID string) ([]domain.TrackedResource, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT domain,resource_id,name,type,last_price FROM resources WHERE domain=? ORDER BY resource_id`, domainID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TrackedResource
	for rows.Next() {
		var t domain.TrackedResource
		var price sql.NullFloat64
		if err := rows.Scan(&t.Domain, &t.ResourceID, &t.Name, &t.Type, &price); err != nil {
			return nil, err
		}
		if price.Valid {
			p := price.Float64
			t.LastPrice = &p
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) CountResources(ctx context.Context, domainID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM resources WHERE domain=?`, domainID).Scan(&n)
	return n, err
}

func (r Repo) ResourceOfTypeExists(ctx context.Context, domainID, typ string) (bool, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT 1 FROM resources WHERE domain=? AND type=? LIMIT 1`, domainID, typ)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	return rows.Next(), rows.Err()
}

// LastTwoPrices returns the two most recent price points for a resource,
// newest first. Fewer than two observations yield a shorter slice.
func (r Repo) LastTwoPrices(ctx context.Context, domainID, resourceID string) ([]float64, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT price FROM price_points WHERE domain=? AND resource_id=?
ORDER BY ts DESC, rowid DESC LIMIT 2`, domainID, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var prices []float64
	for rows.Next() {
		var p float64
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		prices = append(prices, p)
	}
	return prices, rows.Err()
}

func (r Repo) PriceHistory(ctx context.Context, domainID, resourceID string, limit int) ([]domain.PricePoint, error) {
	query := `SELECT ts,price FROM price_points WHERE domain=? AND resource_id=? ORDER BY ts DESC, rowid DESC`
	args := []any{domainID, resourceID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PricePoint
	for rows.Next() {
		var p domain.PricePoint
		if err := rows.Scan(&p.TS, &p.Price); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// --- events ---

func (r Repo) LatestEvents(ctx context.Context, n int, evtType, entityKind string) ([]domain.Event, error) {
	query := `SELECT id,ts,type,COALESCE(domain,''),entity_kind,COALESCE(entity_id,''),payload_json FROM events`
	var clauses []string
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	for i, c := range clauses {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, n)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.Domain, &e.EntityKind, &e.EntityID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
