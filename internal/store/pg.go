// Package store provides the durable backends for orders and balance
// ledgers: Postgres for production, SQLite for local mode and tests. Both
// implement order.Store with identical compare-and-set semantics.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/numlease/numlease/internal/order"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS balances (
	user_id  TEXT NOT NULL,
	currency TEXT NOT NULL,
	amount   BIGINT NOT NULL DEFAULT 0 CHECK (amount >= 0),
	PRIMARY KEY (user_id, currency)
);

CREATE TABLE IF NOT EXISTS orders (
	id                 TEXT PRIMARY KEY,
	user_id            TEXT NOT NULL,
	provider_id        TEXT NOT NULL,
	service_code       TEXT NOT NULL,
	country_code       TEXT NOT NULL,
	phone_number       TEXT NOT NULL,
	provider_ref       TEXT NOT NULL,
	status             TEXT NOT NULL,
	price_charged      BIGINT NOT NULL,
	currency_charged   TEXT NOT NULL,
	otp_code           TEXT,
	add_ons            TEXT NOT NULL DEFAULT '{}',
	created_at         TIMESTAMPTZ NOT NULL,
	cancel_eligible_at TIMESTAMPTZ NOT NULL,
	hard_expiry_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_user ON orders (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders (status);
`

// PG is the Postgres-backed store.
type PG struct {
	pool *pgxpool.Pool
}

// NewPG creates a Postgres store and bootstraps the schema.
func NewPG(ctx context.Context, pool *pgxpool.Pool) (*PG, error) {
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}
	return &PG{pool: pool}, nil
}

const pgOrderColumns = `id, user_id, provider_id, service_code, country_code,
	phone_number, provider_ref, status, price_charged, currency_charged,
	otp_code, add_ons, created_at, cancel_eligible_at, hard_expiry_at`

func scanPGOrder(row pgx.Row) (*order.Order, error) {
	var o order.Order
	var addOns []byte
	err := row.Scan(
		&o.ID, &o.UserID, &o.ProviderID, &o.ServiceCode, &o.CountryCode,
		&o.PhoneNumber, &o.ProviderRef, &o.Status, &o.PriceCharged,
		&o.CurrencyCharged, &o.OTPCode, &addOns, &o.CreatedAt,
		&o.CancelEligibleAt, &o.HardExpiryAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(addOns, &o.AddOns); err != nil {
		return nil, fmt.Errorf("decode add_ons: %w", err)
	}
	return &o, nil
}

func (s *PG) CreateOrder(ctx context.Context, o *order.Order) error {
	addOns, err := json.Marshal(o.AddOns)
	if err != nil {
		return fmt.Errorf("encode add_ons: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO orders (`+pgOrderColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		o.ID, o.UserID, o.ProviderID, o.ServiceCode, o.CountryCode,
		o.PhoneNumber, o.ProviderRef, o.Status, o.PriceCharged,
		o.CurrencyCharged, o.OTPCode, addOns, o.CreatedAt,
		o.CancelEligibleAt, o.HardExpiryAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (s *PG) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgOrderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanPGOrder(row)
	if err == pgx.ErrNoRows {
		return nil, order.ErrOrderNotFound
	}
	return o, err
}

func (s *PG) ListOrdersByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgOrderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPGOrders(rows)
}

func (s *PG) ListActive(ctx context.Context) ([]order.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgOrderColumns+` FROM orders WHERE status = $1 ORDER BY created_at`, order.StatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPGOrders(rows)
}

func (s *PG) ListExpiredActive(ctx context.Context, now time.Time) ([]order.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgOrderColumns+` FROM orders
		 WHERE status = $1 AND otp_code IS NULL AND hard_expiry_at <= $2
		 ORDER BY created_at`, order.StatusActive, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPGOrders(rows)
}

func collectPGOrders(rows pgx.Rows) ([]order.Order, error) {
	var result []order.Order
	for rows.Next() {
		o, err := scanPGOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *o)
	}
	return result, rows.Err()
}

func (s *PG) CompleteDelivery(ctx context.Context, id, code string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET status = $1, otp_code = $2
		 WHERE id = $3 AND status = $4 AND otp_code IS NULL`,
		order.StatusCompleted, code, id, order.StatusActive)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CancelAndRefund flips the order to cancelled and credits the charge back in
// a single transaction, so the transition never commits without its refund.
func (s *PG) CancelAndRefund(ctx context.Context, id string) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var userID, currency string
	var amount int64
	err = tx.QueryRow(ctx,
		`UPDATE orders SET status = $1
		 WHERE id = $2 AND status = $3 AND otp_code IS NULL
		 RETURNING user_id, currency_charged, price_charged`,
		order.StatusCancelled, id, order.StatusActive).Scan(&userID, &currency, &amount)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, err := tx.Exec(ctx, pgCreditSQL, userID, currency, amount); err != nil {
		return false, fmt.Errorf("refund: %w", err)
	}
	return true, tx.Commit(ctx)
}

// ExpireAndRefund is the expiry counterpart of CancelAndRefund, gated on the
// hard expiry deadline having passed.
func (s *PG) ExpireAndRefund(ctx context.Context, id string, now time.Time) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var userID, currency string
	var amount int64
	err = tx.QueryRow(ctx,
		`UPDATE orders SET status = $1
		 WHERE id = $2 AND status = $3 AND otp_code IS NULL AND hard_expiry_at <= $4
		 RETURNING user_id, currency_charged, price_charged`,
		order.StatusExpired, id, order.StatusActive, now).Scan(&userID, &currency, &amount)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, err := tx.Exec(ctx, pgCreditSQL, userID, currency, amount); err != nil {
		return false, fmt.Errorf("refund: %w", err)
	}
	return true, tx.Commit(ctx)
}

// Debit decrements a ledger in a single conditional update. The amount >=
// precondition is what keeps the balance from going negative under
// concurrent purchases.
func (s *PG) Debit(ctx context.Context, userID, currency string, amount int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE balances SET amount = amount - $1
		 WHERE user_id = $2 AND currency = $3 AND amount >= $1`,
		amount, userID, currency)
	if err != nil {
		return fmt.Errorf("debit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrInsufficientBalance
	}
	return nil
}

const pgCreditSQL = `INSERT INTO balances (user_id, currency, amount) VALUES ($1, $2, $3)
	 ON CONFLICT (user_id, currency) DO UPDATE SET amount = balances.amount + EXCLUDED.amount`

func (s *PG) Credit(ctx context.Context, userID, currency string, amount int64) error {
	_, err := s.pool.Exec(ctx, pgCreditSQL, userID, currency, amount)
	if err != nil {
		return fmt.Errorf("credit: %w", err)
	}
	return nil
}

func (s *PG) Balances(ctx context.Context, userID string) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT currency, amount FROM balances WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int64{"NGN": 0, "USD": 0}
	for rows.Next() {
		var currency string
		var amount int64
		if err := rows.Scan(&currency, &amount); err != nil {
			return nil, err
		}
		out[currency] = amount
	}
	return out, rows.Err()
}

var _ order.Store = (*PG)(nil)
