package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/numlease/numlease/internal/order"
)

// Timestamps are stored as unix seconds so range comparisons stay purely
// numeric across drivers.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS balances (
	user_id  TEXT NOT NULL,
	currency TEXT NOT NULL,
	amount   INTEGER NOT NULL DEFAULT 0 CHECK (amount >= 0),
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
	price_charged      INTEGER NOT NULL,
	currency_charged   TEXT NOT NULL,
	otp_code           TEXT,
	add_ons            TEXT NOT NULL DEFAULT '{}',
	created_at         INTEGER NOT NULL,
	cancel_eligible_at INTEGER NOT NULL,
	hard_expiry_at     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_user ON orders (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders (status);
`

// SQLite is the file-backed store used in local mode and in unit tests
// (":memory:").
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) a SQLite store at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// The modernc driver serializes writes; a single connection avoids
	// SQLITE_BUSY on concurrent transitions.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error { return s.db.Close() }

const sqliteOrderColumns = `id, user_id, provider_id, service_code, country_code,
	phone_number, provider_ref, status, price_charged, currency_charged,
	otp_code, add_ons, created_at, cancel_eligible_at, hard_expiry_at`

type sqliteRow interface {
	Scan(dest ...any) error
}

func scanSQLiteOrder(row sqliteRow) (*order.Order, error) {
	var o order.Order
	var addOns []byte
	var created, cancelAt, expiryAt int64
	err := row.Scan(
		&o.ID, &o.UserID, &o.ProviderID, &o.ServiceCode, &o.CountryCode,
		&o.PhoneNumber, &o.ProviderRef, &o.Status, &o.PriceCharged,
		&o.CurrencyCharged, &o.OTPCode, &addOns, &created, &cancelAt, &expiryAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(addOns, &o.AddOns); err != nil {
		return nil, fmt.Errorf("decode add_ons: %w", err)
	}
	o.CreatedAt = time.Unix(created, 0).UTC()
	o.CancelEligibleAt = time.Unix(cancelAt, 0).UTC()
	o.HardExpiryAt = time.Unix(expiryAt, 0).UTC()
	return &o, nil
}

func (s *SQLite) CreateOrder(ctx context.Context, o *order.Order) error {
	addOns, err := json.Marshal(o.AddOns)
	if err != nil {
		return fmt.Errorf("encode add_ons: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO orders (`+sqliteOrderColumns+`)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.UserID, o.ProviderID, o.ServiceCode, o.CountryCode,
		o.PhoneNumber, o.ProviderRef, o.Status, o.PriceCharged,
		o.CurrencyCharged, o.OTPCode, addOns, o.CreatedAt.Unix(),
		o.CancelEligibleAt.Unix(), o.HardExpiryAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (s *SQLite) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteOrderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanSQLiteOrder(row)
	if err == sql.ErrNoRows {
		return nil, order.ErrOrderNotFound
	}
	return o, err
}

func (s *SQLite) ListOrdersByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteOrderColumns+` FROM orders WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSQLiteOrders(rows)
}

func (s *SQLite) ListActive(ctx context.Context) ([]order.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteOrderColumns+` FROM orders WHERE status = ? ORDER BY created_at`, order.StatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSQLiteOrders(rows)
}

func (s *SQLite) ListExpiredActive(ctx context.Context, now time.Time) ([]order.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteOrderColumns+` FROM orders
		 WHERE status = ? AND otp_code IS NULL AND hard_expiry_at <= ?
		 ORDER BY created_at`, order.StatusActive, now.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSQLiteOrders(rows)
}

func collectSQLiteOrders(rows *sql.Rows) ([]order.Order, error) {
	var result []order.Order
	for rows.Next() {
		o, err := scanSQLiteOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *o)
	}
	return result, rows.Err()
}

func (s *SQLite) CompleteDelivery(ctx context.Context, id, code string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = ?, otp_code = ?
		 WHERE id = ? AND status = ? AND otp_code IS NULL`,
		order.StatusCompleted, code, id, order.StatusActive)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// CancelAndRefund flips the order to cancelled and credits the charge back in
// a single transaction, so the transition never commits without its refund.
func (s *SQLite) CancelAndRefund(ctx context.Context, id string) (bool, error) {
	return s.terminateAndRefund(ctx,
		`UPDATE orders SET status = ?
		 WHERE id = ? AND status = ? AND otp_code IS NULL
		 RETURNING user_id, currency_charged, price_charged`,
		order.StatusCancelled, id, order.StatusActive)
}

// ExpireAndRefund is the expiry counterpart of CancelAndRefund, gated on the
// hard expiry deadline having passed.
func (s *SQLite) ExpireAndRefund(ctx context.Context, id string, now time.Time) (bool, error) {
	return s.terminateAndRefund(ctx,
		`UPDATE orders SET status = ?
		 WHERE id = ? AND status = ? AND otp_code IS NULL AND hard_expiry_at <= ?
		 RETURNING user_id, currency_charged, price_charged`,
		order.StatusExpired, id, order.StatusActive, now.Unix())
}

func (s *SQLite) terminateAndRefund(ctx context.Context, query string, args ...any) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var userID, currency string
	var amount int64
	err = tx.QueryRowContext(ctx, query, args...).Scan(&userID, &currency, &amount)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, sqliteCreditSQL, userID, currency, amount); err != nil {
		return false, fmt.Errorf("refund: %w", err)
	}
	return true, tx.Commit()
}

func (s *SQLite) Debit(ctx context.Context, userID, currency string, amount int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE balances SET amount = amount - ?1
		 WHERE user_id = ?2 AND currency = ?3 AND amount >= ?1`,
		amount, userID, currency)
	if err != nil {
		return fmt.Errorf("debit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return order.ErrInsufficientBalance
	}
	return nil
}

const sqliteCreditSQL = `INSERT INTO balances (user_id, currency, amount) VALUES (?, ?, ?)
	 ON CONFLICT (user_id, currency) DO UPDATE SET amount = amount + excluded.amount`

func (s *SQLite) Credit(ctx context.Context, userID, currency string, amount int64) error {
	_, err := s.db.ExecContext(ctx, sqliteCreditSQL, userID, currency, amount)
	if err != nil {
		return fmt.Errorf("credit: %w", err)
	}
	return nil
}

func (s *SQLite) Balances(ctx context.Context, userID string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT currency, amount FROM balances WHERE user_id = ?`, userID)
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

var _ order.Store = (*SQLite)(nil)
