package order

import (
	"context"
	"errors"
	"time"

	"github.com/numlease/numlease/internal/provider"
)

// Status is the closed set of order lifecycle states. An order is active the
// instant creation succeeds; the three terminal states are immutable.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Terminal reports whether no further transition is defined out of s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Order is the central entity: one rented number awaiting its code. Terminal
// orders are retained as history, never deleted. PriceCharged is frozen at
// assignment time in ledger minor units and is exactly what any refund
// credits back.
type Order struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	ProviderID       string          `json:"provider_id"`
	ServiceCode      string          `json:"service_code"`
	CountryCode      string          `json:"country_code"`
	PhoneNumber      string          `json:"phone_number"`
	ProviderRef      string          `json:"-"`
	Status           Status          `json:"status"`
	PriceCharged     int64           `json:"price_charged"`
	CurrencyCharged  string          `json:"currency_charged"`
	OTPCode          *string         `json:"otp_code,omitempty"`
	AddOns           provider.AddOns `json:"add_ons"`
	CreatedAt        time.Time       `json:"created_at"`
	CancelEligibleAt time.Time       `json:"cancel_eligible_at"`
	HardExpiryAt     time.Time       `json:"hard_expiry_at"`
}

var (
	// ErrOrderNotFound is returned for an unknown or foreign order id.
	ErrOrderNotFound = errors.New("order not found")
	// ErrInsufficientBalance is returned when a debit would take the ledger
	// below zero. The ledger is left unchanged.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Store is the durable state the orchestrator runs on: order rows plus the
// per-user balance ledgers. Every terminal transition is a compare-and-set
// keyed on the current status so racing writers resolve to exactly one
// winner. Debit and Credit are atomic all-or-nothing operations and the only
// balance critical sections.
type Store interface {
	CreateOrder(ctx context.Context, o *Order) error
	GetOrder(ctx context.Context, id string) (*Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]Order, error)
	ListActive(ctx context.Context) ([]Order, error)
	ListExpiredActive(ctx context.Context, now time.Time) ([]Order, error)

	// CompleteDelivery sets the code and flips active→completed in one atomic
	// update. Returns false when the order was no longer active.
	CompleteDelivery(ctx context.Context, id, code string) (bool, error)
	// CancelAndRefund flips active→cancelled and credits PriceCharged back to
	// the user in one transaction, provided no code was delivered. Returns
	// false when the order was no longer active; on error neither the
	// transition nor the refund is applied.
	CancelAndRefund(ctx context.Context, id string) (bool, error)
	// ExpireAndRefund flips active→expired and credits PriceCharged back in
	// one transaction, provided the hard expiry has passed and no code was
	// delivered.
	ExpireAndRefund(ctx context.Context, id string, now time.Time) (bool, error)

	Debit(ctx context.Context, userID, currency string, amount int64) error
	Credit(ctx context.Context, userID, currency string, amount int64) error
	Balances(ctx context.Context, userID string) (map[string]int64, error)
}
