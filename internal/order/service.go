// Package order owns the order lifecycle: purchase, OTP completion,
// voluntary cancellation, and automatic expiry. All terminal transitions go
// through store-level compare-and-set so racing writers (poller, a second
// browser tab, the expiry sweep) resolve to exactly one winner.
package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/numlease/numlease/internal/catalog"
	"github.com/numlease/numlease/internal/config"
	"github.com/numlease/numlease/internal/pricing"
	"github.com/numlease/numlease/internal/provider"
)

var (
	// ErrCatalogMismatch is returned when the client's displayed total no
	// longer matches a freshly derived quote.
	ErrCatalogMismatch = errors.New("catalog price changed, re-quote required")
	// ErrAssignmentFailed wraps an upstream number-assignment failure. The
	// debit has already been credited back when this is returned.
	ErrAssignmentFailed = errors.New("provider could not assign a number")
	// ErrNotCancellable is returned when a cancel request is outside the
	// allowed window or the code already arrived.
	ErrNotCancellable = errors.New("order not cancellable")
)

// providerCallTimeout bounds every upstream network call. No balance lock is
// ever held while waiting on the network; debit and credit are standalone
// atomic statements.
const providerCallTimeout = 15 * time.Second

// Service drives orders through their lifecycle.
type Service struct {
	store    Store
	registry *provider.Registry
	resolver *catalog.Resolver
	cfg      *config.Config
	logger   *slog.Logger

	now func() time.Time
}

// NewService creates the order Service. Pricing and lifecycle constants are
// read from cfg on every call so admin changes apply without restart.
func NewService(store Store, registry *provider.Registry, resolver *catalog.Resolver, cfg *config.Config, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		registry: registry,
		resolver: resolver,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock overrides the service clock. Tests use it to step through the
// cancel-hold and hard-expiry windows.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// PurchaseRequest is a validated purchase intent. ExpectedTotal is the total
// the client displayed; the server re-derives the quote and refuses to charge
// a different amount.
type PurchaseRequest struct {
	ProviderID    string
	ServiceCode   string
	CountryCode   string
	Currency      string
	AddOns        provider.AddOns
	ExpectedTotal decimal.Decimal
}

// Quote re-derives the current price for a prospective purchase.
func (s *Service) Quote(ctx context.Context, providerID, service, country, currency string, addOns provider.AddOns) (*pricing.Quote, error) {
	info, err := s.registry.Get(providerID)
	if err != nil {
		return nil, err
	}
	offering, err := s.resolver.Find(ctx, providerID, service, country)
	if err != nil {
		return nil, err
	}
	return pricing.Compute(offering, info.Scope, addOns, currency, s.pricingParams(info))
}

// Purchase charges the wallet and rents a number. Either both the debit and
// the provider assignment take effect, or neither does: an assignment
// failure credits the debit straight back and no order row is written.
// Purchases are never retried internally; a retry could double-charge.
func (s *Service) Purchase(ctx context.Context, userID string, req PurchaseRequest) (*Order, error) {
	info, err := s.registry.Get(req.ProviderID)
	if err != nil {
		return nil, err
	}

	offering, err := s.resolver.Find(ctx, req.ProviderID, req.ServiceCode, req.CountryCode)
	if err != nil {
		return nil, err
	}
	quote, err := pricing.Compute(offering, info.Scope, req.AddOns, req.Currency, s.pricingParams(info))
	if err != nil {
		return nil, err
	}
	if !req.ExpectedTotal.IsZero() && !req.ExpectedTotal.Equal(quote.TotalAmount) {
		return nil, fmt.Errorf("%w: current total is %s %s", ErrCatalogMismatch, quote.TotalAmount, quote.Currency)
	}

	amount := pricing.MinorUnits(quote.TotalAmount)
	if err := s.store.Debit(ctx, userID, quote.Currency, amount); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, providerCallTimeout)
	assignment, err := info.Adapter.AssignNumber(callCtx, req.ServiceCode, offering.CountryCode, req.AddOns)
	cancel()
	if err != nil {
		if cerr := s.store.Credit(ctx, userID, quote.Currency, amount); cerr != nil {
			// The refund must not be lost; surface loudly for reconciliation.
			s.logger.Error("refund after failed assignment did not apply",
				"user", userID, "amount", amount, "currency", quote.Currency, "error", cerr)
		}
		return nil, fmt.Errorf("%w: %w", ErrAssignmentFailed, err)
	}

	phone := assignment.PhoneNumber
	if normalized, err := provider.NormalizePhone(phone); err == nil {
		phone = normalized
	}

	now := s.now().UTC().Truncate(time.Second)
	o := &Order{
		ID:               uuid.NewString(),
		UserID:           userID,
		ProviderID:       req.ProviderID,
		ServiceCode:      req.ServiceCode,
		CountryCode:      offering.CountryCode,
		PhoneNumber:      phone,
		ProviderRef:      assignment.Ref,
		Status:           StatusActive,
		PriceCharged:     amount,
		CurrencyCharged:  quote.Currency,
		AddOns:           req.AddOns,
		CreatedAt:        now,
		CancelEligibleAt: now.Add(s.cfg.CancelHold()),
		HardExpiryAt:     now.Add(s.cfg.HardExpiry()),
	}
	if err := s.store.CreateOrder(ctx, o); err != nil {
		s.releaseNumber(info, assignment.Ref)
		if cerr := s.store.Credit(ctx, userID, quote.Currency, amount); cerr != nil {
			s.logger.Error("refund after failed persist did not apply",
				"user", userID, "amount", amount, "currency", quote.Currency, "error", cerr)
		}
		return nil, fmt.Errorf("persist order: %w", err)
	}

	s.logger.Info("order created",
		"order", o.ID, "user", userID, "provider", req.ProviderID,
		"service", req.ServiceCode, "amount", amount, "currency", quote.Currency)
	return o, nil
}

// Cancel voluntarily terminates an undelivered order and refunds exactly what
// was charged. A second cancel of an already-cancelled order returns the
// prior result instead of double-refunding.
func (s *Service) Cancel(ctx context.Context, userID, orderID string) (*Order, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, ErrOrderNotFound
	}

	switch o.Status {
	case StatusCancelled:
		return o, nil
	case StatusCompleted, StatusExpired:
		return nil, fmt.Errorf("%w: order already %s", ErrNotCancellable, o.Status)
	}
	if o.OTPCode != nil {
		return nil, fmt.Errorf("%w: code already delivered", ErrNotCancellable)
	}
	if now := s.now(); now.Before(o.CancelEligibleAt) {
		return nil, fmt.Errorf("%w: cancellable from %s", ErrNotCancellable, o.CancelEligibleAt.UTC().Format(time.RFC3339))
	}

	// The transition and the refund commit together; a failure leaves the
	// order active and the cancel retryable.
	won, err := s.store.CancelAndRefund(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("cancel: %w", err)
	}
	if !won {
		// A racing transition got there first; resolve deterministically in
		// its favor.
		o, err = s.store.GetOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if o.Status == StatusCancelled {
			return o, nil
		}
		return nil, fmt.Errorf("%w: order already %s", ErrNotCancellable, o.Status)
	}

	if info, err := s.registry.Get(o.ProviderID); err == nil {
		s.releaseNumber(info, o.ProviderRef)
	}

	s.logger.Info("order cancelled", "order", orderID, "refund", o.PriceCharged, "currency", o.CurrencyCharged)
	return s.store.GetOrder(ctx, orderID)
}

// RecordDelivery stores a delivered code and completes the order. Returns
// false when another writer already moved the order out of ACTIVE.
func (s *Service) RecordDelivery(ctx context.Context, orderID, code string) (bool, error) {
	won, err := s.store.CompleteDelivery(ctx, orderID, code)
	if err != nil {
		return false, err
	}
	if won {
		s.logger.Info("order completed", "order", orderID)
	}
	return won, nil
}

// ExpireDue force-expires every ACTIVE order past its hard expiry with no
// delivered code, refunding each. Expiry is an expected transition, not an
// error; the refund is mandatory even when the upstream release fails.
func (s *Service) ExpireDue(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.store.ListExpiredActive(ctx, now)
	if err != nil {
		return 0, err
	}

	expired := 0
	for i := range due {
		o := &due[i]
		won, err := s.store.ExpireAndRefund(ctx, o.ID, now)
		if err != nil {
			// Nothing was applied; the order stays in the due set for the
			// next sweep.
			s.logger.Error("expire transition failed", "order", o.ID, "error", err)
			continue
		}
		if !won {
			continue
		}
		if info, err := s.registry.Get(o.ProviderID); err == nil {
			s.releaseNumber(info, o.ProviderRef)
		}
		s.logger.Info("order expired", "order", o.ID, "refund", o.PriceCharged, "currency", o.CurrencyCharged)
		expired++
	}
	return expired, nil
}

// Orders returns a user's order history, most recent first.
func (s *Service) Orders(ctx context.Context, userID string) ([]Order, error) {
	return s.store.ListOrdersByUser(ctx, userID)
}

// Get returns one of the user's orders.
func (s *Service) Get(ctx context.Context, userID, orderID string) (*Order, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

// ActiveOrders returns every ACTIVE order across users, for the poller.
func (s *Service) ActiveOrders(ctx context.Context) ([]Order, error) {
	return s.store.ListActive(ctx)
}

// Balances returns the user's ledgers in minor units.
func (s *Service) Balances(ctx context.Context, userID string) (map[string]int64, error) {
	return s.store.Balances(ctx, userID)
}

func (s *Service) pricingParams(info provider.Info) pricing.Params {
	return pricing.Params{
		MarkupPercent:    info.MarkupPercent,
		SurchargePercent: s.cfg.Pricing.AddOnSurchargePercent,
		NGNPerUSD:        s.cfg.Pricing.NGNPerUSD,
	}
}

// releaseNumber returns the number upstream. Best-effort: a failure is logged
// and never blocks a refund.
func (s *Service) releaseNumber(info provider.Info, ref string) {
	ctx, cancel := context.WithTimeout(context.Background(), providerCallTimeout)
	defer cancel()
	if err := info.Adapter.ReleaseNumber(ctx, ref); err != nil {
		s.logger.Warn("release number failed", "provider", info.ID, "ref", ref, "error", err)
	}
}
