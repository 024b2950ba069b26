package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/numlease/numlease/internal/order"
	"github.com/numlease/numlease/internal/provider"
	"github.com/numlease/numlease/internal/store"
)

func openTestStore(t *testing.T) *store.SQLite {
	t.Helper()
	s, err := store.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedOrder(t *testing.T, s *store.SQLite, id, userID string) *order.Order {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	o := &order.Order{
		ID:               id,
		UserID:           userID,
		ProviderID:       "daisysms",
		ServiceCode:      "wa",
		CountryCode:      "US",
		PhoneNumber:      "+12125550199",
		ProviderRef:      "99031",
		Status:           order.StatusActive,
		PriceCharged:     85000,
		CurrencyCharged:  "NGN",
		AddOns:           provider.AddOns{AreaCodes: []string{"212"}},
		CreatedAt:        now,
		CancelEligibleAt: now.Add(180 * time.Second),
		HardExpiryAt:     now.Add(600 * time.Second),
	}
	require.NoError(t, s.CreateOrder(context.Background(), o))
	return o
}

func TestSQLiteOrderRoundTrip(t *testing.T) {
	s := openTestStore(t)
	want := seedOrder(t, s, "ord-1", "user-1")

	got, err := s.GetOrder(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.ProviderRef, got.ProviderRef)
	assert.Equal(t, order.StatusActive, got.Status)
	assert.Equal(t, int64(85000), got.PriceCharged)
	assert.Equal(t, []string{"212"}, got.AddOns.AreaCodes)
	assert.True(t, got.HardExpiryAt.Equal(want.HardExpiryAt))
	assert.Nil(t, got.OTPCode)
}

func TestSQLiteGetOrderNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetOrder(context.Background(), "missing")
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestSQLiteListOrdersByUser(t *testing.T) {
	s := openTestStore(t)
	seedOrder(t, s, "ord-1", "user-1")
	seedOrder(t, s, "ord-2", "user-1")
	seedOrder(t, s, "ord-3", "user-2")

	orders, err := s.ListOrdersByUser(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Len(t, orders, 2)

	orders, err = s.ListOrdersByUser(context.Background(), "user-3")
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestSQLiteCompleteDeliveryOnce(t *testing.T) {
	s := openTestStore(t)
	seedOrder(t, s, "ord-1", "user-1")

	ok, err := s.CompleteDelivery(context.Background(), "ord-1", "482913")
	require.NoError(t, err)
	assert.True(t, ok)

	// A second attempt loses the compare-and-set.
	ok, err = s.CompleteDelivery(context.Background(), "ord-1", "000000")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetOrder(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusCompleted, got.Status)
	require.NotNil(t, got.OTPCode)
	assert.Equal(t, "482913", *got.OTPCode)
}

func TestSQLiteCancelLosesToDelivery(t *testing.T) {
	s := openTestStore(t)
	seedOrder(t, s, "ord-1", "user-1")

	ok, err := s.CompleteDelivery(context.Background(), "ord-1", "482913")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.CancelAndRefund(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetOrder(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusCompleted, got.Status)

	// The lost cancel must not credit anything.
	balances, err := s.Balances(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balances["NGN"])
}

func TestSQLiteCancelRefundsInOneStep(t *testing.T) {
	s := openTestStore(t)
	seedOrder(t, s, "ord-1", "user-1")

	ok, err := s.CancelAndRefund(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetOrder(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, got.Status)

	balances, err := s.Balances(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(85000), balances["NGN"])

	// Losing the compare-and-set on retry must not refund again.
	ok, err = s.CancelAndRefund(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.False(t, ok)

	balances, err = s.Balances(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(85000), balances["NGN"])
}

func TestSQLiteExpireRequiresDueTime(t *testing.T) {
	s := openTestStore(t)
	o := seedOrder(t, s, "ord-1", "user-1")

	ok, err := s.ExpireAndRefund(context.Background(), "ord-1", o.CreatedAt.Add(300*time.Second))
	require.NoError(t, err)
	assert.False(t, ok, "expiry before the deadline must not fire")

	balances, err := s.Balances(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balances["NGN"])

	ok, err = s.ExpireAndRefund(context.Background(), "ord-1", o.HardExpiryAt)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetOrder(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusExpired, got.Status)

	balances, err = s.Balances(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(85000), balances["NGN"])
}

func TestSQLiteListExpiredActive(t *testing.T) {
	s := openTestStore(t)
	due := seedOrder(t, s, "ord-due", "user-1")
	seedOrder(t, s, "ord-fresh", "user-1")

	// Completed orders never expire, even past the deadline.
	done := seedOrder(t, s, "ord-done", "user-1")
	ok, err := s.CompleteDelivery(context.Background(), done.ID, "482913")
	require.NoError(t, err)
	require.True(t, ok)

	expired, err := s.ListExpiredActive(context.Background(), due.HardExpiryAt)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	// ord-fresh has the same deadline here; only status and otp gate the sweep.

	expired, err = s.ListExpiredActive(context.Background(), due.CreatedAt)
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestSQLiteDebitCredit(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Credit(context.Background(), "user-1", "NGN", 100000))
	require.NoError(t, s.Debit(context.Background(), "user-1", "NGN", 85000))

	balances, err := s.Balances(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(15000), balances["NGN"])
	assert.Equal(t, int64(0), balances["USD"])
}

func TestSQLiteDebitInsufficient(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Credit(context.Background(), "user-1", "NGN", 50000))

	err := s.Debit(context.Background(), "user-1", "NGN", 85000)
	assert.ErrorIs(t, err, order.ErrInsufficientBalance)

	// Failed debit leaves the ledger untouched.
	balances, err := s.Balances(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(50000), balances["NGN"])
}

func TestSQLiteDebitUnknownUser(t *testing.T) {
	s := openTestStore(t)
	err := s.Debit(context.Background(), "ghost", "NGN", 1)
	assert.ErrorIs(t, err, order.ErrInsufficientBalance)
}

func TestSQLiteConcurrentDebit(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Credit(context.Background(), "user-1", "NGN", 1000))

	// 20 workers race to debit 100 each from a 1000 balance; exactly 10 win.
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Debit(context.Background(), "user-1", "NGN", 100)
		}()
	}
	wg.Wait()
	close(errs)

	var won, lost int
	for err := range errs {
		switch {
		case err == nil:
			won++
		case assert.ErrorIs(t, err, order.ErrInsufficientBalance):
			lost++
		}
	}
	assert.Equal(t, 10, won)
	assert.Equal(t, 10, lost)

	balances, err := s.Balances(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balances["NGN"])
}

func TestSQLiteBalancesDefaultCurrencies(t *testing.T) {
	s := openTestStore(t)
	balances, err := s.Balances(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"NGN": 0, "USD": 0}, balances)
}
