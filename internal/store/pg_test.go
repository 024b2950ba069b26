//go:build integration

package store_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/numlease/numlease/internal/order"
	"github.com/numlease/numlease/internal/provider"
	"github.com/numlease/numlease/internal/store"
	"github.com/numlease/numlease/internal/testutil"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()
	harness, cleanup := testutil.StartPostgresForTestMain(ctx)
	testPool = harness.Pool

	code := m.Run()
	cleanup()
	os.Exit(code)
}

func openPGStore(t *testing.T) *store.PG {
	t.Helper()
	s, err := store.NewPG(context.Background(), testPool)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, err := testPool.Exec(context.Background(), `TRUNCATE orders, balances`)
		require.NoError(t, err)
	})
	return s
}

func seedPGOrder(t *testing.T, s *store.PG, id, userID string) *order.Order {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	o := &order.Order{
		ID:               id,
		UserID:           userID,
		ProviderID:       "smspool",
		ServiceCode:      "whatsapp",
		CountryCode:      "GB",
		PhoneNumber:      "+447700900123",
		ProviderRef:      "ABC123",
		Status:           order.StatusActive,
		PriceCharged:     67500,
		CurrencyCharged:  "NGN",
		AddOns:           provider.AddOns{},
		CreatedAt:        now,
		CancelEligibleAt: now.Add(180 * time.Second),
		HardExpiryAt:     now.Add(600 * time.Second),
	}
	require.NoError(t, s.CreateOrder(context.Background(), o))
	return o
}

func TestPGOrderRoundTrip(t *testing.T) {
	s := openPGStore(t)
	want := seedPGOrder(t, s, "ord-1", "user-1")

	got, err := s.GetOrder(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.ProviderRef, got.ProviderRef)
	assert.Equal(t, order.StatusActive, got.Status)
	assert.True(t, got.CreatedAt.Equal(want.CreatedAt))
	assert.Nil(t, got.OTPCode)

	_, err = s.GetOrder(context.Background(), "missing")
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestPGCompleteDeliveryOnce(t *testing.T) {
	s := openPGStore(t)
	seedPGOrder(t, s, "ord-1", "user-1")

	ok, err := s.CompleteDelivery(context.Background(), "ord-1", "482913")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.CompleteDelivery(context.Background(), "ord-1", "000000")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.CancelAndRefund(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetOrder(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusCompleted, got.Status)
	require.NotNil(t, got.OTPCode)
	assert.Equal(t, "482913", *got.OTPCode)

	// The lost cancel must not credit anything.
	balances, err := s.Balances(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balances["NGN"])
}

func TestPGCancelAndRefund(t *testing.T) {
	s := openPGStore(t)
	seedPGOrder(t, s, "ord-1", "user-1")

	ok, err := s.CancelAndRefund(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetOrder(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, got.Status)

	balances, err := s.Balances(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(67500), balances["NGN"])

	// Losing the compare-and-set on retry must not refund again.
	ok, err = s.CancelAndRefund(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.False(t, ok)

	balances, err = s.Balances(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(67500), balances["NGN"])
}

func TestPGExpireAndRefund(t *testing.T) {
	s := openPGStore(t)
	o := seedPGOrder(t, s, "ord-1", "user-1")

	ok, err := s.ExpireAndRefund(context.Background(), "ord-1", o.CreatedAt.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.ExpireAndRefund(context.Background(), "ord-1", o.HardExpiryAt)
	require.NoError(t, err)
	assert.True(t, ok)

	balances, err := s.Balances(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(67500), balances["NGN"])

	expired, err := s.ListExpiredActive(context.Background(), o.HardExpiryAt)
	require.NoError(t, err)
	assert.Empty(t, expired, "expired orders leave the sweep set")
}

func TestPGListExpiredActive(t *testing.T) {
	s := openPGStore(t)
	o := seedPGOrder(t, s, "ord-1", "user-1")

	due, err := s.ListExpiredActive(context.Background(), o.HardExpiryAt)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "ord-1", due[0].ID)

	due, err = s.ListExpiredActive(context.Background(), o.CreatedAt)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestPGDebitCredit(t *testing.T) {
	s := openPGStore(t)

	require.NoError(t, s.Credit(context.Background(), "user-1", "NGN", 100000))
	require.NoError(t, s.Debit(context.Background(), "user-1", "NGN", 67500))

	err := s.Debit(context.Background(), "user-1", "NGN", 67500)
	assert.ErrorIs(t, err, order.ErrInsufficientBalance)

	balances, err := s.Balances(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(32500), balances["NGN"])
}

func TestPGConcurrentDebit(t *testing.T) {
	s := openPGStore(t)
	require.NoError(t, s.Credit(context.Background(), "user-1", "NGN", 1000))

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

	var won int
	for err := range errs {
		if err == nil {
			won++
		} else {
			require.ErrorIs(t, err, order.ErrInsufficientBalance)
		}
	}
	assert.Equal(t, 10, won)

	balances, err := s.Balances(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balances["NGN"])
}

func TestPGListOrdersByUserNewestFirst(t *testing.T) {
	s := openPGStore(t)
	for i := 0; i < 3; i++ {
		seedPGOrder(t, s, fmt.Sprintf("ord-%d", i), "user-1")
	}

	orders, err := s.ListOrdersByUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, orders, 3)
	// Identical created_at falls back to id descending.
	assert.Equal(t, "ord-2", orders[0].ID)
}
