package loyalty_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/loyalty-engine/loyalty"
)

func TestPurchaseCredit_TruncatesTowardZero(t *testing.T) {
	five := decimal.NewFromInt(5)

	cases := []struct {
		purchase string
		want     loyalty.Points
	}{
		{"1000", 50},
		{"1999.99", 99}, // 99.9995 truncates, never rounds up
		{"19.99", 0},    // 0.9995
		{"20", 1},
		{"0", 0},
		{"-50", 0},
	}

	for _, tc := range cases {
		purchase, err := decimal.NewFromString(tc.purchase)
		require.NoError(t, err)
		assert.Equal(t, tc.want, loyalty.PurchaseCredit(purchase, five), "purchase %s", tc.purchase)
	}
}

func TestCreditPurchase_CreditsBalanceWithLedgerEntry(t *testing.T) {
	// GIVEN: A registered member
	// WHEN: Crediting a 1000.00 purchase at the default 5%
	// THEN: +50 points and a purchase_credit ledger entry

	ctx := context.Background()
	svc, mem, _ := newTestService(date(2025, time.March, 1))

	user := &loyalty.User{TelegramID: 42}
	require.NoError(t, svc.Register(ctx, user))

	credited, err := svc.CreditPurchase(ctx, user.ID, decimal.NewFromInt(1000))
	require.NoError(t, err)
	assert.Equal(t, loyalty.Points(50), credited)

	got, err := mem.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, loyalty.Points(250), got.Balance)

	entries, err := mem.LedgerByUser(ctx, user.ID, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, loyalty.EntryPurchaseCredit, entries[0].Kind)
	assert.Equal(t, loyalty.Points(50), entries[0].Amount)
}

func TestCreditPurchase_TinyPurchaseCreditsNothing(t *testing.T) {
	// GIVEN: A purchase too small to yield a whole point
	// WHEN: Crediting it
	// THEN: Zero credited, no ledger entry, no error

	ctx := context.Background()
	svc, mem, _ := newTestService(date(2025, time.March, 1))

	user := &loyalty.User{TelegramID: 42}
	require.NoError(t, svc.Register(ctx, user))

	credited, err := svc.CreditPurchase(ctx, user.ID, decimal.RequireFromString("19.99"))
	require.NoError(t, err)
	assert.Equal(t, loyalty.Points(0), credited)

	entries, err := mem.LedgerByUser(ctx, user.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1) // welcome bonus only
	assert.Equal(t, loyalty.EntryWelcome, entries[0].Kind)
}

func TestCreditPurchase_RejectsNonPositivePurchase(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(date(2025, time.March, 1))

	_, err := svc.CreditPurchase(ctx, 1, decimal.Zero)
	assert.ErrorIs(t, err, loyalty.ErrInvalidAmount)
}

func TestCreditPurchase_UnknownUser(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(date(2025, time.March, 1))

	// Even a zero-credit purchase reports a missing user.
	_, err := svc.CreditPurchase(ctx, 999, decimal.RequireFromString("19.99"))
	assert.ErrorIs(t, err, loyalty.ErrUserNotFound)
}
