/*
cashback.go - Percentage-of-purchase point credits

PURPOSE:
  Admins credit a percentage of an in-store purchase amount as points.
  Purchase amounts arrive in currency (rubles, with kopeks), so the
  percent math runs on decimals and only the final figure is truncated
  to whole points - int(purchase * percent / 100), never rounded up.

SEE ALSO:
  - service.go: CreditPurchase, the only caller
*/
package loyalty

import (
	"context"

	"github.com/shopspring/decimal"
)

// DefaultPurchasePercent is the share of a purchase credited as points.
var DefaultPurchasePercent = decimal.NewFromInt(5)

// PurchaseCredit converts a purchase amount to points at the given percent,
// truncating toward zero. Non-positive inputs yield zero points.
func PurchaseCredit(purchase, percent decimal.Decimal) Points {
	if !purchase.IsPositive() || !percent.IsPositive() {
		return 0
	}
	credit := purchase.Mul(percent).Div(decimal.NewFromInt(100))
	return Points(credit.IntPart())
}

// CreditPurchase credits the default percentage of a purchase amount to the
// user's general balance. A purchase too small to yield a whole point still
// succeeds with zero credited and no ledger entry.
func (svc *Service) CreditPurchase(ctx context.Context, userID UserID, purchase decimal.Decimal) (Points, error) {
	if !purchase.IsPositive() {
		return 0, ErrInvalidAmount
	}

	credit := PurchaseCredit(purchase, DefaultPurchasePercent)
	if credit == 0 {
		// Verify the user exists so the caller still gets a 404 on typos.
		if _, err := svc.store.GetUser(ctx, userID); err != nil {
			return 0, err
		}
		return 0, nil
	}

	unlock := svc.locks.lock(userID)
	defer unlock()

	now := svc.clock.Now()
	err := svc.store.WithTx(ctx, func(s Store) error {
		user, err := s.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		user.Balance += credit
		if err := s.SaveUser(ctx, user); err != nil {
			return err
		}

		entry := &LedgerEntry{
			UserID:      userID,
			Amount:      credit,
			Kind:        EntryPurchaseCredit,
			Description: "Purchase credit (" + DefaultPurchasePercent.String() + "% of " + purchase.StringFixed(2) + ")",
			CreatedAt:   now,
		}
		return s.AppendLedger(ctx, entry)
	})
	if err != nil {
		return 0, err
	}
	return credit, nil
}
