/*
spend.go - Spend engine: oldest-expiry-first grant consumption

PURPOSE:
  Executes the grant-side half of a redemption. Given a requested amount,
  walks the user's active, unexpired grants in ascending expiry order and
  greedily consumes them, returning how many points were drawn from grants.
  The caller debits the remainder from the general balance and writes the
  ledger entries - this engine touches grant records only.

WHY THE SPLIT:
  The engine is the single source of truth for "how much of this purchase
  came from expiring bonuses". Keeping the general-balance debit with the
  caller means expiry clawback bookkeeping stays correct: a grant spent
  here has its remainder reduced, so a later expiry claws back less.

ORDERING:
  Soonest-expiring first minimizes future clawback waste - value that
  would burn first is used first.

CONTRACT:
  The engine does not check sufficiency. If the request exceeds what the
  grants hold it under-draws and returns what it managed; the caller is
  responsible for the total-redeemable-balance precondition.

SEE ALSO:
  - award.go: Creates and expires the grants consumed here
  - service.go: The caller holding up the other half of the contract
*/
package loyalty

import (
	"context"
	"sort"
	"time"
)

// =============================================================================
// SPEND ENGINE
// =============================================================================

// SpendEngine draws redemption value from active grants. Stateless.
type SpendEngine struct{}

func NewSpendEngine() *SpendEngine {
	return &SpendEngine{}
}

// SpendFromGrants debits up to amount points from the user's active,
// unexpired grants, soonest expiry first, and returns the points drawn.
// Grants exhausted to zero are deactivated. Grants without an expiry are
// never matched here; their value lives in the general balance.
func (e *SpendEngine) SpendFromGrants(ctx context.Context, s Store, userID UserID, amount Points, now time.Time) (Points, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	grants, err := s.ActiveGrants(ctx, userID)
	if err != nil {
		return 0, err
	}

	// Keep only live, expiring grants, soonest expiry first.
	live := grants[:0]
	for _, g := range grants {
		if g.ExpiresAt != nil && g.ExpiresAt.After(now) {
			live = append(live, g)
		}
	}
	sort.Slice(live, func(i, j int) bool {
		return live[i].ExpiresAt.Before(*live[j].ExpiresAt)
	})

	remaining := amount
	var used Points

	for i := range live {
		if remaining <= 0 {
			break
		}
		g := &live[i]

		draw := remaining.Min(g.Amount)
		g.Amount -= draw
		remaining -= draw
		used += draw

		if g.Amount == 0 {
			g.Active = false
		}
		if err := s.SaveGrant(ctx, g); err != nil {
			return 0, err
		}
	}

	return used, nil
}
