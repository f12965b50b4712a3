/*
service.go - Transactional orchestration of the award and spend engines

PURPOSE:
  The Service is the entry point callers use. It owns the three things the
  engines deliberately do not: the transaction boundary (every operation is
  one TxStore.WithTx unit - all mutations commit together or not at all),
  the per-user lock (two concurrent reconciliations for the same user would
  race the per-year dedup check, so same-user operations are serialized
  here), and the caller-side half of the spend contract (sufficiency check,
  general-balance debit, ledger entries).

OPERATIONS:
  Reconcile        Expire + award, returns active bonuses for display
  Spend            Full redemption: grants first, then general balance
  Credit/Debit     Manual admin adjustments
  CreditPurchase   Percentage-of-purchase credit (see cashback.go)
  GrantAll         Manual event grant to every user (non-expiring)
  Register         New user with welcome credit
  History          Recent ledger entries
  Summary          Balance + holiday + total redeemable figures

LOCKING:
  A keyed mutex per user id. GrantAll locks every user it touches in
  ascending id order before opening its transaction. Locks are never
  released back; the map grows with the user base, which is fine at bot
  scale.

SEE ALSO:
  - award.go, spend.go: The engines
  - store.go: The transactional store contract
*/
package loyalty

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// =============================================================================
// SERVICE
// =============================================================================

// Service wires the engines to a transactional store and an injected clock.
type Service struct {
	store TxStore
	clock Clock
	award *AwardEngine
	spend *SpendEngine
	locks userLocks

	// WelcomeBonus is credited once at registration.
	WelcomeBonus Points
}

// DefaultWelcomeBonus is credited to every new registration.
const DefaultWelcomeBonus Points = 200

// NewService creates a service with default engine policies.
func NewService(store TxStore, clock Clock) *Service {
	return &Service{
		store:        store,
		clock:        clock,
		award:        NewAwardEngine(),
		spend:        NewSpendEngine(),
		WelcomeBonus: DefaultWelcomeBonus,
	}
}

// =============================================================================
// RECONCILE
// =============================================================================

// Reconcile brings the user's grants up to date for today and returns the
// active bonuses for display. Call before showing any balance or
// spend-related screen.
func (svc *Service) Reconcile(ctx context.Context, userID UserID) ([]ActiveBonus, error) {
	unlock := svc.locks.lock(userID)
	defer unlock()

	now := svc.clock.Now()
	var bonuses []ActiveBonus
	err := svc.store.WithTx(ctx, func(s Store) error {
		var err error
		bonuses, err = svc.award.Reconcile(ctx, s, userID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return bonuses, nil
}

// =============================================================================
// SPEND
// =============================================================================

// SpendResult reports how a redemption was satisfied.
type SpendResult struct {
	Total       Points
	FromGrants  Points
	FromGeneral Points
	NewBalance  Points
}

// Spend debits amount points from the user: active expiring grants first
// (soonest expiry first), then the general balance. The total redeemable
// balance must cover the amount or InsufficientBalanceError is returned
// with nothing mutated.
func (svc *Service) Spend(ctx context.Context, userID UserID, amount Points, description string) (*SpendResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	unlock := svc.locks.lock(userID)
	defer unlock()

	now := svc.clock.Now()
	var result SpendResult
	err := svc.store.WithTx(ctx, func(s Store) error {
		user, err := s.GetUser(ctx, userID)
		if err != nil {
			return err
		}

		available, err := svc.redeemable(ctx, s, user, now)
		if err != nil {
			return err
		}
		if available < amount {
			return &InsufficientBalanceError{UserID: userID, Available: available, Requested: amount}
		}

		fromGrants, err := svc.spend.SpendFromGrants(ctx, s, userID, amount, now)
		if err != nil {
			return err
		}

		// Caller-side half of the contract: debit the remainder from the
		// general balance, clamped at zero.
		remainder := amount - fromGrants
		if remainder > 0 {
			debit := user.Balance.Min(remainder)
			user.Balance -= debit
			if err := s.SaveUser(ctx, user); err != nil {
				return err
			}
		}

		if description == "" {
			description = "Points redemption"
		}
		entry := &LedgerEntry{
			UserID:      userID,
			Amount:      -amount,
			Kind:        EntrySpend,
			Description: description,
			CreatedAt:   now,
		}
		if err := s.AppendLedger(ctx, entry); err != nil {
			return err
		}

		result = SpendResult{
			Total:       amount,
			FromGrants:  fromGrants,
			FromGeneral: remainder,
			NewBalance:  user.Balance,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// redeemable computes balance + active unexpired grant amounts. This, not
// the balance field alone, is what authorizes a spend.
func (svc *Service) redeemable(ctx context.Context, s Store, user *User, now time.Time) (Points, error) {
	grants, err := s.ActiveGrants(ctx, user.ID)
	if err != nil {
		return 0, err
	}
	total := user.Balance
	for _, g := range grants {
		if g.ExpiresAt != nil && !g.Expired(now) {
			total += g.Amount
		}
	}
	return total, nil
}

// =============================================================================
// ADMIN ADJUSTMENTS
// =============================================================================

// Credit adds points to the user's general balance with a ledger entry.
func (svc *Service) Credit(ctx context.Context, userID UserID, amount Points, description string) (Points, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	unlock := svc.locks.lock(userID)
	defer unlock()

	now := svc.clock.Now()
	var balance Points
	err := svc.store.WithTx(ctx, func(s Store) error {
		user, err := s.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		user.Balance += amount
		if err := s.SaveUser(ctx, user); err != nil {
			return err
		}

		if description == "" {
			description = "Admin credit"
		}
		entry := &LedgerEntry{
			UserID:      userID,
			Amount:      amount,
			Kind:        EntryAdjustment,
			Description: description,
			CreatedAt:   now,
		}
		if err := s.AppendLedger(ctx, entry); err != nil {
			return err
		}
		balance = user.Balance
		return nil
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// Debit removes points following the same grants-then-balance path as a
// spend. Admin subtractions respect expiring-bonus priority too.
func (svc *Service) Debit(ctx context.Context, userID UserID, amount Points, description string) (*SpendResult, error) {
	if description == "" {
		description = "Admin debit"
	}
	return svc.Spend(ctx, userID, amount, description)
}

// GrantAll credits an event's amount to every user and records a
// non-expiring grant per user. Used for one-off manual occasions; because
// these grants never expire there is no clawback exposure.
//
// Every touched user's lock is taken before the transaction opens, in
// ascending id order so the sweep cannot deadlock against single-user
// operations. Users registering after the list is read are not granted;
// users deleted in the meantime are skipped.
func (svc *Service) GrantAll(ctx context.Context, eventID EventID) (int, error) {
	now := svc.clock.Now()

	users, err := svc.store.ListUsers(ctx)
	if err != nil {
		return 0, err
	}
	ids := make([]UserID, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	unlock := svc.locks.lockMany(ids)
	defer unlock()

	granted := 0
	err = svc.store.WithTx(ctx, func(s Store) error {
		ev, err := s.GetEvent(ctx, eventID)
		if err != nil {
			return err
		}

		for _, id := range ids {
			user, err := s.GetUser(ctx, id)
			if err != nil {
				if IsNotFound(err) {
					continue
				}
				return err
			}
			user.Balance += ev.Amount
			if err := s.SaveUser(ctx, user); err != nil {
				return err
			}

			grant := &Grant{
				UserID:    user.ID,
				Source:    EventSource(ev.ID),
				Year:      now.Year(),
				Amount:    ev.Amount,
				CreatedAt: now,
				Active:    true,
			}
			if err := s.CreateGrant(ctx, grant); err != nil {
				return err
			}

			entry := &LedgerEntry{
				UserID:      user.ID,
				Amount:      ev.Amount,
				Kind:        EntryAward,
				Description: fmt.Sprintf("Holiday bonus: %s", ev.Name),
				CreatedAt:   now,
			}
			if err := s.AppendLedger(ctx, entry); err != nil {
				return err
			}
			granted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return granted, nil
}

// =============================================================================
// REGISTRATION
// =============================================================================

// Register creates a user and credits the welcome bonus. Registering an
// already-known telegram id fails with ErrDuplicateUser.
func (svc *Service) Register(ctx context.Context, u *User) error {
	now := svc.clock.Now()
	return svc.store.WithTx(ctx, func(s Store) error {
		existing, err := s.GetUserByTelegramID(ctx, u.TelegramID)
		if err != nil && !IsNotFound(err) {
			return err
		}
		if existing != nil {
			return ErrDuplicateUser
		}

		if u.Role == "" {
			u.Role = "user"
		}
		u.Active = true
		u.Balance = svc.WelcomeBonus
		u.CreatedAt = now
		if err := s.CreateUser(ctx, u); err != nil {
			return err
		}

		if svc.WelcomeBonus > 0 {
			entry := &LedgerEntry{
				UserID:      u.ID,
				Amount:      svc.WelcomeBonus,
				Kind:        EntryWelcome,
				Description: "Welcome bonus",
				CreatedAt:   now,
			}
			if err := s.AppendLedger(ctx, entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// =============================================================================
// READ VIEWS
// =============================================================================

// History returns the user's most recent ledger entries, newest first.
func (svc *Service) History(ctx context.Context, userID UserID, limit int) ([]LedgerEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	return svc.store.LedgerByUser(ctx, userID, limit)
}

// Summary is the balance view shown after a reconcile.
type Summary struct {
	Balance        Points
	HolidayBalance Points
	Total          Points
	Bonuses        []ActiveBonus
}

// Summarize reconciles the user and returns the resulting balance split.
// The balance is read inside the reconcile transaction so the figures are
// a consistent snapshot with the bonuses.
func (svc *Service) Summarize(ctx context.Context, userID UserID) (*Summary, error) {
	unlock := svc.locks.lock(userID)
	defer unlock()

	now := svc.clock.Now()
	var summary Summary
	err := svc.store.WithTx(ctx, func(s Store) error {
		bonuses, err := svc.award.Reconcile(ctx, s, userID, now)
		if err != nil {
			return err
		}
		user, err := s.GetUser(ctx, userID)
		if err != nil {
			return err
		}

		var holiday Points
		for _, b := range bonuses {
			holiday += b.Amount
		}
		summary = Summary{
			Balance:        user.Balance,
			HolidayBalance: holiday,
			Total:          user.Balance + holiday,
			Bonuses:        bonuses,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

// =============================================================================
// PER-USER LOCKS
// =============================================================================

// userLocks serializes same-user operations. The zero value is ready to use.
type userLocks struct {
	mu    sync.Mutex
	locks map[UserID]*sync.Mutex
}

func (ul *userLocks) lock(id UserID) (unlock func()) {
	ul.mu.Lock()
	if ul.locks == nil {
		ul.locks = make(map[UserID]*sync.Mutex)
	}
	l, ok := ul.locks[id]
	if !ok {
		l = &sync.Mutex{}
		ul.locks[id] = l
	}
	ul.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// lockMany locks every id in ascending order and returns a single unlock
// releasing them in reverse. Single-user operations take one lock then the
// transaction, so the consistent ordering rules out deadlock.
func (ul *userLocks) lockMany(ids []UserID) (unlock func()) {
	sorted := append([]UserID(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	unlocks := make([]func(), 0, len(sorted))
	for _, id := range sorted {
		unlocks = append(unlocks, ul.lock(id))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}
