/*
award.go - Award engine: expiry sweep, birthday bonus, calendar-event bonuses

PURPOSE:
  Brings one user's grants up to date for "today". Called lazily before any
  balance-sensitive screen: there is no background scheduler, so an event is
  only ever detected when the affected user interacts inside its window.

RECONCILE ORDER (fixed):
  1. Expire pass  - claw back expired grants from the general balance
  2. Birthday pass - +BirthdayBonus on the user's month/day, once per year
  3. Event pass   - catalog events whose award window contains today,
                    once per event per year

  Expiry always runs first so that a grant expiring on the same boundary
  day an award fires is cleared before the award passes look at the ledger
  of existing grants.

DEDUP:
  "Already awarded this year" is an indexed lookup on (user, source, year)
  via Store.HasGrantInYear, where year is the occurrence year recorded on
  the grant, not the creation year. The two differ when a lead window opens
  in late December for a January event: the grant is created in December
  but belongs to next year's occurrence. Inactive and manually-created
  grants count. The same-user race this check leaves open is closed by the
  Service's per-user lock, not here.

CLAWBACK ARITHMETIC:
  A grant's value was merged into the general balance at creation time, so
  expiry subtracts min(balance, remaining grant amount) - the balance never
  goes negative, and any shortfall (balance already spent below the grant's
  remainder) is silently written off. Only a non-zero clawback produces a
  ledger entry; the grant is deactivated either way.

SEE ALSO:
  - spend.go: Consumes active grants oldest-expiry-first
  - service.go: Runs Reconcile inside a transaction under the user lock
*/
package loyalty

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// =============================================================================
// DEFAULTS
// =============================================================================

const (
	// DefaultBirthdayBonus is credited on the user's birthday.
	DefaultBirthdayBonus Points = 500

	// DefaultBirthdayValidityDays is how long a birthday grant stays active.
	DefaultBirthdayValidityDays = 7
)

// =============================================================================
// AWARD ENGINE
// =============================================================================

// AwardEngine decides which grants to create and which to expire. It is
// stateless: the store (already transaction-scoped) and the current instant
// are parameters of every call.
type AwardEngine struct {
	BirthdayBonus        Points
	BirthdayValidityDays int
}

// NewAwardEngine returns an engine with the default birthday policy.
func NewAwardEngine() *AwardEngine {
	return &AwardEngine{
		BirthdayBonus:        DefaultBirthdayBonus,
		BirthdayValidityDays: DefaultBirthdayValidityDays,
	}
}

// Reconcile expires stale grants and awards any due birthday/event bonuses
// for the user, then returns the active unexpired grants for display.
//
// Idempotent within a calendar day: the per-year dedup is the only guard,
// which is sufficient at daily granularity. All mutations happen on the
// given store; the caller owns atomicity.
func (e *AwardEngine) Reconcile(ctx context.Context, s Store, userID UserID, now time.Time) ([]ActiveBonus, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := e.expirePass(ctx, s, user, now); err != nil {
		return nil, err
	}
	if err := e.birthdayPass(ctx, s, user, now); err != nil {
		return nil, err
	}
	if err := e.eventPass(ctx, s, user, now); err != nil {
		return nil, err
	}
	if err := s.SaveUser(ctx, user); err != nil {
		return nil, err
	}

	return e.activeBonuses(ctx, s, userID, now)
}

// -----------------------------------------------------------------------------
// Pass 1: expiry sweep
// -----------------------------------------------------------------------------

func (e *AwardEngine) expirePass(ctx context.Context, s Store, user *User, now time.Time) error {
	grants, err := s.ActiveGrants(ctx, user.ID)
	if err != nil {
		return err
	}

	for i := range grants {
		g := &grants[i]
		if !g.Expired(now) {
			continue
		}

		// Claw back from the general balance, clamped at zero.
		clawed := user.Balance.Min(g.Amount)
		if clawed > 0 {
			user.Balance -= clawed
			name, err := e.sourceName(ctx, s, g.Source)
			if err != nil {
				return err
			}
			entry := &LedgerEntry{
				UserID:      user.ID,
				Amount:      -clawed,
				Kind:        EntryExpiry,
				Description: fmt.Sprintf("Holiday bonus expired (%s)", name),
				CreatedAt:   now,
			}
			if err := s.AppendLedger(ctx, entry); err != nil {
				return err
			}
		}

		g.Active = false
		if err := s.SaveGrant(ctx, g); err != nil {
			return err
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Pass 2: birthday bonus
// -----------------------------------------------------------------------------

func (e *AwardEngine) birthdayPass(ctx context.Context, s Store, user *User, now time.Time) error {
	if user.BirthDate == nil {
		return nil
	}
	if !SameMonthDay(*user.BirthDate, now) {
		return nil
	}

	awarded, err := s.HasGrantInYear(ctx, user.ID, BirthdaySource(), now.Year())
	if err != nil {
		return err
	}
	if awarded {
		return nil
	}

	expiresAt := now.AddDate(0, 0, e.BirthdayValidityDays)
	return e.award(ctx, s, user, BirthdaySource(), now.Year(), e.BirthdayBonus, &expiresAt,
		"Birthday bonus", now)
}

// -----------------------------------------------------------------------------
// Pass 3: calendar events
// -----------------------------------------------------------------------------

func (e *AwardEngine) eventPass(ctx context.Context, s Store, user *User, now time.Time) error {
	events, err := s.ActiveEvents(ctx)
	if err != nil {
		return err
	}

	for _, ev := range events {
		if ev.CalendarDate == nil {
			// Catalog-only event: manual grants only.
			continue
		}

		// Windows can straddle Dec 31: a January event with lead days is
		// awardable in late December (next year's occurrence), and a
		// December event with validity days is still awardable in early
		// January (last year's occurrence). Check all three candidates.
		for _, year := range []int{now.Year() - 1, now.Year(), now.Year() + 1} {
			occurrence := ev.CalendarDate.OccurrenceIn(year)
			window := AwardWindow(occurrence, ev.LeadDays, ev.ValidityDays)
			if !window.Contains(now) {
				continue
			}

			awarded, err := s.HasGrantInYear(ctx, user.ID, EventSource(ev.ID), year)
			if err != nil {
				return err
			}
			if awarded {
				continue
			}

			expiresAt := EndOfDay(window.End)
			desc := fmt.Sprintf("Holiday bonus: %s", ev.Name)
			if err := e.award(ctx, s, user, EventSource(ev.ID), year, ev.Amount, &expiresAt, desc, now); err != nil {
				return err
			}
		}
	}
	return nil
}

// award credits the balance, records the grant, and appends the ledger entry.
// year is the occurrence year the grant counts against for dedup.
func (e *AwardEngine) award(ctx context.Context, s Store, user *User, source GrantSource, year int, amount Points, expiresAt *time.Time, desc string, now time.Time) error {
	user.Balance += amount

	grant := &Grant{
		UserID:    user.ID,
		Source:    source,
		Year:      year,
		Amount:    amount,
		CreatedAt: now,
		ExpiresAt: expiresAt,
		Active:    true,
	}
	if err := s.CreateGrant(ctx, grant); err != nil {
		return err
	}

	entry := &LedgerEntry{
		UserID:      user.ID,
		Amount:      amount,
		Kind:        EntryAward,
		Description: desc,
		CreatedAt:   now,
	}
	return s.AppendLedger(ctx, entry)
}

// -----------------------------------------------------------------------------
// Display view
// -----------------------------------------------------------------------------

func (e *AwardEngine) activeBonuses(ctx context.Context, s Store, userID UserID, now time.Time) ([]ActiveBonus, error) {
	grants, err := s.ActiveGrants(ctx, userID)
	if err != nil {
		return nil, err
	}

	var bonuses []ActiveBonus
	for _, g := range grants {
		if g.ExpiresAt == nil || g.Expired(now) {
			continue
		}
		name, err := e.sourceName(ctx, s, g.Source)
		if err != nil {
			return nil, err
		}
		bonuses = append(bonuses, ActiveBonus{
			GrantID:    g.ID,
			Amount:     g.Amount,
			ExpiresAt:  *g.ExpiresAt,
			DaysLeft:   DaysUntil(now, *g.ExpiresAt),
			SourceName: name,
		})
	}

	sort.Slice(bonuses, func(i, j int) bool {
		return bonuses[i].ExpiresAt.Before(bonuses[j].ExpiresAt)
	})
	return bonuses, nil
}

func (e *AwardEngine) sourceName(ctx context.Context, s Store, source GrantSource) (string, error) {
	if source.IsBirthday() {
		return "Birthday", nil
	}
	ev, err := s.GetEvent(ctx, source.EventID)
	if err != nil {
		if IsNotFound(err) {
			// Event deleted after the grant was made; keep the grant readable.
			return "Holiday", nil
		}
		return "", err
	}
	return ev.Name, nil
}
