/*
Package loyalty provides the core loyalty-points engine.

PURPOSE:
  This package contains the domain types and algorithms for managing a
  user's point balance together with time-bounded bonus grants: awarding
  birthday and calendar-event bonuses, expiring stale grants (with balance
  clawback), and spending down expiring grants before the general balance.

KEY CONCEPTS IN THIS FILE (types.go):
  - Points: An integer point quantity (never fractional)
  - User: A registered member with a general, non-expiring balance
  - Event: A catalog-defined recurring calendar occasion that triggers grants
  - Grant: A time-bounded bonus tracked separately from the general balance
  - GrantSource: Tagged union - a grant comes from an event or a birthday
  - LedgerEntry: An immutable audit record of a balance change

DESIGN PRINCIPLES:
  1. Grants are a tracking overlay: their value is merged into the general
     balance at creation time and clawed back at expiry. The grant's own
     amount field is the informational remainder used for spend priority.
  2. Balance and grant amounts never go negative - all debits clamp at zero.
  3. The ledger is append-only: one entry per balance-affecting operation.
  4. The engines are stateless; store and clock are explicit parameters.

USAGE:
  svc := loyalty.NewService(store, loyalty.SystemClock{})
  bonuses, err := svc.Reconcile(ctx, userID)
  result, err := svc.Spend(ctx, userID, 150, "checkout redemption")

SEE ALSO:
  - award.go: Birthday/event awarding and expiry sweep
  - spend.go: Oldest-expiry-first grant consumption
  - service.go: Transactional orchestration and per-user serialization
*/
package loyalty

import "time"

// =============================================================================
// POINTS - Integer point quantity
// =============================================================================

// Points is an integer count of loyalty points. Balances and grant amounts
// are whole points; fractional results (e.g. percentage credits) are
// truncated before they become Points.
type Points int64

func (p Points) IsPositive() bool { return p > 0 }
func (p Points) IsZero() bool     { return p == 0 }

// Min returns the smaller of two point amounts.
func (p Points) Min(o Points) Points {
	if p < o {
		return p
	}
	return o
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID int64
type EventID int64
type GrantID int64

// =============================================================================
// USER - A registered member
// =============================================================================

// User is a registered member of the loyalty program.
//
// Balance is the general, non-expiring point count. It already includes the
// nominal value of every active grant (see package comment); the derived
// "total redeemable" figure is Balance plus active unexpired grant amounts.
type User struct {
	ID         UserID
	TelegramID int64
	Username   string
	FirstName  string
	LastName   string
	Phone      string
	BirthDate  *time.Time // date-only; nil when not provided at registration
	Role       string     // "user" or "admin"
	Active     bool
	Balance    Points
	CreatedAt  time.Time
}

// =============================================================================
// EVENT - Catalog entry for a recurring calendar occasion
// =============================================================================

// Event describes a recurring calendar occasion that triggers automatic
// grants. CalendarDate carries only month and day; the year is recomputed
// per occurrence. An event without a calendar date is catalog-only and can
// only be granted manually.
type Event struct {
	ID           EventID
	Name         string // unique
	CalendarDate *MonthDay
	Amount       Points // granted per occurrence
	LeadDays     int    // days before the date the award window opens
	ValidityDays int    // days after the date a grant stays active
	Active       bool
}

// MonthDay is a calendar date with the year ignored.
type MonthDay struct {
	Month time.Month
	Day   int
}

// OccurrenceIn returns this calendar date's occurrence in the given year,
// at midnight UTC.
func (md MonthDay) OccurrenceIn(year int) time.Time {
	return time.Date(year, md.Month, md.Day, 0, 0, 0, 0, time.UTC)
}

// =============================================================================
// GRANT - A time-bounded bonus belonging to one user
// =============================================================================

// Grant is a single bonus award. Amount is the remaining value, decremented
// by spends. ExpiresAt nil means the grant never auto-expires (manual
// grant-all awards). An inactive grant is frozen: its amount is never
// decremented again and expiry never reprocesses it.
//
// Year is the occurrence year the grant was awarded for, which can differ
// from CreatedAt's year when an award window opens in late December. It is
// the third component of the duplicate-award lookup key.
type Grant struct {
	ID        GrantID
	UserID    UserID
	Source    GrantSource
	Year      int
	Amount    Points
	CreatedAt time.Time
	ExpiresAt *time.Time
	Active    bool
}

// Expired reports whether the grant's expiry has been reached at the given
// instant. Grants without an expiry never expire.
func (g Grant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && !g.ExpiresAt.After(now)
}

// =============================================================================
// GRANT SOURCE - Tagged union: event reference or birthday sentinel
// =============================================================================

// SourceKind discriminates the two grant origins.
type SourceKind string

const (
	SourceBirthday SourceKind = "birthday"
	SourceEvent    SourceKind = "event"
)

// GrantSource identifies where a grant came from. The uniform shape keeps
// the (user, source, year) dedup lookup a single indexed query for both
// birthday and event grants.
type GrantSource struct {
	Kind    SourceKind
	EventID EventID // set only when Kind == SourceEvent
}

func BirthdaySource() GrantSource        { return GrantSource{Kind: SourceBirthday} }
func EventSource(id EventID) GrantSource { return GrantSource{Kind: SourceEvent, EventID: id} }

func (s GrantSource) IsBirthday() bool { return s.Kind == SourceBirthday }

// =============================================================================
// LEDGER ENTRY - Immutable audit record of a balance change
// =============================================================================

type EntryKind string

const (
	EntryAward          EntryKind = "award"           // birthday/event/manual grant credit
	EntryExpiry         EntryKind = "expiry"          // clawback of an expired grant
	EntrySpend          EntryKind = "spend"           // redemption debit
	EntryAdjustment     EntryKind = "adjustment"      // manual admin correction
	EntryPurchaseCredit EntryKind = "purchase_credit" // percentage-of-purchase credit
	EntryWelcome        EntryKind = "welcome"         // registration bonus
)

// LedgerEntry records one signed balance change. Entries are append-only
// and never mutated or deleted by the engine.
type LedgerEntry struct {
	ID          int64
	UserID      UserID
	Amount      Points // signed: credits positive, debits negative
	Kind        EntryKind
	Description string
	CreatedAt   time.Time
}

// =============================================================================
// ACTIVE BONUS - Display view of an active, unexpired grant
// =============================================================================

// ActiveBonus is what reconciliation returns for display: the remaining
// amount of each live grant, when it burns, and where it came from.
type ActiveBonus struct {
	GrantID    GrantID
	Amount     Points
	ExpiresAt  time.Time
	DaysLeft   int
	SourceName string // event name, or "Birthday"
}
