/*
store.go - Persistence interfaces for users, events, grants, and the ledger

PURPOSE:
  Defines the contract between the engines and the database. The engines
  receive a Store scoped to one transaction (via TxStore.WithTx), so a
  reconcile or spend either commits all of its user/grant/ledger mutations
  together or none of them.

MUTABILITY CONTRACT:
  - Users: balance and profile fields are mutable (SaveUser).
  - Events: admin-owned catalog rows; read-only to the engines.
  - Grants: Amount and Active are mutable (SaveGrant); nothing else changes
    after creation. Grants are deleted only by user-deletion cascade.
  - Ledger: APPEND-ONLY. No update, no delete. Ever.

DEDUP LOOKUP:
  HasGrantInYear answers "does this user already have a grant with this
  source counting against this occurrence year?" - the engine's only
  duplicate-award guard. The year is the Grant.Year field, not the
  creation year; the two differ for award windows opening in late
  December. It must consider every grant regardless of active flag,
  including manually granted ones, which is why it is a store-level
  indexed lookup rather than an engine-side filter.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite
  - loyalty/store: In-memory for tests

SEE ALSO:
  - award.go, spend.go: Engine-side consumers
  - service.go: Wraps every operation in WithTx
*/
package loyalty

import "context"

// =============================================================================
// STORE - Typed record access
// =============================================================================

// Store provides typed read/write access to the four record kinds. All
// engine calls go through a transaction-scoped Store.
type Store interface {
	// Users
	GetUser(ctx context.Context, id UserID) (*User, error) // ErrUserNotFound when missing
	GetUserByTelegramID(ctx context.Context, tgID int64) (*User, error)
	CreateUser(ctx context.Context, u *User) error // assigns u.ID
	SaveUser(ctx context.Context, u *User) error
	ListUsers(ctx context.Context) ([]User, error)
	DeleteUser(ctx context.Context, id UserID) error // cascades grants and ledger

	// Events
	GetEvent(ctx context.Context, id EventID) (*Event, error) // ErrEventNotFound when missing
	GetEventByName(ctx context.Context, name string) (*Event, error)
	ActiveEvents(ctx context.Context) ([]Event, error)
	ListEvents(ctx context.Context) ([]Event, error)
	CreateEvent(ctx context.Context, e *Event) error // assigns e.ID
	SaveEvent(ctx context.Context, e *Event) error
	DeleteEvent(ctx context.Context, id EventID) error

	// Grants
	CreateGrant(ctx context.Context, g *Grant) error // assigns g.ID
	SaveGrant(ctx context.Context, g *Grant) error   // persists Amount/Active only
	ActiveGrants(ctx context.Context, userID UserID) ([]Grant, error)
	GrantsByUser(ctx context.Context, userID UserID) ([]Grant, error)
	HasGrantInYear(ctx context.Context, userID UserID, source GrantSource, year int) (bool, error)

	// Ledger (append-only)
	AppendLedger(ctx context.Context, e *LedgerEntry) error
	LedgerByUser(ctx context.Context, userID UserID, limit int) ([]LedgerEntry, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support. If fn returns an error the
// transaction is rolled back, otherwise committed.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}
