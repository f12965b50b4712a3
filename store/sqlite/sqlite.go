/*
Package sqlite provides the SQLite-backed implementation of loyalty.TxStore.

PURPOSE:
  Persists users, the event catalog, bonus grants, and the append-only
  ledger. In production the same patterns apply to PostgreSQL - only minor
  SQL dialect differences.

KEY TABLES:
  users:  Registered members with their general balance
  events: Catalog of recurring calendar occasions
  grants: Time-bounded bonus grants (amount/active are the mutable fields)
  ledger: Immutable record of every balance change

APPEND-ONLY ENFORCEMENT:
  The ledger table has no UPDATE or DELETE path through this package.
  Rows disappear only via the user-deletion cascade.

GRANT SOURCE ENCODING:
  grants.event_id NULL means a birthday grant; non-NULL references the
  catalog event. Deleting an event sets its grants' event_id to NULL, so
  historical grants survive catalog cleanup.

DEDUP INDEX:
  idx_grants_user_event_year backs the engine's (user, source, year)
  duplicate-award lookup on award_year, the occurrence year the grant
  counts against (a late-December grant for a January event carries the
  January year). It is deliberately NOT unique: repeated manual
  grant-alls of the same event within a year are legal, and same-user
  write races are serialized above the store by the service's user lock.

TRANSACTIONS:
  WithTx routes every read and write through one database/sql transaction,
  so a reconcile sees the grants it just created and a failed unit of work
  leaves nothing behind. SQLite runs in WAL mode; a mutex serializes
  writers on top of it.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/loyalty.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - loyalty/store.go: Interface definitions
  - loyalty/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/loyalty-engine/loyalty"
)

// Store implements loyalty.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: SQLite allows a single writer anyway, and :memory:
	// databases are per-connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		telegram_id INTEGER NOT NULL UNIQUE,
		username TEXT,
		first_name TEXT,
		last_name TEXT,
		phone TEXT,
		birth_date TEXT,
		role TEXT NOT NULL DEFAULT 'user',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		balance INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_phone ON users(phone);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		calendar_date TEXT,
		amount INTEGER NOT NULL DEFAULT 0,
		lead_days INTEGER NOT NULL DEFAULT 0,
		validity_days INTEGER NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS grants (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		event_id INTEGER REFERENCES events(id) ON DELETE SET NULL,
		award_year INTEGER NOT NULL,
		amount INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		expires_at TEXT,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);

	-- Hot path: active-grant scans per user
	CREATE INDEX IF NOT EXISTS idx_grants_user_active
		ON grants(user_id, is_active);

	-- Backs the (user, source, year) duplicate-award lookup
	CREATE INDEX IF NOT EXISTS idx_grants_user_event_year
		ON grants(user_id, event_id, award_year);

	-- Append-only ledger of balance changes
	CREATE TABLE IF NOT EXISTS ledger (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		amount INTEGER NOT NULL,
		kind TEXT NOT NULL,
		description TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_user_created
		ON ledger(user_id, created_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

var _ loyalty.TxStore = (*Store)(nil)

// =============================================================================
// EXECUTOR - Shared query surface for *sql.DB and *sql.Tx
// =============================================================================

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// USERS
// =============================================================================

const userColumns = `id, telegram_id, username, first_name, last_name, phone,
	birth_date, role, is_active, balance, created_at`

func (s *Store) GetUser(ctx context.Context, id loyalty.UserID) (*loyalty.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return getUser(ctx, s.db, id)
}

func getUser(ctx context.Context, db execer, id loyalty.UserID) (*loyalty.User, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (s *Store) GetUserByTelegramID(ctx context.Context, tgID int64) (*loyalty.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return getUserByTelegramID(ctx, s.db, tgID)
}

func getUserByTelegramID(ctx context.Context, db execer, tgID int64) (*loyalty.User, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE telegram_id = ?`, tgID)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*loyalty.User, error) {
	var (
		u         loyalty.User
		username  sql.NullString
		firstName sql.NullString
		lastName  sql.NullString
		phone     sql.NullString
		birthDate sql.NullString
		createdAt string
	)
	err := row.Scan(&u.ID, &u.TelegramID, &username, &firstName, &lastName,
		&phone, &birthDate, &u.Role, &u.Active, &u.Balance, &createdAt)
	if err == sql.ErrNoRows {
		return nil, loyalty.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	u.Username = username.String
	u.FirstName = firstName.String
	u.LastName = lastName.String
	u.Phone = phone.String
	if birthDate.Valid {
		if t, err := time.Parse("2006-01-02", birthDate.String); err == nil {
			u.BirthDate = &t
		}
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, u *loyalty.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createUser(ctx, s.db, u)
}

func createUser(ctx context.Context, db execer, u *loyalty.User) error {
	res, err := db.ExecContext(ctx, `
		INSERT INTO users (telegram_id, username, first_name, last_name, phone,
			birth_date, role, is_active, balance, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.TelegramID,
		nullString(u.Username),
		nullString(u.FirstName),
		nullString(u.LastName),
		nullString(u.Phone),
		nullDate(u.BirthDate),
		u.Role,
		u.Active,
		u.Balance,
		u.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return loyalty.ErrDuplicateUser
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = loyalty.UserID(id)
	return nil
}

func (s *Store) SaveUser(ctx context.Context, u *loyalty.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveUser(ctx, s.db, u)
}

func saveUser(ctx context.Context, db execer, u *loyalty.User) error {
	res, err := db.ExecContext(ctx, `
		UPDATE users SET username = ?, first_name = ?, last_name = ?, phone = ?,
			birth_date = ?, role = ?, is_active = ?, balance = ?
		WHERE id = ?`,
		nullString(u.Username),
		nullString(u.FirstName),
		nullString(u.LastName),
		nullString(u.Phone),
		nullDate(u.BirthDate),
		u.Role,
		u.Active,
		u.Balance,
		u.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return loyalty.ErrUserNotFound
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]loyalty.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return listUsers(ctx, s.db)
}

func listUsers(ctx context.Context, db execer) ([]loyalty.User, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []loyalty.User
	for rows.Next() {
		var (
			u         loyalty.User
			username  sql.NullString
			firstName sql.NullString
			lastName  sql.NullString
			phone     sql.NullString
			birthDate sql.NullString
			createdAt string
		)
		if err := rows.Scan(&u.ID, &u.TelegramID, &username, &firstName, &lastName,
			&phone, &birthDate, &u.Role, &u.Active, &u.Balance, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		u.Username = username.String
		u.FirstName = firstName.String
		u.LastName = lastName.String
		u.Phone = phone.String
		if birthDate.Valid {
			if t, err := time.Parse("2006-01-02", birthDate.String); err == nil {
				u.BirthDate = &t
			}
		}
		u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) DeleteUser(ctx context.Context, id loyalty.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteUser(ctx, s.db, id)
}

func deleteUser(ctx context.Context, db execer, id loyalty.UserID) error {
	res, err := db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return loyalty.ErrUserNotFound
	}
	return nil
}

// =============================================================================
// EVENTS
// =============================================================================

const eventColumns = `id, name, calendar_date, amount, lead_days, validity_days, is_active`

func (s *Store) GetEvent(ctx context.Context, id loyalty.EventID) (*loyalty.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return getEvent(ctx, s.db, id)
}

func getEvent(ctx context.Context, db execer, id loyalty.EventID) (*loyalty.Event, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	return scanEvent(row)
}

func (s *Store) GetEventByName(ctx context.Context, name string) (*loyalty.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return getEventByName(ctx, s.db, name)
}

func getEventByName(ctx context.Context, db execer, name string) (*loyalty.Event, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE name = ?`, name)
	return scanEvent(row)
}

func scanEvent(row *sql.Row) (*loyalty.Event, error) {
	var (
		e            loyalty.Event
		calendarDate sql.NullString
	)
	err := row.Scan(&e.ID, &e.Name, &calendarDate, &e.Amount,
		&e.LeadDays, &e.ValidityDays, &e.Active)
	if err == sql.ErrNoRows {
		return nil, loyalty.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}
	e.CalendarDate = parseMonthDay(calendarDate)
	return &e, nil
}

func (s *Store) ActiveEvents(ctx context.Context) ([]loyalty.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queryEvents(ctx, s.db,
		`SELECT `+eventColumns+` FROM events WHERE is_active ORDER BY id`)
}

func (s *Store) ListEvents(ctx context.Context) ([]loyalty.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queryEvents(ctx, s.db,
		`SELECT `+eventColumns+` FROM events ORDER BY id`)
}

func queryEvents(ctx context.Context, db execer, query string, args ...any) ([]loyalty.Event, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []loyalty.Event
	for rows.Next() {
		var (
			e            loyalty.Event
			calendarDate sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Name, &calendarDate, &e.Amount,
			&e.LeadDays, &e.ValidityDays, &e.Active); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.CalendarDate = parseMonthDay(calendarDate)
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *Store) CreateEvent(ctx context.Context, e *loyalty.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createEvent(ctx, s.db, e)
}

func createEvent(ctx context.Context, db execer, e *loyalty.Event) error {
	res, err := db.ExecContext(ctx, `
		INSERT INTO events (name, calendar_date, amount, lead_days, validity_days, is_active)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.Name, formatMonthDay(e.CalendarDate), e.Amount, e.LeadDays, e.ValidityDays, e.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = loyalty.EventID(id)
	return nil
}

func (s *Store) SaveEvent(ctx context.Context, e *loyalty.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveEvent(ctx, s.db, e)
}

func saveEvent(ctx context.Context, db execer, e *loyalty.Event) error {
	res, err := db.ExecContext(ctx, `
		UPDATE events SET name = ?, calendar_date = ?, amount = ?,
			lead_days = ?, validity_days = ?, is_active = ?
		WHERE id = ?`,
		e.Name, formatMonthDay(e.CalendarDate), e.Amount, e.LeadDays, e.ValidityDays, e.Active, e.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return loyalty.ErrEventNotFound
	}
	return nil
}

func (s *Store) DeleteEvent(ctx context.Context, id loyalty.EventID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteEvent(ctx, s.db, id)
}

func deleteEvent(ctx context.Context, db execer, id loyalty.EventID) error {
	res, err := db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return loyalty.ErrEventNotFound
	}
	return nil
}

// =============================================================================
// GRANTS
// =============================================================================

const grantColumns = `id, user_id, event_id, award_year, amount, created_at, expires_at, is_active`

func (s *Store) CreateGrant(ctx context.Context, g *loyalty.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createGrant(ctx, s.db, g)
}

func createGrant(ctx context.Context, db execer, g *loyalty.Grant) error {
	res, err := db.ExecContext(ctx, `
		INSERT INTO grants (user_id, event_id, award_year, amount, created_at, expires_at, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		g.UserID,
		sourceEventID(g.Source),
		g.Year,
		g.Amount,
		g.CreatedAt.UTC().Format(time.RFC3339),
		nullTime(g.ExpiresAt),
		g.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to create grant: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	g.ID = loyalty.GrantID(id)
	return nil
}

// SaveGrant persists the mutable fields only: remaining amount and the
// active flag. Everything else is frozen at creation.
func (s *Store) SaveGrant(ctx context.Context, g *loyalty.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveGrant(ctx, s.db, g)
}

func saveGrant(ctx context.Context, db execer, g *loyalty.Grant) error {
	res, err := db.ExecContext(ctx,
		`UPDATE grants SET amount = ?, is_active = ? WHERE id = ?`,
		g.Amount, g.Active, g.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to save grant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return loyalty.ErrGrantNotFound
	}
	return nil
}

const activeGrantsQuery = `SELECT ` + grantColumns + ` FROM grants
	WHERE user_id = ? AND is_active
	ORDER BY expires_at IS NULL, expires_at ASC, id ASC`

func (s *Store) ActiveGrants(ctx context.Context, userID loyalty.UserID) ([]loyalty.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queryGrants(ctx, s.db, activeGrantsQuery, userID)
}

func (s *Store) GrantsByUser(ctx context.Context, userID loyalty.UserID) ([]loyalty.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return queryGrants(ctx, s.db,
		`SELECT `+grantColumns+` FROM grants WHERE user_id = ? ORDER BY id ASC`, userID)
}

func queryGrants(ctx context.Context, db execer, query string, args ...any) ([]loyalty.Grant, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query grants: %w", err)
	}
	defer rows.Close()

	var grants []loyalty.Grant
	for rows.Next() {
		var (
			g         loyalty.Grant
			eventID   sql.NullInt64
			createdAt string
			expiresAt sql.NullString
		)
		if err := rows.Scan(&g.ID, &g.UserID, &eventID, &g.Year, &g.Amount,
			&createdAt, &expiresAt, &g.Active); err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		if eventID.Valid {
			g.Source = loyalty.EventSource(loyalty.EventID(eventID.Int64))
		} else {
			g.Source = loyalty.BirthdaySource()
		}
		g.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		if expiresAt.Valid {
			if t, err := time.Parse(time.RFC3339, expiresAt.String); err == nil {
				g.ExpiresAt = &t
			}
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// HasGrantInYear backs the engine's duplicate-award check: does the user
// already have a grant with this source counting against this occurrence
// year? The active flag is deliberately ignored.
func (s *Store) HasGrantInYear(ctx context.Context, userID loyalty.UserID, source loyalty.GrantSource, year int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return hasGrantInYear(ctx, s.db, userID, source, year)
}

func hasGrantInYear(ctx context.Context, db execer, userID loyalty.UserID, source loyalty.GrantSource, year int) (bool, error) {
	var (
		query string
		args  []any
	)
	if source.IsBirthday() {
		query = `SELECT COUNT(*) FROM grants
			WHERE user_id = ? AND event_id IS NULL AND award_year = ?`
		args = []any{userID, year}
	} else {
		query = `SELECT COUNT(*) FROM grants
			WHERE user_id = ? AND event_id = ? AND award_year = ?`
		args = []any{userID, source.EventID, year}
	}

	var count int
	if err := db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check grant year: %w", err)
	}
	return count > 0, nil
}

// =============================================================================
// LEDGER (append-only)
// =============================================================================

func (s *Store) AppendLedger(ctx context.Context, e *loyalty.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendLedger(ctx, s.db, e)
}

func appendLedger(ctx context.Context, db execer, e *loyalty.LedgerEntry) error {
	res, err := db.ExecContext(ctx, `
		INSERT INTO ledger (user_id, amount, kind, description, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.UserID, e.Amount, e.Kind, e.Description, e.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = id
	return nil
}

func (s *Store) LedgerByUser(ctx context.Context, userID loyalty.UserID, limit int) ([]loyalty.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ledgerByUser(ctx, s.db, userID, limit)
}

func ledgerByUser(ctx context.Context, db execer, userID loyalty.UserID, limit int) ([]loyalty.LedgerEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, amount, kind, description, created_at
		FROM ledger
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var entries []loyalty.LedgerEntry
	for rows.Next() {
		var (
			e           loyalty.LedgerEntry
			description sql.NullString
			createdAt   string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &e.Kind, &description, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.Description = description.String
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within one database transaction. Every read and write
// fn makes through the provided Store goes through the same transaction.
func (s *Store) WithTx(ctx context.Context, fn func(loyalty.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// txStore is a transaction-scoped view. It holds no mutex: the parent's
// lock is held for the duration of WithTx.
type txStore struct {
	tx *sql.Tx
}

var _ loyalty.Store = (*txStore)(nil)

func (ts *txStore) GetUser(ctx context.Context, id loyalty.UserID) (*loyalty.User, error) {
	return getUser(ctx, ts.tx, id)
}

func (ts *txStore) GetUserByTelegramID(ctx context.Context, tgID int64) (*loyalty.User, error) {
	return getUserByTelegramID(ctx, ts.tx, tgID)
}

func (ts *txStore) CreateUser(ctx context.Context, u *loyalty.User) error {
	return createUser(ctx, ts.tx, u)
}

func (ts *txStore) SaveUser(ctx context.Context, u *loyalty.User) error {
	return saveUser(ctx, ts.tx, u)
}

func (ts *txStore) ListUsers(ctx context.Context) ([]loyalty.User, error) {
	return listUsers(ctx, ts.tx)
}

func (ts *txStore) DeleteUser(ctx context.Context, id loyalty.UserID) error {
	return deleteUser(ctx, ts.tx, id)
}

func (ts *txStore) GetEvent(ctx context.Context, id loyalty.EventID) (*loyalty.Event, error) {
	return getEvent(ctx, ts.tx, id)
}

func (ts *txStore) GetEventByName(ctx context.Context, name string) (*loyalty.Event, error) {
	return getEventByName(ctx, ts.tx, name)
}

func (ts *txStore) ActiveEvents(ctx context.Context) ([]loyalty.Event, error) {
	return queryEvents(ctx, ts.tx,
		`SELECT `+eventColumns+` FROM events WHERE is_active ORDER BY id`)
}

func (ts *txStore) ListEvents(ctx context.Context) ([]loyalty.Event, error) {
	return queryEvents(ctx, ts.tx,
		`SELECT `+eventColumns+` FROM events ORDER BY id`)
}

func (ts *txStore) CreateEvent(ctx context.Context, e *loyalty.Event) error {
	return createEvent(ctx, ts.tx, e)
}

func (ts *txStore) SaveEvent(ctx context.Context, e *loyalty.Event) error {
	return saveEvent(ctx, ts.tx, e)
}

func (ts *txStore) DeleteEvent(ctx context.Context, id loyalty.EventID) error {
	return deleteEvent(ctx, ts.tx, id)
}

func (ts *txStore) CreateGrant(ctx context.Context, g *loyalty.Grant) error {
	return createGrant(ctx, ts.tx, g)
}

func (ts *txStore) SaveGrant(ctx context.Context, g *loyalty.Grant) error {
	return saveGrant(ctx, ts.tx, g)
}

func (ts *txStore) ActiveGrants(ctx context.Context, userID loyalty.UserID) ([]loyalty.Grant, error) {
	return queryGrants(ctx, ts.tx, activeGrantsQuery, userID)
}

func (ts *txStore) GrantsByUser(ctx context.Context, userID loyalty.UserID) ([]loyalty.Grant, error) {
	return queryGrants(ctx, ts.tx,
		`SELECT `+grantColumns+` FROM grants WHERE user_id = ? ORDER BY id ASC`, userID)
}

func (ts *txStore) HasGrantInYear(ctx context.Context, userID loyalty.UserID, source loyalty.GrantSource, year int) (bool, error) {
	return hasGrantInYear(ctx, ts.tx, userID, source, year)
}

func (ts *txStore) AppendLedger(ctx context.Context, e *loyalty.LedgerEntry) error {
	return appendLedger(ctx, ts.tx, e)
}

func (ts *txStore) LedgerByUser(ctx context.Context, userID loyalty.UserID, limit int) ([]loyalty.LedgerEntry, error) {
	return ledgerByUser(ctx, ts.tx, userID, limit)
}

// =============================================================================
// STATS (admin views)
// =============================================================================

// Stats summarizes the user base for the admin dashboard.
type Stats struct {
	UserCount    int            `json:"user_count"`
	TotalBalance loyalty.Points `json:"total_balance"`
}

// GetStats returns the user count and the sum of all general balances.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(balance), 0) FROM users`,
	).Scan(&st.UserCount, &st.TotalBalance)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to query stats: %w", err)
	}
	return st, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format("2006-01-02"), Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func sourceEventID(src loyalty.GrantSource) sql.NullInt64 {
	if src.IsBirthday() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(src.EventID), Valid: true}
}

// Calendar dates persist as "MM-DD"; the year is irrelevant.
func formatMonthDay(md *loyalty.MonthDay) sql.NullString {
	if md == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: fmt.Sprintf("%02d-%02d", md.Month, md.Day), Valid: true}
}

func parseMonthDay(s sql.NullString) *loyalty.MonthDay {
	if !s.Valid {
		return nil
	}
	var month, day int
	if _, err := fmt.Sscanf(s.String, "%d-%d", &month, &day); err != nil {
		return nil
	}
	return &loyalty.MonthDay{Month: time.Month(month), Day: day}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
