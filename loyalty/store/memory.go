// Package store provides an in-memory loyalty.TxStore for tests and dev.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/loyalty-engine/loyalty"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	users  map[loyalty.UserID]loyalty.User
	events map[loyalty.EventID]loyalty.Event
	grants map[loyalty.GrantID]loyalty.Grant
	ledger []loyalty.LedgerEntry

	nextUser  loyalty.UserID
	nextEvent loyalty.EventID
	nextGrant loyalty.GrantID
	nextEntry int64
}

func NewMemory() *Memory {
	return &Memory{
		users:     make(map[loyalty.UserID]loyalty.User),
		events:    make(map[loyalty.EventID]loyalty.Event),
		grants:    make(map[loyalty.GrantID]loyalty.Grant),
		nextUser:  1,
		nextEvent: 1,
		nextGrant: 1,
		nextEntry: 1,
	}
}

var _ loyalty.TxStore = (*Memory)(nil)

// -----------------------------------------------------------------------------
// Users
// -----------------------------------------------------------------------------

func (m *Memory) GetUser(_ context.Context, id loyalty.UserID) (*loyalty.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, loyalty.ErrUserNotFound
	}
	return &u, nil
}

func (m *Memory) GetUserByTelegramID(_ context.Context, tgID int64) (*loyalty.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.TelegramID == tgID {
			u := u
			return &u, nil
		}
	}
	return nil, loyalty.ErrUserNotFound
}

func (m *Memory) CreateUser(_ context.Context, u *loyalty.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.ID = m.nextUser
	m.nextUser++
	m.users[u.ID] = *u
	return nil
}

func (m *Memory) SaveUser(_ context.Context, u *loyalty.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; !ok {
		return loyalty.ErrUserNotFound
	}
	m.users[u.ID] = *u
	return nil
}

func (m *Memory) ListUsers(_ context.Context) ([]loyalty.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	users := make([]loyalty.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (m *Memory) DeleteUser(_ context.Context, id loyalty.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return loyalty.ErrUserNotFound
	}
	delete(m.users, id)

	// Cascade: grants and ledger entries go with the user.
	for gid, g := range m.grants {
		if g.UserID == id {
			delete(m.grants, gid)
		}
	}
	kept := m.ledger[:0]
	for _, e := range m.ledger {
		if e.UserID != id {
			kept = append(kept, e)
		}
	}
	m.ledger = kept
	return nil
}

// -----------------------------------------------------------------------------
// Events
// -----------------------------------------------------------------------------

func (m *Memory) GetEvent(_ context.Context, id loyalty.EventID) (*loyalty.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.events[id]
	if !ok {
		return nil, loyalty.ErrEventNotFound
	}
	return &e, nil
}

func (m *Memory) GetEventByName(_ context.Context, name string) (*loyalty.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.events {
		if e.Name == name {
			e := e
			return &e, nil
		}
	}
	return nil, loyalty.ErrEventNotFound
}

func (m *Memory) ActiveEvents(_ context.Context) ([]loyalty.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var events []loyalty.Event
	for _, e := range m.events {
		if e.Active {
			events = append(events, e)
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].ID < events[j].ID })
	return events, nil
}

func (m *Memory) ListEvents(_ context.Context) ([]loyalty.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := make([]loyalty.Event, 0, len(m.events))
	for _, e := range m.events {
		events = append(events, e)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].ID < events[j].ID })
	return events, nil
}

func (m *Memory) CreateEvent(_ context.Context, e *loyalty.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = m.nextEvent
	m.nextEvent++
	m.events[e.ID] = *e
	return nil
}

func (m *Memory) SaveEvent(_ context.Context, e *loyalty.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[e.ID]; !ok {
		return loyalty.ErrEventNotFound
	}
	m.events[e.ID] = *e
	return nil
}

func (m *Memory) DeleteEvent(_ context.Context, id loyalty.EventID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[id]; !ok {
		return loyalty.ErrEventNotFound
	}
	delete(m.events, id)
	return nil
}

// -----------------------------------------------------------------------------
// Grants
// -----------------------------------------------------------------------------

func (m *Memory) CreateGrant(_ context.Context, g *loyalty.Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g.ID = m.nextGrant
	m.nextGrant++
	m.grants[g.ID] = *g
	return nil
}

func (m *Memory) SaveGrant(_ context.Context, g *loyalty.Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.grants[g.ID]
	if !ok {
		return loyalty.ErrGrantNotFound
	}
	// Only the mutable fields move.
	stored.Amount = g.Amount
	stored.Active = g.Active
	m.grants[g.ID] = stored
	return nil
}

func (m *Memory) ActiveGrants(_ context.Context, userID loyalty.UserID) ([]loyalty.Grant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var grants []loyalty.Grant
	for _, g := range m.grants {
		if g.UserID == userID && g.Active {
			grants = append(grants, g)
		}
	}
	sort.Slice(grants, func(i, j int) bool { return grants[i].ID < grants[j].ID })
	return grants, nil
}

func (m *Memory) GrantsByUser(_ context.Context, userID loyalty.UserID) ([]loyalty.Grant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var grants []loyalty.Grant
	for _, g := range m.grants {
		if g.UserID == userID {
			grants = append(grants, g)
		}
	}
	sort.Slice(grants, func(i, j int) bool { return grants[i].ID < grants[j].ID })
	return grants, nil
}

func (m *Memory) HasGrantInYear(_ context.Context, userID loyalty.UserID, source loyalty.GrantSource, year int) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, g := range m.grants {
		if g.UserID != userID || g.Source.Kind != source.Kind || g.Source.EventID != source.EventID {
			continue
		}
		if g.Year == year {
			return true, nil
		}
	}
	return false, nil
}

// -----------------------------------------------------------------------------
// Ledger
// -----------------------------------------------------------------------------

func (m *Memory) AppendLedger(_ context.Context, e *loyalty.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = m.nextEntry
	m.nextEntry++
	m.ledger = append(m.ledger, *e)
	return nil
}

func (m *Memory) LedgerByUser(_ context.Context, userID loyalty.UserID, limit int) ([]loyalty.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var entries []loyalty.LedgerEntry
	for i := len(m.ledger) - 1; i >= 0 && len(entries) < limit; i-- {
		if m.ledger[i].UserID == userID {
			entries = append(entries, m.ledger[i])
		}
	}
	return entries, nil
}

// =============================================================================
// TRANSACTIONS - Snapshot + rollback on error
// =============================================================================

// WithTx executes fn against the store. On error the pre-call state is
// restored, simulating a rolled-back database transaction.
//
// Transactions are serialized by txMu for the full snapshot-to-restore
// span: a rollback reinstates the snapshot wholesale, which is only
// correct when no other transaction committed in between. Writes made
// outside any transaction while one is open are rolled back with it.
func (m *Memory) WithTx(ctx context.Context, fn func(loyalty.Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	snap := m.snapshot()
	if err := fn(m); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	users  map[loyalty.UserID]loyalty.User
	events map[loyalty.EventID]loyalty.Event
	grants map[loyalty.GrantID]loyalty.Grant
	ledger []loyalty.LedgerEntry

	nextUser  loyalty.UserID
	nextEvent loyalty.EventID
	nextGrant loyalty.GrantID
	nextEntry int64
}

func (m *Memory) snapshot() memorySnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make(map[loyalty.UserID]loyalty.User, len(m.users))
	for k, v := range m.users {
		users[k] = v
	}
	events := make(map[loyalty.EventID]loyalty.Event, len(m.events))
	for k, v := range m.events {
		events[k] = v
	}
	grants := make(map[loyalty.GrantID]loyalty.Grant, len(m.grants))
	for k, v := range m.grants {
		grants[k] = v
	}
	return memorySnapshot{
		users:     users,
		events:    events,
		grants:    grants,
		ledger:    append([]loyalty.LedgerEntry{}, m.ledger...),
		nextUser:  m.nextUser,
		nextEvent: m.nextEvent,
		nextGrant: m.nextGrant,
		nextEntry: m.nextEntry,
	}
}

func (m *Memory) restore(s memorySnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = s.users
	m.events = s.events
	m.grants = s.grants
	m.ledger = s.ledger
	m.nextUser = s.nextUser
	m.nextEvent = s.nextEvent
	m.nextGrant = s.nextGrant
	m.nextEntry = s.nextEntry
}
