package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/loyalty-engine/loyalty"
	"github.com/warp/loyalty-engine/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestUserRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	birth := time.Date(1990, time.May, 10, 0, 0, 0, 0, time.UTC)
	user := &loyalty.User{
		TelegramID: 42,
		Username:   "ada",
		FirstName:  "Ada",
		Phone:      "+79990001122",
		BirthDate:  &birth,
		Role:       "user",
		Active:     true,
		Balance:    200,
		CreatedAt:  time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.CreateUser(ctx, user))
	require.NotZero(t, user.ID)

	got, err := store.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.TelegramID)
	assert.Equal(t, "ada", got.Username)
	require.NotNil(t, got.BirthDate)
	assert.Equal(t, birth, *got.BirthDate)
	assert.Equal(t, loyalty.Points(200), got.Balance)

	byTG, err := store.GetUserByTelegramID(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, user.ID, byTG.ID)

	got.Balance = 450
	require.NoError(t, store.SaveUser(ctx, got))
	again, err := store.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, loyalty.Points(450), again.Balance)
}

func TestCreateUser_DuplicateTelegramID(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.CreateUser(ctx, &loyalty.User{TelegramID: 42, Role: "user", CreatedAt: time.Now()}))
	err := store.CreateUser(ctx, &loyalty.User{TelegramID: 42, Role: "user", CreatedAt: time.Now()})
	assert.ErrorIs(t, err, loyalty.ErrDuplicateUser)
}

func TestEventRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	ev := &loyalty.Event{
		Name:         "New Year",
		CalendarDate: &loyalty.MonthDay{Month: time.January, Day: 1},
		Amount:       500,
		LeadDays:     3,
		ValidityDays: 14,
		Active:       true,
	}
	require.NoError(t, store.CreateEvent(ctx, ev))

	got, err := store.GetEventByName(ctx, "New Year")
	require.NoError(t, err)
	require.NotNil(t, got.CalendarDate)
	assert.Equal(t, time.January, got.CalendarDate.Month)
	assert.Equal(t, 1, got.CalendarDate.Day)

	// Manual-only event persists a NULL calendar date.
	manual := &loyalty.Event{Name: "Store Anniversary", Amount: 300, Active: true}
	require.NoError(t, store.CreateEvent(ctx, manual))
	gotManual, err := store.GetEvent(ctx, manual.ID)
	require.NoError(t, err)
	assert.Nil(t, gotManual.CalendarDate)

	got.Active = false
	require.NoError(t, store.SaveEvent(ctx, got))
	active, err := store.ActiveEvents(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "Store Anniversary", active[0].Name)
}

func TestGrantSourceEncoding(t *testing.T) {
	// Birthday grants persist with a NULL event reference and come back as
	// birthday-sourced; event grants keep their event id.
	ctx := context.Background()
	store := newTestStore(t)

	user := &loyalty.User{TelegramID: 1, Role: "user", CreatedAt: time.Now()}
	require.NoError(t, store.CreateUser(ctx, user))
	ev := &loyalty.Event{Name: "New Year", Amount: 500, Active: true}
	require.NoError(t, store.CreateEvent(ctx, ev))

	expires := time.Date(2025, time.May, 17, 23, 59, 59, 0, time.UTC)
	birthday := &loyalty.Grant{
		UserID: user.ID, Source: loyalty.BirthdaySource(), Year: 2025, Amount: 500,
		CreatedAt: time.Date(2025, time.May, 10, 12, 0, 0, 0, time.UTC),
		ExpiresAt: &expires, Active: true,
	}
	event := &loyalty.Grant{
		UserID: user.ID, Source: loyalty.EventSource(ev.ID), Year: 2025, Amount: 500,
		CreatedAt: time.Date(2025, time.January, 1, 12, 0, 0, 0, time.UTC),
		Active:    true,
	}
	require.NoError(t, store.CreateGrant(ctx, birthday))
	require.NoError(t, store.CreateGrant(ctx, event))

	grants, err := store.GrantsByUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, grants, 2)

	for _, g := range grants {
		switch g.ID {
		case birthday.ID:
			assert.True(t, g.Source.IsBirthday())
			assert.Equal(t, 2025, g.Year)
			require.NotNil(t, g.ExpiresAt)
			assert.Equal(t, expires, *g.ExpiresAt)
		case event.ID:
			assert.Equal(t, loyalty.SourceEvent, g.Source.Kind)
			assert.Equal(t, ev.ID, g.Source.EventID)
			assert.Nil(t, g.ExpiresAt)
		}
	}
}

func TestHasGrantInYear(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	user := &loyalty.User{TelegramID: 1, Role: "user", CreatedAt: time.Now()}
	require.NoError(t, store.CreateUser(ctx, user))
	ev := &loyalty.Event{Name: "New Year", Amount: 500, Active: true}
	require.NoError(t, store.CreateEvent(ctx, ev))

	grant := &loyalty.Grant{
		UserID: user.ID, Source: loyalty.EventSource(ev.ID), Year: 2025, Amount: 500,
		CreatedAt: time.Date(2025, time.January, 2, 10, 0, 0, 0, time.UTC),
		Active:    false,
	}
	require.NoError(t, store.CreateGrant(ctx, grant))

	has, err := store.HasGrantInYear(ctx, user.ID, loyalty.EventSource(ev.ID), 2025)
	require.NoError(t, err)
	assert.True(t, has, "inactive grants still count")

	has, err = store.HasGrantInYear(ctx, user.ID, loyalty.EventSource(ev.ID), 2024)
	require.NoError(t, err)
	assert.False(t, has)

	has, err = store.HasGrantInYear(ctx, user.ID, loyalty.BirthdaySource(), 2025)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	user := &loyalty.User{TelegramID: 1, Role: "user", Balance: 100, CreatedAt: time.Now()}
	require.NoError(t, store.CreateUser(ctx, user))

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(s loyalty.Store) error {
		u, err := s.GetUser(ctx, user.ID)
		if err != nil {
			return err
		}
		u.Balance = 0
		if err := s.SaveUser(ctx, u); err != nil {
			return err
		}
		// A read inside the transaction sees the uncommitted write.
		mid, err := s.GetUser(ctx, user.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, loyalty.Points(0), mid.Balance)
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := store.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, loyalty.Points(100), got.Balance)
}

func TestLedger_NewestFirstWithLimit(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	user := &loyalty.User{TelegramID: 1, Role: "user", CreatedAt: time.Now()}
	require.NoError(t, store.CreateUser(ctx, user))

	base := time.Date(2025, time.March, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		entry := &loyalty.LedgerEntry{
			UserID: user.ID, Amount: loyalty.Points(i + 1),
			Kind: loyalty.EntryAdjustment, CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}
		require.NoError(t, store.AppendLedger(ctx, entry))
	}

	entries, err := store.LedgerByUser(ctx, user.ID, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, loyalty.Points(3), entries[0].Amount)
	assert.Equal(t, loyalty.Points(2), entries[1].Amount)
}

func TestDeleteUser_Cascades(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	user := &loyalty.User{TelegramID: 1, Role: "user", CreatedAt: time.Now()}
	require.NoError(t, store.CreateUser(ctx, user))
	require.NoError(t, store.CreateGrant(ctx, &loyalty.Grant{
		UserID: user.ID, Source: loyalty.BirthdaySource(), Amount: 10,
		CreatedAt: time.Now(), Active: true,
	}))
	require.NoError(t, store.AppendLedger(ctx, &loyalty.LedgerEntry{
		UserID: user.ID, Amount: 10, Kind: loyalty.EntryAward, CreatedAt: time.Now(),
	}))

	require.NoError(t, store.DeleteUser(ctx, user.ID))

	grants, err := store.GrantsByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, grants)

	entries, err := store.LedgerByUser(ctx, user.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGetStats(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.CreateUser(ctx, &loyalty.User{TelegramID: 1, Role: "user", Balance: 100, CreatedAt: time.Now()}))
	require.NoError(t, store.CreateUser(ctx, &loyalty.User{TelegramID: 2, Role: "user", Balance: 250, CreatedAt: time.Now()}))

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.UserCount)
	assert.Equal(t, loyalty.Points(350), stats.TotalBalance)
}
