package loyalty_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/loyalty-engine/loyalty"
	memstore "github.com/warp/loyalty-engine/loyalty/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 12, 0, 0, 0, time.UTC)
}

func newTestUser(t *testing.T, s loyalty.Store, birth *time.Time, balance loyalty.Points) *loyalty.User {
	t.Helper()
	u := &loyalty.User{
		TelegramID: time.Now().UnixNano(),
		FirstName:  "Test",
		Role:       "user",
		Active:     true,
		BirthDate:  birth,
		Balance:    balance,
		CreatedAt:  date(2024, time.January, 1),
	}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func newYearEvent(t *testing.T, s loyalty.Store) *loyalty.Event {
	t.Helper()
	ev := &loyalty.Event{
		Name:         "New Year",
		CalendarDate: &loyalty.MonthDay{Month: time.January, Day: 1},
		Amount:       500,
		LeadDays:     3,
		ValidityDays: 14,
		Active:       true,
	}
	require.NoError(t, s.CreateEvent(context.Background(), ev))
	return ev
}

func defenderEvent(t *testing.T, s loyalty.Store) *loyalty.Event {
	t.Helper()
	ev := &loyalty.Event{
		Name:         "Defender of the Fatherland Day",
		CalendarDate: &loyalty.MonthDay{Month: time.February, Day: 23},
		Amount:       500,
		LeadDays:     3,
		ValidityDays: 14,
		Active:       true,
	}
	require.NoError(t, s.CreateEvent(context.Background(), ev))
	return ev
}

// =============================================================================
// BIRTHDAY BONUS
// =============================================================================

func TestBirthday_AwardedOnTheDay(t *testing.T) {
	// GIVEN: A user born May 10 with a zero balance
	// WHEN: Reconciling on May 10
	// THEN: +500 on the balance, one active bonus expiring in 7 days

	ctx := context.Background()
	mem := memstore.NewMemory()
	engine := loyalty.NewAwardEngine()

	birth := date(1990, time.May, 10)
	user := newTestUser(t, mem, &birth, 0)

	now := date(2025, time.May, 10)
	bonuses, err := engine.Reconcile(ctx, mem, user.ID, now)
	require.NoError(t, err)

	got, err := mem.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, loyalty.Points(500), got.Balance)

	require.Len(t, bonuses, 1)
	assert.Equal(t, loyalty.Points(500), bonuses[0].Amount)
	assert.Equal(t, "Birthday", bonuses[0].SourceName)
	assert.Equal(t, 7, bonuses[0].DaysLeft)
	assert.Equal(t, now.AddDate(0, 0, 7), bonuses[0].ExpiresAt)

	entries, err := mem.LedgerByUser(ctx, user.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, loyalty.EntryAward, entries[0].Kind)
	assert.Equal(t, loyalty.Points(500), entries[0].Amount)
}

func TestBirthday_IdempotentWithinYear(t *testing.T) {
	// GIVEN: A user already awarded their birthday bonus this year
	// WHEN: Reconciling again on the same day
	// THEN: No second grant, no balance change

	ctx := context.Background()
	mem := memstore.NewMemory()
	engine := loyalty.NewAwardEngine()

	birth := date(1990, time.May, 10)
	user := newTestUser(t, mem, &birth, 0)

	now := date(2025, time.May, 10)
	_, err := engine.Reconcile(ctx, mem, user.ID, now)
	require.NoError(t, err)
	bonuses, err := engine.Reconcile(ctx, mem, user.ID, now)
	require.NoError(t, err)

	got, err := mem.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, loyalty.Points(500), got.Balance)
	assert.Len(t, bonuses, 1)

	grants, err := mem.GrantsByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, grants, 1)
}

func TestBirthday_AwardedAgainNextYear(t *testing.T) {
	// GIVEN: A user awarded the birthday bonus in 2025, since expired
	// WHEN: Reconciling on the 2026 birthday
	// THEN: A fresh grant is created (dedup is per calendar year)

	ctx := context.Background()
	mem := memstore.NewMemory()
	engine := loyalty.NewAwardEngine()

	birth := date(1990, time.May, 10)
	user := newTestUser(t, mem, &birth, 0)

	_, err := engine.Reconcile(ctx, mem, user.ID, date(2025, time.May, 10))
	require.NoError(t, err)
	_, err = engine.Reconcile(ctx, mem, user.ID, date(2026, time.May, 10))
	require.NoError(t, err)

	grants, err := mem.GrantsByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, grants, 2)
}

func TestBirthday_NoBirthDateNoAward(t *testing.T) {
	// GIVEN: A user who never provided a birth date
	// WHEN: Reconciling on any day
	// THEN: Nothing is awarded

	ctx := context.Background()
	mem := memstore.NewMemory()
	engine := loyalty.NewAwardEngine()

	user := newTestUser(t, mem, nil, 100)

	bonuses, err := engine.Reconcile(ctx, mem, user.ID, date(2025, time.May, 10))
	require.NoError(t, err)
	assert.Empty(t, bonuses)

	got, err := mem.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, loyalty.Points(100), got.Balance)
}

func TestBirthday_NotOnOtherDays(t *testing.T) {
	// GIVEN: A user born May 10
	// WHEN: Reconciling on May 11
	// THEN: No award; birthdays have no lead/validity window

	ctx := context.Background()
	mem := memstore.NewMemory()
	engine := loyalty.NewAwardEngine()

	birth := date(1990, time.May, 10)
	user := newTestUser(t, mem, &birth, 0)

	bonuses, err := engine.Reconcile(ctx, mem, user.ID, date(2025, time.May, 11))
	require.NoError(t, err)
	assert.Empty(t, bonuses)
}

// =============================================================================
// CALENDAR EVENTS
// =============================================================================

func TestEvent_WindowBoundaries(t *testing.T) {
	// GIVEN: Defender Day (Feb 23, lead 3, validity 14), window Feb 20 - Mar 9
	// WHEN: Reconciling on boundary days and one day outside each
	// THEN: Inclusive on both ends

	cases := []struct {
		name    string
		now     time.Time
		awarded bool
	}{
		{"day before window", date(2025, time.February, 19), false},
		{"window start", date(2025, time.February, 20), true},
		{"event day", date(2025, time.February, 23), true},
		{"window end", date(2025, time.March, 9), true},
		{"day after window", date(2025, time.March, 10), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			mem := memstore.NewMemory()
			engine := loyalty.NewAwardEngine()
			defenderEvent(t, mem)
			user := newTestUser(t, mem, nil, 0)

			_, err := engine.Reconcile(ctx, mem, user.ID, tc.now)
			require.NoError(t, err)

			grants, err := mem.GrantsByUser(ctx, user.ID)
			require.NoError(t, err)
			if tc.awarded {
				require.Len(t, grants, 1)
				// Expiry pins to the end of the last validity day.
				require.NotNil(t, grants[0].ExpiresAt)
				assert.Equal(t, time.Date(2025, time.March, 9, 23, 59, 59, 0, time.UTC), *grants[0].ExpiresAt)
			} else {
				assert.Empty(t, grants)
			}
		})
	}
}

func TestEvent_LeadWindowOpensInDecember(t *testing.T) {
	// GIVEN: New Year (Jan 1, lead 3, validity 14), so the 2025 occurrence
	//        window runs Dec 29 2024 - Jan 15 2025
	// WHEN: Reconciling just before and inside the December part of the window
	// THEN: Dec 28 awards nothing; Dec 29 awards the 2025 occurrence, and a
	//       reconcile after the year rolls over does not award it again

	ctx := context.Background()
	mem := memstore.NewMemory()
	engine := loyalty.NewAwardEngine()
	newYearEvent(t, mem)
	user := newTestUser(t, mem, nil, 0)

	_, err := engine.Reconcile(ctx, mem, user.ID, date(2024, time.December, 28))
	require.NoError(t, err)
	grants, err := mem.GrantsByUser(ctx, user.ID)
	require.NoError(t, err)
	require.Empty(t, grants)

	_, err = engine.Reconcile(ctx, mem, user.ID, date(2024, time.December, 29))
	require.NoError(t, err)
	grants, err = mem.GrantsByUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, 2025, grants[0].Year, "counts against the occurrence year")
	require.NotNil(t, grants[0].ExpiresAt)
	assert.Equal(t, time.Date(2025, time.January, 15, 23, 59, 59, 0, time.UTC), *grants[0].ExpiresAt)

	_, err = engine.Reconcile(ctx, mem, user.ID, date(2025, time.January, 2))
	require.NoError(t, err)
	grants, err = mem.GrantsByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, grants, 1, "no duplicate across the year boundary")
}

func TestEvent_ValidityTailReachesIntoJanuary(t *testing.T) {
	// GIVEN: New Year with a 14-day validity tail
	// WHEN: A user first reconciles in mid-January
	// THEN: Jan 15 is the last awardable day; Jan 16 gets nothing

	ctx := context.Background()
	mem := memstore.NewMemory()
	engine := loyalty.NewAwardEngine()
	newYearEvent(t, mem)

	late := newTestUser(t, mem, nil, 0)
	_, err := engine.Reconcile(ctx, mem, late.ID, date(2025, time.January, 15))
	require.NoError(t, err)
	grants, err := mem.GrantsByUser(ctx, late.ID)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, 2025, grants[0].Year)

	tooLate := newTestUser(t, mem, nil, 0)
	_, err = engine.Reconcile(ctx, mem, tooLate.ID, date(2025, time.January, 16))
	require.NoError(t, err)
	grants, err = mem.GrantsByUser(ctx, tooLate.ID)
	require.NoError(t, err)
	assert.Empty(t, grants)
}

func TestEvent_OncePerYear(t *testing.T) {
	// GIVEN: A user awarded New Year inside the window
	// WHEN: Reconciling again later in the same window
	// THEN: No duplicate grant

	ctx := context.Background()
	mem := memstore.NewMemory()
	engine := loyalty.NewAwardEngine()
	newYearEvent(t, mem)
	user := newTestUser(t, mem, nil, 0)

	_, err := engine.Reconcile(ctx, mem, user.ID, date(2025, time.January, 1))
	require.NoError(t, err)
	_, err = engine.Reconcile(ctx, mem, user.ID, date(2025, time.January, 10))
	require.NoError(t, err)

	grants, err := mem.GrantsByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, grants, 1)
}

func TestEvent_ManualGrantBlocksAutomaticAward(t *testing.T) {
	// GIVEN: A manual grant-all already created a grant for this event this
	//        year (even a non-expiring, later-deactivated one)
	// WHEN: The event window opens and the user reconciles
	// THEN: The per-year dedup blocks the automatic award

	ctx := context.Background()
	mem := memstore.NewMemory()
	engine := loyalty.NewAwardEngine()
	ev := newYearEvent(t, mem)
	user := newTestUser(t, mem, nil, 0)

	manual := &loyalty.Grant{
		UserID:    user.ID,
		Source:    loyalty.EventSource(ev.ID),
		Year:      2025,
		Amount:    500,
		CreatedAt: date(2025, time.January, 2),
		Active:    false,
	}
	require.NoError(t, mem.CreateGrant(ctx, manual))

	_, err := engine.Reconcile(ctx, mem, user.ID, date(2025, time.January, 5))
	require.NoError(t, err)

	grants, err := mem.GrantsByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, grants, 1, "the manual grant should be the only one")
}

func TestEvent_ManualOnlyEventNeverAutoAwards(t *testing.T) {
	// GIVEN: A catalog event without a calendar date
	// WHEN: Reconciling on any day
	// THEN: The event pass skips it

	ctx := context.Background()
	mem := memstore.NewMemory()
	engine := loyalty.NewAwardEngine()

	ev := &loyalty.Event{Name: "Store Anniversary", Amount: 300, Active: true}
	require.NoError(t, mem.CreateEvent(ctx, ev))
	user := newTestUser(t, mem, nil, 0)

	bonuses, err := engine.Reconcile(ctx, mem, user.ID, date(2025, time.June, 15))
	require.NoError(t, err)
	assert.Empty(t, bonuses)
}

func TestEvent_InactiveEventSkipped(t *testing.T) {
	// GIVEN: A deactivated calendar event inside its window
	// WHEN: Reconciling
	// THEN: No award

	ctx := context.Background()
	mem := memstore.NewMemory()
	engine := loyalty.NewAwardEngine()

	ev := newYearEvent(t, mem)
	ev.Active = false
	require.NoError(t, mem.SaveEvent(ctx, ev))
	user := newTestUser(t, mem, nil, 0)

	_, err := engine.Reconcile(ctx, mem, user.ID, date(2025, time.January, 1))
	require.NoError(t, err)

	grants, err := mem.GrantsByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, grants)
}

// =============================================================================
// EXPIRY CLAWBACK
// =============================================================================

func TestExpiry_ClawsBackRemainingValue(t *testing.T) {
	// GIVEN: A user awarded 500 on their birthday, untouched since
	// WHEN: Reconciling after the grant's expiry
	// THEN: The full 500 is clawed back with a negative ledger entry and
	//       the grant is deactivated

	ctx := context.Background()
	mem := memstore.NewMemory()
	engine := loyalty.NewAwardEngine()

	birth := date(1990, time.May, 10)
	user := newTestUser(t, mem, &birth, 0)

	_, err := engine.Reconcile(ctx, mem, user.ID, date(2025, time.May, 10))
	require.NoError(t, err)

	bonuses, err := engine.Reconcile(ctx, mem, user.ID, date(2025, time.May, 18))
	require.NoError(t, err)
	assert.Empty(t, bonuses)

	got, err := mem.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, loyalty.Points(0), got.Balance)

	grants, err := mem.GrantsByUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.False(t, grants[0].Active)

	entries, err := mem.LedgerByUser(ctx, user.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, loyalty.EntryExpiry, entries[0].Kind)
	assert.Equal(t, loyalty.Points(-500), entries[0].Amount)
}

func TestExpiry_ClampsAtZeroBalance(t *testing.T) {
	// GIVEN: A grant of 500 expiring while the balance holds only 300
	//        (the rest was spent)
	// WHEN: Reconciling after expiry
	// THEN: Only 300 is clawed back; the shortfall is written off

	ctx := context.Background()
	mem := memstore.NewMemory()
	engine := loyalty.NewAwardEngine()

	user := newTestUser(t, mem, nil, 300)
	expires := date(2025, time.May, 17)
	grant := &loyalty.Grant{
		UserID:    user.ID,
		Source:    loyalty.BirthdaySource(),
		Amount:    500,
		CreatedAt: date(2025, time.May, 10),
		ExpiresAt: &expires,
		Active:    true,
	}
	require.NoError(t, mem.CreateGrant(ctx, grant))

	_, err := engine.Reconcile(ctx, mem, user.ID, date(2025, time.May, 18))
	require.NoError(t, err)

	got, err := mem.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, loyalty.Points(0), got.Balance)

	entries, err := mem.LedgerByUser(ctx, user.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, loyalty.Points(-300), entries[0].Amount)
}

func TestExpiry_ZeroClawbackLeavesNoLedgerEntry(t *testing.T) {
	// GIVEN: An expired grant whose value was fully spent already
	// WHEN: Reconciling
	// THEN: The grant is deactivated but no expiry entry is written

	ctx := context.Background()
	mem := memstore.NewMemory()
	engine := loyalty.NewAwardEngine()

	user := newTestUser(t, mem, nil, 0)
	expires := date(2025, time.May, 17)
	grant := &loyalty.Grant{
		UserID:    user.ID,
		Source:    loyalty.BirthdaySource(),
		Amount:    500,
		CreatedAt: date(2025, time.May, 10),
		ExpiresAt: &expires,
		Active:    true,
	}
	require.NoError(t, mem.CreateGrant(ctx, grant))

	_, err := engine.Reconcile(ctx, mem, user.ID, date(2025, time.May, 18))
	require.NoError(t, err)

	grants, err := mem.GrantsByUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.False(t, grants[0].Active)

	entries, err := mem.LedgerByUser(ctx, user.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExpiry_NonExpiringGrantUntouched(t *testing.T) {
	// GIVEN: A non-expiring manual grant
	// WHEN: Reconciling years later
	// THEN: The grant stays active and the balance keeps its value

	ctx := context.Background()
	mem := memstore.NewMemory()
	engine := loyalty.NewAwardEngine()

	ev := newYearEvent(t, mem)
	user := newTestUser(t, mem, nil, 500)
	grant := &loyalty.Grant{
		UserID:    user.ID,
		Source:    loyalty.EventSource(ev.ID),
		Amount:    500,
		CreatedAt: date(2023, time.June, 1),
		Active:    true,
	}
	require.NoError(t, mem.CreateGrant(ctx, grant))

	_, err := engine.Reconcile(ctx, mem, user.ID, date(2025, time.June, 15))
	require.NoError(t, err)

	got, err := mem.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, loyalty.Points(500), got.Balance)

	grants, err := mem.GrantsByUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.True(t, grants[0].Active)
}
