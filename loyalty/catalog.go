/*
catalog.go - Default event catalog

PURPOSE:
  Seeds the event table with the standing occasions the program launched
  with. Seeding is idempotent by event name so restarts never duplicate
  catalog rows, and admin edits to a seeded event survive restarts.
*/
package loyalty

import (
	"context"
	"time"
)

// DefaultEvents returns the standing catalog: each worth 500 points, award
// window opening 3 days ahead, grants valid 14 days past the date.
func DefaultEvents() []Event {
	return []Event{
		{
			Name:         "New Year",
			CalendarDate: &MonthDay{Month: time.January, Day: 1},
			Amount:       500,
			LeadDays:     3,
			ValidityDays: 14,
			Active:       true,
		},
		{
			Name:         "Defender of the Fatherland Day",
			CalendarDate: &MonthDay{Month: time.February, Day: 23},
			Amount:       500,
			LeadDays:     3,
			ValidityDays: 14,
			Active:       true,
		},
		{
			// Lunar new year; the exact date shifts and is adjusted by
			// admins each year.
			Name:         "Sagaalgan",
			CalendarDate: &MonthDay{Month: time.February, Day: 28},
			Amount:       500,
			LeadDays:     3,
			ValidityDays: 14,
			Active:       true,
		},
	}
}

// SeedDefaultEvents inserts any default event missing from the catalog.
func SeedDefaultEvents(ctx context.Context, store TxStore) error {
	return store.WithTx(ctx, func(s Store) error {
		for _, ev := range DefaultEvents() {
			existing, err := s.GetEventByName(ctx, ev.Name)
			if err != nil && !IsNotFound(err) {
				return err
			}
			if existing != nil {
				continue
			}
			ev := ev
			if err := s.CreateEvent(ctx, &ev); err != nil {
				return err
			}
		}
		return nil
	})
}
