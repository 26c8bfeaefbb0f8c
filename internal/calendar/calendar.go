package calendar

import (
	"context"
	"errors"
	"fmt"

	"ms-reservation/internal/models"
)

// ErrUnavailable means the calendar store could not be read.
var ErrUnavailable = errors.New("calendar store unavailable")

// DayStore returns the configured day, or nil when the date has no entry.
type DayStore interface {
	GetDay(ctx context.Context, date string) (*models.CalendarDay, error)
}

// Gate answers whether a date is bookable. Every call reads the store.
type Gate struct {
	store DayStore
}

func NewGate(store DayStore) *Gate {
	return &Gate{store: store}
}

// IsOpen reports whether date is open and the daily limit override for it, if
// any. A date with no calendar entry is open with no override.
func (g *Gate) IsOpen(ctx context.Context, date string) (bool, *int, error) {
	day, err := g.store.GetDay(ctx, date)
	if err != nil {
		return false, nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, date, err)
	}
	if day == nil {
		return true, nil, nil
	}
	if !day.IsOpen {
		return false, nil, nil
	}
	if day.CapacityOverride == nil {
		return true, nil, nil
	}
	override := *day.CapacityOverride
	return true, &override, nil
}
