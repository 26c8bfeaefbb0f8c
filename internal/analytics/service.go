package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-reservation/internal/clock"
	"ms-reservation/internal/models"
)

// MaxRange bounds a single summary request.
const MaxRange = 366 * 24 * time.Hour

var ErrInvalidRange = errors.New("invalid date range")

// Source is the query side the service aggregates.
type Source interface {
	VisitRows(ctx context.Context, from, to string) ([]VisitRow, error)
	ActivityRows(ctx context.Context, from, to string) ([]ActivityRow, error)
}

// Service handles analytics operations
type Service struct {
	source Source
	clock  clock.Clock
	loc    *time.Location
}

// NewService creates a new analytics service. Dates are compared in loc, the
// park's time zone.
func NewService(source Source, clk clock.Clock, loc *time.Location) *Service {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{source: source, clock: clk, loc: loc}
}

// StatusCount counts reservations and the people on them.
type StatusCount struct {
	Reservations int `json:"reservations"`
	Visitors     int `json:"visitors"`
}

// DailyVisits is the breakdown of one visit date.
type DailyVisits struct {
	Date string `json:"date"`
	// Expected counts people on PENDING and CONFIRMED reservations.
	Expected   int                                `json:"expected_visitors"`
	Arrived    int                                `json:"arrived_visitors"`
	ByStatus   map[models.Status]StatusCount      `json:"by_status"`
	ByKind     map[models.BookingKind]StatusCount `json:"by_kind"`
	Activities map[string]int                     `json:"activities,omitempty"`
}

// VisitSummary aggregates visit statistics over a date range.
type VisitSummary struct {
	From              string                        `json:"from"`
	To                string                        `json:"to"`
	TotalReservations int                           `json:"total_reservations"`
	TotalVisitors     int                           `json:"total_visitors"`
	ByStatus          map[models.Status]StatusCount `json:"by_status"`
	// NoShowRate is the share of visitors on past confirmed-or-better
	// bookings who never arrived. Zero when nothing has been verified yet.
	NoShowRate float64       `json:"no_show_rate"`
	Daily      []DailyVisits `json:"daily"`
}

// GetVisitSummary returns visit statistics for the dates from..to.
func (s *Service) GetVisitSummary(ctx context.Context, from, to string) (*VisitSummary, error) {
	start, err := time.Parse(models.DateLayout, from)
	if err != nil {
		return nil, fmt.Errorf("%w: from %q", ErrInvalidRange, from)
	}
	end, err := time.Parse(models.DateLayout, to)
	if err != nil {
		return nil, fmt.Errorf("%w: to %q", ErrInvalidRange, to)
	}
	if end.Before(start) || end.Sub(start) > MaxRange {
		return nil, fmt.Errorf("%w: %s..%s", ErrInvalidRange, from, to)
	}

	rows, err := s.source.VisitRows(ctx, from, to)
	if err != nil {
		return nil, err
	}
	activities, err := s.source.ActivityRows(ctx, from, to)
	if err != nil {
		return nil, err
	}

	summary := &VisitSummary{
		From:     from,
		To:       to,
		ByStatus: make(map[models.Status]StatusCount),
	}
	days := make(map[string]*DailyVisits)
	day := func(date string) *DailyVisits {
		d, ok := days[date]
		if !ok {
			d = &DailyVisits{
				Date:     date,
				ByStatus: make(map[models.Status]StatusCount),
				ByKind:   make(map[models.BookingKind]StatusCount),
			}
			days[date] = d
		}
		return d
	}

	// people on CONFIRMED rows of past dates never arrived
	today := s.clock.Now().In(s.loc).Format(models.DateLayout)
	var arrived, confirmed int
	for _, row := range rows {
		d := day(row.VisitDate)
		add(d.ByStatus, row.Status, row)
		add(d.ByKind, row.BookingKind, row)
		add(summary.ByStatus, row.Status, row)

		summary.TotalReservations += row.Reservations
		summary.TotalVisitors += row.Visitors
		switch row.Status {
		case models.StatusPending:
			d.Expected += row.Visitors
		case models.StatusConfirmed:
			d.Expected += row.Visitors
			if row.VisitDate < today {
				confirmed += row.Visitors
			}
		case models.StatusCompleted:
			d.Arrived += row.Visitors
			arrived += row.Visitors
		}
	}
	for _, a := range activities {
		d := day(a.VisitDate)
		if d.Activities == nil {
			d.Activities = make(map[string]int)
		}
		d.Activities[a.ActivityID] += a.Visitors
	}

	if arrived > 0 {
		summary.NoShowRate = float64(confirmed) / float64(confirmed+arrived)
	}

	for date := start; !date.After(end); date = date.AddDate(0, 0, 1) {
		if d, ok := days[date.Format(models.DateLayout)]; ok {
			summary.Daily = append(summary.Daily, *d)
		}
	}
	return summary, nil
}

func add[K comparable](m map[K]StatusCount, key K, row VisitRow) {
	c := m[key]
	c.Reservations += row.Reservations
	c.Visitors += row.Visitors
	m[key] = c
}
