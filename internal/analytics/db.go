package analytics

import (
	"context"

	"ms-reservation/internal/models"

	"github.com/uptrace/bun"
)

// DB handles analytics database operations
type DB struct {
	bun *bun.DB
}

// NewDB creates a new analytics DB handler
func NewDB(db *bun.DB) *DB {
	return &DB{bun: db}
}

// VisitRow is one visit date, booking kind and status group.
type VisitRow struct {
	VisitDate    string             `bun:"visit_date"`
	BookingKind  models.BookingKind `bun:"booking_kind"`
	Status       models.Status      `bun:"status"`
	Reservations int                `bun:"reservations"`
	Visitors     int                `bun:"visitors"`
}

// VisitRows groups live reservations visiting between from and to inclusive.
func (db *DB) VisitRows(ctx context.Context, from, to string) ([]VisitRow, error) {
	var rows []VisitRow
	err := db.bun.NewSelect().
		TableExpr("reservations").
		ColumnExpr("visit_date, booking_kind, status").
		ColumnExpr("COUNT(*) AS reservations").
		ColumnExpr("COALESCE(SUM(party_size), 0) AS visitors").
		Where("deleted = ?", false).
		Where("visit_date >= ?", from).
		Where("visit_date <= ?", to).
		GroupExpr("visit_date, booking_kind, status").
		OrderExpr("visit_date, booking_kind, status").
		Scan(ctx, &rows)

	return rows, err
}

// ActivityRow is the booked party size of one activity on one date.
type ActivityRow struct {
	VisitDate  string `bun:"visit_date"`
	ActivityID string `bun:"activity_id"`
	Visitors   int    `bun:"visitors"`
}

// ActivityRows sums party sizes of holding and completed activity bookings.
func (db *DB) ActivityRows(ctx context.Context, from, to string) ([]ActivityRow, error) {
	var rows []ActivityRow
	err := db.bun.NewSelect().
		TableExpr("reservations").
		ColumnExpr("visit_date, activity_id").
		ColumnExpr("COALESCE(SUM(party_size), 0) AS visitors").
		Where("deleted = ?", false).
		Where("booking_kind = ?", models.BookingActivity).
		Where("status IN (?)", bun.In([]models.Status{models.StatusPending, models.StatusConfirmed, models.StatusCompleted})).
		Where("visit_date >= ?", from).
		Where("visit_date <= ?", to).
		GroupExpr("visit_date, activity_id").
		OrderExpr("visit_date, activity_id").
		Scan(ctx, &rows)

	return rows, err
}
