package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"ms-reservation/internal/database"
	"ms-reservation/internal/models"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

func New(db *bun.DB) *DB {
	return &DB{Bun: db}
}

// WithTx runs fn in a transaction shared by every store built on the same
// bun.DB, including the SQL capacity ledger.
func (d *DB) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return database.WithTx(ctx, d.Bun, fn)
}

// ---------------- RESERVATIONS ----------------

// CreateReservation inserts a new row
func (d *DB) CreateReservation(ctx context.Context, r *models.Reservation) error {
	_, err := database.Conn(ctx, d.Bun).NewInsert().Model(r).Exec(ctx)
	return err
}

// GetReservation fetches a live (not soft-deleted) reservation by id
func (d *DB) GetReservation(ctx context.Context, id uint64) (*models.Reservation, error) {
	var r models.Reservation
	err := database.Conn(ctx, d.Bun).NewSelect().
		Model(&r).
		Where("id = ?", id).
		Where("deleted = ?", false).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrReservationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// UpdateStatus writes the lifecycle columns of r only if the stored status is
// still from. ErrStaleStatus means another writer got there first.
func (d *DB) UpdateStatus(ctx context.Context, r *models.Reservation, from models.Status) error {
	res, err := database.Conn(ctx, d.Bun).NewUpdate().
		Model(r).
		Column("status", "cancel_reason", "verified_by", "verify_location", "verify_device", "verify_remark", "verified_at", "update_time").
		Where("id = ?", r.ID).
		Where("status = ?", from).
		Where("deleted = ?", false).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrStaleStatus
	}
	return nil
}

// SoftDelete hides a reservation from every read without touching its status
func (d *DB) SoftDelete(ctx context.Context, id uint64, at time.Time) error {
	res, err := database.Conn(ctx, d.Bun).NewUpdate().
		Model((*models.Reservation)(nil)).
		Set("deleted = ?", true).
		Set("update_time = ?", at).
		Where("id = ?", id).
		Where("deleted = ?", false).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrReservationNotFound
	}
	return nil
}

// ---------------- QUERIES ----------------

// FindActiveByApplicant lists the applicant's PENDING or CONFIRMED
// reservations for date and kind
func (d *DB) FindActiveByApplicant(ctx context.Context, applicantID, date string, kind models.BookingKind) ([]models.Reservation, error) {
	var out []models.Reservation
	err := database.Conn(ctx, d.Bun).NewSelect().
		Model(&out).
		Where("applicant_id = ?", applicantID).
		Where("visit_date = ?", date).
		Where("booking_kind = ?", kind).
		Where("status IN (?)", bun.In(models.ActiveStatuses)).
		Where("deleted = ?", false).
		Order("create_time").
		Scan(ctx)
	return out, err
}

// SumActivePartySize totals the party size still holding capacity under key,
// COMPLETED visits included.
// A key with a slot only counts reservations in that slot.
func (d *DB) SumActivePartySize(ctx context.Context, key models.LedgerKey) (int, error) {
	var total sql.NullInt64
	q := database.Conn(ctx, d.Bun).NewSelect().
		Model((*models.Reservation)(nil)).
		ColumnExpr("SUM(party_size)").
		Where("visit_date = ?", key.Date).
		Where("booking_kind = ?", key.Kind).
		Where("status IN (?)", bun.In(models.HoldingStatuses)).
		Where("deleted = ?", false)
	if key.ActivityID != "" {
		q = q.Where("activity_id = ?", key.ActivityID)
	}
	if key.Slot != "" {
		q = q.Where("time_slot = ?", key.Slot).Where("slot_ticket_id <> ''")
	}
	if err := q.Scan(ctx, &total); err != nil {
		return 0, err
	}
	return int(total.Int64), nil
}

// ListActiveKeys returns the distinct ledger keys held by reservations that
// still count against the ledger, with a visit date in [from, to].
func (d *DB) ListActiveKeys(ctx context.Context, from, to string) ([]models.LedgerKey, error) {
	var rows []struct {
		VisitDate   string             `bun:"visit_date"`
		BookingKind models.BookingKind `bun:"booking_kind"`
		ActivityID  string             `bun:"activity_id"`
	}
	err := database.Conn(ctx, d.Bun).NewSelect().
		Model((*models.Reservation)(nil)).
		Column("visit_date", "booking_kind", "activity_id").
		Distinct().
		Where("visit_date >= ?", from).
		Where("visit_date <= ?", to).
		Where("status IN (?)", bun.In(models.HoldingStatuses)).
		Where("deleted = ?", false).
		Order("visit_date", "booking_kind", "activity_id").
		Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}

	keys := make([]models.LedgerKey, 0, len(rows))
	for _, r := range rows {
		keys = append(keys, models.LedgerKey{Date: r.VisitDate, Kind: r.BookingKind, ActivityID: r.ActivityID})
	}
	return keys, nil
}
