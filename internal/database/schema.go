package database

import (
	"context"
	"fmt"

	"ms-reservation/internal/models"

	"github.com/uptrace/bun"
)

// CreateSchema creates every table straight from the bun models. It backs the
// embedded test databases and `migrate models`; production postgres goes
// through the SQL files in migrations/.
func CreateSchema(ctx context.Context, db bun.IDB) error {
	tables := []interface{}{
		(*models.Reservation)(nil),
		(*models.LedgerEntry)(nil),
		(*models.CapacityTicket)(nil),
		(*models.DuplicateGuard)(nil),
		(*models.ConfigEntry)(nil),
		(*models.CalendarDay)(nil),
	}
	for _, m := range tables {
		if _, err := db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", m, err)
		}
	}

	_, err := db.NewCreateIndex().
		Model((*models.Reservation)(nil)).
		Index("idx_reservations_applicant_date").
		IfNotExists().
		Column("applicant_id", "visit_date", "booking_kind").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create reservation index: %w", err)
	}
	return nil
}
