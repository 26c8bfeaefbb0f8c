package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-reservation/internal/database"
	"ms-reservation/internal/ledger"
	"ms-reservation/internal/models"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Ledger keeps committed totals in capacity_ledger rows and guards the ceiling
// with a conditional UPDATE. When ctx carries a transaction every statement
// joins it, so the claim commits or rolls back with the caller's rows.
type Ledger struct {
	Bun   *bun.DB
	now   func() time.Time
	newID func() string
}

func NewLedger(db *bun.DB) *Ledger {
	return &Ledger{Bun: db, now: time.Now, newID: uuid.NewString}
}

func (l *Ledger) Reserve(ctx context.Context, claim ledger.Claim) (ledger.Ticket, error) {
	if err := claim.Validate(); err != nil {
		return ledger.Ticket{}, err
	}

	ticket := ledger.Ticket{ID: l.newID(), Key: claim.Key, Amount: claim.Amount, Guard: claim.Guard}
	key := claim.Key.String()
	now := l.now().UTC()

	err := database.WithTx(ctx, l.Bun, func(ctx context.Context) error {
		conn := database.Conn(ctx, l.Bun)

		if claim.Guard != "" {
			res, err := conn.NewInsert().
				Model(&models.DuplicateGuard{Guard: claim.Guard, TicketID: ticket.ID, CreatedAt: now}).
				On("CONFLICT DO NOTHING").
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("insert guard: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return ledger.ErrDuplicateHolder
			}
		}

		entry := &models.LedgerEntry{
			LedgerKey:   key,
			VisitDate:   claim.Key.Date,
			BookingKind: claim.Key.Kind,
			ActivityID:  claim.Key.ActivityID,
			TimeSlot:    claim.Key.Slot,
			UpdatedAt:   now,
		}
		if _, err := conn.NewInsert().Model(entry).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
			return fmt.Errorf("ensure ledger row: %w", err)
		}

		res, err := conn.NewUpdate().
			Model((*models.LedgerEntry)(nil)).
			Set("committed = committed + ?", claim.Amount).
			Set("updated_at = ?", now).
			Where("ledger_key = ?", key).
			Where("committed + ? <= ?", claim.Amount, claim.Limit).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("increment ledger: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ledger.ErrCapacityExceeded
		}

		_, err = conn.NewInsert().
			Model(&models.CapacityTicket{
				ID:        ticket.ID,
				LedgerKey: key,
				Amount:    claim.Amount,
				Guard:     claim.Guard,
				CreatedAt: now,
			}).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("insert ticket: %w", err)
		}
		return nil
	})
	if err != nil {
		return ledger.Ticket{}, classify(err)
	}
	return ticket, nil
}

func (l *Ledger) Release(ctx context.Context, ticket ledger.Ticket) error {
	now := l.now().UTC()

	err := database.WithTx(ctx, l.Bun, func(ctx context.Context) error {
		conn := database.Conn(ctx, l.Bun)

		res, err := conn.NewUpdate().
			Model((*models.CapacityTicket)(nil)).
			Set("released = ?", true).
			Set("released_at = ?", now).
			Where("id = ?", ticket.ID).
			Where("released = ?", false).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("mark ticket released: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}

		var held models.CapacityTicket
		if err := conn.NewSelect().Model(&held).Where("id = ?", ticket.ID).Limit(1).Scan(ctx); err != nil {
			return fmt.Errorf("load ticket: %w", err)
		}

		_, err = conn.NewUpdate().
			Model((*models.LedgerEntry)(nil)).
			Set("committed = committed - ?", held.Amount).
			Set("updated_at = ?", now).
			Where("ledger_key = ?", held.LedgerKey).
			Where("committed >= ?", held.Amount).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("decrement ledger: %w", err)
		}

		if held.Guard != "" {
			_, err = conn.NewDelete().
				Model((*models.DuplicateGuard)(nil)).
				Where("guard = ?", held.Guard).
				Where("ticket_id = ?", held.ID).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("drop guard: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// ReleaseGuard deletes the ticket's guard row. The ticket and its amount stay.
func (l *Ledger) ReleaseGuard(ctx context.Context, ticket ledger.Ticket) error {
	if ticket.Guard == "" {
		return nil
	}
	_, err := database.Conn(ctx, l.Bun).NewDelete().
		Model((*models.DuplicateGuard)(nil)).
		Where("guard = ?", ticket.Guard).
		Where("ticket_id = ?", ticket.ID).
		Exec(ctx)
	if err != nil {
		return classify(fmt.Errorf("drop guard: %w", err))
	}
	return nil
}

func (l *Ledger) Committed(ctx context.Context, key models.LedgerKey) (int, error) {
	var committed int
	err := database.Conn(ctx, l.Bun).NewSelect().
		Model((*models.LedgerEntry)(nil)).
		Column("committed").
		Where("ledger_key = ?", key.String()).
		Limit(1).
		Scan(ctx, &committed)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: read %s: %v", ledger.ErrUnavailable, key, err)
	}
	return committed, nil
}

func classify(err error) error {
	if errors.Is(err, ledger.ErrCapacityExceeded) || errors.Is(err, ledger.ErrDuplicateHolder) {
		return err
	}
	return fmt.Errorf("%w: %v", ledger.ErrUnavailable, err)
}
