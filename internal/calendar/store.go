package calendar

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"ms-reservation/internal/models"

	"github.com/uptrace/bun"
)

// DBStore reads and writes the park_calendar table.
type DBStore struct {
	Bun *bun.DB
}

func NewDBStore(db *bun.DB) *DBStore {
	return &DBStore{Bun: db}
}

func (s *DBStore) GetDay(ctx context.Context, date string) (*models.CalendarDay, error) {
	var day models.CalendarDay
	err := s.Bun.NewSelect().
		Model(&day).
		Where("calendar_date = ?", date).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &day, nil
}

// PutDay creates or replaces the entry for day.Date.
func (s *DBStore) PutDay(ctx context.Context, day models.CalendarDay) error {
	day.UpdateTime = time.Now().UTC()
	_, err := s.Bun.NewInsert().
		Model(&day).
		On("CONFLICT (calendar_date) DO UPDATE").
		Set("is_open = EXCLUDED.is_open").
		Set("capacity_override = EXCLUDED.capacity_override").
		Set("remark = EXCLUDED.remark").
		Set("update_time = EXCLUDED.update_time").
		Exec(ctx)
	return err
}
