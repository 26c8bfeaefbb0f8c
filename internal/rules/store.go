package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"ms-reservation/internal/models"

	"github.com/uptrace/bun"
)

// DBStore serves config entries from the sys_config table.
type DBStore struct {
	Bun *bun.DB
}

func NewDBStore(db *bun.DB) *DBStore {
	return &DBStore{Bun: db}
}

func (s *DBStore) GetValue(ctx context.Context, key string) (string, bool, error) {
	var entry models.ConfigEntry
	err := s.Bun.NewSelect().
		Model(&entry).
		Where("config_key = ?", key).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return entry.ConfigValue, true, nil
}

// PutValue inserts or replaces one entry.
func (s *DBStore) PutValue(ctx context.Context, key, value, remark string) error {
	entry := &models.ConfigEntry{
		ConfigKey:   key,
		ConfigValue: value,
		Remark:      remark,
		UpdateTime:  time.Now().UTC(),
	}
	_, err := s.Bun.NewInsert().
		Model(entry).
		On("CONFLICT (config_key) DO UPDATE").
		Set("config_value = EXCLUDED.config_value").
		Set("remark = EXCLUDED.remark").
		Set("update_time = EXCLUDED.update_time").
		Exec(ctx)
	return err
}

// PutRule stores rule under the key for its kind, or under the activity key
// when activityID is set.
func (s *DBStore) PutRule(ctx context.Context, rule models.CapacityRule, activityID string) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(rule)
	if err != nil {
		return err
	}
	key := KindKey(rule.BookingKind)
	if activityID != "" {
		key = ActivityKey(activityID)
	}
	return s.PutValue(ctx, key, string(raw), "")
}

// DefaultRules seed a fresh installation.
func DefaultRules() []models.CapacityRule {
	return []models.CapacityRule{
		{BookingKind: models.BookingIndividual, DailyLimit: 3000, CancelWindowHours: 24, AutoApprove: true, MaxPartySize: 5, AdvanceDays: 30},
		{BookingKind: models.BookingTeam, DailyLimit: 1000, CancelWindowHours: 48, MaxPartySize: 200, AdvanceDays: 60},
		{BookingKind: models.BookingActivity, DailyLimit: 500, PerActivityLimit: 100, CancelWindowHours: 24, MaxPartySize: 10, AdvanceDays: 30},
	}
}
