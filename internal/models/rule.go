package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// CapacityRule is decoded from a JSON blob in the config store.
type CapacityRule struct {
	BookingKind       BookingKind `json:"bookingKind"`
	DailyLimit        int         `json:"dailyLimit"`
	PerActivityLimit  int         `json:"perActivityLimit,omitempty"`
	PerSlotLimit      int         `json:"perSlotLimit,omitempty"`
	CancelWindowHours int         `json:"cancelWindowHours"`
	AutoApprove       bool        `json:"autoApprove,omitempty"`
	MaxPartySize      int         `json:"maxPartySize,omitempty"`
	AdvanceDays       int         `json:"advanceDays,omitempty"`
}

func (r CapacityRule) Validate() error {
	if r.DailyLimit < 0 || r.PerActivityLimit < 0 || r.PerSlotLimit < 0 {
		return errors.New("capacity limits must not be negative")
	}
	if r.CancelWindowHours < 0 {
		return fmt.Errorf("cancelWindowHours must not be negative, got %d", r.CancelWindowHours)
	}
	if r.MaxPartySize < 0 || r.AdvanceDays < 0 {
		return errors.New("maxPartySize and advanceDays must not be negative")
	}
	return nil
}

// CancelWindow is the minimum lead time a user cancellation needs.
func (r CapacityRule) CancelWindow() time.Duration {
	return time.Duration(r.CancelWindowHours) * time.Hour
}

// ConfigEntry is one versionless key to JSON value row of the rules store.
type ConfigEntry struct {
	bun.BaseModel `bun:"table:sys_config"`

	ConfigKey   string    `bun:"config_key,pk"`
	ConfigValue string    `bun:"config_value,notnull"`
	Remark      string    `bun:"remark"`
	UpdateTime  time.Time `bun:"update_time,notnull"`
}

// CalendarDay overrides the default "open, no override" for one date.
type CalendarDay struct {
	bun.BaseModel `bun:"table:park_calendar"`

	Date             string    `bun:"calendar_date,pk" json:"date"`
	IsOpen           bool      `bun:"is_open,notnull" json:"is_open"`
	CapacityOverride *int      `bun:"capacity_override" json:"capacity_override,omitempty"`
	Remark           string    `bun:"remark" json:"remark,omitempty"`
	UpdateTime       time.Time `bun:"update_time,notnull" json:"update_time"`
}
