package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ms-reservation/internal/models"
)

var (
	// ErrUnavailable means the config store could not be read.
	ErrUnavailable  = errors.New("rule store unavailable")
	ErrRuleNotFound = errors.New("capacity rule not configured")
	ErrInvalidRule  = errors.New("capacity rule is malformed")
)

const keyPrefix = "capacity_rule."

// KindKey is the config key of the rule for kind.
func KindKey(kind models.BookingKind) string {
	return keyPrefix + string(kind)
}

// ActivityKey is the config key of an activity specific override.
func ActivityKey(activityID string) string {
	return keyPrefix + string(models.BookingActivity) + "." + activityID
}

// ConfigStore is a versionless key to JSON blob store.
type ConfigStore interface {
	GetValue(ctx context.Context, key string) (value string, found bool, err error)
}

// Accessor reads rules from the store on every call. Nothing is cached.
type Accessor struct {
	store ConfigStore
}

func NewAccessor(store ConfigStore) *Accessor {
	return &Accessor{store: store}
}

// GetRule returns the rule configured for kind.
func (a *Accessor) GetRule(ctx context.Context, kind models.BookingKind) (models.CapacityRule, error) {
	rule, found, err := a.load(ctx, KindKey(kind))
	if err != nil {
		return models.CapacityRule{}, err
	}
	if !found {
		return models.CapacityRule{}, fmt.Errorf("%w: %s", ErrRuleNotFound, kind)
	}
	switch rule.BookingKind {
	case "":
		rule.BookingKind = kind
	case kind:
	default:
		return models.CapacityRule{}, fmt.Errorf("%w: %s declares booking kind %s", ErrInvalidRule, KindKey(kind), rule.BookingKind)
	}
	return rule, nil
}

// GetActivityRule returns the override for activityID, falling back to the
// ACTIVITY kind rule when no override exists.
func (a *Accessor) GetActivityRule(ctx context.Context, activityID string) (models.CapacityRule, error) {
	if activityID != "" {
		rule, found, err := a.load(ctx, ActivityKey(activityID))
		if err != nil {
			return models.CapacityRule{}, err
		}
		if found {
			rule.BookingKind = models.BookingActivity
			return rule, nil
		}
	}
	return a.GetRule(ctx, models.BookingActivity)
}

// RuleFor picks GetActivityRule or GetRule by kind.
func (a *Accessor) RuleFor(ctx context.Context, kind models.BookingKind, activityID string) (models.CapacityRule, error) {
	if kind == models.BookingActivity {
		return a.GetActivityRule(ctx, activityID)
	}
	return a.GetRule(ctx, kind)
}

func (a *Accessor) load(ctx context.Context, key string) (models.CapacityRule, bool, error) {
	raw, found, err := a.store.GetValue(ctx, key)
	if err != nil {
		return models.CapacityRule{}, false, fmt.Errorf("%w: %s: %v", ErrUnavailable, key, err)
	}
	if !found {
		return models.CapacityRule{}, false, nil
	}

	var rule models.CapacityRule
	if err := json.Unmarshal([]byte(raw), &rule); err != nil {
		return models.CapacityRule{}, false, fmt.Errorf("%w: %s: %v", ErrInvalidRule, key, err)
	}
	if err := rule.Validate(); err != nil {
		return models.CapacityRule{}, false, fmt.Errorf("%w: %s: %v", ErrInvalidRule, key, err)
	}
	return rule, true, nil
}
