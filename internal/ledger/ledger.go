package ledger

import (
	"context"
	"errors"
	"fmt"

	"ms-reservation/internal/models"
)

var (
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrDuplicateHolder means the claim's guard is already held by a live ticket.
	ErrDuplicateHolder = errors.New("guard already held")
	// ErrUnavailable wraps every failure of the backing counter service.
	ErrUnavailable  = errors.New("capacity ledger unavailable")
	ErrInvalidClaim = errors.New("invalid capacity claim")
)

// Claim asks for Amount units under Key without letting committed pass Limit.
// A non-empty Guard is taken together with the capacity and is released with it
// or on its own through ReleaseGuard.
type Claim struct {
	Key    models.LedgerKey
	Amount int
	Limit  int
	Guard  string
}

func (c Claim) Validate() error {
	if c.Amount < 1 {
		return fmt.Errorf("%w: amount must be positive, got %d", ErrInvalidClaim, c.Amount)
	}
	if c.Limit < 0 {
		return fmt.Errorf("%w: limit must not be negative, got %d", ErrInvalidClaim, c.Limit)
	}
	if c.Key.Date == "" || !c.Key.Kind.Valid() {
		return fmt.Errorf("%w: incomplete key %q", ErrInvalidClaim, c.Key.String())
	}
	return nil
}

// Ticket is the receipt of a successful Reserve. Everything needed to release
// it is carried so it can be rebuilt from a persisted reservation.
type Ticket struct {
	ID     string           `json:"id"`
	Key    models.LedgerKey `json:"key"`
	Amount int              `json:"amount"`
	Guard  string           `json:"guard,omitempty"`
}

// CapacityLedger tracks committed party size per key.
//
// Reserve is a single atomic check-and-increment per key; Release is idempotent.
// ReleaseGuard frees only the ticket's guard and keeps its amount committed; it
// is idempotent too and never drops a guard now owned by another ticket.
type CapacityLedger interface {
	Reserve(ctx context.Context, claim Claim) (Ticket, error)
	Release(ctx context.Context, ticket Ticket) error
	ReleaseGuard(ctx context.Context, ticket Ticket) error
	Committed(ctx context.Context, key models.LedgerKey) (int, error)
}
