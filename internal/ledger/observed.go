package ledger

import (
	"context"
	"errors"
	"time"

	"ms-reservation/internal/models"
)

// Observer receives the outcome and latency of every ledger call.
type Observer interface {
	ObserveLedger(backend, op, outcome string, elapsed time.Duration)
}

type observed struct {
	next     CapacityLedger
	backend  string
	observer Observer
}

// Observe wraps l so each call is reported to o under backend.
func Observe(l CapacityLedger, backend string, o Observer) CapacityLedger {
	if o == nil {
		return l
	}
	return &observed{next: l, backend: backend, observer: o}
}

func (o *observed) Reserve(ctx context.Context, claim Claim) (Ticket, error) {
	start := time.Now()
	t, err := o.next.Reserve(ctx, claim)
	o.observer.ObserveLedger(o.backend, "reserve", Outcome(err), time.Since(start))
	return t, err
}

func (o *observed) Release(ctx context.Context, ticket Ticket) error {
	start := time.Now()
	err := o.next.Release(ctx, ticket)
	o.observer.ObserveLedger(o.backend, "release", Outcome(err), time.Since(start))
	return err
}

func (o *observed) ReleaseGuard(ctx context.Context, ticket Ticket) error {
	start := time.Now()
	err := o.next.ReleaseGuard(ctx, ticket)
	o.observer.ObserveLedger(o.backend, "release_guard", Outcome(err), time.Since(start))
	return err
}

func (o *observed) Committed(ctx context.Context, key models.LedgerKey) (int, error) {
	start := time.Now()
	n, err := o.next.Committed(ctx, key)
	o.observer.ObserveLedger(o.backend, "committed", Outcome(err), time.Since(start))
	return n, err
}

// Outcome is the metric label for a ledger error.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCapacityExceeded):
		return "exceeded"
	case errors.Is(err, ErrDuplicateHolder):
		return "duplicate"
	case errors.Is(err, ErrInvalidClaim):
		return "invalid"
	default:
		return "unavailable"
	}
}
