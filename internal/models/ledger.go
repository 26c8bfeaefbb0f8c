package models

import (
	"time"

	"github.com/uptrace/bun"
)

// LedgerKey scopes committed capacity. Slot is only set for per-slot claims.
type LedgerKey struct {
	Date       string      `json:"date"`
	Kind       BookingKind `json:"booking_kind"`
	ActivityID string      `json:"activity_id,omitempty"`
	Slot       string      `json:"time_slot,omitempty"`
}

func (k LedgerKey) String() string {
	activity, slot := k.ActivityID, k.Slot
	if activity == "" {
		activity = "-"
	}
	if slot == "" {
		slot = "-"
	}
	return k.Date + "|" + string(k.Kind) + "|" + activity + "|" + slot
}

// LedgerEntry is the committed party-size total of one ledger key.
type LedgerEntry struct {
	bun.BaseModel `bun:"table:capacity_ledger"`

	LedgerKey   string      `bun:"ledger_key,pk"`
	VisitDate   string      `bun:"visit_date,notnull"`
	BookingKind BookingKind `bun:"booking_kind,notnull"`
	ActivityID  string      `bun:"activity_id"`
	TimeSlot    string      `bun:"time_slot"`
	Committed   int         `bun:"committed,notnull,default:0"`
	UpdatedAt   time.Time   `bun:"updated_at,notnull"`
}

// CapacityTicket records one successful reserve so it can be released once.
type CapacityTicket struct {
	bun.BaseModel `bun:"table:capacity_tickets"`

	ID         string     `bun:"id,pk"`
	LedgerKey  string     `bun:"ledger_key,notnull"`
	Amount     int        `bun:"amount,notnull"`
	Guard      string     `bun:"guard"`
	Released   bool       `bun:"released,notnull,default:false"`
	CreatedAt  time.Time  `bun:"created_at,notnull"`
	ReleasedAt *time.Time `bun:"released_at"`
}

// DuplicateGuard makes an applicant's booking unique within its scope while
// the owning ticket is held.
type DuplicateGuard struct {
	bun.BaseModel `bun:"table:reservation_guards"`

	Guard     string    `bun:"guard,pk"`
	TicketID  string    `bun:"ticket_id,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

// CapacityStatus is the read-only dashboard view of one ledger key.
type CapacityStatus struct {
	Key       LedgerKey `json:"key"`
	Open      bool      `json:"open"`
	Committed int       `json:"committed"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
}

// LedgerAudit compares the ledger with the reservations that should back it.
type LedgerAudit struct {
	Key       LedgerKey `json:"key"`
	Committed int       `json:"committed"`
	Expected  int       `json:"expected"`
	Drift     int       `json:"drift"`
}
