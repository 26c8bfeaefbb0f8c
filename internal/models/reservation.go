package models

import (
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// DateLayout is the wire and storage format of visit and calendar dates.
const DateLayout = "2006-01-02"

type BookingKind string

const (
	BookingIndividual BookingKind = "INDIVIDUAL"
	BookingTeam       BookingKind = "TEAM"
	BookingActivity   BookingKind = "ACTIVITY"
)

func (k BookingKind) Valid() bool {
	switch k {
	case BookingIndividual, BookingTeam, BookingActivity:
		return true
	}
	return false
}

// Letter is the single character prefix used in reservation numbers.
func (k BookingKind) Letter() string {
	switch k {
	case BookingTeam:
		return "T"
	case BookingActivity:
		return "A"
	default:
		return "I"
	}
}

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
	StatusCompleted Status = "COMPLETED"
)

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusCancelled || s == StatusCompleted
}

// HoldsCapacity reports whether a reservation in s still counts against the
// ledger. COMPLETED keeps its capacity: the visit happened.
func (s Status) HoldsCapacity() bool {
	return s == StatusPending || s == StatusConfirmed || s == StatusCompleted
}

// ActiveStatuses are the non-terminal statuses; duplicate checks look at these.
var ActiveStatuses = []Status{StatusPending, StatusConfirmed}

// HoldingStatuses are the statuses whose party size is counted by the ledger.
var HoldingStatuses = []Status{StatusPending, StatusConfirmed, StatusCompleted}

// ReservationRequest is the admission input. It is never persisted.
type ReservationRequest struct {
	ApplicantID    string      `json:"applicant_id" validate:"required,max=64"`
	ApplicantName  string      `json:"applicant_name" validate:"omitempty,max=100"`
	ApplicantPhone string      `json:"applicant_phone" validate:"omitempty,max=32"`
	TeamName       string      `json:"team_name" validate:"required_if=BookingKind TEAM,max=100"`
	BookingKind    BookingKind `json:"booking_kind" validate:"required,oneof=INDIVIDUAL TEAM ACTIVITY"`
	Date           string      `json:"date" validate:"required,datetime=2006-01-02"`
	ActivityID     string      `json:"activity_id" validate:"required_if=BookingKind ACTIVITY,max=64"`
	PartySize      int         `json:"party_size" validate:"gte=1"`
	TimeSlot       string      `json:"time_slot" validate:"omitempty,max=32"`
}

// Verification carries on-site check-in details recorded on COMPLETED reservations.
type Verification struct {
	Location string `json:"location"`
	Device   string `json:"device"`
	Remark   string `json:"remark"`
}

type Reservation struct {
	bun.BaseModel `bun:"table:reservations"`

	ID             uint64      `bun:"id,pk" json:"id,string"`
	ReservationNo  string      `bun:"reservation_no,notnull,unique" json:"reservation_no"`
	ApplicantID    string      `bun:"applicant_id,notnull" json:"applicant_id"`
	ApplicantName  string      `bun:"applicant_name" json:"applicant_name,omitempty"`
	ApplicantPhone string      `bun:"applicant_phone" json:"applicant_phone,omitempty"`
	TeamName       string      `bun:"team_name" json:"team_name,omitempty"`
	BookingKind    BookingKind `bun:"booking_kind,notnull" json:"booking_kind"`
	VisitDate      string      `bun:"visit_date,notnull" json:"visit_date"`
	TimeSlot       string      `bun:"time_slot" json:"time_slot,omitempty"`
	ActivityID     string      `bun:"activity_id" json:"activity_id,omitempty"`
	PartySize      int         `bun:"party_size,notnull" json:"party_size"`
	Status         Status      `bun:"status,notnull" json:"status"`
	TicketID       string      `bun:"ticket_id,notnull" json:"-"`
	SlotTicketID   string      `bun:"slot_ticket_id" json:"-"`
	GuardToken     string      `bun:"guard_token" json:"-"`
	CancelReason   string      `bun:"cancel_reason" json:"cancel_reason,omitempty"`
	VerifiedBy     string      `bun:"verified_by" json:"verified_by,omitempty"`
	VerifyLocation string      `bun:"verify_location" json:"verify_location,omitempty"`
	VerifyDevice   string      `bun:"verify_device" json:"verify_device,omitempty"`
	VerifyRemark   string      `bun:"verify_remark" json:"verify_remark,omitempty"`
	VerifiedAt     *time.Time  `bun:"verified_at" json:"verified_at,omitempty"`
	CreateTime     time.Time   `bun:"create_time,notnull" json:"create_time"`
	UpdateTime     time.Time   `bun:"update_time,notnull" json:"update_time"`
	Deleted        bool        `bun:"deleted,notnull,default:false" json:"-"`
}

// LedgerKey is the capacity scope the reservation's main ticket was taken on.
func (r *Reservation) LedgerKey() LedgerKey {
	return LedgerKey{Date: r.VisitDate, Kind: r.BookingKind, ActivityID: r.ActivityID}
}

// SlotLedgerKey is the scope of the optional per-slot ticket.
func (r *Reservation) SlotLedgerKey() LedgerKey {
	key := r.LedgerKey()
	key.Slot = r.TimeSlot
	return key
}

// VisitStart resolves the moment the visit begins in loc. A slot token of the
// form "HH:MM" or "HH:MM-HH:MM" sets the time of day; otherwise the visit starts
// at midnight.
func VisitStart(date, slot string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	day, err := time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return time.Time{}, err
	}
	start, _, _ := strings.Cut(slot, "-")
	if clock, err := time.Parse("15:04", strings.TrimSpace(start)); err == nil {
		return day.Add(time.Duration(clock.Hour())*time.Hour + time.Duration(clock.Minute())*time.Minute), nil
	}
	return day, nil
}
