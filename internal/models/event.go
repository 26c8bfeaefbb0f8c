package models

import "time"

type ReservationEventType string

const (
	EventReservationCreated ReservationEventType = "reservation.created"
	EventReservationUpdated ReservationEventType = "reservation.updated"
)

// ReservationEvent is the payload published to the lifecycle topics.
type ReservationEvent struct {
	Type          ReservationEventType `json:"type"`
	ReservationID uint64               `json:"reservation_id,string"`
	ReservationNo string               `json:"reservation_no"`
	ApplicantID   string               `json:"applicant_id"`
	BookingKind   BookingKind          `json:"booking_kind"`
	VisitDate     string               `json:"visit_date"`
	ActivityID    string               `json:"activity_id,omitempty"`
	PartySize     int                  `json:"party_size"`
	Status        Status               `json:"status"`
	OccurredAt    time.Time            `json:"occurred_at"`
}

// NewReservationEvent snapshots r for publishing.
func NewReservationEvent(t ReservationEventType, r Reservation, at time.Time) ReservationEvent {
	return ReservationEvent{
		Type:          t,
		ReservationID: r.ID,
		ReservationNo: r.ReservationNo,
		ApplicantID:   r.ApplicantID,
		BookingKind:   r.BookingKind,
		VisitDate:     r.VisitDate,
		ActivityID:    r.ActivityID,
		PartySize:     r.PartySize,
		Status:        r.Status,
		OccurredAt:    at,
	}
}
