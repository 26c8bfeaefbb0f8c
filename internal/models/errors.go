package models

import "errors"

var (
	ErrReservationNotFound = errors.New("reservation not found")
	// ErrStaleStatus is returned when a conditional status update matched no row.
	ErrStaleStatus = errors.New("reservation status changed concurrently")
)
