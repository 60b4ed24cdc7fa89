// Package repository defines error types that are reused across the
// storage implementations.  These sentinel values allow higher layers such
// as handlers and the realtime gateway to distinguish between failure
// scenarios without depending on a particular driver.
package repository

import "errors"

// ErrConflict is returned when a delete or update cannot be performed
// because of conflicting state, such as purging a showtime that already
// has booked seats.  Handlers translate this into an HTTP 409 response.
var ErrConflict = errors.New("conflict")

// ErrShowtimeNotFound is returned when a showtime (or its auditorium)
// does not exist.
var ErrShowtimeNotFound = errors.New("showtime not found")

// ErrNoHolds is returned when a payment confirmation finds no hold
// tagged with the payment, usually because the holds already expired or
// the payment was confirmed before.
var ErrNoHolds = errors.New("no holds for payment")
