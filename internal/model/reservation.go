package model

import "time"

// Reservation is a soft hold on a seat.  At most one row exists per
// (showtime, seat number); the unique key on those two columns decides
// which connection wins a race.  A hold is owned by the realtime
// connection that created it and expires once ReservedAt is older than
// the configured hold timeout.
//
// Fields:
//  ID            – surrogate primary key.
//  ShowtimeID    – showtime of the held seat.
//  SeatNumber    – held seat.
//  ConnectionID  – realtime connection that owns the hold.
//  ReservedAt    – when the hold was taken (UTC).
//  PaymentID     – checkout payment attached to the hold, if any.
//  CustomerEmail – e-mail attached together with the payment.
type Reservation struct {
	ID            int64     `db:"id"`             // seat_reservations.id
	ShowtimeID    int64     `db:"showtime_id"`    // seat_reservations.showtime_id
	SeatNumber    int       `db:"seat_number"`    // seat_reservations.seat_number
	ConnectionID  string    `db:"connection_id"`  // seat_reservations.connection_id
	ReservedAt    time.Time `db:"reserved_at"`    // seat_reservations.reserved_at
	PaymentID     *string   `db:"payment_id"`     // seat_reservations.payment_id (nullable)
	CustomerEmail *string   `db:"customer_email"` // seat_reservations.customer_email (nullable)
}

// Booking describes seats that were just promoted to booked.  It is handed
// to downstream sinks (the booking.confirmed publisher) after commit.
type Booking struct {
	ShowtimeID    int64     `json:"showtime_id"`
	Seats         []int     `json:"seats"`
	ConnectionID  string    `json:"connection_id,omitempty"`
	PaymentID     string    `json:"payment_id,omitempty"`
	CustomerEmail string    `json:"customer_email,omitempty"`
	BookedAt      time.Time `json:"booked_at"`
}
