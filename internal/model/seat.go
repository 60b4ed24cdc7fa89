package model

// SeatStatus is the ledger status of one seat for one showtime.
type SeatStatus string

const (
	SeatAvailable   SeatStatus = "available"
	SeatReserved    SeatStatus = "reserved"
	SeatBooked      SeatStatus = "booked"
	SeatMaintenance SeatStatus = "maintenance"
)

// Valid reports whether s is one of the four known statuses.
func (s SeatStatus) Valid() bool {
	switch s {
	case SeatAvailable, SeatReserved, SeatBooked, SeatMaintenance:
		return true
	}
	return false
}

// Seat is a row of the seat ledger.  A seat is identified by the pair
// (showtime, seat number); rows are created lazily on the first status
// change or pre-seeded when a showtime is scheduled.  The ledger never
// stores "reserved": soft holds live in seat_reservations and are merged
// in when a seat map is read.
//
// Fields:
//  ShowtimeID    – showtime the seat belongs to.
//  SeatNumber    – 1-based seat number within the auditorium.
//  Status        – available, booked or maintenance.
//  PaymentID     – payment that booked the seat (nil when booked over the socket).
//  CustomerEmail – e-mail captured at checkout (nil when unknown).
type Seat struct {
	ShowtimeID    int64      `db:"showtime_id" json:"showtime_id"`                 // seats.showtime_id
	SeatNumber    int        `db:"seat_number" json:"seat_number"`                 // seats.seat_number
	Status        SeatStatus `db:"status" json:"status"`                           // seats.status
	PaymentID     *string    `db:"payment_id" json:"payment_id,omitempty"`         // seats.payment_id (nullable)
	CustomerEmail *string    `db:"customer_email" json:"customer_email,omitempty"` // seats.customer_email (nullable)
}
