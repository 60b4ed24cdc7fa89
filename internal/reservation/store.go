// Package reservation implements the seat reservation state machine.
//
// The Coordinator validates client intents against the reservation table
// and the seat ledger and decides what to broadcast.  It never reads a row
// and then writes based on what it saw: every read-write pair is delegated
// to the Store as one atomic storage operation, and the unique key on
// (showtime_id, seat_number) is what resolves races between connections.
package reservation

import (
	"context"
	"time"

	"github.com/iliyamo/cinema-seat-booking/internal/model"
)

// Store is the persistence contract the Coordinator relies on.  Every
// method is a single atomic operation at the storage layer; callers must
// not compose two calls into a check-then-act sequence.
type Store interface {
	// InsertHold creates a hold unless the seat already has one or its
	// ledger status is booked or maintenance.  A lost race is reported as
	// (false, nil), never as an error.
	InsertHold(ctx context.Context, showtimeID int64, seat int, connID string, at time.Time) (bool, error)

	// DeleteHolds removes the holds of connID on the given seats and
	// returns how many rows were removed.
	DeleteHolds(ctx context.Context, showtimeID int64, connID string, seats []int) (int64, error)

	// PromoteHolds books every seat in one transaction.  It succeeds only
	// when connID owns a hold taken at or after liveSince on every seat;
	// otherwise nothing changes and false is returned.
	PromoteHolds(ctx context.Context, showtimeID int64, connID string, seats []int, liveSince time.Time) (bool, error)

	// DeleteExpired removes and returns every hold taken before the cutoff.
	DeleteExpired(ctx context.Context, before time.Time) ([]model.Reservation, error)

	// DeleteByConnection removes and returns every hold owned by connID.
	DeleteByConnection(ctx context.Context, connID string) ([]model.Reservation, error)

	// AttachPayment tags the live holds of connID with a payment.  All
	// seats must be owned and live or nothing is updated.
	AttachPayment(ctx context.Context, showtimeID int64, connID string, seats []int, liveSince time.Time, paymentID, email string) (bool, error)

	// PromotePayment books every hold tagged with paymentID in one
	// transaction and returns the promoted holds.  It returns
	// repository.ErrNoHolds when no hold carries the payment.
	PromotePayment(ctx context.Context, paymentID string) ([]model.Reservation, error)

	// SetSeatStatus sets available or maintenance on seats that are
	// neither held nor booked and returns the seats that changed.
	SetSeatStatus(ctx context.Context, showtimeID int64, seats []int, status model.SeatStatus) ([]int, error)

	// Layout returns the seat-map geometry of a showtime or
	// repository.ErrShowtimeNotFound.
	Layout(ctx context.Context, showtimeID int64) (model.Layout, error)

	// SeedSeats inserts available ledger rows 1..total that do not exist
	// yet and returns how many were created.
	SeedSeats(ctx context.Context, showtimeID int64, total int) (int64, error)

	// Seats lists the ledger rows of a showtime.
	Seats(ctx context.Context, showtimeID int64) ([]model.Seat, error)

	// Holds lists the holds of a showtime.
	Holds(ctx context.Context, showtimeID int64) ([]model.Reservation, error)

	// PurgeShowtime deletes the ledger and hold rows of a showtime.  It
	// returns repository.ErrConflict when any seat is booked.
	PurgeShowtime(ctx context.Context, showtimeID int64) error
}

// SeatUpdate is a status change broadcast to a showtime group.
type SeatUpdate struct {
	Seats  []int
	Status model.SeatStatus
}

// Rejection identifies which signal a connection receives when its intent
// could not be honoured.
type Rejection int

const (
	// RejectSelect is sent when a select acquired no seat at all.
	RejectSelect Rejection = iota + 1
	// RejectBook is sent when a book failed as a whole.
	RejectBook
)

func (r Rejection) String() string {
	switch r {
	case RejectSelect:
		return "select"
	case RejectBook:
		return "book"
	}
	return "unknown"
}

// Notifier delivers coordinator outcomes to connections.
type Notifier interface {
	// Broadcast sends an update to every connection subscribed to the
	// showtime, on every instance.
	Broadcast(showtimeID int64, update SeatUpdate)
	// Reject sends a rejection to one connection only.
	Reject(connID string, kind Rejection, seats []int)
}

// BookingSink is told about seats that were booked, after commit.
type BookingSink interface {
	BookingConfirmed(ctx context.Context, b model.Booking) error
}
