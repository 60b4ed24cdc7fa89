// Package queue holds the RabbitMQ side of the service: the consumer of
// payment confirmations and the publisher of booking confirmations.
package queue

import (
	"time"

	"github.com/iliyamo/cinema-seat-booking/internal/model"
)

// PaymentConfirmedEvent is published by the checkout collaborator once the
// payment provider has captured a payment.  Only PaymentID is required;
// the holds were tagged with it beforehand.
type PaymentConfirmedEvent struct {
	PaymentID   string `json:"payment_id"`
	ConfirmedAt string `json:"confirmed_at,omitempty"`
}

// BookingConfirmedEvent is published after seats were booked, either over
// the socket or through a confirmed payment.  It carries enough for
// downstream consumers (ticket mailer, analytics) without querying the
// primary database.
type BookingConfirmedEvent struct {
	ShowtimeID    int64  `json:"showtime_id"`
	Seats         []int  `json:"seats"`
	ConnectionID  string `json:"connection_id,omitempty"`
	PaymentID     string `json:"payment_id,omitempty"`
	CustomerEmail string `json:"customer_email,omitempty"`
	BookedAt      string `json:"booked_at"`
}

func newBookingEvent(b model.Booking) BookingConfirmedEvent {
	return BookingConfirmedEvent{
		ShowtimeID:    b.ShowtimeID,
		Seats:         b.Seats,
		ConnectionID:  b.ConnectionID,
		PaymentID:     b.PaymentID,
		CustomerEmail: b.CustomerEmail,
		BookedAt:      b.BookedAt.UTC().Format(time.RFC3339),
	}
}
