// Package realtime is the WebSocket gateway.  It keeps one Client per
// connection, groups clients by showtime, turns inbound frames into
// coordinator calls and fans seat updates out to the showtime group.
package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound intents.
const (
	EventJoinShowtime  = "joinShowtime"
	EventLeaveShowtime = "leaveShowtime"
	EventSelectSeat    = "selectSeat"
	EventReleaseSeat   = "releaseSeat"
	EventBookSeat      = "bookSeat"
)

// Outbound events.
const (
	EventConnected     = "connected"
	EventSeatUpdate    = "seatUpdate"
	EventSeatRejected  = "seatRejected"
	EventBookingFailed = "bookingFailed"
	EventError         = "error"
)

// Envelope is the frame format in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SeatIDs decodes either a single seat number or an array of them.
type SeatIDs []int

func (s *SeatIDs) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var many []int
		if err := json.Unmarshal(b, &many); err != nil {
			return err
		}
		*s = many
		return nil
	}
	var one int
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*s = SeatIDs{one}
	return nil
}

type intentData struct {
	ShowtimeID int64   `json:"showtimeId"`
	SeatID     SeatIDs `json:"seatId"`
}

// Intent is a validated inbound message.
type Intent struct {
	Event      string
	ShowtimeID int64
	Seats      []int
}

// SeatUpdatePayload is the data of a seatUpdate event.
type SeatUpdatePayload struct {
	ShowtimeID int64  `json:"showtimeId"`
	SeatID     []int  `json:"seatId"`
	Status     string `json:"status"`
}

// SeatListPayload is the data of seatRejected and bookingFailed.
type SeatListPayload struct {
	SeatID []int `json:"seatId"`
}

// ConnectedPayload is sent once after the upgrade.
type ConnectedPayload struct {
	ConnectionID string `json:"connectionId"`
}

// ErrorPayload reports protocol misuse.
type ErrorPayload struct {
	Message string `json:"message"`
}

var (
	errMalformed    = errors.New("malformed message")
	errUnknownEvent = errors.New("unknown event")
	errBadShowtime  = errors.New("showtimeId must be a positive integer")
	errNoSeats      = errors.New("seatId is required")
	errBadSeat      = errors.New("seatId must be positive integers")
	errTooManySeats = errors.New("too many seats in one request")
)

// ParseIntent decodes and validates a frame.  maxSeats <= 0 disables the
// per-intent seat limit.
func ParseIntent(raw []byte, maxSeats int) (Intent, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Intent{}, errMalformed
	}
	switch env.Event {
	case EventJoinShowtime, EventLeaveShowtime, EventSelectSeat, EventReleaseSeat, EventBookSeat:
	case "":
		return Intent{}, errMalformed
	default:
		return Intent{}, fmt.Errorf("%w %q", errUnknownEvent, env.Event)
	}
	var d intentData
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return Intent{}, errMalformed
		}
	}
	if d.ShowtimeID <= 0 {
		return Intent{}, errBadShowtime
	}
	in := Intent{Event: env.Event, ShowtimeID: d.ShowtimeID}
	if env.Event == EventJoinShowtime || env.Event == EventLeaveShowtime {
		return in, nil
	}
	if len(d.SeatID) == 0 {
		return Intent{}, errNoSeats
	}
	if maxSeats > 0 && len(d.SeatID) > maxSeats {
		return Intent{}, errTooManySeats
	}
	for _, n := range d.SeatID {
		if n <= 0 {
			return Intent{}, errBadSeat
		}
	}
	in.Seats = []int(d.SeatID)
	return in, nil
}

// encode builds an outbound frame.
func encode(event string, data any) []byte {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = nil
	}
	out, _ := json.Marshal(Envelope{Event: event, Data: raw})
	return out
}
