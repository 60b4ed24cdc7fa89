package model

// Layout is the seat-map geometry of a showtime, read from the showtime's
// auditorium.  Seats are numbered 1..TotalSeats, SeatsPerRow to a row.
type Layout struct {
	ShowtimeID   int64 `db:"showtime_id" json:"showtime_id"`
	AuditoriumID int64 `db:"auditorium_id" json:"auditorium_id"`
	TotalSeats   int   `db:"total_seats" json:"total_seats"`
	SeatsPerRow  int   `db:"seats_per_row" json:"seats_per_row"`
}

// SeatMap is the effective status of every seat of a showtime.
type SeatMap struct {
	Layout Layout           `json:"layout"`
	Seats  []SeatStatusView `json:"seats"`
}

// SeatStatusView is one entry of a SeatMap.
type SeatStatusView struct {
	SeatNumber int        `json:"seat_number"`
	Status     SeatStatus `json:"status"`
}
