// Package memory provides an in-process implementation of the seat
// ledger and the reservation table.  It honours the same atomicity
// contract as the MySQL store by running every operation under one mutex,
// and is used for local runs (STORE_DRIVER=memory) and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/cinema-seat-booking/internal/model"
	"github.com/iliyamo/cinema-seat-booking/internal/repository"
)

type seatKey struct {
	showtime int64
	seat     int
}

// Store keeps holds and ledger rows in maps keyed by (showtime, seat).
// The map key plays the role of the unique constraint.
type Store struct {
	mu      sync.Mutex
	nextID  int64
	holds   map[seatKey]model.Reservation
	seats   map[seatKey]model.Seat
	layouts map[int64]model.Layout
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		holds:   make(map[seatKey]model.Reservation),
		seats:   make(map[seatKey]model.Seat),
		layouts: make(map[int64]model.Layout),
	}
}

// PutLayout registers the geometry of a showtime.
func (s *Store) PutLayout(l model.Layout) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layouts[l.ShowtimeID] = l
}

func (s *Store) InsertHold(ctx context.Context, showtimeID int64, seat int, connID string, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := seatKey{showtimeID, seat}
	if _, ok := s.holds[k]; ok {
		return false, nil
	}
	if st, ok := s.seats[k]; ok && (st.Status == model.SeatBooked || st.Status == model.SeatMaintenance) {
		return false, nil
	}
	s.nextID++
	s.holds[k] = model.Reservation{
		ID:           s.nextID,
		ShowtimeID:   showtimeID,
		SeatNumber:   seat,
		ConnectionID: connID,
		ReservedAt:   at.UTC(),
	}
	return true, nil
}

func (s *Store) DeleteHolds(ctx context.Context, showtimeID int64, connID string, seats []int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, seat := range seats {
		k := seatKey{showtimeID, seat}
		if h, ok := s.holds[k]; ok && h.ConnectionID == connID {
			delete(s.holds, k)
			n++
		}
	}
	return n, nil
}

func (s *Store) PromoteHolds(ctx context.Context, showtimeID int64, connID string, seats []int, liveSince time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if len(seats) == 0 {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seat := range seats {
		h, ok := s.holds[seatKey{showtimeID, seat}]
		if !ok || h.ConnectionID != connID || h.ReservedAt.Before(liveSince) {
			return false, nil
		}
	}
	for _, seat := range seats {
		k := seatKey{showtimeID, seat}
		delete(s.holds, k)
		s.seats[k] = model.Seat{ShowtimeID: showtimeID, SeatNumber: seat, Status: model.SeatBooked}
	}
	return true, nil
}

func (s *Store) DeleteExpired(ctx context.Context, before time.Time) ([]model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteWhere(func(h model.Reservation) bool { return h.ReservedAt.Before(before) }), nil
}

func (s *Store) DeleteByConnection(ctx context.Context, connID string) ([]model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteWhere(func(h model.Reservation) bool { return h.ConnectionID == connID }), nil
}

func (s *Store) AttachPayment(ctx context.Context, showtimeID int64, connID string, seats []int, liveSince time.Time, paymentID, email string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if len(seats) == 0 {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seat := range seats {
		h, ok := s.holds[seatKey{showtimeID, seat}]
		if !ok || h.ConnectionID != connID || h.ReservedAt.Before(liveSince) {
			return false, nil
		}
	}
	var mail *string
	if email != "" {
		mail = &email
	}
	for _, seat := range seats {
		k := seatKey{showtimeID, seat}
		h := s.holds[k]
		pid := paymentID
		h.PaymentID = &pid
		h.CustomerEmail = mail
		s.holds[k] = h
	}
	return true, nil
}

func (s *Store) PromotePayment(ctx context.Context, paymentID string) ([]model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.deleteWhere(func(h model.Reservation) bool {
		return h.PaymentID != nil && *h.PaymentID == paymentID
	})
	if len(rows) == 0 {
		return nil, repository.ErrNoHolds
	}
	for _, r := range rows {
		s.seats[seatKey{r.ShowtimeID, r.SeatNumber}] = model.Seat{
			ShowtimeID:    r.ShowtimeID,
			SeatNumber:    r.SeatNumber,
			Status:        model.SeatBooked,
			PaymentID:     r.PaymentID,
			CustomerEmail: r.CustomerEmail,
		}
	}
	return rows, nil
}

func (s *Store) SetSeatStatus(ctx context.Context, showtimeID int64, seats []int, status model.SeatStatus) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var changed []int
	for _, seat := range seats {
		k := seatKey{showtimeID, seat}
		if _, held := s.holds[k]; held {
			continue
		}
		prev := model.SeatAvailable
		if st, ok := s.seats[k]; ok {
			prev = st.Status
		}
		if prev == model.SeatBooked || prev == model.SeatReserved || prev == status {
			continue
		}
		s.seats[k] = model.Seat{ShowtimeID: showtimeID, SeatNumber: seat, Status: status}
		changed = append(changed, seat)
	}
	return changed, nil
}

func (s *Store) Layout(ctx context.Context, showtimeID int64) (model.Layout, error) {
	if err := ctx.Err(); err != nil {
		return model.Layout{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.layouts[showtimeID]
	if !ok {
		return model.Layout{}, repository.ErrShowtimeNotFound
	}
	return l, nil
}

func (s *Store) SeedSeats(ctx context.Context, showtimeID int64, total int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for seat := 1; seat <= total; seat++ {
		k := seatKey{showtimeID, seat}
		if _, ok := s.seats[k]; ok {
			continue
		}
		s.seats[k] = model.Seat{ShowtimeID: showtimeID, SeatNumber: seat, Status: model.SeatAvailable}
		n++
	}
	return n, nil
}

func (s *Store) Seats(ctx context.Context, showtimeID int64) ([]model.Seat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Seat
	for k, st := range s.seats {
		if k.showtime == showtimeID {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeatNumber < out[j].SeatNumber })
	return out, nil
}

func (s *Store) Holds(ctx context.Context, showtimeID int64) ([]model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Reservation
	for k, h := range s.holds {
		if k.showtime == showtimeID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeatNumber < out[j].SeatNumber })
	return out, nil
}

func (s *Store) PurgeShowtime(ctx context.Context, showtimeID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, st := range s.seats {
		if k.showtime == showtimeID && st.Status == model.SeatBooked {
			return repository.ErrConflict
		}
	}
	for k := range s.holds {
		if k.showtime == showtimeID {
			delete(s.holds, k)
		}
	}
	for k := range s.seats {
		if k.showtime == showtimeID {
			delete(s.seats, k)
		}
	}
	return nil
}

// deleteWhere removes matching holds and returns them ordered by showtime
// then seat.  The caller holds s.mu.
func (s *Store) deleteWhere(match func(model.Reservation) bool) []model.Reservation {
	var out []model.Reservation
	for k, h := range s.holds {
		if match(h) {
			out = append(out, h)
			delete(s.holds, k)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ShowtimeID != out[j].ShowtimeID {
			return out[i].ShowtimeID < out[j].ShowtimeID
		}
		return out[i].SeatNumber < out[j].SeatNumber
	})
	return out
}
