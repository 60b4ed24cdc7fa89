package reservation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/cinema-seat-booking/internal/model"
)

// DefaultHoldTimeout is how long a soft hold lives without being booked.
const DefaultHoldTimeout = 10 * time.Minute

var (
	// ErrNoSeats is returned when an intent names no valid seat.
	ErrNoSeats = errors.New("no seats requested")
	// ErrInvalidStatus is returned for administrative status changes
	// other than available or maintenance.
	ErrInvalidStatus = errors.New("status must be available or maintenance")
	// ErrMissingPayment is returned when a payment id is empty.
	ErrMissingPayment = errors.New("payment id is required")
)

// Coordinator is the only writer of the reservation table and the seat
// ledger.  It is safe for concurrent use; it holds no lock of its own.
type Coordinator struct {
	store  Store
	notify Notifier
	sink   BookingSink
	log    *zap.Logger
	hold   time.Duration
	now    func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithBookingSink registers a sink notified after every booking.
func WithBookingSink(s BookingSink) Option {
	return func(c *Coordinator) { c.sink = s }
}

// NewCoordinator wires a Coordinator.  A non-positive hold timeout falls
// back to DefaultHoldTimeout.
func NewCoordinator(store Store, notify Notifier, hold time.Duration, log *zap.Logger, opts ...Option) *Coordinator {
	if store == nil || notify == nil {
		panic("nil dependency passed to NewCoordinator")
	}
	if hold <= 0 {
		hold = DefaultHoldTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	c := &Coordinator{
		store:  store,
		notify: notify,
		log:    log,
		hold:   hold,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) liveSince() time.Time { return c.now().Add(-c.hold) }

// Select tries to hold each requested seat for connID and returns the
// seats actually acquired.  Seats held by someone else, already booked or
// outside the auditorium are silently left out.  When nothing is acquired
// the caller alone gets a select rejection carrying the requested list.
// An unknown showtime fails with repository.ErrShowtimeNotFound.
func (c *Coordinator) Select(ctx context.Context, showtimeID int64, seats []int, connID string) ([]int, error) {
	wanted := normalizeSeats(seats)
	if len(wanted) == 0 {
		return nil, ErrNoSeats
	}
	layout, err := c.store.Layout(ctx, showtimeID)
	if err != nil {
		return nil, fmt.Errorf("layout %d: %w", showtimeID, err)
	}
	at := c.now()
	acquired := make([]int, 0, len(wanted))
	var failure error
	for _, seat := range wanted {
		if seat > layout.TotalSeats {
			continue
		}
		ok, err := c.store.InsertHold(ctx, showtimeID, seat, connID, at)
		if err != nil {
			failure = fmt.Errorf("insert hold %d/%d: %w", showtimeID, seat, err)
			break
		}
		if ok {
			acquired = append(acquired, seat)
		}
	}
	if len(acquired) > 0 {
		c.notify.Broadcast(showtimeID, SeatUpdate{Seats: acquired, Status: model.SeatReserved})
	} else {
		c.notify.Reject(connID, RejectSelect, seats)
	}
	return acquired, failure
}

// Release drops connID's holds on the requested seats.  The available
// status is broadcast for every requested seat, whether or not a hold
// existed, so that the caller's view reconciles either way.
func (c *Coordinator) Release(ctx context.Context, showtimeID int64, seats []int, connID string) error {
	wanted := normalizeSeats(seats)
	if len(wanted) == 0 {
		return ErrNoSeats
	}
	if _, err := c.store.DeleteHolds(ctx, showtimeID, connID, wanted); err != nil {
		return fmt.Errorf("delete holds: %w", err)
	}
	c.notify.Broadcast(showtimeID, SeatUpdate{Seats: wanted, Status: model.SeatAvailable})
	return nil
}

// Book promotes connID's holds on every requested seat to booked.  It is
// all-or-nothing: when any seat is not held live by connID no seat
// changes and the caller receives a booking failure.
func (c *Coordinator) Book(ctx context.Context, showtimeID int64, seats []int, connID string) (bool, error) {
	wanted := normalizeSeats(seats)
	if len(wanted) == 0 {
		return false, ErrNoSeats
	}
	ok, err := c.store.PromoteHolds(ctx, showtimeID, connID, wanted, c.liveSince())
	if err != nil {
		c.notify.Reject(connID, RejectBook, seats)
		return false, fmt.Errorf("promote holds: %w", err)
	}
	if !ok {
		c.notify.Reject(connID, RejectBook, seats)
		return false, nil
	}
	c.notify.Broadcast(showtimeID, SeatUpdate{Seats: wanted, Status: model.SeatBooked})
	c.emitBooking(ctx, model.Booking{
		ShowtimeID:   showtimeID,
		Seats:        wanted,
		ConnectionID: connID,
		BookedAt:     c.now(),
	})
	return true, nil
}

// Expire evicts holds older than the hold timeout and republishes the
// freed seats as available.  It returns how many holds were evicted.
func (c *Coordinator) Expire(ctx context.Context) (int, error) {
	rows, err := c.store.DeleteExpired(ctx, c.liveSince())
	if err != nil {
		return 0, fmt.Errorf("delete expired holds: %w", err)
	}
	c.broadcastGrouped(rows, model.SeatAvailable)
	return len(rows), nil
}

// ReleaseAll drops every hold owned by connID across all showtimes.  It
// is called when the connection goes away.
func (c *Coordinator) ReleaseAll(ctx context.Context, connID string) (int, error) {
	rows, err := c.store.DeleteByConnection(ctx, connID)
	if err != nil {
		return 0, fmt.Errorf("delete holds of %s: %w", connID, err)
	}
	c.broadcastGrouped(rows, model.SeatAvailable)
	return len(rows), nil
}

// AttachPayment ties connID's live holds on the requested seats to a
// checkout payment so that ConfirmPayment can book them later.
func (c *Coordinator) AttachPayment(ctx context.Context, showtimeID int64, seats []int, connID, paymentID, email string) (bool, error) {
	wanted := normalizeSeats(seats)
	if len(wanted) == 0 {
		return false, ErrNoSeats
	}
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return false, ErrMissingPayment
	}
	ok, err := c.store.AttachPayment(ctx, showtimeID, connID, wanted, c.liveSince(), paymentID, strings.TrimSpace(email))
	if err != nil {
		return false, fmt.Errorf("attach payment: %w", err)
	}
	return ok, nil
}

// ConfirmPayment books every hold tagged with paymentID.  It goes through
// the same atomic promotion as Book and returns the booked seats per
// showtime.
func (c *Coordinator) ConfirmPayment(ctx context.Context, paymentID string) (map[int64][]int, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, ErrMissingPayment
	}
	rows, err := c.store.PromotePayment(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("promote payment %s: %w", paymentID, err)
	}
	groups := groupByShowtime(rows)
	c.broadcastGrouped(rows, model.SeatBooked)
	now := c.now()
	for _, showtimeID := range sortedKeys(groups) {
		b := model.Booking{
			ShowtimeID: showtimeID,
			Seats:      groups[showtimeID],
			PaymentID:  paymentID,
			BookedAt:   now,
		}
		for _, r := range rows {
			if r.ShowtimeID != showtimeID {
				continue
			}
			b.ConnectionID = r.ConnectionID
			if r.CustomerEmail != nil {
				b.CustomerEmail = *r.CustomerEmail
			}
			break
		}
		c.emitBooking(ctx, b)
	}
	return groups, nil
}

// SetSeatStatus is the administrative path for available and maintenance.
// Seats that are held or booked are skipped; the changed seats are
// returned and broadcast.
func (c *Coordinator) SetSeatStatus(ctx context.Context, showtimeID int64, seats []int, status model.SeatStatus) ([]int, error) {
	if status != model.SeatAvailable && status != model.SeatMaintenance {
		return nil, ErrInvalidStatus
	}
	wanted := normalizeSeats(seats)
	if len(wanted) == 0 {
		return nil, ErrNoSeats
	}
	changed, err := c.store.SetSeatStatus(ctx, showtimeID, wanted, status)
	if err != nil {
		return nil, fmt.Errorf("set seat status: %w", err)
	}
	if len(changed) > 0 {
		c.notify.Broadcast(showtimeID, SeatUpdate{Seats: changed, Status: status})
	}
	return changed, nil
}

// SeedShowtime pre-creates available ledger rows for every seat of the
// showtime's auditorium.
func (c *Coordinator) SeedShowtime(ctx context.Context, showtimeID int64) (int64, error) {
	layout, err := c.store.Layout(ctx, showtimeID)
	if err != nil {
		return 0, err
	}
	n, err := c.store.SeedSeats(ctx, showtimeID, layout.TotalSeats)
	if err != nil {
		return 0, fmt.Errorf("seed seats: %w", err)
	}
	return n, nil
}

// PurgeShowtime removes a showtime's seats and holds.  It refuses with
// repository.ErrConflict once anything is booked.
func (c *Coordinator) PurgeShowtime(ctx context.Context, showtimeID int64) error {
	return c.store.PurgeShowtime(ctx, showtimeID)
}

// Layout returns the auditorium geometry of a showtime.
func (c *Coordinator) Layout(ctx context.Context, showtimeID int64) (model.Layout, error) {
	return c.store.Layout(ctx, showtimeID)
}

// SeatMap returns the effective status of every seat of a showtime: the
// ledger status, overridden by reserved where a hold exists.
func (c *Coordinator) SeatMap(ctx context.Context, showtimeID int64) (model.SeatMap, error) {
	layout, err := c.store.Layout(ctx, showtimeID)
	if err != nil {
		return model.SeatMap{}, err
	}
	seats, err := c.store.Seats(ctx, showtimeID)
	if err != nil {
		return model.SeatMap{}, fmt.Errorf("load seats: %w", err)
	}
	holds, err := c.store.Holds(ctx, showtimeID)
	if err != nil {
		return model.SeatMap{}, fmt.Errorf("load holds: %w", err)
	}
	status := make(map[int]model.SeatStatus, len(seats)+len(holds))
	for _, s := range seats {
		status[s.SeatNumber] = s.Status
	}
	for _, h := range holds {
		status[h.SeatNumber] = model.SeatReserved
	}
	out := model.SeatMap{Layout: layout, Seats: make([]model.SeatStatusView, 0, layout.TotalSeats)}
	for n := 1; n <= layout.TotalSeats; n++ {
		st, ok := status[n]
		if !ok {
			st = model.SeatAvailable
		}
		out.Seats = append(out.Seats, model.SeatStatusView{SeatNumber: n, Status: st})
	}
	return out, nil
}

func (c *Coordinator) emitBooking(ctx context.Context, b model.Booking) {
	if c.sink == nil {
		return
	}
	if err := c.sink.BookingConfirmed(ctx, b); err != nil {
		c.log.Warn("booking sink failed",
			zap.Int64("showtime_id", b.ShowtimeID),
			zap.Ints("seats", b.Seats),
			zap.Error(err))
	}
}

func (c *Coordinator) broadcastGrouped(rows []model.Reservation, status model.SeatStatus) {
	groups := groupByShowtime(rows)
	for _, showtimeID := range sortedKeys(groups) {
		c.notify.Broadcast(showtimeID, SeatUpdate{Seats: groups[showtimeID], Status: status})
	}
}

func groupByShowtime(rows []model.Reservation) map[int64][]int {
	groups := make(map[int64][]int)
	for _, r := range rows {
		groups[r.ShowtimeID] = append(groups[r.ShowtimeID], r.SeatNumber)
	}
	for id := range groups {
		sort.Ints(groups[id])
	}
	return groups
}

func sortedKeys(m map[int64][]int) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// normalizeSeats drops non-positive numbers and duplicates and sorts the
// rest.  Sorted order keeps lock acquisition consistent across
// transactions.
func normalizeSeats(seats []int) []int {
	seen := make(map[int]struct{}, len(seats))
	out := make([]int, 0, len(seats))
	for _, s := range seats {
		if s <= 0 {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Ints(out)
	return out
}
