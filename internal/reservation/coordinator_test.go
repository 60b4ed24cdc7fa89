package reservation_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/iliyamo/cinema-seat-booking/internal/model"
	"github.com/iliyamo/cinema-seat-booking/internal/repository"
	"github.com/iliyamo/cinema-seat-booking/internal/repository/memory"
	"github.com/iliyamo/cinema-seat-booking/internal/reservation"
)

type broadcast struct {
	showtime int64
	update   reservation.SeatUpdate
}

type rejection struct {
	conn  string
	kind  reservation.Rejection
	seats []int
}

type recorder struct {
	mu         sync.Mutex
	broadcasts []broadcast
	rejections []rejection
}

func (r *recorder) Broadcast(showtimeID int64, u reservation.SeatUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcasts = append(r.broadcasts, broadcast{showtimeID, u})
}

func (r *recorder) Reject(connID string, kind reservation.Rejection, seats []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejections = append(r.rejections, rejection{connID, kind, append([]int(nil), seats...)})
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcasts = nil
	r.rejections = nil
}

type sinkFunc func(ctx context.Context, b model.Booking) error

func (f sinkFunc) BookingConfirmed(ctx context.Context, b model.Booking) error { return f(ctx, b) }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newCoordinator(t *testing.T, opts ...reservation.Option) (*reservation.Coordinator, *memory.Store, *recorder, *clock) {
	t.Helper()
	store := memory.New()
	for _, id := range []int64{1, 2, 3, 5, 6, 7, 9, 42} {
		store.PutLayout(model.Layout{ShowtimeID: id, AuditoriumID: 1, TotalSeats: 20, SeatsPerRow: 10})
	}
	rec := &recorder{}
	clk := &clock{now: time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)}
	opts = append([]reservation.Option{reservation.WithClock(clk.Now)}, opts...)
	c := reservation.NewCoordinator(store, rec, 10*time.Minute, nil, opts...)
	return c, store, rec, clk
}

func TestSelectConcurrentSingleWinner(t *testing.T) {
	c, store, rec, _ := newCoordinator(t)
	ctx := context.Background()

	const contenders = 50
	var wg sync.WaitGroup
	results := make(chan []int, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := c.Select(ctx, 1, []int{7}, fmt.Sprintf("conn-%d", i))
			if err != nil {
				t.Errorf("select: %v", err)
			}
			results <- got
		}(i)
	}
	wg.Wait()
	close(results)

	winners := 0
	for got := range results {
		if len(got) == 1 && got[0] == 7 {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want 1", winners)
	}
	holds, _ := store.Holds(ctx, 1)
	if len(holds) != 1 {
		t.Fatalf("holds = %d, want 1", len(holds))
	}
	if len(rec.broadcasts) != 1 || len(rec.rejections) != contenders-1 {
		t.Fatalf("broadcasts=%d rejections=%d", len(rec.broadcasts), len(rec.rejections))
	}
	for _, r := range rec.rejections {
		if r.conn == holds[0].ConnectionID {
			t.Fatalf("winner %s was rejected", r.conn)
		}
		if r.kind != reservation.RejectSelect {
			t.Fatalf("kind = %v", r.kind)
		}
	}
}

func TestSelectPartialAcquisition(t *testing.T) {
	c, _, rec, _ := newCoordinator(t)
	ctx := context.Background()

	if _, err := c.Select(ctx, 1, []int{2}, "a"); err != nil {
		t.Fatal(err)
	}
	rec.reset()
	got, err := c.Select(ctx, 1, []int{3, 2, 1, 3}, "b")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []int{1, 3}) {
		t.Fatalf("acquired = %v, want [1 3]", got)
	}
	if len(rec.rejections) != 0 {
		t.Fatalf("partial success must not reject, got %+v", rec.rejections)
	}
	want := []broadcast{{1, reservation.SeatUpdate{Seats: []int{1, 3}, Status: model.SeatReserved}}}
	if !reflect.DeepEqual(rec.broadcasts, want) {
		t.Fatalf("broadcasts = %+v", rec.broadcasts)
	}
}

func TestSelectEmpty(t *testing.T) {
	c, _, _, _ := newCoordinator(t)
	if _, err := c.Select(context.Background(), 1, []int{0, -4}, "a"); !errors.Is(err, reservation.ErrNoSeats) {
		t.Fatalf("err = %v, want ErrNoSeats", err)
	}
}

func TestSelectOutsideLayout(t *testing.T) {
	c, store, rec, _ := newCoordinator(t)
	ctx := context.Background()

	got, err := c.Select(ctx, 3, []int{19, 20, 21, 500}, "a")
	if err != nil || !reflect.DeepEqual(got, []int{19, 20}) {
		t.Fatalf("got %v, %v", got, err)
	}
	if got, _ := c.Select(ctx, 3, []int{21}, "a"); len(got) != 0 {
		t.Fatalf("seat past the last one acquired: %v", got)
	}
	if len(rec.rejections) != 1 || !reflect.DeepEqual(rec.rejections[0].seats, []int{21}) {
		t.Fatalf("rejections = %+v", rec.rejections)
	}

	if _, err := c.Select(ctx, 404, []int{1}, "a"); !errors.Is(err, repository.ErrShowtimeNotFound) {
		t.Fatalf("unknown showtime err = %v", err)
	}
	if holds, _ := store.Holds(ctx, 404); len(holds) != 0 {
		t.Fatalf("holds on unknown showtime: %+v", holds)
	}
	if len(rec.rejections) != 1 {
		t.Fatalf("unknown showtime produced a rejection: %+v", rec.rejections)
	}
}

func TestReleaseThenSelectByOther(t *testing.T) {
	c, _, rec, _ := newCoordinator(t)
	ctx := context.Background()

	if got, _ := c.Select(ctx, 3, []int{10}, "a"); len(got) != 1 {
		t.Fatalf("a did not acquire: %v", got)
	}
	if got, _ := c.Select(ctx, 3, []int{10}, "b"); len(got) != 0 {
		t.Fatalf("b acquired a held seat: %v", got)
	}
	if err := c.Release(ctx, 3, []int{10}, "a"); err != nil {
		t.Fatal(err)
	}
	if got, _ := c.Select(ctx, 3, []int{10}, "b"); !reflect.DeepEqual(got, []int{10}) {
		t.Fatalf("b after release = %v", got)
	}
	last := rec.broadcasts[len(rec.broadcasts)-2]
	if last.update.Status != model.SeatAvailable || !reflect.DeepEqual(last.update.Seats, []int{10}) {
		t.Fatalf("release broadcast = %+v", last)
	}
}

func TestReleaseDoesNotTouchOthersHolds(t *testing.T) {
	c, store, rec, _ := newCoordinator(t)
	ctx := context.Background()

	c.Select(ctx, 3, []int{1}, "a")
	rec.reset()
	if err := c.Release(ctx, 3, []int{1}, "b"); err != nil {
		t.Fatal(err)
	}
	holds, _ := store.Holds(ctx, 3)
	if len(holds) != 1 || holds[0].ConnectionID != "a" {
		t.Fatalf("holds = %+v", holds)
	}
	// available is still broadcast for the requested seats
	if len(rec.broadcasts) != 1 || rec.broadcasts[0].update.Status != model.SeatAvailable {
		t.Fatalf("broadcasts = %+v", rec.broadcasts)
	}
}

func TestBookAllOrNothing(t *testing.T) {
	c, store, rec, _ := newCoordinator(t)
	ctx := context.Background()

	c.Select(ctx, 9, []int{1, 2}, "a")
	c.Select(ctx, 9, []int{3}, "b")
	rec.reset()

	ok, err := c.Book(ctx, 9, []int{1, 2, 3}, "a")
	if err != nil || ok {
		t.Fatalf("book = %v, %v; want false, nil", ok, err)
	}
	if len(rec.broadcasts) != 0 {
		t.Fatalf("failed book broadcast %+v", rec.broadcasts)
	}
	want := []rejection{{"a", reservation.RejectBook, []int{1, 2, 3}}}
	if !reflect.DeepEqual(rec.rejections, want) {
		t.Fatalf("rejections = %+v", rec.rejections)
	}
	holds, _ := store.Holds(ctx, 9)
	if len(holds) != 3 {
		t.Fatalf("holds after failed book = %d, want 3", len(holds))
	}
	seats, _ := store.Seats(ctx, 9)
	if len(seats) != 0 {
		t.Fatalf("ledger changed on failed book: %+v", seats)
	}

	rec.reset()
	ok, err = c.Book(ctx, 9, []int{2, 1}, "a")
	if err != nil || !ok {
		t.Fatalf("book = %v, %v; want true, nil", ok, err)
	}
	wantB := []broadcast{{9, reservation.SeatUpdate{Seats: []int{1, 2}, Status: model.SeatBooked}}}
	if !reflect.DeepEqual(rec.broadcasts, wantB) {
		t.Fatalf("broadcasts = %+v", rec.broadcasts)
	}
	seats, _ = store.Seats(ctx, 9)
	if len(seats) != 2 || seats[0].Status != model.SeatBooked || seats[1].Status != model.SeatBooked {
		t.Fatalf("ledger = %+v", seats)
	}
	holds, _ = store.Holds(ctx, 9)
	if len(holds) != 1 || holds[0].SeatNumber != 3 {
		t.Fatalf("holds = %+v", holds)
	}
}

func TestBookExpiredHoldFails(t *testing.T) {
	c, _, rec, clk := newCoordinator(t)
	ctx := context.Background()

	c.Select(ctx, 1, []int{4}, "a")
	clk.Advance(11 * time.Minute)
	rec.reset()
	ok, err := c.Book(ctx, 1, []int{4}, "a")
	if err != nil || ok {
		t.Fatalf("book of an expired hold = %v, %v", ok, err)
	}
	if len(rec.rejections) != 1 {
		t.Fatalf("rejections = %+v", rec.rejections)
	}
}

func TestBookNotifiesSink(t *testing.T) {
	var got []model.Booking
	sink := sinkFunc(func(_ context.Context, b model.Booking) error {
		got = append(got, b)
		return errors.New("broker down")
	})
	c, _, _, _ := newCoordinator(t, reservation.WithBookingSink(sink))
	ctx := context.Background()

	c.Select(ctx, 2, []int{8}, "a")
	if ok, err := c.Book(ctx, 2, []int{8}, "a"); !ok || err != nil {
		t.Fatalf("book = %v, %v", ok, err)
	}
	if len(got) != 1 || got[0].ShowtimeID != 2 || got[0].ConnectionID != "a" || !reflect.DeepEqual(got[0].Seats, []int{8}) {
		t.Fatalf("sink got %+v", got)
	}
}

func TestExpireOldHoldsOnly(t *testing.T) {
	c, store, rec, clk := newCoordinator(t)
	ctx := context.Background()

	c.Select(ctx, 5, []int{1}, "old")
	clk.Advance(9 * time.Minute)
	c.Select(ctx, 5, []int{2}, "young")
	c.Select(ctx, 6, []int{1}, "young")
	clk.Advance(2 * time.Minute)
	rec.reset()

	n, err := c.Expire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expired = %d, want 1", n)
	}
	want := []broadcast{{5, reservation.SeatUpdate{Seats: []int{1}, Status: model.SeatAvailable}}}
	if !reflect.DeepEqual(rec.broadcasts, want) {
		t.Fatalf("broadcasts = %+v", rec.broadcasts)
	}
	holds, _ := store.Holds(ctx, 5)
	if len(holds) != 1 || holds[0].ConnectionID != "young" {
		t.Fatalf("holds = %+v", holds)
	}

	rec.reset()
	if n, _ := c.Expire(ctx); n != 0 || len(rec.broadcasts) != 0 {
		t.Fatalf("second expire = %d, broadcasts %+v", n, rec.broadcasts)
	}
}

func TestReleaseAllOnlyCallersHolds(t *testing.T) {
	c, store, rec, _ := newCoordinator(t)
	ctx := context.Background()

	c.Select(ctx, 1, []int{1, 2}, "a")
	c.Select(ctx, 2, []int{5}, "a")
	c.Select(ctx, 1, []int{3}, "b")
	rec.reset()

	n, err := c.ReleaseAll(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("released = %d, want 3", n)
	}
	want := []broadcast{
		{1, reservation.SeatUpdate{Seats: []int{1, 2}, Status: model.SeatAvailable}},
		{2, reservation.SeatUpdate{Seats: []int{5}, Status: model.SeatAvailable}},
	}
	if !reflect.DeepEqual(rec.broadcasts, want) {
		t.Fatalf("broadcasts = %+v", rec.broadcasts)
	}
	holds, _ := store.Holds(ctx, 1)
	if len(holds) != 1 || holds[0].ConnectionID != "b" {
		t.Fatalf("holds = %+v", holds)
	}
}

func TestSeatFiveOfShowtime42(t *testing.T) {
	c, _, rec, _ := newCoordinator(t)
	ctx := context.Background()

	if got, _ := c.Select(ctx, 42, []int{5}, "a"); !reflect.DeepEqual(got, []int{5}) {
		t.Fatalf("a select = %v", got)
	}
	if got, _ := c.Select(ctx, 42, []int{5}, "b"); len(got) != 0 {
		t.Fatalf("b select = %v", got)
	}
	if ok, _ := c.Book(ctx, 42, []int{5}, "a"); !ok {
		t.Fatal("a could not book its hold")
	}
	if got, _ := c.Select(ctx, 42, []int{5}, "b"); len(got) != 0 {
		t.Fatalf("b selected a booked seat: %v", got)
	}

	wantB := []broadcast{
		{42, reservation.SeatUpdate{Seats: []int{5}, Status: model.SeatReserved}},
		{42, reservation.SeatUpdate{Seats: []int{5}, Status: model.SeatBooked}},
	}
	if !reflect.DeepEqual(rec.broadcasts, wantB) {
		t.Fatalf("broadcasts = %+v", rec.broadcasts)
	}
	wantR := []rejection{
		{"b", reservation.RejectSelect, []int{5}},
		{"b", reservation.RejectSelect, []int{5}},
	}
	if !reflect.DeepEqual(rec.rejections, wantR) {
		t.Fatalf("rejections = %+v", rec.rejections)
	}
}

func TestConfirmPayment(t *testing.T) {
	var got []model.Booking
	sink := sinkFunc(func(_ context.Context, b model.Booking) error {
		got = append(got, b)
		return nil
	})
	c, store, rec, _ := newCoordinator(t, reservation.WithBookingSink(sink))
	ctx := context.Background()

	c.Select(ctx, 42, []int{4, 5}, "a")
	if ok, err := c.AttachPayment(ctx, 42, []int{6}, "a", "pay_1", "x@example.com"); ok || err != nil {
		t.Fatalf("attach to an unheld seat = %v, %v", ok, err)
	}
	if ok, err := c.AttachPayment(ctx, 42, []int{4, 5}, "a", "pay_1", "x@example.com"); !ok || err != nil {
		t.Fatalf("attach = %v, %v", ok, err)
	}
	rec.reset()

	groups, err := c.ConfirmPayment(ctx, "pay_1")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(groups, map[int64][]int{42: {4, 5}}) {
		t.Fatalf("groups = %v", groups)
	}
	want := []broadcast{{42, reservation.SeatUpdate{Seats: []int{4, 5}, Status: model.SeatBooked}}}
	if !reflect.DeepEqual(rec.broadcasts, want) {
		t.Fatalf("broadcasts = %+v", rec.broadcasts)
	}
	if len(got) != 1 || got[0].PaymentID != "pay_1" || got[0].CustomerEmail != "x@example.com" {
		t.Fatalf("sink got %+v", got)
	}
	seats, _ := store.Seats(ctx, 42)
	if len(seats) != 2 || seats[0].PaymentID == nil || *seats[0].PaymentID != "pay_1" {
		t.Fatalf("ledger = %+v", seats)
	}

	if _, err := c.ConfirmPayment(ctx, "pay_1"); !errors.Is(err, repository.ErrNoHolds) {
		t.Fatalf("second confirm err = %v, want ErrNoHolds", err)
	}
	if _, err := c.ConfirmPayment(ctx, "  "); !errors.Is(err, reservation.ErrMissingPayment) {
		t.Fatalf("blank payment err = %v", err)
	}
}

func TestSetSeatStatus(t *testing.T) {
	c, _, rec, _ := newCoordinator(t)
	ctx := context.Background()

	c.Select(ctx, 1, []int{1}, "a")
	c.Select(ctx, 1, []int{2}, "a")
	c.Book(ctx, 1, []int{2}, "a")
	rec.reset()

	changed, err := c.SetSeatStatus(ctx, 1, []int{1, 2, 3, 4}, model.SeatMaintenance)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(changed, []int{3, 4}) {
		t.Fatalf("changed = %v, want [3 4]", changed)
	}
	if got, _ := c.Select(ctx, 1, []int{3}, "b"); len(got) != 0 {
		t.Fatalf("selected a seat under maintenance: %v", got)
	}
	changed, _ = c.SetSeatStatus(ctx, 1, []int{3}, model.SeatAvailable)
	if !reflect.DeepEqual(changed, []int{3}) {
		t.Fatalf("changed = %v", changed)
	}
	if got, _ := c.Select(ctx, 1, []int{3}, "b"); len(got) != 1 {
		t.Fatalf("seat back from maintenance not selectable: %v", got)
	}
	if _, err := c.SetSeatStatus(ctx, 1, []int{3}, model.SeatBooked); !errors.Is(err, reservation.ErrInvalidStatus) {
		t.Fatalf("err = %v, want ErrInvalidStatus", err)
	}
}

func TestSeatMapAndSeed(t *testing.T) {
	c, store, _, _ := newCoordinator(t)
	ctx := context.Background()
	store.PutLayout(model.Layout{ShowtimeID: 7, AuditoriumID: 1, TotalSeats: 6, SeatsPerRow: 3})

	if n, err := c.SeedShowtime(ctx, 7); err != nil || n != 6 {
		t.Fatalf("seed = %d, %v", n, err)
	}
	if n, _ := c.SeedShowtime(ctx, 7); n != 0 {
		t.Fatalf("reseed created %d rows", n)
	}
	c.Select(ctx, 7, []int{1}, "a")
	c.Select(ctx, 7, []int{2}, "a")
	c.Book(ctx, 7, []int{2}, "a")
	c.SetSeatStatus(ctx, 7, []int{6}, model.SeatMaintenance)

	m, err := c.SeatMap(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	want := []model.SeatStatus{
		model.SeatReserved, model.SeatBooked, model.SeatAvailable,
		model.SeatAvailable, model.SeatAvailable, model.SeatMaintenance,
	}
	if len(m.Seats) != len(want) {
		t.Fatalf("seat map has %d seats", len(m.Seats))
	}
	for i, st := range want {
		if m.Seats[i].SeatNumber != i+1 || m.Seats[i].Status != st {
			t.Fatalf("seat %d = %+v, want %s", i+1, m.Seats[i], st)
		}
	}

	if _, err := c.SeatMap(ctx, 99); !errors.Is(err, repository.ErrShowtimeNotFound) {
		t.Fatalf("unknown showtime err = %v", err)
	}
}

func TestPurgeShowtime(t *testing.T) {
	c, store, _, _ := newCoordinator(t)
	ctx := context.Background()

	c.Select(ctx, 1, []int{1}, "a")
	if err := c.PurgeShowtime(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if holds, _ := store.Holds(ctx, 1); len(holds) != 0 {
		t.Fatalf("holds left after purge: %+v", holds)
	}

	c.Select(ctx, 2, []int{1}, "a")
	c.Book(ctx, 2, []int{1}, "a")
	if err := c.PurgeShowtime(ctx, 2); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("purge with bookings err = %v, want ErrConflict", err)
	}
}
