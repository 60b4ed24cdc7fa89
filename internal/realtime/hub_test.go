package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/iliyamo/cinema-seat-booking/internal/model"
	"github.com/iliyamo/cinema-seat-booking/internal/reservation"
)

func drain(c *Client) []Envelope {
	var out []Envelope
	for {
		select {
		case raw := <-c.send:
			var env Envelope
			_ = json.Unmarshal(raw, &env)
			out = append(out, env)
		default:
			return out
		}
	}
}

func TestBroadcastScopedToGroup(t *testing.T) {
	h := NewHub(nil)
	a, b, other := newClient("a", nil, 8), newClient("b", nil, 8), newClient("c", nil, 8)
	for _, c := range []*Client{a, b, other} {
		h.register(c)
	}
	h.Join(a, 42)
	h.Join(b, 42)
	h.Join(other, 7)

	h.Broadcast(42, reservation.SeatUpdate{Seats: []int{5}, Status: model.SeatReserved})

	if got := drain(a); len(got) != 1 || got[0].Event != EventSeatUpdate {
		t.Fatalf("a got %+v", got)
	}
	if got := drain(b); len(got) != 1 {
		t.Fatalf("b got %+v", got)
	}
	if got := drain(other); len(got) != 0 {
		t.Fatalf("member of another showtime got %+v", got)
	}
}

func TestRejectGoesToOneConnection(t *testing.T) {
	h := NewHub(nil)
	a, b := newClient("a", nil, 8), newClient("b", nil, 8)
	h.register(a)
	h.register(b)
	h.Join(a, 42)
	h.Join(b, 42)

	h.Reject("b", reservation.RejectSelect, []int{5})
	h.Reject("b", reservation.RejectBook, []int{5, 6})

	if got := drain(a); len(got) != 0 {
		t.Fatalf("a got %+v", got)
	}
	got := drain(b)
	if len(got) != 2 || got[0].Event != EventSeatRejected || got[1].Event != EventBookingFailed {
		t.Fatalf("b got %+v", got)
	}
	var p SeatListPayload
	if err := json.Unmarshal(got[1].Data, &p); err != nil || len(p.SeatID) != 2 {
		t.Fatalf("payload = %s", got[1].Data)
	}
}

func TestLeaveAndUnregister(t *testing.T) {
	h := NewHub(nil)
	a := newClient("a", nil, 8)
	h.register(a)
	h.Join(a, 1)
	h.Join(a, 2)
	h.Leave(a, 1)
	if h.GroupSize(1) != 0 || h.GroupSize(2) != 1 {
		t.Fatalf("sizes = %d, %d", h.GroupSize(1), h.GroupSize(2))
	}
	h.unregister(a)
	h.unregister(a)
	if h.GroupSize(2) != 0 {
		t.Fatal("client still in group after unregister")
	}
	// must not panic on the closed channel
	h.Broadcast(2, reservation.SeatUpdate{Seats: []int{1}, Status: model.SeatAvailable})
	h.Join(a, 2)
	if h.GroupSize(2) != 0 {
		t.Fatal("closed client rejoined")
	}
}

func TestFullBufferDropsFrame(t *testing.T) {
	h := NewHub(nil)
	a := newClient("a", nil, 1)
	h.register(a)
	h.Join(a, 1)
	for i := 0; i < 3; i++ {
		h.Broadcast(1, reservation.SeatUpdate{Seats: []int{i + 1}, Status: model.SeatReserved})
	}
	if got := drain(a); len(got) != 1 {
		t.Fatalf("got %d frames, want 1", len(got))
	}
}

type fakeBus struct {
	published []int64
	err       error
}

func (f *fakeBus) Publish(_ context.Context, showtimeID int64, _ []byte) error {
	f.published = append(f.published, showtimeID)
	return f.err
}

func TestBroadcastThroughBus(t *testing.T) {
	h := NewHub(nil)
	bus := &fakeBus{}
	h.SetBus(bus)
	a := newClient("a", nil, 8)
	h.register(a)
	h.Join(a, 9)

	h.Broadcast(9, reservation.SeatUpdate{Seats: []int{1}, Status: model.SeatBooked})
	if len(bus.published) != 1 || bus.published[0] != 9 {
		t.Fatalf("published = %v", bus.published)
	}
	if got := drain(a); len(got) != 1 {
		t.Fatalf("local member got %d frames, want 1", len(got))
	}

	bus.err = errors.New("redis down")
	h.Broadcast(9, reservation.SeatUpdate{Seats: []int{2}, Status: model.SeatBooked})
	if got := drain(a); len(got) != 1 {
		t.Fatalf("with a failing bus local member got %d frames", len(got))
	}
}
