package realtime_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-seat-booking/internal/model"
	"github.com/iliyamo/cinema-seat-booking/internal/realtime"
	"github.com/iliyamo/cinema-seat-booking/internal/repository/memory"
	"github.com/iliyamo/cinema-seat-booking/internal/reservation"
)

type testServer struct {
	url   string
	store *memory.Store
	gw    *realtime.Gateway
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.New()
	for _, id := range []int64{1, 42} {
		store.PutLayout(model.Layout{ShowtimeID: id, AuditoriumID: 1, TotalSeats: 20, SeatsPerRow: 10})
	}
	hub := realtime.NewHub(nil)
	coord := reservation.NewCoordinator(store, hub, 10*time.Minute, nil)
	gw := realtime.NewGateway(hub, coord, realtime.Options{MaxSeatsPerIntent: 4}, nil)

	e := echo.New()
	e.GET("/ws", gw.Serve)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return &testServer{url: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", store: store, gw: gw}
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
	id   string
}

func (s *testServer) dial(t *testing.T) *wsClient {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(s.url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	c := &wsClient{t: t, conn: conn}
	t.Cleanup(func() { _ = conn.Close() })
	env := c.expect(realtime.EventConnected)
	var p realtime.ConnectedPayload
	if err := json.Unmarshal(env.Data, &p); err != nil || p.ConnectionID == "" {
		t.Fatalf("connected payload = %s", env.Data)
	}
	c.id = p.ConnectionID
	return c
}

func (c *wsClient) send(event string, data any) {
	c.t.Helper()
	raw, _ := json.Marshal(data)
	if err := c.conn.WriteJSON(realtime.Envelope{Event: event, Data: raw}); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

// expect reads frames until one with the given event arrives.
func (c *wsClient) expect(event string) realtime.Envelope {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var env realtime.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			c.t.Fatalf("waiting for %s: %v", event, err)
		}
		if env.Event == event {
			return env
		}
	}
}

func seatUpdate(t *testing.T, env realtime.Envelope) realtime.SeatUpdatePayload {
	t.Helper()
	var p realtime.SeatUpdatePayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		t.Fatalf("seatUpdate payload %s: %v", env.Data, err)
	}
	return p
}

func TestGatewaySeatLifecycle(t *testing.T) {
	srv := newTestServer(t)
	a := srv.dial(t)
	b := srv.dial(t)

	// b joins by holding seat 1; its own update confirms the subscription
	b.send(realtime.EventSelectSeat, map[string]any{"showtimeId": 42, "seatId": 1})
	b.expect(realtime.EventSeatUpdate)
	a.send(realtime.EventSelectSeat, map[string]any{"showtimeId": 42, "seatId": 5})

	for _, c := range []*wsClient{a, b} {
		p := seatUpdate(t, c.expect(realtime.EventSeatUpdate))
		if p.Status != "reserved" || !reflect.DeepEqual(p.SeatID, []int{5}) {
			t.Fatalf("update = %+v", p)
		}
	}

	b.send(realtime.EventSelectSeat, map[string]any{"showtimeId": 42, "seatId": []int{5}})
	var rej realtime.SeatListPayload
	if err := json.Unmarshal(b.expect(realtime.EventSeatRejected).Data, &rej); err != nil || !reflect.DeepEqual(rej.SeatID, []int{5}) {
		t.Fatalf("rejection = %+v, %v", rej, err)
	}

	a.send(realtime.EventBookSeat, map[string]any{"showtimeId": 42, "seatId": []int{5, 6}})
	a.expect(realtime.EventBookingFailed)

	a.send(realtime.EventBookSeat, map[string]any{"showtimeId": 42, "seatId": 5})
	if p := seatUpdate(t, b.expect(realtime.EventSeatUpdate)); p.Status != "booked" {
		t.Fatalf("b saw %+v, want booked", p)
	}
	seats, _ := srv.store.Seats(context.Background(), 42)
	if len(seats) != 1 || seats[0].SeatNumber != 5 || seats[0].Status != "booked" {
		t.Fatalf("ledger = %+v", seats)
	}
}

func TestGatewayDisconnectReleasesHolds(t *testing.T) {
	srv := newTestServer(t)
	a := srv.dial(t)
	b := srv.dial(t)

	b.send(realtime.EventSelectSeat, map[string]any{"showtimeId": 1, "seatId": 9})
	b.expect(realtime.EventSeatUpdate)
	a.send(realtime.EventSelectSeat, map[string]any{"showtimeId": 1, "seatId": []int{3, 4}})
	b.expect(realtime.EventSeatUpdate)

	_ = a.conn.Close()

	p := seatUpdate(t, b.expect(realtime.EventSeatUpdate))
	if p.Status != "available" || !reflect.DeepEqual(p.SeatID, []int{3, 4}) {
		t.Fatalf("update after disconnect = %+v", p)
	}
	holds, _ := srv.store.Holds(context.Background(), 1)
	if len(holds) != 1 || holds[0].SeatNumber != 9 || holds[0].ConnectionID != b.id {
		t.Fatalf("holds = %+v", holds)
	}
}

func TestGatewayRejectsMalformedIntent(t *testing.T) {
	srv := newTestServer(t)
	a := srv.dial(t)

	a.send(realtime.EventSelectSeat, map[string]any{"showtimeId": 1, "seatId": []int{1, 2, 3, 4, 5}})
	var p realtime.ErrorPayload
	if err := json.Unmarshal(a.expect(realtime.EventError).Data, &p); err != nil || p.Message == "" {
		t.Fatalf("error payload = %+v, %v", p, err)
	}
	if holds, _ := srv.store.Holds(context.Background(), 1); len(holds) != 0 {
		t.Fatalf("rejected intent changed state: %+v", holds)
	}

	// the connection stays usable
	a.send(realtime.EventSelectSeat, map[string]any{"showtimeId": 1, "seatId": 1})
	a.expect(realtime.EventSeatUpdate)
}

func TestGatewayUnknownShowtime(t *testing.T) {
	srv := newTestServer(t)
	a := srv.dial(t)

	a.send(realtime.EventSelectSeat, map[string]any{"showtimeId": 404, "seatId": 1})
	var p realtime.ErrorPayload
	if err := json.Unmarshal(a.expect(realtime.EventError).Data, &p); err != nil || p.Message != "showtime not found" {
		t.Fatalf("error payload = %+v, %v", p, err)
	}
	if holds, _ := srv.store.Holds(context.Background(), 404); len(holds) != 0 {
		t.Fatalf("holds = %+v", holds)
	}
}

func TestGatewayShutdownReleasesHolds(t *testing.T) {
	srv := newTestServer(t)
	a := srv.dial(t)

	a.send(realtime.EventSelectSeat, map[string]any{"showtimeId": 42, "seatId": []int{2, 3}})
	a.expect(realtime.EventSeatUpdate)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.gw.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if holds, _ := srv.store.Holds(context.Background(), 42); len(holds) != 0 {
		t.Fatalf("holds after shutdown = %+v", holds)
	}
	_ = a.conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, _, err := a.conn.ReadMessage(); err == nil {
		t.Fatal("connection still open after shutdown")
	}
}
