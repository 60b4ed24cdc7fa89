package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-seat-booking/internal/reservation"
)

// Bus carries showtime broadcasts to the other instances, which deliver
// what they receive to their local groups.
type Bus interface {
	Publish(ctx context.Context, showtimeID int64, payload []byte) error
}

// Client is one WebSocket connection.
type Client struct {
	ID   string
	conn *websocket.Conn
	send chan []byte

	// guarded by Hub.mu
	showtimes map[int64]struct{}
	closed    bool
}

func newClient(id string, conn *websocket.Conn, buffer int) *Client {
	if buffer <= 0 {
		buffer = 256
	}
	return &Client{
		ID:        id,
		conn:      conn,
		send:      make(chan []byte, buffer),
		showtimes: make(map[int64]struct{}),
	}
}

// Hub tracks connections and their showtime groups.  Its mutex guards
// map membership only; sends are non-blocking and no storage call is made
// while it is held.
type Hub struct {
	mu      sync.RWMutex
	groups  map[int64]map[*Client]struct{} // showtimeID -> members
	clients map[string]*Client             // connection id -> client
	bus     Bus
	log     *zap.Logger
}

// NewHub creates an empty hub that delivers broadcasts locally.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		groups:  make(map[int64]map[*Client]struct{}),
		clients: make(map[string]*Client),
		log:     log,
	}
}

// SetBus routes broadcasts through a cross-instance bus.
func (h *Hub) SetBus(b Bus) { h.bus = b }

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
	h.log.Debug("connection registered", zap.String("connection_id", c.ID))
}

// unregister drops the client from every group and closes its send
// channel.  It is safe to call twice.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return
	}
	for id := range c.showtimes {
		h.removeLocked(id, c)
	}
	delete(h.clients, c.ID)
	c.closed = true
	close(c.send)
	h.log.Debug("connection unregistered", zap.String("connection_id", c.ID))
}

// closeAll closes the socket of every registered client, which ends its
// read loop.  It returns the number of sockets closed.
func (h *Hub) closeAll() int {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for _, c := range h.clients {
		if c.conn != nil {
			conns = append(conns, c.conn)
		}
	}
	h.mu.RUnlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
	return len(conns)
}

// Join subscribes the client to a showtime group.
func (h *Hub) Join(c *Client, showtimeID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return
	}
	m := h.groups[showtimeID]
	if m == nil {
		m = make(map[*Client]struct{})
		h.groups[showtimeID] = m
	}
	m[c] = struct{}{}
	c.showtimes[showtimeID] = struct{}{}
}

// Leave unsubscribes the client from a showtime group.  Holds are not
// touched.
func (h *Hub) Leave(c *Client, showtimeID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(showtimeID, c)
}

func (h *Hub) removeLocked(showtimeID int64, c *Client) {
	delete(c.showtimes, showtimeID)
	if m, ok := h.groups[showtimeID]; ok {
		delete(m, c)
		if len(m) == 0 {
			delete(h.groups, showtimeID)
		}
	}
}

// GroupSize returns the number of local members of a showtime group.
func (h *Hub) GroupSize(showtimeID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[showtimeID])
}

// Broadcast implements reservation.Notifier.  The update is delivered to
// the local group first and then published on the bus, if any, for the
// other instances.  A bus failure only affects remote subscribers.
func (h *Hub) Broadcast(showtimeID int64, u reservation.SeatUpdate) {
	payload := encode(EventSeatUpdate, SeatUpdatePayload{
		ShowtimeID: showtimeID,
		SeatID:     u.Seats,
		Status:     string(u.Status),
	})
	h.Deliver(showtimeID, payload)
	if h.bus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.bus.Publish(ctx, showtimeID, payload); err != nil {
		h.log.Warn("realtime bus publish failed",
			zap.Int64("showtime_id", showtimeID), zap.Error(err))
	}
}

// Deliver sends a pre-encoded frame to every local member of a group.
func (h *Hub) Deliver(showtimeID int64, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.groups[showtimeID] {
		h.trySend(c, payload)
	}
}

// Reject implements reservation.Notifier.  The frame goes to the named
// connection only.
func (h *Hub) Reject(connID string, kind reservation.Rejection, seats []int) {
	event := EventSeatRejected
	if kind == reservation.RejectBook {
		event = EventBookingFailed
	}
	h.sendTo(connID, encode(event, SeatListPayload{SeatID: seats}))
}

func (h *Hub) sendTo(connID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if c, ok := h.clients[connID]; ok {
		h.trySend(c, payload)
	}
}

// trySend never blocks; a client whose buffer is full misses the frame.
// The caller holds h.mu.
func (h *Hub) trySend(c *Client, payload []byte) {
	if c.closed {
		return
	}
	select {
	case c.send <- payload:
	default:
		h.log.Warn("client send buffer full", zap.String("connection_id", c.ID))
	}
}
