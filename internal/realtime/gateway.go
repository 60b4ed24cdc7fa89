package realtime

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-seat-booking/internal/repository"
)

// Coordinator is the subset of reservation.Coordinator the gateway calls.
type Coordinator interface {
	Select(ctx context.Context, showtimeID int64, seats []int, connID string) ([]int, error)
	Release(ctx context.Context, showtimeID int64, seats []int, connID string) error
	Book(ctx context.Context, showtimeID int64, seats []int, connID string) (bool, error)
	ReleaseAll(ctx context.Context, connID string) (int, error)
}

// Options tunes connection handling.  Zero values fall back to defaults.
type Options struct {
	WriteWait         time.Duration
	PongWait          time.Duration
	MaxMessageBytes   int64
	MaxSeatsPerIntent int
	IntentTimeout     time.Duration
	SendBuffer        int
	AllowedOrigins    []string
}

func (o *Options) defaults() {
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 4096
	}
	if o.IntentTimeout <= 0 {
		o.IntentTimeout = 5 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
}

// Gateway upgrades HTTP requests to WebSocket connections and runs one
// read loop and one write loop per connection.
type Gateway struct {
	hub      *Hub
	coord    Coordinator
	opts     Options
	upgrader websocket.Upgrader
	log      *zap.Logger
	active   sync.WaitGroup
}

// NewGateway wires a gateway.
func NewGateway(hub *Hub, coord Coordinator, opts Options, log *zap.Logger) *Gateway {
	if hub == nil || coord == nil {
		panic("nil dependency passed to NewGateway")
	}
	if log == nil {
		log = zap.NewNop()
	}
	opts.defaults()
	g := &Gateway{hub: hub, coord: coord, opts: opts, log: log}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024 * 4,
		WriteBufferSize: 1024 * 4,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if len(g.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range g.opts.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// Serve handles GET /ws.  It returns once the connection is gone and its
// holds have been released.
func (g *Gateway) Serve(c echo.Context) error {
	conn, err := g.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		g.log.Warn("websocket upgrade failed", zap.Error(err))
		return nil
	}
	g.active.Add(1)
	defer g.active.Done()
	client := newClient(uuid.NewString(), conn, g.opts.SendBuffer)
	g.hub.register(client)

	done := make(chan struct{})
	go func() {
		g.writePump(client)
		close(done)
	}()

	g.hub.sendTo(client.ID, encode(EventConnected, ConnectedPayload{ConnectionID: client.ID}))
	g.readPump(client)

	g.hub.unregister(client)
	<-done
	g.disconnect(client.ID)
	return nil
}

// Shutdown closes every open connection and waits until their holds have
// been released or ctx is done.  http.Server.Shutdown leaves hijacked
// connections alone, so the application calls this after it.
func (g *Gateway) Shutdown(ctx context.Context) error {
	n := g.hub.closeAll()
	if n > 0 {
		g.log.Info("closing websocket connections", zap.Int("connections", n))
	}
	done := make(chan struct{})
	go func() {
		g.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// disconnect releases every hold of the connection.  It uses a fresh
// context: the request context may already be cancelled.
func (g *Gateway) disconnect(connID string) {
	ctx, cancel := context.WithTimeout(context.Background(), g.opts.IntentTimeout)
	defer cancel()
	n, err := g.coord.ReleaseAll(ctx, connID)
	if err != nil {
		g.log.Error("release holds on disconnect", zap.String("connection_id", connID), zap.Error(err))
		return
	}
	if n > 0 {
		g.log.Info("released holds on disconnect", zap.String("connection_id", connID), zap.Int("seats", n))
	}
}

func (g *Gateway) readPump(c *Client) {
	c.conn.SetReadLimit(g.opts.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(g.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(g.opts.PongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.log.Debug("websocket read error", zap.String("connection_id", c.ID), zap.Error(err))
			}
			return
		}
		g.handle(c, data)
	}
}

func (g *Gateway) writePump(c *Client) {
	ticker := time.NewTicker(g.opts.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(g.opts.WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(g.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handle processes one intent.  Intents of a connection run one at a time
// in arrival order.
func (g *Gateway) handle(c *Client, data []byte) {
	in, err := ParseIntent(data, g.opts.MaxSeatsPerIntent)
	if err != nil {
		g.hub.sendTo(c.ID, encode(EventError, ErrorPayload{Message: err.Error()}))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), g.opts.IntentTimeout)
	defer cancel()

	switch in.Event {
	case EventJoinShowtime:
		g.hub.Join(c, in.ShowtimeID)
	case EventLeaveShowtime:
		g.hub.Leave(c, in.ShowtimeID)
	case EventSelectSeat:
		g.hub.Join(c, in.ShowtimeID)
		_, err = g.coord.Select(ctx, in.ShowtimeID, in.Seats, c.ID)
	case EventReleaseSeat:
		err = g.coord.Release(ctx, in.ShowtimeID, in.Seats, c.ID)
	case EventBookSeat:
		_, err = g.coord.Book(ctx, in.ShowtimeID, in.Seats, c.ID)
	}
	if errors.Is(err, repository.ErrShowtimeNotFound) {
		g.hub.sendTo(c.ID, encode(EventError, ErrorPayload{Message: "showtime not found"}))
		return
	}
	if err != nil {
		g.log.Error("intent failed",
			zap.String("event", in.Event),
			zap.String("connection_id", c.ID),
			zap.Int64("showtime_id", in.ShowtimeID),
			zap.Ints("seats", in.Seats),
			zap.Error(err))
	}
}
