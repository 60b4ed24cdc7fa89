package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultChannel is the Redis channel used when none is configured.
const DefaultChannel = "cinema:seat-updates"

type busMessage struct {
	Origin     string          `json:"origin"`
	ShowtimeID int64           `json:"showtime_id"`
	Payload    json.RawMessage `json:"payload"`
}

// RedisBus fans showtime broadcasts out to the other instances through
// Redis pub/sub.  Every message carries the publishing instance's origin
// id; the subscriber drops its own messages since the hub has already
// delivered them locally.
type RedisBus struct {
	rdb     *redis.Client
	channel string
	origin  string
	log     *zap.Logger
}

// NewRedisBus returns a bus publishing on channel.
func NewRedisBus(rdb *redis.Client, channel string, log *zap.Logger) *RedisBus {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisBus{rdb: rdb, channel: channel, origin: uuid.NewString(), log: log}
}

// Publish implements Bus.
func (b *RedisBus) Publish(ctx context.Context, showtimeID int64, payload []byte) error {
	data, err := json.Marshal(busMessage{Origin: b.origin, ShowtimeID: showtimeID, Payload: payload})
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, data).Err()
}

// Run subscribes to the channel and hands every message published by
// another instance to deliver until ctx is cancelled.
func (b *RedisBus) Run(ctx context.Context, deliver func(showtimeID int64, payload []byte)) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.log.Info("realtime bus subscribed", zap.String("channel", b.channel), zap.String("origin", b.origin))
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("realtime bus subscription closed")
			}
			showtimeID, payload, ok := b.decode([]byte(msg.Payload))
			if ok {
				deliver(showtimeID, payload)
			}
		}
	}
}

// decode unpacks a bus message.  ok is false for malformed messages and
// for messages this instance published itself.
func (b *RedisBus) decode(data []byte) (int64, []byte, bool) {
	var m busMessage
	if err := json.Unmarshal(data, &m); err != nil {
		b.log.Warn("realtime bus: bad message", zap.Error(err))
		return 0, nil, false
	}
	if m.Origin == b.origin {
		return 0, nil, false
	}
	return m.ShowtimeID, m.Payload, true
}
