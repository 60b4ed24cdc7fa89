package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-seat-booking/internal/repository"
)

// PaymentConfirmer books the holds tagged with a payment.
type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, paymentID string) (map[int64][]int, error)
}

// PaymentConsumer drains the payment.confirmed queue into the coordinator.
type PaymentConsumer struct {
	url       string
	queue     string
	confirmer PaymentConfirmer
	timeout   time.Duration
	log       *zap.Logger
}

// NewPaymentConsumer returns a consumer for queue on the broker at url.
func NewPaymentConsumer(url, queue string, confirmer PaymentConfirmer, log *zap.Logger) *PaymentConsumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &PaymentConsumer{url: url, queue: queue, confirmer: confirmer, timeout: 10 * time.Second, log: log}
}

// Run connects, declares the durable queue and consumes until ctx is
// cancelled.  Broker failures are retried with exponential backoff capped
// at 30 seconds.
func (c *PaymentConsumer) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.log.Warn("payment-consumer: dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleep(ctx, backoff) {
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		c.log.Warn("payment-consumer: consume loop ended, reconnecting", zap.Error(err))
		if !sleep(ctx, 2*time.Second) {
			return
		}
	}
}

func (c *PaymentConsumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.log.Warn("payment-consumer: set QoS failed", zap.Error(err))
	}
	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	c.log.Info("payment-consumer: consuming", zap.String("queue", c.queue))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			switch c.process(ctx, d.Body, d.Redelivered) {
			case outcomeAck:
				_ = d.Ack(false)
			case outcomeRequeue:
				_ = d.Nack(false, true)
			default:
				_ = d.Nack(false, false)
			}
		}
	}
}

type outcome int

const (
	outcomeAck outcome = iota
	outcomeRequeue
	outcomeDrop
)

// process handles one message.  A payment without holds is acknowledged:
// it was either confirmed before or its holds expired.  A storage failure
// is requeued once and dropped on redelivery.
func (c *PaymentConsumer) process(ctx context.Context, body []byte, redelivered bool) outcome {
	var ev PaymentConfirmedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		c.log.Warn("payment-consumer: bad message", zap.Error(err))
		return outcomeDrop
	}
	ev.PaymentID = strings.TrimSpace(ev.PaymentID)
	if ev.PaymentID == "" {
		c.log.Warn("payment-consumer: message without payment_id")
		return outcomeDrop
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	groups, err := c.confirmer.ConfirmPayment(ctx, ev.PaymentID)
	switch {
	case err == nil:
		for showtimeID, seats := range groups {
			c.log.Info("payment confirmed",
				zap.String("payment_id", ev.PaymentID),
				zap.Int64("showtime_id", showtimeID),
				zap.Ints("seats", seats))
		}
		return outcomeAck
	case errors.Is(err, repository.ErrNoHolds):
		c.log.Warn("payment-consumer: no holds for payment", zap.String("payment_id", ev.PaymentID))
		return outcomeAck
	case redelivered:
		c.log.Error("payment-consumer: giving up on payment", zap.String("payment_id", ev.PaymentID), zap.Error(err))
		return outcomeDrop
	default:
		c.log.Warn("payment-consumer: confirm failed, requeueing", zap.String("payment_id", ev.PaymentID), zap.Error(err))
		return outcomeRequeue
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
