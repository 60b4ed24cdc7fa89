package reservation

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultSweepInterval is how often expired holds are evicted.
const DefaultSweepInterval = 60 * time.Second

// Expirer is the part of the Coordinator the Sweeper drives.
type Expirer interface {
	Expire(ctx context.Context) (int, error)
}

// Sweeper periodically evicts expired holds.  It is started once per
// process and is independent of any connection.
type Sweeper struct {
	exp      Expirer
	interval time.Duration
	timeout  time.Duration
	log      *zap.Logger
}

// NewSweeper returns a Sweeper firing every interval.  Each pass gets at
// most one interval to finish.
func NewSweeper(exp Expirer, interval time.Duration, log *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{exp: exp, interval: interval, timeout: interval, log: log}
}

// Run blocks until ctx is cancelled.  A failed pass is logged and the
// loop carries on with the next tick.
func (s *Sweeper) Run(ctx context.Context) {
	s.log.Info("expiry sweeper started", zap.Duration("interval", s.interval))
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("expiry sweeper stopped")
			return
		case <-t.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs a single eviction pass and returns how many holds it freed.
func (s *Sweeper) Sweep(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	n, err := s.exp.Expire(ctx)
	if err != nil {
		s.log.Error("expire holds", zap.Error(err))
		return 0
	}
	if n > 0 {
		s.log.Info("expired holds released", zap.Int("count", n))
	}
	return n
}
