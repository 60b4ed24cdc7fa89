// Package application assembles the seat booking server from its parts.
package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-seat-booking/internal/config"
	"github.com/iliyamo/cinema-seat-booking/internal/database"
	"github.com/iliyamo/cinema-seat-booking/internal/handler"
	"github.com/iliyamo/cinema-seat-booking/internal/queue"
	"github.com/iliyamo/cinema-seat-booking/internal/realtime"
	"github.com/iliyamo/cinema-seat-booking/internal/repository"
	"github.com/iliyamo/cinema-seat-booking/internal/repository/memory"
	"github.com/iliyamo/cinema-seat-booking/internal/reservation"
	"github.com/iliyamo/cinema-seat-booking/internal/router"
)

// App is the HTTP + WebSocket server together with its background loops:
// the expiry sweeper, the Redis fan-out subscriber and the payment
// consumer.
type App struct {
	cfg       config.Config
	log       *zap.Logger
	echo      *echo.Echo
	srv       *http.Server
	db        *sqlx.DB
	rdb       *redis.Client
	hub       *realtime.Hub
	bus       *realtime.RedisBus
	gateway   *realtime.Gateway
	sweeper   *reservation.Sweeper
	consumer  *queue.PaymentConsumer
	publisher *queue.Publisher
}

// New opens the configured store, runs migrations for MySQL and wires
// every component.  Redis and RabbitMQ are optional.
func New(cfg config.Config, log *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, log: log}

	var store reservation.Store
	switch cfg.StoreDriver {
	case config.DriverMemory:
		mem := memory.New()
		for _, l := range cfg.MemoryLayouts {
			mem.PutLayout(l)
		}
		store = mem
		log.Warn("using in-memory store; holds and bookings are lost on restart",
			zap.Int("showtimes", len(cfg.MemoryLayouts)))
	default:
		dsn := database.DSN(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err := database.MigrateUp(dsn, log); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		a.db = db
		store = repository.NewSeatStore(db)
	}

	hub := realtime.NewHub(log)
	a.hub = hub
	a.rdb = config.NewRedisClient()
	if a.rdb != nil {
		a.bus = realtime.NewRedisBus(a.rdb, cfg.RealtimeChannel, log)
		hub.SetBus(a.bus)
	} else {
		log.Warn("redis unavailable; broadcasts stay on this instance, rate limit and cache disabled")
	}

	var opts []reservation.Option
	if cfg.AMQPURL != "" {
		a.publisher = queue.NewPublisher(cfg.AMQPURL, cfg.BookingQueue, log)
		opts = append(opts, reservation.WithBookingSink(a.publisher))
	}
	coord := reservation.NewCoordinator(store, hub, cfg.HoldTimeout, log, opts...)
	if cfg.AMQPURL != "" {
		a.consumer = queue.NewPaymentConsumer(cfg.AMQPURL, cfg.PaymentQueue, coord, log)
	}
	a.sweeper = reservation.NewSweeper(coord, cfg.SweepInterval, log)

	a.gateway = realtime.NewGateway(hub, coord, realtime.Options{
		WriteWait:         cfg.WSWriteWait,
		PongWait:          cfg.WSPongWait,
		MaxMessageBytes:   cfg.WSMaxMessageBytes,
		MaxSeatsPerIntent: cfg.WSMaxSeatsPerIntent,
		IntentTimeout:     cfg.IntentTimeout,
		AllowedOrigins:    cfg.WSAllowedOrigins,
	}, log)

	health := &handler.HealthHandler{Redis: a.rdb}
	if a.db != nil {
		health.DB = a.db
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(requestLogger(log))
	router.Register(e, router.Deps{
		Health:    health,
		Seats:     handler.NewSeatHandler(coord, log),
		Gateway:   a.gateway,
		JWTSecret: cfg.JWTSecret,
		Redis:     a.rdb,
		RateLimit: config.LoadRateLimitConfig(),
		Cache:     config.LoadCacheConfig(),
		Log:       log,
	})
	a.echo = e
	a.srv = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           e,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return a, nil
}

// Handler exposes the router, mainly for tests.
func (a *App) Handler() http.Handler { return a.echo }

// Run serves until ctx is cancelled and then shuts down gracefully.
// Background loops stop with ctx; the HTTP server gets
// cfg.ShutdownTimeout to drain.
func (a *App) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	loop := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
			a.log.Debug("loop stopped", zap.String("loop", name))
		}()
	}

	loop("sweeper", a.sweeper.Run)
	if a.consumer != nil {
		loop("payment-consumer", a.consumer.Run)
	}
	if a.bus != nil {
		loop("realtime-bus", func(ctx context.Context) {
			for ctx.Err() == nil {
				if err := a.bus.Run(ctx, a.hub.Deliver); err != nil {
					a.log.Error("realtime bus stopped, resubscribing", zap.Error(err))
					select {
					case <-ctx.Done():
					case <-time.After(time.Second):
					}
				}
			}
		})
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http server listening",
			zap.String("addr", a.srv.Addr),
			zap.String("env", a.cfg.Env),
			zap.String("store", a.cfg.StoreDriver),
			zap.Duration("hold_timeout", a.cfg.HoldTimeout))
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		runErr = fmt.Errorf("http: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("http shutdown: %w", err)
	}
	if err := a.gateway.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("websocket connections still open at shutdown", zap.Error(err))
	}
	wg.Wait()
	a.close()
	return runErr
}

func (a *App) close() {
	if a.publisher != nil {
		_ = a.publisher.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

// requestLogger logs one line per request through zap.
func requestLogger(log *zap.Logger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogURI:      true,
		LogStatus:   true,
		LogMethod:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("remote_ip", v.RemoteIP),
			}
			if v.Error != nil {
				log.Error("request", append(fields, zap.Error(v.Error))...)
				return nil
			}
			log.Info("request", fields...)
			return nil
		},
	})
}
