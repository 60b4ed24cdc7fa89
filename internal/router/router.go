// Package router registers the HTTP and WebSocket routes.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-seat-booking/internal/config"
	"github.com/iliyamo/cinema-seat-booking/internal/handler"
	"github.com/iliyamo/cinema-seat-booking/internal/middleware"
	"github.com/iliyamo/cinema-seat-booking/internal/realtime"
	"github.com/iliyamo/cinema-seat-booking/internal/utils"
)

// Deps carries everything the routes are built from.  Redis may be nil,
// which disables rate limiting and the layout cache.
type Deps struct {
	Health    *handler.HealthHandler
	Seats     *handler.SeatHandler
	Gateway   *realtime.Gateway
	JWTSecret string
	Redis     *redis.Client
	RateLimit config.RateLimitConfig
	Cache     config.CacheConfig
	Log       *zap.Logger
}

// Register mounts every route on e.
//
//	GET    /healthz, /readyz
//	GET    /ws                                      realtime gateway
//	GET    /v1/showtimes/:id/seats                  seat map
//	GET    /v1/showtimes/:id/layout                 cached layout
//	POST   /v1/showtimes/:id/holds/payment          SERVICE
//	POST   /v1/payments/:id/confirm                 SERVICE
//	PUT    /v1/admin/showtimes/:id/seats            OWNER, STAFF
//	POST   /v1/admin/showtimes/:id/seats/seed       OWNER, STAFF
//	DELETE /v1/admin/showtimes/:id/seats            OWNER, STAFF
func Register(e *echo.Echo, d Deps) {
	e.GET("/healthz", d.Health.Live)
	e.GET("/readyz", d.Health.Ready)
	e.GET("/ws", d.Gateway.Serve)

	v1 := e.Group("/v1", middleware.NewTokenBucket(d.RateLimit, d.Redis, d.Log))
	v1.GET("/showtimes/:id/seats", d.Seats.SeatMap)
	v1.GET("/showtimes/:id/layout", d.Seats.Layout, middleware.NewRedisCache(d.Cache, d.Redis))

	svc := v1.Group("", middleware.JWTAuth(d.JWTSecret), middleware.RequireRole(utils.RoleService))
	svc.POST("/showtimes/:id/holds/payment", d.Seats.AttachPayment)
	svc.POST("/payments/:id/confirm", d.Seats.ConfirmPayment)

	admin := v1.Group("/admin", middleware.JWTAuth(d.JWTSecret), middleware.RequireRole(utils.RoleOwner, utils.RoleStaff))
	admin.PUT("/showtimes/:id/seats", d.Seats.SetSeatStatus)
	admin.POST("/showtimes/:id/seats/seed", d.Seats.SeedSeats)
	admin.DELETE("/showtimes/:id/seats", d.Seats.PurgeSeats)
}
