package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// Pinger is satisfied by *sqlx.DB and *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler reports liveness and readiness.  Either dependency may be
// nil: the memory store has no database and Redis is optional.
type HealthHandler struct {
	DB    Pinger
	Redis *redis.Client
}

// Live always answers "ok" while the process serves requests.
func (h *HealthHandler) Live(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// Ready pings the database and Redis.  A failing database makes the
// instance unready; a failing Redis is only reported.
func (h *HealthHandler) Ready(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	out := echo.Map{"database": "skipped", "redis": "skipped"}
	status := http.StatusOK
	if h.DB != nil {
		if err := h.DB.PingContext(ctx); err != nil {
			out["database"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			out["database"] = "ok"
		}
	}
	if h.Redis != nil {
		if err := h.Redis.Ping(ctx).Err(); err != nil {
			out["redis"] = err.Error()
		} else {
			out["redis"] = "ok"
		}
	}
	return c.JSON(status, out)
}
