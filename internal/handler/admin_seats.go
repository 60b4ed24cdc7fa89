package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-seat-booking/internal/middleware"
	"github.com/iliyamo/cinema-seat-booking/internal/model"
)

type setStatusReq struct {
	SeatIDs []int  `json:"seat_ids"`
	Status  string `json:"status"`
}

// SetSeatStatus moves seats between available and maintenance.  Held and
// booked seats are left alone; the response lists the seats that changed.
func (h *SeatHandler) SetSeatStatus(c echo.Context) error {
	id, err := showtimeParam(c)
	if err != nil || id == 0 {
		return err
	}
	var req setStatusReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	status := model.SeatStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if !status.Valid() {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown status"})
	}
	changed, err := h.Coord.SetSeatStatus(c.Request().Context(), id, req.SeatIDs, status)
	if err != nil {
		return h.fail(c, "set seat status", err)
	}
	h.Log.Info("seat status changed",
		zap.Int64("showtime_id", id),
		zap.String("status", string(status)),
		zap.Ints("seats", changed),
		zap.String("by", middleware.Subject(c)))
	return c.JSON(http.StatusOK, echo.Map{"showtime_id": id, "status": status, "changed": changed})
}

// SeedSeats creates the available ledger rows of a showtime.
func (h *SeatHandler) SeedSeats(c echo.Context) error {
	id, err := showtimeParam(c)
	if err != nil || id == 0 {
		return err
	}
	n, err := h.Coord.SeedShowtime(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, "seed seats", err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"showtime_id": id, "created": n})
}

// PurgeSeats drops a showtime's ledger and holds.  Refused with 409 once
// any seat is booked.
func (h *SeatHandler) PurgeSeats(c echo.Context) error {
	id, err := showtimeParam(c)
	if err != nil || id == 0 {
		return err
	}
	if err := h.Coord.PurgeShowtime(c.Request().Context(), id); err != nil {
		return h.fail(c, "purge seats", err)
	}
	h.Log.Info("showtime purged", zap.Int64("showtime_id", id), zap.String("by", middleware.Subject(c)))
	return c.NoContent(http.StatusNoContent)
}
