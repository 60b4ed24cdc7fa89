package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-seat-booking/internal/repository"
	"github.com/iliyamo/cinema-seat-booking/internal/reservation"
)

// SeatHandler serves the seat map, checkout and administrative routes on
// top of the reservation coordinator.
type SeatHandler struct {
	Coord *reservation.Coordinator
	Log   *zap.Logger
}

// NewSeatHandler panics when coord is nil.
func NewSeatHandler(coord *reservation.Coordinator, log *zap.Logger) *SeatHandler {
	if coord == nil {
		panic("nil coordinator passed to NewSeatHandler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SeatHandler{Coord: coord, Log: log}
}

// showtimeParam parses the :id path parameter.  On failure the 400
// response is already written and the returned id is 0.
func showtimeParam(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid showtime id"})
	}
	return id, nil
}

// fail maps coordinator and repository errors onto responses.  Unknown
// errors are logged and reported as 500.
func (h *SeatHandler) fail(c echo.Context, op string, err error) error {
	switch {
	case errors.Is(err, reservation.ErrNoSeats),
		errors.Is(err, reservation.ErrInvalidStatus),
		errors.Is(err, reservation.ErrMissingPayment):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, repository.ErrShowtimeNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "showtime not found"})
	case errors.Is(err, repository.ErrNoHolds):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "no holds for payment"})
	case errors.Is(err, repository.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": "showtime has booked seats"})
	}
	h.Log.Error(op, zap.Error(err), zap.String("path", c.Path()))
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
}

// rowLabel converts a zero-based row index to A, B, ..., Z, AA, AB.
func rowLabel(i int) string {
	if i < 0 {
		return ""
	}
	var res []byte
	for {
		res = append(res, byte('A'+i%26))
		i = i/26 - 1
		if i < 0 {
			break
		}
	}
	for j, k := 0, len(res)-1; j < k; j, k = j+1, k-1 {
		res[j], res[k] = res[k], res[j]
	}
	return string(res)
}
