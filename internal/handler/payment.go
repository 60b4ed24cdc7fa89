package handler

import (
	"net/http"
	"sort"

	"github.com/labstack/echo/v4"
)

type attachPaymentReq struct {
	ConnectionID  string `json:"connection_id"`
	SeatIDs       []int  `json:"seat_ids"`
	PaymentID     string `json:"payment_id"`
	CustomerEmail string `json:"customer_email"`
}

// AttachPayment tags a connection's live holds with a checkout payment.
// It answers 409 unless the connection holds every listed seat.
func (h *SeatHandler) AttachPayment(c echo.Context) error {
	id, err := showtimeParam(c)
	if err != nil || id == 0 {
		return err
	}
	var req attachPaymentReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.ConnectionID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "connection_id is required"})
	}
	ok, err := h.Coord.AttachPayment(c.Request().Context(), id, req.SeatIDs, req.ConnectionID, req.PaymentID, req.CustomerEmail)
	if err != nil {
		return h.fail(c, "attach payment", err)
	}
	if !ok {
		return c.JSON(http.StatusConflict, echo.Map{"error": "seats are not held by this connection"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"showtime_id": id,
		"payment_id":  req.PaymentID,
		"seat_ids":    req.SeatIDs,
	})
}

type bookedGroup struct {
	ShowtimeID int64 `json:"showtime_id"`
	Seats      []int `json:"seats"`
}

// ConfirmPayment books the holds attached to the :id payment.
func (h *SeatHandler) ConfirmPayment(c echo.Context) error {
	paymentID := c.Param("id")
	groups, err := h.Coord.ConfirmPayment(c.Request().Context(), paymentID)
	if err != nil {
		return h.fail(c, "confirm payment", err)
	}
	out := make([]bookedGroup, 0, len(groups))
	for showtimeID, seats := range groups {
		out = append(out, bookedGroup{ShowtimeID: showtimeID, Seats: seats})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ShowtimeID < out[j].ShowtimeID })
	return c.JSON(http.StatusOK, echo.Map{"payment_id": paymentID, "bookings": out})
}
