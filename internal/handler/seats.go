package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-seat-booking/internal/model"
)

// SeatMap returns every seat of the showtime with its effective status,
// holds shown as reserved.
func (h *SeatHandler) SeatMap(c echo.Context) error {
	id, err := showtimeParam(c)
	if err != nil || id == 0 {
		return err
	}
	m, err := h.Coord.SeatMap(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, "seat map", err)
	}
	return c.JSON(http.StatusOK, m)
}

type layoutRow struct {
	RowLabel string `json:"row_label"`
	Numbers  []int  `json:"numbers"`
}

// Layout returns the auditorium geometry of a showtime grouped into
// labelled rows.  The response carries no status and is cacheable.
func (h *SeatHandler) Layout(c echo.Context) error {
	id, err := showtimeParam(c)
	if err != nil || id == 0 {
		return err
	}
	l, err := h.Coord.Layout(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, "layout", err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"layout": l,
		"rows":   layoutRows(l),
	})
}

func layoutRows(l model.Layout) []layoutRow {
	per := l.SeatsPerRow
	if per <= 0 {
		per = l.TotalSeats
	}
	rows := make([]layoutRow, 0)
	for n := 1; n <= l.TotalSeats; n++ {
		i := (n - 1) / per
		if i == len(rows) {
			rows = append(rows, layoutRow{RowLabel: rowLabel(i)})
		}
		rows[i].Numbers = append(rows[i].Numbers, n)
	}
	return rows
}
