package middleware

import (
	"fmt"

	"github.com/labstack/echo/v4"
)

// Context keys set by JWTAuth.
const (
	ctxSubject = "user_id"
	ctxRole    = "role"
)

// Subject returns the authenticated principal or "anon".  Numeric
// subjects are formatted without a fraction.
func Subject(c echo.Context) string {
	switch v := c.Get(ctxSubject).(type) {
	case string:
		if v != "" {
			return v
		}
	case float64:
		return fmt.Sprintf("%.0f", v)
	case int64:
		return fmt.Sprint(v)
	}
	return "anon"
}

// Role returns the role claim of the authenticated principal, or "".
func Role(c echo.Context) string {
	s, _ := c.Get(ctxRole).(string)
	return s
}
