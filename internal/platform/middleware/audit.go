package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/telecare/telecare/internal/platform/audit"
)

// AuditContext copies the request id, client IP and user agent into the
// request context so audit entries written by services carry them.
// Must run after RequestID.
func AuditContext() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			rid, _ := c.Get("request_id").(string)
			ctx := audit.WithRequestMeta(req.Context(), audit.RequestMeta{
				RequestID: rid,
				IPAddress: c.RealIP(),
				UserAgent: req.UserAgent(),
			})
			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}
