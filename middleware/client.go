package middleware

import (
	"github.com/labstack/echo/v4"
	"github.com/lrgov/fleetauth"
)

// ClientContext attaches the caller's IP (echo's RealIP, which honours the
// configured IPExtractor), User-Agent and request id to the request context.
// Mount it after echo's RequestID middleware.
func ClientContext() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := fleetauth.WithClientIP(req.Context(), c.RealIP())
			if ua := req.UserAgent(); ua != "" {
				ctx = fleetauth.WithUserAgent(ctx, ua)
			}
			if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
				ctx = fleetauth.WithRequestID(ctx, id)
			}
			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}
