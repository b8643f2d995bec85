package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/lrgov/fleetauth"
	"github.com/lrgov/fleetauth/middleware"
)

// statusFor maps an Engine error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, fleetauth.ErrInvalidCredentials),
		errors.Is(err, fleetauth.ErrMFAExpired),
		errors.Is(err, fleetauth.ErrMFAInvalidCode),
		errors.Is(err, fleetauth.ErrSessionExpired):
		return http.StatusUnauthorized
	case errors.Is(err, fleetauth.ErrAccountLocked):
		return http.StatusLocked
	case errors.Is(err, fleetauth.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, fleetauth.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, fleetauth.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, fleetauth.ErrStorage):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) fail(c echo.Context, err error) error {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Sugar().Errorw("request failed", "path", c.Path(), "error", err)
	}
	return c.JSON(status, middleware.ErrorBody{Error: fleetauth.PublicMessage(err)})
}

func badRequest(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, middleware.ErrorBody{Error: fleetauth.PublicMessage(fleetauth.ErrInvalidRequest)})
}
