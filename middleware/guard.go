package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/lrgov/fleetauth"
)

const (
	tokenKey   = "fleetauth.token"
	accountKey = "fleetauth.account"
)

// SessionResolver is the part of the Engine the session guard needs.
type SessionResolver interface {
	CurrentUser(ctx context.Context, token string) (*fleetauth.Account, error)
}

// TokenFromContext returns the bearer token stored by RequireBearer.
func TokenFromContext(c echo.Context) (string, bool) {
	token, ok := c.Get(tokenKey).(string)
	return token, ok && token != ""
}

// AccountFromContext returns the account stored by RequireSession.
func AccountFromContext(c echo.Context) (*fleetauth.Account, bool) {
	acct, ok := c.Get(accountKey).(*fleetauth.Account)
	return acct, ok && acct != nil
}

// RequireBearer rejects requests without an "Authorization: Bearer" header
// and stores the token for the handler. The token is not checked here; the
// Engine resolves it on the call the handler makes.
func RequireBearer() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return unauthorized(c, fleetauth.ErrSessionExpired)
			}
			c.Set(tokenKey, token)
			return next(c)
		}
	}
}

// RequireSession is RequireBearer plus a CurrentUser lookup. A dead session
// gets 401; a storage failure gets 503.
func RequireSession(resolver SessionResolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if resolver == nil {
				return unauthorized(c, fleetauth.ErrEngineNotReady)
			}
			token, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return unauthorized(c, fleetauth.ErrSessionExpired)
			}

			acct, err := resolver.CurrentUser(c.Request().Context(), token)
			if err != nil {
				status := http.StatusUnauthorized
				if errors.Is(err, fleetauth.ErrStorage) {
					status = http.StatusServiceUnavailable
				}
				return c.JSON(status, ErrorBody{Error: fleetauth.PublicMessage(err)})
			}

			c.Set(tokenKey, token)
			c.Set(accountKey, acct)
			return next(c)
		}
	}
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
}

func unauthorized(c echo.Context, err error) error {
	return c.JSON(http.StatusUnauthorized, ErrorBody{Error: fleetauth.PublicMessage(err)})
}

func bearerToken(value string) (string, bool) {
	const bearer = "bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
