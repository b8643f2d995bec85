package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lrgov/fleetauth"
	"github.com/lrgov/fleetauth/middleware"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyMFARequest struct {
	MFAToken string `json:"mfa_token"`
	Code     string `json:"code"`
}

type mfaToggleResponse struct {
	UserID     string `json:"user_id"`
	MFAEnabled bool   `json:"mfa_enabled"`
	Changed    bool   `json:"changed"`
}

type auditEventsResponse struct {
	Events []fleetauth.AuditEvent `json:"events"`
}

type retentionResponse struct {
	Removed int64 `json:"removed"`
}

func (h *handler) login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}

	res, err := h.svc.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *handler) verifyMFA(c echo.Context) error {
	var req verifyMFARequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}

	res, err := h.svc.VerifyMFA(c.Request().Context(), req.MFAToken, req.Code)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *handler) logout(c echo.Context) error {
	token, _ := middleware.TokenFromContext(c)
	if err := h.svc.Logout(c.Request().Context(), token); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handler) me(c echo.Context) error {
	acct, _ := middleware.AccountFromContext(c)
	return c.JSON(http.StatusOK, acct)
}

func (h *handler) enableMFA(c echo.Context) error {
	return h.toggleMFA(c, true)
}

func (h *handler) disableMFA(c echo.Context) error {
	return h.toggleMFA(c, false)
}

func (h *handler) toggleMFA(c echo.Context, enable bool) error {
	token, _ := middleware.TokenFromContext(c)
	id := c.Param("id")

	toggle := h.svc.DisableMFA
	if enable {
		toggle = h.svc.EnableMFA
	}
	changed, err := toggle(c.Request().Context(), token, id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, mfaToggleResponse{UserID: id, MFAEnabled: enable, Changed: changed})
}

func (h *handler) mfaEnrollment(c echo.Context) error {
	token, _ := middleware.TokenFromContext(c)

	setup, err := h.svc.MFAEnrollment(c.Request().Context(), token, c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return c.JSON(http.StatusOK, setup)
}

func (h *handler) auditEvents(c echo.Context) error {
	token, _ := middleware.TokenFromContext(c)

	filter, err := parseAuditFilter(c)
	if err != nil {
		return badRequest(c)
	}

	events, err := h.svc.AuditEvents(c.Request().Context(), token, filter)
	if err != nil {
		return h.fail(c, err)
	}
	if events == nil {
		events = []fleetauth.AuditEvent{}
	}
	return c.JSON(http.StatusOK, auditEventsResponse{Events: events})
}

func (h *handler) applyRetention(c echo.Context) error {
	token, _ := middleware.TokenFromContext(c)

	removed, err := h.svc.ApplyAuditRetention(c.Request().Context(), token)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, retentionResponse{Removed: removed})
}

func parseAuditFilter(c echo.Context) (fleetauth.AuditFilter, error) {
	filter := fleetauth.AuditFilter{
		ActorID:      c.QueryParam("actor_id"),
		TargetUserID: c.QueryParam("target_user_id"),
		EventType:    fleetauth.AuditEventType(c.QueryParam("event_type")),
	}
	if v := c.QueryParam("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return fleetauth.AuditFilter{}, err
		}
		filter.Since = since
	}
	if v := c.QueryParam("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return fleetauth.AuditFilter{}, err
		}
		filter.Limit = limit
	}
	return filter, nil
}
