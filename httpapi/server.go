package httpapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/lrgov/fleetauth"
	"github.com/lrgov/fleetauth/middleware"
	"go.uber.org/zap"
)

// Service is the Engine surface the HTTP layer calls.
type Service interface {
	Login(ctx context.Context, email, password string) (*fleetauth.LoginResult, error)
	VerifyMFA(ctx context.Context, mfaToken, code string) (*fleetauth.LoginResult, error)
	Logout(ctx context.Context, token string) error
	CurrentUser(ctx context.Context, token string) (*fleetauth.Account, error)
	EnableMFA(ctx context.Context, callerToken, userID string) (bool, error)
	DisableMFA(ctx context.Context, callerToken, userID string) (bool, error)
	MFAEnrollment(ctx context.Context, callerToken, userID string) (*fleetauth.MFASetup, error)
	AuditEvents(ctx context.Context, callerToken string, filter fleetauth.AuditFilter) ([]fleetauth.AuditEvent, error)
	ApplyAuditRetention(ctx context.Context, callerToken string) (int64, error)
	Ping(ctx context.Context) error
}

// Options configures New.
type Options struct {
	Logger *zap.Logger
	// Metrics, when set, is served on GET /metrics.
	Metrics http.Handler
	// TrustProxyHeaders makes RealIP read X-Forwarded-For. Leave it off
	// unless a trusted proxy sets the header.
	TrustProxyHeaders bool
}

type handler struct {
	svc    Service
	logger *zap.Logger
}

// New returns an echo instance with every route registered.
func New(svc Service, opts Options) *echo.Echo {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	if opts.TrustProxyHeaders {
		e.IPExtractor = echo.ExtractIPFromXFFHeader()
	} else {
		e.IPExtractor = echo.ExtractIPDirect()
	}

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	e.Use(middleware.ClientContext())

	Register(e, svc, logger)

	e.GET("/healthz", func(c echo.Context) error {
		if err := svc.Ping(c.Request().Context()); err != nil {
			logger.Warn("health check failed", zap.Error(err))
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(opts.Metrics))
	}

	return e
}

// Register adds the /v1 routes to e.
func Register(e *echo.Echo, svc Service, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handler{svc: svc, logger: logger}
	bearer := middleware.RequireBearer()

	v1 := e.Group("/v1")

	auth := v1.Group("/auth")
	auth.POST("/login", h.login)
	auth.POST("/mfa/verify", h.verifyMFA)
	auth.POST("/logout", h.logout, bearer)
	auth.GET("/me", h.me, middleware.RequireSession(svc))

	accounts := v1.Group("/accounts/:id", bearer)
	accounts.POST("/mfa", h.enableMFA)
	accounts.DELETE("/mfa", h.disableMFA)
	accounts.GET("/mfa/enrollment", h.mfaEnrollment)

	audit := v1.Group("/audit", bearer)
	audit.GET("/events", h.auditEvents)
	audit.POST("/retention", h.applyRetention)
}
