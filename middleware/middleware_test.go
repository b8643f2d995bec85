package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/lrgov/fleetauth"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type stubResolver struct {
	acct *fleetauth.Account
	err  error
	seen string
}

func (s *stubResolver) CurrentUser(_ context.Context, token string) (*fleetauth.Account, error) {
	s.seen = token
	return s.acct, s.err
}

func serve(t *testing.T, mw echo.MiddlewareFunc, h echo.HandlerFunc, header string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	e.GET("/", h, mw)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set(echo.HeaderAuthorization, header)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"Bearer   abc ", "abc", true},
		{"Bearer ", "", false},
		{"Basic abc", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		token, ok := bearerToken(tt.header)
		if token != tt.token || ok != tt.ok {
			t.Fatalf("bearerToken(%q) = %q, %v", tt.header, token, ok)
		}
	}
}

func TestRequireBearer(t *testing.T) {
	handler := func(c echo.Context) error {
		token, _ := TokenFromContext(c)
		return c.String(http.StatusOK, token)
	}

	if rec := serve(t, RequireBearer(), handler, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	rec := serve(t, RequireBearer(), handler, "Bearer tok-1")
	if rec.Code != http.StatusOK || rec.Body.String() != "tok-1" {
		t.Fatalf("unexpected response: %d %q", rec.Code, rec.Body.String())
	}
}

func TestRequireSession(t *testing.T) {
	handler := func(c echo.Context) error {
		acct, ok := AccountFromContext(c)
		if !ok {
			return c.NoContent(http.StatusInternalServerError)
		}
		return c.String(http.StatusOK, acct.ID)
	}

	live := &stubResolver{acct: &fleetauth.Account{ID: "u1"}}
	rec := serve(t, RequireSession(live), handler, "Bearer tok-1")
	if rec.Code != http.StatusOK || rec.Body.String() != "u1" || live.seen != "tok-1" {
		t.Fatalf("unexpected response: %d %q", rec.Code, rec.Body.String())
	}

	dead := &stubResolver{err: fleetauth.ErrSessionExpired}
	if rec := serve(t, RequireSession(dead), handler, "Bearer tok-1"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	down := &stubResolver{err: fleetauth.ErrStorage}
	if rec := serve(t, RequireSession(down), handler, "Bearer tok-1"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestRequestLoggerOmitsToken(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	handler := func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }

	rec := serve(t, RequestLogger(zap.New(core)), handler, "Bearer super-secret-token")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if logs.Len() != 1 {
		t.Fatalf("expected 1 log entry, got %d", logs.Len())
	}
	for k, v := range logs.All()[0].ContextMap() {
		if s, ok := v.(string); ok && s == "Bearer super-secret-token" {
			t.Fatalf("token logged under %s", k)
		}
	}
}
