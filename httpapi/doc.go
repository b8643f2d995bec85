// Package httpapi serves a fleetauth.Engine over HTTP with echo.
//
// Routes:
//
//	POST   /v1/auth/login                  {"email","password"}
//	POST   /v1/auth/mfa/verify             {"mfa_token","code"}
//	POST   /v1/auth/logout                 bearer
//	GET    /v1/auth/me                     bearer
//	POST   /v1/accounts/:id/mfa            bearer, enables MFA
//	DELETE /v1/accounts/:id/mfa            bearer, disables MFA
//	GET    /v1/accounts/:id/mfa/enrollment bearer, owner only
//	GET    /v1/audit/events                bearer, ?actor_id&target_user_id&event_type&since&limit
//	POST   /v1/audit/retention             bearer
//	GET    /healthz
//	GET    /metrics                        when a metrics handler is configured
//
// Error bodies carry fleetauth.PublicMessage only. An expired MFA challenge
// and a wrong code get the same status and text.
package httpapi
