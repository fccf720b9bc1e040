package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

const hstsMaxAge = 31536000

// Routes constructs the HTTP router with the OAuth gateway and MCP endpoints.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(a.Logger, a.Metrics))
	r.Use(RecoveryMiddleware(a.Logger))
	r.Use(CORSMiddleware)
	if a.Config.Server.TLS.Enabled() {
		r.Use(SecurityHeadersMiddleware(hstsMaxAge))
	}

	r.Get("/", a.handleIndex)
	r.Get(wellKnownAuthorizationServer, a.handleAuthorizationServerMetadata)
	r.Get(wellKnownProtectedResource, a.handleProtectedResourceMetadata)

	r.Post("/register", a.handleRegister)
	r.Get("/authorize", a.handleAuthorize)
	r.Post("/token", a.handleToken)

	share := a.Config.Server.ShareBearerToken && a.Config.Upstream.OAuth().Configured()
	r.Group(func(r chi.Router) {
		r.Use(BearerTokenMiddleware(a.Tokens, share, a.Logger))
		mcp := a.mcpHandler()
		r.Method(http.MethodGet, "/mcp", mcp)
		r.Method(http.MethodPost, "/mcp", mcp)
		r.Method(http.MethodDelete, "/mcp", mcp)
	})

	if a.Metrics != nil && a.Config.Metrics.Enabled {
		r.Method(http.MethodGet, a.Config.Metrics.Path, a.Metrics.Handler())
	}

	return r
}
