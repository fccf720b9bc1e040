package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"zendeskmcp/auth"
)

// OAuth error codes written by the gateway.
const (
	errInvalidRequest       = "invalid_request"
	errUnsupportedGrantType = "unsupported_grant_type"
	errInvalidClientMeta    = "invalid_client_metadata"
	errServerError          = "server_error"
)

const maxRequestBody = 1 << 20

// App bundles runtime dependencies for the HTTP service.
type App struct {
	Config   Config
	Logger   *slog.Logger
	Clients  *ClientRegistry
	Provider AuthorizationProvider
	Tokens   *auth.TokenStore
	Metrics  *Metrics
	MCP      *mcpserver.MCPServer
}

// Options carries collaborators built outside the server package.
type Options struct {
	Tokens     *auth.TokenStore
	MCP        *mcpserver.MCPServer
	Metrics    *Metrics
	HTTPClient *http.Client
}

// NewApp wires together the application state from configuration.
func NewApp(cfg Config, logger *slog.Logger, opts Options) *App {
	tokens := opts.Tokens
	if tokens == nil {
		tokens = auth.NewTokenStore()
	}
	metrics := opts.Metrics
	if metrics == nil && cfg.Metrics.Enabled {
		metrics = NewMetrics()
	}

	return &App{
		Config:   cfg,
		Logger:   logger,
		Clients:  NewClientRegistry(),
		Provider: NewZendeskProvider(cfg.Upstream.OAuth(), opts.HTTPClient, logger),
		Tokens:   tokens,
		Metrics:  metrics,
		MCP:      opts.MCP,
	}
}

func (a *App) issuer(r *http.Request) string {
	return requestOrigin(r, a.Config.Server.PublicURL, a.Config.Server.TrustProxyHeaders)
}

func (a *App) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "Zendesk MCP Server is running")
}

func (a *App) handleAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, BuildAuthorizationServerMetadata(a.issuer(r)))
}

func (a *App) handleProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, BuildProtectedResourceMetadata(a.issuer(r)))
}

func (a *App) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegistrationRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		a.Logger.Warn("register invalid body", "error", err, "request_id", RequestIDFromContext(r.Context()))
		oauthError(w, http.StatusBadRequest, errInvalidClientMeta, "request body must be a JSON client metadata document")
		return
	}

	reg := a.Clients.Register(req)
	a.Metrics.ObserveRegistration()
	a.Logger.Info("client registered",
		"client_id", reg.ClientID,
		"client_name", reg.ClientName,
		"redirect_uris", reg.RedirectURIs,
		"registered_clients", a.Clients.Count())
	writeJSON(w, http.StatusCreated, reg)
}

func (a *App) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := AuthorizeRequest{
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		Scope:               q.Get("scope"),
		State:               q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
	}
	a.warnUnknownClient(r, req.ClientID, req.RedirectURI)

	target, err := a.Provider.AuthCodeURL(req)
	if err != nil {
		a.Logger.Error("authorize failed", "error", err, "request_id", RequestIDFromContext(r.Context()))
		oauthError(w, http.StatusInternalServerError, errServerError, "Authorization failed")
		return
	}

	if !isSafeRedirectURI(req.RedirectURI) {
		a.Logger.Warn("authorize invalid redirect_uri", "redirect_uri", req.RedirectURI)
		oauthError(w, http.StatusBadRequest, errInvalidRequest, "redirect_uri is missing or not allowed")
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (a *App) handleToken(w http.ResponseWriter, r *http.Request) {
	req, err := parseTokenRequest(r)
	if err != nil {
		a.Logger.Warn("token invalid body", "error", err)
		oauthError(w, http.StatusBadRequest, errInvalidRequest, "malformed token request")
		return
	}

	if req.GrantType == "" {
		oauthError(w, http.StatusBadRequest, errInvalidRequest, "grant_type parameter is required")
		return
	}
	if req.GrantType != "authorization_code" {
		oauthError(w, http.StatusBadRequest, errUnsupportedGrantType, fmt.Sprintf("Grant type '%s' is not supported", req.GrantType))
		return
	}
	a.warnUnknownClient(r, req.ClientID, req.RedirectURI)

	body, err := a.Provider.ExchangeCode(r.Context(), req.Code, req.RedirectURI)
	if err != nil {
		a.Metrics.ObserveTokenExchange("error")
		a.Logger.Error("token exchange failed", "error", err, "request_id", RequestIDFromContext(r.Context()))
		oauthError(w, http.StatusInternalServerError, errServerError, "Internal server error during token exchange")
		return
	}
	a.Metrics.ObserveTokenExchange("success")

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// warnUnknownClient records client ids that never registered and redirect
// URIs a registered client did not declare. Requests are not rejected:
// downstream agents are treated as trusted local clients.
func (a *App) warnUnknownClient(r *http.Request, clientID, redirectURI string) {
	if clientID == "" {
		return
	}
	reg, ok := a.Clients.Lookup(clientID)
	if !ok {
		a.Logger.Warn("unregistered client_id presented", "client_id", clientID, "path", r.URL.Path)
		return
	}
	if redirectURI != "" && !reg.ValidRedirect(redirectURI) {
		a.Logger.Warn("redirect_uri not registered for client", "client_id", clientID, "redirect_uri", redirectURI, "path", r.URL.Path)
	}
}

func parseTokenRequest(r *http.Request) (TokenRequest, error) {
	var req TokenRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req)
		if err != nil && !errors.Is(err, io.EOF) {
			return TokenRequest{}, err
		}
		return req, nil
	}

	r.Body = http.MaxBytesReader(nil, r.Body, maxRequestBody)
	if err := r.ParseForm(); err != nil {
		return TokenRequest{}, err
	}
	req.GrantType = r.PostForm.Get("grant_type")
	req.Code = r.PostForm.Get("code")
	req.RedirectURI = r.PostForm.Get("redirect_uri")
	req.ClientID = r.PostForm.Get("client_id")
	req.CodeVerifier = r.PostForm.Get("code_verifier")
	return req, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func oauthError(w http.ResponseWriter, status int, code, desc string) {
	writeJSON(w, status, map[string]string{"error": code, "error_description": desc})
}
