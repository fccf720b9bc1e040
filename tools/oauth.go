package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	msgNotConfigured   = "OAuth not configured. Please set ZENDESK_CLIENT_ID, ZENDESK_CLIENT_SECRET, and ZENDESK_SUBDOMAIN environment variables."
	msgAlreadyLoggedIn = "Already logged in to Zendesk."
	msgLoggedIn        = "Successfully logged in to Zendesk using OAuth!"
	msgLoggedOut       = "Successfully logged out from Zendesk."
)

type authStatus struct {
	Authenticated      bool   `json:"authenticated"`
	LoginState         string `json:"login_state"`
	OAuthConfigured    bool   `json:"oauth_configured"`
	APITokenConfigured bool   `json:"api_token_configured"`
}

func (b *Bridge) oauthTools() []toolEntry {
	return []toolEntry{
		{
			tool: mcp.NewTool("zendesk_oauth_login",
				mcp.WithDescription("Login to Zendesk using OAuth device flow"),
			),
			handler: b.handleLogin,
		},
		{
			tool: mcp.NewTool("zendesk_oauth_logout",
				mcp.WithDescription("Logout from Zendesk OAuth session"),
			),
			handler: b.handleLogout,
		},
		{
			tool: mcp.NewTool("zendesk_oauth_status",
				mcp.WithDescription("Report whether the server holds a Zendesk access token and the state of the last login"),
			),
			handler: b.handleStatus,
		},
	}
}

func (b *Bridge) handleLogin(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if b.deps.Login == nil || !b.deps.Login.Configured() {
		return mcp.NewToolResultError(msgNotConfigured), nil
	}
	if b.deps.Tokens.IsAuthenticated() {
		return mcp.NewToolResultText(msgAlreadyLoggedIn), nil
	}
	if _, err := b.deps.Login.Login(ctx); err != nil {
		b.deps.Logger.Warn("oauth login tool failed", "error", err)
		return mcp.NewToolResultError("OAuth login failed: " + err.Error()), nil
	}
	return mcp.NewToolResultText(msgLoggedIn), nil
}

func (b *Bridge) handleLogout(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	b.deps.Tokens.Clear()
	b.deps.Logger.Info("oauth token cleared")
	return mcp.NewToolResultText(msgLoggedOut), nil
}

func (b *Bridge) handleStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := authStatus{
		Authenticated:      b.deps.Tokens.IsAuthenticated(),
		LoginState:         "idle",
		APITokenConfigured: b.deps.Zendesk.HasAPIToken(),
	}
	if b.deps.Login != nil {
		status.LoginState = b.deps.Login.State().String()
		status.OAuthConfigured = b.deps.Login.Configured()
	}
	return jsonResult(status)
}
