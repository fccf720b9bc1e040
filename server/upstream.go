package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"zendeskmcp/auth"
)

const maxUpstreamBody = 1 << 20

// ErrUpstreamNotConfigured reports that the gateway cannot reach Zendesk
// because the subdomain or OAuth client credentials are missing.
var ErrUpstreamNotConfigured = errors.New("zendesk oauth not configured")

// AuthorizationProvider is the upstream half of the authorization-code grant.
type AuthorizationProvider interface {
	AuthCodeURL(req AuthorizeRequest) (string, error)
	ExchangeCode(ctx context.Context, code, redirectURI string) (json.RawMessage, error)
}

// ZendeskProvider proxies the authorization-code grant to a Zendesk account
// using the gateway's own OAuth client.
type ZendeskProvider struct {
	upstream    auth.Upstream
	oauthConfig *oauth2.Config
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewZendeskProvider builds the provider. It never fails: missing
// configuration surfaces on each call instead.
func NewZendeskProvider(upstream auth.Upstream, httpClient *http.Client, logger *slog.Logger) *ZendeskProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: auth.DefaultHTTPTimeout}
	}
	return &ZendeskProvider{
		upstream: upstream,
		oauthConfig: &oauth2.Config{
			ClientID:     upstream.ClientID,
			ClientSecret: upstream.ClientSecret,
			Scopes:       strings.Fields(auth.DefaultScope),
			Endpoint: oauth2.Endpoint{
				AuthURL:   upstream.AuthorizeURL(),
				TokenURL:  upstream.TokenURL(),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: httpClient,
		logger:     logger,
	}
}

// AuthCodeURL builds the Zendesk authorize URL carrying the caller's
// redirect_uri, scope and state with the gateway's upstream client id.
func (p *ZendeskProvider) AuthCodeURL(req AuthorizeRequest) (string, error) {
	if p.upstream.Base() == "" {
		return "", fmt.Errorf("%w: subdomain missing", ErrUpstreamNotConfigured)
	}
	if p.upstream.ClientID == "" {
		return "", fmt.Errorf("%w: client id missing", ErrUpstreamNotConfigured)
	}

	scope := req.Scope
	if scope == "" {
		scope = auth.DefaultScope
	}
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("redirect_uri", req.RedirectURI),
		oauth2.SetAuthURLParam("scope", scope),
	}
	if req.CodeChallenge != "" {
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", req.CodeChallenge),
			oauth2.SetAuthURLParam("code_challenge_method", req.CodeChallengeMethod),
		)
	}
	return p.oauthConfig.AuthCodeURL(req.State, opts...), nil
}

// ExchangeCode redeems an authorization code at Zendesk and returns the
// response body untouched so the downstream client sees exactly what Zendesk
// issued.
func (p *ZendeskProvider) ExchangeCode(ctx context.Context, code, redirectURI string) (json.RawMessage, error) {
	if !p.upstream.Configured() {
		return nil, ErrUpstreamNotConfigured
	}

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {p.upstream.ClientID},
		"client_secret": {p.upstream.ClientSecret},
		"redirect_uri":  {redirectURI},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.oauthConfig.Endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read token response: %v", auth.ErrUpstreamUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		p.logger.Warn("upstream token exchange rejected", "status", resp.StatusCode, "body", truncate(string(body), 256))
		return nil, fmt.Errorf("%w: token exchange failed: %d", auth.ErrUpstreamUnavailable, resp.StatusCode)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: token response is not JSON", auth.ErrUpstreamUnavailable)
	}
	return json.RawMessage(body), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
