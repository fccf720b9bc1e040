package auth

import (
	"strings"
	"time"
)

// DefaultScope is requested on every device and authorization-code grant.
const DefaultScope = "read write"

// DeviceAuthorization is the result of a device-code request. It is owned by a
// single Login call and handed to Poll unchanged.
type DeviceAuthorization struct {
	DeviceCode      string
	UserCode        string
	VerificationURL string
	ExpiresIn       time.Duration
	Interval        time.Duration
}

// AccessToken is the bearer credential used against the Zendesk API.
type AccessToken struct {
	Value     string `json:"access_token"`
	Scope     string `json:"scope,omitempty"`
	TokenType string `json:"token_type,omitempty"`
}

// IsZero reports whether the token carries no credential.
func (t AccessToken) IsZero() bool {
	return t.Value == ""
}

// Upstream identifies the Zendesk account and the OAuth client registered there.
type Upstream struct {
	Subdomain    string
	ClientID     string
	ClientSecret string
	// BaseURL overrides https://{subdomain}.zendesk.com.
	BaseURL string
}

// Configured reports whether every credential needed for OAuth is present.
func (u Upstream) Configured() bool {
	return u.Subdomain != "" && u.ClientID != "" && u.ClientSecret != ""
}

// Base returns the account origin without a trailing slash, or "" when the
// subdomain is unknown and no override is set.
func (u Upstream) Base() string {
	if u.BaseURL != "" {
		return strings.TrimSuffix(u.BaseURL, "/")
	}
	if u.Subdomain == "" {
		return ""
	}
	return "https://" + u.Subdomain + ".zendesk.com"
}

func (u Upstream) DeviceCodeURL() string { return u.Base() + "/oauth/device/code" }

func (u Upstream) TokenURL() string { return u.Base() + "/oauth/tokens" }

func (u Upstream) AuthorizeURL() string { return u.Base() + "/oauth/authorizations/new" }

func (u Upstream) APIURL() string { return u.Base() + "/api/v2" }
