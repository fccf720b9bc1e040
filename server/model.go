package server

import "time"

// RegistrationRequest is the RFC 7591 body accepted by /register.
type RegistrationRequest struct {
	ClientName    string   `json:"client_name"`
	RedirectURIs  []string `json:"redirect_uris"`
	GrantTypes    []string `json:"grant_types"`
	ResponseTypes []string `json:"response_types"`
	Scope         string   `json:"scope,omitempty"`
}

// ClientRegistration records a dynamically registered public client.
type ClientRegistration struct {
	ClientID      string    `json:"client_id"`
	ClientName    string    `json:"client_name"`
	RedirectURIs  []string  `json:"redirect_uris"`
	GrantTypes    []string  `json:"grant_types"`
	ResponseTypes []string  `json:"response_types"`
	Scope         string    `json:"scope,omitempty"`
	AuthMethod    string    `json:"token_endpoint_auth_method"`
	CreatedAt     time.Time `json:"-"`
}

// AuthorizeRequest encapsulates parsed parameters for /authorize.
type AuthorizeRequest struct {
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// TokenRequest is the subset of /token parameters the gateway reads. The
// same fields arrive either form-encoded or as JSON.
type TokenRequest struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code"`
	RedirectURI  string `json:"redirect_uri"`
	ClientID     string `json:"client_id"`
	CodeVerifier string `json:"code_verifier"`
}
