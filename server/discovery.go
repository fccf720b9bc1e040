package server

import (
	"net/http"
	"strings"
)

const (
	wellKnownAuthorizationServer = "/.well-known/oauth-authorization-server"
	wellKnownProtectedResource   = "/.well-known/oauth-protected-resource"
)

var supportedScopes = []string{"read", "write"}

// DiscoveryDocument is a simple alias for discovery metadata.
type DiscoveryDocument map[string]any

// BuildAuthorizationServerMetadata constructs the RFC 8414 document for issuer.
func BuildAuthorizationServerMetadata(issuer string) DiscoveryDocument {
	return DiscoveryDocument{
		"issuer":                                issuer,
		"authorization_endpoint":                issuer + "/authorize",
		"token_endpoint":                        issuer + "/token",
		"registration_endpoint":                 issuer + "/register",
		"response_types_supported":              []string{"code"},
		"response_modes_supported":              []string{"query"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
		"token_endpoint_auth_methods_supported": []string{"none"},
		"code_challenge_methods_supported":      []string{"S256"},
		"scopes_supported":                      supportedScopes,
	}
}

// BuildProtectedResourceMetadata constructs the RFC 9728 document for the MCP endpoint.
func BuildProtectedResourceMetadata(issuer string) DiscoveryDocument {
	return DiscoveryDocument{
		"resource":                 issuer + "/mcp",
		"authorization_servers":    []string{issuer},
		"scopes_supported":         supportedScopes,
		"bearer_methods_supported": []string{"header"},
		"resource_documentation":   issuer,
	}
}

// requestOrigin derives scheme://host for r. A configured public URL wins;
// otherwise the scheme comes from the connection, or from X-Forwarded-Proto
// when proxy headers are trusted.
func requestOrigin(r *http.Request, publicURL string, trustProxy bool) string {
	if publicURL != "" {
		return strings.TrimSuffix(publicURL, "/")
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if trustProxy {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
		}
	}

	host := r.Host
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
			host = strings.TrimSpace(strings.Split(fwd, ",")[0])
		}
	}
	return scheme + "://" + host
}
