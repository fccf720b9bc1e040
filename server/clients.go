package server

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registration defaults applied when the caller omits a field.
const DefaultClientName = "Zendesk MCP Client"

var (
	defaultGrantTypes    = []string{"authorization_code", "refresh_token"}
	defaultResponseTypes = []string{"code"}
)

// ClientRegistry holds dynamically registered OAuth clients in memory.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]ClientRegistration
	now     func() time.Time
}

// NewClientRegistry returns an empty registry.
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]ClientRegistration),
		now:     time.Now,
	}
}

// Register stores a new public client and returns its record. It always
// succeeds because ids are generated here, never supplied by the caller.
func (cr *ClientRegistry) Register(req RegistrationRequest) ClientRegistration {
	reg := ClientRegistration{
		ClientID:      uuid.NewString(),
		ClientName:    req.ClientName,
		RedirectURIs:  slices.Clone(req.RedirectURIs),
		GrantTypes:    slices.Clone(req.GrantTypes),
		ResponseTypes: slices.Clone(req.ResponseTypes),
		Scope:         req.Scope,
		AuthMethod:    "none",
		CreatedAt:     cr.now().UTC(),
	}
	if reg.ClientName == "" {
		reg.ClientName = DefaultClientName
	}
	if reg.RedirectURIs == nil {
		reg.RedirectURIs = []string{}
	}
	if len(reg.GrantTypes) == 0 {
		reg.GrantTypes = slices.Clone(defaultGrantTypes)
	}
	if len(reg.ResponseTypes) == 0 {
		reg.ResponseTypes = slices.Clone(defaultResponseTypes)
	}

	cr.mu.Lock()
	cr.clients[reg.ClientID] = reg
	cr.mu.Unlock()
	return reg.clone()
}

// Lookup retrieves a registration by client id.
func (cr *ClientRegistry) Lookup(id string) (ClientRegistration, bool) {
	cr.mu.RLock()
	defer cr.mu.RUnlock()
	reg, ok := cr.clients[id]
	if !ok {
		return ClientRegistration{}, false
	}
	return reg.clone(), true
}

// Count returns the number of registered clients.
func (cr *ClientRegistry) Count() int {
	cr.mu.RLock()
	defer cr.mu.RUnlock()
	return len(cr.clients)
}

// ValidRedirect reports whether uri is one of the registered redirect URIs.
func (c ClientRegistration) ValidRedirect(uri string) bool {
	if !isSafeRedirectURI(uri) {
		return false
	}
	return slices.Contains(c.RedirectURIs, uri)
}

func (c ClientRegistration) clone() ClientRegistration {
	c.RedirectURIs = slices.Clone(c.RedirectURIs)
	c.GrantTypes = slices.Clone(c.GrantTypes)
	c.ResponseTypes = slices.Clone(c.ResponseTypes)
	return c
}

// isSafeRedirectURI validates that a redirect URI is safe to hand to the
// upstream authorize page. Loopback and custom-scheme callbacks used by
// native MCP clients are allowed; script-bearing schemes are not.
func isSafeRedirectURI(uri string) bool {
	if uri == "" {
		return false
	}

	lower := strings.ToLower(uri)
	dangerousSchemes := []string{
		"javascript:",
		"data:",
		"file:",
		"vbscript:",
		"about:",
	}
	for _, scheme := range dangerousSchemes {
		if strings.HasPrefix(lower, scheme) {
			return false
		}
	}

	// Protocol-relative URLs could redirect anywhere
	if strings.HasPrefix(uri, "//") {
		return false
	}

	idx := strings.Index(uri, "://")
	if idx <= 0 {
		return false
	}
	rest := uri[idx+3:]

	// Blocks user:pass@host and path@domain tricks
	if strings.Contains(rest, "@") {
		return false
	}

	hostPart := rest
	if slashIdx := strings.Index(rest, "/"); slashIdx != -1 {
		hostPart = rest[:slashIdx]
	}
	return !strings.Contains(hostPart, "#")
}
