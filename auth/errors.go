package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrUpstreamUnavailable reports a transport failure or non-2xx status from Zendesk.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrAuthorizationPending is the transient state while the user has not yet approved.
	ErrAuthorizationPending = errors.New("authorization pending")
	// ErrAuthorizationDenied is terminal: the user or the server refused the grant.
	ErrAuthorizationDenied = errors.New("authorization denied")
	// ErrAuthorizationExpired is terminal: the device code expired before approval.
	ErrAuthorizationExpired = errors.New("authorization expired")
	// ErrAuthorizationTimeout reports that every poll attempt was used up.
	ErrAuthorizationTimeout = errors.New("authorization timed out")
	// ErrNotConfigured reports missing upstream credentials.
	ErrNotConfigured = errors.New("oauth not configured")
)

// OAuth error codes returned by the Zendesk token endpoint.
const (
	codeAuthorizationPending = "authorization_pending"
	codeSlowDown             = "slow_down"
	codeExpiredToken         = "expired_token"
	codeAccessDenied         = "access_denied"
)

// UpstreamError carries a decoded OAuth error body from Zendesk.
type UpstreamError struct {
	Status      int
	Code        string
	Description string
}

func (e *UpstreamError) Error() string {
	desc := e.Description
	if desc == "" {
		desc = "Unknown error"
	}
	if e.Code == "" {
		return fmt.Sprintf("upstream status %d: %s", e.Status, desc)
	}
	return fmt.Sprintf("authorization %s: %s", e.Code, desc)
}

// Is maps OAuth error codes onto the package sentinels. An expired device code
// counts as a denial too, so callers that only care about "terminal refusal"
// can test for ErrAuthorizationDenied alone.
func (e *UpstreamError) Is(target error) bool {
	switch e.Code {
	case codeAuthorizationPending, codeSlowDown:
		return target == ErrAuthorizationPending
	case codeAccessDenied:
		return target == ErrAuthorizationDenied
	case codeExpiredToken:
		return target == ErrAuthorizationExpired || target == ErrAuthorizationDenied
	}
	return false
}
