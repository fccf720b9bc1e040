package auth

import "context"

type tokenKey struct{}

// WithToken attaches a caller-supplied token to ctx.
func WithToken(ctx context.Context, token AccessToken) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFromContext returns the token stored by WithToken.
func TokenFromContext(ctx context.Context) (AccessToken, bool) {
	tok, ok := ctx.Value(tokenKey{}).(AccessToken)
	if !ok || tok.IsZero() {
		return AccessToken{}, false
	}
	return tok, true
}
