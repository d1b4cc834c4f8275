package auth

import "context"

type usernameKey struct{}

// WithUsername records the authenticated username for the rest of the request.
func WithUsername(ctx context.Context, username string) context.Context {
	if username == "" {
		return ctx
	}
	return context.WithValue(ctx, usernameKey{}, username)
}

// UsernameFromContext returns the authenticated username, or "" for anonymous requests.
func UsernameFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	username, _ := ctx.Value(usernameKey{}).(string)
	return username
}
