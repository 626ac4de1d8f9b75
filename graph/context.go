package graph

import "context"

type sessionIDKey struct{}

// WithSessionID attaches a session id to the context. The executor does this
// before invoking stage bodies and listeners.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, sessionID)
}

// SessionIDFromContext returns the session id attached by WithSessionID, or "".
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey{}).(string)
	return id
}
