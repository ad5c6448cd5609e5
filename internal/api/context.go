package api

import (
	"context"

	"guardian/internal/storage"
)

type contextKey string

const sessionContextKey contextKey = "session"

func withSession(ctx context.Context, sess storage.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, sess)
}

// SessionFromContext returns the authenticated session, if any.
func SessionFromContext(ctx context.Context) (storage.Session, bool) {
	sess, ok := ctx.Value(sessionContextKey).(storage.Session)
	return sess, ok
}
