package util

import (
	"context"
	"net/http"
	"time"
)

// Context keys.
type ctxKey string

const (
	ctxKeyStartTime ctxKey = "start_time"
	ctxKeyRule      ctxKey = "rule"
	ctxKeyUser      ctxKey = "user"
)

// ContextWithStartTime adds a start time to the context.
func ContextWithStartTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ctxKeyStartTime, t)
}

// StartTimeFromContext extracts the start time from context.
func StartTimeFromContext(ctx context.Context) time.Time {
	if v, ok := ctx.Value(ctxKeyStartTime).(time.Time); ok {
		return v
	}
	return time.Time{}
}

// ContextWithRule adds the matched rule pattern to the context.
func ContextWithRule(ctx context.Context, pattern string) context.Context {
	return context.WithValue(ctx, ctxKeyRule, pattern)
}

// RuleFromContext extracts the matched rule pattern from context.
func RuleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyRule).(string); ok {
		return v
	}
	return ""
}

// ContextWithUser adds the effective user id to the context.
func ContextWithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, ctxKeyUser, user)
}

// UserFromContext extracts the effective user id from context.
func UserFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyUser).(string); ok {
		return v
	}
	return ""
}

// ElapsedTime returns the elapsed time since the start time in context.
func ElapsedTime(ctx context.Context) time.Duration {
	startTime := StartTimeFromContext(ctx)
	if startTime.IsZero() {
		return 0
	}
	return time.Since(startTime)
}

// RequestURI returns the request target as received, falling back to the
// parsed URL for requests built in-process.
func RequestURI(r *http.Request) string {
	if r.RequestURI != "" {
		return r.RequestURI
	}
	return r.URL.RequestURI()
}
