package middleware

import (
	"context"
	"time"
)

type callerKey struct{}

// Caller identifies an authenticated upload client.
type Caller struct {
	// Name is the label configured alongside the key hash.
	Name string

	// AuthTime is when the key was verified.
	AuthTime time.Time
}

// GetCaller returns the authenticated caller, if any.
func GetCaller(ctx context.Context) (Caller, bool) {
	caller, ok := ctx.Value(callerKey{}).(Caller)

	return caller, ok
}

// SetCaller attaches caller to ctx.
func SetCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}
