package clientctx

import (
	"context"
)

type ctxKey string

const clientKey ctxKey = "client"

// Create a new context with the authenticated client name
func New(ctx context.Context, client string) context.Context {
	return context.WithValue(ctx, clientKey, client)
}

// Extract the client name from the context
func FromContext(ctx context.Context) (string, bool) {
	c, ok := ctx.Value(clientKey).(string)
	return c, ok
}
