package ledger

import "context"

type contextKey string

const callerKey contextKey = "ledger-caller"

// WithCaller attaches the authenticated ledger client identity to ctx.
// The contract stamps it as the publisher of new records.
func WithCaller(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, callerKey, id)
}

// CallerFrom returns the ledger client identity, if any.
func CallerFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(callerKey).(string)
	return id, ok && id != ""
}
