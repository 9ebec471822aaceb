package auth

import (
	"context"
	"errors"
	"slices"
)

// RoleAdmin grants elevated privileges: publishing to and discontinuing any package.
const RoleAdmin = "admin"

// ErrNoPrincipal is returned when a request carries no authenticated caller.
var ErrNoPrincipal = errors.New("auth: request is not authenticated")

// Principal is the authenticated caller of a request, built from token claims.
type Principal struct {
	ID    string   `json:"id"`
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// IsAdmin reports whether the principal carries the admin role.
func (p *Principal) IsAdmin() bool {
	return p != nil && slices.Contains(p.Roles, RoleAdmin)
}

type ctxKey uint8

const (
	principalCtx ctxKey = iota + 1
	requestIDCtx
)

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalCtx, p)
}

// GetPrincipal returns the caller attached by the JWT middleware.
func GetPrincipal(ctx context.Context) (*Principal, error) {
	if p, _ := ctx.Value(principalCtx).(*Principal); p != nil {
		return p, nil
	}
	return nil, ErrNoPrincipal
}

// GetRequestID returns the request ID attached by RequestIDMiddleware.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDCtx).(string)
	return id
}
