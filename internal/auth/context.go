package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxActor ctxKey = iota
	ctxRole
)

// WithIdentity stores the validated actor (email) and role on the context.
func WithIdentity(ctx context.Context, actor, role string) context.Context {
	ctx = context.WithValue(ctx, ctxActor, actor)
	ctx = context.WithValue(ctx, ctxRole, role)
	return ctx
}

func Actor(ctx context.Context) (string, error) {
	v := ctx.Value(ctxActor)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("actor not in context")
}

func Role(ctx context.Context) (string, error) {
	v := ctx.Value(ctxRole)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("role not in context")
}
