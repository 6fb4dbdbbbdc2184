package auth

import (
	"context"
	"errors"
)

type ctxKey int

const ctxIdentity ctxKey = iota

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxIdentity, id)
}

func IdentityFrom(ctx context.Context) (Identity, error) {
	v := ctx.Value(ctxIdentity)
	if id, ok := v.(Identity); ok && !id.AccountID.IsZero() {
		return id, nil
	}
	return Identity{}, errors.New("identity not in context")
}
