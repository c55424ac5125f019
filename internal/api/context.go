package api

import (
	"context"

	"github.com/org/passvault/pkg/models"
)

type contextKey string

const (
	ctxKeyPrincipal contextKey = "principal"
	ctxKeyRequestID contextKey = "request_id"
)

func withPrincipal(ctx context.Context, a *models.Account) context.Context {
	return context.WithValue(ctx, ctxKeyPrincipal, a)
}

func principalFromCtx(ctx context.Context) *models.Account {
	a, _ := ctx.Value(ctxKeyPrincipal).(*models.Account)
	return a
}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

func requestIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}
