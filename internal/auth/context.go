package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxUserID ctxKey = iota
	ctxRole
	ctxAppID
)

func WithIdentity(ctx context.Context, userID, role string) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, userID)
	ctx = context.WithValue(ctx, ctxRole, role)
	return ctx
}

func WithApp(ctx context.Context, appID string) context.Context {
	return context.WithValue(ctx, ctxAppID, appID)
}

func UserID(ctx context.Context) (string, error) {
	v := ctx.Value(ctxUserID)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("user_id not in context")
}

func Role(ctx context.Context) (string, error) {
	v := ctx.Value(ctxRole)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("role not in context")
}

func AppID(ctx context.Context) (string, error) {
	v := ctx.Value(ctxAppID)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("app_id not in context")
}
