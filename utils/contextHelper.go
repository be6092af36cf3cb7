package utils

import (
	"context"
)

type contextKey string

func (c contextKey) String() string { return string(c) }

const (
	ContextKeyToken         = contextKey("Token")
	ContextKeyUsername      = contextKey("Username")
	ContextKeyUserId        = contextKey("UserId")
	ContextKeyRole          = contextKey("Role")
	ContextKeyCorrelationId = contextKey("CorrelationId")

	// ContextKeySiteName carries the storefront a worker is currently reconciling.
	ContextKeySiteName = contextKey("SiteName")
)

func getString(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	return v, ok
}

func GetTokenFromContext(ctx context.Context) (string, bool) {
	return getString(ctx, ContextKeyToken)
}

func GetUsernameFromContext(ctx context.Context) (string, bool) {
	return getString(ctx, ContextKeyUsername)
}

func GetUserIdFromContext(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(ContextKeyUserId).(int)
	return v, ok
}

func GetRoleFromContext(ctx context.Context) (string, bool) {
	return getString(ctx, ContextKeyRole)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return getString(ctx, ContextKeyCorrelationId)
}

func GetSiteNameFromContext(ctx context.Context) (string, bool) {
	return getString(ctx, ContextKeySiteName)
}

func SetTokenInContext(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, ContextKeyToken, token)
}

func SetUsernameInContext(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, ContextKeyUsername, username)
}

func SetUserIdInContext(ctx context.Context, userId int) context.Context {
	return context.WithValue(ctx, ContextKeyUserId, userId)
}

func SetRoleInContext(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, ContextKeyRole, role)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return context.WithValue(ctx, ContextKeyCorrelationId, correlationId)
}

func SetSiteNameInContext(ctx context.Context, siteName string) context.Context {
	return context.WithValue(ctx, ContextKeySiteName, siteName)
}
