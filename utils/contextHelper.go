package utils

import (
	"context"

	"github.com/openshelf/library_backend/appctx"
)

// Re-export the shared context keys so callers don't import appctx directly.
var (
	ContextKeyUserId        = appctx.ContextKeyUserId
	ContextKeyUserName      = appctx.ContextKeyUserName
	ContextKeyIsStaff       = appctx.ContextKeyIsStaff
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
)

func GetUserIdFromContext(ctx context.Context) (int, bool) {
	return appctx.GetInt(ctx, ContextKeyUserId)
}

func GetUserNameFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyUserName)
}

func GetIsStaffFromContext(ctx context.Context) bool {
	v, ok := appctx.GetBool(ctx, ContextKeyIsStaff)
	return ok && v
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetUserIdInContext(ctx context.Context, userId int) context.Context {
	return appctx.Set(ctx, ContextKeyUserId, userId)
}

func SetUserNameInContext(ctx context.Context, userName string) context.Context {
	return appctx.Set(ctx, ContextKeyUserName, userName)
}

func SetIsStaffInContext(ctx context.Context, isStaff bool) context.Context {
	return appctx.Set(ctx, ContextKeyIsStaff, isStaff)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}
