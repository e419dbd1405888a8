package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/dreamsuncharted/funding-backend/internal/funding"
	"github.com/dreamsuncharted/funding-backend/pkg/enums"
)

type contextKey string

const (
	ctxUserID contextKey = "user_id"
	ctxRole   contextKey = "actor_role"
)

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxUserID).(string); ok {
		return v
	}
	return ""
}

func RoleFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(string); ok {
		return v
	}
	return ""
}

// ActorFromContext assembles the funding actor from the request context.
// Returns false when the request carries no authenticated user.
func ActorFromContext(ctx context.Context) (funding.Actor, bool) {
	raw := UserIDFromContext(ctx)
	if raw == "" {
		return funding.Actor{}, false
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return funding.Actor{}, false
	}
	return funding.Actor{
		UserID: userID,
		Role:   enums.MemberRole(RoleFromContext(ctx)),
	}, true
}

// WithUserID injects the user identifier into the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxUserID, userID)
}

// WithRole injects the actor role into the context.
func WithRole(ctx context.Context, role string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxRole, role)
}
