package middleware

import (
	"context"
)

// Context key type to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"

	// TenantSlugKey is the context key for the tenant slug
	TenantSlugKey contextKey = "tenant_slug"

	// ActorKey is the context key for the acting user identifier
	ActorKey contextKey = "actor"
)

// GetRequestIDFromContext retrieves the request ID from context
func GetRequestIDFromContext(ctx context.Context) string {
	if val := ctx.Value(RequestIDKey); val != nil {
		if requestID, ok := val.(string); ok {
			return requestID
		}
	}
	return ""
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetTenantSlugFromContext retrieves the tenant slug from context
func GetTenantSlugFromContext(ctx context.Context) string {
	if val := ctx.Value(TenantSlugKey); val != nil {
		if slug, ok := val.(string); ok {
			return slug
		}
	}
	return ""
}

// WithTenantSlug adds a tenant slug to the context
func WithTenantSlug(ctx context.Context, slug string) context.Context {
	return context.WithValue(ctx, TenantSlugKey, slug)
}

// GetActorFromContext retrieves the acting user identifier from context
func GetActorFromContext(ctx context.Context) string {
	if val := ctx.Value(ActorKey); val != nil {
		if actor, ok := val.(string); ok {
			return actor
		}
	}
	return ""
}

// WithActor adds an acting user identifier to the context
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}
