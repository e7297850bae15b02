// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values.
//
// Middleware sets these values; services consume them. Keeping the package
// free of net/http lets services import only what they need.
//
// Usage in services (read values):
//
//	tenantID := requestcontext.TenantID(ctx)
//	actorID := requestcontext.ActorID(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
//	ctx = requestcontext.WithActor(ctx, staffID, domain.RoleManager)
package requestcontext

import (
	"context"
	"time"

	id "nightwatch/pkg/domain"
)

type (
	tenantIDKey    struct{}
	actorIDKey     struct{}
	actorRoleKey   struct{}
	clientIPKey    struct{}
	actorDeviceKey struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// TenantID retrieves the authenticated tenant scope from the context.
// Returns the zero value if not set.
func TenantID(ctx context.Context) id.TenantID {
	if v, ok := ctx.Value(tenantIDKey{}).(id.TenantID); ok {
		return v
	}
	return id.TenantID{}
}

// WithTenantID injects a tenant id into the context.
func WithTenantID(ctx context.Context, tenantID id.TenantID) context.Context {
	return context.WithValue(ctx, tenantIDKey{}, tenantID)
}

// ActorID retrieves the authenticated staff member id from the context.
func ActorID(ctx context.Context) id.StaffID {
	if v, ok := ctx.Value(actorIDKey{}).(id.StaffID); ok {
		return v
	}
	return id.StaffID{}
}

// ActorRole retrieves the authenticated staff role from the context.
func ActorRole(ctx context.Context) id.Role {
	if v, ok := ctx.Value(actorRoleKey{}).(id.Role); ok {
		return v
	}
	return ""
}

// WithActor injects an actor id and role into the context.
func WithActor(ctx context.Context, actorID id.StaffID, role id.Role) context.Context {
	ctx = context.WithValue(ctx, actorIDKey{}, actorID)
	return context.WithValue(ctx, actorRoleKey{}, role)
}

// ClientIP retrieves the client IP address from the context.
func ClientIP(ctx context.Context) string {
	if v, ok := ctx.Value(clientIPKey{}).(string); ok {
		return v
	}
	return ""
}

// ActorDevice retrieves the condensed device summary ("Firefox on Linux")
// from the context.
func ActorDevice(ctx context.Context) string {
	if v, ok := ctx.Value(actorDeviceKey{}).(string); ok {
		return v
	}
	return ""
}

// WithClientMetadata injects client IP and device summary into a context.
// Useful for service unit tests that don't run the full middleware chain.
func WithClientMetadata(ctx context.Context, clientIP, device string) context.Context {
	ctx = context.WithValue(ctx, clientIPKey{}, clientIP)
	return context.WithValue(ctx, actorDeviceKey{}, device)
}

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// Now retrieves the request-scoped time from context. Falls back to
// time.Now() for non-HTTP contexts (workers, CLI, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context. Useful for service unit
// tests and for workers that need a consistent time within one batch.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey{}, t)
}
