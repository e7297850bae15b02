// Package auth gates routes on a bearer token and on the capability matrix.
package auth

import (
	"log/slog"
	"net/http"
	"strings"

	id "nightwatch/pkg/domain"
	dErrors "nightwatch/pkg/domain-errors"
	"nightwatch/pkg/platform/httputil"
	"nightwatch/pkg/requestcontext"
)

// Identity is the authenticated principal extracted from a token.
type Identity struct {
	TenantID id.TenantID
	StaffID  id.StaffID
	Role     id.Role
}

// TokenValidator validates a bearer token and returns the identity it
// carries.
type TokenValidator interface {
	ValidateToken(tokenString string) (Identity, error)
}

// RequireAuth rejects requests without a valid bearer token and populates
// the context with the authenticated tenant and actor.
func RequireAuth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			const bearerPrefix = "Bearer "
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), bearerPrefix)
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing or invalid Authorization header"))
				return
			}

			identity, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid or expired token"))
				return
			}

			ctx = requestcontext.WithTenantID(ctx, identity.TenantID)
			ctx = requestcontext.WithActor(ctx, identity.StaffID, identity.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireCapability rejects requests whose authenticated role does not hold
// the capability. It must be mounted inside RequireAuth.
func RequireCapability(cap id.Capability, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			role := requestcontext.ActorRole(ctx)
			if !role.Can(cap) {
				logger.WarnContext(ctx, "forbidden access",
					"role", role,
					"capability", cap,
					"actor_id", requestcontext.ActorID(ctx),
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.Newf(dErrors.CodeForbidden, "role %q lacks capability %q", role, cap))
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
