// Package recovery converts handler panics into 500 responses so a single
// bad request cannot take the listener down.
package recovery

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	dErrors "nightwatch/pkg/domain-errors"
	"nightwatch/pkg/platform/httputil"
	"nightwatch/pkg/requestcontext"
)

// Middleware recovers panics, logs them with the request id, and answers
// with a generic internal error. http.ErrAbortHandler is re-raised so the
// server's own abort path keeps working.
func Middleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				ctx := r.Context()
				logger.ErrorContext(ctx, "handler panicked",
					"request_id", requestcontext.RequestID(ctx),
					"method", r.Method,
					"path", r.URL.Path,
					"panic", rec,
					"stack", string(debug.Stack()),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "internal server error"))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
