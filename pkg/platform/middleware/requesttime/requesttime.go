// Package requesttime pins a single observation time per request so every
// layer that stamps timestamps agrees on "now".
package requesttime

import (
	"net/http"
	"time"

	"nightwatch/pkg/requestcontext"
)

// Middleware captures the wall-clock time at the start of the request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now().UTC())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
