// Package httptransport assembles the HTTP surface: middleware chain, route
// groups, and capability gates. Handlers live with their features; this
// package only mounts them.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	alerthandler "nightwatch/internal/alert/handler"
	ledgerhandler "nightwatch/internal/ledger/handler"
	perfhandler "nightwatch/internal/performance/handler"
	sessionhandler "nightwatch/internal/session/handler"
	id "nightwatch/pkg/domain"
	"nightwatch/pkg/platform/httputil"
	"nightwatch/pkg/platform/middleware/auth"
	"nightwatch/pkg/platform/middleware/metadata"
	"nightwatch/pkg/platform/middleware/recovery"
	"nightwatch/pkg/platform/middleware/requestid"
	"nightwatch/pkg/platform/middleware/requesttime"
)

// Deps collects everything the router mounts. Health is optional; when nil
// the health endpoint only reports liveness.
type Deps struct {
	Logger    *slog.Logger
	Validator auth.TokenValidator

	Sessions    *sessionhandler.Handler
	Alerts      *alerthandler.Handler
	Ledger      *ledgerhandler.Handler
	Performance *perfhandler.Handler

	Health func(ctx context.Context) error
}

// NewRouter wires the middleware chain and all route groups. Every
// authenticated group is gated on exactly one capability so the permission
// matrix in pkg/domain maps one-to-one onto route groups.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(recovery.Middleware(d.Logger))
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)

	r.Get("/healthz", handleHealth(d.Health))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(d.Validator, d.Logger))

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireCapability(id.CapSessionWrite, d.Logger))
			d.Sessions.Register(r)
		})
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireCapability(id.CapAlertRead, d.Logger))
			d.Alerts.Register(r)
		})
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireCapability(id.CapAlertManage, d.Logger))
			d.Alerts.RegisterManage(r)
		})
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireCapability(id.CapAuditRead, d.Logger))
			d.Ledger.Register(r)
		})
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireCapability(id.CapAuditExport, d.Logger))
			d.Ledger.RegisterExport(r)
		})
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireCapability(id.CapChainHaltClear, d.Logger))
			d.Ledger.RegisterHaltClear(r)
		})
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireCapability(id.CapPerformanceRead, d.Logger))
			d.Performance.Register(r)
		})
	})

	return r
}

func handleHealth(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "degraded",
					"error":  err.Error(),
				})
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
