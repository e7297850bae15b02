package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"nightwatch/internal/performance"
	id "nightwatch/pkg/domain"
	dErrors "nightwatch/pkg/domain-errors"
	"nightwatch/pkg/platform/httputil"
)

// Handler wires the performance report endpoint to the service.
type Handler struct {
	service *performance.Service
	logger  *slog.Logger
}

// New constructs a performance handler with its dependencies.
func New(service *performance.Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the performance endpoint, managers and above.
func (h *Handler) Register(r chi.Router) {
	r.Get("/employees/{id}/performance", h.HandleReport)
}

// HandleReport handles GET /employees/{id}/performance?window=.
// The window accepts Go duration syntax plus a day shorthand ("30d").
func (h *Handler) HandleReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	staffID, err := id.ParseStaffID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "employee id must be a UUID"))
		return
	}

	var window time.Duration
	if raw := r.URL.Query().Get("window"); raw != "" {
		window, err = parseWindow(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "window must be a duration such as 72h or 30d"))
			return
		}
	}

	report, err := h.service.Report(ctx, staffID, window)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

func parseWindow(raw string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(raw, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, dErrors.New(dErrors.CodeBadRequest, "invalid day window")
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, dErrors.New(dErrors.CodeBadRequest, "invalid window")
	}
	return d, nil
}
