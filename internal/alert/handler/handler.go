package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"nightwatch/internal/alert"
	id "nightwatch/pkg/domain"
	dErrors "nightwatch/pkg/domain-errors"
	"nightwatch/pkg/platform/httputil"
	"nightwatch/pkg/requestcontext"
)

// Handler wires alert endpoints to the alert service.
type Handler struct {
	service *alert.Service
	logger  *slog.Logger
}

// New constructs an alert handler with its dependencies.
func New(service *alert.Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the read endpoints, available to VIP hosts and above.
func (h *Handler) Register(r chi.Router) {
	r.Get("/alerts", h.HandleList)
	r.Get("/alerts/{id}", h.HandleGet)
}

// RegisterManage mounts the lifecycle endpoints, managers and above.
func (h *Handler) RegisterManage(r chi.Router) {
	r.Post("/alerts/{id}/investigate", h.HandleInvestigate)
	r.Post("/alerts/{id}/resolve", h.HandleResolve)
	r.Post("/alerts/{id}/dismiss", h.HandleDismiss)
}

// HandleList handles GET /alerts?status&severity&type&limit&offset.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	filter := alert.ListFilter{
		TenantID: requestcontext.TenantID(ctx),
		Status:   alert.Status(q.Get("status")),
		Severity: alert.Severity(q.Get("severity")),
		Type:     alert.Type(q.Get("type")),
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	alerts, err := h.service.List(ctx, filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

// HandleGet handles GET /alerts/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	alertID, ok := h.alertID(w, r)
	if !ok {
		return
	}
	a, err := h.service.Get(ctx, alertID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, a)
}

// HandleInvestigate handles POST /alerts/{id}/investigate.
func (h *Handler) HandleInvestigate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	alertID, ok := h.alertID(w, r)
	if !ok {
		return
	}
	a, err := h.service.Investigate(ctx, alertID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, a)
}

type resolveRequest struct {
	Resolution string `json:"resolution"`
}

func (r *resolveRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.Resolution == "" {
		return dErrors.New(dErrors.CodeValidation, "resolution is required")
	}
	return nil
}

// HandleResolve handles POST /alerts/{id}/resolve.
func (h *Handler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	alertID, ok := h.alertID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[*resolveRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	a, err := h.service.Resolve(ctx, alertID, req.Resolution)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, a)
}

type dismissRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (r *dismissRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	return nil
}

// HandleDismiss handles POST /alerts/{id}/dismiss.
func (h *Handler) HandleDismiss(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	alertID, ok := h.alertID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[*dismissRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	a, err := h.service.Dismiss(ctx, alertID, req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, a)
}

func (h *Handler) alertID(w http.ResponseWriter, r *http.Request) (id.AlertID, bool) {
	alertID, err := id.ParseAlertID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "alert id must be a UUID"))
		return id.AlertID{}, false
	}
	return alertID, true
}
