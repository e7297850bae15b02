package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"nightwatch/internal/ledger"
	id "nightwatch/pkg/domain"
	dErrors "nightwatch/pkg/domain-errors"
	"nightwatch/pkg/platform/httputil"
	"nightwatch/pkg/requestcontext"
)

// Handler wires audit ledger endpoints to the ledger service.
type Handler struct {
	service *ledger.Service
	logger  *slog.Logger
}

// New constructs a ledger handler with its dependencies.
func New(service *ledger.Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the audit endpoints. Capability gating happens in the
// router middleware; these handlers assume an authenticated manager+.
func (h *Handler) Register(r chi.Router) {
	r.Get("/audit", h.HandleList)
	r.Get("/audit/verify", h.HandleVerify)
}

// RegisterExport mounts the full-export endpoint.
func (h *Handler) RegisterExport(r chi.Router) {
	r.Get("/audit/export", h.HandleExport)
}

// RegisterHaltClear mounts the halt-clear endpoint.
func (h *Handler) RegisterHaltClear(r chi.Router) {
	r.Post("/audit/halt/clear", h.HandleClearHalt)
}

// HandleList handles GET /audit?from&to&action&actor&limit&offset.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter := ledger.ListFilter{TenantID: requestcontext.TenantID(ctx)}

	q := r.URL.Query()
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "from must be RFC3339"))
			return
		}
		filter.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "to must be RFC3339"))
			return
		}
		filter.To = t
	}
	filter.Action = ledger.Action(q.Get("action"))
	if raw := q.Get("actor"); raw != "" {
		actorID, err := id.ParseStaffID(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "actor must be a UUID"))
			return
		}
		filter.ActorID = actorID
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	entries, err := h.service.List(ctx, filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if entries == nil {
		entries = []*ledger.Entry{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

// HandleVerify handles GET /audit/verify?from_seq=.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := requestcontext.TenantID(ctx)

	fromSeq, _ := strconv.ParseUint(r.URL.Query().Get("from_seq"), 10, 64)

	result, err := h.service.VerifyChain(ctx, tenantID, fromSeq)
	if err != nil {
		h.logger.ErrorContext(ctx, "chain verification errored",
			"request_id", requestcontext.RequestID(ctx),
			"tenant_id", tenantID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// HandleExport handles GET /audit/export?format=csv|json&from_seq&to_seq.
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := requestcontext.TenantID(ctx)

	format := ledger.ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = ledger.FormatJSON
	}
	fromSeq, _ := strconv.ParseUint(r.URL.Query().Get("from_seq"), 10, 64)
	toSeq, _ := strconv.ParseUint(r.URL.Query().Get("to_seq"), 10, 64)

	switch format {
	case ledger.FormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="audit_export.csv"`)
	case ledger.FormatJSON:
		w.Header().Set("Content-Type", "application/json")
	default:
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "format must be csv or json"))
		return
	}

	if err := h.service.Export(ctx, tenantID, fromSeq, toSeq, format, w); err != nil {
		// Headers may already be out; log and best-effort error body.
		h.logger.ErrorContext(ctx, "audit export failed",
			"request_id", requestcontext.RequestID(ctx),
			"tenant_id", tenantID,
			"error", err,
		)
	}
}

// HandleClearHalt handles POST /audit/halt/clear.
func (h *Handler) HandleClearHalt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entry, err := h.service.ClearHalt(ctx, requestcontext.TenantID(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "ledger halt cleared",
		"request_id", requestcontext.RequestID(ctx),
		"tenant_id", entry.TenantID,
		"sequence_number", entry.SequenceNumber,
	)
	httputil.WriteJSON(w, http.StatusOK, entry)
}
