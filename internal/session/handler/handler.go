package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"nightwatch/internal/session"
	id "nightwatch/pkg/domain"
	dErrors "nightwatch/pkg/domain-errors"
	"nightwatch/pkg/platform/httputil"
	"nightwatch/pkg/requestcontext"
)

// Handler wires session lifecycle endpoints to the session service.
type Handler struct {
	service *session.Service
	logger  *slog.Logger
}

// New constructs a session handler with its dependencies.
func New(service *session.Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the session endpoints. All session operations are
// available to door staff and above; the router's auth middleware has
// already gated on capability.
func (h *Handler) Register(r chi.Router) {
	r.Post("/sessions", h.HandleStart)
	r.Get("/sessions/{id}", h.HandleGet)
	r.Patch("/sessions/{id}/count", h.HandleUpdateCount)
	r.Post("/sessions/{id}/close", h.HandleClose)
	r.Post("/sessions/{id}/confirm", h.HandleConfirm)
}

type startRequest struct {
	BoothID  string `json:"booth_id"`
	DancerID string `json:"dancer_id"`

	boothID  id.BoothID
	dancerID id.DancerID
}

func (r *startRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	var err error
	if r.boothID, err = id.ParseBoothID(r.BoothID); err != nil {
		return dErrors.New(dErrors.CodeValidation, "booth_id must be a UUID")
	}
	if r.dancerID, err = id.ParseDancerID(r.DancerID); err != nil {
		return dErrors.New(dErrors.CodeValidation, "dancer_id must be a UUID")
	}
	return nil
}

// HandleStart handles POST /sessions.
func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[*startRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	sess, err := h.service.Start(ctx, req.boothID, req.dancerID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, sess)
}

// HandleGet handles GET /sessions/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	sess, err := h.service.Get(ctx, sessionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sess)
}

type updateCountRequest struct {
	Count *int `json:"count"`
}

func (r *updateCountRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.Count == nil {
		return dErrors.New(dErrors.CodeValidation, "count is required")
	}
	if *r.Count < 0 {
		return dErrors.New(dErrors.CodeValidation, "count cannot be negative")
	}
	return nil
}

// HandleUpdateCount handles PATCH /sessions/{id}/count.
func (h *Handler) HandleUpdateCount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[*updateCountRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	sess, err := h.service.UpdateManualCount(ctx, sessionID, *req.Count)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sess)
}

type closeRequest struct {
	ManualCount *int `json:"manual_count"`
	DJSyncCount *int `json:"dj_sync_count,omitempty"`
}

func (r *closeRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.ManualCount == nil {
		return dErrors.New(dErrors.CodeValidation, "manual_count is required")
	}
	if *r.ManualCount < 0 {
		return dErrors.New(dErrors.CodeValidation, "manual_count cannot be negative")
	}
	if r.DJSyncCount != nil && *r.DJSyncCount < 0 {
		return dErrors.New(dErrors.CodeValidation, "dj_sync_count cannot be negative")
	}
	return nil
}

// closeResponse carries the session plus the reconciliation summary the
// door staff sees before asking the customer to confirm.
type closeResponse struct {
	Session        *session.VipSession `json:"session"`
	Reconciliation reconciliationView  `json:"reconciliation"`
}

type reconciliationView struct {
	ManualCount int    `json:"manual_count"`
	DJSyncCount *int   `json:"dj_sync_count,omitempty"`
	ByTimeCount int    `json:"by_time_count"`
	Variance    int    `json:"variance"`
	Severity    string `json:"severity"`
	Flagged     bool   `json:"flagged"`
}

// HandleClose handles POST /sessions/{id}/close.
func (h *Handler) HandleClose(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[*closeRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	sess, err := h.service.Close(ctx, sessionID, *req.ManualCount, req.DJSyncCount)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, closeResponse{
		Session: sess,
		Reconciliation: reconciliationView{
			ManualCount: sess.ManualCount,
			DJSyncCount: sess.DJSyncCount,
			ByTimeCount: *sess.ByTimeCount,
			Variance:    *sess.Variance,
			Severity:    string(*sess.Severity),
			Flagged:     sess.Flagged,
		},
	})
}

type confirmRequest struct {
	Confirmed *bool  `json:"confirmed"`
	Reason    string `json:"reason,omitempty"`
}

func (r *confirmRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.Confirmed == nil {
		return dErrors.New(dErrors.CodeValidation, "confirmed is required")
	}
	return nil
}

// HandleConfirm handles POST /sessions/{id}/confirm.
func (h *Handler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[*confirmRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	sess, err := h.service.Confirm(ctx, sessionID, *req.Confirmed, req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sess)
}

func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) (id.SessionID, bool) {
	sessionID, err := id.ParseSessionID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "session id must be a UUID"))
		return id.SessionID{}, false
	}
	return sessionID, true
}
