package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/stocktrace/stocktrace-backend/internal/lot/domain"
	"github.com/stocktrace/stocktrace-backend/internal/lot/service"
	"github.com/stocktrace/stocktrace-backend/pkg/httputil"
	"github.com/stocktrace/stocktrace-backend/pkg/logger"
)

// SessionHandler handles inventory count session endpoints
type SessionHandler struct {
	service *service.SessionService
	logger  *logger.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(svc *service.SessionService, log *logger.Logger) *SessionHandler {
	return &SessionHandler{
		service: svc,
		logger:  log,
	}
}

// CreateSessionRequest is the payload for opening a count session
type CreateSessionRequest struct {
	Name      string   `json:"name" validate:"required"`
	Locations []string `json:"locations" validate:"required,min=1,dive,required"`
}

// ScanRequest is the payload for recording a counted pallet
type ScanRequest struct {
	LotID           string  `json:"lot_id" validate:"required"`
	CountedQuantity float64 `json:"counted_quantity" validate:"gte=0"`
	MaterialName    string  `json:"material_name"`
	Force           bool    `json:"force"`
}

// ScanStatusRequest is the payload for flipping a location's scan status
type ScanStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending scanned"`
}

// Create opens a count session over a set of locations
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	session, err := h.service.CreateSession(r.Context(), req.Name, req.Locations)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, session)
}

// List lists count sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.service.ListSessions(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, sessions)
}

// Get gets a session by id
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	session, err := h.service.GetSession(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, session)
}

// Scan records a counted pallet at a location
func (h *SessionHandler) Scan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	locationID := chi.URLParam(r, "locationId")

	var req ScanRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	session, err := h.service.RecordScan(r.Context(), id, locationID, req.LotID, req.CountedQuantity, req.MaterialName, req.Force)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, session)
}

// SetScanStatus flips a location between pending and scanned
func (h *SessionHandler) SetScanStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	locationID := chi.URLParam(r, "locationId")

	var req ScanStatusRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	session, err := h.service.SetLocationScanStatus(r.Context(), id, locationID, domain.ScanStatus(req.Status))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, session)
}

// Reconciliation classifies scans against the frozen snapshot
func (h *SessionHandler) Reconciliation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	report, err := h.service.Reconcile(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, report)
}

// ResolveMissing confirms a missing lot
func (h *SessionHandler) ResolveMissing(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	lotID := chi.URLParam(r, "lotId")

	session, err := h.service.ResolveMissing(r.Context(), id, lotID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, session)
}

// ResolveAccept accepts the counted state for a discrepant lot
func (h *SessionHandler) ResolveAccept(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	lotID := chi.URLParam(r, "lotId")

	session, err := h.service.ResolveAcceptNewState(r.Context(), id, lotID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, session)
}

// Finalize commits the counted state and completes the session
func (h *SessionHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	session, err := h.service.Finalize(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, session)
}

// Cancel discards the session without touching the lot store
func (h *SessionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	session, err := h.service.Cancel(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, session)
}
