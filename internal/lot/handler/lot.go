package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stocktrace/stocktrace-backend/internal/lot/domain"
	"github.com/stocktrace/stocktrace-backend/internal/lot/service"
	"github.com/stocktrace/stocktrace-backend/pkg/errors"
	"github.com/stocktrace/stocktrace-backend/pkg/httputil"
	"github.com/stocktrace/stocktrace-backend/pkg/logger"
)

// LotHandler handles lot lifecycle endpoints
type LotHandler struct {
	service *service.LotService
	logger  *logger.Logger
}

// NewLotHandler creates a new lot handler
func NewLotHandler(svc *service.LotService, log *logger.Logger) *LotHandler {
	return &LotHandler{
		service: svc,
		logger:  log,
	}
}

// CreateLotRequest is the payload for registering a new lot
type CreateLotRequest struct {
	Kind           string   `json:"kind" validate:"required,oneof=raw_material finished_good packaging"`
	MaterialName   string   `json:"material_name" validate:"required"`
	Quantity       float64  `json:"quantity" validate:"required,gt=0"`
	GrossQuantity  *float64 `json:"gross_quantity,omitempty"`
	Location       string   `json:"location" validate:"required"`
	ExpiryDate     *string  `json:"expiry_date,omitempty"`
	ProductionDate *string  `json:"production_date,omitempty"`
	BatchNumber    string   `json:"batch_number"`
}

// MoveRequest is the payload for relocating a lot
type MoveRequest struct {
	TargetLocation string `json:"target_location" validate:"required"`
	Notes          string `json:"notes"`
}

// BlockRequest is the payload for manually blocking a lot
type BlockRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// UnblockRequest is the payload for clearing a manual block
type UnblockRequest struct {
	NewExpiryDate *string `json:"new_expiry_date,omitempty"`
}

// SplitRequest is the payload for splitting a lot
type SplitRequest struct {
	Quantities []float64 `json:"quantities" validate:"required,min=1"`
}

// ConsumeRequest is the payload for consuming stock from a lot
type ConsumeRequest struct {
	Amount  float64 `json:"amount" validate:"required,gt=0"`
	Context string  `json:"context" validate:"required"`
}

// AnnulRequest is the payload for reverting a consumption
type AnnulRequest struct {
	RestoreLocation *string `json:"restore_location,omitempty"`
}

// ConsumptionLockRequest is the payload for finalizing or reopening a
// consumption step
type ConsumptionLockRequest struct {
	Locked bool `json:"locked"`
}

// RestoreRequest is the payload for restoring an archived lot
type RestoreRequest struct {
	Location string `json:"location"`
}

// AncillaryRequest is the payload for appending an ancillary record
type AncillaryRequest struct {
	Kind  string `json:"kind" validate:"required,oneof=lab_note document analysis_result"`
	Entry string `json:"entry" validate:"required"`
}

// AllocationRequest is the payload for planning a material withdrawal
type AllocationRequest struct {
	MaterialName string   `json:"material_name" validate:"required"`
	Needed       float64  `json:"needed" validate:"required,gt=0"`
	Reserved     []string `json:"reserved,omitempty"`
}

// lotResponse decorates a lot with its derived block state.
type lotResponse struct {
	*domain.Lot
	BlockState domain.BlockState `json:"block_state"`
}

func toLotResponse(lot *domain.Lot) *lotResponse {
	return &lotResponse{Lot: lot, BlockState: domain.EvaluateBlock(lot)}
}

func toLotResponses(lots []*domain.Lot) []*lotResponse {
	out := make([]*lotResponse, len(lots))
	for i, lot := range lots {
		out[i] = toLotResponse(lot)
	}
	return out
}

func parseDate(value *string) (*time.Time, error) {
	if value == nil || *value == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation("2006-01-02", *value, time.Local)
	if err != nil {
		return nil, errors.BadRequest("invalid date, expected YYYY-MM-DD")
	}
	return &t, nil
}

// Create registers a new lot
func (h *LotHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateLotRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	expiry, err := parseDate(req.ExpiryDate)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	production, err := parseDate(req.ProductionDate)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	lot, err := h.service.CreateLot(r.Context(), service.CreateLotInput{
		Kind:           domain.LotKind(req.Kind),
		MaterialName:   req.MaterialName,
		Quantity:       req.Quantity,
		GrossQuantity:  req.GrossQuantity,
		Location:       req.Location,
		ExpiryDate:     expiry,
		ProductionDate: production,
		BatchNumber:    req.BatchNumber,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, toLotResponse(lot))
}

// List lists lots
func (h *LotHandler) List(w http.ResponseWriter, r *http.Request) {
	material := r.URL.Query().Get("material")

	var lots []*domain.Lot
	var err error
	if material != "" {
		lots, err = h.service.ListByMaterial(r.Context(), material)
	} else {
		lots, err = h.service.ListLots(r.Context())
	}
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, toLotResponses(lots))
}

// ListExpiring lists lots expiring within ?days= (default 30)
func (h *LotHandler) ListExpiring(w http.ResponseWriter, r *http.Request) {
	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httputil.Error(w, errors.BadRequest("days must be an integer"))
			return
		}
		days = parsed
	}

	lots, err := h.service.ListExpiring(r.Context(), days)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, toLotResponses(lots))
}

// Get gets a lot by id or display code, including its movement history
func (h *LotHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	lot, err := h.service.GetLotWithHistory(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, toLotResponse(lot))
}

// History returns a lot's movement history
func (h *LotHandler) History(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	lot, err := h.service.GetLotWithHistory(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lot.History)
}

// Move relocates a lot
func (h *LotHandler) Move(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req MoveRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	lot, err := h.service.Move(r.Context(), id, req.TargetLocation, req.Notes)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, toLotResponse(lot))
}

// Block sets the manual block flag
func (h *LotHandler) Block(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req BlockRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	lot, err := h.service.Block(r.Context(), id, req.Reason)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, toLotResponse(lot))
}

// Unblock clears the manual block flag
func (h *LotHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UnblockRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	expiry, err := parseDate(req.NewExpiryDate)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	lot, state, err := h.service.Unblock(r.Context(), id, expiry)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, &lotResponse{Lot: lot, BlockState: state})
}

// Split splits a lot into new lots
func (h *LotHandler) Split(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req SplitRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	outcome, err := h.service.Split(r.Context(), id, req.Quantities)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]interface{}{
		"source":          toLotResponse(outcome.Source),
		"new_lots":        toLotResponses(outcome.NewLots),
		"source_consumed": outcome.SourceConsumed,
	})
}

// Consume deducts stock from a lot
func (h *LotHandler) Consume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ConsumeRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	outcome, err := h.service.Consume(r.Context(), id, req.Amount, req.Context)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]interface{}{
		"lot":         toLotResponse(outcome.Lot),
		"consumption": outcome.Record,
	})
}

// ListConsumptions lists a lot's consumption records
func (h *LotHandler) ListConsumptions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	records, err := h.service.ListConsumptions(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, records)
}

// Annul reverts a consumption
func (h *LotHandler) Annul(w http.ResponseWriter, r *http.Request) {
	consumptionID := chi.URLParam(r, "consumptionId")

	var req AnnulRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	lot, err := h.service.AnnulConsumption(r.Context(), consumptionID, req.RestoreLocation)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, toLotResponse(lot))
}

// SetConsumptionLock finalizes or reopens a consumption step on behalf of
// the owning production workflow
func (h *LotHandler) SetConsumptionLock(w http.ResponseWriter, r *http.Request) {
	consumptionID := chi.URLParam(r, "consumptionId")

	var req ConsumptionLockRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	record, err := h.service.SetConsumptionLock(r.Context(), consumptionID, req.Locked)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, record)
}

// Archive moves a lot to the archive
func (h *LotHandler) Archive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	lot, err := h.service.Archive(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, toLotResponse(lot))
}

// Restore brings an archived lot back to the floor
func (h *LotHandler) Restore(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req RestoreRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	lot, err := h.service.Restore(r.Context(), id, req.Location)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, toLotResponse(lot))
}

// AppendAncillary appends a lab note, document or analysis result
func (h *LotHandler) AppendAncillary(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req AncillaryRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	lot, err := h.service.AppendAncillary(r.Context(), id, service.AncillaryKind(req.Kind), req.Entry)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, toLotResponse(lot))
}

// SuggestAllocation plans lots to consume for a material need
func (h *LotHandler) SuggestAllocation(w http.ResponseWriter, r *http.Request) {
	var req AllocationRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	suggestions, err := h.service.SuggestAllocation(r.Context(), req.MaterialName, req.Needed, req.Reserved)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	covered := 0.0
	for _, s := range suggestions {
		covered += s.Quantity
	}
	shortfall := req.Needed - covered
	if shortfall < 0 {
		shortfall = 0
	}
	httputil.JSON(w, http.StatusOK, map[string]interface{}{
		"suggestions": suggestions,
		"covered":     covered,
		"shortfall":   shortfall,
	})
}
