package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stocktrace/stocktrace-backend/internal/lot/domain"
	"github.com/stocktrace/stocktrace-backend/internal/lot/events"
	"github.com/stocktrace/stocktrace-backend/pkg/actor"
	"github.com/stocktrace/stocktrace-backend/pkg/errors"
	"github.com/stocktrace/stocktrace-backend/pkg/logger"
	"github.com/stocktrace/stocktrace-backend/pkg/metrics"
)

// LotStore is the persistence surface the lot service needs. Both the
// Postgres repository and the in-memory store satisfy it.
type LotStore interface {
	Create(ctx context.Context, lot *domain.Lot, movements ...*domain.MovementRecord) error
	GetByID(ctx context.Context, id string) (*domain.Lot, error)
	GetByAnyID(ctx context.Context, identifier string) (*domain.Lot, error)
	List(ctx context.Context) ([]*domain.Lot, error)
	ListByMaterial(ctx context.Context, materialName string) ([]*domain.Lot, error)
	ListByLocations(ctx context.Context, locations []string) ([]*domain.Lot, error)
	ListExpiring(ctx context.Context, withinDays int) ([]*domain.Lot, error)
	Update(ctx context.Context, lot *domain.Lot, movements ...*domain.MovementRecord) error
	ApplySplit(ctx context.Context, source *domain.Lot, children []*domain.Lot, movements []domain.MovementRecord) error
	ApplyCountResults(ctx context.Context, updated, created []*domain.Lot, movements []domain.MovementRecord) error
	History(ctx context.Context, lotID string) ([]domain.MovementRecord, error)
	SaveConsumption(ctx context.Context, lot *domain.Lot, record *domain.ConsumptionRecord, movement *domain.MovementRecord) error
	UpdateConsumption(ctx context.Context, lot *domain.Lot, record *domain.ConsumptionRecord, movement *domain.MovementRecord) error
	GetConsumption(ctx context.Context, id string) (*domain.ConsumptionRecord, error)
	ListConsumptions(ctx context.Context, lotID string) ([]*domain.ConsumptionRecord, error)
	SetConsumptionLock(ctx context.Context, id string, locked bool) error
}

// SessionStore is the persistence surface for inventory count sessions.
type SessionStore interface {
	Create(ctx context.Context, session *domain.InventorySession) error
	GetByID(ctx context.Context, id string) (*domain.InventorySession, error)
	List(ctx context.Context) ([]*domain.InventorySession, error)
	Update(ctx context.Context, session *domain.InventorySession) error
	LockedLocations(ctx context.Context) (map[string]string, error)
}

// LotService handles the lot lifecycle business logic
type LotService struct {
	lots      LotStore
	sessions  SessionStore
	publisher *events.LotEventPublisher
	metrics   *metrics.Metrics
	logger    *logger.Logger
}

// NewLotService creates a new lot service
func NewLotService(
	lots LotStore,
	sessions SessionStore,
	publisher *events.LotEventPublisher,
	m *metrics.Metrics,
	log *logger.Logger,
) *LotService {
	return &LotService{
		lots:      lots,
		sessions:  sessions,
		publisher: publisher,
		metrics:   m,
		logger:    log,
	}
}

// CreateLotInput describes a new lot entering the system.
type CreateLotInput struct {
	Kind           domain.LotKind
	MaterialName   string
	Quantity       float64
	GrossQuantity  *float64
	Location       string
	ExpiryDate     *time.Time
	ProductionDate *time.Time
	BatchNumber    string
}

// CreateLot registers a new lot at a location. Finished goods start pending
// their label print; everything else is available immediately.
func (s *LotService) CreateLot(ctx context.Context, input CreateLotInput) (*domain.Lot, error) {
	if input.Quantity <= 0 {
		return nil, errors.BadRequest("quantity must be positive")
	}
	if input.Location == "" {
		return nil, errors.BadRequest("location is required")
	}
	switch input.Kind {
	case domain.KindRawMaterial, domain.KindFinishedGood, domain.KindPackaging:
	default:
		return nil, errors.BadRequest("unknown lot kind")
	}

	now := time.Now()
	who := actor.FromContext(ctx)
	id := domain.NewLotID()

	status := domain.StatusAvailable
	if input.Kind == domain.KindFinishedGood {
		status = domain.StatusPendingLabel
	}

	lot := &domain.Lot{
		ID:              id,
		DisplayCode:     domain.DisplayCodeFor(input.Kind, id),
		Kind:            input.Kind,
		MaterialName:    input.MaterialName,
		Quantity:        input.Quantity,
		CurrentLocation: &input.Location,
		ExpiryDate:      input.ExpiryDate,
		ProductionDate:  input.ProductionDate,
		BatchNumber:     input.BatchNumber,
		Status:          status,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if input.Kind == domain.KindFinishedGood {
		if input.GrossQuantity != nil {
			if *input.GrossQuantity < input.Quantity {
				return nil, errors.BadRequest("gross quantity cannot be below net quantity")
			}
			lot.GrossQuantity = input.GrossQuantity
		} else {
			gross := input.Quantity
			lot.GrossQuantity = &gross
		}
	}

	notes := "lot created"
	movement := &domain.MovementRecord{
		ID:             uuid.NewString(),
		LotID:          lot.ID,
		Timestamp:      now,
		Actor:          who.DisplayName(),
		TargetLocation: input.Location,
		ActionKind:     domain.ActionCreated,
		Notes:          &notes,
	}

	if err := s.lots.Create(ctx, lot, movement); err != nil {
		s.metrics.ObserveOperation("create", err)
		return nil, err
	}
	s.metrics.ObserveOperation("create", nil)

	s.logger.WithLot(lot.ID).Info().
		Str("material", lot.MaterialName).
		Str("location", input.Location).
		Float64("quantity", lot.Quantity).
		Msg("lot created")
	s.publisher.PublishLotCreated(ctx, lot)

	return lot, nil
}

// GetLot gets a lot by id or display code, with its derived block state
// available via BlockState.
func (s *LotService) GetLot(ctx context.Context, identifier string) (*domain.Lot, error) {
	return s.lots.GetByAnyID(ctx, identifier)
}

// GetLotWithHistory gets a lot and loads its movement history.
func (s *LotService) GetLotWithHistory(ctx context.Context, identifier string) (*domain.Lot, error) {
	lot, err := s.lots.GetByAnyID(ctx, identifier)
	if err != nil {
		return nil, err
	}
	history, err := s.lots.History(ctx, lot.ID)
	if err != nil {
		return nil, err
	}
	lot.History = history
	return lot, nil
}

// ListLots lists all lots.
func (s *LotService) ListLots(ctx context.Context) ([]*domain.Lot, error) {
	return s.lots.List(ctx)
}

// ListByMaterial lists lots of a material.
func (s *LotService) ListByMaterial(ctx context.Context, materialName string) ([]*domain.Lot, error) {
	return s.lots.ListByMaterial(ctx, materialName)
}

// ListExpiring lists located lots expiring within the given number of days.
func (s *LotService) ListExpiring(ctx context.Context, withinDays int) ([]*domain.Lot, error) {
	if withinDays < 0 {
		return nil, errors.BadRequest("days must not be negative")
	}
	return s.lots.ListExpiring(ctx, withinDays)
}

// BlockState returns the derived availability of a lot as of now.
func (s *LotService) BlockState(ctx context.Context, identifier string) (*domain.Lot, domain.BlockState, error) {
	lot, err := s.lots.GetByAnyID(ctx, identifier)
	if err != nil {
		return nil, domain.BlockState{}, err
	}
	return lot, domain.EvaluateBlock(lot), nil
}

// ListConsumptions lists a lot's consumption records.
func (s *LotService) ListConsumptions(ctx context.Context, identifier string) ([]*domain.ConsumptionRecord, error) {
	lot, err := s.lots.GetByAnyID(ctx, identifier)
	if err != nil {
		return nil, err
	}
	return s.lots.ListConsumptions(ctx, lot.ID)
}

// AncillaryKind selects which ancillary record list to append to.
type AncillaryKind string

const (
	AncillaryLabNote        AncillaryKind = "lab_note"
	AncillaryDocument       AncillaryKind = "document"
	AncillaryAnalysisResult AncillaryKind = "analysis_result"
)

// AppendAncillary appends a lab note, document reference or analysis result
// to a lot. Ancillary records are append-only and never rewritten.
func (s *LotService) AppendAncillary(ctx context.Context, identifier string, kind AncillaryKind, entry string) (*domain.Lot, error) {
	if entry == "" {
		return nil, errors.BadRequest("entry must not be empty")
	}
	lot, err := s.lots.GetByAnyID(ctx, identifier)
	if err != nil {
		return nil, err
	}
	switch kind {
	case AncillaryLabNote:
		lot.LabNotes = append(lot.LabNotes, entry)
	case AncillaryDocument:
		lot.Documents = append(lot.Documents, entry)
	case AncillaryAnalysisResult:
		lot.AnalysisResults = append(lot.AnalysisResults, entry)
	default:
		return nil, errors.BadRequest("unknown ancillary kind")
	}
	if err := s.lots.Update(ctx, lot); err != nil {
		return nil, err
	}
	return lot, nil
}

// lockedLocation reports whether a location is locked by an ongoing count
// session. An empty location is never locked.
func (s *LotService) lockedLocation(ctx context.Context, location string) (bool, error) {
	if location == "" || s.sessions == nil {
		return false, nil
	}
	locked, err := s.sessions.LockedLocations(ctx)
	if err != nil {
		return false, err
	}
	_, ok := locked[location]
	return ok, nil
}
