package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stocktrace/stocktrace-backend/internal/lot/domain"
	"github.com/stocktrace/stocktrace-backend/internal/lot/events"
	"github.com/stocktrace/stocktrace-backend/pkg/actor"
	"github.com/stocktrace/stocktrace-backend/pkg/errors"
	"github.com/stocktrace/stocktrace-backend/pkg/logger"
	"github.com/stocktrace/stocktrace-backend/pkg/metrics"
)

// SessionService handles inventory count sessions: scanning, reconciliation,
// discrepancy resolution and the final commit of counted state.
type SessionService struct {
	lots      LotStore
	sessions  SessionStore
	publisher *events.LotEventPublisher
	metrics   *metrics.Metrics
	logger    *logger.Logger
}

// NewSessionService creates a new session service
func NewSessionService(
	lots LotStore,
	sessions SessionStore,
	publisher *events.LotEventPublisher,
	m *metrics.Metrics,
	log *logger.Logger,
) *SessionService {
	return &SessionService{
		lots:      lots,
		sessions:  sessions,
		publisher: publisher,
		metrics:   m,
		logger:    log,
	}
}

// CreateSession opens a count session over the given locations, freezing a
// snapshot of the lots currently sitting there. A location already locked by
// another ongoing session cannot be included.
func (s *SessionService) CreateSession(ctx context.Context, name string, locations []string) (*domain.InventorySession, error) {
	if name == "" {
		return nil, errors.BadRequest("session name is required")
	}
	if len(locations) == 0 {
		return nil, errors.BadRequest("at least one location is required")
	}

	locked, err := s.sessions.LockedLocations(ctx)
	if err != nil {
		return nil, err
	}
	for _, loc := range locations {
		if sessionID, ok := locked[loc]; ok {
			return nil, errors.Conflict(fmt.Sprintf("location %s is already locked by session %s", loc, sessionID))
		}
	}

	lots, err := s.lots.ListByLocations(ctx, locations)
	if err != nil {
		return nil, err
	}

	who := actor.FromContext(ctx)
	session := domain.NewInventorySession(name, who.DisplayName(), locations, lots, time.Now())
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	s.logger.WithSession(session.ID).Info().
		Strs("locations", session.LocationIDs()).
		Int("snapshot_lots", len(session.Snapshot)).
		Msg("inventory session created")
	s.publisher.PublishSessionCreated(ctx, session)

	return session, nil
}

// GetSession gets a session by id.
func (s *SessionService) GetSession(ctx context.Context, id string) (*domain.InventorySession, error) {
	return s.sessions.GetByID(ctx, id)
}

// ListSessions lists sessions, newest first.
func (s *SessionService) ListSessions(ctx context.Context) ([]*domain.InventorySession, error) {
	return s.sessions.List(ctx)
}

// RecordScan records a counted pallet at a session location. force overwrites
// an earlier differing count of the same lot.
func (s *SessionService) RecordScan(ctx context.Context, sessionID, locationID, lotID string, counted float64, materialName string, force bool) (*domain.InventorySession, error) {
	if lotID == "" {
		return nil, errors.BadRequest("lot id is required")
	}
	if counted < 0 {
		return nil, errors.BadRequest("counted quantity must not be negative")
	}

	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	who := actor.FromContext(ctx)
	scan := domain.ScannedPallet{
		LotID:           lotID,
		CountedQuantity: counted,
		MaterialName:    materialName,
		ScannedAt:       time.Now(),
		ScannedBy:       who.DisplayName(),
	}
	if err := session.RecordScan(locationID, scan, force); err != nil {
		return nil, err
	}
	if err := s.sessions.Update(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// SetLocationScanStatus flips a location between pending and scanned.
func (s *SessionService) SetLocationScanStatus(ctx context.Context, sessionID, locationID string, status domain.ScanStatus) (*domain.InventorySession, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := session.SetLocationScanStatus(locationID, status, time.Now()); err != nil {
		return nil, err
	}
	if err := s.sessions.Update(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Reconcile classifies the session's scans against its frozen snapshot. It
// is a pure read: running it never mutates lots or the session, so operators
// can re-run it after every resolution. Cancelled sessions have nothing left
// to reconcile.
func (s *SessionService) Reconcile(ctx context.Context, sessionID string) (*domain.ReconciliationReport, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.reconcile(ctx, session)
}

func (s *SessionService) reconcile(ctx context.Context, session *domain.InventorySession) (*domain.ReconciliationReport, error) {
	if session.Status == domain.SessionCancelled {
		return nil, errors.Conflict("session is cancelled")
	}
	report := domain.Reconcile(session, func(lotID string) (*domain.Lot, bool) {
		lot, err := s.lots.GetByID(ctx, lotID)
		if err != nil {
			return nil, false
		}
		return lot, true
	})
	for _, d := range report.Discrepancies {
		s.metrics.ObserveFinding(string(d.Type))
	}
	return report, nil
}

// ResolveMissing stages a confirm-missing resolution: at finalize the lot's
// quantity goes to zero and it moves to the missing location.
func (s *SessionService) ResolveMissing(ctx context.Context, sessionID, lotID string) (*domain.InventorySession, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsOngoing() {
		return nil, errors.Conflict("session is not ongoing")
	}

	report, err := s.reconcile(ctx, session)
	if err != nil {
		return nil, err
	}
	discrepancy := report.Discrepancy(lotID)
	if discrepancy == nil {
		return nil, errors.BadRequest("lot has no discrepancy in this session")
	}
	if discrepancy.Type != domain.DiscrepancyMissing {
		return nil, errors.BadRequest("discrepancy is not of type missing")
	}

	who := actor.FromContext(ctx)
	zero := 0.0
	missing := domain.LocationMissing
	session.Resolve(domain.ResolvedDiscrepancy{
		LotID:       lotID,
		Kind:        domain.ResolutionMissing,
		NewQuantity: &zero,
		NewLocation: &missing,
		ResolvedBy:  who.DisplayName(),
		ResolvedAt:  time.Now(),
	})
	if err := s.sessions.Update(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// ResolveAcceptNewState stages an accept resolution: at finalize the counted
// quantity and found location become the lot's new truth. For unexpected
// stock with an unknown lot id, a new lot is created at finalize.
func (s *SessionService) ResolveAcceptNewState(ctx context.Context, sessionID, lotID string) (*domain.InventorySession, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsOngoing() {
		return nil, errors.Conflict("session is not ongoing")
	}

	report, err := s.reconcile(ctx, session)
	if err != nil {
		return nil, err
	}
	discrepancy := report.Discrepancy(lotID)
	if discrepancy == nil {
		return nil, errors.BadRequest("lot has no discrepancy in this session")
	}
	if discrepancy.Type == domain.DiscrepancyMissing {
		return nil, errors.BadRequest("a missing lot can only be confirmed missing")
	}

	who := actor.FromContext(ctx)
	counted := discrepancy.CountedQuantity
	location := discrepancy.LocationID
	session.Resolve(domain.ResolvedDiscrepancy{
		LotID:        lotID,
		Kind:         domain.ResolutionNewState,
		NewQuantity:  &counted,
		NewLocation:  &location,
		MaterialName: discrepancy.MaterialName,
		ResolvedBy:   who.DisplayName(),
		ResolvedAt:   time.Now(),
	})
	if err := s.sessions.Update(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Finalize commits the counted state. Every discrepancy must carry a staged
// resolution; the lot corrections, lots created for unexpected stock and the
// audit movements land in one atomic store commit, then the session
// completes and its location locks lift. This is the only path by which a
// count session ever mutates the lot store.
func (s *SessionService) Finalize(ctx context.Context, sessionID string) (*domain.InventorySession, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsOngoing() {
		return nil, errors.Conflict(fmt.Sprintf("session is already %s", session.Status))
	}

	report, err := s.reconcile(ctx, session)
	if err != nil {
		return nil, err
	}
	if unresolved := report.Unresolved(session.Resolved); unresolved > 0 {
		return nil, errors.UnresolvedDiscrepancies(unresolved)
	}

	now := time.Now()
	who := actor.FromContext(ctx)
	var updated, created []*domain.Lot
	var movements []domain.MovementRecord

	for _, resolution := range session.Resolved {
		discrepancy := report.Discrepancy(resolution.LotID)
		if discrepancy == nil {
			// stale resolution for a discrepancy that disappeared after a
			// re-scan; nothing to apply
			continue
		}

		if discrepancy.Type == domain.DiscrepancyUnexpected {
			lot := s.lotFromUnexpected(discrepancy, resolution, now)
			created = append(created, lot)
			notes := fmt.Sprintf("created from unexpected stock in session %s", session.ID)
			movements = append(movements, domain.MovementRecord{
				ID:             uuid.NewString(),
				LotID:          lot.ID,
				Timestamp:      now,
				Actor:          who.DisplayName(),
				TargetLocation: discrepancy.LocationID,
				ActionKind:     domain.ActionCountCorrected,
				Notes:          &notes,
			})
			continue
		}

		lot, err := s.lots.GetByID(ctx, resolution.LotID)
		if err != nil {
			return nil, err
		}
		previous := lot.Location()
		movement := domain.MovementRecord{
			ID:               uuid.NewString(),
			LotID:            lot.ID,
			Timestamp:        now,
			Actor:            who.DisplayName(),
			PreviousLocation: &previous,
		}

		if resolution.Kind == domain.ResolutionMissing {
			lot.Quantity = 0
			if lot.GrossQuantity != nil {
				zero := 0.0
				lot.GrossQuantity = &zero
			}
			missing := domain.LocationMissing
			lot.CurrentLocation = &missing
			movement.TargetLocation = domain.LocationMissing
			movement.ActionKind = domain.ActionCountMissing
			notes := fmt.Sprintf("confirmed missing in session %s", session.ID)
			movement.Notes = &notes
		} else {
			if resolution.NewQuantity != nil {
				delta := *resolution.NewQuantity - lot.Quantity
				lot.Quantity = *resolution.NewQuantity
				if lot.GrossQuantity != nil {
					gross := *lot.GrossQuantity + delta
					lot.GrossQuantity = &gross
				}
			}
			target := lot.Location()
			if resolution.NewLocation != nil {
				target = *resolution.NewLocation
				lot.CurrentLocation = resolution.NewLocation
			}
			movement.TargetLocation = target
			movement.ActionKind = domain.ActionCountCorrected
			notes := fmt.Sprintf("corrected by count session %s", session.ID)
			movement.Notes = &notes
		}
		lot.UpdatedAt = now
		updated = append(updated, lot)
		movements = append(movements, movement)
	}

	if err := s.lots.ApplyCountResults(ctx, updated, created, movements); err != nil {
		return nil, err
	}

	session.Status = domain.SessionCompleted
	session.UpdatedAt = now
	if err := s.sessions.Update(ctx, session); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.SessionsFinalized.Inc()
	}

	s.logger.WithSession(session.ID).Info().
		Int("corrections", len(updated)).
		Int("created", len(created)).
		Msg("inventory session finalized")
	s.publisher.PublishSessionFinalized(ctx, session, len(report.Discrepancies))

	return session, nil
}

// Cancel discards a session without touching the lot store. The location
// locks lift with the status change.
func (s *SessionService) Cancel(ctx context.Context, sessionID string) (*domain.InventorySession, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsOngoing() {
		return nil, errors.Conflict(fmt.Sprintf("session is already %s", session.Status))
	}

	session.Status = domain.SessionCancelled
	session.UpdatedAt = time.Now()
	if err := s.sessions.Update(ctx, session); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.SessionsCancelled.Inc()
	}

	s.logger.WithSession(session.ID).Info().Msg("inventory session cancelled")
	s.publisher.PublishSessionCancelled(ctx, session)

	return session, nil
}

// lotFromUnexpected builds a lot for unexpected stock accepted at finalize.
// The scanned id becomes the lot id when it fits the id scheme; material
// falls back to what the operator keyed in at the scanner.
func (s *SessionService) lotFromUnexpected(d *domain.Discrepancy, resolution domain.ResolvedDiscrepancy, now time.Time) *domain.Lot {
	id := d.LotID
	if id == "" {
		id = domain.NewLotID()
	}
	material := resolution.MaterialName
	if material == "" {
		material = d.MaterialName
	}
	if material == "" {
		material = "unidentified material"
	}
	location := d.LocationID
	return &domain.Lot{
		ID:              id,
		DisplayCode:     domain.DisplayCodeFor(domain.KindRawMaterial, id),
		Kind:            domain.KindRawMaterial,
		MaterialName:    material,
		Quantity:        d.CountedQuantity,
		CurrentLocation: &location,
		Status:          domain.StatusAvailable,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
