package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stocktrace/stocktrace-backend/internal/lot/domain"
	"github.com/stocktrace/stocktrace-backend/pkg/actor"
	"github.com/stocktrace/stocktrace-backend/pkg/errors"
)

// Move relocates a lot to a target location. Blocked lots stay where they
// are, moving to the current location is rejected as a likely scan mistake,
// and a source location under an ongoing count refuses mutations.
func (s *LotService) Move(ctx context.Context, identifier, targetLocation, notes string) (*domain.Lot, error) {
	if targetLocation == "" {
		return nil, errors.BadRequest("target location is required")
	}

	lot, err := s.lots.GetByAnyID(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if lot.IsConsumed() {
		return nil, errors.InvalidMove("lot is fully consumed")
	}
	if state := domain.EvaluateBlock(lot); state.IsBlocked {
		return nil, errors.InvalidMove(fmt.Sprintf("lot is blocked: %s", state.Reason))
	}
	if lot.AtLocation(targetLocation) {
		return nil, errors.InvalidMove(fmt.Sprintf("lot is already at %s", targetLocation))
	}
	if locked, err := s.lockedLocation(ctx, lot.Location()); err != nil {
		return nil, err
	} else if locked {
		return nil, errors.LocationUnderInventory(lot.Location())
	}

	now := time.Now()
	who := actor.FromContext(ctx)
	previous := lot.Location()
	lot.CurrentLocation = &targetLocation
	lot.UpdatedAt = now

	movement := &domain.MovementRecord{
		ID:               uuid.NewString(),
		LotID:            lot.ID,
		Timestamp:        now,
		Actor:            who.DisplayName(),
		PreviousLocation: &previous,
		TargetLocation:   targetLocation,
		ActionKind:       domain.ActionMove,
	}
	if notes != "" {
		movement.Notes = &notes
	}

	if err := s.lots.Update(ctx, lot, movement); err != nil {
		s.metrics.ObserveOperation("move", err)
		return nil, err
	}
	s.metrics.ObserveOperation("move", nil)

	s.logger.WithLot(lot.ID).Info().
		Str("from", previous).
		Str("to", targetLocation).
		Msg("lot moved")
	s.publisher.PublishLotMoved(ctx, lot, previous, who.DisplayName())

	return lot, nil
}

// Block sets the manual block flag with a reason. Blocking an already
// blocked lot just updates the reason.
func (s *LotService) Block(ctx context.Context, identifier, reason string) (*domain.Lot, error) {
	lot, err := s.lots.GetByAnyID(ctx, identifier)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	who := actor.FromContext(ctx)
	lot.ManualBlocked = true
	if reason != "" {
		lot.BlockReason = &reason
	}
	lot.UpdatedAt = now

	location := lot.Location()
	movement := &domain.MovementRecord{
		ID:               uuid.NewString(),
		LotID:            lot.ID,
		Timestamp:        now,
		Actor:            who.DisplayName(),
		PreviousLocation: &location,
		TargetLocation:   location,
		ActionKind:       domain.ActionBlock,
	}
	if reason != "" {
		movement.Notes = &reason
	}

	if err := s.lots.Update(ctx, lot, movement); err != nil {
		s.metrics.ObserveOperation("block", err)
		return nil, err
	}
	s.metrics.ObserveOperation("block", nil)

	s.logger.WithLot(lot.ID).Info().Str("reason", reason).Msg("lot blocked")
	s.publisher.PublishBlockChanged(ctx, lot, true, reason, who.DisplayName())

	return lot, nil
}

// Unblock clears the manual block flag. An expired lot stays blocked after a
// manual unblock unless newExpiry pushes the expiry into the future, so the
// caller is told the resulting state rather than silently succeeding.
func (s *LotService) Unblock(ctx context.Context, identifier string, newExpiry *time.Time) (*domain.Lot, domain.BlockState, error) {
	lot, err := s.lots.GetByAnyID(ctx, identifier)
	if err != nil {
		return nil, domain.BlockState{}, err
	}

	now := time.Now()
	who := actor.FromContext(ctx)
	lot.ManualBlocked = false
	lot.BlockReason = nil
	if newExpiry != nil {
		lot.ExpiryDate = newExpiry
	}
	lot.UpdatedAt = now

	location := lot.Location()
	notes := "manual block cleared"
	movement := &domain.MovementRecord{
		ID:               uuid.NewString(),
		LotID:            lot.ID,
		Timestamp:        now,
		Actor:            who.DisplayName(),
		PreviousLocation: &location,
		TargetLocation:   location,
		ActionKind:       domain.ActionUnblock,
		Notes:            &notes,
	}

	if err := s.lots.Update(ctx, lot, movement); err != nil {
		s.metrics.ObserveOperation("unblock", err)
		return nil, domain.BlockState{}, err
	}
	s.metrics.ObserveOperation("unblock", nil)

	state := domain.EvaluateBlock(lot)
	s.logger.WithLot(lot.ID).Info().Bool("still_blocked", state.IsBlocked).Msg("lot unblocked")
	s.publisher.PublishBlockChanged(ctx, lot, state.IsBlocked, state.Reason, who.DisplayName())

	return lot, state, nil
}

// Archive moves a lot to the archive location. Archiving is always permitted
// regardless of block state.
func (s *LotService) Archive(ctx context.Context, identifier string) (*domain.Lot, error) {
	lot, err := s.lots.GetByAnyID(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if lot.AtLocation(domain.LocationArchived) {
		return nil, errors.Conflict("lot is already archived")
	}

	now := time.Now()
	who := actor.FromContext(ctx)
	previous := lot.Location()
	archived := domain.LocationArchived
	lot.CurrentLocation = &archived
	lot.Status = domain.StatusArchived
	lot.UpdatedAt = now

	movement := &domain.MovementRecord{
		ID:               uuid.NewString(),
		LotID:            lot.ID,
		Timestamp:        now,
		Actor:            who.DisplayName(),
		PreviousLocation: &previous,
		TargetLocation:   domain.LocationArchived,
		ActionKind:       domain.ActionArchive,
	}

	if err := s.lots.Update(ctx, lot, movement); err != nil {
		s.metrics.ObserveOperation("archive", err)
		return nil, err
	}
	s.metrics.ObserveOperation("archive", nil)

	s.logger.WithLot(lot.ID).Info().Str("from", previous).Msg("lot archived")
	s.publisher.PublishLotArchived(ctx, lot, true, who.DisplayName())

	return lot, nil
}

// Restore brings an archived lot back to the floor, to the given location or
// the location it was archived from when none is given.
func (s *LotService) Restore(ctx context.Context, identifier, location string) (*domain.Lot, error) {
	lot, err := s.lots.GetByAnyID(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if !lot.AtLocation(domain.LocationArchived) {
		return nil, errors.Conflict("lot is not archived")
	}

	target := location
	if target == "" {
		history, err := s.lots.History(ctx, lot.ID)
		if err != nil {
			return nil, err
		}
		for i := len(history) - 1; i >= 0; i-- {
			if history[i].ActionKind == domain.ActionArchive || history[i].ActionKind == domain.ActionConsumeArchived {
				if history[i].PreviousLocation != nil {
					target = *history[i].PreviousLocation
				}
				break
			}
		}
	}
	if target == "" {
		target = domain.DefaultRestoreLocation
	}

	now := time.Now()
	who := actor.FromContext(ctx)
	archived := domain.LocationArchived
	lot.CurrentLocation = &target
	lot.Status = domain.StatusAvailable
	lot.UpdatedAt = now

	movement := &domain.MovementRecord{
		ID:               uuid.NewString(),
		LotID:            lot.ID,
		Timestamp:        now,
		Actor:            who.DisplayName(),
		PreviousLocation: &archived,
		TargetLocation:   target,
		ActionKind:       domain.ActionRestore,
	}

	if err := s.lots.Update(ctx, lot, movement); err != nil {
		s.metrics.ObserveOperation("restore", err)
		return nil, err
	}
	s.metrics.ObserveOperation("restore", nil)

	s.logger.WithLot(lot.ID).Info().Str("to", target).Msg("lot restored")
	s.publisher.PublishLotArchived(ctx, lot, false, who.DisplayName())

	return lot, nil
}

// Split carves the given quantities off a lot into new lots, atomically.
func (s *LotService) Split(ctx context.Context, identifier string, quantities []float64) (*domain.SplitOutcome, error) {
	lot, err := s.lots.GetByAnyID(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if locked, err := s.lockedLocation(ctx, lot.Location()); err != nil {
		return nil, err
	} else if locked {
		return nil, errors.LocationUnderInventory(lot.Location())
	}

	who := actor.FromContext(ctx)
	outcome, err := domain.SplitLot(lot, quantities, who.DisplayName(), time.Now())
	if err != nil {
		s.metrics.ObserveOperation("split", err)
		return nil, err
	}

	if err := s.lots.ApplySplit(ctx, outcome.Source, outcome.NewLots, outcome.Movements); err != nil {
		s.metrics.ObserveOperation("split", err)
		return nil, err
	}
	s.metrics.ObserveOperation("split", nil)

	s.logger.WithLot(lot.ID).Info().
		Int("new_lots", len(outcome.NewLots)).
		Bool("source_consumed", outcome.SourceConsumed).
		Msg("lot split")
	s.publisher.PublishLotSplit(ctx, outcome)
	for _, child := range outcome.NewLots {
		s.publisher.PublishLotCreated(ctx, child)
	}

	return outcome, nil
}

// Consume deducts an amount from a lot on behalf of a workflow context.
func (s *LotService) Consume(ctx context.Context, identifier string, amount float64, consumptionContext string) (*domain.ConsumeOutcome, error) {
	lot, err := s.lots.GetByAnyID(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if locked, err := s.lockedLocation(ctx, lot.Location()); err != nil {
		return nil, err
	} else if locked {
		return nil, errors.LocationUnderInventory(lot.Location())
	}

	who := actor.FromContext(ctx)
	outcome, err := domain.ConsumeLot(lot, amount, consumptionContext, who.DisplayName(), time.Now())
	if err != nil {
		s.metrics.ObserveOperation("consume", err)
		return nil, err
	}

	if err := s.lots.SaveConsumption(ctx, outcome.Lot, outcome.Record, outcome.Movement); err != nil {
		s.metrics.ObserveOperation("consume", err)
		return nil, err
	}
	s.metrics.ObserveOperation("consume", nil)

	s.logger.WithLot(lot.ID).Info().
		Float64("amount", amount).
		Str("context", consumptionContext).
		Bool("archived", outcome.Record.ArchivedLot).
		Msg("stock consumed")
	s.publisher.PublishStockConsumed(ctx, lot, outcome.Record)

	return outcome, nil
}

// AnnulConsumption reverts a consumption, restoring the quantity to the lot.
// restoreLocation overrides where an auto-archived lot returns to.
func (s *LotService) AnnulConsumption(ctx context.Context, consumptionID string, restoreLocation *string) (*domain.Lot, error) {
	record, err := s.lots.GetConsumption(ctx, consumptionID)
	if err != nil {
		return nil, err
	}
	lot, err := s.lots.GetByID(ctx, record.LotID)
	if err != nil {
		return nil, err
	}
	history, err := s.lots.History(ctx, lot.ID)
	if err != nil {
		return nil, err
	}

	who := actor.FromContext(ctx)
	movement, err := domain.AnnulConsumption(lot, record, history, restoreLocation, who.DisplayName(), time.Now())
	if err != nil {
		s.metrics.ObserveOperation("annul", err)
		return nil, err
	}

	if err := s.lots.UpdateConsumption(ctx, lot, record, movement); err != nil {
		s.metrics.ObserveOperation("annul", err)
		return nil, err
	}
	s.metrics.ObserveOperation("annul", nil)

	s.logger.WithLot(lot.ID).Info().
		Str("consumption_id", record.ID).
		Float64("amount", record.Amount).
		Msg("consumption annulled")
	s.publisher.PublishConsumptionAnnulled(ctx, lot, record)

	return lot, nil
}

// SetConsumptionLock lets the owning workflow finalize a consumption step
// (weighing confirmed) or reopen it. A locked consumption cannot be annulled
// until the workflow unlocks it again.
func (s *LotService) SetConsumptionLock(ctx context.Context, consumptionID string, locked bool) (*domain.ConsumptionRecord, error) {
	record, err := s.lots.GetConsumption(ctx, consumptionID)
	if err != nil {
		return nil, err
	}
	if record.IsAnnulled {
		return nil, errors.Conflict("consumption is already annulled")
	}
	if record.Locked == locked {
		return record, nil
	}
	if err := s.lots.SetConsumptionLock(ctx, consumptionID, locked); err != nil {
		return nil, err
	}
	record.Locked = locked

	s.logger.WithLot(record.LotID).Info().
		Str("consumption_id", record.ID).
		Bool("locked", locked).
		Msg("consumption lock changed")

	return record, nil
}

// SuggestAllocation plans which lots to consume for a material need,
// first-expired-first-out with whole lots only.
func (s *LotService) SuggestAllocation(ctx context.Context, materialName string, needed float64, reserved []string) ([]domain.AllocationSuggestion, error) {
	if materialName == "" {
		return nil, errors.BadRequest("material name is required")
	}
	if needed <= 0 {
		return nil, errors.BadRequest("needed quantity must be positive")
	}

	lots, err := s.lots.ListByMaterial(ctx, materialName)
	if err != nil {
		return nil, err
	}
	reservedSet := make(map[string]bool, len(reserved))
	for _, id := range reserved {
		reservedSet[id] = true
	}

	suggestions := domain.SuggestAllocation(lots, materialName, needed, reservedSet, time.Now())
	if s.metrics != nil {
		s.metrics.AllocationSuggestions.Add(float64(len(suggestions)))
	}
	return suggestions, nil
}
