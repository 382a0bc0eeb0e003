package domain

import (
	"fmt"
	"time"

	apperrors "github.com/stocktrace/stocktrace-backend/pkg/errors"

	"github.com/google/uuid"
)

// ConsumptionRecord is one deduction of material from a lot, attributed to
// an owning workflow step (a mixing run, a production order). Records are
// retained after annulment so the audit trail keeps both directions.
type ConsumptionRecord struct {
	ID         string    `db:"id" json:"id"`
	LotID      string    `db:"lot_id" json:"lot_id"`
	Amount     float64   `db:"amount" json:"amount"`
	Context    string    `db:"context" json:"context"`
	Actor      string    `db:"actor" json:"actor"`
	ConsumedAt time.Time `db:"consumed_at" json:"consumed_at"`

	// IsAnnulled marks a reverted consumption; the record stays for audit.
	IsAnnulled bool `db:"is_annulled" json:"is_annulled"`

	// Locked is set once the owning workflow finishes; locked consumptions
	// can never be annulled.
	Locked bool `db:"locked" json:"locked"`

	// ArchivedLot records whether this consumption drove the lot to zero and
	// archived it, so annulment knows to bring the lot back to the floor.
	ArchivedLot bool `db:"archived_lot" json:"archived_lot"`
}

// ConsumeOutcome carries the mutated lot, the new consumption record and the
// movement record (if any) to persist alongside.
type ConsumeOutcome struct {
	Lot      *Lot
	Record   *ConsumptionRecord
	Movement *MovementRecord
}

// ConsumeLot deducts amount from the lot on behalf of the given workflow
// context. A lot consumed down to (within tolerance of) zero is auto-archived
// rather than left as an empty pallet on the floor.
func ConsumeLot(lot *Lot, amount float64, consumptionContext, actor string, now time.Time) (*ConsumeOutcome, error) {
	if amount <= 0 {
		return nil, apperrors.BadRequest("consumption amount must be positive")
	}
	if lot.IsConsumed() || ExceedsAvailable(amount, lot.Quantity) {
		return nil, apperrors.InsufficientQuantity(fmt.Sprintf("requested %.2f but only %.2f is available", amount, lot.Quantity))
	}

	record := &ConsumptionRecord{
		ID:         NewConsumptionID(),
		LotID:      lot.ID,
		Amount:     amount,
		Context:    consumptionContext,
		Actor:      actor,
		ConsumedAt: now,
	}
	outcome := &ConsumeOutcome{Lot: lot, Record: record}

	remaining := lot.Quantity - amount
	if BelowTolerance(remaining) {
		record.ArchivedLot = true
		previous := lot.Location()
		lot.Quantity = 0
		// Gross keeps carrying the fixed tare so an annulment restores
		// the full packed weight, not just the net quantity.
		if lot.GrossQuantity != nil {
			lot.GrossQuantity = floatPtr(*lot.GrossQuantity - amount)
		}
		lot.CurrentLocation = strPtr(LocationArchived)
		lot.Status = StatusArchived
		outcome.Movement = &MovementRecord{
			ID:               uuid.NewString(),
			LotID:            lot.ID,
			Timestamp:        now,
			Actor:            actor,
			PreviousLocation: strPtr(previous),
			TargetLocation:   LocationArchived,
			ActionKind:       ActionConsumeArchived,
			Notes:            strPtr(fmt.Sprintf("consumed %.2f for %s, lot emptied", amount, consumptionContext)),
		}
	} else {
		lot.Quantity = remaining
		if lot.GrossQuantity != nil {
			lot.GrossQuantity = floatPtr(*lot.GrossQuantity - amount)
		}
		location := lot.Location()
		outcome.Movement = &MovementRecord{
			ID:               uuid.NewString(),
			LotID:            lot.ID,
			Timestamp:        now,
			Actor:            actor,
			PreviousLocation: strPtr(location),
			TargetLocation:   location,
			ActionKind:       ActionConsume,
			Notes:            strPtr(fmt.Sprintf("consumed %.2f for %s", amount, consumptionContext)),
		}
	}
	lot.UpdatedAt = now

	return outcome, nil
}

// AnnulConsumption reverts a consumption, restoring the deducted quantity to
// the lot. If the consumption archived the lot, the lot returns to the floor:
// to restoreLocation when given, otherwise to the location it was archived
// from (recovered from its movement history), falling back to the default
// restore location.
func AnnulConsumption(lot *Lot, record *ConsumptionRecord, history []MovementRecord, restoreLocation *string, actor string, now time.Time) (*MovementRecord, error) {
	if record.LotID != lot.ID {
		return nil, apperrors.BadRequest("consumption does not belong to this lot")
	}
	if record.Locked {
		return nil, apperrors.LockedForEditing(fmt.Sprintf("consumption for %s is locked by its workflow", record.Context))
	}
	if record.IsAnnulled {
		return nil, apperrors.Conflict("consumption is already annulled")
	}

	record.IsAnnulled = true
	lot.Quantity += record.Amount
	if lot.GrossQuantity != nil {
		lot.GrossQuantity = floatPtr(*lot.GrossQuantity + record.Amount)
	}

	movement := &MovementRecord{
		ID:         uuid.NewString(),
		LotID:      lot.ID,
		Timestamp:  now,
		Actor:      actor,
		ActionKind: ActionAnnul,
		Notes:      strPtr(fmt.Sprintf("annulled consumption of %.2f for %s", record.Amount, record.Context)),
	}

	if record.ArchivedLot && lot.AtLocation(LocationArchived) {
		target := DefaultRestoreLocation
		if restoreLocation != nil && *restoreLocation != "" {
			target = *restoreLocation
		} else if prev := archivedFrom(history); prev != "" {
			target = prev
		}
		movement.PreviousLocation = strPtr(LocationArchived)
		movement.TargetLocation = target
		lot.CurrentLocation = strPtr(target)
		lot.Status = StatusAvailable
	} else {
		location := lot.Location()
		movement.PreviousLocation = strPtr(location)
		movement.TargetLocation = location
	}
	lot.UpdatedAt = now

	return movement, nil
}

// archivedFrom walks the history backwards for the record that archived the
// lot and returns the location it held before.
func archivedFrom(history []MovementRecord) string {
	for i := len(history) - 1; i >= 0; i-- {
		rec := history[i]
		if rec.ActionKind == ActionConsumeArchived || rec.ActionKind == ActionArchive {
			if rec.PreviousLocation != nil {
				return *rec.PreviousLocation
			}
			return ""
		}
	}
	return ""
}
