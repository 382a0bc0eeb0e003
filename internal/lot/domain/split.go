package domain

import (
	"fmt"
	"time"

	apperrors "github.com/stocktrace/stocktrace-backend/pkg/errors"

	"github.com/google/uuid"
)

// SplitOutcome describes the result of splitting a lot: the mutated source,
// the newly created lots and the movement records to append for all of them.
type SplitOutcome struct {
	Source         *Lot
	NewLots        []*Lot
	Movements      []MovementRecord
	SourceConsumed bool
}

// SplitLot carves the given quantities off the source lot into new lots.
// Non-positive entries are skipped. Each new lot inherits material, batch,
// dates and location from the source and starts its life unblocked and
// available regardless of the source's manual block. Mass is conserved: the
// sum of all resulting net quantities equals the source's original quantity,
// and for finished goods the tare splits proportionally with the net.
//
// The source is mutated in place; persistence of all affected lots plus the
// movement records must happen atomically in the caller.
func SplitLot(source *Lot, quantities []float64, actor string, now time.Time) (*SplitOutcome, error) {
	if source.IsConsumed() {
		return nil, apperrors.InvalidMove("cannot split a fully consumed lot")
	}

	var requested []float64
	total := 0.0
	for _, q := range quantities {
		if q <= 0 {
			continue
		}
		requested = append(requested, q)
		total += q
	}
	if len(requested) == 0 {
		return nil, apperrors.BadRequest("split requires at least one positive quantity")
	}
	if ExceedsAvailable(total, source.Quantity) {
		return nil, apperrors.OverCapacity(fmt.Sprintf("requested total %.2f exceeds available %.2f", total, source.Quantity))
	}

	tarePerUnit := 0.0
	if source.GrossQuantity != nil && source.Quantity > 0 {
		tarePerUnit = source.Tare() / source.Quantity
	}

	outcome := &SplitOutcome{Source: source}
	location := source.Location()

	for _, q := range requested {
		id := NewLotID()
		child := &Lot{
			ID:              id,
			DisplayCode:     DisplayCodeFor(source.Kind, id),
			Kind:            source.Kind,
			MaterialName:    source.MaterialName,
			Quantity:        q,
			CurrentLocation: strPtr(location),
			ExpiryDate:      source.ExpiryDate,
			ProductionDate:  source.ProductionDate,
			BatchNumber:     source.BatchNumber,
			Status:          StatusAvailable,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if source.GrossQuantity != nil {
			child.GrossQuantity = floatPtr(q + tarePerUnit*q)
		}
		outcome.NewLots = append(outcome.NewLots, child)
		outcome.Movements = append(outcome.Movements, MovementRecord{
			ID:             uuid.NewString(),
			LotID:          child.ID,
			Timestamp:      now,
			Actor:          actor,
			TargetLocation: location,
			ActionKind:     ActionSplitCreated,
			Notes:          strPtr(fmt.Sprintf("split %.2f from lot %s", q, source.ID)),
		})
	}

	remaining := source.Quantity - total
	if BelowTolerance(remaining) {
		source.Quantity = 0
		if source.GrossQuantity != nil {
			source.GrossQuantity = floatPtr(0)
		}
		source.CurrentLocation = nil
		source.Status = StatusConsumedInSplit
		outcome.SourceConsumed = true
		outcome.Movements = append(outcome.Movements, MovementRecord{
			ID:               uuid.NewString(),
			LotID:            source.ID,
			Timestamp:        now,
			Actor:            actor,
			PreviousLocation: strPtr(location),
			TargetLocation:   "",
			ActionKind:       ActionSplitConsumed,
			Notes:            strPtr(fmt.Sprintf("fully split into %d lots", len(outcome.NewLots))),
		})
	} else {
		source.Quantity = remaining
		if source.GrossQuantity != nil {
			source.GrossQuantity = floatPtr(remaining + tarePerUnit*remaining)
		}
		outcome.Movements = append(outcome.Movements, MovementRecord{
			ID:               uuid.NewString(),
			LotID:            source.ID,
			Timestamp:        now,
			Actor:            actor,
			PreviousLocation: strPtr(location),
			TargetLocation:   location,
			ActionKind:       ActionSplit,
			Notes:            strPtr(fmt.Sprintf("split off %.2f into %d lots", total, len(outcome.NewLots))),
		})
	}
	source.UpdatedAt = now

	return outcome, nil
}
