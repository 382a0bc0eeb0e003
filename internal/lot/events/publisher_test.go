package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/stocktrace/stocktrace-backend/internal/lot/domain"
	"github.com/stocktrace/stocktrace-backend/internal/lot/events"
)

// Services run with a nil publisher when RabbitMQ is unavailable (and in
// tests); every publish must degrade to a no-op instead of panicking.
func TestNilPublisherIsSafe(t *testing.T) {
	ctx := context.Background()
	var p *events.LotEventPublisher

	location := "MS01"
	lot := &domain.Lot{
		ID:              domain.NewLotID(),
		Kind:            domain.KindRawMaterial,
		MaterialName:    "wheat flour T550",
		Quantity:        500,
		CurrentLocation: &location,
		Status:          domain.StatusAvailable,
	}

	p.PublishLotCreated(ctx, lot)
	p.PublishLotMoved(ctx, lot, "PS02", "tester")
	p.PublishBlockChanged(ctx, lot, true, "QA hold", "tester")
	p.PublishLotSplit(ctx, &domain.SplitOutcome{Source: lot, NewLots: []*domain.Lot{lot}})
	p.PublishLotArchived(ctx, lot, true, "tester")
	p.PublishStockConsumed(ctx, lot, &domain.ConsumptionRecord{ID: "c1", LotID: lot.ID, Amount: 10, ConsumedAt: time.Now()})
	p.PublishConsumptionAnnulled(ctx, lot, &domain.ConsumptionRecord{ID: "c1", LotID: lot.ID})

	session := &domain.InventorySession{ID: "s1", Name: "March count", Status: domain.SessionOngoing}
	p.PublishSessionCreated(ctx, session)
	p.PublishSessionFinalized(ctx, session, 0)
	p.PublishSessionCancelled(ctx, session)
}
