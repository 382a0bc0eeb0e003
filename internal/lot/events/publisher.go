package events

import (
	"context"

	"github.com/stocktrace/stocktrace-backend/internal/lot/domain"
	"github.com/stocktrace/stocktrace-backend/pkg/logger"
	"github.com/stocktrace/stocktrace-backend/pkg/messaging"
)

// LotEventPublisher publishes lot lifecycle and count session events
type LotEventPublisher struct {
	publisher *messaging.Publisher
	logger    *logger.Logger
}

// NewLotEventPublisher creates a new lot event publisher
func NewLotEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*LotEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeLotEvents, "lot-service", log)
	if err != nil {
		return nil, err
	}

	return &LotEventPublisher{
		publisher: publisher,
		logger:    log,
	}, nil
}

// PublishLotCreated publishes a lot created event
func (p *LotEventPublisher) PublishLotCreated(ctx context.Context, lot *domain.Lot) {
	if p == nil {
		return
	}
	data := messaging.LotCreatedEvent{
		LotID:        lot.ID,
		DisplayCode:  lot.DisplayCode,
		Kind:         string(lot.Kind),
		MaterialName: lot.MaterialName,
		Quantity:     lot.Quantity,
		Location:     lot.Location(),
	}
	if err := p.publisher.Publish(ctx, messaging.EventLotCreated, data); err != nil {
		p.logger.Error().Err(err).Str("lot_id", lot.ID).Msg("failed to publish lot created event")
	}
}

// PublishLotMoved publishes a lot moved event
func (p *LotEventPublisher) PublishLotMoved(ctx context.Context, lot *domain.Lot, previousLocation, actor string) {
	if p == nil {
		return
	}
	data := messaging.LotMovedEvent{
		LotID:            lot.ID,
		PreviousLocation: previousLocation,
		TargetLocation:   lot.Location(),
		Actor:            actor,
	}
	if err := p.publisher.Publish(ctx, messaging.EventLotMoved, data); err != nil {
		p.logger.Error().Err(err).Str("lot_id", lot.ID).Msg("failed to publish lot moved event")
	}
}

// PublishBlockChanged publishes a block or unblock event
func (p *LotEventPublisher) PublishBlockChanged(ctx context.Context, lot *domain.Lot, blocked bool, reason, actor string) {
	if p == nil {
		return
	}
	eventType := messaging.EventLotUnblocked
	if blocked {
		eventType = messaging.EventLotBlocked
	}
	data := messaging.LotBlockStateChangedEvent{
		LotID:   lot.ID,
		Blocked: blocked,
		Reason:  reason,
		Actor:   actor,
	}
	if err := p.publisher.Publish(ctx, eventType, data); err != nil {
		p.logger.Error().Err(err).Str("lot_id", lot.ID).Msg("failed to publish block state event")
	}
}

// PublishLotSplit publishes a lot split event
func (p *LotEventPublisher) PublishLotSplit(ctx context.Context, outcome *domain.SplitOutcome) {
	if p == nil {
		return
	}
	ids := make([]string, len(outcome.NewLots))
	for i, lot := range outcome.NewLots {
		ids[i] = lot.ID
	}
	data := messaging.LotSplitEvent{
		SourceLotID:       outcome.Source.ID,
		NewLotIDs:         ids,
		RemainingQuantity: outcome.Source.Quantity,
		SourceConsumed:    outcome.SourceConsumed,
	}
	if err := p.publisher.Publish(ctx, messaging.EventLotSplit, data); err != nil {
		p.logger.Error().Err(err).Str("lot_id", outcome.Source.ID).Msg("failed to publish lot split event")
	}
}

// PublishLotArchived publishes an archive or restore event
func (p *LotEventPublisher) PublishLotArchived(ctx context.Context, lot *domain.Lot, archived bool, actor string) {
	if p == nil {
		return
	}
	eventType := messaging.EventLotRestored
	if archived {
		eventType = messaging.EventLotArchived
	}
	data := messaging.LotMovedEvent{
		LotID:          lot.ID,
		TargetLocation: lot.Location(),
		Actor:          actor,
	}
	if err := p.publisher.Publish(ctx, eventType, data); err != nil {
		p.logger.Error().Err(err).Str("lot_id", lot.ID).Msg("failed to publish archive state event")
	}
}

// PublishStockConsumed publishes a stock consumed event
func (p *LotEventPublisher) PublishStockConsumed(ctx context.Context, lot *domain.Lot, record *domain.ConsumptionRecord) {
	if p == nil {
		return
	}
	data := messaging.StockConsumedEvent{
		ConsumptionID:     record.ID,
		LotID:             lot.ID,
		Amount:            record.Amount,
		RemainingQuantity: lot.Quantity,
		Context:           record.Context,
		Archived:          record.ArchivedLot,
	}
	if err := p.publisher.Publish(ctx, messaging.EventStockConsumed, data); err != nil {
		p.logger.Error().Err(err).Str("lot_id", lot.ID).Msg("failed to publish stock consumed event")
	}
}

// PublishConsumptionAnnulled publishes a consumption annulled event
func (p *LotEventPublisher) PublishConsumptionAnnulled(ctx context.Context, lot *domain.Lot, record *domain.ConsumptionRecord) {
	if p == nil {
		return
	}
	data := messaging.ConsumptionAnnulledEvent{
		ConsumptionID:    record.ID,
		LotID:            lot.ID,
		Amount:           record.Amount,
		RestoredLocation: lot.Location(),
	}
	if err := p.publisher.Publish(ctx, messaging.EventConsumptionAnnulled, data); err != nil {
		p.logger.Error().Err(err).Str("lot_id", lot.ID).Msg("failed to publish consumption annulled event")
	}
}

// PublishSessionCreated publishes a session created event
func (p *LotEventPublisher) PublishSessionCreated(ctx context.Context, session *domain.InventorySession) {
	if p == nil {
		return
	}
	data := messaging.SessionCreatedEvent{
		SessionID: session.ID,
		Name:      session.Name,
		Locations: session.LocationIDs(),
		Lots:      len(session.Snapshot),
	}
	if err := p.publisher.Publish(ctx, messaging.EventSessionCreated, data); err != nil {
		p.logger.Error().Err(err).Str("session_id", session.ID).Msg("failed to publish session created event")
	}
}

// PublishSessionFinalized publishes a session finalized event
func (p *LotEventPublisher) PublishSessionFinalized(ctx context.Context, session *domain.InventorySession, discrepancies int) {
	if p == nil {
		return
	}
	data := messaging.SessionFinalizedEvent{
		SessionID:     session.ID,
		Discrepancies: discrepancies,
		Resolutions:   len(session.Resolved),
	}
	if err := p.publisher.Publish(ctx, messaging.EventSessionFinalized, data); err != nil {
		p.logger.Error().Err(err).Str("session_id", session.ID).Msg("failed to publish session finalized event")
	}
}

// PublishSessionCancelled publishes a session cancelled event
func (p *LotEventPublisher) PublishSessionCancelled(ctx context.Context, session *domain.InventorySession) {
	if p == nil {
		return
	}
	data := messaging.SessionCancelledEvent{SessionID: session.ID}
	if err := p.publisher.Publish(ctx, messaging.EventSessionCancelled, data); err != nil {
		p.logger.Error().Err(err).Str("session_id", session.ID).Msg("failed to publish session cancelled event")
	}
}
