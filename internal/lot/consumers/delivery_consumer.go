package consumers

import (
	"context"
	"time"

	"github.com/stocktrace/stocktrace-backend/internal/lot/domain"
	"github.com/stocktrace/stocktrace-backend/internal/lot/service"
	"github.com/stocktrace/stocktrace-backend/pkg/actor"
	"github.com/stocktrace/stocktrace-backend/pkg/logger"
	"github.com/stocktrace/stocktrace-backend/pkg/messaging"
)

// DeliveryEventConsumer consumes goods-intake events and registers the
// received lots as raw material.
type DeliveryEventConsumer struct {
	consumer *messaging.Consumer
	lots     *service.LotService
	logger   *logger.Logger
}

// NewDeliveryEventConsumer creates a new delivery event consumer
func NewDeliveryEventConsumer(rmq *messaging.RabbitMQ, lots *service.LotService, log *logger.Logger) (*DeliveryEventConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, "lot-service.delivery-events", log)
	if err != nil {
		return nil, err
	}

	if err := consumer.Subscribe(messaging.ExchangeDeliveryEvents, "delivery.#"); err != nil {
		return nil, err
	}

	c := &DeliveryEventConsumer{
		consumer: consumer,
		lots:     lots,
		logger:   log,
	}

	consumer.RegisterHandler(messaging.EventDeliveryLotReceived, c.handleLotReceived)

	return c, nil
}

// Start starts consuming messages
func (c *DeliveryEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

func (c *DeliveryEventConsumer) handleLotReceived(ctx context.Context, event *messaging.Event) error {
	var data messaging.DeliveryLotReceivedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return err
	}

	c.logger.Info().
		Str("material", data.MaterialName).
		Float64("quantity", data.Quantity).
		Str("location", data.Location).
		Msg("received delivery lot event")

	input := service.CreateLotInput{
		Kind:         domain.KindRawMaterial,
		MaterialName: data.MaterialName,
		Quantity:     data.Quantity,
		Location:     data.Location,
		BatchNumber:  data.BatchNumber,
	}
	if data.ExpiryDate != nil {
		t, err := parseEventDate(*data.ExpiryDate)
		if err != nil {
			c.logger.Warn().Str("expiry_date", *data.ExpiryDate).Msg("skipping unparseable expiry date")
		} else {
			input.ExpiryDate = &t
		}
	}
	if data.ProductionDate != nil {
		t, err := parseEventDate(*data.ProductionDate)
		if err != nil {
			c.logger.Warn().Str("production_date", *data.ProductionDate).Msg("skipping unparseable production date")
		} else {
			input.ProductionDate = &t
		}
	}

	ctx = actor.WithActor(ctx, actor.SystemActor())
	_, err := c.lots.CreateLot(ctx, input)
	return err
}

func parseEventDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02", s, time.Local)
}
