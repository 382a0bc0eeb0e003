package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	// Lot lifecycle events
	EventLotCreated   = "lot.created"
	EventLotMoved     = "lot.moved"
	EventLotBlocked   = "lot.blocked"
	EventLotUnblocked = "lot.unblocked"
	EventLotSplit     = "lot.split"
	EventLotArchived  = "lot.archived"
	EventLotRestored  = "lot.restored"

	// Consumption events
	EventStockConsumed       = "stock.consumed"
	EventConsumptionAnnulled = "consumption.annulled"

	// Inventory count session events
	EventSessionCreated   = "session.created"
	EventSessionFinalized = "session.finalized"
	EventSessionCancelled = "session.cancelled"

	// Delivery intake events (consumed, published by the intake service)
	EventDeliveryLotReceived = "delivery.lot.received"
)

// Exchange names
const (
	ExchangeLotEvents      = "lot.events"
	ExchangeDeliveryEvents = "delivery.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            GenerateEventID(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Lot events

// LotCreatedEvent is published when a lot enters the system
type LotCreatedEvent struct {
	LotID        string  `json:"lot_id"`
	DisplayCode  string  `json:"display_code"`
	Kind         string  `json:"kind"`
	MaterialName string  `json:"material_name"`
	Quantity     float64 `json:"quantity"`
	Location     string  `json:"location"`
}

// LotMovedEvent is published when a lot changes location
type LotMovedEvent struct {
	LotID            string `json:"lot_id"`
	PreviousLocation string `json:"previous_location"`
	TargetLocation   string `json:"target_location"`
	Actor            string `json:"actor"`
}

// LotBlockStateChangedEvent is published on block and unblock
type LotBlockStateChangedEvent struct {
	LotID   string `json:"lot_id"`
	Blocked bool   `json:"blocked"`
	Reason  string `json:"reason,omitempty"`
	Actor   string `json:"actor"`
}

// LotSplitEvent is published when a lot is split into new lots
type LotSplitEvent struct {
	SourceLotID       string   `json:"source_lot_id"`
	NewLotIDs         []string `json:"new_lot_ids"`
	RemainingQuantity float64  `json:"remaining_quantity"`
	SourceConsumed    bool     `json:"source_consumed"`
}

// StockConsumedEvent is published when quantity is withdrawn from a lot
type StockConsumedEvent struct {
	ConsumptionID     string  `json:"consumption_id"`
	LotID             string  `json:"lot_id"`
	Amount            float64 `json:"amount"`
	RemainingQuantity float64 `json:"remaining_quantity"`
	Context           string  `json:"context"`
	Archived          bool    `json:"archived"`
}

// ConsumptionAnnulledEvent is published when a consumption is rolled back
type ConsumptionAnnulledEvent struct {
	ConsumptionID    string  `json:"consumption_id"`
	LotID            string  `json:"lot_id"`
	Amount           float64 `json:"amount"`
	RestoredLocation string  `json:"restored_location,omitempty"`
}

// Session events

// SessionCreatedEvent is published when a count session starts
type SessionCreatedEvent struct {
	SessionID string   `json:"session_id"`
	Name      string   `json:"name"`
	Locations []string `json:"locations"`
	Lots      int      `json:"lots"`
}

// SessionFinalizedEvent is published when counted state is committed
type SessionFinalizedEvent struct {
	SessionID     string `json:"session_id"`
	Discrepancies int    `json:"discrepancies"`
	Resolutions   int    `json:"resolutions"`
}

// SessionCancelledEvent is published when a session is discarded
type SessionCancelledEvent struct {
	SessionID string `json:"session_id"`
}

// Delivery events (produced by the intake service, consumed here)

// DeliveryLotReceivedEvent announces a new raw-material lot from goods intake
type DeliveryLotReceivedEvent struct {
	MaterialName   string  `json:"material_name"`
	Quantity       float64 `json:"quantity"`
	Location       string  `json:"location"`
	BatchNumber    string  `json:"batch_number"`
	ExpiryDate     *string `json:"expiry_date,omitempty"`     // RFC 3339 date
	ProductionDate *string `json:"production_date,omitempty"` // RFC 3339 date
	SupplierRef    string  `json:"supplier_ref,omitempty"`
}

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return uuid.New().String()
}
