// Package events holds the event-bus contracts exchanged between the
// storefront and the catalog service, and the Kafka transport carrying them.
//
// Delivery is at-least-once. Every consumer must tolerate duplicates.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types double as topic names.
const (
	TypeOrderCreated         = "order.created"
	TypeStockDeducted        = "stock.deducted"
	TypeStockDeductionFailed = "stock.deduction.failed"
	TypeOrderStatusUpdated   = "order.status.updated"
	TypeNotificationJob      = "notification.jobs"
)

// Envelope wraps every payload on the bus.
type Envelope struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	OrderID   string          `json:"order_id"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload"`
}

// LineItem identifies a quantity of a variant.
type LineItem struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

// OrderCreated asks the catalog service to deduct stock for an order.
type OrderCreated struct {
	OrderID string     `json:"order_id"`
	Items   []LineItem `json:"items"`
}

// StockDeducted reports that every item of an order was deducted.
type StockDeducted struct {
	OrderID string `json:"order_id"`
}

// StockDeductionFailed reports one item that could not be deducted.
type StockDeductionFailed struct {
	OrderID   string `json:"order_id"`
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Error     string `json:"error"`
}

// OrderStatusUpdated reports an accepted status transition.
type OrderStatusUpdated struct {
	OrderID   string `json:"order_id"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
}

// NewEnvelope marshals payload into a fresh envelope.
func NewEnvelope(eventType, orderID string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return Envelope{
		EventID:   uuid.NewString(),
		Type:      eventType,
		OrderID:   orderID,
		CreatedAt: time.Now().UTC(),
		Payload:   data,
	}, nil
}

// Decode unmarshals the payload into dst.
func (e Envelope) Decode(dst any) error {
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("failed to decode %s payload of event %s: %w", e.Type, e.EventID, err)
	}
	return nil
}

// Publisher sends an envelope to the topic named by its type. key selects the
// partition so all events of one order stay ordered.
type Publisher interface {
	Publish(ctx context.Context, key string, env Envelope) error
}

// Handler processes one delivered envelope. A returned error means the
// delivery should be retried.
type Handler func(ctx context.Context, env Envelope) error
