// Package order persists orders and owns the status lifecycle.
package order

import (
	"context"

	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/apperr"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/events"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/models"
	"github.com/go-faster/errors"
)

// Store persists orders.
type Store interface {
	// Create writes the order, its items and the order.created outbox event in
	// one transaction. A non-empty idempotencyKey is recorded in the same
	// transaction; reusing a key of the same buyer returns ErrKeyReused and
	// writes nothing.
	Create(ctx context.Context, o *models.Order, idempotencyKey string, created events.Envelope) error
	// FindByIdempotencyKey returns the order created under key, or nil when
	// the key was never used.
	FindByIdempotencyKey(ctx context.Context, buyerID, key string) (*models.Order, error)
	Get(ctx context.Context, orderID string) (*models.Order, error)
	ListByBuyer(ctx context.Context, buyerID string) ([]models.Order, error)
	// ListBySeller returns orders holding at least one item of sellerID.
	ListBySeller(ctx context.Context, sellerID string) ([]models.Order, error)
	// UpdateStatus moves the order from one status to another and reports
	// whether the order was still in from.
	UpdateStatus(ctx context.Context, orderID string, from, to models.OrderStatus) (bool, error)
}

// ErrKeyReused reports an idempotency key that already produced an order.
var ErrKeyReused = errors.New("idempotency key already used")

var next = map[models.OrderStatus]models.OrderStatus{
	models.OrderStatusPending: models.OrderStatusPaid,
	models.OrderStatusPaid:    models.OrderStatusShipped,
	models.OrderStatusShipped: models.OrderStatusCompleted,
}

// CanTransition reports whether from may move to to. Only single forward
// steps are allowed.
func CanTransition(from, to models.OrderStatus) bool {
	n, ok := next[from]
	return ok && n == to
}

// ParseStatus validates a client supplied status.
func ParseStatus(s string) (models.OrderStatus, error) {
	switch status := models.OrderStatus(s); status {
	case models.OrderStatusPending, models.OrderStatusPaid, models.OrderStatusShipped, models.OrderStatusCompleted:
		return status, nil
	}
	return "", apperr.Validation("unknown order status %q", s)
}

// InvalidTransition is the error for a rejected status change.
func InvalidTransition(orderID string, from, to models.OrderStatus) error {
	return apperr.Conflict(apperr.CodeInvalidTransition, "order %s cannot move from %s to %s", orderID, from, to).
		With("from", string(from)).
		With("to", string(to))
}

// NotFound is the error for a missing order.
func NotFound(orderID string) error {
	return apperr.NotFound(apperr.CodeOrderNotFound, "order %s not found", orderID)
}
