package checkout

import (
	"context"
	"log"

	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/apperr"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/events"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/models"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/order"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// GetOrder returns one of the buyer's orders. Orders of other buyers are
// reported as not found.
func (s *Service) GetOrder(ctx context.Context, buyerID, orderID string) (*models.Order, error) {
	o, err := s.Orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if buyerID != "" && o.BuyerID != buyerID {
		return nil, order.NotFound(orderID)
	}
	return o, nil
}

// ListBuyerOrders returns all orders for a buyer
func (s *Service) ListBuyerOrders(ctx context.Context, buyerID string) ([]models.Order, error) {
	if buyerID == "" {
		return nil, apperr.Validation("buyer id is required")
	}
	return s.Orders.ListByBuyer(ctx, buyerID)
}

// ListSellerOrders returns the orders that contain the seller's items
func (s *Service) ListSellerOrders(ctx context.Context, sellerID string) ([]models.Order, error) {
	if sellerID == "" {
		return nil, apperr.Validation("seller id is required")
	}
	return s.Orders.ListBySeller(ctx, sellerID)
}

// UpdateOrderStatus moves an order one step forward on behalf of a seller
// owning at least one of its items.
func (s *Service) UpdateOrderStatus(ctx context.Context, orderID, sellerID string, newStatus models.OrderStatus) (*models.Order, error) {
	if sellerID == "" {
		return nil, apperr.Validation("seller id is required")
	}
	o, err := s.Orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !o.HasSeller(sellerID) {
		return nil, order.NotFound(orderID)
	}

	oldStatus := o.Status
	if !order.CanTransition(oldStatus, newStatus) {
		return nil, order.InvalidTransition(orderID, oldStatus, newStatus)
	}
	ok, err := s.Orders.UpdateStatus(ctx, orderID, oldStatus, newStatus)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Another update moved the order after we read it.
		return nil, order.InvalidTransition(orderID, oldStatus, newStatus)
	}
	o.Status = newStatus

	log.Printf("[ORDER] Status updated: order_id=%s seller_id=%s %s -> %s", orderID, sellerID, oldStatus, newStatus)
	s.Metrics.OrderStatusTransitions.Add(ctx, 1, metric.WithAttributes(s.Metrics.WithServiceName([]attribute.KeyValue{
		attribute.String("from", string(oldStatus)),
		attribute.String("to", string(newStatus)),
	})...))
	if newStatus == models.OrderStatusCompleted {
		s.Metrics.RevenueTotal.Add(ctx, o.GrandTotal, metric.WithAttributes(s.Metrics.WithServiceName([]attribute.KeyValue{
			attribute.String("currency", o.Currency),
			attribute.String("order_status", string(newStatus)),
		})...))
	}

	s.publishStatus(ctx, orderID, oldStatus, newStatus)
	return o, nil
}

func (s *Service) publishStatus(ctx context.Context, orderID string, oldStatus, newStatus models.OrderStatus) {
	env, err := events.NewEnvelope(events.TypeOrderStatusUpdated, orderID, events.OrderStatusUpdated{
		OrderID:   orderID,
		OldStatus: string(oldStatus),
		NewStatus: string(newStatus),
	})
	if err == nil {
		err = s.Publisher.Publish(ctx, orderID, env)
	}
	if err != nil {
		log.Printf("[ORDER] Failed to publish status update: order_id=%s error=%v", orderID, err)
		s.Metrics.RecordPostCommitFailure(ctx, "publish_status_updated")
	}
}
