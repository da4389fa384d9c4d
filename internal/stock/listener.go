// Package stock reconciles catalog stock with created orders. It is the only
// writer of stock decrements.
package stock

import (
	"context"
	"log"
	"time"

	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/apperr"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/events"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
)

// Ledger applies a stock change at most once per order line.
type Ledger interface {
	// AdjustStockForOrder reports false when the line was already applied.
	AdjustStockForOrder(ctx context.Context, orderID, productID, variantID string, delta int) (bool, error)
	DeductionApplied(ctx context.Context, orderID, productID, variantID string) (bool, error)
}

// Metrics counts deductions by result.
type Metrics struct {
	Deductions *prometheus.CounterVec
	Exhausted  prometheus.Counter
}

// NewMetrics registers the listener metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Deductions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "catalog",
			Name:      "stock_deductions_total",
			Help:      "Order line stock deductions by result (ok, failed, duplicate).",
		}, []string{"result"}),
		Exhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storefront",
			Subsystem: "catalog",
			Name:      "stock_events_exhausted_total",
			Help:      "order.created events dropped after exhausting retries.",
		}),
	}
	reg.MustRegister(m.Deductions, m.Exhausted)
	return m
}

// Listener handles order.created events.
type Listener struct {
	ledger    Ledger
	publisher events.Publisher
	metrics   *Metrics
}

// NewListener creates a new stock listener
func NewListener(ledger Ledger, publisher events.Publisher, metrics *Metrics) *Listener {
	return &Listener{ledger: ledger, publisher: publisher, metrics: metrics}
}

// Handle deducts every item of the order. An item that cannot be deducted
// is reported with stock.deduction.failed and the rest still proceed; when
// all items succeed stock.deducted is published. Infrastructure failures are
// returned so the whole event is redelivered, which the ledger makes safe.
func (l *Listener) Handle(ctx context.Context, env events.Envelope) error {
	start := time.Now()
	var created events.OrderCreated
	if err := env.Decode(&created); err != nil {
		return events.Permanent(err)
	}
	if created.OrderID == "" {
		created.OrderID = env.OrderID
	}

	failed := 0
	for _, item := range created.Items {
		applied, err := l.ledger.AdjustStockForOrder(ctx, created.OrderID, item.ProductID, item.VariantID, -item.Quantity)
		switch {
		case apperr.IsKind(err, apperr.KindInfrastructure):
			return err
		case err != nil:
			failed++
			l.metrics.Deductions.WithLabelValues("failed").Inc()
			log.Printf("[STOCK] Deduction failed: order_id=%s product_id=%s variant_id=%s qty=%d error=%v",
				created.OrderID, item.ProductID, item.VariantID, item.Quantity, err)
			if perr := l.publish(ctx, created.OrderID, events.TypeStockDeductionFailed, events.StockDeductionFailed{
				OrderID:   created.OrderID,
				ProductID: item.ProductID,
				VariantID: item.VariantID,
				Error:     err.Error(),
			}); perr != nil {
				return perr
			}
		case !applied:
			l.metrics.Deductions.WithLabelValues("duplicate").Inc()
		default:
			l.metrics.Deductions.WithLabelValues("ok").Inc()
		}
	}

	status := "ok"
	if failed == 0 {
		if err := l.publish(ctx, created.OrderID, events.TypeStockDeducted, events.StockDeducted{OrderID: created.OrderID}); err != nil {
			return err
		}
	} else {
		status = "partial"
	}

	logging.Log(logging.Fields{
		Service:    "stock-listener",
		OrderID:    created.OrderID,
		EventID:    env.EventID,
		Step:       "deduct",
		Status:     status,
		DurationMS: time.Since(start).Milliseconds(),
	})
	return nil
}

// OnExhausted is the consumer hook for events that kept failing. Every line
// not yet applied is reported with stock.deduction.failed before the offset
// is committed. A line whose state cannot be read is reported too.
func (l *Listener) OnExhausted(ctx context.Context, env events.Envelope, err error) {
	l.metrics.Exhausted.Inc()
	logging.Log(logging.Fields{
		Service: "stock-listener",
		OrderID: env.OrderID,
		EventID: env.EventID,
		Step:    "deduct",
		Status:  "exhausted",
		Message: err.Error(),
	})

	var created events.OrderCreated
	if derr := env.Decode(&created); derr != nil {
		return
	}
	if created.OrderID == "" {
		created.OrderID = env.OrderID
	}
	for _, item := range created.Items {
		applied, aerr := l.ledger.DeductionApplied(ctx, created.OrderID, item.ProductID, item.VariantID)
		if aerr == nil && applied {
			continue
		}
		l.metrics.Deductions.WithLabelValues("failed").Inc()
		if perr := l.publish(ctx, created.OrderID, events.TypeStockDeductionFailed, events.StockDeductionFailed{
			OrderID:   created.OrderID,
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Error:     err.Error(),
		}); perr != nil {
			log.Printf("[STOCK] Failed to report exhausted deduction: order_id=%s product_id=%s variant_id=%s error=%v",
				created.OrderID, item.ProductID, item.VariantID, perr)
		}
	}
}

func (l *Listener) publish(ctx context.Context, orderID, eventType string, payload any) error {
	env, err := events.NewEnvelope(eventType, orderID, payload)
	if err != nil {
		return events.Permanent(err)
	}
	if err := l.publisher.Publish(ctx, orderID, env); err != nil {
		return apperr.Infrastructure(err, "failed to publish %s for order %s", eventType, orderID)
	}
	return nil
}
