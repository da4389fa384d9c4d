// Package checkout turns a buyer's cart into an order and drives the order
// status lifecycle.
//
// A checkout moves through a fixed sequence of states. Everything up to and
// including Persisted either succeeds or leaves no trace. Steps after the
// order is persisted are best-effort: their failures are logged and counted
// but never returned, and the outbox relay re-publishes events that did not
// make it onto the bus.
package checkout

import (
	"context"
	"log"
	"time"

	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/apperr"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/catalog"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/discount"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/events"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/metrics"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/models"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/notify"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/order"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/tax"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/pkg/logging"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// State is a step of the checkout saga.
type State string

const (
	StatePriced         State = "priced"
	StateStockValidated State = "stock_validated"
	StateTaxComputed    State = "tax_computed"
	StatePersisted      State = "persisted"
	StateEventsEmitted  State = "events_emitted"
	StateCartCleared    State = "cart_cleared"
	StateComplete       State = "complete"
)

var states = []State{
	StatePriced, StateStockValidated, StateTaxComputed, StatePersisted,
	StateEventsEmitted, StateCartCleared, StateComplete,
}

// Observer is notified every time a checkout enters a state.
type Observer func(ctx context.Context, orderID string, state State)

// Carts is the part of the cart service checkout needs.
type Carts interface {
	GetCart(ctx context.Context, buyerID string) (*models.CartWithPricing, error)
	Clear(ctx context.Context, buyerID string) error
}

// Discounts records a redemption.
type Discounts interface {
	IncrementUsage(ctx context.Context, discountID string) error
}

// Users resolves the buyer for the confirmation notification.
type Users interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// Notifier enqueues notification jobs.
type Notifier interface {
	Enqueue(ctx context.Context, job notify.Job) error
}

// Outbox marks events delivered after a direct publish.
type Outbox interface {
	MarkSent(ctx context.Context, eventID string) error
}

// Deps are the collaborators of a Service.
type Deps struct {
	Carts           Carts
	Catalog         catalog.Reader
	Orders          order.Store
	Discounts       Discounts
	Users           Users
	Notifier        Notifier
	Publisher       events.Publisher
	Outbox          Outbox
	Metrics         *metrics.AppMetrics
	DefaultCurrency string
	// Observer is optional.
	Observer Observer
}

// Service runs checkouts and order status changes.
type Service struct {
	Deps
}

// NewService creates a new checkout service
func NewService(deps Deps) *Service {
	if deps.DefaultCurrency == "" {
		deps.DefaultCurrency = "INR"
	}
	if deps.Observer == nil {
		deps.Observer = func(context.Context, string, State) {}
	}
	return &Service{Deps: deps}
}

// saga tracks one checkout and enforces that states advance one at a time.
type saga struct {
	svc     *Service
	buyerID string
	orderID string
	next    int
	start   time.Time
	stepAt  time.Time
}

func (s *saga) advance(ctx context.Context, state State) {
	if states[s.next] != state {
		panic("checkout: state " + string(state) + " out of order, expected " + string(states[s.next]))
	}
	s.next++
	logging.Log(logging.Fields{
		Service:    "checkout",
		BuyerID:    s.buyerID,
		OrderID:    s.orderID,
		Step:       string(state),
		Status:     "ok",
		DurationMS: time.Since(s.stepAt).Milliseconds(),
	})
	s.stepAt = time.Now()
	s.svc.Observer(ctx, s.orderID, state)
}

func (s *saga) fail(err error) {
	logging.Log(logging.Fields{
		Service:    "checkout",
		BuyerID:    s.buyerID,
		OrderID:    s.orderID,
		Step:       string(states[s.next]),
		Status:     "failed",
		DurationMS: time.Since(s.start).Milliseconds(),
		Message:    err.Error(),
	})
}

// Checkout converts the buyer's cart into an order. A non-empty
// idempotencyKey makes retries of the same request return the order created
// by the first one.
func (s *Service) Checkout(ctx context.Context, buyerID string, req models.CheckoutRequest, idempotencyKey string) (*models.Order, error) {
	start := time.Now()
	if buyerID == "" {
		return nil, apperr.Validation("buyer id is required")
	}

	if idempotencyKey != "" {
		existing, err := s.Orders.FindByIdempotencyKey(ctx, buyerID, idempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			log.Printf("[CHECKOUT] Idempotent replay: buyer_id=%s order_id=%s", buyerID, existing.ID)
			s.Metrics.RecordCheckout(ctx, "replay", start)
			return existing, nil
		}
	}

	sg := &saga{svc: s, buyerID: buyerID, orderID: uuid.NewString(), start: start, stepAt: start}
	o, env, err := s.prepare(ctx, sg, req)
	if err != nil {
		sg.fail(err)
		s.Metrics.RecordCheckout(ctx, outcome(err), start)
		return nil, err
	}

	if err := s.Orders.Create(ctx, o, idempotencyKey, env); err != nil {
		if errors.Is(err, order.ErrKeyReused) {
			// A concurrent request with the same key won the race.
			existing, ferr := s.Orders.FindByIdempotencyKey(ctx, buyerID, idempotencyKey)
			if ferr == nil && existing != nil {
				s.Metrics.RecordCheckout(ctx, "replay", start)
				return existing, nil
			}
		}
		sg.fail(err)
		s.Metrics.RecordCheckout(ctx, outcome(err), start)
		return nil, err
	}
	sg.advance(ctx, StatePersisted)
	s.recordOrder(ctx, o)
	log.Printf("[ORDER] Order created: order_id=%s buyer_id=%s items=%d grand_total=%.2f %s",
		o.ID, buyerID, len(o.Items), o.GrandTotal, o.Currency)

	s.emit(ctx, o, env)
	sg.advance(ctx, StateEventsEmitted)

	if err := s.Carts.Clear(ctx, buyerID); err != nil {
		s.postCommitFailure(ctx, o.ID, "clear_cart", err)
	}
	sg.advance(ctx, StateCartCleared)

	sg.advance(ctx, StateComplete)
	s.Metrics.RecordCheckout(ctx, "success", start)
	return o, nil
}

// prepare runs the pre-commit states and returns the order to persist with
// its order.created event.
func (s *Service) prepare(ctx context.Context, sg *saga, req models.CheckoutRequest) (*models.Order, events.Envelope, error) {
	priced, err := s.Carts.GetCart(ctx, sg.buyerID)
	if err != nil {
		return nil, events.Envelope{}, err
	}
	if len(priced.Lines) == 0 {
		return nil, events.Envelope{}, apperr.New(apperr.KindValidation, apperr.CodeEmptyCart, "cart is empty")
	}
	sg.advance(ctx, StatePriced)

	products := make([]*models.Product, len(priced.Lines))
	variants := make([]*models.Variant, len(priced.Lines))
	for i, line := range priced.Lines {
		product, err := s.Catalog.GetProduct(ctx, line.ProductID)
		if apperr.IsKind(err, apperr.KindNotFound) {
			return nil, events.Envelope{}, apperr.NotFound(apperr.CodeLineItemInvalid, "product %s no longer exists", line.ProductID).
				With("product_id", line.ProductID).
				With("variant_id", line.VariantID)
		}
		if err != nil {
			return nil, events.Envelope{}, err
		}
		variant, ok := product.FindVariant(line.VariantID)
		if !ok {
			return nil, events.Envelope{}, apperr.NotFound(apperr.CodeLineItemInvalid, "variant %s of product %s no longer exists", line.VariantID, line.ProductID).
				With("product_id", line.ProductID).
				With("variant_id", line.VariantID)
		}
		if variant.Stock < line.Quantity {
			return nil, events.Envelope{}, apperr.InsufficientStock(line.ProductID, line.VariantID, line.Quantity, variant.Stock)
		}
		products[i], variants[i] = product, variant
	}
	sg.advance(ctx, StateStockValidated)

	var (
		summary  tax.Summary
		subtotal = decimal.Zero
		items    = make([]models.OrderItem, len(priced.Lines))
		created  = events.OrderCreated{OrderID: sg.orderID, Items: make([]events.LineItem, len(priced.Lines))}
	)
	for i, line := range priced.Lines {
		p, v := products[i], variants[i]
		taxable := decimal.NewFromFloat(v.Price).Mul(decimal.NewFromInt(int64(line.Quantity))).Round(2)
		subtotal = subtotal.Add(taxable)
		lt := tax.ComputeLineTax(taxable.InexactFloat64(), p.SGSTRate, p.CGSTRate, p.IGSTRate)
		summary.Add(lt)

		items[i] = models.OrderItem{
			ProductID:     p.ID,
			VariantID:     v.ID,
			SellerID:      p.SellerID,
			SKU:           v.SKU,
			Price:         v.Price,
			Quantity:      line.Quantity,
			HSNCode:       p.HSNCode,
			GSTRate:       p.GSTRate,
			SGSTRate:      p.SGSTRate,
			CGSTRate:      p.CGSTRate,
			IGSTRate:      p.IGSTRate,
			TaxableAmount: lt.TaxableAmount,
			SGSTAmount:    lt.SGSTAmount,
			CGSTAmount:    lt.CGSTAmount,
			IGSTAmount:    lt.IGSTAmount,
			GSTAmount:     lt.GSTAmount,
			TotalAmount:   lt.TotalAmount,
		}
		created.Items[i] = events.LineItem{ProductID: p.ID, VariantID: v.ID, Quantity: line.Quantity}
	}

	// The discount was validated against the cart subtotal; recompute it on
	// the freshly fetched prices so it never exceeds what is charged.
	var discountAmount float64
	if priced.AppliedDiscount != nil {
		discountAmount = discount.Calculate(priced.AppliedDiscount, subtotal.InexactFloat64())
	}
	totals := summary.Totals(discountAmount)
	sg.advance(ctx, StateTaxComputed)

	currency := req.Currency
	if currency == "" {
		currency = s.DefaultCurrency
	}
	o := &models.Order{
		ID:              sg.orderID,
		BuyerID:         sg.buyerID,
		Status:          models.OrderStatusPending,
		Currency:        currency,
		TaxableSubtotal: totals.TaxableSubtotal,
		DiscountAmount:  totals.DiscountAmount,
		TotalSGST:       totals.TotalSGST,
		TotalCGST:       totals.TotalCGST,
		TotalIGST:       totals.TotalIGST,
		TotalGST:        totals.TotalGST,
		GrandTotal:      totals.GrandTotal,
		Items:           items,
	}
	if priced.AppliedDiscount != nil {
		o.DiscountID = &priced.AppliedDiscount.ID
		o.DiscountCode = priced.AppliedDiscount.Code
	}

	env, err := events.NewEnvelope(events.TypeOrderCreated, o.ID, created)
	if err != nil {
		return nil, events.Envelope{}, apperr.Infrastructure(err, "failed to build order event")
	}
	return o, env, nil
}

// emit runs the best-effort post-commit side effects.
func (s *Service) emit(ctx context.Context, o *models.Order, env events.Envelope) {
	if err := s.Publisher.Publish(ctx, o.ID, env); err != nil {
		s.postCommitFailure(ctx, o.ID, "publish_order_created", err)
	} else if err := s.Outbox.MarkSent(ctx, env.EventID); err != nil {
		s.postCommitFailure(ctx, o.ID, "mark_outbox_sent", err)
	}

	if o.DiscountID != nil {
		if err := s.Discounts.IncrementUsage(ctx, *o.DiscountID); err != nil {
			if apperr.CodeOf(err) == apperr.CodeDiscountUsageLimit {
				log.Printf("[CHECKOUT] Discount over-redeemed: order_id=%s discount_id=%s discount_code=%s", o.ID, *o.DiscountID, o.DiscountCode)
				s.Metrics.RecordDiscountOverRedeemed(ctx, *o.DiscountID)
				s.postCommitFailure(ctx, o.ID, "discount_overredeemed", err)
			} else {
				s.postCommitFailure(ctx, o.ID, "increment_discount_usage", err)
			}
		}
	}

	user, err := s.Users.GetUser(ctx, o.BuyerID)
	if err != nil {
		s.postCommitFailure(ctx, o.ID, "lookup_buyer", err)
		return
	}
	job := notify.Job{
		JobID:      notify.OrderConfirmationJobID(o.ID),
		OrderID:    o.ID,
		BuyerEmail: user.Email,
		BuyerName:  user.Name,
		Total:      o.GrandTotal,
		Currency:   o.Currency,
	}
	if err := s.Notifier.Enqueue(ctx, job); err != nil {
		s.postCommitFailure(ctx, o.ID, "enqueue_notification", err)
	}
}

func (s *Service) postCommitFailure(ctx context.Context, orderID, step string, err error) {
	log.Printf("[CHECKOUT] Post-commit step failed: order_id=%s step=%s error=%v", orderID, step, err)
	s.Metrics.RecordPostCommitFailure(ctx, step)
}

func (s *Service) recordOrder(ctx context.Context, o *models.Order) {
	orderAttrs := s.Metrics.WithServiceName([]attribute.KeyValue{
		attribute.String("order_status", string(o.Status)),
		attribute.Bool("discounted", o.DiscountID != nil),
	})
	s.Metrics.OrdersCreated.Add(ctx, 1, metric.WithAttributes(orderAttrs...))

	revenueAttrs := s.Metrics.WithServiceName([]attribute.KeyValue{
		attribute.String("currency", o.Currency),
		attribute.String("order_status", string(o.Status)),
	})
	s.Metrics.RevenueTotal.Add(ctx, o.GrandTotal, metric.WithAttributes(revenueAttrs...))
}

func outcome(err error) string {
	if code := apperr.CodeOf(err); code != "" {
		return string(code)
	}
	return string(apperr.CodeUnavailable)
}
