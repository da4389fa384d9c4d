// Package cart keeps buyer carts and prices them against the live catalog.
//
// Prices are never stored on a cart. Every read re-resolves each line through
// the catalog and re-validates the attached discount against the fresh
// subtotal, detaching it when it no longer applies.
package cart

import (
	"context"
	"log"
	"time"

	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/apperr"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/catalog"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/discount"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/metrics"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/models"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Discounts is the part of the discount engine the cart needs.
type Discounts interface {
	Validate(ctx context.Context, code string, cartValue float64) (*models.Discount, error)
	GetByID(ctx context.Context, id string) (*models.Discount, error)
	Check(d *models.Discount, cartValue float64) error
}

// CartService handles cart-related operations
type CartService struct {
	store     Store
	catalog   catalog.Reader
	discounts Discounts
	metrics   *metrics.AppMetrics
}

// NewCartService creates a new cart service
func NewCartService(store Store, catalog catalog.Reader, discounts Discounts, metrics *metrics.AppMetrics) *CartService {
	return &CartService{
		store:     store,
		catalog:   catalog,
		discounts: discounts,
		metrics:   metrics,
	}
}

// MonitorActiveCarts periodically records the active carts gauge until ctx
// is cancelled.
func (s *CartService) MonitorActiveCarts(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := s.store.CountActive(ctx)
			if err != nil {
				log.Printf("[CART] active carts count failed: %v", err)
				continue
			}
			s.metrics.ActiveCartsCount.Record(ctx, int64(count), metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{})...))
		}
	}
}

// GetCart returns the buyer's cart priced against the catalog.
func (s *CartService) GetCart(ctx context.Context, buyerID string) (*models.CartWithPricing, error) {
	if buyerID == "" {
		return nil, apperr.Validation("buyer id is required")
	}
	cart, err := s.store.GetOrCreate(ctx, buyerID)
	if err != nil {
		return nil, err
	}

	lines := make([]models.PricedLine, 0, len(cart.Items))
	subtotal := decimal.Zero
	for _, item := range cart.Items {
		line, err := s.price(ctx, item)
		if err != nil {
			return nil, err
		}
		subtotal = subtotal.Add(decimal.NewFromFloat(line.Price).Mul(decimal.NewFromInt(int64(line.Quantity))))
		lines = append(lines, line)
	}

	priced := &models.CartWithPricing{
		Cart:     cart,
		Lines:    lines,
		Subtotal: subtotal.InexactFloat64(),
	}

	if cart.DiscountID != nil {
		d, err := s.attachedDiscount(ctx, cart, priced.Subtotal)
		if err != nil {
			return nil, err
		}
		if d != nil {
			priced.AppliedDiscount = d
			priced.DiscountCode = d.Code
			priced.Discount = discount.Calculate(d, priced.Subtotal)
		}
	}

	priced.Total = subtotal.Sub(decimal.NewFromFloat(priced.Discount)).InexactFloat64()
	s.recordCartItems(ctx, buyerID, len(lines))
	return priced, nil
}

func (s *CartService) price(ctx context.Context, item models.CartItem) (models.PricedLine, error) {
	product, err := s.catalog.GetProduct(ctx, item.ProductID)
	if apperr.IsKind(err, apperr.KindNotFound) {
		return models.PricedLine{}, lineItemInvalid(item, "product no longer exists")
	}
	if err != nil {
		return models.PricedLine{}, err
	}
	variant, ok := product.FindVariant(item.VariantID)
	if !ok {
		return models.PricedLine{}, lineItemInvalid(item, "variant no longer exists")
	}

	return models.PricedLine{
		ProductID: product.ID,
		VariantID: variant.ID,
		SellerID:  product.SellerID,
		Name:      product.Name,
		SKU:       variant.SKU,
		Price:     variant.Price,
		Quantity:  item.Quantity,
		Stock:     variant.Stock,
		LineTotal: decimal.NewFromFloat(variant.Price).Mul(decimal.NewFromInt(int64(item.Quantity))).InexactFloat64(),
	}, nil
}

// attachedDiscount returns the cart's discount while it still applies to
// subtotal. A discount that fails a domain rule is detached and nil is
// returned; infrastructure failures are returned as errors.
func (s *CartService) attachedDiscount(ctx context.Context, cart *models.Cart, subtotal float64) (*models.Discount, error) {
	discountID := *cart.DiscountID

	d, err := s.discounts.GetByID(ctx, discountID)
	if err == nil {
		err = s.discounts.Check(d, subtotal)
		if err == nil {
			return d, nil
		}
	}
	if apperr.IsKind(err, apperr.KindInfrastructure) {
		return nil, err
	}

	detached, derr := s.store.DetachDiscount(ctx, cart.ID, discountID)
	if derr != nil {
		return nil, derr
	}
	cart.DiscountID = nil
	if detached {
		log.Printf("[CART] Discount detached: buyer_id=%s discount_id=%s reason=%s",
			cart.BuyerID, discountID, apperr.CodeOf(err))
		s.metrics.DiscountsDetached.Add(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
			attribute.String("reason", string(apperr.CodeOf(err))),
		})...))
	}
	return nil, nil
}

// AddToCart adds quantity of a variant, merging with an existing line.
func (s *CartService) AddToCart(ctx context.Context, buyerID string, req models.AddToCartRequest) error {
	if req.Quantity <= 0 {
		return apperr.Validation("quantity must be greater than zero")
	}
	if req.ProductID == "" || req.VariantID == "" {
		return apperr.Validation("product_id and variant_id are required")
	}
	cart, err := s.store.GetOrCreate(ctx, buyerID)
	if err != nil {
		return err
	}

	variant, err := s.variant(ctx, req.ProductID, req.VariantID)
	if err != nil {
		return err
	}

	existing := 0
	if item, ok := findItem(cart, req.ProductID, req.VariantID); ok {
		existing = item.Quantity
	}
	want := existing + req.Quantity
	if variant.Stock < want {
		return apperr.InsufficientStock(req.ProductID, req.VariantID, want, variant.Stock)
	}

	if err := s.store.SetItemQuantity(ctx, cart.ID, req.ProductID, req.VariantID, want); err != nil {
		return err
	}
	s.recordCartItems(ctx, buyerID, len(cart.Items)+boolToInt(existing == 0))
	return nil
}

// UpdateCartItem sets a line's quantity. A quantity of zero or less removes
// the line.
func (s *CartService) UpdateCartItem(ctx context.Context, buyerID, productID, variantID string, quantity int) error {
	cart, err := s.store.GetOrCreate(ctx, buyerID)
	if err != nil {
		return err
	}
	if _, ok := findItem(cart, productID, variantID); !ok {
		return cartItemNotFound(productID, variantID)
	}

	if quantity <= 0 {
		return s.removeLine(ctx, cart, productID, variantID)
	}

	variant, err := s.variant(ctx, productID, variantID)
	if err != nil {
		return err
	}
	if variant.Stock < quantity {
		return apperr.InsufficientStock(productID, variantID, quantity, variant.Stock)
	}
	return s.store.SetItemQuantity(ctx, cart.ID, productID, variantID, quantity)
}

// RemoveFromCart removes a line from the cart.
func (s *CartService) RemoveFromCart(ctx context.Context, buyerID, productID, variantID string) error {
	cart, err := s.store.GetOrCreate(ctx, buyerID)
	if err != nil {
		return err
	}
	return s.removeLine(ctx, cart, productID, variantID)
}

func (s *CartService) removeLine(ctx context.Context, cart *models.Cart, productID, variantID string) error {
	removed, err := s.store.DeleteItem(ctx, cart.ID, productID, variantID)
	if err != nil {
		return err
	}
	if !removed {
		return cartItemNotFound(productID, variantID)
	}
	s.recordCartItems(ctx, cart.BuyerID, len(cart.Items)-1)
	return nil
}

// ApplyDiscount validates code against the current subtotal and attaches it.
func (s *CartService) ApplyDiscount(ctx context.Context, buyerID, code string) (*models.Discount, error) {
	priced, err := s.GetCart(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	d, err := s.discounts.Validate(ctx, code, priced.Subtotal)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetDiscount(ctx, priced.Cart.ID, &d.ID); err != nil {
		return nil, err
	}
	log.Printf("[CART] Discount applied: buyer_id=%s discount_id=%s code=%s", buyerID, d.ID, d.Code)
	return d, nil
}

// RemoveDiscount detaches any discount from the cart.
func (s *CartService) RemoveDiscount(ctx context.Context, buyerID string) error {
	cart, err := s.store.GetOrCreate(ctx, buyerID)
	if err != nil {
		return err
	}
	return s.store.SetDiscount(ctx, cart.ID, nil)
}

// Clear removes all lines and the discount.
func (s *CartService) Clear(ctx context.Context, buyerID string) error {
	cart, err := s.store.GetOrCreate(ctx, buyerID)
	if err != nil {
		return err
	}
	if err := s.store.Clear(ctx, cart.ID); err != nil {
		return err
	}
	s.recordCartItems(ctx, buyerID, 0)
	return nil
}

func (s *CartService) variant(ctx context.Context, productID, variantID string) (*models.Variant, error) {
	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	variant, ok := product.FindVariant(variantID)
	if !ok {
		return nil, apperr.NotFound(apperr.CodeVariantNotFound, "variant %s of product %s not found", variantID, productID)
	}
	return variant, nil
}

// recordCartItems updates the cart items count gauge metric
func (s *CartService) recordCartItems(ctx context.Context, buyerID string, count int) {
	s.metrics.CartItemsCount.Record(ctx, int64(max(count, 0)), metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.String("buyer_id", buyerID),
	})...))
}

func findItem(cart *models.Cart, productID, variantID string) (models.CartItem, bool) {
	for _, item := range cart.Items {
		if item.ProductID == productID && item.VariantID == variantID {
			return item, true
		}
	}
	return models.CartItem{}, false
}

func lineItemInvalid(item models.CartItem, reason string) error {
	return apperr.NotFound(apperr.CodeLineItemInvalid, "cart line %s/%s is invalid: %s", item.ProductID, item.VariantID, reason).
		With("product_id", item.ProductID).
		With("variant_id", item.VariantID)
}

func cartItemNotFound(productID, variantID string) error {
	return apperr.NotFound(apperr.CodeCartItemNotFound, "cart has no line for product %s variant %s", productID, variantID)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
