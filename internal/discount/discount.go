// Package discount validates seller discount codes against a cart value,
// computes the amount they take off and records redemptions.
package discount

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/apperr"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/metrics"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Engine is the discount service.
type Engine struct {
	store    Store
	metrics  *metrics.AppMetrics
	validate *validator.Validate
	now      func() time.Time
}

// NewEngine creates a discount engine over store.
func NewEngine(store Store, metrics *metrics.AppMetrics) *Engine {
	return &Engine{
		store:    store,
		metrics:  metrics,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
	}
}

// NormalizeCode trims and upper-cases a code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate loads the discount for code and checks it against cartValue.
func (e *Engine) Validate(ctx context.Context, code string, cartValue float64) (*models.Discount, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, apperr.NotFound(apperr.CodeDiscountNotFound, "discount not found")
	}
	d, err := e.store.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := e.Check(d, cartValue); err != nil {
		return nil, err
	}
	return d, nil
}

// Check applies the rules to an already loaded discount. The first failing
// rule wins: inactive, expired, usage limit, then minimum cart value.
func (e *Engine) Check(d *models.Discount, cartValue float64) error {
	if !d.IsActive {
		return apperr.Conflict(apperr.CodeDiscountInactive, "discount %s is not active", d.Code)
	}
	if d.ExpiryDate != nil && d.ExpiryDate.Before(e.now()) {
		return apperr.Conflict(apperr.CodeDiscountExpired, "discount %s has expired", d.Code)
	}
	if d.MaxUses != nil && d.CurrentUses >= *d.MaxUses {
		return apperr.Conflict(apperr.CodeDiscountUsageLimit, "discount %s has reached its usage limit", d.Code)
	}
	if d.MinimumCartValue != nil && cartValue < *d.MinimumCartValue {
		return apperr.Conflict(apperr.CodeDiscountBelowMinimum,
			"cart value %.2f is below the minimum %.2f for discount %s", cartValue, *d.MinimumCartValue, d.Code).
			With("minimum_cart_value", *d.MinimumCartValue)
	}
	return nil
}

// Calculate returns the amount d takes off cartValue. A percentage is not
// rounded here; the order snapshot rounds it. A flat amount never exceeds
// the cart value.
func Calculate(d *models.Discount, cartValue float64) float64 {
	if cartValue <= 0 {
		return 0
	}
	switch d.Type {
	case models.DiscountPercentage:
		return cartValue * d.Value / 100
	case models.DiscountFlat:
		return min(d.Value, cartValue)
	default:
		return 0
	}
}

// ValidationResult is the outcome of ValidateDiscount.
type ValidationResult struct {
	Valid          bool             `json:"valid"`
	Discount       *models.Discount `json:"discount,omitempty"`
	DiscountAmount float64          `json:"discount_amount,omitempty"`
	Error          *apperr.Error    `json:"error,omitempty"`
}

// ValidateDiscount reports whether code applies to cartValue. Domain
// failures are part of the result; only infrastructure failures are returned.
func (e *Engine) ValidateDiscount(ctx context.Context, code string, cartValue float64) (ValidationResult, error) {
	d, err := e.Validate(ctx, code, cartValue)
	if err != nil {
		if apperr.IsKind(err, apperr.KindInfrastructure) {
			return ValidationResult{}, err
		}
		return ValidationResult{Valid: false, Error: apperr.Public(err)}, nil
	}
	return ValidationResult{Valid: true, Discount: d, DiscountAmount: Calculate(d, cartValue)}, nil
}

// GetByID returns a discount by id.
func (e *Engine) GetByID(ctx context.Context, id string) (*models.Discount, error) {
	return e.store.GetByID(ctx, id)
}

// IncrementUsage records one redemption. It fails with DISCOUNT_USAGE_LIMIT
// when the limit was reached concurrently.
func (e *Engine) IncrementUsage(ctx context.Context, id string) error {
	ok, err := e.store.IncrementUsage(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Conflict(apperr.CodeDiscountUsageLimit, "discount %s has reached its usage limit", id)
	}
	e.metrics.DiscountRedemptions.Add(ctx, 1, metric.WithAttributes(e.metrics.WithServiceName([]attribute.KeyValue{
		attribute.String("discount_id", id),
	})...))
	return nil
}

// Request creates or replaces a seller discount.
type Request struct {
	Code             string              `json:"code" validate:"required,max=32"`
	Type             models.DiscountType `json:"type" validate:"required,oneof=PERCENTAGE FLAT"`
	Value            float64             `json:"value" validate:"gte=0"`
	MinimumCartValue *float64            `json:"minimum_cart_value" validate:"omitempty,gte=0"`
	ExpiryDate       *time.Time          `json:"expiry_date"`
	MaxUses          *int                `json:"max_uses" validate:"omitempty,gte=1"`
	IsActive         *bool               `json:"is_active"`
}

func (e *Engine) check(req *Request) error {
	req.Code = NormalizeCode(req.Code)
	if err := e.validate.Struct(req); err != nil {
		return apperr.Validation("invalid discount: %v", err)
	}
	if strings.ContainsAny(req.Code, " \t\n") {
		return apperr.Validation("invalid discount: code must not contain whitespace")
	}
	if req.Type == models.DiscountPercentage && req.Value > 100 {
		return apperr.Validation("invalid discount: percentage value must be between 0 and 100")
	}
	return nil
}

// Create registers a discount owned by sellerID.
func (e *Engine) Create(ctx context.Context, sellerID string, req Request) (*models.Discount, error) {
	if sellerID == "" {
		return nil, apperr.Validation("seller_id is required")
	}
	if err := e.check(&req); err != nil {
		return nil, err
	}

	now := e.now().UTC()
	d := &models.Discount{
		ID:               uuid.NewString(),
		SellerID:         sellerID,
		Code:             req.Code,
		Type:             req.Type,
		Value:            req.Value,
		MinimumCartValue: req.MinimumCartValue,
		ExpiryDate:       req.ExpiryDate,
		MaxUses:          req.MaxUses,
		IsActive:         req.IsActive == nil || *req.IsActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.store.Create(ctx, d); err != nil {
		return nil, err
	}
	log.Printf("[DISCOUNT] Discount created: discount_id=%s seller_id=%s code=%s type=%s value=%.2f",
		d.ID, sellerID, d.Code, d.Type, d.Value)
	return d, nil
}

// Get returns a discount owned by sellerID. Other sellers' discounts are
// reported as not found.
func (e *Engine) Get(ctx context.Context, sellerID, id string) (*models.Discount, error) {
	d, err := e.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.SellerID != sellerID {
		return nil, apperr.NotFound(apperr.CodeDiscountNotFound, "discount not found")
	}
	return d, nil
}

// Update replaces the mutable fields of a seller's discount.
func (e *Engine) Update(ctx context.Context, sellerID, id string, req Request) (*models.Discount, error) {
	if err := e.check(&req); err != nil {
		return nil, err
	}
	d, err := e.Get(ctx, sellerID, id)
	if err != nil {
		return nil, err
	}
	if req.MaxUses != nil && *req.MaxUses < d.CurrentUses {
		return nil, apperr.Validation("invalid discount: max_uses %d is below current uses %d", *req.MaxUses, d.CurrentUses)
	}

	d.Code = req.Code
	d.Type = req.Type
	d.Value = req.Value
	d.MinimumCartValue = req.MinimumCartValue
	d.ExpiryDate = req.ExpiryDate
	d.MaxUses = req.MaxUses
	if req.IsActive != nil {
		d.IsActive = *req.IsActive
	}
	d.UpdatedAt = e.now().UTC()

	if err := e.store.Update(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Delete removes a seller's discount.
func (e *Engine) Delete(ctx context.Context, sellerID, id string) error {
	if _, err := e.Get(ctx, sellerID, id); err != nil {
		return err
	}
	return e.store.Delete(ctx, id)
}

// ListBySeller returns a seller's discounts.
func (e *Engine) ListBySeller(ctx context.Context, sellerID string) ([]models.Discount, error) {
	return e.store.ListBySeller(ctx, sellerID)
}
