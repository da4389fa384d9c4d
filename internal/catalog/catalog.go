// Package catalog owns products, variants and their stock.
//
// The catalog service reads and writes its Postgres store directly; the
// storefront only reads, through Client.
package catalog

import (
	"context"

	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/apperr"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/models"
	"github.com/go-playground/validator/v10"
)

// Reader resolves a product with its variants. Missing products fail with
// a NotFound error coded PRODUCT_NOT_FOUND.
type Reader interface {
	GetProduct(ctx context.Context, productID string) (*models.Product, error)
}

// Store is the full catalog persistence port.
type Store interface {
	Reader

	// AdjustStock adds delta to a variant's stock and returns the new level.
	// A result below zero fails with InsufficientStock and changes nothing.
	AdjustStock(ctx context.Context, productID, variantID string, delta int) (int, error)

	// AdjustStockForOrder applies delta at most once per order line. It
	// reports false when the line was already applied.
	AdjustStockForOrder(ctx context.Context, orderID, productID, variantID string, delta int) (bool, error)

	// DeductionApplied reports whether AdjustStockForOrder already applied
	// the order line.
	DeductionApplied(ctx context.Context, orderID, productID, variantID string) (bool, error)

	CreateProduct(ctx context.Context, req CreateProductRequest) (*models.Product, error)
}

// CreateProductRequest registers a product with its variants.
type CreateProductRequest struct {
	SellerID string           `json:"seller_id" validate:"required"`
	Name     string           `json:"name" validate:"required,max=255"`
	HSNCode  string           `json:"hsn_code" validate:"required,max=16"`
	SGSTRate float64          `json:"sgst_rate" validate:"gte=0,lte=100"`
	CGSTRate float64          `json:"cgst_rate" validate:"gte=0,lte=100"`
	IGSTRate float64          `json:"igst_rate" validate:"gte=0,lte=100"`
	Variants []VariantRequest `json:"variants" validate:"required,min=1,dive"`
}

// VariantRequest is one SKU of a new product.
type VariantRequest struct {
	SKU   string  `json:"sku" validate:"required,max=64"`
	Price float64 `json:"price" validate:"gte=0"`
	Stock int     `json:"stock" validate:"gte=0"`
}

// AdjustStockRequest is the body of the stock adjustment endpoint.
type AdjustStockRequest struct {
	Delta int `json:"delta"`
}

// AdjustStockResponse reports the stock level after an adjustment.
type AdjustStockResponse struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Stock     int    `json:"stock"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and that a product is either intra-state
// (SGST+CGST) or inter-state (IGST), never both.
func (r CreateProductRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return apperr.Validation("invalid product: %v", err)
	}
	if (r.SGSTRate > 0 || r.CGSTRate > 0) && r.IGSTRate > 0 {
		return apperr.Validation("invalid product: igst_rate must be 0 when sgst_rate or cgst_rate is set")
	}
	seen := make(map[string]bool, len(r.Variants))
	for _, v := range r.Variants {
		if seen[v.SKU] {
			return apperr.Validation("invalid product: duplicate sku %s", v.SKU)
		}
		seen[v.SKU] = true
	}
	return nil
}

// GSTRate is the combined rate of the request.
func (r CreateProductRequest) GSTRate() float64 {
	return r.SGSTRate + r.CGSTRate + r.IGSTRate
}

func productNotFound(productID string) error {
	return apperr.NotFound(apperr.CodeProductNotFound, "product %s not found", productID).
		With("product_id", productID)
}

func variantNotFound(productID, variantID string) error {
	return apperr.NotFound(apperr.CodeVariantNotFound, "variant %s of product %s not found", variantID, productID).
		With("product_id", productID).
		With("variant_id", variantID)
}
