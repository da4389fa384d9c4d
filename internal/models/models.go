package models

import "time"

// Product is the catalog's view of a sellable item with its tax metadata.
// Intra-state products carry SGST+CGST and a zero IGST; inter-state products
// carry IGST only.
type Product struct {
	ID        string    `json:"id"`
	SellerID  string    `json:"seller_id"`
	Name      string    `json:"name"`
	HSNCode   string    `json:"hsn_code"`
	GSTRate   float64   `json:"gst_rate"`
	SGSTRate  float64   `json:"sgst_rate"`
	CGSTRate  float64   `json:"cgst_rate"`
	IGSTRate  float64   `json:"igst_rate"`
	Variants  []Variant `json:"variants"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Variant is a purchasable SKU of a product. Price is tax exclusive.
type Variant struct {
	ID    string  `json:"id"`
	SKU   string  `json:"sku"`
	Price float64 `json:"price"`
	Stock int     `json:"stock"`
}

// FindVariant returns the variant with the given id.
func (p *Product) FindVariant(variantID string) (*Variant, bool) {
	for i := range p.Variants {
		if p.Variants[i].ID == variantID {
			return &p.Variants[i], true
		}
	}
	return nil, false
}

// User represents a buyer or seller account
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Cart is a buyer's mutable cart. One per buyer.
type Cart struct {
	ID         string     `json:"id"`
	BuyerID    string     `json:"buyer_id"`
	DiscountID *string    `json:"discount_id,omitempty"`
	Items      []CartItem `json:"items"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// CartItem is a stored cart line. Prices are never stored on the cart.
type CartItem struct {
	ProductID string    `json:"product_id"`
	VariantID string    `json:"variant_id"`
	Quantity  int       `json:"quantity"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PricedLine is a cart line resolved against the catalog.
type PricedLine struct {
	ProductID string  `json:"product_id"`
	VariantID string  `json:"variant_id"`
	SellerID  string  `json:"seller_id"`
	Name      string  `json:"name"`
	SKU       string  `json:"sku"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
	Stock     int     `json:"stock"`
	LineTotal float64 `json:"line_total"`
}

// CartWithPricing is the cart as presented to the buyer after repricing.
type CartWithPricing struct {
	Cart         *Cart        `json:"cart"`
	Lines        []PricedLine `json:"lines"`
	Subtotal     float64      `json:"subtotal"`
	Discount     float64      `json:"discount"`
	DiscountCode string       `json:"discount_code,omitempty"`
	Total        float64      `json:"total"`

	// AppliedDiscount is the discount backing Discount, nil when none applies.
	AppliedDiscount *Discount `json:"-"`
}

// DiscountType is how a discount value is interpreted.
type DiscountType string

const (
	DiscountPercentage DiscountType = "PERCENTAGE"
	DiscountFlat       DiscountType = "FLAT"
)

// Discount is a seller-owned discount code.
type Discount struct {
	ID               string       `json:"id"`
	SellerID         string       `json:"seller_id"`
	Code             string       `json:"code"`
	Type             DiscountType `json:"type"`
	Value            float64      `json:"value"`
	MinimumCartValue *float64     `json:"minimum_cart_value,omitempty"`
	ExpiryDate       *time.Time   `json:"expiry_date,omitempty"`
	MaxUses          *int         `json:"max_uses,omitempty"`
	CurrentUses      int          `json:"current_uses"`
	IsActive         bool         `json:"is_active"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// OrderStatus is a step of the forward-only order lifecycle.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusShipped   OrderStatus = "SHIPPED"
	OrderStatusCompleted OrderStatus = "COMPLETED"
)

// Order is an immutable purchase record; only Status changes after creation.
type Order struct {
	ID              string      `json:"id"`
	BuyerID         string      `json:"buyer_id"`
	Status          OrderStatus `json:"status"`
	Currency        string      `json:"currency"`
	TaxableSubtotal float64     `json:"taxable_subtotal"`
	DiscountID      *string     `json:"discount_id,omitempty"`
	DiscountCode    string      `json:"discount_code,omitempty"`
	DiscountAmount  float64     `json:"discount_amount"`
	TotalSGST       float64     `json:"total_sgst"`
	TotalCGST       float64     `json:"total_cgst"`
	TotalIGST       float64     `json:"total_igst"`
	TotalGST        float64     `json:"total_gst"`
	GrandTotal      float64     `json:"grand_total"`
	Items           []OrderItem `json:"items"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// HasSeller reports whether any line of the order belongs to sellerID.
func (o *Order) HasSeller(sellerID string) bool {
	for _, item := range o.Items {
		if item.SellerID == sellerID {
			return true
		}
	}
	return false
}

// OrderItem snapshots the commercial and tax facts of a line at order time.
type OrderItem struct {
	ProductID     string  `json:"product_id"`
	VariantID     string  `json:"variant_id"`
	SellerID      string  `json:"seller_id"`
	SKU           string  `json:"sku"`
	Price         float64 `json:"price"`
	Quantity      int     `json:"quantity"`
	HSNCode       string  `json:"hsn_code"`
	GSTRate       float64 `json:"gst_rate"`
	SGSTRate      float64 `json:"sgst_rate"`
	CGSTRate      float64 `json:"cgst_rate"`
	IGSTRate      float64 `json:"igst_rate"`
	TaxableAmount float64 `json:"taxable_amount"`
	SGSTAmount    float64 `json:"sgst_amount"`
	CGSTAmount    float64 `json:"cgst_amount"`
	IGSTAmount    float64 `json:"igst_amount"`
	GSTAmount     float64 `json:"gst_amount"`
	TotalAmount   float64 `json:"total_amount"`
}

// AddToCartRequest represents a request to add item to cart
type AddToCartRequest struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

// ApplyDiscountRequest attaches a code to the buyer's cart.
type ApplyDiscountRequest struct {
	Code string `json:"code"`
}

// CheckoutRequest represents a request to convert the cart into an order
type CheckoutRequest struct {
	Currency string `json:"currency"`
}

// CreateUserRequest represents a request to create a user
type CreateUserRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}
