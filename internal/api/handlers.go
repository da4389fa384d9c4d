package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/apperr"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/discount"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/metrics"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/middleware"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/models"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/order"
	"github.com/gorilla/mux"
)

// IdempotencyKeyHeader lets clients retry POST /checkout safely.
const IdempotencyKeyHeader = "Idempotency-Key"

// Carts is the cart service as seen by the HTTP layer.
type Carts interface {
	GetCart(ctx context.Context, buyerID string) (*models.CartWithPricing, error)
	AddToCart(ctx context.Context, buyerID string, req models.AddToCartRequest) error
	UpdateCartItem(ctx context.Context, buyerID, productID, variantID string, quantity int) error
	RemoveFromCart(ctx context.Context, buyerID, productID, variantID string) error
	ApplyDiscount(ctx context.Context, buyerID, code string) (*models.Discount, error)
	RemoveDiscount(ctx context.Context, buyerID string) error
}

// Orders is the checkout service as seen by the HTTP layer.
type Orders interface {
	Checkout(ctx context.Context, buyerID string, req models.CheckoutRequest, idempotencyKey string) (*models.Order, error)
	GetOrder(ctx context.Context, buyerID, orderID string) (*models.Order, error)
	ListBuyerOrders(ctx context.Context, buyerID string) ([]models.Order, error)
	ListSellerOrders(ctx context.Context, sellerID string) ([]models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID, sellerID string, status models.OrderStatus) (*models.Order, error)
}

// Discounts is the discount engine as seen by the HTTP layer.
type Discounts interface {
	ValidateDiscount(ctx context.Context, code string, cartValue float64) (discount.ValidationResult, error)
	Create(ctx context.Context, sellerID string, req discount.Request) (*models.Discount, error)
	Get(ctx context.Context, sellerID, id string) (*models.Discount, error)
	Update(ctx context.Context, sellerID, id string, req discount.Request) (*models.Discount, error)
	Delete(ctx context.Context, sellerID, id string) error
	ListBySeller(ctx context.Context, sellerID string) ([]models.Discount, error)
}

// Users is the user service as seen by the HTTP layer.
type Users interface {
	CreateUser(ctx context.Context, email, name string) (*models.User, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker func(ctx context.Context) error

// App holds application dependencies
type App struct {
	metrics   *metrics.AppMetrics
	carts     Carts
	orders    Orders
	discounts Discounts
	users     Users
	health    HealthChecker
}

// NewApp creates a new application instance
func NewApp(m *metrics.AppMetrics, carts Carts, orders Orders, discounts Discounts, users Users, health HealthChecker) *App {
	return &App{
		metrics:   m,
		carts:     carts,
		orders:    orders,
		discounts: discounts,
		users:     users,
		health:    health,
	}
}

// SetupRoutes configures the HTTP routes
func (a *App) SetupRoutes(r *mux.Router) {
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.CORSMiddleware)
	r.Use(middleware.RecoverMiddleware)
	r.Use(middleware.MetricsMiddleware(a.metrics))

	api := r.PathPrefix("/api/v1").Subrouter()
	// Preflight requests only reach CORSMiddleware through a matched route.
	api.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(http.ResponseWriter, *http.Request) {})

	// Cart
	api.HandleFunc("/cart", a.GetCartHandler).Methods("GET")
	api.HandleFunc("/cart/items", a.AddToCartHandler).Methods("POST")
	api.HandleFunc("/cart/items/{productId}/{variantId}", a.UpdateCartItemHandler).Methods("PUT")
	api.HandleFunc("/cart/items/{productId}/{variantId}", a.RemoveFromCartHandler).Methods("DELETE")
	api.HandleFunc("/cart/discount", a.ApplyDiscountHandler).Methods("POST")
	api.HandleFunc("/cart/discount", a.RemoveDiscountHandler).Methods("DELETE")

	// Checkout and orders
	api.HandleFunc("/checkout", a.CheckoutHandler).Methods("POST")
	api.HandleFunc("/orders", a.ListOrdersHandler).Methods("GET")
	api.HandleFunc("/orders/{id}", a.GetOrderHandler).Methods("GET")
	api.HandleFunc("/orders/{id}/status", a.UpdateOrderStatusHandler).Methods("PUT")

	// Discounts
	api.HandleFunc("/discounts/validate", a.ValidateDiscountHandler).Methods("POST")
	api.HandleFunc("/discounts", a.ListDiscountsHandler).Methods("GET")
	api.HandleFunc("/discounts", a.CreateDiscountHandler).Methods("POST")
	api.HandleFunc("/discounts/{id}", a.GetDiscountHandler).Methods("GET")
	api.HandleFunc("/discounts/{id}", a.UpdateDiscountHandler).Methods("PUT")
	api.HandleFunc("/discounts/{id}", a.DeleteDiscountHandler).Methods("DELETE")

	// Users
	api.HandleFunc("/users", a.CreateUserHandler).Methods("POST")
	api.HandleFunc("/users/{id}", a.GetUserHandler).Methods("GET")

	// Health
	r.HandleFunc("/health", a.HealthHandler).Methods("GET")
}

// HealthHandler handles health check requests
func (a *App) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if a.health != nil {
		if err := a.health(r.Context()); err != nil {
			log.Printf("[HEALTH] unhealthy: %v", err)
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// GetCartHandler handles GET /api/v1/cart
func (a *App) GetCartHandler(w http.ResponseWriter, r *http.Request) {
	cart, err := a.carts.GetCart(r.Context(), r.URL.Query().Get("user_id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cart)
}

// AddToCartHandler handles POST /api/v1/cart/items
func (a *App) AddToCartHandler(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := requireParam(w, r, "user_id")
	if !ok {
		return
	}
	var req models.AddToCartRequest
	if !decode(w, r, &req) {
		return
	}
	if err := a.carts.AddToCart(r.Context(), buyerID, req); err != nil {
		respondError(w, err)
		return
	}
	a.respondCart(w, r, buyerID, http.StatusOK)
}

// UpdateCartItemHandler handles PUT /api/v1/cart/items/{productId}/{variantId}
func (a *App) UpdateCartItemHandler(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := requireParam(w, r, "user_id")
	if !ok {
		return
	}
	var req struct {
		Quantity int `json:"quantity"`
	}
	if !decode(w, r, &req) {
		return
	}
	vars := mux.Vars(r)
	if err := a.carts.UpdateCartItem(r.Context(), buyerID, vars["productId"], vars["variantId"], req.Quantity); err != nil {
		respondError(w, err)
		return
	}
	a.respondCart(w, r, buyerID, http.StatusOK)
}

// RemoveFromCartHandler handles DELETE /api/v1/cart/items/{productId}/{variantId}
func (a *App) RemoveFromCartHandler(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := requireParam(w, r, "user_id")
	if !ok {
		return
	}
	vars := mux.Vars(r)
	if err := a.carts.RemoveFromCart(r.Context(), buyerID, vars["productId"], vars["variantId"]); err != nil {
		respondError(w, err)
		return
	}
	a.respondCart(w, r, buyerID, http.StatusOK)
}

// ApplyDiscountHandler handles POST /api/v1/cart/discount
func (a *App) ApplyDiscountHandler(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := requireParam(w, r, "user_id")
	if !ok {
		return
	}
	var req models.ApplyDiscountRequest
	if !decode(w, r, &req) {
		return
	}
	if _, err := a.carts.ApplyDiscount(r.Context(), buyerID, req.Code); err != nil {
		respondError(w, err)
		return
	}
	a.respondCart(w, r, buyerID, http.StatusOK)
}

// RemoveDiscountHandler handles DELETE /api/v1/cart/discount
func (a *App) RemoveDiscountHandler(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := requireParam(w, r, "user_id")
	if !ok {
		return
	}
	if err := a.carts.RemoveDiscount(r.Context(), buyerID); err != nil {
		respondError(w, err)
		return
	}
	a.respondCart(w, r, buyerID, http.StatusOK)
}

func (a *App) respondCart(w http.ResponseWriter, r *http.Request, buyerID string, status int) {
	cart, err := a.carts.GetCart(r.Context(), buyerID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, status, cart)
}

// CheckoutHandler handles POST /api/v1/checkout
func (a *App) CheckoutHandler(w http.ResponseWriter, r *http.Request) {
	buyerID, ok := requireParam(w, r, "user_id")
	if !ok {
		return
	}
	var req models.CheckoutRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}

	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	o, err := a.orders.Checkout(r.Context(), buyerID, req, key)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, o)
}

// ListOrdersHandler handles GET /api/v1/orders. With seller_id the orders
// containing the seller's items are listed, otherwise the buyer's orders.
func (a *App) ListOrdersHandler(w http.ResponseWriter, r *http.Request) {
	var (
		orders []models.Order
		err    error
	)
	if sellerID := r.URL.Query().Get("seller_id"); sellerID != "" {
		orders, err = a.orders.ListSellerOrders(r.Context(), sellerID)
	} else {
		orders, err = a.orders.ListBuyerOrders(r.Context(), r.URL.Query().Get("user_id"))
	}
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, orders)
}

// GetOrderHandler handles GET /api/v1/orders/{id}
func (a *App) GetOrderHandler(w http.ResponseWriter, r *http.Request) {
	o, err := a.orders.GetOrder(r.Context(), r.URL.Query().Get("user_id"), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

// UpdateOrderStatusHandler handles PUT /api/v1/orders/{id}/status
func (a *App) UpdateOrderStatusHandler(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := requireParam(w, r, "seller_id")
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if !decode(w, r, &req) {
		return
	}
	status, err := order.ParseStatus(req.Status)
	if err != nil {
		respondError(w, err)
		return
	}

	o, err := a.orders.UpdateOrderStatus(r.Context(), mux.Vars(r)["id"], sellerID, status)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

// ValidateDiscountHandler handles POST /api/v1/discounts/validate
func (a *App) ValidateDiscountHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code      string  `json:"code"`
		CartValue float64 `json:"cart_value"`
	}
	if !decode(w, r, &req) {
		return
	}
	result, err := a.discounts.ValidateDiscount(r.Context(), req.Code, req.CartValue)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// ListDiscountsHandler handles GET /api/v1/discounts
func (a *App) ListDiscountsHandler(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := requireParam(w, r, "seller_id")
	if !ok {
		return
	}
	list, err := a.discounts.ListBySeller(r.Context(), sellerID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

// CreateDiscountHandler handles POST /api/v1/discounts
func (a *App) CreateDiscountHandler(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := requireParam(w, r, "seller_id")
	if !ok {
		return
	}
	var req discount.Request
	if !decode(w, r, &req) {
		return
	}
	d, err := a.discounts.Create(r.Context(), sellerID, req)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, d)
}

// GetDiscountHandler handles GET /api/v1/discounts/{id}
func (a *App) GetDiscountHandler(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := requireParam(w, r, "seller_id")
	if !ok {
		return
	}
	d, err := a.discounts.Get(r.Context(), sellerID, mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}

// UpdateDiscountHandler handles PUT /api/v1/discounts/{id}
func (a *App) UpdateDiscountHandler(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := requireParam(w, r, "seller_id")
	if !ok {
		return
	}
	var req discount.Request
	if !decode(w, r, &req) {
		return
	}
	d, err := a.discounts.Update(r.Context(), sellerID, mux.Vars(r)["id"], req)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}

// DeleteDiscountHandler handles DELETE /api/v1/discounts/{id}
func (a *App) DeleteDiscountHandler(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := requireParam(w, r, "seller_id")
	if !ok {
		return
	}
	if err := a.discounts.Delete(r.Context(), sellerID, mux.Vars(r)["id"]); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateUserHandler handles POST /api/v1/users. Creating an existing e-mail
// answers 409 with the existing user.
func (a *App) CreateUserHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CreateUserRequest
	if !decode(w, r, &req) {
		return
	}

	user, err := a.users.CreateUser(r.Context(), req.Email, req.Name)
	if apperr.CodeOf(err) == apperr.CodeUserExists {
		if existing, lookupErr := a.users.GetUserByEmail(r.Context(), req.Email); lookupErr == nil {
			respondJSON(w, http.StatusConflict, existing)
			return
		}
	}
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, user)
}

// GetUserHandler handles GET /api/v1/users/{id}
func (a *App) GetUserHandler(w http.ResponseWriter, r *http.Request) {
	user, err := a.users.GetUser(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

func requireParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		respondError(w, apperr.Validation("%s query parameter is required", name))
		return "", false
	}
	return v, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, apperr.Validation("invalid request body"))
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Printf("[API] request failed: status=%d error=%v", status, err)
	}
	respondJSON(w, status, apperr.Public(err))
}
