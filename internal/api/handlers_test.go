package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/apperr"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/discount"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/metrics"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/models"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCarts struct {
	added   []models.AddToCartRequest
	applied string
	err     error
}

func (c *fakeCarts) GetCart(_ context.Context, buyerID string) (*models.CartWithPricing, error) {
	if buyerID == "" {
		return nil, apperr.Validation("buyer id is required")
	}
	return &models.CartWithPricing{}, nil
}

func (c *fakeCarts) AddToCart(_ context.Context, _ string, req models.AddToCartRequest) error {
	if c.err != nil {
		return c.err
	}
	c.added = append(c.added, req)
	return nil
}

func (c *fakeCarts) UpdateCartItem(context.Context, string, string, string, int) error { return c.err }
func (c *fakeCarts) RemoveFromCart(context.Context, string, string, string) error      { return c.err }
func (c *fakeCarts) RemoveDiscount(context.Context, string) error                      { return c.err }

func (c *fakeCarts) ApplyDiscount(_ context.Context, _ string, code string) (*models.Discount, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.applied = code
	return &models.Discount{Code: code}, nil
}

type fakeOrders struct {
	gotKey    string
	gotStatus models.OrderStatus
	err       error
}

func (o *fakeOrders) Checkout(_ context.Context, buyerID string, req models.CheckoutRequest, key string) (*models.Order, error) {
	if o.err != nil {
		return nil, o.err
	}
	o.gotKey = key
	return &models.Order{ID: "o-1", BuyerID: buyerID, Currency: req.Currency, Status: models.OrderStatusPending}, nil
}

func (o *fakeOrders) GetOrder(_ context.Context, _, orderID string) (*models.Order, error) {
	if o.err != nil {
		return nil, o.err
	}
	return &models.Order{ID: orderID}, nil
}

func (o *fakeOrders) ListBuyerOrders(_ context.Context, buyerID string) ([]models.Order, error) {
	if buyerID == "" {
		return nil, apperr.Validation("buyer id is required")
	}
	return []models.Order{{ID: "o-buyer"}}, nil
}

func (o *fakeOrders) ListSellerOrders(context.Context, string) ([]models.Order, error) {
	return []models.Order{{ID: "o-seller"}}, nil
}

func (o *fakeOrders) UpdateOrderStatus(_ context.Context, orderID, _ string, status models.OrderStatus) (*models.Order, error) {
	if o.err != nil {
		return nil, o.err
	}
	o.gotStatus = status
	return &models.Order{ID: orderID, Status: status}, nil
}

type fakeDiscounts struct{ deleted string }

func (d *fakeDiscounts) ValidateDiscount(_ context.Context, code string, cartValue float64) (discount.ValidationResult, error) {
	if code != "SAVE10" {
		return discount.ValidationResult{Error: apperr.NotFound(apperr.CodeDiscountNotFound, "discount not found")}, nil
	}
	return discount.ValidationResult{Valid: true, DiscountAmount: cartValue / 10}, nil
}

func (d *fakeDiscounts) Create(_ context.Context, sellerID string, req discount.Request) (*models.Discount, error) {
	return &models.Discount{ID: "d-1", SellerID: sellerID, Code: req.Code}, nil
}

func (d *fakeDiscounts) Get(_ context.Context, _, id string) (*models.Discount, error) {
	return nil, apperr.NotFound(apperr.CodeDiscountNotFound, "discount %s not found", id)
}

func (d *fakeDiscounts) Update(_ context.Context, sellerID, id string, req discount.Request) (*models.Discount, error) {
	return &models.Discount{ID: id, SellerID: sellerID, Code: req.Code}, nil
}

func (d *fakeDiscounts) Delete(_ context.Context, _, id string) error {
	d.deleted = id
	return nil
}

func (d *fakeDiscounts) ListBySeller(context.Context, string) ([]models.Discount, error) {
	return []models.Discount{}, nil
}

type fakeUsers struct{ existing *models.User }

func (u *fakeUsers) CreateUser(_ context.Context, email, name string) (*models.User, error) {
	if u.existing != nil && u.existing.Email == email {
		return nil, apperr.Conflict(apperr.CodeUserExists, "user with email %s already exists", email)
	}
	return &models.User{ID: "u-new", Email: email, Name: name}, nil
}

func (u *fakeUsers) GetUser(_ context.Context, id string) (*models.User, error) {
	return nil, apperr.NotFound(apperr.CodeUserNotFound, "user %s not found", id)
}

func (u *fakeUsers) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	if u.existing != nil && u.existing.Email == email {
		return u.existing, nil
	}
	return nil, apperr.NotFound(apperr.CodeUserNotFound, "user not found")
}

type fixture struct {
	router    *mux.Router
	carts     *fakeCarts
	orders    *fakeOrders
	discounts *fakeDiscounts
	users     *fakeUsers
}

func newFixture(health HealthChecker) *fixture {
	f := &fixture{
		router:    mux.NewRouter(),
		carts:     &fakeCarts{},
		orders:    &fakeOrders{},
		discounts: &fakeDiscounts{},
		users:     &fakeUsers{},
	}
	NewApp(metrics.NewNoop(), f.carts, f.orders, f.discounts, f.users, health).SetupRoutes(f.router)
	return f
}

func (f *fixture) do(method, target, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apperr.Error {
	t.Helper()
	var body apperr.Error
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestCheckoutHandler_PassesIdempotencyKey(t *testing.T) {
	f := newFixture(nil)

	rec := f.do(http.MethodPost, "/api/v1/checkout?user_id=b-1", `{"currency":"INR"}`, IdempotencyKeyHeader, " key-1 ")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "key-1", f.orders.gotKey)

	var o models.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &o))
	assert.Equal(t, "b-1", o.BuyerID)
	assert.Equal(t, "INR", o.Currency)
}

func TestCheckoutHandler_EmptyBody(t *testing.T) {
	f := newFixture(nil)

	rec := f.do(http.MethodPost, "/api/v1/checkout?user_id=b-1", "")
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Empty(t, f.orders.gotKey)
}

func TestCheckoutHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   apperr.Code
	}{
		{"insufficient stock", apperr.InsufficientStock("p-1", "v-1", 3, 1), http.StatusConflict, apperr.CodeInsufficientStock},
		{"empty cart", apperr.New(apperr.KindValidation, apperr.CodeEmptyCart, "cart is empty"), http.StatusBadRequest, apperr.CodeEmptyCart},
		{"line item", apperr.NotFound(apperr.CodeLineItemInvalid, "product gone"), http.StatusNotFound, apperr.CodeLineItemInvalid},
		{"unclassified", assert.AnError, http.StatusServiceUnavailable, apperr.CodeUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(nil)
			f.orders.err = tt.err

			rec := f.do(http.MethodPost, "/api/v1/checkout?user_id=b-1", "{}")
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
		})
	}
}

func TestCheckoutHandler_UnclassifiedErrorHidesCause(t *testing.T) {
	f := newFixture(nil)
	f.orders.err = assert.AnError

	rec := f.do(http.MethodPost, "/api/v1/checkout?user_id=b-1", "{}")
	assert.NotContains(t, rec.Body.String(), assert.AnError.Error())
}

func TestRequiredUserID(t *testing.T) {
	f := newFixture(nil)

	for _, target := range []string{"/api/v1/checkout", "/api/v1/cart/items", "/api/v1/cart/discount"} {
		rec := f.do(http.MethodPost, target, "{}")
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.Equal(t, apperr.CodeValidationFailed, decodeError(t, rec).Code, target)
	}
}

func TestAddToCartHandler_RespondsWithCart(t *testing.T) {
	f := newFixture(nil)

	rec := f.do(http.MethodPost, "/api/v1/cart/items?user_id=b-1", `{"product_id":"p-1","variant_id":"v-1","quantity":2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []models.AddToCartRequest{{ProductID: "p-1", VariantID: "v-1", Quantity: 2}}, f.carts.added)
}

func TestAddToCartHandler_InvalidBody(t *testing.T) {
	f := newFixture(nil)

	rec := f.do(http.MethodPost, "/api/v1/cart/items?user_id=b-1", `{"quantity":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.carts.added)
}

func TestApplyDiscountHandler(t *testing.T) {
	f := newFixture(nil)

	rec := f.do(http.MethodPost, "/api/v1/cart/discount?user_id=b-1", `{"code":"SAVE10"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "SAVE10", f.carts.applied)

	f.carts.err = apperr.Conflict(apperr.CodeDiscountExpired, "discount expired")
	rec = f.do(http.MethodPost, "/api/v1/cart/discount?user_id=b-1", `{"code":"OLD"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apperr.CodeDiscountExpired, decodeError(t, rec).Code)
}

func TestUpdateOrderStatusHandler(t *testing.T) {
	f := newFixture(nil)

	rec := f.do(http.MethodPut, "/api/v1/orders/o-1/status?seller_id=s-1", `{"status":"PAID"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.OrderStatusPaid, f.orders.gotStatus)

	rec = f.do(http.MethodPut, "/api/v1/orders/o-1/status?seller_id=s-1", `{"status":"LOST"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPut, "/api/v1/orders/o-1/status", `{"status":"PAID"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListOrdersHandler(t *testing.T) {
	f := newFixture(nil)

	var orders []models.Order
	rec := f.do(http.MethodGet, "/api/v1/orders?seller_id=s-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &orders))
	assert.Equal(t, "o-seller", orders[0].ID)

	rec = f.do(http.MethodGet, "/api/v1/orders?user_id=b-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &orders))
	assert.Equal(t, "o-buyer", orders[0].ID)

	rec = f.do(http.MethodGet, "/api/v1/orders", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidateDiscountHandler(t *testing.T) {
	f := newFixture(nil)

	rec := f.do(http.MethodPost, "/api/v1/discounts/validate", `{"code":"SAVE10","cart_value":500}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var result discount.ValidationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Valid)
	assert.Equal(t, 50.0, result.DiscountAmount)

	rec = f.do(http.MethodPost, "/api/v1/discounts/validate", `{"code":"NOPE","cart_value":500}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.Valid)
	assert.Equal(t, apperr.CodeDiscountNotFound, result.Error.Code)
}

func TestDiscountCRUDHandlers(t *testing.T) {
	f := newFixture(nil)

	rec := f.do(http.MethodPost, "/api/v1/discounts?seller_id=s-1", `{"code":"SAVE10","type":"PERCENTAGE","value":10}`)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/discounts/d-9?seller_id=s-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodDelete, "/api/v1/discounts/d-1?seller_id=s-1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "d-1", f.discounts.deleted)

	rec = f.do(http.MethodGet, "/api/v1/discounts", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateUserHandler_DuplicateReturnsExisting(t *testing.T) {
	f := newFixture(nil)
	f.users.existing = &models.User{ID: "u-1", Email: "a@example.com", Name: "A"}

	rec := f.do(http.MethodPost, "/api/v1/users", `{"email":"a@example.com","name":"Again"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	var user models.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &user))
	assert.Equal(t, "u-1", user.ID)

	rec = f.do(http.MethodPost, "/api/v1/users", `{"email":"b@example.com","name":"B"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestGetUserHandler_NotFound(t *testing.T) {
	f := newFixture(nil)

	rec := f.do(http.MethodGet, "/api/v1/users/u-404", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperr.CodeUserNotFound, decodeError(t, rec).Code)
}

func TestHealthHandler(t *testing.T) {
	rec := newFixture(func(context.Context) error { return nil }).do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())

	rec = newFixture(func(context.Context) error { return assert.AnError }).do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPreflight(t *testing.T) {
	rec := newFixture(nil).do(http.MethodOptions, "/api/v1/checkout", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), IdempotencyKeyHeader)
}
