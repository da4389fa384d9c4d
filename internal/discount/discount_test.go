package discount

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/apperr"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/metrics"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu    sync.Mutex
	byID  map[string]*models.Discount
	fail  error
	incrs int
}

func newMemStore(discounts ...*models.Discount) *memStore {
	s := &memStore{byID: map[string]*models.Discount{}}
	for _, d := range discounts {
		s.byID[d.ID] = d
	}
	return s
}

func (s *memStore) GetByCode(_ context.Context, code string) (*models.Discount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	for _, d := range s.byID {
		if d.Code == code {
			cp := *d
			return &cp, nil
		}
	}
	return nil, apperr.NotFound(apperr.CodeDiscountNotFound, "discount not found")
}

func (s *memStore) GetByID(_ context.Context, id string) (*models.Discount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byID[id]
	if !ok {
		return nil, apperr.NotFound(apperr.CodeDiscountNotFound, "discount not found")
	}
	cp := *d
	return &cp, nil
}

func (s *memStore) IncrementUsage(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.byID[id]
	if d.MaxUses != nil && d.CurrentUses >= *d.MaxUses {
		return false, nil
	}
	d.CurrentUses++
	s.incrs++
	return true, nil
}

func (s *memStore) Create(_ context.Context, d *models.Discount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.byID {
		if other.Code == d.Code {
			return codeTaken(d.Code)
		}
	}
	cp := *d
	s.byID[d.ID] = &cp
	return nil
}

func (s *memStore) Update(_ context.Context, d *models.Discount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.byID[d.ID] = &cp
	return nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
	return nil
}

func (s *memStore) ListBySeller(_ context.Context, sellerID string) ([]models.Discount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Discount
	for _, d := range s.byID {
		if d.SellerID == sellerID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func ptr[T any](v T) *T { return &v }

var fixedNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newEngine(store Store) *Engine {
	e := NewEngine(store, metrics.NewNoop())
	e.now = func() time.Time { return fixedNow }
	return e
}

func TestCalculate(t *testing.T) {
	pct := &models.Discount{Type: models.DiscountPercentage, Value: 20}
	flat := &models.Discount{Type: models.DiscountFlat, Value: 500}

	assert.Equal(t, 40.0, Calculate(pct, 200))
	assert.Equal(t, 100.0, Calculate(flat, 100), "flat discount is capped at the cart value")
	assert.Equal(t, 500.0, Calculate(flat, 1200))
	assert.InDelta(t, 33.333, Calculate(&models.Discount{Type: models.DiscountPercentage, Value: 33.333}, 100), 1e-9)
	assert.InDelta(t, 4.9995, Calculate(&models.Discount{Type: models.DiscountPercentage, Value: 15}, 33.33), 1e-9,
		"percentage is exact, not rounded to cents")
	assert.Equal(t, 0.0, Calculate(pct, 0))

	for _, v := range []float64{0.01, 1, 99.99, 100, 12345.67} {
		assert.LessOrEqual(t, Calculate(flat, v), v)
		assert.LessOrEqual(t, Calculate(&models.Discount{Type: models.DiscountPercentage, Value: 100}, v), v)
	}
}

func TestValidate_RuleOrder(t *testing.T) {
	past := fixedNow.Add(-time.Hour)

	tests := []struct {
		name      string
		discount  *models.Discount
		cartValue float64
		want      apperr.Code
	}{
		{
			name:      "inactive wins over everything",
			discount:  &models.Discount{ID: "d", Code: "X", IsActive: false, ExpiryDate: &past, MaxUses: ptr(1), CurrentUses: 1, MinimumCartValue: ptr(1000.0)},
			cartValue: 10,
			want:      apperr.CodeDiscountInactive,
		},
		{
			name:      "expired before usage limit",
			discount:  &models.Discount{ID: "d", Code: "X", IsActive: true, ExpiryDate: &past, MaxUses: ptr(1), CurrentUses: 1},
			cartValue: 10,
			want:      apperr.CodeDiscountExpired,
		},
		{
			name:      "usage limit before minimum",
			discount:  &models.Discount{ID: "d", Code: "X", IsActive: true, MaxUses: ptr(2), CurrentUses: 2, MinimumCartValue: ptr(1000.0)},
			cartValue: 10,
			want:      apperr.CodeDiscountUsageLimit,
		},
		{
			name:      "below minimum",
			discount:  &models.Discount{ID: "d", Code: "X", IsActive: true, MinimumCartValue: ptr(1000.0)},
			cartValue: 999.99,
			want:      apperr.CodeDiscountBelowMinimum,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newEngine(newMemStore(tt.discount)).Validate(context.Background(), " x ", tt.cartValue)
			assert.Equal(t, tt.want, apperr.CodeOf(err))
			assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
		})
	}

	_, err := newEngine(newMemStore()).Validate(context.Background(), "NOPE", 10)
	assert.Equal(t, apperr.CodeDiscountNotFound, apperr.CodeOf(err))
}

func TestValidate_Passes(t *testing.T) {
	future := fixedNow.Add(time.Hour)
	d := &models.Discount{ID: "d", Code: "SAVE20", Type: models.DiscountPercentage, Value: 20, IsActive: true,
		ExpiryDate: &future, MaxUses: ptr(5), CurrentUses: 4, MinimumCartValue: ptr(200.0)}

	got, err := newEngine(newMemStore(d)).Validate(context.Background(), "save20", 200)
	require.NoError(t, err)
	assert.Equal(t, "d", got.ID)
}

func TestValidateDiscount(t *testing.T) {
	d := &models.Discount{ID: "d", Code: "SAVE20", Type: models.DiscountPercentage, Value: 20, IsActive: true}
	e := newEngine(newMemStore(d))

	res, err := e.ValidateDiscount(context.Background(), "SAVE20", 200)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, 40.0, res.DiscountAmount)

	res, err = e.ValidateDiscount(context.Background(), "OTHER", 200)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, apperr.CodeDiscountNotFound, res.Error.Code)

	store := newMemStore()
	store.fail = apperr.Infrastructure(assert.AnError, "db down")
	_, err = newEngine(store).ValidateDiscount(context.Background(), "SAVE20", 200)
	assert.Equal(t, apperr.KindInfrastructure, apperr.KindOf(err))
}

func TestIncrementUsage_StopsAtLimit(t *testing.T) {
	d := &models.Discount{ID: "d", Code: "ONCE", IsActive: true, MaxUses: ptr(1)}
	store := newMemStore(d)
	e := newEngine(store)

	require.NoError(t, e.IncrementUsage(context.Background(), "d"))
	err := e.IncrementUsage(context.Background(), "d")
	assert.Equal(t, apperr.CodeDiscountUsageLimit, apperr.CodeOf(err))
	assert.Equal(t, 1, store.incrs)
}

func TestSellerCRUD(t *testing.T) {
	store := newMemStore()
	e := newEngine(store)
	ctx := context.Background()

	d, err := e.Create(ctx, "s-1", Request{Code: " summer10 ", Type: models.DiscountPercentage, Value: 10})
	require.NoError(t, err)
	assert.Equal(t, "SUMMER10", d.Code)
	assert.True(t, d.IsActive)

	_, err = e.Create(ctx, "s-2", Request{Code: "SUMMER10", Type: models.DiscountFlat, Value: 50})
	assert.Equal(t, apperr.CodeDiscountCodeTaken, apperr.CodeOf(err))

	_, err = e.Get(ctx, "s-2", d.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err), "other sellers cannot see the discount")

	updated, err := e.Update(ctx, "s-1", d.ID, Request{Code: "SUMMER15", Type: models.DiscountPercentage, Value: 15, IsActive: ptr(false)})
	require.NoError(t, err)
	assert.Equal(t, "SUMMER15", updated.Code)
	assert.False(t, updated.IsActive)

	list, err := e.ListBySeller(ctx, "s-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(e.Delete(ctx, "s-2", d.ID)))
	require.NoError(t, e.Delete(ctx, "s-1", d.ID))
	_, err = e.Get(ctx, "s-1", d.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestCreate_Validation(t *testing.T) {
	e := newEngine(newMemStore())
	ctx := context.Background()

	bad := []Request{
		{Code: "", Type: models.DiscountFlat, Value: 1},
		{Code: "A B", Type: models.DiscountFlat, Value: 1},
		{Code: "X", Type: "BOGO", Value: 1},
		{Code: "X", Type: models.DiscountPercentage, Value: 101},
		{Code: "X", Type: models.DiscountFlat, Value: -1},
		{Code: "X", Type: models.DiscountFlat, Value: 1, MaxUses: ptr(0)},
		{Code: "X", Type: models.DiscountFlat, Value: 1, MinimumCartValue: ptr(-5.0)},
	}
	for _, req := range bad {
		_, err := e.Create(ctx, "s-1", req)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), "%+v", req)
	}
}
