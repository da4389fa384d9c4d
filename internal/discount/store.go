package discount

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/apperr"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/db"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/metrics"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/models"
)

// Store persists discounts.
type Store interface {
	GetByCode(ctx context.Context, code string) (*models.Discount, error)
	GetByID(ctx context.Context, id string) (*models.Discount, error)
	// IncrementUsage bumps current_uses unless max_uses is reached and
	// reports whether it did.
	IncrementUsage(ctx context.Context, id string) (bool, error)
	Create(ctx context.Context, d *models.Discount) error
	Update(ctx context.Context, d *models.Discount) error
	Delete(ctx context.Context, id string) error
	ListBySeller(ctx context.Context, sellerID string) ([]models.Discount, error)
}

// MySQLStore is the storefront's discounts table.
type MySQLStore struct {
	db      *db.DB
	metrics *metrics.AppMetrics
}

// NewMySQLStore creates a new discount store
func NewMySQLStore(db *db.DB, metrics *metrics.AppMetrics) *MySQLStore {
	return &MySQLStore{db: db, metrics: metrics}
}

const selectColumns = `SELECT id, seller_id, code, type, value, minimum_cart_value, expiry_date, max_uses,
	current_uses, is_active, created_at, updated_at FROM discounts`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDiscount(row rowScanner) (*models.Discount, error) {
	var (
		d          models.Discount
		minimum    sql.NullFloat64
		expiryDate sql.NullTime
		maxUses    sql.NullInt64
	)
	err := row.Scan(&d.ID, &d.SellerID, &d.Code, &d.Type, &d.Value, &minimum, &expiryDate, &maxUses,
		&d.CurrentUses, &d.IsActive, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if minimum.Valid {
		d.MinimumCartValue = &minimum.Float64
	}
	if expiryDate.Valid {
		t := expiryDate.Time.UTC()
		d.ExpiryDate = &t
	}
	if maxUses.Valid {
		n := int(maxUses.Int64)
		d.MaxUses = &n
	}
	return &d, nil
}

func (s *MySQLStore) getOne(ctx context.Context, column, value string) (*models.Discount, error) {
	start := time.Now()
	query := selectColumns + " WHERE " + column + " = ?"
	d, err := scanDiscount(s.db.QueryRowContext(ctx, query, value))
	s.metrics.RecordDBQuery(ctx, "SELECT", "discounts", query, start, err == nil || errors.Is(err, sql.ErrNoRows))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound(apperr.CodeDiscountNotFound, "discount not found")
	}
	if err != nil {
		return nil, apperr.Infrastructure(err, "failed to get discount")
	}
	return d, nil
}

// GetByCode returns the discount with the normalized code.
func (s *MySQLStore) GetByCode(ctx context.Context, code string) (*models.Discount, error) {
	return s.getOne(ctx, "code", code)
}

// GetByID returns a discount by ID
func (s *MySQLStore) GetByID(ctx context.Context, id string) (*models.Discount, error) {
	return s.getOne(ctx, "id", id)
}

// IncrementUsage is a single conditional update so concurrent checkouts
// cannot push current_uses past max_uses.
func (s *MySQLStore) IncrementUsage(ctx context.Context, id string) (bool, error) {
	start := time.Now()
	query := `UPDATE discounts SET current_uses = current_uses + 1, updated_at = NOW()
		WHERE id = ? AND (max_uses IS NULL OR current_uses < max_uses)`
	result, err := s.db.ExecContext(ctx, query, id)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "discounts", query, start, err == nil)
	if err != nil {
		return false, apperr.Infrastructure(err, "failed to increment discount usage")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, apperr.Infrastructure(err, "failed to read affected rows")
	}
	return n == 1, nil
}

// Create inserts d. A taken code fails with DISCOUNT_CODE_TAKEN.
func (s *MySQLStore) Create(ctx context.Context, d *models.Discount) error {
	start := time.Now()
	query := `INSERT INTO discounts (id, seller_id, code, type, value, minimum_cart_value, expiry_date, max_uses,
		current_uses, is_active, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, d.ID, d.SellerID, d.Code, d.Type, d.Value,
		nullFloat(d.MinimumCartValue), nullTime(d.ExpiryDate), nullInt(d.MaxUses),
		d.CurrentUses, d.IsActive, d.CreatedAt, d.UpdatedAt)
	s.metrics.RecordDBQuery(ctx, "INSERT", "discounts", query, start, err == nil)
	if db.IsDuplicateEntry(err) {
		return codeTaken(d.Code)
	}
	if err != nil {
		return apperr.Infrastructure(err, "failed to create discount")
	}
	return nil
}

// Update rewrites the mutable fields of d. current_uses is left alone.
func (s *MySQLStore) Update(ctx context.Context, d *models.Discount) error {
	start := time.Now()
	query := `UPDATE discounts SET code = ?, type = ?, value = ?, minimum_cart_value = ?, expiry_date = ?,
		max_uses = ?, is_active = ?, updated_at = ? WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query, d.Code, d.Type, d.Value,
		nullFloat(d.MinimumCartValue), nullTime(d.ExpiryDate), nullInt(d.MaxUses),
		d.IsActive, d.UpdatedAt, d.ID)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "discounts", query, start, err == nil)
	if db.IsDuplicateEntry(err) {
		return codeTaken(d.Code)
	}
	if err != nil {
		return apperr.Infrastructure(err, "failed to update discount")
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		// MySQL reports 0 for unchanged rows too; confirm the row exists.
		if _, err := s.GetByID(ctx, d.ID); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes a discount. Carts referencing it are detached by the
// foreign key.
func (s *MySQLStore) Delete(ctx context.Context, id string) error {
	start := time.Now()
	query := "DELETE FROM discounts WHERE id = ?"
	result, err := s.db.ExecContext(ctx, query, id)
	s.metrics.RecordDBQuery(ctx, "DELETE", "discounts", query, start, err == nil)
	if err != nil {
		return apperr.Infrastructure(err, "failed to delete discount")
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return apperr.NotFound(apperr.CodeDiscountNotFound, "discount not found")
	}
	return nil
}

// ListBySeller returns a seller's discounts, newest first.
func (s *MySQLStore) ListBySeller(ctx context.Context, sellerID string) ([]models.Discount, error) {
	start := time.Now()
	query := selectColumns + " WHERE seller_id = ? ORDER BY created_at DESC"
	rows, err := s.db.QueryContext(ctx, query, sellerID)
	s.metrics.RecordDBQuery(ctx, "SELECT", "discounts", query, start, err == nil)
	if err != nil {
		return nil, apperr.Infrastructure(err, "failed to list discounts")
	}
	defer rows.Close()

	discounts := []models.Discount{}
	for rows.Next() {
		d, err := scanDiscount(rows)
		if err != nil {
			return nil, apperr.Infrastructure(err, "failed to scan discount")
		}
		discounts = append(discounts, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list discounts: %w", err)
	}
	return discounts, nil
}

func codeTaken(code string) error {
	return apperr.Conflict(apperr.CodeDiscountCodeTaken, "discount code %s is already taken", code)
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
