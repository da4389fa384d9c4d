package cart

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/apperr"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/db"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/metrics"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/models"
	"github.com/google/uuid"
)

// Store persists carts and their lines.
type Store interface {
	// GetOrCreate returns the buyer's cart with its lines, creating it on
	// first access.
	GetOrCreate(ctx context.Context, buyerID string) (*models.Cart, error)
	// SetItemQuantity writes the absolute quantity of a line.
	SetItemQuantity(ctx context.Context, cartID, productID, variantID string, quantity int) error
	// DeleteItem removes a line and reports whether it existed.
	DeleteItem(ctx context.Context, cartID, productID, variantID string) (bool, error)
	SetDiscount(ctx context.Context, cartID string, discountID *string) error
	// DetachDiscount clears discountID only if it is still the attached one
	// and reports whether it did.
	DetachDiscount(ctx context.Context, cartID, discountID string) (bool, error)
	// Clear removes every line and the discount in one transaction.
	Clear(ctx context.Context, cartID string) error
	CountActive(ctx context.Context) (int, error)
}

// MySQLStore keeps carts in the storefront database.
type MySQLStore struct {
	db      *db.DB
	metrics *metrics.AppMetrics
}

// NewMySQLStore creates a new cart store
func NewMySQLStore(db *db.DB, metrics *metrics.AppMetrics) *MySQLStore {
	return &MySQLStore{db: db, metrics: metrics}
}

// GetOrCreate gets or creates a cart for a buyer
func (s *MySQLStore) GetOrCreate(ctx context.Context, buyerID string) (*models.Cart, error) {
	cart, err := s.get(ctx, buyerID)
	if errors.Is(err, sql.ErrNoRows) {
		start := time.Now()
		insertQuery := "INSERT INTO carts (id, buyer_id) VALUES (?, ?)"
		_, err = s.db.ExecContext(ctx, insertQuery, uuid.NewString(), buyerID)
		s.metrics.RecordDBQuery(ctx, "INSERT", "carts", insertQuery, start, err == nil)
		// A concurrent first access may have created it; either way re-read.
		if err != nil && !db.IsDuplicateEntry(err) {
			return nil, apperr.Infrastructure(err, "failed to create cart")
		}
		cart, err = s.get(ctx, buyerID)
	}
	if err != nil {
		return nil, apperr.Infrastructure(err, "failed to get cart")
	}

	items, err := s.items(ctx, cart.ID)
	if err != nil {
		return nil, err
	}
	cart.Items = items
	return cart, nil
}

func (s *MySQLStore) get(ctx context.Context, buyerID string) (*models.Cart, error) {
	start := time.Now()
	query := "SELECT id, buyer_id, discount_id, created_at, updated_at FROM carts WHERE buyer_id = ? LIMIT 1"
	var (
		cart       models.Cart
		discountID sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, buyerID).Scan(
		&cart.ID, &cart.BuyerID, &discountID, &cart.CreatedAt, &cart.UpdatedAt,
	)
	s.metrics.RecordDBQuery(ctx, "SELECT", "carts", query, start, err == nil || errors.Is(err, sql.ErrNoRows))
	if err != nil {
		return nil, err
	}
	if discountID.Valid {
		cart.DiscountID = &discountID.String
	}
	return &cart, nil
}

func (s *MySQLStore) items(ctx context.Context, cartID string) ([]models.CartItem, error) {
	start := time.Now()
	query := `
		SELECT product_id, variant_id, quantity, updated_at
		FROM cart_items
		WHERE cart_id = ?
		ORDER BY created_at, product_id, variant_id
	`
	rows, err := s.db.QueryContext(ctx, query, cartID)
	s.metrics.RecordDBQuery(ctx, "SELECT", "cart_items", query, start, err == nil)
	if err != nil {
		return nil, apperr.Infrastructure(err, "failed to get cart items")
	}
	defer rows.Close()

	items := []models.CartItem{}
	for rows.Next() {
		var item models.CartItem
		if err := rows.Scan(&item.ProductID, &item.VariantID, &item.Quantity, &item.UpdatedAt); err != nil {
			return nil, apperr.Infrastructure(err, "failed to scan cart item")
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Infrastructure(err, "failed to read cart items")
	}
	return items, nil
}

// SetItemQuantity inserts the line or overwrites its quantity.
func (s *MySQLStore) SetItemQuantity(ctx context.Context, cartID, productID, variantID string, quantity int) error {
	start := time.Now()
	query := `INSERT INTO cart_items (cart_id, product_id, variant_id, quantity) VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE quantity = VALUES(quantity), updated_at = NOW()`
	_, err := s.db.ExecContext(ctx, query, cartID, productID, variantID, quantity)
	s.metrics.RecordDBQuery(ctx, "UPSERT", "cart_items", query, start, err == nil)
	if err != nil {
		return apperr.Infrastructure(err, "failed to update cart item")
	}
	return s.touch(ctx, cartID)
}

// DeleteItem removes an item from the cart
func (s *MySQLStore) DeleteItem(ctx context.Context, cartID, productID, variantID string) (bool, error) {
	start := time.Now()
	query := "DELETE FROM cart_items WHERE cart_id = ? AND product_id = ? AND variant_id = ?"
	result, err := s.db.ExecContext(ctx, query, cartID, productID, variantID)
	s.metrics.RecordDBQuery(ctx, "DELETE", "cart_items", query, start, err == nil)
	if err != nil {
		return false, apperr.Infrastructure(err, "failed to remove item from cart")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, apperr.Infrastructure(err, "failed to read affected rows")
	}
	if n == 0 {
		return false, nil
	}
	return true, s.touch(ctx, cartID)
}

// SetDiscount attaches discountID, or detaches when nil.
func (s *MySQLStore) SetDiscount(ctx context.Context, cartID string, discountID *string) error {
	start := time.Now()
	query := "UPDATE carts SET discount_id = ?, updated_at = NOW() WHERE id = ?"
	var value sql.NullString
	if discountID != nil {
		value = sql.NullString{String: *discountID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, query, value, cartID)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "carts", query, start, err == nil)
	if err != nil {
		return apperr.Infrastructure(err, "failed to set cart discount")
	}
	return nil
}

// DetachDiscount clears the discount only while it is still discountID, so
// a detach racing a fresh ApplyDiscount cannot remove the new code.
func (s *MySQLStore) DetachDiscount(ctx context.Context, cartID, discountID string) (bool, error) {
	start := time.Now()
	query := "UPDATE carts SET discount_id = NULL, updated_at = NOW() WHERE id = ? AND discount_id = ?"
	result, err := s.db.ExecContext(ctx, query, cartID, discountID)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "carts", query, start, err == nil)
	if err != nil {
		return false, apperr.Infrastructure(err, "failed to detach cart discount")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, apperr.Infrastructure(err, "failed to read affected rows")
	}
	return n == 1, nil
}

// Clear empties the cart and detaches its discount.
func (s *MySQLStore) Clear(ctx context.Context, cartID string) error {
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		start := time.Now()
		deleteQuery := "DELETE FROM cart_items WHERE cart_id = ?"
		_, err := tx.ExecContext(ctx, deleteQuery, cartID)
		s.metrics.RecordDBQuery(ctx, "DELETE", "cart_items", deleteQuery, start, err == nil)
		if err != nil {
			return err
		}

		start = time.Now()
		updateQuery := "UPDATE carts SET discount_id = NULL, updated_at = NOW() WHERE id = ?"
		_, err = tx.ExecContext(ctx, updateQuery, cartID)
		s.metrics.RecordDBQuery(ctx, "UPDATE", "carts", updateQuery, start, err == nil)
		return err
	})
	if err != nil {
		return apperr.Infrastructure(err, "failed to clear cart")
	}
	return nil
}

// CountActive returns the number of carts holding at least one line.
func (s *MySQLStore) CountActive(ctx context.Context) (int, error) {
	start := time.Now()
	query := "SELECT COUNT(DISTINCT c.id) FROM carts c INNER JOIN cart_items ci ON c.id = ci.cart_id"
	var count int
	err := s.db.QueryRowContext(ctx, query).Scan(&count)
	s.metrics.RecordDBQuery(ctx, "SELECT", "carts", query, start, err == nil)
	if err != nil {
		return 0, apperr.Infrastructure(err, "failed to count active carts")
	}
	return count, nil
}

func (s *MySQLStore) touch(ctx context.Context, cartID string) error {
	start := time.Now()
	query := "UPDATE carts SET updated_at = NOW() WHERE id = ?"
	_, err := s.db.ExecContext(ctx, query, cartID)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "carts", query, start, err == nil)
	if err != nil {
		return apperr.Infrastructure(err, "failed to touch cart")
	}
	return nil
}
