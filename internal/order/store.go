package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/apperr"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/db"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/events"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/metrics"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/models"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/outbox"
)

const orderColumns = `o.id, o.buyer_id, o.status, o.currency, o.taxable_subtotal, o.discount_id, o.discount_code,
	o.discount_amount, o.total_sgst, o.total_cgst, o.total_igst, o.total_gst, o.grand_total, o.created_at, o.updated_at`

const itemColumns = `order_id, product_id, variant_id, seller_id, sku, price, quantity, hsn_code,
	gst_rate, sgst_rate, cgst_rate, igst_rate,
	taxable_amount, sgst_amount, cgst_amount, igst_amount, gst_amount, total_amount`

// MySQLStore keeps orders in the storefront database.
type MySQLStore struct {
	db      *db.DB
	outbox  *outbox.Store
	metrics *metrics.AppMetrics
}

// NewMySQLStore creates a new order store
func NewMySQLStore(db *db.DB, outbox *outbox.Store, metrics *metrics.AppMetrics) *MySQLStore {
	return &MySQLStore{db: db, outbox: outbox, metrics: metrics}
}

// Create persists the order. This is the checkout commit point.
func (s *MySQLStore) Create(ctx context.Context, o *models.Order, idempotencyKey string, created events.Envelope) error {
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if idempotencyKey != "" {
			start := time.Now()
			keyQuery := "INSERT INTO order_idempotency (buyer_id, idempotency_key, order_id) VALUES (?, ?, ?)"
			_, err := tx.ExecContext(ctx, keyQuery, o.BuyerID, idempotencyKey, o.ID)
			s.metrics.RecordDBQuery(ctx, "INSERT", "order_idempotency", keyQuery, start, err == nil)
			if db.IsDuplicateEntry(err) {
				return ErrKeyReused
			}
			if err != nil {
				return fmt.Errorf("failed to record idempotency key: %w", err)
			}
		}

		start := time.Now()
		orderQuery := `INSERT INTO orders (id, buyer_id, status, currency, taxable_subtotal, discount_id, discount_code,
			discount_amount, total_sgst, total_cgst, total_igst, total_gst, grand_total)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		_, err := tx.ExecContext(ctx, orderQuery,
			o.ID, o.BuyerID, o.Status, o.Currency, o.TaxableSubtotal, nullString(o.DiscountID), o.DiscountCode,
			o.DiscountAmount, o.TotalSGST, o.TotalCGST, o.TotalIGST, o.TotalGST, o.GrandTotal,
		)
		s.metrics.RecordDBQuery(ctx, "INSERT", "orders", orderQuery, start, err == nil)
		if err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}

		itemQuery := "INSERT INTO order_items (" + itemColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
		for _, item := range o.Items {
			start = time.Now()
			_, err = tx.ExecContext(ctx, itemQuery,
				o.ID, item.ProductID, item.VariantID, item.SellerID, item.SKU, item.Price, item.Quantity, item.HSNCode,
				item.GSTRate, item.SGSTRate, item.CGSTRate, item.IGSTRate,
				item.TaxableAmount, item.SGSTAmount, item.CGSTAmount, item.IGSTAmount, item.GSTAmount, item.TotalAmount,
			)
			s.metrics.RecordDBQuery(ctx, "INSERT", "order_items", itemQuery, start, err == nil)
			if err != nil {
				return fmt.Errorf("failed to create order item: %w", err)
			}
		}

		return s.outbox.Insert(ctx, tx, o.ID, created)
	})
	if errors.Is(err, ErrKeyReused) {
		return ErrKeyReused
	}
	if err != nil {
		return apperr.Infrastructure(err, "failed to persist order")
	}
	return nil
}

// FindByIdempotencyKey returns the order recorded for key, nil if none.
func (s *MySQLStore) FindByIdempotencyKey(ctx context.Context, buyerID, key string) (*models.Order, error) {
	start := time.Now()
	query := "SELECT order_id FROM order_idempotency WHERE buyer_id = ? AND idempotency_key = ?"
	var orderID string
	err := s.db.QueryRowContext(ctx, query, buyerID, key).Scan(&orderID)
	s.metrics.RecordDBQuery(ctx, "SELECT", "order_idempotency", query, start, err == nil || errors.Is(err, sql.ErrNoRows))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Infrastructure(err, "failed to look up idempotency key")
	}
	return s.Get(ctx, orderID)
}

// Get returns an order with its items
func (s *MySQLStore) Get(ctx context.Context, orderID string) (*models.Order, error) {
	orders, err := s.list(ctx, "SELECT "+orderColumns+" FROM orders o WHERE o.id = ?", orderID)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, NotFound(orderID)
	}
	return &orders[0], nil
}

// ListByBuyer returns all orders for a buyer, newest first
func (s *MySQLStore) ListByBuyer(ctx context.Context, buyerID string) ([]models.Order, error) {
	query := "SELECT " + orderColumns + " FROM orders o WHERE o.buyer_id = ? ORDER BY o.created_at DESC, o.id"
	return s.list(ctx, query, buyerID)
}

// ListBySeller returns the orders containing the seller's items, newest first
func (s *MySQLStore) ListBySeller(ctx context.Context, sellerID string) ([]models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders o
		WHERE EXISTS (SELECT 1 FROM order_items oi WHERE oi.order_id = o.id AND oi.seller_id = ?)
		ORDER BY o.created_at DESC, o.id`
	return s.list(ctx, query, sellerID)
}

func (s *MySQLStore) list(ctx context.Context, query string, args ...any) ([]models.Order, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	s.metrics.RecordDBQuery(ctx, "SELECT", "orders", query, start, err == nil)
	if err != nil {
		return nil, apperr.Infrastructure(err, "failed to query orders")
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		var (
			o          models.Order
			discountID sql.NullString
		)
		if err := rows.Scan(
			&o.ID, &o.BuyerID, &o.Status, &o.Currency, &o.TaxableSubtotal, &discountID, &o.DiscountCode,
			&o.DiscountAmount, &o.TotalSGST, &o.TotalCGST, &o.TotalIGST, &o.TotalGST, &o.GrandTotal,
			&o.CreatedAt, &o.UpdatedAt,
		); err != nil {
			return nil, apperr.Infrastructure(err, "failed to scan order")
		}
		if discountID.Valid {
			o.DiscountID = &discountID.String
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Infrastructure(err, "failed to read orders")
	}
	rows.Close()

	if err := s.loadItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// loadItems fills the items of every order with a single query.
func (s *MySQLStore) loadItems(ctx context.Context, orders []models.Order) error {
	if len(orders) == 0 {
		return nil
	}
	index := make(map[string]int, len(orders))
	ids := make([]any, len(orders))
	placeholders := make([]string, len(orders))
	for i, o := range orders {
		index[o.ID] = i
		ids[i] = o.ID
		placeholders[i] = "?"
	}

	start := time.Now()
	query := fmt.Sprintf("SELECT %s FROM order_items WHERE order_id IN (%s) ORDER BY id",
		itemColumns, strings.Join(placeholders, ","))
	rows, err := s.db.QueryContext(ctx, query, ids...)
	s.metrics.RecordDBQuery(ctx, "SELECT", "order_items", query, start, err == nil)
	if err != nil {
		return apperr.Infrastructure(err, "failed to query order items")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID string
			item    models.OrderItem
		)
		if err := rows.Scan(
			&orderID, &item.ProductID, &item.VariantID, &item.SellerID, &item.SKU, &item.Price, &item.Quantity, &item.HSNCode,
			&item.GSTRate, &item.SGSTRate, &item.CGSTRate, &item.IGSTRate,
			&item.TaxableAmount, &item.SGSTAmount, &item.CGSTAmount, &item.IGSTAmount, &item.GSTAmount, &item.TotalAmount,
		); err != nil {
			return apperr.Infrastructure(err, "failed to scan order item")
		}
		i := index[orderID]
		orders[i].Items = append(orders[i].Items, item)
	}
	if err := rows.Err(); err != nil {
		return apperr.Infrastructure(err, "failed to read order items")
	}
	return nil
}

// UpdateStatus is a compare-and-set on the status column.
func (s *MySQLStore) UpdateStatus(ctx context.Context, orderID string, from, to models.OrderStatus) (bool, error) {
	start := time.Now()
	query := "UPDATE orders SET status = ?, updated_at = NOW() WHERE id = ? AND status = ?"
	result, err := s.db.ExecContext(ctx, query, to, orderID, from)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "orders", query, start, err == nil)
	if err != nil {
		return false, apperr.Infrastructure(err, "failed to update order status")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apperr.Infrastructure(err, "failed to get rows affected")
	}
	return rowsAffected == 1, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
