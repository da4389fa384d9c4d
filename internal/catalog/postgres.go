package catalog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/apperr"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/db"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pool is the part of *pgxpool.Pool the store uses.
type pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore is the catalog's own database.
type PostgresStore struct {
	pool pool
}

// NewPostgresStore opens a pool on databaseURL and pings it.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping catalog database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// InitSchema applies schemaSQL statement by statement.
func (s *PostgresStore) InitSchema(ctx context.Context, schemaSQL string) error {
	for i, stmt := range db.SplitSQLStatements(schemaSQL) {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute statement %d: %w\nStatement: %s", i+1, err, stmt)
		}
	}
	log.Println("Catalog schema initialized successfully")
	return nil
}

// GetProduct returns a product with its variants ordered by SKU.
func (s *PostgresStore) GetProduct(ctx context.Context, productID string) (*models.Product, error) {
	if _, err := uuid.Parse(productID); err != nil {
		return nil, productNotFound(productID)
	}

	var p models.Product
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, seller_id, name, hsn_code, gst_rate, sgst_rate, cgst_rate, igst_rate, created_at, updated_at
		FROM products WHERE id = $1`, productID).Scan(
		&p.ID, &p.SellerID, &p.Name, &p.HSNCode, &p.GSTRate, &p.SGSTRate, &p.CGSTRate, &p.IGSTRate,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, productNotFound(productID)
	}
	if err != nil {
		return nil, apperr.Infrastructure(err, "failed to get product %s", productID)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id::text, sku, price, stock FROM variants WHERE product_id = $1 ORDER BY sku`, productID)
	if err != nil {
		return nil, apperr.Infrastructure(err, "failed to get variants of product %s", productID)
	}
	defer rows.Close()

	p.Variants = []models.Variant{}
	for rows.Next() {
		var v models.Variant
		if err := rows.Scan(&v.ID, &v.SKU, &v.Price, &v.Stock); err != nil {
			return nil, apperr.Infrastructure(err, "failed to scan variant")
		}
		p.Variants = append(p.Variants, v)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Infrastructure(err, "failed to read variants of product %s", productID)
	}
	return &p, nil
}

// AdjustStock applies delta with a conditional update so concurrent
// decrements can never take stock below zero.
func (s *PostgresStore) AdjustStock(ctx context.Context, productID, variantID string, delta int) (int, error) {
	return adjust(ctx, s.pool, productID, variantID, delta)
}

// AdjustStockForOrder records the order line in stock_deductions and adjusts
// stock in the same transaction. A replayed line is a no-op.
func (s *PostgresStore) AdjustStockForOrder(ctx context.Context, orderID, productID, variantID string, delta int) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, apperr.Infrastructure(err, "failed to begin stock transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		INSERT INTO stock_deductions (order_id, product_id, variant_id, delta)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (order_id, product_id, variant_id) DO NOTHING`,
		orderID, productID, variantID, delta)
	if err != nil {
		return false, apperr.Infrastructure(err, "failed to record stock deduction for order %s", orderID)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if _, err := adjust(ctx, tx, productID, variantID, delta); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, apperr.Infrastructure(err, "failed to commit stock deduction for order %s", orderID)
	}
	return true, nil
}

// DeductionApplied reports whether the order line is already in the ledger.
func (s *PostgresStore) DeductionApplied(ctx context.Context, orderID, productID, variantID string) (bool, error) {
	var applied bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM stock_deductions WHERE order_id = $1 AND product_id = $2 AND variant_id = $3)`,
		orderID, productID, variantID).Scan(&applied)
	if err != nil {
		return false, apperr.Infrastructure(err, "failed to read stock deduction for order %s", orderID)
	}
	return applied, nil
}

// CreateProduct inserts a product and its variants with fresh ids.
func (s *PostgresStore) CreateProduct(ctx context.Context, req CreateProductRequest) (*models.Product, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	p := &models.Product{
		ID:        uuid.NewString(),
		SellerID:  req.SellerID,
		Name:      req.Name,
		HSNCode:   req.HSNCode,
		GSTRate:   req.GSTRate(),
		SGSTRate:  req.SGSTRate,
		CGSTRate:  req.CGSTRate,
		IGSTRate:  req.IGSTRate,
		CreatedAt: now,
		UpdatedAt: now,
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, apperr.Infrastructure(err, "failed to begin product transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO products (id, seller_id, name, hsn_code, gst_rate, sgst_rate, cgst_rate, igst_rate, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		p.ID, p.SellerID, p.Name, p.HSNCode, p.GSTRate, p.SGSTRate, p.CGSTRate, p.IGSTRate, now)
	if err != nil {
		return nil, apperr.Infrastructure(err, "failed to create product")
	}

	for _, vr := range req.Variants {
		v := models.Variant{ID: uuid.NewString(), SKU: vr.SKU, Price: vr.Price, Stock: vr.Stock}
		_, err = tx.Exec(ctx, `
			INSERT INTO variants (id, product_id, sku, price, stock, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $6)`,
			v.ID, p.ID, v.SKU, v.Price, v.Stock, now)
		if isUniqueViolation(err) {
			return nil, apperr.Validation("sku %s already exists", v.SKU)
		}
		if err != nil {
			return nil, apperr.Infrastructure(err, "failed to create variant %s", v.SKU)
		}
		p.Variants = append(p.Variants, v)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperr.Infrastructure(err, "failed to commit product")
	}
	log.Printf("[CATALOG] Product created: product_id=%s seller_id=%s variants=%d", p.ID, p.SellerID, len(p.Variants))
	return p, nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func adjust(ctx context.Context, q querier, productID, variantID string, delta int) (int, error) {
	if _, err := uuid.Parse(productID); err != nil {
		return 0, productNotFound(productID)
	}
	if _, err := uuid.Parse(variantID); err != nil {
		return 0, variantNotFound(productID, variantID)
	}

	var stock int
	err := q.QueryRow(ctx, `
		UPDATE variants SET stock = stock + $3, updated_at = now()
		WHERE id = $2 AND product_id = $1 AND stock + $3 >= 0
		RETURNING stock`, productID, variantID, delta).Scan(&stock)
	if err == nil {
		return stock, nil
	}
	if isCheckViolation(err) {
		return 0, apperr.InsufficientStock(productID, variantID, -delta, 0)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, apperr.Infrastructure(err, "failed to adjust stock of variant %s", variantID)
	}

	// Nothing matched: either the variant is missing or stock is too low.
	var current int
	err = q.QueryRow(ctx, `SELECT stock FROM variants WHERE id = $2 AND product_id = $1`, productID, variantID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists); err != nil {
			return 0, apperr.Infrastructure(err, "failed to check product %s", productID)
		}
		if !exists {
			return 0, productNotFound(productID)
		}
		return 0, variantNotFound(productID, variantID)
	}
	if err != nil {
		return 0, apperr.Infrastructure(err, "failed to read stock of variant %s", variantID)
	}
	return 0, apperr.InsufficientStock(productID, variantID, -delta, current)
}

func isUniqueViolation(err error) bool {
	return pgCode(err) == "23505"
}

func isCheckViolation(err error) bool {
	return pgCode(err) == "23514"
}

func pgCode(err error) string {
	if err == nil {
		return ""
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	if strings.Contains(strings.ToLower(err.Error()), "duplicate key") {
		return "23505"
	}
	return ""
}
