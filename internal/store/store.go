package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/vincibusa/bibigin-admin-sub000/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB

	// txMaxAttempts bounds serializable-conflict retries in RunOrderTx.
	txMaxAttempts int
}

// NewStore creates a new database store
func NewStore(databaseURL string, txMaxAttempts int) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if txMaxAttempts < 1 {
		txMaxAttempts = 1
	}

	return &Store{db: db, txMaxAttempts: txMaxAttempts}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// ProductFilter narrows ListProducts. Zero values mean "no constraint".
type ProductFilter struct {
	Status   string
	Category string
	Featured *bool
	MinPrice *int64
	MaxPrice *int64
	Search   string
	Limit    int
	Offset   int
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProductBySKU retrieves a product by SKU
func (s *Store) GetProductBySKU(ctx context.Context, sku string) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE sku = $1", sku)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product %s: %w", sku, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// ListProducts retrieves products matching the filter, newest first.
func (s *Store) ListProducts(ctx context.Context, f ProductFilter) ([]models.Product, error) {
	var (
		conds []string
		args  []interface{}
	)

	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Category != "" {
		add("category = $%d", f.Category)
	}
	if f.Featured != nil {
		add("featured = $%d", *f.Featured)
	}
	if f.MinPrice != nil {
		add("price >= $%d", *f.MinPrice)
	}
	if f.MaxPrice != nil {
		add("price <= $%d", *f.MaxPrice)
	}
	if f.Search != "" {
		pattern := "%" + f.Search + "%"
		args = append(args, pattern)
		n := len(args)
		conds = append(conds, fmt.Sprintf("(name ILIKE $%d OR description ILIKE $%d OR sku ILIKE $%d)", n, n, n))
	}

	query := "SELECT * FROM products"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	products := []models.Product{}
	err := s.db.SelectContext(ctx, &products, query, args...)
	return products, err
}

// CreateProduct inserts a new product
func (s *Store) CreateProduct(ctx context.Context, p *models.Product) error {
	query := `
		INSERT INTO products (sku, name, description, category, price, stock, status, featured)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, p, query,
		p.SKU, p.Name, p.Description, p.Category, p.Price, p.Stock, p.Status, p.Featured)
}

// UpdateProduct overwrites a product's editable fields (last write wins)
func (s *Store) UpdateProduct(ctx context.Context, p *models.Product) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET sku = $1, name = $2, description = $3, category = $4, price = $5,
		    stock = $6, status = $7, featured = $8, updated_at = NOW()
		WHERE id = $9`,
		p.SKU, p.Name, p.Description, p.Category, p.Price, p.Stock, p.Status, p.Featured, p.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("product %d: %w", p.ID, ErrNotFound)
	}
	return nil
}

// DeleteProduct removes a product. Historical orders keep their denormalized
// product name and price, so deletion does not break order history.
func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM products WHERE id = $1", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	return nil
}

// RestockProduct atomically increments stock and reactivates a product that
// had sold out.
func (s *Store) RestockProduct(ctx context.Context, id int64, quantity int) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, `
		UPDATE products
		SET stock = stock + $1,
		    status = CASE WHEN status = $2 AND stock + $1 > 0 THEN $3 ELSE status END,
		    updated_at = NOW()
		WHERE id = $4
		RETURNING *`,
		quantity, models.ProductStatusOutOfStock, models.ProductStatusActive, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}
