package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vincibusa/bibigin-admin-sub000/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// OrderTx is the slice of the store visible inside an order transaction.
// All reads must be issued before any write so the serializable isolation
// level can detect conflicting concurrent commits.
type OrderTx interface {
	OrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	ProductByID(ctx context.Context, id int64) (*models.Product, error)
	CustomerByID(ctx context.Context, id string) (*models.Customer, error)
	CustomerByEmail(ctx context.Context, email string) (*models.Customer, error)
	CreateCustomer(ctx context.Context, c *models.Customer) error
	InsertOrder(ctx context.Context, o *models.Order) error
	InsertOrderItem(ctx context.Context, item *models.OrderItem) error
	SetProductStock(ctx context.Context, id int64, stock int, status string) error
	RecordOrderOnLedger(ctx context.Context, customerID, orderID string, spend int64) error
}

// RunOrderTx executes fn inside a serializable transaction, retrying the
// whole function on serialization failures up to the configured attempt
// budget. fn must be safe to re-execute from scratch.
func (s *Store) RunOrderTx(ctx context.Context, fn func(tx OrderTx) error) error {
	var lastErr error

	for attempt := 1; attempt <= s.txMaxAttempts; attempt++ {
		err := s.runOrderTxOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryableTxError(err) {
			return err
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
		}
	}

	return fmt.Errorf("%w after %d attempts: %v", ErrConflictRetryExhausted, s.txMaxAttempts, lastErr)
}

func (s *Store) runOrderTxOnce(ctx context.Context, fn func(tx OrderTx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&orderTx{tx: tx}); err != nil {
		return err
	}

	return tx.Commit()
}

// isRetryableTxError matches Postgres serialization_failure (40001),
// deadlock_detected (40P01) and unique_violation (23505). A unique violation
// inside the order transaction means a concurrent commit won an insert race:
// the same quick-order email or the same idempotency key. Re-running the
// function reads the winner's row and takes the existing-customer or
// duplicate-order path instead.
func isRetryableTxError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01" || pqErr.Code == "23505"
	}
	return false
}

type orderTx struct {
	tx *sqlx.Tx
}

// OrderByIdempotencyKey returns the order holding key, or nil if none does.
func (t *orderTx) OrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := t.tx.GetContext(ctx, &order, "SELECT * FROM orders WHERE idempotency_key = $1", key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (t *orderTx) ProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := t.tx.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (t *orderTx) CustomerByID(ctx context.Context, id string) (*models.Customer, error) {
	var c models.Customer
	err := t.tx.GetContext(ctx, &c, "SELECT * FROM customers WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("customer %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CustomerByEmail returns nil when no ledger exists for the address; the
// quick-order path then creates one inside the same transaction.
func (t *orderTx) CustomerByEmail(ctx context.Context, email string) (*models.Customer, error) {
	var c models.Customer
	err := t.tx.GetContext(ctx, &c, "SELECT * FROM customers WHERE email = $1", email)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *orderTx) CreateCustomer(ctx context.Context, c *models.Customer) error {
	query := `
		INSERT INTO customers (id, email, first_name, last_name, phone, order_ids, total_spent, order_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`

	return t.tx.GetContext(ctx, c, query,
		c.ID, c.Email, c.FirstName, c.LastName, c.Phone, c.OrderIDs, c.TotalSpent, c.OrderCount)
}

func (t *orderTx) InsertOrder(ctx context.Context, o *models.Order) error {
	query := `
		INSERT INTO orders (id, customer_id, customer_email, subtotal, shipping_cost, total,
		                    status, payment_status, shipping_address, billing_address, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`

	return t.tx.GetContext(ctx, o, query,
		o.ID, o.CustomerID, o.CustomerEmail, o.Subtotal, o.ShippingCost, o.Total,
		o.Status, o.PaymentStatus, o.ShippingAddress, o.BillingAddress, o.IdempotencyKey)
}

func (t *orderTx) InsertOrderItem(ctx context.Context, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, product_id, product_name, quantity, unit_price, line_total)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	return t.tx.GetContext(ctx, &item.ID, query,
		item.OrderID, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice, item.LineTotal)
}

func (t *orderTx) SetProductStock(ctx context.Context, id int64, stock int, status string) error {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE products SET stock = $1, status = $2, updated_at = NOW() WHERE id = $3",
		stock, status, id)
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

// RecordOrderOnLedger appends the order id to the customer's history and adds
// spend to the running total. spend may be zero when spend accounting is
// deferred to payment confirmation.
func (t *orderTx) RecordOrderOnLedger(ctx context.Context, customerID, orderID string, spend int64) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE customers
		SET order_ids = array_append(order_ids, $1),
		    total_spent = total_spent + $2,
		    order_count = order_count + 1,
		    updated_at = NOW()
		WHERE id = $3`,
		orderID, spend, customerID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("customer %s: %w", customerID, ErrNotFound)
	}
	return nil
}
