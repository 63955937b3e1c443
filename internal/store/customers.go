package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vincibusa/bibigin-admin-sub000/internal/models"
)

// GetCustomerByID retrieves a customer by ID
func (s *Store) GetCustomerByID(ctx context.Context, id string) (*models.Customer, error) {
	var c models.Customer
	err := s.db.GetContext(ctx, &c, "SELECT * FROM customers WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("customer %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCustomerByEmail retrieves a customer by email
func (s *Store) GetCustomerByEmail(ctx context.Context, email string) (*models.Customer, error) {
	var c models.Customer
	err := s.db.GetContext(ctx, &c, "SELECT * FROM customers WHERE email = $1", email)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("customer %s: %w", email, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCustomers retrieves customers ordered by lifetime spend.
func (s *Store) ListCustomers(ctx context.Context, limit, offset int) ([]models.Customer, error) {
	query := "SELECT * FROM customers ORDER BY total_spent DESC, created_at DESC"
	args := []interface{}{}

	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	customers := []models.Customer{}
	err := s.db.SelectContext(ctx, &customers, query, args...)
	return customers, err
}

// CreateCustomer inserts a customer ledger record outside any order
// transaction (registration path).
func (s *Store) CreateCustomer(ctx context.Context, c *models.Customer) error {
	query := `
		INSERT INTO customers (id, email, first_name, last_name, phone, order_ids, total_spent, order_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`

	return s.db.GetContext(ctx, c, query,
		c.ID, c.Email, c.FirstName, c.LastName, c.Phone, c.OrderIDs, c.TotalSpent, c.OrderCount)
}

// UpdateCustomer overwrites a customer's contact fields
func (s *Store) UpdateCustomer(ctx context.Context, c *models.Customer) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE customers
		SET email = $1, first_name = $2, last_name = $3, phone = $4, updated_at = NOW()
		WHERE id = $5`,
		c.Email, c.FirstName, c.LastName, c.Phone, c.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("customer %s: %w", c.ID, ErrNotFound)
	}
	return nil
}

// DeleteCustomer removes a customer ledger record. Historical orders are not
// cascaded; they keep the denormalized customer email.
func (s *Store) DeleteCustomer(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM customers WHERE id = $1", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("customer %s: %w", id, ErrNotFound)
	}
	return nil
}
