package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Product statuses
const (
	ProductStatusActive     = "active"
	ProductStatusInactive   = "inactive"
	ProductStatusOutOfStock = "out_of_stock"
)

// Order statuses
const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
)

// Payment statuses
const (
	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusFailed   = "failed"
	PaymentStatusRefunded = "refunded"
)

// Customer segments derived from spend and order count
const (
	SegmentNew     = "new"
	SegmentRegular = "regular"
	SegmentVIP     = "vip"
)

// Product represents a catalog product. Price is stored in cents.
type Product struct {
	ID          int64     `db:"id" json:"id"`
	SKU         string    `db:"sku" json:"sku"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description,omitempty"`
	Category    string    `db:"category" json:"category"`
	Price       int64     `db:"price" json:"price"`
	Stock       int       `db:"stock" json:"stock"`
	Status      string    `db:"status" json:"status"`
	Featured    bool      `db:"featured" json:"featured"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Address is stored inline on orders as JSON.
type Address struct {
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

// Value implements driver.Valuer so Address round-trips through a JSONB column.
func (a Address) Value() (driver.Value, error) {
	return json.Marshal(a)
}

// Scan implements sql.Scanner.
func (a *Address) Scan(src interface{}) error {
	if src == nil {
		*a = Address{}
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("unsupported address column type %T", src)
	}
	return json.Unmarshal(b, a)
}

// Order represents a committed customer order. Monetary amounts are cents.
type Order struct {
	ID              string    `db:"id" json:"id"`
	CustomerID      string    `db:"customer_id" json:"customer_id"`
	CustomerEmail   string    `db:"customer_email" json:"customer_email"`
	Subtotal        int64     `db:"subtotal" json:"subtotal"`
	ShippingCost    int64     `db:"shipping_cost" json:"shipping_cost"`
	Total           int64     `db:"total" json:"total"`
	Status          string    `db:"status" json:"status"`
	PaymentStatus   string    `db:"payment_status" json:"payment_status"`
	ShippingAddress Address   `db:"shipping_address" json:"shipping_address"`
	BillingAddress  Address   `db:"billing_address" json:"billing_address"`
	IdempotencyKey  string    `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// OrderItem is a denormalized order line: product name and unit price are
// captured at order time so historical orders survive catalog edits.
type OrderItem struct {
	ID          int64  `db:"id" json:"id"`
	OrderID     string `db:"order_id" json:"order_id"`
	ProductID   int64  `db:"product_id" json:"product_id"`
	ProductName string `db:"product_name" json:"product_name"`
	Quantity    int    `db:"quantity" json:"quantity"`
	UnitPrice   int64  `db:"unit_price" json:"unit_price"`
	LineTotal   int64  `db:"line_total" json:"line_total"`
}

// Customer is the ledger record: order history plus running spend.
type Customer struct {
	ID         string         `db:"id" json:"id"`
	Email      string         `db:"email" json:"email"`
	FirstName  string         `db:"first_name" json:"first_name"`
	LastName   string         `db:"last_name" json:"last_name"`
	Phone      string         `db:"phone" json:"phone,omitempty"`
	OrderIDs   pq.StringArray `db:"order_ids" json:"orders"`
	TotalSpent int64          `db:"total_spent" json:"total_spent"`
	OrderCount int            `db:"order_count" json:"order_count"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at" json:"updated_at"`
}

// ValidOrderTransition reports whether an order may move between two statuses.
// Forward-only: pending -> processing -> shipped -> delivered, with
// cancellation allowed until the order has shipped.
func ValidOrderTransition(from, to string) bool {
	switch from {
	case OrderStatusPending:
		return to == OrderStatusProcessing || to == OrderStatusCancelled
	case OrderStatusProcessing:
		return to == OrderStatusShipped || to == OrderStatusCancelled
	case OrderStatusShipped:
		return to == OrderStatusDelivered
	default:
		return false
	}
}

// ValidPaymentStatus reports whether s is a known payment status.
func ValidPaymentStatus(s string) bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

// ProcessedEvent records a delivered notification for at-most-once dispatch.
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
