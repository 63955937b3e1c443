package models

import "time"

// Event types
const (
	EventTypeOrderPlaced        = "ORDER_PLACED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypeOrderDeleted       = "ORDER_DELETED"
	EventTypeStockLow           = "STOCK_LOW"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderPlacedEvent is published after the order transaction commits.
// It carries everything the notification dispatcher needs so the worker
// never has to read the store.
type OrderPlacedEvent struct {
	BaseEvent
	OrderID       string          `json:"order_id"`
	CustomerID    string          `json:"customer_id"`
	CustomerEmail string          `json:"customer_email"`
	Total         int64           `json:"total"`
	Items         []OrderItemData `json:"items"`
}

// OrderStatusChangedEvent is published when staff move an order through
// its lifecycle (status or payment status).
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID       string `json:"order_id"`
	CustomerEmail string `json:"customer_email"`
	OldStatus     string `json:"old_status"`
	NewStatus     string `json:"new_status"`
	PaymentStatus string `json:"payment_status,omitempty"`
}

// OrderDeletedEvent is published after an admin hard-delete.
type OrderDeletedEvent struct {
	BaseEvent
	OrderID   string `json:"order_id"`
	DeletedBy string `json:"deleted_by"`
}

// StockLowEvent alerts staff when an order drains a product to zero.
type StockLowEvent struct {
	BaseEvent
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Stock       int    `json:"stock"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
}
