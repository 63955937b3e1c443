package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vincibusa/bibigin-admin-sub000/internal/models"
	"github.com/vincibusa/bibigin-admin-sub000/internal/store"
	"github.com/vincibusa/bibigin-admin-sub000/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AdminEventPublisher fans out lifecycle notifications after staff actions.
type AdminEventPublisher interface {
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishOrderDeleted(ctx context.Context, event *models.OrderDeletedEvent) error
}

// OrderStore is the slice of the store the admin service needs.
type OrderStore interface {
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID string) ([]models.OrderItem, error)
	ListOrders(ctx context.Context, f store.OrderFilter) ([]models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID, status string) error
	SettlePayment(ctx context.Context, orderID, paymentStatus, customerID string, delta int64) error
	DeleteOrder(ctx context.Context, orderID string) error
}

// OrderAdminService covers the staff-facing order operations: lookup,
// lifecycle transitions and hard deletion.
type OrderAdminService struct {
	store           OrderStore
	events          AdminEventPublisher
	logger          *zap.Logger
	spendOnCreation bool
}

// NewOrderAdminService creates a new order admin service. events may be nil.
func NewOrderAdminService(st OrderStore, events AdminEventPublisher, spendAccounting string) *OrderAdminService {
	return &OrderAdminService{
		store:           st,
		events:          events,
		logger:          util.GetLogger(),
		spendOnCreation: spendAccounting != SpendOnPayment,
	}
}

// GetOrder retrieves an order with its line items.
func (oa *OrderAdminService) GetOrder(ctx context.Context, id string) (*models.Order, []models.OrderItem, error) {
	order, err := oa.store.GetOrderByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, &NotFoundError{Resource: "order", ID: id}
		}
		return nil, nil, err
	}

	items, err := oa.store.GetOrderItemsByOrderID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return order, items, nil
}

// ListOrders retrieves orders matching the filter.
func (oa *OrderAdminService) ListOrders(ctx context.Context, f store.OrderFilter) ([]models.Order, error) {
	return oa.store.ListOrders(ctx, f)
}

// OrderPatch is a partial update; nil fields are left alone.
type OrderPatch struct {
	Status        *string `json:"status,omitempty"`
	PaymentStatus *string `json:"payment_status,omitempty"`
}

// UpdateOrder applies a status and/or payment-status transition. Invalid
// transitions are rejected before any write. When spend accounting is
// deferred to payment confirmation, the pending->paid transition adds the
// order total to the customer ledger, and paid->refunded removes it.
func (oa *OrderAdminService) UpdateOrder(ctx context.Context, id string, patch *OrderPatch) (*models.Order, error) {
	if patch.Status == nil && patch.PaymentStatus == nil {
		return nil, &ValidationError{Reason: "nothing to update"}
	}

	order, err := oa.store.GetOrderByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{Resource: "order", ID: id}
		}
		return nil, err
	}

	if patch.Status != nil {
		if !models.ValidOrderTransition(order.Status, *patch.Status) {
			return nil, &ValidationError{Reason: fmt.Sprintf("cannot move order from %s to %s", order.Status, *patch.Status)}
		}
		if err := oa.store.UpdateOrderStatus(ctx, id, *patch.Status); err != nil {
			return nil, err
		}
	}

	if patch.PaymentStatus != nil {
		if !models.ValidPaymentStatus(*patch.PaymentStatus) {
			return nil, &ValidationError{Reason: "unknown payment status: " + *patch.PaymentStatus}
		}
		delta := oa.settlementDelta(order, *patch.PaymentStatus)
		if err := oa.store.SettlePayment(ctx, id, *patch.PaymentStatus, order.CustomerID, delta); err != nil {
			return nil, err
		}
		if delta != 0 {
			oa.logger.Info("Customer spend settled",
				zap.String("order_id", id),
				zap.String("customer_id", order.CustomerID),
				zap.Int64("delta", delta))
		}
	}

	updated, err := oa.store.GetOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}

	oa.logger.Info("Order updated",
		zap.String("order_id", id),
		zap.String("status", updated.Status),
		zap.String("payment_status", updated.PaymentStatus))

	if oa.events != nil {
		event := &models.OrderStatusChangedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeOrderStatusChanged,
				Timestamp: time.Now(),
			},
			OrderID:       id,
			CustomerEmail: updated.CustomerEmail,
			OldStatus:     order.Status,
			NewStatus:     updated.Status,
			PaymentStatus: updated.PaymentStatus,
		}
		if err := oa.events.PublishOrderStatusChanged(ctx, event); err != nil {
			oa.logger.Error("Failed to publish OrderStatusChanged event", zap.Error(err))
		}
	}

	return updated, nil
}

// settlementDelta is the ledger adjustment a payment transition carries when
// spend accounting is deferred to payment confirmation: pending->paid adds
// the order total, paid->refunded removes it. Zero otherwise.
func (oa *OrderAdminService) settlementDelta(order *models.Order, newPaymentStatus string) int64 {
	if oa.spendOnCreation || newPaymentStatus == order.PaymentStatus {
		return 0
	}
	switch {
	case order.PaymentStatus == models.PaymentStatusPending && newPaymentStatus == models.PaymentStatusPaid:
		return order.Total
	case order.PaymentStatus == models.PaymentStatusPaid && newPaymentStatus == models.PaymentStatusRefunded:
		return -order.Total
	}
	return 0
}

// DeleteOrder hard-deletes an order. Irreversible, and deliberately does not
// restore stock or reverse the customer ledger; see DESIGN.md.
func (oa *OrderAdminService) DeleteOrder(ctx context.Context, id, deletedBy string) error {
	if err := oa.store.DeleteOrder(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &NotFoundError{Resource: "order", ID: id}
		}
		return err
	}

	util.OrdersDeletedTotal.Inc()
	oa.logger.Warn("Order hard-deleted",
		zap.String("order_id", id),
		zap.String("deleted_by", deletedBy))

	if oa.events != nil {
		event := &models.OrderDeletedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeOrderDeleted,
				Timestamp: time.Now(),
			},
			OrderID:   id,
			DeletedBy: deletedBy,
		}
		if err := oa.events.PublishOrderDeleted(ctx, event); err != nil {
			oa.logger.Error("Failed to publish OrderDeleted event", zap.Error(err))
		}
	}
	return nil
}
