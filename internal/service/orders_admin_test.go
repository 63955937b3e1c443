package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/vincibusa/bibigin-admin-sub000/internal/models"
	"github.com/vincibusa/bibigin-admin-sub000/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// adminStore is an in-memory OrderStore. SettlePayment applies the payment
// status and the spend delta together or, when settleErr is set, not at all.
type adminStore struct {
	orders    map[string]models.Order
	items     map[string][]models.OrderItem
	spend     map[string]int64
	settleErr error
}

func newAdminStore(orders ...models.Order) *adminStore {
	s := &adminStore{
		orders: make(map[string]models.Order),
		items:  make(map[string][]models.OrderItem),
		spend:  make(map[string]int64),
	}
	for _, o := range orders {
		s.orders[o.ID] = o
	}
	return s
}

func (s *adminStore) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, store.ErrNotFound)
	}
	return &o, nil
}

func (s *adminStore) GetOrderItemsByOrderID(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	return s.items[orderID], nil
}

func (s *adminStore) ListOrders(ctx context.Context, f store.OrderFilter) ([]models.Order, error) {
	orders := make([]models.Order, 0, len(s.orders))
	for _, o := range s.orders {
		orders = append(orders, o)
	}
	return orders, nil
}

func (s *adminStore) UpdateOrderStatus(ctx context.Context, orderID, status string) error {
	o, ok := s.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s: %w", orderID, store.ErrNotFound)
	}
	o.Status = status
	s.orders[orderID] = o
	return nil
}

func (s *adminStore) SettlePayment(ctx context.Context, orderID, paymentStatus, customerID string, delta int64) error {
	if s.settleErr != nil {
		return s.settleErr
	}
	o, ok := s.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s: %w", orderID, store.ErrNotFound)
	}
	o.PaymentStatus = paymentStatus
	s.orders[orderID] = o
	s.spend[customerID] += delta
	return nil
}

func (s *adminStore) DeleteOrder(ctx context.Context, orderID string) error {
	if _, ok := s.orders[orderID]; !ok {
		return fmt.Errorf("order %s: %w", orderID, store.ErrNotFound)
	}
	delete(s.orders, orderID)
	return nil
}

func pendingOrder(id string, total int64) models.Order {
	return models.Order{
		ID:            id,
		CustomerID:    "cust-1",
		CustomerEmail: "buyer@example.com",
		Total:         total,
		Status:        models.OrderStatusPending,
		PaymentStatus: models.PaymentStatusPending,
	}
}

func strPtr(s string) *string { return &s }

func TestUpdateOrderSettlesSpendOnPayment(t *testing.T) {
	st := newAdminStore(pendingOrder("ord-1", 4200))
	oa := NewOrderAdminService(st, nil, SpendOnPayment)

	updated, err := oa.UpdateOrder(context.Background(), "ord-1",
		&OrderPatch{PaymentStatus: strPtr(models.PaymentStatusPaid)})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, updated.PaymentStatus)
	assert.Equal(t, int64(4200), st.spend["cust-1"], "payment confirmation adds the order total")

	updated, err = oa.UpdateOrder(context.Background(), "ord-1",
		&OrderPatch{PaymentStatus: strPtr(models.PaymentStatusRefunded)})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefunded, updated.PaymentStatus)
	assert.Zero(t, st.spend["cust-1"], "refund removes the order total")
}

func TestUpdateOrderSettlementFailureSurfaces(t *testing.T) {
	st := newAdminStore(pendingOrder("ord-1", 4200))
	st.settleErr = errors.New("connection reset")
	oa := NewOrderAdminService(st, nil, SpendOnPayment)

	_, err := oa.UpdateOrder(context.Background(), "ord-1",
		&OrderPatch{PaymentStatus: strPtr(models.PaymentStatusPaid)})
	require.Error(t, err)

	// Neither the payment status nor the ledger moved.
	assert.Equal(t, models.PaymentStatusPending, st.orders["ord-1"].PaymentStatus)
	assert.Zero(t, st.spend["cust-1"])
}

func TestUpdateOrderSpendOnCreationSkipsSettlement(t *testing.T) {
	st := newAdminStore(pendingOrder("ord-1", 4200))
	oa := NewOrderAdminService(st, nil, SpendOnCreation)

	updated, err := oa.UpdateOrder(context.Background(), "ord-1",
		&OrderPatch{PaymentStatus: strPtr(models.PaymentStatusPaid)})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, updated.PaymentStatus)
	assert.Zero(t, st.spend["cust-1"], "spend was already counted at order creation")
}

func TestUpdateOrderRejectsInvalidTransition(t *testing.T) {
	st := newAdminStore(pendingOrder("ord-1", 4200))
	oa := NewOrderAdminService(st, nil, SpendOnCreation)

	_, err := oa.UpdateOrder(context.Background(), "ord-1",
		&OrderPatch{Status: strPtr(models.OrderStatusDelivered)})

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, models.OrderStatusPending, st.orders["ord-1"].Status)
}
