package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/vincibusa/bibigin-admin-sub000/internal/models"
	"github.com/vincibusa/bibigin-admin-sub000/internal/store"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory transactional store. Each RunOrderTx works on a
// deep copy of the state and commits it atomically under a mutex, giving
// the same all-or-nothing, serialized semantics as the real store.
type memStore struct {
	mu        sync.Mutex
	products  map[int64]models.Product
	orders    map[string]models.Order
	items     map[string][]models.OrderItem
	customers map[string]models.Customer
}

func newMemStore(products ...models.Product) *memStore {
	m := &memStore{
		products:  make(map[int64]models.Product),
		orders:    make(map[string]models.Order),
		items:     make(map[string][]models.OrderItem),
		customers: make(map[string]models.Customer),
	}
	for _, p := range products {
		m.products[p.ID] = p
	}
	return m
}

func (m *memStore) addCustomer(c models.Customer) {
	m.customers[c.ID] = c
}

func (m *memStore) snapshot() *memTx {
	tx := &memTx{
		products:  make(map[int64]models.Product, len(m.products)),
		orders:    make(map[string]models.Order, len(m.orders)),
		items:     make(map[string][]models.OrderItem, len(m.items)),
		customers: make(map[string]models.Customer, len(m.customers)),
	}
	for k, v := range m.products {
		tx.products[k] = v
	}
	for k, v := range m.orders {
		tx.orders[k] = v
	}
	for k, v := range m.items {
		tx.items[k] = append([]models.OrderItem(nil), v...)
	}
	for k, v := range m.customers {
		v.OrderIDs = append(pq.StringArray(nil), v.OrderIDs...)
		tx.customers[k] = v
	}
	return tx
}

func (m *memStore) RunOrderTx(ctx context.Context, fn func(tx store.OrderTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := m.snapshot()
	if err := fn(tx); err != nil {
		return err
	}

	m.products = tx.products
	m.orders = tx.orders
	m.items = tx.items
	m.customers = tx.customers
	return nil
}

type memTx struct {
	products  map[int64]models.Product
	orders    map[string]models.Order
	items     map[string][]models.OrderItem
	customers map[string]models.Customer
}

func (t *memTx) OrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	for _, o := range t.orders {
		if o.IdempotencyKey == key {
			found := o
			return &found, nil
		}
	}
	return nil, nil
}

func (t *memTx) ProductByID(ctx context.Context, id int64) (*models.Product, error) {
	p, ok := t.products[id]
	if !ok {
		return nil, fmt.Errorf("product %d: %w", id, store.ErrNotFound)
	}
	return &p, nil
}

func (t *memTx) CustomerByID(ctx context.Context, id string) (*models.Customer, error) {
	c, ok := t.customers[id]
	if !ok {
		return nil, fmt.Errorf("customer %s: %w", id, store.ErrNotFound)
	}
	return &c, nil
}

func (t *memTx) CustomerByEmail(ctx context.Context, email string) (*models.Customer, error) {
	for _, c := range t.customers {
		if c.Email == email {
			found := c
			return &found, nil
		}
	}
	return nil, nil
}

func (t *memTx) CreateCustomer(ctx context.Context, c *models.Customer) error {
	t.customers[c.ID] = *c
	return nil
}

func (t *memTx) InsertOrder(ctx context.Context, o *models.Order) error {
	t.orders[o.ID] = *o
	return nil
}

func (t *memTx) InsertOrderItem(ctx context.Context, item *models.OrderItem) error {
	t.items[item.OrderID] = append(t.items[item.OrderID], *item)
	return nil
}

func (t *memTx) SetProductStock(ctx context.Context, id int64, stock int, status string) error {
	p, ok := t.products[id]
	if !ok {
		return fmt.Errorf("product %d: %w", id, store.ErrNotFound)
	}
	p.Stock = stock
	p.Status = status
	t.products[id] = p
	return nil
}

func (t *memTx) RecordOrderOnLedger(ctx context.Context, customerID, orderID string, spend int64) error {
	c, ok := t.customers[customerID]
	if !ok {
		return fmt.Errorf("customer %s: %w", customerID, store.ErrNotFound)
	}
	c.OrderIDs = append(c.OrderIDs, orderID)
	c.TotalSpent += spend
	c.OrderCount++
	t.customers[customerID] = c
	return nil
}

type capturedEvents struct {
	mu       sync.Mutex
	placed   []*models.OrderPlacedEvent
	stockLow []*models.StockLowEvent
}

func (c *capturedEvents) PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.placed = append(c.placed, event)
	return nil
}

func (c *capturedEvents) PublishStockLow(ctx context.Context, event *models.StockLowEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stockLow = append(c.stockLow, event)
	return nil
}

func ginProduct(id int64, price int64, stock int) models.Product {
	return models.Product{
		ID:     id,
		SKU:    fmt.Sprintf("GIN-%03d", id),
		Name:   fmt.Sprintf("Gin %d", id),
		Price:  price,
		Stock:  stock,
		Status: models.ProductStatusActive,
	}
}

func regularCustomer() models.Customer {
	return models.Customer{
		ID:        "cust-1",
		Email:     "buyer@example.com",
		FirstName: "Ada",
		OrderIDs:  pq.StringArray{},
	}
}

func TestPlaceOrderDecrementsStock(t *testing.T) {
	mem := newMemStore(ginProduct(1, 2500, 5))
	mem.addCustomer(regularCustomer())
	p := NewOrderProcessor(mem, nil, nil, SpendOnCreation)

	resp, err := p.PlaceOrder(context.Background(), &PlaceOrderRequest{
		CustomerID: "cust-1",
		Items:      []OrderItemRequest{{ProductID: 1, Quantity: 3}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.OrderID)
	assert.Equal(t, models.OrderStatusPending, resp.Status)

	assert.Equal(t, 2, mem.products[1].Stock)
	assert.Equal(t, models.ProductStatusActive, mem.products[1].Status)

	order := mem.orders[resp.OrderID]
	assert.Equal(t, int64(7500), order.Subtotal)
	assert.Equal(t, int64(7500), order.Total)
	assert.Equal(t, models.PaymentStatusPending, order.PaymentStatus)
}

func TestPlaceOrderInsufficientStock(t *testing.T) {
	mem := newMemStore(ginProduct(1, 2500, 2))
	mem.addCustomer(regularCustomer())
	p := NewOrderProcessor(mem, nil, nil, SpendOnCreation)

	_, err := p.PlaceOrder(context.Background(), &PlaceOrderRequest{
		CustomerID: "cust-1",
		Items:      []OrderItemRequest{{ProductID: 1, Quantity: 3}},
	})

	var stockErr *OutOfStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, int64(1), stockErr.ProductID)
	assert.Equal(t, 2, stockErr.Available)
	assert.Equal(t, 3, stockErr.Requested)
	assert.Contains(t, err.Error(), "Gin 1")

	// No partial effects.
	assert.Equal(t, 2, mem.products[1].Stock)
	assert.Empty(t, mem.orders)
	assert.Empty(t, mem.customers["cust-1"].OrderIDs)
}

func TestPlaceOrderTotals(t *testing.T) {
	mem := newMemStore(ginProduct(1, 10, 10), ginProduct(2, 5, 10))
	mem.addCustomer(regularCustomer())
	p := NewOrderProcessor(mem, nil, nil, SpendOnCreation)

	resp, err := p.PlaceOrder(context.Background(), &PlaceOrderRequest{
		CustomerID:   "cust-1",
		ShippingCost: 9,
		Items: []OrderItemRequest{
			{ProductID: 1, Quantity: 2},
			{ProductID: 2, Quantity: 1},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(25), resp.Subtotal)
	assert.Equal(t, int64(34), resp.Total)

	items := mem.items[resp.OrderID]
	require.Len(t, items, 2)
	var sum int64
	for _, item := range items {
		assert.Equal(t, item.UnitPrice*int64(item.Quantity), item.LineTotal)
		sum += item.LineTotal
	}
	assert.Equal(t, resp.Subtotal, sum)
}

func TestPlaceOrderRejectsMismatchedClaimedTotal(t *testing.T) {
	mem := newMemStore(ginProduct(1, 2500, 5))
	mem.addCustomer(regularCustomer())
	p := NewOrderProcessor(mem, nil, nil, SpendOnCreation)

	_, err := p.PlaceOrder(context.Background(), &PlaceOrderRequest{
		CustomerID:   "cust-1",
		ClaimedTotal: 100, // live price says 2500
		Items:        []OrderItemRequest{{ProductID: 1, Quantity: 1}},
	})

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, 5, mem.products[1].Stock)
	assert.Empty(t, mem.orders)
}

func TestPlaceOrderQuickOrderCreatesLedger(t *testing.T) {
	mem := newMemStore(ginProduct(1, 4000, 5))
	p := NewOrderProcessor(mem, nil, nil, SpendOnCreation)

	resp, err := p.PlaceOrder(context.Background(), &PlaceOrderRequest{
		CustomerEmail: "new@example.com",
		FirstName:     "Grace",
		Items:         []OrderItemRequest{{ProductID: 1, Quantity: 1}},
	})
	require.NoError(t, err)

	require.Len(t, mem.customers, 1)
	for _, c := range mem.customers {
		assert.Equal(t, "new@example.com", c.Email)
		assert.Equal(t, pq.StringArray{resp.OrderID}, c.OrderIDs)
		assert.Equal(t, int64(4000), c.TotalSpent)
		assert.Equal(t, 1, c.OrderCount)
	}
}

func TestPlaceOrderLedgerConsistency(t *testing.T) {
	mem := newMemStore(ginProduct(1, 1000, 10))
	mem.addCustomer(regularCustomer())
	p := NewOrderProcessor(mem, nil, nil, SpendOnCreation)

	resp, err := p.PlaceOrder(context.Background(), &PlaceOrderRequest{
		CustomerID:   "cust-1",
		ShippingCost: 500,
		Items:        []OrderItemRequest{{ProductID: 1, Quantity: 2}},
	})
	require.NoError(t, err)

	c := mem.customers["cust-1"]
	count := 0
	for _, id := range c.OrderIDs {
		if id == resp.OrderID {
			count++
		}
	}
	assert.Equal(t, 1, count, "order id appended exactly once")
	assert.Equal(t, resp.Total, c.TotalSpent)
}

func TestPlaceOrderWholeRequestAtomicity(t *testing.T) {
	mem := newMemStore(ginProduct(1, 1000, 5))
	mem.addCustomer(regularCustomer())
	p := NewOrderProcessor(mem, nil, nil, SpendOnCreation)

	_, err := p.PlaceOrder(context.Background(), &PlaceOrderRequest{
		CustomerID: "cust-1",
		Items: []OrderItemRequest{
			{ProductID: 1, Quantity: 2},  // valid line
			{ProductID: 99, Quantity: 1}, // unknown product
		},
	})

	var notFoundErr *NotFoundError
	require.ErrorAs(t, err, &notFoundErr)
	assert.Equal(t, "product", notFoundErr.Resource)

	// The valid line must not have left any trace either.
	assert.Equal(t, 5, mem.products[1].Stock)
	assert.Empty(t, mem.orders)
	assert.Empty(t, mem.customers["cust-1"].OrderIDs)
	assert.Zero(t, mem.customers["cust-1"].TotalSpent)
}

func TestPlaceOrderUnknownCustomer(t *testing.T) {
	mem := newMemStore(ginProduct(1, 1000, 5))
	p := NewOrderProcessor(mem, nil, nil, SpendOnCreation)

	_, err := p.PlaceOrder(context.Background(), &PlaceOrderRequest{
		CustomerID: "ghost",
		Items:      []OrderItemRequest{{ProductID: 1, Quantity: 1}},
	})

	var notFoundErr *NotFoundError
	require.ErrorAs(t, err, &notFoundErr)
	assert.Equal(t, "customer", notFoundErr.Resource)
	assert.Equal(t, 5, mem.products[1].Stock)
}

func TestPlaceOrderValidation(t *testing.T) {
	mem := newMemStore(ginProduct(1, 1000, 5))
	p := NewOrderProcessor(mem, nil, nil, SpendOnCreation)

	cases := []struct {
		name string
		req  *PlaceOrderRequest
	}{
		{"no items", &PlaceOrderRequest{CustomerID: "cust-1"}},
		{"zero quantity", &PlaceOrderRequest{
			CustomerID: "cust-1",
			Items:      []OrderItemRequest{{ProductID: 1, Quantity: 0}},
		}},
		{"duplicate line", &PlaceOrderRequest{
			CustomerID: "cust-1",
			Items:      []OrderItemRequest{{ProductID: 1, Quantity: 1}, {ProductID: 1, Quantity: 2}},
		}},
		{"negative shipping", &PlaceOrderRequest{
			CustomerID:   "cust-1",
			ShippingCost: -1,
			Items:        []OrderItemRequest{{ProductID: 1, Quantity: 1}},
		}},
		{"no customer identity", &PlaceOrderRequest{
			Items: []OrderItemRequest{{ProductID: 1, Quantity: 1}},
		}},
		{"bad quick-order email", &PlaceOrderRequest{
			CustomerEmail: "not-an-email",
			FirstName:     "Ada",
			Items:         []OrderItemRequest{{ProductID: 1, Quantity: 1}},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.PlaceOrder(context.Background(), tc.req)
			var validationErr *ValidationError
			assert.ErrorAs(t, err, &validationErr)
		})
	}

	// Validation failures never touch the store.
	assert.Equal(t, 5, mem.products[1].Stock)
	assert.Empty(t, mem.orders)
}

func TestPlaceOrderIdempotency(t *testing.T) {
	mem := newMemStore(ginProduct(1, 1000, 5))
	mem.addCustomer(regularCustomer())
	p := NewOrderProcessor(mem, nil, nil, SpendOnCreation)

	req := &PlaceOrderRequest{
		CustomerID:     "cust-1",
		Items:          []OrderItemRequest{{ProductID: 1, Quantity: 2}},
		IdempotencyKey: "req-42",
	}

	first, err := p.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := p.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.OrderID, second.OrderID)

	// Exactly one order and one stock decrement.
	assert.Len(t, mem.orders, 1)
	assert.Equal(t, 3, mem.products[1].Stock)
	assert.Len(t, mem.customers["cust-1"].OrderIDs, 1)
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func (f *fakeCache) GetIdempotencyResult(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries[key], nil
}

func (f *fakeCache) SetIdempotencyResult(ctx context.Context, key string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.entries == nil {
		f.entries = make(map[string][]byte)
	}
	f.entries[key] = payload
	return nil
}

func TestPlaceOrderIdempotencyFastPath(t *testing.T) {
	mem := newMemStore(ginProduct(1, 1000, 5))
	mem.addCustomer(regularCustomer())
	cache := &fakeCache{}
	p := NewOrderProcessor(mem, cache, nil, SpendOnCreation)

	req := &PlaceOrderRequest{
		CustomerID:     "cust-1",
		Items:          []OrderItemRequest{{ProductID: 1, Quantity: 1}},
		IdempotencyKey: "req-7",
	}

	first, err := p.PlaceOrder(context.Background(), req)
	require.NoError(t, err)

	second, err := p.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, 4, mem.products[1].Stock, "cache hit must not re-run the transaction")
}

func TestPlaceOrderSpendOnPayment(t *testing.T) {
	mem := newMemStore(ginProduct(1, 1000, 5))
	mem.addCustomer(regularCustomer())
	p := NewOrderProcessor(mem, nil, nil, SpendOnPayment)

	resp, err := p.PlaceOrder(context.Background(), &PlaceOrderRequest{
		CustomerID: "cust-1",
		Items:      []OrderItemRequest{{ProductID: 1, Quantity: 1}},
	})
	require.NoError(t, err)

	c := mem.customers["cust-1"]
	assert.Equal(t, pq.StringArray{resp.OrderID}, c.OrderIDs)
	assert.Zero(t, c.TotalSpent, "spend deferred until payment confirmation")
	assert.Equal(t, 1, c.OrderCount)
}

func TestPlaceOrderDrainsProductToOutOfStock(t *testing.T) {
	mem := newMemStore(ginProduct(1, 1000, 2))
	mem.addCustomer(regularCustomer())
	events := &capturedEvents{}
	p := NewOrderProcessor(mem, nil, events, SpendOnCreation)

	resp, err := p.PlaceOrder(context.Background(), &PlaceOrderRequest{
		CustomerID: "cust-1",
		Items:      []OrderItemRequest{{ProductID: 1, Quantity: 2}},
	})
	require.NoError(t, err)

	assert.Equal(t, 0, mem.products[1].Stock)
	assert.Equal(t, models.ProductStatusOutOfStock, mem.products[1].Status)

	require.Len(t, events.placed, 1)
	assert.Equal(t, resp.OrderID, events.placed[0].OrderID)
	assert.Equal(t, models.EventTypeOrderPlaced, events.placed[0].EventType)

	require.Len(t, events.stockLow, 1)
	assert.Equal(t, int64(1), events.stockLow[0].ProductID)
}

func TestPlaceOrderNoOversellingUnderConcurrency(t *testing.T) {
	const stock = 5
	mem := newMemStore(ginProduct(1, 1000, stock))
	mem.addCustomer(regularCustomer())
	p := NewOrderProcessor(mem, nil, nil, SpendOnCreation)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = p.PlaceOrder(context.Background(), &PlaceOrderRequest{
				CustomerID: "cust-1",
				Items:      []OrderItemRequest{{ProductID: 1, Quantity: 2}},
			})
		}(i)
	}
	wg.Wait()

	committed := 0
	for _, err := range errs {
		if err == nil {
			committed++
			continue
		}
		var stockErr *OutOfStockError
		assert.ErrorAs(t, err, &stockErr)
	}

	// stock 5, qty 2 each: exactly two orders fit.
	assert.Equal(t, 2, committed)
	assert.Equal(t, stock-2*committed, mem.products[1].Stock)
	assert.Len(t, mem.orders, committed)
	assert.Len(t, mem.customers["cust-1"].OrderIDs, committed)
}

func TestPlaceOrderConcurrentQuickOrdersShareLedger(t *testing.T) {
	// Two quick orders racing on the same new email must end up on one
	// ledger record, never two.
	mem := newMemStore(ginProduct(1, 1000, 10))
	p := NewOrderProcessor(mem, nil, nil, SpendOnCreation)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = p.PlaceOrder(context.Background(), &PlaceOrderRequest{
				CustomerEmail: "race@example.com",
				FirstName:     "Grace",
				Items:         []OrderItemRequest{{ProductID: 1, Quantity: 1}},
			})
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	require.Len(t, mem.customers, 1)
	for _, c := range mem.customers {
		assert.Len(t, c.OrderIDs, 2)
		assert.Equal(t, int64(2000), c.TotalSpent)
	}
	assert.Equal(t, 8, mem.products[1].Stock)
}

func TestPlaceOrderConcurrentPairOneWins(t *testing.T) {
	mem := newMemStore(ginProduct(1, 1000, 5))
	mem.addCustomer(regularCustomer())
	p := NewOrderProcessor(mem, nil, nil, SpendOnCreation)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = p.PlaceOrder(context.Background(), &PlaceOrderRequest{
				CustomerID: "cust-1",
				Items:      []OrderItemRequest{{ProductID: 1, Quantity: 4}},
			})
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, 1, mem.products[1].Stock)
}
