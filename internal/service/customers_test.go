package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/vincibusa/bibigin-admin-sub000/internal/models"
	"github.com/vincibusa/bibigin-admin-sub000/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCustomerSegments(t *testing.T) {
	cs := &CustomerService{
		thresholds: SegmentThresholds{
			VIPSpend:      50000,
			RegularOrders: 2,
		},
	}

	cases := []struct {
		name     string
		spent    int64
		orders   int
		expected string
	}{
		{"fresh customer", 0, 0, models.SegmentNew},
		{"one order", 3000, 1, models.SegmentNew},
		{"repeat buyer", 8000, 2, models.SegmentRegular},
		{"many small orders", 20000, 10, models.SegmentRegular},
		{"big spender", 50000, 1, models.SegmentVIP},
		{"vip wins over regular", 90000, 12, models.SegmentVIP},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := &models.Customer{TotalSpent: tc.spent, OrderCount: tc.orders}
			assert.Equal(t, tc.expected, cs.Segment(c))
		})
	}
}

// customerStore is an in-memory CustomerStore keyed by id.
type customerStore struct {
	customers map[string]models.Customer
}

func newCustomerStore(customers ...models.Customer) *customerStore {
	s := &customerStore{customers: make(map[string]models.Customer)}
	for _, c := range customers {
		s.customers[c.ID] = c
	}
	return s
}

func (s *customerStore) GetCustomerByID(ctx context.Context, id string) (*models.Customer, error) {
	c, ok := s.customers[id]
	if !ok {
		return nil, fmt.Errorf("customer %s: %w", id, store.ErrNotFound)
	}
	return &c, nil
}

func (s *customerStore) GetCustomerByEmail(ctx context.Context, email string) (*models.Customer, error) {
	for _, c := range s.customers {
		if c.Email == email {
			found := c
			return &found, nil
		}
	}
	return nil, fmt.Errorf("customer %s: %w", email, store.ErrNotFound)
}

func (s *customerStore) ListCustomers(ctx context.Context, limit, offset int) ([]models.Customer, error) {
	customers := make([]models.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		customers = append(customers, c)
	}
	return customers, nil
}

func (s *customerStore) CreateCustomer(ctx context.Context, c *models.Customer) error {
	s.customers[c.ID] = *c
	return nil
}

func (s *customerStore) UpdateCustomer(ctx context.Context, c *models.Customer) error {
	existing, ok := s.customers[c.ID]
	if !ok {
		return fmt.Errorf("customer %s: %w", c.ID, store.ErrNotFound)
	}
	existing.Email = c.Email
	existing.FirstName = c.FirstName
	existing.LastName = c.LastName
	existing.Phone = c.Phone
	s.customers[c.ID] = existing
	return nil
}

func (s *customerStore) DeleteCustomer(ctx context.Context, id string) error {
	if _, ok := s.customers[id]; !ok {
		return fmt.Errorf("customer %s: %w", id, store.ErrNotFound)
	}
	delete(s.customers, id)
	return nil
}

// Every route that takes a customer key accepts an id or an email, mutations
// included.
func TestCustomerMutationsAcceptEmailKey(t *testing.T) {
	st := newCustomerStore(models.Customer{
		ID:        "cust-1",
		Email:     "ada@example.com",
		FirstName: "Ada",
	})
	cs := NewCustomerService(st, SegmentThresholds{VIPSpend: 50000, RegularOrders: 2})

	updated, err := cs.UpdateCustomer(context.Background(), "ada@example.com", &CustomerInput{
		Email:     "ada@example.com",
		FirstName: "Ada",
		LastName:  "Lovelace",
	})
	require.NoError(t, err)
	assert.Equal(t, "cust-1", updated.ID)
	assert.Equal(t, "Lovelace", updated.LastName)

	require.NoError(t, cs.DeleteCustomer(context.Background(), "ada@example.com"))
	assert.Empty(t, st.customers)
}

func TestCustomerMutationsUnknownEmailKey(t *testing.T) {
	cs := NewCustomerService(newCustomerStore(), SegmentThresholds{})

	_, err := cs.UpdateCustomer(context.Background(), "ghost@example.com", &CustomerInput{
		Email:     "ghost@example.com",
		FirstName: "Ghost",
	})
	var notFoundErr *NotFoundError
	require.ErrorAs(t, err, &notFoundErr)

	err = cs.DeleteCustomer(context.Background(), "ghost@example.com")
	require.ErrorAs(t, err, &notFoundErr)
}
