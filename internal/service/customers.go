package service

import (
	"context"
	"errors"
	"strings"

	"github.com/vincibusa/bibigin-admin-sub000/internal/models"
	"github.com/vincibusa/bibigin-admin-sub000/internal/store"
	"github.com/vincibusa/bibigin-admin-sub000/internal/util"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// SegmentThresholds decide how customers are bucketed from their ledger.
type SegmentThresholds struct {
	// VIPSpend is the lifetime spend (cents) from which a customer is vip.
	VIPSpend int64
	// RegularOrders is the order count from which a customer is regular.
	RegularOrders int
}

// CustomerStore is the slice of the store the customer service needs.
type CustomerStore interface {
	GetCustomerByID(ctx context.Context, id string) (*models.Customer, error)
	GetCustomerByEmail(ctx context.Context, email string) (*models.Customer, error)
	ListCustomers(ctx context.Context, limit, offset int) ([]models.Customer, error)
	CreateCustomer(ctx context.Context, c *models.Customer) error
	UpdateCustomer(ctx context.Context, c *models.Customer) error
	DeleteCustomer(ctx context.Context, id string) error
}

// CustomerService exposes ledger lookup and CRUD. The append-order/add-spend
// mutation itself is only reachable through the order processor.
type CustomerService struct {
	store      CustomerStore
	thresholds SegmentThresholds
	logger     *zap.Logger
}

// NewCustomerService creates a new customer service
func NewCustomerService(st CustomerStore, thresholds SegmentThresholds) *CustomerService {
	return &CustomerService{
		store:      st,
		thresholds: thresholds,
		logger:     util.GetLogger(),
	}
}

// CustomerView is a ledger record with its derived segment attached.
type CustomerView struct {
	models.Customer
	Segment string `json:"segment"`
}

// Segment derives new/regular/vip from spend and order count.
func (cs *CustomerService) Segment(c *models.Customer) string {
	switch {
	case c.TotalSpent >= cs.thresholds.VIPSpend:
		return models.SegmentVIP
	case c.OrderCount >= cs.thresholds.RegularOrders:
		return models.SegmentRegular
	default:
		return models.SegmentNew
	}
}

func (cs *CustomerService) view(c *models.Customer) *CustomerView {
	return &CustomerView{Customer: *c, Segment: cs.Segment(c)}
}

// GetCustomer looks a customer up by id, or by email when the key contains
// an "@".
func (cs *CustomerService) GetCustomer(ctx context.Context, key string) (*CustomerView, error) {
	var (
		c   *models.Customer
		err error
	)
	if strings.Contains(key, "@") {
		c, err = cs.store.GetCustomerByEmail(ctx, key)
	} else {
		c, err = cs.store.GetCustomerByID(ctx, key)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{Resource: "customer", ID: key}
		}
		return nil, err
	}
	return cs.view(c), nil
}

// resolveID maps an id-or-email key to the customer id, so every route that
// takes a key accepts the same forms.
func (cs *CustomerService) resolveID(ctx context.Context, key string) (string, error) {
	if !strings.Contains(key, "@") {
		return key, nil
	}
	c, err := cs.store.GetCustomerByEmail(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", &NotFoundError{Resource: "customer", ID: key}
		}
		return "", err
	}
	return c.ID, nil
}

// ListCustomers retrieves customers by lifetime spend, segments attached.
func (cs *CustomerService) ListCustomers(ctx context.Context, limit, offset int) ([]CustomerView, error) {
	customers, err := cs.store.ListCustomers(ctx, limit, offset)
	if err != nil {
		return nil, err
	}

	views := make([]CustomerView, len(customers))
	for i := range customers {
		views[i] = *cs.view(&customers[i])
	}
	return views, nil
}

// CustomerInput carries the editable fields of a ledger record.
type CustomerInput struct {
	Email     string `json:"email" binding:"required,email"`
	FirstName string `json:"first_name" binding:"required"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

// CreateCustomer registers a customer with an empty order history.
func (cs *CustomerService) CreateCustomer(ctx context.Context, in *CustomerInput) (*CustomerView, error) {
	if in.Email == "" || !strings.Contains(in.Email, "@") {
		return nil, &ValidationError{Reason: "a valid email is required"}
	}
	if in.FirstName == "" {
		return nil, &ValidationError{Reason: "first name is required"}
	}

	customer := &models.Customer{
		ID:        uuid.New().String(),
		Email:     in.Email,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Phone:     in.Phone,
		OrderIDs:  pq.StringArray{},
	}
	if err := cs.store.CreateCustomer(ctx, customer); err != nil {
		return nil, err
	}

	cs.logger.Info("Customer registered",
		zap.String("customer_id", customer.ID),
		zap.String("email", customer.Email))
	return cs.view(customer), nil
}

// UpdateCustomer overwrites contact fields; the ledger itself is untouched.
// Like GetCustomer, key may be an id or an email.
func (cs *CustomerService) UpdateCustomer(ctx context.Context, key string, in *CustomerInput) (*CustomerView, error) {
	if in.Email == "" || !strings.Contains(in.Email, "@") {
		return nil, &ValidationError{Reason: "a valid email is required"}
	}

	id, err := cs.resolveID(ctx, key)
	if err != nil {
		return nil, err
	}

	customer := &models.Customer{
		ID:        id,
		Email:     in.Email,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Phone:     in.Phone,
	}
	if err := cs.store.UpdateCustomer(ctx, customer); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{Resource: "customer", ID: id}
		}
		return nil, err
	}

	updated, err := cs.store.GetCustomerByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return cs.view(updated), nil
}

// DeleteCustomer hard-deletes a ledger record. Historical orders are kept.
// Like GetCustomer, key may be an id or an email.
func (cs *CustomerService) DeleteCustomer(ctx context.Context, key string) error {
	id, err := cs.resolveID(ctx, key)
	if err != nil {
		return err
	}

	if err := cs.store.DeleteCustomer(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &NotFoundError{Resource: "customer", ID: id}
		}
		return err
	}
	cs.logger.Info("Customer deleted", zap.String("customer_id", id))
	return nil
}
