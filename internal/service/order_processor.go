package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vincibusa/bibigin-admin-sub000/internal/models"
	"github.com/vincibusa/bibigin-admin-sub000/internal/store"
	"github.com/vincibusa/bibigin-admin-sub000/internal/util"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Spend accounting modes: the source counted customer spend at order
// creation regardless of payment outcome. Kept as the default, with the
// payment-confirmation variant behind configuration.
const (
	SpendOnCreation = "on_creation"
	SpendOnPayment  = "on_payment"
)

// TxRunner runs an order transaction with all-or-nothing semantics.
type TxRunner interface {
	RunOrderTx(ctx context.Context, fn func(tx store.OrderTx) error) error
}

// EventPublisher fans out post-commit notifications. Failures are logged,
// never propagated: notification failure must not roll back an order.
type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
	PublishStockLow(ctx context.Context, event *models.StockLowEvent) error
}

// IdempotencyCache is a best-effort fast path in front of the store's
// idempotency-key lookup. A miss is always safe.
type IdempotencyCache interface {
	GetIdempotencyResult(ctx context.Context, key string) ([]byte, error)
	SetIdempotencyResult(ctx context.Context, key string, payload []byte) error
}

// OrderProcessor commits order creation, stock decrement and the customer
// ledger update as one atomic unit, or fails with no partial effects.
type OrderProcessor struct {
	store           TxRunner
	cache           IdempotencyCache
	events          EventPublisher
	logger          *zap.Logger
	spendOnCreation bool
}

// NewOrderProcessor creates a new order processor. cache and events may be
// nil; both are optional side channels.
func NewOrderProcessor(txStore TxRunner, cache IdempotencyCache, events EventPublisher, spendAccounting string) *OrderProcessor {
	return &OrderProcessor{
		store:           txStore,
		cache:           cache,
		events:          events,
		logger:          util.GetLogger(),
		spendOnCreation: spendAccounting != SpendOnPayment,
	}
}

// PlaceOrderRequest is a proposed order. Either CustomerID or the quick-order
// trio (email + names) must be set. Amounts are cents.
type PlaceOrderRequest struct {
	CustomerID      string             `json:"customer_id,omitempty"`
	CustomerEmail   string             `json:"customer_email,omitempty"`
	FirstName       string             `json:"first_name,omitempty"`
	LastName        string             `json:"last_name,omitempty"`
	Items           []OrderItemRequest `json:"items" binding:"required,min=1"`
	ShippingCost    int64              `json:"shipping_cost"`
	ClaimedTotal    int64              `json:"total,omitempty"`
	ShippingAddress models.Address     `json:"shipping_address"`
	BillingAddress  models.Address     `json:"billing_address"`
	IdempotencyKey  string             `json:"idempotency_key,omitempty"`
}

// OrderItemRequest references a product and a positive quantity.
type OrderItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required,min=1"`
}

// PlaceOrderResponse is returned on success, or when the idempotency key
// matched a previously committed order (Duplicate is then true).
type PlaceOrderResponse struct {
	OrderID   string `json:"order_id"`
	Status    string `json:"status"`
	Subtotal  int64  `json:"subtotal"`
	Total     int64  `json:"total"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// PlaceOrder validates the request against live inventory and commits the
// order, the stock decrements and the ledger update in one serializable
// transaction. All reads happen before any write so the store can detect
// conflicting concurrent commits and re-run the whole sequence.
func (p *OrderProcessor) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*PlaceOrderResponse, error) {
	ctx, span := util.StartSpan(ctx, "OrderProcessor.PlaceOrder")
	defer span.End()

	start := time.Now()
	defer func() {
		util.OrderPlacementLatency.Observe(time.Since(start).Seconds())
	}()

	if err := validatePlaceOrder(req); err != nil {
		util.OrdersFailedTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	if resp := p.cachedResult(ctx, req.IdempotencyKey); resp != nil {
		return resp, nil
	}

	var (
		resp    *PlaceOrderResponse
		placed  *models.OrderPlacedEvent
		drained []*models.StockLowEvent
	)

	err := p.store.RunOrderTx(ctx, func(tx store.OrderTx) error {
		// The transaction may be re-executed on conflict; start clean.
		resp, placed, drained = nil, nil, nil

		if req.IdempotencyKey != "" {
			existing, err := tx.OrderByIdempotencyKey(ctx, req.IdempotencyKey)
			if err != nil {
				return err
			}
			if existing != nil {
				resp = &PlaceOrderResponse{
					OrderID:   existing.ID,
					Status:    existing.Status,
					Subtotal:  existing.Subtotal,
					Total:     existing.Total,
					Duplicate: true,
				}
				return nil
			}
		}

		// Read phase: every product, then the ledger.
		lines := make([]orderLine, 0, len(req.Items))
		for _, item := range req.Items {
			product, err := tx.ProductByID(ctx, item.ProductID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return &NotFoundError{Resource: "product", ID: strconv.FormatInt(item.ProductID, 10)}
				}
				return err
			}
			if product.Stock < item.Quantity {
				return &OutOfStockError{
					ProductID:   product.ID,
					ProductName: product.Name,
					Requested:   item.Quantity,
					Available:   product.Stock,
				}
			}
			lines = append(lines, orderLine{product: product, quantity: item.Quantity})
		}

		customer, createCustomer, err := p.resolveCustomer(ctx, tx, req)
		if err != nil {
			return err
		}

		// Totals are recomputed from live prices; a client-claimed total
		// that disagrees is rejected rather than trusted.
		var subtotal int64
		for _, line := range lines {
			subtotal += line.product.Price * int64(line.quantity)
		}
		total := subtotal + req.ShippingCost
		if req.ClaimedTotal != 0 && req.ClaimedTotal != total {
			return &ValidationError{Reason: fmt.Sprintf("total mismatch: claimed %d, computed %d", req.ClaimedTotal, total)}
		}

		// Write phase.
		if createCustomer {
			if err := tx.CreateCustomer(ctx, customer); err != nil {
				return err
			}
		}

		order := &models.Order{
			ID:              uuid.New().String(),
			CustomerID:      customer.ID,
			CustomerEmail:   customer.Email,
			Subtotal:        subtotal,
			ShippingCost:    req.ShippingCost,
			Total:           total,
			Status:          models.OrderStatusPending,
			PaymentStatus:   models.PaymentStatusPending,
			ShippingAddress: req.ShippingAddress,
			BillingAddress:  req.BillingAddress,
			IdempotencyKey:  req.IdempotencyKey,
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}

		eventItems := make([]models.OrderItemData, 0, len(lines))
		for _, line := range lines {
			item := &models.OrderItem{
				OrderID:     order.ID,
				ProductID:   line.product.ID,
				ProductName: line.product.Name,
				Quantity:    line.quantity,
				UnitPrice:   line.product.Price,
				LineTotal:   line.product.Price * int64(line.quantity),
			}
			if err := tx.InsertOrderItem(ctx, item); err != nil {
				return err
			}
			eventItems = append(eventItems, models.OrderItemData{
				ProductID:   line.product.ID,
				ProductName: line.product.Name,
				Quantity:    line.quantity,
				UnitPrice:   line.product.Price,
			})
		}

		for _, line := range lines {
			newStock := line.product.Stock - line.quantity
			status := line.product.Status
			if newStock == 0 {
				status = models.ProductStatusOutOfStock
			}
			if err := tx.SetProductStock(ctx, line.product.ID, newStock, status); err != nil {
				return err
			}
			if newStock == 0 {
				drained = append(drained, &models.StockLowEvent{
					ProductID:   line.product.ID,
					ProductName: line.product.Name,
					Stock:       newStock,
				})
			}
		}

		spend := total
		if !p.spendOnCreation {
			spend = 0
		}
		if err := tx.RecordOrderOnLedger(ctx, customer.ID, order.ID, spend); err != nil {
			return err
		}

		resp = &PlaceOrderResponse{
			OrderID:  order.ID,
			Status:   order.Status,
			Subtotal: subtotal,
			Total:    total,
		}
		placed = &models.OrderPlacedEvent{
			OrderID:       order.ID,
			CustomerID:    customer.ID,
			CustomerEmail: customer.Email,
			Total:         total,
			Items:         eventItems,
		}
		return nil
	})
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}

	if resp.Duplicate {
		p.logger.Info("Duplicate order request detected",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.String("order_id", resp.OrderID))
		return resp, nil
	}

	util.OrdersPlacedTotal.Inc()
	p.logger.Info("Order committed",
		zap.String("order_id", resp.OrderID),
		zap.Int64("total", resp.Total),
		zap.Int("items", len(req.Items)))

	p.rememberResult(ctx, req.IdempotencyKey, resp)
	p.publishEffects(ctx, placed, drained)

	return resp, nil
}

type orderLine struct {
	product  *models.Product
	quantity int
}

// resolveCustomer finds the ledger record, or prepares a fresh one for the
// quick-order path. The returned record is only inserted during the write
// phase when create is true.
func (p *OrderProcessor) resolveCustomer(ctx context.Context, tx store.OrderTx, req *PlaceOrderRequest) (customer *models.Customer, create bool, err error) {
	if req.CustomerID != "" {
		c, err := tx.CustomerByID(ctx, req.CustomerID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, false, &NotFoundError{Resource: "customer", ID: req.CustomerID}
			}
			return nil, false, err
		}
		return c, false, nil
	}

	c, err := tx.CustomerByEmail(ctx, req.CustomerEmail)
	if err != nil {
		return nil, false, err
	}
	if c != nil {
		return c, false, nil
	}

	return &models.Customer{
		ID:        uuid.New().String(),
		Email:     req.CustomerEmail,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		OrderIDs:  pq.StringArray{},
	}, true, nil
}

func validatePlaceOrder(req *PlaceOrderRequest) error {
	if len(req.Items) == 0 {
		return &ValidationError{Reason: "order has no items"}
	}
	seen := make(map[int64]bool, len(req.Items))
	for _, item := range req.Items {
		if item.ProductID <= 0 {
			return &ValidationError{Reason: "missing product id"}
		}
		if item.Quantity < 1 {
			return &ValidationError{Reason: fmt.Sprintf("non-positive quantity for product %d", item.ProductID)}
		}
		if seen[item.ProductID] {
			return &ValidationError{Reason: fmt.Sprintf("duplicate line item for product %d", item.ProductID)}
		}
		seen[item.ProductID] = true
	}
	if req.ShippingCost < 0 {
		return &ValidationError{Reason: "negative shipping cost"}
	}
	if req.CustomerID == "" {
		if req.CustomerEmail == "" || !strings.Contains(req.CustomerEmail, "@") {
			return &ValidationError{Reason: "customer id or a valid email is required"}
		}
		if req.FirstName == "" {
			return &ValidationError{Reason: "quick order requires the customer name"}
		}
	}
	return nil
}

func failureReason(err error) string {
	var (
		validationErr *ValidationError
		notFoundErr   *NotFoundError
		stockErr      *OutOfStockError
	)
	switch {
	case errors.As(err, &validationErr):
		return "validation"
	case errors.As(err, &notFoundErr):
		return "not_found"
	case errors.As(err, &stockErr):
		return "out_of_stock"
	case errors.Is(err, store.ErrConflictRetryExhausted):
		return "conflict"
	default:
		return "store_error"
	}
}

func (p *OrderProcessor) cachedResult(ctx context.Context, key string) *PlaceOrderResponse {
	if p.cache == nil || key == "" {
		return nil
	}
	payload, err := p.cache.GetIdempotencyResult(ctx, key)
	if err != nil || payload == nil {
		return nil
	}
	var resp PlaceOrderResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil
	}
	resp.Duplicate = true
	util.IdempotencyCacheHits.Inc()
	p.logger.Info("Duplicate order request served from cache",
		zap.String("idempotency_key", key),
		zap.String("order_id", resp.OrderID))
	return &resp
}

func (p *OrderProcessor) rememberResult(ctx context.Context, key string, resp *PlaceOrderResponse) {
	if p.cache == nil || key == "" {
		return
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := p.cache.SetIdempotencyResult(ctx, key, payload); err != nil {
		p.logger.Warn("Failed to cache idempotency result", zap.Error(err))
	}
}

// publishEffects is fire-and-forget: the order is already committed.
func (p *OrderProcessor) publishEffects(ctx context.Context, placed *models.OrderPlacedEvent, drained []*models.StockLowEvent) {
	if p.events == nil {
		return
	}

	placed.BaseEvent = models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: models.EventTypeOrderPlaced,
		Timestamp: time.Now(),
	}
	if err := p.events.PublishOrderPlaced(ctx, placed); err != nil {
		p.logger.Error("Failed to publish OrderPlaced event",
			zap.String("order_id", placed.OrderID),
			zap.Error(err))
	}

	for _, event := range drained {
		event.BaseEvent = models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeStockLow,
			Timestamp: time.Now(),
		}
		if err := p.events.PublishStockLow(ctx, event); err != nil {
			p.logger.Error("Failed to publish StockLow event",
				zap.Int64("product_id", event.ProductID),
				zap.Error(err))
		}
	}
}
