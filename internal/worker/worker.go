package worker

import (
	"context"
	"fmt"
	"log"

	"github.com/vincibusa/bibigin-admin-sub000/internal/broker"
	"github.com/vincibusa/bibigin-admin-sub000/internal/models"
	"github.com/vincibusa/bibigin-admin-sub000/internal/store"
	"github.com/vincibusa/bibigin-admin-sub000/internal/util"

	"go.uber.org/zap"
)

// Notifier delivers a rendered notification to a recipient. Delivery
// mechanics (email, chat, webhook) live behind this interface.
type Notifier interface {
	Notify(ctx context.Context, recipient, subject, body string) error
}

// LogNotifier writes notifications to the structured log. Stands in for a
// real delivery channel in development.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: util.GetLogger()}
}

func (n *LogNotifier) Notify(ctx context.Context, recipient, subject, body string) error {
	n.logger.Info("Notification dispatched",
		zap.String("recipient", recipient),
		zap.String("subject", subject),
		zap.String("body", body))
	return nil
}

// NotificationWorker consumes order events and fans out customer and staff
// notifications. Delivery is at-most-once per event: each event id is
// recorded in processed_events before dispatch is acknowledged.
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	store        *store.Store
	notifier     Notifier
	staffAddress string
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer *broker.Consumer, st *store.Store, notifier Notifier, staffAddress string) *NotificationWorker {
	w := &NotificationWorker{
		consumer:     consumer,
		store:        st,
		notifier:     notifier,
		staffAddress: staffAddress,
		logger:       util.GetLogger(),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnOrderPlaced(w.handleOrderPlaced)
	eventHandler.OnOrderStatusChanged(w.handleOrderStatusChanged)
	eventHandler.OnOrderDeleted(w.handleOrderDeleted)
	eventHandler.OnStockLow(w.handleStockLow)
	w.eventHandler = eventHandler

	return w
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	log.Println("Starting notification worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	log.Println("Stopping notification worker...")
	return w.consumer.Close()
}

// seen reports whether the event was already dispatched, marking it
// processed otherwise.
func (w *NotificationWorker) seen(ctx context.Context, eventID, eventType string) (bool, error) {
	processed, err := w.store.IsEventProcessed(ctx, eventID)
	if err != nil {
		return false, fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		w.logger.Info("Event already processed", zap.String("event_id", eventID))
		return true, nil
	}
	if err := w.store.MarkEventProcessed(ctx, eventID, eventType); err != nil {
		return false, fmt.Errorf("failed to mark event processed: %w", err)
	}
	return false, nil
}

func (w *NotificationWorker) handleOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	seen, err := w.seen(ctx, event.EventID, event.EventType)
	if err != nil || seen {
		return err
	}

	subject := fmt.Sprintf("Order %s confirmed", event.OrderID)
	body := fmt.Sprintf("Thanks for your order of %d item(s), total %.2f EUR.",
		len(event.Items), float64(event.Total)/100)
	w.send(ctx, event.CustomerEmail, subject, body, "customer")

	staffBody := fmt.Sprintf("New order %s from %s, total %.2f EUR.",
		event.OrderID, event.CustomerEmail, float64(event.Total)/100)
	w.send(ctx, w.staffAddress, subject, staffBody, "staff")

	return nil
}

func (w *NotificationWorker) handleOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	seen, err := w.seen(ctx, event.EventID, event.EventType)
	if err != nil || seen {
		return err
	}

	subject := fmt.Sprintf("Order %s is now %s", event.OrderID, event.NewStatus)
	body := fmt.Sprintf("Your order moved from %s to %s.", event.OldStatus, event.NewStatus)
	w.send(ctx, event.CustomerEmail, subject, body, "customer")

	return nil
}

// handleOrderDeleted leaves an audit trail for staff: hard deletion is
// irreversible and does not restore stock or the ledger.
func (w *NotificationWorker) handleOrderDeleted(ctx context.Context, event *models.OrderDeletedEvent) error {
	seen, err := w.seen(ctx, event.EventID, event.EventType)
	if err != nil || seen {
		return err
	}

	subject := fmt.Sprintf("Order %s deleted", event.OrderID)
	body := fmt.Sprintf("Order %s was permanently deleted by %s.", event.OrderID, event.DeletedBy)
	w.send(ctx, w.staffAddress, subject, body, "staff")

	return nil
}

func (w *NotificationWorker) handleStockLow(ctx context.Context, event *models.StockLowEvent) error {
	seen, err := w.seen(ctx, event.EventID, event.EventType)
	if err != nil || seen {
		return err
	}

	subject := fmt.Sprintf("Product sold out: %s", event.ProductName)
	body := fmt.Sprintf("Product %d (%s) is out of stock.", event.ProductID, event.ProductName)
	w.send(ctx, w.staffAddress, subject, body, "staff")

	return nil
}

// send is best effort: a failed delivery is logged and counted, never
// retried through the event stream.
func (w *NotificationWorker) send(ctx context.Context, recipient, subject, body, audience string) {
	if recipient == "" {
		return
	}
	if err := w.notifier.Notify(ctx, recipient, subject, body); err != nil {
		util.NotificationsFailedTotal.Inc()
		w.logger.Error("Failed to deliver notification",
			zap.String("recipient", recipient),
			zap.String("subject", subject),
			zap.Error(err))
		return
	}
	util.NotificationsSentTotal.WithLabelValues(audience).Inc()
}
