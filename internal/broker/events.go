package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"marketplace-service/internal/models"
	"marketplace-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing domain and notification events
type EventPublisher struct {
	orders        Publisher
	notifications Publisher
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(orders, notifications Publisher) *EventPublisher {
	return &EventPublisher{orders: orders, notifications: notifications}
}

func orderKey(kind string, orderID int64) string {
	return fmt.Sprintf("order-%s-%d", kind, orderID)
}

// PublishCheckoutReserved publishes CheckoutReserved event
func (ep *EventPublisher) PublishCheckoutReserved(ctx context.Context, event *models.CheckoutReservedEvent) error {
	return ep.orders.PublishEvent(ctx, orderKey(event.Kind, event.OrderID), event)
}

// PublishPaymentSuccess publishes PaymentSuccess event
func (ep *EventPublisher) PublishPaymentSuccess(ctx context.Context, event *models.PaymentSuccessEvent) error {
	return ep.orders.PublishEvent(ctx, orderKey(event.Kind, event.OrderID), event)
}

// PublishPaymentFailed publishes PaymentFailed event
func (ep *EventPublisher) PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error {
	return ep.orders.PublishEvent(ctx, orderKey(event.Kind, event.OrderID), event)
}

// PublishOrderFinalized publishes OrderFinalized event
func (ep *EventPublisher) PublishOrderFinalized(ctx context.Context, event *models.OrderFinalizedEvent) error {
	return ep.orders.PublishEvent(ctx, orderKey(event.Kind, event.OrderID), event)
}

// PublishStatusChanged publishes StatusChanged event
func (ep *EventPublisher) PublishStatusChanged(ctx context.Context, event *models.StatusChangedEvent) error {
	return ep.orders.PublishEvent(ctx, fmt.Sprintf("%s-%d", event.Entity, event.ID), event)
}

// PublishNotification publishes a Notification event to the notifications topic
func (ep *EventPublisher) PublishNotification(ctx context.Context, event *models.NotificationEvent) error {
	return ep.notifications.PublishEvent(ctx, event.Email, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onCheckoutReserved func(context.Context, *models.CheckoutReservedEvent) error
	onPaymentSuccess   func(context.Context, *models.PaymentSuccessEvent) error
	onPaymentFailed    func(context.Context, *models.PaymentFailedEvent) error
	onNotification     func(context.Context, *models.NotificationEvent) error
	logger             *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnCheckoutReserved registers a handler for CheckoutReserved events
func (eh *EventHandler) OnCheckoutReserved(handler func(context.Context, *models.CheckoutReservedEvent) error) {
	eh.onCheckoutReserved = handler
}

// OnPaymentSuccess registers a handler for PaymentSuccess events
func (eh *EventHandler) OnPaymentSuccess(handler func(context.Context, *models.PaymentSuccessEvent) error) {
	eh.onPaymentSuccess = handler
}

// OnPaymentFailed registers a handler for PaymentFailed events
func (eh *EventHandler) OnPaymentFailed(handler func(context.Context, *models.PaymentFailedEvent) error) {
	eh.onPaymentFailed = handler
}

// OnNotification registers a handler for Notification events
func (eh *EventHandler) OnNotification(handler func(context.Context, *models.NotificationEvent) error) {
	eh.onNotification = handler
}

// HandleMessage routes messages to appropriate handlers. Event types without
// a registered handler are skipped.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		// a poison message would block the partition forever
		eh.logger.Error("Dropping undecodable event", zap.ByteString("key", msg.Key), zap.Error(err))
		return nil
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeCheckoutReserved:
		if eh.onCheckoutReserved != nil {
			var event models.CheckoutReservedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal CheckoutReserved event: %w", err)
			}
			return eh.onCheckoutReserved(ctx, &event)
		}

	case models.EventTypePaymentSuccess:
		if eh.onPaymentSuccess != nil {
			var event models.PaymentSuccessEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PaymentSuccess event: %w", err)
			}
			return eh.onPaymentSuccess(ctx, &event)
		}

	case models.EventTypePaymentFailed:
		if eh.onPaymentFailed != nil {
			var event models.PaymentFailedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PaymentFailed event: %w", err)
			}
			return eh.onPaymentFailed(ctx, &event)
		}

	case models.EventTypeNotification:
		if eh.onNotification != nil {
			var event models.NotificationEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal Notification event: %w", err)
			}
			return eh.onNotification(ctx, &event)
		}
	}

	return nil
}
