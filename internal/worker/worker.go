package worker

import (
	"context"

	"marketplace-service/internal/broker"
	"marketplace-service/internal/models"
	"marketplace-service/internal/util"

	"go.uber.org/zap"
)

// Consumer is the part of broker.Consumer the workers use
type Consumer interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// PaymentOutcomeHandler settles orders once payment has an outcome
type PaymentOutcomeHandler interface {
	HandlePaymentSuccess(ctx context.Context, event *models.PaymentSuccessEvent) error
	HandlePaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error
}

// CheckoutCharger charges reserved checkouts
type CheckoutCharger interface {
	HandleCheckoutReserved(ctx context.Context, event *models.CheckoutReservedEvent) error
}

// NotificationHandler delivers notification events
type NotificationHandler interface {
	HandleNotification(ctx context.Context, event *models.NotificationEvent) error
}

// eventWorker runs one consumer with a routing event handler
type eventWorker struct {
	name         string
	consumer     Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// Start consumes until ctx is cancelled
func (w *eventWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker", zap.String("worker", w.name))
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop closes the consumer
func (w *eventWorker) Stop() error {
	w.logger.Info("Stopping worker", zap.String("worker", w.name))
	return w.consumer.Close()
}

// OrderWorker runs the order saga on payment outcomes
type OrderWorker struct {
	eventWorker
}

// NewOrderWorker creates a new order worker
func NewOrderWorker(consumer Consumer, saga PaymentOutcomeHandler) *OrderWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnPaymentSuccess(saga.HandlePaymentSuccess)
	eventHandler.OnPaymentFailed(saga.HandlePaymentFailed)

	return &OrderWorker{eventWorker{name: "order", consumer: consumer, eventHandler: eventHandler, logger: util.GetLogger()}}
}

// PaymentWorker charges reserved checkouts
type PaymentWorker struct {
	eventWorker
}

// NewPaymentWorker creates a new payment worker
func NewPaymentWorker(consumer Consumer, payments CheckoutCharger) *PaymentWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnCheckoutReserved(payments.HandleCheckoutReserved)

	return &PaymentWorker{eventWorker{name: "payment", consumer: consumer, eventHandler: eventHandler, logger: util.GetLogger()}}
}

// NotificationWorker sends emails
type NotificationWorker struct {
	eventWorker
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer Consumer, notifications NotificationHandler) *NotificationWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnNotification(notifications.HandleNotification)

	return &NotificationWorker{eventWorker{name: "notification", consumer: consumer, eventHandler: eventHandler, logger: util.GetLogger()}}
}
