package service

import (
	"context"
	"fmt"

	"marketplace-service/internal/models"
	"marketplace-service/internal/store"
	"marketplace-service/internal/util"

	"go.uber.org/zap"
)

// OrderFinisher settles the orders of one kind once payment has an outcome
type OrderFinisher interface {
	CompleteOrder(ctx context.Context, orderID int64) error
	FailOrder(ctx context.Context, orderID int64, to, reason string) error
}

// SagaOrchestrator routes payment outcomes to the checkout that owns the order
type SagaOrchestrator struct {
	store     *store.Store
	finishers map[string]OrderFinisher
	failed    map[string]string
	logger    *zap.Logger
}

// NewSagaOrchestrator creates a new saga orchestrator
func NewSagaOrchestrator(
	store *store.Store,
	products *CheckoutService,
	experiences *ExperienceCheckoutService,
) *SagaOrchestrator {
	return &SagaOrchestrator{
		store: store,
		finishers: map[string]OrderFinisher{
			models.OrderKindProduct:    products,
			models.OrderKindExperience: experiences,
		},
		failed: map[string]string{
			models.OrderKindProduct:    models.ProductOrderStatusFailed,
			models.OrderKindExperience: models.ExperienceOrderStatusFailed,
		},
		logger: util.GetLogger(),
	}
}

func (so *SagaOrchestrator) finisher(kind string) (OrderFinisher, error) {
	f, ok := so.finishers[kind]
	if !ok {
		return nil, fmt.Errorf("no checkout handles order kind %q", kind)
	}
	return f, nil
}

func (so *SagaOrchestrator) alreadyProcessed(ctx context.Context, eventID string) (bool, error) {
	processed, err := so.store.IsEventProcessed(ctx, eventID)
	if err != nil {
		return false, fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		so.logger.Info("Event already processed", zap.String("event_id", eventID))
	}
	return processed, nil
}

// HandlePaymentSuccess completes a paid order
func (so *SagaOrchestrator) HandlePaymentSuccess(ctx context.Context, event *models.PaymentSuccessEvent) error {
	ctx, span := util.StartSpan(ctx, "SagaOrchestrator.HandlePaymentSuccess")
	defer span.End()

	if done, err := so.alreadyProcessed(ctx, event.EventID); done || err != nil {
		return err
	}
	f, err := so.finisher(event.Kind)
	if err != nil {
		so.logger.Error("Dropping payment event", zap.String("event_id", event.EventID), zap.Error(err))
		return nil
	}

	so.logger.Info("Handling payment success",
		zap.String("kind", event.Kind),
		zap.Int64("order_id", event.OrderID),
		zap.String("tx_id", event.TxID))

	if err := f.CompleteOrder(ctx, event.OrderID); err != nil {
		return err
	}

	if err := so.store.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		so.logger.Error("Failed to mark event processed", zap.Error(err))
	}
	return nil
}

// HandlePaymentFailed fails an unpaid order and gives back its stock (compensation)
func (so *SagaOrchestrator) HandlePaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error {
	ctx, span := util.StartSpan(ctx, "SagaOrchestrator.HandlePaymentFailed")
	defer span.End()

	if done, err := so.alreadyProcessed(ctx, event.EventID); done || err != nil {
		return err
	}
	f, err := so.finisher(event.Kind)
	if err != nil {
		so.logger.Error("Dropping payment event", zap.String("event_id", event.EventID), zap.Error(err))
		return nil
	}

	so.logger.Warn("Handling payment failure - starting compensation",
		zap.String("kind", event.Kind),
		zap.Int64("order_id", event.OrderID),
		zap.String("reason", event.Reason))

	if err := f.FailOrder(ctx, event.OrderID, so.failed[event.Kind], event.Reason); err != nil {
		return err
	}

	if err := so.store.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		so.logger.Error("Failed to mark event processed", zap.Error(err))
	}
	return nil
}
