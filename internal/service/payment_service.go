package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"marketplace-service/internal/apierror"
	"marketplace-service/internal/models"
	"marketplace-service/internal/store"
	"marketplace-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrPaymentDeclined is returned by a provider that refused the charge
var ErrPaymentDeclined = errors.New("payment declined")

// ChargeRequest is one charge against the payment provider
type ChargeRequest struct {
	Kind    string
	OrderID int64
	UserID  int64
	Amount  int64
	Method  string
}

// PaymentProvider charges buyers
type PaymentProvider interface {
	Charge(ctx context.Context, req ChargeRequest) (providerTxID string, err error)
}

// MockProvider approves a share of charges after a short random delay
type MockProvider struct {
	SuccessRate float64
	MaxLatency  time.Duration
}

// Charge implements PaymentProvider
func (m *MockProvider) Charge(ctx context.Context, req ChargeRequest) (string, error) {
	if m.MaxLatency > 0 {
		delay := time.Duration(rand.Int63n(int64(m.MaxLatency)))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if rand.Float64() >= m.SuccessRate {
		return "", ErrPaymentDeclined
	}
	return fmt.Sprintf("TXN-%s", uuid.New().String()[:8]), nil
}

// PaymentService handles payment processing
type PaymentService struct {
	store     *store.Store
	provider  PaymentProvider
	publisher EventPublisher
	logger    *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(store *store.Store, provider PaymentProvider, publisher EventPublisher) *PaymentService {
	return &PaymentService{
		store:     store,
		provider:  provider,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// HandleCheckoutReserved charges the order of a reserved checkout once per event
func (ps *PaymentService) HandleCheckoutReserved(ctx context.Context, event *models.CheckoutReservedEvent) error {
	processed, err := ps.store.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		ps.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	if err := ps.ProcessPayment(ctx, ChargeRequest{
		Kind:    event.Kind,
		OrderID: event.OrderID,
		UserID:  event.UserID,
		Amount:  event.TotalAmount,
		Method:  event.PaymentMethod,
	}); err != nil {
		return err
	}

	if err := ps.store.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		ps.logger.Error("Failed to mark event processed", zap.Error(err))
	}
	return nil
}

// ProcessPayment charges an order and publishes the outcome. An order that
// already has a settled or running payment is not charged again.
func (ps *PaymentService) ProcessPayment(ctx context.Context, req ChargeRequest) error {
	ctx, span := util.StartSpan(ctx, "PaymentService.ProcessPayment")
	defer span.End()

	previous, err := ps.store.ListPaymentsByReference(ctx, req.Kind, req.OrderID)
	if err != nil {
		return fmt.Errorf("failed to list payments: %w", err)
	}
	for _, p := range previous {
		if p.Status != models.PaymentStatusFailed {
			ps.logger.Info("Order already has a payment",
				zap.String("kind", req.Kind),
				zap.Int64("order_id", req.OrderID),
				zap.Int64("payment_id", p.ID))
			return nil
		}
	}

	util.PaymentAttemptsTotal.Inc()
	start := time.Now()
	defer func() {
		util.PaymentProcessingLatency.Observe(time.Since(start).Seconds())
	}()

	ps.logger.Info("Processing payment",
		zap.String("kind", req.Kind),
		zap.Int64("order_id", req.OrderID),
		zap.Int64("amount", req.Amount))

	payment := &models.PaymentTransaction{
		UserID:      req.UserID,
		Kind:        req.Kind,
		ReferenceID: req.OrderID,
		Amount:      req.Amount,
		Method:      req.Method,
		Status:      models.PaymentStatusPending,
	}
	if err := ps.store.CreatePayment(ctx, payment); err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}

	providerTxID, chargeErr := ps.provider.Charge(ctx, req)
	if chargeErr != nil && !errors.Is(chargeErr, ErrPaymentDeclined) && ctx.Err() != nil {
		// shutting down: leave the payment PENDING and let the message be redelivered
		return chargeErr
	}

	if chargeErr == nil {
		ps.logger.Info("Payment succeeded",
			zap.Int64("order_id", req.OrderID),
			zap.String("tx_id", providerTxID))

		if err := ps.store.UpdatePaymentResult(ctx, payment.ID, models.PaymentStatusSucceeded, providerTxID, ""); err != nil {
			return fmt.Errorf("failed to update payment status: %w", err)
		}

		util.PaymentSuccessTotal.Inc()

		event := &models.PaymentSuccessEvent{
			BaseEvent: models.NewBaseEvent(newEventID(), models.EventTypePaymentSuccess),
			Kind:      req.Kind,
			OrderID:   req.OrderID,
			PaymentID: payment.ID,
			Amount:    req.Amount,
			TxID:      providerTxID,
		}
		if err := ps.publisher.PublishPaymentSuccess(ctx, event); err != nil {
			ps.logger.Error("Failed to publish PaymentSuccess event", zap.Error(err))
		}
		return nil
	}

	reason := chargeErr.Error()
	ps.logger.Warn("Payment failed",
		zap.Int64("order_id", req.OrderID),
		zap.String("reason", reason))

	if err := ps.store.UpdatePaymentResult(ctx, payment.ID, models.PaymentStatusFailed, "", reason); err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}

	util.PaymentFailedTotal.Inc()

	event := &models.PaymentFailedEvent{
		BaseEvent: models.NewBaseEvent(newEventID(), models.EventTypePaymentFailed),
		Kind:      req.Kind,
		OrderID:   req.OrderID,
		PaymentID: payment.ID,
		Reason:    reason,
	}
	if err := ps.publisher.PublishPaymentFailed(ctx, event); err != nil {
		ps.logger.Error("Failed to publish PaymentFailed event", zap.Error(err))
	}
	return nil
}

// GetPayment returns a payment to the user who paid it
func (ps *PaymentService) GetPayment(ctx context.Context, userID, paymentID int64) (*models.PaymentTransaction, error) {
	p, err := ps.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, storeErr(err, MsgPaymentNotFound)
	}
	if p.UserID != userID {
		return nil, apierror.Forbidden(MsgForbidden)
	}
	return p, nil
}
