package service

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"marketplace-service/internal/apierror"
	"marketplace-service/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockProvider(t *testing.T) {
	ctx := context.Background()
	req := ChargeRequest{Kind: models.OrderKindProduct, OrderID: 1, UserID: 2, Amount: 500, Method: "CARD"}

	txID, err := (&MockProvider{SuccessRate: 1}).Charge(ctx, req)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(txID, "TXN-"))
	assert.Len(t, txID, len("TXN-")+8)

	_, err = (&MockProvider{SuccessRate: 0}).Charge(ctx, req)
	assert.ErrorIs(t, err, ErrPaymentDeclined)
}

func TestMockProviderHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := (&MockProvider{SuccessRate: 1, MaxLatency: time.Hour}).Charge(ctx, ChargeRequest{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGetPaymentIsOwnerOnly(t *testing.T) {
	st, mock := newMockStore(t)
	svc := NewPaymentService(st, &MockProvider{SuccessRate: 1}, &recordingPublisher{})
	now := time.Now()
	cols := []string{"id", "user_id", "kind", "reference_id", "amount", "method", "status",
		"provider_tx_id", "failure_reason", "created_at", "updated_at"}

	for i := 0; i < 2; i++ {
		mock.ExpectQuery(`SELECT \* FROM payment_transactions WHERE id = \$1`).
			WithArgs(int64(3)).
			WillReturnRows(sqlmock.NewRows(cols).
				AddRow(3, 11, models.OrderKindProduct, 5, 900, "CARD", "SUCCEEDED", "TXN-1", "", now, now))
	}

	p, err := svc.GetPayment(context.Background(), 11, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(900), p.Amount)

	_, err = svc.GetPayment(context.Background(), 12, 3)
	assert.True(t, apierror.Is(err, http.StatusForbidden))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSagaDropsUnknownKind(t *testing.T) {
	st, mock := newMockStore(t)
	saga := NewSagaOrchestrator(st, nil, nil)

	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM processed_events WHERE event_id = \$1\)`).
		WithArgs("evt-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	event := &models.PaymentSuccessEvent{
		BaseEvent: models.NewBaseEvent("evt-1", models.EventTypePaymentSuccess),
		Kind:      "GIFT_CARD",
		OrderID:   4,
	}
	assert.NoError(t, saga.HandlePaymentSuccess(context.Background(), event))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSagaSkipsProcessedEvents(t *testing.T) {
	st, mock := newMockStore(t)
	saga := NewSagaOrchestrator(st, nil, nil)

	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM processed_events WHERE event_id = \$1\)`).
		WithArgs("evt-2").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	event := &models.PaymentFailedEvent{
		BaseEvent: models.NewBaseEvent("evt-2", models.EventTypePaymentFailed),
		Kind:      models.OrderKindProduct,
		OrderID:   4,
	}
	assert.NoError(t, saga.HandlePaymentFailed(context.Background(), event))
	assert.NoError(t, mock.ExpectationsWereMet())
}
