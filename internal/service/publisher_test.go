package service

import (
	"context"
	"sync"
	"testing"

	"marketplace-service/internal/models"
	"marketplace-service/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

// recordingPublisher keeps every published event in memory
type recordingPublisher struct {
	mu            sync.Mutex
	reserved      []*models.CheckoutReservedEvent
	finalized     []*models.OrderFinalizedEvent
	statusChanges []*models.StatusChangedEvent
	notifications []*models.NotificationEvent
}

func (p *recordingPublisher) PublishCheckoutReserved(ctx context.Context, e *models.CheckoutReservedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reserved = append(p.reserved, e)
	return nil
}

func (p *recordingPublisher) PublishPaymentSuccess(ctx context.Context, e *models.PaymentSuccessEvent) error {
	return nil
}

func (p *recordingPublisher) PublishPaymentFailed(ctx context.Context, e *models.PaymentFailedEvent) error {
	return nil
}

func (p *recordingPublisher) PublishOrderFinalized(ctx context.Context, e *models.OrderFinalizedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finalized = append(p.finalized, e)
	return nil
}

func (p *recordingPublisher) PublishStatusChanged(ctx context.Context, e *models.StatusChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statusChanges = append(p.statusChanges, e)
	return nil
}

func (p *recordingPublisher) PublishNotification(ctx context.Context, e *models.NotificationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifications = append(p.notifications, e)
	return nil
}

func newMockStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return store.NewFromDB(sqlx.NewDb(db, "postgres")), mock
}

func int64Ptr(v int64) *int64 { return &v }

func intPtr(v int) *int { return &v }
