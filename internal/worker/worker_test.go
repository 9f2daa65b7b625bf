package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"marketplace-service/internal/broker"
	"marketplace-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// replayConsumer hands a fixed list of messages to the handler
type replayConsumer struct {
	messages []kafka.Message
	errs     []error
	closed   bool
}

func (c *replayConsumer) StartConsuming(ctx context.Context, handler broker.MessageHandler) error {
	for _, m := range c.messages {
		c.errs = append(c.errs, handler(ctx, m))
	}
	return nil
}

func (c *replayConsumer) Close() error {
	c.closed = true
	return nil
}

func message(t *testing.T, event interface{}) kafka.Message {
	t.Helper()
	b, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Value: b}
}

type fakeSaga struct {
	succeeded []int64
	failed    []int64
}

func (f *fakeSaga) HandlePaymentSuccess(ctx context.Context, e *models.PaymentSuccessEvent) error {
	f.succeeded = append(f.succeeded, e.OrderID)
	return nil
}

func (f *fakeSaga) HandlePaymentFailed(ctx context.Context, e *models.PaymentFailedEvent) error {
	f.failed = append(f.failed, e.OrderID)
	return nil
}

type fakeCharger struct {
	charged []int64
	err     error
}

func (f *fakeCharger) HandleCheckoutReserved(ctx context.Context, e *models.CheckoutReservedEvent) error {
	f.charged = append(f.charged, e.OrderID)
	return f.err
}

func TestOrderWorkerRoutesPaymentOutcomes(t *testing.T) {
	consumer := &replayConsumer{messages: []kafka.Message{
		message(t, models.PaymentSuccessEvent{BaseEvent: models.NewBaseEvent("e1", models.EventTypePaymentSuccess), Kind: models.OrderKindProduct, OrderID: 1}),
		message(t, models.PaymentFailedEvent{BaseEvent: models.NewBaseEvent("e2", models.EventTypePaymentFailed), Kind: models.OrderKindExperience, OrderID: 2}),
		message(t, models.CheckoutReservedEvent{BaseEvent: models.NewBaseEvent("e3", models.EventTypeCheckoutReserved), OrderID: 3}),
	}}
	saga := &fakeSaga{}

	w := NewOrderWorker(consumer, saga)
	require.NoError(t, w.Start(context.Background()))

	assert.Equal(t, []int64{1}, saga.succeeded)
	assert.Equal(t, []int64{2}, saga.failed)

	require.NoError(t, w.Stop())
	assert.True(t, consumer.closed)
}

func TestPaymentWorkerChargesReservedCheckouts(t *testing.T) {
	consumer := &replayConsumer{messages: []kafka.Message{
		message(t, models.CheckoutReservedEvent{BaseEvent: models.NewBaseEvent("e1", models.EventTypeCheckoutReserved), OrderID: 9}),
		message(t, models.OrderFinalizedEvent{BaseEvent: models.NewBaseEvent("e2", models.EventTypeOrderFinalized), OrderID: 9}),
	}}
	charger := &fakeCharger{err: errors.New("db down")}

	w := NewPaymentWorker(consumer, charger)
	require.NoError(t, w.Start(context.Background()))

	assert.Equal(t, []int64{9}, charger.charged)
	assert.EqualError(t, consumer.errs[0], "db down")
	assert.NoError(t, consumer.errs[1])
}

type fakeNotifier struct {
	templates []string
}

func (f *fakeNotifier) HandleNotification(ctx context.Context, e *models.NotificationEvent) error {
	f.templates = append(f.templates, e.Template)
	return nil
}

func TestNotificationWorkerSkipsUndecodableMessages(t *testing.T) {
	consumer := &replayConsumer{messages: []kafka.Message{
		{Value: []byte("{not json")},
		message(t, models.NotificationEvent{BaseEvent: models.NewBaseEvent("e1", models.EventTypeNotification), Template: "restock"}),
	}}
	notifier := &fakeNotifier{}

	w := NewNotificationWorker(consumer, notifier)
	require.NoError(t, w.Start(context.Background()))

	assert.Equal(t, []string{"restock"}, notifier.templates)
	assert.NoError(t, consumer.errs[0])
}

func TestSweeperRunsEveryTaskAndResyncs(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := NewSweeper(time.Minute)
	s.now = func() time.Time { return fixed }

	var seen []time.Time
	s.Add("checkout", func(ctx context.Context, now time.Time) (int, error) {
		seen = append(seen, now)
		return 0, errors.New("boom")
	})
	s.Add("instore_order", func(ctx context.Context, now time.Time) (int, error) {
		seen = append(seen, now)
		return 2, nil
	})
	resynced := 0
	s.OnResync(func(ctx context.Context) error {
		resynced++
		return nil
	})

	s.RunOnce(context.Background())

	assert.Equal(t, []time.Time{fixed, fixed}, seen)
	assert.Equal(t, 1, resynced)
}

type fakeLocker struct {
	held     bool
	released int
}

func (l *fakeLocker) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if l.held {
		return false, nil
	}
	l.held = true
	return true, nil
}

func (l *fakeLocker) ReleaseLock(ctx context.Context, key string) error {
	l.held = false
	l.released++
	return nil
}

func TestSweeperSkipsWhileLocked(t *testing.T) {
	s := NewSweeper(time.Minute)
	runs := 0
	s.Add("checkout", func(ctx context.Context, now time.Time) (int, error) {
		runs++
		return 0, nil
	})
	locker := &fakeLocker{held: true}
	s.WithLock(locker)

	s.RunOnce(context.Background())
	assert.Equal(t, 0, runs)

	locker.held = false
	s.RunOnce(context.Background())
	assert.Equal(t, 1, runs)
	assert.Equal(t, 1, locker.released)
	assert.False(t, locker.held)
}

func TestSweeperStopsOnCancel(t *testing.T) {
	s := NewSweeper(5 * time.Millisecond)

	var mu sync.Mutex
	runs := 0
	s.Add("reservation", func(ctx context.Context, now time.Time) (int, error) {
		mu.Lock()
		runs++
		mu.Unlock()
		return 0, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return runs > 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
