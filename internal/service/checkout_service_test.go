package service

import (
	"context"
	"net/http"
	"testing"
	"time"

	"marketplace-service/internal/apierror"
	"marketplace-service/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var productOrderColumns = []string{
	"id", "user_id", "buyer_email", "checkout_id", "total_amount", "payment_method", "status", "created_at", "updated_at",
}

func newTestCheckoutService(t *testing.T) (*CheckoutService, sqlmock.Sqlmock, *recordingPublisher) {
	t.Helper()
	st, mock := newMockStore(t)
	pub := &recordingPublisher{}
	return NewCheckoutService(st, NewInventoryService(st, nil), pub, 15*time.Minute, 30*time.Minute), mock, pub
}

func expectCheckoutItems(mock sqlmock.Sqlmock, checkoutID string, rows *sqlmock.Rows) {
	mock.ExpectQuery(`SELECT \* FROM ordering_items WHERE checkout_id = \$1 ORDER BY id FOR UPDATE`).
		WithArgs(checkoutID).
		WillReturnRows(rows)
}

func TestLockCartAgainReusesOwnHold(t *testing.T) {
	svc, mock, _ := newTestCheckoutService(t)
	now := time.Now()
	held := func() *sqlmock.Rows {
		return sqlmock.NewRows(orderingItemColumns).
			AddRow(900, "co-1", 3, 10, nil, nil, 4, false, now.Add(time.Minute), now)
	}

	mock.ExpectBegin()
	expectCheckoutItems(mock, "co-1", held())
	mock.ExpectQuery(`SELECT \* FROM product_orders WHERE checkout_id = \$1`).
		WithArgs("co-1").
		WillReturnRows(sqlmock.NewRows(productOrderColumns))
	expectCheckoutItems(mock, "co-1", held())
	mock.ExpectExec(`DELETE FROM ordering_items WHERE id = ANY\(\$1\)`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE products SET stock = stock \+ \$1 WHERE id = \$2`).
		WithArgs(4, int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// the four units come back from the old hold, so all of them can be locked again
	mock.ExpectQuery(`SELECT \* FROM products WHERE id = \$1 FOR UPDATE`).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows(productColumns).
			AddRow(10, 2, nil, "Mug", "", 1000, 4, 0, 0, models.SalesMethodOnline, models.ProductStatusPublished, false, nil, now, now))
	mock.ExpectExec(`UPDATE products SET stock = stock - \$1 WHERE id = \$2 AND stock >= \$1`).
		WithArgs(4, int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO ordering_items`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(901, now))
	mock.ExpectCommit()

	q, err := svc.LockCart(context.Background(), 3, &CartRequest{
		CheckoutID: "co-1",
		Items:      []CartItemRequest{{ProductID: 10, Quantity: 4}},
	})
	require.NoError(t, err)
	assert.Equal(t, "co-1", q.CheckoutID)
	assert.Equal(t, int64(4000), q.TotalAmount)
	require.Len(t, q.Lines, 1)
	assert.Equal(t, 4, q.Lines[0].Quantity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockCartRejectsCheckoutPlacedMeanwhile(t *testing.T) {
	svc, mock, _ := newTestCheckoutService(t)
	now := time.Now()

	mock.ExpectBegin()
	expectCheckoutItems(mock, "co-1", sqlmock.NewRows(orderingItemColumns).
		AddRow(900, "co-1", 3, 10, nil, nil, 4, false, now.Add(time.Hour), now))
	mock.ExpectQuery(`SELECT \* FROM product_orders WHERE checkout_id = \$1`).
		WithArgs("co-1").
		WillReturnRows(sqlmock.NewRows(productOrderColumns).
			AddRow(40, 3, "b@example.com", "co-1", 4000, "CARD", models.ProductOrderStatusPending, now, now))
	mock.ExpectRollback()

	_, err := svc.LockCart(context.Background(), 3, &CartRequest{
		CheckoutID: "co-1",
		Items:      []CartItemRequest{{ProductID: 10, Quantity: 1}},
	})
	require.Error(t, err)
	ae := apierror.From(err)
	assert.Equal(t, http.StatusBadRequest, ae.StatusCode)
	assert.Equal(t, MsgCheckoutPlaced, ae.Message)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockCartRejectsOtherUsersCheckout(t *testing.T) {
	svc, mock, _ := newTestCheckoutService(t)
	now := time.Now()

	mock.ExpectBegin()
	expectCheckoutItems(mock, "co-1", sqlmock.NewRows(orderingItemColumns).
		AddRow(900, "co-1", 8, 10, nil, nil, 4, false, now.Add(time.Hour), now))
	mock.ExpectQuery(`SELECT \* FROM product_orders WHERE checkout_id = \$1`).
		WithArgs("co-1").
		WillReturnRows(sqlmock.NewRows(productOrderColumns))
	mock.ExpectRollback()

	_, err := svc.LockCart(context.Background(), 3, &CartRequest{
		CheckoutID: "co-1",
		Items:      []CartItemRequest{{ProductID: 10, Quantity: 1}},
	})
	assert.True(t, apierror.Is(err, http.StatusForbidden))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseCartRejectsCheckoutPlacedMeanwhile(t *testing.T) {
	svc, mock, _ := newTestCheckoutService(t)
	now := time.Now()

	mock.ExpectBegin()
	expectCheckoutItems(mock, "co-1", sqlmock.NewRows(orderingItemColumns).
		AddRow(900, "co-1", 3, 10, nil, nil, 4, false, now.Add(time.Hour), now))
	mock.ExpectQuery(`SELECT \* FROM product_orders WHERE checkout_id = \$1`).
		WithArgs("co-1").
		WillReturnRows(sqlmock.NewRows(productOrderColumns).
			AddRow(40, 3, "b@example.com", "co-1", 4000, "CARD", models.ProductOrderStatusPending, now, now))
	mock.ExpectRollback()

	err := svc.ReleaseCart(context.Background(), 3, "co-1")
	require.Error(t, err)
	assert.Equal(t, MsgCheckoutPlaced, apierror.From(err).Message)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExpireStaleLeavesPlacedAndRenewedCheckouts(t *testing.T) {
	svc, mock, _ := newTestCheckoutService(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT DISTINCT checkout_id FROM ordering_items`).
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows([]string{"checkout_id"}).AddRow("co-1").AddRow("co-2"))

	// co-1 produced an order after it was listed
	mock.ExpectQuery(`SELECT \* FROM product_orders WHERE checkout_id = \$1`).
		WithArgs("co-1").
		WillReturnRows(sqlmock.NewRows(productOrderColumns))
	mock.ExpectBegin()
	expectCheckoutItems(mock, "co-1", sqlmock.NewRows(orderingItemColumns).
		AddRow(900, "co-1", 3, 10, nil, nil, 4, false, now.Add(-time.Minute), now))
	mock.ExpectQuery(`SELECT \* FROM product_orders WHERE checkout_id = \$1`).
		WithArgs("co-1").
		WillReturnRows(sqlmock.NewRows(productOrderColumns).
			AddRow(40, 3, "b@example.com", "co-1", 4000, "CARD", models.ProductOrderStatusPending, now, now))
	mock.ExpectRollback()

	// co-2 was locked again after it was listed
	mock.ExpectQuery(`SELECT \* FROM product_orders WHERE checkout_id = \$1`).
		WithArgs("co-2").
		WillReturnRows(sqlmock.NewRows(productOrderColumns))
	mock.ExpectBegin()
	expectCheckoutItems(mock, "co-2", sqlmock.NewRows(orderingItemColumns).
		AddRow(901, "co-2", 3, 10, nil, nil, 1, false, now.Add(10*time.Minute), now))
	mock.ExpectQuery(`SELECT \* FROM product_orders WHERE checkout_id = \$1`).
		WithArgs("co-2").
		WillReturnRows(sqlmock.NewRows(productOrderColumns))
	mock.ExpectRollback()

	n, err := svc.ExpireStale(context.Background(), now)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteOrderCommitsHold(t *testing.T) {
	svc, mock, pub := newTestCheckoutService(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM product_orders WHERE id = \$1 FOR UPDATE`).
		WithArgs(int64(40)).
		WillReturnRows(sqlmock.NewRows(productOrderColumns).
			AddRow(40, 3, "b@example.com", "co-1", 4000, "CARD", models.ProductOrderStatusPending, now, now))
	expectCheckoutItems(mock, "co-1", sqlmock.NewRows(orderingItemColumns).
		AddRow(900, "co-1", 3, 10, nil, nil, 4, false, now.Add(time.Hour), now))
	mock.ExpectExec(`DELETE FROM ordering_items WHERE id = ANY\(\$1\)`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE products SET purchased_number = purchased_number \+ \$1`).
		WithArgs(4, int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE product_orders SET status = \$1`).
		WithArgs(models.ProductOrderStatusCompleted, int64(40), models.ProductOrderStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, svc.CompleteOrder(context.Background(), 40))
	require.Len(t, pub.finalized, 1)
	assert.Equal(t, models.ProductOrderStatusCompleted, pub.finalized[0].FinalStatus)
	require.Len(t, pub.notifications, 1)
	assert.Equal(t, "order_confirmation", pub.notifications[0].Template)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteOrderFailsWhenHoldExpired(t *testing.T) {
	svc, mock, pub := newTestCheckoutService(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM product_orders WHERE id = \$1 FOR UPDATE`).
		WithArgs(int64(40)).
		WillReturnRows(sqlmock.NewRows(productOrderColumns).
			AddRow(40, 3, "b@example.com", "co-1", 4000, "CARD", models.ProductOrderStatusPending, now, now))
	expectCheckoutItems(mock, "co-1", sqlmock.NewRows(orderingItemColumns))
	mock.ExpectExec(`UPDATE product_orders SET status = \$1`).
		WithArgs(models.ProductOrderStatusFailed, int64(40), models.ProductOrderStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, svc.CompleteOrder(context.Background(), 40))
	require.Len(t, pub.finalized, 1)
	assert.Equal(t, models.ProductOrderStatusFailed, pub.finalized[0].FinalStatus)
	assert.Equal(t, "reservation expired before payment completed", pub.finalized[0].Reason)
	require.Len(t, pub.notifications, 1)
	assert.Equal(t, "order_failed", pub.notifications[0].Template)
	assert.NoError(t, mock.ExpectationsWereMet())
}
