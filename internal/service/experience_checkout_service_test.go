package service

import (
	"context"
	"database/sql/driver"
	"net/http"
	"testing"
	"time"

	"marketplace-service/internal/apierror"
	"marketplace-service/internal/models"
	"marketplace-service/internal/redisclient"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeTicketLines(t *testing.T) {
	lines := mergeTicketLines([]TicketLineRequest{
		{SessionTicketID: 9, Quantity: 1},
		{SessionTicketID: 4, Quantity: 2},
		{SessionTicketID: 9, Quantity: 3},
	})

	assert.Equal(t, []TicketLineRequest{
		{SessionTicketID: 4, Quantity: 2},
		{SessionTicketID: 9, Quantity: 4},
	}, lines)
}

func TestCheckTicketLine(t *testing.T) {
	open := &models.SessionTicketAvailability{
		ExperienceSessionTicket: models.ExperienceSessionTicket{ID: 1, Quantity: 10, Enabled: true},
		Available:               3,
	}
	closed := &models.SessionTicketAvailability{
		ExperienceSessionTicket: models.ExperienceSessionTicket{ID: 2, Quantity: 10},
		Available:               10,
	}
	limited := models.ExperienceTicket{ID: 1, MaxPerOrder: 2}
	unlimited := models.ExperienceTicket{ID: 1}

	assert.NoError(t, checkTicketLine(open, unlimited, 3))

	err := checkTicketLine(open, unlimited, 4)
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, apierror.From(err).StatusCode)
	assert.Equal(t, MsgTicketsSoldOut, apierror.From(err).Message)

	err = checkTicketLine(open, limited, 3)
	require.Error(t, err)
	assert.Equal(t, "At most 2 tickets of this type can be bought per order", apierror.From(err).Message)

	err = checkTicketLine(closed, unlimited, 1)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, apierror.From(err).StatusCode)
	assert.Equal(t, MsgTicketUnavailable, apierror.From(err).Message)
}

func TestReservationCacheLines(t *testing.T) {
	lines := reservationCacheLines([]models.SessionTicketReservation{
		{SessionTicketID: 5, Quantity: 2},
		{SessionTicketID: 6, Quantity: 1},
	})

	assert.Equal(t, []CacheLine{
		{Key: redisclient.StockKey(redisclient.KindSessionTicket, 5, false), Quantity: 2},
		{Key: redisclient.StockKey(redisclient.KindSessionTicket, 6, false), Quantity: 1},
	}, lines)
}

func TestRandomCode(t *testing.T) {
	code, err := randomCode(ticketCodeLength)
	require.NoError(t, err)
	assert.Len(t, code, ticketCodeLength)
	for _, r := range code {
		assert.Contains(t, codeAlphabet, string(r))
	}
}

var (
	experienceOrderColumns = []string{
		"id", "user_id", "buyer_email", "experience_id", "session_id", "total_amount", "payment_method",
		"status", "idempotency_key", "created_at", "updated_at",
	}
	reservationColumns = []string{
		"id", "user_id", "session_id", "session_ticket_id", "quantity", "order_id", "expires_at", "created_at",
	}
	sessionTicketColumns = []string{
		"id", "session_id", "ticket_id", "quantity", "purchased_number", "enabled", "title", "price", "reserved",
	}
	issuedTicketColumns = []string{
		"id", "order_id", "order_detail_id", "session_ticket_id", "owner_user_id", "ticket_code", "status",
		"transferred_from", "used_at", "created_at", "updated_at",
		"experience_id", "experience_title", "shop_id", "ticket_title", "session_start",
	}
)

func newTestBookingService(t *testing.T, rc *redisclient.Client) (*ExperienceCheckoutService, sqlmock.Sqlmock, *recordingPublisher) {
	t.Helper()
	st, mock := newMockStore(t)
	pub := &recordingPublisher{}
	svc := NewExperienceCheckoutService(st, NewInventoryService(st, rc), pub, nil, 10*time.Minute, 30*time.Minute)
	return svc, mock, pub
}

// expectBookableSession expects session 4 of published experience 8 with one
// ticket type, 20, priced 1500
func expectBookableSession(mock sqlmock.Sqlmock, now time.Time) {
	mock.ExpectQuery(`SELECT \* FROM experience_sessions WHERE id = \$1`).
		WithArgs(int64(4)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "experience_id", "start_time", "end_time", "created_at"}).
			AddRow(4, 8, now.Add(24*time.Hour), now.Add(26*time.Hour), now))
	mock.ExpectQuery(`SELECT \* FROM experiences WHERE id = \$1`).
		WithArgs(int64(8)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "shop_id", "category_id", "title", "description", "location", "status", "created_at", "updated_at"}).
			AddRow(8, 2, nil, "Harbour tour", "", "Pier 3", models.ExperienceStatusPublished, now, now))
	mock.ExpectQuery(`SELECT \* FROM experience_tickets WHERE experience_id = \$1 ORDER BY id`).
		WithArgs(int64(8)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "experience_id", "title", "description", "price", "max_per_order"}).
			AddRow(20, 8, "Adult", "", 1500, 0))
}

func expectLockedSessionTicket(mock sqlmock.Sqlmock, purchased, reserved int) {
	mock.ExpectExec(`SELECT id FROM experience_session_tickets WHERE id = \$1 FOR UPDATE`).
		WithArgs(int64(30)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT st\.\*, t\.title, t\.price`).
		WillReturnRows(sqlmock.NewRows(sessionTicketColumns).
			AddRow(30, 4, 20, 10, purchased, true, "Adult", 1500, reserved))
}

func TestReserveTicketsSoldOut(t *testing.T) {
	svc, mock, _ := newTestBookingService(t, nil)
	now := time.Now()

	expectBookableSession(mock, now)
	mock.ExpectBegin()
	mock.ExpectQuery(`DELETE FROM session_ticket_reservations`).
		WithArgs(int64(3), int64(4)).
		WillReturnRows(sqlmock.NewRows(reservationColumns))
	expectLockedSessionTicket(mock, 8, 1)
	mock.ExpectRollback()

	_, err := svc.ReserveTickets(context.Background(), 3, 4, &ReserveTicketsRequest{
		Items: []TicketLineRequest{{SessionTicketID: 30, Quantity: 2}},
	})
	require.Error(t, err)
	ae := apierror.From(err)
	assert.Equal(t, http.StatusConflict, ae.StatusCode)
	assert.Equal(t, MsgTicketsSoldOut, ae.Message)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveTicketsTrustsDBOverStaleCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redisclient.NewFromRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	svc, mock, _ := newTestBookingService(t, rc)
	ctx := context.Background()
	now := time.Now()

	// the cache still counts an expired reservation of 2 and reads sold out
	key := redisclient.StockKey(redisclient.KindSessionTicket, 30, false)
	require.NoError(t, rc.InitInventory(ctx, key, 0, 2))

	expectBookableSession(mock, now)
	mock.ExpectBegin()
	mock.ExpectQuery(`DELETE FROM session_ticket_reservations`).
		WithArgs(int64(3), int64(4)).
		WillReturnRows(sqlmock.NewRows(reservationColumns).
			AddRow(70, 3, 4, 30, 2, nil, now.Add(-time.Minute), now.Add(-11*time.Minute)))
	expectLockedSessionTicket(mock, 8, 0)
	mock.ExpectQuery(`INSERT INTO session_ticket_reservations`).
		WithArgs(int64(3), int64(4), int64(30), 1, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(71, now))
	mock.ExpectCommit()

	view, err := svc.ReserveTickets(ctx, 3, 4, &ReserveTicketsRequest{
		Items: []TicketLineRequest{{SessionTicketID: 30, Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1500), view.TotalAmount)
	assert.NoError(t, mock.ExpectationsWereMet())

	// the replaced reservation no longer holds cached capacity
	available, reserved, err := rc.GetInventory(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 2, available)
	assert.Equal(t, 0, reserved)
}

func expectLockedExperienceOrder(mock sqlmock.Sqlmock, now time.Time) {
	mock.ExpectQuery(`SELECT \* FROM experience_orders WHERE id = \$1 FOR UPDATE`).
		WithArgs(int64(50)).
		WillReturnRows(sqlmock.NewRows(experienceOrderColumns).
			AddRow(50, 3, "b@example.com", 8, 4, 3000, "CARD", models.ExperienceOrderStatusPending, "key-1", now, now))
}

// expectFailedExperienceOrder expects order 50 to be failed with nothing left to release
func expectFailedExperienceOrder(mock sqlmock.Sqlmock, now time.Time) {
	mock.ExpectBegin()
	expectLockedExperienceOrder(mock, now)
	mock.ExpectQuery(`DELETE FROM session_ticket_reservations WHERE order_id = \$1 RETURNING \*`).
		WithArgs(int64(50)).
		WillReturnRows(sqlmock.NewRows(reservationColumns))
	mock.ExpectExec(`UPDATE experience_orders SET status = \$1`).
		WithArgs(models.ExperienceOrderStatusFailed, int64(50), models.ExperienceOrderStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

func TestCompleteExperienceOrderFailsWhenOversold(t *testing.T) {
	svc, mock, pub := newTestBookingService(t, nil)
	now := time.Now()

	mock.ExpectBegin()
	expectLockedExperienceOrder(mock, now)
	mock.ExpectQuery(`DELETE FROM session_ticket_reservations WHERE order_id = \$1 RETURNING \*`).
		WithArgs(int64(50)).
		WillReturnRows(sqlmock.NewRows(reservationColumns).
			AddRow(70, 3, 4, 30, 2, 50, now.Add(time.Minute), now))
	mock.ExpectQuery(`SELECT \* FROM experience_order_details WHERE order_id = \$1 ORDER BY id`).
		WithArgs(int64(50)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "session_ticket_id", "ticket_title", "unit_price", "quantity", "amount"}).
			AddRow(60, 50, 30, "Adult", 1500, 2, 3000))
	mock.ExpectExec(`UPDATE experience_session_tickets SET purchased_number = purchased_number \+ \$1`).
		WithArgs(2, int64(30)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()
	expectFailedExperienceOrder(mock, now)

	require.NoError(t, svc.CompleteOrder(context.Background(), 50))
	require.Len(t, pub.finalized, 1)
	assert.Equal(t, models.ExperienceOrderStatusFailed, pub.finalized[0].FinalStatus)
	assert.Equal(t, "tickets sold out", pub.finalized[0].Reason)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteExperienceOrderFailsWhenReservationsExpired(t *testing.T) {
	svc, mock, pub := newTestBookingService(t, nil)
	now := time.Now()

	mock.ExpectBegin()
	expectLockedExperienceOrder(mock, now)
	mock.ExpectQuery(`DELETE FROM session_ticket_reservations WHERE order_id = \$1 RETURNING \*`).
		WithArgs(int64(50)).
		WillReturnRows(sqlmock.NewRows(reservationColumns))
	mock.ExpectCommit()
	expectFailedExperienceOrder(mock, now)

	require.NoError(t, svc.CompleteOrder(context.Background(), 50))
	require.Len(t, pub.finalized, 1)
	assert.Equal(t, models.ExperienceOrderStatusFailed, pub.finalized[0].FinalStatus)
	assert.Equal(t, "reservation expired before payment completed", pub.finalized[0].Reason)
	require.Len(t, pub.notifications, 1)
	assert.Equal(t, "order_failed", pub.notifications[0].Template)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// codeArg records the ticket code a statement was run with
type codeArg struct{ code *string }

func (a codeArg) Match(v driver.Value) bool {
	s, ok := v.(string)
	if ok {
		*a.code = s
	}
	return ok
}

// sameCodeArg matches the code recorded by a codeArg
type sameCodeArg struct{ code *string }

func (a sameCodeArg) Match(v driver.Value) bool {
	s, ok := v.(string)
	return ok && s == *a.code
}

func TestTransferTicketReissuesCode(t *testing.T) {
	svc, mock, pub := newTestBookingService(t, nil)
	now := time.Now()
	start := now.Add(48 * time.Hour)
	var issued string

	mock.ExpectBegin()
	mock.ExpectQuery(`WHERE m\.ticket_code = \$1 FOR UPDATE OF m`).
		WithArgs("OLDCODE00001").
		WillReturnRows(sqlmock.NewRows(issuedTicketColumns).
			AddRow(80, 50, 60, 30, 3, "OLDCODE00001", models.TicketStatusUnused, nil, nil, now, now,
				8, "Harbour tour", 2, "Adult", start))
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM experience_order_managements WHERE ticket_code = \$1\)`).
		WithArgs(codeArg{&issued}).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(`UPDATE experience_order_managements`).
		WithArgs(int64(9), sameCodeArg{&issued}, int64(3), int64(80), models.TicketStatusUnused).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(`WHERE m\.ticket_code = \$1`).
		WithArgs(sameCodeArg{&issued}).
		WillReturnRows(sqlmock.NewRows(issuedTicketColumns).
			AddRow(80, 50, 60, 30, 9, "NEWCODE00001", models.TicketStatusUnused, 3, nil, now, now,
				8, "Harbour tour", 2, "Adult", start))

	ticket, err := svc.TransferTicket(context.Background(), 3, "OLDCODE00001", &TransferTicketRequest{
		RecipientUserID: 9,
		RecipientEmail:  "c@example.com",
	})
	require.NoError(t, err)
	assert.Len(t, issued, ticketCodeLength)
	assert.NotEqual(t, "OLDCODE00001", issued)
	assert.Equal(t, int64(9), ticket.OwnerUserID)
	assert.Equal(t, int64Ptr(3), ticket.TransferredFromID)

	require.Len(t, pub.notifications, 1)
	assert.Equal(t, "ticket_transferred", pub.notifications[0].Template)
	assert.Equal(t, "c@example.com", pub.notifications[0].Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransferTicketRejectsUsedTicket(t *testing.T) {
	svc, mock, _ := newTestBookingService(t, nil)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`WHERE m\.ticket_code = \$1 FOR UPDATE OF m`).
		WithArgs("OLDCODE00001").
		WillReturnRows(sqlmock.NewRows(issuedTicketColumns).
			AddRow(80, 50, 60, 30, 3, "OLDCODE00001", models.TicketStatusUsed, nil, now, now, now,
				8, "Harbour tour", 2, "Adult", now.Add(time.Hour)))
	mock.ExpectRollback()

	_, err := svc.TransferTicket(context.Background(), 3, "OLDCODE00001", &TransferTicketRequest{
		RecipientUserID: 9,
		RecipientEmail:  "c@example.com",
	})
	require.Error(t, err)
	assert.Equal(t, MsgTicketAlreadyUsed, apierror.From(err).Message)
	assert.NoError(t, mock.ExpectationsWereMet())
}
