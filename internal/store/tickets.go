package store

import (
	"context"
	"database/sql"
	"errors"

	"marketplace-service/internal/models"
)

// ErrDuplicateTicketCode is returned when a generated ticket code is already taken
var ErrDuplicateTicketCode = errors.New("ticket code already issued")

// InsertIssuedTicket issues a ticket. A code collision returns
// ErrDuplicateTicketCode without aborting the surrounding transaction.
func (s *Store) InsertIssuedTicket(ctx context.Context, t *models.ExperienceOrderManagement) error {
	query := `
		INSERT INTO experience_order_managements (order_id, order_detail_id, session_ticket_id, owner_user_id,
			ticket_code, status, transferred_from)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (ticket_code) DO NOTHING
		RETURNING id, created_at, updated_at`

	err := s.q.QueryRowxContext(ctx, query,
		t.OrderID, t.OrderDetailID, t.SessionTicketID, t.OwnerUserID, t.TicketCode, t.Status, t.TransferredFromID,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrDuplicateTicketCode
	}
	return err
}

const issuedTicketQuery = `
	SELECT m.*, e.id AS experience_id, e.title AS experience_title, e.shop_id,
		t.title AS ticket_title, es.start_time AS session_start
	FROM experience_order_managements m
	JOIN experience_session_tickets st ON st.id = m.session_ticket_id
	JOIN experience_tickets t ON t.id = st.ticket_id
	JOIN experience_sessions es ON es.id = st.session_id
	JOIN experiences e ON e.id = es.experience_id`

// GetIssuedTicketByCode retrieves a ticket by its code. With lock set the
// ticket row is locked FOR UPDATE.
func (s *Store) GetIssuedTicketByCode(ctx context.Context, code string, lock bool) (*models.IssuedTicket, error) {
	query := issuedTicketQuery + " WHERE m.ticket_code = $1"
	if lock {
		query += " FOR UPDATE OF m"
	}

	var t models.IssuedTicket
	if err := s.get(ctx, &t, "ticket", query, code); err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTicketsByOwner lists the tickets a user currently owns
func (s *Store) ListTicketsByOwner(ctx context.Context, userID int64) ([]models.IssuedTicket, error) {
	tickets := []models.IssuedTicket{}
	err := s.q.SelectContext(ctx, &tickets,
		issuedTicketQuery+" WHERE m.owner_user_id = $1 ORDER BY es.start_time, m.id", userID)
	return tickets, err
}

// ListOrderTickets lists the tickets issued for an order
func (s *Store) ListOrderTickets(ctx context.Context, orderID int64) ([]models.IssuedTicket, error) {
	tickets := []models.IssuedTicket{}
	err := s.q.SelectContext(ctx, &tickets,
		issuedTicketQuery+" WHERE m.order_id = $1 ORDER BY m.id", orderID)
	return tickets, err
}

// TransferTicket hands an unused ticket to a new owner under a new code.
// ErrConflict means the ticket changed state concurrently; a taken code
// returns ErrDuplicateTicketCode.
func (s *Store) TransferTicket(ctx context.Context, id, fromUser, toUser int64, newCode string) error {
	var taken bool
	if err := s.q.GetContext(ctx, &taken,
		"SELECT EXISTS(SELECT 1 FROM experience_order_managements WHERE ticket_code = $1)", newCode); err != nil {
		return err
	}
	if taken {
		return ErrDuplicateTicketCode
	}

	return s.execOne(ctx, `
		UPDATE experience_order_managements
		SET owner_user_id = $1, ticket_code = $2, transferred_from = $3, updated_at = NOW()
		WHERE id = $4 AND owner_user_id = $3 AND status = $5`,
		toUser, newCode, fromUser, id, models.TicketStatusUnused)
}

// MarkTicketUsed checks a ticket in. ErrConflict means it was not UNUSED.
func (s *Store) MarkTicketUsed(ctx context.Context, id int64) error {
	return s.execOne(ctx, `
		UPDATE experience_order_managements SET status = $1, used_at = NOW(), updated_at = NOW()
		WHERE id = $2 AND status = $3`,
		models.TicketStatusUsed, id, models.TicketStatusUnused)
}
