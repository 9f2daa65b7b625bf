package store

import (
	"context"
	"fmt"
	"time"

	"marketplace-service/internal/models"
)

// CreateExperience inserts an experience
func (s *Store) CreateExperience(ctx context.Context, e *models.Experience) error {
	query := `
		INSERT INTO experiences (shop_id, category_id, title, description, location, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	return s.q.QueryRowxContext(ctx, query, e.ShopID, e.CategoryID, e.Title, e.Description, e.Location, e.Status).
		Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
}

// GetExperience retrieves an experience by ID
func (s *Store) GetExperience(ctx context.Context, id int64) (*models.Experience, error) {
	var e models.Experience
	if err := s.get(ctx, &e, "experience", "SELECT * FROM experiences WHERE id = $1", id); err != nil {
		return nil, err
	}
	return &e, nil
}

// UpdateExperience updates the descriptive fields of an experience
func (s *Store) UpdateExperience(ctx context.Context, e *models.Experience) error {
	query := `
		UPDATE experiences SET category_id = $1, title = $2, description = $3, location = $4, updated_at = NOW()
		WHERE id = $5
		RETURNING updated_at`

	return s.get(ctx, &e.UpdatedAt, "experience", query, e.CategoryID, e.Title, e.Description, e.Location, e.ID)
}

// UpdateExperienceStatus moves an experience from one status to another
func (s *Store) UpdateExperienceStatus(ctx context.Context, id int64, from, to string) error {
	return s.execOne(ctx,
		"UPDATE experiences SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		to, id, from)
}

// ListShopExperiences lists a shop's experiences, optionally only the published ones
func (s *Store) ListShopExperiences(ctx context.Context, shopID int64, publishedOnly bool) ([]models.Experience, error) {
	experiences := []models.Experience{}
	query := "SELECT * FROM experiences WHERE shop_id = $1"
	args := []interface{}{shopID}
	if publishedOnly {
		query += " AND status = $2"
		args = append(args, models.ExperienceStatusPublished)
	}
	query += " ORDER BY id"

	err := s.q.SelectContext(ctx, &experiences, query, args...)
	return experiences, err
}

// CreateTicket adds a ticket type to an experience
func (s *Store) CreateTicket(ctx context.Context, t *models.ExperienceTicket) error {
	return s.q.GetContext(ctx, &t.ID, `
		INSERT INTO experience_tickets (experience_id, title, description, price, max_per_order)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		t.ExperienceID, t.Title, t.Description, t.Price, t.MaxPerOrder)
}

// ListTickets lists the ticket types of an experience
func (s *Store) ListTickets(ctx context.Context, experienceID int64) ([]models.ExperienceTicket, error) {
	tickets := []models.ExperienceTicket{}
	err := s.q.SelectContext(ctx, &tickets,
		"SELECT * FROM experience_tickets WHERE experience_id = $1 ORDER BY id", experienceID)
	return tickets, err
}

// CreateSession adds a session to an experience
func (s *Store) CreateSession(ctx context.Context, es *models.ExperienceSession) error {
	return s.q.QueryRowxContext(ctx, `
		INSERT INTO experience_sessions (experience_id, start_time, end_time)
		VALUES ($1, $2, $3) RETURNING id, created_at`,
		es.ExperienceID, es.StartTime, es.EndTime).Scan(&es.ID, &es.CreatedAt)
}

// GetSession retrieves a session by ID
func (s *Store) GetSession(ctx context.Context, id int64) (*models.ExperienceSession, error) {
	var es models.ExperienceSession
	if err := s.get(ctx, &es, "session", "SELECT * FROM experience_sessions WHERE id = $1", id); err != nil {
		return nil, err
	}
	return &es, nil
}

// ListSessions lists the sessions of an experience in start order
func (s *Store) ListSessions(ctx context.Context, experienceID int64) ([]models.ExperienceSession, error) {
	sessions := []models.ExperienceSession{}
	err := s.q.SelectContext(ctx, &sessions,
		"SELECT * FROM experience_sessions WHERE experience_id = $1 ORDER BY start_time, id", experienceID)
	return sessions, err
}

// CountFutureSessions counts sessions of an experience starting after now
func (s *Store) CountFutureSessions(ctx context.Context, experienceID int64, now time.Time) (int, error) {
	var n int
	err := s.q.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM experience_sessions WHERE experience_id = $1 AND start_time > $2", experienceID, now)
	return n, err
}

// CreateSessionTicket sets the capacity of a ticket type in a session
func (s *Store) CreateSessionTicket(ctx context.Context, st *models.ExperienceSessionTicket) error {
	return s.q.GetContext(ctx, &st.ID, `
		INSERT INTO experience_session_tickets (session_id, ticket_id, quantity, enabled)
		VALUES ($1, $2, $3, $4) RETURNING id`,
		st.SessionID, st.TicketID, st.Quantity, st.Enabled)
}

// Reservations hold capacity while attached to a pending order or unexpired.
const sessionTicketAvailabilityQuery = `
	SELECT st.*, t.title, t.price,
		COALESCE((SELECT SUM(r.quantity) FROM session_ticket_reservations r
			WHERE r.session_ticket_id = st.id AND (r.order_id IS NOT NULL OR r.expires_at > $2)), 0) AS reserved
	FROM experience_session_tickets st
	JOIN experience_tickets t ON t.id = st.ticket_id`

// ListSessionTickets lists the tickets of a session with live availability
func (s *Store) ListSessionTickets(ctx context.Context, sessionID int64, now time.Time) ([]models.SessionTicketAvailability, error) {
	tickets := []models.SessionTicketAvailability{}
	if err := s.q.SelectContext(ctx, &tickets,
		sessionTicketAvailabilityQuery+" WHERE st.session_id = $1 ORDER BY st.id", sessionID, now); err != nil {
		return nil, err
	}
	for i := range tickets {
		fillAvailable(&tickets[i])
	}
	return tickets, nil
}

// LockSessionTicket locks a session ticket row and reports its availability.
// Must run inside InTx.
func (s *Store) LockSessionTicket(ctx context.Context, sessionID, id int64, now time.Time) (*models.SessionTicketAvailability, error) {
	if _, err := s.q.ExecContext(ctx,
		"SELECT id FROM experience_session_tickets WHERE id = $1 FOR UPDATE", id); err != nil {
		return nil, fmt.Errorf("failed to lock session ticket: %w", err)
	}

	var st models.SessionTicketAvailability
	if err := s.get(ctx, &st, "session ticket",
		sessionTicketAvailabilityQuery+" WHERE st.session_id = $1 AND st.id = $3", sessionID, now, id); err != nil {
		return nil, err
	}
	fillAvailable(&st)
	return &st, nil
}

func fillAvailable(st *models.SessionTicketAvailability) {
	st.Available = st.Quantity - st.PurchasedNumber - st.Reserved
	if st.Available < 0 {
		st.Available = 0
	}
}

// AddSessionTicketPurchased records qty sold. ErrConflict means the session
// ticket would exceed its quantity.
func (s *Store) AddSessionTicketPurchased(ctx context.Context, id int64, qty int) error {
	return s.execOne(ctx, `
		UPDATE experience_session_tickets SET purchased_number = purchased_number + $1
		WHERE id = $2 AND purchased_number + $1 <= quantity`,
		qty, id)
}

// InsertReservation holds session ticket capacity for a user
func (s *Store) InsertReservation(ctx context.Context, r *models.SessionTicketReservation) error {
	return s.q.QueryRowxContext(ctx, `
		INSERT INTO session_ticket_reservations (user_id, session_id, session_ticket_id, quantity, expires_at)
		VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`,
		r.UserID, r.SessionID, r.SessionTicketID, r.Quantity, r.ExpiresAt).Scan(&r.ID, &r.CreatedAt)
}

// DeleteUserReservations removes the reservations a user holds on a session
// that are not yet attached to an order, returning them.
func (s *Store) DeleteUserReservations(ctx context.Context, userID, sessionID int64) ([]models.SessionTicketReservation, error) {
	removed := []models.SessionTicketReservation{}
	err := s.q.SelectContext(ctx, &removed, `
		DELETE FROM session_ticket_reservations
		WHERE user_id = $1 AND session_id = $2 AND order_id IS NULL
		RETURNING *`, userID, sessionID)
	return removed, err
}

// ListActiveUserReservations lists unexpired, unordered reservations of a user on a session
func (s *Store) ListActiveUserReservations(ctx context.Context, userID, sessionID int64, now time.Time) ([]models.SessionTicketReservation, error) {
	reservations := []models.SessionTicketReservation{}
	err := s.q.SelectContext(ctx, &reservations, `
		SELECT * FROM session_ticket_reservations
		WHERE user_id = $1 AND session_id = $2 AND order_id IS NULL AND expires_at > $3
		ORDER BY session_ticket_id FOR UPDATE`, userID, sessionID, now)
	return reservations, err
}

// AttachReservations binds reservations to an order and extends them
func (s *Store) AttachReservations(ctx context.Context, ids []int64, orderID int64, expiresAt time.Time) error {
	for _, id := range ids {
		if err := s.execOne(ctx,
			"UPDATE session_ticket_reservations SET order_id = $1, expires_at = $2 WHERE id = $3 AND order_id IS NULL",
			orderID, expiresAt, id); err != nil {
			return fmt.Errorf("failed to attach reservation %d: %w", id, err)
		}
	}
	return nil
}

// DeleteOrderReservations removes the reservations of an order, returning them
func (s *Store) DeleteOrderReservations(ctx context.Context, orderID int64) ([]models.SessionTicketReservation, error) {
	removed := []models.SessionTicketReservation{}
	err := s.q.SelectContext(ctx, &removed,
		"DELETE FROM session_ticket_reservations WHERE order_id = $1 RETURNING *", orderID)
	return removed, err
}

// DeleteExpiredReservations removes unordered reservations past their expiry
func (s *Store) DeleteExpiredReservations(ctx context.Context, now time.Time) ([]models.SessionTicketReservation, error) {
	removed := []models.SessionTicketReservation{}
	err := s.q.SelectContext(ctx, &removed,
		"DELETE FROM session_ticket_reservations WHERE order_id IS NULL AND expires_at <= $1 RETURNING *", now)
	return removed, err
}

// GetExperienceOrderByIdempotencyKey returns nil, nil when no order carries the key
func (s *Store) GetExperienceOrderByIdempotencyKey(ctx context.Context, key string) (*models.ExperienceOrder, error) {
	var order models.ExperienceOrder
	err := s.get(ctx, &order, "experience order", "SELECT * FROM experience_orders WHERE idempotency_key = $1", key)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// CreateExperienceOrder creates an order and its details
func (s *Store) CreateExperienceOrder(ctx context.Context, o *models.ExperienceOrder, details []models.ExperienceOrderDetail) error {
	query := `
		INSERT INTO experience_orders (user_id, buyer_email, experience_id, session_id, total_amount,
			payment_method, status, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	if err := s.q.QueryRowxContext(ctx, query,
		o.UserID, o.BuyerEmail, o.ExperienceID, o.SessionID, o.TotalAmount, o.PaymentMethod, o.Status, o.IdempotencyKey,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return err
	}

	for i := range details {
		d := &details[i]
		d.OrderID = o.ID
		if err := s.q.GetContext(ctx, &d.ID, `
			INSERT INTO experience_order_details (order_id, session_ticket_id, ticket_title, unit_price, quantity, amount)
			VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			o.ID, d.SessionTicketID, d.TicketTitle, d.UnitPrice, d.Quantity, d.Amount); err != nil {
			return err
		}
	}
	return nil
}

// GetExperienceOrder retrieves an order by ID
func (s *Store) GetExperienceOrder(ctx context.Context, id int64) (*models.ExperienceOrder, error) {
	var o models.ExperienceOrder
	if err := s.get(ctx, &o, "experience order", "SELECT * FROM experience_orders WHERE id = $1", id); err != nil {
		return nil, err
	}
	return &o, nil
}

// LockExperienceOrder retrieves an order with FOR UPDATE. Must run inside InTx.
func (s *Store) LockExperienceOrder(ctx context.Context, id int64) (*models.ExperienceOrder, error) {
	var o models.ExperienceOrder
	if err := s.get(ctx, &o, "experience order", "SELECT * FROM experience_orders WHERE id = $1 FOR UPDATE", id); err != nil {
		return nil, err
	}
	return &o, nil
}

// ListExperienceOrderDetails lists the lines of an order
func (s *Store) ListExperienceOrderDetails(ctx context.Context, orderID int64) ([]models.ExperienceOrderDetail, error) {
	details := []models.ExperienceOrderDetail{}
	err := s.q.SelectContext(ctx, &details,
		"SELECT * FROM experience_order_details WHERE order_id = $1 ORDER BY id", orderID)
	return details, err
}

// UpdateExperienceOrderStatus moves an order from one status to another
func (s *Store) UpdateExperienceOrderStatus(ctx context.Context, id int64, from, to string) error {
	return s.execOne(ctx,
		"UPDATE experience_orders SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		to, id, from)
}

// ListStaleExperienceOrders returns PENDING orders whose reservations expired before now
func (s *Store) ListStaleExperienceOrders(ctx context.Context, now time.Time) ([]int64, error) {
	ids := []int64{}
	err := s.q.SelectContext(ctx, &ids, `
		SELECT DISTINCT o.id FROM experience_orders o
		JOIN session_ticket_reservations r ON r.order_id = o.id
		WHERE o.status = $1 AND r.expires_at <= $2
		ORDER BY o.id`,
		models.ExperienceOrderStatusPending, now)
	return ids, err
}
