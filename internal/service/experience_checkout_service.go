package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"marketplace-service/internal/apierror"
	"marketplace-service/internal/models"
	"marketplace-service/internal/redisclient"
	"marketplace-service/internal/store"
	"marketplace-service/internal/util"

	"go.uber.org/zap"
)

const (
	ticketCodeLength = 12
	idempotencyTTL   = 24 * time.Hour
)

var errTicketsOversold = errors.New("session ticket capacity exceeded")

// IdempotencyCache remembers which order an idempotency key produced
type IdempotencyCache interface {
	GetIdempotencyKey(ctx context.Context, key string) (string, error)
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// ExperienceCheckoutService books session tickets: reservation, order,
// ticket issuing and the life of issued tickets.
type ExperienceCheckoutService struct {
	store          *store.Store
	inventory      *InventoryService
	publisher      EventPublisher
	idempotency    IdempotencyCache
	logger         *zap.Logger
	reservationTTL time.Duration
	paymentTimeout time.Duration
}

// NewExperienceCheckoutService creates a new experience checkout service
func NewExperienceCheckoutService(
	store *store.Store,
	inventory *InventoryService,
	publisher EventPublisher,
	idempotency IdempotencyCache,
	reservationTTL, paymentTimeout time.Duration,
) *ExperienceCheckoutService {
	return &ExperienceCheckoutService{
		store:          store,
		inventory:      inventory,
		publisher:      publisher,
		idempotency:    idempotency,
		logger:         util.GetLogger(),
		reservationTTL: reservationTTL,
		paymentTimeout: paymentTimeout,
	}
}

type TicketLineRequest struct {
	SessionTicketID int64 `json:"session_ticket_id" binding:"required"`
	Quantity        int   `json:"quantity" binding:"required,min=1"`
}

type ReserveTicketsRequest struct {
	Items []TicketLineRequest `json:"items" binding:"required,min=1,dive"`
}

type ExpectedPrice struct {
	SessionTicketID int64 `json:"session_ticket_id" binding:"required"`
	UnitPrice       int64 `json:"unit_price" binding:"min=0"`
}

// MaxIdempotencyKeyLength bounds an idempotency key from the body or the header
const MaxIdempotencyKeyLength = 100

type CreateExperienceOrderRequest struct {
	IdempotencyKey string          `json:"idempotency_key" binding:"max=100"`
	SessionID      int64           `json:"session_id" binding:"required"`
	PaymentMethod  string          `json:"payment_method" binding:"required,oneof=CARD"`
	TotalAmount    int64           `json:"total_amount" binding:"min=0"`
	Prices         []ExpectedPrice `json:"prices" binding:"dive"`
}

type TransferTicketRequest struct {
	RecipientUserID int64  `json:"recipient_user_id" binding:"required"`
	RecipientEmail  string `json:"recipient_email" binding:"required,email"`
}

// ReservedLine is one reserved ticket type
type ReservedLine struct {
	SessionTicketID int64  `json:"session_ticket_id"`
	Title           string `json:"title"`
	UnitPrice       int64  `json:"unit_price"`
	Quantity        int    `json:"quantity"`
	Amount          int64  `json:"amount"`
}

// ReservationView is what a buyer holds on a session
type ReservationView struct {
	SessionID   int64          `json:"session_id"`
	ExpiresAt   time.Time      `json:"expires_at"`
	Lines       []ReservedLine `json:"lines"`
	TotalAmount int64          `json:"total_amount"`
}

// ExperienceOrderView is an order with its lines and issued tickets
type ExperienceOrderView struct {
	models.ExperienceOrder
	Details []models.ExperienceOrderDetail `json:"details"`
	Tickets []models.IssuedTicket          `json:"tickets"`
}

func sessionTicketCacheLine(sessionTicketID int64, qty int) CacheLine {
	return CacheLine{Key: redisclient.StockKey(redisclient.KindSessionTicket, sessionTicketID, false), Quantity: qty}
}

func reservationCacheLines(rs []models.SessionTicketReservation) []CacheLine {
	out := make([]CacheLine, len(rs))
	for i, r := range rs {
		out[i] = sessionTicketCacheLine(r.SessionTicketID, r.Quantity)
	}
	return out
}

// mergeTicketLines sums quantities per session ticket and sorts by id so
// rows are locked in one order.
func mergeTicketLines(items []TicketLineRequest) []TicketLineRequest {
	byID := make(map[int64]int, len(items))
	for _, it := range items {
		byID[it.SessionTicketID] += it.Quantity
	}
	out := make([]TicketLineRequest, 0, len(byID))
	for id, q := range byID {
		out = append(out, TicketLineRequest{SessionTicketID: id, Quantity: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionTicketID < out[j].SessionTicketID })
	return out
}

// checkTicketLine validates a line against its locked session ticket
func checkTicketLine(st *models.SessionTicketAvailability, ticket models.ExperienceTicket, qty int) error {
	if !st.Enabled {
		return apierror.BadRequest(MsgTicketUnavailable)
	}
	if ticket.MaxPerOrder > 0 && qty > ticket.MaxPerOrder {
		return apierror.BadRequest(fmt.Sprintf(MsgTicketLimit, ticket.MaxPerOrder))
	}
	if qty > st.Available {
		return apierror.Conflict(MsgTicketsSoldOut)
	}
	return nil
}

// bookableSession returns the session with its experience when tickets can
// still be bought for it.
func (s *ExperienceCheckoutService) bookableSession(ctx context.Context, sessionID int64, now time.Time) (*models.ExperienceSession, *models.Experience, error) {
	es, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, storeErr(err, MsgSessionNotFound)
	}
	e, err := s.store.GetExperience(ctx, es.ExperienceID)
	if err != nil {
		return nil, nil, storeErr(err, MsgExperienceNotFound)
	}
	if e.Status != models.ExperienceStatusPublished {
		return nil, nil, apierror.BadRequest(MsgExperienceUnavailable)
	}
	if !es.StartTime.After(now) {
		return nil, nil, apierror.BadRequest(MsgSessionStarted)
	}
	return es, e, nil
}

// ReserveTickets holds session capacity for the caller. Reserving again
// replaces the caller's previous reservations on the session.
func (s *ExperienceCheckoutService) ReserveTickets(ctx context.Context, userID, sessionID int64, req *ReserveTicketsRequest) (*ReservationView, error) {
	ctx, span := util.StartSpan(ctx, "ExperienceCheckoutService.ReserveTickets")
	defer span.End()

	now := time.Now()
	es, e, err := s.bookableSession(ctx, sessionID, now)
	if err != nil {
		return nil, err
	}
	tickets, err := s.store.ListTickets(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	ticketByID := make(map[int64]models.ExperienceTicket, len(tickets))
	for _, t := range tickets {
		ticketByID[t.ID] = t
	}

	lines := mergeTicketLines(req.Items)
	cacheLines := make([]CacheLine, len(lines))
	for i, l := range lines {
		cacheLines[i] = sessionTicketCacheLine(l.SessionTicketID, l.Quantity)
	}

	cached := s.inventory.ReserveCache(ctx, cacheLines)

	// expired rows are replaced too, and their cache count goes with them
	var replaced []models.SessionTicketReservation
	view := &ReservationView{SessionID: es.ID, ExpiresAt: now.Add(s.reservationTTL)}
	err = s.store.InTx(ctx, func(tx *store.Store) error {
		var err error
		if replaced, err = tx.DeleteUserReservations(ctx, userID, es.ID); err != nil {
			return fmt.Errorf("failed to release previous reservations: %w", err)
		}
		for _, l := range lines {
			st, err := tx.LockSessionTicket(ctx, es.ID, l.SessionTicketID, now)
			if store.IsNotFound(err) {
				return apierror.BadRequest(MsgTicketUnavailable)
			}
			if err != nil {
				return err
			}
			if err := checkTicketLine(st, ticketByID[st.TicketID], l.Quantity); err != nil {
				if apierror.Is(err, 409) {
					util.StockReservationsFailed.WithLabelValues("tickets_sold_out").Inc()
				}
				return err
			}

			r := &models.SessionTicketReservation{
				UserID:          userID,
				SessionID:       es.ID,
				SessionTicketID: st.ID,
				Quantity:        l.Quantity,
				ExpiresAt:       view.ExpiresAt,
			}
			if err := tx.InsertReservation(ctx, r); err != nil {
				return fmt.Errorf("failed to insert reservation: %w", err)
			}

			amount := st.Price * int64(l.Quantity)
			view.Lines = append(view.Lines, ReservedLine{
				SessionTicketID: st.ID,
				Title:           st.Title,
				UnitPrice:       st.Price,
				Quantity:        l.Quantity,
				Amount:          amount,
			})
			view.TotalAmount += amount
		}
		return nil
	})
	if err != nil {
		s.inventory.ReleaseCache(ctx, cached)
		return nil, err
	}
	s.inventory.ReleaseCache(ctx, reservationCacheLines(replaced))

	s.logger.Info("Tickets reserved",
		zap.Int64("user_id", userID),
		zap.Int64("session_id", es.ID),
		zap.Int("lines", len(view.Lines)),
		zap.Int("replaced", len(replaced)))
	return view, nil
}

// ReleaseReservations drops the caller's reservations on a session that are
// not attached to an order
func (s *ExperienceCheckoutService) ReleaseReservations(ctx context.Context, userID, sessionID int64) error {
	ctx, span := util.StartSpan(ctx, "ExperienceCheckoutService.ReleaseReservations")
	defer span.End()

	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return storeErr(err, MsgSessionNotFound)
	}
	removed, err := s.store.DeleteUserReservations(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	if len(removed) == 0 {
		return apierror.NotFound(MsgNoReservations)
	}

	s.inventory.ReleaseCache(ctx, reservationCacheLines(removed))
	return nil
}

// CreateOrder turns the caller's active reservations on a session into a
// PENDING order. It is idempotent per idempotency key.
func (s *ExperienceCheckoutService) CreateOrder(ctx context.Context, userID int64, email string, req *CreateExperienceOrderRequest) (*ExperienceOrderView, error) {
	ctx, span := util.StartSpan(ctx, "ExperienceCheckoutService.CreateOrder")
	defer span.End()

	if req.IdempotencyKey == "" {
		return nil, apierror.BadRequest("An idempotency key is required")
	}
	if existing, err := s.existingOrder(ctx, userID, req.IdempotencyKey); existing != nil || err != nil {
		return existing, err
	}

	now := time.Now()
	es, e, err := s.bookableSession(ctx, req.SessionID, now)
	if err != nil {
		return nil, err
	}

	expected := make(map[int64]int64, len(req.Prices))
	for _, p := range req.Prices {
		expected[p.SessionTicketID] = p.UnitPrice
	}

	order := &models.ExperienceOrder{
		UserID:         userID,
		BuyerEmail:     email,
		ExperienceID:   e.ID,
		SessionID:      es.ID,
		PaymentMethod:  req.PaymentMethod,
		Status:         models.ExperienceOrderStatusPending,
		IdempotencyKey: req.IdempotencyKey,
	}
	var details []models.ExperienceOrderDetail

	err = s.store.InTx(ctx, func(tx *store.Store) error {
		reservations, err := tx.ListActiveUserReservations(ctx, userID, es.ID, now)
		if err != nil {
			return err
		}
		if len(reservations) == 0 {
			return apierror.BadRequest(MsgNoReservations)
		}

		current, err := tx.ListSessionTickets(ctx, es.ID, now)
		if err != nil {
			return err
		}
		byID := make(map[int64]models.SessionTicketAvailability, len(current))
		for _, st := range current {
			byID[st.ID] = st
		}

		ids := make([]int64, 0, len(reservations))
		for _, r := range reservations {
			st, ok := byID[r.SessionTicketID]
			if !ok || !st.Enabled {
				return apierror.BadRequest(MsgTicketUnavailable)
			}
			if price, ok := expected[st.ID]; ok && price != st.Price {
				return apierror.Conflict(MsgTicketPriceChanged)
			}
			amount := st.Price * int64(r.Quantity)
			details = append(details, models.ExperienceOrderDetail{
				SessionTicketID: st.ID,
				TicketTitle:     st.Title,
				UnitPrice:       st.Price,
				Quantity:        r.Quantity,
				Amount:          amount,
			})
			order.TotalAmount += amount
			ids = append(ids, r.ID)
		}

		if order.TotalAmount != req.TotalAmount {
			return apierror.Conflict(MsgTotalMismatch)
		}

		if err := tx.CreateExperienceOrder(ctx, order, details); err != nil {
			return err
		}
		return tx.AttachReservations(ctx, ids, order.ID, now.Add(s.paymentTimeout))
	})
	if err != nil {
		if store.IsUniqueViolation(err) {
			// a concurrent request with the same key won
			return s.existingOrder(ctx, userID, req.IdempotencyKey)
		}
		return nil, err
	}

	if s.idempotency != nil {
		if err := s.idempotency.SetIdempotencyKey(ctx, idempotencyCacheKey(req.IdempotencyKey), order.ID, idempotencyTTL); err != nil {
			s.logger.Warn("Failed to cache idempotency key", zap.Error(err))
		}
	}

	util.CheckoutsCreatedTotal.WithLabelValues(models.OrderKindExperience).Inc()
	s.logger.Info("Experience order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("session_id", es.ID),
		zap.Int64("total", order.TotalAmount))

	event := checkoutReservedEvent(models.OrderKindExperience, order.ID, userID, order.TotalAmount, order.PaymentMethod)
	if err := s.publisher.PublishCheckoutReserved(ctx, event); err != nil {
		s.logger.Error("Failed to publish CheckoutReserved event", zap.Int64("order_id", order.ID), zap.Error(err))
	}

	return &ExperienceOrderView{ExperienceOrder: *order, Details: details, Tickets: []models.IssuedTicket{}}, nil
}

func idempotencyCacheKey(key string) string {
	return "experience-order:" + key
}

// cachedOrder looks the key up in the cache. Misses and cache errors return nil.
func (s *ExperienceCheckoutService) cachedOrder(ctx context.Context, key string) *models.ExperienceOrder {
	if s.idempotency == nil {
		return nil
	}
	v, err := s.idempotency.GetIdempotencyKey(ctx, idempotencyCacheKey(key))
	if err != nil || v == "" {
		return nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil
	}
	order, err := s.store.GetExperienceOrder(ctx, id)
	if err != nil {
		return nil
	}
	return order
}

func (s *ExperienceCheckoutService) existingOrder(ctx context.Context, userID int64, key string) (*ExperienceOrderView, error) {
	existing := s.cachedOrder(ctx, key)
	if existing == nil {
		var err error
		existing, err = s.store.GetExperienceOrderByIdempotencyKey(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
	}
	if existing == nil {
		return nil, nil
	}
	if existing.UserID != userID {
		return nil, apierror.Forbidden(MsgForbidden)
	}

	s.logger.Info("Duplicate experience order request detected",
		zap.String("idempotency_key", key),
		zap.Int64("order_id", existing.ID))
	return s.view(ctx, existing)
}

func (s *ExperienceCheckoutService) view(ctx context.Context, order *models.ExperienceOrder) (*ExperienceOrderView, error) {
	details, err := s.store.ListExperienceOrderDetails(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	tickets, err := s.store.ListOrderTickets(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	return &ExperienceOrderView{ExperienceOrder: *order, Details: details, Tickets: tickets}, nil
}

// issueTicket inserts a ticket under a fresh code, retrying on collisions
func issueTicket(ctx context.Context, tx *store.Store, t *models.ExperienceOrderManagement) error {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := randomCode(ticketCodeLength)
		if err != nil {
			return err
		}
		t.TicketCode = code
		err = tx.InsertIssuedTicket(ctx, t)
		if !errors.Is(err, store.ErrDuplicateTicketCode) {
			return err
		}
	}
	return fmt.Errorf("failed to generate a unique ticket code after %d attempts", maxCodeAttempts)
}

// CompleteOrder records the sale of a paid order and issues its tickets
func (s *ExperienceCheckoutService) CompleteOrder(ctx context.Context, orderID int64) error {
	ctx, span := util.StartSpan(ctx, "ExperienceCheckoutService.CompleteOrder")
	defer span.End()

	var order *models.ExperienceOrder
	var reservations []models.SessionTicketReservation
	var codes []string
	done := false
	err := s.store.InTx(ctx, func(tx *store.Store) error {
		var err error
		order, err = tx.LockExperienceOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != models.ExperienceOrderStatusPending {
			return nil
		}

		reservations, err = tx.DeleteOrderReservations(ctx, order.ID)
		if err != nil {
			return err
		}
		if len(reservations) == 0 {
			return nil
		}

		details, err := tx.ListExperienceOrderDetails(ctx, order.ID)
		if err != nil {
			return err
		}
		for _, d := range details {
			if err := tx.AddSessionTicketPurchased(ctx, d.SessionTicketID, d.Quantity); err != nil {
				if errors.Is(err, store.ErrConflict) {
					return errTicketsOversold
				}
				return err
			}
			for i := 0; i < d.Quantity; i++ {
				t := &models.ExperienceOrderManagement{
					OrderID:         order.ID,
					OrderDetailID:   d.ID,
					SessionTicketID: d.SessionTicketID,
					OwnerUserID:     order.UserID,
					Status:          models.TicketStatusUnused,
				}
				if err := issueTicket(ctx, tx, t); err != nil {
					return err
				}
				codes = append(codes, t.TicketCode)
			}
		}

		if err := tx.UpdateExperienceOrderStatus(ctx, order.ID, order.Status, models.ExperienceOrderStatusCompleted); err != nil {
			return err
		}
		order.Status = models.ExperienceOrderStatusCompleted
		done = true
		return nil
	})
	if errors.Is(err, errTicketsOversold) {
		s.logger.Error("Paid experience order exceeds session capacity", zap.Int64("order_id", orderID))
		return s.FailOrder(ctx, orderID, models.ExperienceOrderStatusFailed, "tickets sold out")
	}
	if err != nil {
		return fmt.Errorf("failed to complete experience order %d: %w", orderID, err)
	}
	if order.Status != models.ExperienceOrderStatusPending && !done {
		return nil
	}
	if !done {
		s.logger.Warn("Paid experience order had no reservations", zap.Int64("order_id", orderID))
		return s.FailOrder(ctx, orderID, models.ExperienceOrderStatusFailed, "reservation expired before payment completed")
	}

	s.inventory.CommitCache(ctx, reservationCacheLines(reservations))
	util.TicketsIssuedTotal.Add(float64(len(codes)))
	util.CheckoutsCompletedTotal.WithLabelValues(models.OrderKindExperience, order.Status).Inc()
	s.finalize(ctx, order, "", codes)
	return nil
}

// FailOrder releases the reservations of a pending order and moves it to status to
func (s *ExperienceCheckoutService) FailOrder(ctx context.Context, orderID int64, to, reason string) error {
	ctx, span := util.StartSpan(ctx, "ExperienceCheckoutService.FailOrder")
	defer span.End()

	var order *models.ExperienceOrder
	var released []models.SessionTicketReservation
	changed := false
	err := s.store.InTx(ctx, func(tx *store.Store) error {
		var err error
		order, err = tx.LockExperienceOrder(ctx, orderID)
		if err != nil {
			return storeErr(err, MsgOrderNotFound)
		}
		if !models.ExperienceOrderTransitions.Can(order.Status, to) {
			return nil
		}

		released, err = tx.DeleteOrderReservations(ctx, order.ID)
		if err != nil {
			return fmt.Errorf("failed to release reservations: %w", err)
		}
		if err := tx.UpdateExperienceOrderStatus(ctx, order.ID, order.Status, to); err != nil {
			return err
		}
		order.Status = to
		changed = true
		return nil
	})
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	s.inventory.ReleaseCache(ctx, reservationCacheLines(released))
	util.CheckoutsCompletedTotal.WithLabelValues(models.OrderKindExperience, to).Inc()
	s.finalize(ctx, order, reason, nil)
	return nil
}

func (s *ExperienceCheckoutService) finalize(ctx context.Context, order *models.ExperienceOrder, reason string, codes []string) {
	s.logger.Info("Experience order finalized",
		zap.Int64("order_id", order.ID),
		zap.String("status", order.Status),
		zap.Int("tickets", len(codes)),
		zap.String("reason", reason))

	if err := s.publisher.PublishOrderFinalized(ctx, orderFinalizedEvent(models.OrderKindExperience, order.ID, order.Status, reason)); err != nil {
		s.logger.Error("Failed to publish OrderFinalized event", zap.Int64("order_id", order.ID), zap.Error(err))
	}

	template := "tickets_issued"
	if order.Status != models.ExperienceOrderStatusCompleted {
		template = "order_failed"
	}
	event := notificationEvent(template, order.BuyerEmail, models.EmailCategoryTransactional, map[string]string{
		"order_id": strconv.FormatInt(order.ID, 10),
		"total":    strconv.FormatInt(order.TotalAmount, 10),
		"status":   order.Status,
		"reason":   reason,
		"codes":    strings.Join(codes, ", "),
	})
	if err := s.publisher.PublishNotification(ctx, event); err != nil {
		s.logger.Error("Failed to publish order notification", zap.Int64("order_id", order.ID), zap.Error(err))
	}
}

// ExpireStale drops lapsed reservations and times out pending orders whose
// reservations ran out before payment.
func (s *ExperienceCheckoutService) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	removed, err := s.store.DeleteExpiredReservations(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired reservations: %w", err)
	}
	if len(removed) > 0 {
		s.inventory.ReleaseCache(ctx, reservationCacheLines(removed))
	}

	ids, err := s.store.ListStaleExperienceOrders(ctx, now)
	if err != nil {
		return len(removed), fmt.Errorf("failed to list stale experience orders: %w", err)
	}
	for _, id := range ids {
		if err := s.FailOrder(ctx, id, models.ExperienceOrderStatusTimeout, "payment timeout"); err != nil {
			s.logger.Error("Failed to time out experience order", zap.Int64("order_id", id), zap.Error(err))
		}
	}
	return len(removed) + len(ids), nil
}

// GetOrder returns an order to its buyer
func (s *ExperienceCheckoutService) GetOrder(ctx context.Context, userID, orderID int64) (*ExperienceOrderView, error) {
	order, err := s.store.GetExperienceOrder(ctx, orderID)
	if err != nil {
		return nil, storeErr(err, MsgOrderNotFound)
	}
	if order.UserID != userID {
		return nil, apierror.Forbidden(MsgForbidden)
	}
	return s.view(ctx, order)
}

// ListMyTickets lists the tickets the caller owns
func (s *ExperienceCheckoutService) ListMyTickets(ctx context.Context, userID int64) ([]models.IssuedTicket, error) {
	return s.store.ListTicketsByOwner(ctx, userID)
}

// TransferTicket hands an unused ticket to another user. The ticket gets a
// new code and the old one stops working.
func (s *ExperienceCheckoutService) TransferTicket(ctx context.Context, userID int64, code string, req *TransferTicketRequest) (*models.IssuedTicket, error) {
	ctx, span := util.StartSpan(ctx, "ExperienceCheckoutService.TransferTicket")
	defer span.End()

	if req.RecipientUserID == userID {
		return nil, apierror.BadRequest(MsgTransferToSelf)
	}

	var newCode string
	err := s.store.InTx(ctx, func(tx *store.Store) error {
		t, err := tx.GetIssuedTicketByCode(ctx, code, true)
		if err != nil {
			return storeErr(err, MsgTicketNotFound)
		}
		if t.OwnerUserID != userID {
			return apierror.Forbidden(MsgForbidden)
		}
		if t.Status != models.TicketStatusUnused {
			return apierror.BadRequest(MsgTicketAlreadyUsed)
		}
		if !t.SessionStart.After(time.Now()) {
			return apierror.BadRequest(MsgSessionStarted)
		}

		for attempt := 0; attempt < maxCodeAttempts; attempt++ {
			if newCode, err = randomCode(ticketCodeLength); err != nil {
				return err
			}
			err = tx.TransferTicket(ctx, t.ID, userID, req.RecipientUserID, newCode)
			if errors.Is(err, store.ErrDuplicateTicketCode) {
				continue
			}
			if errors.Is(err, store.ErrConflict) {
				return apierror.Conflict("The ticket was changed concurrently")
			}
			return err
		}
		return fmt.Errorf("failed to generate a unique ticket code after %d attempts", maxCodeAttempts)
	})
	if err != nil {
		return nil, err
	}

	t, err := s.store.GetIssuedTicketByCode(ctx, newCode, false)
	if err != nil {
		return nil, err
	}

	util.TicketsTransferredTotal.Inc()
	s.logger.Info("Ticket transferred",
		zap.Int64("ticket_id", t.ID),
		zap.Int64("from_user", userID),
		zap.Int64("to_user", req.RecipientUserID))

	event := notificationEvent("ticket_transferred", req.RecipientEmail, models.EmailCategoryTransactional, map[string]string{
		"experience": t.ExperienceTitle,
		"ticket":     t.TicketTitle,
		"code":       t.TicketCode,
		"starts_at":  t.SessionStart.Format(time.RFC3339),
	})
	if err := s.publisher.PublishNotification(ctx, event); err != nil {
		s.logger.Error("Failed to publish transfer notification", zap.Int64("ticket_id", t.ID), zap.Error(err))
	}
	return t, nil
}

// CheckInTicket marks a ticket used. Only the owner of the experience's shop may.
func (s *ExperienceCheckoutService) CheckInTicket(ctx context.Context, userID int64, code string) (*models.IssuedTicket, error) {
	ctx, span := util.StartSpan(ctx, "ExperienceCheckoutService.CheckInTicket")
	defer span.End()

	var t *models.IssuedTicket
	err := s.store.InTx(ctx, func(tx *store.Store) error {
		var err error
		t, err = tx.GetIssuedTicketByCode(ctx, code, true)
		if err != nil {
			return storeErr(err, MsgTicketNotFound)
		}
		if _, err := loadOwnedShop(ctx, tx, t.ShopID, userID); err != nil {
			return err
		}
		if !models.TicketTransitions.Can(t.Status, models.TicketStatusUsed) {
			return apierror.BadRequest(MsgTicketAlreadyUsed)
		}
		if err := tx.MarkTicketUsed(ctx, t.ID); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return apierror.BadRequest(MsgTicketAlreadyUsed)
			}
			return err
		}
		now := time.Now()
		t.Status = models.TicketStatusUsed
		t.UsedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Ticket checked in", zap.Int64("ticket_id", t.ID), zap.Int64("experience_id", t.ExperienceID))
	return t, nil
}
