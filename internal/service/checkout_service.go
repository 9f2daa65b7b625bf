package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"marketplace-service/internal/apierror"
	"marketplace-service/internal/models"
	"marketplace-service/internal/store"
	"marketplace-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	MsgCheckoutNotFound = "Checkout not found"
	MsgCheckoutExpired  = "The checkout has expired"
	MsgCheckoutPlaced   = "The checkout has already been placed"
)

var (
	errCheckoutPlaced = apierror.BadRequest(MsgCheckoutPlaced)
	errHoldRenewed    = errors.New("hold renewed")
)

// CheckoutService handles the online product checkout saga
type CheckoutService struct {
	store          *store.Store
	inventory      *InventoryService
	publisher      EventPublisher
	logger         *zap.Logger
	lockTTL        time.Duration
	paymentTimeout time.Duration
}

// NewCheckoutService creates a new checkout service
func NewCheckoutService(
	store *store.Store,
	inventory *InventoryService,
	publisher EventPublisher,
	lockTTL, paymentTimeout time.Duration,
) *CheckoutService {
	return &CheckoutService{
		store:          store,
		inventory:      inventory,
		publisher:      publisher,
		logger:         util.GetLogger(),
		lockTTL:        lockTTL,
		paymentTimeout: paymentTimeout,
	}
}

// CartItemRequest represents a line of a cart
type CartItemRequest struct {
	ProductID      int64  `json:"product_id" binding:"required"`
	ParameterSetID *int64 `json:"parameter_set_id"`
	Quantity       int    `json:"quantity" binding:"required,min=1"`
	ShipLater      bool   `json:"ship_later"`
	UnitPrice      *int64 `json:"unit_price" binding:"omitempty,min=0"`
}

// CartRequest represents a cart to validate or lock
type CartRequest struct {
	CheckoutID string            `json:"checkout_id"`
	Items      []CartItemRequest `json:"items" binding:"required,min=1,dive"`
}

// CheckoutRequest places an order for a locked cart
type CheckoutRequest struct {
	CheckoutID    string `json:"checkout_id" binding:"required"`
	PaymentMethod string `json:"payment_method" binding:"required,oneof=CARD"`
	TotalAmount   int64  `json:"total_amount" binding:"min=0"`
}

// PricedLine is a cart line at current prices
type PricedLine struct {
	ProductID      int64  `json:"product_id"`
	ParameterSetID *int64 `json:"parameter_set_id,omitempty"`
	Quantity       int    `json:"quantity"`
	ShipLater      bool   `json:"ship_later"`
	UnitPrice      int64  `json:"unit_price"`
	Amount         int64  `json:"amount"`
}

// CartQuote is a validated cart
type CartQuote struct {
	CheckoutID  string       `json:"checkout_id,omitempty"`
	ExpiresAt   *time.Time   `json:"expires_at,omitempty"`
	Lines       []PricedLine `json:"lines"`
	TotalAmount int64        `json:"total_amount"`
}

// ProductOrderView is an order with its items
type ProductOrderView struct {
	models.ProductOrder
	Items []models.ProductOrderItem `json:"items"`
}

func cartLines(items []CartItemRequest) []StockLine {
	lines := make([]StockLine, len(items))
	for i, it := range items {
		lines[i] = StockLine{
			ProductID:      it.ProductID,
			ParameterSetID: it.ParameterSetID,
			Quantity:       it.Quantity,
			ShipLater:      it.ShipLater,
			UnitPrice:      it.UnitPrice,
		}
	}
	return lines
}

func priceLine(p *models.Product, ps *models.ProductParameterSet, l StockLine) PricedLine {
	price := unitPrice(p, ps)
	return PricedLine{
		ProductID:      l.ProductID,
		ParameterSetID: l.ParameterSetID,
		Quantity:       l.Quantity,
		ShipLater:      l.ShipLater,
		UnitPrice:      price,
		Amount:         price * int64(l.Quantity),
	}
}

func quote(lines []PricedLine) *CartQuote {
	q := &CartQuote{Lines: lines}
	for _, l := range lines {
		q.TotalAmount += l.Amount
	}
	return q
}

func (s *CheckoutService) loadLine(ctx context.Context, st *store.Store, l StockLine) (*models.Product, *models.ProductParameterSet, error) {
	p, err := st.GetProduct(ctx, l.ProductID)
	if err != nil {
		return nil, nil, storeErr(err, MsgProductNotFound)
	}
	if l.ParameterSetID == nil {
		return p, nil, nil
	}
	ps, err := st.GetParameterSet(ctx, l.ProductID, *l.ParameterSetID)
	if store.IsNotFound(err) {
		return nil, nil, apierror.BadRequest(MsgParameterSetUnavailable)
	}
	return p, ps, err
}

// ValidateCart checks every line against current price, status and stock
// without locking anything
func (s *CheckoutService) ValidateCart(ctx context.Context, req *CartRequest) (*CartQuote, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.ValidateCart")
	defer span.End()

	lines := mergeLines(cartLines(req.Items))
	priced := make([]PricedLine, 0, len(lines))
	for _, l := range lines {
		p, ps, err := s.loadLine(ctx, s.store, l)
		if err != nil {
			return nil, err
		}
		if err := checkLine(p, ps, l, models.SalesMethodOnline); err != nil {
			return nil, err
		}
		priced = append(priced, priceLine(p, ps, l))
	}
	return quote(priced), nil
}

// LockCart validates a cart and locks its stock under a checkout id. Locking
// again with the same checkout id releases the previous locks first.
func (s *CheckoutService) LockCart(ctx context.Context, userID int64, req *CartRequest) (*CartQuote, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.LockCart")
	defer span.End()

	checkoutID := req.CheckoutID
	if checkoutID == "" {
		checkoutID = uuid.New().String()
	}

	lines := mergeLines(cartLines(req.Items))
	cached := s.inventory.ReserveCache(ctx, productCacheLines(lines))

	expiresAt := time.Now().Add(s.lockTTL)
	hold := Hold{CheckoutID: checkoutID, UserID: userID, ExpiresAt: expiresAt}
	priced := make([]PricedLine, 0, len(lines))
	var previous []StockLine

	err := s.store.InTx(ctx, func(tx *store.Store) error {
		items, err := s.lockUnplaced(ctx, tx, checkoutID)
		if err != nil {
			return err
		}
		for _, it := range items {
			if it.UserID != userID {
				return apierror.Forbidden(MsgForbidden)
			}
		}
		if previous, err = s.inventory.ReleaseHold(ctx, tx, checkoutID); err != nil {
			return fmt.Errorf("failed to release previous locks: %w", err)
		}
		return s.inventory.LockLines(ctx, tx, hold, lines, func(p *models.Product, ps *models.ProductParameterSet, l StockLine) error {
			if err := checkLine(p, ps, l, models.SalesMethodOnline); err != nil {
				return err
			}
			priced = append(priced, priceLine(p, ps, l))
			return nil
		})
	})
	if err != nil {
		s.inventory.ReleaseCache(ctx, cached)
		return nil, err
	}
	// the replaced hold no longer counts against the cache
	s.inventory.ReleaseCache(ctx, productCacheLines(previous))

	s.logger.Info("Cart locked",
		zap.String("checkout_id", checkoutID),
		zap.Int64("user_id", userID),
		zap.Int("lines", len(lines)),
		zap.Int("relocked_lines", len(previous)))

	q := quote(priced)
	q.CheckoutID = checkoutID
	q.ExpiresAt = &expiresAt
	return q, nil
}

// lockUnplaced locks the items of a checkout and fails if the checkout has
// already produced an order. The order lookup runs after the row locks are
// held, so a Checkout that committed first is seen and a later one waits.
func (s *CheckoutService) lockUnplaced(ctx context.Context, tx *store.Store, checkoutID string) ([]models.OrderingItem, error) {
	items, err := tx.LockOrderingItems(ctx, checkoutID)
	if err != nil {
		return nil, err
	}
	order, err := tx.GetProductOrderByCheckoutID(ctx, checkoutID)
	if err != nil {
		return nil, fmt.Errorf("failed to check checkout: %w", err)
	}
	if order != nil {
		return nil, errCheckoutPlaced
	}
	return items, nil
}

// ReleaseCart drops the locks of a checkout that has not been placed
func (s *CheckoutService) ReleaseCart(ctx context.Context, userID int64, checkoutID string) error {
	ctx, span := util.StartSpan(ctx, "CheckoutService.ReleaseCart")
	defer span.End()

	var released []StockLine
	err := s.store.InTx(ctx, func(tx *store.Store) error {
		items, err := s.lockUnplaced(ctx, tx, checkoutID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return apierror.NotFound(MsgCheckoutNotFound)
		}
		if items[0].UserID != userID {
			return apierror.Forbidden(MsgForbidden)
		}
		released, err = s.inventory.ReleaseHold(ctx, tx, checkoutID)
		return err
	})
	if err != nil {
		return err
	}

	s.inventory.ReleaseCache(ctx, productCacheLines(released))
	return nil
}

// Checkout places an order for a locked cart. It is idempotent per checkout id.
func (s *CheckoutService) Checkout(ctx context.Context, userID int64, email string, req *CheckoutRequest) (*ProductOrderView, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.Checkout")
	defer span.End()

	if existing, err := s.existingOrder(ctx, userID, req.CheckoutID); existing != nil || err != nil {
		return existing, err
	}

	order := &models.ProductOrder{
		UserID:        userID,
		BuyerEmail:    email,
		CheckoutID:    req.CheckoutID,
		PaymentMethod: req.PaymentMethod,
		Status:        models.ProductOrderStatusPending,
	}
	var orderItems []models.ProductOrderItem

	err := s.store.InTx(ctx, func(tx *store.Store) error {
		items, err := tx.LockOrderingItems(ctx, req.CheckoutID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return apierror.NotFound(MsgCheckoutNotFound)
		}

		now := time.Now()
		orderItems = make([]models.ProductOrderItem, 0, len(items))
		for _, it := range items {
			if it.UserID != userID {
				return apierror.Forbidden(MsgForbidden)
			}
			if !it.ExpiresAt.After(now) {
				return apierror.BadRequest(MsgCheckoutExpired)
			}

			l := lineFromItem(it)
			p, ps, err := s.loadLine(ctx, tx, l)
			if err != nil {
				return err
			}
			if p.Status != models.ProductStatusPublished || (ps != nil && !ps.Enabled) {
				return apierror.BadRequest(MsgProductUnavailable)
			}
			price := unitPrice(p, ps)
			order.TotalAmount += price * int64(it.Quantity)
			orderItems = append(orderItems, models.ProductOrderItem{
				ProductID:      it.ProductID,
				ParameterSetID: it.ParameterSetID,
				Quantity:       it.Quantity,
				UnitPrice:      price,
				ShipLater:      it.ShipLater,
			})
		}

		if order.TotalAmount != req.TotalAmount {
			return apierror.Conflict(MsgPriceChanged)
		}

		if err := tx.CreateProductOrder(ctx, order, orderItems); err != nil {
			return err
		}
		return tx.ExtendOrderingItems(ctx, req.CheckoutID, now.Add(s.paymentTimeout))
	})
	if err != nil {
		if store.IsUniqueViolation(err) {
			// a concurrent request with the same checkout id won
			return s.existingOrder(ctx, userID, req.CheckoutID)
		}
		return nil, err
	}

	util.CheckoutsCreatedTotal.WithLabelValues(models.OrderKindProduct).Inc()
	s.logger.Info("Product order created",
		zap.Int64("order_id", order.ID),
		zap.String("checkout_id", order.CheckoutID),
		zap.Int64("total", order.TotalAmount))

	event := checkoutReservedEvent(models.OrderKindProduct, order.ID, userID, order.TotalAmount, order.PaymentMethod)
	if err := s.publisher.PublishCheckoutReserved(ctx, event); err != nil {
		s.logger.Error("Failed to publish CheckoutReserved event", zap.Int64("order_id", order.ID), zap.Error(err))
	}

	return &ProductOrderView{ProductOrder: *order, Items: orderItems}, nil
}

func (s *CheckoutService) existingOrder(ctx context.Context, userID int64, checkoutID string) (*ProductOrderView, error) {
	existing, err := s.store.GetProductOrderByCheckoutID(ctx, checkoutID)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if existing == nil {
		return nil, nil
	}
	if existing.UserID != userID {
		return nil, apierror.Forbidden(MsgForbidden)
	}

	s.logger.Info("Duplicate checkout request detected",
		zap.String("checkout_id", checkoutID),
		zap.Int64("order_id", existing.ID))
	items, err := s.store.ListProductOrderItems(ctx, existing.ID)
	if err != nil {
		return nil, err
	}
	return &ProductOrderView{ProductOrder: *existing, Items: items}, nil
}

// CompleteOrder turns the locked stock of a paid order into purchases
func (s *CheckoutService) CompleteOrder(ctx context.Context, orderID int64) error {
	ctx, span := util.StartSpan(ctx, "CheckoutService.CompleteOrder")
	defer span.End()

	var order *models.ProductOrder
	var committed []StockLine
	var expired bool
	err := s.store.InTx(ctx, func(tx *store.Store) error {
		var err error
		order, err = tx.LockProductOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != models.ProductOrderStatusPending {
			return nil
		}

		committed, err = s.inventory.CommitHold(ctx, tx, order.CheckoutID)
		if err != nil {
			return fmt.Errorf("failed to commit stock: %w", err)
		}
		to := models.ProductOrderStatusCompleted
		if len(committed) == 0 {
			// the hold expired and its stock went back on sale
			expired = true
			to = models.ProductOrderStatusFailed
		}
		if err := tx.UpdateProductOrderStatus(ctx, order.ID, order.Status, to); err != nil {
			return err
		}
		order.Status = to
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to complete order %d: %w", orderID, err)
	}
	if len(committed) == 0 && !expired {
		return nil
	}

	s.inventory.CommitCache(ctx, productCacheLines(committed))
	util.CheckoutsCompletedTotal.WithLabelValues(models.OrderKindProduct, order.Status).Inc()

	reason := ""
	if expired {
		reason = "reservation expired before payment completed"
		s.logger.Warn("Paid order had no locked stock", zap.Int64("order_id", orderID))
	}
	s.finalize(ctx, order, reason)
	return nil
}

// FailOrder gives the stock of a pending order back and moves it to status to
func (s *CheckoutService) FailOrder(ctx context.Context, orderID int64, to, reason string) error {
	ctx, span := util.StartSpan(ctx, "CheckoutService.FailOrder")
	defer span.End()

	var order *models.ProductOrder
	var released []StockLine
	changed := false
	err := s.store.InTx(ctx, func(tx *store.Store) error {
		var err error
		order, err = tx.LockProductOrder(ctx, orderID)
		if err != nil {
			return storeErr(err, MsgOrderNotFound)
		}
		if !models.ProductOrderTransitions.Can(order.Status, to) {
			return nil
		}

		released, err = s.inventory.ReleaseHold(ctx, tx, order.CheckoutID)
		if err != nil {
			return fmt.Errorf("failed to release stock: %w", err)
		}
		if err := tx.UpdateProductOrderStatus(ctx, order.ID, order.Status, to); err != nil {
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

	s.inventory.ReleaseCache(ctx, productCacheLines(released))
	util.CheckoutsCompletedTotal.WithLabelValues(models.OrderKindProduct, to).Inc()
	s.finalize(ctx, order, reason)
	return nil
}

func (s *CheckoutService) finalize(ctx context.Context, order *models.ProductOrder, reason string) {
	s.logger.Info("Product order finalized",
		zap.Int64("order_id", order.ID),
		zap.String("status", order.Status),
		zap.String("reason", reason))

	if err := s.publisher.PublishOrderFinalized(ctx, orderFinalizedEvent(models.OrderKindProduct, order.ID, order.Status, reason)); err != nil {
		s.logger.Error("Failed to publish OrderFinalized event", zap.Int64("order_id", order.ID), zap.Error(err))
	}

	template := "order_confirmation"
	if order.Status != models.ProductOrderStatusCompleted {
		template = "order_failed"
	}
	event := notificationEvent(template, order.BuyerEmail, models.EmailCategoryTransactional, map[string]string{
		"order_id": strconv.FormatInt(order.ID, 10),
		"total":    strconv.FormatInt(order.TotalAmount, 10),
		"status":   order.Status,
		"reason":   reason,
	})
	if err := s.publisher.PublishNotification(ctx, event); err != nil {
		s.logger.Error("Failed to publish order notification", zap.Int64("order_id", order.ID), zap.Error(err))
	}
}

// CancelOrder cancels a pending order on behalf of its buyer
func (s *CheckoutService) CancelOrder(ctx context.Context, userID, orderID int64) (*ProductOrderView, error) {
	order, err := s.store.GetProductOrder(ctx, orderID)
	if err != nil {
		return nil, storeErr(err, MsgOrderNotFound)
	}
	if order.UserID != userID {
		return nil, apierror.Forbidden(MsgForbidden)
	}
	if order.Status != models.ProductOrderStatusPending {
		return nil, apierror.BadRequest(MsgOrderNotPending)
	}

	if err := s.FailOrder(ctx, orderID, models.ProductOrderStatusCancelled, "cancelled by buyer"); err != nil {
		return nil, err
	}
	return s.GetOrder(ctx, userID, orderID)
}

// GetOrder returns an order to its buyer
func (s *CheckoutService) GetOrder(ctx context.Context, userID, orderID int64) (*ProductOrderView, error) {
	order, err := s.store.GetProductOrder(ctx, orderID)
	if err != nil {
		return nil, storeErr(err, MsgOrderNotFound)
	}
	if order.UserID != userID {
		return nil, apierror.Forbidden(MsgForbidden)
	}
	items, err := s.store.ListProductOrderItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &ProductOrderView{ProductOrder: *order, Items: items}, nil
}

// ExpireStale releases online checkouts whose locks ran out. A pending order
// on such a checkout fails.
func (s *CheckoutService) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.store.ListExpiredCheckouts(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired checkouts: %w", err)
	}

	expired := 0
	for _, checkoutID := range ids {
		order, err := s.store.GetProductOrderByCheckoutID(ctx, checkoutID)
		if err != nil {
			return expired, err
		}

		if order != nil {
			err = s.FailOrder(ctx, order.ID, models.ProductOrderStatusFailed, "payment timeout")
		} else {
			var released []StockLine
			err = s.store.InTx(ctx, func(tx *store.Store) error {
				items, err := s.lockUnplaced(ctx, tx, checkoutID)
				if err != nil {
					return err
				}
				for _, it := range items {
					if it.ExpiresAt.After(now) {
						return errHoldRenewed
					}
				}
				released, err = s.inventory.ReleaseHold(ctx, tx, checkoutID)
				return err
			})
			if err == nil {
				s.inventory.ReleaseCache(ctx, productCacheLines(released))
			}
		}
		if errors.Is(err, errHoldRenewed) || errors.Is(err, errCheckoutPlaced) {
			// placed or locked again since it was listed
			continue
		}
		if err != nil && !errors.Is(err, store.ErrConflict) {
			s.logger.Error("Failed to expire checkout", zap.String("checkout_id", checkoutID), zap.Error(err))
			continue
		}
		expired++
	}
	return expired, nil
}
