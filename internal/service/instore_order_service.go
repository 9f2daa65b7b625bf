package service

import (
	"context"
	"fmt"
	"time"

	"marketplace-service/internal/apierror"
	"marketplace-service/internal/models"
	"marketplace-service/internal/store"
	"marketplace-service/internal/util"

	"go.uber.org/zap"
)

const instoreCodeLength = 8

// InstoreOrderService handles point-of-sale orders taken at a shop
type InstoreOrderService struct {
	store       *store.Store
	inventory   *InventoryService
	publisher   EventPublisher
	logger      *zap.Logger
	maxQuantity int
	timeout     time.Duration
}

// NewInstoreOrderService creates a new in-store order service
func NewInstoreOrderService(
	store *store.Store,
	inventory *InventoryService,
	publisher EventPublisher,
	maxQuantity int,
	timeout time.Duration,
) *InstoreOrderService {
	return &InstoreOrderService{
		store:       store,
		inventory:   inventory,
		publisher:   publisher,
		logger:      util.GetLogger(),
		maxQuantity: maxQuantity,
		timeout:     timeout,
	}
}

type InstoreItemRequest struct {
	ProductID      int64  `json:"product_id" binding:"required"`
	ParameterSetID *int64 `json:"parameter_set_id"`
	Quantity       int    `json:"quantity" binding:"required,min=1"`
}

type CreateInstoreOrderRequest struct {
	Items []InstoreItemRequest `json:"items" binding:"dive"`
}

type UpdateInstoreItemRequest struct {
	Quantity int `json:"quantity" binding:"required,min=1"`
}

type CompleteInstoreOrderRequest struct {
	PaymentMethod string `json:"payment_method" binding:"required,oneof=CASH CARD"`
}

func instoreCheckoutID(groupID int64) string {
	return fmt.Sprintf("instore-%d", groupID)
}

// mergedQuantity is the quantity of a line after adding add to it, capped at max
func mergedQuantity(existing, add, max int) (int, error) {
	q := existing + add
	if q > max {
		return 0, apierror.BadRequest(fmt.Sprintf(MsgItemQuantityCap, max))
	}
	return q, nil
}

func sameLine(d models.InstoreOrderDetail, productID int64, parameterSetID *int64) bool {
	return d.ProductID == productID && psID(d.ParameterSetID) == psID(parameterSetID)
}

// loadOwnedOrder locks an in-store order of a shop the caller owns
func (s *InstoreOrderService) loadOwnedOrder(ctx context.Context, tx *store.Store, userID, orderID int64) (*models.InstoreOrderGroup, error) {
	g, err := tx.LockInstoreOrderGroup(ctx, orderID)
	if err != nil {
		return nil, storeErr(err, MsgOrderNotFound)
	}
	if _, err := loadOwnedShop(ctx, tx, g.ShopID, userID); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *InstoreOrderService) loadEditableOrder(ctx context.Context, tx *store.Store, userID, orderID int64) (*models.InstoreOrderGroup, error) {
	g, err := s.loadOwnedOrder(ctx, tx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if g.Status != models.InstoreOrderStatusInProgress {
		return nil, apierror.BadRequest(MsgOrderNotInProgress)
	}
	return g, nil
}

// putItem adds qty of a product to an order, merging into an existing line.
// The line is repriced at the current price.
func (s *InstoreOrderService) putItem(ctx context.Context, tx *store.Store, g *models.InstoreOrderGroup,
	details []models.InstoreOrderDetail, req InstoreItemRequest) error {
	p, err := tx.GetProduct(ctx, req.ProductID)
	if err != nil {
		return storeErr(err, MsgProductNotFound)
	}
	if p.ShopID != g.ShopID {
		return apierror.BadRequest(MsgProductUnavailable)
	}

	var ps *models.ProductParameterSet
	if req.ParameterSetID != nil {
		ps, err = tx.GetParameterSet(ctx, req.ProductID, *req.ParameterSetID)
		if store.IsNotFound(err) {
			return apierror.BadRequest(MsgParameterSetUnavailable)
		}
		if err != nil {
			return err
		}
	}

	var existing *models.InstoreOrderDetail
	for i := range details {
		if sameLine(details[i], req.ProductID, req.ParameterSetID) {
			existing = &details[i]
			break
		}
	}

	current := 0
	if existing != nil {
		current = existing.Quantity
	}
	qty, err := mergedQuantity(current, req.Quantity, s.maxQuantity)
	if err != nil {
		return err
	}

	line := StockLine{ProductID: req.ProductID, ParameterSetID: req.ParameterSetID, Quantity: qty}
	if err := checkLine(p, ps, line, models.SalesMethodInstore); err != nil {
		return err
	}

	price := unitPrice(p, ps)
	if existing != nil {
		existing.UnitPrice = price
		existing.Quantity = qty
		existing.Amount = price * int64(qty)
		return tx.UpdateInstoreOrderDetail(ctx, existing)
	}
	return tx.InsertInstoreOrderDetail(ctx, &models.InstoreOrderDetail{
		GroupID:        g.ID,
		ProductID:      p.ID,
		ParameterSetID: req.ParameterSetID,
		ProductName:    p.Name,
		UnitPrice:      price,
		Quantity:       qty,
		Amount:         price * int64(qty),
	})
}

// CreateOrder opens an in-store order for a shop the caller owns
func (s *InstoreOrderService) CreateOrder(ctx context.Context, userID, shopID int64, req *CreateInstoreOrderRequest) (*models.InstoreOrder, error) {
	ctx, span := util.StartSpan(ctx, "InstoreOrderService.CreateOrder")
	defer span.End()

	if _, err := loadOwnedShop(ctx, s.store, shopID, userID); err != nil {
		return nil, err
	}

	var g *models.InstoreOrderGroup
	var err error
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		g, err = s.createOrder(ctx, userID, shopID, req)
		if !store.IsUniqueViolation(err) {
			break
		}
		s.logger.Warn("In-store order code collision, retrying", zap.Int("attempt", attempt+1))
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("In-store order created", zap.Int64("order_id", g.ID), zap.String("code", g.Code))
	return s.view(ctx, s.store, g)
}

func (s *InstoreOrderService) createOrder(ctx context.Context, userID, shopID int64, req *CreateInstoreOrderRequest) (*models.InstoreOrderGroup, error) {
	code, err := randomCode(instoreCodeLength)
	if err != nil {
		return nil, err
	}

	g := &models.InstoreOrderGroup{
		ShopID:    shopID,
		Code:      code,
		Status:    models.InstoreOrderStatusInProgress,
		CreatedBy: userID,
	}
	err = s.store.InTx(ctx, func(tx *store.Store) error {
		if err := tx.CreateInstoreOrderGroup(ctx, g); err != nil {
			return err
		}
		for _, item := range req.Items {
			details, err := tx.ListInstoreOrderDetails(ctx, g.ID)
			if err != nil {
				return err
			}
			if err := s.putItem(ctx, tx, g, details, item); err != nil {
				return err
			}
		}
		g.TotalAmount, err = tx.RecalculateInstoreOrderTotal(ctx, g.ID)
		return err
	})
	return g, err
}

// edit runs fn on an editable order. Any stock locked by an earlier checkout
// is released since the lines no longer match it.
func (s *InstoreOrderService) edit(ctx context.Context, userID, orderID int64,
	fn func(tx *store.Store, g *models.InstoreOrderGroup, details []models.InstoreOrderDetail) error) (*models.InstoreOrder, error) {
	var g *models.InstoreOrderGroup
	var released []StockLine
	err := s.store.InTx(ctx, func(tx *store.Store) error {
		var err error
		g, err = s.loadEditableOrder(ctx, tx, userID, orderID)
		if err != nil {
			return err
		}
		details, err := tx.ListInstoreOrderDetails(ctx, g.ID)
		if err != nil {
			return err
		}
		// the hold goes back to stock first so fn checks against it
		if released, err = s.inventory.ReleaseHold(ctx, tx, instoreCheckoutID(g.ID)); err != nil {
			return err
		}
		if err := fn(tx, g, details); err != nil {
			return err
		}
		g.TotalAmount, err = tx.RecalculateInstoreOrderTotal(ctx, g.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.inventory.ReleaseCache(ctx, productCacheLines(released))
	return s.view(ctx, s.store, g)
}

// AddItem adds a product to an order, merging with an existing line
func (s *InstoreOrderService) AddItem(ctx context.Context, userID, orderID int64, req *InstoreItemRequest) (*models.InstoreOrder, error) {
	ctx, span := util.StartSpan(ctx, "InstoreOrderService.AddItem")
	defer span.End()

	return s.edit(ctx, userID, orderID, func(tx *store.Store, g *models.InstoreOrderGroup, details []models.InstoreOrderDetail) error {
		return s.putItem(ctx, tx, g, details, *req)
	})
}

// UpdateItem sets the quantity of a line
func (s *InstoreOrderService) UpdateItem(ctx context.Context, userID, orderID, detailID int64, req *UpdateInstoreItemRequest) (*models.InstoreOrder, error) {
	ctx, span := util.StartSpan(ctx, "InstoreOrderService.UpdateItem")
	defer span.End()

	return s.edit(ctx, userID, orderID, func(tx *store.Store, g *models.InstoreOrderGroup, details []models.InstoreOrderDetail) error {
		var target *models.InstoreOrderDetail
		rest := make([]models.InstoreOrderDetail, 0, len(details))
		for _, d := range details {
			if d.ID == detailID {
				d := d
				target = &d
				continue
			}
			rest = append(rest, d)
		}
		if target == nil {
			return apierror.NotFound(MsgItemNotFound)
		}

		// re-add the line from zero so the cap and stock checks see the new quantity
		if err := tx.DeleteInstoreOrderDetail(ctx, g.ID, target.ID); err != nil {
			return err
		}
		return s.putItem(ctx, tx, g, rest, InstoreItemRequest{
			ProductID:      target.ProductID,
			ParameterSetID: target.ParameterSetID,
			Quantity:       req.Quantity,
		})
	})
}

// RemoveItem removes a line
func (s *InstoreOrderService) RemoveItem(ctx context.Context, userID, orderID, detailID int64) (*models.InstoreOrder, error) {
	ctx, span := util.StartSpan(ctx, "InstoreOrderService.RemoveItem")
	defer span.End()

	return s.edit(ctx, userID, orderID, func(tx *store.Store, g *models.InstoreOrderGroup, _ []models.InstoreOrderDetail) error {
		return storeErr(tx.DeleteInstoreOrderDetail(ctx, g.ID, detailID), MsgItemNotFound)
	})
}

// GetOrder returns an order to the owner of its shop
func (s *InstoreOrderService) GetOrder(ctx context.Context, userID, orderID int64) (*models.InstoreOrder, error) {
	g, err := s.store.GetInstoreOrderGroup(ctx, orderID)
	if err != nil {
		return nil, storeErr(err, MsgOrderNotFound)
	}
	if _, err := loadOwnedShop(ctx, s.store, g.ShopID, userID); err != nil {
		return nil, err
	}
	return s.view(ctx, s.store, g)
}

func (s *InstoreOrderService) view(ctx context.Context, st *store.Store, g *models.InstoreOrderGroup) (*models.InstoreOrder, error) {
	details, err := st.ListInstoreOrderDetails(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	held, err := st.ListOrderingItems(ctx, instoreCheckoutID(g.ID))
	if err != nil {
		return nil, err
	}
	return &models.InstoreOrder{InstoreOrderGroup: *g, Details: details, Locked: len(held) > 0}, nil
}

// Checkout re-validates every line and locks its stock. Checking out again
// replaces the previous locks.
func (s *InstoreOrderService) Checkout(ctx context.Context, userID, orderID int64) (*models.InstoreOrder, error) {
	ctx, span := util.StartSpan(ctx, "InstoreOrderService.Checkout")
	defer span.End()

	checkoutID := instoreCheckoutID(orderID)
	var g *models.InstoreOrderGroup
	var cached []CacheLine
	var previous []StockLine
	err := s.store.InTx(ctx, func(tx *store.Store) error {
		var err error
		g, err = s.loadEditableOrder(ctx, tx, userID, orderID)
		if err != nil {
			return err
		}
		details, err := tx.ListInstoreOrderDetails(ctx, g.ID)
		if err != nil {
			return err
		}
		if len(details) == 0 {
			return apierror.BadRequest(MsgOrderEmpty)
		}

		lines := make([]StockLine, len(details))
		for i, d := range details {
			price := d.UnitPrice
			lines[i] = StockLine{ProductID: d.ProductID, ParameterSetID: d.ParameterSetID, Quantity: d.Quantity, UnitPrice: &price}
		}

		cached = s.inventory.ReserveCache(ctx, productCacheLines(lines))
		if previous, err = s.inventory.ReleaseHold(ctx, tx, checkoutID); err != nil {
			return err
		}

		groupID := g.ID
		hold := Hold{
			CheckoutID:          checkoutID,
			UserID:              userID,
			InstoreOrderGroupID: &groupID,
			ExpiresAt:           g.CreatedAt.Add(s.timeout),
		}
		return s.inventory.LockLines(ctx, tx, hold, lines, func(p *models.Product, ps *models.ProductParameterSet, l StockLine) error {
			return checkLine(p, ps, l, models.SalesMethodInstore)
		})
	})
	if err != nil {
		s.inventory.ReleaseCache(ctx, cached)
		return nil, err
	}
	s.inventory.ReleaseCache(ctx, productCacheLines(previous))

	util.CheckoutsCreatedTotal.WithLabelValues(models.OrderKindInstore).Inc()
	s.logger.Info("In-store order checked out", zap.Int64("order_id", orderID))
	return s.view(ctx, s.store, g)
}

// Complete records payment and turns the locked stock into purchases
func (s *InstoreOrderService) Complete(ctx context.Context, userID, orderID int64, req *CompleteInstoreOrderRequest) (*models.InstoreOrder, error) {
	ctx, span := util.StartSpan(ctx, "InstoreOrderService.Complete")
	defer span.End()

	var g *models.InstoreOrderGroup
	var committed []StockLine
	var payment *models.PaymentTransaction
	err := s.store.InTx(ctx, func(tx *store.Store) error {
		var err error
		g, err = s.loadEditableOrder(ctx, tx, userID, orderID)
		if err != nil {
			return err
		}

		committed, err = s.inventory.CommitHold(ctx, tx, instoreCheckoutID(g.ID))
		if err != nil {
			return err
		}
		if len(committed) == 0 {
			return apierror.BadRequest(MsgOrderNotCheckedOut)
		}

		if g.TotalAmount, err = tx.RecalculateInstoreOrderTotal(ctx, g.ID); err != nil {
			return err
		}
		now := time.Now()
		if err := tx.FinishInstoreOrder(ctx, g.ID, g.Status, models.InstoreOrderStatusCompleted, req.PaymentMethod, now); err != nil {
			return err
		}
		g.Status = models.InstoreOrderStatusCompleted
		g.PaymentMethod = req.PaymentMethod
		g.CompletedAt = &now

		payment = &models.PaymentTransaction{
			UserID:      userID,
			Kind:        models.OrderKindInstore,
			ReferenceID: g.ID,
			Amount:      g.TotalAmount,
			Method:      req.PaymentMethod,
			Status:      models.PaymentStatusSucceeded,
		}
		return tx.CreatePayment(ctx, payment)
	})
	if err != nil {
		return nil, err
	}

	s.inventory.CommitCache(ctx, productCacheLines(committed))
	util.InstoreOrdersTotal.WithLabelValues(models.InstoreOrderStatusCompleted).Inc()
	util.CheckoutsCompletedTotal.WithLabelValues(models.OrderKindInstore, models.InstoreOrderStatusCompleted).Inc()
	s.logger.Info("In-store order completed",
		zap.Int64("order_id", g.ID),
		zap.Int64("payment_id", payment.ID),
		zap.Int64("total", g.TotalAmount))

	if err := s.publisher.PublishOrderFinalized(ctx, orderFinalizedEvent(models.OrderKindInstore, g.ID, g.Status, "")); err != nil {
		s.logger.Error("Failed to publish OrderFinalized event", zap.Int64("order_id", g.ID), zap.Error(err))
	}
	return s.view(ctx, s.store, g)
}

// Cancel cancels an order and releases its locked stock
func (s *InstoreOrderService) Cancel(ctx context.Context, userID, orderID int64) (*models.InstoreOrder, error) {
	ctx, span := util.StartSpan(ctx, "InstoreOrderService.Cancel")
	defer span.End()

	g, err := s.store.GetInstoreOrderGroup(ctx, orderID)
	if err != nil {
		return nil, storeErr(err, MsgOrderNotFound)
	}
	if _, err := loadOwnedShop(ctx, s.store, g.ShopID, userID); err != nil {
		return nil, err
	}

	g, err = s.finish(ctx, orderID, models.InstoreOrderStatusCanceled)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, s.store, g)
}

// finish moves an in-progress order to a final status other than COMPLETED
func (s *InstoreOrderService) finish(ctx context.Context, orderID int64, to string) (*models.InstoreOrderGroup, error) {
	var g *models.InstoreOrderGroup
	var released []StockLine
	err := s.store.InTx(ctx, func(tx *store.Store) error {
		var err error
		g, err = tx.LockInstoreOrderGroup(ctx, orderID)
		if err != nil {
			return storeErr(err, MsgOrderNotFound)
		}
		if !models.InstoreOrderTransitions.Can(g.Status, to) {
			return apierror.BadRequest(MsgOrderNotInProgress)
		}
		if released, err = s.inventory.ReleaseHold(ctx, tx, instoreCheckoutID(g.ID)); err != nil {
			return err
		}
		if err := tx.FinishInstoreOrder(ctx, g.ID, g.Status, to, g.PaymentMethod, time.Now()); err != nil {
			return err
		}
		g.Status = to
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.inventory.ReleaseCache(ctx, productCacheLines(released))
	util.InstoreOrdersTotal.WithLabelValues(to).Inc()
	s.logger.Info("In-store order closed", zap.Int64("order_id", orderID), zap.String("status", to))

	if err := s.publisher.PublishOrderFinalized(ctx, orderFinalizedEvent(models.OrderKindInstore, g.ID, to, "")); err != nil {
		s.logger.Error("Failed to publish OrderFinalized event", zap.Int64("order_id", g.ID), zap.Error(err))
	}
	return g, nil
}

// ExpireTimedOut moves orders left in progress past the timeout to TIMEOUT
func (s *InstoreOrderService) ExpireTimedOut(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.store.ListTimedOutInstoreOrders(ctx, now.Add(-s.timeout))
	if err != nil {
		return 0, fmt.Errorf("failed to list timed out orders: %w", err)
	}

	expired := 0
	for _, id := range ids {
		if _, err := s.finish(ctx, id, models.InstoreOrderStatusTimeout); err != nil {
			if apierror.Is(err, 400) {
				continue
			}
			s.logger.Error("Failed to time out in-store order", zap.Int64("order_id", id), zap.Error(err))
			continue
		}
		expired++
	}
	return expired, nil
}
