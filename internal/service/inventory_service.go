package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"marketplace-service/internal/apierror"
	"marketplace-service/internal/models"
	"marketplace-service/internal/redisclient"
	"marketplace-service/internal/store"
	"marketplace-service/internal/util"

	"go.uber.org/zap"
)

// StockLine is a quantity drawn from one stock counter
type StockLine struct {
	ProductID      int64
	ParameterSetID *int64
	Quantity       int
	ShipLater      bool
	// UnitPrice, when set, is the price the buyer saw
	UnitPrice *int64
}

func (l StockLine) target() store.StockTarget {
	return store.StockTarget{ProductID: l.ProductID, ParameterSetID: l.ParameterSetID, ShipLater: l.ShipLater}
}

func (l StockLine) cacheLine() CacheLine {
	if l.ParameterSetID != nil {
		return CacheLine{Key: redisclient.StockKey(redisclient.KindParameterSet, *l.ParameterSetID, l.ShipLater), Quantity: l.Quantity}
	}
	return CacheLine{Key: redisclient.StockKey(redisclient.KindProduct, l.ProductID, l.ShipLater), Quantity: l.Quantity}
}

func (l StockLine) sameCounter(o StockLine) bool {
	return l.ProductID == o.ProductID && l.ShipLater == o.ShipLater && psID(l.ParameterSetID) == psID(o.ParameterSetID)
}

func psID(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}

// CacheLine is a quantity against one Redis stock counter
type CacheLine struct {
	Key      string
	Quantity int
}

func productCacheLines(lines []StockLine) []CacheLine {
	out := make([]CacheLine, len(lines))
	for i, l := range lines {
		out[i] = l.cacheLine()
	}
	return out
}

func lineFromItem(it models.OrderingItem) StockLine {
	return StockLine{ProductID: it.ProductID, ParameterSetID: it.ParameterSetID, Quantity: it.Quantity, ShipLater: it.ShipLater}
}

// mergeLines sums lines drawing from the same counter and orders them by
// product, parameter set and counter so rows are always locked in one order.
func mergeLines(lines []StockLine) []StockLine {
	merged := make([]StockLine, 0, len(lines))
	for _, l := range lines {
		found := false
		for i := range merged {
			if merged[i].sameCounter(l) {
				merged[i].Quantity += l.Quantity
				if merged[i].UnitPrice == nil {
					merged[i].UnitPrice = l.UnitPrice
				}
				found = true
				break
			}
		}
		if !found {
			merged = append(merged, l)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.ProductID != b.ProductID {
			return a.ProductID < b.ProductID
		}
		if psID(a.ParameterSetID) != psID(b.ParameterSetID) {
			return psID(a.ParameterSetID) < psID(b.ParameterSetID)
		}
		return !a.ShipLater && b.ShipLater
	})
	return merged
}

func unitPrice(p *models.Product, ps *models.ProductParameterSet) int64 {
	if ps != nil {
		return ps.Price
	}
	return p.Price
}

func availableStock(p *models.Product, ps *models.ProductParameterSet, shipLater bool) int {
	switch {
	case ps != nil && shipLater:
		return ps.ShipLaterStock
	case ps != nil:
		return ps.Stock
	case shipLater:
		return p.ShipLaterStock
	default:
		return p.Stock
	}
}

// checkLine validates a line against the current state of its product
func checkLine(p *models.Product, ps *models.ProductParameterSet, l StockLine, salesMethod string) error {
	if p.Status != models.ProductStatusPublished || p.SalesMethod != salesMethod {
		return apierror.BadRequest(MsgProductUnavailable)
	}
	if p.HasParameterSets && ps == nil {
		return apierror.BadRequest(MsgParameterSetRequired)
	}
	if ps != nil && (!p.HasParameterSets || !ps.Enabled) {
		return apierror.BadRequest(MsgParameterSetUnavailable)
	}
	if l.UnitPrice != nil && *l.UnitPrice != unitPrice(p, ps) {
		return apierror.Conflict(MsgPriceChanged)
	}
	if l.Quantity < 1 || l.Quantity > availableStock(p, ps, l.ShipLater) {
		return apierror.Conflict(MsgOutOfStock)
	}
	return nil
}

// Hold identifies the ordering items locking stock for one checkout
type Hold struct {
	CheckoutID          string
	UserID              int64
	InstoreOrderGroupID *int64
	ExpiresAt           time.Time
}

// LineCheck validates a locked line before its stock is taken
type LineCheck func(p *models.Product, ps *models.ProductParameterSet, l StockLine) error

// InventoryService guards stock counters. Redis is a fast soft gate in front
// of Postgres, which stays authoritative.
type InventoryService struct {
	store  *store.Store
	redis  *redisclient.Client
	logger *zap.Logger
}

// NewInventoryService creates a new inventory service. redis may be nil, in
// which case every decision is made by the database.
func NewInventoryService(store *store.Store, redis *redisclient.Client) *InventoryService {
	return &InventoryService{
		store:  store,
		redis:  redis,
		logger: util.GetLogger(),
	}
}

// ReserveCache reserves lines in Redis and returns the lines it reserved.
// Counters that are not cached, fail or are short are left to the locked
// database check; the counters drift from Postgres, so a cached shortfall
// never rejects on its own.
func (s *InventoryService) ReserveCache(ctx context.Context, lines []CacheLine) []CacheLine {
	if s.redis == nil {
		return nil
	}

	ctx, span := util.StartSpan(ctx, "InventoryService.ReserveCache")
	defer span.End()

	start := time.Now()
	defer func() {
		util.StockReserveLatency.Observe(time.Since(start).Seconds())
	}()

	reserved := make([]CacheLine, 0, len(lines))
	for _, l := range lines {
		ok, err := s.redis.ReserveStock(ctx, l.Key, l.Quantity)
		if err != nil {
			util.StockCacheFallbacks.Inc()
			if !errors.Is(err, redisclient.ErrStockNotCached) {
				s.logger.Warn("Redis reservation failed, falling back to DB", zap.String("key", l.Key), zap.Error(err))
			}
			continue
		}
		if !ok {
			util.StockCacheFallbacks.Inc()
			s.logger.Debug("Cached stock short, deferring to DB", zap.String("key", l.Key), zap.Int("quantity", l.Quantity))
			continue
		}
		reserved = append(reserved, l)
	}
	return reserved
}

// ReleaseCache returns reserved cache counters (compensation)
func (s *InventoryService) ReleaseCache(ctx context.Context, lines []CacheLine) {
	if s.redis == nil {
		return
	}
	for _, l := range lines {
		if err := s.redis.ReleaseStock(ctx, l.Key, l.Quantity); err != nil && !errors.Is(err, redisclient.ErrStockNotCached) {
			s.logger.Error("Failed to release stock in Redis", zap.String("key", l.Key), zap.Error(err))
		}
	}
}

// CommitCache drops sold quantities from the reserved cache counters
func (s *InventoryService) CommitCache(ctx context.Context, lines []CacheLine) {
	if s.redis == nil {
		return
	}
	for _, l := range lines {
		if err := s.redis.CommitStock(ctx, l.Key, l.Quantity); err != nil && !errors.Is(err, redisclient.ErrStockNotCached) {
			s.logger.Error("Failed to commit stock in Redis", zap.String("key", l.Key), zap.Error(err))
		}
	}
}

// InvalidateCache drops counters whose stock was overwritten; they are
// primed again by the next sync.
func (s *InventoryService) InvalidateCache(ctx context.Context, keys ...string) {
	if s.redis == nil || len(keys) == 0 {
		return
	}
	if err := s.redis.GetClient().Del(ctx, keys...).Err(); err != nil {
		s.logger.Warn("Failed to invalidate stock cache", zap.Strings("keys", keys), zap.Error(err))
	}
}

// LockLines takes stock for every line inside tx and records it as ordering
// items of hold. Rows are locked in mergeLines order.
func (s *InventoryService) LockLines(ctx context.Context, tx *store.Store, hold Hold, lines []StockLine, check LineCheck) error {
	for _, l := range mergeLines(lines) {
		p, err := tx.LockProduct(ctx, l.ProductID)
		if err != nil {
			return storeErr(err, MsgProductNotFound)
		}

		var ps *models.ProductParameterSet
		if l.ParameterSetID != nil {
			ps, err = tx.LockParameterSet(ctx, l.ProductID, *l.ParameterSetID)
			if store.IsNotFound(err) {
				return apierror.BadRequest(MsgParameterSetUnavailable)
			}
			if err != nil {
				return err
			}
		}

		if check != nil {
			if err := check(p, ps, l); err != nil {
				return err
			}
		}

		if err := tx.DecrementStock(ctx, l.target(), l.Quantity); err != nil {
			if errors.Is(err, store.ErrConflict) {
				util.StockReservationsFailed.WithLabelValues("insufficient_stock").Inc()
				return apierror.Conflict(MsgOutOfStock)
			}
			return fmt.Errorf("failed to take stock for product %d: %w", l.ProductID, err)
		}

		item := &models.OrderingItem{
			CheckoutID:          hold.CheckoutID,
			UserID:              hold.UserID,
			ProductID:           l.ProductID,
			ParameterSetID:      l.ParameterSetID,
			InstoreOrderGroupID: hold.InstoreOrderGroupID,
			Quantity:            l.Quantity,
			ShipLater:           l.ShipLater,
			ExpiresAt:           hold.ExpiresAt,
		}
		if err := tx.InsertOrderingItem(ctx, item); err != nil {
			return fmt.Errorf("failed to record ordering item: %w", err)
		}
	}
	return nil
}

// ReleaseHold gives the stock of a checkout back and deletes its ordering
// items. Releasing a checkout twice is a no-op.
func (s *InventoryService) ReleaseHold(ctx context.Context, tx *store.Store, checkoutID string) ([]StockLine, error) {
	items, err := tx.TakeOrderingItems(ctx, checkoutID)
	if err != nil {
		return nil, err
	}

	lines := make([]StockLine, 0, len(items))
	for _, it := range items {
		l := lineFromItem(it)
		if err := tx.IncrementStock(ctx, l.target(), l.Quantity); err != nil {
			return nil, fmt.Errorf("failed to restore stock for product %d: %w", l.ProductID, err)
		}
		lines = append(lines, l)
	}
	return lines, nil
}

// CommitHold turns the ordering items of a checkout into purchases
func (s *InventoryService) CommitHold(ctx context.Context, tx *store.Store, checkoutID string) ([]StockLine, error) {
	items, err := tx.TakeOrderingItems(ctx, checkoutID)
	if err != nil {
		return nil, err
	}

	lines := make([]StockLine, 0, len(items))
	for _, it := range items {
		l := lineFromItem(it)
		if err := tx.AddPurchased(ctx, l.target(), l.Quantity); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, nil
}

// SyncInventoryToRedis primes every published stock counter from the database
func (s *InventoryService) SyncInventoryToRedis(ctx context.Context) error {
	if s.redis == nil {
		return nil
	}

	ctx, span := util.StartSpan(ctx, "InventoryService.SyncInventoryToRedis")
	defer span.End()

	snapshots, err := s.store.ListStockSnapshots(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("failed to list stock: %w", err)
	}

	failed := 0
	for _, snap := range snapshots {
		key := redisclient.StockKey(snap.Kind, snap.ID, snap.ShipLater)
		if err := s.redis.InitInventory(ctx, key, snap.Available, snap.Reserved); err != nil {
			failed++
			s.logger.Error("Failed to init Redis inventory", zap.String("key", key), zap.Error(err))
		}
	}

	s.logger.Debug("Inventory sync completed", zap.Int("count", len(snapshots)), zap.Int("failed", failed))
	return nil
}
