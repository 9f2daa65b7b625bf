package store

import (
	"context"
	"fmt"
	"time"

	"marketplace-service/internal/models"

	"github.com/lib/pq"
)

// StockTarget names the counter a line draws from: a product or one of its
// parameter sets, and either regular or ship-later stock.
type StockTarget struct {
	ProductID      int64
	ParameterSetID *int64
	ShipLater      bool
}

func (t StockTarget) table() (string, int64) {
	if t.ParameterSetID != nil {
		return "product_parameter_sets", *t.ParameterSetID
	}
	return "products", t.ProductID
}

func (t StockTarget) column() string {
	if t.ShipLater {
		return "ship_later_stock"
	}
	return "stock"
}

// DecrementStock takes qty from a stock counter. ErrConflict means the
// counter holds less than qty.
func (s *Store) DecrementStock(ctx context.Context, t StockTarget, qty int) error {
	table, id := t.table()
	col := t.column()
	query := fmt.Sprintf("UPDATE %s SET %s = %s - $1 WHERE id = $2 AND %s >= $1", table, col, col, col)
	return s.execOne(ctx, query, qty, id)
}

// IncrementStock returns qty to a stock counter
func (s *Store) IncrementStock(ctx context.Context, t StockTarget, qty int) error {
	table, id := t.table()
	col := t.column()
	query := fmt.Sprintf("UPDATE %s SET %s = %s + $1 WHERE id = $2", table, col, col)
	return s.execOne(ctx, query, qty, id)
}

// AddPurchased records qty sold on the product and, when set, its parameter set
func (s *Store) AddPurchased(ctx context.Context, t StockTarget, qty int) error {
	if err := s.execOne(ctx,
		"UPDATE products SET purchased_number = purchased_number + $1, updated_at = NOW() WHERE id = $2",
		qty, t.ProductID); err != nil {
		return fmt.Errorf("failed to add purchased on product %d: %w", t.ProductID, err)
	}
	if t.ParameterSetID != nil {
		if err := s.execOne(ctx,
			"UPDATE product_parameter_sets SET purchased_number = purchased_number + $1 WHERE id = $2",
			qty, *t.ParameterSetID); err != nil {
			return fmt.Errorf("failed to add purchased on parameter set %d: %w", *t.ParameterSetID, err)
		}
	}
	return nil
}

// InsertOrderingItem records stock locked for a checkout
func (s *Store) InsertOrderingItem(ctx context.Context, item *models.OrderingItem) error {
	query := `
		INSERT INTO ordering_items (checkout_id, user_id, product_id, parameter_set_id, instore_order_group_id,
			quantity, ship_later, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	return s.q.QueryRowxContext(ctx, query,
		item.CheckoutID, item.UserID, item.ProductID, item.ParameterSetID, item.InstoreOrderGroupID,
		item.Quantity, item.ShipLater, item.ExpiresAt,
	).Scan(&item.ID, &item.CreatedAt)
}

// ListOrderingItems lists the items of a checkout without locking them
func (s *Store) ListOrderingItems(ctx context.Context, checkoutID string) ([]models.OrderingItem, error) {
	items := []models.OrderingItem{}
	err := s.q.SelectContext(ctx, &items,
		"SELECT * FROM ordering_items WHERE checkout_id = $1 ORDER BY id", checkoutID)
	return items, err
}

// LockOrderingItems lists the items of a checkout with FOR UPDATE. Must run inside InTx.
func (s *Store) LockOrderingItems(ctx context.Context, checkoutID string) ([]models.OrderingItem, error) {
	items := []models.OrderingItem{}
	if err := s.q.SelectContext(ctx, &items,
		"SELECT * FROM ordering_items WHERE checkout_id = $1 ORDER BY id FOR UPDATE", checkoutID); err != nil {
		return nil, fmt.Errorf("failed to lock ordering items: %w", err)
	}
	return items, nil
}

// TakeOrderingItems locks and deletes the items of a checkout, returning what
// was removed. Concurrent callers each see a disjoint set.
func (s *Store) TakeOrderingItems(ctx context.Context, checkoutID string) ([]models.OrderingItem, error) {
	items, err := s.LockOrderingItems(ctx, checkoutID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return items, nil
	}

	ids := make([]int64, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	if _, err := s.q.ExecContext(ctx, "DELETE FROM ordering_items WHERE id = ANY($1)", pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("failed to delete ordering items: %w", err)
	}
	return items, nil
}

// HeldStock sums what ordering items hold against a product, or one of its
// parameter sets when parameterSetID is set, split into regular and
// ship-later stock.
func (s *Store) HeldStock(ctx context.Context, productID int64, parameterSetID *int64) (stock, shipLater int, err error) {
	var held struct {
		Stock     int `db:"stock"`
		ShipLater int `db:"ship_later"`
	}
	query := `
		SELECT COALESCE(SUM(quantity) FILTER (WHERE NOT ship_later), 0) AS stock,
			COALESCE(SUM(quantity) FILTER (WHERE ship_later), 0) AS ship_later
		FROM ordering_items
		WHERE product_id = $1 AND parameter_set_id IS NOT DISTINCT FROM $2::bigint`

	if err := s.q.GetContext(ctx, &held, query, productID, parameterSetID); err != nil {
		return 0, 0, fmt.Errorf("failed to sum held stock: %w", err)
	}
	return held.Stock, held.ShipLater, nil
}

// ListExpiredCheckouts returns online checkout ids holding items past their
// expiry. In-store holds are released with their order.
func (s *Store) ListExpiredCheckouts(ctx context.Context, now time.Time) ([]string, error) {
	ids := []string{}
	err := s.q.SelectContext(ctx, &ids, `
		SELECT DISTINCT checkout_id FROM ordering_items
		WHERE expires_at < $1 AND instore_order_group_id IS NULL
		ORDER BY checkout_id`, now)
	return ids, err
}

// StockSnapshot is the live state of one stock counter, used to prime the cache
type StockSnapshot struct {
	Kind      string `db:"kind"`
	ID        int64  `db:"id"`
	ShipLater bool   `db:"ship_later"`
	Available int    `db:"available"`
	Reserved  int    `db:"reserved"`
}

// Counter kinds reported by ListStockSnapshots
const (
	SnapshotProduct       = "product"
	SnapshotParameterSet  = "parameter-set"
	SnapshotSessionTicket = "session-ticket"
)

// ListStockSnapshots reports every published stock counter with the quantity
// currently locked against it.
func (s *Store) ListStockSnapshots(ctx context.Context, now time.Time) ([]StockSnapshot, error) {
	query := `
		SELECT 'product' AS kind, p.id, sl.ship_later,
			CASE WHEN sl.ship_later THEN p.ship_later_stock ELSE p.stock END AS available,
			COALESCE((SELECT SUM(oi.quantity) FROM ordering_items oi
				WHERE oi.product_id = p.id AND oi.parameter_set_id IS NULL AND oi.ship_later = sl.ship_later), 0) AS reserved
		FROM products p CROSS JOIN (VALUES (FALSE), (TRUE)) AS sl (ship_later)
		WHERE p.status = 'PUBLISHED' AND NOT p.has_parameter_sets
		UNION ALL
		SELECT 'parameter-set' AS kind, ps.id, sl.ship_later,
			CASE WHEN sl.ship_later THEN ps.ship_later_stock ELSE ps.stock END AS available,
			COALESCE((SELECT SUM(oi.quantity) FROM ordering_items oi
				WHERE oi.parameter_set_id = ps.id AND oi.ship_later = sl.ship_later), 0) AS reserved
		FROM product_parameter_sets ps
		JOIN products p ON p.id = ps.product_id
		CROSS JOIN (VALUES (FALSE), (TRUE)) AS sl (ship_later)
		WHERE p.status = 'PUBLISHED' AND ps.enabled
		UNION ALL
		SELECT 'session-ticket' AS kind, st.id, FALSE AS ship_later,
			st.quantity - st.purchased_number - COALESCE(r.reserved, 0) AS available,
			COALESCE(r.reserved, 0) AS reserved
		FROM experience_session_tickets st
		JOIN experience_sessions es ON es.id = st.session_id
		LEFT JOIN (
			SELECT session_ticket_id, SUM(quantity) AS reserved FROM session_ticket_reservations
			WHERE order_id IS NOT NULL OR expires_at > $1
			GROUP BY session_ticket_id
		) r ON r.session_ticket_id = st.id
		WHERE st.enabled AND es.start_time > $1`

	snapshots := []StockSnapshot{}
	err := s.q.SelectContext(ctx, &snapshots, query, now)
	return snapshots, err
}

// ExtendOrderingItems moves the expiry of every item of a checkout
func (s *Store) ExtendOrderingItems(ctx context.Context, checkoutID string, expiresAt time.Time) error {
	_, err := s.q.ExecContext(ctx,
		"UPDATE ordering_items SET expires_at = $1 WHERE checkout_id = $2", expiresAt, checkoutID)
	return err
}
