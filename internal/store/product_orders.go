package store

import (
	"context"
	"database/sql"
	"time"

	"marketplace-service/internal/models"
)

// GetProductOrderByCheckoutID returns nil, nil when no order carries the checkout id
func (s *Store) GetProductOrderByCheckoutID(ctx context.Context, checkoutID string) (*models.ProductOrder, error) {
	var order models.ProductOrder
	err := s.q.GetContext(ctx, &order, "SELECT * FROM product_orders WHERE checkout_id = $1", checkoutID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// CreateProductOrder creates an order and its items
func (s *Store) CreateProductOrder(ctx context.Context, order *models.ProductOrder, items []models.ProductOrderItem) error {
	query := `
		INSERT INTO product_orders (user_id, buyer_email, checkout_id, total_amount, payment_method, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	if err := s.q.QueryRowxContext(ctx, query,
		order.UserID, order.BuyerEmail, order.CheckoutID, order.TotalAmount, order.PaymentMethod, order.Status,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt); err != nil {
		return err
	}

	for i := range items {
		it := &items[i]
		it.OrderID = order.ID
		if err := s.q.GetContext(ctx, &it.ID, `
			INSERT INTO product_order_items (order_id, product_id, parameter_set_id, quantity, unit_price, ship_later)
			VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			order.ID, it.ProductID, it.ParameterSetID, it.Quantity, it.UnitPrice, it.ShipLater); err != nil {
			return err
		}
	}
	return nil
}

// GetProductOrder retrieves an order by ID
func (s *Store) GetProductOrder(ctx context.Context, id int64) (*models.ProductOrder, error) {
	var order models.ProductOrder
	if err := s.get(ctx, &order, "product order", "SELECT * FROM product_orders WHERE id = $1", id); err != nil {
		return nil, err
	}
	return &order, nil
}

// LockProductOrder retrieves an order with FOR UPDATE. Must run inside InTx.
func (s *Store) LockProductOrder(ctx context.Context, id int64) (*models.ProductOrder, error) {
	var order models.ProductOrder
	if err := s.get(ctx, &order, "product order", "SELECT * FROM product_orders WHERE id = $1 FOR UPDATE", id); err != nil {
		return nil, err
	}
	return &order, nil
}

// ListProductOrderItems lists the items of an order
func (s *Store) ListProductOrderItems(ctx context.Context, orderID int64) ([]models.ProductOrderItem, error) {
	items := []models.ProductOrderItem{}
	err := s.q.SelectContext(ctx, &items, "SELECT * FROM product_order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// UpdateProductOrderStatus moves an order from one status to another.
// ErrConflict means the order was no longer in status from.
func (s *Store) UpdateProductOrderStatus(ctx context.Context, id int64, from, to string) error {
	return s.execOne(ctx,
		"UPDATE product_orders SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		to, id, from)
}

// ListStaleProductOrders returns PENDING orders created before cutoff
func (s *Store) ListStaleProductOrders(ctx context.Context, cutoff time.Time) ([]int64, error) {
	ids := []int64{}
	err := s.q.SelectContext(ctx, &ids,
		"SELECT id FROM product_orders WHERE status = $1 AND created_at < $2 ORDER BY id",
		models.ProductOrderStatusPending, cutoff)
	return ids, err
}
