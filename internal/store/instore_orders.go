package store

import (
	"context"
	"fmt"
	"time"

	"marketplace-service/internal/models"
)

// CreateInstoreOrderGroup inserts a new in-store order
func (s *Store) CreateInstoreOrderGroup(ctx context.Context, g *models.InstoreOrderGroup) error {
	query := `
		INSERT INTO instore_order_groups (shop_id, code, status, total_amount, created_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	return s.q.QueryRowxContext(ctx, query, g.ShopID, g.Code, g.Status, g.TotalAmount, g.CreatedBy).
		Scan(&g.ID, &g.CreatedAt, &g.UpdatedAt)
}

// GetInstoreOrderGroup retrieves an in-store order by ID
func (s *Store) GetInstoreOrderGroup(ctx context.Context, id int64) (*models.InstoreOrderGroup, error) {
	var g models.InstoreOrderGroup
	if err := s.get(ctx, &g, "in-store order", "SELECT * FROM instore_order_groups WHERE id = $1", id); err != nil {
		return nil, err
	}
	return &g, nil
}

// LockInstoreOrderGroup retrieves an in-store order with FOR UPDATE. Must run inside InTx.
func (s *Store) LockInstoreOrderGroup(ctx context.Context, id int64) (*models.InstoreOrderGroup, error) {
	var g models.InstoreOrderGroup
	if err := s.get(ctx, &g, "in-store order", "SELECT * FROM instore_order_groups WHERE id = $1 FOR UPDATE", id); err != nil {
		return nil, err
	}
	return &g, nil
}

// RecalculateInstoreOrderTotal sums the lines of an order into its total
func (s *Store) RecalculateInstoreOrderTotal(ctx context.Context, id int64) (int64, error) {
	var total int64
	query := `
		UPDATE instore_order_groups
		SET total_amount = COALESCE((SELECT SUM(amount) FROM instore_order_details WHERE group_id = $1), 0),
			updated_at = NOW()
		WHERE id = $1
		RETURNING total_amount`

	err := s.get(ctx, &total, "in-store order", query, id)
	return total, err
}

// FinishInstoreOrder moves an order from one status to a final one.
// ErrConflict means the order was no longer in status from.
func (s *Store) FinishInstoreOrder(ctx context.Context, id int64, from, to, paymentMethod string, at time.Time) error {
	var completedAt *time.Time
	if to == models.InstoreOrderStatusCompleted {
		completedAt = &at
	}
	return s.execOne(ctx, `
		UPDATE instore_order_groups SET status = $1, payment_method = $2, completed_at = $3, updated_at = NOW()
		WHERE id = $4 AND status = $5`,
		to, paymentMethod, completedAt, id, from)
}

// ListInstoreOrderDetails lists the lines of an order
func (s *Store) ListInstoreOrderDetails(ctx context.Context, groupID int64) ([]models.InstoreOrderDetail, error) {
	details := []models.InstoreOrderDetail{}
	err := s.q.SelectContext(ctx, &details,
		"SELECT * FROM instore_order_details WHERE group_id = $1 ORDER BY id", groupID)
	return details, err
}

// GetInstoreOrderDetail retrieves a line of an order
func (s *Store) GetInstoreOrderDetail(ctx context.Context, groupID, id int64) (*models.InstoreOrderDetail, error) {
	var d models.InstoreOrderDetail
	if err := s.get(ctx, &d, "in-store order item",
		"SELECT * FROM instore_order_details WHERE id = $1 AND group_id = $2", id, groupID); err != nil {
		return nil, err
	}
	return &d, nil
}

// InsertInstoreOrderDetail adds a line to an order
func (s *Store) InsertInstoreOrderDetail(ctx context.Context, d *models.InstoreOrderDetail) error {
	query := `
		INSERT INTO instore_order_details (group_id, product_id, parameter_set_id, product_name, unit_price, quantity, amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	return s.q.GetContext(ctx, &d.ID, query,
		d.GroupID, d.ProductID, d.ParameterSetID, d.ProductName, d.UnitPrice, d.Quantity, d.Amount)
}

// UpdateInstoreOrderDetail rewrites the price snapshot and quantity of a line
func (s *Store) UpdateInstoreOrderDetail(ctx context.Context, d *models.InstoreOrderDetail) error {
	err := s.execOne(ctx,
		"UPDATE instore_order_details SET unit_price = $1, quantity = $2, amount = $3 WHERE id = $4 AND group_id = $5",
		d.UnitPrice, d.Quantity, d.Amount, d.ID, d.GroupID)
	if err == ErrConflict {
		return fmt.Errorf("in-store order item: %w", ErrNotFound)
	}
	return err
}

// DeleteInstoreOrderDetail removes a line from an order
func (s *Store) DeleteInstoreOrderDetail(ctx context.Context, groupID, id int64) error {
	err := s.execOne(ctx, "DELETE FROM instore_order_details WHERE id = $1 AND group_id = $2", id, groupID)
	if err == ErrConflict {
		return fmt.Errorf("in-store order item: %w", ErrNotFound)
	}
	return err
}

// ListTimedOutInstoreOrders returns IN_PROGRESS orders created before cutoff
func (s *Store) ListTimedOutInstoreOrders(ctx context.Context, cutoff time.Time) ([]int64, error) {
	ids := []int64{}
	err := s.q.SelectContext(ctx, &ids,
		"SELECT id FROM instore_order_groups WHERE status = $1 AND created_at < $2 ORDER BY id",
		models.InstoreOrderStatusInProgress, cutoff)
	return ids, err
}
