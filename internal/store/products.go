package store

import (
	"context"
	"fmt"

	"marketplace-service/internal/models"
)

// CreateProduct inserts a product row
func (s *Store) CreateProduct(ctx context.Context, p *models.Product) error {
	query := `
		INSERT INTO products (shop_id, category_id, name, description, price, stock, ship_later_stock,
			purchased_number, sales_method, status, has_parameter_sets, cloned_from_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at`

	return s.q.QueryRowxContext(ctx, query,
		p.ShopID, p.CategoryID, p.Name, p.Description, p.Price, p.Stock, p.ShipLaterStock,
		p.PurchasedNumber, p.SalesMethod, p.Status, p.HasParameterSets, p.ClonedFromID,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

// GetProduct retrieves a product by ID
func (s *Store) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	var p models.Product
	if err := s.get(ctx, &p, "product", "SELECT * FROM products WHERE id = $1", id); err != nil {
		return nil, err
	}
	return &p, nil
}

// LockProduct retrieves a product row with FOR UPDATE. Must run inside InTx.
func (s *Store) LockProduct(ctx context.Context, id int64) (*models.Product, error) {
	var p models.Product
	if err := s.get(ctx, &p, "product", "SELECT * FROM products WHERE id = $1 FOR UPDATE", id); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateProduct updates the descriptive fields of a product
func (s *Store) UpdateProduct(ctx context.Context, p *models.Product) error {
	query := `
		UPDATE products SET category_id = $1, name = $2, description = $3, price = $4, updated_at = NOW()
		WHERE id = $5
		RETURNING updated_at`

	return s.get(ctx, &p.UpdatedAt, "product", query, p.CategoryID, p.Name, p.Description, p.Price, p.ID)
}

// UpdateProductStatus moves a product from one status to another. ErrConflict
// means the product was not in status from.
func (s *Store) UpdateProductStatus(ctx context.Context, id int64, from, to string) error {
	return s.execOne(ctx,
		"UPDATE products SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		to, id, from)
}

// SetProductStock overwrites the stock counters of a product
func (s *Store) SetProductStock(ctx context.Context, id int64, stock, shipLater int) error {
	return s.execOne(ctx,
		"UPDATE products SET stock = $1, ship_later_stock = $2, updated_at = NOW() WHERE id = $3",
		stock, shipLater, id)
}

// SetHasParameterSets flags whether a product is sold by parameter set
func (s *Store) SetHasParameterSets(ctx context.Context, id int64, has bool) error {
	return s.execOne(ctx,
		"UPDATE products SET has_parameter_sets = $1, updated_at = NOW() WHERE id = $2", has, id)
}

// DeleteProduct deletes a product and its children
func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	if err := s.execOne(ctx, "DELETE FROM products WHERE id = $1", id); err != nil {
		if err == ErrConflict {
			return fmt.Errorf("product: %w", ErrNotFound)
		}
		return err
	}
	return nil
}

// ListShopProducts lists a shop's products, optionally only the published ones
func (s *Store) ListShopProducts(ctx context.Context, shopID int64, publishedOnly bool) ([]models.Product, error) {
	products := []models.Product{}
	query := "SELECT * FROM products WHERE shop_id = $1"
	args := []interface{}{shopID}
	if publishedOnly {
		query += " AND status = $2"
		args = append(args, models.ProductStatusPublished)
	}
	query += " ORDER BY id"

	err := s.q.SelectContext(ctx, &products, query, args...)
	return products, err
}

// GetProductDetail loads a product with every child collection
func (s *Store) GetProductDetail(ctx context.Context, id int64) (*models.ProductDetail, error) {
	p, err := s.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}

	d := &models.ProductDetail{
		Product:          *p,
		Contents:         []models.ProductContent{},
		Colors:           []models.ProductColor{},
		CustomParameters: []models.ProductCustomParameter{},
		ParameterSets:    []models.ProductParameterSet{},
		Images:           []models.ProductImage{},
		ShippingFees:     []models.ProductShippingFee{},
	}

	children := []struct {
		dest  interface{}
		query string
	}{
		{&d.Contents, "SELECT * FROM product_contents WHERE product_id = $1 ORDER BY locale"},
		{&d.Colors, "SELECT * FROM product_colors WHERE product_id = $1 ORDER BY position, id"},
		{&d.CustomParameters, "SELECT * FROM product_custom_parameters WHERE product_id = $1 ORDER BY position, id"},
		{&d.ParameterSets, "SELECT * FROM product_parameter_sets WHERE product_id = $1 ORDER BY id"},
		{&d.Images, "SELECT * FROM product_images WHERE product_id = $1 ORDER BY position, id"},
		{&d.ShippingFees, "SELECT * FROM product_shipping_fees WHERE product_id = $1 ORDER BY region"},
	}
	for _, c := range children {
		if err := s.q.SelectContext(ctx, c.dest, c.query, id); err != nil {
			return nil, fmt.Errorf("failed to load product children: %w", err)
		}
	}
	return d, nil
}

// ReplaceProductContent replaces the contents, images and shipping fees of a product
func (s *Store) ReplaceProductContent(ctx context.Context, productID int64,
	contents []models.ProductContent, images []models.ProductImage, fees []models.ProductShippingFee) error {
	for _, table := range []string{"product_contents", "product_images", "product_shipping_fees"} {
		if _, err := s.q.ExecContext(ctx, "DELETE FROM "+table+" WHERE product_id = $1", productID); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	for i := range contents {
		c := &contents[i]
		c.ProductID = productID
		if err := s.q.GetContext(ctx, &c.ID,
			"INSERT INTO product_contents (product_id, locale, title, body) VALUES ($1, $2, $3, $4) RETURNING id",
			productID, c.Locale, c.Title, c.Body); err != nil {
			return fmt.Errorf("failed to insert content: %w", err)
		}
	}
	for i := range images {
		img := &images[i]
		img.ProductID = productID
		if err := s.q.GetContext(ctx, &img.ID,
			"INSERT INTO product_images (product_id, url, position, is_main) VALUES ($1, $2, $3, $4) RETURNING id",
			productID, img.URL, img.Position, img.IsMain); err != nil {
			return fmt.Errorf("failed to insert image: %w", err)
		}
	}
	for i := range fees {
		f := &fees[i]
		f.ProductID = productID
		if err := s.q.GetContext(ctx, &f.ID,
			"INSERT INTO product_shipping_fees (product_id, region, fee) VALUES ($1, $2, $3) RETURNING id",
			productID, f.Region, f.Fee); err != nil {
			return fmt.Errorf("failed to insert shipping fee: %w", err)
		}
	}
	return nil
}

// ParameterSetInput references its color and custom parameter by index into
// the slices passed to ReplaceVariants.
type ParameterSetInput struct {
	ColorIndex     *int
	ParameterIndex *int
	Price          int64
	Stock          int
	ShipLaterStock int
	Enabled        bool
}

// ReplaceVariants replaces colors, custom parameters and parameter sets of a
// product. Purchased counters of replaced sets are not carried over.
func (s *Store) ReplaceVariants(ctx context.Context, productID int64,
	colors []models.ProductColor, params []models.ProductCustomParameter, sets []ParameterSetInput) ([]models.ProductParameterSet, error) {
	for _, table := range []string{"product_parameter_sets", "product_colors", "product_custom_parameters"} {
		if _, err := s.q.ExecContext(ctx, "DELETE FROM "+table+" WHERE product_id = $1", productID); err != nil {
			return nil, fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	for i := range colors {
		c := &colors[i]
		c.ProductID = productID
		if err := s.q.GetContext(ctx, &c.ID,
			"INSERT INTO product_colors (product_id, name, position) VALUES ($1, $2, $3) RETURNING id",
			productID, c.Name, c.Position); err != nil {
			return nil, fmt.Errorf("failed to insert color: %w", err)
		}
	}
	for i := range params {
		p := &params[i]
		p.ProductID = productID
		if err := s.q.GetContext(ctx, &p.ID,
			"INSERT INTO product_custom_parameters (product_id, name, position) VALUES ($1, $2, $3) RETURNING id",
			productID, p.Name, p.Position); err != nil {
			return nil, fmt.Errorf("failed to insert custom parameter: %w", err)
		}
	}

	out := make([]models.ProductParameterSet, 0, len(sets))
	for _, in := range sets {
		ps := models.ProductParameterSet{
			ProductID:      productID,
			Price:          in.Price,
			Stock:          in.Stock,
			ShipLaterStock: in.ShipLaterStock,
			Enabled:        in.Enabled,
		}
		if in.ColorIndex != nil {
			ps.ColorID = &colors[*in.ColorIndex].ID
		}
		if in.ParameterIndex != nil {
			ps.CustomParameterID = &params[*in.ParameterIndex].ID
		}
		if err := s.q.GetContext(ctx, &ps.ID, `
			INSERT INTO product_parameter_sets (product_id, color_id, custom_parameter_id, price, stock, ship_later_stock, enabled)
			VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
			productID, ps.ColorID, ps.CustomParameterID, ps.Price, ps.Stock, ps.ShipLaterStock, ps.Enabled); err != nil {
			return nil, fmt.Errorf("failed to insert parameter set: %w", err)
		}
		out = append(out, ps)
	}
	return out, nil
}

// GetParameterSet retrieves a parameter set of a product
func (s *Store) GetParameterSet(ctx context.Context, productID, id int64) (*models.ProductParameterSet, error) {
	var ps models.ProductParameterSet
	if err := s.get(ctx, &ps, "parameter set",
		"SELECT * FROM product_parameter_sets WHERE id = $1 AND product_id = $2", id, productID); err != nil {
		return nil, err
	}
	return &ps, nil
}

// LockParameterSet retrieves a parameter set with FOR UPDATE. Must run inside InTx.
func (s *Store) LockParameterSet(ctx context.Context, productID, id int64) (*models.ProductParameterSet, error) {
	var ps models.ProductParameterSet
	if err := s.get(ctx, &ps, "parameter set",
		"SELECT * FROM product_parameter_sets WHERE id = $1 AND product_id = $2 FOR UPDATE", id, productID); err != nil {
		return nil, err
	}
	return &ps, nil
}

// SetParameterSetStock overwrites the stock counters of a parameter set
func (s *Store) SetParameterSetStock(ctx context.Context, productID, id int64, stock, shipLater int) error {
	if err := s.execOne(ctx,
		"UPDATE product_parameter_sets SET stock = $1, ship_later_stock = $2 WHERE id = $3 AND product_id = $4",
		stock, shipLater, id, productID); err != nil {
		if err == ErrConflict {
			return fmt.Errorf("parameter set: %w", ErrNotFound)
		}
		return err
	}
	return nil
}

// CountEnabledParameterSets counts the enabled parameter sets of a product
func (s *Store) CountEnabledParameterSets(ctx context.Context, productID int64) (int, error) {
	var n int
	err := s.q.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM product_parameter_sets WHERE product_id = $1 AND enabled", productID)
	return n, err
}

// CreateAvailabilityNotification registers a back-in-stock request; repeats are ignored
func (s *Store) CreateAvailabilityNotification(ctx context.Context, n *models.AvailabilityNotification) error {
	query := `
		INSERT INTO availability_notifications (product_id, user_id, email)
		VALUES ($1, $2, $3)
		ON CONFLICT (product_id, user_id) DO UPDATE SET email = EXCLUDED.email
		RETURNING id, created_at`

	return s.q.QueryRowxContext(ctx, query, n.ProductID, n.UserID, n.Email).Scan(&n.ID, &n.CreatedAt)
}

// ListAvailabilityNotifications lists pending back-in-stock requests of a product
func (s *Store) ListAvailabilityNotifications(ctx context.Context, productID int64) ([]models.AvailabilityNotification, error) {
	notifications := []models.AvailabilityNotification{}
	err := s.q.SelectContext(ctx, &notifications,
		"SELECT * FROM availability_notifications WHERE product_id = $1 ORDER BY id", productID)
	return notifications, err
}

// DeleteAvailabilityNotifications removes every back-in-stock request of a product
func (s *Store) DeleteAvailabilityNotifications(ctx context.Context, productID int64) (int64, error) {
	res, err := s.q.ExecContext(ctx, "DELETE FROM availability_notifications WHERE product_id = $1", productID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ProductHasStock reports whether any counter of a product can still be sold
func (s *Store) ProductHasStock(ctx context.Context, productID int64) (bool, error) {
	query := `
		SELECT CASE WHEN p.has_parameter_sets THEN EXISTS(
				SELECT 1 FROM product_parameter_sets ps
				WHERE ps.product_id = p.id AND ps.enabled AND (ps.stock > 0 OR ps.ship_later_stock > 0))
			ELSE p.stock > 0 OR p.ship_later_stock > 0 END
		FROM products p WHERE p.id = $1`

	var has bool
	err := s.get(ctx, &has, "product", query, productID)
	return has, err
}
