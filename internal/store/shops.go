package store

import (
	"context"

	"marketplace-service/internal/models"
)

// CreateShop creates a new shop
func (s *Store) CreateShop(ctx context.Context, shop *models.Shop) error {
	query := `
		INSERT INTO shops (owner_id, name, description, email, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	return s.q.GetContext(ctx, shop, query,
		shop.OwnerID, shop.Name, shop.Description, shop.Email, shop.Status)
}

// GetShop retrieves a shop by ID
func (s *Store) GetShop(ctx context.Context, id int64) (*models.Shop, error) {
	var shop models.Shop
	if err := s.get(ctx, &shop, "shop", "SELECT * FROM shops WHERE id = $1", id); err != nil {
		return nil, err
	}
	return &shop, nil
}

// UpdateShop updates the editable fields of a shop
func (s *Store) UpdateShop(ctx context.Context, shop *models.Shop) error {
	query := `
		UPDATE shops SET name = $1, description = $2, email = $3, status = $4, updated_at = NOW()
		WHERE id = $5
		RETURNING updated_at`

	return s.q.GetContext(ctx, &shop.UpdatedAt, query,
		shop.Name, shop.Description, shop.Email, shop.Status, shop.ID)
}
