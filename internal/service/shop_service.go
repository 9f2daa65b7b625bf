package service

import (
	"context"
	"fmt"

	"marketplace-service/internal/models"
	"marketplace-service/internal/store"
	"marketplace-service/internal/util"

	"go.uber.org/zap"
)

// ShopService manages shops
type ShopService struct {
	store  *store.Store
	logger *zap.Logger
}

// NewShopService creates a new shop service
func NewShopService(store *store.Store) *ShopService {
	return &ShopService{store: store, logger: util.GetLogger()}
}

type ShopRequest struct {
	Name        string `json:"name" binding:"required,max=200"`
	Description string `json:"description" binding:"max=5000"`
	Email       string `json:"email" binding:"omitempty,email"`
}

// CreateShop creates a shop owned by userID
func (s *ShopService) CreateShop(ctx context.Context, userID int64, req *ShopRequest) (*models.Shop, error) {
	ctx, span := util.StartSpan(ctx, "ShopService.CreateShop")
	defer span.End()

	shop := &models.Shop{
		OwnerID:     userID,
		Name:        req.Name,
		Description: req.Description,
		Email:       req.Email,
		Status:      models.ShopStatusActive,
	}
	if err := s.store.CreateShop(ctx, shop); err != nil {
		return nil, fmt.Errorf("failed to create shop: %w", err)
	}

	s.logger.Info("Shop created", zap.Int64("shop_id", shop.ID), zap.Int64("owner_id", userID))
	return shop, nil
}

// UpdateShop updates a shop; only its owner may
func (s *ShopService) UpdateShop(ctx context.Context, userID, shopID int64, req *ShopRequest) (*models.Shop, error) {
	ctx, span := util.StartSpan(ctx, "ShopService.UpdateShop")
	defer span.End()

	shop, err := loadOwnedShop(ctx, s.store, shopID, userID)
	if err != nil {
		return nil, err
	}

	shop.Name = req.Name
	shop.Description = req.Description
	shop.Email = req.Email
	if err := s.store.UpdateShop(ctx, shop); err != nil {
		return nil, fmt.Errorf("failed to update shop: %w", err)
	}
	return shop, nil
}

// GetShop retrieves a shop
func (s *ShopService) GetShop(ctx context.Context, shopID int64) (*models.Shop, error) {
	shop, err := s.store.GetShop(ctx, shopID)
	return shop, storeErr(err, MsgShopNotFound)
}

// ListProducts lists a shop's products. Only the owner sees unpublished ones.
func (s *ShopService) ListProducts(ctx context.Context, viewerID, shopID int64) ([]models.Product, error) {
	shop, err := s.GetShop(ctx, shopID)
	if err != nil {
		return nil, err
	}
	return s.store.ListShopProducts(ctx, shopID, shop.OwnerID != viewerID)
}

// ListExperiences lists a shop's experiences. Only the owner sees unpublished ones.
func (s *ShopService) ListExperiences(ctx context.Context, viewerID, shopID int64) ([]models.Experience, error) {
	shop, err := s.GetShop(ctx, shopID)
	if err != nil {
		return nil, err
	}
	return s.store.ListShopExperiences(ctx, shopID, shop.OwnerID != viewerID)
}
