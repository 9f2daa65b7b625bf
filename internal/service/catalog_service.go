package service

import (
	"context"
	"fmt"
	"strings"

	"marketplace-service/internal/apierror"
	"marketplace-service/internal/models"
	"marketplace-service/internal/store"
	"marketplace-service/internal/util"

	"go.uber.org/zap"
)

// CatalogService manages categories, newsletter subscriptions and email opt-outs
type CatalogService struct {
	store  *store.Store
	logger *zap.Logger
}

// NewCatalogService creates a new catalog service
func NewCatalogService(store *store.Store) *CatalogService {
	return &CatalogService{store: store, logger: util.GetLogger()}
}

type CategoryRequest struct {
	ParentID *int64 `json:"parent_id"`
	Name     string `json:"name" binding:"required,max=100"`
	Slug     string `json:"slug" binding:"required,max=100"`
	Position int    `json:"position" binding:"min=0"`
}

func (s *CatalogService) ListCategories(ctx context.Context) ([]models.Category, error) {
	return s.store.ListCategories(ctx)
}

func (s *CatalogService) GetCategory(ctx context.Context, id int64) (*models.Category, error) {
	c, err := s.store.GetCategory(ctx, id)
	return c, storeErr(err, MsgCategoryNotFound)
}

// CreateCategory creates a category under an optional parent
func (s *CatalogService) CreateCategory(ctx context.Context, req *CategoryRequest) (*models.Category, error) {
	if req.ParentID != nil {
		if _, err := s.GetCategory(ctx, *req.ParentID); err != nil {
			return nil, err
		}
	}

	c := &models.Category{
		ParentID: req.ParentID,
		Name:     req.Name,
		Slug:     strings.ToLower(strings.TrimSpace(req.Slug)),
		Position: req.Position,
	}
	if err := s.store.CreateCategory(ctx, c); err != nil {
		if store.IsUniqueViolation(err) {
			return nil, apierror.Conflict(MsgDuplicateSlug)
		}
		return nil, fmt.Errorf("failed to create category: %w", err)
	}
	return c, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Subscribe subscribes an email to the newsletter
func (s *CatalogService) Subscribe(ctx context.Context, email string) (*models.NewsletterSubscription, error) {
	sub, err := s.store.Subscribe(ctx, normalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	return sub, nil
}

// Unsubscribe unsubscribes an email from the newsletter
func (s *CatalogService) Unsubscribe(ctx context.Context, email string) (*models.NewsletterSubscription, error) {
	sub, err := s.store.Unsubscribe(ctx, normalizeEmail(email))
	return sub, storeErr(err, MsgNotSubscribed)
}

var optOutCategories = map[string]bool{
	models.EmailCategoryMarketing: true,
	models.EmailCategoryRestock:   true,
}

// OptOut suppresses a category of emails for an address. Transactional email
// cannot be opted out of.
func (s *CatalogService) OptOut(ctx context.Context, email, category string) error {
	if !optOutCategories[category] {
		return apierror.BadRequest(fmt.Sprintf("Unknown email category %q", category))
	}
	if err := s.store.CreateOptOut(ctx, normalizeEmail(email), category); err != nil {
		return fmt.Errorf("failed to opt out: %w", err)
	}
	s.logger.Info("Email opted out", zap.String("category", category))
	return nil
}

// OptIn removes an opt-out
func (s *CatalogService) OptIn(ctx context.Context, email, category string) error {
	return storeErr(s.store.DeleteOptOut(ctx, normalizeEmail(email), category), MsgOptOutNotFound)
}

// IsOptedOut reports whether email should not receive mail of category
func (s *CatalogService) IsOptedOut(ctx context.Context, email, category string) (bool, error) {
	if category == models.EmailCategoryTransactional || category == "" {
		return false, nil
	}
	return s.store.IsOptedOut(ctx, normalizeEmail(email), category)
}
