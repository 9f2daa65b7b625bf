package store

import (
	"context"

	"marketplace-service/internal/models"
)

// ListCategories returns every category ordered for display
func (s *Store) ListCategories(ctx context.Context) ([]models.Category, error) {
	categories := []models.Category{}
	err := s.q.SelectContext(ctx, &categories,
		"SELECT * FROM categories ORDER BY parent_id NULLS FIRST, position, id")
	return categories, err
}

// GetCategory retrieves a category by ID
func (s *Store) GetCategory(ctx context.Context, id int64) (*models.Category, error) {
	var c models.Category
	if err := s.get(ctx, &c, "category", "SELECT * FROM categories WHERE id = $1", id); err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateCategory creates a category. Duplicate slugs surface as a unique violation.
func (s *Store) CreateCategory(ctx context.Context, c *models.Category) error {
	return s.q.GetContext(ctx, &c.ID,
		"INSERT INTO categories (parent_id, name, slug, position) VALUES ($1, $2, $3, $4) RETURNING id",
		c.ParentID, c.Name, c.Slug, c.Position)
}

// Subscribe subscribes an email, re-activating a previous unsubscribe
func (s *Store) Subscribe(ctx context.Context, email string) (*models.NewsletterSubscription, error) {
	query := `
		INSERT INTO newsletter_subscriptions (email, status)
		VALUES ($1, $2)
		ON CONFLICT (email) DO UPDATE SET status = EXCLUDED.status, updated_at = NOW()
		RETURNING *`

	var sub models.NewsletterSubscription
	if err := s.q.GetContext(ctx, &sub, query, email, models.NewsletterSubscribed); err != nil {
		return nil, err
	}
	return &sub, nil
}

// Unsubscribe marks a subscription as unsubscribed
func (s *Store) Unsubscribe(ctx context.Context, email string) (*models.NewsletterSubscription, error) {
	query := `
		UPDATE newsletter_subscriptions SET status = $1, updated_at = NOW()
		WHERE email = $2
		RETURNING *`

	var sub models.NewsletterSubscription
	if err := s.get(ctx, &sub, "newsletter subscription", query, models.NewsletterUnsubscribed, email); err != nil {
		return nil, err
	}
	return &sub, nil
}

// CreateOptOut records an email opt-out; repeating it is a no-op
func (s *Store) CreateOptOut(ctx context.Context, email, category string) error {
	_, err := s.q.ExecContext(ctx,
		"INSERT INTO email_opt_outs (email, category) VALUES ($1, $2) ON CONFLICT (email, category) DO NOTHING",
		email, category)
	return err
}

// DeleteOptOut removes an opt-out
func (s *Store) DeleteOptOut(ctx context.Context, email, category string) error {
	if err := s.execOne(ctx,
		"DELETE FROM email_opt_outs WHERE email = $1 AND category = $2", email, category); err != nil {
		if err == ErrConflict {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// IsOptedOut checks whether email opted out of category
func (s *Store) IsOptedOut(ctx context.Context, email, category string) (bool, error) {
	var exists bool
	err := s.q.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM email_opt_outs WHERE email = $1 AND category = $2)", email, category)
	return exists, err
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.q.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.q.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
