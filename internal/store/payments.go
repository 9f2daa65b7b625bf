package store

import (
	"context"

	"marketplace-service/internal/models"
)

// CreatePayment records a payment attempt
func (s *Store) CreatePayment(ctx context.Context, p *models.PaymentTransaction) error {
	query := `
		INSERT INTO payment_transactions (user_id, kind, reference_id, amount, method, status, provider_tx_id, failure_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	return s.q.QueryRowxContext(ctx, query,
		p.UserID, p.Kind, p.ReferenceID, p.Amount, p.Method, p.Status, p.ProviderTxID, p.FailureReason,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

// UpdatePaymentResult stores the outcome of a charge
func (s *Store) UpdatePaymentResult(ctx context.Context, id int64, status, providerTxID, reason string) error {
	return s.execOne(ctx, `
		UPDATE payment_transactions SET status = $1, provider_tx_id = $2, failure_reason = $3, updated_at = NOW()
		WHERE id = $4`,
		status, providerTxID, reason, id)
}

// GetPayment retrieves a payment by ID
func (s *Store) GetPayment(ctx context.Context, id int64) (*models.PaymentTransaction, error) {
	var p models.PaymentTransaction
	if err := s.get(ctx, &p, "payment", "SELECT * FROM payment_transactions WHERE id = $1", id); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPaymentsByReference lists the payments of an order, newest first
func (s *Store) ListPaymentsByReference(ctx context.Context, kind string, referenceID int64) ([]models.PaymentTransaction, error) {
	payments := []models.PaymentTransaction{}
	err := s.q.SelectContext(ctx, &payments,
		"SELECT * FROM payment_transactions WHERE kind = $1 AND reference_id = $2 ORDER BY id DESC", kind, referenceID)
	return payments, err
}
