package models

import "time"

// Shop is a seller's storefront
type Shop struct {
	ID          int64     `db:"id" json:"id"`
	OwnerID     int64     `db:"owner_id" json:"owner_id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	Email       string    `db:"email" json:"email"`
	Status      string    `db:"status" json:"status"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Category groups products and experiences
type Category struct {
	ID       int64  `db:"id" json:"id"`
	ParentID *int64 `db:"parent_id" json:"parent_id,omitempty"`
	Name     string `db:"name" json:"name"`
	Slug     string `db:"slug" json:"slug"`
	Position int    `db:"position" json:"position"`
}

// PaymentTransaction records one charge attempt for an order
type PaymentTransaction struct {
	ID            int64     `db:"id" json:"id"`
	UserID        int64     `db:"user_id" json:"user_id"`
	Kind          string    `db:"kind" json:"kind"`
	ReferenceID   int64     `db:"reference_id" json:"reference_id"`
	Amount        int64     `db:"amount" json:"amount"`
	Method        string    `db:"method" json:"method"`
	Status        string    `db:"status" json:"status"`
	ProviderTxID  string    `db:"provider_tx_id" json:"provider_tx_id,omitempty"`
	FailureReason string    `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// EmailOptOut suppresses a category of emails for an address
type EmailOptOut struct {
	ID        int64     `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	Category  string    `db:"category" json:"category"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// NewsletterSubscription is a marketing newsletter signup
type NewsletterSubscription struct {
	ID        int64     `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}

// Shop statuses
const (
	ShopStatusActive = "ACTIVE"
	ShopStatusClosed = "CLOSED"
)

// Order kinds, shared by payments and checkout events
const (
	OrderKindProduct    = "PRODUCT"
	OrderKindInstore    = "INSTORE"
	OrderKindExperience = "EXPERIENCE"
)

// Payment statuses
const (
	PaymentStatusPending   = "PENDING"
	PaymentStatusSucceeded = "SUCCEEDED"
	PaymentStatusFailed    = "FAILED"
)

// Payment methods
const (
	PaymentMethodCard = "CARD"
	PaymentMethodCash = "CASH"
)

// Newsletter statuses
const (
	NewsletterSubscribed   = "SUBSCRIBED"
	NewsletterUnsubscribed = "UNSUBSCRIBED"
)

// Email categories. Transactional mail is never suppressed by an opt-out.
const (
	EmailCategoryTransactional = "transactional"
	EmailCategoryMarketing     = "marketing"
	EmailCategoryRestock       = "restock"
)
