package models

import "time"

// Experience is a bookable ticketed event
type Experience struct {
	ID          int64     `db:"id" json:"id"`
	ShopID      int64     `db:"shop_id" json:"shop_id"`
	CategoryID  *int64    `db:"category_id" json:"category_id,omitempty"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description"`
	Location    string    `db:"location" json:"location"`
	Status      string    `db:"status" json:"status"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// ExperienceTicket is a ticket type, e.g. "Adult" or "Child"
type ExperienceTicket struct {
	ID           int64  `db:"id" json:"id"`
	ExperienceID int64  `db:"experience_id" json:"experience_id"`
	Title        string `db:"title" json:"title"`
	Description  string `db:"description" json:"description"`
	Price        int64  `db:"price" json:"price"`
	MaxPerOrder  int    `db:"max_per_order" json:"max_per_order"`
}

type ExperienceSession struct {
	ID           int64     `db:"id" json:"id"`
	ExperienceID int64     `db:"experience_id" json:"experience_id"`
	StartTime    time.Time `db:"start_time" json:"start_time"`
	EndTime      time.Time `db:"end_time" json:"end_time"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// ExperienceSessionTicket is the capacity of one ticket type in one session
type ExperienceSessionTicket struct {
	ID              int64 `db:"id" json:"id"`
	SessionID       int64 `db:"session_id" json:"session_id"`
	TicketID        int64 `db:"ticket_id" json:"ticket_id"`
	Quantity        int   `db:"quantity" json:"quantity"`
	PurchasedNumber int   `db:"purchased_number" json:"purchased_number"`
	Enabled         bool  `db:"enabled" json:"enabled"`
}

// SessionTicketAvailability is a session ticket joined with its ticket type and live availability
type SessionTicketAvailability struct {
	ExperienceSessionTicket
	Title     string `db:"title" json:"title"`
	Price     int64  `db:"price" json:"price"`
	Reserved  int    `db:"reserved" json:"reserved"`
	Available int    `db:"-" json:"available"`
}

// SessionDetail is a session with its tickets
type SessionDetail struct {
	ExperienceSession
	Tickets []SessionTicketAvailability `json:"tickets"`
}

// ExperienceDetail is an experience with ticket types and sessions
type ExperienceDetail struct {
	Experience
	Tickets  []ExperienceTicket `json:"tickets"`
	Sessions []SessionDetail    `json:"sessions"`
}

// SessionTicketReservation holds session-ticket capacity for a buyer until it expires
type SessionTicketReservation struct {
	ID              int64     `db:"id" json:"id"`
	UserID          int64     `db:"user_id" json:"user_id"`
	SessionID       int64     `db:"session_id" json:"session_id"`
	SessionTicketID int64     `db:"session_ticket_id" json:"session_ticket_id"`
	Quantity        int       `db:"quantity" json:"quantity"`
	OrderID         *int64    `db:"order_id" json:"order_id,omitempty"`
	ExpiresAt       time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

type ExperienceOrder struct {
	ID             int64     `db:"id" json:"id"`
	UserID         int64     `db:"user_id" json:"user_id"`
	BuyerEmail     string    `db:"buyer_email" json:"buyer_email"`
	ExperienceID   int64     `db:"experience_id" json:"experience_id"`
	SessionID      int64     `db:"session_id" json:"session_id"`
	TotalAmount    int64     `db:"total_amount" json:"total_amount"`
	PaymentMethod  string    `db:"payment_method" json:"payment_method"`
	Status         string    `db:"status" json:"status"`
	IdempotencyKey string    `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

type ExperienceOrderDetail struct {
	ID              int64  `db:"id" json:"id"`
	OrderID         int64  `db:"order_id" json:"order_id"`
	SessionTicketID int64  `db:"session_ticket_id" json:"session_ticket_id"`
	TicketTitle     string `db:"ticket_title" json:"ticket_title"`
	UnitPrice       int64  `db:"unit_price" json:"unit_price"`
	Quantity        int    `db:"quantity" json:"quantity"`
	Amount          int64  `db:"amount" json:"amount"`
}

// ExperienceOrderManagement is one issued ticket with its redeemable code
type ExperienceOrderManagement struct {
	ID                int64      `db:"id" json:"id"`
	OrderID           int64      `db:"order_id" json:"order_id"`
	OrderDetailID     int64      `db:"order_detail_id" json:"order_detail_id"`
	SessionTicketID   int64      `db:"session_ticket_id" json:"session_ticket_id"`
	OwnerUserID       int64      `db:"owner_user_id" json:"owner_user_id"`
	TicketCode        string     `db:"ticket_code" json:"ticket_code"`
	Status            string     `db:"status" json:"status"`
	TransferredFromID *int64     `db:"transferred_from" json:"transferred_from,omitempty"`
	UsedAt            *time.Time `db:"used_at" json:"used_at,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// IssuedTicket is an issued ticket joined with what it admits to
type IssuedTicket struct {
	ExperienceOrderManagement
	ExperienceID    int64     `db:"experience_id" json:"experience_id"`
	ExperienceTitle string    `db:"experience_title" json:"experience_title"`
	ShopID          int64     `db:"shop_id" json:"shop_id"`
	TicketTitle     string    `db:"ticket_title" json:"ticket_title"`
	SessionStart    time.Time `db:"session_start" json:"session_start"`
}

// Experience statuses mirror product statuses
const (
	ExperienceStatusDraft       = "DRAFT"
	ExperienceStatusPublished   = "PUBLISHED"
	ExperienceStatusUnpublished = "UNPUBLISHED"
)

// Experience order statuses
const (
	ExperienceOrderStatusPending   = "PENDING"
	ExperienceOrderStatusCompleted = "COMPLETED"
	ExperienceOrderStatusFailed    = "FAILED"
	ExperienceOrderStatusTimeout   = "TIMEOUT"
)

// Issued ticket statuses
const (
	TicketStatusUnused = "UNUSED"
	TicketStatusUsed   = "USED"
)
