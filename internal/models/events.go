package models

import "time"

// Event types
const (
	EventTypeCheckoutReserved = "CHECKOUT_RESERVED"
	EventTypeOrderFinalized   = "ORDER_FINALIZED"
	EventTypePaymentSuccess   = "PAYMENT_SUCCESS"
	EventTypePaymentFailed    = "PAYMENT_FAILED"
	EventTypeStatusChanged    = "STATUS_CHANGED"
	EventTypeNotification     = "NOTIFICATION"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// CheckoutReservedEvent is published once stock is locked and the order awaits payment
type CheckoutReservedEvent struct {
	BaseEvent
	Kind          string `json:"kind"`
	OrderID       int64  `json:"order_id"`
	UserID        int64  `json:"user_id"`
	TotalAmount   int64  `json:"total_amount"`
	PaymentMethod string `json:"payment_method"`
}

// OrderFinalizedEvent is published when an order reaches a terminal status
type OrderFinalizedEvent struct {
	BaseEvent
	Kind        string `json:"kind"`
	OrderID     int64  `json:"order_id"`
	FinalStatus string `json:"final_status"`
	Reason      string `json:"reason,omitempty"`
}

// PaymentSuccessEvent published by payment service
type PaymentSuccessEvent struct {
	BaseEvent
	Kind      string `json:"kind"`
	OrderID   int64  `json:"order_id"`
	PaymentID int64  `json:"payment_id"`
	Amount    int64  `json:"amount"`
	TxID      string `json:"tx_id"`
}

// PaymentFailedEvent published by payment service
type PaymentFailedEvent struct {
	BaseEvent
	Kind      string `json:"kind"`
	OrderID   int64  `json:"order_id"`
	PaymentID int64  `json:"payment_id"`
	Reason    string `json:"reason"`
}

// StatusChangedEvent announces a publication change of a product or experience
type StatusChangedEvent struct {
	BaseEvent
	Entity string `json:"entity"`
	ID     int64  `json:"id"`
	ShopID int64  `json:"shop_id"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// NotificationEvent asks the mailer to send a templated email
type NotificationEvent struct {
	BaseEvent
	Template string            `json:"template"`
	Email    string            `json:"email"`
	Category string            `json:"category"`
	Data     map[string]string `json:"data"`
}

// NewBaseEvent stamps an event with a fresh id
func NewBaseEvent(id, eventType string) BaseEvent {
	return BaseEvent{EventID: id, EventType: eventType, Timestamp: time.Now().UTC()}
}
