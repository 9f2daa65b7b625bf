package models

import "time"

// InstoreOrderGroup is a point-of-sale order opened at a shop terminal
type InstoreOrderGroup struct {
	ID            int64      `db:"id" json:"id"`
	ShopID        int64      `db:"shop_id" json:"shop_id"`
	Code          string     `db:"code" json:"code"`
	Status        string     `db:"status" json:"status"`
	TotalAmount   int64      `db:"total_amount" json:"total_amount"`
	PaymentMethod string     `db:"payment_method" json:"payment_method,omitempty"`
	CreatedBy     int64      `db:"created_by" json:"created_by"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
	CompletedAt   *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// InstoreOrderDetail is one line of an in-store order
type InstoreOrderDetail struct {
	ID             int64  `db:"id" json:"id"`
	GroupID        int64  `db:"group_id" json:"group_id"`
	ProductID      int64  `db:"product_id" json:"product_id"`
	ParameterSetID *int64 `db:"parameter_set_id" json:"parameter_set_id,omitempty"`
	ProductName    string `db:"product_name" json:"product_name"`
	UnitPrice      int64  `db:"unit_price" json:"unit_price"`
	Quantity       int    `db:"quantity" json:"quantity"`
	Amount         int64  `db:"amount" json:"amount"`
}

// InstoreOrder bundles a group with its lines
type InstoreOrder struct {
	InstoreOrderGroup
	Details []InstoreOrderDetail `json:"details"`
	Locked  bool                 `json:"locked"`
}

// In-store order statuses
const (
	InstoreOrderStatusInProgress = "IN_PROGRESS"
	InstoreOrderStatusCompleted  = "COMPLETED"
	InstoreOrderStatusCanceled   = "CANCELED"
	InstoreOrderStatusTimeout    = "TIMEOUT"
)
