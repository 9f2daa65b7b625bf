package models

import "time"

// Product is a sellable item in a shop
type Product struct {
	ID               int64     `db:"id" json:"id"`
	ShopID           int64     `db:"shop_id" json:"shop_id"`
	CategoryID       *int64    `db:"category_id" json:"category_id,omitempty"`
	Name             string    `db:"name" json:"name"`
	Description      string    `db:"description" json:"description"`
	Price            int64     `db:"price" json:"price"`
	Stock            int       `db:"stock" json:"stock"`
	ShipLaterStock   int       `db:"ship_later_stock" json:"ship_later_stock"`
	PurchasedNumber  int       `db:"purchased_number" json:"purchased_number"`
	SalesMethod      string    `db:"sales_method" json:"sales_method"`
	Status           string    `db:"status" json:"status"`
	HasParameterSets bool      `db:"has_parameter_sets" json:"has_parameter_sets"`
	ClonedFromID     *int64    `db:"cloned_from_id" json:"cloned_from_id,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// ProductContent is a localized title/body block
type ProductContent struct {
	ID        int64  `db:"id" json:"id"`
	ProductID int64  `db:"product_id" json:"product_id"`
	Locale    string `db:"locale" json:"locale"`
	Title     string `db:"title" json:"title"`
	Body      string `db:"body" json:"body"`
}

type ProductColor struct {
	ID        int64  `db:"id" json:"id"`
	ProductID int64  `db:"product_id" json:"product_id"`
	Name      string `db:"name" json:"name"`
	Position  int    `db:"position" json:"position"`
}

type ProductCustomParameter struct {
	ID        int64  `db:"id" json:"id"`
	ProductID int64  `db:"product_id" json:"product_id"`
	Name      string `db:"name" json:"name"`
	Position  int    `db:"position" json:"position"`
}

// ProductParameterSet is one color x custom-parameter variant with its own price and stock
type ProductParameterSet struct {
	ID                int64  `db:"id" json:"id"`
	ProductID         int64  `db:"product_id" json:"product_id"`
	ColorID           *int64 `db:"color_id" json:"color_id,omitempty"`
	CustomParameterID *int64 `db:"custom_parameter_id" json:"custom_parameter_id,omitempty"`
	Price             int64  `db:"price" json:"price"`
	Stock             int    `db:"stock" json:"stock"`
	ShipLaterStock    int    `db:"ship_later_stock" json:"ship_later_stock"`
	PurchasedNumber   int    `db:"purchased_number" json:"purchased_number"`
	Enabled           bool   `db:"enabled" json:"enabled"`
}

type ProductImage struct {
	ID        int64  `db:"id" json:"id"`
	ProductID int64  `db:"product_id" json:"product_id"`
	URL       string `db:"url" json:"url"`
	Position  int    `db:"position" json:"position"`
	IsMain    bool   `db:"is_main" json:"is_main"`
}

type ProductShippingFee struct {
	ID        int64  `db:"id" json:"id"`
	ProductID int64  `db:"product_id" json:"product_id"`
	Region    string `db:"region" json:"region"`
	Fee       int64  `db:"fee" json:"fee"`
}

// ProductDetail is a product with all of its child rows
type ProductDetail struct {
	Product
	Contents         []ProductContent         `json:"contents"`
	Colors           []ProductColor           `json:"colors"`
	CustomParameters []ProductCustomParameter `json:"custom_parameters"`
	ParameterSets    []ProductParameterSet    `json:"parameter_sets"`
	Images           []ProductImage           `json:"images"`
	ShippingFees     []ProductShippingFee     `json:"shipping_fees"`
}

// AvailabilityNotification asks to be emailed when a product is back in stock
type AvailabilityNotification struct {
	ID        int64     `db:"id" json:"id"`
	ProductID int64     `db:"product_id" json:"product_id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	Email     string    `db:"email" json:"email"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// OrderingItem locks stock for a checkout until it completes or expires
type OrderingItem struct {
	ID                  int64     `db:"id" json:"id"`
	CheckoutID          string    `db:"checkout_id" json:"checkout_id"`
	UserID              int64     `db:"user_id" json:"user_id"`
	ProductID           int64     `db:"product_id" json:"product_id"`
	ParameterSetID      *int64    `db:"parameter_set_id" json:"parameter_set_id,omitempty"`
	InstoreOrderGroupID *int64    `db:"instore_order_group_id" json:"instore_order_group_id,omitempty"`
	Quantity            int       `db:"quantity" json:"quantity"`
	ShipLater           bool      `db:"ship_later" json:"ship_later"`
	ExpiresAt           time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
}

// ProductOrder is an online purchase of products
type ProductOrder struct {
	ID            int64     `db:"id" json:"id"`
	UserID        int64     `db:"user_id" json:"user_id"`
	BuyerEmail    string    `db:"buyer_email" json:"buyer_email"`
	CheckoutID    string    `db:"checkout_id" json:"checkout_id"`
	TotalAmount   int64     `db:"total_amount" json:"total_amount"`
	PaymentMethod string    `db:"payment_method" json:"payment_method"`
	Status        string    `db:"status" json:"status"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// ProductOrderItem snapshots the price paid for a line
type ProductOrderItem struct {
	ID             int64  `db:"id" json:"id"`
	OrderID        int64  `db:"order_id" json:"order_id"`
	ProductID      int64  `db:"product_id" json:"product_id"`
	ParameterSetID *int64 `db:"parameter_set_id" json:"parameter_set_id,omitempty"`
	Quantity       int    `db:"quantity" json:"quantity"`
	UnitPrice      int64  `db:"unit_price" json:"unit_price"`
	ShipLater      bool   `db:"ship_later" json:"ship_later"`
}

// Product statuses
const (
	ProductStatusDraft       = "DRAFT"
	ProductStatusPublished   = "PUBLISHED"
	ProductStatusUnpublished = "UNPUBLISHED"
)

// Sales methods
const (
	SalesMethodOnline  = "ONLINE"
	SalesMethodInstore = "INSTORE"
)

// Product order statuses
const (
	ProductOrderStatusPending   = "PENDING"
	ProductOrderStatusCompleted = "COMPLETED"
	ProductOrderStatusCancelled = "CANCELLED"
	ProductOrderStatusFailed    = "FAILED"
)
