package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	FulfillmentPending = "pending"
	PaymentPaid        = "paid"
)

// Order is created once per payment reference and never deleted here.
type Order struct {
	ID                uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	BuyerID           string      `gorm:"type:varchar(128);not null;index" json:"buyer_id"`
	Total             int64       `gorm:"not null;check:chk_orders_total_non_negative,total >= 0" json:"total"` // minor units
	Currency          string      `gorm:"type:varchar(10)" json:"currency"`
	ShippingAddress   string      `gorm:"type:text;not null" json:"shipping_address"`
	PhoneNumber       string      `gorm:"type:varchar(32)" json:"phone_number"`
	PaymentReference  string      `gorm:"type:varchar(255);not null;uniqueIndex:idx_orders_payment_reference" json:"payment_reference"`
	PaymentStatus     string      `gorm:"type:varchar(32);not null" json:"payment_status"`
	FulfillmentStatus string      `gorm:"type:varchar(32);not null" json:"fulfillment_status"`
	CheckoutSessionID string      `gorm:"type:varchar(255)" json:"checkout_session_id,omitempty"`
	ProviderEventID   string      `gorm:"type:varchar(255)" json:"provider_event_id,omitempty"`
	LineItems         []OrderItem `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"line_items"`
	CreatedAt         time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

type OrderItem struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OrderID   uuid.UUID `gorm:"type:uuid;not null;index" json:"order_id"`
	ProductID string    `gorm:"type:varchar(128);not null" json:"product_id"`
	Position  int       `gorm:"not null" json:"position"`
}

// NewOrderItems builds one line item per product, preserving order.
func NewOrderItems(orderID uuid.UUID, productIDs []string) []OrderItem {
	items := make([]OrderItem, 0, len(productIDs))
	for i, pid := range productIDs {
		items = append(items, OrderItem{
			ID:        uuid.New(),
			OrderID:   orderID,
			ProductID: pid,
			Position:  i,
		})
	}
	return items
}
