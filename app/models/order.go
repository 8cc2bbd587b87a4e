package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/nurseshelf/nurseshelf/internal/pkg/money"
)

const (
	OrderStatusPending   = "pending"
	OrderStatusPaid      = "paid"
	OrderStatusFailed    = "failed"
	OrderStatusCancelled = "cancelled"
)

const (
	PaymentStatusUnpaid  = "unpaid"
	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
	PaymentStatusFailed  = "failed"
)

// Order is one checkout attempt. TotalAmount is computed server side from the
// item snapshots when the order is created and never changes afterwards.
type Order struct {
	ID                       uint            `gorm:"primaryKey" json:"id"`
	OrderNumber              string          `gorm:"type:varchar(32);uniqueIndex;not null" json:"order_number"`
	UserID                   *uint           `gorm:"index" json:"user_id"`
	Status                   string          `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	PaymentStatus            string          `gorm:"type:varchar(20);not null;default:'unpaid'" json:"payment_status"`
	TotalAmount              decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total_amount"`
	Currency                 string          `gorm:"type:varchar(3);not null" json:"currency"`
	Gateway                  string          `gorm:"type:varchar(20);default:''" json:"gateway"`
	ProviderReference        string          `gorm:"type:varchar(191);default:'';index" json:"provider_reference"`
	ProviderCheckoutURL      string          `gorm:"type:text" json:"-"`
	ProviderSessionExpiresAt *time.Time      `gorm:"type:timestamp;default:null" json:"-"`
	TransactionID            *uint           `gorm:"default:null" json:"transaction_id"`
	FailureReason            string          `gorm:"type:varchar(255);default:''" json:"failure_reason,omitempty"`
	Metadata                 datatypes.JSON  `json:"-"`
	Items                    []OrderItem     `gorm:"constraint:OnDelete:CASCADE" json:"items,omitempty"`
	CreatedAt                time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether reconciliation has already decided this order.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusPaid, OrderStatusFailed, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// HasReusableSession reports whether the stored provider session for gateway
// can still be used at time now.
func (o *Order) HasReusableSession(gateway string, now time.Time) bool {
	if o.ProviderReference == "" || o.Gateway != gateway {
		return false
	}
	if o.ProviderSessionExpiresAt == nil {
		return false
	}
	return now.Before(*o.ProviderSessionExpiresAt)
}

// OrderItem snapshots a product's price at order time.
type OrderItem struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	OrderID   uint            `gorm:"not null;index" json:"order_id"`
	ProductID uint            `gorm:"not null;index" json:"product_id"`
	Title     string          `gorm:"type:varchar(255);not null" json:"title"`
	Quantity  int             `gorm:"not null" json:"quantity"`
	Price     decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"price"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// LineTotal returns price * quantity.
func (i OrderItem) LineTotal() decimal.Decimal {
	return money.LineTotal(i.Price, i.Quantity)
}
