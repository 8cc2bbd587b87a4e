package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PurchaseStatusCompleted = "completed"
	PurchaseStatusRefunded  = "refunded"
)

// Purchase grants one user access to one product bought through one order.
type Purchase struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	UserID        uint            `gorm:"not null;index:ux_purchases_user_product_order,unique,priority:1" json:"user_id"`
	ProductID     uint            `gorm:"not null;index:ux_purchases_user_product_order,unique,priority:2" json:"product_id"`
	OrderID       uint            `gorm:"not null;index:ux_purchases_user_product_order,unique,priority:3;index" json:"order_id"`
	OrderItemID   uint            `gorm:"not null" json:"order_item_id"`
	TransactionID uint            `gorm:"not null;index" json:"transaction_id"`
	Amount        decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Status        string          `gorm:"type:varchar(20);not null;default:'completed'" json:"status"`
	AccessExpires *time.Time      `gorm:"type:timestamp;default:null" json:"access_expires,omitempty"`
	DownloadsLeft *int            `gorm:"default:null" json:"downloads_left,omitempty"` // nil means unlimited
	DownloadCount int             `gorm:"default:0" json:"download_count"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsExpired reports whether the access window has closed at time now.
func (p *Purchase) IsExpired(now time.Time) bool {
	return p.AccessExpires != nil && !now.Before(*p.AccessExpires)
}

// HasDownloadsLeft reports whether another download may be issued.
func (p *Purchase) HasDownloadsLeft() bool {
	return p.DownloadsLeft == nil || *p.DownloadsLeft > 0
}
