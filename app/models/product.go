package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Product is a sellable digital resource (practice test, study guide, download bundle).
type Product struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	Slug          string          `gorm:"type:varchar(191);uniqueIndex;not null" json:"slug"`
	Title         string          `gorm:"type:varchar(255);not null" json:"title"`
	Price         decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"price"`
	Currency      string          `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	IsPublished   bool            `gorm:"default:false;index" json:"is_published"`
	Stock         *int            `gorm:"default:null" json:"stock,omitempty"` // nil means unlimited
	AccessDays    int             `gorm:"default:0" json:"access_days"`        // 0 means lifetime access
	MaxDownloads  int             `gorm:"default:0" json:"max_downloads"`      // 0 means unlimited
	FileKey       string          `gorm:"type:varchar(255);default:''" json:"-"`
	DownloadCount int64           `gorm:"default:0" json:"download_count"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt     gorm.DeletedAt  `gorm:"index" json:"-"`
}

// HasStockFor reports whether quantity units can be sold.
func (p *Product) HasStockFor(quantity int) bool {
	if p.Stock == nil {
		return true
	}
	return *p.Stock >= quantity
}

// AccessExpiry returns when a grant made at the given time stops giving access.
func (p *Product) AccessExpiry(grantedAt time.Time) *time.Time {
	if p.AccessDays <= 0 {
		return nil
	}
	t := grantedAt.AddDate(0, 0, p.AccessDays)
	return &t
}

// DownloadAllowance returns the initial downloads_left for a grant.
func (p *Product) DownloadAllowance() *int {
	if p.MaxDownloads <= 0 {
		return nil
	}
	n := p.MaxDownloads
	return &n
}
