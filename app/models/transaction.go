package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	GatewayStripe = "stripe"
	GatewayPayPal = "paypal"
)

const (
	TransactionStatusCompleted = "completed"
	TransactionStatusFailed    = "failed"
)

// Transaction records a provider-confirmed payment outcome. GatewayTransactionID
// is the provider's charge/capture id and is unique across all orders.
type Transaction struct {
	ID                   uint            `gorm:"primaryKey" json:"id"`
	OrderID              uint            `gorm:"not null;index" json:"order_id"`
	GatewayID            string          `gorm:"type:varchar(20);not null" json:"gateway_id"`
	GatewayTransactionID string          `gorm:"type:varchar(191);not null;uniqueIndex" json:"gateway_transaction_id"`
	Status               string          `gorm:"type:varchar(20);not null" json:"status"`
	Amount               decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency             string          `gorm:"type:varchar(3);not null" json:"currency"`
	Metadata             datatypes.JSON  `json:"-"`
	CreatedAt            time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
