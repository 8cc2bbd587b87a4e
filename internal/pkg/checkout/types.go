package checkout

import (
	"time"

	"github.com/shopspring/decimal"
)

const maxCartQuantity = 100

// CartItem is one requested product line. Prices are never accepted from the client.
type CartItem struct {
	ProductID uint `json:"productId" validate:"required,gt=0"`
	Quantity  int  `json:"quantity" validate:"required,min=1,max=100"`
}

// CreateOrderInput is the order creation request. UserID is zero for anonymous callers.
type CreateOrderInput struct {
	UserID          uint
	Items           []CartItem `validate:"required,min=1,max=50,dive"`
	IsGuestCheckout bool
	GuestEmail      string `validate:"omitempty,email,max=200"`
}

// CreateOrderResult is returned after the pending order was stored.
type CreateOrderResult struct {
	OrderID      uint
	OrderNumber  string
	UserID       uint
	TotalAmount  decimal.Decimal
	Currency     string
	GuestCreated bool
}

// StartPaymentResult describes the provider session a buyer is sent to.
type StartPaymentResult struct {
	OrderID           uint
	Gateway           string
	ProviderReference string
	CheckoutURL       string
	ExpiresAt         time.Time
	Reused            bool
}

// Result is what reconciliation decided for one outcome.
type Result struct {
	OrderID          uint
	OrderNumber      string
	UserID           uint
	Status           string
	PaymentStatus    string
	TransactionID    string
	PurchasesGranted int
	// Duplicate is set when the order was already settled by an earlier
	// delivery and nothing was applied.
	Duplicate bool
	// Pending is set when the provider has not decided yet.
	Pending bool
	// Ignored is set for events the shop does not act on.
	Ignored bool
	// Refunded is set when purchases were revoked for a refund.
	Refunded bool
}

// Source names the entry point an outcome came through.
type Source string

const (
	SourceWebhook Source = "webhook"
	SourceVerify  Source = "verify"
)
