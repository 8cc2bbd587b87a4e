package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidSignature is returned when a webhook cannot be authenticated.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrMalformedPayload is returned when a verified payload does not match the expected envelope.
	ErrMalformedPayload = errors.New("malformed provider payload")
	// ErrProviderAPI wraps network and 5xx failures talking to a provider.
	ErrProviderAPI = errors.New("payment provider api error")
	// ErrUnknownGateway is returned for gateway names without a configured client.
	ErrUnknownGateway = errors.New("unknown payment gateway")
)

// OutcomeKind classifies what a provider reported about a payment.
type OutcomeKind string

const (
	OutcomeSucceeded OutcomeKind = "succeeded"
	OutcomeFailed    OutcomeKind = "failed"
	OutcomeRefunded  OutcomeKind = "refunded"
	// OutcomePending means the provider has not decided yet; nothing transitions.
	OutcomePending OutcomeKind = "pending"
	// OutcomeApproved means the buyer approved but the payment still has to be captured server side.
	OutcomeApproved OutcomeKind = "approved"
	// OutcomeIgnored is an event type the shop does not act on.
	OutcomeIgnored OutcomeKind = "ignored"
)

// Outcome is the provider-neutral result of a webhook or a verify call.
type Outcome struct {
	Gateway           string
	Kind              OutcomeKind
	EventID           string
	EventType         string
	ProviderReference string // Stripe checkout session id / PayPal order id
	TransactionID     string // Stripe payment intent id / PayPal capture id
	OrderHint         uint   // local order id echoed back by the provider, 0 if absent
	Amount            decimal.Decimal
	Currency          string
	FailureReason     string
	Raw               json.RawMessage
}

// LineItem is one priced line sent to the provider.
type LineItem struct {
	Title     string
	UnitPrice decimal.Decimal
	Quantity  int
}

// SessionRequest asks a provider for a checkout session covering exactly Amount.
type SessionRequest struct {
	OrderID       uint
	OrderNumber   string
	Amount        decimal.Decimal
	Currency      string
	Items         []LineItem
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
}

// Session is the provider side of a checkout.
type Session struct {
	Reference   string
	CheckoutURL string
	ExpiresAt   time.Time
}

// WebhookRequest carries the raw, unparsed webhook body and its headers.
type WebhookRequest struct {
	Body    []byte
	Headers http.Header
}

// Gateway is the contract each payment provider client fulfils.
type Gateway interface {
	Name() string
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	// FetchOutcome asks the provider for the authoritative state of a
	// reference with server credentials, capturing it where the provider
	// requires an explicit capture.
	FetchOutcome(ctx context.Context, reference string) (*Outcome, error)
	// ParseWebhook authenticates the raw request and normalizes it.
	ParseWebhook(ctx context.Context, req WebhookRequest) (*Outcome, error)
}
