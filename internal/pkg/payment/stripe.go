package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/nurseshelf/nurseshelf/internal/pkg/money"
)

const (
	// Stripe accepts checkout session lifetimes between 30 minutes and 24 hours.
	defaultStripeSessionTTL = 23 * time.Hour
	minStripeSessionTTL     = 30 * time.Minute
)

// StripeConfig configures the Stripe gateway.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	SessionTTL    time.Duration
	Backends      *stripe.Backends // nil uses the live Stripe API
}

// StripeGateway creates Checkout Sessions and verifies Stripe webhooks.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
	sessionTTL    time.Duration
	now           func() time.Time
}

// NewStripeGateway builds a Stripe gateway from config.
func NewStripeGateway(cfg StripeConfig) *StripeGateway {
	ttl := cfg.SessionTTL
	if ttl < minStripeSessionTTL || ttl > 24*time.Hour {
		ttl = defaultStripeSessionTTL
	}
	return &StripeGateway{
		api:           client.New(cfg.SecretKey, cfg.Backends),
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		sessionTTL:    ttl,
		now:           time.Now,
	}
}

func (g *StripeGateway) Name() string { return "stripe" }

func (g *StripeGateway) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	currency := strings.ToLower(money.NormalizeCurrency(req.Currency))
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(strconv.FormatUint(uint64(req.OrderID), 10)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ExpiresAt:         stripe.Int64(g.now().Add(g.sessionTTL).Unix()),
		LineItems:         stripeLineItems(req, currency),
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	params.AddMetadata("order_id", strconv.FormatUint(uint64(req.OrderID), 10))
	params.AddMetadata("order_number", req.OrderNumber)
	params.Context = ctx

	s, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("%w: stripe create session: %v", ErrProviderAPI, err)
	}

	expected := money.ToMinor(req.Amount, req.Currency)
	if s.AmountTotal != expected {
		return nil, fmt.Errorf("%w: stripe session %s total %d, expected %d", ErrProviderAPI, s.ID, s.AmountTotal, expected)
	}

	return &Session{
		Reference:   s.ID,
		CheckoutURL: s.URL,
		ExpiresAt:   time.Unix(s.ExpiresAt, 0),
	}, nil
}

// stripeLineItems sends the order lines when they add up to the order total
// in minor units, and a single order line otherwise.
func stripeLineItems(req SessionRequest, currency string) []*stripe.CheckoutSessionLineItemParams {
	var sum int64
	items := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Items))
	for _, it := range req.Items {
		unit := money.ToMinor(it.UnitPrice, currency)
		sum += unit * int64(it.Quantity)
		items = append(items, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(currency),
				UnitAmount:  stripe.Int64(unit),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{Name: stripe.String(it.Title)},
			},
			Quantity: stripe.Int64(int64(it.Quantity)),
		})
	}
	total := money.ToMinor(req.Amount, currency)
	if len(items) > 0 && sum == total {
		return items
	}
	return []*stripe.CheckoutSessionLineItemParams{{
		PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:    stripe.String(currency),
			UnitAmount:  stripe.Int64(total),
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{Name: stripe.String("Order " + req.OrderNumber)},
		},
		Quantity: stripe.Int64(1),
	}}
}

func (g *StripeGateway) FetchOutcome(ctx context.Context, reference string) (*Outcome, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	s, err := g.api.CheckoutSessions.Get(reference, params)
	if err != nil {
		return nil, fmt.Errorf("%w: stripe get session %s: %v", ErrProviderAPI, reference, err)
	}

	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	env, err := parseStripeSession(raw)
	if err != nil {
		return nil, err
	}
	out, err := sessionOutcome(env, "", raw)
	if err != nil {
		return nil, err
	}
	if env.Status == "expired" {
		out.Kind = OutcomeIgnored
	}
	out.Gateway = g.Name()
	return out, nil
}

func (g *StripeGateway) ParseWebhook(ctx context.Context, req WebhookRequest) (*Outcome, error) {
	_ = ctx
	if g.webhookSecret == "" {
		log.Errorf("[Stripe] Webhook secret not configured, rejecting delivery")
		return nil, ErrInvalidSignature
	}
	sig := req.Headers.Get("Stripe-Signature")
	if err := webhook.ValidatePayload(req.Body, sig, g.webhookSecret); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return parseStripeEvent(req.Body)
}
