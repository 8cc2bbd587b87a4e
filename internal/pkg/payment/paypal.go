package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/plutov/paypal/v4"

	"github.com/nurseshelf/nurseshelf/internal/pkg/money"
)

const defaultPayPalApprovalTTL = 3 * time.Hour

var paypalTransmissionHeaders = []string{
	"PAYPAL-AUTH-ALGO",
	"PAYPAL-CERT-URL",
	"PAYPAL-TRANSMISSION-ID",
	"PAYPAL-TRANSMISSION-SIG",
	"PAYPAL-TRANSMISSION-TIME",
}

// PayPalConfig configures the PayPal gateway.
type PayPalConfig struct {
	ClientID    string
	Secret      string
	WebhookID   string
	Mode        string // "live" or "sandbox"
	APIBase     string // overrides Mode when set
	BrandName   string
	ApprovalTTL time.Duration
}

// PayPalGateway creates PayPal orders, captures approved ones and verifies webhooks.
type PayPalGateway struct {
	client      *paypal.Client
	tokenMu     sync.Mutex
	webhookID   string
	brandName   string
	approvalTTL time.Duration
	now         func() time.Time
}

// NewPayPalGateway builds a PayPal gateway from config.
func NewPayPalGateway(cfg PayPalConfig) (*PayPalGateway, error) {
	base := strings.TrimSpace(cfg.APIBase)
	if base == "" {
		base = paypal.APIBaseSandBox
		if strings.EqualFold(cfg.Mode, "live") {
			base = paypal.APIBaseLive
		}
	}
	c, err := paypal.NewClient(cfg.ClientID, cfg.Secret, base)
	if err != nil {
		return nil, fmt.Errorf("paypal client: %w", err)
	}
	ttl := cfg.ApprovalTTL
	if ttl <= 0 {
		ttl = defaultPayPalApprovalTTL
	}
	return &PayPalGateway{
		client:      c,
		webhookID:   strings.TrimSpace(cfg.WebhookID),
		brandName:   cfg.BrandName,
		approvalTTL: ttl,
		now:         time.Now,
	}, nil
}

func (g *PayPalGateway) Name() string { return "paypal" }

// CreateSession creates a PayPal order with intent CAPTURE and returns its approval link.
func (g *PayPalGateway) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	currency := money.NormalizeCurrency(req.Currency)
	unit := paypal.PurchaseUnitRequest{
		ReferenceID: req.OrderNumber,
		InvoiceID:   req.OrderNumber,
		CustomID:    strconv.FormatUint(uint64(req.OrderID), 10),
		Description: "Order " + req.OrderNumber,
		Amount: &paypal.PurchaseUnitAmount{
			Currency: currency,
			Value:    money.Format(req.Amount, currency),
		},
	}
	appCtx := &paypal.ApplicationContext{
		BrandName:          g.brandName,
		ShippingPreference: "NO_SHIPPING",
		UserAction:         "PAY_NOW",
		ReturnURL:          req.SuccessURL,
		CancelURL:          req.CancelURL,
	}

	if err := g.ensureToken(ctx); err != nil {
		return nil, err
	}
	order, err := g.client.CreateOrder(ctx, paypal.OrderIntentCapture, []paypal.PurchaseUnitRequest{unit}, nil, appCtx)
	if err != nil {
		return nil, fmt.Errorf("%w: create order: %v", ErrProviderAPI, err)
	}

	approve := ""
	for _, l := range order.Links {
		if strings.EqualFold(l.Rel, "approve") || strings.EqualFold(l.Rel, "payer-action") {
			approve = l.Href
			break
		}
	}
	if order.ID == "" || approve == "" {
		return nil, fmt.Errorf("%w: order response without id or approval link", ErrProviderAPI)
	}

	log.Infof("[PayPal] Created order %s for shop order %s", order.ID, req.OrderNumber)
	return &Session{
		Reference:   order.ID,
		CheckoutURL: approve,
		ExpiresAt:   g.now().Add(g.approvalTTL),
	}, nil
}

// FetchOutcome captures an approved PayPal order. A buyer who has not approved
// yet and an order captured earlier both report pending.
func (g *PayPalGateway) FetchOutcome(ctx context.Context, reference string) (*Outcome, error) {
	if err := g.ensureToken(ctx); err != nil {
		return nil, err
	}
	resp, err := g.client.CaptureOrder(ctx, reference, paypal.CaptureOrderRequest{})
	if err != nil {
		if issue := paypalIssue(err); issue == "ORDER_NOT_APPROVED" || issue == "ORDER_ALREADY_CAPTURED" {
			log.Infof("[PayPal] Capture of %s not possible yet: %s", reference, issue)
			return &Outcome{Gateway: g.Name(), Kind: OutcomePending, ProviderReference: reference}, nil
		}
		return nil, fmt.Errorf("%w: capture order %s: %v", ErrProviderAPI, reference, err)
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	out, err := parsePayPalCaptureOrder(raw)
	if err != nil {
		return nil, err
	}
	out.Gateway = g.Name()
	return out, nil
}

// ParseWebhook verifies the delivery with PayPal's verify-webhook-signature
// API before trusting any field of the body.
func (g *PayPalGateway) ParseWebhook(ctx context.Context, req WebhookRequest) (*Outcome, error) {
	if g.webhookID == "" {
		log.Errorf("[PayPal] Webhook id not configured, rejecting delivery")
		return nil, ErrInvalidSignature
	}
	for _, h := range paypalTransmissionHeaders {
		if strings.TrimSpace(req.Headers.Get(h)) == "" {
			return nil, fmt.Errorf("%w: missing header %s", ErrInvalidSignature, h)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "/", bytes.NewReader(req.Body))
	if err != nil {
		return nil, err
	}
	httpReq.Header = req.Headers.Clone()

	if err := g.ensureToken(ctx); err != nil {
		return nil, err
	}
	res, err := g.client.VerifyWebhookSignature(ctx, httpReq, g.webhookID)
	if err != nil {
		return nil, fmt.Errorf("%w: verify webhook signature: %v", ErrProviderAPI, err)
	}
	if res == nil || !strings.EqualFold(res.VerificationStatus, "SUCCESS") {
		status := ""
		if res != nil {
			status = res.VerificationStatus
		}
		return nil, fmt.Errorf("%w: verification status %q", ErrInvalidSignature, status)
	}
	return parsePayPalEvent(req.Body)
}

// ensureToken fetches the first OAuth token; the client refreshes it afterwards.
func (g *PayPalGateway) ensureToken(ctx context.Context) error {
	g.tokenMu.Lock()
	defer g.tokenMu.Unlock()
	if g.client.Token != nil {
		return nil
	}
	if _, err := g.client.GetAccessToken(ctx); err != nil {
		return fmt.Errorf("%w: paypal access token: %v", ErrProviderAPI, err)
	}
	return nil
}

func paypalIssue(err error) string {
	var perr *paypal.ErrorResponse
	if !errors.As(err, &perr) {
		return ""
	}
	for _, d := range perr.Details {
		if d.Issue != "" {
			return strings.ToUpper(d.Issue)
		}
	}
	return ""
}
