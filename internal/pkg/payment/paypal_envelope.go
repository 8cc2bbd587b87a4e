package payment

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/nurseshelf/nurseshelf/internal/pkg/money"
)

const (
	paypalEventOrderApproved   = "CHECKOUT.ORDER.APPROVED"
	paypalEventCaptureComplete = "PAYMENT.CAPTURE.COMPLETED"
	paypalEventCaptureDenied   = "PAYMENT.CAPTURE.DENIED"
	paypalEventCaptureDeclined = "PAYMENT.CAPTURE.DECLINED"
	paypalEventCapturePending  = "PAYMENT.CAPTURE.PENDING"
	paypalEventCaptureRefunded = "PAYMENT.CAPTURE.REFUNDED"
)

type paypalWebhookEvent struct {
	ID           string          `json:"id"`
	EventType    string          `json:"event_type"`
	ResourceType string          `json:"resource_type"`
	Resource     json.RawMessage `json:"resource"`
}

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

func (a paypalAmount) parse() (decimal.Decimal, string, error) {
	if strings.TrimSpace(a.CurrencyCode) == "" {
		return decimal.Zero, "", fmt.Errorf("%w: amount without currency", ErrMalformedPayload)
	}
	v, err := money.Parse(a.Value)
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("%w: amount %q: %v", ErrMalformedPayload, a.Value, err)
	}
	return v, money.NormalizeCurrency(a.CurrencyCode), nil
}

type paypalLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type paypalCapture struct {
	ID                string       `json:"id"`
	Status            string       `json:"status"`
	CustomID          string       `json:"custom_id"`
	Amount            paypalAmount `json:"amount"`
	SupplementaryData struct {
		RelatedIDs struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
	StatusDetails struct {
		Reason string `json:"reason"`
	} `json:"status_details"`
	Links []paypalLink `json:"links"`
}

type paypalRefund struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	Amount paypalAmount `json:"amount"`
	Links  []paypalLink `json:"links"`
}

type paypalOrder struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		ReferenceID string `json:"reference_id"`
		Payments    *struct {
			Captures []paypalCapture `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

func (o *paypalOrder) firstCapture() *paypalCapture {
	for _, pu := range o.PurchaseUnits {
		if pu.Payments == nil {
			continue
		}
		for i := range pu.Payments.Captures {
			return &pu.Payments.Captures[i]
		}
	}
	return nil
}

// captureKind maps a PayPal capture status to an outcome kind.
func captureKind(status string) OutcomeKind {
	switch strings.ToUpper(status) {
	case "COMPLETED":
		return OutcomeSucceeded
	case "DECLINED", "DENIED", "FAILED":
		return OutcomeFailed
	default:
		return OutcomePending
	}
}

func captureOutcome(c *paypalCapture, orderID string, raw []byte) (*Outcome, error) {
	if c.ID == "" || orderID == "" {
		return nil, fmt.Errorf("%w: capture without id or order reference", ErrMalformedPayload)
	}
	amount, currency, err := c.Amount.parse()
	if err != nil {
		return nil, err
	}
	out := &Outcome{
		Kind:              captureKind(c.Status),
		ProviderReference: orderID,
		TransactionID:     c.ID,
		Amount:            amount,
		Currency:          currency,
		Raw:               raw,
	}
	if id, err := strconv.ParseUint(c.CustomID, 10, 64); err == nil {
		out.OrderHint = uint(id)
	}
	if out.Kind == OutcomeFailed {
		out.FailureReason = strings.TrimSpace("capture " + strings.ToLower(c.Status) + " " + c.StatusDetails.Reason)
	}
	return out, nil
}

// parsePayPalCaptureOrder reads a capture-order API response.
func parsePayPalCaptureOrder(raw []byte) (*Outcome, error) {
	var o paypalOrder
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if o.ID == "" {
		return nil, fmt.Errorf("%w: order without id", ErrMalformedPayload)
	}
	c := o.firstCapture()
	if c == nil {
		return &Outcome{Kind: OutcomePending, ProviderReference: o.ID, Raw: raw}, nil
	}
	return captureOutcome(c, o.ID, raw)
}

// parsePayPalEvent turns an authenticated webhook body into an outcome.
func parsePayPalEvent(body []byte) (*Outcome, error) {
	var ev paypalWebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if ev.ID == "" || ev.EventType == "" {
		return nil, fmt.Errorf("%w: event without id or type", ErrMalformedPayload)
	}

	var (
		out *Outcome
		err error
	)
	switch strings.ToUpper(ev.EventType) {
	case paypalEventCaptureComplete, paypalEventCaptureDenied, paypalEventCaptureDeclined, paypalEventCapturePending:
		var c paypalCapture
		if err := json.Unmarshal(ev.Resource, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		out, err = captureOutcome(&c, c.SupplementaryData.RelatedIDs.OrderID, body)
	case paypalEventCaptureRefunded:
		out, err = refundOutcome(ev.Resource, body)
	case paypalEventOrderApproved:
		var o paypalOrder
		if err := json.Unmarshal(ev.Resource, &o); err != nil || o.ID == "" {
			return nil, fmt.Errorf("%w: approved event without order id", ErrMalformedPayload)
		}
		out = &Outcome{Kind: OutcomeApproved, ProviderReference: o.ID, Raw: body}
	default:
		out = &Outcome{Kind: OutcomeIgnored, Raw: body}
	}
	if err != nil {
		return nil, err
	}

	out.Gateway = "paypal"
	out.EventID = ev.ID
	out.EventType = ev.EventType
	return out, nil
}

func refundOutcome(raw json.RawMessage, body []byte) (*Outcome, error) {
	var r paypalRefund
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	captureID := ""
	for _, l := range r.Links {
		if strings.EqualFold(l.Rel, "up") {
			captureID = lastPathSegment(l.Href)
			break
		}
	}
	if captureID == "" {
		return nil, fmt.Errorf("%w: refund %s without capture link", ErrMalformedPayload, r.ID)
	}
	out := &Outcome{Kind: OutcomeRefunded, TransactionID: captureID, Raw: body}
	if amount, currency, err := r.Amount.parse(); err == nil {
		out.Amount = amount
		out.Currency = currency
	}
	return out, nil
}

func lastPathSegment(href string) string {
	href = strings.TrimRight(href, "/")
	if i := strings.LastIndex(href, "/"); i >= 0 {
		return href[i+1:]
	}
	return href
}
