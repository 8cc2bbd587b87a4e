package payment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/nurseshelf/nurseshelf/internal/pkg/money"
)

const (
	stripeEventSessionCompleted      = "checkout.session.completed"
	stripeEventAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	stripeEventAsyncPaymentFailed    = "checkout.session.async_payment_failed"
	stripeEventSessionExpired        = "checkout.session.expired"
	stripeEventChargeRefunded        = "charge.refunded"
)

// stripeEvent is the part of the Stripe event envelope the shop reads.
type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// stripeExpandable accepts either an id string or an expanded object with an id.
type stripeExpandable struct {
	ID string
}

func (e *stripeExpandable) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		e.ID = ""
		return nil
	}
	if b[0] == '"' {
		return json.Unmarshal(b, &e.ID)
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	e.ID = obj.ID
	return nil
}

type stripeCheckoutSession struct {
	ID                string            `json:"id"`
	Object            string            `json:"object"`
	ClientReferenceID string            `json:"client_reference_id"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	PaymentStatus     string            `json:"payment_status"`
	Status            string            `json:"status"`
	PaymentIntent     stripeExpandable  `json:"payment_intent"`
	Metadata          map[string]string `json:"metadata"`
}

func (s *stripeCheckoutSession) validate() error {
	if s.Object != "" && s.Object != "checkout.session" {
		return fmt.Errorf("%w: expected checkout.session, got %q", ErrMalformedPayload, s.Object)
	}
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("%w: checkout session without id", ErrMalformedPayload)
	}
	if strings.TrimSpace(s.Currency) == "" || s.AmountTotal < 0 {
		return fmt.Errorf("%w: checkout session %s without amount", ErrMalformedPayload, s.ID)
	}
	return nil
}

type stripeCharge struct {
	ID             string           `json:"id"`
	Object         string           `json:"object"`
	Amount         int64            `json:"amount"`
	AmountRefunded int64            `json:"amount_refunded"`
	Currency       string           `json:"currency"`
	Refunded       bool             `json:"refunded"`
	PaymentIntent  stripeExpandable `json:"payment_intent"`
}

func parseStripeSession(raw []byte) (*stripeCheckoutSession, error) {
	var s stripeCheckoutSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// sessionOutcome maps a checkout session to an outcome. eventType is empty
// when the session was fetched through the API.
func sessionOutcome(s *stripeCheckoutSession, eventType string, raw []byte) (*Outcome, error) {
	currency := money.NormalizeCurrency(s.Currency)
	out := &Outcome{
		Kind:              OutcomePending,
		EventType:         eventType,
		ProviderReference: s.ID,
		TransactionID:     s.PaymentIntent.ID,
		Amount:            money.FromMinor(s.AmountTotal, currency),
		Currency:          currency,
		Raw:               raw,
	}
	if id, err := strconv.ParseUint(s.ClientReferenceID, 10, 64); err == nil {
		out.OrderHint = uint(id)
	}

	switch eventType {
	case stripeEventAsyncPaymentFailed:
		out.Kind = OutcomeFailed
		out.FailureReason = "async payment failed"
		return out, nil
	case stripeEventSessionExpired:
		out.Kind = OutcomeIgnored
		return out, nil
	}

	switch s.PaymentStatus {
	case "paid":
		if out.TransactionID == "" {
			return nil, fmt.Errorf("%w: paid session %s without payment intent", ErrMalformedPayload, s.ID)
		}
		out.Kind = OutcomeSucceeded
	default:
		// unpaid sessions are either still open or waiting for an async method
		out.Kind = OutcomePending
	}
	return out, nil
}

// parseStripeEvent turns an authenticated event body into an outcome.
func parseStripeEvent(body []byte) (*Outcome, error) {
	var ev stripeEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if ev.ID == "" || ev.Type == "" {
		return nil, fmt.Errorf("%w: event without id or type", ErrMalformedPayload)
	}

	var (
		out *Outcome
		err error
	)
	switch ev.Type {
	case stripeEventSessionCompleted, stripeEventAsyncPaymentSucceeded, stripeEventAsyncPaymentFailed, stripeEventSessionExpired:
		var s *stripeCheckoutSession
		s, err = parseStripeSession(ev.Data.Object)
		if err != nil {
			return nil, err
		}
		out, err = sessionOutcome(s, ev.Type, body)
	case stripeEventChargeRefunded:
		out, err = chargeRefundOutcome(ev.Data.Object, body)
	default:
		out = &Outcome{Kind: OutcomeIgnored, Raw: body}
	}
	if err != nil {
		return nil, err
	}

	out.Gateway = "stripe"
	out.EventID = ev.ID
	out.EventType = ev.Type
	return out, nil
}

func chargeRefundOutcome(raw json.RawMessage, body []byte) (*Outcome, error) {
	var ch stripeCharge
	if err := json.Unmarshal(raw, &ch); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if ch.ID == "" || ch.PaymentIntent.ID == "" {
		return nil, fmt.Errorf("%w: charge without id or payment intent", ErrMalformedPayload)
	}
	currency := money.NormalizeCurrency(ch.Currency)
	out := &Outcome{
		Kind:          OutcomeIgnored,
		TransactionID: ch.PaymentIntent.ID,
		Amount:        money.FromMinor(ch.AmountRefunded, currency),
		Currency:      currency,
		Raw:           body,
	}
	// partial refunds keep access; only a full refund revokes the grants
	if ch.Refunded {
		out.Kind = OutcomeRefunded
	}
	return out, nil
}
