package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/gofiber/fiber/v2/log"

	"github.com/nurseshelf/nurseshelf/app/models"
	"github.com/nurseshelf/nurseshelf/internal/pkg/payment"
)

// StartPaymentInput selects the order and gateway. UserID is the caller; an
// order owned by someone else is reported as not found.
type StartPaymentInput struct {
	OrderID uint
	Gateway string
	UserID  uint
}

// StartPayment creates a provider checkout session for a pending order, or
// returns the stored one while it is still valid for the same gateway.
func (s *Service) StartPayment(ctx context.Context, in StartPaymentInput) (*StartPaymentResult, error) {
	gw, err := s.gateways.Get(in.Gateway)
	if err != nil {
		return nil, err
	}

	order, err := s.repo.GetOrder(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	if order.UserID == nil || *order.UserID != in.UserID {
		return nil, ErrOrderNotFound
	}
	if order.Status != models.OrderStatusPending {
		return nil, fmt.Errorf("%w: order %s is %s", ErrInvalidOrderState, order.OrderNumber, order.Status)
	}

	if order.HasReusableSession(gw.Name(), s.now()) {
		s.metrics.SessionCreated(gw.Name(), true)
		return reusedSession(order), nil
	}

	req := payment.SessionRequest{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Amount:      order.TotalAmount,
		Currency:    order.Currency,
		SuccessURL:  s.returnURL(gw.Name()),
		CancelURL:   s.confirmationURL(order.ID),
	}
	for _, it := range order.Items {
		req.Items = append(req.Items, payment.LineItem{Title: it.Title, UnitPrice: it.Price, Quantity: it.Quantity})
	}
	if u, err := s.repo.FindUserByID(ctx, *order.UserID); err == nil {
		req.CustomerEmail = u.Email
	}

	sess, err := gw.CreateSession(ctx, req)
	if err != nil {
		s.metrics.ProviderError(gw.Name(), "create_session")
		log.Errorf("[Checkout] %s session for order %s failed: %v", gw.Name(), order.OrderNumber, err)
		if !errors.Is(err, payment.ErrProviderAPI) {
			err = fmt.Errorf("%w: %v", payment.ErrProviderAPI, err)
		}
		return nil, err
	}

	attached, err := s.repo.AttachProviderSession(ctx, order.ID, order.ProviderReference, SessionUpdate{
		Gateway:     gw.Name(),
		Reference:   sess.Reference,
		CheckoutURL: sess.CheckoutURL,
		ExpiresAt:   sess.ExpiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWriteConflict, err)
	}
	if !attached {
		// A concurrent request attached its session first, or the order settled.
		current, err := s.repo.GetOrder(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		if current.Status != models.OrderStatusPending {
			return nil, fmt.Errorf("%w: order %s is %s", ErrInvalidOrderState, current.OrderNumber, current.Status)
		}
		if current.HasReusableSession(gw.Name(), s.now()) {
			log.Infof("[Checkout] Order %s already has %s session %s, dropping %s", current.OrderNumber, gw.Name(), current.ProviderReference, sess.Reference)
			s.metrics.SessionCreated(gw.Name(), true)
			return reusedSession(current), nil
		}
		return nil, fmt.Errorf("%w: order %s session changed concurrently", ErrWriteConflict, order.OrderNumber)
	}

	log.Infof("[Checkout] Order %s: %s session %s expires %s", order.OrderNumber, gw.Name(), sess.Reference, sess.ExpiresAt.Format("2006-01-02 15:04:05"))
	s.metrics.SessionCreated(gw.Name(), false)
	return &StartPaymentResult{
		OrderID:           order.ID,
		Gateway:           gw.Name(),
		ProviderReference: sess.Reference,
		CheckoutURL:       sess.CheckoutURL,
		ExpiresAt:         sess.ExpiresAt,
	}, nil
}

func reusedSession(o *models.Order) *StartPaymentResult {
	return &StartPaymentResult{
		OrderID:           o.ID,
		Gateway:           o.Gateway,
		ProviderReference: o.ProviderReference,
		CheckoutURL:       o.ProviderCheckoutURL,
		ExpiresAt:         *o.ProviderSessionExpiresAt,
		Reused:            true,
	}
}

// returnURL is where the provider sends the buyer after approval. Stripe
// substitutes the session id placeholder, PayPal appends token and PayerID.
func (s *Service) returnURL(gateway string) string {
	q := url.Values{}
	q.Set("gateway", gateway)
	u := s.publicURL + "/checkout/return?" + q.Encode()
	if gateway == models.GatewayStripe {
		u += "&session_id={CHECKOUT_SESSION_ID}"
	}
	return u
}

func (s *Service) confirmationURL(orderID uint) string {
	return s.publicURL + "/orders/" + strconv.FormatUint(uint64(orderID), 10) + "/confirmation"
}
