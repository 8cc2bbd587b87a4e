package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"

	"github.com/nurseshelf/nurseshelf/app/models"
	"github.com/nurseshelf/nurseshelf/internal/pkg/events"
	"github.com/nurseshelf/nurseshelf/internal/pkg/metrics"
	"github.com/nurseshelf/nurseshelf/internal/pkg/money"
	"github.com/nurseshelf/nurseshelf/internal/pkg/payment"
)

const maxFailureReasonLen = 255

// Reconciler applies provider payment outcomes to orders exactly once. Webhook
// deliveries and client verify calls both end up in Apply and may run in any
// order or concurrently.
type Reconciler struct {
	repo      Repository
	gateways  *payment.Registry
	metrics   *metrics.CheckoutMetrics
	publisher events.Publisher
	now       func() time.Time
}

// NewReconciler creates a reconciler from an injected repository.
func NewReconciler(repo Repository, gateways *payment.Registry, opts Options) *Reconciler {
	r := &Reconciler{
		repo:      repo,
		gateways:  gateways,
		metrics:   opts.Metrics,
		publisher: opts.Publisher,
		now:       opts.Now,
	}
	if r.publisher == nil {
		r.publisher = events.NopPublisher{}
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.gateways == nil {
		r.gateways = payment.NewRegistry()
	}
	return r
}

// Reconciler returns a reconciler sharing this service's store, gateways and metrics.
func (s *Service) Reconciler() *Reconciler {
	return &Reconciler{
		repo:      s.repo,
		gateways:  s.gateways,
		metrics:   s.metrics,
		publisher: s.publisher,
		now:       s.now,
	}
}

// HandleWebhook authenticates a raw delivery, records it and applies its outcome.
// Deliveries that fail authentication are rejected before anything is written.
func (r *Reconciler) HandleWebhook(ctx context.Context, gatewayName string, req payment.WebhookRequest) (*Result, error) {
	gw, err := r.gateways.Get(gatewayName)
	if err != nil {
		return nil, err
	}

	out, err := gw.ParseWebhook(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrInvalidSignature):
			r.metrics.SignatureFailure(gw.Name())
			log.Warnf("[Webhook] Rejected %s delivery: %v", gw.Name(), err)
		case errors.Is(err, payment.ErrProviderAPI):
			r.metrics.ProviderError(gw.Name(), "verify_webhook")
			log.Errorf("[Webhook] Could not verify %s delivery: %v", gw.Name(), err)
		default:
			log.Errorf("[Webhook] Unreadable %s delivery: %v", gw.Name(), err)
		}
		return nil, err
	}
	out.Gateway = gw.Name()
	r.metrics.WebhookReceived(gw.Name(), out.EventType)

	created, ev, err := r.recordEvent(ctx, out, req.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: record webhook event: %w", ErrWriteConflict, err)
	}
	if !created && ev.WasProcessedCleanly() {
		log.Infof("[Webhook] %s event %s already processed", gw.Name(), ev.ProviderEventID)
		r.metrics.Duplicate(gw.Name())
		return &Result{Duplicate: true}, nil
	}

	var res *Result
	if out.Kind == payment.OutcomeApproved {
		res, err = r.captureApproved(ctx, gw, out)
	} else {
		res, err = r.Apply(ctx, out, SourceWebhook)
	}

	processingErr := ""
	if err != nil {
		processingErr = err.Error()
	}
	if markErr := r.repo.MarkWebhookProcessed(ctx, ev.ID, processingErr); markErr != nil {
		log.Errorf("[Webhook] Failed to mark %s event %s processed: %v", gw.Name(), ev.ProviderEventID, markErr)
	}
	return res, err
}

// Verify asks the provider for the authoritative state of reference with
// server credentials and applies it. Orders that are already settled are
// answered from the database without a provider call.
func (r *Reconciler) Verify(ctx context.Context, gatewayName, reference string) (*Result, error) {
	gw, err := r.gateways.Get(gatewayName)
	if err != nil {
		return nil, err
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, fmt.Errorf("%w: empty reference", ErrOrderNotFound)
	}

	order, err := r.repo.GetOrderByReference(ctx, gw.Name(), reference)
	if err != nil && !errors.Is(err, ErrOrderNotFound) {
		return nil, err
	}
	if order != nil && order.IsTerminal() {
		r.metrics.Duplicate(gw.Name())
		return r.settledResult(ctx, order, true)
	}

	// A reference that is no longer current on its order is still asked
	// for, the provider outcome names the order it was created for.
	out, err := gw.FetchOutcome(ctx, reference)
	if err != nil {
		r.metrics.ProviderError(gw.Name(), "fetch_outcome")
		log.Errorf("[Reconcile] Verify of %s reference %s failed, order stays pending: %v", gw.Name(), reference, err)
		return nil, err
	}
	out.Gateway = gw.Name()
	if out.ProviderReference == "" {
		out.ProviderReference = reference
	}
	if order == nil {
		if order, err = r.resolveOrder(ctx, out); err != nil {
			log.Warnf("[Reconcile] Verify for unknown %s reference %s", gw.Name(), reference)
			return nil, err
		}
		if order.IsTerminal() {
			r.metrics.Duplicate(gw.Name())
			return r.settledResult(ctx, order, true)
		}
	}
	if out.Kind == payment.OutcomeIgnored {
		res := orderResult(order)
		res.Pending = true
		return res, nil
	}
	return r.Apply(ctx, out, SourceVerify)
}

// captureApproved turns a buyer approval notification into a capture. Unknown
// and settled orders are not captured.
func (r *Reconciler) captureApproved(ctx context.Context, gw payment.Gateway, approved *payment.Outcome) (*Result, error) {
	order, err := r.resolveOrder(ctx, approved)
	if err != nil {
		return nil, err
	}
	if order.IsTerminal() {
		r.metrics.Duplicate(gw.Name())
		return r.settledResult(ctx, order, true)
	}

	out, err := gw.FetchOutcome(ctx, approved.ProviderReference)
	if err != nil {
		r.metrics.ProviderError(gw.Name(), "capture")
		log.Errorf("[Reconcile] Capture of approved %s order %s failed: %v", gw.Name(), approved.ProviderReference, err)
		return nil, err
	}
	out.Gateway = gw.Name()
	out.EventID = approved.EventID
	out.EventType = approved.EventType
	if out.ProviderReference == "" {
		out.ProviderReference = approved.ProviderReference
	}
	return r.Apply(ctx, out, SourceWebhook)
}

// Apply runs the pending -> paid/failed transition for one outcome.
func (r *Reconciler) Apply(ctx context.Context, out *payment.Outcome, source Source) (*Result, error) {
	started := time.Now()
	defer func() {
		r.metrics.ObserveReconcile(out.Gateway, string(source), time.Since(started).Seconds())
	}()

	switch out.Kind {
	case payment.OutcomeIgnored:
		return &Result{Ignored: true}, nil
	case payment.OutcomeRefunded:
		return r.ApplyRefund(ctx, out)
	}

	order, err := r.resolveOrder(ctx, out)
	if err != nil {
		return nil, err
	}

	prior, err := r.priorResult(ctx, order, out)
	if err != nil || prior != nil {
		return prior, err
	}

	switch out.Kind {
	case payment.OutcomePending, payment.OutcomeApproved:
		res := orderResult(order)
		res.Pending = true
		return res, nil
	case payment.OutcomeFailed:
		reason := out.FailureReason
		if reason == "" {
			reason = "payment failed"
		}
		return r.settleFailed(ctx, order, out, reason, "declined", source)
	case payment.OutcomeSucceeded:
		if !money.Matches(order.TotalAmount, order.Currency, out.Amount, out.Currency) {
			return r.rejectAmount(ctx, order, out, source)
		}
		return r.settlePaid(ctx, order, out, source)
	default:
		return nil, fmt.Errorf("%w: unknown outcome %q", payment.ErrMalformedPayload, out.Kind)
	}
}

// resolveOrder finds the order by provider reference. A reference that is not
// the order's current session (the buyer opened a newer one) falls back to
// the order id the provider echoed back.
func (r *Reconciler) resolveOrder(ctx context.Context, out *payment.Outcome) (*models.Order, error) {
	if out.ProviderReference != "" {
		order, err := r.repo.GetOrderByReference(ctx, out.Gateway, out.ProviderReference)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, ErrOrderNotFound) {
			return nil, err
		}
	}
	if out.OrderHint != 0 {
		order, err := r.repo.GetOrder(ctx, out.OrderHint)
		if err == nil {
			log.Warnf("[Reconcile] %s reference %s is not the current session of order %s, matched by order id",
				out.Gateway, out.ProviderReference, order.OrderNumber)
			return order, nil
		}
		if !errors.Is(err, ErrOrderNotFound) {
			return nil, err
		}
	}
	log.Warnf("[Reconcile] No order for %s reference %q (event %s)", out.Gateway, out.ProviderReference, out.EventID)
	return nil, fmt.Errorf("%w: %s reference %q", ErrOrderNotFound, out.Gateway, out.ProviderReference)
}

func (r *Reconciler) settlePaid(ctx context.Context, order *models.Order, out *payment.Outcome, source Source) (*Result, error) {
	if order.UserID == nil {
		log.Errorf("[Reconcile] Paid order %s has no owner, needs manual review", order.OrderNumber)
		return nil, fmt.Errorf("%w: order %s", ErrNoUser, order.OrderNumber)
	}
	if out.TransactionID == "" {
		return nil, fmt.Errorf("%w: successful payment without transaction id", payment.ErrMalformedPayload)
	}

	ids := make([]uint, 0, len(order.Items))
	for _, it := range order.Items {
		ids = append(ids, it.ProductID)
	}
	products, err := r.repo.FindProducts(ctx, ids, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWriteConflict, err)
	}
	policy := make(map[uint]models.Product, len(products))
	for _, p := range products {
		policy[p.ID] = p
	}

	now := r.now()
	purchases := make([]models.Purchase, 0, len(order.Items))
	for _, it := range order.Items {
		p := policy[it.ProductID]
		purchases = append(purchases, models.Purchase{
			UserID:        *order.UserID,
			ProductID:     it.ProductID,
			OrderID:       order.ID,
			OrderItemID:   it.ID,
			Amount:        it.Price,
			Status:        models.PurchaseStatusCompleted,
			AccessExpires: p.AccessExpiry(now),
			DownloadsLeft: p.DownloadAllowance(),
		})
	}

	txn := &models.Transaction{
		OrderID:              order.ID,
		GatewayID:            out.Gateway,
		GatewayTransactionID: out.TransactionID,
		Status:               models.TransactionStatusCompleted,
		Amount:               out.Amount,
		Currency:             out.Currency,
		Metadata:             datatypes.JSON(out.Raw),
	}
	applied, err := r.repo.Settle(ctx, Settlement{
		OrderID:       order.ID,
		Status:        models.OrderStatusPaid,
		PaymentStatus: models.PaymentStatusPaid,
		Metadata:      out.Raw,
		Transaction:   txn,
		Purchases:     purchases,
	})
	if err != nil {
		log.Errorf("[Reconcile] Settling order %s as paid failed, nothing written: %v", order.OrderNumber, err)
		return nil, fmt.Errorf("%w: %w", ErrWriteConflict, err)
	}
	if !applied {
		return r.lostRace(ctx, order, out)
	}

	order.Status = models.OrderStatusPaid
	order.PaymentStatus = models.PaymentStatusPaid
	order.TransactionID = &txn.ID
	log.Infof("[Reconcile] Order %s paid via %s (%s, %s %s), %d purchases granted",
		order.OrderNumber, out.Gateway, out.TransactionID, money.Format(out.Amount, out.Currency), out.Currency, len(purchases))
	r.metrics.OrderPaid(out.Gateway, string(source), order.Currency, order.TotalAmount.InexactFloat64())
	publishOrderEvent(ctx, r.publisher, r.now, events.TypeOrderPaid, order, out.TransactionID, "")

	res := orderResult(order)
	res.TransactionID = out.TransactionID
	res.PurchasesGranted = len(purchases)
	return res, nil
}

func (r *Reconciler) rejectAmount(ctx context.Context, order *models.Order, out *payment.Outcome, source Source) (*Result, error) {
	expected := money.Format(order.TotalAmount, order.Currency) + " " + order.Currency
	got := money.Format(out.Amount, out.Currency) + " " + out.Currency
	log.Errorf("[Reconcile] Amount mismatch on order %s: quoted %s, %s reported %s (txn %s), failing order for manual review",
		order.OrderNumber, expected, out.Gateway, got, out.TransactionID)
	r.metrics.AmountMismatch(out.Gateway)

	res, err := r.settleFailed(ctx, order, out, fmt.Sprintf("amount mismatch: quoted %s, received %s", expected, got), "amount_mismatch", source)
	if err != nil || res.Duplicate {
		return res, err
	}
	return res, fmt.Errorf("%w: order %s quoted %s, received %s", ErrAmountMismatch, order.OrderNumber, expected, got)
}

// settleFailed records a failed transaction for audit and fails the order. No
// purchases are granted.
func (r *Reconciler) settleFailed(ctx context.Context, order *models.Order, out *payment.Outcome, reason, label string, source Source) (*Result, error) {
	gatewayTxnID := out.TransactionID
	if gatewayTxnID == "" {
		gatewayTxnID = fmt.Sprintf("order:%d:failed", order.ID)
	}
	if len(reason) > maxFailureReasonLen {
		reason = reason[:maxFailureReasonLen]
	}
	currency := out.Currency
	if currency == "" {
		currency = order.Currency
	}

	txn := &models.Transaction{
		OrderID:              order.ID,
		GatewayID:            out.Gateway,
		GatewayTransactionID: gatewayTxnID,
		Status:               models.TransactionStatusFailed,
		Amount:               out.Amount,
		Currency:             currency,
		Metadata:             datatypes.JSON(out.Raw),
	}
	applied, err := r.repo.Settle(ctx, Settlement{
		OrderID:       order.ID,
		Status:        models.OrderStatusFailed,
		PaymentStatus: models.PaymentStatusFailed,
		FailureReason: reason,
		Metadata:      out.Raw,
		Transaction:   txn,
	})
	if err != nil {
		log.Errorf("[Reconcile] Settling order %s as failed failed, nothing written: %v", order.OrderNumber, err)
		return nil, fmt.Errorf("%w: %w", ErrWriteConflict, err)
	}
	if !applied {
		return r.lostRace(ctx, order, out)
	}

	order.Status = models.OrderStatusFailed
	order.PaymentStatus = models.PaymentStatusFailed
	order.FailureReason = reason
	order.TransactionID = &txn.ID
	log.Infof("[Reconcile] Order %s failed via %s (%s): %s", order.OrderNumber, out.Gateway, string(source), reason)
	r.metrics.OrderFailed(out.Gateway, label)
	publishOrderEvent(ctx, r.publisher, r.now, events.TypeOrderFailed, order, gatewayTxnID, reason)

	res := orderResult(order)
	res.TransactionID = gatewayTxnID
	return res, nil
}

func orderResult(o *models.Order) *Result {
	res := &Result{
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
	}
	if o.UserID != nil {
		res.UserID = *o.UserID
	}
	return res
}
