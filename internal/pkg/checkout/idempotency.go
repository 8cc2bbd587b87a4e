package checkout

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/nurseshelf/nurseshelf/app/models"
	"github.com/nurseshelf/nurseshelf/internal/pkg/payment"
)

// recordEvent stores an authenticated webhook delivery. Events without a
// provider id are keyed by a hash of their body.
func (r *Reconciler) recordEvent(ctx context.Context, out *payment.Outcome, body []byte) (bool, *models.PaymentWebhookEvent, error) {
	eventID := strings.TrimSpace(out.EventID)
	if eventID == "" {
		sum := sha256.Sum256(body)
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}
	event := &models.PaymentWebhookEvent{
		Provider:        out.Gateway,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(out.EventType),
		PayloadJSON:     string(body),
		SignatureValid:  true,
	}
	return r.repo.CreateWebhookEventIfNotExists(ctx, event)
}

// priorResult short-circuits outcomes for orders that are already settled and
// for provider transactions that were already recorded. It returns nil when
// the transition still has to run. The conditional update in Settle guards
// the race between this check and the write.
func (r *Reconciler) priorResult(ctx context.Context, order *models.Order, out *payment.Outcome) (*Result, error) {
	if order.IsTerminal() {
		r.metrics.Duplicate(out.Gateway)
		log.Infof("[Reconcile] Order %s already %s, skipping %s %s", order.OrderNumber, order.Status, out.Gateway, out.Kind)
		return r.settledResult(ctx, order, true)
	}
	if out.TransactionID == "" {
		return nil, nil
	}

	txn, err := r.repo.FindTransactionByGatewayID(ctx, out.TransactionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.metrics.Duplicate(out.Gateway)
	owner, err := r.repo.GetOrder(ctx, txn.OrderID)
	if err != nil {
		return nil, err
	}
	if owner.ID != order.ID {
		log.Warnf("[Reconcile] %s transaction %s is already recorded on order %s, not %s",
			out.Gateway, out.TransactionID, owner.OrderNumber, order.OrderNumber)
	}
	return r.settledResult(ctx, owner, true)
}

// lostRace answers an outcome whose transition was won by a concurrent delivery.
func (r *Reconciler) lostRace(ctx context.Context, order *models.Order, out *payment.Outcome) (*Result, error) {
	r.metrics.Duplicate(out.Gateway)
	current, err := r.repo.GetOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	log.Infof("[Reconcile] Order %s was settled concurrently (%s), %s %s not applied",
		current.OrderNumber, current.Status, out.Gateway, out.TransactionID)
	return r.settledResult(ctx, current, true)
}

// settledResult rebuilds the recorded outcome of an order.
func (r *Reconciler) settledResult(ctx context.Context, order *models.Order, duplicate bool) (*Result, error) {
	res := orderResult(order)
	res.Duplicate = duplicate
	if order.TransactionID != nil {
		txn, err := r.repo.GetTransaction(ctx, *order.TransactionID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		if txn != nil {
			res.TransactionID = txn.GatewayTransactionID
		}
	}
	if order.Status == models.OrderStatusPaid {
		purchases, err := r.repo.ListPurchasesByOrder(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		res.PurchasesGranted = len(purchases)
	}
	return res, nil
}
