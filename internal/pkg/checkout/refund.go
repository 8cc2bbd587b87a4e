package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/nurseshelf/nurseshelf/app/models"
	"github.com/nurseshelf/nurseshelf/internal/pkg/events"
	"github.com/nurseshelf/nurseshelf/internal/pkg/payment"
)

// ApplyRefund revokes the purchases granted through a fully refunded provider
// transaction. The order itself stays paid. Refunds for transactions the shop
// never recorded are acknowledged and ignored.
func (r *Reconciler) ApplyRefund(ctx context.Context, out *payment.Outcome) (*Result, error) {
	if out.TransactionID == "" {
		return nil, fmt.Errorf("%w: refund without transaction id", payment.ErrMalformedPayload)
	}

	txn, err := r.repo.FindTransactionByGatewayID(ctx, out.TransactionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warnf("[Reconcile] Refund for unknown %s transaction %s ignored", out.Gateway, out.TransactionID)
		return &Result{Ignored: true, TransactionID: out.TransactionID}, nil
	}
	if err != nil {
		return nil, err
	}
	if txn.Status != models.TransactionStatusCompleted {
		return &Result{Ignored: true, TransactionID: out.TransactionID}, nil
	}

	revoked, err := r.repo.MarkPurchasesRefunded(ctx, txn.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWriteConflict, err)
	}

	order, err := r.repo.GetOrder(ctx, txn.OrderID)
	if err != nil {
		return nil, err
	}
	res := orderResult(order)
	res.TransactionID = txn.GatewayTransactionID
	res.Refunded = true
	if revoked == 0 {
		res.Duplicate = true
		return res, nil
	}

	log.Infof("[Reconcile] Refund of %s transaction %s revoked %d purchases on order %s",
		out.Gateway, out.TransactionID, revoked, order.OrderNumber)
	r.metrics.Refunded(out.Gateway)
	publishOrderEvent(ctx, r.publisher, r.now, events.TypeOrderRefunded, order, txn.GatewayTransactionID, "refunded")
	return res, nil
}
