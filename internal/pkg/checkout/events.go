package checkout

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/nurseshelf/nurseshelf/app/models"
	"github.com/nurseshelf/nurseshelf/internal/pkg/events"
	"github.com/nurseshelf/nurseshelf/internal/pkg/money"
)

// publishOrderEvent sends a committed state change downstream. Failures are
// logged only; the order row is the source of truth.
func publishOrderEvent(ctx context.Context, pub events.Publisher, now func() time.Time, eventType string, o *models.Order, txnID, reason string) {
	if pub == nil || o == nil {
		return
	}
	ev := events.NewOrderEvent(eventType, now().UTC())
	ev.OrderID = o.ID
	ev.OrderNumber = o.OrderNumber
	ev.Status = o.Status
	ev.Gateway = o.Gateway
	ev.TransactionID = txnID
	ev.Amount = money.Format(o.TotalAmount, o.Currency)
	ev.Currency = o.Currency
	ev.Reason = reason
	if o.UserID != nil {
		ev.UserID = *o.UserID
	}
	if err := pub.PublishOrder(ctx, ev); err != nil {
		log.Warnf("[Checkout] Publishing %s for order %s failed: %v", eventType, o.OrderNumber, err)
	}
}

func (s *Service) publish(ctx context.Context, eventType string, o *models.Order, txnID, reason string) {
	publishOrderEvent(ctx, s.publisher, s.now, eventType, o, txnID, reason)
}
