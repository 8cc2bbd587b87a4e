package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CheckoutMetrics holds the Prometheus collectors for the order lifecycle.
// A nil *CheckoutMetrics is valid and records nothing.
type CheckoutMetrics struct {
	OrdersCreatedTotal     *prometheus.CounterVec
	OrdersPaidTotal        *prometheus.CounterVec
	OrdersPaidAmountTotal  *prometheus.CounterVec
	OrdersFailedTotal      *prometheus.CounterVec
	SessionsCreatedTotal   *prometheus.CounterVec
	WebhooksReceivedTotal  *prometheus.CounterVec
	WebhookDuplicatesTotal *prometheus.CounterVec
	SignatureFailuresTotal *prometheus.CounterVec
	AmountMismatchesTotal  *prometheus.CounterVec
	ProviderErrorsTotal    *prometheus.CounterVec
	RefundsTotal           *prometheus.CounterVec
	DownloadsIssuedTotal   prometheus.Counter
	ReconcileDuration      *prometheus.HistogramVec
}

// NewCheckoutMetrics registers the collectors on reg. Passing
// prometheus.DefaultRegisterer exposes them on the default /metrics handler.
func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	f := promauto.With(reg)
	return &CheckoutMetrics{
		OrdersCreatedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shop_orders_created_total",
			Help: "Orders created, by currency and whether the buyer was a guest",
		}, []string{"currency", "guest"}),
		OrdersPaidTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shop_orders_paid_total",
			Help: "Orders transitioned to paid",
		}, []string{"gateway", "source"}),
		OrdersPaidAmountTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shop_orders_paid_amount_total",
			Help: "Sum of paid order totals in major units",
		}, []string{"gateway", "currency"}),
		OrdersFailedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shop_orders_failed_total",
			Help: "Orders transitioned to failed",
		}, []string{"gateway", "reason"}),
		SessionsCreatedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shop_payment_sessions_total",
			Help: "Provider checkout sessions created or reused",
		}, []string{"gateway", "reused"}),
		WebhooksReceivedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shop_webhooks_received_total",
			Help: "Authenticated webhook deliveries by event type",
		}, []string{"gateway", "event_type"}),
		WebhookDuplicatesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shop_webhook_duplicates_total",
			Help: "Deliveries or verify calls that found the order already settled",
		}, []string{"gateway"}),
		SignatureFailuresTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shop_webhook_signature_failures_total",
			Help: "Webhook deliveries rejected before any state change",
		}, []string{"gateway"}),
		AmountMismatchesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shop_amount_mismatches_total",
			Help: "Provider amounts that did not match the order total",
		}, []string{"gateway"}),
		ProviderErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shop_provider_errors_total",
			Help: "Failed calls to payment provider APIs",
		}, []string{"gateway", "operation"}),
		RefundsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shop_refunds_total",
			Help: "Refund notifications that revoked purchases",
		}, []string{"gateway"}),
		DownloadsIssuedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "shop_downloads_issued_total",
			Help: "Signed download links handed out",
		}),
		ReconcileDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shop_reconcile_duration_seconds",
			Help:    "Time spent applying a provider outcome",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"gateway", "source"}),
	}
}

func (m *CheckoutMetrics) OrderCreated(currency string, guest bool) {
	if m == nil {
		return
	}
	g := "false"
	if guest {
		g = "true"
	}
	m.OrdersCreatedTotal.WithLabelValues(currency, g).Inc()
}

func (m *CheckoutMetrics) OrderPaid(gateway, source, currency string, amount float64) {
	if m == nil {
		return
	}
	m.OrdersPaidTotal.WithLabelValues(gateway, source).Inc()
	m.OrdersPaidAmountTotal.WithLabelValues(gateway, currency).Add(amount)
}

func (m *CheckoutMetrics) OrderFailed(gateway, reason string) {
	if m == nil {
		return
	}
	m.OrdersFailedTotal.WithLabelValues(gateway, reason).Inc()
}

func (m *CheckoutMetrics) SessionCreated(gateway string, reused bool) {
	if m == nil {
		return
	}
	r := "false"
	if reused {
		r = "true"
	}
	m.SessionsCreatedTotal.WithLabelValues(gateway, r).Inc()
}

func (m *CheckoutMetrics) WebhookReceived(gateway, eventType string) {
	if m == nil {
		return
	}
	m.WebhooksReceivedTotal.WithLabelValues(gateway, eventType).Inc()
}

func (m *CheckoutMetrics) Duplicate(gateway string) {
	if m == nil {
		return
	}
	m.WebhookDuplicatesTotal.WithLabelValues(gateway).Inc()
}

func (m *CheckoutMetrics) SignatureFailure(gateway string) {
	if m == nil {
		return
	}
	m.SignatureFailuresTotal.WithLabelValues(gateway).Inc()
}

func (m *CheckoutMetrics) AmountMismatch(gateway string) {
	if m == nil {
		return
	}
	m.AmountMismatchesTotal.WithLabelValues(gateway).Inc()
}

func (m *CheckoutMetrics) ProviderError(gateway, operation string) {
	if m == nil {
		return
	}
	m.ProviderErrorsTotal.WithLabelValues(gateway, operation).Inc()
}

func (m *CheckoutMetrics) Refunded(gateway string) {
	if m == nil {
		return
	}
	m.RefundsTotal.WithLabelValues(gateway).Inc()
}

func (m *CheckoutMetrics) DownloadIssued() {
	if m == nil {
		return
	}
	m.DownloadsIssuedTotal.Inc()
}

func (m *CheckoutMetrics) ObserveReconcile(gateway, source string, seconds float64) {
	if m == nil {
		return
	}
	m.ReconcileDuration.WithLabelValues(gateway, source).Observe(seconds)
}
