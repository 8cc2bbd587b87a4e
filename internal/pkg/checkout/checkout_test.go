package checkout

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nurseshelf/nurseshelf/app/models"
	"github.com/nurseshelf/nurseshelf/internal/pkg/events"
	"github.com/nurseshelf/nurseshelf/internal/pkg/metrics"
	"github.com/nurseshelf/nurseshelf/internal/pkg/payment"
)

const testWebhookSecret = "whsec_checkout_test"

// fakeGateway stands in for a provider. Webhook parsing can be delegated to a
// real gateway so signatures are checked the same way as in production.
type fakeGateway struct {
	name   string
	prefix string
	ttl    time.Duration

	mu          sync.Mutex
	createCalls int
	fetchCalls  int
	lastRequest payment.SessionRequest
	createErr   error
	fetchErr    error
	fetch       *payment.Outcome
	parse       func(ctx context.Context, req payment.WebhookRequest) (*payment.Outcome, error)
}

func (g *fakeGateway) Name() string { return g.name }

func (g *fakeGateway) CreateSession(_ context.Context, req payment.SessionRequest) (*payment.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCalls++
	g.lastRequest = req
	if g.createErr != nil {
		return nil, g.createErr
	}
	ttl := g.ttl
	if ttl == 0 {
		ttl = time.Hour
	}
	ref := fmt.Sprintf("%s_%d", g.prefix, g.createCalls)
	return &payment.Session{
		Reference:   ref,
		CheckoutURL: "https://pay.example.test/" + ref,
		ExpiresAt:   time.Now().Add(ttl),
	}, nil
}

func (g *fakeGateway) FetchOutcome(_ context.Context, reference string) (*payment.Outcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetchCalls++
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	if g.fetch == nil {
		return &payment.Outcome{Kind: payment.OutcomePending, ProviderReference: reference}, nil
	}
	out := *g.fetch
	return &out, nil
}

func (g *fakeGateway) ParseWebhook(ctx context.Context, req payment.WebhookRequest) (*payment.Outcome, error) {
	if g.parse == nil {
		return nil, payment.ErrInvalidSignature
	}
	return g.parse(ctx, req)
}

func (g *fakeGateway) calls() (create, fetch int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.createCalls, g.fetchCalls
}

type fixture struct {
	db       *gorm.DB
	svc      *Service
	rec      *Reconciler
	stripe   *fakeGateway
	paypal   *fakeGateway
	events   *events.Recorder
	metrics  *metrics.CheckoutMetrics
	user     models.User
	cards    models.Product // $10, 365 days, 5 downloads
	guide    models.Product // $15, lifetime, unlimited
	inactive models.Product // unpublished
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)

	stripeGW := payment.NewStripeGateway(payment.StripeConfig{SecretKey: "sk_test_123", WebhookSecret: testWebhookSecret})
	fx := &fixture{
		db:      db,
		stripe:  &fakeGateway{name: models.GatewayStripe, prefix: "cs_test", parse: stripeGW.ParseWebhook},
		paypal:  &fakeGateway{name: models.GatewayPayPal, prefix: "PAYPAL-ORDER"},
		events:  &events.Recorder{},
		metrics: metrics.NewCheckoutMetrics(prometheus.NewRegistry()),
	}

	svc, err := NewServiceFromDB(db, payment.NewRegistry(fx.stripe, fx.paypal), Options{
		PublicURL: "https://shop.example.test/",
		Metrics:   fx.metrics,
		Publisher: fx.events,
	})
	require.NoError(t, err)
	fx.svc = svc
	fx.rec = svc.Reconciler()

	u, err := models.CreateUser("nurse.jane", "jane@example.com", "correct-horse")
	require.NoError(t, err)
	require.NoError(t, db.Create(u).Error)
	fx.user = *u

	fx.cards = models.Product{Slug: "pharm-flashcards", Title: "Pharmacology Flashcards", Price: decimal.RequireFromString("10.00"),
		Currency: "USD", IsPublished: true, AccessDays: 365, MaxDownloads: 5}
	fx.guide = models.Product{Slug: "nclex-guide", Title: "NCLEX Review Guide", Price: decimal.RequireFromString("15.00"),
		Currency: "USD", IsPublished: true}
	fx.inactive = models.Product{Slug: "draft-bundle", Title: "Draft Bundle", Price: decimal.RequireFromString("5.00"),
		Currency: "USD", IsPublished: false}
	for _, p := range []*models.Product{&fx.cards, &fx.guide, &fx.inactive} {
		require.NoError(t, db.Create(p).Error)
	}
	return fx
}

// pendingOrder creates the $10 + $15 order and a Stripe session for it.
func (fx *fixture) pendingOrder(t *testing.T) (*CreateOrderResult, *StartPaymentResult) {
	t.Helper()
	ctx := context.Background()
	created, err := fx.svc.CreateOrder(ctx, CreateOrderInput{
		UserID: fx.user.ID,
		Items: []CartItem{
			{ProductID: fx.cards.ID, Quantity: 1},
			{ProductID: fx.guide.ID, Quantity: 1},
		},
	})
	require.NoError(t, err)
	sess, err := fx.svc.StartPayment(ctx, StartPaymentInput{OrderID: created.OrderID, Gateway: "stripe", UserID: fx.user.ID})
	require.NoError(t, err)
	return created, sess
}

func (fx *fixture) order(t *testing.T, id uint) models.Order {
	t.Helper()
	var o models.Order
	require.NoError(t, fx.db.Preload("Items").First(&o, id).Error)
	return o
}

func (fx *fixture) count(t *testing.T, model interface{}, where ...interface{}) int64 {
	t.Helper()
	var n int64
	q := fx.db.Model(model)
	if len(where) > 0 {
		q = q.Where(where[0], where[1:]...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}

type stripeEventFields struct {
	EventID       string
	Type          string
	SessionID     string
	PaymentIntent string
	AmountMinor   int64
	Currency      string
	PaymentStatus string
	OrderID       uint
}

func stripeEventBody(t *testing.T, fields stripeEventFields) []byte {
	t.Helper()
	if fields.Type == "" {
		fields.Type = "checkout.session.completed"
	}
	if fields.Currency == "" {
		fields.Currency = "usd"
	}
	if fields.PaymentStatus == "" {
		fields.PaymentStatus = "paid"
	}
	session := map[string]interface{}{
		"id":             fields.SessionID,
		"object":         "checkout.session",
		"amount_total":   fields.AmountMinor,
		"currency":       fields.Currency,
		"payment_status": fields.PaymentStatus,
		"status":         "complete",
		"payment_intent": fields.PaymentIntent,
	}
	if fields.OrderID != 0 {
		session["client_reference_id"] = strconv.FormatUint(uint64(fields.OrderID), 10)
	}
	body, err := json.Marshal(map[string]interface{}{
		"id":     fields.EventID,
		"object": "event",
		"type":   fields.Type,
		"data":   map[string]interface{}{"object": session},
	})
	require.NoError(t, err)
	return body
}

func signedDelivery(t *testing.T, body []byte) payment.WebhookRequest {
	t.Helper()
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write([]byte(ts + "." + string(body)))
	h := http.Header{}
	h.Set("Stripe-Signature", "t="+ts+",v1="+hex.EncodeToString(mac.Sum(nil)))
	return payment.WebhookRequest{Body: body, Headers: h}
}
