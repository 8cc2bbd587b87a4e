package controllers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	fsession "github.com/gofiber/fiber/v2/middleware/session"
	"github.com/gofiber/template/html/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nurseshelf/nurseshelf/app/models"
	"github.com/nurseshelf/nurseshelf/internal/pkg/checkout"
	"github.com/nurseshelf/nurseshelf/internal/pkg/downloads"
	"github.com/nurseshelf/nurseshelf/internal/pkg/middleware"
	"github.com/nurseshelf/nurseshelf/internal/pkg/payment"
)

const testWebhookSecret = "whsec_controller_test"

// stubGateway hands out predictable sessions and a configurable outcome.
type stubGateway struct {
	name string

	mu       sync.Mutex
	sessions int
	fetch    *payment.Outcome
	fetchErr error
	parse    func(ctx context.Context, req payment.WebhookRequest) (*payment.Outcome, error)
}

func (g *stubGateway) Name() string { return g.name }

func (g *stubGateway) CreateSession(_ context.Context, req payment.SessionRequest) (*payment.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions++
	ref := fmt.Sprintf("cs_ctrl_%d", g.sessions)
	return &payment.Session{Reference: ref, CheckoutURL: "https://checkout.example.test/" + ref, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (g *stubGateway) FetchOutcome(_ context.Context, reference string) (*payment.Outcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	if g.fetch == nil {
		return &payment.Outcome{Kind: payment.OutcomePending, ProviderReference: reference}, nil
	}
	out := *g.fetch
	return &out, nil
}

func (g *stubGateway) ParseWebhook(ctx context.Context, req payment.WebhookRequest) (*payment.Outcome, error) {
	return g.parse(ctx, req)
}

type stubPresigner struct{}

func (stubPresigner) PresignGet(_ context.Context, key, _ string, _ time.Duration) (string, error) {
	return "https://files.example.test/" + key + "?sig=abc", nil
}

type harness struct {
	app      *fiber.App
	db       *gorm.DB
	stripe   *stubGateway
	user     models.User
	password string
	cards    models.Product
	guide    models.Product
}

func newHarness(t *testing.T) *harness {
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

	stripeGW := payment.NewStripeGateway(payment.StripeConfig{SecretKey: "sk_test_ctrl", WebhookSecret: testWebhookSecret})
	h := &harness{db: db, stripe: &stubGateway{name: models.GatewayStripe, parse: stripeGW.ParseWebhook}, password: "s3cure-pass"}

	svc, err := checkout.NewServiceFromDB(db, payment.NewRegistry(h.stripe), checkout.Options{PublicURL: "https://shop.example.test"})
	require.NoError(t, err)

	u, err := models.CreateUser("nurse.ava", "ava@example.com", h.password)
	require.NoError(t, err)
	require.NoError(t, db.Create(u).Error)
	h.user = *u

	h.cards = models.Product{Slug: "peds-cards", Title: "Pediatrics Cards", Price: decimal.RequireFromString("10.00"),
		Currency: "USD", IsPublished: true, MaxDownloads: 3, FileKey: "products/peds/cards.pdf"}
	h.guide = models.Product{Slug: "ob-guide", Title: "OB Guide", Price: decimal.RequireFromString("15.00"),
		Currency: "USD", IsPublished: true, FileKey: "products/ob/guide.pdf"}
	require.NoError(t, db.Create(&h.cards).Error)
	require.NoError(t, db.Create(&h.guide).Error)

	store := fsession.New()
	ctrl := New(Deps{
		DB:        db,
		Sessions:  store,
		Checkout:  svc,
		Downloads: downloads.NewService(db, stubPresigner{}, downloads.Options{}),
	})

	app := fiber.New(fiber.Config{Views: html.New("../../views", ".html")})
	app.Use(middleware.UserContextMiddleware(store))
	app.Get("/healthz", ctrl.HandleHealth)
	app.Post("/login", ctrl.HandleAuthLogin)
	app.Post("/logout", ctrl.HandleAuthLogout)
	app.Post("/order", ctrl.HandleCreateOrder)
	app.Post("/order/:id/payment-session", ctrl.HandleCreatePaymentSession)
	app.Post("/verify-payment", ctrl.HandleVerifyPayment)
	app.Get("/checkout/return", ctrl.HandleCheckoutReturn)
	app.Get("/orders/:id/confirmation", ctrl.HandleOrderConfirmation)
	app.Post("/webhooks/stripe", ctrl.HandleStripeWebhook)
	app.Get("/downloads", middleware.RequireAPISessionAuth, ctrl.HandleListPurchases)
	app.Get("/downloads/:purchaseId", middleware.RequireAuth, ctrl.HandleDownload)
	h.app = app
	return h
}

// do sends a request, optionally with a JSON body and a session cookie.
func (h *harness) do(t *testing.T, method, path string, body interface{}, cookie *http.Cookie) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		switch b := body.(type) {
		case []byte:
			r = bytes.NewReader(b)
		default:
			raw, err := json.Marshal(body)
			require.NoError(t, err)
			r = bytes.NewReader(raw)
		}
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	resp, err := h.app.Test(req, 5000)
	require.NoError(t, err)
	return resp
}

func (h *harness) login(t *testing.T) *http.Cookie {
	t.Helper()
	resp := h.do(t, "POST", "/login", map[string]string{"email": h.user.Email, "password": h.password}, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	return sessionCookie(t, resp)
}

func sessionCookie(t *testing.T, resp *http.Response) *http.Cookie {
	t.Helper()
	for _, c := range resp.Cookies() {
		if c.Name == "session_id" {
			return c
		}
	}
	t.Fatal("no session cookie in response")
	return nil
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func signedStripeRequest(t *testing.T, h *harness, body []byte) *http.Response {
	t.Helper()
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write([]byte(ts + "." + string(body)))
	req := httptest.NewRequest("POST", "/webhooks/stripe", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", "t="+ts+",v1="+hex.EncodeToString(mac.Sum(nil)))
	resp, err := h.app.Test(req, 5000)
	require.NoError(t, err)
	return resp
}

func stripeCompleted(t *testing.T, eventID, sessionID, intent string, amountMinor int64) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"id":     eventID,
		"object": "event",
		"type":   "checkout.session.completed",
		"data": map[string]interface{}{"object": map[string]interface{}{
			"id":             sessionID,
			"object":         "checkout.session",
			"amount_total":   amountMinor,
			"currency":       "usd",
			"payment_status": "paid",
			"status":         "complete",
			"payment_intent": intent,
		}},
	})
	require.NoError(t, err)
	return body
}
