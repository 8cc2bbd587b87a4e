package router

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	fsession "github.com/gofiber/fiber/v2/middleware/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nurseshelf/nurseshelf/app/controllers"
	"github.com/nurseshelf/nurseshelf/app/models"
	"github.com/nurseshelf/nurseshelf/internal/pkg/checkout"
	"github.com/nurseshelf/nurseshelf/internal/pkg/payment"
)

func newTestApp(t *testing.T, metricsPass string) *fiber.App {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(models.All()...))

	svc, err := checkout.NewServiceFromDB(db, payment.NewRegistry(), checkout.Options{})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "router_test_total", Help: "test"}))

	store := fsession.New()
	app := fiber.New()
	InstallRouter(app, Options{
		Controller:  controllers.New(controllers.Deps{DB: db, Sessions: store, Checkout: svc}),
		Sessions:    store,
		Gatherer:    reg,
		MetricsUser: "ops",
		MetricsPass: metricsPass,
	})
	return app
}

func TestCheckoutRoutesRequireCSRFToken(t *testing.T) {
	app := newTestApp(t, "")

	for _, path := range []string{"/order", "/order/1/payment-session", "/verify-payment?session_id=cs_1", "/login"} {
		req := httptest.NewRequest("POST", path, strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusForbidden, resp.StatusCode, path)
	}

	resp, err := app.Test(httptest.NewRequest("GET", "/csrf", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestWebhooksBypassCSRF(t *testing.T) {
	app := newTestApp(t, "")

	// no gateway is configured, so the delivery is rejected by the handler, not by csrf
	req := httptest.NewRequest("POST", "/webhooks/stripe", strings.NewReader(`{"id":"evt_1"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestOperatorEndpoints(t *testing.T) {
	closed := newTestApp(t, "")
	resp, err := closed.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	app := newTestApp(t, "s3cret")
	resp, err = app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest("GET", "/metrics", nil)
	req.SetBasicAuth("ops", "s3cret")
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "router_test_total")
}

func TestOperatorEndpointsSkipCSRF(t *testing.T) {
	app := newTestApp(t, "s3cret")

	tests := []struct {
		path       string
		wantCookie bool
	}{
		{path: "/metrics"},
		{path: "/monitor"},
		{path: "/csrf", wantCookie: true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			req.SetBasicAuth("ops", "s3cret")
			resp, err := app.Test(req)
			require.NoError(t, err)
			require.Equal(t, fiber.StatusOK, resp.StatusCode)

			var names []string
			for _, c := range resp.Cookies() {
				names = append(names, c.Name)
			}
			if tt.wantCookie {
				assert.Contains(t, names, "csrf_")
			} else {
				assert.Empty(t, names, "operator endpoints get no csrf token or session")
			}
		})
	}
}

func TestDownloadsRequireLogin(t *testing.T) {
	app := newTestApp(t, "")

	resp, err := app.Test(httptest.NewRequest("GET", "/downloads", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/downloads/7", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
}
