package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/favicon"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/template/html/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/nurseshelf/nurseshelf/app/controllers"
	"github.com/nurseshelf/nurseshelf/internal/pkg/cache"
	"github.com/nurseshelf/nurseshelf/internal/pkg/checkout"
	"github.com/nurseshelf/nurseshelf/internal/pkg/config"
	"github.com/nurseshelf/nurseshelf/internal/pkg/database"
	"github.com/nurseshelf/nurseshelf/internal/pkg/downloads"
	"github.com/nurseshelf/nurseshelf/internal/pkg/env"
	"github.com/nurseshelf/nurseshelf/internal/pkg/events"
	"github.com/nurseshelf/nurseshelf/internal/pkg/metrics"
	"github.com/nurseshelf/nurseshelf/internal/pkg/payment"
	"github.com/nurseshelf/nurseshelf/internal/pkg/router"
	"github.com/nurseshelf/nurseshelf/internal/pkg/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := NewApplication(ctx)
	if err != nil {
		log.Fatalf("[Main] Startup failed: %v", err)
	}
	defer application.Close()

	go func() {
		<-ctx.Done()
		log.Info("[Main] Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := application.App.ShutdownWithContext(shutdownCtx); err != nil {
			log.Errorf("[Main] Shutdown: %v", err)
		}
	}()

	if err := application.App.Listen(application.Config.ListenAddr()); err != nil {
		log.Fatalf("[Main] Listen: %v", err)
	}
}

// Application is the wired web process.
type Application struct {
	App       *fiber.App
	Config    *config.Config
	DB        *gorm.DB
	Redis     *redis.Client
	Publisher events.Publisher
}

// Close releases connections held by the process.
func (a *Application) Close() {
	if err := a.Publisher.Close(); err != nil {
		log.Warnf("[Main] Closing event publisher: %v", err)
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func NewApplication(ctx context.Context) (*Application, error) {
	if file, err := env.SetupEnvFile(); err != nil {
		log.Infof("[Main] No .env file loaded: %v", err)
	} else {
		log.Infof("[Main] Loaded environment from %s", file)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	db, err := database.Open(cfg.DB, cfg.IsDev())
	if err != nil {
		return nil, err
	}
	rdb := cache.New(ctx, cfg.Cache)

	m := metrics.NewCheckoutMetrics(prometheus.DefaultRegisterer)

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.KafkaEnabled() {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.OrderTopic)
		log.Infof("[Main] Publishing order events to %s", cfg.Kafka.OrderTopic)
	}

	gateways, err := newGateways(cfg)
	if err != nil {
		return nil, err
	}
	svc, err := checkout.NewServiceFromDB(db, gateways, checkout.Options{
		PublicURL: cfg.PublicDomain,
		Metrics:   m,
		Publisher: publisher,
	})
	if err != nil {
		return nil, err
	}

	dl, err := newDownloads(ctx, cfg, db, rdb, m)
	if err != nil {
		return nil, err
	}

	basePath, err := findBasePath()
	if err != nil {
		return nil, err
	}

	app := fiber.New(fiber.Config{
		Views:        html.New(basePath+"views", ".html"),
		BodyLimit:    1 << 20,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	app.Use(favicon.New(favicon.Config{URL: "/favicon.ico"}))
	app.Use(recover.New(), logger.New())

	app.Static("/", basePath+"public/assets", fiber.Static{
		CacheDuration: 15 * time.Second,
		Compress:      true,
	})

	app.Use(swagger.New(swagger.Config{
		BasePath: "/docs/api/",
		FilePath: basePath + "public/docs/v1/openapi.yml",
		Path:     "v1",
	}))

	sessions := session.NewSessionStore(rdb, !cfg.IsDev())
	router.InstallRouter(app, router.Options{
		Controller: controllers.New(controllers.Deps{
			DB:        db,
			Redis:     rdb,
			Sessions:  sessions,
			Checkout:  svc,
			Downloads: dl,
		}),
		Sessions:       sessions,
		LimiterStorage: session.NewRedisStorage(rdb, cache.DataDB),
		Gatherer:       prometheus.DefaultGatherer,
		MetricsUser:    cfg.MetricsUser,
		MetricsPass:    cfg.MetricsPass,
		SecureCookies:  !cfg.IsDev(),
	})

	return &Application{App: app, Config: cfg, DB: db, Redis: rdb, Publisher: publisher}, nil
}

func newGateways(cfg *config.Config) (*payment.Registry, error) {
	var gws []payment.Gateway
	if cfg.StripeEnabled() {
		gws = append(gws, payment.NewStripeGateway(payment.StripeConfig{
			SecretKey:     cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			SessionTTL:    cfg.Stripe.SessionTTL,
		}))
	}
	if cfg.PayPalEnabled() {
		pp, err := payment.NewPayPalGateway(payment.PayPalConfig{
			ClientID:  cfg.PayPal.ClientID,
			Secret:    cfg.PayPal.Secret,
			WebhookID: cfg.PayPal.WebhookID,
			Mode:      cfg.PayPal.Mode,
			BrandName: cfg.PayPal.BrandName,
		})
		if err != nil {
			return nil, err
		}
		gws = append(gws, pp)
	}
	reg := payment.NewRegistry(gws...)
	if len(reg.Names()) == 0 {
		log.Warn("[Main] No payment gateway configured, checkout is disabled")
	} else {
		log.Infof("[Main] Payment gateways: %v", reg.Names())
	}
	return reg, nil
}

func newDownloads(ctx context.Context, cfg *config.Config, db *gorm.DB, rdb *redis.Client, m *metrics.CheckoutMetrics) (*downloads.Service, error) {
	var store downloads.Presigner
	if cfg.S3Enabled() {
		objects, err := downloads.NewObjectStore(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		if err := objects.Ping(ctx); err != nil {
			log.Warnf("[Main] Bucket %s not reachable: %v", cfg.S3.Bucket, err)
		}
		store = objects
	} else {
		log.Warn("[Main] S3 not configured, downloads are disabled")
	}

	counter := downloads.NewCounter(rdb, db)
	go counter.Run(ctx, cfg.Downloads.FlushInterval)

	return downloads.NewService(db, store, downloads.Options{
		URLTTL:  cfg.Downloads.URLTTL,
		Counter: counter,
		Metrics: m,
	}), nil
}

// findBasePath locates the project root whether started from the root or cmd/nurseshelf.
func findBasePath() (string, error) {
	for _, p := range []string{"./", "../../", "../../../"} {
		if _, err := os.Stat(p + "views"); err == nil {
			return p, nil
		}
	}
	return "", os.ErrNotExist
}
