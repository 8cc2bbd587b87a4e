package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the typed process configuration read from the environment.
type Config struct {
	AppEnv       string `env:"APP_ENV" env-default:"prod"`
	Host         string `env:"APP_HOST" env-default:"localhost"`
	Port         string `env:"APP_PORT" env-default:"4000"`
	PublicDomain string `env:"PUBLIC_DOMAIN" env-default:"http://localhost:4000"`
	MetricsUser  string `env:"METRICS_USER" env-default:"metrics"`
	MetricsPass  string `env:"METRICS_PASSWORD"`

	DB        DB
	Cache     Cache
	Stripe    Stripe
	PayPal    PayPal
	Kafka     Kafka
	S3        S3
	Downloads Downloads
}

type DB struct {
	Driver       string        `env:"DB_DRIVER" env-default:"mysql"`
	Host         string        `env:"DB_HOST" env-default:"127.0.0.1"`
	Port         string        `env:"DB_PORT"`
	User         string        `env:"DB_USER"`
	Password     string        `env:"DB_PASSWORD"`
	Name         string        `env:"DB_NAME" env-default:"nurseshelf"`
	SSLMode      string        `env:"DB_SSLMODE" env-default:"disable"`
	AutoMigrate  bool          `env:"DB_AUTO_MIGRATE" env-default:"false"`
	MaxRetries   int           `env:"DB_MAX_RETRIES" env-default:"5"`
	RetryDelay   time.Duration `env:"DB_RETRY_DELAY" env-default:"5s"`
	MaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" env-default:"20"`
}

type Cache struct {
	Host     string `env:"CACHE_HOST" env-default:"localhost"`
	Port     string `env:"CACHE_PORT" env-default:"6379"`
	Password string `env:"CACHE_PASSWORD"`
}

type Stripe struct {
	SecretKey     string        `env:"STRIPE_SECRET_KEY"`
	WebhookSecret string        `env:"STRIPE_WEBHOOK_SECRET"`
	SessionTTL    time.Duration `env:"STRIPE_SESSION_TTL" env-default:"23h"`
}

type PayPal struct {
	ClientID  string `env:"PAYPAL_CLIENT_ID"`
	Secret    string `env:"PAYPAL_CLIENT_SECRET"`
	WebhookID string `env:"PAYPAL_WEBHOOK_ID"`
	Mode      string `env:"PAYPAL_MODE" env-default:"sandbox"`
	BrandName string `env:"PAYPAL_BRAND_NAME" env-default:"NurseShelf"`
}

type Kafka struct {
	Brokers    []string `env:"KAFKA_BROKERS" env-separator:","`
	OrderTopic string   `env:"KAFKA_ORDER_TOPIC" env-default:"shop.orders"`
}

type S3 struct {
	AccessKeyID     string `env:"S3_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"S3_SECRET_ACCESS_KEY"`
	Region          string `env:"S3_REGION" env-default:"us-east-1"`
	Bucket          string `env:"S3_BUCKET_NAME"`
	EndpointURL     string `env:"S3_ENDPOINT_URL"`
}

type Downloads struct {
	URLTTL        time.Duration `env:"DOWNLOAD_URL_TTL" env-default:"10m"`
	FlushInterval time.Duration `env:"DOWNLOAD_COUNTER_FLUSH" env-default:"1m"`
}

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that only make sense together.
func (c *Config) Validate() error {
	var errs []error
	switch c.DB.Driver {
	case "mysql", "postgres":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be mysql or postgres, got %q", c.DB.Driver))
	}
	if c.Stripe.SecretKey != "" && c.Stripe.WebhookSecret == "" {
		errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET is required when Stripe is enabled"))
	}
	if c.PayPal.ClientID != "" {
		if c.PayPal.Secret == "" {
			errs = append(errs, errors.New("PAYPAL_CLIENT_SECRET is required when PayPal is enabled"))
		}
		if c.PayPal.WebhookID == "" {
			errs = append(errs, errors.New("PAYPAL_WEBHOOK_ID is required when PayPal is enabled"))
		}
		if m := strings.ToLower(c.PayPal.Mode); m != "sandbox" && m != "live" {
			errs = append(errs, fmt.Errorf("PAYPAL_MODE must be sandbox or live, got %q", c.PayPal.Mode))
		}
	}
	if c.S3.Bucket != "" && (c.S3.AccessKeyID == "" || c.S3.SecretAccessKey == "") {
		errs = append(errs, errors.New("S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY are required when S3_BUCKET_NAME is set"))
	}
	if c.Downloads.URLTTL <= 0 {
		errs = append(errs, fmt.Errorf("DOWNLOAD_URL_TTL must be positive, got %s", c.Downloads.URLTTL))
	}
	if c.Downloads.FlushInterval <= 0 {
		errs = append(errs, fmt.Errorf("DOWNLOAD_COUNTER_FLUSH must be positive, got %s", c.Downloads.FlushInterval))
	}
	return errors.Join(errs...)
}

func (c *Config) IsDev() bool { return c.AppEnv == "dev" }

func (c *Config) StripeEnabled() bool { return c.Stripe.SecretKey != "" }

func (c *Config) PayPalEnabled() bool { return c.PayPal.ClientID != "" }

func (c *Config) KafkaEnabled() bool { return len(c.Kafka.Brokers) > 0 }

func (c *Config) S3Enabled() bool { return c.S3.Bucket != "" }

// ListenAddr is the host:port the HTTP server binds to.
func (c *Config) ListenAddr() string { return c.Host + ":" + c.Port }
