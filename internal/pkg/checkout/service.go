package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	nanoid "github.com/jaevor/go-nanoid"
	"gorm.io/gorm"

	"github.com/nurseshelf/nurseshelf/app/models"
	"github.com/nurseshelf/nurseshelf/internal/pkg/events"
	"github.com/nurseshelf/nurseshelf/internal/pkg/metrics"
	"github.com/nurseshelf/nurseshelf/internal/pkg/payment"
)

const orderNumberAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Options configures the checkout service.
type Options struct {
	// PublicURL is the externally reachable base URL used for provider return links.
	PublicURL string
	Metrics   *metrics.CheckoutMetrics
	Publisher events.Publisher
	Now       func() time.Time
}

// Service creates orders, starts provider payments and reconciles provider outcomes.
type Service struct {
	repo        Repository
	gateways    *payment.Registry
	validate    *validator.Validate
	orderNumber func() string
	metrics     *metrics.CheckoutMetrics
	publisher   events.Publisher
	publicURL   string
	now         func() time.Time
}

// NewService creates a checkout service from an injected repository.
func NewService(repo Repository, gateways *payment.Registry, opts Options) (*Service, error) {
	gen, err := nanoid.CustomASCII(orderNumberAlphabet, 10)
	if err != nil {
		return nil, fmt.Errorf("order number generator: %w", err)
	}
	s := &Service{
		repo:        repo,
		gateways:    gateways,
		validate:    validator.New(),
		orderNumber: func() string { return "NS-" + gen() },
		metrics:     opts.Metrics,
		publisher:   opts.Publisher,
		publicURL:   strings.TrimRight(opts.PublicURL, "/"),
		now:         opts.Now,
	}
	if s.publisher == nil {
		s.publisher = events.NopPublisher{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.gateways == nil {
		s.gateways = payment.NewRegistry()
	}
	return s, nil
}

// NewServiceFromDB creates a checkout service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, gateways *payment.Registry, opts Options) (*Service, error) {
	return NewService(NewRepository(db), gateways, opts)
}

// Gateways returns the configured gateway registry.
func (s *Service) Gateways() *payment.Registry {
	return s.gateways
}

// GetOrder loads an order with its items.
func (s *Service) GetOrder(ctx context.Context, id uint) (*models.Order, error) {
	return s.repo.GetOrder(ctx, id)
}

// OrderPurchases lists the purchases granted for an order.
func (s *Service) OrderPurchases(ctx context.Context, orderID uint) ([]models.Purchase, error) {
	return s.repo.ListPurchasesByOrder(ctx, orderID)
}
