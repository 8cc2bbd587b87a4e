package downloads

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/nurseshelf/nurseshelf/app/models"
	"github.com/nurseshelf/nurseshelf/internal/pkg/metrics"
)

var (
	ErrNotFound        = errors.New("download not found")
	ErrForbidden       = errors.New("download not permitted")
	ErrExpired         = errors.New("download access expired")
	ErrNoDownloadsLeft = errors.New("no downloads left")
)

const DefaultURLTTL = 10 * time.Minute

// Grant is one issued download.
type Grant struct {
	PurchaseID    uint
	ProductID     uint
	URL           string
	ExpiresAt     time.Time
	DownloadsLeft *int // nil means unlimited
}

type Options struct {
	URLTTL  time.Duration
	Counter *Counter
	Metrics *metrics.CheckoutMetrics
	Now     func() time.Time
}

// Service turns purchases into presigned download links.
type Service struct {
	db      *gorm.DB
	store   Presigner
	counter *Counter
	metrics *metrics.CheckoutMetrics
	ttl     time.Duration
	now     func() time.Time
}

func NewService(db *gorm.DB, store Presigner, opts Options) *Service {
	s := &Service{
		db:      db,
		store:   store,
		counter: opts.Counter,
		metrics: opts.Metrics,
		ttl:     opts.URLTTL,
		now:     opts.Now,
	}
	if s.ttl <= 0 {
		s.ttl = DefaultURLTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Issue consumes one download of a purchase owned by userID and returns a
// presigned URL for the product file.
func (s *Service) Issue(ctx context.Context, userID, purchaseID uint) (*Grant, error) {
	if s.store == nil {
		return nil, fmt.Errorf("%w: object store not configured", ErrNotFound)
	}

	var p models.Purchase
	if err := s.db.WithContext(ctx).First(&p, purchaseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if p.UserID != userID {
		log.Warnf("[Downloads] User %d requested purchase %d of user %d", userID, p.ID, p.UserID)
		return nil, ErrForbidden
	}
	if p.Status != models.PurchaseStatusCompleted {
		return nil, ErrForbidden
	}
	now := s.now()
	if p.IsExpired(now) {
		return nil, ErrExpired
	}
	if !p.HasDownloadsLeft() {
		return nil, ErrNoDownloadsLeft
	}

	// products removed from the catalog stay downloadable for their buyers
	var product models.Product
	if err := s.db.WithContext(ctx).Unscoped().First(&product, p.ProductID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if product.FileKey == "" {
		log.Errorf("[Downloads] Product %d has no file", product.ID)
		return nil, ErrNotFound
	}

	url, err := s.store.PresignGet(ctx, product.FileKey, downloadName(product.Slug, product.FileKey), s.ttl)
	if err != nil {
		return nil, err
	}

	left, err := s.consume(ctx, &p, now)
	if err != nil {
		return nil, err
	}

	if err := s.counter.Add(ctx, product.ID); err != nil {
		log.Warnf("[Downloads] Could not count download of product %d: %v", product.ID, err)
	}
	s.metrics.DownloadIssued()
	log.Infof("[Downloads] Issued download of product %d for purchase %d", product.ID, p.ID)

	return &Grant{
		PurchaseID:    p.ID,
		ProductID:     product.ID,
		URL:           url,
		ExpiresAt:     now.Add(s.ttl),
		DownloadsLeft: left,
	}, nil
}

// consume records one download. Limited purchases are decremented only while
// downloads_left is positive so concurrent requests cannot overdraw.
func (s *Service) consume(ctx context.Context, p *models.Purchase, now time.Time) (*int, error) {
	q := s.db.WithContext(ctx).Model(&models.Purchase{}).
		Where("id = ? AND status = ?", p.ID, models.PurchaseStatusCompleted).
		Where("access_expires IS NULL OR access_expires > ?", now)

	updates := map[string]interface{}{
		"download_count": gorm.Expr("download_count + 1"),
	}
	if p.DownloadsLeft != nil {
		q = q.Where("downloads_left > 0")
		updates["downloads_left"] = gorm.Expr("downloads_left - 1")
	}

	res := q.Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		if p.DownloadsLeft != nil {
			return nil, ErrNoDownloadsLeft
		}
		return nil, ErrForbidden
	}

	if p.DownloadsLeft == nil {
		return nil, nil
	}
	var current models.Purchase
	if err := s.db.WithContext(ctx).Select("downloads_left").First(&current, p.ID).Error; err != nil {
		return nil, err
	}
	return current.DownloadsLeft, nil
}

// ListForUser returns the user's purchases, newest first.
func (s *Service) ListForUser(ctx context.Context, userID uint) ([]models.Purchase, error) {
	var purchases []models.Purchase
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC").Find(&purchases).Error
	return purchases, err
}
