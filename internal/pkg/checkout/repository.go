package checkout

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nurseshelf/nurseshelf/app/models"
)

// Settlement is the set of rows one reconciliation writes together.
type Settlement struct {
	OrderID       uint
	Status        string
	PaymentStatus string
	FailureReason string
	Metadata      []byte
	Transaction   *models.Transaction
	// Purchases get their TransactionID filled in once the transaction row exists.
	Purchases []models.Purchase
}

// SessionUpdate is the provider session attached to a pending order.
type SessionUpdate struct {
	Gateway     string
	Reference   string
	CheckoutURL string
	ExpiresAt   time.Time
}

// Repository provides DB operations used by the checkout service.
type Repository interface {
	// FindProducts loads products by id. Soft-deleted products are only
	// returned with includeDeleted, which settlement uses for grant policy.
	FindProducts(ctx context.Context, ids []uint, includeDeleted bool) ([]models.Product, error)
	FindUserByID(ctx context.Context, id uint) (*models.User, error)
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateOrder(ctx context.Context, order *models.Order, guest *models.User) (guestCreated bool, err error)
	GetOrder(ctx context.Context, id uint) (*models.Order, error)
	GetOrderByReference(ctx context.Context, gateway, reference string) (*models.Order, error)
	AttachProviderSession(ctx context.Context, orderID uint, previousReference string, s SessionUpdate) (bool, error)
	GetTransaction(ctx context.Context, id uint) (*models.Transaction, error)
	FindTransactionByGatewayID(ctx context.Context, gatewayTransactionID string) (*models.Transaction, error)
	ListPurchasesByOrder(ctx context.Context, orderID uint) ([]models.Purchase, error)
	Settle(ctx context.Context, s Settlement) (bool, error)
	MarkPurchasesRefunded(ctx context.Context, transactionID uint) (int64, error)
	CreateWebhookEventIfNotExists(ctx context.Context, event *models.PaymentWebhookEvent) (bool, *models.PaymentWebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a checkout repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) FindProducts(ctx context.Context, ids []uint, includeDeleted bool) ([]models.Product, error) {
	var products []models.Product
	if len(ids) == 0 {
		return products, nil
	}
	q := r.db.WithContext(ctx)
	if includeDeleted {
		q = q.Unscoped()
	}
	err := q.Where("id IN ?", ids).Find(&products).Error
	return products, err
}

func (r *gormRepository) FindUserByID(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *gormRepository) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := r.db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&u).Error
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateOrder stores the order and its items in one transaction. When guest is
// set the guest user is inserted first; an existing row with the same email
// wins and its id is used.
func (r *gormRepository) CreateOrder(ctx context.Context, order *models.Order, guest *models.User) (bool, error) {
	guestCreated := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if guest != nil {
			res := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "email"}},
				DoNothing: true,
			}).Create(guest)
			if res.Error != nil {
				return res.Error
			}
			guestCreated = res.RowsAffected > 0
			var stored models.User
			if err := tx.Where("email = ?", guest.Email).First(&stored).Error; err != nil {
				return err
			}
			*guest = stored
			uid := stored.ID
			order.UserID = &uid
		}
		return tx.Create(order).Error
	})
	if err != nil {
		return false, err
	}
	return guestCreated, nil
}

func (r *gormRepository) GetOrder(ctx context.Context, id uint) (*models.Order, error) {
	var o models.Order
	err := r.db.WithContext(ctx).Preload("Items").First(&o, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *gormRepository) GetOrderByReference(ctx context.Context, gateway, reference string) (*models.Order, error) {
	var o models.Order
	err := r.db.WithContext(ctx).Preload("Items").
		Where("gateway = ? AND provider_reference = ?", gateway, reference).
		First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// AttachProviderSession stores a new provider session on a pending order. The
// update only applies while the order still carries previousReference, so two
// concurrent session requests cannot both overwrite it.
func (r *gormRepository) AttachProviderSession(ctx context.Context, orderID uint, previousReference string, s SessionUpdate) (bool, error) {
	expires := s.ExpiresAt
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ? AND provider_reference = ?", orderID, models.OrderStatusPending, previousReference).
		Updates(map[string]interface{}{
			"gateway":                     s.Gateway,
			"provider_reference":          s.Reference,
			"provider_checkout_url":       s.CheckoutURL,
			"provider_session_expires_at": &expires,
			"payment_status":              models.PaymentStatusPending,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *gormRepository) GetTransaction(ctx context.Context, id uint) (*models.Transaction, error) {
	var t models.Transaction
	if err := r.db.WithContext(ctx).First(&t, id).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *gormRepository) FindTransactionByGatewayID(ctx context.Context, gatewayTransactionID string) (*models.Transaction, error) {
	var t models.Transaction
	err := r.db.WithContext(ctx).Where("gateway_transaction_id = ?", gatewayTransactionID).First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *gormRepository) ListPurchasesByOrder(ctx context.Context, orderID uint) ([]models.Purchase, error) {
	var purchases []models.Purchase
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("id ASC").Find(&purchases).Error
	return purchases, err
}

// Settle moves a pending order to its terminal state, records the transaction
// and grants purchases in one DB transaction. It returns false without error
// when the order was no longer pending or the provider transaction id was
// already recorded; nothing is written in that case.
func (r *gormRepository) Settle(ctx context.Context, s Settlement) (bool, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"status":         s.Status,
			"payment_status": s.PaymentStatus,
			"failure_reason": s.FailureReason,
		}
		if len(s.Metadata) > 0 {
			updates["metadata"] = string(s.Metadata)
		}
		res := tx.Model(&models.Order{}).
			Where("id = ? AND status = ?", s.OrderID, models.OrderStatusPending).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errLostRace
		}

		if s.Transaction == nil {
			return nil
		}
		if err := tx.Create(s.Transaction).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errLostRace
			}
			return err
		}
		if err := tx.Model(&models.Order{}).Where("id = ?", s.OrderID).
			Update("transaction_id", s.Transaction.ID).Error; err != nil {
			return err
		}

		if len(s.Purchases) == 0 {
			return nil
		}
		for i := range s.Purchases {
			s.Purchases[i].TransactionID = s.Transaction.ID
		}
		if err := tx.Create(&s.Purchases).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errLostRace
			}
			return err
		}
		return nil
	})
	if errors.Is(err, errLostRace) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *gormRepository) MarkPurchasesRefunded(ctx context.Context, transactionID uint) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Purchase{}).
		Where("transaction_id = ? AND status = ?", transactionID, models.PurchaseStatusCompleted).
		Update("status", models.PurchaseStatusRefunded)
	return res.RowsAffected, res.Error
}

func (r *gormRepository) CreateWebhookEventIfNotExists(ctx context.Context, event *models.PaymentWebhookEvent) (bool, *models.PaymentWebhookEvent, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.PaymentWebhookEvent
	if err := r.db.WithContext(ctx).Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.WithContext(ctx).Model(&models.PaymentWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
