package checkout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/nurseshelf/nurseshelf/app/models"
	"github.com/nurseshelf/nurseshelf/internal/pkg/events"
	"github.com/nurseshelf/nurseshelf/internal/pkg/money"
)

// CreateOrder prices the cart from the catalog and stores a pending order.
// Every amount comes from the products table.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*CreateOrderResult, error) {
	if err := s.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].StructField() == "GuestEmail" {
			return nil, fmt.Errorf("%w: invalid guest email", ErrNoUser)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidCart, err)
	}

	cart, err := mergeCart(in.Items)
	if err != nil {
		return nil, err
	}

	ids := make([]uint, 0, len(cart))
	for _, it := range cart {
		ids = append(ids, it.ProductID)
	}
	products, err := s.repo.FindProducts(ctx, ids, false)
	if err != nil {
		return nil, err
	}
	byID := make(map[uint]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	var (
		total    = decimal.Zero
		currency string
		items    = make([]models.OrderItem, 0, len(cart))
	)
	for _, it := range cart {
		p, ok := byID[it.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: product %d does not exist", ErrInvalidCart, it.ProductID)
		}
		if !p.IsPublished {
			return nil, fmt.Errorf("%w: product %d is not available", ErrInvalidCart, it.ProductID)
		}
		if !p.HasStockFor(it.Quantity) {
			return nil, fmt.Errorf("%w: product %d is out of stock", ErrInvalidCart, it.ProductID)
		}
		c := money.NormalizeCurrency(p.Currency)
		if currency == "" {
			currency = c
		} else if c != currency {
			return nil, fmt.Errorf("%w: cart mixes %s and %s", ErrInvalidCart, currency, c)
		}
		item := models.OrderItem{
			ProductID: p.ID,
			Title:     p.Title,
			Quantity:  it.Quantity,
			Price:     p.Price,
		}
		total = total.Add(item.LineTotal())
		items = append(items, item)
	}
	if !total.IsPositive() {
		return nil, fmt.Errorf("%w: order total must be positive", ErrInvalidCart)
	}

	owner, guest, err := s.resolveOwner(ctx, in)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		OrderNumber:   s.orderNumber(),
		Status:        models.OrderStatusPending,
		PaymentStatus: models.PaymentStatusUnpaid,
		TotalAmount:   total,
		Currency:      currency,
		Items:         items,
	}
	if owner != nil {
		uid := owner.ID
		order.UserID = &uid
	}

	guestCreated, err := s.repo.CreateOrder(ctx, order, guest)
	if err != nil {
		if guest != nil && errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: guest email belongs to a removed account", ErrNoUser)
		}
		return nil, err
	}
	if guest != nil && !guestCreated && !guest.IsGuest {
		log.Warnf("[Checkout] Guest checkout for order %s attached to registered user %d by email", order.OrderNumber, guest.ID)
	}

	userID := uint(0)
	if order.UserID != nil {
		userID = *order.UserID
	}
	log.Infof("[Checkout] Created order %s (id=%d) for user %d: %s %s, %d items",
		order.OrderNumber, order.ID, userID, money.Format(total, currency), currency, len(items))
	s.metrics.OrderCreated(currency, in.UserID == 0)
	s.publish(ctx, events.TypeOrderCreated, order, "", "")

	return &CreateOrderResult{
		OrderID:      order.ID,
		OrderNumber:  order.OrderNumber,
		UserID:       userID,
		TotalAmount:  total,
		Currency:     currency,
		GuestCreated: guestCreated,
	}, nil
}

// resolveOwner returns either the existing owner or a guest user to create.
func (s *Service) resolveOwner(ctx context.Context, in CreateOrderInput) (*models.User, *models.User, error) {
	if in.UserID != 0 {
		u, err := s.repo.FindUserByID(ctx, in.UserID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, fmt.Errorf("%w: user %d does not exist", ErrNoUser, in.UserID)
		}
		if err != nil {
			return nil, nil, err
		}
		if !u.IsActive() {
			return nil, nil, fmt.Errorf("%w: user %d is not active", ErrNoUser, in.UserID)
		}
		return u, nil, nil
	}

	email := strings.ToLower(strings.TrimSpace(in.GuestEmail))
	if !in.IsGuestCheckout || email == "" {
		return nil, nil, ErrNoUser
	}

	u, err := s.repo.FindUserByEmail(ctx, email)
	switch {
	case err == nil:
		if !u.IsActive() {
			return nil, nil, fmt.Errorf("%w: account for guest email is not active", ErrNoUser)
		}
		if !u.IsGuest {
			log.Warnf("[Checkout] Guest checkout used the email of registered user %d", u.ID)
		}
		return u, nil, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		guest, gerr := models.NewGuestUser(email)
		if gerr != nil {
			return nil, nil, gerr
		}
		return nil, guest, nil
	default:
		return nil, nil, err
	}
}

// mergeCart folds repeated product ids into one line and orders lines by product id.
func mergeCart(items []CartItem) ([]CartItem, error) {
	qty := make(map[uint]int, len(items))
	for _, it := range items {
		qty[it.ProductID] += it.Quantity
	}
	out := make([]CartItem, 0, len(qty))
	for id, q := range qty {
		if q > maxCartQuantity {
			return nil, fmt.Errorf("%w: quantity %d for product %d exceeds %d", ErrInvalidCart, q, id, maxCartQuantity)
		}
		out = append(out, CartItem{ProductID: id, Quantity: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}
