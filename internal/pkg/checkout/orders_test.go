package checkout

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nurseshelf/nurseshelf/app/models"
	"github.com/nurseshelf/nurseshelf/internal/pkg/events"
)

func TestCreateOrder_PricesFromCatalog(t *testing.T) {
	fx := newFixture(t)

	res, err := fx.svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID: fx.user.ID,
		Items: []CartItem{
			{ProductID: fx.guide.ID, Quantity: 1},
			{ProductID: fx.cards.ID, Quantity: 1},
		},
	})
	require.NoError(t, err)
	assert.True(t, res.TotalAmount.Equal(decimal.RequireFromString("25")), "total %s", res.TotalAmount)
	assert.Equal(t, "USD", res.Currency)
	assert.Regexp(t, `^NS-[A-Z2-9]{10}$`, res.OrderNumber)

	o := fx.order(t, res.OrderID)
	assert.Equal(t, models.OrderStatusPending, o.Status)
	assert.Equal(t, models.PaymentStatusUnpaid, o.PaymentStatus)
	require.NotNil(t, o.UserID)
	assert.Equal(t, fx.user.ID, *o.UserID)
	require.Len(t, o.Items, 2)

	sum := decimal.Zero
	for _, it := range o.Items {
		sum = sum.Add(it.LineTotal())
	}
	assert.True(t, o.TotalAmount.Equal(sum))

	// later catalog changes do not touch the snapshot
	require.NoError(t, fx.db.Model(&fx.cards).Update("price", decimal.RequireFromString("99.00")).Error)
	o = fx.order(t, res.OrderID)
	assert.True(t, o.TotalAmount.Equal(decimal.RequireFromString("25")))
	for _, it := range o.Items {
		if it.ProductID == fx.cards.ID {
			assert.True(t, it.Price.Equal(decimal.RequireFromString("10")))
			assert.Equal(t, "Pharmacology Flashcards", it.Title)
		}
	}

	assert.Equal(t, []string{events.TypeOrderCreated}, fx.events.Types())
}

func TestCreateOrder_MergesRepeatedProducts(t *testing.T) {
	fx := newFixture(t)

	res, err := fx.svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID: fx.user.ID,
		Items: []CartItem{
			{ProductID: fx.cards.ID, Quantity: 1},
			{ProductID: fx.cards.ID, Quantity: 2},
		},
	})
	require.NoError(t, err)
	assert.True(t, res.TotalAmount.Equal(decimal.RequireFromString("30")))

	o := fx.order(t, res.OrderID)
	require.Len(t, o.Items, 1)
	assert.Equal(t, 3, o.Items[0].Quantity)
}

func TestCreateOrder_InvalidCart(t *testing.T) {
	fx := newFixture(t)

	zero := 0
	soldOut := models.Product{Slug: "sold-out", Title: "Sold Out", Price: decimal.RequireFromString("7"), Currency: "USD", IsPublished: true, Stock: &zero}
	euro := models.Product{Slug: "euro-guide", Title: "Euro Guide", Price: decimal.RequireFromString("9"), Currency: "EUR", IsPublished: true}
	free := models.Product{Slug: "free-sample", Title: "Free Sample", Price: decimal.Zero, Currency: "USD", IsPublished: true}
	removed := models.Product{Slug: "removed", Title: "Removed", Price: decimal.RequireFromString("3"), Currency: "USD", IsPublished: true}
	for _, p := range []*models.Product{&soldOut, &euro, &free, &removed} {
		require.NoError(t, fx.db.Create(p).Error)
	}
	require.NoError(t, fx.db.Delete(&removed).Error)

	tests := []struct {
		name  string
		items []CartItem
	}{
		{name: "empty cart", items: nil},
		{name: "zero quantity", items: []CartItem{{ProductID: fx.cards.ID, Quantity: 0}}},
		{name: "quantity above limit", items: []CartItem{{ProductID: fx.cards.ID, Quantity: 60}, {ProductID: fx.cards.ID, Quantity: 60}}},
		{name: "missing product", items: []CartItem{{ProductID: 9999, Quantity: 1}}},
		{name: "unpublished product", items: []CartItem{{ProductID: fx.inactive.ID, Quantity: 1}}},
		{name: "out of stock", items: []CartItem{{ProductID: soldOut.ID, Quantity: 1}}},
		{name: "mixed currencies", items: []CartItem{{ProductID: fx.cards.ID, Quantity: 1}, {ProductID: euro.ID, Quantity: 1}}},
		{name: "zero total", items: []CartItem{{ProductID: free.ID, Quantity: 1}}},
		{name: "deleted product", items: []CartItem{{ProductID: removed.ID, Quantity: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fx.svc.CreateOrder(context.Background(), CreateOrderInput{UserID: fx.user.ID, Items: tt.items})
			require.ErrorIs(t, err, ErrInvalidCart)
		})
	}
	assert.Equal(t, int64(0), fx.count(t, &models.Order{}))
}

func TestCreateOrder_NoUser(t *testing.T) {
	fx := newFixture(t)
	items := []CartItem{{ProductID: fx.cards.ID, Quantity: 1}}

	require.NoError(t, fx.db.Create(&models.User{Name: "disabled", Email: "off@example.com", Password: "x", Status: models.STATUS_DISABLED}).Error)

	tests := []struct {
		name string
		in   CreateOrderInput
	}{
		{name: "anonymous without guest checkout", in: CreateOrderInput{Items: items}},
		{name: "guest checkout without email", in: CreateOrderInput{Items: items, IsGuestCheckout: true}},
		{name: "guest email not flagged as guest checkout", in: CreateOrderInput{Items: items, GuestEmail: "new@example.com"}},
		{name: "invalid guest email", in: CreateOrderInput{Items: items, IsGuestCheckout: true, GuestEmail: "not-an-email"}},
		{name: "unknown session user", in: CreateOrderInput{Items: items, UserID: 4242}},
		{name: "guest email of disabled account", in: CreateOrderInput{Items: items, IsGuestCheckout: true, GuestEmail: "off@example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fx.svc.CreateOrder(context.Background(), tt.in)
			require.ErrorIs(t, err, ErrNoUser)
		})
	}
	assert.Equal(t, int64(0), fx.count(t, &models.Order{}))
}

func TestCreateOrder_GuestCheckout(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	items := []CartItem{{ProductID: fx.guide.ID, Quantity: 1}}

	first, err := fx.svc.CreateOrder(ctx, CreateOrderInput{Items: items, IsGuestCheckout: true, GuestEmail: " Student@Example.com "})
	require.NoError(t, err)
	assert.True(t, first.GuestCreated)

	var guest models.User
	require.NoError(t, fx.db.Where("email = ?", "student@example.com").First(&guest).Error)
	assert.True(t, guest.IsGuest)
	assert.Equal(t, guest.ID, first.UserID)

	second, err := fx.svc.CreateOrder(ctx, CreateOrderInput{Items: items, IsGuestCheckout: true, GuestEmail: "student@example.com"})
	require.NoError(t, err)
	assert.False(t, second.GuestCreated)
	assert.Equal(t, guest.ID, second.UserID)
	assert.Equal(t, int64(1), fx.count(t, &models.User{}, "email = ?", "student@example.com"))
}

func TestCreateOrder_GuestEmailOfRegisteredUser(t *testing.T) {
	fx := newFixture(t)

	res, err := fx.svc.CreateOrder(context.Background(), CreateOrderInput{
		Items:           []CartItem{{ProductID: fx.guide.ID, Quantity: 1}},
		IsGuestCheckout: true,
		GuestEmail:      fx.user.Email,
	})
	require.NoError(t, err)
	assert.False(t, res.GuestCreated)
	assert.Equal(t, fx.user.ID, res.UserID)
}

func TestMergeCart(t *testing.T) {
	out, err := mergeCart([]CartItem{{ProductID: 3, Quantity: 1}, {ProductID: 1, Quantity: 2}, {ProductID: 3, Quantity: 4}})
	require.NoError(t, err)
	assert.Equal(t, []CartItem{{ProductID: 1, Quantity: 2}, {ProductID: 3, Quantity: 5}}, out)

	_, err = mergeCart([]CartItem{{ProductID: 1, Quantity: 100}, {ProductID: 1, Quantity: 1}})
	require.ErrorIs(t, err, ErrInvalidCart)
}
