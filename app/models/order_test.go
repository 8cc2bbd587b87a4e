package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderIsTerminal(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{status: OrderStatusPending, want: false},
		{status: OrderStatusPaid, want: true},
		{status: OrderStatusFailed, want: true},
		{status: OrderStatusCancelled, want: true},
	}

	for _, tt := range tests {
		o := &Order{Status: tt.status}
		assert.Equal(t, tt.want, o.IsTerminal(), "status %q", tt.status)
	}
}

func TestOrderHasReusableSession(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(time.Hour)
	earlier := now.Add(-time.Minute)

	o := &Order{Gateway: GatewayStripe, ProviderReference: "cs_test_1", ProviderSessionExpiresAt: &later}
	assert.True(t, o.HasReusableSession(GatewayStripe, now))
	assert.False(t, o.HasReusableSession(GatewayPayPal, now), "other gateway never reuses")

	o.ProviderSessionExpiresAt = &earlier
	assert.False(t, o.HasReusableSession(GatewayStripe, now), "expired session")

	o.ProviderSessionExpiresAt = nil
	assert.False(t, o.HasReusableSession(GatewayStripe, now), "unknown expiry")

	o = &Order{Gateway: GatewayStripe, ProviderSessionExpiresAt: &later}
	assert.False(t, o.HasReusableSession(GatewayStripe, now), "no reference yet")
}

func TestOrderItemLineTotal(t *testing.T) {
	item := OrderItem{Price: decimal.RequireFromString("12.50"), Quantity: 3}
	assert.Equal(t, "37.50", item.LineTotal().StringFixed(2))
}

func TestProductGrantPolicy(t *testing.T) {
	granted := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)

	lifetime := &Product{}
	assert.Nil(t, lifetime.AccessExpiry(granted))
	assert.Nil(t, lifetime.DownloadAllowance())

	limited := &Product{AccessDays: 30, MaxDownloads: 5}
	exp := limited.AccessExpiry(granted)
	require.NotNil(t, exp)
	assert.Equal(t, granted.AddDate(0, 0, 30), *exp)
	require.NotNil(t, limited.DownloadAllowance())
	assert.Equal(t, 5, *limited.DownloadAllowance())
}

func TestProductHasStockFor(t *testing.T) {
	unlimited := &Product{}
	assert.True(t, unlimited.HasStockFor(1000))

	two := 2
	p := &Product{Stock: &two}
	assert.True(t, p.HasStockFor(2))
	assert.False(t, p.HasStockFor(3))
}

func TestPurchaseAccessChecks(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	zero := 0
	one := 1

	p := &Purchase{}
	assert.False(t, p.IsExpired(now))
	assert.True(t, p.HasDownloadsLeft())

	p.AccessExpires = &past
	assert.True(t, p.IsExpired(now))

	p.DownloadsLeft = &zero
	assert.False(t, p.HasDownloadsLeft())
	p.DownloadsLeft = &one
	assert.True(t, p.HasDownloadsLeft())
}
