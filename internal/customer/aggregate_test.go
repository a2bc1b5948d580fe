package customer

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"possettle/internal/domain"
	"possettle/internal/store"
	"possettle/internal/store/memory"
)

func TestIsWalkIn(t *testing.T) {
	a := NewAggregator(nil, " ")
	assert.True(t, a.IsWalkIn(""))
	assert.True(t, a.IsWalkIn("WALK-IN"))
	assert.False(t, a.IsWalkIn("C-1"))

	custom := NewAggregator(nil, "guest")
	assert.True(t, custom.IsWalkIn("guest"))
	assert.False(t, custom.IsWalkIn("walk-in"))
}

func TestApplyPurchaseIsIdempotentAndRevertible(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	earlier := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpsertCustomer(ctx, domain.Customer{ID: "C-1", Name: "Rina"}))
	a := NewAggregator(s, "")

	_, err := a.ApplyPurchase(ctx, "C-1", "INV-0", decimal.RequireFromString("5.00"), earlier)
	require.NoError(t, err)

	at := earlier.Add(48 * time.Hour)
	p, err := a.ApplyPurchase(ctx, "C-1", "INV-1", decimal.RequireFromString("12.50"), at)
	require.NoError(t, err)
	assert.True(t, p.Applied)
	require.NotNil(t, p.PreviousLast)
	assert.True(t, p.PreviousLast.Equal(earlier))

	again, err := a.ApplyPurchase(ctx, "C-1", "INV-1", decimal.RequireFromString("12.50"), at)
	require.NoError(t, err)
	assert.False(t, again.Applied)

	c, err := s.GetCustomer(ctx, "C-1")
	require.NoError(t, err)
	assert.Equal(t, 2, c.TotalPurchases)
	assert.True(t, c.TotalSpent.Equal(decimal.RequireFromString("17.50")))

	require.NoError(t, a.Revert(ctx, p))
	require.NoError(t, a.Revert(ctx, p))

	c, err = s.GetCustomer(ctx, "C-1")
	require.NoError(t, err)
	assert.Equal(t, 1, c.TotalPurchases)
	assert.True(t, c.TotalSpent.Equal(decimal.RequireFromString("5.00")))
	require.NotNil(t, c.LastPurchase)
	assert.True(t, c.LastPurchase.Equal(earlier))
}

func TestApplyPurchaseRejectsWalkInAndUnknown(t *testing.T) {
	ctx := context.Background()
	a := NewAggregator(memory.New(), "")

	_, err := a.ApplyPurchase(ctx, "walk-in", "INV-1", decimal.NewFromInt(1), time.Now())
	assert.ErrorIs(t, err, store.ErrValidation)

	_, err = a.ApplyPurchase(ctx, "C-404", "INV-1", decimal.NewFromInt(1), time.Now())
	assert.ErrorIs(t, err, store.ErrNotFound)
}
