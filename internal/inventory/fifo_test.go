package inventory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"possettle/internal/domain"
	"possettle/internal/store"
	"possettle/internal/store/memory"
)

var day = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func twoBatches() []domain.Batch {
	return []domain.Batch{
		{ID: "B2", ProductID: "P1", ReceivedAt: day.Add(24 * time.Hour), Remaining: 5, Initial: 5},
		{ID: "B1", ProductID: "P1", ReceivedAt: day, Remaining: 5, Initial: 5},
	}
}

func TestPlanFIFOTakesOldestFirst(t *testing.T) {
	plan, err := PlanFIFO(twoBatches(), 7)
	require.NoError(t, err)
	assert.Equal(t, []domain.BatchConsumption{
		{BatchID: "B1", Quantity: 5},
		{BatchID: "B2", Quantity: 2},
	}, plan)
}

func TestPlanFIFOInsufficientStock(t *testing.T) {
	_, err := PlanFIFO(twoBatches(), 11)
	assert.ErrorIs(t, err, store.ErrInsufficientStock)
}

func TestPlanFIFOSkipsEmptyAndBreaksTiesByID(t *testing.T) {
	batches := []domain.Batch{
		{ID: "B9", ReceivedAt: day, Remaining: 0},
		{ID: "B3", ReceivedAt: day, Remaining: 2},
		{ID: "B2", ReceivedAt: day, Remaining: 2},
	}
	plan, err := PlanFIFO(batches, 3)
	require.NoError(t, err)
	assert.Equal(t, []domain.BatchConsumption{
		{BatchID: "B2", Quantity: 2},
		{BatchID: "B3", Quantity: 1},
	}, plan)
}

func TestPlanFIFORejectsNonPositiveQuantity(t *testing.T) {
	_, err := PlanFIFO(twoBatches(), 0)
	assert.ErrorIs(t, err, store.ErrValidation)
}

func seededStore(t *testing.T) *memory.Store {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	require.NoError(t, s.UpsertProduct(ctx, domain.Product{ID: "P1", Name: "Tea", ManageByLot: true}))
	require.NoError(t, s.UpsertProduct(ctx, domain.Product{ID: "P2", Name: "Bag", OnHand: 2}))
	for _, b := range twoBatches() {
		_, err := s.CreateBatch(ctx, b)
		require.NoError(t, err)
	}
	return s
}

func TestConsumeAndRestoreLotManaged(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)
	consumer := NewConsumer(s, nil, zap.NewNop())

	debit, err := consumer.Consume(ctx, "P1", 7)
	require.NoError(t, err)
	assert.True(t, debit.LotManaged)
	assert.Len(t, debit.Batches, 2)

	product, err := s.GetProduct(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 3, product.OnHand)

	require.NoError(t, consumer.Restore(ctx, debit))
	product, err = s.GetProduct(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 10, product.OnHand)
}

func TestConsumeInsufficientLeavesStockUntouched(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)
	consumer := NewConsumer(s, nil, zap.NewNop())

	_, err := consumer.Consume(ctx, "P1", 11)
	assert.ErrorIs(t, err, store.ErrInsufficientStock)

	product, err := s.GetProduct(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 10, product.OnHand)
}

func TestConsumeWithoutLotsMayGoNegative(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)
	consumer := NewConsumer(s, nil, zap.NewNop())

	debit, err := consumer.Consume(ctx, "P2", 3)
	require.NoError(t, err)
	assert.False(t, debit.LotManaged)

	product, err := s.GetProduct(ctx, "P2")
	require.NoError(t, err)
	assert.Equal(t, -1, product.OnHand)
}

func TestConcurrentConsumeNeverOversells(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)
	consumer := NewConsumer(s, nil, zap.NewNop())

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := consumer.Consume(ctx, "P1", 2); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	product, err := s.GetProduct(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 0, product.OnHand)
}
