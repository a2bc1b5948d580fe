package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"possettle/internal/domain"
	"possettle/internal/store"
)

func pendingFixture(id string) domain.PendingTransaction {
	return domain.PendingTransaction{
		ID: id,
		Sale: domain.Sale{
			Items:     []domain.LineItem{{ProductID: "P1", Quantity: 1, UnitPrice: decimal.NewFromInt(2), TotalPrice: decimal.NewFromInt(2)}},
			Total:     decimal.NewFromInt(2),
			CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		},
	}
}

func journal(token string, expires time.Time) domain.SettlementJournal {
	return domain.SettlementJournal{Operation: "finalize", Token: token, ExpiresAt: expires}
}

func TestClaimLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()
	_, err := s.CreatePending(ctx, pendingFixture("T1"))
	require.NoError(t, err)

	_, prev, err := s.ClaimPending(ctx, "T1", journal("a", now.Add(time.Minute)), now)
	require.NoError(t, err)
	assert.Nil(t, prev)

	_, _, err = s.ClaimPending(ctx, "T1", journal("b", now.Add(time.Minute)), now)
	assert.ErrorIs(t, err, store.ErrAlreadySettled)

	later := now.Add(2 * time.Minute)
	_, prev, err = s.ClaimPending(ctx, "T1", journal("b", later.Add(time.Minute)), later)
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, "a", prev.Token)

	assert.ErrorIs(t, s.SaveJournal(ctx, "T1", journal("a", later)), store.ErrClaimLost)
	assert.ErrorIs(t, s.DeletePending(ctx, "T1", "a"), store.ErrClaimLost)

	require.NoError(t, s.ReleaseClaim(ctx, "T1", "b"))
	txn, err := s.GetPending(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, domain.PendingStatusPending, txn.Status)
	assert.Nil(t, txn.Settlement)

	_, _, err = s.ClaimPending(ctx, "missing", journal("c", later), later)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListStaleClaims(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()
	for _, id := range []string{"T1", "T2", "T3"} {
		_, err := s.CreatePending(ctx, pendingFixture(id))
		require.NoError(t, err)
	}
	_, _, err := s.ClaimPending(ctx, "T1", journal("a", now.Add(-time.Second)), now.Add(-time.Minute))
	require.NoError(t, err)
	_, _, err = s.ClaimPending(ctx, "T2", journal("b", now.Add(time.Hour)), now)
	require.NoError(t, err)

	stale, err := s.ListStaleClaims(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "T1", stale[0].ID)
}

func TestInvoiceUniquePerTransaction(t *testing.T) {
	ctx := context.Background()
	s := New()
	inv := domain.FinalizedInvoice{ID: "INV-1", OriginalTransactionID: "T1"}
	require.NoError(t, s.CreateInvoice(ctx, inv))

	assert.ErrorIs(t, s.CreateInvoice(ctx, domain.FinalizedInvoice{ID: "INV-2", OriginalTransactionID: "T1"}), store.ErrAlreadySettled)
	assert.ErrorIs(t, s.CreateInvoice(ctx, domain.FinalizedInvoice{ID: "INV-1", OriginalTransactionID: "T9"}), store.ErrConflict)

	found, err := s.FindInvoiceByTransaction(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, "INV-1", found.ID)

	require.NoError(t, s.DeleteInvoice(ctx, "INV-1"))
	require.NoError(t, s.DeleteInvoice(ctx, "INV-1"))
	require.NoError(t, s.CreateInvoice(ctx, domain.FinalizedInvoice{ID: "INV-3", OriginalTransactionID: "T1"}))
}

func TestBatchMovesAreAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.UpsertProduct(ctx, domain.Product{ID: "P1", Name: "Tea", ManageByLot: true}))
	b1, err := s.CreateBatch(ctx, domain.Batch{ID: "B1", ProductID: "P1", Remaining: 3})
	require.NoError(t, err)
	_, err = s.CreateBatch(ctx, domain.Batch{ID: "B2", ProductID: "P1", Remaining: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, b1.Initial)

	err = s.DebitBatches(ctx, "P1", []domain.BatchConsumption{{BatchID: "B1", Quantity: 3}, {BatchID: "B2", Quantity: 3}})
	assert.ErrorIs(t, err, store.ErrConflict)
	product, err := s.GetProduct(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 5, product.OnHand)

	require.NoError(t, s.DebitBatches(ctx, "P1", []domain.BatchConsumption{{BatchID: "B1", Quantity: 3}}))
	assert.ErrorIs(t, s.CreditBatches(ctx, "P1", []domain.BatchConsumption{{BatchID: "B1", Quantity: 4}}), store.ErrConflict)
	require.NoError(t, s.CreditBatches(ctx, "P1", []domain.BatchConsumption{{BatchID: "B1", Quantity: 3}}))

	product, err = s.GetProduct(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 5, product.OnHand)
}

func TestCreateBatchRejectsProductWithoutLots(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.UpsertProduct(ctx, domain.Product{ID: "P2", Name: "Bag"}))
	_, err := s.CreateBatch(ctx, domain.Batch{ProductID: "P2", Remaining: 1})
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestSeededStoreHasUsersAndStock(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded(zap.NewNop())

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 2)

	products, err := s.ListProducts(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, products)
	for _, p := range products {
		if !p.ManageByLot {
			continue
		}
		batches, err := s.ListBatches(ctx, p.ID)
		require.NoError(t, err)
		total := 0
		for _, b := range batches {
			total += b.Remaining
		}
		assert.Equal(t, p.OnHand, total, p.ID)
	}
}
