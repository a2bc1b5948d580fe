package mongostore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"possettle/internal/domain"
	"possettle/internal/store"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("POSSETTLE_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("set POSSETTLE_TEST_MONGO_URI to run mongo integration tests")
	}

	ctx := context.Background()
	database := fmt.Sprintf("possettle_it_%d", time.Now().UnixNano())
	s, err := New(ctx, uri, database, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.db.Drop(context.Background())
		_ = s.Close()
	})
	require.NoError(t, s.EnsureIndexes(ctx))
	return s
}

func TestMongoDebitStopsAtEmptyBatch(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertProduct(ctx, domain.Product{ID: "P-1", Name: "Beans", ManageByLot: true}))
	day := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := s.CreateBatch(ctx, domain.Batch{ID: "B1", ProductID: "P-1", ReceivedAt: day, Remaining: 5})
	require.NoError(t, err)
	_, err = s.CreateBatch(ctx, domain.Batch{ID: "B2", ProductID: "P-1", ReceivedAt: day.AddDate(0, 0, 1), Remaining: 5})
	require.NoError(t, err)

	takes := []domain.BatchConsumption{{BatchID: "B1", Quantity: 5}, {BatchID: "B2", Quantity: 2}}
	require.NoError(t, s.DebitBatches(ctx, "P-1", takes))

	err = s.DebitBatches(ctx, "P-1", []domain.BatchConsumption{{BatchID: "B2", Quantity: 1}, {BatchID: "B1", Quantity: 1}})
	assert.ErrorIs(t, err, store.ErrConflict)

	batches, err := s.ListBatches(ctx, "P-1")
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, 0, batches[0].Remaining)
	assert.Equal(t, 3, batches[1].Remaining)

	product, err := s.GetProduct(ctx, "P-1")
	require.NoError(t, err)
	assert.Equal(t, 3, product.OnHand)

	require.NoError(t, s.CreditBatches(ctx, "P-1", takes))
	err = s.CreditBatches(ctx, "P-1", []domain.BatchConsumption{{BatchID: "B1", Quantity: 1}})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestMongoClaimTakeoverReturnsPreviousJournal(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	_, err := s.CreatePending(ctx, domain.PendingTransaction{
		ID: "txn-1",
		Sale: domain.Sale{
			EmployeeID: "cashier",
			Items:      []domain.LineItem{{ProductID: "P-1", Quantity: 1, UnitPrice: decimal.NewFromInt(3), TotalPrice: decimal.NewFromInt(3)}},
			Subtotal:   decimal.NewFromInt(3),
			Total:      decimal.NewFromInt(3),
			CreatedAt:  now,
		},
	})
	require.NoError(t, err)

	first := domain.SettlementJournal{Operation: domain.OperationFinalize, Token: "tok-1", ClaimedAt: now, ExpiresAt: now.Add(time.Minute)}
	_, previous, err := s.ClaimPending(ctx, "txn-1", first, now)
	require.NoError(t, err)
	assert.Nil(t, previous)

	_, _, err = s.ClaimPending(ctx, "txn-1", first, now)
	assert.ErrorIs(t, err, store.ErrAlreadySettled)

	later := now.Add(2 * time.Minute)
	second := domain.SettlementJournal{Operation: domain.OperationVoid, Token: "tok-2", ClaimedAt: later, ExpiresAt: later.Add(time.Minute)}
	txn, previous, err := s.ClaimPending(ctx, "txn-1", second, later)
	require.NoError(t, err)
	require.NotNil(t, previous)
	assert.Equal(t, "tok-1", previous.Token)
	assert.True(t, txn.Total.Equal(decimal.NewFromInt(3)))

	assert.ErrorIs(t, s.SaveJournal(ctx, "txn-1", first), store.ErrClaimLost)
	require.NoError(t, s.ReleaseClaim(ctx, "txn-1", "tok-2"))

	got, err := s.GetPending(ctx, "txn-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PendingStatusPending, got.Status)
	assert.Nil(t, got.Settlement)

	_, _, err = s.ClaimPending(ctx, "missing", first, now)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMongoSecondInvoiceForTransactionIsAlreadySettled(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	invoice := domain.FinalizedInvoice{ID: "inv-1", OriginalTransactionID: "txn-9", FinalizedAt: time.Now().UTC(), FinalizedBy: "admin"}
	require.NoError(t, s.CreateInvoice(ctx, invoice))

	invoice.ID = "inv-2"
	assert.ErrorIs(t, s.CreateInvoice(ctx, invoice), store.ErrAlreadySettled)

	invoice.OriginalTransactionID = "txn-10"
	invoice.ID = "inv-1"
	assert.ErrorIs(t, s.CreateInvoice(ctx, invoice), store.ErrConflict)
}

func TestMongoCustomerPurchaseIsIdempotent(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertCustomer(ctx, domain.Customer{ID: "C-1", Name: "Ayu"}))
	at := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	amount := decimal.RequireFromString("12.75")

	previous, applied, err := s.ApplyCustomerPurchase(ctx, "C-1", "inv-1", amount, at)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Nil(t, previous)

	_, applied, err = s.ApplyCustomerPurchase(ctx, "C-1", "inv-1", amount, at)
	require.NoError(t, err)
	assert.False(t, applied)

	c, err := s.GetCustomer(ctx, "C-1")
	require.NoError(t, err)
	assert.Equal(t, 1, c.TotalPurchases)
	assert.True(t, c.TotalSpent.Equal(amount), c.TotalSpent.String())

	require.NoError(t, s.RevertCustomerPurchase(ctx, "C-1", "inv-1", amount, nil, at))
	require.NoError(t, s.RevertCustomerPurchase(ctx, "C-1", "inv-1", amount, nil, at))

	c, err = s.GetCustomer(ctx, "C-1")
	require.NoError(t, err)
	assert.Equal(t, 0, c.TotalPurchases)
	assert.True(t, c.TotalSpent.IsZero())
	assert.Nil(t, c.LastPurchase)

	count, err := s.col(purchaseCollection).CountDocuments(ctx, bson.M{"customerId": "C-1"})
	require.NoError(t, err)
	assert.Zero(t, count)
}
