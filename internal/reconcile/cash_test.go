package reconcile

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"possettle/internal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ptr(d decimal.Decimal) *decimal.Decimal { return &d }

func cashSale(total, tendered, change string) domain.Sale {
	return domain.Sale{
		PaymentMethod:  "Cash",
		Total:          dec(total),
		TenderedAmount: ptr(dec(tendered)),
		ChangeGiven:    ptr(dec(change)),
	}
}

func TestCashDrawerBalances(t *testing.T) {
	records := []Record{
		{TransactionID: "T1", State: StateFinalized, Sale: cashSale("9.25", "10.00", "0.75")},
		{TransactionID: "T2", State: StateFinalized, Sale: domain.Sale{PaymentMethod: "card", Total: dec("20")}},
		{TransactionID: "T3", State: StatePending, Sale: domain.Sale{PaymentMethod: "cash", Total: dec("3")}},
	}
	counted := dec("60.00")

	rep := CashDrawer(records, Options{OpeningFloat: dec("50.00"), CountedCash: &counted})

	assert.Equal(t, 1, rep.Transactions)
	assert.Equal(t, 0, rep.Mismatches)
	assert.True(t, rep.Expected.Equal(dec("9.25")))
	assert.True(t, rep.Received.Equal(dec("10.00")))
	assert.True(t, rep.ChangeGiven.Equal(dec("0.75")))
	assert.True(t, rep.Net.Equal(dec("9.25")))
	assert.True(t, rep.ExpectedInDrawer.Equal(dec("59.25")))
	require.NotNil(t, rep.Variance)
	assert.True(t, rep.Variance.Equal(dec("0.75")))
}

func TestCashDrawerFlagsChangeMismatch(t *testing.T) {
	records := []Record{
		{TransactionID: "T1", State: StateFinalized, Sale: cashSale("9.25", "10.00", "0.50")},
	}

	rep := CashDrawer(records, Options{})

	require.Len(t, rep.Entries, 1)
	assert.Equal(t, 1, rep.Mismatches)
	assert.True(t, rep.Entries[0].Mismatch)
	assert.True(t, rep.Entries[0].ExpectedChange.Equal(dec("0.75")))
	assert.Nil(t, rep.Variance)
}

func TestCashDrawerFlagsUnderpaid(t *testing.T) {
	rep := CashDrawer([]Record{
		{TransactionID: "T1", State: StatePending, Sale: cashSale("12.00", "10.00", "0")},
	}, Options{})

	require.Len(t, rep.Entries, 1)
	assert.True(t, rep.Entries[0].Underpaid)
	assert.True(t, rep.Entries[0].Mismatch)
}
