package report

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"possettle/internal/domain"
)

func invoiceAt(at time.Time, total string, items ...domain.LineItem) domain.FinalizedInvoice {
	return domain.FinalizedInvoice{
		ID: "INV-" + at.Format("150405"),
		Sale: domain.Sale{
			Items:     items,
			Total:     decimal.RequireFromString(total),
			CreatedAt: at,
		},
	}
}

func item(id string, qty int) domain.LineItem {
	return domain.LineItem{ProductID: id, ProductName: "name-" + id, Quantity: qty}
}

func TestDailySummariesIncludesEmptyDays(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	invoices := []domain.FinalizedInvoice{
		invoiceAt(from.Add(9*time.Hour), "10.00", item("P1", 2)),
		invoiceAt(from.Add(10*time.Hour), "5.01", item("P2", 3), item("P1", 1)),
		invoiceAt(to.Add(11*time.Hour), "7.50", item("P2", 1)),
	}

	days := DailySummaries(invoices, from, to, time.UTC)

	require.Len(t, days, 3)
	assert.Equal(t, "2026-03-01", days[0].Date)
	assert.Equal(t, 2, days[0].TransactionCount)
	assert.True(t, days[0].Revenue.Equal(decimal.RequireFromString("15.01")))
	assert.True(t, days[0].AverageTransaction.Equal(decimal.RequireFromString("7.51")))
	require.NotNil(t, days[0].TopProduct)
	assert.Equal(t, "P1", days[0].TopProduct.ProductID)
	assert.Equal(t, 3, days[0].TopProduct.Quantity)

	assert.Equal(t, 0, days[1].TransactionCount)
	assert.Nil(t, days[1].TopProduct)
	assert.True(t, days[1].Revenue.IsZero())

	assert.Equal(t, 1, days[2].TransactionCount)
}

func TestDailySummariesUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*3600)
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, loc)
	// 18:30 UTC on Mar 1 is already Mar 2 at UTC+7
	late := time.Date(2026, 3, 1, 18, 30, 0, 0, time.UTC)

	days := DailySummaries([]domain.FinalizedInvoice{invoiceAt(late, "4.00", item("P1", 1))}, from, from.AddDate(0, 0, 1), loc)

	require.Len(t, days, 2)
	assert.Equal(t, 0, days[0].TransactionCount)
	assert.Equal(t, 1, days[1].TransactionCount)
}

func TestDailyReportTotals(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rep := DailyReport([]domain.FinalizedInvoice{
		invoiceAt(from.Add(time.Hour), "1.10", item("P1", 1)),
		invoiceAt(from.Add(2*time.Hour), "2.20", item("P1", 1)),
	}, from, from, nil, from)

	assert.Equal(t, 2, rep.TotalCount)
	assert.True(t, rep.TotalRevenue.Equal(decimal.RequireFromString("3.30")))
	assert.Equal(t, "UTC", rep.Timezone)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, domain.StockStatusCritical, Classify(0, 5))
	assert.Equal(t, domain.StockStatusCritical, Classify(-2, 5))
	assert.Equal(t, domain.StockStatusLow, Classify(4, 5))
	assert.Equal(t, domain.StockStatusGood, Classify(5, 5))
}

func TestInventoryStatusFlagsDrift(t *testing.T) {
	products := []domain.Product{
		{ID: "P2", Name: "Bag", OnHand: 0, MinInventory: 1, CostPrice: decimal.RequireFromString("0.10")},
		{ID: "P1", Name: "Tea", OnHand: 8, MinInventory: 3, CostPrice: decimal.RequireFromString("1.25"), ManageByLot: true},
	}

	rep := InventoryStatus(products, map[string]int{"P1": 7}, time.Now())

	require.Len(t, rep.Rows, 2)
	assert.Equal(t, "P1", rep.Rows[0].ProductID)
	assert.True(t, rep.Rows[0].BatchDrift)
	assert.Equal(t, 1, rep.Good)
	assert.Equal(t, 1, rep.Critical)
	assert.True(t, rep.TotalValue.Equal(decimal.RequireFromString("10.00")))
}

func sampleDaily() domain.DailyReport {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return DailyReport([]domain.FinalizedInvoice{invoiceAt(from.Add(time.Hour), "9.25", item("P1", 2))}, from, from, time.UTC, from)
}

func TestDailyCSV(t *testing.T) {
	data, err := DailyCSV(sampleDaily())
	require.NoError(t, err)

	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "date", rows[0][0])
	assert.Equal(t, []string{"2026-03-01", "1", "9.25", "9.25", "P1", "2"}, rows[1])
}

func TestDailyXLSXOpens(t *testing.T) {
	data, err := DailyXLSX(sampleDaily())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	assert.NotEmpty(t, f.GetSheetList())
}

func TestPDFExports(t *testing.T) {
	data, err := DailyPDF(sampleDaily())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF")))

	inv := InventoryStatus([]domain.Product{{ID: "P1", Name: "Tea", OnHand: 1}}, nil, time.Now())
	data, err = InventoryPDF(inv)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF")))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/pdf", ContentType(FormatPDF))
	assert.Equal(t, "application/json", ContentType("anything"))
}
