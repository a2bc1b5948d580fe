package report

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"possettle/internal/domain"
)

const dateLayout = "2006-01-02"

// maxDays bounds the per-day rows a single daily report may expand to.
const maxDays = 366

// DailySummaries buckets invoices by the calendar day of their sale in loc and
// returns one row per day from the day of from up to and including the day of
// to, empty days included.
func DailySummaries(invoices []domain.FinalizedInvoice, from time.Time, to time.Time, loc *time.Location) []domain.DailySummary {
	if loc == nil {
		loc = time.UTC
	}
	first := startOfDay(from.In(loc))
	last := startOfDay(to.In(loc))
	if last.Before(first) {
		return []domain.DailySummary{}
	}

	type bucket struct {
		count    int
		revenue  decimal.Decimal
		quantity map[string]int
		names    map[string]string
	}
	buckets := make(map[string]*bucket)
	for _, invoice := range invoices {
		day := invoice.CreatedAt.In(loc).Format(dateLayout)
		b, ok := buckets[day]
		if !ok {
			b = &bucket{revenue: decimal.Zero, quantity: map[string]int{}, names: map[string]string{}}
			buckets[day] = b
		}
		b.count++
		b.revenue = b.revenue.Add(invoice.Total)
		for _, item := range invoice.Items {
			b.quantity[item.ProductID] += item.Quantity
			if b.names[item.ProductID] == "" {
				b.names[item.ProductID] = item.ProductName
			}
		}
	}

	days := make([]domain.DailySummary, 0, 8)
	for day := first; !day.After(last) && len(days) < maxDays; day = day.AddDate(0, 0, 1) {
		key := day.Format(dateLayout)
		summary := domain.DailySummary{
			Date:               key,
			Revenue:            decimal.Zero,
			AverageTransaction: decimal.Zero,
		}
		if b, ok := buckets[key]; ok {
			summary.TransactionCount = b.count
			summary.Revenue = b.revenue.Round(2)
			summary.AverageTransaction = b.revenue.Div(decimal.NewFromInt(int64(b.count))).Round(2)
			summary.TopProduct = topProduct(b.quantity, b.names)
		}
		days = append(days, summary)
	}
	return days
}

// DailyReport wraps DailySummaries with range totals.
func DailyReport(invoices []domain.FinalizedInvoice, from time.Time, to time.Time, loc *time.Location, now time.Time) domain.DailyReport {
	if loc == nil {
		loc = time.UTC
	}
	days := DailySummaries(invoices, from, to, loc)
	out := domain.DailyReport{
		From:         from.In(loc).Format(dateLayout),
		To:           to.In(loc).Format(dateLayout),
		Timezone:     loc.String(),
		Days:         days,
		TotalRevenue: decimal.Zero,
		GeneratedAt:  now,
	}
	for _, day := range days {
		out.TotalCount += day.TransactionCount
		out.TotalRevenue = out.TotalRevenue.Add(day.Revenue)
	}
	return out
}

func topProduct(quantity map[string]int, names map[string]string) *domain.TopProduct {
	var best *domain.TopProduct
	for productID, qty := range quantity {
		if best == nil || qty > best.Quantity || (qty == best.Quantity && productID < best.ProductID) {
			best = &domain.TopProduct{ProductID: productID, ProductName: names[productID], Quantity: qty}
		}
	}
	return best
}

// Classify maps on-hand against the minimum threshold.
func Classify(onHand int, minInventory int) string {
	switch {
	case onHand <= 0:
		return domain.StockStatusCritical
	case onHand < minInventory:
		return domain.StockStatusLow
	default:
		return domain.StockStatusGood
	}
}

// InventoryStatus classifies every product and values its stock at cost.
// batchTotals holds the summed remaining quantity per lot-managed product; a
// lot product whose on-hand disagrees with it is flagged as drifted.
func InventoryStatus(products []domain.Product, batchTotals map[string]int, now time.Time) domain.InventoryReport {
	out := domain.InventoryReport{
		Rows:        make([]domain.InventoryStatusRow, 0, len(products)),
		TotalValue:  decimal.Zero,
		GeneratedAt: now,
	}
	for _, product := range products {
		row := domain.InventoryStatusRow{
			ProductID:    product.ID,
			Name:         product.Name,
			OnHand:       product.OnHand,
			MinInventory: product.MinInventory,
			MaxInventory: product.MaxInventory,
			Status:       Classify(product.OnHand, product.MinInventory),
			StockValue:   product.CostPrice.Mul(decimal.NewFromInt(int64(product.OnHand))).Round(2),
			ManageByLot:  product.ManageByLot,
		}
		if product.ManageByLot {
			if total, ok := batchTotals[product.ID]; ok {
				row.BatchTotal = &total
				row.BatchDrift = total != product.OnHand
			}
		}

		switch row.Status {
		case domain.StockStatusCritical:
			out.Critical++
		case domain.StockStatusLow:
			out.Low++
		default:
			out.Good++
		}
		out.TotalValue = out.TotalValue.Add(row.StockValue)
		out.Rows = append(out.Rows, row)
	}

	slices.SortFunc(out.Rows, func(a, b domain.InventoryStatusRow) int {
		return strings.Compare(a.ProductID, b.ProductID)
	})
	return out
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
