package reconcile

import (
	"github.com/shopspring/decimal"

	"possettle/internal/domain"
)

const (
	StatePending   = "pending"
	StateFinalized = "finalized"
)

type Record struct {
	TransactionID string
	State         string
	Sale          domain.Sale
}

type Options struct {
	OpeningFloat decimal.Decimal
	CountedCash  *decimal.Decimal
}

// CashDrawer totals cash sales that carry a tendered amount. A sale whose
// stored change differs from tendered minus total is flagged, never dropped.
func CashDrawer(records []Record, opts Options) domain.CashDrawerReport {
	report := domain.CashDrawerReport{
		Expected:     decimal.Zero,
		Received:     decimal.Zero,
		ChangeGiven:  decimal.Zero,
		Net:          decimal.Zero,
		Entries:      make([]domain.CashDrawerEntry, 0),
		OpeningFloat: opts.OpeningFloat,
	}

	for _, rec := range records {
		sale := rec.Sale
		if !sale.IsCash() || sale.TenderedAmount == nil {
			continue
		}

		total := money(sale.Total)
		tendered := money(*sale.TenderedAmount)
		change := decimal.Zero
		if sale.ChangeGiven != nil {
			change = money(*sale.ChangeGiven)
		}
		expectedChange := tendered.Sub(total)

		entry := domain.CashDrawerEntry{
			TransactionID:  rec.TransactionID,
			State:          rec.State,
			Total:          total,
			Tendered:       tendered,
			ChangeGiven:    change,
			ExpectedChange: expectedChange,
			Mismatch:       !change.Equal(expectedChange),
			Underpaid:      tendered.LessThan(total),
		}
		if entry.Mismatch {
			report.Mismatches++
		}

		report.Transactions++
		report.Expected = report.Expected.Add(total)
		report.Received = report.Received.Add(tendered)
		report.ChangeGiven = report.ChangeGiven.Add(change)
		report.Entries = append(report.Entries, entry)
	}

	report.Net = report.Received.Sub(report.ChangeGiven)
	report.ExpectedInDrawer = report.OpeningFloat.Add(report.Net)
	if opts.CountedCash != nil {
		counted := money(*opts.CountedCash)
		variance := counted.Sub(report.ExpectedInDrawer)
		report.CountedCash = &counted
		report.Variance = &variance
	}
	return report
}

func money(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
