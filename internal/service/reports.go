package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"possettle/internal/domain"
	"possettle/internal/reconcile"
	"possettle/internal/report"
)

const maxReportDays = 366

// dayBounds turns an inclusive range of calendar days in the report zone into
// the half-open instant range [start, end). A zero from or to means today.
func (s *Service) dayBounds(from time.Time, to time.Time) (time.Time, time.Time, error) {
	loc := s.settings.ReportLocation
	today := s.now().In(loc)
	if from.IsZero() {
		from = today
	}
	if to.IsZero() {
		to = today
	}
	from, to = from.In(loc), to.In(loc)
	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
	last := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, loc)
	if last.Before(start) {
		return time.Time{}, time.Time{}, invalid("to", "must not be before from")
	}
	end := last.AddDate(0, 0, 1)
	if end.Sub(start) > maxReportDays*24*time.Hour {
		return time.Time{}, time.Time{}, invalid("to", "range exceeds %d days", maxReportDays)
	}
	return start, end, nil
}

// DailyReport groups finalized invoices by sale day. Rendered reports are
// cached until the next settlement.
func (s *Service) DailyReport(ctx context.Context, actor domain.Actor, from time.Time, to time.Time) (domain.DailyReport, error) {
	if !actor.CanSettle() {
		return domain.DailyReport{}, ErrPermissionDenied
	}
	start, end, err := s.dayBounds(from, to)
	if err != nil {
		return domain.DailyReport{}, err
	}

	loc := s.settings.ReportLocation
	key := fmt.Sprintf("daily:%s:%s:%s", start.Format(time.DateOnly), end.Format(time.DateOnly), loc.String())
	if cached, ok, err := s.reports.Get(ctx, key); err != nil {
		s.logger.Warn("read report cache", zap.String("key", key), zap.Error(err))
	} else if ok {
		var out domain.DailyReport
		if err := json.Unmarshal(cached, &out); err == nil {
			return out, nil
		}
		s.logger.Warn("discarding unreadable cached report", zap.String("key", key))
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	invoices, err := s.repo.ListInvoices(ctx, start, end)
	if err != nil {
		return domain.DailyReport{}, dependency("list invoices", err)
	}
	out := report.DailyReport(invoices, start, end.AddDate(0, 0, -1), loc, s.now())

	if payload, err := json.Marshal(out); err == nil {
		if err := s.reports.Set(ctx, key, payload, s.settings.ReportCacheTTL); err != nil {
			s.logger.Warn("write report cache", zap.String("key", key), zap.Error(err))
		}
	}
	return out, nil
}

// InventoryReport classifies every product by stock level and values stock at
// cost. Lot products are checked against the sum of their batches.
func (s *Service) InventoryReport(ctx context.Context, actor domain.Actor) (domain.InventoryReport, error) {
	if !actor.CanSettle() {
		return domain.InventoryReport{}, ErrPermissionDenied
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return domain.InventoryReport{}, dependency("list products", err)
	}
	batchTotals := make(map[string]int)
	for _, product := range products {
		if !product.ManageByLot {
			continue
		}
		batches, err := s.repo.ListBatches(ctx, product.ID)
		if err != nil {
			return domain.InventoryReport{}, dependency("list batches", err)
		}
		total := 0
		for _, batch := range batches {
			total += batch.Remaining
		}
		batchTotals[product.ID] = total
	}
	return report.InventoryStatus(products, batchTotals, s.now()), nil
}

// CashDrawerReport reconciles cash sales finalized within the day range, and
// pending ones too when includePending is set.
func (s *Service) CashDrawerReport(ctx context.Context, actor domain.Actor, from time.Time, to time.Time, includePending bool, opts reconcile.Options) (domain.CashDrawerReport, error) {
	if !actor.CanSettle() {
		return domain.CashDrawerReport{}, ErrPermissionDenied
	}
	start, end, err := s.dayBounds(from, to)
	if err != nil {
		return domain.CashDrawerReport{}, err
	}
	if opts.OpeningFloat.IsNegative() {
		return domain.CashDrawerReport{}, invalid("openingFloat", "must not be negative")
	}
	if opts.CountedCash != nil && opts.CountedCash.IsNegative() {
		return domain.CashDrawerReport{}, invalid("countedCash", "must not be negative")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	invoices, err := s.repo.ListInvoices(ctx, start, end)
	if err != nil {
		return domain.CashDrawerReport{}, dependency("list invoices", err)
	}
	records := make([]reconcile.Record, 0, len(invoices))
	for _, invoice := range invoices {
		records = append(records, reconcile.Record{
			TransactionID: invoice.OriginalTransactionID,
			State:         reconcile.StateFinalized,
			Sale:          invoice.Sale,
		})
	}

	if includePending {
		pending, err := s.repo.ListPending(ctx, 0)
		if err != nil {
			return domain.CashDrawerReport{}, dependency("list pending", err)
		}
		for _, txn := range pending {
			if txn.CreatedAt.Before(start) || !txn.CreatedAt.Before(end) {
				continue
			}
			records = append(records, reconcile.Record{
				TransactionID: txn.ID,
				State:         reconcile.StatePending,
				Sale:          txn.Sale,
			})
		}
	}

	return reconcile.CashDrawer(records, opts), nil
}
