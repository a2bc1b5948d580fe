package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"possettle/internal/customer"
	"possettle/internal/domain"
	"possettle/internal/events"
	"possettle/internal/metrics"
	"possettle/internal/store"
	"possettle/internal/xid"
)

const (
	staleClaimBatch = 50
	maxVoidReason   = 500
)

// Finalize settles a pending transaction into an invoice. Stock is debited
// oldest batch first, the customer aggregate is updated and the invoice is
// written; a failure at any step undoes the steps before it.
func (s *Service) Finalize(ctx context.Context, actor domain.Actor, id string) (domain.FinalizeResult, error) {
	start := time.Now()
	result, err := s.finalize(ctx, actor, strings.TrimSpace(id))
	metrics.ObserveSettlement(domain.OperationFinalize, resultLabel(err), time.Since(start))
	return result, err
}

func (s *Service) finalize(ctx context.Context, actor domain.Actor, id string) (domain.FinalizeResult, error) {
	if !actor.CanSettle() {
		return domain.FinalizeResult{}, ErrPermissionDenied
	}
	if id == "" {
		return domain.FinalizeResult{}, invalid("transactionId", "required")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	pending, err := s.loadPending(ctx, id)
	if err != nil {
		return domain.FinalizeResult{}, err
	}
	if err := validateSale(pending.Sale, s.settings.AmountTolerance); err != nil {
		return domain.FinalizeResult{}, err
	}
	if err := s.preflight(ctx, pending.Sale); err != nil {
		return domain.FinalizeResult{}, err
	}

	claimed, j, err := s.claim(ctx, actor, id, domain.OperationFinalize, xid.New("inv"))
	if err != nil {
		return domain.FinalizeResult{}, err
	}
	sale := claimed.Sale

	for _, line := range aggregateLines(sale.Items) {
		debit, err := s.consumer.Consume(ctx, line.productID, line.quantity)
		if err != nil {
			return domain.FinalizeResult{}, s.abort(ctx, id, j, errors.Wrapf(err, "debit %s", line.productID))
		}
		j.StockDebits = append(j.StockDebits, debit)
		if err := s.checkpoint(ctx, id, j, func(cctx context.Context) error {
			return s.consumer.Restore(cctx, debit)
		}); err != nil {
			return domain.FinalizeResult{}, s.abort(ctx, id, j, err)
		}
		metrics.AddStockDebit(debit.LotManaged, debit.Quantity)
	}

	if customerID := sale.Customer(); !s.customers.IsWalkIn(customerID) {
		j.CustomerID = customerID
		j.CustomerAmount = roundMoney(sale.Total)
		j.CustomerAppliedAt = sale.CreatedAt
		if err := s.checkpoint(ctx, id, j, nil); err != nil {
			return domain.FinalizeResult{}, s.abort(ctx, id, j, err)
		}

		purchase, err := s.customers.ApplyPurchase(ctx, customerID, j.RecordID, j.CustomerAmount, j.CustomerAppliedAt)
		if err != nil {
			return domain.FinalizeResult{}, s.abort(ctx, id, j, errors.Wrapf(err, "customer %s", customerID))
		}
		j.CustomerApplied = true
		j.PreviousLastPurchase = purchase.PreviousLast
		if err := s.checkpoint(ctx, id, j, func(cctx context.Context) error {
			return s.customers.Revert(cctx, purchase)
		}); err != nil {
			return domain.FinalizeResult{}, s.abort(ctx, id, j, err)
		}
	}

	finalizedAt := s.now()
	invoice := domain.FinalizedInvoice{
		ID:                    j.RecordID,
		Sale:                  sale,
		OriginalTransactionID: id,
		FinalizedAt:           finalizedAt,
		FinalizedAtTimestamp:  finalizedAt.UnixMilli(),
		FinalizedBy:           actor.Username,
		InventoryDeducted:     len(j.StockDebits) > 0,
		StockDebits:           j.StockDebits,
	}

	j.RecordWritten = true
	if err := s.checkpoint(ctx, id, j, nil); err != nil {
		return domain.FinalizeResult{}, s.abort(ctx, id, j, err)
	}
	if err := s.repo.CreateInvoice(ctx, invoice); err != nil {
		return domain.FinalizeResult{}, s.abort(ctx, id, j, errors.Wrap(err, "write invoice"))
	}
	if err := s.repo.DeletePending(ctx, id, j.Token); err != nil {
		return domain.FinalizeResult{}, s.abort(ctx, id, j, errors.Wrap(err, "remove pending"))
	}

	s.afterCommit(ctx, actor, "transaction_finalize", "invoice", invoice.ID,
		fmt.Sprintf("transaction=%s,total=%s,lines=%d", id, invoice.Total.StringFixed(2), len(invoice.Items)),
		events.Event{Type: events.TypeInvoiceFinalized, Key: id, OccurredAt: finalizedAt, Payload: invoice})

	return domain.FinalizeResult{InvoiceID: invoice.ID, Invoice: &invoice}, nil
}

// Void discards a pending transaction as an audited cancellation. Stock and
// customer aggregates are left alone.
func (s *Service) Void(ctx context.Context, actor domain.Actor, id string, reason string) (*domain.VoidedTransaction, error) {
	start := time.Now()
	voided, err := s.void(ctx, actor, strings.TrimSpace(id), strings.TrimSpace(reason))
	metrics.ObserveSettlement(domain.OperationVoid, resultLabel(err), time.Since(start))
	return voided, err
}

func (s *Service) void(ctx context.Context, actor domain.Actor, id string, reason string) (*domain.VoidedTransaction, error) {
	if !actor.CanSettle() {
		return nil, ErrPermissionDenied
	}
	if id == "" {
		return nil, invalid("transactionId", "required")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, invalid("reason", "required")
	}
	if len(reason) > maxVoidReason {
		return nil, invalid("reason", "must be at most %d characters", maxVoidReason)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.loadPending(ctx, id); err != nil {
		return nil, err
	}

	claimed, j, err := s.claim(ctx, actor, id, domain.OperationVoid, xid.New("void"))
	if err != nil {
		return nil, err
	}

	voidedAt := s.now()
	voided := domain.VoidedTransaction{
		ID:                    j.RecordID,
		Sale:                  claimed.Sale,
		OriginalTransactionID: id,
		VoidedAt:              voidedAt,
		VoidedAtTimestamp:     voidedAt.UnixMilli(),
		VoidedBy:              actor.Username,
		Reason:                reason,
	}

	j.RecordWritten = true
	if err := s.checkpoint(ctx, id, j, nil); err != nil {
		return nil, s.abort(ctx, id, j, err)
	}
	if err := s.repo.CreateVoided(ctx, voided); err != nil {
		return nil, s.abort(ctx, id, j, errors.Wrap(err, "write voided transaction"))
	}
	if err := s.repo.DeletePending(ctx, id, j.Token); err != nil {
		return nil, s.abort(ctx, id, j, errors.Wrap(err, "remove pending"))
	}

	s.afterCommit(ctx, actor, "transaction_void", "voided_transaction", voided.ID,
		fmt.Sprintf("transaction=%s,reason=%s", id, reason),
		events.Event{Type: events.TypeTransactionVoided, Key: id, OccurredAt: voidedAt, Payload: voided})

	return &voided, nil
}

// FinalizeAll finalizes each id on its own. One failure neither stops nor
// undoes the others; the result carries an outcome per id in input order.
func (s *Service) FinalizeAll(ctx context.Context, actor domain.Actor, ids []string) (domain.FinalizeAllResult, error) {
	if !actor.CanSettle() {
		return domain.FinalizeAllResult{}, ErrPermissionDenied
	}
	if len(ids) == 0 {
		return domain.FinalizeAllResult{}, invalid("transactionIds", "at least one id required")
	}
	metrics.ObserveBatchSize(len(ids))

	outcomes := make([]domain.FinalizeOutcome, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.settings.FinalizeConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			outcome := domain.FinalizeOutcome{TransactionID: id}
			result, err := s.Finalize(gctx, actor, id)
			var settled *AlreadySettledError
			switch {
			case err == nil:
				outcome.Status = domain.OutcomeFinalized
				outcome.InvoiceID = result.InvoiceID
			case errors.As(err, &settled):
				outcome.Status = domain.OutcomeAlreadySettled
				outcome.InvoiceID = settled.InvoiceID
				outcome.Kind = KindAlreadySettled
			default:
				outcome.Status = domain.OutcomeFailed
				outcome.Kind = ErrorKind(err)
				outcome.Error = err.Error()
			}
			outcomes[i] = outcome
			return nil
		})
	}
	_ = g.Wait()

	result := domain.FinalizeAllResult{Outcomes: outcomes, FailedIDs: []string{}}
	for _, outcome := range outcomes {
		switch outcome.Status {
		case domain.OutcomeFinalized:
			result.Succeeded++
		case domain.OutcomeAlreadySettled:
			result.AlreadySettled++
		default:
			result.Failed++
			result.FailedIDs = append(result.FailedIDs, outcome.TransactionID)
		}
	}

	s.logger.Info("batch finalize",
		zap.String("actor", actor.Username),
		zap.Int("requested", len(ids)),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("already_settled", result.AlreadySettled),
		zap.Int("failed", result.Failed))
	return result, nil
}

// RecoverStaleSettlements takes over settlements whose claim lease expired,
// undoes what they applied and returns the transactions to pending. It reports
// how many were recovered.
func (s *Service) RecoverStaleSettlements(ctx context.Context) (int, error) {
	stale, err := s.repo.ListStaleClaims(ctx, s.now(), staleClaimBatch)
	if err != nil {
		return 0, dependency("list stale claims", err)
	}

	actor := domain.Actor{Username: domain.RoleSystem, Role: domain.RoleSystem}
	recovered := 0
	for _, txn := range stale {
		if err := ctx.Err(); err != nil {
			return recovered, dependency("recover stale claims", err)
		}

		now := s.now()
		j := s.newJournal(actor, txn.Settlement.Operation, txn.Settlement.RecordID, now)
		_, previous, err := s.repo.ClaimPending(ctx, txn.ID, *j, now)
		if err != nil {
			if !errors.Is(err, store.ErrAlreadySettled) && !errors.Is(err, store.ErrNotFound) {
				s.logger.Warn("claim stale settlement", zap.String("transaction_id", txn.ID), zap.Error(err))
			}
			continue
		}
		if previous != nil {
			if err := s.recoverInto(ctx, txn.ID, j, previous); err != nil {
				s.logger.Error("recover stale settlement", zap.String("transaction_id", txn.ID), zap.Error(err))
				continue
			}
		}
		if err := s.repo.ReleaseClaim(ctx, txn.ID, j.Token); err != nil {
			s.logger.Warn("release recovered claim", zap.String("transaction_id", txn.ID), zap.Error(err))
			continue
		}

		recovered++
		metrics.IncRecoveredClaim()
		s.logAudit(ctx, actor, "settlement_recover", "pending_transaction", txn.ID,
			fmt.Sprintf("operation=%s,previous_actor=%s", txn.Settlement.Operation, txn.Settlement.Actor))
	}
	if recovered > 0 {
		s.logger.Info("recovered stale settlements", zap.Int("count", recovered))
	}
	return recovered, nil
}

func (s *Service) loadPending(ctx context.Context, id string) (*domain.PendingTransaction, error) {
	pending, err := s.repo.GetPending(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, s.settledOrMissing(ctx, id)
		}
		return nil, dependency("get pending", err)
	}
	if pending.Status == domain.PendingStatusSettling && !pending.Settlement.Expired(s.now()) {
		return nil, &AlreadySettledError{TransactionID: id, State: domain.PendingStatusSettling}
	}
	return pending, nil
}

// settledOrMissing explains why a pending record is gone: it was finalized,
// voided, or never existed.
func (s *Service) settledOrMissing(ctx context.Context, id string) error {
	invoice, err := s.repo.FindInvoiceByTransaction(ctx, id)
	if err == nil {
		return &AlreadySettledError{TransactionID: id, State: "finalized", InvoiceID: invoice.ID, RecordID: invoice.ID}
	}
	if !errors.Is(err, store.ErrNotFound) {
		return dependency("find invoice", err)
	}

	voided, err := s.repo.FindVoidedByTransaction(ctx, id)
	if err == nil {
		return &AlreadySettledError{TransactionID: id, State: "voided", RecordID: voided.ID}
	}
	if !errors.Is(err, store.ErrNotFound) {
		return dependency("find voided transaction", err)
	}
	return errors.Wrapf(store.ErrNotFound, "pending transaction %s", id)
}

// preflight checks that every product and the named customer exist, so a
// missing reference fails before anything is claimed or debited.
func (s *Service) preflight(ctx context.Context, sale domain.Sale) error {
	for _, line := range aggregateLines(sale.Items) {
		if _, err := s.repo.GetProduct(ctx, line.productID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return errors.Wrapf(err, "product %s", line.productID)
			}
			return dependency("get product", err)
		}
	}

	customerID := sale.Customer()
	if s.customers.IsWalkIn(customerID) {
		return nil
	}
	if _, err := s.repo.GetCustomer(ctx, customerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errors.Wrapf(err, "customer %s", customerID)
		}
		return dependency("get customer", err)
	}
	return nil
}

func (s *Service) newJournal(actor domain.Actor, operation string, recordID string, now time.Time) *domain.SettlementJournal {
	return &domain.SettlementJournal{
		Operation: operation,
		Token:     xid.Token(),
		Actor:     actor.Username,
		Status:    domain.JournalInProgress,
		ClaimedAt: now,
		ExpiresAt: now.Add(s.settings.ClaimLease),
		RecordID:  recordID,
	}
}

// claim moves the pending record to settling under a fresh journal. When it
// takes over an expired claim, the previous run is rolled back first.
func (s *Service) claim(ctx context.Context, actor domain.Actor, id string, operation string, recordID string) (*domain.PendingTransaction, *domain.SettlementJournal, error) {
	now := s.now()
	j := s.newJournal(actor, operation, recordID, now)

	claimed, previous, err := s.repo.ClaimPending(ctx, id, *j, now)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil, nil, s.settledOrMissing(ctx, id)
		case errors.Is(err, store.ErrAlreadySettled):
			return nil, nil, &AlreadySettledError{TransactionID: id, State: domain.PendingStatusSettling}
		default:
			return nil, nil, dependency("claim pending", err)
		}
	}

	if previous != nil {
		s.logger.Warn("taking over expired settlement",
			zap.String("transaction_id", id),
			zap.String("previous_operation", previous.Operation),
			zap.String("previous_actor", previous.Actor),
			zap.Time("expired_at", previous.ExpiresAt))
		if err := s.recoverInto(ctx, id, j, previous); err != nil {
			return nil, nil, dependency("recover expired settlement", err)
		}
	}
	return claimed, j, nil
}

// recoverInto adopts the steps of an interrupted run under our token, rolls
// them back and leaves j as a clean journal for the new run.
func (s *Service) recoverInto(ctx context.Context, id string, j *domain.SettlementJournal, previous *domain.SettlementJournal) error {
	fresh := *j

	inherited := previous.Clone()
	inherited.Token = j.Token
	inherited.ExpiresAt = j.ExpiresAt
	*j = *inherited

	if err := s.rollback(ctx, id, j); err != nil {
		return err
	}

	*j = fresh
	if err := s.repo.SaveJournal(ctx, id, *j); err != nil {
		return dependency("reset journal", err)
	}
	return nil
}

// checkpoint persists j. When the claim was lost before the step could be
// recorded, undo reverses that step at once since no journal will carry it.
func (s *Service) checkpoint(ctx context.Context, id string, j *domain.SettlementJournal, undo func(context.Context) error) error {
	err := s.repo.SaveJournal(ctx, id, *j)
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrClaimLost) && undo != nil {
		cctx, cancel := s.compensationContext(ctx)
		defer cancel()
		if uerr := undo(cctx); uerr != nil {
			metrics.IncCompensation("unrecorded_step", "error")
			s.logger.Error("undo unrecorded step after lost claim",
				zap.String("transaction_id", id),
				zap.Error(uerr))
		} else {
			metrics.IncCompensation("unrecorded_step", "success")
		}
	}
	return errors.Wrap(err, "save settlement journal")
}

// abort undoes what j recorded, releases the claim and returns cause
// classified. A lost claim is left to its new owner.
func (s *Service) abort(ctx context.Context, id string, j *domain.SettlementJournal, cause error) error {
	if errors.Is(cause, store.ErrClaimLost) {
		s.logger.Warn("settlement claim lost",
			zap.String("transaction_id", id),
			zap.String("operation", j.Operation),
			zap.Error(cause))
		return dependency(j.Operation, cause)
	}

	s.logger.Info("rolling back settlement",
		zap.String("transaction_id", id),
		zap.String("operation", j.Operation),
		zap.String("cause_kind", ErrorKind(cause)),
		zap.Error(cause))

	if err := s.rollback(ctx, id, j); err != nil {
		s.logger.Error("settlement rollback incomplete",
			zap.String("transaction_id", id),
			zap.Error(err))
		return dependency(j.Operation, cause)
	}

	cctx, cancel := s.compensationContext(ctx)
	defer cancel()
	if err := s.repo.ReleaseClaim(cctx, id, j.Token); err != nil {
		s.logger.Warn("release settlement claim",
			zap.String("transaction_id", id),
			zap.Error(err))
	}

	return dependency(j.Operation, cause)
}

// rollback reverses the recorded steps newest first: the record, then the
// customer purchase, then the stock debits. Each finished step is saved so a
// later takeover does not repeat it. A lost claim stops the rollback.
func (s *Service) rollback(ctx context.Context, id string, j *domain.SettlementJournal) error {
	ctx, cancel := s.compensationContext(ctx)
	defer cancel()

	j.Status = domain.JournalCompensating
	if err := s.saveCompensation(ctx, id, j); err != nil {
		return err
	}

	var failed error
	if j.RecordWritten {
		err := s.deleteRecord(ctx, j)
		s.observeCompensation("record", id, err)
		if err != nil {
			failed = err
		} else {
			j.RecordWritten = false
			if err := s.saveCompensation(ctx, id, j); err != nil {
				return err
			}
		}
	}

	if j.CustomerID != "" {
		err := s.customers.Revert(ctx, customerPurchase(j))
		s.observeCompensation("customer", id, err)
		if err != nil {
			failed = err
		} else {
			j.CustomerID = ""
			j.CustomerApplied = false
			if err := s.saveCompensation(ctx, id, j); err != nil {
				return err
			}
		}
	}

	for i := len(j.StockDebits) - 1; i >= 0; i-- {
		debit := j.StockDebits[i]
		if debit.Compensated {
			continue
		}
		err := s.consumer.Restore(ctx, debit)
		s.observeCompensation("stock", id, err)
		if err != nil {
			failed = err
			continue
		}
		j.StockDebits[i].Compensated = true
		if err := s.saveCompensation(ctx, id, j); err != nil {
			return err
		}
	}

	if failed != nil {
		return errors.Wrap(failed, "compensate settlement")
	}
	return nil
}

// saveCompensation persists rollback progress. Only a lost claim stops the
// rollback; other save failures are logged and the in-memory journal goes on.
func (s *Service) saveCompensation(ctx context.Context, id string, j *domain.SettlementJournal) error {
	err := s.repo.SaveJournal(ctx, id, *j)
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrClaimLost) {
		return errors.Wrap(err, "save compensation progress")
	}
	s.logger.Warn("save compensation progress", zap.String("transaction_id", id), zap.Error(err))
	return nil
}

func (s *Service) deleteRecord(ctx context.Context, j *domain.SettlementJournal) error {
	if j.Operation == domain.OperationVoid {
		return s.repo.DeleteVoided(ctx, j.RecordID)
	}
	return s.repo.DeleteInvoice(ctx, j.RecordID)
}

func customerPurchase(j *domain.SettlementJournal) customer.Purchase {
	return customer.Purchase{
		CustomerID:   j.CustomerID,
		InvoiceID:    j.RecordID,
		Amount:       j.CustomerAmount,
		At:           j.CustomerAppliedAt,
		PreviousLast: j.PreviousLastPurchase,
		Applied:      j.CustomerApplied,
	}
}

func (s *Service) observeCompensation(step string, id string, err error) {
	if err != nil {
		metrics.IncCompensation(step, "error")
		s.logger.Error("compensation step failed",
			zap.String("transaction_id", id),
			zap.String("step", step),
			zap.Error(err))
		return
	}
	metrics.IncCompensation(step, "success")
}

func (s *Service) afterCommit(ctx context.Context, actor domain.Actor, action string, entityType string, entityID string, detail string, event events.Event) {
	s.logAudit(ctx, actor, action, entityType, entityID, detail)
	s.publish(ctx, event)
	s.invalidateReports(ctx)
	s.logger.Info("settlement committed",
		zap.String("action", action),
		zap.String("transaction_id", event.Key),
		zap.String("record_id", entityID),
		zap.String("actor", actor.Username))
}
