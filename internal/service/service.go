package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"possettle/internal/cache"
	"possettle/internal/customer"
	"possettle/internal/domain"
	"possettle/internal/events"
	"possettle/internal/inventory"
	"possettle/internal/lock"
	"possettle/internal/metrics"
	"possettle/internal/store"
	"possettle/internal/xid"
)

type Settings struct {
	WalkInCustomerID    string
	OperationTimeout    time.Duration
	CompensationTimeout time.Duration
	ClaimLease          time.Duration
	FinalizeConcurrency int
	AmountTolerance     decimal.Decimal
	ReportCacheTTL      time.Duration
	ReportLocation      *time.Location
}

func DefaultSettings() Settings {
	return Settings{
		WalkInCustomerID:    customer.DefaultWalkInID,
		OperationTimeout:    10 * time.Second,
		CompensationTimeout: 15 * time.Second,
		ClaimLease:          30 * time.Second,
		FinalizeConcurrency: 8,
		AmountTolerance:     decimal.New(1, -2),
		ReportCacheTTL:      30 * time.Second,
		ReportLocation:      time.UTC,
	}
}

// Dependencies are the collaborators a Service may be given; zero values get
// in-process defaults built on the repository.
type Dependencies struct {
	Consumer    *inventory.Consumer
	Customers   *customer.Aggregator
	Publisher   events.Publisher
	ReportCache cache.ReportCache
	Logger      *zap.Logger
	Clock       func() time.Time
}

type Service struct {
	repo      store.Repository
	consumer  *inventory.Consumer
	customers *customer.Aggregator
	publisher events.Publisher
	reports   cache.ReportCache
	logger    *zap.Logger
	clock     func() time.Time
	settings  Settings
}

func New(repo store.Repository, deps Dependencies, settings Settings) *Service {
	defaults := DefaultSettings()
	if settings.OperationTimeout <= 0 {
		settings.OperationTimeout = defaults.OperationTimeout
	}
	if settings.CompensationTimeout <= 0 {
		settings.CompensationTimeout = defaults.CompensationTimeout
	}
	if settings.ClaimLease <= 0 {
		settings.ClaimLease = defaults.ClaimLease
	}
	if settings.FinalizeConcurrency < 1 {
		settings.FinalizeConcurrency = defaults.FinalizeConcurrency
	}
	if !settings.AmountTolerance.IsPositive() {
		settings.AmountTolerance = defaults.AmountTolerance
	}
	if settings.ReportCacheTTL <= 0 {
		settings.ReportCacheTTL = defaults.ReportCacheTTL
	}
	if settings.ReportLocation == nil {
		settings.ReportLocation = defaults.ReportLocation
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	consumer := deps.Consumer
	if consumer == nil {
		consumer = inventory.NewConsumer(repo, lock.NewLocal(), logger)
	}
	customers := deps.Customers
	if customers == nil {
		customers = customer.NewAggregator(repo, settings.WalkInCustomerID)
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	reports := deps.ReportCache
	if reports == nil {
		reports = cache.NoopReportCache{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		repo:      repo,
		consumer:  consumer,
		customers: customers,
		publisher: publisher,
		reports:   reports,
		logger:    logger.Named("service"),
		clock:     clock,
		settings:  settings,
	}
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.settings.OperationTimeout)
}

// compensationContext outlives the caller's cancellation so a rollback started
// after a timeout can still finish.
func (s *Service) compensationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.settings.CompensationTimeout)
}

// CreatePending records a sale from the point of sale. Cashiers and admins may
// call it; it is the only ledger write open to the cashier role.
func (s *Service) CreatePending(ctx context.Context, actor domain.Actor, sale domain.Sale) (*domain.PendingTransaction, error) {
	if !actor.CanRecordSale() {
		return nil, ErrPermissionDenied
	}

	sale = sale.Clone()
	sale.EmployeeID = strings.TrimSpace(sale.EmployeeID)
	if sale.EmployeeID == "" {
		sale.EmployeeID = actor.Username
	}
	if strings.TrimSpace(sale.EmployeeType) == "" {
		sale.EmployeeType = actor.Role
	}
	sale.PaymentMethod = strings.ToLower(strings.TrimSpace(sale.PaymentMethod))
	for i := range sale.Items {
		sale.Items[i].ProductID = strings.TrimSpace(sale.Items[i].ProductID)
	}
	if sale.IsCash() && sale.TenderedAmount != nil && sale.ChangeGiven == nil {
		change := roundMoney(sale.TenderedAmount.Sub(sale.Total))
		sale.ChangeGiven = &change
	}
	if err := validateSale(sale, s.settings.AmountTolerance); err != nil {
		return nil, err
	}

	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = s.now()
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	sale.CreatedAtTimestamp = sale.CreatedAt.UnixMilli()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	created, err := s.repo.CreatePending(ctx, domain.PendingTransaction{
		ID:     xid.New("txn"),
		Sale:   sale,
		Status: domain.PendingStatusPending,
	})
	if err != nil {
		return nil, dependency("create pending", err)
	}

	s.logAudit(ctx, actor, "pending_create", "pending_transaction", created.ID,
		fmt.Sprintf("items=%d,total=%s,payment=%s", len(created.Items), created.Total.StringFixed(2), created.PaymentMethod))
	s.publish(ctx, events.Event{Type: events.TypePendingCreated, Key: created.ID, OccurredAt: created.CreatedAt, Payload: created})
	return created, nil
}

func (s *Service) ListPending(ctx context.Context, actor domain.Actor, limit int) ([]domain.PendingTransaction, error) {
	if !actor.CanSettle() {
		return nil, ErrPermissionDenied
	}
	txns, err := s.repo.ListPending(ctx, limit)
	if err != nil {
		return nil, dependency("list pending", err)
	}
	return txns, nil
}

func (s *Service) GetInvoice(ctx context.Context, actor domain.Actor, id string) (*domain.FinalizedInvoice, error) {
	if !actor.CanSettle() {
		return nil, ErrPermissionDenied
	}
	invoice, err := s.repo.GetInvoice(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errors.Wrapf(err, "invoice %s", id)
		}
		return nil, dependency("get invoice", err)
	}
	return invoice, nil
}

func (s *Service) ListInvoices(ctx context.Context, actor domain.Actor, from time.Time, to time.Time) ([]domain.FinalizedInvoice, error) {
	if !actor.CanSettle() {
		return nil, ErrPermissionDenied
	}
	invoices, err := s.repo.ListInvoices(ctx, from, to)
	if err != nil {
		return nil, dependency("list invoices", err)
	}
	return invoices, nil
}

func (s *Service) ListVoided(ctx context.Context, actor domain.Actor, from time.Time, to time.Time) ([]domain.VoidedTransaction, error) {
	if !actor.CanSettle() {
		return nil, ErrPermissionDenied
	}
	voided, err := s.repo.ListVoided(ctx, from, to)
	if err != nil {
		return nil, dependency("list voided", err)
	}
	return voided, nil
}

func (s *Service) ListProducts(ctx context.Context, actor domain.Actor) ([]domain.Product, error) {
	if !actor.CanSettle() {
		return nil, ErrPermissionDenied
	}
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, dependency("list products", err)
	}
	return products, nil
}

func (s *Service) GetCustomer(ctx context.Context, actor domain.Actor, id string) (*domain.Customer, error) {
	if !actor.CanSettle() {
		return nil, ErrPermissionDenied
	}
	c, err := s.repo.GetCustomer(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errors.Wrapf(err, "customer %s", id)
		}
		return nil, dependency("get customer", err)
	}
	return c, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, actor domain.Actor, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if !actor.CanSettle() {
		return nil, ErrPermissionDenied
	}
	logs, err := s.repo.ListAuditLogs(ctx, from, to, limit)
	if err != nil {
		return nil, dependency("list audit logs", err)
	}
	return logs, nil
}

// ReceiveBatch books a new lot for a lot-managed product and raises its
// on-hand by the lot quantity.
func (s *Service) ReceiveBatch(ctx context.Context, actor domain.Actor, req domain.BatchReceiveRequest) (*domain.Batch, error) {
	if !actor.CanSettle() {
		return nil, ErrPermissionDenied
	}
	req.ProductID = strings.TrimSpace(req.ProductID)
	req.LotName = strings.TrimSpace(req.LotName)
	if req.ProductID == "" {
		return nil, invalid("productId", "required")
	}
	if req.Quantity < 1 {
		return nil, invalid("quantity", "must be a positive integer, got %d", req.Quantity)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	product, err := s.repo.GetProduct(ctx, req.ProductID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errors.Wrapf(err, "product %s", req.ProductID)
		}
		return nil, dependency("get product", err)
	}
	if !product.ManageByLot {
		return nil, invalid("productId", "product %s is not managed by lot", product.ID)
	}

	now := s.now()
	receivedAt := now
	if req.ReceivedAt != nil {
		receivedAt = req.ReceivedAt.UTC()
	}
	if req.ExpiryDate != nil && req.ExpiryDate.Before(receivedAt) {
		return nil, invalid("expiryDate", "must not be before receivedAt")
	}
	if req.LotName == "" {
		req.LotName = fmt.Sprintf("%s-%s", product.Number, receivedAt.Format("20060102"))
	}

	batch, err := s.repo.CreateBatch(ctx, domain.Batch{
		ID:         xid.New("lot"),
		ProductID:  product.ID,
		LotName:    req.LotName,
		ReceivedAt: receivedAt,
		ExpiryDate: req.ExpiryDate,
		Remaining:  req.Quantity,
		Initial:    req.Quantity,
		CreatedAt:  now,
	})
	if err != nil {
		return nil, dependency("create batch", err)
	}

	s.logAudit(ctx, actor, "batch_receive", "batch", batch.ID,
		fmt.Sprintf("product=%s,lot=%s,qty=%d", batch.ProductID, batch.LotName, batch.Initial))
	s.invalidateReports(ctx)
	return batch, nil
}

func (s *Service) logAudit(ctx context.Context, actor domain.Actor, action string, entityType string, entityID string, detail string) {
	if actor.Username == "" {
		actor = domain.Actor{Username: domain.RoleSystem, Role: domain.RoleSystem}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.Warn("write audit log",
			zap.String("action", action),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		metrics.IncEventPublish(event.Type, "error")
		s.logger.Warn("publish event",
			zap.String("type", event.Type),
			zap.String("key", event.Key),
			zap.Error(err))
		return
	}
	metrics.IncEventPublish(event.Type, "success")
}

func (s *Service) invalidateReports(ctx context.Context) {
	if err := s.reports.Invalidate(ctx); err != nil {
		s.logger.Warn("invalidate report cache", zap.Error(err))
	}
}
