package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"possettle/internal/domain"
)

var (
	ErrNotFound          = errors.New("store: not found")
	ErrValidation        = errors.New("store: invalid record")
	ErrInsufficientStock = errors.New("store: insufficient stock")
	ErrAlreadySettled    = errors.New("store: transaction already settled")
	ErrConflict          = errors.New("store: concurrent modification")
	ErrClaimLost         = errors.New("store: settlement claim lost")
)

// LedgerStore holds pending, finalized and voided sale records.
//
// ClaimPending is the status guard for settlement: it moves a pending record
// to settling only when it is pending, or when it is settling under a journal
// whose lease has expired. In the takeover case the previous journal is
// returned so the caller can compensate it. A live claim by someone else
// yields ErrAlreadySettled.
type LedgerStore interface {
	CreatePending(ctx context.Context, txn domain.PendingTransaction) (*domain.PendingTransaction, error)
	GetPending(ctx context.Context, id string) (*domain.PendingTransaction, error)
	ListPending(ctx context.Context, limit int) ([]domain.PendingTransaction, error)
	ClaimPending(ctx context.Context, id string, journal domain.SettlementJournal, now time.Time) (*domain.PendingTransaction, *domain.SettlementJournal, error)
	SaveJournal(ctx context.Context, id string, journal domain.SettlementJournal) error
	ReleaseClaim(ctx context.Context, id string, token string) error
	DeletePending(ctx context.Context, id string, token string) error
	ListStaleClaims(ctx context.Context, now time.Time, limit int) ([]domain.PendingTransaction, error)

	CreateInvoice(ctx context.Context, invoice domain.FinalizedInvoice) error
	DeleteInvoice(ctx context.Context, id string) error
	GetInvoice(ctx context.Context, id string) (*domain.FinalizedInvoice, error)
	FindInvoiceByTransaction(ctx context.Context, transactionID string) (*domain.FinalizedInvoice, error)
	ListInvoices(ctx context.Context, from time.Time, to time.Time) ([]domain.FinalizedInvoice, error)

	CreateVoided(ctx context.Context, voided domain.VoidedTransaction) error
	DeleteVoided(ctx context.Context, id string) error
	FindVoidedByTransaction(ctx context.Context, transactionID string) (*domain.VoidedTransaction, error)
	ListVoided(ctx context.Context, from time.Time, to time.Time) ([]domain.VoidedTransaction, error)
}

// InventoryStore keeps products and their batches. DebitBatches and
// CreditBatches touch every listed batch or none, and move the product's
// on-hand by the same amount.
type InventoryStore interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	UpsertProduct(ctx context.Context, product domain.Product) error
	ListBatches(ctx context.Context, productID string) ([]domain.Batch, error)
	CreateBatch(ctx context.Context, batch domain.Batch) (*domain.Batch, error)
	DebitBatches(ctx context.Context, productID string, takes []domain.BatchConsumption) error
	CreditBatches(ctx context.Context, productID string, takes []domain.BatchConsumption) error
	AdjustOnHand(ctx context.Context, productID string, delta int) (int, error)
}

// CustomerStore keeps per-customer purchase aggregates. Purchases are keyed by
// invoice id so applying or reverting the same invoice twice is a no-op.
type CustomerStore interface {
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	UpsertCustomer(ctx context.Context, customer domain.Customer) error
	ApplyCustomerPurchase(ctx context.Context, customerID string, invoiceID string, amount decimal.Decimal, at time.Time) (previousLast *time.Time, applied bool, err error)
	RevertCustomerPurchase(ctx context.Context, customerID string, invoiceID string, amount decimal.Decimal, previousLast *time.Time, appliedAt time.Time) error
}

type AuditStore interface {
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type Repository interface {
	LedgerStore
	InventoryStore
	CustomerStore
	AuditStore
	UserStore
}
