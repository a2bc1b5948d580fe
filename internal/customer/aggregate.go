package customer

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"possettle/internal/store"
)

const DefaultWalkInID = "walk-in"

// Aggregator applies finalized purchases to customer running totals.
type Aggregator struct {
	store    store.CustomerStore
	walkInID string
}

func NewAggregator(customers store.CustomerStore, walkInID string) *Aggregator {
	walkInID = strings.TrimSpace(walkInID)
	if walkInID == "" {
		walkInID = DefaultWalkInID
	}
	return &Aggregator{store: customers, walkInID: walkInID}
}

// IsWalkIn reports whether id stands for an unidentified customer.
func (a *Aggregator) IsWalkIn(id string) bool {
	id = strings.TrimSpace(id)
	return id == "" || strings.EqualFold(id, a.walkInID)
}

// Purchase is what ApplyPurchase did, enough to undo it.
type Purchase struct {
	CustomerID   string
	InvoiceID    string
	Amount       decimal.Decimal
	At           time.Time
	PreviousLast *time.Time
	Applied      bool
}

// ApplyPurchase counts one purchase of amount at the given time. The invoice id
// makes it safe to retry: a second call for the same invoice changes nothing
// and reports Applied=false.
func (a *Aggregator) ApplyPurchase(ctx context.Context, customerID string, invoiceID string, amount decimal.Decimal, at time.Time) (Purchase, error) {
	if a.IsWalkIn(customerID) || invoiceID == "" || amount.IsNegative() {
		return Purchase{}, store.ErrValidation
	}

	previous, applied, err := a.store.ApplyCustomerPurchase(ctx, customerID, invoiceID, amount, at)
	if err != nil {
		return Purchase{}, err
	}
	return Purchase{
		CustomerID:   customerID,
		InvoiceID:    invoiceID,
		Amount:       amount,
		At:           at,
		PreviousLast: previous,
		Applied:      applied,
	}, nil
}

func (a *Aggregator) Revert(ctx context.Context, p Purchase) error {
	return a.store.RevertCustomerPurchase(ctx, p.CustomerID, p.InvoiceID, p.Amount, p.PreviousLast, p.At)
}
