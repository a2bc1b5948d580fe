package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OperationFinalize = "finalize"
	OperationVoid     = "void"
)

const (
	JournalInProgress   = "in_progress"
	JournalCompensating = "compensating"
)

// SettlementJournal records the steps a claimed settlement has applied so an
// interrupted run can be compensated by whoever takes the claim over.
type SettlementJournal struct {
	Operation string    `json:"operation"`
	Token     string    `json:"token"`
	Actor     string    `json:"actor"`
	Status    string    `json:"status"`
	ClaimedAt time.Time `json:"claimedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	RecordID  string    `json:"recordId"`

	StockDebits []StockDebit `json:"stockDebits,omitempty"`

	CustomerID           string          `json:"customerId,omitempty"`
	CustomerAmount       decimal.Decimal `json:"customerAmount"`
	CustomerAppliedAt    time.Time       `json:"customerAppliedAt"`
	CustomerApplied      bool            `json:"customerApplied"`
	PreviousLastPurchase *time.Time      `json:"previousLastPurchase,omitempty"`

	RecordWritten bool `json:"recordWritten"`
}

func (j *SettlementJournal) Expired(now time.Time) bool {
	return j != nil && !now.Before(j.ExpiresAt)
}

func (j *SettlementJournal) Clone() *SettlementJournal {
	if j == nil {
		return nil
	}
	out := *j
	out.StockDebits = make([]StockDebit, len(j.StockDebits))
	for i, debit := range j.StockDebits {
		debit.Batches = append([]BatchConsumption(nil), debit.Batches...)
		out.StockDebits[i] = debit
	}
	if j.PreviousLastPurchase != nil {
		prev := *j.PreviousLastPurchase
		out.PreviousLastPurchase = &prev
	}
	return &out
}
