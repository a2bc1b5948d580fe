package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
	RoleSystem  = "system"
)

const (
	PendingStatusPending  = "pending"
	PendingStatusSettling = "settling"
)

const PaymentMethodCash = "cash"

type Actor struct {
	Username string
	Role     string
}

// CanSettle reports whether the actor may read, finalize or void ledger records.
// The cashier role is write-only.
func (a Actor) CanSettle() bool {
	return a.Role == RoleAdmin
}

func (a Actor) CanRecordSale() bool {
	return a.Role == RoleAdmin || a.Role == RoleCashier
}

type LineItem struct {
	ProductID     string          `json:"productId"`
	ProductName   string          `json:"productName"`
	ProductNumber string          `json:"productNumber"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unitPrice"`
	TotalPrice    decimal.Decimal `json:"totalPrice"`
}

// Sale holds the fields a pending transaction carries into its finalized or
// voided copy.
type Sale struct {
	EmployeeID         string           `json:"employeeId"`
	EmployeeType       string           `json:"employeeType"`
	CustomerID         *string          `json:"customerId"`
	Items              []LineItem       `json:"items"`
	Subtotal           decimal.Decimal  `json:"subtotal"`
	Tax                decimal.Decimal  `json:"tax"`
	Discount           decimal.Decimal  `json:"discount"`
	Total              decimal.Decimal  `json:"total"`
	PaymentMethod      string           `json:"paymentMethod"`
	TenderedAmount     *decimal.Decimal `json:"tenderedAmount,omitempty"`
	ChangeGiven        *decimal.Decimal `json:"changeGiven,omitempty"`
	CreatedAt          time.Time        `json:"createdAt"`
	CreatedAtTimestamp int64            `json:"createdAtTimestamp"`
	Source             string           `json:"source,omitempty"`
	Version            string           `json:"version,omitempty"`
}

func (s Sale) IsCash() bool {
	return strings.EqualFold(strings.TrimSpace(s.PaymentMethod), PaymentMethodCash)
}

func (s Sale) Customer() string {
	if s.CustomerID == nil {
		return ""
	}
	return strings.TrimSpace(*s.CustomerID)
}

func (s Sale) Clone() Sale {
	out := s
	out.Items = append([]LineItem(nil), s.Items...)
	if s.CustomerID != nil {
		id := *s.CustomerID
		out.CustomerID = &id
	}
	if s.TenderedAmount != nil {
		v := *s.TenderedAmount
		out.TenderedAmount = &v
	}
	if s.ChangeGiven != nil {
		v := *s.ChangeGiven
		out.ChangeGiven = &v
	}
	return out
}

type PendingTransaction struct {
	ID string `json:"id"`
	Sale
	Status     string             `json:"status"`
	Settlement *SettlementJournal `json:"-"`
}

type FinalizedInvoice struct {
	ID string `json:"id"`
	Sale
	OriginalTransactionID string       `json:"originalTransactionId"`
	FinalizedAt           time.Time    `json:"finalizedAt"`
	FinalizedAtTimestamp  int64        `json:"finalizedAtTimestamp"`
	FinalizedBy           string       `json:"finalizedBy"`
	InventoryDeducted     bool         `json:"inventoryDeducted"`
	StockDebits           []StockDebit `json:"stockDebits,omitempty"`
}

type VoidedTransaction struct {
	ID string `json:"id"`
	Sale
	OriginalTransactionID string    `json:"originalTransactionId"`
	VoidedAt              time.Time `json:"voidedAt"`
	VoidedAtTimestamp     int64     `json:"voidedAtTimestamp"`
	VoidedBy              string    `json:"voidedBy"`
	Reason                string    `json:"reason"`
}

type Product struct {
	ID           string          `json:"id"`
	Number       string          `json:"productNumber"`
	Name         string          `json:"name"`
	CostPrice    decimal.Decimal `json:"costPrice"`
	SellingPrice decimal.Decimal `json:"sellingPrice"`
	OnHand       int             `json:"onHand"`
	MinInventory int             `json:"minInventory"`
	MaxInventory int             `json:"maxInventory"`
	ManageByLot  bool            `json:"manageByLot"`
}

type Batch struct {
	ID         string     `json:"id"`
	ProductID  string     `json:"productNumber"`
	LotName    string     `json:"lotName"`
	ReceivedAt time.Time  `json:"receivedAt"`
	ExpiryDate *time.Time `json:"expiryDate,omitempty"`
	Remaining  int        `json:"quantity"`
	Initial    int        `json:"initialQuantity"`
	CreatedAt  time.Time  `json:"createdAt"`
}

type BatchReceiveRequest struct {
	ProductID  string     `json:"productId"`
	LotName    string     `json:"lotName"`
	Quantity   int        `json:"quantity"`
	ReceivedAt *time.Time `json:"receivedAt,omitempty"`
	ExpiryDate *time.Time `json:"expiryDate,omitempty"`
}

type Customer struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	TotalPurchases int             `json:"totalPurchases"`
	TotalSpent     decimal.Decimal `json:"totalSpent"`
	LastPurchase   *time.Time      `json:"lastPurchase,omitempty"`
}

type BatchConsumption struct {
	BatchID  string `json:"batchId"`
	Quantity int    `json:"quantity"`
}

// StockDebit is what one product gave up during a finalize. For products that
// are not lot-managed Batches is empty and Quantity came off on-hand directly.
type StockDebit struct {
	ProductID   string             `json:"productId"`
	Quantity    int                `json:"quantity"`
	LotManaged  bool               `json:"lotManaged"`
	Batches     []BatchConsumption `json:"batches,omitempty"`
	Compensated bool               `json:"compensated,omitempty"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actorUsername"`
	ActorRole     string    `json:"actorRole"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entityType"`
	EntityID      string    `json:"entityId"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"createdAt"`
}

type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"accessToken"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expiresAt"`
}

type VoidRequest struct {
	Reason string `json:"reason"`
}

type FinalizeBatchRequest struct {
	TransactionIDs []string `json:"transactionIds"`
}

const (
	OutcomeFinalized      = "finalized"
	OutcomeAlreadySettled = "already_settled"
	OutcomeFailed         = "failed"
)

type FinalizeOutcome struct {
	TransactionID string `json:"transactionId"`
	InvoiceID     string `json:"invoiceId,omitempty"`
	Status        string `json:"status"`
	Kind          string `json:"kind,omitempty"`
	Error         string `json:"error,omitempty"`
}

type FinalizeAllResult struct {
	Succeeded      int               `json:"succeeded"`
	AlreadySettled int               `json:"alreadySettled"`
	Failed         int               `json:"failed"`
	FailedIDs      []string          `json:"failedIds"`
	Outcomes       []FinalizeOutcome `json:"outcomes"`
}

type FinalizeResult struct {
	InvoiceID string            `json:"invoiceId"`
	Invoice   *FinalizedInvoice `json:"invoice,omitempty"`
}
