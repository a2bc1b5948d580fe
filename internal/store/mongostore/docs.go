package mongostore

import (
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"possettle/internal/domain"
)

type lineItemDoc struct {
	ProductID     string               `bson:"productId"`
	ProductName   string               `bson:"productName"`
	ProductNumber string               `bson:"productNumber"`
	Quantity      int                  `bson:"quantity"`
	UnitPrice     primitive.Decimal128 `bson:"unitPrice"`
	TotalPrice    primitive.Decimal128 `bson:"totalPrice"`
}

// saleDoc carries the shared sale fields inline in pending, invoice and voided
// documents.
type saleDoc struct {
	EmployeeID         string                `bson:"employeeId"`
	EmployeeType       string                `bson:"employeeType"`
	CustomerID         *string               `bson:"customerId"`
	Items              []lineItemDoc         `bson:"items"`
	Subtotal           primitive.Decimal128  `bson:"subtotal"`
	Tax                primitive.Decimal128  `bson:"tax"`
	Discount           primitive.Decimal128  `bson:"discount"`
	Total              primitive.Decimal128  `bson:"total"`
	PaymentMethod      string                `bson:"paymentMethod"`
	TenderedAmount     *primitive.Decimal128 `bson:"tenderedAmount,omitempty"`
	ChangeGiven        *primitive.Decimal128 `bson:"changeGiven,omitempty"`
	CreatedAt          time.Time             `bson:"createdAt"`
	CreatedAtTimestamp int64                 `bson:"createdAtTimestamp"`
	Source             string                `bson:"source,omitempty"`
	Version            string                `bson:"version,omitempty"`
}

type batchTakeDoc struct {
	BatchID  string `bson:"batchId"`
	Quantity int    `bson:"quantity"`
}

type stockDebitDoc struct {
	ProductID   string         `bson:"productId"`
	Quantity    int            `bson:"quantity"`
	LotManaged  bool           `bson:"lotManaged"`
	Batches     []batchTakeDoc `bson:"batches,omitempty"`
	Compensated bool           `bson:"compensated,omitempty"`
}

type journalDoc struct {
	Operation            string               `bson:"operation"`
	Token                string               `bson:"token"`
	Actor                string               `bson:"actor"`
	Status               string               `bson:"status"`
	ClaimedAt            time.Time            `bson:"claimedAt"`
	ExpiresAt            time.Time            `bson:"expiresAt"`
	RecordID             string               `bson:"recordId"`
	StockDebits          []stockDebitDoc      `bson:"stockDebits,omitempty"`
	CustomerID           string               `bson:"customerId,omitempty"`
	CustomerAmount       primitive.Decimal128 `bson:"customerAmount"`
	CustomerAppliedAt    time.Time            `bson:"customerAppliedAt"`
	CustomerApplied      bool                 `bson:"customerApplied"`
	PreviousLastPurchase *time.Time           `bson:"previousLastPurchase,omitempty"`
	RecordWritten        bool                 `bson:"recordWritten"`
}

type pendingDoc struct {
	ID         string      `bson:"_id"`
	Sale       saleDoc     `bson:",inline"`
	Status     string      `bson:"status"`
	Settlement *journalDoc `bson:"settlement,omitempty"`
}

type invoiceDoc struct {
	ID                    string          `bson:"_id"`
	Sale                  saleDoc         `bson:",inline"`
	OriginalTransactionID string          `bson:"originalTransactionId"`
	FinalizedAt           time.Time       `bson:"finalizedAt"`
	FinalizedAtTimestamp  int64           `bson:"finalizedAtTimestamp"`
	FinalizedBy           string          `bson:"finalizedBy"`
	InventoryDeducted     bool            `bson:"inventoryDeducted"`
	StockDebits           []stockDebitDoc `bson:"stockDebits"`
}

type voidedDoc struct {
	ID                    string    `bson:"_id"`
	Sale                  saleDoc   `bson:",inline"`
	OriginalTransactionID string    `bson:"originalTransactionId"`
	VoidedAt              time.Time `bson:"voidedAt"`
	VoidedAtTimestamp     int64     `bson:"voidedAtTimestamp"`
	VoidedBy              string    `bson:"voidedBy"`
	Reason                string    `bson:"reason"`
}

type productDoc struct {
	ID           string               `bson:"_id"`
	Number       string               `bson:"productNumber"`
	Name         string               `bson:"name"`
	CostPrice    primitive.Decimal128 `bson:"costPrice"`
	SellingPrice primitive.Decimal128 `bson:"sellingPrice"`
	OnHand       int                  `bson:"onHand"`
	MinInventory int                  `bson:"minInventory"`
	MaxInventory int                  `bson:"maxInventory"`
	ManageByLot  bool                 `bson:"manageByLot"`
}

type batchDoc struct {
	ID         string     `bson:"_id"`
	ProductID  string     `bson:"productNumber"`
	LotName    string     `bson:"lotName"`
	ReceivedAt time.Time  `bson:"receivedAt"`
	ExpiryDate *time.Time `bson:"expiryDate,omitempty"`
	Remaining  int        `bson:"quantity"`
	Initial    int        `bson:"initialQuantity"`
	CreatedAt  time.Time  `bson:"createdAt"`
}

type customerDoc struct {
	ID             string               `bson:"_id"`
	Name           string               `bson:"name"`
	TotalPurchases int                  `bson:"totalPurchases"`
	TotalSpent     primitive.Decimal128 `bson:"totalSpent"`
	LastPurchase   *time.Time           `bson:"lastPurchase"`
}

type purchaseDoc struct {
	CustomerID string               `bson:"customerId"`
	InvoiceID  string               `bson:"invoiceId"`
	Amount     primitive.Decimal128 `bson:"amount"`
	AppliedAt  time.Time            `bson:"appliedAt"`
}

type auditDoc struct {
	ID            string    `bson:"_id"`
	ActorUsername string    `bson:"actorUsername"`
	ActorRole     string    `bson:"actorRole"`
	Action        string    `bson:"action"`
	EntityType    string    `bson:"entityType"`
	EntityID      string    `bson:"entityId"`
	Detail        string    `bson:"detail"`
	CreatedAt     time.Time `bson:"createdAt"`
}

type userDoc struct {
	Username  string    `bson:"_id"`
	Password  string    `bson:"password"`
	Role      string    `bson:"role"`
	Active    bool      `bson:"active"`
	CreatedAt time.Time `bson:"createdAt"`
}

func toDecimal128(d decimal.Decimal) primitive.Decimal128 {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.NewDecimal128(0, 0)
	}
	return v
}

func fromDecimal128(v primitive.Decimal128) decimal.Decimal {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}

func toDecimal128Ptr(d *decimal.Decimal) *primitive.Decimal128 {
	if d == nil {
		return nil
	}
	v := toDecimal128(*d)
	return &v
}

func fromDecimal128Ptr(v *primitive.Decimal128) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := fromDecimal128(*v)
	return &d
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func toSaleDoc(s domain.Sale) saleDoc {
	items := make([]lineItemDoc, 0, len(s.Items))
	for _, item := range s.Items {
		items = append(items, lineItemDoc{
			ProductID:     item.ProductID,
			ProductName:   item.ProductName,
			ProductNumber: item.ProductNumber,
			Quantity:      item.Quantity,
			UnitPrice:     toDecimal128(item.UnitPrice),
			TotalPrice:    toDecimal128(item.TotalPrice),
		})
	}
	return saleDoc{
		EmployeeID:         s.EmployeeID,
		EmployeeType:       s.EmployeeType,
		CustomerID:         s.CustomerID,
		Items:              items,
		Subtotal:           toDecimal128(s.Subtotal),
		Tax:                toDecimal128(s.Tax),
		Discount:           toDecimal128(s.Discount),
		Total:              toDecimal128(s.Total),
		PaymentMethod:      s.PaymentMethod,
		TenderedAmount:     toDecimal128Ptr(s.TenderedAmount),
		ChangeGiven:        toDecimal128Ptr(s.ChangeGiven),
		CreatedAt:          s.CreatedAt,
		CreatedAtTimestamp: s.CreatedAtTimestamp,
		Source:             s.Source,
		Version:            s.Version,
	}
}

func (d saleDoc) domain() domain.Sale {
	items := make([]domain.LineItem, 0, len(d.Items))
	for _, item := range d.Items {
		items = append(items, domain.LineItem{
			ProductID:     item.ProductID,
			ProductName:   item.ProductName,
			ProductNumber: item.ProductNumber,
			Quantity:      item.Quantity,
			UnitPrice:     fromDecimal128(item.UnitPrice),
			TotalPrice:    fromDecimal128(item.TotalPrice),
		})
	}
	return domain.Sale{
		EmployeeID:         d.EmployeeID,
		EmployeeType:       d.EmployeeType,
		CustomerID:         d.CustomerID,
		Items:              items,
		Subtotal:           fromDecimal128(d.Subtotal),
		Tax:                fromDecimal128(d.Tax),
		Discount:           fromDecimal128(d.Discount),
		Total:              fromDecimal128(d.Total),
		PaymentMethod:      d.PaymentMethod,
		TenderedAmount:     fromDecimal128Ptr(d.TenderedAmount),
		ChangeGiven:        fromDecimal128Ptr(d.ChangeGiven),
		CreatedAt:          d.CreatedAt.UTC(),
		CreatedAtTimestamp: d.CreatedAtTimestamp,
		Source:             d.Source,
		Version:            d.Version,
	}
}

func toDebitDocs(debits []domain.StockDebit) []stockDebitDoc {
	out := make([]stockDebitDoc, 0, len(debits))
	for _, debit := range debits {
		takes := make([]batchTakeDoc, 0, len(debit.Batches))
		for _, take := range debit.Batches {
			takes = append(takes, batchTakeDoc{BatchID: take.BatchID, Quantity: take.Quantity})
		}
		out = append(out, stockDebitDoc{
			ProductID:   debit.ProductID,
			Quantity:    debit.Quantity,
			LotManaged:  debit.LotManaged,
			Batches:     takes,
			Compensated: debit.Compensated,
		})
	}
	return out
}

func fromDebitDocs(docs []stockDebitDoc) []domain.StockDebit {
	out := make([]domain.StockDebit, 0, len(docs))
	for _, doc := range docs {
		var takes []domain.BatchConsumption
		for _, take := range doc.Batches {
			takes = append(takes, domain.BatchConsumption{BatchID: take.BatchID, Quantity: take.Quantity})
		}
		out = append(out, domain.StockDebit{
			ProductID:   doc.ProductID,
			Quantity:    doc.Quantity,
			LotManaged:  doc.LotManaged,
			Batches:     takes,
			Compensated: doc.Compensated,
		})
	}
	return out
}

func toJournalDoc(j domain.SettlementJournal) *journalDoc {
	return &journalDoc{
		Operation:            j.Operation,
		Token:                j.Token,
		Actor:                j.Actor,
		Status:               j.Status,
		ClaimedAt:            j.ClaimedAt,
		ExpiresAt:            j.ExpiresAt,
		RecordID:             j.RecordID,
		StockDebits:          toDebitDocs(j.StockDebits),
		CustomerID:           j.CustomerID,
		CustomerAmount:       toDecimal128(j.CustomerAmount),
		CustomerAppliedAt:    j.CustomerAppliedAt,
		CustomerApplied:      j.CustomerApplied,
		PreviousLastPurchase: j.PreviousLastPurchase,
		RecordWritten:        j.RecordWritten,
	}
}

func (d *journalDoc) domain() *domain.SettlementJournal {
	if d == nil {
		return nil
	}
	return &domain.SettlementJournal{
		Operation:            d.Operation,
		Token:                d.Token,
		Actor:                d.Actor,
		Status:               d.Status,
		ClaimedAt:            d.ClaimedAt.UTC(),
		ExpiresAt:            d.ExpiresAt.UTC(),
		RecordID:             d.RecordID,
		StockDebits:          fromDebitDocs(d.StockDebits),
		CustomerID:           d.CustomerID,
		CustomerAmount:       fromDecimal128(d.CustomerAmount),
		CustomerAppliedAt:    d.CustomerAppliedAt.UTC(),
		CustomerApplied:      d.CustomerApplied,
		PreviousLastPurchase: utcPtr(d.PreviousLastPurchase),
		RecordWritten:        d.RecordWritten,
	}
}

func (d pendingDoc) domain() domain.PendingTransaction {
	return domain.PendingTransaction{
		ID:         d.ID,
		Sale:       d.Sale.domain(),
		Status:     d.Status,
		Settlement: d.Settlement.domain(),
	}
}

func (d invoiceDoc) domain() domain.FinalizedInvoice {
	return domain.FinalizedInvoice{
		ID:                    d.ID,
		Sale:                  d.Sale.domain(),
		OriginalTransactionID: d.OriginalTransactionID,
		FinalizedAt:           d.FinalizedAt.UTC(),
		FinalizedAtTimestamp:  d.FinalizedAtTimestamp,
		FinalizedBy:           d.FinalizedBy,
		InventoryDeducted:     d.InventoryDeducted,
		StockDebits:           fromDebitDocs(d.StockDebits),
	}
}

func (d voidedDoc) domain() domain.VoidedTransaction {
	return domain.VoidedTransaction{
		ID:                    d.ID,
		Sale:                  d.Sale.domain(),
		OriginalTransactionID: d.OriginalTransactionID,
		VoidedAt:              d.VoidedAt.UTC(),
		VoidedAtTimestamp:     d.VoidedAtTimestamp,
		VoidedBy:              d.VoidedBy,
		Reason:                d.Reason,
	}
}

func (d productDoc) domain() domain.Product {
	return domain.Product{
		ID:           d.ID,
		Number:       d.Number,
		Name:         d.Name,
		CostPrice:    fromDecimal128(d.CostPrice),
		SellingPrice: fromDecimal128(d.SellingPrice),
		OnHand:       d.OnHand,
		MinInventory: d.MinInventory,
		MaxInventory: d.MaxInventory,
		ManageByLot:  d.ManageByLot,
	}
}

func (d batchDoc) domain() domain.Batch {
	return domain.Batch{
		ID:         d.ID,
		ProductID:  d.ProductID,
		LotName:    d.LotName,
		ReceivedAt: d.ReceivedAt.UTC(),
		ExpiryDate: utcPtr(d.ExpiryDate),
		Remaining:  d.Remaining,
		Initial:    d.Initial,
		CreatedAt:  d.CreatedAt.UTC(),
	}
}

func (d customerDoc) domain() domain.Customer {
	return domain.Customer{
		ID:             d.ID,
		Name:           d.Name,
		TotalPurchases: d.TotalPurchases,
		TotalSpent:     fromDecimal128(d.TotalSpent),
		LastPurchase:   utcPtr(d.LastPurchase),
	}
}
