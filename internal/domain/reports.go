package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TopProduct struct {
	ProductID   string `json:"productId"`
	ProductName string `json:"productName"`
	Quantity    int    `json:"quantity"`
}

type DailySummary struct {
	Date               string          `json:"date"`
	TransactionCount   int             `json:"transactionCount"`
	Revenue            decimal.Decimal `json:"revenue"`
	AverageTransaction decimal.Decimal `json:"averageTransaction"`
	TopProduct         *TopProduct     `json:"topProduct,omitempty"`
}

type DailyReport struct {
	From         string          `json:"from"`
	To           string          `json:"to"`
	Timezone     string          `json:"timezone"`
	Days         []DailySummary  `json:"days"`
	TotalCount   int             `json:"totalCount"`
	TotalRevenue decimal.Decimal `json:"totalRevenue"`
	GeneratedAt  time.Time       `json:"generatedAt"`
}

const (
	StockStatusGood     = "good"
	StockStatusLow      = "low"
	StockStatusCritical = "critical"
)

type InventoryStatusRow struct {
	ProductID    string          `json:"productId"`
	Name         string          `json:"name"`
	OnHand       int             `json:"onHand"`
	MinInventory int             `json:"minInventory"`
	MaxInventory int             `json:"maxInventory"`
	Status       string          `json:"status"`
	StockValue   decimal.Decimal `json:"stockValue"`
	ManageByLot  bool            `json:"manageByLot"`
	BatchTotal   *int            `json:"batchTotal,omitempty"`
	BatchDrift   bool            `json:"batchDrift,omitempty"`
}

type InventoryReport struct {
	Rows        []InventoryStatusRow `json:"rows"`
	Good        int                  `json:"good"`
	Low         int                  `json:"low"`
	Critical    int                  `json:"critical"`
	TotalValue  decimal.Decimal      `json:"totalValue"`
	GeneratedAt time.Time            `json:"generatedAt"`
}

type CashDrawerEntry struct {
	TransactionID  string          `json:"transactionId"`
	State          string          `json:"state"`
	Total          decimal.Decimal `json:"total"`
	Tendered       decimal.Decimal `json:"tendered"`
	ChangeGiven    decimal.Decimal `json:"changeGiven"`
	ExpectedChange decimal.Decimal `json:"expectedChange"`
	Mismatch       bool            `json:"mismatch"`
	Underpaid      bool            `json:"underpaid"`
}

type CashDrawerReport struct {
	Transactions     int               `json:"transactions"`
	Expected         decimal.Decimal   `json:"expected"`
	Received         decimal.Decimal   `json:"received"`
	ChangeGiven      decimal.Decimal   `json:"changeGiven"`
	Net              decimal.Decimal   `json:"net"`
	Mismatches       int               `json:"mismatches"`
	Entries          []CashDrawerEntry `json:"entries"`
	OpeningFloat     decimal.Decimal   `json:"openingFloat"`
	ExpectedInDrawer decimal.Decimal   `json:"expectedInDrawer"`
	CountedCash      *decimal.Decimal  `json:"countedCash,omitempty"`
	Variance         *decimal.Decimal  `json:"variance,omitempty"`
}
