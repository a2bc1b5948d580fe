package service

import (
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"possettle/internal/domain"
)

func roundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// validateSale checks the arithmetic of a sale: each line is quantity times
// unit price, the subtotal is the sum of lines, and the total is subtotal plus
// tax minus discount within tolerance.
func validateSale(sale domain.Sale, tolerance decimal.Decimal) error {
	if strings.TrimSpace(sale.EmployeeID) == "" {
		return invalid("employeeId", "required")
	}
	if len(sale.Items) == 0 {
		return invalid("items", "at least one line item required")
	}
	if strings.TrimSpace(sale.PaymentMethod) == "" {
		return invalid("paymentMethod", "required")
	}

	sum := decimal.Zero
	for i, item := range sale.Items {
		field := fmt.Sprintf("items[%d]", i)
		if strings.TrimSpace(item.ProductID) == "" {
			return invalid(field+".productId", "required")
		}
		if item.Quantity < 1 {
			return invalid(field+".quantity", "must be a positive integer, got %d", item.Quantity)
		}
		if item.UnitPrice.IsNegative() {
			return invalid(field+".unitPrice", "must not be negative")
		}
		want := roundMoney(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
		if !roundMoney(item.TotalPrice).Equal(want) {
			return invalid(field+".totalPrice", "expected %s, got %s", want.StringFixed(2), item.TotalPrice.String())
		}
		sum = sum.Add(roundMoney(item.TotalPrice))
	}

	if !roundMoney(sale.Subtotal).Equal(sum) {
		return invalid("subtotal", "expected %s, got %s", sum.StringFixed(2), sale.Subtotal.String())
	}
	if sale.Tax.IsNegative() {
		return invalid("tax", "must not be negative")
	}
	if sale.Discount.IsNegative() {
		return invalid("discount", "must not be negative")
	}
	if sale.Total.IsNegative() {
		return invalid("total", "must not be negative")
	}
	expectedTotal := sale.Subtotal.Add(sale.Tax).Sub(sale.Discount)
	if sale.Total.Sub(expectedTotal).Abs().GreaterThan(tolerance) {
		return invalid("total", "expected %s, got %s", roundMoney(expectedTotal).StringFixed(2), sale.Total.String())
	}

	if sale.TenderedAmount != nil && sale.TenderedAmount.IsNegative() {
		return invalid("tenderedAmount", "must not be negative")
	}
	if sale.ChangeGiven != nil && sale.ChangeGiven.IsNegative() {
		return invalid("changeGiven", "must not be negative")
	}
	return nil
}

type productQuantity struct {
	productID string
	quantity  int
}

// aggregateLines merges lines for the same product and orders the result by
// product id.
func aggregateLines(items []domain.LineItem) []productQuantity {
	totals := make(map[string]int, len(items))
	for _, item := range items {
		totals[item.ProductID] += item.Quantity
	}

	out := make([]productQuantity, 0, len(totals))
	for id, qty := range totals {
		out = append(out, productQuantity{productID: id, quantity: qty})
	}
	slices.SortFunc(out, func(a, b productQuantity) int {
		return strings.Compare(a.productID, b.productID)
	})
	return out
}
