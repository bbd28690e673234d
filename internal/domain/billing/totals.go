package billing

import (
	"time"

	"github.com/hms/billing/pkg/money"
)

// Recompute derives subtotal, total, balance and patient responsibility from
// the bill's items, discount, tax, payments and insurance coverage. Applying
// it twice with the same inputs yields the same bill.
func Recompute(b *Bill, items []*BillItem, now time.Time) {
	prices := make([]float64, len(items))
	for i, it := range items {
		prices[i] = it.TotalPrice
	}
	b.Subtotal = money.Sum(prices...)
	b.TotalAmount = money.Add(money.Sub(b.Subtotal, b.DiscountAmount), b.TaxAmount)
	RecomputeBalance(b, now)
}

// RecomputeBalance refreshes the fields that depend on the total after a
// payment, when items and discount are unchanged.
func RecomputeBalance(b *Bill, now time.Time) {
	b.Balance = money.Sub(b.TotalAmount, b.AmountPaid)
	b.PatientResponsibility = money.Sub(b.TotalAmount, b.InsuranceCoverage)
	b.UpdatedAt = now
}

// ApplyDiscountPercentage sets the discount from a percentage of the subtotal.
func ApplyDiscountPercentage(b *Bill, pct float64) {
	b.DiscountPercentage = money.Round(pct)
	b.DiscountAmount = money.Percent(b.Subtotal, pct)
}

// ApplyDiscountAmount sets a fixed discount and derives the equivalent
// percentage, which is 0 for an empty bill.
func ApplyDiscountAmount(b *Bill, amount float64) {
	b.DiscountAmount = money.Round(amount)
	b.DiscountPercentage = money.PercentOf(amount, b.Subtotal)
}
