// Package money holds the currency helpers shared by the billing ledger.
//
// Amounts travel as float64 (JSON numbers, NUMERIC columns scanned into
// float64). Every arithmetic step goes through decimal and is rounded to
// two places so that derived totals compare equal to currency precision.
package money

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Symbol is the display prefix for Nigerian Naira.
const Symbol = "₦"

// Places is the number of minor-unit digits kept after rounding.
const Places = 2

var printer = message.NewPrinter(language.English)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func out(v decimal.Decimal) float64 { return v.Round(Places).InexactFloat64() }

// Round rounds v half away from zero to two decimal places.
func Round(v float64) float64 { return out(d(v)) }

// Sum adds all values.
func Sum(values ...float64) float64 {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(d(v))
	}
	return out(total)
}

// Sub returns a - b.
func Sub(a, b float64) float64 { return out(d(a).Sub(d(b))) }

// Add returns a + b.
func Add(a, b float64) float64 { return out(d(a).Add(d(b))) }

// Mul returns unit * qty.
func Mul(unit float64, qty int) float64 {
	return out(d(unit).Mul(decimal.NewFromInt(int64(qty))))
}

// Scale returns v * factor, e.g. a staff price at 0.5 of base.
func Scale(v, factor float64) float64 { return out(d(v).Mul(d(factor))) }

// Percent returns pct percent of base.
func Percent(base, pct float64) float64 {
	return out(d(base).Mul(d(pct)).Div(decimal.NewFromInt(100)))
}

// PercentOf returns part as a percentage of whole. A zero whole yields 0.
func PercentOf(part, whole float64) float64 {
	if d(whole).IsZero() {
		return 0
	}
	return out(d(part).Div(d(whole)).Mul(decimal.NewFromInt(100)))
}

// RatioPercent is PercentOf without the final rounding, for threshold checks
// where 10.004 must stay above 10.
func RatioPercent(part, whole float64) float64 {
	if d(whole).IsZero() {
		return 0
	}
	return d(part).Div(d(whole)).Mul(decimal.NewFromInt(100)).InexactFloat64()
}

// Equal reports whether a and b agree to currency precision.
func Equal(a, b float64) bool {
	return d(a).Round(Places).Equal(d(b).Round(Places))
}

// Cmp compares a and b to currency precision: -1, 0 or +1.
func Cmp(a, b float64) int {
	return d(a).Round(Places).Cmp(d(b).Round(Places))
}

// Format renders v for display, e.g. 7500 -> "₦7,500.00".
func Format(v float64) string {
	r := Round(v)
	if r < 0 {
		return "-" + Symbol + printer.Sprintf("%.2f", -r)
	}
	return Symbol + printer.Sprintf("%.2f", r)
}
