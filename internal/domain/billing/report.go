package billing

import (
	"fmt"
	"time"
)

// Window is a half-open time range [From, To).
type Window struct {
	From time.Time
	To   time.Time
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && t.Before(w.To)
}

// DayWindow returns the calendar day containing day, as observed in loc.
func DayWindow(day time.Time, loc *time.Location) Window {
	y, m, d := day.In(loc).Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return Window{From: from, To: from.AddDate(0, 0, 1)}
}

// MonthWindow returns the calendar month in loc.
func MonthWindow(year int, month time.Month, loc *time.Location) (Window, error) {
	if month < time.January || month > time.December {
		return Window{}, fmt.Errorf("month must be between 1 and 12, got %d", month)
	}
	if year < 1 || year > 9999 {
		return Window{}, fmt.Errorf("invalid year %d", year)
	}
	from := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	return Window{From: from, To: from.AddDate(0, 1, 0)}, nil
}

type DailyReport struct {
	Date                    string             `json:"date"`
	TotalCollected          float64            `json:"total_collected"`
	FormattedTotalCollected string             `json:"formatted_total_collected"`
	PaymentMethodsBreakdown map[string]float64 `json:"payment_methods_breakdown"`
	PaymentsCount           int                `json:"payments_count"`
	NewBills                int                `json:"new_bills"`
	OutstandingBalance      float64            `json:"outstanding_balance"`
}

type MonthlyReport struct {
	Period                string             `json:"period"`
	TotalRevenue          float64            `json:"total_revenue"`
	FormattedTotalRevenue string             `json:"formatted_total_revenue"`
	RevenueByCategory     map[string]float64 `json:"revenue_by_category"`
	TotalDiscounts        float64            `json:"total_discounts"`
	PaymentsCount         int                `json:"payments_count"`
	BillsGenerated        int                `json:"bills_generated"`
}
