package billing

import "fmt"

// Document types numbered per hospital and calendar year.
const (
	DocBill    = "BIL"
	DocPayment = "PAY"
	DocReceipt = "REC"
)

// FormatNumber renders a document number such as BIL-2026-00001.
func FormatNumber(prefix string, year int, n int64) string {
	return fmt.Sprintf("%s-%d-%05d", prefix, year, n)
}
