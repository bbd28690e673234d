package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type PricingRepository interface {
	Create(ctx context.Context, p *ServicePricing) error
	GetByID(ctx context.Context, hospitalID string, id uuid.UUID) (*ServicePricing, error)
	Update(ctx context.Context, p *ServicePricing) error
	FindActive(ctx context.Context, hospitalID, category, name string) (*ServicePricing, error)
	List(ctx context.Context, hospitalID, category string, includeInactive bool) ([]*ServicePricing, error)
	CountByHospital(ctx context.Context, hospitalID string) (int, error)
}

type BillRepository interface {
	Create(ctx context.Context, b *Bill) error
	GetByID(ctx context.Context, hospitalID string, id uuid.UUID) (*Bill, error)
	// GetForUpdate locks the bill row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, hospitalID string, id uuid.UUID) (*Bill, error)
	// FindOpenForUpdate locks and returns the patient's open bill, or a
	// NotFound error when there is none.
	FindOpenForUpdate(ctx context.Context, hospitalID, patientID string) (*Bill, error)
	// Save persists status and amounts when the stored version still equals
	// b.Version, then increments b.Version. A stale version is a Conflict.
	Save(ctx context.Context, b *Bill) error
	ListByPatient(ctx context.Context, hospitalID, patientID string, status BillStatus, limit, offset int) ([]*Bill, int, error)
	// Items
	AddItem(ctx context.Context, item *BillItem) error
	GetItems(ctx context.Context, billID uuid.UUID) ([]*BillItem, error)
	// Discounts
	AddDiscount(ctx context.Context, d *BillDiscount) error
	GetDiscounts(ctx context.Context, billID uuid.UUID) ([]*BillDiscount, error)
}

type PaymentRepository interface {
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, hospitalID string, id uuid.UUID) (*Payment, error)
	ListByBill(ctx context.Context, billID uuid.UUID) ([]*Payment, error)
	CountCompletedByBill(ctx context.Context, billID uuid.UUID) (int, error)
}

type ReceiptRepository interface {
	Create(ctx context.Context, r *Receipt) error
	GetByID(ctx context.Context, hospitalID string, id uuid.UUID) (*Receipt, error)
}

type AuditRepository interface {
	Append(ctx context.Context, e *AuditEntry) error
	ListByBill(ctx context.Context, billID uuid.UUID, limit, offset int) ([]*AuditEntry, int, error)
}

type SequenceRepository interface {
	// Next atomically increments and returns the counter for
	// (hospital, docType, year), starting at 1.
	Next(ctx context.Context, hospitalID, docType string, year int) (int64, error)
}

// MethodTotal is the sum of completed payments for one payment method.
type MethodTotal struct {
	Method string
	Total  float64
	Count  int
}

// CategoryTotal is the sum of charged items for one service category.
type CategoryTotal struct {
	Category string
	Total    float64
}

// BillStats summarizes bills created in a window.
type BillStats struct {
	Count          int
	TotalDiscounts float64
}

type ReportRepository interface {
	PaymentsByMethod(ctx context.Context, hospitalID string, from, to time.Time) ([]MethodTotal, error)
	RevenueByCategory(ctx context.Context, hospitalID string, from, to time.Time) ([]CategoryTotal, error)
	BillsCreated(ctx context.Context, hospitalID string, from, to time.Time) (BillStats, error)
	OutstandingBalance(ctx context.Context, hospitalID string) (float64, error)
}
