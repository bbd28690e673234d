package billing

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/hms/billing/pkg/money"
)

type BillStatus string

const (
	BillOpen      BillStatus = "open"
	BillClosed    BillStatus = "closed"
	BillCancelled BillStatus = "cancelled"
)

const (
	VisitOutpatient = "outpatient"
	VisitInpatient  = "inpatient"
	VisitEmergency  = "emergency"
)

var validVisitTypes = map[string]bool{
	VisitOutpatient: true, VisitInpatient: true, VisitEmergency: true,
}

const (
	MethodCash        = "cash"
	MethodCard        = "card"
	MethodTransfer    = "transfer"
	MethodInsurance   = "insurance"
	MethodMobileMoney = "mobile_money"
)

var validPaymentMethods = map[string]bool{
	MethodCash: true, MethodCard: true, MethodTransfer: true, MethodInsurance: true, MethodMobileMoney: true,
}

const (
	PaymentCompleted = "completed"
	PaymentPending   = "pending"
	PaymentFailed    = "failed"
	PaymentRefunded  = "refunded"
)

// PriceTier selects which catalogue price applies to a charge.
type PriceTier string

const (
	TierBase      PriceTier = "base"
	TierInsurance PriceTier = "insurance"
	TierStaff     PriceTier = "staff"
)

const (
	AuditChargeAdded     = "charge_added"
	AuditDiscountApplied = "discount_applied"
	AuditPaymentReceived = "payment_received"
	AuditBillClosed      = "bill_closed"
	AuditBillCancelled   = "bill_cancelled"
)

// ServicePricing maps to the service_pricing table.
type ServicePricing struct {
	ID              uuid.UUID `db:"id" json:"id"`
	HospitalID      string    `db:"hospital_id" json:"hospital_id"`
	ServiceCategory string    `db:"service_category" json:"service_category"`
	ServiceName     string    `db:"service_name" json:"service_name"`
	ServiceCode     *string   `db:"service_code" json:"service_code,omitempty"`
	BasePrice       float64   `db:"base_price" json:"base_price"`
	InsurancePrice  *float64  `db:"insurance_price" json:"insurance_price,omitempty"`
	StaffPrice      *float64  `db:"staff_price" json:"staff_price,omitempty"`
	Description     *string   `db:"description" json:"description,omitempty"`
	IsActive        bool      `db:"is_active" json:"is_active"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// PriceFor returns the price for tier, falling back to the base price when
// the tier has none.
func (p *ServicePricing) PriceFor(tier PriceTier) float64 {
	switch tier {
	case TierInsurance:
		if p.InsurancePrice != nil {
			return *p.InsurancePrice
		}
	case TierStaff:
		if p.StaffPrice != nil {
			return *p.StaffPrice
		}
	}
	return p.BasePrice
}

func (p ServicePricing) MarshalJSON() ([]byte, error) {
	type alias ServicePricing
	return json.Marshal(struct {
		alias
		FormattedPrice string `json:"formatted_price"`
	}{alias(p), money.Format(p.BasePrice)})
}

// Bill maps to the patient_bills table. The derived amounts are maintained
// by Recompute and RecomputeBalance.
type Bill struct {
	ID                    uuid.UUID  `db:"id" json:"id"`
	BillNumber            string     `db:"bill_number" json:"bill_number"`
	HospitalID            string     `db:"hospital_id" json:"hospital_id"`
	PatientID             string     `db:"patient_id" json:"patient_id"`
	VisitType             string     `db:"visit_type" json:"visit_type"`
	AdmissionID           *string    `db:"admission_id" json:"admission_id,omitempty"`
	Status                BillStatus `db:"status" json:"status"`
	Subtotal              float64    `db:"subtotal" json:"subtotal"`
	DiscountAmount        float64    `db:"discount_amount" json:"discount_amount"`
	DiscountPercentage    float64    `db:"discount_percentage" json:"discount_percentage"`
	DiscountReason        *string    `db:"discount_reason" json:"discount_reason,omitempty"`
	DiscountApprovedBy    *string    `db:"discount_approved_by" json:"discount_approved_by,omitempty"`
	TaxAmount             float64    `db:"tax_amount" json:"tax_amount"`
	TotalAmount           float64    `db:"total_amount" json:"total_amount"`
	AmountPaid            float64    `db:"amount_paid" json:"amount_paid"`
	Balance               float64    `db:"balance" json:"balance"`
	InsuranceCoverage     float64    `db:"insurance_coverage" json:"insurance_coverage"`
	PatientResponsibility float64    `db:"patient_responsibility" json:"patient_responsibility"`
	InsuranceCompany      *string    `db:"insurance_company" json:"insurance_company,omitempty"`
	InsurancePolicy       *string    `db:"insurance_policy" json:"insurance_policy,omitempty"`
	Version               int        `db:"version" json:"version"`
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updated_at"`
	ClosedAt              *time.Time `db:"closed_at" json:"closed_at,omitempty"`
}

func (b Bill) MarshalJSON() ([]byte, error) {
	type alias Bill
	return json.Marshal(struct {
		alias
		FormattedTotal   string `json:"formatted_total"`
		FormattedBalance string `json:"formatted_balance"`
	}{alias(b), money.Format(b.TotalAmount), money.Format(b.Balance)})
}

// BillItem maps to the bill_items table. Items are append-only.
type BillItem struct {
	ID              uuid.UUID `db:"id" json:"id"`
	BillID          uuid.UUID `db:"bill_id" json:"bill_id"`
	ServiceCategory string    `db:"service_category" json:"service_category"`
	ServiceName     string    `db:"service_name" json:"service_name"`
	ServiceCode     *string   `db:"service_code" json:"service_code,omitempty"`
	Quantity        int       `db:"quantity" json:"quantity"`
	UnitPrice       float64   `db:"unit_price" json:"unit_price"`
	TotalPrice      float64   `db:"total_price" json:"total_price"`
	PerformedBy     string    `db:"performed_by" json:"performed_by"`
	PerformedAt     time.Time `db:"performed_at" json:"performed_at"`
	Department      *string   `db:"department" json:"department,omitempty"`
	ReferenceID     *string   `db:"reference_id" json:"reference_id,omitempty"`
	ReferenceType   *string   `db:"reference_type" json:"reference_type,omitempty"`
	Notes           *string   `db:"notes" json:"notes,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// BillDiscount maps to the bill_discounts table, the history of discounts
// applied to a bill. Only the latest entry is active.
type BillDiscount struct {
	ID         uuid.UUID `db:"id" json:"id"`
	BillID     uuid.UUID `db:"bill_id" json:"bill_id"`
	Percentage float64   `db:"percentage" json:"percentage"`
	Amount     float64   `db:"amount" json:"amount"`
	Reason     string    `db:"reason" json:"reason"`
	ApprovedBy string    `db:"approved_by" json:"approved_by"`
	Active     bool      `db:"active" json:"active"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Payment maps to the payments table. Payments are append-only.
type Payment struct {
	ID               uuid.UUID `db:"id" json:"id"`
	PaymentNumber    string    `db:"payment_number" json:"payment_number"`
	BillID           uuid.UUID `db:"bill_id" json:"bill_id"`
	HospitalID       string    `db:"hospital_id" json:"hospital_id"`
	PatientID        string    `db:"patient_id" json:"patient_id"`
	Amount           float64   `db:"amount" json:"amount"`
	PaymentMethod    string    `db:"payment_method" json:"payment_method"`
	PaymentReference *string   `db:"payment_reference" json:"payment_reference,omitempty"`
	PaymentStatus    string    `db:"payment_status" json:"payment_status"`
	ReceivedBy       string    `db:"received_by" json:"received_by"`
	Notes            *string   `db:"notes" json:"notes,omitempty"`
	PaymentDate      time.Time `db:"payment_date" json:"payment_date"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

func (p Payment) MarshalJSON() ([]byte, error) {
	type alias Payment
	return json.Marshal(struct {
		alias
		FormattedAmount string `json:"formatted_amount"`
	}{alias(p), money.Format(p.Amount)})
}

// Receipt maps to the receipts table. One receipt per payment.
type Receipt struct {
	ID            uuid.UUID `db:"id" json:"id"`
	ReceiptNumber string    `db:"receipt_number" json:"receipt_number"`
	PaymentID     uuid.UUID `db:"payment_id" json:"payment_id"`
	BillID        uuid.UUID `db:"bill_id" json:"bill_id"`
	HospitalID    string    `db:"hospital_id" json:"hospital_id"`
	PatientID     string    `db:"patient_id" json:"patient_id"`
	Amount        float64   `db:"amount" json:"amount"`
	PaymentMethod string    `db:"payment_method" json:"payment_method"`
	IssuedBy      string    `db:"issued_by" json:"issued_by"`
	IssuedAt      time.Time `db:"issued_at" json:"issued_at"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

func (r Receipt) MarshalJSON() ([]byte, error) {
	type alias Receipt
	return json.Marshal(struct {
		alias
		FormattedAmount string `json:"formatted_amount"`
	}{alias(r), money.Format(r.Amount)})
}

// AuditEntry maps to the billing_audit table. Entries are never updated.
type AuditEntry struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	HospitalID     string     `db:"hospital_id" json:"hospital_id"`
	BillID         *uuid.UUID `db:"bill_id" json:"bill_id,omitempty"`
	ActionType     string     `db:"action_type" json:"action_type"`
	ActionBy       string     `db:"action_by" json:"action_by"`
	ActionDetails  string     `db:"action_details" json:"action_details"`
	AmountInvolved float64    `db:"amount_involved" json:"amount_involved"`
	Timestamp      time.Time  `db:"timestamp" json:"timestamp"`
}

// Actor is the authenticated user a billing operation runs as.
type Actor struct {
	UserID     string
	Roles      []string
	HospitalID string
}
