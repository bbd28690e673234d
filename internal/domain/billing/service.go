package billing

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/billing/internal/platform/apperr"
	"github.com/hms/billing/internal/platform/auth"
	"github.com/hms/billing/internal/platform/db"
	"github.com/hms/billing/internal/platform/events"
	"github.com/hms/billing/pkg/money"
)

// Repositories groups the storage dependencies of the billing service.
type Repositories struct {
	Pricing  PricingRepository
	Bills    BillRepository
	Payments PaymentRepository
	Receipts ReceiptRepository
	Audit    AuditRepository
	Sequence SequenceRepository
	Reports  ReportRepository
}

type Service struct {
	pricing  PricingRepository
	bills    BillRepository
	payments PaymentRepository
	receipts ReceiptRepository
	audit    AuditRepository
	seq      SequenceRepository
	reports  ReportRepository

	tx        db.Transactor
	policy    *auth.PolicyEngine
	publisher events.Publisher
	logger    zerolog.Logger
	loc       *time.Location
	now       func() time.Time
}

type Option func(*Service)

// WithPublisher sets the publisher that receives events after each commit.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithLocation sets the time zone used for document years and report windows.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repos Repositories, tx db.Transactor, policy *auth.PolicyEngine, opts ...Option) *Service {
	s := &Service{
		pricing:   repos.Pricing,
		bills:     repos.Bills,
		payments:  repos.Payments,
		receipts:  repos.Receipts,
		audit:     repos.Audit,
		seq:       repos.Sequence,
		reports:   repos.Reports,
		tx:        tx,
		policy:    policy,
		publisher: events.NopPublisher{},
		logger:    zerolog.Nop(),
		loc:       time.UTC,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

func checkActor(actor Actor) error {
	if strings.TrimSpace(actor.UserID) == "" {
		return apperr.Unauthorized("authentication required")
	}
	if strings.TrimSpace(actor.HospitalID) == "" {
		return apperr.Validation("hospital_id is required")
	}
	return nil
}

func (s *Service) authorize(actor Actor, action auth.Action, res auth.Resource) error {
	if err := checkActor(actor); err != nil {
		return err
	}
	d := s.policy.Evaluate(actor.Roles, action, res)
	if !d.Allowed {
		return apperr.Forbidden("%s", d.Reason)
	}
	return nil
}

func (s *Service) nextNumber(ctx context.Context, hospitalID, docType string, now time.Time) (string, error) {
	year := now.In(s.loc).Year()
	n, err := s.seq.Next(ctx, hospitalID, docType, year)
	if err != nil {
		return "", err
	}
	return FormatNumber(docType, year, n), nil
}

func (s *Service) record(ctx context.Context, actor Actor, billID uuid.UUID, action, details string, amount float64, now time.Time) error {
	id := billID
	entry := &AuditEntry{
		ID:             uuid.New(),
		HospitalID:     actor.HospitalID,
		BillID:         &id,
		ActionType:     action,
		ActionBy:       actor.UserID,
		ActionDetails:  details,
		AmountInvolved: amount,
		Timestamp:      now,
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		return fmt.Errorf("append %s audit entry: %w", action, err)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, typ events.Type, b *Bill, amount float64, actor Actor) {
	evt := events.BillingEvent{
		Type:       typ,
		HospitalID: b.HospitalID,
		BillID:     b.ID.String(),
		BillNumber: b.BillNumber,
		PatientID:  b.PatientID,
		Amount:     amount,
		Balance:    b.Balance,
		ActorID:    actor.UserID,
		OccurredAt: b.UpdatedAt,
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Warn().Err(err).Str("event", string(typ)).Str("bill_id", evt.BillID).Msg("publish billing event failed")
	}
}

func optional(v *string) *string {
	if v == nil || strings.TrimSpace(*v) == "" {
		return nil
	}
	return v
}

func roundPtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	r := money.Round(*v)
	return &r
}

// -- Pricing --

type PricingInput struct {
	ServiceCategory string   `json:"service_category" validate:"required"`
	ServiceName     string   `json:"service_name" validate:"required"`
	ServiceCode     *string  `json:"service_code"`
	BasePrice       float64  `json:"base_price" validate:"gte=0"`
	InsurancePrice  *float64 `json:"insurance_price" validate:"omitempty,gte=0"`
	StaffPrice      *float64 `json:"staff_price" validate:"omitempty,gte=0"`
	Description     *string  `json:"description"`
}

// PricingUpdate changes only the fields that are set.
type PricingUpdate struct {
	ServiceCategory *string  `json:"service_category"`
	ServiceName     *string  `json:"service_name"`
	ServiceCode     *string  `json:"service_code"`
	BasePrice       *float64 `json:"base_price" validate:"omitempty,gte=0"`
	InsurancePrice  *float64 `json:"insurance_price" validate:"omitempty,gte=0"`
	StaffPrice      *float64 `json:"staff_price" validate:"omitempty,gte=0"`
	Description     *string  `json:"description"`
	IsActive        *bool    `json:"is_active"`
}

func checkPrices(prices ...*float64) error {
	for _, p := range prices {
		if p != nil && *p < 0 {
			return apperr.Validation("prices must not be negative")
		}
	}
	return nil
}

func (s *Service) CreatePricing(ctx context.Context, actor Actor, in PricingInput) (*ServicePricing, error) {
	if err := s.authorize(actor, auth.ActionManagePricing, auth.Resource{}); err != nil {
		return nil, err
	}
	in.ServiceCategory = strings.TrimSpace(in.ServiceCategory)
	in.ServiceName = strings.TrimSpace(in.ServiceName)
	if in.ServiceCategory == "" || in.ServiceName == "" {
		return nil, apperr.Validation("service_category and service_name are required")
	}
	if err := checkPrices(&in.BasePrice, in.InsurancePrice, in.StaffPrice); err != nil {
		return nil, err
	}

	now := s.clock()
	p := &ServicePricing{
		ID:              uuid.New(),
		HospitalID:      actor.HospitalID,
		ServiceCategory: in.ServiceCategory,
		ServiceName:     in.ServiceName,
		ServiceCode:     optional(in.ServiceCode),
		BasePrice:       money.Round(in.BasePrice),
		InsurancePrice:  roundPtr(in.InsurancePrice),
		StaffPrice:      roundPtr(in.StaffPrice),
		Description:     optional(in.Description),
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.pricing.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create pricing: %w", err)
	}
	s.logger.Info().Str("hospital_id", p.HospitalID).Str("pricing_id", p.ID.String()).
		Str("service", p.ServiceName).Msg("service pricing created")
	return p, nil
}

func (s *Service) UpdatePricing(ctx context.Context, actor Actor, id uuid.UUID, in PricingUpdate) (*ServicePricing, error) {
	if err := s.authorize(actor, auth.ActionManagePricing, auth.Resource{}); err != nil {
		return nil, err
	}
	if err := checkPrices(in.BasePrice, in.InsurancePrice, in.StaffPrice); err != nil {
		return nil, err
	}
	p, err := s.pricing.GetByID(ctx, actor.HospitalID, id)
	if err != nil {
		return nil, err
	}
	if in.ServiceCategory != nil {
		if strings.TrimSpace(*in.ServiceCategory) == "" {
			return nil, apperr.Validation("service_category must not be empty")
		}
		p.ServiceCategory = strings.TrimSpace(*in.ServiceCategory)
	}
	if in.ServiceName != nil {
		if strings.TrimSpace(*in.ServiceName) == "" {
			return nil, apperr.Validation("service_name must not be empty")
		}
		p.ServiceName = strings.TrimSpace(*in.ServiceName)
	}
	if in.ServiceCode != nil {
		p.ServiceCode = optional(in.ServiceCode)
	}
	if in.BasePrice != nil {
		p.BasePrice = money.Round(*in.BasePrice)
	}
	if in.InsurancePrice != nil {
		p.InsurancePrice = roundPtr(in.InsurancePrice)
	}
	if in.StaffPrice != nil {
		p.StaffPrice = roundPtr(in.StaffPrice)
	}
	if in.Description != nil {
		p.Description = optional(in.Description)
	}
	if in.IsActive != nil {
		p.IsActive = *in.IsActive
	}
	p.UpdatedAt = s.clock()

	if err := s.pricing.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("update pricing: %w", err)
	}
	s.logger.Info().Str("hospital_id", p.HospitalID).Str("pricing_id", p.ID.String()).Msg("service pricing updated")
	return p, nil
}

func (s *Service) ListPricing(ctx context.Context, actor Actor, category string, includeInactive bool) ([]*ServicePricing, error) {
	if err := checkActor(actor); err != nil {
		return nil, err
	}
	return s.pricing.List(ctx, actor.HospitalID, strings.TrimSpace(category), includeInactive)
}

// -- Charges --

type ChargeInput struct {
	PatientID       string    `json:"patient_id" validate:"required"`
	ServiceCategory string    `json:"service_category" validate:"required"`
	ServiceName     string    `json:"service_name" validate:"required"`
	ServiceCode     *string   `json:"service_code"`
	Quantity        int       `json:"quantity" validate:"gte=0"`
	UnitPrice       *float64  `json:"unit_price" validate:"omitempty,gte=0"`
	PriceTier       PriceTier `json:"price_tier" validate:"omitempty,oneof=base insurance staff"`
	VisitType       string    `json:"visit_type" validate:"omitempty,oneof=outpatient inpatient emergency"`
	PerformedBy     *string   `json:"performed_by"`
	Department      *string   `json:"department"`
	ReferenceID     *string   `json:"reference_id"`
	ReferenceType   *string   `json:"reference_type"`
	Notes           *string   `json:"notes"`
}

func (in *ChargeInput) normalize() error {
	in.PatientID = strings.TrimSpace(in.PatientID)
	in.ServiceCategory = strings.TrimSpace(in.ServiceCategory)
	in.ServiceName = strings.TrimSpace(in.ServiceName)
	if in.PatientID == "" {
		return apperr.Validation("patient_id is required")
	}
	if in.ServiceCategory == "" || in.ServiceName == "" {
		return apperr.Validation("service_category and service_name are required")
	}
	if in.Quantity < 0 {
		return apperr.Validation("quantity must be at least 1")
	}
	if in.Quantity == 0 {
		in.Quantity = 1
	}
	if in.UnitPrice != nil && *in.UnitPrice < 0 {
		return apperr.Validation("unit_price must not be negative")
	}
	switch in.PriceTier {
	case "":
		in.PriceTier = TierBase
	case TierBase, TierInsurance, TierStaff:
	default:
		return apperr.Validation("unknown price_tier %q", in.PriceTier)
	}
	if in.VisitType == "" {
		in.VisitType = VisitOutpatient
	}
	if !validVisitTypes[in.VisitType] {
		return apperr.Validation("unknown visit_type %q", in.VisitType)
	}
	return nil
}

type ChargeResult struct {
	Bill *Bill     `json:"bill"`
	Item *BillItem `json:"item"`
}

// AddCharge appends a service to the patient's open bill, creating the bill
// when the patient has none, and recomputes its totals.
func (s *Service) AddCharge(ctx context.Context, actor Actor, in ChargeInput) (*ChargeResult, error) {
	if err := s.authorize(actor, auth.ActionAddCharge, auth.Resource{}); err != nil {
		return nil, err
	}
	if err := in.normalize(); err != nil {
		return nil, err
	}

	var res *ChargeResult
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		now := s.clock()

		unit, err := s.resolvePrice(ctx, actor.HospitalID, in)
		if err != nil {
			return err
		}

		bill, err := s.openBill(ctx, actor.HospitalID, in.PatientID, in.VisitType, now)
		if err != nil {
			return err
		}

		performedBy := actor.UserID
		if p := optional(in.PerformedBy); p != nil {
			performedBy = *p
		}
		item := &BillItem{
			ID:              uuid.New(),
			BillID:          bill.ID,
			ServiceCategory: in.ServiceCategory,
			ServiceName:     in.ServiceName,
			ServiceCode:     optional(in.ServiceCode),
			Quantity:        in.Quantity,
			UnitPrice:       money.Round(unit),
			TotalPrice:      money.Mul(unit, in.Quantity),
			PerformedBy:     performedBy,
			PerformedAt:     now,
			Department:      optional(in.Department),
			ReferenceID:     optional(in.ReferenceID),
			ReferenceType:   optional(in.ReferenceType),
			Notes:           optional(in.Notes),
			CreatedAt:       now,
		}
		if err := s.bills.AddItem(ctx, item); err != nil {
			return fmt.Errorf("add bill item: %w", err)
		}

		items, err := s.bills.GetItems(ctx, bill.ID)
		if err != nil {
			return fmt.Errorf("load bill items: %w", err)
		}
		Recompute(bill, items, now)
		if err := s.bills.Save(ctx, bill); err != nil {
			return err
		}

		details := fmt.Sprintf("Added %s - %s", item.ServiceName, money.Format(item.TotalPrice))
		if err := s.record(ctx, actor, bill.ID, AuditChargeAdded, details, item.TotalPrice, now); err != nil {
			return err
		}

		res = &ChargeResult{Bill: bill, Item: item}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("hospital_id", actor.HospitalID).Str("bill_number", res.Bill.BillNumber).
		Str("service", res.Item.ServiceName).Float64("amount", res.Item.TotalPrice).Msg("charge added")
	s.publish(ctx, events.ChargeAdded, res.Bill, res.Item.TotalPrice, actor)
	return res, nil
}

func (s *Service) resolvePrice(ctx context.Context, hospitalID string, in ChargeInput) (float64, error) {
	if in.UnitPrice != nil && *in.UnitPrice > 0 {
		return *in.UnitPrice, nil
	}
	p, err := s.pricing.FindActive(ctx, hospitalID, in.ServiceCategory, in.ServiceName)
	if err != nil {
		return 0, err
	}
	return p.PriceFor(in.PriceTier), nil
}

func (s *Service) openBill(ctx context.Context, hospitalID, patientID, visitType string, now time.Time) (*Bill, error) {
	bill, err := s.bills.FindOpenForUpdate(ctx, hospitalID, patientID)
	if err == nil {
		return bill, nil
	}
	if apperr.KindOf(err) != apperr.KindNotFound {
		return nil, err
	}

	number, err := s.nextNumber(ctx, hospitalID, DocBill, now)
	if err != nil {
		return nil, err
	}
	bill = &Bill{
		ID:         uuid.New(),
		BillNumber: number,
		HospitalID: hospitalID,
		PatientID:  patientID,
		VisitType:  visitType,
		Status:     BillOpen,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.bills.Create(ctx, bill); err != nil {
		return nil, fmt.Errorf("create bill: %w", err)
	}
	s.logger.Info().Str("hospital_id", hospitalID).Str("bill_number", number).Msg("bill opened")
	return bill, nil
}

// -- Discounts --

// DiscountInput requests either a percentage or a fixed amount, never both.
type DiscountInput struct {
	DiscountPercentage *float64 `json:"discount_percentage"`
	DiscountAmount     *float64 `json:"discount_amount"`
	Reason             string   `json:"reason" validate:"required"`
}

func (s *Service) ApplyDiscount(ctx context.Context, actor Actor, billID uuid.UUID, in DiscountInput) (*Bill, error) {
	if err := checkActor(actor); err != nil {
		return nil, err
	}
	if (in.DiscountPercentage == nil) == (in.DiscountAmount == nil) {
		return nil, apperr.Validation("exactly one of discount_percentage or discount_amount is required")
	}
	if in.DiscountPercentage != nil && (*in.DiscountPercentage < 0 || *in.DiscountPercentage > 100) {
		return nil, apperr.Validation("discount_percentage must be between 0 and 100")
	}
	if in.DiscountAmount != nil && *in.DiscountAmount < 0 {
		return nil, apperr.Validation("discount_amount must not be negative")
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return nil, apperr.Validation("reason is required")
	}

	var bill *Bill
	var applied float64
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		now := s.clock()
		b, err := s.bills.GetForUpdate(ctx, actor.HospitalID, billID)
		if err != nil {
			return err
		}

		pct := 0.0
		if in.DiscountPercentage != nil {
			pct = *in.DiscountPercentage
		} else {
			if money.Cmp(*in.DiscountAmount, b.Subtotal) > 0 {
				return apperr.Validation("discount_amount exceeds bill subtotal")
			}
			pct = money.RatioPercent(money.Round(*in.DiscountAmount), b.Subtotal)
		}
		if err := s.authorize(actor, auth.ActionApplyDiscount, auth.Resource{DiscountPercentage: pct}); err != nil {
			return err
		}
		if b.Status != BillOpen {
			return apperr.Conflict("cannot discount a %s bill", b.Status)
		}

		if in.DiscountPercentage != nil {
			ApplyDiscountPercentage(b, *in.DiscountPercentage)
		} else {
			ApplyDiscountAmount(b, *in.DiscountAmount)
		}
		approver := actor.UserID
		b.DiscountReason = &reason
		b.DiscountApprovedBy = &approver

		items, err := s.bills.GetItems(ctx, b.ID)
		if err != nil {
			return fmt.Errorf("load bill items: %w", err)
		}
		Recompute(b, items, now)
		if money.Cmp(b.TotalAmount, b.AmountPaid) < 0 {
			return apperr.Conflict("discount would reduce the total below the %s already paid", money.Format(b.AmountPaid))
		}
		if err := s.bills.Save(ctx, b); err != nil {
			return err
		}

		if err := s.bills.AddDiscount(ctx, &BillDiscount{
			ID:         uuid.New(),
			BillID:     b.ID,
			Percentage: b.DiscountPercentage,
			Amount:     b.DiscountAmount,
			Reason:     reason,
			ApprovedBy: approver,
			CreatedAt:  now,
		}); err != nil {
			return fmt.Errorf("record discount: %w", err)
		}

		details := fmt.Sprintf("Discount applied: %s%% - %s",
			strconv.FormatFloat(b.DiscountPercentage, 'f', -1, 64), reason)
		if err := s.record(ctx, actor, b.ID, AuditDiscountApplied, details, b.DiscountAmount, now); err != nil {
			return err
		}

		bill, applied = b, b.DiscountAmount
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("hospital_id", actor.HospitalID).Str("bill_number", bill.BillNumber).
		Float64("percentage", bill.DiscountPercentage).Float64("amount", applied).Msg("discount applied")
	s.publish(ctx, events.DiscountApplied, bill, applied, actor)
	return bill, nil
}

// -- Payments --

type PaymentInput struct {
	BillID           uuid.UUID `json:"bill_id" validate:"required"`
	Amount           float64   `json:"amount" validate:"gt=0"`
	PaymentMethod    string    `json:"payment_method" validate:"required,oneof=cash card transfer insurance mobile_money"`
	PaymentReference *string   `json:"payment_reference"`
	Notes            *string   `json:"notes"`
}

type PaymentResult struct {
	Payment *Payment `json:"payment"`
	Receipt *Receipt `json:"receipt"`
	Bill    *Bill    `json:"bill"`
}

// ProcessPayment records a completed payment against a bill and issues its
// receipt in the same transaction.
func (s *Service) ProcessPayment(ctx context.Context, actor Actor, in PaymentInput) (*PaymentResult, error) {
	if err := s.authorize(actor, auth.ActionProcessPayment, auth.Resource{}); err != nil {
		return nil, err
	}
	if in.BillID == uuid.Nil {
		return nil, apperr.Validation("bill_id is required")
	}
	if in.Amount <= 0 || money.Round(in.Amount) <= 0 {
		return nil, apperr.Validation("amount must be greater than 0")
	}
	if !validPaymentMethods[in.PaymentMethod] {
		return nil, apperr.Validation("unsupported payment_method %q", in.PaymentMethod)
	}
	amount := money.Round(in.Amount)

	var res *PaymentResult
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		now := s.clock()
		bill, err := s.bills.GetForUpdate(ctx, actor.HospitalID, in.BillID)
		if err != nil {
			return err
		}
		if bill.Status == BillCancelled {
			return apperr.Conflict("cannot pay a cancelled bill")
		}
		if money.Cmp(amount, bill.Balance) > 0 {
			return apperr.Validation("payment exceeds outstanding balance")
		}

		paymentNumber, err := s.nextNumber(ctx, actor.HospitalID, DocPayment, now)
		if err != nil {
			return err
		}
		payment := &Payment{
			ID:               uuid.New(),
			PaymentNumber:    paymentNumber,
			BillID:           bill.ID,
			HospitalID:       bill.HospitalID,
			PatientID:        bill.PatientID,
			Amount:           amount,
			PaymentMethod:    in.PaymentMethod,
			PaymentReference: optional(in.PaymentReference),
			PaymentStatus:    PaymentCompleted,
			ReceivedBy:       actor.UserID,
			Notes:            optional(in.Notes),
			PaymentDate:      now,
			CreatedAt:        now,
		}
		if err := s.payments.Create(ctx, payment); err != nil {
			return fmt.Errorf("create payment: %w", err)
		}

		bill.AmountPaid = money.Add(bill.AmountPaid, amount)
		RecomputeBalance(bill, now)
		if err := s.bills.Save(ctx, bill); err != nil {
			return err
		}

		receiptNumber, err := s.nextNumber(ctx, actor.HospitalID, DocReceipt, now)
		if err != nil {
			return err
		}
		receipt := &Receipt{
			ID:            uuid.New(),
			ReceiptNumber: receiptNumber,
			PaymentID:     payment.ID,
			BillID:        bill.ID,
			HospitalID:    bill.HospitalID,
			PatientID:     bill.PatientID,
			Amount:        amount,
			PaymentMethod: in.PaymentMethod,
			IssuedBy:      actor.UserID,
			IssuedAt:      now,
			CreatedAt:     now,
		}
		if err := s.receipts.Create(ctx, receipt); err != nil {
			return fmt.Errorf("issue receipt: %w", err)
		}

		details := fmt.Sprintf("Payment received: %s via %s", money.Format(amount), in.PaymentMethod)
		if err := s.record(ctx, actor, bill.ID, AuditPaymentReceived, details, amount, now); err != nil {
			return err
		}

		res = &PaymentResult{Payment: payment, Receipt: receipt, Bill: bill}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("hospital_id", actor.HospitalID).Str("bill_number", res.Bill.BillNumber).
		Str("payment_number", res.Payment.PaymentNumber).Str("receipt_number", res.Receipt.ReceiptNumber).
		Float64("amount", amount).Msg("payment received")
	s.publish(ctx, events.PaymentReceived, res.Bill, amount, actor)
	return res, nil
}

// -- Closure --

// CloseBill finalizes an open bill. An outstanding balance does not block
// closure and remains payable.
func (s *Service) CloseBill(ctx context.Context, actor Actor, billID uuid.UUID) (*Bill, error) {
	if err := s.authorize(actor, auth.ActionCloseBill, auth.Resource{}); err != nil {
		return nil, err
	}

	var bill *Bill
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		now := s.clock()
		b, err := s.bills.GetForUpdate(ctx, actor.HospitalID, billID)
		if err != nil {
			return err
		}
		if b.Status != BillOpen {
			return apperr.Conflict("bill %s is already %s", b.BillNumber, b.Status)
		}
		b.Status = BillClosed
		b.ClosedAt = &now
		b.UpdatedAt = now
		if err := s.bills.Save(ctx, b); err != nil {
			return err
		}

		details := fmt.Sprintf("Bill closed - Total: %s, Paid: %s", money.Format(b.TotalAmount), money.Format(b.AmountPaid))
		if err := s.record(ctx, actor, b.ID, AuditBillClosed, details, b.TotalAmount, now); err != nil {
			return err
		}
		bill = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("hospital_id", actor.HospitalID).Str("bill_number", bill.BillNumber).
		Float64("balance", bill.Balance).Msg("bill closed")
	s.publish(ctx, events.BillClosed, bill, bill.TotalAmount, actor)
	return bill, nil
}

type CancelInput struct {
	Reason string `json:"reason" validate:"required"`
}

// CancelBill voids an open bill that has taken no payments.
func (s *Service) CancelBill(ctx context.Context, actor Actor, billID uuid.UUID, in CancelInput) (*Bill, error) {
	if err := s.authorize(actor, auth.ActionCancelBill, auth.Resource{}); err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return nil, apperr.Validation("reason is required")
	}

	var bill *Bill
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		now := s.clock()
		b, err := s.bills.GetForUpdate(ctx, actor.HospitalID, billID)
		if err != nil {
			return err
		}
		if b.Status != BillOpen {
			return apperr.Conflict("bill %s is already %s", b.BillNumber, b.Status)
		}
		paid, err := s.payments.CountCompletedByBill(ctx, b.ID)
		if err != nil {
			return fmt.Errorf("count payments: %w", err)
		}
		if paid > 0 {
			return apperr.Conflict("bill %s has payments and cannot be cancelled", b.BillNumber)
		}

		b.Status = BillCancelled
		b.UpdatedAt = now
		if err := s.bills.Save(ctx, b); err != nil {
			return err
		}
		details := fmt.Sprintf("Bill cancelled - %s", reason)
		if err := s.record(ctx, actor, b.ID, AuditBillCancelled, details, b.TotalAmount, now); err != nil {
			return err
		}
		bill = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("hospital_id", actor.HospitalID).Str("bill_number", bill.BillNumber).Msg("bill cancelled")
	s.publish(ctx, events.BillCancelled, bill, bill.TotalAmount, actor)
	return bill, nil
}

// -- Reads --

type BillDetails struct {
	Bill      *Bill           `json:"bill"`
	Items     []*BillItem     `json:"items"`
	Payments  []*Payment      `json:"payments"`
	Discounts []*BillDiscount `json:"discounts"`
}

func (s *Service) GetBill(ctx context.Context, actor Actor, billID uuid.UUID) (*BillDetails, error) {
	if err := checkActor(actor); err != nil {
		return nil, err
	}
	bill, err := s.bills.GetByID(ctx, actor.HospitalID, billID)
	if err != nil {
		return nil, err
	}
	items, err := s.bills.GetItems(ctx, bill.ID)
	if err != nil {
		return nil, fmt.Errorf("load bill items: %w", err)
	}
	payments, err := s.payments.ListByBill(ctx, bill.ID)
	if err != nil {
		return nil, fmt.Errorf("load payments: %w", err)
	}
	discounts, err := s.bills.GetDiscounts(ctx, bill.ID)
	if err != nil {
		return nil, fmt.Errorf("load discounts: %w", err)
	}
	return &BillDetails{Bill: bill, Items: items, Payments: payments, Discounts: discounts}, nil
}

func (s *Service) ListPatientBills(ctx context.Context, actor Actor, patientID string, status BillStatus, limit, offset int) ([]*Bill, int, error) {
	if err := checkActor(actor); err != nil {
		return nil, 0, err
	}
	switch status {
	case "", BillOpen, BillClosed, BillCancelled:
	default:
		return nil, 0, apperr.Validation("unknown bill status %q", status)
	}
	return s.bills.ListByPatient(ctx, actor.HospitalID, patientID, status, limit, offset)
}

func (s *Service) ListBillPayments(ctx context.Context, actor Actor, billID uuid.UUID) ([]*Payment, error) {
	if err := checkActor(actor); err != nil {
		return nil, err
	}
	if _, err := s.bills.GetByID(ctx, actor.HospitalID, billID); err != nil {
		return nil, err
	}
	return s.payments.ListByBill(ctx, billID)
}

type ReceiptDetails struct {
	Receipt *Receipt `json:"receipt"`
	Payment *Payment `json:"payment"`
	Bill    *Bill    `json:"bill"`
}

func (s *Service) GetReceipt(ctx context.Context, actor Actor, receiptID uuid.UUID) (*ReceiptDetails, error) {
	if err := checkActor(actor); err != nil {
		return nil, err
	}
	r, err := s.receipts.GetByID(ctx, actor.HospitalID, receiptID)
	if err != nil {
		return nil, err
	}
	p, err := s.payments.GetByID(ctx, actor.HospitalID, r.PaymentID)
	if err != nil {
		return nil, err
	}
	b, err := s.bills.GetByID(ctx, actor.HospitalID, r.BillID)
	if err != nil {
		return nil, err
	}
	return &ReceiptDetails{Receipt: r, Payment: p, Bill: b}, nil
}

func (s *Service) ListBillAudit(ctx context.Context, actor Actor, billID uuid.UUID, limit, offset int) ([]*AuditEntry, int, error) {
	if err := checkActor(actor); err != nil {
		return nil, 0, err
	}
	if _, err := s.bills.GetByID(ctx, actor.HospitalID, billID); err != nil {
		return nil, 0, err
	}
	return s.audit.ListByBill(ctx, billID, limit, offset)
}

// -- Reports --

// DailyReport summarizes the calendar day containing day in the report time
// zone. A zero day means today by the service clock.
func (s *Service) DailyReport(ctx context.Context, actor Actor, day time.Time) (*DailyReport, error) {
	if err := s.authorize(actor, auth.ActionViewReports, auth.Resource{}); err != nil {
		return nil, err
	}
	if day.IsZero() {
		day = s.clock()
	}
	w := DayWindow(day, s.loc)

	methods, err := s.reports.PaymentsByMethod(ctx, actor.HospitalID, w.From, w.To)
	if err != nil {
		return nil, fmt.Errorf("payments by method: %w", err)
	}
	bills, err := s.reports.BillsCreated(ctx, actor.HospitalID, w.From, w.To)
	if err != nil {
		return nil, fmt.Errorf("bills created: %w", err)
	}
	outstanding, err := s.reports.OutstandingBalance(ctx, actor.HospitalID)
	if err != nil {
		return nil, fmt.Errorf("outstanding balance: %w", err)
	}

	rep := &DailyReport{
		Date:                    w.From.Format("2006-01-02"),
		PaymentMethodsBreakdown: make(map[string]float64, len(methods)),
		NewBills:                bills.Count,
		OutstandingBalance:      money.Round(outstanding),
	}
	totals := make([]float64, 0, len(methods))
	for _, m := range methods {
		rep.PaymentMethodsBreakdown[m.Method] = money.Round(m.Total)
		rep.PaymentsCount += m.Count
		totals = append(totals, m.Total)
	}
	rep.TotalCollected = money.Sum(totals...)
	rep.FormattedTotalCollected = money.Format(rep.TotalCollected)
	return rep, nil
}

func (s *Service) MonthlyReport(ctx context.Context, actor Actor, year int, month time.Month) (*MonthlyReport, error) {
	if err := s.authorize(actor, auth.ActionViewReports, auth.Resource{}); err != nil {
		return nil, err
	}
	w, err := MonthWindow(year, month, s.loc)
	if err != nil {
		return nil, apperr.Validation("%s", err.Error())
	}

	methods, err := s.reports.PaymentsByMethod(ctx, actor.HospitalID, w.From, w.To)
	if err != nil {
		return nil, fmt.Errorf("payments by method: %w", err)
	}
	categories, err := s.reports.RevenueByCategory(ctx, actor.HospitalID, w.From, w.To)
	if err != nil {
		return nil, fmt.Errorf("revenue by category: %w", err)
	}
	bills, err := s.reports.BillsCreated(ctx, actor.HospitalID, w.From, w.To)
	if err != nil {
		return nil, fmt.Errorf("bills created: %w", err)
	}

	rep := &MonthlyReport{
		Period:            fmt.Sprintf("%04d-%02d", year, int(month)),
		RevenueByCategory: make(map[string]float64, len(categories)),
		TotalDiscounts:    money.Round(bills.TotalDiscounts),
		BillsGenerated:    bills.Count,
	}
	totals := make([]float64, 0, len(methods))
	for _, m := range methods {
		rep.PaymentsCount += m.Count
		totals = append(totals, m.Total)
	}
	for _, c := range categories {
		rep.RevenueByCategory[c.Category] = money.Round(c.Total)
	}
	rep.TotalRevenue = money.Sum(totals...)
	rep.FormattedTotalRevenue = money.Format(rep.TotalRevenue)
	return rep, nil
}
