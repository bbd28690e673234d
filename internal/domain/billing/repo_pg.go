package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/billing/internal/platform/apperr"
	"github.com/hms/billing/internal/platform/db"
)

type pgBase struct{ pool *pgxpool.Pool }

func (r pgBase) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("%s not found", what)
	}
	return err
}

const uniqueViolation = "23505"

func writeErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		if pgErr.ConstraintName == "uq_patient_bills_open" {
			return apperr.Conflict("patient already has an open bill")
		}
		return apperr.Conflict("duplicate %s", pgErr.ConstraintName)
	}
	return err
}

// =========== Pricing Repository ===========

type pricingRepoPG struct{ pgBase }

func NewPricingRepoPG(pool *pgxpool.Pool) PricingRepository { return &pricingRepoPG{pgBase{pool}} }

const pricingCols = `id, hospital_id, service_category, service_name, service_code,
	base_price, insurance_price, staff_price, description, is_active, created_at, updated_at`

func scanPricing(row pgx.Row) (*ServicePricing, error) {
	var p ServicePricing
	err := row.Scan(&p.ID, &p.HospitalID, &p.ServiceCategory, &p.ServiceName, &p.ServiceCode,
		&p.BasePrice, &p.InsurancePrice, &p.StaffPrice, &p.Description, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *pricingRepoPG) Create(ctx context.Context, p *ServicePricing) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO service_pricing (id, hospital_id, service_category, service_name, service_code,
			base_price, insurance_price, staff_price, description, is_active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		p.ID, p.HospitalID, p.ServiceCategory, p.ServiceName, p.ServiceCode,
		p.BasePrice, p.InsurancePrice, p.StaffPrice, p.Description, p.IsActive, p.CreatedAt, p.UpdatedAt)
	return writeErr(err)
}

func (r *pricingRepoPG) GetByID(ctx context.Context, hospitalID string, id uuid.UUID) (*ServicePricing, error) {
	p, err := scanPricing(r.conn(ctx).QueryRow(ctx,
		`SELECT `+pricingCols+` FROM service_pricing WHERE hospital_id = $1 AND id = $2`, hospitalID, id))
	if err != nil {
		return nil, notFound(err, "Pricing")
	}
	return p, nil
}

func (r *pricingRepoPG) Update(ctx context.Context, p *ServicePricing) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE service_pricing SET service_code=$3, base_price=$4, insurance_price=$5, staff_price=$6,
			description=$7, is_active=$8, updated_at=$9
		WHERE hospital_id = $1 AND id = $2`,
		p.HospitalID, p.ID, p.ServiceCode, p.BasePrice, p.InsurancePrice, p.StaffPrice,
		p.Description, p.IsActive, p.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("pricing not found")
	}
	return nil
}

func (r *pricingRepoPG) FindActive(ctx context.Context, hospitalID, category, name string) (*ServicePricing, error) {
	p, err := scanPricing(r.conn(ctx).QueryRow(ctx, `SELECT `+pricingCols+` FROM service_pricing
		WHERE hospital_id = $1 AND service_category = $2 AND service_name = $3 AND is_active
		ORDER BY updated_at DESC LIMIT 1`, hospitalID, category, name))
	if err != nil {
		return nil, notFound(err, "Service pricing")
	}
	return p, nil
}

func (r *pricingRepoPG) List(ctx context.Context, hospitalID, category string, includeInactive bool) ([]*ServicePricing, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+pricingCols+` FROM service_pricing
		WHERE hospital_id = $1 AND ($2 = '' OR service_category = $2) AND ($3 OR is_active)
		ORDER BY service_category, service_name`, hospitalID, category, includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*ServicePricing
	for rows.Next() {
		p, err := scanPricing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *pricingRepoPG) CountByHospital(ctx context.Context, hospitalID string) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM service_pricing WHERE hospital_id = $1`, hospitalID).Scan(&n)
	return n, err
}

// =========== Bill Repository ===========

type billRepoPG struct{ pgBase }

func NewBillRepoPG(pool *pgxpool.Pool) BillRepository { return &billRepoPG{pgBase{pool}} }

const billCols = `id, bill_number, hospital_id, patient_id, visit_type, admission_id, status,
	subtotal, discount_amount, discount_percentage, discount_reason, discount_approved_by,
	tax_amount, total_amount, amount_paid, balance, insurance_coverage, patient_responsibility,
	insurance_company, insurance_policy, version, created_at, updated_at, closed_at`

func scanBill(row pgx.Row) (*Bill, error) {
	var b Bill
	err := row.Scan(&b.ID, &b.BillNumber, &b.HospitalID, &b.PatientID, &b.VisitType, &b.AdmissionID, &b.Status,
		&b.Subtotal, &b.DiscountAmount, &b.DiscountPercentage, &b.DiscountReason, &b.DiscountApprovedBy,
		&b.TaxAmount, &b.TotalAmount, &b.AmountPaid, &b.Balance, &b.InsuranceCoverage, &b.PatientResponsibility,
		&b.InsuranceCompany, &b.InsurancePolicy, &b.Version, &b.CreatedAt, &b.UpdatedAt, &b.ClosedAt)
	return &b, err
}

func (r *billRepoPG) Create(ctx context.Context, b *Bill) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient_bills (id, bill_number, hospital_id, patient_id, visit_type, admission_id, status,
			subtotal, discount_amount, discount_percentage, tax_amount, total_amount, amount_paid, balance,
			insurance_coverage, patient_responsibility, insurance_company, insurance_policy,
			version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`,
		b.ID, b.BillNumber, b.HospitalID, b.PatientID, b.VisitType, b.AdmissionID, b.Status,
		b.Subtotal, b.DiscountAmount, b.DiscountPercentage, b.TaxAmount, b.TotalAmount, b.AmountPaid, b.Balance,
		b.InsuranceCoverage, b.PatientResponsibility, b.InsuranceCompany, b.InsurancePolicy,
		b.Version, b.CreatedAt, b.UpdatedAt)
	return writeErr(err)
}

func (r *billRepoPG) GetByID(ctx context.Context, hospitalID string, id uuid.UUID) (*Bill, error) {
	b, err := scanBill(r.conn(ctx).QueryRow(ctx,
		`SELECT `+billCols+` FROM patient_bills WHERE hospital_id = $1 AND id = $2`, hospitalID, id))
	if err != nil {
		return nil, notFound(err, "Bill")
	}
	return b, nil
}

func (r *billRepoPG) GetForUpdate(ctx context.Context, hospitalID string, id uuid.UUID) (*Bill, error) {
	b, err := scanBill(r.conn(ctx).QueryRow(ctx,
		`SELECT `+billCols+` FROM patient_bills WHERE hospital_id = $1 AND id = $2 FOR UPDATE`, hospitalID, id))
	if err != nil {
		return nil, notFound(err, "Bill")
	}
	return b, nil
}

func (r *billRepoPG) FindOpenForUpdate(ctx context.Context, hospitalID, patientID string) (*Bill, error) {
	b, err := scanBill(r.conn(ctx).QueryRow(ctx, `SELECT `+billCols+` FROM patient_bills
		WHERE hospital_id = $1 AND patient_id = $2 AND status = 'open' FOR UPDATE`, hospitalID, patientID))
	if err != nil {
		return nil, notFound(err, "Open bill")
	}
	return b, nil
}

func (r *billRepoPG) Save(ctx context.Context, b *Bill) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient_bills SET status=$3, subtotal=$4, discount_amount=$5, discount_percentage=$6,
			discount_reason=$7, discount_approved_by=$8, tax_amount=$9, total_amount=$10, amount_paid=$11,
			balance=$12, insurance_coverage=$13, patient_responsibility=$14, updated_at=$15, closed_at=$16,
			version = version + 1
		WHERE id = $1 AND version = $2`,
		b.ID, b.Version, b.Status, b.Subtotal, b.DiscountAmount, b.DiscountPercentage,
		b.DiscountReason, b.DiscountApprovedBy, b.TaxAmount, b.TotalAmount, b.AmountPaid,
		b.Balance, b.InsuranceCoverage, b.PatientResponsibility, b.UpdatedAt, b.ClosedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("bill %s was modified concurrently", b.BillNumber)
	}
	b.Version++
	return nil
}

func (r *billRepoPG) ListByPatient(ctx context.Context, hospitalID, patientID string, status BillStatus, limit, offset int) ([]*Bill, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient_bills
		WHERE hospital_id = $1 AND patient_id = $2 AND ($3 = '' OR status = $3)`,
		hospitalID, patientID, string(status)).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+billCols+` FROM patient_bills
		WHERE hospital_id = $1 AND patient_id = $2 AND ($3 = '' OR status = $3)
		ORDER BY created_at DESC LIMIT $4 OFFSET $5`,
		hospitalID, patientID, string(status), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []*Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, b)
	}
	return out, total, rows.Err()
}

const itemCols = `id, bill_id, service_category, service_name, service_code, quantity, unit_price,
	total_price, performed_by, performed_at, department, reference_id, reference_type, notes, created_at`

func (r *billRepoPG) AddItem(ctx context.Context, it *BillItem) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO bill_items (`+itemCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		it.ID, it.BillID, it.ServiceCategory, it.ServiceName, it.ServiceCode, it.Quantity, it.UnitPrice,
		it.TotalPrice, it.PerformedBy, it.PerformedAt, it.Department, it.ReferenceID, it.ReferenceType,
		it.Notes, it.CreatedAt)
	return err
}

func (r *billRepoPG) GetItems(ctx context.Context, billID uuid.UUID) ([]*BillItem, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+itemCols+` FROM bill_items WHERE bill_id = $1 ORDER BY created_at, id`, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*BillItem
	for rows.Next() {
		var it BillItem
		if err := rows.Scan(&it.ID, &it.BillID, &it.ServiceCategory, &it.ServiceName, &it.ServiceCode,
			&it.Quantity, &it.UnitPrice, &it.TotalPrice, &it.PerformedBy, &it.PerformedAt,
			&it.Department, &it.ReferenceID, &it.ReferenceType, &it.Notes, &it.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &it)
	}
	return out, rows.Err()
}

func (r *billRepoPG) AddDiscount(ctx context.Context, d *BillDiscount) error {
	if _, err := r.conn(ctx).Exec(ctx,
		`UPDATE bill_discounts SET active = FALSE WHERE bill_id = $1 AND active`, d.BillID); err != nil {
		return fmt.Errorf("deactivate previous discount: %w", err)
	}
	d.Active = true
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO bill_discounts (id, bill_id, percentage, amount, reason, approved_by, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		d.ID, d.BillID, d.Percentage, d.Amount, d.Reason, d.ApprovedBy, d.Active, d.CreatedAt)
	return err
}

func (r *billRepoPG) GetDiscounts(ctx context.Context, billID uuid.UUID) ([]*BillDiscount, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT id, bill_id, percentage, amount, reason, approved_by, active, created_at
		FROM bill_discounts WHERE bill_id = $1 ORDER BY created_at`, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*BillDiscount
	for rows.Next() {
		var d BillDiscount
		if err := rows.Scan(&d.ID, &d.BillID, &d.Percentage, &d.Amount, &d.Reason, &d.ApprovedBy,
			&d.Active, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// =========== Payment Repository ===========

type paymentRepoPG struct{ pgBase }

func NewPaymentRepoPG(pool *pgxpool.Pool) PaymentRepository { return &paymentRepoPG{pgBase{pool}} }

const paymentCols = `id, payment_number, bill_id, hospital_id, patient_id, amount, payment_method,
	payment_reference, payment_status, received_by, notes, payment_date, created_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.PaymentNumber, &p.BillID, &p.HospitalID, &p.PatientID, &p.Amount,
		&p.PaymentMethod, &p.PaymentReference, &p.PaymentStatus, &p.ReceivedBy, &p.Notes,
		&p.PaymentDate, &p.CreatedAt)
	return &p, err
}

func (r *paymentRepoPG) Create(ctx context.Context, p *Payment) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO payments (`+paymentCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		p.ID, p.PaymentNumber, p.BillID, p.HospitalID, p.PatientID, p.Amount, p.PaymentMethod,
		p.PaymentReference, p.PaymentStatus, p.ReceivedBy, p.Notes, p.PaymentDate, p.CreatedAt)
	return writeErr(err)
}

func (r *paymentRepoPG) GetByID(ctx context.Context, hospitalID string, id uuid.UUID) (*Payment, error) {
	p, err := scanPayment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+paymentCols+` FROM payments WHERE hospital_id = $1 AND id = $2`, hospitalID, id))
	if err != nil {
		return nil, notFound(err, "Payment")
	}
	return p, nil
}

func (r *paymentRepoPG) ListByBill(ctx context.Context, billID uuid.UUID) ([]*Payment, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+paymentCols+` FROM payments WHERE bill_id = $1 ORDER BY payment_date, payment_number`, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *paymentRepoPG) CountCompletedByBill(ctx context.Context, billID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM payments WHERE bill_id = $1 AND payment_status = 'completed'`, billID).Scan(&n)
	return n, err
}

// =========== Receipt Repository ===========

type receiptRepoPG struct{ pgBase }

func NewReceiptRepoPG(pool *pgxpool.Pool) ReceiptRepository { return &receiptRepoPG{pgBase{pool}} }

const receiptCols = `id, receipt_number, payment_id, bill_id, hospital_id, patient_id, amount,
	payment_method, issued_by, issued_at, created_at`

func (r *receiptRepoPG) Create(ctx context.Context, rc *Receipt) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO receipts (`+receiptCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		rc.ID, rc.ReceiptNumber, rc.PaymentID, rc.BillID, rc.HospitalID, rc.PatientID, rc.Amount,
		rc.PaymentMethod, rc.IssuedBy, rc.IssuedAt, rc.CreatedAt)
	return writeErr(err)
}

func (r *receiptRepoPG) GetByID(ctx context.Context, hospitalID string, id uuid.UUID) (*Receipt, error) {
	var rc Receipt
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT `+receiptCols+` FROM receipts WHERE hospital_id = $1 AND id = $2`, hospitalID, id).
		Scan(&rc.ID, &rc.ReceiptNumber, &rc.PaymentID, &rc.BillID, &rc.HospitalID, &rc.PatientID,
			&rc.Amount, &rc.PaymentMethod, &rc.IssuedBy, &rc.IssuedAt, &rc.CreatedAt)
	if err != nil {
		return nil, notFound(err, "Receipt")
	}
	return &rc, nil
}

// =========== Audit Repository ===========

type auditRepoPG struct{ pgBase }

func NewAuditRepoPG(pool *pgxpool.Pool) AuditRepository { return &auditRepoPG{pgBase{pool}} }

func (r *auditRepoPG) Append(ctx context.Context, e *AuditEntry) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO billing_audit (id, hospital_id, bill_id, action_type, action_by, action_details,
			amount_involved, "timestamp")
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.ID, e.HospitalID, e.BillID, e.ActionType, e.ActionBy, e.ActionDetails, e.AmountInvolved, e.Timestamp)
	return err
}

func (r *auditRepoPG) ListByBill(ctx context.Context, billID uuid.UUID, limit, offset int) ([]*AuditEntry, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM billing_audit WHERE bill_id = $1`, billID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT id, hospital_id, bill_id, action_type, action_by,
		action_details, amount_involved, "timestamp"
		FROM billing_audit WHERE bill_id = $1 ORDER BY "timestamp", id LIMIT $2 OFFSET $3`, billID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []*AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.HospitalID, &e.BillID, &e.ActionType, &e.ActionBy,
			&e.ActionDetails, &e.AmountInvolved, &e.Timestamp); err != nil {
			return nil, 0, err
		}
		out = append(out, &e)
	}
	return out, total, rows.Err()
}

// =========== Sequence Repository ===========

type sequenceRepoPG struct{ pgBase }

func NewSequenceRepoPG(pool *pgxpool.Pool) SequenceRepository { return &sequenceRepoPG{pgBase{pool}} }

func (r *sequenceRepoPG) Next(ctx context.Context, hospitalID, docType string, year int) (int64, error) {
	var n int64
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO document_sequences (hospital_id, doc_type, year, last_value)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (hospital_id, doc_type, year)
		DO UPDATE SET last_value = document_sequences.last_value + 1
		RETURNING last_value`, hospitalID, docType, year).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("next %s number: %w", docType, err)
	}
	return n, nil
}
