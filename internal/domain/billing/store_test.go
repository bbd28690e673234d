package billing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hms/billing/internal/platform/apperr"
	"github.com/hms/billing/internal/platform/events"
)

// memStore is an in-memory backing store for every billing repository.
// Rows are held by value so a transaction can be rolled back by restoring a
// snapshot.
type memStore struct {
	mu        sync.Mutex
	pricing   map[uuid.UUID]ServicePricing
	bills     map[uuid.UUID]Bill
	items     []BillItem
	discounts []BillDiscount
	payments  []Payment
	receipts  []Receipt
	audit     []AuditEntry
	seq       map[string]int64

	// fail makes the named operation return an error.
	fail map[string]error
}

type memSnapshot struct {
	pricing   map[uuid.UUID]ServicePricing
	bills     map[uuid.UUID]Bill
	items     []BillItem
	discounts []BillDiscount
	payments  []Payment
	receipts  []Receipt
	audit     []AuditEntry
	seq       map[string]int64
}

func newMemStore() *memStore {
	return &memStore{
		pricing: make(map[uuid.UUID]ServicePricing),
		bills:   make(map[uuid.UUID]Bill),
		seq:     make(map[string]int64),
		fail:    make(map[string]error),
	}
}

func (s *memStore) failing(op string) error {
	return s.fail[op]
}

func (s *memStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := memSnapshot{
		pricing:   make(map[uuid.UUID]ServicePricing, len(s.pricing)),
		bills:     make(map[uuid.UUID]Bill, len(s.bills)),
		items:     append([]BillItem(nil), s.items...),
		discounts: append([]BillDiscount(nil), s.discounts...),
		payments:  append([]Payment(nil), s.payments...),
		receipts:  append([]Receipt(nil), s.receipts...),
		audit:     append([]AuditEntry(nil), s.audit...),
		seq:       make(map[string]int64, len(s.seq)),
	}
	for k, v := range s.pricing {
		snap.pricing[k] = v
	}
	for k, v := range s.bills {
		snap.bills[k] = v
	}
	for k, v := range s.seq {
		snap.seq[k] = v
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pricing, s.bills, s.seq = snap.pricing, snap.bills, snap.seq
	s.items, s.discounts = snap.items, snap.discounts
	s.payments, s.receipts, s.audit = snap.payments, snap.receipts, snap.audit
}

func (s *memStore) repos() Repositories {
	return Repositories{
		Pricing:  pricingMem{s},
		Bills:    billMem{s},
		Payments: paymentMem{s},
		Receipts: receiptMem{s},
		Audit:    auditMem{s},
		Sequence: seqMem{s},
		Reports:  reportMem{s},
	}
}

// memTx rolls the store back when fn fails.
type memTx struct{ s *memStore }

func (t memTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	snap := t.s.snapshot()
	if err := fn(ctx); err != nil {
		t.s.restore(snap)
		return err
	}
	return nil
}

// -- pricing --

type pricingMem struct{ s *memStore }

func (r pricingMem) Create(_ context.Context, p *ServicePricing) error {
	if err := r.s.failing("pricing.create"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.pricing[p.ID] = *p
	return nil
}

func (r pricingMem) GetByID(_ context.Context, hospitalID string, id uuid.UUID) (*ServicePricing, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.pricing[id]
	if !ok || p.HospitalID != hospitalID {
		return nil, apperr.NotFound("Pricing not found")
	}
	return &p, nil
}

func (r pricingMem) Update(_ context.Context, p *ServicePricing) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.pricing[p.ID]; !ok {
		return apperr.NotFound("Pricing not found")
	}
	r.s.pricing[p.ID] = *p
	return nil
}

func (r pricingMem) FindActive(_ context.Context, hospitalID, category, name string) (*ServicePricing, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.pricing {
		if p.HospitalID == hospitalID && p.ServiceCategory == category && p.ServiceName == name && p.IsActive {
			return &p, nil
		}
	}
	return nil, apperr.NotFound("Service pricing not found")
}

func (r pricingMem) List(_ context.Context, hospitalID, category string, includeInactive bool) ([]*ServicePricing, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*ServicePricing
	for _, p := range r.s.pricing {
		if p.HospitalID != hospitalID || (category != "" && p.ServiceCategory != category) {
			continue
		}
		if !p.IsActive && !includeInactive {
			continue
		}
		p := p
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ServiceCategory != out[j].ServiceCategory {
			return out[i].ServiceCategory < out[j].ServiceCategory
		}
		return out[i].ServiceName < out[j].ServiceName
	})
	return out, nil
}

func (r pricingMem) CountByHospital(_ context.Context, hospitalID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, p := range r.s.pricing {
		if p.HospitalID == hospitalID {
			n++
		}
	}
	return n, nil
}

// -- bills --

type billMem struct{ s *memStore }

func (r billMem) Create(_ context.Context, b *Bill) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, other := range r.s.bills {
		if other.HospitalID == b.HospitalID && other.PatientID == b.PatientID && other.Status == BillOpen && b.Status == BillOpen {
			return apperr.Conflict("patient already has an open bill")
		}
	}
	r.s.bills[b.ID] = *b
	return nil
}

func (r billMem) GetByID(_ context.Context, hospitalID string, id uuid.UUID) (*Bill, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.bills[id]
	if !ok || b.HospitalID != hospitalID {
		return nil, apperr.NotFound("Bill not found")
	}
	return &b, nil
}

func (r billMem) GetForUpdate(ctx context.Context, hospitalID string, id uuid.UUID) (*Bill, error) {
	return r.GetByID(ctx, hospitalID, id)
}

func (r billMem) FindOpenForUpdate(_ context.Context, hospitalID, patientID string) (*Bill, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, b := range r.s.bills {
		if b.HospitalID == hospitalID && b.PatientID == patientID && b.Status == BillOpen {
			return &b, nil
		}
	}
	return nil, apperr.NotFound("Open bill not found")
}

func (r billMem) Save(_ context.Context, b *Bill) error {
	if err := r.s.failing("bill.save"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.bills[b.ID]
	if !ok || stored.Version != b.Version {
		return apperr.Conflict("bill %s was modified concurrently", b.BillNumber)
	}
	b.Version++
	r.s.bills[b.ID] = *b
	return nil
}

func (r billMem) ListByPatient(_ context.Context, hospitalID, patientID string, status BillStatus, limit, offset int) ([]*Bill, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var all []*Bill
	for _, b := range r.s.bills {
		if b.HospitalID == hospitalID && b.PatientID == patientID && (status == "" || b.Status == status) {
			b := b
			all = append(all, &b)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].BillNumber > all[j].BillNumber })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (r billMem) AddItem(_ context.Context, item *BillItem) error {
	if err := r.s.failing("bill.add_item"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.items = append(r.s.items, *item)
	return nil
}

func (r billMem) GetItems(_ context.Context, billID uuid.UUID) ([]*BillItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*BillItem
	for _, it := range r.s.items {
		if it.BillID == billID {
			it := it
			out = append(out, &it)
		}
	}
	return out, nil
}

func (r billMem) AddDiscount(_ context.Context, d *BillDiscount) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.discounts {
		if r.s.discounts[i].BillID == d.BillID {
			r.s.discounts[i].Active = false
		}
	}
	d.Active = true
	r.s.discounts = append(r.s.discounts, *d)
	return nil
}

func (r billMem) GetDiscounts(_ context.Context, billID uuid.UUID) ([]*BillDiscount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*BillDiscount
	for _, d := range r.s.discounts {
		if d.BillID == billID {
			d := d
			out = append(out, &d)
		}
	}
	return out, nil
}

// -- payments and receipts --

type paymentMem struct{ s *memStore }

func (r paymentMem) Create(_ context.Context, p *Payment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.payments = append(r.s.payments, *p)
	return nil
}

func (r paymentMem) GetByID(_ context.Context, hospitalID string, id uuid.UUID) (*Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.payments {
		if p.ID == id && p.HospitalID == hospitalID {
			return &p, nil
		}
	}
	return nil, apperr.NotFound("Payment not found")
}

func (r paymentMem) ListByBill(_ context.Context, billID uuid.UUID) ([]*Payment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*Payment
	for _, p := range r.s.payments {
		if p.BillID == billID {
			p := p
			out = append(out, &p)
		}
	}
	return out, nil
}

func (r paymentMem) CountCompletedByBill(_ context.Context, billID uuid.UUID) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, p := range r.s.payments {
		if p.BillID == billID && p.PaymentStatus == PaymentCompleted {
			n++
		}
	}
	return n, nil
}

type receiptMem struct{ s *memStore }

func (r receiptMem) Create(_ context.Context, rc *Receipt) error {
	if err := r.s.failing("receipt.create"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.receipts = append(r.s.receipts, *rc)
	return nil
}

func (r receiptMem) GetByID(_ context.Context, hospitalID string, id uuid.UUID) (*Receipt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, rc := range r.s.receipts {
		if rc.ID == id && rc.HospitalID == hospitalID {
			return &rc, nil
		}
	}
	return nil, apperr.NotFound("Receipt not found")
}

// -- audit and sequences --

type auditMem struct{ s *memStore }

func (r auditMem) Append(_ context.Context, e *AuditEntry) error {
	if err := r.s.failing("audit.append"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.audit = append(r.s.audit, *e)
	return nil
}

func (r auditMem) ListByBill(_ context.Context, billID uuid.UUID, limit, offset int) ([]*AuditEntry, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var all []*AuditEntry
	for _, e := range r.s.audit {
		if e.BillID != nil && *e.BillID == billID {
			e := e
			all = append(all, &e)
		}
	}
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

type seqMem struct{ s *memStore }

func (r seqMem) Next(_ context.Context, hospitalID, docType string, year int) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := fmt.Sprintf("%s/%s/%d", hospitalID, docType, year)
	r.s.seq[key]++
	return r.s.seq[key], nil
}

// -- reports --

type reportMem struct{ s *memStore }

func inWindow(t, from, to time.Time) bool {
	return Window{From: from, To: to}.Contains(t)
}

func (r reportMem) PaymentsByMethod(_ context.Context, hospitalID string, from, to time.Time) ([]MethodTotal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	byMethod := map[string]*MethodTotal{}
	for _, p := range r.s.payments {
		if p.HospitalID != hospitalID || p.PaymentStatus != PaymentCompleted || !inWindow(p.PaymentDate, from, to) {
			continue
		}
		mt, ok := byMethod[p.PaymentMethod]
		if !ok {
			mt = &MethodTotal{Method: p.PaymentMethod}
			byMethod[p.PaymentMethod] = mt
		}
		mt.Total += p.Amount
		mt.Count++
	}
	var out []MethodTotal
	for _, mt := range byMethod {
		out = append(out, *mt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Method < out[j].Method })
	return out, nil
}

func (r reportMem) RevenueByCategory(_ context.Context, hospitalID string, from, to time.Time) ([]CategoryTotal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	byCat := map[string]float64{}
	for _, it := range r.s.items {
		b, ok := r.s.bills[it.BillID]
		if !ok || b.HospitalID != hospitalID || !inWindow(it.CreatedAt, from, to) {
			continue
		}
		byCat[it.ServiceCategory] += it.TotalPrice
	}
	var out []CategoryTotal
	for c, total := range byCat {
		out = append(out, CategoryTotal{Category: c, Total: total})
	}
	return out, nil
}

func (r reportMem) BillsCreated(_ context.Context, hospitalID string, from, to time.Time) (BillStats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var st BillStats
	for _, b := range r.s.bills {
		if b.HospitalID == hospitalID && inWindow(b.CreatedAt, from, to) {
			st.Count++
			st.TotalDiscounts += b.DiscountAmount
		}
	}
	return st, nil
}

func (r reportMem) OutstandingBalance(_ context.Context, hospitalID string) (float64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	total := 0.0
	for _, b := range r.s.bills {
		if b.HospitalID == hospitalID && b.Status == BillOpen && b.Balance > 0 {
			total += b.Balance
		}
	}
	return total, nil
}

// -- events --

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.BillingEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, evt events.BillingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

var errInjected = errors.New("injected failure")
