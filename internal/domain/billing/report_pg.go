package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
)

var pgDialect = goqu.Dialect("postgres")

type reportRepoPG struct{ pgBase }

func NewReportRepoPG(pool *pgxpool.Pool) ReportRepository { return &reportRepoPG{pgBase{pool}} }

func paymentsByMethodQuery(hospitalID string, from, to time.Time) (string, []interface{}, error) {
	return pgDialect.From("payments").Prepared(true).
		Select(
			goqu.C("payment_method"),
			goqu.COALESCE(goqu.SUM("amount"), 0).As("total"),
			goqu.COUNT("*").As("n"),
		).
		Where(
			goqu.C("hospital_id").Eq(hospitalID),
			goqu.C("payment_status").Eq(PaymentCompleted),
			goqu.C("payment_date").Gte(from),
			goqu.C("payment_date").Lt(to),
		).
		GroupBy("payment_method").
		Order(goqu.C("payment_method").Asc()).
		ToSQL()
}

func revenueByCategoryQuery(hospitalID string, from, to time.Time) (string, []interface{}, error) {
	return pgDialect.From(goqu.T("bill_items").As("i")).Prepared(true).
		Join(goqu.T("patient_bills").As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("i.bill_id")))).
		Select(
			goqu.I("i.service_category"),
			goqu.COALESCE(goqu.SUM(goqu.I("i.total_price")), 0).As("total"),
		).
		Where(
			goqu.I("b.hospital_id").Eq(hospitalID),
			goqu.I("i.created_at").Gte(from),
			goqu.I("i.created_at").Lt(to),
		).
		GroupBy(goqu.I("i.service_category")).
		Order(goqu.I("i.service_category").Asc()).
		ToSQL()
}

func billsCreatedQuery(hospitalID string, from, to time.Time) (string, []interface{}, error) {
	return pgDialect.From("patient_bills").Prepared(true).
		Select(
			goqu.COUNT("*").As("n"),
			goqu.COALESCE(goqu.SUM("discount_amount"), 0).As("discounts"),
		).
		Where(
			goqu.C("hospital_id").Eq(hospitalID),
			goqu.C("created_at").Gte(from),
			goqu.C("created_at").Lt(to),
		).
		ToSQL()
}

func outstandingQuery(hospitalID string) (string, []interface{}, error) {
	return pgDialect.From("patient_bills").Prepared(true).
		Select(goqu.COALESCE(goqu.SUM("balance"), 0).As("outstanding")).
		Where(
			goqu.C("hospital_id").Eq(hospitalID),
			goqu.C("status").Eq(string(BillOpen)),
			goqu.C("balance").Gt(0),
		).
		ToSQL()
}

func (r *reportRepoPG) PaymentsByMethod(ctx context.Context, hospitalID string, from, to time.Time) ([]MethodTotal, error) {
	query, args, err := paymentsByMethodQuery(hospitalID, from, to)
	if err != nil {
		return nil, fmt.Errorf("build payments query: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MethodTotal
	for rows.Next() {
		var m MethodTotal
		if err := rows.Scan(&m.Method, &m.Total, &m.Count); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *reportRepoPG) RevenueByCategory(ctx context.Context, hospitalID string, from, to time.Time) ([]CategoryTotal, error) {
	query, args, err := revenueByCategoryQuery(hospitalID, from, to)
	if err != nil {
		return nil, fmt.Errorf("build revenue query: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CategoryTotal
	for rows.Next() {
		var c CategoryTotal
		if err := rows.Scan(&c.Category, &c.Total); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *reportRepoPG) BillsCreated(ctx context.Context, hospitalID string, from, to time.Time) (BillStats, error) {
	var s BillStats
	query, args, err := billsCreatedQuery(hospitalID, from, to)
	if err != nil {
		return s, fmt.Errorf("build bills query: %w", err)
	}
	err = r.conn(ctx).QueryRow(ctx, query, args...).Scan(&s.Count, &s.TotalDiscounts)
	return s, err
}

func (r *reportRepoPG) OutstandingBalance(ctx context.Context, hospitalID string) (float64, error) {
	var v float64
	query, args, err := outstandingQuery(hospitalID)
	if err != nil {
		return 0, fmt.Errorf("build outstanding query: %w", err)
	}
	err = r.conn(ctx).QueryRow(ctx, query, args...).Scan(&v)
	return v, err
}
