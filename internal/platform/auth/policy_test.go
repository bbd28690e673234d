package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestPolicy_DiscountTiers(t *testing.T) {
	engine := NewPolicyEngine(DefaultRules())

	tests := []struct {
		name    string
		role    string
		pct     float64
		allowed bool
		reason  string
	}{
		{"accountant 35%", RoleAccountant, 35, false, "Discounts >30% require admin approval"},
		{"hospital admin 35%", RoleHospitalAdmin, 35, true, ""},
		{"system admin 100%", RoleSystemAdmin, 100, true, ""},
		{"accounts manager 30%", RoleAccountsManager, 30, true, ""},
		{"accountant 30.01%", RoleAccountant, 30.01, false, "Discounts >30% require admin approval"},
		{"nurse 15%", "nurse", 15, false, "Discounts >10% require accountant or manager approval"},
		{"nurse 10%", "nurse", 10, true, ""},
		{"receptionist 0%", "receptionist", 0, true, ""},
		{"accountant 11%", RoleAccountant, 11, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := engine.Evaluate([]string{tt.role}, ActionApplyDiscount, Resource{DiscountPercentage: tt.pct})
			if d.Allowed != tt.allowed {
				t.Fatalf("expected allowed=%v, got %+v", tt.allowed, d)
			}
			if !tt.allowed && d.Reason != tt.reason {
				t.Errorf("expected reason %q, got %q", tt.reason, d.Reason)
			}
		})
	}
}

func TestPolicy_RoleActions(t *testing.T) {
	engine := NewPolicyEngine(DefaultRules())

	tests := []struct {
		action  Action
		role    string
		allowed bool
	}{
		{ActionManagePricing, RoleHospitalAdmin, true},
		{ActionManagePricing, RoleSystemAdmin, true},
		{ActionManagePricing, RoleAccountant, false},
		{ActionProcessPayment, RoleAccountant, true},
		{ActionProcessPayment, RoleAccountsManager, true},
		{ActionProcessPayment, RoleHospitalAdmin, true},
		{ActionProcessPayment, RoleSystemAdmin, false},
		{ActionProcessPayment, "nurse", false},
		{ActionCloseBill, RoleAccountant, true},
		{ActionCloseBill, "doctor", false},
		{ActionCancelBill, RoleHospitalAdmin, true},
		{ActionCancelBill, RoleAccountant, false},
		{ActionAddCharge, "nurse", true},
		{ActionViewReports, "doctor", true},
	}

	for _, tt := range tests {
		d := engine.Evaluate([]string{tt.role}, tt.action, Resource{})
		if d.Allowed != tt.allowed {
			t.Errorf("%s by %s: expected allowed=%v, got %+v", tt.action, tt.role, tt.allowed, d)
		}
	}
}

func TestPolicy_UnknownActionDenied(t *testing.T) {
	engine := NewPolicyEngine(DefaultRules())
	d := engine.Evaluate([]string{RoleSystemAdmin}, Action("refund_payment"), Resource{})
	if d.Allowed {
		t.Fatal("expected unknown action to be denied")
	}
}

func TestPolicy_Messages(t *testing.T) {
	engine := NewPolicyEngine(DefaultRules())

	if d := engine.Evaluate([]string{"nurse"}, ActionManagePricing, Resource{}); d.Reason != "Only admins can manage pricing" {
		t.Errorf("unexpected reason %q", d.Reason)
	}
	if d := engine.Evaluate([]string{"nurse"}, ActionProcessPayment, Resource{}); d.Reason != "Only billing staff can process payments" {
		t.Errorf("unexpected reason %q", d.Reason)
	}
}

func TestRequireAction(t *testing.T) {
	engine := NewPolicyEngine(DefaultRules())

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(WithUser(req.Context(), "u1", []string{RoleAccountant}))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := RequireAction(engine, ActionManagePricing)(func(c echo.Context) error { return nil })
	httpErr, ok := h(c).(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", httpErr)
	}
	if httpErr.Message != "Only admins can manage pricing" {
		t.Errorf("unexpected message %v", httpErr.Message)
	}

	h = RequireAction(engine, ActionCloseBill)(func(c echo.Context) error { return nil })
	if err := h(c); err != nil {
		t.Fatalf("expected accountant to close bills, got %v", err)
	}
}
