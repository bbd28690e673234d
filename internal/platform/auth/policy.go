package auth

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Action names a guarded billing operation.
type Action string

const (
	ActionManagePricing  Action = "manage_pricing"
	ActionAddCharge      Action = "add_charge"
	ActionApplyDiscount  Action = "apply_discount"
	ActionCloseBill      Action = "close_bill"
	ActionCancelBill     Action = "cancel_bill"
	ActionProcessPayment Action = "process_payment"
	ActionViewReports    Action = "view_reports"
)

// Resource carries the attributes a rule may inspect.
type Resource struct {
	DiscountPercentage float64
}

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// Tier grants an action above a threshold to a set of roles. A tier with no
// roles admits any authenticated user.
type Tier struct {
	Above  float64
	Roles  []string
	Denial string
}

// Rule guards one action. Tiers are evaluated in order and the first tier
// whose threshold is exceeded decides.
type Rule struct {
	Action Action
	Roles  []string
	Tiers  []Tier
	Denial string
}

// PolicyEngine evaluates billing authorization rules.
type PolicyEngine struct {
	rules map[Action]Rule
}

func NewPolicyEngine(rules []Rule) *PolicyEngine {
	m := make(map[Action]Rule, len(rules))
	for _, r := range rules {
		m[r.Action] = r
	}
	return &PolicyEngine{rules: m}
}

// DefaultRules returns the billing authorization matrix.
func DefaultRules() []Rule {
	billingStaff := []string{RoleAccountant, RoleAccountsManager, RoleHospitalAdmin}
	return []Rule{
		{Action: ActionManagePricing, Roles: []string{RoleHospitalAdmin, RoleSystemAdmin}, Denial: "Only admins can manage pricing"},
		{Action: ActionAddCharge},
		{Action: ActionApplyDiscount, Tiers: []Tier{
			{Above: 30, Roles: []string{RoleHospitalAdmin, RoleSystemAdmin}, Denial: "Discounts >30% require admin approval"},
			{Above: 10, Roles: []string{RoleAccountant, RoleAccountsManager, RoleHospitalAdmin, RoleSystemAdmin}, Denial: "Discounts >10% require accountant or manager approval"},
		}},
		{Action: ActionCloseBill, Roles: billingStaff, Denial: "Insufficient permissions"},
		{Action: ActionCancelBill, Roles: []string{RoleHospitalAdmin}, Denial: "Only hospital admins can cancel bills"},
		{Action: ActionProcessPayment, Roles: billingStaff, Denial: "Only billing staff can process payments"},
		{Action: ActionViewReports},
	}
}

// Evaluate decides whether a user holding roles may perform action on res.
// Unknown actions are denied.
func (e *PolicyEngine) Evaluate(roles []string, action Action, res Resource) Decision {
	rule, ok := e.rules[action]
	if !ok {
		return Decision{Allowed: false, Reason: "no policy for " + string(action)}
	}

	if len(rule.Roles) > 0 && !HasAnyRole(roles, rule.Roles...) {
		return Decision{Allowed: false, Reason: rule.Denial}
	}

	for _, tier := range rule.Tiers {
		if res.DiscountPercentage > tier.Above {
			if len(tier.Roles) > 0 && !HasAnyRole(roles, tier.Roles...) {
				return Decision{Allowed: false, Reason: tier.Denial}
			}
			break
		}
	}

	return Decision{Allowed: true, Reason: "policy match"}
}

// RequireAction returns middleware enforcing a resource-independent rule.
// Rules that depend on request attributes are evaluated in the service.
func RequireAction(engine *PolicyEngine, action Action) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			d := engine.Evaluate(RolesFromContext(c.Request().Context()), action, Resource{})
			if !d.Allowed {
				return echo.NewHTTPError(http.StatusForbidden, d.Reason)
			}
			return next(c)
		}
	}
}

// EvaluateContext evaluates using the roles carried by ctx.
func (e *PolicyEngine) EvaluateContext(ctx context.Context, action Action, res Resource) Decision {
	return e.Evaluate(RolesFromContext(ctx), action, res)
}
