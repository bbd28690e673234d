package billing

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/billing/internal/platform/apperr"
	"github.com/hms/billing/internal/platform/auth"
	"github.com/hms/billing/internal/platform/db"
	"github.com/hms/billing/pkg/pagination"
)

type Handler struct {
	svc    *Service
	policy *auth.PolicyEngine
	loc    *time.Location
}

func NewHandler(svc *Service, policy *auth.PolicyEngine, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{svc: svc, policy: policy, loc: loc}
}

// RegisterRoutes mounts the billing API on g. Authentication and hospital
// resolution are expected to run before these routes.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	pricing := auth.RequireAction(h.policy, auth.ActionManagePricing)
	g.POST("/pricing", h.CreatePricing, pricing)
	g.PUT("/pricing/:id", h.UpdatePricing, pricing)
	g.GET("/pricing", h.ListPricing)

	g.POST("/charges/add", h.AddCharge)

	g.GET("/bills/patient/:patient_id", h.ListPatientBills)
	g.GET("/bills/:id", h.GetBill)
	g.GET("/bills/:id/audit", h.ListBillAudit)
	g.POST("/bills/:id/discount", h.ApplyDiscount)
	g.POST("/bills/:id/close", h.CloseBill, auth.RequireAction(h.policy, auth.ActionCloseBill))
	g.POST("/bills/:id/cancel", h.CancelBill, auth.RequireAction(h.policy, auth.ActionCancelBill))

	g.POST("/payments", h.ProcessPayment, auth.RequireAction(h.policy, auth.ActionProcessPayment))
	g.GET("/payments/bill/:bill_id", h.ListBillPayments)

	g.GET("/receipts/:id", h.GetReceipt)

	g.GET("/reports/daily", h.DailyReport)
	g.GET("/reports/monthly", h.MonthlyReport)
}

func actorFrom(c echo.Context) Actor {
	ctx := c.Request().Context()
	return Actor{
		UserID:     auth.UserIDFromContext(ctx),
		Roles:      auth.RolesFromContext(ctx),
		HospitalID: db.HospitalFromContext(ctx),
	}
}

func bindValid(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return c.Validate(v)
}

func pathID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

// -- Pricing --

func (h *Handler) CreatePricing(c echo.Context) error {
	var in PricingInput
	if err := bindValid(c, &in); err != nil {
		return err
	}
	p, err := h.svc.CreatePricing(c.Request().Context(), actorFrom(c), in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{"pricing": p})
}

func (h *Handler) UpdatePricing(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var in PricingUpdate
	if err := bindValid(c, &in); err != nil {
		return err
	}
	p, err := h.svc.UpdatePricing(c.Request().Context(), actorFrom(c), id, in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"pricing": p})
}

func (h *Handler) ListPricing(c echo.Context) error {
	includeInactive, _ := strconv.ParseBool(c.QueryParam("include_inactive"))
	items, err := h.svc.ListPricing(c.Request().Context(), actorFrom(c), c.QueryParam("category"), includeInactive)
	if err != nil {
		return apperr.HTTP(err)
	}
	if items == nil {
		items = []*ServicePricing{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"pricing": items})
}

// -- Charges and bills --

func (h *Handler) AddCharge(c echo.Context) error {
	var in ChargeInput
	if err := bindValid(c, &in); err != nil {
		return err
	}
	res, err := h.svc.AddCharge(c.Request().Context(), actorFrom(c), in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) ListPatientBills(c echo.Context) error {
	pg := pagination.FromContext(c)
	bills, total, err := h.svc.ListPatientBills(c.Request().Context(), actorFrom(c),
		c.Param("patient_id"), BillStatus(c.QueryParam("status")), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	if bills == nil {
		bills = []*Bill{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(bills, total, pg))
}

func (h *Handler) GetBill(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	details, err := h.svc.GetBill(c.Request().Context(), actorFrom(c), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, details)
}

func (h *Handler) ListBillAudit(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	entries, total, err := h.svc.ListBillAudit(c.Request().Context(), actorFrom(c), id, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	if entries == nil {
		entries = []*AuditEntry{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(entries, total, pg))
}

func (h *Handler) ApplyDiscount(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var in DiscountInput
	if err := bindValid(c, &in); err != nil {
		return err
	}
	bill, err := h.svc.ApplyDiscount(c.Request().Context(), actorFrom(c), id, in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"bill": bill})
}

func (h *Handler) CloseBill(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	bill, err := h.svc.CloseBill(c.Request().Context(), actorFrom(c), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"bill": bill})
}

func (h *Handler) CancelBill(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var in CancelInput
	if err := bindValid(c, &in); err != nil {
		return err
	}
	bill, err := h.svc.CancelBill(c.Request().Context(), actorFrom(c), id, in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"bill": bill})
}

// -- Payments and receipts --

func (h *Handler) ProcessPayment(c echo.Context) error {
	var in PaymentInput
	if err := bindValid(c, &in); err != nil {
		return err
	}
	res, err := h.svc.ProcessPayment(c.Request().Context(), actorFrom(c), in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) ListBillPayments(c echo.Context) error {
	id, err := pathID(c, "bill_id")
	if err != nil {
		return err
	}
	payments, err := h.svc.ListBillPayments(c.Request().Context(), actorFrom(c), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	if payments == nil {
		payments = []*Payment{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"payments": payments})
}

func (h *Handler) GetReceipt(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	details, err := h.svc.GetReceipt(c.Request().Context(), actorFrom(c), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, details)
}

// -- Reports --

func (h *Handler) DailyReport(c echo.Context) error {
	var day time.Time
	if v := c.QueryParam("date"); v != "" {
		parsed, err := time.ParseInLocation("2006-01-02", v, h.loc)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "date must be formatted as YYYY-MM-DD")
		}
		day = parsed
	}
	rep, err := h.svc.DailyReport(c.Request().Context(), actorFrom(c), day)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, rep)
}

func (h *Handler) MonthlyReport(c echo.Context) error {
	year, err := strconv.Atoi(c.QueryParam("year"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "year is required")
	}
	month, err := strconv.Atoi(c.QueryParam("month"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "month is required")
	}
	rep, err := h.svc.MonthlyReport(c.Request().Context(), actorFrom(c), year, time.Month(month))
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, rep)
}
