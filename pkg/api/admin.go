package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/monedita/pkg/billing"
	"github.com/platinummonkey/monedita/pkg/httputil"
	"github.com/platinummonkey/monedita/pkg/observability"
	"github.com/platinummonkey/monedita/pkg/payments"
	"github.com/platinummonkey/monedita/pkg/scheduler"
)

// AdminHandlers exposes subscription management and manual sweeps
type AdminHandlers struct {
	billing Billing
	sources PaymentSources
	sweeps  Sweeps
}

// NewAdminHandlers creates the admin handlers. sources and sweeps may be nil,
// which leaves their routes unregistered.
func NewAdminHandlers(b Billing, sources PaymentSources, sweeps Sweeps) *AdminHandlers {
	return &AdminHandlers{billing: b, sources: sources, sweeps: sweeps}
}

// RegisterRoutes registers admin routes on a router mounted at /admin
func (h *AdminHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/plans", h.ListPlans).Methods(http.MethodGet)

	router.HandleFunc("/users/{phone}/subscription", h.GetSubscription).Methods(http.MethodGet)
	router.HandleFunc("/users/{phone}/usage", h.GetUsage).Methods(http.MethodGet)
	router.HandleFunc("/users/{phone}/upgrade", h.Upgrade).Methods(http.MethodPost)
	router.HandleFunc("/users/{phone}/cancel", h.Cancel).Methods(http.MethodPost)
	router.HandleFunc("/users/{phone}/reactivate", h.Reactivate).Methods(http.MethodPost)
	router.HandleFunc("/users/{phone}/usage/reset", h.ResetUsage).Methods(http.MethodPost)

	if h.sources != nil {
		router.HandleFunc("/users/{phone}/payment-source", h.RegisterPaymentSource).Methods(http.MethodPut)
		router.HandleFunc("/users/{phone}/payment-source", h.CancelPaymentSource).Methods(http.MethodDelete)
	}

	if h.sweeps != nil {
		router.HandleFunc("/billing/renewals", h.RunRenewals).Methods(http.MethodPost)
		router.HandleFunc("/billing/retries", h.RunRetries).Methods(http.MethodPost)
	}
}

// UsageReport is the per-type usage of one user in the current period
type UsageReport struct {
	UserID      string                `json:"user_id"`
	PlanID      string                `json:"plan_id"`
	PeriodStart time.Time             `json:"period_start"`
	Usage       []*billing.LimitCheck `json:"usage"`
}

// UpgradeRequest is the body of POST /admin/users/{phone}/upgrade
type UpgradeRequest struct {
	PlanID string `json:"plan_id"`
}

func phoneOrError(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw, err := httputil.ParsePathString(r, "phone")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return "", false
	}
	phone, err := NormalizePhone(raw)
	if err != nil {
		httputil.WriteProblem(w, httputil.NewProblem(http.StatusBadRequest, "invalid_phone", err.Error()))
		return "", false
	}
	return phone, true
}

// billingProblems maps billing sentinels to their HTTP rendering
var billingProblems = []struct {
	err    error
	status int
	code   string
}{
	{billing.ErrUnknownPlan, http.StatusBadRequest, "unknown_plan"},
	{billing.ErrUnknownUsageType, http.StatusBadRequest, "unknown_usage_type"},
	{billing.ErrNotFound, http.StatusNotFound, "subscription_not_found"},
	{billing.ErrFreePlan, http.StatusConflict, "free_plan"},
	{billing.ErrAlreadyCancelled, http.StatusConflict, "already_cancelled"},
	{billing.ErrAlreadyActive, http.StatusConflict, "already_active"},
	{billing.ErrNoPaymentSource, http.StatusConflict, "no_payment_source"},
}

func writeBillingError(w http.ResponseWriter, r *http.Request, err error) {
	for _, bp := range billingProblems {
		if errors.Is(err, bp.err) {
			httputil.WriteProblem(w, httputil.NewProblem(bp.status, bp.code, err.Error()))
			return
		}
	}
	observability.FromContext(r.Context()).WithError(err).Error("admin request failed")
	httputil.WriteInternalError(w)
}

func (h *AdminHandlers) writeStatus(w http.ResponseWriter, r *http.Request, phone string) {
	status, err := h.billing.Status(r.Context(), phone)
	if err != nil {
		writeBillingError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, status)
}

// ListPlans handles GET /admin/plans
func (h *AdminHandlers) ListPlans(w http.ResponseWriter, r *http.Request) {
	_ = httputil.WriteSuccess(w, h.billing.Catalog().All())
}

// GetSubscription handles GET /admin/users/{phone}/subscription
func (h *AdminHandlers) GetSubscription(w http.ResponseWriter, r *http.Request) {
	phone, ok := phoneOrError(w, r)
	if !ok {
		return
	}
	h.writeStatus(w, r, phone)
}

// GetUsage handles GET /admin/users/{phone}/usage
func (h *AdminHandlers) GetUsage(w http.ResponseWriter, r *http.Request) {
	phone, ok := phoneOrError(w, r)
	if !ok {
		return
	}

	status, err := h.billing.Status(r.Context(), phone)
	if err != nil {
		writeBillingError(w, r, err)
		return
	}

	report := UsageReport{
		UserID:      phone,
		PlanID:      status.Plan.ID,
		PeriodStart: status.PeriodStart,
		Usage:       make([]*billing.LimitCheck, 0, len(billing.UsageTypes)),
	}
	for _, t := range billing.UsageTypes {
		check, err := h.billing.CheckLimit(r.Context(), phone, t)
		if err != nil {
			writeBillingError(w, r, err)
			return
		}
		report.Usage = append(report.Usage, check)
	}
	_ = httputil.WriteSuccess(w, report)
}

// Upgrade handles POST /admin/users/{phone}/upgrade
func (h *AdminHandlers) Upgrade(w http.ResponseWriter, r *http.Request) {
	phone, ok := phoneOrError(w, r)
	if !ok {
		return
	}

	var req UpgradeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.PlanID == "" {
		httputil.WriteBadRequest(w, "plan_id is required")
		return
	}

	if _, err := h.billing.UpgradePlan(r.Context(), phone, req.PlanID); err != nil {
		writeBillingError(w, r, err)
		return
	}
	observability.FromContext(r.Context()).
		WithFields(map[string]interface{}{"user_id": phone, "plan_id": req.PlanID}).
		Info("plan changed by admin")
	h.writeStatus(w, r, phone)
}

// Cancel handles POST /admin/users/{phone}/cancel
func (h *AdminHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	phone, ok := phoneOrError(w, r)
	if !ok {
		return
	}
	if _, err := h.billing.CancelAutoRenew(r.Context(), phone); err != nil {
		writeBillingError(w, r, err)
		return
	}
	h.writeStatus(w, r, phone)
}

// Reactivate handles POST /admin/users/{phone}/reactivate
func (h *AdminHandlers) Reactivate(w http.ResponseWriter, r *http.Request) {
	phone, ok := phoneOrError(w, r)
	if !ok {
		return
	}
	if _, err := h.billing.ReactivateAutoRenew(r.Context(), phone); err != nil {
		writeBillingError(w, r, err)
		return
	}
	h.writeStatus(w, r, phone)
}

// ResetUsage handles POST /admin/users/{phone}/usage/reset
func (h *AdminHandlers) ResetUsage(w http.ResponseWriter, r *http.Request) {
	phone, ok := phoneOrError(w, r)
	if !ok {
		return
	}
	if err := h.billing.ResetPeriod(r.Context(), phone); err != nil {
		writeBillingError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RegisterPaymentSource handles PUT /admin/users/{phone}/payment-source
func (h *AdminHandlers) RegisterPaymentSource(w http.ResponseWriter, r *http.Request) {
	phone, ok := phoneOrError(w, r)
	if !ok {
		return
	}

	var details payments.SourceDetails
	if !httputil.ParseJSONOrError(w, r, &details) {
		return
	}
	if err := details.Validate(); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	source, err := h.sources.RegisterSource(r.Context(), phone, details)
	if err != nil {
		writeBillingError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, source)
}

// CancelPaymentSource handles DELETE /admin/users/{phone}/payment-source
func (h *AdminHandlers) CancelPaymentSource(w http.ResponseWriter, r *http.Request) {
	phone, ok := phoneOrError(w, r)
	if !ok {
		return
	}
	if err := h.sources.CancelSource(r.Context(), phone); err != nil {
		writeBillingError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RunRenewals handles POST /admin/billing/renewals
func (h *AdminHandlers) RunRenewals(w http.ResponseWriter, r *http.Request) {
	writeSweepResult(w, h.sweeps.TriggerRenewals(r.Context()))
}

// RunRetries handles POST /admin/billing/retries
func (h *AdminHandlers) RunRetries(w http.ResponseWriter, r *http.Request) {
	writeSweepResult(w, h.sweeps.TriggerRetries(r.Context()))
}

func writeSweepResult(w http.ResponseWriter, result scheduler.Result) {
	status := http.StatusOK
	if result.Error != "" {
		status = http.StatusInternalServerError
	}
	_ = httputil.WriteJSON(w, status, result)
}
