package billing

import (
	"time"
)

// UsageType is a category of billable action counted against a plan ceiling
type UsageType string

const (
	UsageText           UsageType = "text"
	UsageVoice          UsageType = "voice"
	UsageImage          UsageType = "image"
	UsageAIConversation UsageType = "ai_conversation"
	UsageBudget         UsageType = "budget"
)

// UsageTypes is the fixed set of usage types reported by GetAllUsage
var UsageTypes = []UsageType{
	UsageText,
	UsageVoice,
	UsageImage,
	UsageAIConversation,
	UsageBudget,
}

// Valid reports whether t is one of the enumerated usage types
func (t UsageType) Valid() bool {
	for _, known := range UsageTypes {
		if t == known {
			return true
		}
	}
	return false
}

// BillingPeriod is the length of one rolling billing window.
// Periods are anchored at the subscription start, not at calendar months.
const BillingPeriod = 30 * 24 * time.Hour

// MaxRetries caps how many times a declined charge is retried
const MaxRetries = 3

// Plan is a named bundle of usage ceilings and price
type Plan struct {
	ID            string              `json:"id" yaml:"id"`
	Name          string              `json:"name" yaml:"name"`
	PriceMonthly  float64             `json:"price_monthly" yaml:"price_monthly"`
	PriceCOPCents int64               `json:"price_cop_cents" yaml:"price_cop_cents"`
	Limits        map[UsageType]Limit `json:"limits" yaml:"limits"`
	CanExportCSV  bool                `json:"can_export_csv" yaml:"can_export_csv"`
	CanExportPDF  bool                `json:"can_export_pdf" yaml:"can_export_pdf"`
	IsDefault     bool                `json:"is_default,omitempty" yaml:"default"`
}

// Limit returns the ceiling for a usage type. Types missing from the plan
// are treated as a zero ceiling.
func (p *Plan) Limit(t UsageType) Limit {
	if l, ok := p.Limits[t]; ok {
		return l
	}
	return Limited(0)
}

// IsFree reports whether the plan is never charged
func (p *Plan) IsFree() bool {
	return p.PriceCOPCents == 0
}

// ChargeCurrency is the currency recurring charges are collected in
const ChargeCurrency = "COP"

// SubscriptionState is the derived lifecycle state of a subscription
type SubscriptionState string

const (
	StateFree          SubscriptionState = "free"
	StatePaidActive    SubscriptionState = "paid_active"
	StatePaidCancelled SubscriptionState = "paid_cancelled_pending_expiry"
)

// Subscription is the single active plan assignment of a user
type Subscription struct {
	ID            int64      `json:"id"`
	UserID        string     `json:"user_id"`
	PlanID        string     `json:"plan_id"`
	StartedAt     time.Time  `json:"started_at"`
	AutoRenew     bool       `json:"auto_renew"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`
	NextBillingAt *time.Time `json:"next_billing_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// IsCancelled reports whether auto-renewal was cancelled
func (s *Subscription) IsCancelled() bool {
	return s.CancelledAt != nil
}

// DueForRenewal reports whether the renewal sweep should charge this subscription
func (s *Subscription) DueForRenewal(now time.Time) bool {
	if !s.AutoRenew || s.CancelledAt != nil || s.NextBillingAt == nil {
		return false
	}
	return !s.NextBillingAt.After(now)
}

// UsageCounter is the count of one usage type within one billing period
type UsageCounter struct {
	UserID      string    `json:"user_id"`
	Type        UsageType `json:"usage_type"`
	PeriodStart time.Time `json:"period_start"`
	Count       int       `json:"count"`
}

// BillingStatus represents the outcome of a charge attempt
type BillingStatus string

const (
	BillingStatusPending   BillingStatus = "pending"
	BillingStatusSucceeded BillingStatus = "succeeded"
	BillingStatusDeclined  BillingStatus = "declined"
	// BillingStatusVoided closes a declined charge that is no longer owed
	BillingStatusVoided BillingStatus = "voided"
)

// BillingRecord is one charge attempt, updated in place on retry
type BillingRecord struct {
	ID            int64         `json:"id"`
	UserID        string        `json:"user_id"`
	PlanID        string        `json:"plan_id"`
	AmountCents   int64         `json:"amount_cents"`
	Currency      string        `json:"currency"`
	Reference     string        `json:"reference"`
	TransactionID string        `json:"transaction_id,omitempty"`
	Status        BillingStatus `json:"status"`
	RetryCount    int           `json:"retry_count"`
	NextRetryAt   *time.Time    `json:"next_retry_at,omitempty"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// DueForRetry reports whether the retry sweep should pick up this record
func (r *BillingRecord) DueForRetry(now time.Time) bool {
	if r.Status != BillingStatusDeclined || r.RetryCount >= MaxRetries || r.NextRetryAt == nil {
		return false
	}
	return !r.NextRetryAt.After(now)
}

// Unpaid reports whether the record is still an uncollected charge
func (r *BillingRecord) Unpaid() bool {
	return r.Status == BillingStatusPending || r.Status == BillingStatusDeclined
}

// CoversDuePeriod reports whether the record was charged for the period sub
// currently owes. Renewals only run once NextBillingAt has passed and a
// successful charge moves NextBillingAt past the charge time, so a record
// created before NextBillingAt belongs to an earlier period or plan.
func (r *BillingRecord) CoversDuePeriod(sub *Subscription) bool {
	if sub == nil || sub.NextBillingAt == nil || !sub.AutoRenew || sub.CancelledAt != nil {
		return false
	}
	return r.PlanID == sub.PlanID && !r.CreatedAt.Before(*sub.NextBillingAt)
}

// PaymentSourceStatus represents the status of a stored payment source
type PaymentSourceStatus string

const (
	PaymentSourceActive    PaymentSourceStatus = "active"
	PaymentSourceCancelled PaymentSourceStatus = "cancelled"
)

// PaymentSource is the tokenized card a user is charged with
type PaymentSource struct {
	ID           int64               `json:"id"`
	UserID       string              `json:"user_id"`
	Token        string              `json:"-"`
	CustomerRef  string              `json:"-"`
	CardBrand    string              `json:"card_brand,omitempty"`
	CardLastFour string              `json:"card_last_four,omitempty"`
	Status       PaymentSourceStatus `json:"status"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// IsActive reports whether the source can be charged
func (p *PaymentSource) IsActive() bool {
	return p.Status == PaymentSourceActive
}

// LimitCheck is the Limit Gate's decision for one usage type.
// Limit and Remaining are -1 when the plan ceiling is unlimited.
type LimitCheck struct {
	UsageType UsageType `json:"usage_type"`
	Allowed   bool      `json:"allowed"`
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Unlimited bool      `json:"unlimited"`
}

// ChargeResult is what the payment collaborator reports back for a charge attempt
type ChargeResult struct {
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
	Record  *BillingRecord `json:"record,omitempty"`
}

// SubscriptionStatus is the user-facing summary of a subscription
type SubscriptionStatus struct {
	Plan             *Plan             `json:"plan"`
	Subscription     *Subscription     `json:"subscription"`
	State            SubscriptionState `json:"state"`
	PeriodStart      time.Time         `json:"period_start"`
	HasPaymentMethod bool              `json:"has_payment_method"`
	CardBrand        string            `json:"card_brand,omitempty"`
	CardLastFour     string            `json:"card_last_four,omitempty"`
}
