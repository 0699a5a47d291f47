package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CommissionType selects how a commission is derived from an order amount.
type CommissionType string

const (
	CommissionPercentage CommissionType = "percentage"
	CommissionFixed      CommissionType = "fixed"
)

// Valid reports whether t is one of the known commission types.
func (t CommissionType) Valid() bool {
	return t == CommissionPercentage || t == CommissionFixed
}

// ConversionStatus is the lifecycle state of a conversion.
type ConversionStatus string

const (
	StatusPending  ConversionStatus = "pending"
	StatusApproved ConversionStatus = "approved"
	StatusReversed ConversionStatus = "reversed"
)

// Valid reports whether s is a known conversion status.
func (s ConversionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusReversed:
		return true
	}
	return false
}

// AttributionMethod records which signal credited the affiliate.
type AttributionMethod string

const (
	MethodNone   AttributionMethod = ""
	MethodCoupon AttributionMethod = "coupon"
	MethodLink   AttributionMethod = "link"
)

// Tenant is the attribution configuration owned by an external tenant service.
type Tenant struct {
	ID                    string          `json:"id"`
	WindowDays            int             `json:"window_days"`
	DefaultCommissionType CommissionType  `json:"default_commission_type"`
	DefaultCommissionRate decimal.Decimal `json:"default_commission_rate"`
	SelfPurchaseGuard     bool            `json:"self_purchase_guard"`
}

// Affiliate is a referral partner scoped to one tenant.
// CommissionType and CommissionRate are optional; when omitted the tenant
// defaults apply.
type Affiliate struct {
	ID             string              `json:"id"`
	TenantID       string              `json:"tenant_id"`
	Code           string              `json:"code"`
	Name           string              `json:"name"`
	ContactEmail   string              `json:"contact_email"`
	CommissionType CommissionType      `json:"commission_type,omitempty"`
	CommissionRate decimal.NullDecimal `json:"commission_rate"`
	Active         bool                `json:"active"`
}

// Coupon binds a code to exactly one affiliate.
type Coupon struct {
	Code        string `json:"code"`
	AffiliateID string `json:"affiliate_id"`
	Active      bool   `json:"active"`
}

// UTM holds the optional campaign parameters of a referral visit.
type UTM struct {
	Source   string `json:"utm_source,omitempty"`
	Medium   string `json:"utm_medium,omitempty"`
	Campaign string `json:"utm_campaign,omitempty"`
	Term     string `json:"utm_term,omitempty"`
	Content  string `json:"utm_content,omitempty"`
}

// Click is an immutable record of a referral visit.
type Click struct {
	ID          string    `json:"id"`
	AffiliateID string    `json:"affiliate_id"`
	TenantID    string    `json:"tenant_id"`
	IPHash      string    `json:"ip_hash"`
	UserAgent   string    `json:"user_agent"`
	Referer     string    `json:"referer"`
	LandingURL  string    `json:"landing_url"`
	UTM         UTM       `json:"utm"`
	ClickedAt   time.Time `json:"clicked_at"`
}

// Conversion credits one order to one affiliate.
type Conversion struct {
	ID              string            `json:"id"`
	TenantID        string            `json:"tenant_id"`
	AffiliateID     string            `json:"affiliate_id"`
	OrderRef        string            `json:"order_ref"`
	Amount          decimal.Decimal   `json:"amount"`
	CommissionValue decimal.Decimal   `json:"commission_value"`
	CommissionType  CommissionType    `json:"commission_type"`
	Status          ConversionStatus  `json:"status"`
	AttributedBy    AttributionMethod `json:"attributed_by"`
	ClickID         string            `json:"click_id,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	ApprovedAt      *time.Time        `json:"approved_at,omitempty"`
	ReversedAt      *time.Time        `json:"reversed_at,omitempty"`
}

// Metadata keys stored on conversions.
const (
	MetaBuyerEmail = "buyer_email"
	MetaCouponCode = "coupon_code"
)

// Stats is a rollup of conversions grouped by status.
type Stats struct {
	TotalConversions    int             `json:"total_conversions"`
	PendingConversions  int             `json:"pending_conversions"`
	ApprovedConversions int             `json:"approved_conversions"`
	ReversedConversions int             `json:"reversed_conversions"`
	TotalCommission     decimal.Decimal `json:"total_commission"`
	PendingCommission   decimal.Decimal `json:"pending_commission"`
	TotalSales          decimal.Decimal `json:"total_sales"`
}

// DailyClicks is the number of clicks on one calendar day (YYYY-MM-DD, UTC).
type DailyClicks struct {
	Date   string `json:"date"`
	Clicks int    `json:"clicks"`
}

// ClickStats summarizes an affiliate's referral traffic.
type ClickStats struct {
	TotalClicks     int           `json:"total_clicks"`
	ClicksThisMonth int           `json:"clicks_this_month"`
	ClicksByDate    []DailyClicks `json:"clicks_by_date"`
}

// ConversionPage is one page of an affiliate's conversion history.
type ConversionPage struct {
	Conversions []Conversion `json:"conversions"`
	Total       int          `json:"total"`
	HasMore     bool         `json:"has_more"`
	Offset      int          `json:"offset"`
	Limit       int          `json:"limit"`
}
