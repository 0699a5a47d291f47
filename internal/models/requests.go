package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RecordClickRequest is the request body for POST /clicks.
type RecordClickRequest struct {
	TenantID      string `json:"tenant_id"`
	AffiliateCode string `json:"affiliate_code"`
	LandingURL    string `json:"landing_url"`
	Referer       string `json:"referer"`
	UTM           UTM    `json:"utm"`
}

// AttributionTokenResponse is handed back to the caller to store as a cookie.
type AttributionTokenResponse struct {
	Token         string    `json:"token"`
	AffiliateCode string    `json:"affiliate_code"`
	ClickID       string    `json:"click_id"`
	Timestamp     time.Time `json:"timestamp"`
	WindowDays    int       `json:"window_days"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// ResolveRequest is the request body for POST /attribution/resolve.
type ResolveRequest struct {
	TenantID    string          `json:"tenant_id"`
	CouponCode  string          `json:"coupon_code,omitempty"`
	Token       string          `json:"token,omitempty"`
	OrderAmount decimal.Decimal `json:"order_amount"`
}

// ResolveResponse describes a resolved (or absent) attribution.
type ResolveResponse struct {
	Attributed      bool              `json:"attributed"`
	Method          AttributionMethod `json:"method,omitempty"`
	AffiliateID     string            `json:"affiliate_id,omitempty"`
	AffiliateCode   string            `json:"affiliate_code,omitempty"`
	CommissionType  CommissionType    `json:"commission_type,omitempty"`
	CommissionValue decimal.Decimal   `json:"commission_value"`
	ClickID         string            `json:"click_id,omitempty"`
}

// ConfirmOrderRequest is the request body for POST /orders/confirm.
type ConfirmOrderRequest struct {
	TenantID    string          `json:"tenant_id"`
	OrderRef    string          `json:"order_ref"`
	CouponCode  string          `json:"coupon_code,omitempty"`
	Token       string          `json:"token,omitempty"`
	OrderAmount decimal.Decimal `json:"order_amount"`
	BuyerEmail  string          `json:"buyer_email,omitempty"`
	ClickRef    string          `json:"click_ref,omitempty"`
}

// OutcomeResponse carries a typed outcome and the affected conversion, if any.
type OutcomeResponse struct {
	Outcome    string      `json:"outcome"`
	Conversion *Conversion `json:"conversion,omitempty"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
