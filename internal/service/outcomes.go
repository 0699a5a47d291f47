package service

import (
	"time"

	"github.com/shopspring/decimal"

	"affiliate-tracking/internal/commission"
	"affiliate-tracking/internal/models"
)

// ClickInput describes one referral visit.
type ClickInput struct {
	TenantID      string
	AffiliateCode string
	IP            string
	UserAgent     string
	Referer       string
	LandingURL    string
	UTM           models.UTM
}

// AttributionToken is returned to the caller to persist client-side. Value is
// the signed token; it should be stored with the same expiry.
type AttributionToken struct {
	Value         string
	AffiliateCode string
	ClickID       string
	Timestamp     time.Time
	WindowDays    int
	ExpiresAt     time.Time
}

// ResolveInput carries the attribution signals of an order.
type ResolveInput struct {
	TenantID    string
	CouponCode  string
	Token       string
	OrderAmount decimal.Decimal
}

// Attribution is the decision of which affiliate, if any, gets credit. When
// Method is models.MethodNone the other fields are zero.
type Attribution struct {
	Method     models.AttributionMethod
	Affiliate  models.Affiliate
	Commission commission.Commission
	ClickID    string
}

// Attributed reports whether an affiliate was credited.
func (a Attribution) Attributed() bool {
	return a.Method != models.MethodNone
}

// ConfirmInput carries an order confirmation.
type ConfirmInput struct {
	TenantID    string
	OrderRef    string
	CouponCode  string
	Token       string
	OrderAmount decimal.Decimal
	BuyerEmail  string
	ClickRef    string
}

// ConfirmOutcome is the typed result of ConfirmOrder.
type ConfirmOutcome string

const (
	OutcomeCreated             ConfirmOutcome = "created"
	OutcomeAlreadyExists       ConfirmOutcome = "already_exists"
	OutcomeNoAttribution       ConfirmOutcome = "no_attribution"
	OutcomeSelfPurchaseBlocked ConfirmOutcome = "self_purchase_blocked"
)

// ConfirmResult holds the outcome and, for Created and AlreadyExists, the
// conversion row.
type ConfirmResult struct {
	Outcome    ConfirmOutcome
	Conversion *models.Conversion
}

// TransitionOutcome is the typed result of Approve and Reverse.
type TransitionOutcome string

const (
	TransitionApplied  TransitionOutcome = "applied"
	TransitionIllegal  TransitionOutcome = "illegal_transition"
	TransitionNotFound TransitionOutcome = "not_found"
)

// TransitionResult holds the outcome and the conversion as it is after the
// call. Conversion is nil only for TransitionNotFound.
type TransitionResult struct {
	Outcome    TransitionOutcome
	Conversion *models.Conversion
}

// DateRange bounds stats queries on creation time. Both ends are inclusive
// and optional.
type DateRange struct {
	From *time.Time
	To   *time.Time
}

// ConversionQuery selects a page of an affiliate's conversions.
type ConversionQuery struct {
	AffiliateID string
	Status      models.ConversionStatus
	Limit       int
	Offset      int
}
