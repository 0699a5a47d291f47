package validation

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"affiliate-tracking/internal/models"
)

var (
	codeRegex     = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	orderRefRegex = regexp.MustCompile(`^[A-Za-z0-9._:/-]{1,128}$`)

	maxOrderAmount = decimal.NewFromInt(100_000_000)
)

// ValidationError describes a rejected request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// ValidateClickRequest checks and sanitizes a click request in place.
func ValidateClickRequest(req *models.RecordClickRequest) error {
	req.TenantID = SanitizeString(req.TenantID)
	req.AffiliateCode = SanitizeString(req.AffiliateCode)
	req.LandingURL = SanitizeString(req.LandingURL)
	req.Referer = SanitizeString(req.Referer)

	if err := ValidateID(req.TenantID, "tenant_id"); err != nil {
		return err
	}
	if err := ValidateCode(req.AffiliateCode, "affiliate_code", true); err != nil {
		return err
	}
	if len(req.LandingURL) > 2048 {
		return &ValidationError{Field: "landing_url", Message: "cannot exceed 2048 characters"}
	}
	if len(req.Referer) > 2048 {
		return &ValidationError{Field: "referer", Message: "cannot exceed 2048 characters"}
	}
	return nil
}

// ValidateResolveRequest checks and sanitizes a resolve request in place.
func ValidateResolveRequest(req *models.ResolveRequest) error {
	req.TenantID = SanitizeString(req.TenantID)
	req.CouponCode = SanitizeString(req.CouponCode)
	req.Token = strings.TrimSpace(req.Token)

	if err := ValidateID(req.TenantID, "tenant_id"); err != nil {
		return err
	}
	if err := ValidateCode(req.CouponCode, "coupon_code", false); err != nil {
		return err
	}
	return validateAmount(req.OrderAmount)
}

// ValidateConfirmRequest checks and sanitizes an order confirmation in place.
func ValidateConfirmRequest(req *models.ConfirmOrderRequest) error {
	req.TenantID = SanitizeString(req.TenantID)
	req.OrderRef = SanitizeString(req.OrderRef)
	req.CouponCode = SanitizeString(req.CouponCode)
	req.Token = strings.TrimSpace(req.Token)
	req.BuyerEmail = SanitizeString(req.BuyerEmail)
	req.ClickRef = SanitizeString(req.ClickRef)

	if err := ValidateID(req.TenantID, "tenant_id"); err != nil {
		return err
	}
	if err := ValidateOrderRef(req.OrderRef); err != nil {
		return err
	}
	if err := ValidateCode(req.CouponCode, "coupon_code", false); err != nil {
		return err
	}
	if err := validateAmount(req.OrderAmount); err != nil {
		return err
	}
	if req.BuyerEmail != "" {
		if _, err := mail.ParseAddress(req.BuyerEmail); err != nil {
			return &ValidationError{Field: "buyer_email", Message: "must be a valid email address"}
		}
	}
	if len(req.ClickRef) > 128 {
		return &ValidationError{Field: "click_ref", Message: "cannot exceed 128 characters"}
	}
	return nil
}

func validateAmount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return &ValidationError{Field: "order_amount", Message: "must be non-negative"}
	}
	if amount.GreaterThan(maxOrderAmount) {
		return &ValidationError{Field: "order_amount", Message: "exceeds maximum allowed amount"}
	}
	return nil
}

// SanitizeString drops control characters other than whitespace and trims
// the result.
func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}

// ValidateID checks an opaque identifier issued by a collaborator.
func ValidateID(id, fieldName string) error {
	if id == "" {
		return &ValidationError{Field: fieldName, Message: "is required"}
	}
	if len(id) > 128 {
		return &ValidationError{Field: fieldName, Message: "cannot exceed 128 characters"}
	}
	if strings.ContainsAny(id, " \t\r\n/") {
		return &ValidationError{Field: fieldName, Message: "must not contain whitespace or slashes"}
	}
	return nil
}

// ValidateCode checks an affiliate or coupon code.
func ValidateCode(code, fieldName string, required bool) error {
	if code == "" {
		if required {
			return &ValidationError{Field: fieldName, Message: "is required"}
		}
		return nil
	}
	if !codeRegex.MatchString(code) {
		return &ValidationError{
			Field:   fieldName,
			Message: "must be 1-64 letters, digits, '-' or '_'",
		}
	}
	return nil
}

// ValidateOrderRef checks a merchant order reference.
func ValidateOrderRef(ref string) error {
	if ref == "" {
		return &ValidationError{Field: "order_ref", Message: "is required"}
	}
	if !orderRefRegex.MatchString(ref) {
		return &ValidationError{Field: "order_ref", Message: "contains invalid characters"}
	}
	return nil
}

// ValidateStatus parses an optional conversion status filter.
func ValidateStatus(s string) (models.ConversionStatus, error) {
	if s == "" {
		return "", nil
	}
	status := models.ConversionStatus(strings.ToLower(s))
	if !status.Valid() {
		return "", &ValidationError{Field: "status", Message: "must be pending, approved or reversed"}
	}
	return status, nil
}

// ValidateTimeString parses an RFC3339 timestamp.
func ValidateTimeString(timeStr string) (time.Time, error) {
	if timeStr == "" {
		return time.Time{}, &ValidationError{
			Field:   "time",
			Message: "is required",
		}
	}

	t, err := time.Parse(time.RFC3339, timeStr)
	if err != nil {
		return time.Time{}, &ValidationError{
			Field:   "time",
			Message: "must be a valid RFC3339 timestamp",
		}
	}

	return t, nil
}

// ParseRangeBound parses an optional from/to query value. It accepts RFC3339
// or a bare YYYY-MM-DD date; a bare date used as an upper bound covers the
// whole day.
func ParseRangeBound(value, fieldName string, upper bool) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if d, err := time.Parse(time.DateOnly, value); err == nil {
		if upper {
			d = d.Add(24*time.Hour - time.Second)
		}
		return &d, nil
	}
	t, err := ValidateTimeString(value)
	if err != nil {
		return nil, &ValidationError{
			Field:   fieldName,
			Message: "must be a YYYY-MM-DD date or RFC3339 timestamp",
		}
	}
	t = t.UTC()
	return &t, nil
}
