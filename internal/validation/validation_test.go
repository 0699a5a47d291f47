package validation

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"affiliate-tracking/internal/models"
)

func TestValidateConfirmRequest(t *testing.T) {
	valid := func() models.ConfirmOrderRequest {
		return models.ConfirmOrderRequest{
			TenantID:    "tenant-1",
			OrderRef:    "ORD-1",
			CouponCode:  "BETA10",
			OrderAmount: decimal.RequireFromString("200.00"),
			BuyerEmail:  "buyer@example.com",
		}
	}

	tests := []struct {
		name   string
		mutate func(r *models.ConfirmOrderRequest)
		field  string
	}{
		{"valid", func(r *models.ConfirmOrderRequest) {}, ""},
		{"missing tenant", func(r *models.ConfirmOrderRequest) { r.TenantID = "" }, "tenant_id"},
		{"missing order ref", func(r *models.ConfirmOrderRequest) { r.OrderRef = "  " }, "order_ref"},
		{"bad order ref", func(r *models.ConfirmOrderRequest) { r.OrderRef = "ORD 1" }, "order_ref"},
		{"bad coupon", func(r *models.ConfirmOrderRequest) { r.CouponCode = "BETA 10" }, "coupon_code"},
		{"negative amount", func(r *models.ConfirmOrderRequest) { r.OrderAmount = decimal.NewFromInt(-1) }, "order_amount"},
		{"bad email", func(r *models.ConfirmOrderRequest) { r.BuyerEmail = "nope" }, "buyer_email"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(&req)
			err := ValidateConfirmRequest(&req)

			if tt.field == "" {
				if err != nil {
					t.Fatalf("Expected no error, got %v", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Expected ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Errorf("Expected field %s, got %s", tt.field, verr.Field)
			}
		})
	}
}

func TestValidateClickRequest_Sanitizes(t *testing.T) {
	req := models.RecordClickRequest{TenantID: " tenant-1\x00", AffiliateCode: "ACME\n"}
	if err := ValidateClickRequest(&req); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if req.TenantID != "tenant-1" || req.AffiliateCode != "ACME" {
		t.Errorf("Expected sanitized values, got %q %q", req.TenantID, req.AffiliateCode)
	}

	req = models.RecordClickRequest{TenantID: "tenant-1"}
	if err := ValidateClickRequest(&req); err == nil {
		t.Error("Expected error for missing affiliate code")
	}
}

func TestValidateStatus(t *testing.T) {
	if s, err := ValidateStatus("Approved"); err != nil || s != models.StatusApproved {
		t.Errorf("Expected approved, got %q, %v", s, err)
	}
	if s, err := ValidateStatus(""); err != nil || s != "" {
		t.Errorf("Expected empty status, got %q, %v", s, err)
	}
	if _, err := ValidateStatus("paid"); err == nil {
		t.Error("Expected error for unknown status")
	}
}

func TestParseRangeBound(t *testing.T) {
	from, err := ParseRangeBound("2025-03-01", "from", false)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !from.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Unexpected from: %v", from)
	}

	to, err := ParseRangeBound("2025-03-01", "to", true)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !to.Equal(time.Date(2025, 3, 1, 23, 59, 59, 0, time.UTC)) {
		t.Errorf("Unexpected to: %v", to)
	}

	ts, err := ParseRangeBound("2025-03-01T10:00:00+02:00", "from", false)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !ts.Equal(time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("Unexpected timestamp: %v", ts)
	}

	if none, err := ParseRangeBound("", "from", false); err != nil || none != nil {
		t.Errorf("Expected nil bound, got %v, %v", none, err)
	}
	if _, err := ParseRangeBound("yesterday", "from", false); err == nil {
		t.Error("Expected error for garbage bound")
	}
}
