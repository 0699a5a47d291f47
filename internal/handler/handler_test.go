package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"affiliate-tracking/internal/database"
	"affiliate-tracking/internal/features"
	"affiliate-tracking/internal/models"
	"affiliate-tracking/internal/service"
	"affiliate-tracking/internal/token"
)

var now = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func setupTestHandler(t *testing.T) (*chi.Mux, *database.DB) {
	t.Helper()
	ctx := context.Background()

	db, err := database.NewDB(ctx, filepath.Join(t.TempDir(), "handler.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	tenant := models.Tenant{
		ID:                    "tenant-1",
		WindowDays:            90,
		DefaultCommissionType: models.CommissionPercentage,
		DefaultCommissionRate: decimal.NewFromInt(10),
		SelfPurchaseGuard:     true,
	}
	if err := db.UpsertTenant(ctx, tenant); err != nil {
		t.Fatalf("Failed to upsert tenant: %v", err)
	}
	affiliates := []models.Affiliate{
		{
			ID:             "aff-acme",
			TenantID:       tenant.ID,
			Code:           "ACME",
			ContactEmail:   "acme@example.com",
			CommissionType: models.CommissionPercentage,
			CommissionRate: decimal.NewNullDecimal(decimal.NewFromInt(15)),
			Active:         true,
		},
		{
			ID:             "aff-beta",
			TenantID:       tenant.ID,
			Code:           "BETA",
			ContactEmail:   "beta@example.com",
			CommissionType: models.CommissionFixed,
			CommissionRate: decimal.NewNullDecimal(decimal.NewFromInt(25)),
			Active:         true,
		},
	}
	for _, a := range affiliates {
		if err := db.UpsertAffiliate(ctx, a); err != nil {
			t.Fatalf("Failed to upsert affiliate: %v", err)
		}
	}
	if err := db.UpsertCoupon(ctx, models.Coupon{Code: "BETA10", AffiliateID: "aff-beta", Active: true}); err != nil {
		t.Fatalf("Failed to upsert coupon: %v", err)
	}

	codec, err := token.NewCodec("test-secret", "affiliate-tracking")
	if err != nil {
		t.Fatalf("Failed to create codec: %v", err)
	}
	svc := service.NewService(db, codec, "salt", service.WithClock(func() time.Time { return now }))

	h := NewHandlerWithOptions(svc, NewHandlerOptions{
		MaxBodySize: 1 << 10,
		Features:    features.Defaults(true, false),
		Health:      db,
	})
	r := chi.NewRouter()
	h.Routes(r)
	return r, db
}

func do(t *testing.T, r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.5:4321"
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("Failed to unmarshal response: %v. Body: %s", err, rr.Body.String())
	}
}

func TestHealthCheck(t *testing.T) {
	r, db := setupTestHandler(t)

	rr := do(t, r, "GET", "/health", nil)
	if rr.Code != http.StatusOK || rr.Body.String() != "OK" {
		t.Errorf("Expected 200 OK, got %d %q", rr.Code, rr.Body.String())
	}

	db.Close()
	rr = do(t, r, "GET", "/health", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 after close, got %d", rr.Code)
	}
}

func TestOrderLifecycle(t *testing.T) {
	r, _ := setupTestHandler(t)

	rr := do(t, r, "POST", "/clicks", models.RecordClickRequest{
		TenantID:      "tenant-1",
		AffiliateCode: "ACME",
		LandingURL:    "https://shop.example.com/?ref=ACME",
		UTM:           models.UTM{Source: "newsletter"},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d. Body: %s", rr.Code, rr.Body.String())
	}
	var tok models.AttributionTokenResponse
	decodeBody(t, rr, &tok)
	if tok.Token == "" || tok.WindowDays != 90 {
		t.Fatalf("Unexpected token response: %+v", tok)
	}

	rr = do(t, r, "POST", "/attribution/resolve", models.ResolveRequest{
		TenantID:    "tenant-1",
		Token:       tok.Token,
		OrderAmount: decimal.RequireFromString("200.00"),
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d. Body: %s", rr.Code, rr.Body.String())
	}
	var resolved models.ResolveResponse
	decodeBody(t, rr, &resolved)
	if !resolved.Attributed || resolved.Method != models.MethodLink || !resolved.CommissionValue.Equal(decimal.NewFromInt(30)) {
		t.Errorf("Unexpected resolve response: %+v", resolved)
	}

	confirm := models.ConfirmOrderRequest{
		TenantID:    "tenant-1",
		OrderRef:    "ORD-1",
		Token:       tok.Token,
		OrderAmount: decimal.RequireFromString("200.00"),
		BuyerEmail:  "buyer@example.com",
	}
	rr = do(t, r, "POST", "/orders/confirm", confirm)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d. Body: %s", rr.Code, rr.Body.String())
	}
	var created models.OutcomeResponse
	decodeBody(t, rr, &created)
	if created.Outcome != "created" || created.Conversion == nil || created.Conversion.Status != models.StatusPending {
		t.Fatalf("Unexpected confirm response: %+v", created)
	}

	rr = do(t, r, "POST", "/orders/confirm", confirm)
	var again models.OutcomeResponse
	decodeBody(t, rr, &again)
	if rr.Code != http.StatusOK || again.Outcome != "already_exists" || again.Conversion.ID != created.Conversion.ID {
		t.Errorf("Expected idempotent replay, got %d %+v", rr.Code, again)
	}

	steps := []struct {
		path    string
		outcome string
		status  models.ConversionStatus
	}{
		{"/tenants/tenant-1/orders/ORD-1/approve", "applied", models.StatusApproved},
		{"/tenants/tenant-1/orders/ORD-1/reverse", "applied", models.StatusReversed},
		{"/tenants/tenant-1/orders/ORD-1/approve", "illegal_transition", models.StatusReversed},
	}
	for _, step := range steps {
		rr = do(t, r, "POST", step.path, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", step.path, rr.Code)
		}
		var res models.OutcomeResponse
		decodeBody(t, rr, &res)
		if res.Outcome != step.outcome || res.Conversion.Status != step.status {
			t.Errorf("%s: expected %s/%s, got %s/%s", step.path, step.outcome, step.status, res.Outcome, res.Conversion.Status)
		}
	}

	rr = do(t, r, "GET", "/affiliates/aff-acme/stats", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	var stats models.Stats
	decodeBody(t, rr, &stats)
	if stats.TotalConversions != 1 || stats.ReversedConversions != 1 || !stats.TotalCommission.IsZero() {
		t.Errorf("Unexpected stats: %+v", stats)
	}

	rr = do(t, r, "GET", "/affiliates/aff-acme/clicks", nil)
	var clicks models.ClickStats
	decodeBody(t, rr, &clicks)
	if clicks.TotalClicks != 1 || len(clicks.ClicksByDate) != 1 || clicks.ClicksByDate[0].Date != "2025-03-10" {
		t.Errorf("Unexpected click stats: %+v", clicks)
	}
}

func TestConfirmOrder_Outcomes(t *testing.T) {
	r, _ := setupTestHandler(t)

	tests := []struct {
		name    string
		req     models.ConfirmOrderRequest
		code    int
		outcome string
	}{
		{
			name:    "no signals",
			req:     models.ConfirmOrderRequest{TenantID: "tenant-1", OrderRef: "A", OrderAmount: decimal.NewFromInt(10)},
			code:    http.StatusOK,
			outcome: "no_attribution",
		},
		{
			name: "self purchase",
			req: models.ConfirmOrderRequest{
				TenantID: "tenant-1", OrderRef: "B", CouponCode: "BETA10",
				OrderAmount: decimal.NewFromInt(10), BuyerEmail: "beta@example.com",
			},
			code:    http.StatusOK,
			outcome: "self_purchase_blocked",
		},
		{
			name:    "coupon",
			req:     models.ConfirmOrderRequest{TenantID: "tenant-1", OrderRef: "C", CouponCode: "BETA10", OrderAmount: decimal.NewFromInt(10)},
			code:    http.StatusCreated,
			outcome: "created",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, r, "POST", "/orders/confirm", tt.req)
			if rr.Code != tt.code {
				t.Fatalf("Expected %d, got %d. Body: %s", tt.code, rr.Code, rr.Body.String())
			}
			var res models.OutcomeResponse
			decodeBody(t, rr, &res)
			if res.Outcome != tt.outcome {
				t.Errorf("Expected %s, got %s", tt.outcome, res.Outcome)
			}
		})
	}
}

func TestErrorMapping(t *testing.T) {
	r, _ := setupTestHandler(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		code   int
	}{
		{"empty body", "POST", "/clicks", nil, http.StatusBadRequest},
		{"invalid json", "POST", "/clicks", "{not json", http.StatusBadRequest},
		{"body too large", "POST", "/clicks", `{"tenant_id":"` + strings.Repeat("x", 2048) + `"}`, http.StatusRequestEntityTooLarge},
		{"missing affiliate code", "POST", "/clicks", models.RecordClickRequest{TenantID: "tenant-1"}, http.StatusBadRequest},
		{"unknown affiliate", "POST", "/clicks", models.RecordClickRequest{TenantID: "tenant-1", AffiliateCode: "NOBODY"}, http.StatusNotFound},
		{"unknown tenant", "POST", "/attribution/resolve", models.ResolveRequest{TenantID: "nope"}, http.StatusNotFound},
		{"negative amount", "POST", "/orders/confirm", `{"tenant_id":"tenant-1","order_ref":"X","order_amount":"-1"}`, http.StatusBadRequest},
		{"unknown order", "POST", "/tenants/tenant-1/orders/NOPE/approve", nil, http.StatusNotFound},
		{"unknown affiliate stats", "GET", "/affiliates/nobody/stats", nil, http.StatusNotFound},
		{"unknown tenant stats", "GET", "/tenants/nope/stats", nil, http.StatusNotFound},
		{"bad from", "GET", "/affiliates/aff-acme/stats?from=yesterday", nil, http.StatusBadRequest},
		{"inverted range", "GET", "/tenants/tenant-1/stats?from=2025-03-02&to=2025-03-01", nil, http.StatusBadRequest},
		{"bad status", "GET", "/affiliates/aff-acme/conversions?status=paid", nil, http.StatusBadRequest},
		{"bad limit", "GET", "/affiliates/aff-acme/conversions?limit=-3", nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, r, tt.method, tt.path, tt.body)
			if rr.Code != tt.code {
				t.Errorf("Expected %d, got %d. Body: %s", tt.code, rr.Code, rr.Body.String())
			}
			var resp models.ErrorResponse
			decodeBody(t, rr, &resp)
			if resp.Error == "" && rr.Code != http.StatusNotFound {
				t.Error("Expected error message")
			}
		})
	}
}

func TestListConversions(t *testing.T) {
	r, _ := setupTestHandler(t)

	for _, ref := range []string{"O1", "O2", "O3"} {
		rr := do(t, r, "POST", "/orders/confirm", models.ConfirmOrderRequest{
			TenantID: "tenant-1", OrderRef: ref, CouponCode: "BETA10", OrderAmount: decimal.NewFromInt(40),
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("Expected 201, got %d", rr.Code)
		}
	}

	rr := do(t, r, "GET", "/affiliates/aff-beta/conversions?limit=2", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	var page models.ConversionPage
	decodeBody(t, rr, &page)
	if page.Total != 3 || !page.HasMore || len(page.Conversions) != 2 || page.Limit != 2 {
		t.Errorf("Unexpected page: %+v", page)
	}

	rr = do(t, r, "GET", "/affiliates/aff-beta/conversions?status=approved", nil)
	decodeBody(t, rr, &page)
	if page.Total != 0 || len(page.Conversions) != 0 {
		t.Errorf("Expected no approved conversions, got %+v", page)
	}

	rr = do(t, r, "GET", "/tenants/tenant-1/stats?from=2025-03-10&to=2025-03-10", nil)
	var stats models.Stats
	decodeBody(t, rr, &stats)
	if stats.PendingConversions != 3 || !stats.PendingCommission.Equal(decimal.NewFromInt(75)) {
		t.Errorf("Unexpected tenant stats: %+v", stats)
	}
}

func TestFeatures(t *testing.T) {
	r, _ := setupTestHandler(t)

	rr := do(t, r, "GET", "/features", nil)
	var flags map[string]features.FeatureFlag
	decodeBody(t, rr, &flags)
	if !flags[features.FeatureCacheEnabled].Enabled || flags[features.FeatureEventHooksEnabled].Enabled {
		t.Errorf("Unexpected flags: %+v", flags)
	}
}

func TestRespondServiceError_Storage(t *testing.T) {
	h := NewHandler(nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/", nil)

	h.respondServiceError(rr, req, &service.StorageError{Op: "insert", Err: errors.New("disk full")})

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "disk full") {
		t.Errorf("Expected storage detail to be hidden, got %s", rr.Body.String())
	}
}
