package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"affiliate-tracking/internal/features"
	"affiliate-tracking/internal/models"
	"affiliate-tracking/internal/service"
	"affiliate-tracking/internal/tracing"
	"affiliate-tracking/internal/validation"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler provides HTTP handlers for the API.
type Handler struct {
	service     *service.Service
	features    *features.Manager
	health      Pinger
	maxBodySize int64
}

// NewHandlerOptions holds options for creating a handler.
type NewHandlerOptions struct {
	MaxBodySize int64
	Features    *features.Manager
	Health      Pinger
}

// DefaultHandlerOptions returns default handler options.
func DefaultHandlerOptions() NewHandlerOptions {
	return NewHandlerOptions{
		MaxBodySize: 1 << 20, // 1MB default
	}
}

// NewHandler creates a new handler instance.
func NewHandler(svc *service.Service) *Handler {
	return NewHandlerWithOptions(svc, DefaultHandlerOptions())
}

// NewHandlerWithOptions creates a new handler instance with custom options.
func NewHandlerWithOptions(svc *service.Service, opts NewHandlerOptions) *Handler {
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = DefaultHandlerOptions().MaxBodySize
	}
	return &Handler{
		service:     svc,
		features:    opts.Features,
		health:      opts.Health,
		maxBodySize: opts.MaxBodySize,
	}
}

// Routes registers every API route on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/clicks", h.RecordClick)
	r.Post("/attribution/resolve", h.Resolve)
	r.Post("/orders/confirm", h.ConfirmOrder)

	r.Route("/tenants/{tenant_id}", func(r chi.Router) {
		r.Post("/orders/{order_ref}/approve", h.Approve)
		r.Post("/orders/{order_ref}/reverse", h.Reverse)
		r.Get("/stats", h.TenantStats)
	})

	r.Route("/affiliates/{affiliate_id}", func(r chi.Router) {
		r.Get("/stats", h.AffiliateStats)
		r.Get("/conversions", h.ListConversions)
		r.Get("/clicks", h.ClickStats)
	})

	r.Get("/features", h.Features)
	r.Get("/health", h.Health)
}

// RecordClick handles POST /clicks
func (h *Handler) RecordClick(w http.ResponseWriter, r *http.Request) {
	var req models.RecordClickRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := validation.ValidateClickRequest(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	referer := req.Referer
	if referer == "" {
		referer = r.Referer()
	}

	tok, err := h.service.RecordClick(r.Context(), service.ClickInput{
		TenantID:      req.TenantID,
		AffiliateCode: req.AffiliateCode,
		IP:            clientIP(r),
		UserAgent:     validation.SanitizeString(r.UserAgent()),
		Referer:       referer,
		LandingURL:    req.LandingURL,
		UTM:           req.UTM,
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, models.AttributionTokenResponse{
		Token:         tok.Value,
		AffiliateCode: tok.AffiliateCode,
		ClickID:       tok.ClickID,
		Timestamp:     tok.Timestamp,
		WindowDays:    tok.WindowDays,
		ExpiresAt:     tok.ExpiresAt,
	})
}

// Resolve handles POST /attribution/resolve
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req models.ResolveRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := validation.ValidateResolveRequest(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	attr, err := h.service.Resolve(r.Context(), service.ResolveInput{
		TenantID:    req.TenantID,
		CouponCode:  req.CouponCode,
		Token:       req.Token,
		OrderAmount: req.OrderAmount,
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	resp := models.ResolveResponse{Attributed: attr.Attributed()}
	if attr.Attributed() {
		resp.Method = attr.Method
		resp.AffiliateID = attr.Affiliate.ID
		resp.AffiliateCode = attr.Affiliate.Code
		resp.CommissionType = attr.Commission.Type
		resp.CommissionValue = attr.Commission.Value
		resp.ClickID = attr.ClickID
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// ConfirmOrder handles POST /orders/confirm
func (h *Handler) ConfirmOrder(w http.ResponseWriter, r *http.Request) {
	var req models.ConfirmOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := validation.ValidateConfirmRequest(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.service.ConfirmOrder(r.Context(), service.ConfirmInput{
		TenantID:    req.TenantID,
		OrderRef:    req.OrderRef,
		CouponCode:  req.CouponCode,
		Token:       req.Token,
		OrderAmount: req.OrderAmount,
		BuyerEmail:  req.BuyerEmail,
		ClickRef:    req.ClickRef,
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if res.Outcome == service.OutcomeCreated {
		status = http.StatusCreated
	}
	h.respondJSON(w, status, models.OutcomeResponse{
		Outcome:    string(res.Outcome),
		Conversion: res.Conversion,
	})
}

// Approve handles POST /tenants/{tenant_id}/orders/{order_ref}/approve
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Approve)
}

// Reverse handles POST /tenants/{tenant_id}/orders/{order_ref}/reverse
func (h *Handler) Reverse(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Reverse)
}

func (h *Handler) transition(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, tenantID, orderRef string) (service.TransitionResult, error),
) {
	tenantID := validation.SanitizeString(chi.URLParam(r, "tenant_id"))
	orderRef := validation.SanitizeString(chi.URLParam(r, "order_ref"))
	if err := validation.ValidateID(tenantID, "tenant_id"); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validation.ValidateOrderRef(orderRef); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := op(r.Context(), tenantID, orderRef)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if res.Outcome == service.TransitionNotFound {
		status = http.StatusNotFound
	}
	h.respondJSON(w, status, models.OutcomeResponse{
		Outcome:    string(res.Outcome),
		Conversion: res.Conversion,
	})
}

// AffiliateStats handles GET /affiliates/{affiliate_id}/stats
func (h *Handler) AffiliateStats(w http.ResponseWriter, r *http.Request) {
	affiliateID := validation.SanitizeString(chi.URLParam(r, "affiliate_id"))
	if err := validation.ValidateID(affiliateID, "affiliate_id"); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	rng, ok := h.dateRange(w, r)
	if !ok {
		return
	}

	stats, err := h.service.AffiliateStats(r.Context(), affiliateID, rng)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, stats)
}

// TenantStats handles GET /tenants/{tenant_id}/stats
func (h *Handler) TenantStats(w http.ResponseWriter, r *http.Request) {
	tenantID := validation.SanitizeString(chi.URLParam(r, "tenant_id"))
	if err := validation.ValidateID(tenantID, "tenant_id"); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	rng, ok := h.dateRange(w, r)
	if !ok {
		return
	}

	stats, err := h.service.TenantStats(r.Context(), tenantID, rng)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, stats)
}

// ListConversions handles GET /affiliates/{affiliate_id}/conversions
func (h *Handler) ListConversions(w http.ResponseWriter, r *http.Request) {
	affiliateID := validation.SanitizeString(chi.URLParam(r, "affiliate_id"))
	if err := validation.ValidateID(affiliateID, "affiliate_id"); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	q := r.URL.Query()
	status, err := validation.ValidateStatus(validation.SanitizeString(q.Get("status")))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, ok := h.intParam(w, q.Get("limit"), "limit")
	if !ok {
		return
	}
	offset, ok := h.intParam(w, q.Get("offset"), "offset")
	if !ok {
		return
	}

	page, err := h.service.ListConversions(r.Context(), service.ConversionQuery{
		AffiliateID: affiliateID,
		Status:      status,
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, page)
}

// ClickStats handles GET /affiliates/{affiliate_id}/clicks
func (h *Handler) ClickStats(w http.ResponseWriter, r *http.Request) {
	affiliateID := validation.SanitizeString(chi.URLParam(r, "affiliate_id"))
	if err := validation.ValidateID(affiliateID, "affiliate_id"); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := h.service.ClickStats(r.Context(), affiliateID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, stats)
}

// Features handles GET /features
func (h *Handler) Features(w http.ResponseWriter, r *http.Request) {
	flags := map[string]features.FeatureFlag{}
	if h.features != nil {
		flags = h.features.GetAll()
	}
	h.respondJSON(w, http.StatusOK, flags)
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Ping(r.Context()); err != nil {
			zerolog.Ctx(r.Context()).Error().Err(err).Msg("health check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("UNAVAILABLE"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	// Limit request body size to prevent abuse
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			h.respondError(w, http.StatusBadRequest, "request body is required")
			return false
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return false
	}
	return true
}

func (h *Handler) dateRange(w http.ResponseWriter, r *http.Request) (service.DateRange, bool) {
	q := r.URL.Query()
	from, err := validation.ParseRangeBound(validation.SanitizeString(q.Get("from")), "from", false)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return service.DateRange{}, false
	}
	to, err := validation.ParseRangeBound(validation.SanitizeString(q.Get("to")), "to", true)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return service.DateRange{}, false
	}
	if from != nil && to != nil && to.Before(*from) {
		h.respondError(w, http.StatusBadRequest, "'from' must not be after 'to'")
		return service.DateRange{}, false
	}
	return service.DateRange{From: from, To: to}, true
}

func (h *Handler) intParam(w http.ResponseWriter, value, name string) (int, bool) {
	if value == "" {
		return 0, true
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		h.respondError(w, http.StatusBadRequest, "invalid '"+name+"' parameter, must be a non-negative integer")
		return 0, false
	}
	return n, true
}

// respondServiceError maps engine errors to status codes. Storage failures
// are logged and reported without detail.
func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *validation.ValidationError
	switch {
	case errors.As(err, &verr):
		h.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNotFound):
		h.respondError(w, http.StatusNotFound, err.Error())
	default:
		tracing.RecordError(r.Context(), err)
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		h.respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// respondJSON sends a JSON response with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response with the given status code and message.
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, models.ErrorResponse{Error: message})
}

// clientIP returns the caller address without port. chi's RealIP middleware
// has already applied X-Forwarded-For and X-Real-IP.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
