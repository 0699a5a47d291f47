package service

import (
	"context"

	"github.com/shopspring/decimal"

	"affiliate-tracking/internal/database"
	"affiliate-tracking/internal/models"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// AffiliateStats rolls up an affiliate's conversions created within r.
func (s *Service) AffiliateStats(ctx context.Context, affiliateID string, r DateRange) (models.Stats, error) {
	ctx, end := s.startSpan(ctx, "AffiliateStats")
	defer end()

	if _, err := s.affiliate(ctx, affiliateID); err != nil {
		return models.Stats{}, err
	}
	return s.stats(ctx, database.ConversionFilter{AffiliateID: affiliateID, From: r.From, To: r.To})
}

// TenantStats rolls up all of a tenant's conversions created within r.
func (s *Service) TenantStats(ctx context.Context, tenantID string, r DateRange) (models.Stats, error) {
	ctx, end := s.startSpan(ctx, "TenantStats")
	defer end()

	if _, err := s.tenant(ctx, tenantID); err != nil {
		return models.Stats{}, err
	}
	return s.stats(ctx, database.ConversionFilter{TenantID: tenantID, From: r.From, To: r.To})
}

func (s *Service) stats(ctx context.Context, f database.ConversionFilter) (models.Stats, error) {
	aggs, err := s.store.AggregateConversions(ctx, f)
	if err != nil {
		return models.Stats{}, storageError("aggregate conversions", err)
	}
	return buildStats(aggs), nil
}

func buildStats(aggs []database.StatusAggregate) models.Stats {
	st := models.Stats{
		TotalCommission:   decimal.Zero,
		PendingCommission: decimal.Zero,
		TotalSales:        decimal.Zero,
	}
	for _, a := range aggs {
		st.TotalConversions += a.Count
		switch a.Status {
		case models.StatusPending:
			st.PendingConversions = a.Count
			st.PendingCommission = decimal.New(a.CommissionCents, -2)
		case models.StatusApproved:
			st.ApprovedConversions = a.Count
			st.TotalCommission = decimal.New(a.CommissionCents, -2)
			st.TotalSales = decimal.New(a.AmountCents, -2)
		case models.StatusReversed:
			st.ReversedConversions = a.Count
		}
	}
	return st
}

// ListConversions returns one page of an affiliate's conversions, newest
// first. A non-positive limit means the default page size; larger limits are
// capped.
func (s *Service) ListConversions(ctx context.Context, q ConversionQuery) (models.ConversionPage, error) {
	ctx, end := s.startSpan(ctx, "ListConversions")
	defer end()

	if _, err := s.affiliate(ctx, q.AffiliateID); err != nil {
		return models.ConversionPage{}, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	convs, total, err := s.store.ListConversions(ctx,
		database.ConversionFilter{AffiliateID: q.AffiliateID, Status: q.Status},
		limit, offset)
	if err != nil {
		return models.ConversionPage{}, storageError("list conversions", err)
	}

	return models.ConversionPage{
		Conversions: convs,
		Total:       total,
		HasMore:     offset+len(convs) < total,
		Offset:      offset,
		Limit:       limit,
	}, nil
}
