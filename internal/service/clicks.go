package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"affiliate-tracking/internal/database"
	"affiliate-tracking/internal/events"
	"affiliate-tracking/internal/models"
	"affiliate-tracking/internal/token"
)

const clickHistoryDays = 30

// RecordClick persists a referral visit for an active affiliate and returns
// the attribution token the caller should store client-side. An unknown or
// inactive affiliate yields ErrNotFound and nothing is written.
func (s *Service) RecordClick(ctx context.Context, in ClickInput) (AttributionToken, error) {
	ctx, end := s.startSpan(ctx, "RecordClick")
	defer end()

	tenant, err := s.tenant(ctx, in.TenantID)
	if err != nil {
		return AttributionToken{}, err
	}

	aff, err := s.store.GetAffiliateByCode(ctx, tenant.ID, in.AffiliateCode)
	if errors.Is(err, database.ErrNotFound) || (err == nil && !aff.Active) {
		return AttributionToken{}, fmt.Errorf("affiliate %s: %w", in.AffiliateCode, ErrNotFound)
	}
	if err != nil {
		return AttributionToken{}, storageError("get affiliate", err)
	}

	now := s.clock().Truncate(time.Second)
	click := models.Click{
		ID:          uuid.New().String(),
		AffiliateID: aff.ID,
		TenantID:    tenant.ID,
		IPHash:      s.hashIP(in.IP),
		UserAgent:   in.UserAgent,
		Referer:     in.Referer,
		LandingURL:  in.LandingURL,
		UTM:         in.UTM,
		ClickedAt:   now,
	}
	if err := s.store.InsertClick(ctx, click); err != nil {
		return AttributionToken{}, storageError("insert click", err)
	}

	value, err := s.codec.Encode(token.Payload{
		AffiliateCode: aff.Code,
		ClickID:       click.ID,
		Timestamp:     now,
	})
	if err != nil {
		return AttributionToken{}, fmt.Errorf("sign attribution token: %w", err)
	}

	if s.metrics != nil {
		s.metrics.ClicksRecorded.WithLabelValues(tenant.ID).Inc()
	}
	s.events.Publish(ctx, events.EventClickRecorded, events.ClickRecordedData{
		ClickID:       click.ID,
		TenantID:      tenant.ID,
		AffiliateID:   aff.ID,
		AffiliateCode: aff.Code,
	})

	return AttributionToken{
		Value:         value,
		AffiliateCode: aff.Code,
		ClickID:       click.ID,
		Timestamp:     now,
		WindowDays:    tenant.WindowDays,
		ExpiresAt:     now.AddDate(0, 0, tenant.WindowDays),
	}, nil
}

// hashIP returns a keyed, non-reversible digest of ip. The raw address is
// never stored.
func (s *Service) hashIP(ip string) string {
	if ip == "" {
		return ""
	}
	mac := hmac.New(sha256.New, s.ipSalt)
	mac.Write([]byte(ip))
	return hex.EncodeToString(mac.Sum(nil))
}

// ClickStats summarizes an affiliate's clicks: all time, the current calendar
// month and per day over the last 30 days, newest day first.
func (s *Service) ClickStats(ctx context.Context, affiliateID string) (models.ClickStats, error) {
	ctx, end := s.startSpan(ctx, "ClickStats")
	defer end()

	if _, err := s.affiliate(ctx, affiliateID); err != nil {
		return models.ClickStats{}, err
	}

	now := s.clock()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	historyStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).
		AddDate(0, 0, -clickHistoryDays)

	total, err := s.store.CountClicks(ctx, affiliateID, time.Time{})
	if err != nil {
		return models.ClickStats{}, storageError("count clicks", err)
	}
	month, err := s.store.CountClicks(ctx, affiliateID, monthStart)
	if err != nil {
		return models.ClickStats{}, storageError("count clicks", err)
	}
	byDate, err := s.store.ClicksByDate(ctx, affiliateID, historyStart)
	if err != nil {
		return models.ClickStats{}, storageError("clicks by date", err)
	}
	if byDate == nil {
		byDate = []models.DailyClicks{}
	}

	return models.ClickStats{
		TotalClicks:     total,
		ClicksThisMonth: month,
		ClicksByDate:    byDate,
	}, nil
}
