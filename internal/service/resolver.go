package service

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"affiliate-tracking/internal/commission"
	"affiliate-tracking/internal/database"
	"affiliate-tracking/internal/models"
)

// Resolve decides which affiliate, if any, is credited for an order. A valid
// coupon wins over a referral token; a token only counts while its click is
// inside the tenant's attribution window. Nothing is written.
func (s *Service) Resolve(ctx context.Context, in ResolveInput) (Attribution, error) {
	ctx, end := s.startSpan(ctx, "Resolve")
	defer end()

	tenant, err := s.tenant(ctx, in.TenantID)
	if err != nil {
		return Attribution{}, err
	}
	return s.resolve(ctx, tenant, in.CouponCode, in.Token, in.OrderAmount)
}

func (s *Service) resolve(ctx context.Context, tenant models.Tenant, couponCode, rawToken string, amount decimal.Decimal) (Attribution, error) {
	if couponCode != "" {
		coupon, aff, err := s.store.GetCoupon(ctx, couponCode)
		switch {
		case errors.Is(err, database.ErrNotFound):
		case err != nil:
			return Attribution{}, storageError("get coupon", err)
		case coupon.Active && aff.Active && aff.TenantID == tenant.ID:
			return credit(tenant, aff, models.MethodCoupon, "", amount), nil
		}
	}

	if rawToken == "" {
		return Attribution{}, nil
	}
	payload, ok := s.codec.Decode(rawToken)
	if !ok {
		return Attribution{}, nil
	}
	if elapsedDays(payload.Timestamp, s.clock()) > tenant.WindowDays {
		return Attribution{}, nil
	}

	aff, err := s.store.GetAffiliateByCode(ctx, tenant.ID, payload.AffiliateCode)
	switch {
	case errors.Is(err, database.ErrNotFound):
		return Attribution{}, nil
	case err != nil:
		return Attribution{}, storageError("get affiliate", err)
	case !aff.Active:
		return Attribution{}, nil
	}
	return credit(tenant, aff, models.MethodLink, payload.ClickID, amount), nil
}

func credit(tenant models.Tenant, aff models.Affiliate, method models.AttributionMethod, clickID string, amount decimal.Decimal) Attribution {
	ct, rate := commission.Effective(aff, tenant)
	return Attribution{
		Method:     method,
		Affiliate:  aff,
		Commission: commission.Compute(amount, ct, rate),
		ClickID:    clickID,
	}
}

// elapsedDays is the number of whole days from ts to now. Timestamps in the
// future give a negative count and so always fall inside the window.
func elapsedDays(ts, now time.Time) int {
	return int(now.Sub(ts) / (24 * time.Hour))
}
