package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"affiliate-tracking/internal/database"
	"affiliate-tracking/internal/events"
	"affiliate-tracking/internal/models"
)

// ConfirmOrder turns a confirmed order into at most one pending conversion.
// Calling it again for the same (tenant, order_ref) returns the existing row,
// including when the earlier call raced with this one.
func (s *Service) ConfirmOrder(ctx context.Context, in ConfirmInput) (ConfirmResult, error) {
	ctx, end := s.startSpan(ctx, "ConfirmOrder")
	defer end()

	res, err := s.confirm(ctx, in)
	if err == nil && s.metrics != nil {
		s.metrics.ConfirmOutcomes.WithLabelValues(string(res.Outcome)).Inc()
	}
	return res, err
}

func (s *Service) confirm(ctx context.Context, in ConfirmInput) (ConfirmResult, error) {
	tenant, err := s.tenant(ctx, in.TenantID)
	if err != nil {
		return ConfirmResult{}, err
	}

	attr, err := s.resolve(ctx, tenant, in.CouponCode, in.Token, in.OrderAmount)
	if err != nil {
		return ConfirmResult{}, err
	}
	if !attr.Attributed() {
		return ConfirmResult{Outcome: OutcomeNoAttribution}, nil
	}

	if tenant.SelfPurchaseGuard && in.BuyerEmail != "" && in.BuyerEmail == attr.Affiliate.ContactEmail {
		logger(ctx).Info().
			Str("tenant_id", tenant.ID).
			Str("order_ref", in.OrderRef).
			Str("affiliate_id", attr.Affiliate.ID).
			Msg("self-purchase blocked")
		s.events.Publish(ctx, events.EventSelfPurchaseBlocked, events.SelfPurchaseBlockedData{
			TenantID:    tenant.ID,
			OrderRef:    in.OrderRef,
			AffiliateID: attr.Affiliate.ID,
		})
		return ConfirmResult{Outcome: OutcomeSelfPurchaseBlocked}, nil
	}

	existing, err := s.store.GetConversion(ctx, tenant.ID, in.OrderRef)
	if err == nil {
		return ConfirmResult{Outcome: OutcomeAlreadyExists, Conversion: &existing}, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return ConfirmResult{}, storageError("get conversion", err)
	}

	clickID := in.ClickRef
	if clickID == "" {
		clickID = attr.ClickID
	}
	metadata := map[string]string{}
	if in.BuyerEmail != "" {
		metadata[models.MetaBuyerEmail] = in.BuyerEmail
	}
	if attr.Method == models.MethodCoupon {
		metadata[models.MetaCouponCode] = in.CouponCode
	}

	conv := models.Conversion{
		ID:              uuid.New().String(),
		TenantID:        tenant.ID,
		AffiliateID:     attr.Affiliate.ID,
		OrderRef:        in.OrderRef,
		Amount:          in.OrderAmount,
		CommissionValue: attr.Commission.Value,
		CommissionType:  attr.Commission.Type,
		Status:          models.StatusPending,
		AttributedBy:    attr.Method,
		ClickID:         clickID,
		Metadata:        metadata,
		CreatedAt:       s.clock(),
	}

	err = s.store.InsertConversion(ctx, conv)
	if errors.Is(err, database.ErrDuplicate) {
		winner, gerr := s.store.GetConversion(ctx, tenant.ID, in.OrderRef)
		if gerr != nil {
			return ConfirmResult{}, storageError("get conversion", gerr)
		}
		return ConfirmResult{Outcome: OutcomeAlreadyExists, Conversion: &winner}, nil
	}
	if err != nil {
		return ConfirmResult{}, storageError("insert conversion", err)
	}

	// Reload so the returned row carries storage precision.
	created, err := s.store.GetConversion(ctx, tenant.ID, in.OrderRef)
	if err != nil {
		return ConfirmResult{}, storageError("get conversion", err)
	}

	s.events.Publish(ctx, events.EventConversionCreated, events.ConversionData{Conversion: created})
	return ConfirmResult{Outcome: OutcomeCreated, Conversion: &created}, nil
}

// Approve moves a pending conversion to approved.
func (s *Service) Approve(ctx context.Context, tenantID, orderRef string) (TransitionResult, error) {
	ctx, end := s.startSpan(ctx, "Approve")
	defer end()

	return s.transition(ctx, tenantID, orderRef,
		[]models.ConversionStatus{models.StatusPending},
		models.StatusApproved, events.EventConversionApproved)
}

// Reverse moves a pending or approved conversion to reversed. Reversed is
// terminal.
func (s *Service) Reverse(ctx context.Context, tenantID, orderRef string) (TransitionResult, error) {
	ctx, end := s.startSpan(ctx, "Reverse")
	defer end()

	return s.transition(ctx, tenantID, orderRef,
		[]models.ConversionStatus{models.StatusPending, models.StatusApproved},
		models.StatusReversed, events.EventConversionReversed)
}

func (s *Service) transition(
	ctx context.Context,
	tenantID, orderRef string,
	from []models.ConversionStatus,
	to models.ConversionStatus,
	event events.EventType,
) (TransitionResult, error) {
	applied, err := s.store.TransitionConversion(ctx, tenantID, orderRef, from, to, s.clock())
	if err != nil {
		return TransitionResult{}, storageError(fmt.Sprintf("transition to %s", to), err)
	}

	conv, err := s.store.GetConversion(ctx, tenantID, orderRef)
	if errors.Is(err, database.ErrNotFound) {
		s.countTransition(to, TransitionNotFound)
		return TransitionResult{Outcome: TransitionNotFound}, nil
	}
	if err != nil {
		return TransitionResult{}, storageError("get conversion", err)
	}

	if !applied {
		s.countTransition(to, TransitionIllegal)
		return TransitionResult{Outcome: TransitionIllegal, Conversion: &conv}, nil
	}

	s.countTransition(to, TransitionApplied)
	s.events.Publish(ctx, event, events.ConversionData{Conversion: conv})
	return TransitionResult{Outcome: TransitionApplied, Conversion: &conv}, nil
}

func (s *Service) countTransition(to models.ConversionStatus, outcome TransitionOutcome) {
	if s.metrics == nil {
		return
	}
	s.metrics.Transitions.WithLabelValues(string(to), string(outcome)).Inc()
}
