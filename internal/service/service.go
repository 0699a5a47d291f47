package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"affiliate-tracking/internal/database"
	"affiliate-tracking/internal/events"
	"affiliate-tracking/internal/metrics"
	"affiliate-tracking/internal/models"
	"affiliate-tracking/internal/token"
	"affiliate-tracking/internal/tracing"
)

// ErrNotFound is returned when a referenced tenant or affiliate does not
// exist, or is inactive where activity is required.
var ErrNotFound = errors.New("not found")

// StorageError reports a persistence failure. The caller owns the retry
// policy.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageError(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// Store is the persistence the engine needs. *database.DB implements it.
type Store interface {
	GetTenant(ctx context.Context, id string) (models.Tenant, error)
	GetAffiliate(ctx context.Context, id string) (models.Affiliate, error)
	GetAffiliateByCode(ctx context.Context, tenantID, code string) (models.Affiliate, error)
	GetCoupon(ctx context.Context, code string) (models.Coupon, models.Affiliate, error)

	InsertClick(ctx context.Context, c models.Click) error
	CountClicks(ctx context.Context, affiliateID string, since time.Time) (int, error)
	ClicksByDate(ctx context.Context, affiliateID string, since time.Time) ([]models.DailyClicks, error)

	InsertConversion(ctx context.Context, c models.Conversion) error
	GetConversion(ctx context.Context, tenantID, orderRef string) (models.Conversion, error)
	TransitionConversion(ctx context.Context, tenantID, orderRef string, from []models.ConversionStatus, to models.ConversionStatus, at time.Time) (bool, error)
	AggregateConversions(ctx context.Context, f database.ConversionFilter) ([]database.StatusAggregate, error)
	ListConversions(ctx context.Context, f database.ConversionFilter, limit, offset int) ([]models.Conversion, int, error)
}

// TenantSource looks up tenant attribution configuration.
type TenantSource interface {
	GetTenant(ctx context.Context, id string) (models.Tenant, error)
}

// Service is the attribution engine. It holds no mutable state of its own and
// is safe for concurrent use.
type Service struct {
	store   Store
	tenants TenantSource
	codec   *token.Codec
	ipSalt  []byte
	now     func() time.Time
	events  *events.Manager
	metrics *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTenantSource routes tenant lookups through src, typically a cache.
func WithTenantSource(src TenantSource) Option {
	return func(s *Service) { s.tenants = src }
}

// WithEvents publishes engine events to m.
func WithEvents(m *events.Manager) Option {
	return func(s *Service) { s.events = m }
}

// WithMetrics records engine counters in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates the engine. ipSalt keys the visitor IP hash.
func NewService(store Store, codec *token.Codec, ipSalt string, opts ...Option) *Service {
	s := &Service{
		store:   store,
		tenants: store,
		codec:   codec,
		ipSalt:  []byte(ipSalt),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

func (s *Service) tenant(ctx context.Context, id string) (models.Tenant, error) {
	t, err := s.tenants.GetTenant(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return models.Tenant{}, fmt.Errorf("tenant %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Tenant{}, storageError("get tenant", err)
	}
	return t, nil
}

func (s *Service) affiliate(ctx context.Context, id string) (models.Affiliate, error) {
	a, err := s.store.GetAffiliate(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return models.Affiliate{}, fmt.Errorf("affiliate %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Affiliate{}, storageError("get affiliate", err)
	}
	return a, nil
}

func (s *Service) startSpan(ctx context.Context, name string) (context.Context, func()) {
	ctx, span := tracing.GetTracer().StartSpan(ctx, "service."+name)
	return ctx, func() { span.End() }
}

func logger(ctx context.Context) *zerolog.Logger {
	return zerolog.Ctx(ctx)
}
