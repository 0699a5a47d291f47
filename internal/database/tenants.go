package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"affiliate-tracking/internal/models"
)

// UpsertTenant creates or updates a tenant's attribution configuration.
func (db *DB) UpsertTenant(ctx context.Context, t models.Tenant) error {
	query := `INSERT INTO tenants (
		id, window_days, default_commission_type, default_commission_rate,
		self_purchase_guard, updated_at
	) VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		window_days = excluded.window_days,
		default_commission_type = excluded.default_commission_type,
		default_commission_rate = excluded.default_commission_rate,
		self_purchase_guard = excluded.self_purchase_guard,
		updated_at = excluded.updated_at`

	_, err := db.conn.ExecContext(ctx, query,
		t.ID,
		t.WindowDays,
		string(t.DefaultCommissionType),
		t.DefaultCommissionRate.String(),
		boolToInt(t.SelfPurchaseGuard),
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert tenant: %w", err)
	}
	return nil
}

// GetTenant returns the tenant with the given id.
func (db *DB) GetTenant(ctx context.Context, id string) (models.Tenant, error) {
	var (
		t       models.Tenant
		ctype   string
		rateStr string
		guard   int
	)
	err := db.conn.QueryRowContext(ctx, `SELECT id, window_days, default_commission_type,
		default_commission_rate, self_purchase_guard
		FROM tenants WHERE id = ?`, id).Scan(&t.ID, &t.WindowDays, &ctype, &rateStr, &guard)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Tenant{}, ErrNotFound
	}
	if err != nil {
		return models.Tenant{}, fmt.Errorf("failed to get tenant: %w", err)
	}

	rate, err := decimal.NewFromString(rateStr)
	if err != nil {
		return models.Tenant{}, fmt.Errorf("failed to parse default_commission_rate: %w", err)
	}
	t.DefaultCommissionType = models.CommissionType(ctype)
	t.DefaultCommissionRate = rate
	t.SelfPurchaseGuard = guard == 1
	return t, nil
}

// UpsertAffiliate creates or updates an affiliate.
func (db *DB) UpsertAffiliate(ctx context.Context, a models.Affiliate) error {
	query := `INSERT INTO affiliates (
		id, tenant_id, code, name, contact_email, commission_type,
		commission_rate, active, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		code = excluded.code,
		name = excluded.name,
		contact_email = excluded.contact_email,
		commission_type = excluded.commission_type,
		commission_rate = excluded.commission_rate,
		active = excluded.active,
		updated_at = excluded.updated_at`

	var ctype, rate sql.NullString
	if a.CommissionType != "" {
		ctype = sql.NullString{String: string(a.CommissionType), Valid: true}
	}
	if a.CommissionRate.Valid {
		rate = sql.NullString{String: a.CommissionRate.Decimal.String(), Valid: true}
	}

	_, err := db.conn.ExecContext(ctx, query,
		a.ID,
		a.TenantID,
		a.Code,
		a.Name,
		a.ContactEmail,
		ctype,
		rate,
		boolToInt(a.Active),
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert affiliate: %w", err)
	}
	return nil
}

const affiliateColumns = `a.id, a.tenant_id, a.code, a.name, a.contact_email,
	a.commission_type, a.commission_rate, a.active`

func scanAffiliate(row interface{ Scan(...any) error }, extra ...any) (models.Affiliate, error) {
	var (
		a      models.Affiliate
		ctype  sql.NullString
		rate   sql.NullString
		active int
	)
	dest := append([]any{&a.ID, &a.TenantID, &a.Code, &a.Name, &a.ContactEmail, &ctype, &rate, &active}, extra...)
	if err := row.Scan(dest...); err != nil {
		return models.Affiliate{}, err
	}
	if ctype.Valid {
		a.CommissionType = models.CommissionType(ctype.String)
	}
	if rate.Valid && rate.String != "" {
		d, err := decimal.NewFromString(rate.String)
		if err != nil {
			return models.Affiliate{}, fmt.Errorf("failed to parse commission_rate: %w", err)
		}
		a.CommissionRate = decimal.NewNullDecimal(d)
	}
	a.Active = active == 1
	return a, nil
}

// GetAffiliate returns the affiliate with the given id.
func (db *DB) GetAffiliate(ctx context.Context, id string) (models.Affiliate, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+affiliateColumns+`
		FROM affiliates a WHERE a.id = ?`, id)
	a, err := scanAffiliate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Affiliate{}, ErrNotFound
	}
	if err != nil {
		return models.Affiliate{}, fmt.Errorf("failed to get affiliate: %w", err)
	}
	return a, nil
}

// GetAffiliateByCode returns the affiliate with code inside tenantID, active or not.
func (db *DB) GetAffiliateByCode(ctx context.Context, tenantID, code string) (models.Affiliate, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+affiliateColumns+`
		FROM affiliates a WHERE a.tenant_id = ? AND a.code = ?`, tenantID, code)
	a, err := scanAffiliate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Affiliate{}, ErrNotFound
	}
	if err != nil {
		return models.Affiliate{}, fmt.Errorf("failed to get affiliate by code: %w", err)
	}
	return a, nil
}

// UpsertCoupon creates or updates a coupon.
func (db *DB) UpsertCoupon(ctx context.Context, c models.Coupon) error {
	_, err := db.conn.ExecContext(ctx, `INSERT INTO coupons (code, affiliate_id, active)
		VALUES (?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			affiliate_id = excluded.affiliate_id,
			active = excluded.active`,
		c.Code, c.AffiliateID, boolToInt(c.Active))
	if err != nil {
		return fmt.Errorf("failed to upsert coupon: %w", err)
	}
	return nil
}

// GetCoupon returns a coupon together with the affiliate it is bound to.
func (db *DB) GetCoupon(ctx context.Context, code string) (models.Coupon, models.Affiliate, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+affiliateColumns+`, c.code, c.active
		FROM coupons c
		JOIN affiliates a ON a.id = c.affiliate_id
		WHERE c.code = ?`, code)

	var (
		c      models.Coupon
		active int
	)
	a, err := scanAffiliate(row, &c.Code, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Coupon{}, models.Affiliate{}, ErrNotFound
	}
	if err != nil {
		return models.Coupon{}, models.Affiliate{}, fmt.Errorf("failed to get coupon: %w", err)
	}
	c.AffiliateID = a.ID
	c.Active = active == 1
	return c, a, nil
}
