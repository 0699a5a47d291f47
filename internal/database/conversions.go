package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"affiliate-tracking/internal/models"
)

const conversionColumns = `id, tenant_id, affiliate_id, order_ref, amount_cents,
	commission_cents, commission_type, status, attributed_by, click_id, metadata,
	created_at, approved_at, reversed_at`

func scanConversion(row interface{ Scan(...any) error }) (models.Conversion, error) {
	var (
		c               models.Conversion
		amountCents     int64
		commissionCents int64
		ctype           string
		status          string
		attributedBy    string
		clickID         sql.NullString
		metadata        string
		createdAt       string
		approvedAt      sql.NullString
		reversedAt      sql.NullString
	)
	err := row.Scan(&c.ID, &c.TenantID, &c.AffiliateID, &c.OrderRef, &amountCents,
		&commissionCents, &ctype, &status, &attributedBy, &clickID, &metadata,
		&createdAt, &approvedAt, &reversedAt)
	if err != nil {
		return models.Conversion{}, err
	}

	c.Amount = fromCents(amountCents)
	c.CommissionValue = fromCents(commissionCents)
	c.CommissionType = models.CommissionType(ctype)
	c.Status = models.ConversionStatus(status)
	c.AttributedBy = models.AttributionMethod(attributedBy)
	c.ClickID = clickID.String

	if metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &c.Metadata); err != nil {
			return models.Conversion{}, fmt.Errorf("failed to parse metadata: %w", err)
		}
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return models.Conversion{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if c.ApprovedAt, err = parseNullTime(approvedAt); err != nil {
		return models.Conversion{}, fmt.Errorf("failed to parse approved_at: %w", err)
	}
	if c.ReversedAt, err = parseNullTime(reversedAt); err != nil {
		return models.Conversion{}, fmt.Errorf("failed to parse reversed_at: %w", err)
	}
	return c, nil
}

// InsertConversion inserts a new conversion. It returns ErrDuplicate when a
// conversion for the same (tenant_id, order_ref) already exists.
func (db *DB) InsertConversion(ctx context.Context, c models.Conversion) error {
	metadata := "{}"
	if len(c.Metadata) > 0 {
		data, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		metadata = string(data)
	}

	var clickID sql.NullString
	if c.ClickID != "" {
		clickID = sql.NullString{String: c.ClickID, Valid: true}
	}

	_, err := db.conn.ExecContext(ctx, `INSERT INTO conversions (`+conversionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL)`,
		c.ID,
		c.TenantID,
		c.AffiliateID,
		c.OrderRef,
		toCents(c.Amount),
		toCents(c.CommissionValue),
		string(c.CommissionType),
		string(c.Status),
		string(c.AttributedBy),
		clickID,
		metadata,
		formatTime(c.CreatedAt),
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert conversion: %w", err)
	}
	return nil
}

// GetConversion returns the conversion for (tenantID, orderRef).
func (db *DB) GetConversion(ctx context.Context, tenantID, orderRef string) (models.Conversion, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+conversionColumns+`
		FROM conversions WHERE tenant_id = ? AND order_ref = ?`, tenantID, orderRef)
	c, err := scanConversion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversion{}, ErrNotFound
	}
	if err != nil {
		return models.Conversion{}, fmt.Errorf("failed to get conversion: %w", err)
	}
	return c, nil
}

// TransitionConversion moves the conversion for (tenantID, orderRef) to status
// `to`, but only if its current status is one of `from`. It reports whether a
// row changed; false means the row is absent or its status did not match.
func (db *DB) TransitionConversion(
	ctx context.Context,
	tenantID, orderRef string,
	from []models.ConversionStatus,
	to models.ConversionStatus,
	at time.Time,
) (bool, error) {
	var stampColumn string
	switch to {
	case models.StatusApproved:
		stampColumn = "approved_at"
	case models.StatusReversed:
		stampColumn = "reversed_at"
	default:
		return false, fmt.Errorf("unsupported target status %q", to)
	}
	if len(from) == 0 {
		return false, fmt.Errorf("no source statuses given")
	}

	placeholders := make([]string, len(from))
	args := []interface{}{string(to), formatTime(at), tenantID, orderRef}
	for i, s := range from {
		placeholders[i] = "?"
		args = append(args, string(s))
	}

	query := `UPDATE conversions SET status = ?, ` + stampColumn + ` = ?
		WHERE tenant_id = ? AND order_ref = ?
		AND status IN (` + strings.Join(placeholders, ",") + `)`

	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to transition conversion: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// ConversionFilter scopes aggregate and list queries. Exactly one of
// AffiliateID or TenantID is normally set; From and To are inclusive.
type ConversionFilter struct {
	AffiliateID string
	TenantID    string
	Status      models.ConversionStatus
	From        *time.Time
	To          *time.Time
}

func (f ConversionFilter) where() (string, []interface{}) {
	var (
		clauses []string
		args    []interface{}
	)
	if f.AffiliateID != "" {
		clauses = append(clauses, "affiliate_id = ?")
		args = append(args, f.AffiliateID)
	}
	if f.TenantID != "" {
		clauses = append(clauses, "tenant_id = ?")
		args = append(args, f.TenantID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.From != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, formatTime(*f.To))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// StatusAggregate is the per-status rollup of matching conversions.
type StatusAggregate struct {
	Status          models.ConversionStatus
	Count           int
	AmountCents     int64
	CommissionCents int64
}

// AggregateConversions groups matching conversions by status.
func (db *DB) AggregateConversions(ctx context.Context, f ConversionFilter) ([]StatusAggregate, error) {
	where, args := f.where()
	rows, err := db.conn.QueryContext(ctx, `SELECT status, COUNT(*),
		COALESCE(SUM(amount_cents), 0), COALESCE(SUM(commission_cents), 0)
		FROM conversions`+where+`
		GROUP BY status`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate conversions: %w", err)
	}
	defer rows.Close()

	var out []StatusAggregate
	for rows.Next() {
		var (
			agg    StatusAggregate
			status string
		)
		if err := rows.Scan(&status, &agg.Count, &agg.AmountCents, &agg.CommissionCents); err != nil {
			return nil, fmt.Errorf("failed to scan aggregate: %w", err)
		}
		agg.Status = models.ConversionStatus(status)
		out = append(out, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating aggregates: %w", err)
	}
	return out, nil
}

// ListConversions returns matching conversions newest first, plus the total
// number of matches ignoring limit and offset.
func (db *DB) ListConversions(ctx context.Context, f ConversionFilter, limit, offset int) ([]models.Conversion, int, error) {
	where, args := f.where()

	var total int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversions`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count conversions: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx, `SELECT `+conversionColumns+`
		FROM conversions`+where+`
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list conversions: %w", err)
	}
	defer rows.Close()

	out := []models.Conversion{}
	for rows.Next() {
		c, err := scanConversion(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan conversion: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating conversions: %w", err)
	}
	return out, total, nil
}
