package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"affiliate-tracking/internal/models"
)

// InsertClick persists an immutable click row.
func (db *DB) InsertClick(ctx context.Context, c models.Click) error {
	_, err := db.conn.ExecContext(ctx, `INSERT INTO clicks (
		id, affiliate_id, tenant_id, ip_hash, user_agent, referer, landing_url,
		utm_source, utm_medium, utm_campaign, utm_term, utm_content, clicked_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID,
		c.AffiliateID,
		c.TenantID,
		c.IPHash,
		c.UserAgent,
		c.Referer,
		c.LandingURL,
		c.UTM.Source,
		c.UTM.Medium,
		c.UTM.Campaign,
		c.UTM.Term,
		c.UTM.Content,
		formatTime(c.ClickedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert click: %w", err)
	}
	return nil
}

// GetClick returns a click by id.
func (db *DB) GetClick(ctx context.Context, id string) (models.Click, error) {
	var (
		c         models.Click
		clickedAt string
	)
	err := db.conn.QueryRowContext(ctx, `SELECT id, affiliate_id, tenant_id, ip_hash,
		user_agent, referer, landing_url, utm_source, utm_medium, utm_campaign,
		utm_term, utm_content, clicked_at
		FROM clicks WHERE id = ?`, id).Scan(
		&c.ID, &c.AffiliateID, &c.TenantID, &c.IPHash,
		&c.UserAgent, &c.Referer, &c.LandingURL,
		&c.UTM.Source, &c.UTM.Medium, &c.UTM.Campaign, &c.UTM.Term, &c.UTM.Content,
		&clickedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Click{}, ErrNotFound
	}
	if err != nil {
		return models.Click{}, fmt.Errorf("failed to get click: %w", err)
	}
	c.ClickedAt, err = parseTime(clickedAt)
	if err != nil {
		return models.Click{}, fmt.Errorf("failed to parse clicked_at: %w", err)
	}
	return c, nil
}

// CountClicks counts an affiliate's clicks at or after since. A zero since
// counts all clicks.
func (db *DB) CountClicks(ctx context.Context, affiliateID string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM clicks WHERE affiliate_id = ?`
	args := []interface{}{affiliateID}
	if !since.IsZero() {
		query += ` AND clicked_at >= ?`
		args = append(args, formatTime(since))
	}

	var count int
	if err := db.conn.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count clicks: %w", err)
	}
	return count, nil
}

// ClicksByDate groups an affiliate's clicks since the given time by UTC day,
// newest day first.
func (db *DB) ClicksByDate(ctx context.Context, affiliateID string, since time.Time) ([]models.DailyClicks, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT substr(clicked_at, 1, 10) AS day, COUNT(*)
		FROM clicks
		WHERE affiliate_id = ? AND clicked_at >= ?
		GROUP BY day
		ORDER BY day DESC`, affiliateID, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query clicks by date: %w", err)
	}
	defer rows.Close()

	out := []models.DailyClicks{}
	for rows.Next() {
		var d models.DailyClicks
		if err := rows.Scan(&d.Date, &d.Clicks); err != nil {
			return nil, fmt.Errorf("failed to scan clicks by date: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating clicks by date: %w", err)
	}
	return out, nil
}
