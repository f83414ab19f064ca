package repository

import (
	"context"
	"fmt"

	"github.com/SergeiKhy/fairlink/internal/models"
)

// ClickRepository is the write side of the analytics store plus the
// aggregates the admin API needs. Bot clicks never count.
type ClickRepository interface {
	RecordClick(ctx context.Context, click *models.Click) error
	GetStats(ctx context.Context, linkID int64) (*models.ClickStats, error)
	GetDailyStats(ctx context.Context, linkID int64, days int) ([]models.DailyClickStats, error)
	GetDestinationStats(ctx context.Context, linkID int64) ([]models.DestinationClickStats, error)
}

type clickRepository struct {
	db *PostgresDB
}

func NewClickRepository(db *PostgresDB) ClickRepository {
	return &clickRepository{db: db}
}

func (r *clickRepository) RecordClick(ctx context.Context, click *models.Click) error {
	query := `
		INSERT INTO clicks (
			link_id, short_key, domain, selected_url, ip_address, user_agent, referer,
			is_bot, country, region, city, is_restricted_region, no_dedup, clicked_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`

	err := r.db.Pool.QueryRow(ctx, query,
		click.LinkID,
		click.ShortKey,
		click.Domain,
		click.SelectedURL,
		click.IPAddress,
		click.UserAgent,
		click.Referer,
		click.IsBot,
		click.Country,
		click.Region,
		click.City,
		click.IsRestrictedRegion,
		click.NoDedup,
		click.ClickedAt,
	).Scan(&click.ID)

	if err != nil {
		return fmt.Errorf("failed to record click: %w", err)
	}

	return nil
}

func (r *clickRepository) GetStats(ctx context.Context, linkID int64) (*models.ClickStats, error) {
	query := `
		SELECT
			COUNT(*) AS total_clicks,
			COUNT(DISTINCT ip_address) AS unique_clicks,
			MAX(clicked_at) AS last_click_at
		FROM clicks
		WHERE link_id = $1 AND NOT is_bot
	`

	stats := &models.ClickStats{
		LinkID: linkID,
	}

	err := r.db.Pool.QueryRow(ctx, query, linkID).Scan(
		&stats.TotalClicks,
		&stats.UniqueClicks,
		&stats.LastClickAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get click stats: %w", err)
	}

	return stats, nil
}

func (r *clickRepository) GetDailyStats(ctx context.Context, linkID int64, days int) ([]models.DailyClickStats, error) {
	query := `
		SELECT
			TO_CHAR(DATE(clicked_at), 'YYYY-MM-DD') AS date,
			COUNT(*) AS clicks
		FROM clicks
		WHERE link_id = $1
			AND NOT is_bot
			AND clicked_at >= NOW() - INTERVAL '1 day' * $2
		GROUP BY DATE(clicked_at)
		ORDER BY DATE(clicked_at) DESC
	`

	rows, err := r.db.Pool.Query(ctx, query, linkID, days)
	if err != nil {
		return nil, fmt.Errorf("failed to get daily stats: %w", err)
	}
	defer rows.Close()

	stats := []models.DailyClickStats{}
	for rows.Next() {
		var dailyStat models.DailyClickStats
		if err := rows.Scan(&dailyStat.Date, &dailyStat.Clicks); err != nil {
			return nil, fmt.Errorf("failed to scan daily stat: %w", err)
		}
		stats = append(stats, dailyStat)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily stats: %w", err)
	}

	return stats, nil
}

func (r *clickRepository) GetDestinationStats(ctx context.Context, linkID int64) ([]models.DestinationClickStats, error) {
	query := `
		SELECT selected_url, COUNT(*) AS clicks
		FROM clicks
		WHERE link_id = $1 AND NOT is_bot
		GROUP BY selected_url
		ORDER BY clicks DESC, selected_url
	`

	rows, err := r.db.Pool.Query(ctx, query, linkID)
	if err != nil {
		return nil, fmt.Errorf("failed to get destination stats: %w", err)
	}
	defer rows.Close()

	stats := []models.DestinationClickStats{}
	for rows.Next() {
		var s models.DestinationClickStats
		if err := rows.Scan(&s.URL, &s.Clicks); err != nil {
			return nil, fmt.Errorf("failed to scan destination stat: %w", err)
		}
		stats = append(stats, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating destination stats: %w", err)
	}

	return stats, nil
}
