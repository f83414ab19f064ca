package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/SergeiKhy/fairlink/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrLinkNotFound = errors.New("link not found")
	ErrKeyExists    = errors.New("short key already exists")
)

type LinkRepository interface {
	Create(ctx context.Context, link *models.Link) error
	GetByID(ctx context.Context, id int64) (*models.Link, error)
	// GetByShortKey is the redirect hot path: exact, case-sensitive match.
	GetByShortKey(ctx context.Context, shortKey string) (*models.Link, error)
	// ShortKeyTaken checks uniqueness case-insensitively within a domain.
	ShortKeyTaken(ctx context.Context, domain, shortKey string, excludeID int64) (bool, error)
	Update(ctx context.Context, link *models.Link) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, filter models.LinkFilter) ([]*models.Link, int64, error)
}

type linkRepository struct {
	db *PostgresDB
}

func NewLinkRepository(db *PostgresDB) LinkRepository {
	return &linkRepository{db: db}
}

const linkColumns = `id, short_key, domain, destinations, owner_id, remark, short_url, created_at, updated_at`

func scanLink(row pgx.Row) (*models.Link, error) {
	link := &models.Link{}
	err := row.Scan(
		&link.ID,
		&link.ShortKey,
		&link.Domain,
		&link.Destinations,
		&link.OwnerID,
		&link.Remark,
		&link.ShortURL,
		&link.CreatedAt,
		&link.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return link, nil
}

func (r *linkRepository) Create(ctx context.Context, link *models.Link) error {
	query := `
		INSERT INTO links (short_key, domain, destinations, owner_id, remark, short_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING id, created_at, updated_at
	`

	err := r.db.Pool.QueryRow(
		ctx,
		query,
		link.ShortKey,
		link.Domain,
		link.Destinations,
		link.OwnerID,
		link.Remark,
		link.ShortURL,
		link.CreatedAt,
	).Scan(&link.ID, &link.CreatedAt, &link.UpdatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrKeyExists
		}
		return fmt.Errorf("failed to create link: %w", err)
	}

	return nil
}

func (r *linkRepository) GetByID(ctx context.Context, id int64) (*models.Link, error) {
	query := `SELECT ` + linkColumns + ` FROM links WHERE id = $1`

	link, err := scanLink(r.db.Pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLinkNotFound
		}
		return nil, fmt.Errorf("failed to get link: %w", err)
	}

	return link, nil
}

func (r *linkRepository) GetByShortKey(ctx context.Context, shortKey string) (*models.Link, error) {
	// Ключ уникален только в пределах домена, берём самую старую ссылку
	query := `SELECT ` + linkColumns + ` FROM links WHERE short_key = $1 ORDER BY created_at, id LIMIT 1`

	link, err := scanLink(r.db.Pool.QueryRow(ctx, query, shortKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLinkNotFound
		}
		return nil, fmt.Errorf("failed to get link: %w", err)
	}

	return link, nil
}

func (r *linkRepository) ShortKeyTaken(ctx context.Context, domain, shortKey string, excludeID int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM links
			WHERE domain = $1 AND lower(short_key) = lower($2) AND id <> $3
		)
	`

	var taken bool
	if err := r.db.Pool.QueryRow(ctx, query, domain, shortKey, excludeID).Scan(&taken); err != nil {
		return false, fmt.Errorf("failed to check short key: %w", err)
	}

	return taken, nil
}

func (r *linkRepository) Update(ctx context.Context, link *models.Link) error {
	query := `
		UPDATE links
		SET short_key = $2, domain = $3, destinations = $4, remark = $5, short_url = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.Pool.QueryRow(
		ctx,
		query,
		link.ID,
		link.ShortKey,
		link.Domain,
		link.Destinations,
		link.Remark,
		link.ShortURL,
	).Scan(&link.UpdatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrLinkNotFound
		}
		if isUniqueViolation(err) {
			return ErrKeyExists
		}
		return fmt.Errorf("failed to update link: %w", err)
	}

	return nil
}

func (r *linkRepository) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM links WHERE id = $1`

	result, err := r.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete link: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrLinkNotFound
	}

	return nil
}

func (r *linkRepository) List(ctx context.Context, filter models.LinkFilter) ([]*models.Link, int64, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var total int64
	countQuery := `SELECT COUNT(*) FROM links WHERE ($1 = '' OR owner_id = $1)`
	if err := r.db.Pool.QueryRow(ctx, countQuery, filter.OwnerID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count links: %w", err)
	}

	query := `
		SELECT ` + linkColumns + `
		FROM links
		WHERE ($1 = '' OR owner_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool.Query(ctx, query, filter.OwnerID, limit, filter.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list links: %w", err)
	}
	defer rows.Close()

	links := make([]*models.Link, 0, limit)
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan link: %w", err)
		}
		links = append(links, link)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating links: %w", err)
	}

	return links, total, nil
}

// unique_violation
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
