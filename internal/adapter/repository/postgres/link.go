// Package postgres implements the link and version-log repositories on
// PostgreSQL via sqlx and the pgx stdlib driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/linkloom/linkloom/internal/entity"
)

const (
	uniqueViolationErrCode     = "23505"
	foreignKeyViolationErrCode = "23503"
)

func isPgError(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

type linkDB struct {
	ID             int64      `db:"id"`
	ShortCode      string     `db:"short_code"`
	UserID         uuid.UUID  `db:"user_id"`
	OriginalURL    string     `db:"original_url"`
	CustomName     *string    `db:"custom_name"`
	PasswordHash   *string    `db:"password_hash"`
	ExpiresAt      *time.Time `db:"expires_at"`
	Active         bool       `db:"active"`
	Restricted     bool       `db:"restricted"`
	Settings       []byte     `db:"settings"`
	AccessCount    int64      `db:"access_count"`
	CurrentVersion int64      `db:"current_version"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

func (l *linkDB) toEntity() (*entity.Link, error) {
	link := &entity.Link{
		ID:           l.ID,
		ShortCode:    l.ShortCode,
		UserID:       l.UserID,
		OriginalURL:  l.OriginalURL,
		CustomName:   l.CustomName,
		PasswordHash: l.PasswordHash,
		ExpiresAt:    l.ExpiresAt,
		Active:       l.Active,
		Restricted:   l.Restricted,
		LinkStats: entity.LinkStats{
			AccessCount: l.AccessCount,
		},
		CurrentVersion: l.CurrentVersion,
		CreatedAt:      l.CreatedAt,
		UpdatedAt:      l.UpdatedAt,
	}

	if len(l.Settings) > 0 {
		if err := json.Unmarshal(l.Settings, &link.Settings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
		}
	}

	return link, nil
}

type LinkRepository struct {
	db *sqlx.DB
}

func NewLinkRepository(db *sqlx.DB) *LinkRepository {
	return &LinkRepository{db: db}
}

func (r *LinkRepository) Save(ctx context.Context, link *entity.Link) (*entity.Link, error) {
	const op = "adapter.repository.postgres.LinkRepository.Save"
	const query = `INSERT INTO links(short_code, user_id, original_url, custom_name, password_hash, expires_at, active, restricted, settings)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING *`

	settings, err := json.Marshal(link.Settings)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to marshal settings: %w", op, err)
	}

	var row linkDB

	err = r.db.GetContext(ctx, &row, query,
		link.ShortCode,
		link.UserID,
		link.OriginalURL,
		link.CustomName,
		link.PasswordHash,
		link.ExpiresAt,
		link.Active,
		link.Restricted,
		settings,
	)
	if err != nil {
		if isPgError(err, uniqueViolationErrCode) {
			return nil, fmt.Errorf("%s: %w", op, entity.ErrShortCodeExists)
		}

		return nil, fmt.Errorf("%s: failed to insert into links table: %w", op, err)
	}

	saved, err := row.toEntity()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return saved, nil
}

func (r *LinkRepository) RetrieveByShortCode(ctx context.Context, shortCode string) (*entity.Link, error) {
	const op = "adapter.repository.postgres.LinkRepository.RetrieveByShortCode"
	const query = `SELECT * FROM links WHERE short_code = $1`

	var row linkDB

	if err := r.db.GetContext(ctx, &row, query, shortCode); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, entity.ErrLinkNotFound)
		}

		return nil, fmt.Errorf("%s: failed to get row from links table: %w", op, err)
	}

	link, err := row.toEntity()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return link, nil
}

func (r *LinkRepository) UpdateState(ctx context.Context, link *entity.Link) (*entity.Link, error) {
	const op = "adapter.repository.postgres.LinkRepository.UpdateState"
	const query = `UPDATE links
		SET original_url = $1, custom_name = $2, password_hash = $3, expires_at = $4,
			active = $5, restricted = $6, settings = $7, current_version = $8, updated_at = now()
		WHERE short_code = $9 RETURNING *`

	settings, err := json.Marshal(link.Settings)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to marshal settings: %w", op, err)
	}

	var row linkDB

	err = r.db.GetContext(ctx, &row, query,
		link.OriginalURL,
		link.CustomName,
		link.PasswordHash,
		link.ExpiresAt,
		link.Active,
		link.Restricted,
		settings,
		link.CurrentVersion,
		link.ShortCode,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, entity.ErrLinkNotFound)
		}

		return nil, fmt.Errorf("%s: failed to update links table row: %w", op, err)
	}

	updated, err := row.toEntity()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return updated, nil
}

func (r *LinkRepository) RegisterClick(ctx context.Context, shortCode string) error {
	const op = "adapter.repository.postgres.LinkRepository.RegisterClick"
	const query = `UPDATE links SET access_count = access_count + 1 WHERE short_code = $1`

	res, err := r.db.ExecContext(ctx, query, shortCode)
	if err != nil {
		return fmt.Errorf("%s: failed to update links table row: %w", op, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: failed to get number of affected rows: %w", op, err)
	}

	if rowsAffected != 1 {
		return fmt.Errorf("%s: %w", op, entity.ErrLinkNotFound)
	}

	return nil
}

func (r *LinkRepository) Remove(ctx context.Context, shortCode string) error {
	const op = "adapter.repository.postgres.LinkRepository.Remove"
	const query = `DELETE FROM links WHERE short_code = $1`

	res, err := r.db.ExecContext(ctx, query, shortCode)
	if err != nil {
		return fmt.Errorf("%s: failed to delete from links table: %w", op, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: failed to get number of affected rows: %w", op, err)
	}

	if rowsAffected != 1 {
		return fmt.Errorf("%s: %w", op, entity.ErrLinkNotFound)
	}

	return nil
}
