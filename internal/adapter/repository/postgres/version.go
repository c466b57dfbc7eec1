package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/linkloom/linkloom/internal/entity"
)

type versionDB struct {
	ID        int64      `db:"id"`
	LinkID    int64      `db:"link_id"`
	Version   int64      `db:"version"`
	ActorID   *uuid.UUID `db:"actor_id"`
	ActorName *string    `db:"actor_name"`
	Reason    string     `db:"reason"`
	Details   []byte     `db:"details"`
	Snapshot  []byte     `db:"snapshot"`
	CreatedAt time.Time  `db:"created_at"`
}

func (v *versionDB) toEntity() (*entity.VersionRecord, error) {
	record := &entity.VersionRecord{
		ID:        v.ID,
		LinkID:    v.LinkID,
		Version:   v.Version,
		ActorID:   v.ActorID,
		ActorName: v.ActorName,
		Reason:    entity.ChangeReason(v.Reason),
		CreatedAt: v.CreatedAt,
	}

	if len(v.Details) > 0 {
		if err := json.Unmarshal(v.Details, &record.Details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal details: %w", err)
		}
	}

	// Unknown snapshot fields written by newer schema versions are
	// dropped here; missing ones stay nil and read as unset on restore.
	if len(v.Snapshot) > 0 {
		if err := json.Unmarshal(v.Snapshot, &record.Snapshot); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
		}
	}

	return record, nil
}

type VersionRepository struct {
	db *sqlx.DB
}

func NewVersionRepository(db *sqlx.DB) *VersionRepository {
	return &VersionRepository{db: db}
}

// Append inserts the next version record for a link. The version number
// is computed inside the INSERT itself, and link_versions carries a
// UNIQUE (link_id, version) index, so two racing appends can never both
// claim a number: the loser gets entity.ErrVersionConflict and no gap or
// duplicate is possible.
func (r *VersionRepository) Append(ctx context.Context, record *entity.VersionRecord) (*entity.VersionRecord, error) {
	const op = "adapter.repository.postgres.VersionRepository.Append"
	const query = `INSERT INTO link_versions(link_id, version, actor_id, actor_name, reason, details, snapshot)
		SELECT $1, COALESCE(MAX(version), 0) + 1, $2, $3, $4, $5, $6
		FROM link_versions WHERE link_id = $1
		RETURNING *`

	details, err := json.Marshal(record.Details)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to marshal details: %w", op, err)
	}

	snapshot, err := json.Marshal(record.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to marshal snapshot: %w", op, err)
	}

	var row versionDB

	err = r.db.GetContext(ctx, &row, query,
		record.LinkID,
		record.ActorID,
		record.ActorName,
		string(record.Reason),
		details,
		snapshot,
	)
	if err != nil {
		if isPgError(err, uniqueViolationErrCode) {
			return nil, fmt.Errorf("%s: %w", op, entity.ErrVersionConflict)
		}
		if isPgError(err, foreignKeyViolationErrCode) {
			return nil, fmt.Errorf("%s: %w", op, entity.ErrLinkNotFound)
		}

		return nil, fmt.Errorf("%s: failed to insert into link_versions table: %w", op, err)
	}

	appended, err := row.toEntity()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return appended, nil
}

func (r *VersionRepository) RetrieveByVersion(ctx context.Context, linkID, version int64) (*entity.VersionRecord, error) {
	const op = "adapter.repository.postgres.VersionRepository.RetrieveByVersion"
	const query = `SELECT * FROM link_versions WHERE link_id = $1 AND version = $2`

	var row versionDB

	if err := r.db.GetContext(ctx, &row, query, linkID, version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, entity.ErrVersionNotFound)
		}

		return nil, fmt.Errorf("%s: failed to get row from link_versions table: %w", op, err)
	}

	record, err := row.toEntity()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return record, nil
}

// List returns records newest-first. A non-positive limit means no limit.
func (r *VersionRepository) List(ctx context.Context, linkID int64, limit, offset int) ([]entity.VersionRecord, error) {
	const op = "adapter.repository.postgres.VersionRepository.List"

	query := `SELECT * FROM link_versions WHERE link_id = $1 ORDER BY version DESC`
	args := []any{linkID}

	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	var rows []versionDB

	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("%s: failed to select from link_versions table: %w", op, err)
	}

	records := make([]entity.VersionRecord, 0, len(rows))
	for i := range rows {
		record, err := rows[i].toEntity()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		records = append(records, *record)
	}

	return records, nil
}
