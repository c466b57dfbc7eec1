package usecase

import (
	"context"
	"fmt"

	"github.com/linkloom/linkloom/internal/entity"
	"github.com/linkloom/linkloom/pkg/keylock"
)

type versionRepository interface {
	// Append inserts a new version record for the record's LinkID,
	// assigning the next gapless version number atomically. It returns
	// entity.ErrVersionConflict when another writer outside this process
	// claims the same number first.
	Append(ctx context.Context, record *entity.VersionRecord) (*entity.VersionRecord, error)

	// RetrieveByVersion fetches the record with the given per-link version
	// number, or entity.ErrVersionNotFound.
	RetrieveByVersion(ctx context.Context, linkID, version int64) (*entity.VersionRecord, error)

	// List returns records for a link ordered newest-first. A non-positive
	// limit means no limit.
	List(ctx context.Context, linkID int64, limit, offset int) ([]entity.VersionRecord, error)
}

// VersionLog records state transitions of links and reconstructs past
// states. Every mutating operation on one link runs under that link's
// entry in the shared key lock, which keeps version numbers gapless and
// makes the multi-step rollback sequence atomic with respect to other
// edits in this process; the repository's in-statement version assignment
// turns any cross-process race into entity.ErrVersionConflict instead of
// a duplicate or gap.
type VersionLog struct {
	linkRepo    linkRepository
	versionRepo versionRepository
	locks       *keylock.KeyLock
}

// NewVersionLog wires the version log against its repositories. The key
// lock must be the same instance used by the link mutation surface so
// that edits and rollbacks on one link serialize with each other.
func NewVersionLog(linkRepo linkRepository, versionRepo versionRepository, locks *keylock.KeyLock) *VersionLog {
	return &VersionLog{
		linkRepo:    linkRepo,
		versionRepo: versionRepo,
		locks:       locks,
	}
}

// Annotate appends an out-of-band version record snapshotting the link's
// current state, without changing any link field. Like every other
// mutation it moves CurrentVersion to the new record, so the highest
// version on file always matches the link. Reserved reasons are rejected:
// only the lifecycle paths may write creation and rollback records.
func (vl *VersionLog) Annotate(ctx context.Context, shortCode string, actor entity.Actor, reason entity.ChangeReason, details entity.Details) (*entity.VersionRecord, error) {
	const op = "usecase.VersionLog.Annotate"

	if !reason.Valid() {
		return nil, fmt.Errorf("%s: %q: %w", op, reason, entity.ErrInvalidChangeReason)
	}
	if reason.Reserved() {
		return nil, fmt.Errorf("%s: %q: %w", op, reason, entity.ErrReservedChangeReason)
	}

	unlock := vl.locks.Lock(shortCode)
	defer unlock()

	link, err := vl.linkRepo.RetrieveByShortCode(ctx, shortCode)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to retrieve link: %w", op, err)
	}

	record, err := vl.record(ctx, link, actor, reason, details)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	link.CurrentVersion = record.Version

	if _, err := vl.linkRepo.UpdateState(ctx, link); err != nil {
		return nil, fmt.Errorf("%s: failed to persist current version: %w", op, err)
	}

	return record, nil
}

// Record appends a version record snapshotting the given link state. The
// caller must hold the link's key lock and supplies the state explicitly,
// so the snapshot can never capture a state another writer already
// superseded.
func (vl *VersionLog) Record(ctx context.Context, link *entity.Link, actor entity.Actor, reason entity.ChangeReason, details entity.Details) (*entity.VersionRecord, error) {
	const op = "usecase.VersionLog.Record"

	if !reason.Valid() {
		return nil, fmt.Errorf("%s: %q: %w", op, reason, entity.ErrInvalidChangeReason)
	}

	record, err := vl.record(ctx, link, actor, reason, details)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return record, nil
}

func (vl *VersionLog) record(ctx context.Context, link *entity.Link, actor entity.Actor, reason entity.ChangeReason, details entity.Details) (*entity.VersionRecord, error) {
	record, err := vl.versionRepo.Append(ctx, &entity.VersionRecord{
		LinkID:    link.ID,
		ActorID:   actor.ID,
		ActorName: actor.Name,
		Reason:    reason,
		Details:   details,
		Snapshot:  entity.NewSnapshot(link),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append version record: %w", err)
	}

	return record, nil
}

// ListVersions returns the link's version records newest-first.
func (vl *VersionLog) ListVersions(ctx context.Context, shortCode string, limit, offset int) ([]entity.VersionRecord, error) {
	const op = "usecase.VersionLog.ListVersions"

	link, err := vl.linkRepo.RetrieveByShortCode(ctx, shortCode)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to retrieve link: %w", op, err)
	}

	records, err := vl.versionRepo.List(ctx, link.ID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to list versions: %w", op, err)
	}

	return records, nil
}

// GetChangeLog returns the human-readable history projection, newest-first.
// Snapshot contents stay internal; only presence flags are exposed.
func (vl *VersionLog) GetChangeLog(ctx context.Context, shortCode string) ([]entity.ChangeLogEntry, error) {
	const op = "usecase.VersionLog.GetChangeLog"

	link, err := vl.linkRepo.RetrieveByShortCode(ctx, shortCode)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to retrieve link: %w", op, err)
	}

	records, err := vl.versionRepo.List(ctx, link.ID, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to list versions: %w", op, err)
	}

	entries := make([]entity.ChangeLogEntry, 0, len(records))
	for _, record := range records {
		entries = append(entries, entity.ChangeLogEntry{
			Version:        record.Version,
			Reason:         record.Reason,
			Label:          record.Reason.Label(),
			Actor:          record.Actor().DisplayName(),
			CreatedAt:      record.CreatedAt,
			HasDestination: record.Snapshot.HasDestination(),
			HasSettings:    record.Snapshot.HasSettings(),
		})
	}

	return entries, nil
}

// Rollback restores the link's mutable state from the target version's
// snapshot. The mutation is bracketed by two new records: one capturing
// the pre-rollback state before anything changes, one capturing the
// restored state after, so the trail is gapless and a rollback is itself
// rollback-able. Each step is durably committed before the next begins;
// a crash mid-sequence leaves CurrentVersion at or behind an existing
// record, never ahead of one.
func (vl *VersionLog) Rollback(ctx context.Context, shortCode string, targetVersion int64, actor entity.Actor) (*entity.Link, error) {
	const op = "usecase.VersionLog.Rollback"

	if targetVersion < 1 {
		return nil, fmt.Errorf("%s: %d: %w", op, targetVersion, entity.ErrInvalidTargetVersion)
	}

	unlock := vl.locks.Lock(shortCode)
	defer unlock()

	link, err := vl.linkRepo.RetrieveByShortCode(ctx, shortCode)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to retrieve link: %w", op, err)
	}

	target, err := vl.versionRepo.RetrieveByVersion(ctx, link.ID, targetVersion)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to retrieve target version: %w", op, err)
	}

	// The pre-rollback state must be on record before anything mutates,
	// so a failure past this point never loses state.
	_, err = vl.record(ctx, link, actor, entity.ReasonRollback, entity.Details{
		"from_version": link.CurrentVersion,
		"to_version":   targetVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	previousDestination := link.OriginalURL

	target.Snapshot.ApplyTo(link)
	link.CurrentVersion = targetVersion

	link, err = vl.linkRepo.UpdateState(ctx, link)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to persist restored state: %w", op, err)
	}

	completed, err := vl.record(ctx, link, actor, entity.ReasonRollbackCompleted, entity.Details{
		"previous_destination": previousDestination,
		"restored_destination": link.OriginalURL,
		"target_version":       targetVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	link.CurrentVersion = completed.Version

	link, err = vl.linkRepo.UpdateState(ctx, link)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to persist current version: %w", op, err)
	}

	return link, nil
}
