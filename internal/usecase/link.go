package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/linkloom/linkloom/internal/entity"
	"github.com/linkloom/linkloom/pkg/keylock"
	"golang.org/x/crypto/bcrypt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// ErrMaxRetriesExceeded is returned when the maximum number of retries for generating a short code is exceeded.
var ErrMaxRetriesExceeded = errors.New("maximum retries exceeded for generating short code")

type linkRepository interface {
	// Save inserts a new link and returns it with storage-assigned fields.
	// Returns entity.ErrShortCodeExists on a short code collision.
	Save(ctx context.Context, link *entity.Link) (*entity.Link, error)

	// RetrieveByShortCode fetches a link, or entity.ErrLinkNotFound.
	RetrieveByShortCode(ctx context.Context, shortCode string) (*entity.Link, error)

	// UpdateState persists every mutable field of the link, including its
	// CurrentVersion pointer, and returns the stored state.
	UpdateState(ctx context.Context, link *entity.Link) (*entity.Link, error)

	// RegisterClick increments the link's access counter.
	RegisterClick(ctx context.Context, shortCode string) error

	// Remove hard-deletes a link; the store cascades to its version log
	// and click records.
	Remove(ctx context.Context, shortCode string) error
}

// linkResolver is the read path used by redirects. It may be served by a
// cache; mutating flows never read through it, so a cache fill racing an
// invalidation can only ever delay a redirect, not feed a superseded
// state into a version snapshot.
type linkResolver interface {
	RetrieveByShortCode(ctx context.Context, shortCode string) (*entity.Link, error)
	RegisterClick(ctx context.Context, shortCode string) error
}

type clickPublisher interface {
	PublishClick(ctx context.Context, shortCode string, occurredAt time.Time) error
}

// CreateLinkParams carries the owner-supplied fields for a new link.
type CreateLinkParams struct {
	UserID      uuid.UUID
	OriginalURL string
	CustomAlias string
	CustomName  *string
	Password    string
	ExpiresAt   *time.Time
	Settings    entity.LinkSettings
}

// LinkUseCase is the mutation surface for links. Every externally
// observable mutation pairs the field change with exactly one version
// record (rollback, handled by VersionLog, produces two); the pairing runs
// under the link's key lock shared with the version log.
type LinkUseCase struct {
	repo            linkRepository
	resolver        linkResolver
	versions        *VersionLog
	locks           *keylock.KeyLock
	clicks          clickPublisher
	shortCodeLength int
}

// NewLinkUseCase creates the link mutation surface. resolver serves the
// redirect read path and may be cache-backed; a nil resolver falls back
// to the repository. clicks may be nil, in which case redirects update
// the access counter synchronously instead of publishing events.
func NewLinkUseCase(repo linkRepository, resolver linkResolver, versions *VersionLog, locks *keylock.KeyLock, clicks clickPublisher, shortCodeLength int) *LinkUseCase {
	if resolver == nil {
		resolver = repo
	}

	return &LinkUseCase{
		repo:            repo,
		resolver:        resolver,
		versions:        versions,
		locks:           locks,
		clicks:          clicks,
		shortCodeLength: shortCodeLength,
	}
}

// Create stores a new link and writes its implicit version 1 record.
func (uc *LinkUseCase) Create(ctx context.Context, actor entity.Actor, params CreateLinkParams) (*entity.Link, error) {
	const op = "usecase.LinkUseCase.Create"
	const maxRetries = 5

	var passwordHash *string
	if params.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(params.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to hash password: %w", op, err)
		}
		h := string(hash)
		passwordHash = &h
	}

	for i := 0; i < maxRetries; i++ {
		shortCode := params.CustomAlias
		if shortCode == "" {
			code, err := gonanoid.New(uc.shortCodeLength)
			if err != nil {
				return nil, fmt.Errorf("%s: failed to generate short code: %w", op, err)
			}
			shortCode = code
		}

		link, err := uc.repo.Save(ctx, &entity.Link{
			ShortCode:    shortCode,
			UserID:       params.UserID,
			OriginalURL:  params.OriginalURL,
			CustomName:   params.CustomName,
			PasswordHash: passwordHash,
			ExpiresAt:    params.ExpiresAt,
			Active:       true,
			Settings:     params.Settings,
		})
		if err != nil {
			if errors.Is(err, entity.ErrShortCodeExists) {
				if params.CustomAlias != "" {
					return nil, fmt.Errorf("%s: %w", op, err)
				}
				continue
			}

			return nil, fmt.Errorf("%s: failed to save link: %w", op, err)
		}

		unlock := uc.locks.Lock(link.ShortCode)
		defer unlock()

		record, err := uc.versions.Record(ctx, link, actor, entity.ReasonCreated, entity.Details{
			"destination": link.OriginalURL,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		link.CurrentVersion = record.Version

		link, err = uc.repo.UpdateState(ctx, link)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to persist current version: %w", op, err)
		}

		return link, nil
	}

	return nil, fmt.Errorf("%s: %w", op, ErrMaxRetriesExceeded)
}

// Get retrieves a link by its short code.
func (uc *LinkUseCase) Get(ctx context.Context, shortCode string) (*entity.Link, error) {
	const op = "usecase.LinkUseCase.Get"

	link, err := uc.repo.RetrieveByShortCode(ctx, shortCode)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to retrieve link: %w", op, err)
	}

	return link, nil
}

// Resolve returns the link for a redirect, enforcing the active,
// restriction, expiration and password gates, and registers the click.
func (uc *LinkUseCase) Resolve(ctx context.Context, shortCode, password string) (*entity.Link, error) {
	const op = "usecase.LinkUseCase.Resolve"

	link, err := uc.resolver.RetrieveByShortCode(ctx, shortCode)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to retrieve link: %w", op, err)
	}

	if err := link.Resolvable(time.Now()); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if link.PasswordHash != nil {
		if err := bcrypt.CompareHashAndPassword([]byte(*link.PasswordHash), []byte(password)); err != nil {
			return nil, fmt.Errorf("%s: %w", op, entity.ErrPasswordMismatch)
		}
	}

	if uc.clicks != nil {
		// Click counting is fire and forget: a broker hiccup must not
		// break redirects.
		_ = uc.clicks.PublishClick(ctx, shortCode, time.Now())
	} else if err := uc.resolver.RegisterClick(ctx, shortCode); err != nil {
		return nil, fmt.Errorf("%s: failed to register click: %w", op, err)
	}

	return link, nil
}

// VerifyPassword checks a password attempt without resolving the link.
func (uc *LinkUseCase) VerifyPassword(ctx context.Context, shortCode, password string) error {
	const op = "usecase.LinkUseCase.VerifyPassword"

	link, err := uc.repo.RetrieveByShortCode(ctx, shortCode)
	if err != nil {
		return fmt.Errorf("%s: failed to retrieve link: %w", op, err)
	}

	if link.PasswordHash == nil {
		return nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(*link.PasswordHash), []byte(password)); err != nil {
		return fmt.Errorf("%s: %w", op, entity.ErrPasswordMismatch)
	}

	return nil
}

// UpdateDestination points the link at a new destination URL.
func (uc *LinkUseCase) UpdateDestination(ctx context.Context, shortCode string, actor entity.Actor, originalURL string) (*entity.Link, error) {
	const op = "usecase.LinkUseCase.UpdateDestination"

	return uc.mutate(ctx, op, shortCode, actor, entity.ReasonDestinationUpdated, func(link *entity.Link) entity.Details {
		details := entity.Details{
			"previous_destination": link.OriginalURL,
			"new_destination":      originalURL,
		}
		link.OriginalURL = originalURL
		return details
	})
}

// UpdateSettings replaces the link's settings bundle.
func (uc *LinkUseCase) UpdateSettings(ctx context.Context, shortCode string, actor entity.Actor, settings entity.LinkSettings) (*entity.Link, error) {
	const op = "usecase.LinkUseCase.UpdateSettings"

	return uc.mutate(ctx, op, shortCode, actor, entity.ReasonSettingsUpdated, func(link *entity.Link) entity.Details {
		link.Settings = settings
		return entity.Details{}
	})
}

// ChangePassword sets, replaces or clears the link's password. The
// plaintext never reaches details or snapshots.
func (uc *LinkUseCase) ChangePassword(ctx context.Context, shortCode string, actor entity.Actor, password string) (*entity.Link, error) {
	const op = "usecase.LinkUseCase.ChangePassword"

	var passwordHash *string
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to hash password: %w", op, err)
		}
		h := string(hash)
		passwordHash = &h
	}

	return uc.mutate(ctx, op, shortCode, actor, entity.ReasonPasswordChanged, func(link *entity.Link) entity.Details {
		link.PasswordHash = passwordHash
		return entity.Details{"password_set": passwordHash != nil}
	})
}

// UpdateExpiration sets or clears the link's expiration timestamp.
func (uc *LinkUseCase) UpdateExpiration(ctx context.Context, shortCode string, actor entity.Actor, expiresAt *time.Time) (*entity.Link, error) {
	const op = "usecase.LinkUseCase.UpdateExpiration"

	return uc.mutate(ctx, op, shortCode, actor, entity.ReasonExpirationUpdated, func(link *entity.Link) entity.Details {
		link.ExpiresAt = expiresAt

		details := entity.Details{}
		if expiresAt != nil {
			details["expires_at"] = expiresAt.Format(time.RFC3339)
		}
		return details
	})
}

// UpdateBrandingImage sets or clears the link's branding image.
func (uc *LinkUseCase) UpdateBrandingImage(ctx context.Context, shortCode string, actor entity.Actor, imageURL *string) (*entity.Link, error) {
	const op = "usecase.LinkUseCase.UpdateBrandingImage"

	return uc.mutate(ctx, op, shortCode, actor, entity.ReasonImageUpdated, func(link *entity.Link) entity.Details {
		link.Settings.BrandingImageURL = imageURL
		return entity.Details{"image_set": imageURL != nil}
	})
}

// Disable soft-disables the link; redirects stop, history stays.
func (uc *LinkUseCase) Disable(ctx context.Context, shortCode string, actor entity.Actor) (*entity.Link, error) {
	const op = "usecase.LinkUseCase.Disable"

	return uc.mutate(ctx, op, shortCode, actor, entity.ReasonDisabled, func(link *entity.Link) entity.Details {
		link.Active = false
		return entity.Details{}
	})
}

// Enable reactivates a disabled link.
func (uc *LinkUseCase) Enable(ctx context.Context, shortCode string, actor entity.Actor) (*entity.Link, error) {
	const op = "usecase.LinkUseCase.Enable"

	return uc.mutate(ctx, op, shortCode, actor, entity.ReasonEnabled, func(link *entity.Link) entity.Details {
		link.Active = true
		return entity.Details{}
	})
}

// Restrict flags the link as restricted by moderation.
func (uc *LinkUseCase) Restrict(ctx context.Context, shortCode string, actor entity.Actor, note string) (*entity.Link, error) {
	const op = "usecase.LinkUseCase.Restrict"

	return uc.mutate(ctx, op, shortCode, actor, entity.ReasonRestricted, func(link *entity.Link) entity.Details {
		link.Restricted = true

		details := entity.Details{}
		if note != "" {
			details["note"] = note
		}
		return details
	})
}

// Unrestrict lifts a moderation restriction.
func (uc *LinkUseCase) Unrestrict(ctx context.Context, shortCode string, actor entity.Actor) (*entity.Link, error) {
	const op = "usecase.LinkUseCase.Unrestrict"

	return uc.mutate(ctx, op, shortCode, actor, entity.ReasonUnrestricted, func(link *entity.Link) entity.Details {
		link.Restricted = false
		return entity.Details{}
	})
}

// SetABTesting toggles A/B testing for the link.
func (uc *LinkUseCase) SetABTesting(ctx context.Context, shortCode string, actor entity.Actor, enabled bool) (*entity.Link, error) {
	const op = "usecase.LinkUseCase.SetABTesting"

	reason := entity.ReasonABTestingDisabled
	if enabled {
		reason = entity.ReasonABTestingEnabled
	}

	return uc.mutate(ctx, op, shortCode, actor, reason, func(link *entity.Link) entity.Details {
		link.Settings.ABTestingEnabled = enabled
		return entity.Details{}
	})
}

// Purge hard-deletes the link; the store cascades to its version log.
// Normal removal is Disable — purge is the administrative path.
func (uc *LinkUseCase) Purge(ctx context.Context, shortCode string) error {
	const op = "usecase.LinkUseCase.Purge"

	unlock := uc.locks.Lock(shortCode)
	defer unlock()

	if err := uc.repo.Remove(ctx, shortCode); err != nil {
		return fmt.Errorf("%s: failed to remove link: %w", op, err)
	}

	return nil
}

// mutate runs one paired mutation: read under the link's lock, apply the
// field change, append the matching version record, persist the entity
// with its CurrentVersion pointing at the new record. The record commits
// before the entity update, so a crash in between leaves an auditable
// head record rather than a CurrentVersion with no backing record.
func (uc *LinkUseCase) mutate(ctx context.Context, op, shortCode string, actor entity.Actor, reason entity.ChangeReason, apply func(*entity.Link) entity.Details) (*entity.Link, error) {
	unlock := uc.locks.Lock(shortCode)
	defer unlock()

	link, err := uc.repo.RetrieveByShortCode(ctx, shortCode)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to retrieve link: %w", op, err)
	}

	details := apply(link)

	record, err := uc.versions.Record(ctx, link, actor, reason, details)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	link.CurrentVersion = record.Version

	link, err = uc.repo.UpdateState(ctx, link)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to persist link: %w", op, err)
	}

	return link, nil
}
