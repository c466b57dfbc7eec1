package entity

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrVersionNotFound is returned when a version record with the requested number does not exist.
	ErrVersionNotFound = errors.New("version not found")
	// ErrVersionConflict is returned when two writers race for the same version number.
	ErrVersionConflict = errors.New("version conflict")
	// ErrInvalidChangeReason is returned when a change reason outside the closed set is supplied.
	ErrInvalidChangeReason = errors.New("invalid change reason")
	// ErrReservedChangeReason is returned when a caller supplies a reason only the system itself may write.
	ErrReservedChangeReason = errors.New("reserved change reason")
	// ErrInvalidTargetVersion is returned when a rollback target is not a positive version number.
	ErrInvalidTargetVersion = errors.New("invalid target version")
)

// PasswordRedacted is the sentinel stored in snapshots in place of a
// password hash. Snapshots never carry the real hash, so restoring a
// snapshot can never resurrect a credential.
const PasswordRedacted = "[REDACTED]"

// ChangeReason classifies why a version record was written. The set is
// closed; Valid rejects anything else at the boundary.
type ChangeReason string

const (
	ReasonCreated            ChangeReason = "created"
	ReasonDestinationUpdated ChangeReason = "destination_updated"
	ReasonSettingsUpdated    ChangeReason = "settings_updated"
	ReasonPasswordChanged    ChangeReason = "password_changed"
	ReasonExpirationUpdated  ChangeReason = "expiration_updated"
	ReasonImageUpdated       ChangeReason = "image_updated"
	ReasonDisabled           ChangeReason = "disabled"
	ReasonEnabled            ChangeReason = "enabled"
	ReasonRestricted         ChangeReason = "restricted"
	ReasonUnrestricted       ChangeReason = "unrestricted"
	ReasonABTestingEnabled   ChangeReason = "ab_testing_enabled"
	ReasonABTestingDisabled  ChangeReason = "ab_testing_disabled"
	ReasonRollback           ChangeReason = "rollback"
	ReasonRollbackCompleted  ChangeReason = "rollback_completed"
)

// ChangeReasons lists every member of the closed reason set.
var ChangeReasons = []ChangeReason{
	ReasonCreated,
	ReasonDestinationUpdated,
	ReasonSettingsUpdated,
	ReasonPasswordChanged,
	ReasonExpirationUpdated,
	ReasonImageUpdated,
	ReasonDisabled,
	ReasonEnabled,
	ReasonRestricted,
	ReasonUnrestricted,
	ReasonABTestingEnabled,
	ReasonABTestingDisabled,
	ReasonRollback,
	ReasonRollbackCompleted,
}

// Valid reports whether r belongs to the closed reason set.
func (r ChangeReason) Valid() bool {
	switch r {
	case ReasonCreated, ReasonDestinationUpdated, ReasonSettingsUpdated,
		ReasonPasswordChanged, ReasonExpirationUpdated, ReasonImageUpdated,
		ReasonDisabled, ReasonEnabled, ReasonRestricted, ReasonUnrestricted,
		ReasonABTestingEnabled, ReasonABTestingDisabled,
		ReasonRollback, ReasonRollbackCompleted:
		return true
	}
	return false
}

// Reserved reports whether r may only be written by the link lifecycle
// itself. The creation and rollback bracket records carry structural
// meaning, so callers of the annotation path cannot forge them.
func (r ChangeReason) Reserved() bool {
	switch r {
	case ReasonCreated, ReasonRollback, ReasonRollbackCompleted:
		return true
	}
	return false
}

// Label returns the display string for a reason. Every member of the
// closed set has a deliberate label; anything else falls through to the
// raw tag so an unlabeled reason is visible rather than hidden.
func (r ChangeReason) Label() string {
	switch r {
	case ReasonCreated:
		return "Link created"
	case ReasonDestinationUpdated:
		return "Destination updated"
	case ReasonSettingsUpdated:
		return "Settings updated"
	case ReasonPasswordChanged:
		return "Password changed"
	case ReasonExpirationUpdated:
		return "Expiration updated"
	case ReasonImageUpdated:
		return "Branding image updated"
	case ReasonDisabled:
		return "Link disabled"
	case ReasonEnabled:
		return "Link enabled"
	case ReasonRestricted:
		return "Restricted by moderation"
	case ReasonUnrestricted:
		return "Restriction lifted"
	case ReasonABTestingEnabled:
		return "A/B testing enabled"
	case ReasonABTestingDisabled:
		return "A/B testing disabled"
	case ReasonRollback:
		return "Rollback started"
	case ReasonRollbackCompleted:
		return "Rollback completed"
	}
	return string(r)
}

// Details is the free-form payload attached to a version record. It is
// persisted as JSON; keys are operation-specific.
type Details map[string]any

// Snapshot is the complete set of mutable Link fields as they existed
// right after the recorded change took effect. It is self-contained:
// restoring from it never consults another record. Pointer fields that are
// nil mean the field was unset (or unknown to the writing schema version),
// and unknown JSON fields from newer schema versions are ignored on decode.
type Snapshot struct {
	OriginalURL string        `json:"original_url"`
	CustomName  *string       `json:"custom_name,omitempty"`
	Password    *string       `json:"password,omitempty"`
	ExpiresAt   *time.Time    `json:"expires_at,omitempty"`
	Active      *bool         `json:"active,omitempty"`
	Restricted  *bool         `json:"restricted,omitempty"`
	Settings    *LinkSettings `json:"settings,omitempty"`
}

// NewSnapshot captures the full mutable state of a link. The password
// field records only whether a password was set, via the redaction
// sentinel.
func NewSnapshot(link *Link) Snapshot {
	s := Snapshot{
		OriginalURL: link.OriginalURL,
		CustomName:  link.CustomName,
		ExpiresAt:   link.ExpiresAt,
		Active:      boolPtr(link.Active),
		Restricted:  boolPtr(link.Restricted),
	}

	if link.PasswordHash != nil {
		redacted := PasswordRedacted
		s.Password = &redacted
	}

	settings := link.Settings
	s.Settings = &settings

	return s
}

// ApplyTo overwrites the link's mutable fields from the snapshot. Nil
// pointer fields are left untouched, which keeps snapshots written by
// older schema versions restorable. The password field only changes when
// the snapshot carries a real value rather than the redaction sentinel,
// so a rollback can neither resurrect nor clear a credential.
func (s Snapshot) ApplyTo(link *Link) {
	link.OriginalURL = s.OriginalURL
	link.CustomName = s.CustomName
	link.ExpiresAt = s.ExpiresAt

	if s.Active != nil {
		link.Active = *s.Active
	}
	if s.Restricted != nil {
		link.Restricted = *s.Restricted
	}
	if s.Settings != nil {
		link.Settings = *s.Settings
	}
	if s.Password != nil && *s.Password != PasswordRedacted {
		password := *s.Password
		link.PasswordHash = &password
	}
}

// HasDestination reports whether the snapshot captured a destination URL.
func (s Snapshot) HasDestination() bool {
	return s.OriginalURL != ""
}

// HasSettings reports whether the snapshot captured a settings bundle.
func (s Snapshot) HasSettings() bool {
	return s.Settings != nil
}

// Actor identifies who performed a change. A zero Actor means the system
// itself acted.
type Actor struct {
	ID   *uuid.UUID
	Name *string
}

// SystemActor is the actor used for changes not attributable to a user.
var SystemActor = Actor{}

// DisplayName returns the actor's display name, or "System" when the
// change was not made by a user.
func (a Actor) DisplayName() string {
	if a.Name != nil && *a.Name != "" {
		return *a.Name
	}
	return "System"
}

// VersionRecord is one immutable entry in a link's version log. Records
// are only ever inserted; they disappear solely through the cascade when
// their parent link is purged.
type VersionRecord struct {
	ID        int64
	LinkID    int64
	Version   int64 // Version is assigned per link, starting at 1, gapless.
	ActorID   *uuid.UUID
	ActorName *string
	Reason    ChangeReason
	Details   Details
	Snapshot  Snapshot
	CreatedAt time.Time
}

// Actor reconstructs the acting identity stored on the record.
func (r *VersionRecord) Actor() Actor {
	return Actor{ID: r.ActorID, Name: r.ActorName}
}

// ChangeLogEntry is the human-readable projection of a version record used
// by history views. It never exposes snapshot contents or secrets.
type ChangeLogEntry struct {
	Version        int64
	Reason         ChangeReason
	Label          string
	Actor          string
	CreatedAt      time.Time
	HasDestination bool
	HasSettings    bool
}

func boolPtr(b bool) *bool {
	return &b
}
