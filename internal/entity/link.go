// Package entity defines the entities and errors used in the application.
// It includes the Link struct, which represents a short link together with
// its settings bundle, and the version-log types that record every change
// made to a link.
package entity

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrShortCodeExists is returned when attempting to create a link with a short code that already exists.
	ErrShortCodeExists = errors.New("short code exists")
	// ErrLinkNotFound is returned when a link with the specified short code cannot be found.
	ErrLinkNotFound = errors.New("link not found")
	// ErrLinkInactive is returned when resolving a link that has been disabled or restricted.
	ErrLinkInactive = errors.New("link inactive")
	// ErrLinkExpired is returned when resolving a link past its expiration timestamp.
	ErrLinkExpired = errors.New("link expired")
	// ErrPasswordMismatch is returned when the supplied password does not match the link's password hash.
	ErrPasswordMismatch = errors.New("password mismatch")
)

// LinkSettings is the presentation and behavior bundle attached to a link.
// All of it is captured in version snapshots.
type LinkSettings struct {
	BrandingImageURL         *string `json:"branding_image_url,omitempty"`
	BrandColor               *string `json:"brand_color,omitempty"`
	QRCodeEnabled            bool    `json:"qr_code_enabled"`
	SmartRoutingEnabled      bool    `json:"smart_routing_enabled"`
	AffiliateTrackingEnabled bool    `json:"affiliate_tracking_enabled"`
	ABTestingEnabled         bool    `json:"ab_testing_enabled"`
}

// Link represents a short link and its current mutable state.
type Link struct {
	ID             int64        // ID is the unique identifier of the link in the database.
	ShortCode      string       // ShortCode is the generated or custom code the link is addressed by.
	UserID         uuid.UUID    // UserID references the owning user.
	OriginalURL    string       // OriginalURL is the destination the short code resolves to.
	CustomName     *string      // CustomName is an optional display name chosen by the owner.
	PasswordHash   *string      // PasswordHash is the bcrypt hash guarding the link, if any.
	ExpiresAt      *time.Time   // ExpiresAt is the optional expiration timestamp.
	Active         bool         // Active is false for links the owner has disabled.
	Restricted     bool         // Restricted is true for links flagged by moderation.
	Settings       LinkSettings // Settings is the presentation/behavior bundle.
	LinkStats                   // LinkStats contains access statistics about the link.
	CurrentVersion int64        // CurrentVersion points at the most recently applied version record.
	CreatedAt      time.Time    // CreatedAt is the timestamp when the link was created.
	UpdatedAt      time.Time    // UpdatedAt is the timestamp when the link was last updated.
}

// LinkStats contains statistics related to a short link.
type LinkStats struct {
	AccessCount int64 // AccessCount is the number of times the link has been resolved.
}

// Resolvable reports whether the link may currently serve redirects.
func (l *Link) Resolvable(now time.Time) error {
	if !l.Active || l.Restricted {
		return ErrLinkInactive
	}
	if l.ExpiresAt != nil && l.ExpiresAt.Before(now) {
		return ErrLinkExpired
	}
	return nil
}
