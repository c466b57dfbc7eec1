package http

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/linkloom/linkloom/internal/entity"
)

const statusError = "error"

// createLinkRequest represents the structure for a request to create a short link.
type createLinkRequest struct {
	OriginalURL string           `json:"original_url" validate:"required,url"`
	CustomAlias string           `json:"custom_alias,omitempty" validate:"omitempty,alphanum,min=3,max=20"`
	CustomName  *string          `json:"custom_name,omitempty"`
	Password    string           `json:"password,omitempty"`
	ExpiresAt   *time.Time       `json:"expires_at,omitempty"`
	Settings    *settingsPayload `json:"settings,omitempty"`
}

// settingsPayload mirrors entity.LinkSettings on the wire.
type settingsPayload struct {
	BrandingImageURL         *string `json:"branding_image_url,omitempty" validate:"omitempty,url"`
	BrandColor               *string `json:"brand_color,omitempty"`
	QRCodeEnabled            bool    `json:"qr_code_enabled"`
	SmartRoutingEnabled      bool    `json:"smart_routing_enabled"`
	AffiliateTrackingEnabled bool    `json:"affiliate_tracking_enabled"`
	ABTestingEnabled         bool    `json:"ab_testing_enabled"`
}

func (p *settingsPayload) toEntity() entity.LinkSettings {
	return entity.LinkSettings{
		BrandingImageURL:         p.BrandingImageURL,
		BrandColor:               p.BrandColor,
		QRCodeEnabled:            p.QRCodeEnabled,
		SmartRoutingEnabled:      p.SmartRoutingEnabled,
		AffiliateTrackingEnabled: p.AffiliateTrackingEnabled,
		ABTestingEnabled:         p.ABTestingEnabled,
	}
}

func toSettingsPayload(s entity.LinkSettings) settingsPayload {
	return settingsPayload{
		BrandingImageURL:         s.BrandingImageURL,
		BrandColor:               s.BrandColor,
		QRCodeEnabled:            s.QRCodeEnabled,
		SmartRoutingEnabled:      s.SmartRoutingEnabled,
		AffiliateTrackingEnabled: s.AffiliateTrackingEnabled,
		ABTestingEnabled:         s.ABTestingEnabled,
	}
}

type destinationRequest struct {
	OriginalURL string `json:"original_url" validate:"required,url"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

type verifyPasswordRequest struct {
	Password string `json:"password" validate:"required"`
}

type expirationRequest struct {
	ExpiresAt *time.Time `json:"expires_at"`
}

type imageRequest struct {
	ImageURL *string `json:"image_url" validate:"omitempty,url"`
}

type restrictRequest struct {
	Note string `json:"note,omitempty"`
}

type abTestingRequest struct {
	Enabled bool `json:"enabled"`
}

type rollbackRequest struct {
	TargetVersion int64 `json:"target_version" validate:"required,min=1"`
}

type annotateRequest struct {
	Reason  string         `json:"reason" validate:"required"`
	Details entity.Details `json:"details,omitempty"`
}

// linkResponse represents the structure for a response containing link state.
type linkResponse struct {
	ID                int64           `json:"id"`
	ShortCode         string          `json:"short_code"`
	OriginalURL       string          `json:"original_url"`
	CustomName        *string         `json:"custom_name,omitempty"`
	PasswordProtected bool            `json:"password_protected"`
	ExpiresAt         *time.Time      `json:"expires_at,omitempty"`
	Active            bool            `json:"active"`
	Restricted        bool            `json:"restricted"`
	Settings          settingsPayload `json:"settings"`
	CurrentVersion    int64           `json:"current_version"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func toLinkResponse(link *entity.Link) linkResponse {
	return linkResponse{
		ID:                link.ID,
		ShortCode:         link.ShortCode,
		OriginalURL:       link.OriginalURL,
		CustomName:        link.CustomName,
		PasswordProtected: link.PasswordHash != nil,
		ExpiresAt:         link.ExpiresAt,
		Active:            link.Active,
		Restricted:        link.Restricted,
		Settings:          toSettingsPayload(link.Settings),
		CurrentVersion:    link.CurrentVersion,
		CreatedAt:         link.CreatedAt,
		UpdatedAt:         link.UpdatedAt,
	}
}

// linkStatsResponse adds access statistics to the link state.
type linkStatsResponse struct {
	linkResponse
	Stats linkStats `json:"stats"`
}

type linkStats struct {
	AccessCount int64 `json:"access_count"`
}

func toLinkStatsResponse(link *entity.Link) linkStatsResponse {
	return linkStatsResponse{
		linkResponse: toLinkResponse(link),
		Stats: linkStats{
			AccessCount: link.AccessCount,
		},
	}
}

// versionResponse represents one version record in history listings. The
// snapshot stays server-side; only payload-free metadata is exposed.
type versionResponse struct {
	Version   int64          `json:"version"`
	Reason    string         `json:"reason"`
	Actor     string         `json:"actor"`
	Details   entity.Details `json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func toVersionResponse(record *entity.VersionRecord) versionResponse {
	return versionResponse{
		Version:   record.Version,
		Reason:    string(record.Reason),
		Actor:     record.Actor().DisplayName(),
		Details:   record.Details,
		CreatedAt: record.CreatedAt,
	}
}

// changeLogEntryResponse represents one row of the human-readable history.
type changeLogEntryResponse struct {
	Version        int64     `json:"version"`
	Reason         string    `json:"reason"`
	Label          string    `json:"label"`
	Actor          string    `json:"actor"`
	CreatedAt      time.Time `json:"created_at"`
	HasDestination bool      `json:"has_destination"`
	HasSettings    bool      `json:"has_settings"`
}

func toChangeLogEntryResponse(entry entity.ChangeLogEntry) changeLogEntryResponse {
	return changeLogEntryResponse{
		Version:        entry.Version,
		Reason:         string(entry.Reason),
		Label:          entry.Label,
		Actor:          entry.Actor,
		CreatedAt:      entry.CreatedAt,
		HasDestination: entry.HasDestination,
		HasSettings:    entry.HasSettings,
	}
}

// validationError represents an individual validation error.
type validationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// errorResponse represents a structured error response.
type errorResponse struct {
	Status  string            `json:"status"`
	Message string            `json:"message"`
	Errors  []validationError `json:"errors,omitempty"`
}

// Predefined error responses for common scenarios.
var (
	emptyRequestBodyResponse = errorResponse{
		Status:  statusError,
		Message: "empty request body",
	}

	invalidRequestBodyResponse = errorResponse{
		Status:  statusError,
		Message: "invalid request body",
	}

	linkNotFoundResponse = errorResponse{
		Status:  statusError,
		Message: "link not found",
	}

	versionNotFoundResponse = errorResponse{
		Status:  statusError,
		Message: "version not found",
	}

	shortCodeExistsResponse = errorResponse{
		Status:  statusError,
		Message: "short code already exists",
	}

	versionConflictResponse = errorResponse{
		Status:  statusError,
		Message: "version conflict, retry the operation",
	}

	passwordRequiredResponse = errorResponse{
		Status:  statusError,
		Message: "password required or incorrect",
	}

	linkExpiredResponse = errorResponse{
		Status:  statusError,
		Message: "link expired",
	}

	serverErrorResponse = errorResponse{
		Status:  statusError,
		Message: "server error occurred",
	}
)

// messageForTag returns a user-friendly message based on the validation tag.
func messageForTag(tag string) string {
	switch tag {
	case "required":
		return "this field is required"
	case "url":
		return "invalid url"
	case "alphanum":
		return "must contain only letters and digits"
	case "min":
		return "value too small or too short"
	case "max":
		return "value too large or too long"
	default:
		return "invalid value"
	}
}

// getValidationErrors processes validation errors and returns a list of validationError.
func getValidationErrors(err error) []validationError {
	var validationErrs []validationError

	errs, ok := err.(validator.ValidationErrors)
	if ok {
		for _, e := range errs {
			validationErrs = append(validationErrs, validationError{
				Field:   e.Field(),
				Message: messageForTag(e.Tag()),
			})
		}
	}

	return validationErrs
}

// validationErrorResponse constructs an errorResponse for validation errors.
func validationErrorResponse(err error) errorResponse {
	return errorResponse{
		Status:  statusError,
		Message: "validation error",
		Errors:  getValidationErrors(err),
	}
}
