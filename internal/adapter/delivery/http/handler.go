package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httplog/v2"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/linkloom/linkloom/internal/entity"
	"github.com/linkloom/linkloom/internal/usecase"
)

func handlePing(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "pong")
}

type linkUseCase interface {
	Create(ctx context.Context, actor entity.Actor, params usecase.CreateLinkParams) (*entity.Link, error)
	Get(ctx context.Context, shortCode string) (*entity.Link, error)
	Resolve(ctx context.Context, shortCode, password string) (*entity.Link, error)
	VerifyPassword(ctx context.Context, shortCode, password string) error
	UpdateDestination(ctx context.Context, shortCode string, actor entity.Actor, originalURL string) (*entity.Link, error)
	UpdateSettings(ctx context.Context, shortCode string, actor entity.Actor, settings entity.LinkSettings) (*entity.Link, error)
	ChangePassword(ctx context.Context, shortCode string, actor entity.Actor, password string) (*entity.Link, error)
	UpdateExpiration(ctx context.Context, shortCode string, actor entity.Actor, expiresAt *time.Time) (*entity.Link, error)
	UpdateBrandingImage(ctx context.Context, shortCode string, actor entity.Actor, imageURL *string) (*entity.Link, error)
	Disable(ctx context.Context, shortCode string, actor entity.Actor) (*entity.Link, error)
	Enable(ctx context.Context, shortCode string, actor entity.Actor) (*entity.Link, error)
	Restrict(ctx context.Context, shortCode string, actor entity.Actor, note string) (*entity.Link, error)
	Unrestrict(ctx context.Context, shortCode string, actor entity.Actor) (*entity.Link, error)
	SetABTesting(ctx context.Context, shortCode string, actor entity.Actor, enabled bool) (*entity.Link, error)
	Purge(ctx context.Context, shortCode string) error
}

type versionLog interface {
	Annotate(ctx context.Context, shortCode string, actor entity.Actor, reason entity.ChangeReason, details entity.Details) (*entity.VersionRecord, error)
	ListVersions(ctx context.Context, shortCode string, limit, offset int) ([]entity.VersionRecord, error)
	GetChangeLog(ctx context.Context, shortCode string) ([]entity.ChangeLogEntry, error)
	Rollback(ctx context.Context, shortCode string, targetVersion int64, actor entity.Actor) (*entity.Link, error)
}

// actorFromRequest builds the acting identity from the headers set by the
// authentication middleware in front of this service. Missing headers
// mean the system itself acted.
func actorFromRequest(r *http.Request) entity.Actor {
	var actor entity.Actor

	if raw := r.Header.Get("X-User-Id"); raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			actor.ID = &id
		}
	}
	if name := r.Header.Get("X-User-Name"); name != "" {
		actor.Name = &name
	}

	return actor
}

// decodeRequest decodes and validates a JSON body, writing the error
// response itself on failure.
func decodeRequest(w http.ResponseWriter, r *http.Request, validate *validator.Validate, req any) bool {
	if err := render.DecodeJSON(r.Body, req); err != nil {
		if errors.Is(err, io.EOF) {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, emptyRequestBodyResponse)
			return false
		}

		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, invalidRequestBodyResponse)
		return false
	}

	if err := validate.Struct(req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, validationErrorResponse(err))
		return false
	}

	return true
}

// renderLinkError maps the shared link error taxonomy; unknown errors are
// attached to the request log entry and come back as a 500.
func renderLinkError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, entity.ErrLinkNotFound):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, linkNotFoundResponse)
	case errors.Is(err, entity.ErrVersionNotFound):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, versionNotFoundResponse)
	case errors.Is(err, entity.ErrShortCodeExists):
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, shortCodeExistsResponse)
	case errors.Is(err, entity.ErrVersionConflict):
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, versionConflictResponse)
	default:
		httplog.LogEntrySetField(r.Context(), "err", slog.AnyValue(err))

		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, serverErrorResponse)
	}
}

type linkHandler struct {
	useCase  linkUseCase
	validate *validator.Validate
}

func newLinkHandler(useCase linkUseCase, validate *validator.Validate) *linkHandler {
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &linkHandler{
		useCase:  useCase,
		validate: validate,
	}
}

func (h *linkHandler) createLink(w http.ResponseWriter, r *http.Request) {
	var req createLinkRequest

	if !decodeRequest(w, r, h.validate, &req) {
		return
	}

	actor := actorFromRequest(r)

	params := usecase.CreateLinkParams{
		OriginalURL: req.OriginalURL,
		CustomAlias: req.CustomAlias,
		CustomName:  req.CustomName,
		Password:    req.Password,
		ExpiresAt:   req.ExpiresAt,
	}
	if actor.ID != nil {
		params.UserID = *actor.ID
	}
	if req.Settings != nil {
		params.Settings = req.Settings.toEntity()
	}

	link, err := h.useCase.Create(r.Context(), actor, params)
	if err != nil {
		renderLinkError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toLinkResponse(link))
}

func (h *linkHandler) getLink(w http.ResponseWriter, r *http.Request) {
	shortCode := chi.URLParam(r, "shortCode")

	link, err := h.useCase.Get(r.Context(), shortCode)
	if err != nil {
		renderLinkError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, toLinkResponse(link))
}

func (h *linkHandler) getLinkStats(w http.ResponseWriter, r *http.Request) {
	shortCode := chi.URLParam(r, "shortCode")

	link, err := h.useCase.Get(r.Context(), shortCode)
	if err != nil {
		renderLinkError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, toLinkStatsResponse(link))
}

func (h *linkHandler) redirect(w http.ResponseWriter, r *http.Request) {
	shortCode := chi.URLParam(r, "shortCode")

	link, err := h.useCase.Resolve(r.Context(), shortCode, r.URL.Query().Get("password"))
	if err != nil {
		switch {
		case errors.Is(err, entity.ErrLinkInactive):
			// Disabled and restricted links read as absent.
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, linkNotFoundResponse)
		case errors.Is(err, entity.ErrLinkExpired):
			render.Status(r, http.StatusGone)
			render.JSON(w, r, linkExpiredResponse)
		case errors.Is(err, entity.ErrPasswordMismatch):
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, passwordRequiredResponse)
		default:
			renderLinkError(w, r, err)
		}
		return
	}

	http.Redirect(w, r, link.OriginalURL, http.StatusFound)
}

func (h *linkHandler) verifyPassword(w http.ResponseWriter, r *http.Request) {
	var req verifyPasswordRequest

	if !decodeRequest(w, r, h.validate, &req) {
		return
	}

	shortCode := chi.URLParam(r, "shortCode")

	if err := h.useCase.VerifyPassword(r.Context(), shortCode, req.Password); err != nil {
		if errors.Is(err, entity.ErrPasswordMismatch) {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, passwordRequiredResponse)
			return
		}

		renderLinkError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *linkHandler) updateDestination(w http.ResponseWriter, r *http.Request) {
	var req destinationRequest

	if !decodeRequest(w, r, h.validate, &req) {
		return
	}

	shortCode := chi.URLParam(r, "shortCode")

	link, err := h.useCase.UpdateDestination(r.Context(), shortCode, actorFromRequest(r), req.OriginalURL)
	if err != nil {
		renderLinkError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, toLinkResponse(link))
}

func (h *linkHandler) updateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsPayload

	if !decodeRequest(w, r, h.validate, &req) {
		return
	}

	shortCode := chi.URLParam(r, "shortCode")

	link, err := h.useCase.UpdateSettings(r.Context(), shortCode, actorFromRequest(r), req.toEntity())
	if err != nil {
		renderLinkError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, toLinkResponse(link))
}

func (h *linkHandler) changePassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest

	if !decodeRequest(w, r, h.validate, &req) {
		return
	}

	shortCode := chi.URLParam(r, "shortCode")

	link, err := h.useCase.ChangePassword(r.Context(), shortCode, actorFromRequest(r), req.Password)
	if err != nil {
		renderLinkError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, toLinkResponse(link))
}

func (h *linkHandler) updateExpiration(w http.ResponseWriter, r *http.Request) {
	var req expirationRequest

	if !decodeRequest(w, r, h.validate, &req) {
		return
	}

	shortCode := chi.URLParam(r, "shortCode")

	link, err := h.useCase.UpdateExpiration(r.Context(), shortCode, actorFromRequest(r), req.ExpiresAt)
	if err != nil {
		renderLinkError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, toLinkResponse(link))
}

func (h *linkHandler) updateBrandingImage(w http.ResponseWriter, r *http.Request) {
	var req imageRequest

	if !decodeRequest(w, r, h.validate, &req) {
		return
	}

	shortCode := chi.URLParam(r, "shortCode")

	link, err := h.useCase.UpdateBrandingImage(r.Context(), shortCode, actorFromRequest(r), req.ImageURL)
	if err != nil {
		renderLinkError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, toLinkResponse(link))
}

func (h *linkHandler) enableLink(w http.ResponseWriter, r *http.Request) {
	shortCode := chi.URLParam(r, "shortCode")

	link, err := h.useCase.Enable(r.Context(), shortCode, actorFromRequest(r))
	if err != nil {
		renderLinkError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, toLinkResponse(link))
}

func (h *linkHandler) disableLink(w http.ResponseWriter, r *http.Request) {
	shortCode := chi.URLParam(r, "shortCode")

	link, err := h.useCase.Disable(r.Context(), shortCode, actorFromRequest(r))
	if err != nil {
		renderLinkError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, toLinkResponse(link))
}

func (h *linkHandler) restrictLink(w http.ResponseWriter, r *http.Request) {
	var req restrictRequest

	// The note is optional, so an empty body is allowed here.
	if err := render.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, invalidRequestBodyResponse)
		return
	}

	shortCode := chi.URLParam(r, "shortCode")

	link, err := h.useCase.Restrict(r.Context(), shortCode, actorFromRequest(r), req.Note)
	if err != nil {
		renderLinkError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, toLinkResponse(link))
}

func (h *linkHandler) unrestrictLink(w http.ResponseWriter, r *http.Request) {
	shortCode := chi.URLParam(r, "shortCode")

	link, err := h.useCase.Unrestrict(r.Context(), shortCode, actorFromRequest(r))
	if err != nil {
		renderLinkError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, toLinkResponse(link))
}

func (h *linkHandler) setABTesting(w http.ResponseWriter, r *http.Request) {
	var req abTestingRequest

	if !decodeRequest(w, r, h.validate, &req) {
		return
	}

	shortCode := chi.URLParam(r, "shortCode")

	link, err := h.useCase.SetABTesting(r.Context(), shortCode, actorFromRequest(r), req.Enabled)
	if err != nil {
		renderLinkError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, toLinkResponse(link))
}

func (h *linkHandler) purgeLink(w http.ResponseWriter, r *http.Request) {
	shortCode := chi.URLParam(r, "shortCode")

	if err := h.useCase.Purge(r.Context(), shortCode); err != nil {
		renderLinkError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type versionHandler struct {
	log      versionLog
	validate *validator.Validate
}

func newVersionHandler(log versionLog, validate *validator.Validate) *versionHandler {
	return &versionHandler{
		log:      log,
		validate: validate,
	}
}

func (h *versionHandler) annotate(w http.ResponseWriter, r *http.Request) {
	var req annotateRequest

	if !decodeRequest(w, r, h.validate, &req) {
		return
	}

	shortCode := chi.URLParam(r, "shortCode")

	record, err := h.log.Annotate(r.Context(), shortCode, actorFromRequest(r), entity.ChangeReason(req.Reason), req.Details)
	if err != nil {
		if errors.Is(err, entity.ErrInvalidChangeReason) {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, errorResponse{
				Status:  statusError,
				Message: "unknown change reason",
			})
			return
		}
		if errors.Is(err, entity.ErrReservedChangeReason) {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, errorResponse{
				Status:  statusError,
				Message: "reserved change reason",
			})
			return
		}

		renderLinkError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toVersionResponse(record))
}

func (h *versionHandler) listVersions(w http.ResponseWriter, r *http.Request) {
	shortCode := chi.URLParam(r, "shortCode")

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	records, err := h.log.ListVersions(r.Context(), shortCode, limit, offset)
	if err != nil {
		renderLinkError(w, r, err)
		return
	}

	resp := make([]versionResponse, 0, len(records))
	for i := range records {
		resp = append(resp, toVersionResponse(&records[i]))
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, resp)
}

func (h *versionHandler) getChangeLog(w http.ResponseWriter, r *http.Request) {
	shortCode := chi.URLParam(r, "shortCode")

	entries, err := h.log.GetChangeLog(r.Context(), shortCode)
	if err != nil {
		renderLinkError(w, r, err)
		return
	}

	resp := make([]changeLogEntryResponse, 0, len(entries))
	for _, entry := range entries {
		resp = append(resp, toChangeLogEntryResponse(entry))
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, resp)
}

func (h *versionHandler) rollback(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest

	if !decodeRequest(w, r, h.validate, &req) {
		return
	}

	shortCode := chi.URLParam(r, "shortCode")

	link, err := h.log.Rollback(r.Context(), shortCode, req.TargetVersion, actorFromRequest(r))
	if err != nil {
		if errors.Is(err, entity.ErrInvalidTargetVersion) {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, errorResponse{
				Status:  statusError,
				Message: "invalid target version",
			})
			return
		}

		renderLinkError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, toLinkResponse(link))
}
