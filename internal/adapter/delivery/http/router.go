// Package http provides the HTTP delivery layer for the link management
// service. This package contains the HTTP handlers and related types used
// for processing incoming requests, validating input, and formatting
// responses.
package http

import (
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"
	"github.com/go-playground/validator/v10"
	httpSwagger "github.com/swaggo/http-swagger"
)

// NewRouter initializes and returns a new Chi router configured with
// middleware and routes for the link management API, plus the public
// redirect endpoint at the root.
func NewRouter(logger *httplog.Logger, linkUC linkUseCase, versions versionLog) *chi.Mux {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*"},
		AllowedMethods:   []string{"POST", "GET", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Accept", "X-User-Id", "X-User-Name"},
		AllowCredentials: false,
		MaxAge:           84600,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httplog.RequestLogger(logger))
	r.Use(middleware.Recoverer)

	validate := validator.New()
	lh := newLinkHandler(linkUC, validate)
	vh := newVersionHandler(versions, validate)

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/docs/swagger.yml"),
	))

	r.Get("/docs/swagger.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./docs/swagger.yml")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ping", handlePing)

		r.Route("/links", func(r chi.Router) {
			r.Post("/", lh.createLink)

			r.Route("/{shortCode}", func(r chi.Router) {
				r.Get("/", lh.getLink)
				r.Delete("/", lh.purgeLink)
				r.Get("/stats", lh.getLinkStats)
				r.Post("/verify-password", lh.verifyPassword)

				r.Put("/destination", lh.updateDestination)
				r.Put("/settings", lh.updateSettings)
				r.Put("/password", lh.changePassword)
				r.Put("/expiration", lh.updateExpiration)
				r.Put("/image", lh.updateBrandingImage)
				r.Put("/ab-testing", lh.setABTesting)
				r.Post("/enable", lh.enableLink)
				r.Post("/disable", lh.disableLink)
				r.Post("/restrict", lh.restrictLink)
				r.Post("/unrestrict", lh.unrestrictLink)

				r.Post("/versions", vh.annotate)
				r.Get("/versions", vh.listVersions)
				r.Get("/changelog", vh.getChangeLog)
				r.Post("/rollback", vh.rollback)
			})
		})
	})

	r.Get("/{shortCode}", lh.redirect)

	return r
}
