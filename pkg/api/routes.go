package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.corsMiddleware())

	r.Group(func(r chi.Router) {
		if s.cfg.API.Server.RateLimit.Enabled {
			r.Use(s.rateLimitMiddleware(s.cfg.API.Server.RateLimit.Login))
		}

		r.Post("/login", s.handleLogin)
	})

	r.With(s.requireAuth).Get("/dashboard", s.handleDashboard)

	r.Route("/api", func(r chi.Router) {
		// Public endpoints.
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			if !s.cfg.API.Auth.AnonymousRead {
				r.Use(s.requireAuth)
			}

			r.Get("/reports", s.handleReports)
			r.Get("/reports/status", s.handleReportsStatus)
			r.Delete("/reports/cache", s.handleClearCache)
			r.Get("/reports/{runId}/results", s.handleRunResults)
			r.Get("/reports/{runId}/files/*", s.handleRunFile)
			r.Get("/tests/{historyId}/history", s.handleTestHistory)
			r.Get("/compare", s.handleCompare)
			r.Get("/download-report/{runId}", s.handleDownload)
			r.Get("/download-report/", s.handleDownload)
		})
	})

	return r
}

// corsMiddleware returns a CORS handler configured from the API config.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods:   []string{"GET", "HEAD", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	origins := s.cfg.API.Server.CORSOrigins

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		// Reflect the requesting origin so credentials work from any origin.
		opts.AllowOriginFunc = func(_ *http.Request, _ string) bool {
			return true
		}
	} else {
		opts.AllowedOrigins = origins
	}

	return cors.Handler(opts)
}
