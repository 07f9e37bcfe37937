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

	rateLimit := s.cfg.API.Server.RateLimit

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		if rateLimit.Enabled {
			r.Use(s.rateLimitMiddleware(rateLimit.Public))
		}

		r.Route("/automations", func(r chi.Router) {
			r.Get("/", s.handleListAutomations)
			r.Post("/", s.handleCreateAutomation)
			r.Get("/{id}", s.handleGetAutomation)
			r.Put("/{id}", s.handleUpdateAutomation)
			r.Delete("/{id}", s.handleDeleteAutomation)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", s.handleListScenarios)
			r.Post("/", s.handleCreateScenario)
			r.Get("/{id}", s.handleGetScenario)
			r.Put("/{id}", s.handleUpdateScenario)
			r.Delete("/{id}", s.handleDeleteScenario)
		})

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Get("/kpis/dashboard", s.handleDashboard)
			r.Get("/{id}", s.handleGetRun)
			r.Get("/{id}/archive", s.handleGetRunArchive)
			r.Delete("/{id}", s.handleDeleteRun)

			// Triggers have their own rate limit tier.
			trigger := r.With()
			if rateLimit.Enabled {
				trigger = r.With(s.rateLimitMiddleware(rateLimit.Trigger))
			}

			trigger.Post("/trigger", s.handleTriggerRun)
		})
	})

	return r
}

// corsMiddleware returns a CORS handler configured from the API config.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods: []string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}

	origins := s.cfg.API.Server.CORSOrigins

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		opts.AllowedOrigins = []string{"*"}
	} else {
		opts.AllowedOrigins = origins
		opts.AllowCredentials = true
	}

	return cors.Handler(opts)
}
