package router

import (
	"net/http"

	"stockhold-api/internal/handler"
	"stockhold-api/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// Config holds the configuration for creating a router.
type Config struct {
	Handler         *handler.Handler
	StockHandler    *handler.StockHandler
	AdminHandler    *handler.AdminHandler
	AdminMiddleware func(http.Handler) http.Handler
}

// New creates and configures the HTTP router.
func New(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware stack (applies to ALL routes)
	r.Use(middleware.Recovery)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", "X-API-Key"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		// Health check endpoints
		if cfg.Handler != nil {
			r.Get("/health", cfg.Handler.Health)
			r.Get("/ready", cfg.Handler.Ready)
		}

		// Stock and reservation endpoints (consumed by checkout and order
		// collaborators)
		if cfg.StockHandler != nil {
			r.Route("/stock", func(r chi.Router) {
				r.Post("/check", cfg.StockHandler.CheckStock)
				r.Post("/reserve", cfg.StockHandler.Reserve)
				r.Post("/release", cfg.StockHandler.Release)
				r.Post("/commit", cfg.StockHandler.Commit)

				r.Route("/{productID}", func(r chi.Router) {
					r.Get("/", cfg.StockHandler.Sellable)
					r.Get("/movements", cfg.StockHandler.Movements)
				})
			})
		}

		// Admin endpoints (API key required)
		r.Group(func(r chi.Router) {
			if cfg.AdminMiddleware != nil {
				r.Use(cfg.AdminMiddleware)
			}

			if cfg.StockHandler != nil {
				r.Post("/stock/{productID}/adjust", cfg.StockHandler.AdjustStock)
			}
			if cfg.AdminHandler != nil {
				r.Route("/admin", func(r chi.Router) {
					r.Get("/stats", cfg.AdminHandler.GetStats)
					r.Post("/sweep", cfg.AdminHandler.Sweep)
					r.Post("/products", cfg.AdminHandler.CreateProduct)
				})
			}
		})
	})

	return r
}
