/**
 * @description
 * This file sets up the HTTP router for the generation-service. It defines the
 * API endpoints, associates them with their corresponding handlers, and applies
 * middleware for logging, recovery, CORS, and authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware for the browser frontend.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Routes creates and returns the router for the generation service.
func Routes(h *GenerationHandlers, authH *AuthHandlers, jwtSecret string, corsOrigins []string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	// Provider dispatch can be slow; the timeout sits above the provider
	// client timeout so the client sees the provider error, not a cutoff.
	r.Use(middleware.Timeout(150 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Public auth endpoints.
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", authH.RegisterHandler)
		r.Post("/login", authH.LoginHandler)
		r.Post("/forgot-password", authH.ForgotPasswordHandler)
		r.Post("/reset-password", authH.ResetPasswordHandler)
	})

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwtSecret))

		r.Post("/generate", h.CreateGenerationHandler)
		r.Get("/jobs/{jobID}", h.GetJobHandler)

		r.Get("/coins/balance", h.GetBalanceHandler)
		r.Post("/coins/topup/claim", h.ClaimTopUpHandler)
	})

	return r
}
