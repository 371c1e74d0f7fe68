/**
 * @description
 * This file sets up the HTTP router for the donation-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies the
 * authentication middleware per route group.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// DonationRoutes creates and returns the router for the donation service.
func DonationRoutes(h *DonationHandlers, jwksURL, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Service-to-service endpoints, guarded by the internal API key.
	r.Group(func(r chi.Router) {
		r.Use(InternalAPIKeyMiddleware(internalAPIKey))

		r.Post("/internal/donations/process", h.ProcessDonationHandler)
		r.Post("/internal/donations/{donationID}/reprocess", h.ReprocessDonationHandler)
		r.Get("/internal/referrals/{referralCode}", h.ResolveReferralHandler)
	})

	// Admin dashboard endpoints, guarded by JWT.
	r.Group(func(r chi.Router) {
		r.Use(AdminAuthMiddleware(jwksURL))

		r.Get("/admin/commissions/preview", h.PreviewDistributionHandler)
		r.Get("/admin/users/{userID}/commissions/summary", h.CommissionSummaryHandler)
		r.Post("/admin/commissions/{entryID}/mark-paid", h.MarkCommissionPaidHandler)
		r.Get("/admin/users/{userID}/targets/active", h.ActiveTargetHandler)
		r.Put("/admin/users/{userID}/parent", h.ReassignParentHandler)
		r.Post("/admin/users/{userID}/deactivate", h.DeactivateUserHandler)
	})

	return r
}
