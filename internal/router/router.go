// Package router wires every feature handler into one chi tree under
// /api/v1. Authorization is layered: Authenticate puts the principal
// in context, RequireRole fences role-specific groups, and ownership
// checks stay in the services.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/tradebridge/backend/internal/applications"
	"github.com/tradebridge/backend/internal/auth"
	"github.com/tradebridge/backend/internal/billing"
	"github.com/tradebridge/backend/internal/dashboard"
	"github.com/tradebridge/backend/internal/jobs"
	"github.com/tradebridge/backend/internal/middleware"
	"github.com/tradebridge/backend/internal/models"
	"github.com/tradebridge/backend/internal/profiles"
	"github.com/tradebridge/backend/internal/reviews"
	"github.com/tradebridge/backend/internal/subscriptions"
)

type Handlers struct {
	Auth          *auth.Handler
	Jobs          *jobs.Handler
	Applications  *applications.Handler
	Billing       *billing.Handler
	Subscriptions *subscriptions.Handler
	Reviews       *reviews.Handler
	Profiles      *profiles.Handler
	Dashboard     *dashboard.Handler
}

func New(h Handlers, validator middleware.TokenValidator) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		// Public surface.
		r.Post("/auth/register", h.Auth.Register)
		r.Post("/auth/login", h.Auth.Login)
		r.Get("/billing/packages", h.Billing.ListPackages)
		r.Get("/plans", h.Subscriptions.ListPlans)
		r.Get("/profiles", h.Profiles.List)
		r.Get("/profiles/{slug}", h.Profiles.GetBySlug)
		r.Get("/tradespeople/{tradespersonID}/reviews", h.Reviews.ListForTradesperson)

		// Everything else needs a valid token.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(validator))

			r.Get("/account/me", h.Dashboard.GetMe)
			r.Get("/account/credits", h.Dashboard.GetCredits)
			r.Get("/account/transactions", h.Dashboard.GetTransactions)

			r.Get("/jobs/{jobID}", h.Jobs.Get)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(models.RoleCustomer, models.RoleAdmin))
				r.Post("/jobs", h.Jobs.Create)
				r.Get("/jobs/mine", h.Jobs.ListMine)
				r.Post("/jobs/{jobID}/cancel", h.Jobs.Cancel)
				r.Post("/jobs/{jobID}/complete", h.Jobs.Complete)
				r.Delete("/jobs/{jobID}", h.Jobs.Delete)
				r.Get("/jobs/{jobID}/applications", h.Applications.ListForJob)
				r.Post("/applications/{applicationID}/shortlist", h.Applications.Shortlist)
				r.Post("/applications/{applicationID}/reject", h.Applications.Reject)
				r.Post("/applications/{applicationID}/accept", h.Applications.Accept)
				r.Post("/reviews", h.Reviews.Create)
			})

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(models.RoleTradesperson))
				r.Get("/jobs/open", h.Jobs.ListOpen)
				r.Post("/applications", h.Applications.Apply)
				r.Get("/applications/mine", h.Applications.ListMine)
				r.Post("/applications/{applicationID}/withdraw", h.Applications.Withdraw)
				r.Put("/profiles/me", h.Profiles.Upsert)
				r.Post("/billing/intents", h.Billing.CreateIntent)
				r.Post("/billing/confirm", h.Billing.Confirm)
				r.Post("/subscriptions", h.Subscriptions.Enroll)
				r.Delete("/subscriptions", h.Subscriptions.Cancel)
				r.Get("/subscriptions/mine", h.Subscriptions.Mine)
			})

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(models.RoleAdmin))
				r.Post("/jobs/{jobID}/approve", h.Jobs.Approve)
			})
		})
	})

	return r
}
