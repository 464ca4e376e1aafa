package handlers

import (
	"net/http"

	"skipline-backend/internal/metrics"
	"skipline-backend/internal/middleware"
	"skipline-backend/internal/models"
	"skipline-backend/internal/observer"
	"skipline-backend/internal/services"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// Dependencies are the services the HTTP layer is built on
type Dependencies struct {
	Users       *services.UserService
	Avatars     *services.AvatarService
	Companies   *services.CompanyService
	Queues      *services.QueueService
	Hub         *services.WSHub
	Observer    observer.Observer
	Health      *metrics.HealthChecker
	CORSOrigins []string
}

// NewRouter wires every route of the API
func NewRouter(d Dependencies) http.Handler {
	userHandler := NewUserHandler(d.Users, d.Avatars)
	companyHandler := NewCompanyHandler(d.Companies)
	joinHandler := NewJoinHandler(d.Companies, d.Queues)
	queueHandler := NewQueueHandler(d.Queues)
	wsHandler := NewWebSocketHandler(d.Hub, d.Users, d.Queues, d.Observer)

	r := chi.NewRouter()

	// Middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.Metrics)
	r.Use(middleware.CORS(d.CORSOrigins))

	r.Get("/health", d.Health.Handler())
	r.Handle("/metrics", metrics.Handler())

	// Routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Post("/auth/register", userHandler.Register)
		r.Post("/auth/login", userHandler.Login)
		r.Post("/classify", joinHandler.Classify)
		r.Get("/join/{company_code}", joinHandler.GetCompany)
		r.Post("/join/{company_code}/queues/{queue_id}/guest", joinHandler.JoinGuest)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(d.Users))

			r.Get("/me", userHandler.Me)
			r.Patch("/me/preferences", userHandler.UpdatePreferences)
			r.Put("/me/push-token", userHandler.UpdatePushToken)
			r.Get("/me/notifications", userHandler.Notifications)
			r.Post("/me/avatar", userHandler.UploadAvatar)

			r.Get("/entries", queueHandler.MyEntries)
			r.Get("/entries/{entry_id}", queueHandler.GetEntry)
			r.Post("/entries/{entry_id}/cancel", queueHandler.CancelEntry)

			r.With(middleware.RequireRole(models.RoleCustomer)).
				Post("/join/{company_code}/queues/{queue_id}", joinHandler.Join)

			// Business routes
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(models.RoleBusiness))

				r.Post("/company", companyHandler.CreateCompany)
				r.Get("/company", companyHandler.GetCompany)
				r.Post("/company/queues", companyHandler.CreateQueue)
				r.Get("/company/queues", companyHandler.ListQueues)

				r.Post("/queues/{queue_id}/scan", queueHandler.Scan)
				r.Post("/queues/{queue_id}/call-next", queueHandler.CallNext)
				r.Get("/queues/{queue_id}/entries", queueHandler.ListEntries)
				r.Post("/entries/{entry_id}/served", queueHandler.MarkServed)
				r.Post("/entries/{entry_id}/no-show", queueHandler.MarkNoShow)
			})
		})
	})

	// WebSocket route
	r.Get("/ws/queues/{queue_id}", wsHandler.HandleQueueStream)

	return r
}
