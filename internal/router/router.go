package router

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"autoshop-api/internal/config"
	"autoshop-api/internal/handler"
	"autoshop-api/internal/middleware"
)

type Handlers struct {
	Auth   *handler.AuthHandler
	User   *handler.UserHandler
	Audit  *handler.AuditHandler
	Health *handler.HealthHandler
}

func New(cfg *config.Config, authMiddleware *middleware.AuthMiddleware, limiter middleware.Limiter, h Handlers) http.Handler {
	r := chi.NewRouter()
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(cfg.RateLimitRPM, cfg.AuthRateLimitRPM, limiter)

	proxies, err := middleware.NewProxyTrust(cfg.TrustedProxies)
	if err != nil {
		slog.Error("ignoring trusted proxies", "error", err)
	}

	r.Use(proxies.Handler)
	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.SecurityHeaders)

	r.Get("/health", h.Health.Check)

	r.Route("/api", func(api chi.Router) {
		api.Use(rateLimitMiddleware.Handler)
		api.Use(middleware.Timeout(cfg.RequestTimeout))

		api.Route("/auth", func(auth chi.Router) {
			auth.Post("/register", h.Auth.Register)
			auth.Post("/login", h.Auth.Login)
			auth.Post("/refresh", h.Auth.Refresh)
			auth.Post("/logout", h.Auth.Logout)
			auth.Post("/forgot-password", h.Auth.ForgotPassword)
			auth.Post("/reset-password", h.Auth.ResetPassword)

			auth.Group(func(protected chi.Router) {
				protected.Use(authMiddleware.RequireAuth)
				protected.Post("/logout-all", h.Auth.LogoutAll)
				protected.Get("/profile", h.Auth.Profile)
				protected.Put("/profile", h.Auth.UpdateProfile)
				protected.Put("/change-password", h.Auth.ChangePassword)
				protected.With(middleware.AdminOnly).Get("/audit", h.Audit.List)
			})
		})

		api.Group(func(protected chi.Router) {
			protected.Use(authMiddleware.RequireAuth)

			protected.With(middleware.AdminOrManager).Get("/users", h.User.List)
			protected.With(middleware.Staff).Get("/users/{id}", h.User.Get)
			protected.With(middleware.AdminOnly).Put("/users/{id}/roles", h.User.UpdateRoles)
			protected.With(middleware.AdminOnly).Put("/users/{id}/status", h.User.UpdateStatus)
			protected.With(middleware.AdminOnly).Delete("/users/{id}", h.User.Delete)
			protected.With(middleware.MechanicOrHigher).Get("/roles", h.User.Roles)
		})
	})

	return r
}
