package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/redmonkez12/loyalty-card/internal/config"
	"github.com/redmonkez12/loyalty-card/internal/httputil"
	"github.com/redmonkez12/loyalty-card/internal/identity"
	"github.com/redmonkez12/loyalty-card/internal/logging"
	"github.com/redmonkez12/loyalty-card/internal/membership"
	"github.com/redmonkez12/loyalty-card/internal/redemption"
	"github.com/redmonkez12/loyalty-card/internal/session"
)

// Handlers groups everything the device API routes to
type Handlers struct {
	Membership *membership.Handler
	Session    *session.Handler
	Scanner    *redemption.Handler
	Events     http.HandlerFunc
}

// NewRouter creates and configures the device API router
func NewRouter(cfg *config.Config, h Handlers, authMiddleware *identity.Middleware, logger *logging.Logger) *chi.Mux {
	r := chi.NewRouter()

	// CORS - must be first
	if len(cfg.Server.TrustedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.Server.TrustedOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Use(SecurityHeaders)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(logger))

	r.Get("/health", handleHealth)

	if cfg.Server.IsDevelopment() {
		logger.Info("swagger UI enabled", "path", "/swagger/*")
		r.Get("/swagger/*", httpSwagger.WrapHandler)
	}

	// The event socket authenticates on its own and must not be compressed
	if h.Events != nil {
		r.Get("/ws", h.Events)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Compress(5))
		r.Use(NoStore)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", h.Membership.Register)
			r.Post("/login", h.Membership.Login)
			r.Post("/logout", h.Membership.Logout)
			r.Get("/verify-email", h.Membership.VerifyEmail)

			r.Group(func(r chi.Router) {
				r.Use(authMiddleware.RequireAuth)
				r.Post("/resend-verification", h.Membership.ResendVerification)
				r.Post("/check-verification", h.Membership.CheckVerification)
			})
		})

		// Reports unauthenticated/loading too, so it stays public
		r.Get("/session", h.Session.Get)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.RequireAuth)

			r.Delete("/account", h.Membership.DeleteAccount)
			r.Get("/card/qr", h.Session.CardQR)

			r.Route("/scanner", func(r chi.Router) {
				r.Post("/scan", h.Scanner.Scan)
				r.Get("/outcome", h.Scanner.Outcome)
				r.Post("/ack", h.Scanner.Acknowledge)
			})
		})
	})

	return r
}

// handleHealth is a simple health check endpoint
// @Summary      Health check
// @Description  Check if the device API is running
// @Tags         health
// @Produce      json
// @Success      200 {object} map[string]string
// @Router       /health [get]
func handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}
