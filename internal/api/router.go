package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/myle1996kh/base-chatbot/internal/identity"
	"github.com/myle1996kh/base-chatbot/internal/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig carries what NewRouter needs besides the handler.
type RouterConfig struct {
	Auth           *identity.Authenticator
	AllowedOrigins []string
	RequestTimeout time.Duration
	PublicLimiter  *middleware.RateLimiter
	// Gatherer backs /metrics. Nil omits the route.
	Gatherer prometheus.Gatherer
}

// NewRouter wires every route onto a chi router.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.Get("/health", h.Health)
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	r.Route("/api/public/tenants/{tenantID}", func(r chi.Router) {
		r.Use(chiMiddleware.Timeout(timeout))
		if cfg.PublicLimiter != nil {
			r.Use(cfg.PublicLimiter.Handler)
		}
		r.Post("/sessions/{sessionID}/escalate", h.PublicEscalate)
	})

	r.Route("/api/tenants/{tenantID}", func(r chi.Router) {
		r.Use(chiMiddleware.Timeout(timeout))
		r.Use(identity.Middleware(cfg.Auth))
		r.Use(identity.RequireTenant)

		r.Group(func(r chi.Router) {
			r.Use(identity.RequireRole(identity.RoleAdmin))
			r.Post("/escalations", h.Escalate)
			r.Post("/escalations/assign", h.Assign)
			r.Post("/escalations/reassign", h.Reassign)
			r.Get("/escalations/queue", h.Queue)
			r.Post("/escalations/detect", h.Detect)
			r.Get("/staff", h.ListStaff)
			r.Get("/staff/available", h.ListAvailableStaff)
			r.Put("/staff/{staffID}/capacity", h.SetCapacity)
			r.Post("/staff/reconcile", h.Reconcile)
			r.Put("/keywords", h.SetKeywords)
		})

		r.Group(func(r chi.Router) {
			r.Use(identity.RequireRole(identity.RoleAdmin, identity.RoleSupporter))
			r.Post("/escalations/resolve", h.Resolve)
			r.Post("/sessions/{sessionID}/inspect", h.Inspect)
			r.Put("/staff/{staffID}/availability", h.SetAvailability)
			r.Get("/staff/{staffID}/sessions", h.StaffSessions)
		})
	})

	r.Route("/ws/tenants/{tenantID}", func(r chi.Router) {
		r.Use(identity.Middleware(cfg.Auth))
		r.Use(identity.RequireTenant)
		r.Use(identity.RequireRole(identity.RoleAdmin, identity.RoleSupporter))
		r.Get("/escalations", h.Stream)
	})

	return r
}
