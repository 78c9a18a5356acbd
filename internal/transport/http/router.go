package http

import (
	"net/http"
	"time"

	"github.com/bincheck-api/internal/application/lookup"
	"github.com/bincheck-api/internal/application/request"
	"github.com/bincheck-api/internal/application/session"
	"github.com/bincheck-api/internal/config"
	"github.com/bincheck-api/internal/domain"
	"github.com/bincheck-api/internal/transport/http/handler"
	appmiddleware "github.com/bincheck-api/internal/transport/http/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"
)

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	if cfg.TrustProxyHeaders {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(appmiddleware.Metrics(deps.Metrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	var authMw func(http.Handler) http.Handler
	if deps.JWTProvider != nil {
		authMw = appmiddleware.Auth(deps.JWTProvider)
	} else {
		authMw = func(next http.Handler) http.Handler { return next }
	}

	// 5 requests/second, burst of 10, applied to public endpoints that create state.
	sensitiveRL := appmiddleware.NewRateLimiter(rate.Limit(5), 10)
	// Lookups may miss the cache and reach the paid provider.
	lookupRL := appmiddleware.NewRateLimiter(rate.Limit(20), 40)

	lookupSvc := lookup.NewService(lookup.ServiceDeps{
		CacheRepo:   deps.BINCacheRepo,
		HistoryRepo: deps.HistoryRepo,
		Provider:    deps.BINProvider,
		FrontCache:  frontCache(deps),
		Known:       deps.KnownBINs,
		Metrics:     deps.Metrics,
	})
	requestSvc := request.NewService(request.ServiceDeps{
		RequestRepo: deps.RequestRepo,
		UserRepo:    deps.UserRepo,
		BindingRepo: deps.BindingRepo,
		AccountRepo: deps.AccountRepo,
		Deliverer:   deps.Deliverer,
		Events:      deps.Events,
		TTL:         cfg.RequestTTL,
		Metrics:     deps.Metrics,
	})
	sessionSvc := session.NewService(session.ServiceDeps{
		UserRepo:    deps.UserRepo,
		JWTProvider: deps.JWTProvider,
	})

	healthH := handler.NewHealthHandler()
	sessionH := handler.NewSessionHandler(sessionSvc)
	binH := handler.NewBINHandler(lookupSvc)
	requestH := handler.NewRequestHandler(requestSvc, originChecker(cfg.AllowedOrigins))
	adminH := handler.NewAdminHandler(deps.Sweeper, adminFrontCache(deps), deps.Events)

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		// ── Public routes (no auth) ──────────────────────────────────────────
		r.Get("/health-check/{action}", healthH.Ping)
		r.Post("/health-check/{action}", healthH.Ping)
		r.With(sensitiveRL.Limit).Post("/sessions/login", sessionH.Login)
		r.With(sensitiveRL.Limit).Post("/registrations", requestH.SubmitRegistration)
		r.With(sensitiveRL.Limit).Post("/password-resets", requestH.SubmitPasswordReset)
		r.Get("/requests/{kind}/{id}", requestH.Get)
		r.With(sensitiveRL.Limit).Post("/requests/{kind}/{id}/resend", requestH.Resend)
		r.Get("/requests/{kind}/{id}/watch", requestH.Watch)

		// ── Confirming agent ─────────────────────────────────────────────────
		r.With(appmiddleware.AgentKey(cfg.AgentAPIKey)).Post("/agent/requests/{kind}/{id}/status", requestH.Resolve)

		// ── Authenticated routes ─────────────────────────────────────────────
		r.Group(func(r chi.Router) {
			r.Use(authMw)
			r.With(lookupRL.Limit, chimiddleware.Timeout(30*time.Second)).Get("/bins/{bin}", binH.Lookup)
			r.Get("/bins/history", binH.History)
			r.Get("/bins/known", binH.Known)

			// Admin-only routes
			r.Group(func(r chi.Router) {
				r.Use(appmiddleware.RequireRole(domain.RoleAdmin))

				r.Post("/admin/sweep", adminH.Sweep)
				r.Get("/admin/stats", adminH.Stats)
				r.Delete("/admin/bins/{bin}/front-cache", adminH.Evict)
			})
		})
	})

	return r
}

// frontCache avoids handing lookup a typed-nil interface value.
func frontCache(deps *Deps) interface {
	Get(string) (*domain.BINRecord, bool)
	Set(*domain.BINRecord)
} {
	if deps.FrontCache == nil {
		return nil
	}
	return deps.FrontCache
}

func adminFrontCache(deps *Deps) interface {
	Delete(string)
	Len() int
} {
	if deps.FrontCache == nil {
		return nil
	}
	return deps.FrontCache
}

// originChecker accepts websocket upgrades from the configured CORS origins.
func originChecker(allowed []string) func(*http.Request) bool {
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == origin {
				return true
			}
		}
		return false
	}
}
