package http

import (
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/certifychain/server/internal/http/handlers"
	"github.com/certifychain/server/internal/middleware"
)

// Deps holds everything the router mounts.
type Deps struct {
	Auth          *handlers.AuthHandler
	Institutions  *handlers.InstitutionHandler
	Credentials   *handlers.CredentialHandler
	Verification  *handlers.VerificationHandler
	Health        *handlers.HealthHandler
	Authenticator middleware.Authenticator
	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer
	// VerifyLimiter throttles the public verification endpoints per IP.
	VerifyLimiter *middleware.RateLimiter
	// TrustedProxies may set the client address through X-Forwarded-For.
	TrustedProxies []netip.Prefix
}

// NewVerifyLimiter returns the default limiter for public verification: 120 requests per minute per IP.
func NewVerifyLimiter() *middleware.RateLimiter {
	return middleware.NewRateLimiter(time.Minute, 120)
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.RealIP(d.TrustedProxies))
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	r.Get("/health", d.Health.ServeHTTP)
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	requireAuth := middleware.RequireAuth(d.Authenticator)
	optionalAuth := middleware.OptionalAuth(d.Authenticator)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", d.Auth.HandleRegister)
			r.Post("/login", d.Auth.HandleLogin)
			r.Post("/wallet/nonce", d.Auth.HandleWalletNonce)
			r.Post("/wallet/verify", d.Auth.HandleWalletVerify)

			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				r.Get("/me", d.Auth.HandleMe)
				r.Post("/logout", d.Auth.HandleLogout)
			})
		})

		r.Route("/institutions", func(r chi.Router) {
			r.Get("/", d.Institutions.HandleList)
			r.Get("/wallet/{address}", d.Institutions.HandleGetByWallet)

			r.Group(func(r chi.Router) {
				r.Use(requireAuth, middleware.RequireAdmin)
				r.Get("/pending/list", d.Institutions.HandleListPending)
				r.Post("/{id}/verify", d.Institutions.HandleApprove)
				r.Post("/{id}/reject", d.Institutions.HandleReject)
				r.Post("/{id}/active", d.Institutions.HandleSetActive)
			})

			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				r.Post("/register", d.Institutions.HandleRegister)
				r.Put("/{id}", d.Institutions.HandleUpdate)
				r.Post("/{id}/request-verification", d.Institutions.HandleRequestVerification)
			})

			r.Get("/{id}", d.Institutions.HandleGet)
		})

		r.Route("/credentials", func(r chi.Router) {
			r.Get("/student/{address}", d.Credentials.HandleListForStudent)
			r.Get("/token/{tokenId}", d.Credentials.HandleGetByToken)

			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				r.Post("/", d.Credentials.HandleCreate)
				r.Get("/stats", d.Credentials.HandleStats)
				r.Get("/institution/{address}", d.Credentials.HandleListForInstitution)
				r.Put("/{id}/submit", d.Credentials.HandleSubmit)
				r.Put("/{id}/issue", d.Credentials.HandleIssue)
				r.Put("/{id}/revoke", d.Credentials.HandleRevoke)
			})

			r.Group(func(r chi.Router) {
				r.Use(requireAuth, middleware.RequireAdmin)
				r.Delete("/{id}", d.Credentials.HandleDelete)
			})

			r.Get("/{id}", d.Credentials.HandleGet)
		})

		r.Route("/verify", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				if d.VerifyLimiter != nil {
					r.Use(middleware.RateLimitMiddleware(d.VerifyLimiter, middleware.GetIPKey))
				}
				r.Use(optionalAuth)
				r.Get("/token/{tokenId}", d.Verification.HandleVerifyToken)
				r.Get("/hash/{hash}", d.Verification.HandleVerifyHash)
				r.Post("/batch", d.Verification.HandleBatch)
			})
			r.Get("/history/{tokenId}", d.Verification.HandleHistory)
			r.Get("/stats/overview", d.Verification.HandleStatsOverview)
		})
	})

	return r
}
