// Package app wires the services and HTTP handlers over a storage backend.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/certifychain/server/internal/auth"
	"github.com/certifychain/server/internal/config"
	"github.com/certifychain/server/internal/credential"
	"github.com/certifychain/server/internal/db"
	httphandler "github.com/certifychain/server/internal/http"
	"github.com/certifychain/server/internal/http/handlers"
	"github.com/certifychain/server/internal/identity"
	"github.com/certifychain/server/internal/institution"
	"github.com/certifychain/server/internal/log"
	"github.com/certifychain/server/internal/store"
	"github.com/certifychain/server/internal/store/filestore"
	"github.com/certifychain/server/internal/store/postgres"
	"github.com/certifychain/server/internal/verification"
)

var logger = log.Logger("app")

// App is a fully wired server.
type App struct {
	Store        store.Store
	Identities   *identity.Service
	Auth         *auth.AuthService
	Institutions *institution.Service
	Credentials  *credential.Service
	Verification *verification.Engine
	Registry     *prometheus.Registry
	Handler      http.Handler

	closers []func()
}

// OpenStore opens the configured backend. For postgres the schema is migrated
// first and the returned *sql.DB is used for health checks; it is nil for the
// file backend.
func OpenStore(ctx context.Context, cfg *config.Config) (store.Store, *sql.DB, error) {
	switch cfg.StorageBackend {
	case config.BackendFile:
		st, err := filestore.Open(cfg.DataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open file store: %w", err)
		}
		logger.WithField("dir", cfg.DataDir).Info("Using file storage backend")
		return st, nil, nil
	case config.BackendPostgres:
		database, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Migrate(database); err != nil {
			_ = database.Close()
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		logger.Info("Using postgres storage backend")
		return postgres.New(database), database, nil
	}
	return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
}

// New wires every service over st. ping may be nil.
func New(cfg *config.Config, st store.Store, ping handlers.Pinger) *App {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	identities := identity.NewService(st, identity.Options{
		BcryptCost: cfg.BcryptCost,
		NonceTTL:   cfg.NonceTTL,
	})
	jwtService := auth.NewJWTService(cfg.JWTSecret, cfg.JWTExpiresIn)
	authService := auth.NewAuthService(identities, st, jwtService, auth.Options{
		AppName: cfg.AppName,
		Metrics: auth.NewMetrics(reg),
	})
	institutions := institution.NewService(st, identities)
	credentials := credential.NewService(st, institution.NewGate(st), institutions, identities, credential.Options{
		AssignTokenID: cfg.AssignTokenOnCreate,
	})
	engine := verification.NewEngine(st, st, st, verification.Options{
		Metrics:  verification.NewMetrics(reg),
		Location: cfg.StatsLocation,
	})

	authHandler := handlers.NewAuthHandler(authService)
	verifyLimiter := httphandler.NewVerifyLimiter()

	a := &App{
		Store:        st,
		Identities:   identities,
		Auth:         authService,
		Institutions: institutions,
		Credentials:  credentials,
		Verification: engine,
		Registry:     reg,
		closers:      []func(){authHandler.Close, verifyLimiter.Stop},
	}
	a.Handler = httphandler.NewRouter(httphandler.Deps{
		Auth:           authHandler,
		Institutions:   handlers.NewInstitutionHandler(institutions),
		Credentials:    handlers.NewCredentialHandler(credentials),
		Verification:   handlers.NewVerificationHandler(engine),
		Health:         handlers.NewHealthHandler(ping),
		Authenticator:  authService,
		Gatherer:       reg,
		VerifyLimiter:  verifyLimiter,
		TrustedProxies: cfg.TrustedProxies,
	})
	return a
}

// Close stops background workers and closes the store.
func (a *App) Close() error {
	for _, c := range a.closers {
		c()
	}
	return a.Store.Close()
}
