package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/config"
	"github.com/telecare/telecare/internal/domain/consultation"
	"github.com/telecare/telecare/internal/domain/diagnosis"
	"github.com/telecare/telecare/internal/domain/payment"
	"github.com/telecare/telecare/internal/domain/session"
	"github.com/telecare/telecare/internal/domain/shift"
	"github.com/telecare/telecare/internal/platform/audit"
	"github.com/telecare/telecare/internal/platform/auth"
	"github.com/telecare/telecare/internal/platform/cache"
	"github.com/telecare/telecare/internal/platform/db"
	"github.com/telecare/telecare/internal/platform/mongostore"
	"github.com/telecare/telecare/internal/platform/secrets"
)

// app holds the wired services for one process.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	store  db.Pinger
	pool   *pgxpool.Pool
	cache  cache.Store
	audit  audit.Sink
	simGW  *payment.Simulator
	closes []func()

	consultations *consultation.Service
	shifts        *shift.Service
	orchestrator  *diagnosis.Orchestrator
	sessions      *session.Store
	clinical      *session.ClinicalStore
	intake        *session.IntakeService
	payments      *payment.Service
}

// stores opens the record store selected by STORE_DRIVER.
func (a *app) stores(ctx context.Context) (consultation.Repository, shift.Repository, consultation.TxRunner, error) {
	switch a.cfg.StoreDriver {
	case "mongodb":
		ms, err := mongostore.Connect(ctx, a.cfg.MongoURI, a.cfg.MongoDatabase)
		if err != nil {
			return nil, nil, nil, err
		}
		a.closes = append(a.closes, func() { _ = ms.Close(context.Background()) })
		if err := consultation.EnsureIndexes(ctx, ms.Database()); err != nil {
			return nil, nil, nil, err
		}
		a.store = ms
		a.audit = audit.NewLogSink(a.logger)
		a.logger.Info().Str("database", a.cfg.MongoDatabase).Msg("connected to mongodb")
		return consultation.NewRepoMongo(ms.Database()), shift.NewRepoMongo(ms.Database()), nil, nil
	default:
		pool, err := db.NewPool(ctx, a.cfg.DatabaseURL, a.cfg.DBMaxConns, a.cfg.DBMinConns)
		if err != nil {
			return nil, nil, nil, err
		}
		a.closes = append(a.closes, pool.Close)
		a.pool = pool
		a.store = pool
		a.audit = audit.NewPGSink(pool, a.logger)
		if a.cfg.IsDev() {
			a.audit = audit.Multi{a.audit, audit.NewLogSink(a.logger)}
		}
		a.logger.Info().Msg("connected to database")
		return consultation.NewRepoPG(pool), shift.NewRepoPG(pool), db.NewTxRunner(pool), nil
	}
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	consultRepo, shiftRepo, tx, err := a.stores(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	kv, closeCache, err := cache.Open(ctx, cache.Options{
		Driver:    cfg.CacheDriver,
		RedisURL:  cfg.RedisURL,
		KeyPrefix: "telecare:",
		Table:     cfg.CacheTable,
		Region:    cfg.AWSRegion,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	a.closes = append(a.closes, func() { _ = closeCache() })
	a.cache = kv
	logger.Info().Str("driver", cfg.CacheDriver).Msg("cache ready")

	key, err := serviceSigningKey(ctx, cfg, logger)
	if err != nil {
		a.close()
		return nil, err
	}
	tokens, err := auth.NewTokenManager(auth.ServiceTokenConfig{
		Issuer:     cfg.ServiceTokenIssuer,
		Audience:   cfg.ServiceTokenAudience,
		Lifetime:   cfg.ServiceTokenLifetime,
		SigningKey: key,
	}, kv, logger)
	if err != nil {
		a.close()
		return nil, err
	}

	client := diagnosis.NewClient(cfg.DiagnosisServiceURL, cfg.DiagnosisTimeout, tokens, logger,
		diagnosis.WithRetryPolicy(diagnosis.DefaultRetryPolicy(cfg.DiagnosisMaxAttempts)))
	a.orchestrator = diagnosis.NewOrchestrator(client, kv, a.audit, cfg.DiagnosisCacheTTL, logger)

	a.sessions = session.NewStore(kv, cfg.SessionTTL, logger)
	a.clinical = session.NewClinicalStore(kv, cfg.ClinicalSessionTTL, logger)
	a.intake = session.NewIntakeService(a.sessions, a.orchestrator, session.DefaultTariff, cfg.PaymentCurrency, logger)

	day, evening := cfg.FallbackDoctors()
	resolver := shift.NewResolver(shiftRepo, kv, day, evening, logger)
	a.shifts = shift.NewService(shiftRepo, resolver)

	a.consultations = consultation.NewService(consultRepo, resolver, a.audit, cfg.ConsultationTTL, logger)
	if tx != nil {
		a.consultations.WithTxRunner(tx)
	}

	a.simGW = payment.NewSimulator(cfg.PaymentAutoComplete)
	a.payments = payment.NewService(a.simGW, a.sessions, a.consultations, a.clinical, a.audit, logger).
		WithTariff(session.DefaultTariff)
	return a, nil
}

func (a *app) registerRoutes(api *echo.Group) {
	diagnosis.NewHandler(a.orchestrator).RegisterRoutes(api)
	session.NewHandler(a.sessions, a.intake, a.clinical).RegisterRoutes(api)
	payment.NewHandler(a.payments, a.simGW).RegisterRoutes(api)
	consultation.NewHandler(a.consultations).RegisterRoutes(api)
	shift.NewHandler(a.shifts).RegisterRoutes(api)
}

// startBackground runs the expiry sweeper and, for the in-memory cache, the
// expired-entry purge until ctx is done.
func (a *app) startBackground(ctx context.Context) {
	if mem, ok := a.cache.(*cache.MemoryStore); ok {
		mem.StartCleanup(ctx, time.Minute)
	}
	go consultation.NewSweeper(a.consultations, a.cfg.ExpirySweepInterval, a.logger).Run(ctx)
}

func (a *app) close() {
	for i := len(a.closes) - 1; i >= 0; i-- {
		a.closes[i]()
	}
	a.closes = nil
}

// serviceSigningKey resolves the key used to mint diagnosis-service tokens.
// Development falls back to a random per-process key.
func serviceSigningKey(ctx context.Context, cfg *config.Config, logger zerolog.Logger) ([]byte, error) {
	if cfg.ServiceTokenSigningKey == "" && cfg.ServiceTokenSigningKeyParam == "" {
		if !cfg.IsDev() {
			return nil, fmt.Errorf("no service token signing key configured")
		}
		key, err := randomKey()
		if err != nil {
			return nil, err
		}
		logger.Warn().Msg("using a random service token signing key; tokens will not survive a restart")
		return key, nil
	}

	var getter secrets.Getter
	if cfg.ServiceTokenSigningKeyParam != "" && cfg.ServiceTokenSigningKey == "" {
		ps, err := secrets.OpenParamStore(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, err
		}
		getter = ps
	}
	return secrets.ResolveSigningKey(ctx, getter, cfg.ServiceTokenSigningKey, cfg.ServiceTokenSigningKeyParam)
}

func randomKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	return key, nil
}

// inboundAuth selects the bearer-token middleware, or the header-driven dev
// identity when running in development without a signing key.
func inboundAuth(cfg *config.Config) (echo.MiddlewareFunc, error) {
	if cfg.IsDev() && cfg.AuthSigningKey == "" {
		return auth.DevAuthMiddleware(), nil
	}
	if cfg.AuthSigningKey == "" {
		return nil, fmt.Errorf("AUTH_SIGNING_KEY is required")
	}
	return auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
	}), nil
}
