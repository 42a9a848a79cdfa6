package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"tollfree-ivr/internal/audit"
	"tollfree-ivr/internal/auth"
	"tollfree-ivr/internal/config"
	"tollfree-ivr/internal/ivr"
	"tollfree-ivr/internal/reporting"
	"tollfree-ivr/internal/routing"
	"tollfree-ivr/internal/session"
	"tollfree-ivr/internal/telephony"
	"tollfree-ivr/pkg/logger"
	"tollfree-ivr/pkg/utils"
)

// deps is everything the route table needs. Built once in main; no globals.
type deps struct {
	cfg       config.Config
	auth      *auth.Manager
	sessions  session.Store
	policies  policySource
	overrides *routing.OverrideEngine
	journal   *audit.Service
	reports   *reporting.Service
	calls     *ivr.Service
	formAuth  telephony.Authenticator
	jsonAuth  telephony.Authenticator
	db        *pgxpool.Pool
	rdb       *redis.Client
}

type policySource interface {
	routing.Resolver
	routing.TenantDirectory
}

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	d, cleanup, err := build(rootCtx, cfg)
	if err != nil {
		log.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer cleanup()

	reaper := session.Reaper{
		Store:     d.sessions,
		Retention: cfg.Sessions.Retention,
		Interval:  cfg.Sessions.ReapInterval,
		Logger:    log,
		OnExpire:  d.calls.ReleaseExpired,
	}
	go reaper.Run(rootCtx)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	registerRoutes(r, d)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("ivr listening",
			"addr", srv.Addr,
			"env", cfg.App.Env,
			"session_store", cfg.Sessions.Store,
			"policy_source", cfg.Policies.Source,
			"journal_store", cfg.Journal.Store,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}

// build opens the configured backends. cleanup closes whatever was opened.
func build(ctx context.Context, cfg config.Config) (*deps, func(), error) {
	d := &deps{cfg: cfg}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*deps, func(), error) {
		cleanup()
		return nil, func() {}, err
	}

	var err error
	d.auth, err = auth.NewManager(cfg.Auth)
	if err != nil {
		return fail(err)
	}

	if cfg.NeedsPostgres() {
		d.db, err = utils.OpenPostgres(ctx, cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			return fail(err)
		}
		closers = append(closers, d.db.Close)
	}
	if cfg.Sessions.Store == config.SessionStoreRedis {
		d.rdb, err = utils.OpenRedis(ctx, utils.RedisConfig{
			Addr:     cfg.RedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() { _ = d.rdb.Close() })
	}

	var overrideStore routing.OverrideStore
	var capacity ivr.CapacityLimiter
	if d.rdb != nil {
		d.sessions = session.NewRedisStore(d.rdb, cfg.Sessions.Retention)
		overrideStore = routing.NewRedisOverrideStore(d.rdb)
		capacity = ivr.RedisCapacity{Client: d.rdb}
	} else {
		d.sessions = session.NewMemoryStore()
		overrideStore = routing.NewMemoryOverrideStore()
		capacity = ivr.NewMemoryCapacity()
	}

	switch cfg.Policies.Source {
	case config.PolicySourceFile:
		c, err := routing.LoadCatalogFile(cfg.Policies.File)
		if err != nil {
			return fail(err)
		}
		d.policies = c
	case config.PolicySourcePostgres:
		d.policies = routing.PostgresSource{DB: d.db, Now: time.Now}
	default:
		d.policies = routing.DefaultCatalog()
	}

	var journalRepo interface {
		audit.Repository
		reporting.Repository
	}
	if cfg.Journal.Store == config.JournalStorePostgres {
		journalRepo = audit.PostgresRepo{DB: d.db}
	} else {
		journalRepo = audit.NewMemoryRepo()
	}
	d.journal = audit.NewService(journalRepo)
	d.reports = reporting.NewService(journalRepo)
	d.overrides = routing.NewOverrideEngine(overrideStore, d.journal)

	svc := ivr.NewService(d.sessions, d.policies)
	svc.Directory = d.policies
	svc.Overrides = d.overrides
	svc.Capacity = capacity
	svc.Journal = d.journal
	svc.Timeout = cfg.App.WebhookTimeout
	svc.CapacityTTL = cfg.Sessions.Retention
	d.calls = svc

	if cfg.Carrier.TwilioAuthToken != "" {
		d.formAuth = telephony.NewTwilioSignature(cfg.Carrier.TwilioAuthToken, cfg.App.PublicBaseURL)
	}
	if cfg.Carrier.TelnyxPublicKey != "" {
		sig, err := telephony.NewTelnyxSignature(cfg.Carrier.TelnyxPublicKey)
		if err != nil {
			return fail(err)
		}
		d.jsonAuth = sig
	}

	return d, cleanup, nil
}
