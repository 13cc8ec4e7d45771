package main

import (
	"context"
	"fmt"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/facility-engine/api"
	"github.com/warp/facility-engine/config"
	"github.com/warp/facility-engine/lock"
	"github.com/warp/facility-engine/metrics"
	"github.com/warp/facility-engine/notify"
	"github.com/warp/facility-engine/reservation"
	"github.com/warp/facility-engine/reservation/store"
	"github.com/warp/facility-engine/store/postgres"
	"github.com/warp/facility-engine/store/sqlite"
)

type migrator interface {
	Migrate(ctx context.Context) error
}

// app holds the wired engine. Close releases everything newApp opened.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	metrics   *metrics.Collector
	manager   *reservation.Manager
	catalog   *reservation.Catalog
	blackouts *reservation.BlackoutRegistry
	scheduler *api.CompletionScheduler
	health    map[string]api.Pinger
	closers   []func()
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *app, err error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
		health:  make(map[string]api.Pinger),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	var locker lock.Locker
	if cfg.Lock.Backend == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, func() { client.Close() })
		rl := lock.NewRedis(client, lock.RedisOptions{TTL: cfg.Lock.TTL, Logger: logger})
		if err := rl.Ping(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.health["redis"] = rl
		locker = rl
	}

	backend, closeBackend, err := openBackend(ctx, cfg, logger, locker)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeBackend)
	if m, ok := backend.(migrator); ok {
		if err := m.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	if p, ok := backend.(api.Pinger); ok {
		a.health["store"] = p
	}

	policies, err := reservation.NewPolicyResolver(backend, cfg.Policy.Defaults())
	if err != nil {
		return nil, fmt.Errorf("invalid policy defaults: %w", err)
	}

	var notifier reservation.Notifier = notify.NewLog(logger)
	if cfg.Mail.Enabled {
		mailer, err := notify.NewMailer(notify.MailConfig{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
			Domain:   cfg.Mail.Domain,
		})
		if err != nil {
			return nil, err
		}
		notifier = notify.Multi{notifier, mailer}
	}

	a.manager = reservation.NewManager(backend, policies, reservation.Options{
		LockWait:      cfg.Lock.Wait,
		NotifyTimeout: cfg.Notify.Timeout,
		Notifier:      notifier,
		Logger:        logger,
		Metrics:       a.metrics,
	})
	// Runs before the store closes: closers are called in reverse.
	a.closers = append(a.closers, a.manager.Wait)

	a.catalog = reservation.NewCatalog(backend, policies)
	a.blackouts = reservation.NewBlackoutRegistry(backend)

	a.scheduler = api.NewCompletionScheduler(backend, a.manager, logger, a.metrics)
	a.scheduler.Enabled = cfg.Scheduler.Enabled
	if cfg.Scheduler.Interval > 0 {
		a.scheduler.CheckInterval = cfg.Scheduler.Interval
	}
	return a, nil
}

// openBackend opens the configured store. locker, when set, replaces the
// in-process facility locks of the SQLite and memory stores.
func openBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger, locker lock.Locker) (reservation.Backend, func(), error) {
	switch cfg.Store.Driver {
	case "sqlite":
		var opts []sqlite.Option
		if locker != nil {
			opts = append(opts, sqlite.WithLocker(locker))
		}
		s, err := sqlite.New(cfg.Store.DSN, opts...)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil

	case "postgres":
		if locker != nil {
			logger.Warn("lock.backend is ignored by the postgres store, row locks are used instead")
		}
		s, err := postgres.Open(ctx, cfg.Store.DSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil

	case "memory":
		if locker != nil {
			return store.NewMemoryWithLocker(locker), func() {}, nil
		}
		return store.NewMemory(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

// Router builds the HTTP handler.
func (a *app) Router() *chi.Mux {
	h := api.NewHandler(a.manager, a.catalog, a.blackouts, a.scheduler, a.logger)
	return api.NewRouter(h, api.RouterOptions{
		CORSOrigins: a.cfg.Server.CORSOrigins,
		Metrics:     a.metrics,
		Health:      a.health,
		Logger:      a.logger,
	})
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
