package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"activity-monitor/internal/activity"
	"activity-monitor/internal/alerts"
	"activity-monitor/internal/config"
	"activity-monitor/internal/directory"
	"activity-monitor/internal/locks"
	"activity-monitor/internal/metrics"
	"activity-monitor/internal/monitor"
	"activity-monitor/internal/notify"
	"activity-monitor/internal/query"
	"activity-monitor/internal/rules"
	"activity-monitor/pkg/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// app holds the long-lived dependencies of the API process.
type app struct {
	engine  *monitor.Engine
	query   *query.Service
	metrics *metrics.Metrics

	db       *sql.DB
	rdb      *redis.Client
	notifier notify.Notifier
}

func (a *app) Close(log *slog.Logger) {
	if err := a.notifier.Close(); err != nil {
		log.Warn("notifier close failed", "err", err)
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

// buildApp wires config -> stores -> rules -> correlation -> engine.
// On error every resource opened so far is released.
func buildApp(ctx context.Context, cfg config.Config, reg prometheus.Registerer, log *slog.Logger) (_ *app, err error) {
	a := &app{notifier: notify.Noop{}}
	defer func() {
		if err != nil {
			a.Close(log)
		}
	}()

	var (
		eventRepo activity.Repository
		alertRepo alerts.Repository
		dir       directory.Resolver
	)
	switch cfg.Store.Driver {
	case "postgres":
		a.db, err = utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		er := activity.NewPostgresRepo(a.db)
		if err = er.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		ar := alerts.NewPostgresRepo(a.db)
		if err = ar.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		eventRepo, alertRepo = er, ar
		dir = directory.NewPostgresDirectory(a.db)
	default:
		seed, serr := directory.ParseSeed(cfg.Directory.Seed)
		if serr != nil {
			return nil, serr
		}
		eventRepo, alertRepo = activity.NewMemoryRepo(), alerts.NewMemoryRepo()
		dir = directory.NewMemoryDirectory(seed)
		log.Warn("using in-memory store; data is lost on restart")
	}
	roles := directory.NewCachedResolver(dir, cfg.Directory.CacheSize, cfg.Directory.CacheTTL)

	catalog, err := rules.Load(cfg.Rules.File)
	if err != nil {
		return nil, err
	}

	var locker locks.Locker = locks.NewKeyedMutex()
	if addr := cfg.RedisAddr(); addr != "" {
		a.rdb, err = utils.OpenRedis(ctx, utils.RedisConfig{Addr: addr})
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		locker = locks.NewRedisLocker(a.rdb, cfg.Redis.LockTTL, log)
	}

	if cfg.Kafka.Brokers != "" {
		kn, kerr := notify.NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.AlertsTopic)
		if kerr != nil {
			return nil, fmt.Errorf("kafka: %w", kerr)
		}
		a.notifier = kn
	}

	a.metrics = metrics.New(reg)
	events := activity.NewService(eventRepo)
	manager := alerts.NewManager(alertRepo, locker, log)

	a.engine = monitor.NewEngine(monitor.Deps{
		Events:    events,
		Evaluator: rules.NewEvaluator(catalog, events, roles),
		Alerts:    manager,
		Roles:     roles,
		Notifier:  a.notifier,
		Metrics:   a.metrics,
		Logger:    log,
	})
	a.query = query.NewService(events, manager)

	log.Info("engine ready",
		"store", cfg.Store.Driver,
		"distributed_locks", a.rdb != nil,
		"notifications", cfg.Kafka.Brokers != "",
		"rules", len(catalog.Rules()),
	)
	return a, nil
}
