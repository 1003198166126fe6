package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/accountabilityatlas/warden/moderation"
	"github.com/accountabilityatlas/warden/moderation/cachestore"
	"github.com/accountabilityatlas/warden/moderation/eventbus"
	"github.com/accountabilityatlas/warden/moderation/store"
	"github.com/accountabilityatlas/warden/moderation/upstream"
	"github.com/accountabilityatlas/warden/util/cliutil"

	"github.com/carlmjohnson/versioninfo"
	"github.com/redis/go-redis/v9"
	cli "github.com/urfave/cli/v2"
	"gorm.io/gorm"
)

const (
	defaultUserCacheTTL      = 2 * time.Minute
	defaultUserCacheCapacity = 50_000
)

// Everything a command needs to run moderation operations, wired from the
// global flags.
type services struct {
	logger   *slog.Logger
	store    *store.GormStore
	rdb      *redis.Client
	memBus   *eventbus.MemBus
	workflow *moderation.Workflow
	reports  *moderation.ReportWorkflow
}

func newStore(db *gorm.DB, logger *slog.Logger) *store.GormStore {
	return store.New(db, logger)
}

func connectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("could not connect to redis: %w", err)
	}
	return rdb, nil
}

func setupServices(cctx *cli.Context, logger *slog.Logger) (*services, error) {
	db, err := cliutil.SetupDatabase(cctx.String("database-url"), cliutil.DatabaseOptions{
		MaxConnections: cctx.Int("max-db-connections"),
		Logger:         logger.With("subsystem", "gorm"),
		Tracing:        true,
	})
	if err != nil {
		return nil, err
	}

	svc := &services{
		logger: logger,
		store:  newStore(db, logger),
	}

	var (
		cache  cachestore.SnapshotCache
		outbus eventbus.Appender
	)
	ttl := cctx.Duration("user-cache-ttl")
	if redisURL := cctx.String("redis-url"); redisURL != "" {
		rdb, err := connectRedis(cctx.Context, redisURL)
		if err != nil {
			return nil, err
		}
		svc.rdb = rdb
		cache = cachestore.NewRedisCacheStore(rdb, ttl)
		outbus = eventbus.NewRedisBus(rdb, "", "")
	} else {
		logger.Warn("no redis configured, using in-process event bus and cache")
		cache = cachestore.NewMemCacheStore(defaultUserCacheCapacity, ttl)
		svc.memBus = eventbus.NewMemBus()
		outbus = svc.memBus
	}

	userAgent := "warden/" + versioninfo.Short()
	users := upstream.NewUserClient(upstream.UserClientConfig{
		BaseURL:      cctx.String("user-service-url"),
		ServiceToken: cctx.String("service-token"),
		UserAgent:    userAgent,
		RateLimit:    cctx.Float64("user-service-rate-limit"),
		Cache:        cache,
		Logger:       logger,
	})
	content := upstream.NewContentClient(upstream.ContentClientConfig{
		BaseURL:      cctx.String("content-service-url"),
		ServiceToken: cctx.String("service-token"),
		UserAgent:    userAgent,
		Logger:       logger,
	})
	publisher := &eventbus.Publisher{
		Bus:    outbus,
		Stream: cctx.String("outbound-stream"),
	}

	svc.workflow = moderation.NewWorkflow(svc.store, svc.store, content, publisher, users, logger.With("subsystem", "workflow"))
	svc.reports = moderation.NewReportWorkflow(svc.store, svc.store, logger.With("subsystem", "reports"))
	return svc, nil
}

// Inbound event consumer. Uses a redis consumer group when redis is
// configured, otherwise the in-process bus.
func (svc *services) consumer(streams []string, group, name string) *eventbus.Consumer {
	var source eventbus.Source = svc.memBus
	if svc.rdb != nil {
		source = eventbus.NewRedisBus(svc.rdb, group, name)
	}
	return &eventbus.Consumer{
		Source:     source,
		Dispatcher: svc.workflow,
		Streams:    streams,
		Logger:     svc.logger.With("subsystem", "consumer"),
	}
}

func (svc *services) Close() {
	if svc.rdb != nil {
		if err := svc.rdb.Close(); err != nil {
			svc.logger.Warn("closing redis client", "err", err)
		}
	}
	if err := svc.store.Close(); err != nil {
		svc.logger.Warn("closing database", "err", err)
	}
}
