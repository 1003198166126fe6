package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/accountabilityatlas/warden/models"
	"github.com/accountabilityatlas/warden/moderation"
	"github.com/accountabilityatlas/warden/pkg/metrics"
	"github.com/accountabilityatlas/warden/util/cliutil"

	"github.com/carlmjohnson/versioninfo"
	"github.com/google/uuid"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {
	app := cli.App{
		Name:    "warden",
		Usage:   "content moderation queue and trust tier service",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "database connection string: sqlite://<path> or postgres://<user>:<pass>@<host>/<db>",
			Value:   "sqlite://data/warden/warden.sqlite",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			Usage:   "maximum number of open database connections (postgres only)",
			Value:   40,
			EnvVars: []string{"WARDEN_MAX_DB_CONNECTIONS"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection URL, for event streams and caching: redis://<user>:<pass>@<hostname>:6379/<db>. In-process bus and cache if empty",
			EnvVars: []string{"WARDEN_REDIS_URL", "REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "user-service-url",
			Usage:   "base URL of the user service",
			Value:   "http://localhost:8081",
			EnvVars: []string{"WARDEN_USER_SERVICE_URL"},
		},
		&cli.StringFlag{
			Name:    "content-service-url",
			Usage:   "base URL of the content (video) service",
			Value:   "http://localhost:8082",
			EnvVars: []string{"WARDEN_CONTENT_SERVICE_URL"},
		},
		&cli.StringFlag{
			Name:    "service-token",
			Usage:   "bearer token for calls to internal services",
			EnvVars: []string{"WARDEN_SERVICE_TOKEN"},
		},
		&cli.Float64Flag{
			Name:    "user-service-rate-limit",
			Usage:   "max requests per second to the user service (0 for no limit)",
			Value:   50,
			EnvVars: []string{"WARDEN_USER_SERVICE_RATE_LIMIT"},
		},
		&cli.DurationFlag{
			Name:    "user-cache-ttl",
			Usage:   "how long user snapshots are cached",
			Value:   defaultUserCacheTTL,
			EnvVars: []string{"WARDEN_USER_CACHE_TTL"},
		},
		&cli.StringFlag{
			Name:    "outbound-stream",
			Usage:   "stream which decision events are published to",
			Value:   "moderation-events",
			EnvVars: []string{"WARDEN_OUTBOUND_STREAM"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			EnvVars: []string{"WARDEN_LOG_LEVEL", "GO_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "log output format (text or json)",
			Value:   "json",
			EnvVars: []string{"WARDEN_LOG_FMT"},
		},
	}

	app.Commands = []*cli.Command{
		serveCmd,
		migrateCmd,
		approvePendingCmd,
		checkTrustCmd,
	}

	return app.Run(args)
}

func configLogger(cctx *cli.Context, writer io.Writer) (*slog.Logger, error) {
	return cliutil.SetupSlog(cliutil.LogOptions{
		LogLevel:  cctx.String("log-level"),
		LogFormat: cctx.String("log-format"),
		Output:    writer,
	})
}

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "run the moderation API, inbound event consumers, and metrics server",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "local IP/port to bind the API server to",
			Value:   ":8085",
			EnvVars: []string{"WARDEN_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3985",
			EnvVars: []string{"WARDEN_METRICS_LISTEN"},
		},
		&cli.StringFlag{
			Name:     "jwt-secret",
			Usage:    "HMAC secret for validating API bearer tokens (HS256)",
			Required: true,
			EnvVars:  []string{"WARDEN_JWT_SECRET", "JWT_SECRET"},
		},
		&cli.StringFlag{
			Name:    "jwt-issuer",
			Usage:   "required 'iss' claim of API bearer tokens, if set",
			EnvVars: []string{"WARDEN_JWT_ISSUER"},
		},
		&cli.StringSliceFlag{
			Name:    "inbound-streams",
			Usage:   "streams to consume submission and trust tier events from",
			Value:   cli.NewStringSlice("video-events", "user-events"),
			EnvVars: []string{"WARDEN_INBOUND_STREAMS"},
		},
		&cli.StringFlag{
			Name:    "consumer-group",
			Usage:   "redis consumer group for inbound streams",
			Value:   "warden",
			EnvVars: []string{"WARDEN_CONSUMER_GROUP"},
		},
		&cli.StringFlag{
			Name:    "consumer-name",
			Usage:   "name of this replica within the consumer group (defaults to hostname)",
			EnvVars: []string{"WARDEN_CONSUMER_NAME"},
		},
		&cli.BoolFlag{
			Name:    "auto-migrate",
			Usage:   "create or update database tables at startup",
			Value:   true,
			EnvVars: []string{"WARDEN_AUTO_MIGRATE"},
		},
	},
	Action: func(cctx *cli.Context) error {
		logger, err := configLogger(cctx, os.Stdout)
		if err != nil {
			return err
		}
		shutdownOTEL, err := configOTEL("warden")
		if err != nil {
			return err
		}
		defer shutdownOTEL()

		ctx, stop := signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		svc, err := setupServices(cctx, logger)
		if err != nil {
			return err
		}
		defer svc.Close()

		if cctx.Bool("auto-migrate") {
			if err := svc.store.Migrate(ctx); err != nil {
				return fmt.Errorf("migrating database: %w", err)
			}
		}

		srv := NewServer(svc.workflow, svc.reports, svc.store, Config{
			Logger:    logger,
			Bind:      cctx.String("bind"),
			JWTSecret: cctx.String("jwt-secret"),
			JWTIssuer: cctx.String("jwt-issuer"),
		})

		consumer := svc.consumer(cctx.StringSlice("inbound-streams"), cctx.String("consumer-group"), consumerName(cctx.String("consumer-name")))

		runtime.SetBlockProfileRate(10)
		runtime.SetMutexProfileFraction(10)

		g, ctx := errgroup.WithContext(ctx)
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g.Go(func() error {
			// prometheus HTTP endpoint: /metrics
			return metrics.RunServer(ctx, cancel, cctx.String("metrics-listen"), versioninfo.Short())
		})
		g.Go(func() error {
			return srv.RunAPI(ctx)
		})
		g.Go(func() error {
			if err := consumer.Run(ctx); err != nil {
				cancel()
				return fmt.Errorf("event consumer: %w", err)
			}
			return nil
		})

		err = g.Wait()
		logger.Info("graceful shutdown complete")
		return err
	},
}

var migrateCmd = &cli.Command{
	Name:  "migrate",
	Usage: "create or update database tables, then exit",
	Action: func(cctx *cli.Context) error {
		logger, err := configLogger(cctx, os.Stderr)
		if err != nil {
			return err
		}
		db, err := cliutil.SetupDatabase(cctx.String("database-url"), cliutil.DatabaseOptions{
			MaxConnections: cctx.Int("max-db-connections"),
			Logger:         logger,
		})
		if err != nil {
			return err
		}
		st := newStore(db, logger)
		if err := st.Migrate(cctx.Context); err != nil {
			return err
		}
		logger.Info("database migrated")
		return nil
	},
}

var approvePendingCmd = &cli.Command{
	Name:  "approve-pending",
	Usage: "approve every PENDING item of a user, as after a trust tier upgrade (safe to re-run)",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "user",
			Usage:    "submitter user id (UUID)",
			Required: true,
		},
	},
	Action: func(cctx *cli.Context) error {
		logger, err := configLogger(cctx, os.Stderr)
		if err != nil {
			return err
		}
		userID, err := uuid.Parse(cctx.String("user"))
		if err != nil {
			return fmt.Errorf("invalid --user: %w", err)
		}

		ctx, stop := signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		svc, err := setupServices(cctx, logger)
		if err != nil {
			return err
		}
		defer svc.Close()

		n, err := svc.workflow.ApprovePendingForUser(ctx, userID, moderation.SystemUserID)
		fmt.Printf("approved %d pending items for %s\n", n, userID)
		return err
	},
}

var checkTrustCmd = &cli.Command{
	Name:  "check-trust",
	Usage: "evaluate automatic promotion and demotion rules for a user, applying any tier change",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "user",
			Usage:    "user id (UUID)",
			Required: true,
		},
	},
	Action: func(cctx *cli.Context) error {
		logger, err := configLogger(cctx, os.Stderr)
		if err != nil {
			return err
		}
		userID, err := uuid.Parse(cctx.String("user"))
		if err != nil {
			return fmt.Errorf("invalid --user: %w", err)
		}

		svc, err := setupServices(cctx, logger)
		if err != nil {
			return err
		}
		defer svc.Close()

		ctx := cctx.Context
		promoted, err := svc.workflow.Promotion.CheckAndPromote(ctx, userID)
		if err != nil {
			return err
		}
		if promoted {
			fmt.Printf("%s promoted to %s\n", userID, models.TrustTierTrusted)
			return nil
		}
		demoted, err := svc.workflow.Demotion.CheckAndDemote(ctx, userID)
		if err != nil {
			return err
		}
		if demoted {
			fmt.Printf("%s demoted to %s\n", userID, models.TrustTierNew)
			return nil
		}
		fmt.Printf("%s: no trust tier change\n", userID)
		return nil
	},
}

func consumerName(name string) string {
	if name != "" {
		return name
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "warden-" + uuid.NewString()[:8]
	}
	return host
}
