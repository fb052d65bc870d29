package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	accounts "github.com/goliatone/go-accounts"
	"github.com/goliatone/go-accounts/activitymap"
	"github.com/goliatone/go-accounts/middleware/csrf"
	"github.com/goliatone/go-accounts/redisstore"
	gconfig "github.com/goliatone/go-config/config"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type App struct {
	config   *gconfig.Container[*accounts.BaseConfig]
	logger   *glog.BaseLogger
	db       *bun.DB
	registry *prometheus.Registry
	metrics  *accounts.Metrics
	repo     accounts.RepositoryManager
	sessions *accounts.SessionAuthority
	manager  *accounts.Manager
	srv      router.Server[*fiber.App]
}

func (a *App) Config() *accounts.BaseConfig {
	return a.config.Raw()
}

func (a *App) GetLogger(name string) glog.Logger {
	return a.logger.GetLogger(name)
}

func main() {
	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(glog.Trace),
		glog.WithName("accounts"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)

	cfg := gconfig.New(&accounts.BaseConfig{}).
		WithLogger(lgr.GetLogger("config"))

	ctx := context.Background()
	if err := cfg.Load(ctx); err != nil {
		panic(err)
	}

	fmt.Println("============")
	fmt.Println(print.MaybeHighlightJSON(cfg.Raw()))
	fmt.Println("============")

	app := &App{
		config:   cfg,
		logger:   lgr,
		registry: prometheus.NewRegistry(),
	}
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.metrics = accounts.NewMetrics(app.registry)

	if err := WithPersistence(ctx, app); err != nil {
		panic(err)
	}

	if err := WithAccounts(ctx, app); err != nil {
		panic(err)
	}

	if err := WithHTTPServer(ctx, app); err != nil {
		panic(err)
	}

	addr := app.Config().Server.Address
	if addr == "" {
		addr = ":8080"
	}
	app.srv.Serve(addr)

	WaitExitSignal()

	if err := app.db.Close(); err != nil {
		app.GetLogger("app").Error("close database", "error", err)
	}
}

func WithPersistence(ctx context.Context, app *App) error {
	pcfg := app.Config().Persistence

	var db *bun.DB
	switch pcfg.Driver {
	case "postgres", "pgx":
		sqldb, err := sql.Open("pgx", pcfg.DSN)
		if err != nil {
			return err
		}
		db = bun.NewDB(sqldb, pgdialect.New())
	default:
		dsn := pcfg.DSN
		if dsn == "" {
			dsn = "file:accounts.db?cache=shared"
		}
		sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
		if err != nil {
			return err
		}
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	}

	if err := db.PingContext(ctx); err != nil {
		return err
	}

	if err := accounts.CreateSchema(ctx, db); err != nil {
		return err
	}

	app.db = db
	return nil
}

func WithAccounts(ctx context.Context, app *App) error {
	cfg := app.Config()

	var opts []accounts.ManagerRepositoryOption
	if cfg.Sessions.Backend == "redis" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Sessions.RedisAddr,
			Password: cfg.Sessions.RedisPassword,
			DB:       cfg.Sessions.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		opts = append(opts, accounts.WithSessionStore(redisstore.New(rdb)))
	}

	opts = append(opts, accounts.WithRoleStore(
		accounts.NewRoleStore(app.db, accounts.WithRoleStoreLogger(app.GetLogger("accounts:roles"))),
	))

	repo := accounts.NewRepositoryManager(app.db, opts...)
	if err := repo.Validate(); err != nil {
		return err
	}

	if err := repo.Roles().EnsureProvisioned(ctx); err != nil {
		return err
	}

	tokens, err := accounts.NewTokenService([]byte(cfg.GetSigningKey()),
		accounts.WithTokenIssuer(cfg.GetIssuer()),
	)
	if err != nil {
		return err
	}

	activity := activitymap.Sink(func(ctx context.Context, record activitymap.Record) error {
		app.GetLogger("accounts:activity").Info(record.Verb,
			"actor_id", record.ActorID,
			"object_id", record.ObjectID,
			"metadata", record.Metadata,
		)
		return nil
	})

	sessions := accounts.NewSessionAuthority(repo.Sessions(),
		accounts.WithSessionTTL(cfg.GetSessionTTL()),
		accounts.WithSessionLogger(app.GetLogger("accounts:sessions")),
		accounts.WithSessionActivitySink(activity),
		accounts.WithSessionMetrics(app.metrics),
	)

	notifier := accounts.NotifierFunc(func(ctx context.Context, link accounts.CapabilityLink) error {
		app.GetLogger("accounts:notifier").Info("capability link",
			"intent", string(link.Intent),
			"email", link.Email,
			"url", link.URL,
			"expires_at", link.ExpiresAt,
		)
		return nil
	})

	app.repo = repo
	app.sessions = sessions
	app.manager = accounts.NewManager(repo, tokens, sessions,
		accounts.WithConfig(cfg),
		accounts.WithNotifier(notifier),
		accounts.WithActivitySink(activity),
		accounts.WithLogger(app.GetLogger("accounts")),
		accounts.WithMetrics(app.metrics),
	)
	return nil
}

func WithHTTPServer(ctx context.Context, app *App) error {
	cfg := app.Config()

	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		f := router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:      true,
			EnablePrintRoutes: true,
			StrictRouting:     false,
		}))
		if cfg.Server.Metrics {
			f.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{})))
		}
		return f
	})

	srv.Router().WithLogger(app.GetLogger("router"))

	cookie := accounts.SessionCookie{
		Name:   cfg.Sessions.CookieName,
		Secure: cfg.Sessions.CookieSecure,
	}

	srv.Router().Use(accounts.SessionMiddleware(app.sessions, cookie, app.GetLogger("accounts:http")))
	srv.Router().Use(csrf.New(csrf.Config{Source: app.sessions}))

	csrf.RegisterRoutes(srv.Router())

	controller := accounts.NewHTTPController(app.manager,
		accounts.WithHTTPLogger(app.GetLogger("accounts:http")),
		accounts.WithHTTPCookie(cookie),
		accounts.WithHTTPDebug(cfg.Persistence.Debug),
	)
	controller.RegisterRoutes(srv.Router())

	app.srv = srv
	return nil
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}
