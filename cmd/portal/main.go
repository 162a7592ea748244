package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/csrf"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-router"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	auth "github.com/goliatone/go-member-auth"
	"github.com/goliatone/go-member-auth/activitymap"
	"github.com/goliatone/go-member-auth/config"
)

type App struct {
	config *config.Config
	repo   auth.RepositoryManager
	srv    router.Server[*fiber.App]
	logger *glog.BaseLogger
}

func (a *App) GetLogger(name string) glog.Logger {
	return a.logger.GetLogger(name)
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(logLevel(cfg.LogLevel)),
		glog.WithName("portal"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)

	app := &App{config: cfg, logger: lgr}

	if err := WithPersistence(ctx, app); err != nil {
		panic(err)
	}

	if err := WithHTTPServer(app); err != nil {
		panic(err)
	}

	logger := app.GetLogger("portal")

	go func() {
		if err := app.srv.Serve(cfg.HTTPAddr); err != nil {
			logger.Error("http server stopped", "error", err)
		}
	}()

	sig := WaitExitSignal()
	logger.Info("shutting down", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := app.srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}

func WithPersistence(ctx context.Context, app *App) error {
	cfg := app.config.GetPersistence()

	db, err := sql.Open(cfg.GetDriver(), cfg.GetDSN())
	if err != nil {
		return err
	}

	var dialect schema.Dialect = pgdialect.New()
	if app.config.DatabaseDriver != "postgres" {
		// an in memory database lives as long as its single connection
		db.SetMaxOpenConns(1)
		dialect = sqlitedialect.New()
	}

	auth.RegisterModels()

	client, err := persistence.New(cfg, db, dialect)
	if err != nil {
		return err
	}

	client.SetLogger(app.GetLogger("persistence"))

	if err := auth.RegisterMigrations(client); err != nil {
		return err
	}

	if err := client.ValidateDialects(ctx); err != nil {
		return err
	}

	if err := client.Migrate(ctx); err != nil {
		return err
	}

	app.repo = auth.NewRepositoryManager(client.DB())
	return app.repo.Validate()
}

func WithHTTPServer(app *App) error {
	cfg := app.config

	profileKey, err := cfg.ProfileKeyBytes()
	if err != nil {
		return err
	}

	protector, err := auth.NewSecretboxProtector(profileKey)
	if err != nil {
		return err
	}

	authLogger := newPrintfLogger(app.GetLogger("auth"))

	auther := auth.NewAuthenticator(app.repo.Accounts(), cfg).
		WithLogger(authLogger).
		WithSecurityPolicy(cfg.SecurityPolicy()).
		WithProtector(protector).
		WithMailer(auth.NewLogMailer(newPrintfLogger(app.GetLogger("mailer")))).
		WithActivitySink(activitymap.Fanout(
			activitymap.NewLoggerSink(newPrintfLogger(app.GetLogger("activity"))),
			activitymap.NewSpanSink(),
		))

	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		f := router.DefaultFiberOptions(fiber.New(fiber.Config{
			AppName:           "member-portal",
			EnablePrintRoutes: cfg.Env == "development",
		}))
		f.Use(recover.New())
		f.Use(requestid.New())
		f.Use(fiberlogger.New())
		f.Use(csrf.New(csrf.Config{
			KeyLookup:      "header:X-Csrf-Token",
			CookieName:     "csrf_",
			CookieSameSite: "Lax",
			CookieSecure:   cfg.GetSecureCookies(),
			CookieHTTPOnly: false,
			Expiration:     time.Hour,
		}))
		return f
	})

	srv.Router().WithLogger(app.GetLogger("router"))

	auth.RegisterAuthRoutes(srv.Router().Group("/auth"),
		auth.WithAuther(auther, cfg),
		auth.WithResetURL(cfg.ResetURL),
		auth.WithHashidAccounts(cfg.UseHashid),
		auth.WithControllerDebug(cfg.Env == "development"),
	)

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
