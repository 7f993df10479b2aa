package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"guildlink/internal/application"
	"guildlink/internal/delivery/discord"
	"guildlink/internal/integrity"
	"guildlink/internal/matching"
	"guildlink/internal/mitigation"
	"guildlink/internal/monitoring"
	"guildlink/internal/repository"
	"guildlink/pkg/config"
	"guildlink/pkg/logger"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
)

const metricsJob = "guildlink"

// appContext lazily builds the shared dependencies of a command run.
type appContext struct {
	envFile string
	command string

	cfg     *config.Config
	log     *logger.Logger
	db      *sql.DB
	service *application.Service
}

func (a *appContext) config() (*config.Config, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", a.envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg := &config.Config{}
	if err := config.ReadEnvConfig(cfg); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	a.cfg = cfg
	a.log = logger.NewLogger(&logger.Config{Level: cfg.LogLevel}).With("command", a.command)
	initSentry(cfg, a.log)
	return cfg, nil
}

func (a *appContext) database(ctx context.Context) (*sql.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	cfg, err := a.config()
	if err != nil {
		return nil, err
	}
	db, err := repository.NewPostgresDB(ctx, &cfg.Repo)
	if err != nil {
		return nil, fmt.Errorf("failed to init db: %w", err)
	}
	a.db = db
	return db, nil
}

func (a *appContext) migrate(ctx context.Context) error {
	db, err := a.database(ctx)
	if err != nil {
		return err
	}
	a.log.Info("Running migrations...")
	if err := repository.RunMigrations(db, migrationFS, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	a.log.Info("Migrations applied successfully")
	return nil
}

func (a *appContext) engine(ctx context.Context) (*application.Service, error) {
	if a.service != nil {
		return a.service, nil
	}
	if err := a.migrate(ctx); err != nil {
		return nil, err
	}
	cfg := a.cfg

	var roles mitigation.RoleManager
	if cfg.DiscordToken != "" {
		client, err := discord.NewRoleClient(cfg.DiscordToken, cfg.DiscordGuildID, a.log)
		if err != nil {
			a.log.Warn("discord unavailable, role issues stay open: %v", err)
		} else {
			roles = client
		}
	}

	monitoring.RegisterMetrics()

	svc, err := application.NewService(repository.NewRepository(a.db), application.Options{
		Thresholds: matching.Thresholds{
			AutoLink: cfg.Matching.AutoLinkThreshold,
			Suggest:  cfg.Matching.SuggestThreshold,
		},
		Matching: matching.Options{
			MinRankLevel: cfg.Matching.MinRankLevel,
			MaxPasses:    cfg.Matching.MaxPasses,
		},
		Integrity: integrity.Config{
			StaleAfter:   cfg.Integrity.StaleAfter,
			RankRoles:    cfg.Integrity.RankRoles,
			MinRankLevel: cfg.Matching.MinRankLevel,
		},
		Roles: roles,
	}, a.log)
	if err != nil {
		return nil, err
	}
	a.service = svc
	return svc, nil
}

// finish pushes metrics and reports a failed run.
func (a *appContext) finish(command string, err error) error {
	if a.cfg != nil && a.cfg.PushgatewayURL != "" && a.service != nil {
		if perr := monitoring.Push(a.cfg.PushgatewayURL, metricsJob); perr != nil {
			a.log.Warn("%v", perr)
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		if a.log != nil {
			a.log.Error("%s failed: %v", command, err)
		}
		captureError(command, err)
	}
	return err
}

func (a *appContext) close() {
	if a.db != nil {
		a.db.Close()
	}
}

var sentryEnabled bool

func initSentry(cfg *config.Config, log *logger.Logger) {
	if cfg.SentryDSN == "" {
		return
	}
	hostname, _ := os.Hostname()
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Environment:      cfg.Environment,
		ServerName:       hostname,
		AttachStacktrace: true,
	}); err != nil {
		log.Warn("failed to init sentry: %v", err)
		return
	}
	sentryEnabled = true
}

func captureError(command string, err error) {
	if !sentryEnabled {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("command", command)
		sentry.CaptureException(err)
	})
}

func flushSentry() {
	if sentryEnabled {
		sentry.Flush(2 * time.Second)
	}
}
