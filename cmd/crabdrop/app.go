package main

import (
	"context"
	"fmt"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/crabdrop/internal/airdrop"
	"github.com/sawpanic/crabdrop/internal/config"
	"github.com/sawpanic/crabdrop/internal/infrastructure/db"
	"github.com/sawpanic/crabdrop/internal/metrics"
	"github.com/sawpanic/crabdrop/internal/persistence"
	"github.com/sawpanic/crabdrop/internal/persistence/memory"
	"github.com/sawpanic/crabdrop/internal/secrets"
)

// app holds the dependencies shared by all commands
type app struct {
	config   *config.AppConfig
	repo     *persistence.Repository
	health   persistence.RepositoryHealth
	memory   *memory.Store // set when running without a database
	manager  *db.Manager
	redis    *redis.Client
	redactor *secrets.Redactor
}

// loadApp reads configuration, applies config-file log settings not overridden by
// flags, and opens the store. requireDB rejects the in-memory fallback.
func loadApp(ctx context.Context, cmd *cobra.Command, requireDB bool) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(ctx, path)
	if err != nil {
		return nil, err
	}

	level, format := cfg.Log.Level, cfg.Log.Format
	if cmd.Flags().Changed("log-level") {
		level = ""
	}
	if cmd.Flags().Changed("log-format") {
		format = ""
	}
	if err := setupLogging(os.Stderr, level, format); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	redactor := secrets.NewRedactor()
	redactor.AddLiteral(cfg.Executor.Secret)
	redactor.AddLiteral(cfg.Redis.Password)

	a := &app{config: cfg, redactor: redactor}

	if !cfg.Database.Enabled {
		if requireDB {
			return nil, fmt.Errorf("this command needs the database; set database.enabled or PG_ENABLED=true")
		}
		log.Warn().Msg("Database disabled, using in-memory identity store")
		a.memory = memory.NewStore()
		a.repo = a.memory.Repository()
		a.health = a.memory
		return a, nil
	}

	manager, err := db.NewManager(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %s", redactor.RedactError(err))
	}
	a.manager = manager
	a.repo = manager.Repository()
	a.health = manager.Health()

	log.Info().
		Str("dsn", redactor.RedactString(cfg.Database.DSN)).
		Int("max_open_conns", cfg.Database.MaxOpenConns).
		Msg("Connected to database")

	return a, nil
}

// capGuard builds the guard for the configured cap mode. Strict mode seeds the
// Redis budget from the record count the first time it runs.
func (a *app) capGuard(ctx context.Context) (airdrop.CapGuard, error) {
	cfg := a.config
	if cfg.Airdrop.Mode != airdrop.CapModeStrict {
		return airdrop.NewCountGuard(a.repo.Disbursements, cfg.Airdrop.Cap), nil
	}

	a.redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Addr, err)
	}

	reserved, _, err := a.repo.Disbursements.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count reservations: %w", err)
	}

	budget := airdrop.NewRedisBudget(a.redis, cfg.Redis.Key, cfg.Airdrop.Cap)
	seeded, err := budget.Sync(ctx, reserved)
	if err != nil {
		return nil, fmt.Errorf("failed to seed cap budget: %w", err)
	}

	used, err := budget.Used(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read cap budget: %w", err)
	}
	log.Info().
		Str("key", cfg.Redis.Key).
		Bool("seeded", seeded).
		Int64("used", used).
		Int64("reserved", reserved).
		Int64("cap", cfg.Airdrop.Cap).
		Msg("Strict cap budget ready")

	return budget, nil
}

func (a *app) recorder(guard airdrop.CapGuard, m *metrics.Registry) *airdrop.Recorder {
	return airdrop.NewRecorder(a.repo, guard, a.config.Airdrop.Cap, m)
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close redis client")
		}
	}
	if a.manager != nil {
		if err := a.manager.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close database")
		}
	}
}
