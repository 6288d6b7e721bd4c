package app

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	libdb "storyforge/backend/libs/db"
	"storyforge/backend/services/credits-service/internal/config"
	"storyforge/backend/services/credits-service/internal/ledger"
	"storyforge/backend/services/credits-service/internal/migrations"
	"storyforge/backend/services/credits-service/internal/models"
	"storyforge/backend/services/credits-service/internal/repository"
)

// OpenStore connects the configured storage driver. With migrate set the
// schema is brought up to date first.
func OpenStore(ctx context.Context, cfg *config.Config, migrate bool, logger *zap.Logger) (repository.Store, error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		if migrate {
			if err := migratePostgres(cfg.Storage.DSN); err != nil {
				return nil, err
			}
			logger.Info("postgres schema up to date")
		}
		pool, err := libdb.NewPostgresPool(ctx, cfg.Storage.DSN)
		if err != nil {
			return nil, fmt.Errorf("app: connect postgres: %w", err)
		}
		return repository.NewPostgresStore(pool), nil
	case config.DriverSQLite:
		db, err := libdb.NewSQLiteDB(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("app: open sqlite: %w", err)
		}
		if migrate {
			if err := migrations.Up(db, migrations.DialectSQLite); err != nil {
				db.Close()
				return nil, err
			}
			logger.Info("sqlite schema up to date", zap.String("path", cfg.Storage.SQLitePath))
		}
		return repository.NewSQLiteStore(db), nil
	case config.DriverMemory:
		logger.Warn("using in-memory credit store; balances are lost on restart")
		return repository.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("app: unknown storage driver %q", cfg.Storage.Driver)
	}
}

// OpenMigrationDB returns a database/sql handle and goose dialect for the
// configured driver.
func OpenMigrationDB(cfg *config.Config) (*sql.DB, string, error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		db, err := libdb.NewPostgresDB(cfg.Storage.DSN)
		if err != nil {
			return nil, "", fmt.Errorf("app: connect postgres: %w", err)
		}
		return db, migrations.DialectPostgres, nil
	case config.DriverSQLite:
		db, err := libdb.NewSQLiteDB(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, "", fmt.Errorf("app: open sqlite: %w", err)
		}
		return db, migrations.DialectSQLite, nil
	default:
		return nil, "", fmt.Errorf("app: driver %q has no schema", cfg.Storage.Driver)
	}
}

func migratePostgres(dsn string) error {
	db, err := libdb.NewPostgresDB(dsn)
	if err != nil {
		return fmt.Errorf("app: connect postgres: %w", err)
	}
	defer db.Close()
	return migrations.Up(db, migrations.DialectPostgres)
}

// LedgerOptions maps configuration onto ledger options.
func LedgerOptions(cfg *config.Config) ledger.Options {
	tiers := ledger.DefaultTiers()
	tiers[models.TierFree] = cfg.Ledger.Free
	tiers[models.TierStarter] = cfg.Ledger.Starter
	tiers[models.TierCreator] = cfg.Ledger.Creator
	tiers[models.TierProfessional] = cfg.Ledger.Professional
	return ledger.Options{
		Tiers:       tiers,
		DefaultTier: models.Tier(cfg.Ledger.DefaultTier),
		Period:      ledger.Period{Months: cfg.Ledger.CycleMonths, Length: cfg.Ledger.CycleLength},
	}
}
