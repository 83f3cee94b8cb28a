package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/comicfeed/internal/config"
	"github.com/JakeFAU/comicfeed/internal/storage/postgres"
	"github.com/JakeFAU/comicfeed/internal/storage/sqlite"
)

// Migrate brings the configured database schema up to date and describes the result.
func Migrate(ctx context.Context, cfg config.DBConfig, logger *zap.Logger) (string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Driver {
	case "memory":
		return "memory store has no schema", nil
	case "sqlite":
		db, err := sqlite.OpenConnection(cfg.DSN)
		if err != nil {
			return "", err
		}
		defer db.Close() //nolint:errcheck // read-only after migrate
		if err := sqlite.MigrateUp(db); err != nil {
			return "", err
		}
		version, dirty, err := sqlite.SchemaVersion(db)
		if err != nil {
			return "", err
		}
		if dirty {
			return "", fmt.Errorf("sqlite schema version %d is dirty", version)
		}
		logger.Info("sqlite schema migrated", zap.String("dsn", cfg.DSN), zap.Uint("version", version))
		return fmt.Sprintf("sqlite schema at version %d", version), nil
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{
			DSN:      cfg.DSN,
			MaxConns: int32(cfg.MaxConns),
			MinConns: int32(cfg.MinConns),
		})
		if err != nil {
			return "", err
		}
		defer store.Close() //nolint:errcheck // pool close never fails
		if err := store.Migrate(ctx); err != nil {
			return "", err
		}
		logger.Info("postgres schema applied")
		return "postgres schema applied", nil
	default:
		return "", fmt.Errorf("unknown db driver %q", cfg.Driver)
	}
}
