package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/medrun-backend/pkg/config"
	"github.com/angelmondragon/medrun-backend/pkg/db"
	"github.com/angelmondragon/medrun-backend/pkg/db/models"
	"github.com/angelmondragon/medrun-backend/pkg/logger"
)

// MaybeRunDev brings the schema up to date on startup, but only in dev with
// MEDRUN_AUTO_MIGRATE set. Deployed environments run cmd/migrate instead.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	strategy, apply := "goose", gooseUp
	if cfg.DB.Driver == db.DriverSQLite {
		strategy, apply = "automigrate", autoMigrate
	}
	ctx = logg.WithFields(ctx, map[string]any{"driver": cfg.DB.Driver, "schema_strategy": strategy})

	logg.Info(ctx, "dev schema sync starting")
	if err := apply(ctx, client); err != nil {
		return fmt.Errorf("dev schema sync (%s): %w", strategy, err)
	}
	logg.Info(ctx, "dev schema sync done")
	return nil
}

func gooseUp(ctx context.Context, client *db.Client) error {
	sqlDB, err := client.DB().DB()
	if err != nil {
		return err
	}
	return Run(ctx, sqlDB, "", "up")
}

func autoMigrate(_ context.Context, client *db.Client) error {
	return models.AutoMigrate(client.DB())
}
