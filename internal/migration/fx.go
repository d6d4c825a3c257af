package migration

import (
	"strings"

	"github.com/smallbiznis/corehours/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Apply brings the schema up to date for the configured database.
func Apply(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	if strings.EqualFold(strings.TrimSpace(cfg.DBType), "postgres") {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		log.Info("applying postgres migrations")
		return RunMigrations(sqlDB)
	}
	log.Info("auto-migrating schema", zap.String("db_type", cfg.DBType))
	return AutoMigrate(conn)
}

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if !cfg.DBAutoMigrate {
			return nil
		}
		return Apply(conn, cfg, log)
	}),
)
