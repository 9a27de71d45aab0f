package storage

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/lunchroulette/server/config"
	"github.com/lunchroulette/server/internal/model"
	logger "github.com/lunchroulette/server/middleware/log"
)

// InitPostgres opens the pool, applies pool limits and migrates the schema.
func InitPostgres(cfg *config.PostgresConfig, debug bool, log *logger.Logger) (*gorm.DB, error) {
	level := gormlogger.Warn
	if debug {
		level = gormlogger.Info
	}

	db, err := gorm.Open(postgres.Open(BuildDSN(cfg)), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(level),
		TranslateError: true,
	})
	if err != nil {
		log.Error("failed to connect to postgres", zap.String("host", cfg.Host), zap.Error(err))
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := Migrate(db); err != nil {
		log.Error("failed to migrate schema", zap.Error(err))
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates every table the service owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.User{},
		&model.Venue{},
		&model.Group{},
		&model.Membership{}, // composite primary key (group_id, user_id)
		&model.Message{},
	)
}

func BuildDSN(cfg *config.PostgresConfig) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName)
}
