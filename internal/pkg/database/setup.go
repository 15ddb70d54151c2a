package database

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sidebar-notepads/backend/app/models"
	"github.com/sidebar-notepads/backend/internal/pkg/config"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

// Models lists every table owned by the service, in migration order.
func Models() []interface{} {
	return []interface{}{
		&models.User{},
		&models.ProviderAccount{},
		&models.BillingCustomer{},
		&models.BillingSubscription{},
		&models.BillingOrder{},
		&models.BillingWebhookEvent{},
		&models.CachedEntitlement{},
	}
}

// DSN builds the driver specific data source name.
func DSN(cfg config.DBConfig) string {
	if cfg.Driver == "postgres" {
		return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
			cfg.Host, cfg.User, cfg.Password, cfg.Name, cfg.Port)
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name)
}

// MigrateURL is the golang-migrate database URL for the same settings.
func MigrateURL(cfg config.DBConfig) string {
	if cfg.Driver == "postgres" {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name)
	}
	return fmt.Sprintf("mysql://%s:%s@tcp(%s:%s)/%s?multiStatements=true", cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name)
}

func dialector(cfg config.DBConfig) gorm.Dialector {
	if cfg.Driver == "postgres" {
		return postgres.Open(DSN(cfg))
	}
	return mysql.New(mysql.Config{
		DSN:                       DSN(cfg),
		DefaultStringSize:         256,
		DisableDatetimePrecision:  true,
		DontSupportRenameIndex:    true,
		DontSupportRenameColumn:   true,
		SkipInitializeWithVersion: false,
	})
}

// SetupDatabase connects with retries and auto-migrates the schema.
func SetupDatabase(cfg config.DBConfig, dev bool) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
	if dev {
		gormCfg.Logger = logger.Default.LogMode(logger.Info)
	}

	var (
		db  *gorm.DB
		err error
	)
	for i := 0; i < maxRetries; i++ {
		db, err = gorm.Open(dialector(cfg), gormCfg)
		if err == nil {
			if err = db.AutoMigrate(Models()...); err != nil {
				return nil, fmt.Errorf("auto migrate: %w", err)
			}
			log.Info().Str("driver", cfg.Driver).Str("host", cfg.Host).Msg("database connected")
			return db, nil
		}

		log.Warn().Err(err).Msgf("failed to connect to database (try %d/%d)", i+1, maxRetries)
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}
	return nil, fmt.Errorf("connect database: %w", err)
}
