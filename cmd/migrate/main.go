package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sidebar-notepads/backend/internal/pkg/config"
	"github.com/sidebar-notepads/backend/internal/pkg/database"
	"github.com/sidebar-notepads/backend/internal/pkg/env"
	"github.com/sidebar-notepads/backend/internal/pkg/logging"
)

var migrationsDir string

var rootCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply SQL schema migrations",
	Long: `Apply the SQL migrations under migrations/<driver> to the database
configured through DB_DRIVER, DB_HOST, DB_PORT, DB_USER, DB_PASSWORD and DB_NAME.`,
	SilenceUsage: true,
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(m *migrate.Migrate) error {
			err := m.Up()
			if errors.Is(err, migrate.ErrNoChange) {
				log.Info().Msg("no change: database is up to date")
				return nil
			}
			if err != nil {
				return fmt.Errorf("apply migrations: %w", err)
			}
			log.Info().Msg("migrations applied")
			return nil
		})
	},
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the last migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(m *migrate.Migrate) error {
			if err := m.Steps(-1); err != nil {
				return fmt.Errorf("roll back last migration: %w", err)
			}
			log.Info().Msg("last migration rolled back")
			return nil
		})
	},
}

var gotoCmd = &cobra.Command{
	Use:   "goto VERSION",
	Short: "Migrate up or down to a specific version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[0], err)
		}
		return withMigrator(func(m *migrate.Migrate) error {
			err := m.Migrate(uint(version))
			if errors.Is(err, migrate.ErrNoChange) {
				log.Info().Uint64("version", version).Msg("no change: database already at version")
				return nil
			}
			if err != nil {
				return fmt.Errorf("migrate to version %d: %w", version, err)
			}
			log.Info().Uint64("version", version).Msg("migrated")
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current migration version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(m *migrate.Migrate) error {
			version, dirty, err := m.Version()
			if errors.Is(err, migrate.ErrNilVersion) {
				log.Info().Msg("no migrations applied yet")
				return nil
			}
			if err != nil {
				return fmt.Errorf("read migration version: %w", err)
			}
			log.Info().Uint("version", version).Bool("dirty", dirty).Msg("current migration version")
			return nil
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&migrationsDir, "dir", "migrations", "directory holding one sub-directory of migrations per driver")
	rootCmd.AddCommand(upCmd, downCmd, gotoCmd, statusCmd)
}

func main() {
	_ = env.SetupEnvFile()
	logging.Init(logging.Config{Format: "console", Level: env.GetEnv("LOG_LEVEL", "info"), Component: "migrate"})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// withMigrator opens a migrator for the configured database and closes it
// after fn returns.
func withMigrator(fn func(m *migrate.Migrate) error) error {
	dbCfg := dbConfigFromEnv()
	log.Info().
		Str("driver", dbCfg.Driver).
		Str("host", dbCfg.Host).
		Str("database", dbCfg.Name).
		Msg("connecting for migrations")

	m, err := migrate.New(sourceURL(migrationsDir, dbCfg.Driver), database.MigrateURL(dbCfg))
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	defer func() {
		if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
			log.Warn().AnErr("source", sourceErr).AnErr("database", dbErr).Msg("closing migration resources failed")
		}
	}()
	return fn(m)
}

// dbConfigFromEnv reads only the database settings, so migrations run
// without the OAuth and billing secrets the server needs.
func dbConfigFromEnv() config.DBConfig {
	driver := env.GetEnv("DB_DRIVER", "mysql")
	port := "3306"
	if driver == "postgres" {
		port = "5432"
	}
	return config.DBConfig{
		Driver:   driver,
		Host:     env.GetEnv("DB_HOST", "127.0.0.1"),
		Port:     env.GetEnv("DB_PORT", port),
		User:     env.GetEnv("DB_USER", ""),
		Password: env.GetEnv("DB_PASSWORD", ""),
		Name:     env.GetEnv("DB_NAME", ""),
	}
}

func sourceURL(dir, driver string) string {
	return "file://" + filepath.ToSlash(filepath.Join(dir, driver))
}
