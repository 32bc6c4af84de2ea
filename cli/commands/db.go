package commands

import (
	"database/sql"
	"fmt"
	"os"

	// Register the PostgreSQL driver.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/corvid-labs/chronicle/cli/config"
)

// loadConfig finds and loads the chronicle.yaml starting from the working
// directory.
func loadConfig() (*config.Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	_, cfg, err := config.FindConfig(cwd)
	if err != nil {
		return nil, fmt.Errorf("no chronicle.yaml found: %w", err)
	}
	return cfg, nil
}

// openDB opens a database connection for the configured postgres driver.
func openDB(cfg *config.Config) (*sql.DB, error) {
	if cfg.Database.Driver == "memory" {
		return nil, fmt.Errorf("memory driver has no database to inspect")
	}

	dbURL := cfg.DatabaseURL()
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is not set")
	}

	return sql.Open("pgx", dbURL)
}

// schemaName returns the configured schema, defaulting to "chronicle".
func schemaName(cfg *config.Config) string {
	if cfg.Database.Schema == "" {
		return "chronicle"
	}
	return cfg.Database.Schema
}
