package commands

import (
	"database/sql"

	"github.com/spf13/cobra"

	"github.com/meridianbenefits/claimbatch/config"
	"github.com/meridianbenefits/claimbatch/db"
	"github.com/meridianbenefits/claimbatch/errors"
	"github.com/meridianbenefits/claimbatch/logger"
)

// loadConfig loads configuration honoring the persistent --config flag
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// openDatabase opens and migrates the claimbatch database. An empty path
// falls back to the configured database path, then to claimbatch.db.
func openDatabase(cfg *config.Config, dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		dbPath = cfg.Database.Path
	}
	if dbPath == "" {
		dbPath = "claimbatch.db"
	}

	database, err := db.Open(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}

	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, errors.Wrapf(err, "failed to run migrations on %s", dbPath)
	}

	return database, nil
}
