package cmd

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmehdipour/daily-coordinator/internal/db"
	"github.com/jmehdipour/daily-coordinator/internal/logger"
)

var (
	//go:embed migrations/mysql.sql
	mysqlSchema string

	//go:embed migrations/clickhouse.sql
	clickhouseSchema string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the MySQL state table and the ClickHouse events table (idempotent)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		applied := 0
		if cfg.MySQL.DSN != "" {
			sqlDB, err := db.NewMySQLConnection(cfg.MySQL)
			if err != nil {
				return fmt.Errorf("open mysql: %w", err)
			}
			defer sqlDB.Close()
			if err := execSchema(ctx, sqlDB, mysqlSchema); err != nil {
				return fmt.Errorf("mysql migration: %w", err)
			}
			applied++
		}

		if cfg.ClickHouse.DSN != "" {
			chDB, err := db.NewClickHouseConnection(cfg.ClickHouse)
			if err != nil {
				return fmt.Errorf("open clickhouse: %w", err)
			}
			defer chDB.Close()
			if err := execSchema(ctx, chDB, clickhouseSchema); err != nil {
				return fmt.Errorf("clickhouse migration: %w", err)
			}
			applied++
		}

		if applied == 0 {
			return fmt.Errorf("nothing to migrate: set mysql.dsn and/or clickhouse.dsn")
		}
		logger.Log.Info("migration complete", zap.Int("databases", applied))
		return nil
	},
}

// execSchema runs each ;-separated statement on its own; neither driver
// accepts multi-statement Exec by default.
func execSchema(ctx context.Context, dbx *sqlx.DB, schema string) error {
	for _, stmt := range splitStatements(schema) {
		if _, err := dbx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func splitStatements(schema string) []string {
	var out []string
	for _, s := range strings.Split(schema, ";") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
