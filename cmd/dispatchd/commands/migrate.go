package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-dispatch-backend/internal/repo"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the SQLite schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := repo.OpenSQLite(cfg.DBPath, repo.OpenOptions{Silent: true})
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			if err := repo.AutoMigrate(db); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date: %s\n", cfg.DBPath)
			return nil
		},
	}
}
