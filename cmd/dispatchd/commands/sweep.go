package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-dispatch-backend/internal/jobs"
	"github.com/tbourn/go-dispatch-backend/internal/repo"
)

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Purge expired dialogue sessions and idempotency records once",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := repo.OpenSQLite(cfg.DBPath, repo.OpenOptions{Silent: true})
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			j, err := jobs.NewJanitor(db, cfg.CleanupSchedule)
			if err != nil {
				return err
			}
			res, err := j.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d sessions, %d idempotency records\n", res.Sessions, res.Idempotency)
			return nil
		},
	}
}
