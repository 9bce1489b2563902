package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-dispatch-backend/internal/sysutil"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), sysutil.Version(version))
			return nil
		},
	}
}
