package cli

import (
	"fmt"

	"github.com/scrypster/mnemo/internal/server"
	"github.com/spf13/cobra"
)

// Set via -ldflags at build time.
var (
	Commit    = "unknown"
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "mnemo %s (commit: %s, built: %s)\n", server.Version, Commit, BuildDate)
	},
}
