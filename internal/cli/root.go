// Package cli implements the mnemo command line: the long-running server
// and one-shot maintenance commands for operators.
package cli

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:           "mnemo",
	Short:         "Memory importance scoring and lifecycle engine",
	Long:          "mnemo stores short memory facts, keeps their importance scores current and retires the ones nobody needs.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (default: $MNEMO_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at info level")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(batchScoreCmd)
	rootCmd.AddCommand(lifecycleCmd)
	rootCmd.AddCommand(rescueCmd)
	rootCmd.AddCommand(rateCmd)
	rootCmd.AddCommand(versionCmd)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
