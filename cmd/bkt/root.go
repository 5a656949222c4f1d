// Package bkt is the cobra-based CLI front end wrapping internal/bkt's
// exported orchestrator. It owns none of the cache semantics, only argv
// parsing and formatting results back to the controlling terminal.
package bkt

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/relay-tools/bkt/internal/bkterrors"
)

var (
	rootDir string
	scope   string
)

func init() {
	cobra.MousetrapHelpText = ""

	rootCmd.PersistentFlags().BoolVar(&Debug, "debug", false, "debug")
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "cache root directory (default: OS temp dir)")
	rootCmd.PersistentFlags().StringVar(&scope, "scope", "", "single-element cache scope")
	rootCmd.PersistentPreRun = initLog
}

var rootCmd = &cobra.Command{
	Use:     "bkt",
	Short:   "bkt caches subprocess output on local disk",
	Long:    `bkt runs a command and memoizes its output on local disk, keyed by the command and its environment, for a configurable time-to-live.`,
	Example: `bkt exec --ttl 1h -- curl -s https://example.com`,
	Args:    cobra.MinimumNArgs(0),
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

// Execute runs the root command; errors are logged, not panicked.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		entry := log.WithError(err)
		if root := bkterrors.RootCause(err); root != nil && root.Error() != err.Error() {
			entry = entry.WithField("root_cause", root)
		}
		entry.Error("command execution failed")
	}
}
