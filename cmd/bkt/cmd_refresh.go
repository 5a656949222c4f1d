package bkt

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	internalbkt "github.com/relay-tools/bkt/internal/bkt"
)

func init() {
	rootCmd.AddCommand(refreshCmd)
	refreshCmd.Flags().DurationVar(&refreshTTL, "ttl", 60*time.Second, "how long the refreshed result remains valid")
}

var refreshTTL time.Duration

var refreshCmd = &cobra.Command{
	Use:     "refresh -- CMD [ARGS...]",
	Short:   "Run CMD unconditionally and replace any cached entry",
	Args:    cobra.MinimumNArgs(1),
	Example: `bkt refresh --ttl 1h -- curl -s https://example.com`,
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := newOrchestrator()
		if err != nil {
			return err
		}

		descriptor := internalbkt.FromArgs(args).WithCwd()
		record, err := b.Refresh(descriptor, refreshTTL)
		if err != nil {
			return err
		}

		os.Stdout.Write(record.Stdout)
		os.Stderr.Write(record.Stderr)
		os.Exit(record.ExitCode)
		return nil
	},
}
