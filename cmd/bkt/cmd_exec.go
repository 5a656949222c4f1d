package bkt

import (
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	internalbkt "github.com/relay-tools/bkt/internal/bkt"
)

func init() {
	rootCmd.AddCommand(execCmd)
	execCmd.Flags().DurationVar(&execTTL, "ttl", 60*time.Second, "how long a cached result remains valid")
	execCmd.Flags().BoolVar(&execCleanup, "cleanup", true, "run a background cleanup pass on a cache miss")
}

var (
	execTTL     time.Duration
	execCleanup bool
)

var execCmd = &cobra.Command{
	Use:     "exec -- CMD [ARGS...]",
	Short:   "Run CMD, returning a cached result if one is still fresh",
	Args:    cobra.MinimumNArgs(1),
	Example: `bkt exec --ttl 1h -- curl -s https://example.com`,
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := newOrchestrator()
		if err != nil {
			return err
		}

		descriptor := internalbkt.FromArgs(args).WithCwd()

		var record internalbkt.InvocationRecord
		var age time.Duration
		if execCleanup {
			record, age, err = b.ExecuteAndCleanup(descriptor, execTTL)
		} else {
			record, age, err = b.Execute(descriptor, execTTL)
		}
		if err != nil {
			return err
		}

		log.WithField("age", age).Debug("exec complete")
		os.Stdout.Write(record.Stdout)
		os.Stderr.Write(record.Stderr)
		os.Exit(record.ExitCode)
		return nil
	},
}
