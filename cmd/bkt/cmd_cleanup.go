package bkt

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run one cache cleanup pass and wait for it to finish",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := newOrchestrator()
		if err != nil {
			return err
		}
		join := b.CleanupOnce()
		if err := join(); err != nil {
			return err
		}
		log.Info("cleanup complete")
		return nil
	},
}
