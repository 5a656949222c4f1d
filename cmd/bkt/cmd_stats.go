package bkt

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/relay-tools/bkt/internal/statsdb"
	"github.com/relay-tools/bkt/pkg/util"
)

func init() {
	rootCmd.AddCommand(statsCmd)
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-command hit/miss/spawn counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := newOrchestrator()
		if err != nil {
			return err
		}

		if err := util.PrepareDir(b.CacheRoot()); err != nil {
			return err
		}
		db, err := statsdb.Open(b.CacheRoot() + "/stats.db")
		if err != nil {
			return err
		}
		defer db.Close()

		rows, err := db.All()
		if err != nil {
			return err
		}

		if len(rows) == 0 {
			fmt.Println("no stats recorded yet")
			return nil
		}

		fmt.Printf("%-12s %-20s %6s %6s %6s\n", "DAY", "LABEL", "HITS", "MISSES", "SPAWNS")
		for _, r := range rows {
			fmt.Printf("%-12s %-20s %6d %6d %6d\n", r.Day, r.Label, r.Hits, r.Misses, r.Spawns)
		}

		size, err := dirSize(b.CacheRoot())
		if err != nil {
			return err
		}
		fmt.Printf("\ncache root: %s (%s on disk)\n", b.CacheRoot(), util.ByteCountSI(size))
		return nil
	},
}

// dirSize sums the apparent size of every regular file under root.
func dirSize(root string) (int64, error) {
	var total int64
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}
