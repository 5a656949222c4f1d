package bkt

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relay-tools/bkt/pkg/version"
)

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&versionM, "module", "m", false, "module version information")
}

var versionM bool

var versionCmd = &cobra.Command{
	Use:   "version [-m]",
	Short: "Show the version of bkt",
	Run: func(cmd *cobra.Command, args []string) {
		if versionM {
			fmt.Println(version.GetMore(true))
		} else {
			fmt.Printf("bkt %s\n", version.GetMore(false))
		}
	},
}
