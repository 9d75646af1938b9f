package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version will be set at build time
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of datamonitor",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("datamonitor version %s\n", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
