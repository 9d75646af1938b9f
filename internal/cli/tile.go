package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/nozo-moto/datamonitor/internal/ui"
	"github.com/spf13/cobra"
)

var tileTimeout time.Duration

var tileCmd = &cobra.Command{
	Use:   "tile",
	Short: "Print a one-line summary of today's usage",
	Long: `Prints "Data: <today's total>" for status bars, or "Data: --" when usage
cannot be read.`,
	Example: `  # i3blocks / waybar
  datamonitor tile`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		svc, err := newServices(cfg, debugLogger())
		if err != nil {
			return err
		}
		defer svc.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), tileTimeout)
		defer cancel()

		fmt.Fprintln(cmd.OutOrStdout(), ui.TileLabel(ctx, svc.repository))
		return nil
	},
}

func init() {
	tileCmd.Flags().DurationVar(&tileTimeout, "timeout", 5*time.Second, "give up and print the placeholder after this long")
	rootCmd.AddCommand(tileCmd)
}
