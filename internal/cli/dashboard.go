package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/nozo-moto/datamonitor/internal/ui"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Open the interactive usage dashboard",
	Long: `Shows per-app data usage for the past hour, today or yesterday.

Keys: 1/2/3 select the period, / filters, r reloads, q or Esc quits.`,
	RunE: runDashboard,
}

func runDashboard(cmd *cobra.Command, args []string) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		Debug("stdout is not a terminal, printing today's usage instead")
		return usageCmd.RunE(cmd, args)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	debugConsole = false
	defer func() { debugConsole = true }()

	svc, err := newServices(cfg, debugLogger())
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dashboard := ui.NewDashboard(svc.repository, ui.DashboardOptions{
		RefreshInterval: cfg.Dashboard.RefreshInterval,
		Instructions:    svc.checker.Instructions(),
		Logger:          debugLogger(),
	})
	return dashboard.Run(ctx)
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
}
