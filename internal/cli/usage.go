package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/nozo-moto/datamonitor/internal/usage"
	"github.com/nozo-moto/datamonitor/pkg/format"
	"github.com/nozo-moto/datamonitor/pkg/types"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
)

var (
	usagePeriod  string
	usageSince   string
	usageUntil   string
	usageJSON    bool
	usageLimit   int
	usageNoColor bool
)

type usageReport struct {
	Start      time.Time            `json:"start"`
	End        time.Time            `json:"end"`
	TotalBytes uint64               `json:"total_bytes"`
	Apps       []types.AppUsageInfo `json:"apps"`
}

var usageCmd = &cobra.Command{
	Use:     "usage",
	Aliases: []string{"ls"},
	Short:   "Print per-app usage for a period",
	Example: `  # Today's usage, largest first
  datamonitor usage

  # Top 5 apps in the past hour as JSON
  datamonitor usage --period past-hour --limit 5 --json

  # An arbitrary window
  datamonitor usage --since "2026-10-18 08:00:00" --until "2026-10-18 20:00:00"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if usageNoColor {
			color.NoColor = true
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		start, end, err := usageWindow(time.Now())
		if err != nil {
			return err
		}

		svc, err := newServices(cfg, debugLogger())
		if err != nil {
			return err
		}
		defer svc.Close()

		if !svc.checker.HasUsageAccess() {
			warnColor.Fprintln(cmd.ErrOrStderr(), svc.checker.Instructions())
			return errors.New("usage access not granted")
		}

		list := svc.repository.UsageForInterval(cmd.Context(), start, end)
		report := usageReport{
			Start:      start,
			End:        end,
			TotalBytes: usage.TotalBytes(list),
			Apps:       limitApps(list, usageLimit),
		}
		if report.Apps == nil {
			report.Apps = []types.AppUsageInfo{}
		}

		if usageJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}
		writeUsageTable(cmd.OutOrStdout(), report, len(list))
		return nil
	},
}

// usageWindow resolves --since/--until, falling back to --period.
func usageWindow(now time.Time) (time.Time, time.Time, error) {
	if usageSince == "" && usageUntil == "" {
		p, err := types.ParsePeriod(usagePeriod)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		return usage.Interval(p, now)
	}

	start, end := now.Add(-time.Hour), now
	if usageSince != "" {
		t, err := cast.ToTimeInDefaultLocationE(usageSince, time.Local)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("--since: %w", err)
		}
		start = t
	}
	if usageUntil != "" {
		t, err := cast.ToTimeInDefaultLocationE(usageUntil, time.Local)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("--until: %w", err)
		}
		end = t
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("--since %s is not before --until %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return start, end, nil
}

func limitApps(list []types.AppUsageInfo, limit int) []types.AppUsageInfo {
	if limit > 0 && len(list) > limit {
		return list[:limit]
	}
	return list
}

func writeUsageTable(out io.Writer, report usageReport, total int) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	headerColor.Fprintf(w, "Data usage %s - %s\n", report.Start.Format("2006-01-02 15:04"), report.End.Format("2006-01-02 15:04"))
	fmt.Fprintf(w, "%s\t%s\n\n", labelColor.Sprint("Total"), goodColor.Sprint(format.Bytes(report.TotalBytes)))

	if len(report.Apps) == 0 {
		fmt.Fprintln(w, "No usage recorded for this period.")
		return
	}

	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
		labelColor.Sprint("APP"), labelColor.Sprint("PACKAGE"),
		labelColor.Sprint("DOWN"), labelColor.Sprint("UP"), labelColor.Sprint("TOTAL"))
	for _, app := range report.Apps {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			app.Name, app.Package,
			format.Bytes(app.RxBytes), format.Bytes(app.TxBytes), format.Bytes(app.TotalBytes))
	}
	if total > len(report.Apps) {
		fmt.Fprintf(w, "... and %d more apps\n", total-len(report.Apps))
	}
}

func init() {
	usageCmd.Flags().StringVarP(&usagePeriod, "period", "p", "today", "past-hour, today or yesterday")
	usageCmd.Flags().StringVar(&usageSince, "since", "", "start of a custom window (overrides --period)")
	usageCmd.Flags().StringVar(&usageUntil, "until", "", "end of a custom window (default now)")
	usageCmd.Flags().BoolVar(&usageJSON, "json", false, "print JSON")
	usageCmd.Flags().IntVarP(&usageLimit, "limit", "n", 0, "show at most n apps")
	usageCmd.Flags().BoolVar(&usageNoColor, "no-color", false, "disable colored output")
	rootCmd.AddCommand(usageCmd)
}
