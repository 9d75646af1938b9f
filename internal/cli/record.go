package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/nozo-moto/datamonitor/internal/accounting"
	"github.com/nozo-moto/datamonitor/internal/collector"
	"github.com/nozo-moto/datamonitor/internal/config"
	"github.com/nozo-moto/datamonitor/internal/permission"
	"github.com/nozo-moto/datamonitor/pkg/format"
	"github.com/nozo-moto/datamonitor/pkg/types"
	"github.com/spf13/cobra"
)

var (
	recordSource   string
	recordCPULimit float64
	recordMemLimit int
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record per-user network usage into the usage database",
	Long: `Samples per-UID traffic counters every interval and stores the deltas as
usage buckets. Counters come from the kernel's xt_qtaguid statistics when
available, otherwise from a packet capture on the active cellular and Wi-Fi
interfaces (requires root).`,
	Example: `  # Record with the configured interval until interrupted
  sudo datamonitor record

  # Force packet capture and cap the recorder at half a core and 64 MB
  sudo datamonitor record --source capture --cpu-limit 0.5 --mem-limit 64`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("cpu-limit") {
			cfg.Recorder.CPULimit = recordCPULimit
		}
		if cmd.Flags().Changed("mem-limit") {
			cfg.Recorder.MemoryLimitMB = recordMemLimit
		}

		logger := log.New(os.Stderr, "datamonitor: ", log.LstdFlags)

		if cfg.Recorder.CPULimit > 0 || cfg.Recorder.MemoryLimitMB > 0 {
			limiter, err := collector.LimitResources("datamonitor", cfg.Recorder.CPULimit, cfg.Recorder.MemoryLimitMB)
			if err != nil {
				return fmt.Errorf("limit resources: %w", err)
			}
			defer limiter.Release()
			Debug("recorder limited to %.2f cores, %d MB", cfg.Recorder.CPULimit, cfg.Recorder.MemoryLimitMB)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		classifier := collector.NewClassifier(cfg.Recorder.CellularPatterns, cfg.Recorder.WLANPatterns)
		interfaces := collector.NewInterfaceCollector(classifier)
		logDeviceTotals(logger, interfaces)

		source, err := openSource(ctx, cfg, interfaces, logger)
		if err != nil {
			return err
		}

		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
			return fmt.Errorf("create database directory: %w", err)
		}
		store, err := accounting.OpenStore(cfg.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		recorder := collector.NewRecorder(store, classifier, collector.RecorderConfig{
			Interval:  cfg.Recorder.Interval,
			Retention: cfg.Recorder.Retention,
			Logger:    logger,
		}, source)
		if err := recorder.Start(ctx); err != nil {
			return err
		}
		logger.Printf("recording %s counters into %s every %s", source.Name(), cfg.DBPath, cfg.Recorder.Interval)

		<-ctx.Done()
		recorder.Stop()

		// flush the partial interval before exiting
		n, err := recorder.Tick(context.Background())
		if err != nil {
			logger.Printf("final tick: %v", err)
		} else {
			logger.Printf("stopped, flushed %d buckets", n)
		}
		if capture, ok := source.(*collector.CaptureSource); ok {
			logger.Printf("%s packets had no known owner", format.Number(capture.Unattributed()))
		}
		return nil
	},
}

// openSource picks the per-UID counter source for this host.
func openSource(ctx context.Context, cfg *config.Config, interfaces *collector.InterfaceCollector, logger *log.Logger) (collector.Source, error) {
	qtaguid := collector.NewQtaguidSource(cfg.Recorder.QtaguidPath)

	switch recordSource {
	case "qtaguid":
		if !qtaguid.Available() {
			return nil, fmt.Errorf("%s is not readable", cfg.Recorder.QtaguidPath)
		}
		return qtaguid, nil
	case "auto":
		if qtaguid.Available() {
			return qtaguid, nil
		}
		Debug("qtaguid stats unavailable at %s, falling back to capture", cfg.Recorder.QtaguidPath)
	case "capture":
	default:
		return nil, fmt.Errorf("unknown source %q: want auto, qtaguid or capture", recordSource)
	}

	if !permission.NewChecker(cfg.DBPath).CanCapture() {
		return nil, errors.New("packet capture requires root, run with sudo")
	}

	devices := cfg.Recorder.Capture.Devices
	if len(devices) == 0 {
		active, err := interfaces.ActiveInterfaces()
		if err != nil {
			return nil, err
		}
		devices = active
	}
	localIPs, err := interfaces.LocalAddrs()
	if err != nil {
		return nil, err
	}

	capture := collector.NewCaptureSource(devices, localIPs, collector.NewSocketTable(),
		collector.WithPcapFilter(cfg.Recorder.Capture.Filter),
		collector.WithRescanInterval(cfg.Recorder.Capture.RescanInterval),
		collector.WithCaptureLogger(logger),
	)
	if err := capture.Start(ctx); err != nil {
		return nil, err
	}
	Debug("capturing on %v", devices)
	return capture, nil
}

func logDeviceTotals(logger *log.Logger, interfaces *collector.InterfaceCollector) {
	totals, err := interfaces.Collect()
	if err != nil {
		logger.Printf("device counters: %v", err)
		return
	}
	sort.Slice(totals.Interfaces, func(i, j int) bool {
		return totals.Interfaces[i].Interface < totals.Interfaces[j].Interface
	})
	for _, iface := range totals.Interfaces {
		logger.Printf("%-12s %-8s rx %s tx %s since boot", iface.Interface, iface.Class,
			format.Bytes(iface.BytesRecv), format.Bytes(iface.BytesSent))
	}
	for _, class := range types.NetworkClasses {
		if rec, ok := totals.ByClass[class]; ok {
			logger.Printf("%s total %s since boot", class, format.Bytes(rec.Total()))
		}
	}
}

func init() {
	recordCmd.Flags().StringVar(&recordSource, "source", "auto", "counter source: auto, qtaguid or capture")
	recordCmd.Flags().Float64Var(&recordCPULimit, "cpu-limit", 0, "limit the recorder to this many CPU cores (Linux cgroups)")
	recordCmd.Flags().IntVar(&recordMemLimit, "mem-limit", 0, "limit the recorder memory in MB (Linux cgroups)")
	rootCmd.AddCommand(recordCmd)
}
