package cli

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nozo-moto/datamonitor/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	cfgFile   string
	dbPath    string
	debugMode bool
)

// debugConsole is cleared while the dashboard owns the terminal.
var debugConsole = true

var (
	debugLogFile     *os.File
	debugLogMu       sync.Mutex
	debugLogInitOnce sync.Once
)

func initDebugLogFile() {
	dir, err := os.UserCacheDir()
	if err != nil {
		return
	}

	logDir := filepath.Join(dir, "datamonitor")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return
	}

	f, err := os.OpenFile(filepath.Join(logDir, "debug.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	debugLogFile = f

	fmt.Fprintf(debugLogFile, "\n=== Debug session started: %s ===\n", time.Now().Format("2006-01-02 15:04:05.000"))
}

// Debug prints a message if debug mode is enabled and writes it to the debug log file.
func Debug(format string, args ...interface{}) {
	if !debugMode {
		return
	}
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	msg := fmt.Sprintf(format, args...)

	if debugConsole {
		fmt.Fprintf(os.Stderr, "[DEBUG] %s\n", msg)
	}

	debugLogMu.Lock()
	debugLogInitOnce.Do(initDebugLogFile)
	if debugLogFile != nil {
		fmt.Fprintf(debugLogFile, "[%s] %s\n", timestamp, msg)
	}
	debugLogMu.Unlock()
}

type debugWriter struct{}

func (debugWriter) Write(p []byte) (int, error) {
	Debug("%s", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// debugLogger routes library logging through Debug, or discards it.
func debugLogger() *log.Logger {
	if !debugMode {
		return log.New(io.Discard, "", 0)
	}
	return log.New(debugWriter{}, "", 0)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	Debug("config: db=%s manifest=%q packages=%q", cfg.DBPath, cfg.ManifestPath, cfg.PackagesListPath)
	return cfg, nil
}

var rootCmd = &cobra.Command{
	Use:   "datamonitor",
	Short: "Per-app network data usage",
	Long: `datamonitor records network traffic per owning user and shows how much
cellular and Wi-Fi data each application used in the past hour, today or
yesterday.

Run "datamonitor record" as root to collect usage, then "datamonitor" to
open the dashboard.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if debugMode {
			fullCmd := "datamonitor"
			if cmd.Name() != "datamonitor" {
				fullCmd += " " + cmd.Name()
			}
			cmd.Flags().Visit(func(f *pflag.Flag) {
				if f.Name == "debug" {
					return
				}
				if f.Value.Type() == "bool" {
					fullCmd += " --" + f.Name
				} else {
					fullCmd += " --" + f.Name + "=" + f.Value.String()
				}
			})
			if len(args) > 0 {
				fullCmd += " " + strings.Join(args, " ")
			}
			Debug("command: %s", fullCmd)
		}
	},
	RunE: runDashboard,
}

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		badColor.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/datamonitor/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "usage database path (overrides config and "+config.EnvDB+")")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug output")
}
