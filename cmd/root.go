// Package cmd implements the CLI commands for containerv, protecc and
// bpf-manager.
package cmd

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chef-project/containerv/config"
	"github.com/chef-project/containerv/logging"
)

// Version information set at build time
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
)

// Global flags
var (
	globalRoot      string
	globalLog       string
	globalLogFormat string
	globalDebug     bool
)

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "cvctl",
	Short: "containerv/protecc/bpf-manager operator CLI",
	Long: `cvctl drives the container lifecycle (containerv), the pattern/
profile compiler (protecc), and the BPF-LSM policy loader (bpf-manager)
from a single binary.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging()
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetContext returns a context that cancels on SIGINT/SIGTERM.
func GetContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	return ctx
}

// GetStateRoot returns the state root directory.
func GetStateRoot() string {
	if globalRoot != "" {
		return globalRoot
	}
	return config.DefaultStateRoot
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&globalRoot, "root", "", "root directory for storage of container state (default: "+config.DefaultStateRoot+")")
	rootCmd.PersistentFlags().StringVar(&globalLog, "log", "", "set the log file path (rotated via lumberjack)")
	rootCmd.PersistentFlags().StringVar(&globalLogFormat, "log-format", "text", "set the format for log output (text or json)")
	rootCmd.PersistentFlags().BoolVar(&globalDebug, "debug", false, "enable debug logging")
}

func setupLogging() {
	logLevel := slog.LevelInfo
	if globalDebug {
		logLevel = slog.LevelDebug
	}

	if globalLogFormat == "json" || globalLog != "" {
		logger := logging.NewLogger(logging.Config{
			Level:    logLevel,
			Format:   globalLogFormat,
			FilePath: globalLog,
		})
		logging.SetDefault(logger)
	}
}
