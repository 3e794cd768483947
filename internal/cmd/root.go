// Package cmd provides the CLI commands for textutils-mcp.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	mcp "github.com/TangGee/textutils-mcp"
	"github.com/TangGee/textutils-mcp/internal/config"
	"github.com/TangGee/textutils-mcp/internal/logging"
	"github.com/TangGee/textutils-mcp/servers/textutils"
)

var (
	// Global flags
	configPath string
	logLevel   string
	logFormat  string
	logFile    string

	// Loaded configuration
	cfg       config.Config
	logger    *slog.Logger
	logCloser io.Closer
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "textutils-mcp",
	Short: "MCP server exposing text utility tools",
	Long: `textutils-mcp is a Model Context Protocol server offering six text tools:
reverse_text, uppercase_text, lowercase_text, word_count, character_count
and shuffle_text.

It speaks the split HTTP transport (GET /sse for the event stream, POST to
the message endpoint for requests) or newline-delimited JSON-RPC on stdio.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		// Flags win over file and environment.
		flags := cmd.Flags()
		if flags.Changed("log-level") {
			cfg.LogLevel = logLevel
		}
		if flags.Changed("log-format") {
			cfg.LogFormat = logFormat
		}
		if flags.Changed("log-file") {
			cfg.LogFile = logFile
		}

		// Stdout carries protocol messages in stdio mode, so logs always go to stderr.
		logger, logCloser, err = logging.New(logging.Config{
			Level:  cfg.LogLevel,
			Format: cfg.LogFormat,
			File:   cfg.LogFile,
		}, os.Stderr)
		if err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		slog.SetDefault(logger)
		return nil
	},
	PersistentPostRunE: func(*cobra.Command, []string) error {
		if logCloser == nil {
			return nil
		}
		return logCloser.Close()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file path (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: info)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json (default: text)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Log file path, rotated by size (logs are also written to stderr)")
}

// newDispatcher builds the dispatcher shared by every transport.
func newDispatcher(metrics *mcp.Metrics) *mcp.Dispatcher {
	return mcp.NewDispatcher(
		mcp.Info{Name: cfg.ServerName, Version: cfg.ServerVersion},
		textutils.NewRegistry(),
		mcp.WithDispatcherLogger(logger),
		mcp.WithDispatcherMetrics(metrics),
	)
}
