package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	mcp "github.com/TangGee/textutils-mcp"
)

// stdioCmd runs the stdio transport.
var stdioCmd = &cobra.Command{
	Use:   "stdio",
	Short: "Serve MCP as newline-delimited JSON-RPC on stdin/stdout",
	Long: `Serve MCP on stdin/stdout, one JSON-RPC message per line.

This is the transport most desktop MCP hosts use when they launch the server
as a subprocess. Logs are written to stderr.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		stdio := mcp.NewStdIO(newDispatcher(nil), os.Stdin, os.Stdout,
			mcp.WithStdIOLogger(logger))

		logger.Info("serving on stdio")
		return stdio.Serve(ctx)
	},
}

func init() {
	rootCmd.AddCommand(stdioCmd)
}
