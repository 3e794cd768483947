package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	mcp "github.com/TangGee/textutils-mcp"
)

var (
	clientURL     string
	clientTimeout time.Duration
	callText      string
)

var errToolFailed = errors.New("tool reported an error")

// callCmd invokes one tool on a running server.
var callCmd = &cobra.Command{
	Use:   "call <tool>",
	Short: "Call a tool on a running server",
	Long: `Connect to a running server over SSE, initialize, call one tool and print
its text result.

Examples:
  textutils-mcp call reverse_text --text "hello"
  textutils-mcp call word_count --text "one two three" --url http://localhost:9000/sse`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), clientTimeout)
		defer cancel()

		client, err := connect(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		res, err := client.CallTool(ctx, args[0], mcp.ToolArguments{"text": callText})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, c := range res.Content {
			if c.Type == mcp.ContentTypeText {
				fmt.Fprintln(out, c.Text)
			}
		}
		if res.IsError {
			return errToolFailed
		}
		return nil
	},
}

// toolsCmd lists the tools of a running server.
var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools of a running server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), clientTimeout)
		defer cancel()

		client, err := connect(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		tools, err := client.ListTools(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tDESCRIPTION")
		for _, t := range tools {
			fmt.Fprintf(w, "%s\t%s\n", t.Name, strings.TrimSpace(t.Description))
		}
		return w.Flush()
	},
}

func init() {
	for _, c := range []*cobra.Command{callCmd, toolsCmd} {
		c.Flags().StringVar(&clientURL, "url", "http://localhost:8081/sse", "Event stream URL of the server")
		c.Flags().DurationVar(&clientTimeout, "timeout", 30*time.Second, "Overall timeout for the command")
		rootCmd.AddCommand(c)
	}
	callCmd.Flags().StringVar(&callText, "text", "", "Value of the tool's text argument")
}

func connect(ctx context.Context) (*mcp.SSEClient, error) {
	client := mcp.NewSSEClient(clientURL, nil, mcp.WithSSEClientLogger(logger))
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", clientURL, err)
	}

	info, err := client.Initialize(ctx, mcp.Info{Name: "textutils-mcp-cli", Version: cfg.ServerVersion})
	if err != nil {
		client.Close()
		return nil, err
	}
	logger.Debug("connected",
		slog.String("server", info.Name),
		slog.String("version", info.Version))
	return client, nil
}
