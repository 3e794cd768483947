package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	mcp "github.com/TangGee/textutils-mcp"
	"github.com/TangGee/textutils-mcp/internal/httpserver"
)

var (
	serveHost            string
	servePort            int
	serveMessageEndpoint string
	serveKeepAlive       time.Duration
)

// serveCmd runs the HTTP transport.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve MCP over SSE and HTTP POST",
	Long: `Serve MCP over the split HTTP transport.

Clients open GET /sse and receive an "endpoint" event naming the URL to POST
their JSON-RPC messages to. Responses are delivered as "message" events on the
stream. GET /health reports status and GET /metrics exposes Prometheus metrics.

Examples:
  textutils-mcp serve
  PORT=9000 textutils-mcp serve
  textutils-mcp serve --message-endpoint https://example.com/mcp/message`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Interface to listen on (default: all)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (default: 8081)")
	serveCmd.Flags().StringVar(&serveMessageEndpoint, "message-endpoint", "", "Message endpoint path or URL (default: /message)")
	serveCmd.Flags().DurationVar(&serveKeepAlive, "keepalive", 0, "Idle time before a keepalive comment is sent (default: 30s)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Host = serveHost
	}
	if flags.Changed("port") {
		cfg.Port = servePort
	}
	if flags.Changed("message-endpoint") {
		cfg.MessageEndpoint = serveMessageEndpoint
	}
	if flags.Changed("keepalive") {
		cfg.KeepAliveInterval = serveKeepAlive
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := mcp.NewMetrics(reg)

	store := mcp.NewSessionStore(
		mcp.WithSessionStoreLogger(logger),
		mcp.WithSessionStoreMetrics(metrics),
	)
	dispatcher := newDispatcher(metrics)

	messagePath := mcp.MessagePath(cfg.MessageEndpoint)
	sseServer := mcp.NewSSEServer(messagePath, dispatcher, store,
		mcp.WithSSEServerLogger(logger),
		mcp.WithSSEServerMetrics(metrics),
		mcp.WithKeepAliveInterval(cfg.KeepAliveInterval),
		mcp.WithMaxMessageBytes(cfg.MaxMessageBytes),
	)

	router := httpserver.NewRouter(httpserver.Options{
		SSE:         sseServer,
		MessagePath: messagePath,
		Gatherer:    reg,
		Logger:      logger,
	})
	srv := httpserver.New(cfg.Addr(), router, sseServer, logger)

	logger.Info("starting server",
		slog.String("name", cfg.ServerName),
		slog.String("version", cfg.ServerVersion),
		slog.String("addr", cfg.Addr()),
		slog.String("sse", "/sse"),
		slog.String("messages", messagePath),
		slog.Any("tools", mcp.ToolNames(dispatcher.Registry())))

	errs := make(chan error, 1)
	go func() {
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", slog.Int("activeSessions", store.Len()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown: %w", err)
	}
	return <-errs
}
