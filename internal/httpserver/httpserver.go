// Package httpserver mounts the transport handlers on a chi router and runs the HTTP server
// with graceful shutdown.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	mcp "github.com/TangGee/textutils-mcp"
)

// Options configures the router.
type Options struct {
	// SSE serves the event stream, message intake and health routes.
	SSE *mcp.SSEServer
	// MessagePath is the path intake is mounted on. It must match what SSE advertises.
	MessagePath string
	// Gatherer, when set, is exposed on /metrics.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server is an http.Server wired to the transport, shut down in the right order.
type Server struct {
	http   *http.Server
	sse    *mcp.SSEServer
	logger *slog.Logger
}

const (
	routeHealth  = "/health"
	routeSSE     = "/sse"
	routeMetrics = "/metrics"

	readHeaderTimeout = 10 * time.Second
)

// NewRouter builds the route table:
//
//	GET  /health
//	GET  /sse
//	POST <MessagePath>
//	GET  /metrics
func NewRouter(o Options) chi.Router {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc: func(*http.Request, string) bool { return true },
		AllowedMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:  []string{"*"},
	}))

	r.Method(http.MethodGet, routeHealth, o.SSE.HandleHealth())
	r.Method(http.MethodGet, routeSSE, o.SSE.HandleSSE())
	r.Method(http.MethodPost, o.MessagePath, o.SSE.HandleMessage())
	if o.Gatherer != nil {
		r.Method(http.MethodGet, routeMetrics, promhttp.HandlerFor(o.Gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

// New creates a Server listening on addr.
func New(addr string, handler http.Handler, sse *mcp.SSEServer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		sse: sse,
		logger: logger.With(
			slog.String("package", "httpserver"),
		),
	}
}

// Serve accepts connections on l until Shutdown is called. It returns nil after a clean
// shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("listening", slog.String("addr", l.Addr().String()))
	if err := s.http.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// ListenAndServe listens on the configured address and serves until Shutdown is called.
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.http.Addr, err)
	}
	return s.Serve(l)
}

// Shutdown ends every event stream first, since http.Server.Shutdown waits for active
// handlers and streams never finish on their own.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.sse.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shutdown http server: %w", err))
	}
	return errors.Join(errs...)
}

func accessLog(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			logger.Debug("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("requestID", middleware.GetReqID(r.Context())))
		})
	}
}
