package cli

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	"github.com/mauv0809/rmef-warehouse/internal/handlers"
)

type serveOptions struct {
	*RootOptions
	Addr     string
	ReadOnly bool
}

const shutdownTimeout = 10 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &serveOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the warehouse API",
		Long: `Start the HTTP server. Read endpoints live under /api, run triggers under
/admin (unless --read-only), and Prometheus metrics at /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.db.Migrate(ctx); err != nil {
				return WrapExitError(ExitCommandError, "migration failed", err)
			}

			addr := opts.Addr
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to listen", err)
			}
			return serve(ctx, newServer(a, opts.ReadOnly), ln, a.logger)
		},
	}
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&opts.ReadOnly, "read-only", false, "disable the /admin run endpoints")
	return cmd
}

func newServer(a *app, readOnly bool) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			}
			if v.Error == nil {
				a.logger.LogAttrs(c.Request().Context(), slog.LevelInfo, "request", attrs...)
			} else {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
				a.logger.LogAttrs(c.Request().Context(), slog.LevelError, "request failed", attrs...)
			}
			return nil
		},
	}))
	e.Use(middleware.Recover())

	var ingest *handlers.IngestHandler
	if !readOnly {
		ingest = handlers.NewIngestHandler(a.pipeline, a.logger)
	}
	handlers.Register(e, handlers.New(a.repo, a.logger), ingest, a.metrics.Handler())
	return e
}

// serve runs e on ln until ctx is cancelled, then drains in-flight requests.
func serve(ctx context.Context, e *echo.Echo, ln net.Listener, logger *slog.Logger) error {
	e.Listener = ln
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", ln.Addr().String())
		errCh <- e.Start("")
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return WrapExitError(ExitFailure, "server error", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "server shutdown", err)
	}
	return nil
}
