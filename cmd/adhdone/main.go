package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	mcp "github.com/adhdone/adhdone-mcp"
	"github.com/adhdone/adhdone-mcp/internal/config"
	"github.com/adhdone/adhdone-mcp/internal/logging"
	"github.com/adhdone/adhdone-mcp/servers/coach"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "adhdone",
		Short:   coach.Description,
		Version: coach.Version,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := applyFlags(cmd.Flags(), &cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	flags.Int("port", 8080, "Port to listen on. Overrides PORT.")
	flags.String("base-url", "", "Public URL of the server. Overrides BASE_URL.")
	flags.Duration("keepalive", 30*time.Second, "Interval between keepalive comments on open streams.")
	flags.Duration("tool-timeout", 10*time.Second, "Maximum duration of a single tool call.")
	flags.Bool("lenient", false, "Answer unknown methods with an empty result instead of an error.")
	flags.StringSlice("cors-origin", nil, "Allowed CORS origin. May be repeated.")
	flags.StringP("log-level", "l", "info", "Set the log level. One of: debug, info, warn, error.")
	flags.String("log-format", "auto", "Log format. One of: auto, json, text, dev.")

	return cmd
}

// applyFlags copies the flags set on the command line over the environment values.
func applyFlags(flags *pflag.FlagSet, cfg *config.Config) error {
	var err error
	flags.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "port":
			cfg.Port, err = flags.GetInt(f.Name)
		case "base-url":
			cfg.BaseURL, err = flags.GetString(f.Name)
		case "keepalive":
			cfg.KeepaliveInterval, err = flags.GetDuration(f.Name)
		case "tool-timeout":
			cfg.ToolTimeout, err = flags.GetDuration(f.Name)
		case "lenient":
			cfg.LenientMethods, err = flags.GetBool(f.Name)
		case "cors-origin":
			var origins []string
			origins, err = flags.GetStringSlice(f.Name)
			cfg.AllowedOrigins = strings.Join(origins, ",")
		case "log-level":
			cfg.LogLevel, err = flags.GetString(f.Name)
		case "log-format":
			cfg.LogFormat, err = flags.GetString(f.Name)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid flag: %w", err)
	}
	return nil
}

func run(ctx context.Context, cfg config.Config) error {
	logger := logging.New(os.Stderr, logging.Format(cfg.LogFormat), logging.ParseLevel(cfg.LogLevel))
	slog.SetDefault(logger)

	coachServer := coach.NewServer(coach.WithLogger(logger))
	registry, err := mcp.NewToolRegistry(coachServer.Tools()...)
	if err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}

	dispatcher := mcp.NewDispatcher(registry,
		mcp.WithToolTimeout(cfg.ToolTimeout),
		mcp.WithDispatcherLogger(logger))

	routerOpts := []mcp.RouterOption{
		mcp.WithInstructions(coach.Instructions),
		mcp.WithRouterLogger(logger),
	}
	if cfg.LenientMethods {
		routerOpts = append(routerOpts, mcp.WithLenientMethods())
	}
	router := mcp.NewRouter(coach.Info(), dispatcher, routerOpts...)

	sseServer := mcp.NewSSEServer(cfg.MessageURL(), router,
		mcp.WithKeepaliveInterval(cfg.KeepaliveInterval),
		mcp.WithSSEServerLogger(logger))

	handler := mcp.NewHandler(router, sseServer,
		mcp.WithServiceInfo(mcp.ServiceInfo{Name: "ADHDone MCP Server", Description: coach.Description}),
		mcp.WithAllowedOrigins(cfg.Origins()...),
		mcp.WithHandlerLogger(logger))

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			slog.String("addr", httpServer.Addr),
			slog.String("url", cfg.PublicURL()),
			slog.Any("tools", registry.Names()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
		close(errs)
	}()

	select {
	case err := <-errs:
		if err != nil {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Streams never end on their own, so they are closed before the HTTP server waits
	// for its handlers.
	if err := sseServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to close streams", slog.String("err", err.Error()))
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	return nil
}
