package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/liveline-dev/liveline/internal/config"
	"github.com/liveline-dev/liveline/pkg/server"
)

// newLogger creates the JSON logger the server runs with.
func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

func serveCmd() *cobra.Command {
	var (
		configFile string
		address    string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the push server",
		Long: `Start the Liveline push server.

The server will:
  - Load configuration from the YAML file, if one is given
  - Serve application routes, /_health, /_proxy and /metrics
  - Hold live connections open and push updates to them

The server runs until interrupted (Ctrl+C) or SIGTERM, then drains
live connections and in-flight requests before exiting.

Example:
  liveline serve
  liveline serve -c /etc/liveline/config.yaml
  liveline serve --address :9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			slog.SetDefault(newLogger(debug))

			cfg := &config.Config{}
			if configFile != "" {
				loaded, err := config.Load(configFile)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if address != "" {
				cfg.Address = address
			}

			srv := server.New(cfg.ServerConfig())
			if cfg.MetricsEnabled() {
				server.EnableMetrics(server.MetricsConfig{})
			}
			registerStatusRoutes(srv)

			srv.Logger().Info("starting server",
				"address", srv.Config().Address,
				"trusted_proxies", len(srv.Config().TrustedProxies),
			)
			return srv.Run()
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "path to YAML config file")
	cmd.Flags().StringVar(&address, "address", "", "listen address, overrides the config file")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")

	return cmd
}

// registerStatusRoutes installs a minimal route set so a bare binary is
// observable: a status document at / that, over a live connection, updates
// whenever the registry is broadcast to.
func registerStatusRoutes(srv *server.Server) {
	srv.Handle(server.Exact("GET"), server.Exact("/"), func(ctx *server.Context) error {
		stats := srv.Live().Stats()
		return ctx.Response.EndJSON(map[string]any{
			"server":           "liveline",
			"version":          version,
			"live_connections": stats.Active,
			"total_created":    stats.TotalCreated,
			"reattaches":       stats.Reattaches,
			"generated_at":     ctx.StartTime,
		})
	})

	srv.HandleError(server.Any(), server.Any(), func(ctx *server.Context) error {
		srv.Logger().Error("request failed",
			"request_id", ctx.ID,
			"path", ctx.URL.Path,
			"error", ctx.Err,
		)
		ctx.Response.SetStatus(500)
		return ctx.Response.EndJSON(map[string]any{
			"error":      "internal error",
			"request_id": ctx.ID,
		})
	})
}
