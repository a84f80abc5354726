// Command syncpage runs the page server and inspects its route table.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vango-dev/syncpage/internal/config"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "syncpage",
		Short: "Route-aware page server with realtime documents",
		Long: `syncpage serves single-page client apps.

Each request is matched against the apps table, the matched route's
filters run against a per-request document model, and the page is
rendered with that model bundled inline. Clients then stay in sync over
a websocket channel.

Configuration is read from the environment (PORT, STORAGE_URL,
REDIS_URL, SESSION_SECRET, APPS_FILE, ...).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		routesCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}

// newLogger builds the process logger: text in development, JSON otherwise.
func newLogger(e *config.Env) *slog.Logger {
	opts := &slog.HandlerOptions{Level: e.Level()}
	if e.Dev {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
