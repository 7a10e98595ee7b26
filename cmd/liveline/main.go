package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "liveline",
		Short: "HTTP push server with long-poll live connections",
		Long: `Liveline serves structured HTTP requests and pushes updates to
clients over plain long-poll HTTP, no WebSocket required.

A client opens a GET request carrying a Live-Connection header and the
server holds the response open as a newline-delimited JSON stream,
re-running the route handler whenever the connection is signalled.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		checkCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
