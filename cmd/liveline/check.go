package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/liveline-dev/liveline/internal/config"
)

func checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <config-file>",
		Short: "Validate a configuration file",
		Long: `Parse and validate a YAML configuration file without starting
the server. Exits non-zero if the file cannot be loaded.

Example:
  liveline check config.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}

			sc := cfg.ServerConfig()
			fmt.Printf("%s: OK\n", args[0])
			fmt.Printf("  address:          %s\n", sc.Address)
			fmt.Printf("  trusted proxies:  %d\n", len(sc.TrustedProxies))
			fmt.Printf("  secure cookies:   %t\n", sc.SecureCookies)
			fmt.Printf("  heartbeat:        %s\n", sc.Live.HeartbeatInterval)
			fmt.Printf("  update interval:  %s\n", sc.Live.UpdateInterval)
			fmt.Printf("  abandon timeout:  %s\n", sc.Live.AbandonTimeout)
			fmt.Printf("  max file size:    %d bytes\n", sc.Limits.MaxFileSize)
			return nil
		},
	}

	return cmd
}
