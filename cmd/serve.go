package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wwwnakanaka1-lgtm/claude-task-dashboard/pkg/config"
	"github.com/wwwnakanaka1-lgtm/claude-task-dashboard/pkg/dashboard"
)

var (
	serveConfigPath         string
	serveListenAddrOverride string
	serveClaudeDirOverride  string
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServerConfig(serveConfigPath)
			if err != nil {
				if !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("load server config: %w", err)
				}
				cfg = config.NewDefaultServerConfig()
				if err := config.SaveServerConfig(serveConfigPath, cfg); err != nil {
					return fmt.Errorf("write default server config: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote default config to %s\n", serveConfigPath)
			}
			if cmd.Flags().Changed("listen-addr") {
				cfg.ListenAddr = serveListenAddrOverride
			}
			if cmd.Flags().Changed("claude-dir") {
				cfg.ClaudeDir = serveClaudeDirOverride
			}

			srv := dashboard.NewServer(cfg)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return srv.Run(ctx)
		},
	}
	serveCmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultServerConfigPath(), "Server config TOML path")
	serveCmd.Flags().StringVar(&serveListenAddrOverride, "listen-addr", "", "Override listen address from config (e.g. 127.0.0.1:3456)")
	serveCmd.Flags().StringVar(&serveClaudeDirOverride, "claude-dir", "", "Override the Claude data directory (default ~/.claude)")
	rootCmd.AddCommand(serveCmd)
}
