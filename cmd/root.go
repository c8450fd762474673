package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wwwnakanaka1-lgtm/claude-task-dashboard/pkg/logutil"
	"github.com/wwwnakanaka1-lgtm/claude-task-dashboard/pkg/version"
)

var rootCmd = &cobra.Command{
	Use:   "claudedash",
	Short: "Local usage dashboard for Claude Code",
	Long:  "Claudedash watches Claude Code session logs and serves a local JSON API with sessions, todos, costs and rate-limit estimates.",
}

var rootLogLevel string

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.SetOut(os.Stdout)
	rootCmd.SetErr(os.Stderr)
	rootCmd.SilenceUsage = true
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return logutil.Configure(rootLogLevel)
	}
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "loglevel", "info", "Log level (trace, debug, info, warn, error, fatal)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print claudedash version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Detailed())
		},
	})
}
