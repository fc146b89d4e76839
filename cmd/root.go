package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/net-reflow/reflow/internal/clierr"
	"github.com/net-reflow/reflow/internal/logging"
	verpkg "github.com/net-reflow/reflow/internal/version"
)

var (
	cfgDir    string //nolint:gochecknoglobals // cobra command flag
	logLevel  string //nolint:gochecknoglobals // cobra command flag
	logFormat string //nolint:gochecknoglobals // cobra command flag
)

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "reflow",
		Short:         "Protocol-aware TCP relay and recursive DNS forwarder",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := logLevel
			if env := os.Getenv("REFLOW_LOG_LEVEL"); env != "" && !cmd.Flags().Changed("log-level") {
				level = env
			}

			base := logging.Base("reflow", level, logFormat)
			ctx := base.WithContext(cmd.Context())
			cmd.SetContext(ctx)

			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgDir, "config", "c", "./config", "Path to the config directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "Log format: json, console")

	rootCmd.AddCommand(newRunCmd())

	rootCmd.Version = verpkg.GetVersion()
	rootCmd.SetVersionTemplate("reflow " + verpkg.GetVersion())

	return rootCmd
}

// Execute runs the root command and exits the process with the exit
// code named by the base spec's external interface: 99 for a missing
// or invalid config directory, 100 for a parse failure, 101 for any
// other setup failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(clierr.CodeOf(err))
	}
}

func ExecuteContext(ctx context.Context) {
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(clierr.CodeOf(err))
	}
}
