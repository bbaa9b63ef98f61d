// File: cmd/root.go

// Package cmd wires the command-line surface. The root command loads
// configuration and boots the logger; subcommands build the driver stack on
// top of it.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nv4re/tabpilot/internal/config"
	"github.com/nv4re/tabpilot/internal/observability"
)

var (
	cfgFile string
	// cfg is populated by PersistentPreRunE before any RunE executes.
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "tabpilot",
	Short: "Tabpilot drives a running browser from natural-language commands.",
	Long: `Tabpilot attaches to an already-running Chrome instance over its
remote debugging port and executes natural-language commands against the
active tab, one model-planned action batch at a time.`,
	// Version is dynamically set at build time. See cmd/version.go.
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			// Boot a fallback logger so the failure itself is reported.
			observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "tabpilot"})
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded

		observability.InitializeLogger(cfg.Logger())
		observability.GetLogger().Debug("Starting tabpilot", zap.String("version", Version))
		return nil
	},
}

// Execute runs the root command under a signal-aware context. The first
// SIGINT/SIGTERM cancels the context; a running command observes it and
// stops between actions.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	observability.Sync()
	if err != nil {
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Command execution failed", zap.Error(err))
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ~/.tabpilot/config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newModelsCmd())
	rootCmd.AddCommand(newSettingsCmd())
}
