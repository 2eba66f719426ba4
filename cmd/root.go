package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/data-mapper/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "data-mapper",
	Short: "Interruptible batch lookups over tabular data",
	Long: "Maps each row of a CSV or XLSX dataset to the result of a slow, fallible lookup " +
		"(by default: school contact e-mails from a site search), with pause, save-and-quit, " +
		"crash recovery and interactive handling of network errors.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
