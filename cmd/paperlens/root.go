package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/paperlens/backend/internal/app"
	"github.com/paperlens/backend/pkg/config"
	"github.com/paperlens/backend/pkg/logger"
)

var (
	cfg         *config.Config
	application *app.App
	verbose     bool
)

var (
	heading = color.New(color.FgCyan, color.Bold).SprintFunc()
	label   = color.New(color.FgGreen, color.Bold).SprintFunc()
	muted   = color.New(color.FgHiBlack).SprintFunc()
	warn    = color.New(color.FgYellow).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:   "paperlens",
	Short: "Analyze research papers from the terminal",
	Long:  "Parses a paper, runs the tiered analysis, keeps a history of recent papers and reports evaluation quality.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		level := "warn"
		if verbose {
			level = "debug"
		}
		if err := logger.Init(level, "console", "stderr"); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		a, err := app.New(cmd.Context(), cfg, logger.GetLogger())
		if err != nil {
			return err
		}
		application = a
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if application != nil {
			if err := application.Close(); err != nil {
				fmt.Fprintln(os.Stderr, warn("close storage:"), err)
			}
		}
		logger.Sync()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
