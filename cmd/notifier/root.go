package main

import (
	"fmt"

	"github.com/samvad-hq/samvad-notifier/internal/config"
	"github.com/spf13/cobra"
)

var globalConfig *config.Config

var rootCmd = &cobra.Command{
	Use:           "notifier",
	Short:         "Poll content platforms and notify subscribers about new posts",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "help" {
			return nil
		}
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		globalConfig = cfg
		return nil
	},
}
