package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/samvad-hq/samvad-notifier/internal/app"
	"github.com/samvad-hq/samvad-notifier/internal/logger"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the scheduler, the dialog gateway and the publishers",
	RunE:  runAction,
}

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Poll every platform once and exit",
	RunE:  pollAction,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(pollCmd)
}

func runAction(cmd *cobra.Command, _ []string) error {
	log, err := logger.Init(globalConfig)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Close()

	logger.InfoObj("notifier starting", "config", globalConfig)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notifier, err := app.NewNotifier(ctx, globalConfig, log)
	if err != nil {
		logger.ErrorObj("failed to initialize notifier", "error", err.Error())
		return err
	}
	if err := notifier.Run(ctx); err != nil {
		return fmt.Errorf("notifier run: %w", err)
	}
	return nil
}

func pollAction(cmd *cobra.Command, _ []string) error {
	log, err := logger.Init(globalConfig)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notifier, err := app.NewNotifier(ctx, globalConfig, log)
	if err != nil {
		return err
	}
	defer notifier.Close()
	return notifier.PollOnce(ctx)
}
