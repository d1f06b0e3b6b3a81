package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type rootOptions struct {
	configPath string
	envFiles   []string
}

func main() {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "supportagent",
		Short:         "documentation support agent: ingestion pipeline and cited answers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "config.yaml", "path to config file (yaml or json)")
	rootCmd.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, "dotenv files loaded before the config")

	rootCmd.AddCommand(
		newScrapeCmd(opts),
		newChunkCmd(opts),
		newEmbedCmd(opts),
		newFullCmd(opts),
		newRetryFailedCmd(opts),
		newReconcileCmd(opts),
		newResetIndexCmd(opts),
		newStatsCmd(opts),
		newAskCmd(opts),
		newServeCmd(opts),
		newMCPCmd(opts),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		logutil.GetLogger(context.Background()).Error("command failed", zap.Error(err))
		os.Exit(1)
	}
}
