package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/seo-pipeline/internal/queue"
)

var workerQueues []string

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume stage queues until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		queues, err := queue.ParseNames(workerQueues)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "worker")
		if err != nil {
			return err
		}
		defer env.Close()

		if cfg.Queue.Backend == "memory" {
			zap.L().Warn("memory queue backend only sees jobs enqueued by this process")
		}
		return newWorker(env, queues).Run(ctx)
	},
}

func init() {
	workerCmd.Flags().StringSliceVar(&workerQueues, "queues", nil, "queues to consume (default all: scan,analyze,strategy,article)")
	rootCmd.AddCommand(workerCmd)
}
