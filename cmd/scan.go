package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/seo-pipeline/internal/queue"
	"github.com/sells-group/seo-pipeline/internal/stage"
)

var (
	scanDebug   bool
	scanTimeout time.Duration
)

var scanCmd = &cobra.Command{
	Use:   "scan <website-id>",
	Short: "Enqueue a scan for a website",
	Long: "Enqueues the scan stage. With the memory queue backend the stages run " +
		"in this process until the chain for the website has finished.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		site, err := env.Store.GetWebsite(ctx, args[0])
		if err != nil {
			return err
		}
		if site == nil {
			return eris.Errorf("website %s not found", args[0])
		}

		job, err := stage.Trigger(ctx, env.Broker, site.ID, scanDebug)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "accepted %s (job %s)\n", site.ID, job.ID)

		mem, ok := env.Broker.(*queue.MemoryBroker)
		if !ok {
			return nil
		}
		return drainInline(ctx, env, mem, scanTimeout)
	},
}

// drainInline runs every stage in-process until the memory broker holds no
// pending or leased jobs.
func drainInline(ctx context.Context, env *appEnv, mem *queue.MemoryBroker, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	w := newWorker(env, nil)
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			<-done
			return eris.Wrap(ctx.Err(), "pipeline did not finish")
		case err := <-done:
			return err
		case <-tick.C:
			if idle(mem) {
				cancel()
				<-done
				zap.L().Info("pipeline finished")
				return nil
			}
		}
	}
}

func idle(mem *queue.MemoryBroker) bool {
	if mem.InFlight() > 0 {
		return false
	}
	for _, q := range queue.Names() {
		if mem.Len(q) > 0 {
			return false
		}
	}
	return true
}

func init() {
	scanCmd.Flags().BoolVar(&scanDebug, "debug", false, "run the scan stage only")
	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", 10*time.Minute, "inline run timeout (memory backend)")
	rootCmd.AddCommand(scanCmd)
}
