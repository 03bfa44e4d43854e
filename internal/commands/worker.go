package commands

import (
	"github.com/spf13/cobra"

	"github.com/telhawk-systems/flowguard/internal/messaging"
	"github.com/telhawk-systems/flowguard/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume ingestion batches from NATS and run the pipeline",
	Long: `Starts a pipeline worker. Workers share the durable "flowguard-workers"
consumer, so any number can run in parallel. Set detector.state_backend=redis
when running more than one so detector history is shared.`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	repo, err := openRepository(ctx, cfg, false, logger)
	if err != nil {
		return err
	}
	defer repo.Close()

	store, closeStore, err := newWindowStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	js, err := connectBroker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer js.Drain()

	w := worker.New(newOrchestrator(cfg, repo, store, logger), js, logger)
	return w.Run(ctx, js, consumerConfig(cfg, messaging.SubjectBatchesAll))
}
