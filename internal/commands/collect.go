package commands

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/flowguard/internal/collector"
	"github.com/telhawk-systems/flowguard/internal/ingest"
)

var (
	collectInline   bool
	tailBatchSize   int
	tailFlushEvery  time.Duration
	demoServices    []string
	demoSeed        int64
	demoLogEvery    time.Duration
	demoMetricEvery time.Duration
)

var tailCmd = &cobra.Command{
	Use:   "tail <path>",
	Short: "Follow a log file and ingest new lines",
	Long: `Follows a file from its current end. Lines of the form
"service | LEVEL | message" are parsed, with latency=NNNms and status=NNN
extracted from the message; other lines are ingested as INFO records for
the "file-tail" service.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		sink, closeSink, err := collectorSink(ctx)
		if err != nil {
			return err
		}
		defer closeSink()

		return collector.NewTailer(args[0], sink, logger).
			WithBatching(tailBatchSize, tailFlushEvery).
			Run(ctx)
	},
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Generate synthetic logs and metrics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext()
		defer stop()

		sink, closeSink, err := collectorSink(ctx)
		if err != nil {
			return err
		}
		defer closeSink()

		services := cfg.Demo.Services
		if len(demoServices) > 0 {
			services = demoServices
		}
		logEvery, metricEvery := cfg.Demo.LogInterval, cfg.Demo.MetricInterval
		if demoLogEvery > 0 {
			logEvery = demoLogEvery
		}
		if demoMetricEvery > 0 {
			metricEvery = demoMetricEvery
		}

		gen := collector.NewDemoGenerator(sink, services, logger).WithIntervals(logEvery, metricEvery)
		if demoSeed != 0 {
			gen.WithSeed(demoSeed)
		}
		out.Info("Generating data for %s (Ctrl+C to stop)", strings.Join(services, ", "))
		return gen.Run(ctx)
	},
}

func init() {
	for _, c := range []*cobra.Command{tailCmd, demoCmd} {
		c.Flags().BoolVar(&collectInline, "inline", false, "process batches directly against the database instead of publishing to NATS")
		rootCmd.AddCommand(c)
	}

	tailCmd.Flags().IntVar(&tailBatchSize, "batch-size", 100, "maximum lines per batch")
	tailCmd.Flags().DurationVar(&tailFlushEvery, "flush-interval", time.Second, "maximum time a line waits before being sent")

	demoCmd.Flags().StringSliceVar(&demoServices, "services", nil, "services to generate for (default demo.services)")
	demoCmd.Flags().Int64Var(&demoSeed, "seed", 0, "seed for reproducible data")
	demoCmd.Flags().DurationVar(&demoLogEvery, "log-interval", 0, "override demo.log_interval")
	demoCmd.Flags().DurationVar(&demoMetricEvery, "metric-interval", 0, "override demo.metric_interval")
}

// collectorSink publishes to JetStream, or with --inline runs the pipeline
// in-process against the configured database.
func collectorSink(ctx context.Context) (ingest.Sink, func(), error) {
	if !collectInline {
		js, err := connectBroker(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return ingest.NewQueueSink(js), func() { js.Drain() }, nil
	}

	repo, err := openRepository(ctx, cfg, false, logger)
	if err != nil {
		return nil, nil, err
	}
	store, closeStore, err := newWindowStore(ctx, cfg, logger)
	if err != nil {
		repo.Close()
		return nil, nil, err
	}
	sink := ingest.NewInlineSink(newOrchestrator(cfg, repo, store, logger), logger)
	return sink, func() {
		closeStore()
		repo.Close()
	}, nil
}
