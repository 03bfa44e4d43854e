package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/flowguard/internal/messaging"
	natsclient "github.com/telhawk-systems/flowguard/internal/messaging/nats"
	"github.com/telhawk-systems/flowguard/internal/pipeline"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print batch results as workers publish them",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext()
		defer stop()

		client, err := natsclient.NewClient(natsConfig(cfg), logger)
		if err != nil {
			return err
		}
		defer client.Close()

		if _, err := client.Subscribe(messaging.SubjectResultsBatch, printSummary); err != nil {
			return err
		}
		out.Info("Watching %s (Ctrl+C to stop)", messaging.SubjectResultsBatch)
		<-ctx.Done()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func printSummary(_ context.Context, msg *messaging.Message) error {
	var summary pipeline.BatchSummary
	if err := json.Unmarshal(msg.Data, &summary); err != nil {
		return fmt.Errorf("decode summary: %w", err)
	}
	fmt.Fprintln(out.Out, formatSummary(&summary))
	return nil
}

func formatSummary(s *pipeline.BatchSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-7s %-7s persisted=%d errors=%d", s.BatchID, s.Kind, s.Status, s.Persisted, len(s.Errors))
	for _, svc := range s.Services {
		fmt.Fprintf(&b, "\n  %s", svc.Service)
		if svc.Snapshot != nil {
			fmt.Fprintf(&b, " error_rate=%.4f p95=%dms tps=%.2f", svc.Snapshot.ErrorRate, svc.Snapshot.P95LatencyMs, svc.Snapshot.TPS)
		}
		if svc.Anomaly.IsAnomaly {
			fmt.Fprintf(&b, " anomaly=%q", svc.Anomaly.Reason)
		}
		for _, o := range svc.Outcomes {
			fmt.Fprintf(&b, " %s->%s(%s)", o.Reason, o.Channel, out.Severity(o.Severity))
		}
		if svc.Error != "" {
			fmt.Fprintf(&b, " error=%q", svc.Error)
		}
	}
	return b.String()
}
