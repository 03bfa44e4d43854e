package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/flowguard/internal/models"
	"github.com/telhawk-systems/flowguard/internal/output"
	"github.com/telhawk-systems/flowguard/internal/repository"
)

var (
	alertsService string
	alertsLimit   int
	alertsJSON    bool
)

var testAlertCmd = &cobra.Command{
	Use:   "test-alert [service]",
	Short: "Raise a synthetic alert through the dedup gate and dispatcher",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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

		var service string
		if len(args) == 1 {
			service = args[0]
		}
		result, err := newOrchestrator(cfg, repo, store, logger).DispatchTestAlert(ctx, service)
		if err != nil {
			return err
		}

		if len(result.Outcomes) == 0 {
			out.Warn("No alerts dispatched for %s (suppressed or no channels configured)", result.Service)
			return nil
		}
		table := output.NewTable([]string{"CHANNEL", "REASON", "SEVERITY", "DELIVERED"})
		for _, o := range result.Outcomes {
			table.AddRow([]string{o.Channel, o.Reason, out.Severity(o.Severity), strconv.FormatBool(o.Delivered)})
		}
		table.Render(out.Out)
		return nil
	},
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List recently delivered alerts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := context.Background()
		repo, err := openRepository(ctx, cfg, false, logger)
		if err != nil {
			return err
		}
		defer repo.Close()

		alerts, err := repo.ListAlertEvents(ctx, repository.AlertFilter{Service: alertsService, Limit: alertsLimit})
		if err != nil {
			return fmt.Errorf("failed to list alerts: %w", err)
		}
		if alertsJSON {
			if alerts == nil {
				alerts = []*models.AlertEvent{}
			}
			return out.JSON(alerts)
		}

		table := output.NewTable([]string{"TIME", "SERVICE", "CHANNEL", "SEVERITY", "MESSAGE"})
		for _, a := range alerts {
			table.AddRow([]string{
				a.Timestamp.Format("2006-01-02 15:04:05"),
				a.Service,
				a.Channel,
				out.Severity(a.Severity),
				a.Message,
			})
		}
		table.Render(out.Out)
		return nil
	},
}

func init() {
	alertsCmd.Flags().StringVar(&alertsService, "service", "", "only show alerts for this service")
	alertsCmd.Flags().IntVar(&alertsLimit, "limit", 50, "maximum number of alerts")
	alertsCmd.Flags().BoolVar(&alertsJSON, "json", false, "print JSON instead of a table")
	rootCmd.AddCommand(testAlertCmd, alertsCmd)
}
