package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pratik-mahalle/vigil/internal/domain/alert"
	"github.com/pratik-mahalle/vigil/internal/domain/rule"
	"github.com/pratik-mahalle/vigil/internal/pkg/utils"
)

func newAlertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alert",
		Short: "Manage alert instances",
	}

	cmd.AddCommand(newAlertListCmd())
	cmd.AddCommand(newAlertGetCmd())
	cmd.AddCommand(newAlertDashboardCmd())
	cmd.AddCommand(newAlertHistoryCmd())
	cmd.AddCommand(newAlertAcknowledgeCmd())
	cmd.AddCommand(newAlertResolveCmd())
	cmd.AddCommand(newAlertEvaluateCmd())

	return cmd
}

func newAlertEvaluateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate",
		Short: "Run one evaluation sweep over all enabled rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := backend.alerts.EvaluateAll(context.Background())
			if err != nil {
				return fmt.Errorf("evaluation sweep failed: %w", err)
			}

			if getOutputFormat() != "table" {
				return printOutput(records)
			}

			t := NewTable("RULE", "VALUE", "THRESHOLD", "TRIGGERED", "INSTANCE", "ERROR")
			triggered := 0
			for _, rec := range records {
				if rec.Triggered {
					triggered++
				}
				t.AddRow(
					strconv.FormatInt(rec.RuleID, 10),
					fmt.Sprintf("%g", rec.MetricValue),
					fmt.Sprintf("%g", rec.ThresholdValue),
					fmt.Sprintf("%v", rec.Triggered),
					rec.InstanceID,
					truncate(rec.Error, 40),
				)
			}
			t.Render()
			fmt.Printf("\n%d rules evaluated, %d breaching\n", len(records), triggered)
			return nil
		},
	}
}

func alertFilterFlags(cmd *cobra.Command, ruleID *int64, state, severity *string) {
	cmd.Flags().Int64Var(ruleID, "rule", 0, "filter by rule ID")
	cmd.Flags().StringVar(state, "state", "", "filter by state: triggered, acknowledged, resolved")
	cmd.Flags().StringVar(severity, "severity", "", "filter by severity")
}

func renderInstances(instances []*alert.Instance, total int64) {
	t := NewTable("ID", "RULE", "STATE", "SEVERITY", "VALUE", "ESC", "TRIGGERED")
	for _, i := range instances {
		t.AddRow(
			i.ID,
			strconv.FormatInt(i.RuleID, 10),
			formatState(string(i.State)),
			formatSeverity(string(i.Severity)),
			fmt.Sprintf("%g", i.MetricValue),
			strconv.Itoa(i.EscalationLevel),
			formatTime(i.TriggeredAt),
		)
	}
	t.Render()
	fmt.Printf("\n%d instances\n", total)
}

func newAlertListCmd() *cobra.Command {
	var ruleID int64
	var state, severity string
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List alert instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := alert.Filter{
				RuleID:   ruleID,
				State:    alert.State(state),
				Severity: rule.Severity(severity),
			}

			limit, offset := utils.ClampPagination(limit, offset)
			instances, total, err := backend.alerts.List(context.Background(), userID(), filter, limit, offset)
			if err != nil {
				return fmt.Errorf("failed to list alerts: %w", err)
			}

			if getOutputFormat() != "table" {
				return printOutput(instances)
			}

			renderInstances(instances, total)
			return nil
		},
	}

	alertFilterFlags(cmd, &ruleID, &state, &severity)
	cmd.Flags().IntVar(&limit, "limit", utils.DefaultPageSize, "maximum results")
	cmd.Flags().IntVar(&offset, "offset", 0, "results to skip")

	return cmd
}

func newAlertGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get alert instance details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inst, err := backend.alerts.GetByID(context.Background(), userID(), args[0])
			if err != nil {
				return fmt.Errorf("failed to get alert: %w", err)
			}

			if getOutputFormat() != "table" {
				return printOutput(inst)
			}

			fmt.Printf("ID:           %s\n", inst.ID)
			fmt.Printf("Rule:         %d\n", inst.RuleID)
			fmt.Printf("State:        %s\n", formatState(string(inst.State)))
			fmt.Printf("Severity:     %s\n", formatSeverity(string(inst.Severity)))
			fmt.Printf("Metric value: %g\n", inst.MetricValue)
			fmt.Printf("Escalation:   %d\n", inst.EscalationLevel)
			fmt.Printf("Triggered:    %s\n", formatTime(inst.TriggeredAt))
			fmt.Printf("Acknowledged: %s", formatTimePtr(inst.AcknowledgedAt))
			if inst.AcknowledgedBy != "" {
				fmt.Printf(" by %s", inst.AcknowledgedBy)
			}
			fmt.Println()
			fmt.Printf("Resolved:     %s", formatTimePtr(inst.ResolvedAt))
			if inst.ResolvedBy != "" {
				fmt.Printf(" by %s", inst.ResolvedBy)
			}
			fmt.Println()
			return nil
		},
	}
}

func newAlertDashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Show the alert dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := backend.alerts.GetDashboard(context.Background(), userID())
			if err != nil {
				return fmt.Errorf("failed to get dashboard: %w", err)
			}

			if getOutputFormat() != "table" {
				return printOutput(d)
			}

			fmt.Println("By state:")
			for _, s := range []alert.State{alert.StateTriggered, alert.StateAcknowledged, alert.StateResolved} {
				fmt.Printf("  %-14s %d\n", s, d.CountsByState[s])
			}
			fmt.Println("Active by severity:")
			for _, s := range []rule.Severity{rule.SeverityCritical, rule.SeverityHigh, rule.SeverityMedium, rule.SeverityLow} {
				if n := d.ActiveBySeverity[s]; n > 0 {
					fmt.Printf("  %-14s %d\n", s, n)
				}
			}
			if len(d.Recent) > 0 {
				fmt.Println("\nRecent:")
				renderInstances(d.Recent, int64(len(d.Recent)))
			}
			return nil
		},
	}
}

func newAlertHistoryCmd() *cobra.Command {
	var ruleID int64
	var state, severity string
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List resolved alert instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := alert.Filter{
				RuleID:   ruleID,
				Severity: rule.Severity(severity),
			}

			limit, offset := utils.ClampPagination(limit, offset)
			instances, total, err := backend.alerts.GetHistory(context.Background(), userID(), filter, limit, offset)
			if err != nil {
				return fmt.Errorf("failed to get history: %w", err)
			}

			if getOutputFormat() != "table" {
				return printOutput(instances)
			}

			renderInstances(instances, total)
			return nil
		},
	}

	alertFilterFlags(cmd, &ruleID, &state, &severity)
	cmd.Flags().IntVar(&limit, "limit", utils.DefaultPageSize, "maximum results")
	cmd.Flags().IntVar(&offset, "offset", 0, "results to skip")

	return cmd
}

func newAlertAcknowledgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "acknowledge <id> [...]",
		Aliases: []string{"ack"},
		Short:   "Acknowledge triggered alerts",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBulk(args, alert.BulkAcknowledge)
		},
	}
}

func newAlertResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <id> [...]",
		Short: "Resolve alerts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBulk(args, alert.BulkResolve)
		},
	}
}

// runBulk applies an operation to every named instance and reports
// per-instance outcomes. A partial failure exits non-zero.
func runBulk(ids []string, op alert.BulkOperation) error {
	results := backend.alerts.BulkOperate(context.Background(), userID(), ids, op)

	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
			fmt.Printf("%s: %s\n", r.ID, r.Error)
		} else {
			fmt.Printf("%s: ok\n", r.ID)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d operations failed", failed, len(results))
	}
	return nil
}
