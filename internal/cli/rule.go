package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pratik-mahalle/vigil/internal/domain/rule"
	"github.com/pratik-mahalle/vigil/internal/pkg/utils"
)

func newRuleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rule",
		Short: "Manage alert rules",
	}

	cmd.AddCommand(newRuleListCmd())
	cmd.AddCommand(newRuleGetCmd())
	cmd.AddCommand(newRuleCreateCmd())
	cmd.AddCommand(newRuleUpdateCmd())
	cmd.AddCommand(newRuleDeleteCmd())
	cmd.AddCommand(newRuleTestCmd())

	return cmd
}

func newRuleListCmd() *cobra.Command {
	var alertType, severity string
	var enabledOnly bool
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List alert rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := rule.Filter{
				AlertType: alertType,
				Severity:  rule.Severity(severity),
			}
			if enabledOnly {
				t := true
				filter.Enabled = &t
			}

			limit, offset := utils.ClampPagination(limit, offset)
			rules, total, err := backend.rules.List(context.Background(), userID(), filter, limit, offset)
			if err != nil {
				return fmt.Errorf("failed to list rules: %w", err)
			}

			if getOutputFormat() != "table" {
				return printOutput(rules)
			}

			t := NewTable("ID", "NAME", "METRIC", "CONDITION", "SEVERITY", "OWNER", "ENABLED")
			for _, r := range rules {
				t.AddRow(
					strconv.FormatInt(r.ID, 10),
					truncate(r.Name, 40),
					r.MetricType,
					fmt.Sprintf("%s %g", r.ThresholdOperator, r.ThresholdValue),
					formatSeverity(string(r.Severity)),
					formatOwner(r.UserID),
					formatEnabled(r.Enabled),
				)
			}
			t.Render()
			fmt.Printf("\n%d rules\n", total)
			return nil
		},
	}

	cmd.Flags().StringVar(&alertType, "type", "", "filter by alert type")
	cmd.Flags().StringVar(&severity, "severity", "", "filter by severity")
	cmd.Flags().BoolVar(&enabledOnly, "enabled", false, "only enabled rules")
	cmd.Flags().IntVar(&limit, "limit", utils.DefaultPageSize, "maximum results")
	cmd.Flags().IntVar(&offset, "offset", 0, "results to skip")

	return cmd
}

func newRuleGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get rule details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "rule")
			if err != nil {
				return err
			}

			r, err := backend.rules.GetByID(context.Background(), userID(), id)
			if err != nil {
				return fmt.Errorf("failed to get rule: %w", err)
			}

			if getOutputFormat() != "table" {
				return printOutput(r)
			}

			fmt.Printf("ID:        %d\n", r.ID)
			fmt.Printf("Name:      %s\n", r.Name)
			fmt.Printf("Type:      %s\n", r.AlertType)
			fmt.Printf("Metric:    %s\n", r.MetricType)
			fmt.Printf("Condition: %s %g\n", r.ThresholdOperator, r.ThresholdValue)
			fmt.Printf("Severity:  %s\n", formatSeverity(string(r.Severity)))
			fmt.Printf("Owner:     %s\n", formatOwner(r.UserID))
			fmt.Printf("Enabled:   %s\n", formatEnabled(r.Enabled))
			fmt.Printf("Created:   %s\n", formatTime(r.CreatedAt))
			return nil
		},
	}
}

func newRuleCreateCmd() *cobra.Command {
	var name, alertType, metricType, operator, severity string
	var threshold float64
	var disabled bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an alert rule",
		RunE: func(cmd *cobra.Command, args []string) error {
			r := &rule.AlertRule{
				Name:              name,
				AlertType:         alertType,
				MetricType:        metricType,
				ThresholdValue:    threshold,
				ThresholdOperator: rule.Operator(operator),
				Severity:          rule.Severity(severity),
				Enabled:           !disabled,
			}

			id, err := backend.rules.Create(context.Background(), userID(), r)
			if err != nil {
				return fmt.Errorf("failed to create rule: %w", err)
			}

			fmt.Printf("Created rule %d\n", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "rule name")
	cmd.Flags().StringVar(&alertType, "type", "system", "alert type")
	cmd.Flags().StringVar(&metricType, "metric", "", "metric type to evaluate")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "threshold value")
	cmd.Flags().StringVar(&operator, "operator", ">", "comparison operator: > >= < <= == !=")
	cmd.Flags().StringVar(&severity, "severity", "medium", "severity: low, medium, high, critical")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "create the rule disabled")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("metric")
	_ = cmd.MarkFlagRequired("threshold")

	return cmd
}

func newRuleUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <id> <field>=<value> [...]",
		Short: "Update rule fields",
		Long: `Update one or more rule fields, for example:
  vigil rule update 3 threshold_value=90 severity=critical enabled=false`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "rule")
			if err != nil {
				return err
			}

			updates, err := parseFieldUpdates(args[1:])
			if err != nil {
				return err
			}

			r, err := backend.rules.Update(context.Background(), userID(), id, updates)
			if err != nil {
				return fmt.Errorf("failed to update rule: %w", err)
			}

			fmt.Printf("Updated rule %d\n", r.ID)
			return nil
		},
	}

	return cmd
}

func newRuleDeleteCmd() *cobra.Command {
	var cascade bool

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "rule")
			if err != nil {
				return err
			}

			if err := backend.rules.Delete(context.Background(), userID(), id, cascade); err != nil {
				return fmt.Errorf("failed to delete rule: %w", err)
			}

			fmt.Printf("Deleted rule %d\n", id)
			return nil
		},
	}

	cmd.Flags().BoolVar(&cascade, "cascade", false, "resolve active instances before deleting")

	return cmd
}

func newRuleTestCmd() *cobra.Command {
	var value float64

	cmd := &cobra.Command{
		Use:   "test <id>",
		Short: "Dry-run a rule without persisting an alert",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "rule")
			if err != nil {
				return err
			}

			params := rule.TestParams{}
			if cmd.Flags().Changed("value") {
				params.MetricValue = &value
			}

			result, err := backend.rules.Test(context.Background(), userID(), id, params)
			if err != nil {
				return fmt.Errorf("failed to test rule: %w", err)
			}

			if getOutputFormat() != "table" {
				return printOutput(result)
			}

			fmt.Printf("Metric value:  %g\n", result.MetricValue)
			fmt.Printf("Threshold:     %g\n", result.ThresholdValue)
			fmt.Printf("Decision:      %s\n", result.Decision)
			fmt.Printf("Would trigger: %v\n", result.WouldTrigger)
			return nil
		},
		Args: cobra.ExactArgs(1),
	}

	cmd.Flags().Float64Var(&value, "value", 0, "metric value override")

	return cmd
}

// parseFieldUpdates turns key=value arguments into an update map, converting
// the typed rule fields from their string form.
func parseFieldUpdates(args []string) (map[string]interface{}, error) {
	updates := make(map[string]interface{}, len(args))
	for _, arg := range args {
		key, value, ok := splitKeyValue(arg)
		if !ok {
			return nil, fmt.Errorf("invalid field update %q, want <field>=<value>", arg)
		}

		switch key {
		case "threshold_value":
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number for %s: %s", key, value)
			}
			updates[key] = f
		case "enabled":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return nil, fmt.Errorf("invalid boolean for %s: %s", key, value)
			}
			updates[key] = b
		default:
			updates[key] = value
		}
	}
	return updates, nil
}

func splitKeyValue(arg string) (string, string, bool) {
	for i := 0; i < len(arg); i++ {
		if arg[i] == '=' {
			return arg[:i], arg[i+1:], i > 0
		}
	}
	return "", "", false
}

func parseID(arg, what string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s ID: %s", what, arg)
	}
	return id, nil
}
