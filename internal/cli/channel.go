package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pratik-mahalle/vigil/internal/domain/notification"
	"github.com/pratik-mahalle/vigil/internal/pkg/utils"
)

func newChannelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channel",
		Short: "Manage notification channels",
	}

	cmd.AddCommand(newChannelListCmd())
	cmd.AddCommand(newChannelCreateCmd())
	cmd.AddCommand(newChannelDeleteCmd())
	cmd.AddCommand(newChannelTestCmd())
	cmd.AddCommand(newChannelAttachCmd())
	cmd.AddCommand(newChannelDetachCmd())

	return cmd
}

func newChannelListCmd() *cobra.Command {
	var channelType string
	var enabledOnly bool
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notification channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := notification.ChannelFilter{
				Type: notification.ChannelType(channelType),
			}
			if enabledOnly {
				t := true
				filter.Enabled = &t
			}

			limit, offset := utils.ClampPagination(limit, offset)
			channels, total, err := backend.notifications.ListChannels(context.Background(), userID(), filter, limit, offset)
			if err != nil {
				return fmt.Errorf("failed to list channels: %w", err)
			}

			if getOutputFormat() != "table" {
				return printOutput(channels)
			}

			t := NewTable("ID", "NAME", "TYPE", "OWNER", "ENABLED")
			for _, c := range channels {
				t.AddRow(
					strconv.FormatInt(c.ID, 10),
					truncate(c.Name, 40),
					string(c.Type),
					formatOwner(c.UserID),
					formatEnabled(c.Enabled),
				)
			}
			t.Render()
			fmt.Printf("\n%d channels\n", total)
			return nil
		},
	}

	cmd.Flags().StringVar(&channelType, "type", "", "filter by channel type")
	cmd.Flags().BoolVar(&enabledOnly, "enabled", false, "only enabled channels")
	cmd.Flags().IntVar(&limit, "limit", utils.DefaultPageSize, "maximum results")
	cmd.Flags().IntVar(&offset, "offset", 0, "results to skip")

	return cmd
}

func newChannelCreateCmd() *cobra.Command {
	var name, channelType, configJSON string
	var disabled bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a notification channel",
		Long: `Create a notification channel. The config is type-specific JSON, for example:
  vigil channel create --name ops --type webhook --channel-config '{"url":"https://hooks.example.com/ops"}'
  vigil channel create --name oncall --type email --channel-config '{"to":["oncall@example.com"]}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := &notification.Channel{
				Name:    name,
				Type:    notification.ChannelType(channelType),
				Config:  json.RawMessage(configJSON),
				Enabled: !disabled,
			}

			id, err := backend.notifications.CreateChannel(context.Background(), userID(), c)
			if err != nil {
				return fmt.Errorf("failed to create channel: %w", err)
			}

			fmt.Printf("Created channel %d\n", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "channel name")
	cmd.Flags().StringVar(&channelType, "type", "", "channel type: email, webhook, slack")
	cmd.Flags().StringVar(&configJSON, "channel-config", "", "type-specific JSON configuration")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "create the channel disabled")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("channel-config")

	return cmd
}

func newChannelDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a channel and its rule associations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "channel")
			if err != nil {
				return err
			}

			if err := backend.notifications.DeleteChannel(context.Background(), userID(), id); err != nil {
				return fmt.Errorf("failed to delete channel: %w", err)
			}

			fmt.Printf("Deleted channel %d\n", id)
			return nil
		},
	}
}

func newChannelTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test <id>",
		Short: "Send a test notification through a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "channel")
			if err != nil {
				return err
			}

			if err := backend.notifications.TestChannel(context.Background(), userID(), id); err != nil {
				return fmt.Errorf("channel test failed: %w", err)
			}

			fmt.Println("Test notification sent")
			return nil
		},
	}
}

func newChannelAttachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach <channel-id> <rule-id>",
		Short: "Route a rule's alerts through a channel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			channelID, err := parseID(args[0], "channel")
			if err != nil {
				return err
			}
			ruleID, err := parseID(args[1], "rule")
			if err != nil {
				return err
			}

			if err := backend.notifications.Associate(context.Background(), userID(), ruleID, channelID); err != nil {
				return fmt.Errorf("failed to attach channel: %w", err)
			}

			fmt.Printf("Channel %d attached to rule %d\n", channelID, ruleID)
			return nil
		},
	}
}

func newChannelDetachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detach <channel-id> <rule-id>",
		Short: "Stop routing a rule's alerts through a channel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			channelID, err := parseID(args[0], "channel")
			if err != nil {
				return err
			}
			ruleID, err := parseID(args[1], "rule")
			if err != nil {
				return err
			}

			if err := backend.notifications.Dissociate(context.Background(), userID(), ruleID, channelID); err != nil {
				return fmt.Errorf("failed to detach channel: %w", err)
			}

			fmt.Printf("Channel %d detached from rule %d\n", channelID, ruleID)
			return nil
		},
	}
}

func newDeliveryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delivery",
		Short: "Inspect notification deliveries",
	}

	cmd.AddCommand(newDeliveryListCmd())
	cmd.AddCommand(newDeliveryRetryCmd())

	return cmd
}

func newDeliveryListCmd() *cobra.Command {
	var instanceID, status string
	var channelID int64
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List delivery records",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := notification.DeliveryFilter{
				InstanceID: instanceID,
				ChannelID:  channelID,
				Status:     notification.DeliveryStatus(status),
			}

			limit, offset := utils.ClampPagination(limit, offset)
			deliveries, total, err := backend.notifications.ListDeliveries(context.Background(), userID(), filter, limit, offset)
			if err != nil {
				return fmt.Errorf("failed to list deliveries: %w", err)
			}

			if getOutputFormat() != "table" {
				return printOutput(deliveries)
			}

			t := NewTable("ID", "INSTANCE", "CHANNEL", "STATUS", "ATTEMPTS", "NEXT RETRY", "LAST ERROR")
			for _, d := range deliveries {
				t.AddRow(
					d.ID,
					d.InstanceID,
					strconv.FormatInt(d.ChannelID, 10),
					formatState(string(d.Status)),
					strconv.Itoa(d.AttemptCount),
					formatTimePtr(d.NextRetryAt),
					truncate(d.LastError, 40),
				)
			}
			t.Render()
			fmt.Printf("\n%d deliveries\n", total)
			return nil
		},
	}

	cmd.Flags().StringVar(&instanceID, "instance", "", "filter by instance ID")
	cmd.Flags().Int64Var(&channelID, "channel", 0, "filter by channel ID")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().IntVar(&limit, "limit", utils.DefaultPageSize, "maximum results")
	cmd.Flags().IntVar(&offset, "offset", 0, "results to skip")

	return cmd
}

func newDeliveryRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Run one retry sweep over due deliveries",
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := backend.notifications.RetryFailedDeliveries(context.Background())
			if err != nil {
				return fmt.Errorf("retry sweep failed: %w", err)
			}

			if getOutputFormat() != "table" {
				return printOutput(summary)
			}

			fmt.Printf("Due:         %d\n", summary.Due)
			fmt.Printf("Claimed:     %d\n", summary.Claimed)
			fmt.Printf("Succeeded:   %d\n", summary.Succeeded)
			fmt.Printf("Rescheduled: %d\n", summary.Rescheduled)
			fmt.Printf("Failed:      %d\n", summary.Failed)
			return nil
		},
	}
}
