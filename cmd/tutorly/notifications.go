package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	notificationsJSON   bool
	notificationsUnread bool
)

var notificationsCmd = &cobra.Command{
	Use:     "notifications",
	Aliases: []string{"notif"},
	Short:   "List and acknowledge notifications",
}

var notificationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List notifications, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		list, err := client.Notifications.List(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if notificationsUnread {
			unread := list[:0]
			for _, n := range list {
				if !n.IsRead {
					unread = append(unread, n)
				}
			}
			list = unread
		}
		if notificationsJSON {
			return printJSON(list)
		}
		if len(list) == 0 {
			fmt.Println("No notifications.")
			return nil
		}
		for _, n := range list {
			mark := " "
			if !n.IsRead {
				mark = "*"
			}
			fmt.Printf("%s %-36s  %-18s  %s\n", mark, n.ID, n.Type, humanize.Time(n.CreatedAt))
		}
		return nil
	},
}

var notificationsReadCmd = &cobra.Command{
	Use:   "read <notification-id>",
	Short: "Mark one notification as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := client.Notifications.MarkRead(ctx, args[0]); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		fmt.Println("Marked as read.")
		return nil
	},
}

var notificationsReadAllCmd = &cobra.Command{
	Use:   "read-all",
	Short: "Mark every notification as read",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := client.Notifications.MarkAllRead(ctx); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		fmt.Println("All notifications marked as read.")
		return nil
	},
}

func init() {
	notificationsListCmd.Flags().BoolVar(&notificationsJSON, "json", false, "Output raw JSON")
	notificationsListCmd.Flags().BoolVar(&notificationsUnread, "unread", false, "Only unread notifications")

	notificationsCmd.AddCommand(notificationsListCmd, notificationsReadCmd, notificationsReadAllCmd)
	rootCmd.AddCommand(notificationsCmd)
}
