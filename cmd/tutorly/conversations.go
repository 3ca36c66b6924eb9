package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	tutorly "github.com/tutorly/tutorly-go"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	// conversations list
	conversationsJSON bool

	// conversations create
	conversationsCreateMembers string
	conversationsCreateBody    string

	// messages
	messagesLimit  int
	messagesBefore string
	messagesJSON   bool

	// send
	sendJSON bool
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"conv"},
	Short:   "List and start conversations",
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your conversations, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		convs, err := client.Conversations.List(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if conversationsJSON {
			return printJSON(convs)
		}
		if len(convs) == 0 {
			fmt.Println("No conversations.")
			return nil
		}
		for _, c := range convs {
			preview := "(no messages)"
			if c.LastMessage != nil {
				preview = truncate(c.LastMessage.Body, 48)
			}
			fmt.Printf("%-36s  %-14s  %s\n", c.ID, humanize.Time(c.UpdatedAt), preview)
			fmt.Printf("  members: %s\n", strings.Join(c.Members, ", "))
		}
		return nil
	},
}

var conversationsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Start a conversation with other users",
	RunE: func(cmd *cobra.Command, args []string) error {
		members := splitList(conversationsCreateMembers)
		if len(members) == 0 {
			return fmt.Errorf("--members is required")
		}
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		conv, err := client.Conversations.Create(ctx, &tutorly.CreateConversationOptions{
			Members: members,
			Body:    conversationsCreateBody,
		})
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		fmt.Printf("Conversation created: %s\n", conv.ID)
		return nil
	},
}

var messagesCmd = &cobra.Command{
	Use:   "messages <conversation-id>",
	Short: "Show the message history of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		msgs, err := client.Messages.List(ctx, args[0], &tutorly.ListMessagesOptions{
			Limit:  messagesLimit,
			Before: messagesBefore,
		})
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if messagesJSON {
			return printJSON(msgs)
		}
		self := client.Session().UserID
		for _, m := range msgs {
			sender := m.SenderID
			if sender == self {
				sender = "you"
			}
			status := ""
			switch {
			case m.IsRead:
				status = " (read)"
			case m.Delivered:
				status = " (delivered)"
			}
			fmt.Printf("[%s] %s: %s%s\n", m.SentAt.Local().Format("2006-01-02 15:04"), sender, m.Body, status)
		}
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> <message>",
	Short: "Send a message to a conversation",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		msg, err := client.Messages.Send(ctx, args[0], strings.Join(args[1:], " "))
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if sendJSON {
			return printJSON(msg)
		}
		fmt.Printf("Message sent (id: %s)\n", msg.ID)
		return nil
	},
}

func init() {
	conversationsListCmd.Flags().BoolVar(&conversationsJSON, "json", false, "Output raw JSON")

	conversationsCreateCmd.Flags().StringVar(&conversationsCreateMembers, "members", "", "Comma-separated user IDs")
	conversationsCreateCmd.Flags().StringVar(&conversationsCreateBody, "body", "", "Optional first message")

	messagesCmd.Flags().IntVarP(&messagesLimit, "limit", "n", 50, "Maximum number of messages")
	messagesCmd.Flags().StringVar(&messagesBefore, "before", "", "Only messages older than this message ID")
	messagesCmd.Flags().BoolVar(&messagesJSON, "json", false, "Output raw JSON")

	sendCmd.Flags().BoolVar(&sendJSON, "json", false, "Output raw JSON")

	conversationsCmd.AddCommand(conversationsListCmd, conversationsCreateCmd)
	rootCmd.AddCommand(conversationsCmd, messagesCmd, sendCmd)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
