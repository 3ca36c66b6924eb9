package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	tutorly "github.com/tutorly/tutorly-go"
)

var watchConversations []string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream realtime events until interrupted",
	Long:  "Open the realtime channel and print presence, typing, message and notification events as they arrive. Press Ctrl+C to stop.",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()
		engine := client.NewEngine(&tutorly.RealtimeConfig{})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var subs tutorly.Subscriptions
		defer subs.Release()

		ev := engine.Channel.Events()
		subs.Add(ev.Connected.Subscribe(func(a tutorly.AuthenticatedEvent) {
			printEvent("connected", "as %s", a.UserID)
		}))
		subs.Add(ev.Disconnected.Subscribe(func(err error) {
			printEvent("disconnected", "%v", err)
		}))
		subs.Add(ev.Reconnecting.Subscribe(func(r tutorly.ReconnectAttempt) {
			printEvent("reconnecting", "attempt %d in %s", r.Attempt, r.Delay)
		}))
		subs.Add(ev.Presence.Subscribe(func(p tutorly.PresenceEvent) {
			state := "offline"
			if p.Online {
				state = "online"
			}
			printEvent("presence", "%s is %s", p.UserID, state)
		}))
		subs.Add(ev.Typing.Subscribe(func(t tutorly.TypingEvent) {
			verb := "stopped typing"
			if t.IsTyping {
				verb = "is typing"
			}
			printEvent("typing", "%s %s in %s", t.UserID, verb, t.ConversationID)
		}))
		subs.Add(ev.NewMessage.Subscribe(func(m tutorly.Message) {
			printEvent("message", "%s in %s: %s", m.SenderID, m.ConversationID, m.Body)
		}))
		subs.Add(ev.ConversationCreated.Subscribe(func(c tutorly.Conversation) {
			printEvent("conversation", "new conversation %s", c.ID)
		}))
		subs.Add(ev.MessagesRead.Subscribe(func(r tutorly.MessagesReadEvent) {
			printEvent("read", "%s read %s", r.UserID, r.ConversationID)
		}))
		subs.Add(ev.MessageDelivered.Subscribe(func(d tutorly.MessageDeliveredEvent) {
			printEvent("delivered", "%s in %s", d.MessageID, d.ConversationID)
		}))
		subs.Add(engine.Notifications.OnChange(func(unread int) {
			printEvent("notification", "%d unread", unread)
		}))

		if _, err := engine.LoadNotifications(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not load notifications: %v\n", err)
		}

		// Rooms joined before the connection opens are joined on every connect.
		for _, id := range watchConversations {
			engine.Channel.JoinConversation(ctx, id)
		}

		fmt.Fprintln(os.Stderr, "Watching realtime events. Press Ctrl+C to stop.")
		err := engine.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	watchCmd.Flags().StringSliceVarP(&watchConversations, "conversation", "c", nil, "Conversation IDs to join (repeatable)")
	rootCmd.AddCommand(watchCmd)
}

func printEvent(kind, format string, args ...any) {
	fmt.Printf("%s  %-12s  %s\n", time.Now().Format("15:04:05"), kind, fmt.Sprintf(format, args...))
}
