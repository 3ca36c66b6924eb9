package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	tutorly "github.com/tutorly/tutorly-go"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and account status",
	Long:  "Display the current configuration, check whether the session token has expired, and fetch live counts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Configuration:")
		fmt.Printf("  Base URL: %s\n", valueOrDefault(cfg.Default.BaseURL, tutorly.DefaultBaseURL+" (default)"))

		fmt.Println()
		fmt.Println("Auth:")
		fmt.Printf("  Email:    %s\n", valueOrDefault(cfg.Auth.Email, "(not logged in)"))
		if cfg.Auth.UserID != "" {
			fmt.Printf("  User ID:  %s\n", cfg.Auth.UserID)
		}

		token := cfg.Auth.Token
		if env := os.Getenv("TUTORLY_TOKEN"); env != "" {
			token = env
		}
		tokenStatus := "none"
		if token != "" {
			if expires, ok := tutorly.TokenExpiry(token); ok {
				if time.Now().Before(expires) {
					tokenStatus = fmt.Sprintf("valid (expires %s)", humanize.Time(expires))
				} else {
					tokenStatus = fmt.Sprintf("EXPIRED (%s)", humanize.Time(expires))
				}
			} else {
				tokenStatus = "present (no expiry)"
			}
			tokenStatus += "  " + maskKey(token)
		}
		fmt.Printf("  Token:    %s\n", tokenStatus)

		if token == "" || !tutorly.TokenValid(token, time.Now()) {
			return nil
		}

		fmt.Println()
		fmt.Println("Live status:")

		client, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		convs, err := client.Conversations.List(ctx)
		if err != nil {
			fmt.Printf("  Error fetching conversations: %v\n", err)
			return nil
		}
		notes, err := client.Notifications.List(ctx)
		if err != nil {
			fmt.Printf("  Error fetching notifications: %v\n", err)
			return nil
		}
		unread := 0
		for _, n := range notes {
			if !n.IsRead {
				unread++
			}
		}
		fmt.Printf("  Conversations: %s\n", humanize.Comma(int64(len(convs))))
		fmt.Printf("  Notifications: %s (%s unread)\n", humanize.Comma(int64(len(notes))), humanize.Comma(int64(unread)))
		return nil
	},
}

// maskKey shows the first 8 and last 4 characters of a token.
func maskKey(key string) string {
	if len(key) <= 16 {
		return "****"
	}
	return key[:8] + "..." + key[len(key)-4:]
}
