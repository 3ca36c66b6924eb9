package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	tutorly "github.com/tutorly/tutorly-go"
)

var (
	loginPassword string

	registerName     string
	registerPassword string
	registerRole     string

	resetToken    string
	resetPassword string
)

func init() {
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "Account password (defaults to $TUTORLY_PASSWORD)")

	registerCmd.Flags().StringVar(&registerName, "name", "", "Display name")
	registerCmd.Flags().StringVarP(&registerPassword, "password", "p", "", "Account password (defaults to $TUTORLY_PASSWORD)")
	registerCmd.Flags().StringVar(&registerRole, "role", "student", "Account role: student or tutor")

	resetPasswordCmd.Flags().StringVar(&resetToken, "token", "", "Reset token from the recovery email")
	resetPasswordCmd.Flags().StringVarP(&resetPassword, "password", "p", "", "New password")
	resetPasswordCmd.MarkFlagRequired("token")
	resetPasswordCmd.MarkFlagRequired("password")

	rootCmd.AddCommand(loginCmd, registerCmd, logoutCmd, forgotPasswordCmd, resetPasswordCmd)
}

func passwordOrEnv(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if env := os.Getenv("TUTORLY_PASSWORD"); env != "" {
		return env, nil
	}
	return "", fmt.Errorf("password required: pass --password or set TUTORLY_PASSWORD")
}

func rememberEmail(email string) {
	cfg, err := readConfigFile()
	if err != nil {
		return
	}
	cfg.Auth.Email = email
	saveConfig(cfg)
}

var loginCmd = &cobra.Command{
	Use:   "login <email>",
	Short: "Log in and store the session token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := passwordOrEnv(loginPassword)
		if err != nil {
			return err
		}
		client, err := newClient()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		res, err := client.Auth.Login(ctx, &tutorly.LoginOptions{Email: args[0], Password: password})
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
		rememberEmail(args[0])

		fmt.Println("Login successful!")
		fmt.Printf("  User ID: %s\n", res.User.ID)
		fmt.Printf("  Name:    %s\n", valueOrDefault(res.User.Name, "(not set)"))
		if exp, ok := tutorly.TokenExpiry(res.Token); ok {
			fmt.Printf("  Token expires: %s\n", exp.Format(time.RFC3339))
		}
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register <email>",
	Short: "Create an account and log in",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := passwordOrEnv(registerPassword)
		if err != nil {
			return err
		}
		client, err := newClient()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		res, err := client.Auth.Register(ctx, &tutorly.RegisterOptions{
			Email:    args[0],
			Password: password,
			Name:     valueOrDefault(registerName, args[0]),
			Role:     registerRole,
		})
		if err != nil {
			return fmt.Errorf("registration failed: %w", err)
		}
		rememberEmail(args[0])

		fmt.Println("Registration successful!")
		fmt.Printf("  User ID: %s\n", res.User.ID)
		fmt.Printf("  Role:    %s\n", valueOrDefault(res.User.Role, registerRole))
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		if err := client.Auth.Logout(); err != nil {
			return fmt.Errorf("logout failed: %w", err)
		}
		fmt.Println("Logged out.")
		return nil
	},
}

var forgotPasswordCmd = &cobra.Command{
	Use:   "forgot-password <email>",
	Short: "Request a password reset email",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := client.Auth.ForgotPassword(ctx, args[0]); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		fmt.Println("If the address is registered, a reset link is on its way.")
		return nil
	},
}

var resetPasswordCmd = &cobra.Command{
	Use:   "reset-password",
	Short: "Set a new password with a reset token",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := client.Auth.ResetPassword(ctx, &tutorly.ResetPasswordOptions{Token: resetToken, Password: resetPassword}); err != nil {
			return fmt.Errorf("reset failed: %w", err)
		}
		fmt.Println("Password updated. Run 'tutorly login <email>' to continue.")
		return nil
	},
}
