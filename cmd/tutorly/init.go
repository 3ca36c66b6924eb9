package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	tutorly "github.com/tutorly/tutorly-go"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init [base-url]",
	Short: "Create ~/.tutorly/config.toml",
	Long:  "Initialize the Tutorly CLI by storing the marketplace API URL in the local configuration file.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		baseURL := tutorly.DefaultBaseURL
		if len(args) == 1 {
			baseURL = strings.TrimRight(args[0], "/")
		}

		cfg, err := readConfigFile()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Default.BaseURL = baseURL
		if cfg.Server.Addr == "" {
			cfg.Server.Addr = defaultServeAddr
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Configuration saved to %s\n", path)
		return nil
	},
}
