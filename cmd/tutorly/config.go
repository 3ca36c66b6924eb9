package main

import (
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage Tutorly configuration",
	Long:  "View or modify the Tutorly CLI configuration stored in ~/.tutorly/config.toml.",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: "Print the configuration after TUTORLY_* environment overrides are applied.\n" +
		"The session token and server secrets are masked.",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if token := os.Getenv("TUTORLY_TOKEN"); token != "" {
			cfg.Auth.Token = token
		}
		data, err := renderConfig(cfg)
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			fmt.Printf("# %s does not exist; showing defaults and environment only\n", path)
		} else {
			fmt.Printf("# %s\n", path)
		}
		fmt.Print(string(data))
		return nil
	},
}

// renderConfig encodes cfg as TOML with credentials masked.
func renderConfig(cfg *Config) ([]byte, error) {
	shown := *cfg
	for _, v := range []*string{&shown.Auth.Token, &shown.Server.JWTSecret, &shown.Server.WebhookSecret} {
		if *v != "" {
			*v = maskKey(*v)
		}
	}
	data, err := toml.Marshal(shown)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value using dot notation.\nExample: tutorly config set default.base_url https://api.tutorly.dev",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		cfg, err := readConfigFile()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if err := setConfigValue(cfg, key, value); err != nil {
			return err
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Printf("Set %s = %s\n", key, value)
		return nil
	},
}
