package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	loginCmd.Flags().StringVar(&loginUserID, "user-id", "", "your user id (used to resolve conversation peers)")
	rootCmd.AddCommand(loginCmd)
}

var loginUserID string

var loginCmd = &cobra.Command{
	Use:   "login <token>",
	Short: "Store an authentication token",
	Long:  "Store a Creatorlane session token in ~/.creatorlane/config.toml.\nObtain a token from your account settings page.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Auth.Token = args[0]
		if loginUserID != "" {
			cfg.Auth.UserID = loginUserID
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Println("Token saved.")
		return nil
	},
}
