package main

import (
	"fmt"
	"os"

	creatorlane "github.com/creatorlane/creatorlane-go"
)

// getClient creates an authenticated Creatorlane client. The CREATORLANE_TOKEN
// and CREATORLANE_BASE_URL environment variables override the config file.
func getClient() *creatorlane.Client {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	token := os.Getenv("CREATORLANE_TOKEN")
	if token == "" {
		token = cfg.Auth.Token
	}
	if token == "" {
		fmt.Fprintln(os.Stderr, "No token. Run 'creatorlane login <token>' first.")
		os.Exit(1)
	}

	baseURL := os.Getenv("CREATORLANE_BASE_URL")
	if baseURL == "" {
		baseURL = cfg.Default.BaseURL
	}

	opts := []creatorlane.ClientOption{
		creatorlane.WithLogger(setupLogger()),
	}
	if baseURL != "" {
		opts = append(opts, creatorlane.WithBaseURL(baseURL))
	}

	return creatorlane.NewClient(token, opts...)
}

// selfID returns the configured user id, or empty if unknown.
func selfID() string {
	cfg, err := loadConfig()
	if err != nil {
		return ""
	}
	return cfg.Auth.UserID
}
