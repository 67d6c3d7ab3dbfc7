package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	// conversations list
	convListPage  int
	convListLimit int
	convListJSON  bool
)

// ============================================================================
// Root conversations command
// ============================================================================

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"conv"},
	Short:   "Manage conversations",
}

// ============================================================================
// conversations list
// ============================================================================

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		list, err := client.ListConversations(ctx, convListPage, convListLimit)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if convListJSON {
			data, _ := json.MarshalIndent(list, "", "  ")
			fmt.Println(string(data))
			return nil
		}

		if len(list.Conversations) == 0 {
			fmt.Println("No conversations found.")
			return nil
		}

		me := selfID()
		for _, conv := range list.Conversations {
			other := conv.Other(me)
			name := "(unknown)"
			if other != nil {
				name = fmt.Sprintf("%s [%s]", other.Name, other.Role)
			}
			preview := ""
			if conv.LastMessage != nil {
				preview = conv.LastMessage.Text
				if len(preview) > 60 {
					preview = preview[:57] + "..."
				}
			}
			unread := ""
			if n := conv.UnreadFor(me); n > 0 {
				unread = fmt.Sprintf(" (%d unread)", n)
			}
			fmt.Printf("%s  %-30s%s  %s\n", conv.ID, name, unread, preview)
		}
		if p := list.Pagination; p != nil {
			fmt.Printf("\nPage %d of %d (%d total)\n", p.Page, p.Pages, p.Total)
		}
		return nil
	},
}

// ============================================================================
// conversations create
// ============================================================================

var conversationsCreateCmd = &cobra.Command{
	Use:   "create <user-id>",
	Short: "Start a conversation with a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		conv, err := client.CreateConversation(ctx, args[0])
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Conversation %s ready\n", conv.ID)
		return nil
	},
}

// ============================================================================
// conversations delete
// ============================================================================

var conversationsDeleteCmd = &cobra.Command{
	Use:   "delete <conversation-id>",
	Short: "Delete a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := client.DeleteConversation(ctx, args[0]); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Println("Conversation deleted.")
		return nil
	},
}

// ============================================================================
// Command registration
// ============================================================================

func init() {
	conversationsListCmd.Flags().IntVar(&convListPage, "page", 1, "page number")
	conversationsListCmd.Flags().IntVar(&convListLimit, "limit", 20, "conversations per page")
	conversationsListCmd.Flags().BoolVar(&convListJSON, "json", false, "output raw JSON")

	conversationsCmd.AddCommand(conversationsListCmd)
	conversationsCmd.AddCommand(conversationsCreateCmd)
	conversationsCmd.AddCommand(conversationsDeleteCmd)
	rootCmd.AddCommand(conversationsCmd)
}
