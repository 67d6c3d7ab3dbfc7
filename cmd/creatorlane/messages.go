package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	creatorlane "github.com/creatorlane/creatorlane-go"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	// messages list
	msgListPage  int
	msgListLimit int
	msgListJSON  bool

	// messages send
	msgSendAttach string
	msgSendQueue  bool
)

// ============================================================================
// Outbox storage
// ============================================================================

// openOutbox opens the persistent outbox database at ~/.creatorlane/outbox.db.
func openOutbox() (*creatorlane.BoltOutbox, error) {
	dir, err := configDir()
	if err != nil {
		return nil, err
	}
	return creatorlane.OpenBoltOutbox(filepath.Join(dir, "outbox.db"))
}

// ============================================================================
// Root messages command
// ============================================================================

var messagesCmd = &cobra.Command{
	Use:     "messages",
	Aliases: []string{"msg"},
	Short:   "Read and send messages",
}

// ============================================================================
// messages list
// ============================================================================

var messagesListCmd = &cobra.Command{
	Use:   "list <conversation-id>",
	Short: "Show messages in a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		page, err := client.GetMessages(ctx, args[0], msgListPage, msgListLimit)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if msgListJSON {
			data, _ := json.MarshalIndent(page, "", "  ")
			fmt.Println(string(data))
			return nil
		}

		if len(page.Messages) == 0 {
			fmt.Println("No messages found.")
			return nil
		}

		for _, msg := range page.Messages {
			read := " "
			if msg.IsRead {
				read = "✓"
			}
			fmt.Printf("[%s] %s %s: %s\n", msg.CreatedAt.Format(time.RFC3339), read, msg.Sender.Name, msg.Text)
			for _, a := range msg.Attachments {
				fmt.Printf("    attachment: %s (%s)\n", a.Name, a.MimeType)
			}
		}
		fmt.Printf("\nPage %d of %d\n", page.Pagination.Page, page.Pagination.Pages)
		return nil
	},
}

// ============================================================================
// messages send
// ============================================================================

var messagesSendCmd = &cobra.Command{
	Use:   "send <conversation-id> <text>",
	Short: "Send a message",
	Long:  "Send a message to a conversation. If the request fails with a network error,\nthe message is queued in the local outbox and retried by 'creatorlane outbox flush'.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		conversationID, text := args[0], args[1]
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		req := &creatorlane.SendMessageRequest{
			ConversationID: conversationID,
			Text:           text,
			ClientID:       uuid.NewString(),
		}

		if msgSendAttach != "" {
			data, err := os.ReadFile(msgSendAttach)
			if err != nil {
				return fmt.Errorf("cannot read attachment: %w", err)
			}
			att, err := client.UploadAttachment(ctx, data, filepath.Base(msgSendAttach), "")
			if err != nil {
				return fmt.Errorf("attachment upload failed: %w", err)
			}
			req.Attachments = []creatorlane.Attachment{*att}
		}

		msg, err := client.SendMessage(ctx, req)
		if err != nil {
			var apiErr *creatorlane.APIError
			if msgSendQueue && !errors.As(err, &apiErr) && !errors.Is(err, creatorlane.ErrUnauthorized) {
				storage, oerr := openOutbox()
				if oerr != nil {
					return fmt.Errorf("send failed (%v) and outbox unavailable: %w", err, oerr)
				}
				defer storage.Close()
				ob := creatorlane.NewOutbox(client, storage, nil)
				if qerr := ob.EnqueueSend(req); qerr != nil {
					return fmt.Errorf("send failed (%v) and queueing failed: %w", err, qerr)
				}
				fmt.Println("Send failed; message queued in outbox.")
				return nil
			}
			return fmt.Errorf("send failed: %w", err)
		}

		fmt.Printf("Sent message %s\n", msg.ID)
		return nil
	},
}

// ============================================================================
// unread
// ============================================================================

var unreadCmd = &cobra.Command{
	Use:   "unread",
	Short: "Show the total unread message count",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		count, err := client.UnreadCount(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		badge := creatorlane.FormatBadge(count)
		if badge == "" {
			fmt.Println("No unread messages.")
		} else {
			fmt.Printf("Unread: %s\n", badge)
		}
		return nil
	},
}

// ============================================================================
// outbox
// ============================================================================

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Inspect and flush the local send queue",
}

var outboxStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queued sends",
	RunE: func(cmd *cobra.Command, args []string) error {
		storage, err := openOutbox()
		if err != nil {
			return err
		}
		defer storage.Close()

		n, err := storage.PendingCount()
		if err != nil {
			return fmt.Errorf("cannot read outbox: %w", err)
		}
		fmt.Printf("Pending sends: %d\n", n)
		return nil
	},
}

var outboxFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Retry all queued sends now",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()
		storage, err := openOutbox()
		if err != nil {
			return err
		}
		defer storage.Close()

		ob := creatorlane.NewOutbox(client, storage, &creatorlane.OutboxConfig{Logger: setupLogger()})

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		ob.Flush(ctx)

		remaining := ob.Pending()
		if remaining == 0 {
			fmt.Println("Outbox empty.")
		} else {
			fmt.Printf("%d sends still pending.\n", remaining)
		}
		return nil
	},
}

// ============================================================================
// Command registration
// ============================================================================

func init() {
	messagesListCmd.Flags().IntVar(&msgListPage, "page", 1, "page number (1 is newest)")
	messagesListCmd.Flags().IntVar(&msgListLimit, "limit", 50, "messages per page")
	messagesListCmd.Flags().BoolVar(&msgListJSON, "json", false, "output raw JSON")

	messagesSendCmd.Flags().StringVar(&msgSendAttach, "attach", "", "path of a file to attach")
	messagesSendCmd.Flags().BoolVar(&msgSendQueue, "queue", true, "queue the message locally when the network is down")

	messagesCmd.AddCommand(messagesListCmd)
	messagesCmd.AddCommand(messagesSendCmd)

	outboxCmd.AddCommand(outboxStatusCmd)
	outboxCmd.AddCommand(outboxFlushCmd)

	rootCmd.AddCommand(messagesCmd)
	rootCmd.AddCommand(unreadCmd)
	rootCmd.AddCommand(outboxCmd)
}
