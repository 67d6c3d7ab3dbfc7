package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	creatorlane "github.com/creatorlane/creatorlane-go"
	"github.com/spf13/cobra"
)

var watchConversation string

func init() {
	watchCmd.Flags().StringVar(&watchConversation, "conversation", "", "join a conversation room for typing and read events")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream realtime events to the terminal",
	Long:  "Connect to the realtime channel and print incoming messages, read receipts,\npresence changes, and typing indicators until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		token := os.Getenv("CREATORLANE_TOKEN")
		if token == "" {
			token = cfg.Auth.Token
		}
		if token == "" {
			return fmt.Errorf("no token; run 'creatorlane login <token>' first")
		}

		client := getClient()
		rt := client.Realtime(&creatorlane.RealtimeConfig{Logger: setupLogger()})

		rt.OnConnected(func() {
			fmt.Println("-- connected --")
		})
		rt.OnDisconnected(func(code int, reason string) {
			fmt.Printf("-- disconnected (%d): %s --\n", code, reason)
		})
		rt.OnReconnecting(func(attempt int, delay time.Duration) {
			fmt.Printf("-- reconnecting (attempt %d, in %s) --\n", attempt, delay)
		})
		rt.OnMessageNew(func(msg creatorlane.Message) {
			fmt.Printf("[%s] %s: %s\n", msg.CreatedAt.Format("15:04:05"), msg.Sender.Name, msg.Text)
		})
		rt.OnMessageRead(func(ev creatorlane.MessageReadEvent) {
			fmt.Printf("-- message %s read --\n", ev.MessageID)
		})
		rt.OnUserOnline(func(userID string) {
			fmt.Printf("-- %s online --\n", userID)
		})
		rt.OnUserOffline(func(userID string) {
			fmt.Printf("-- %s offline --\n", userID)
		})
		rt.OnTyping(func(ev creatorlane.TypingEvent) {
			if ev.IsTyping {
				fmt.Printf("-- %s is typing --\n", ev.UserID)
			}
		})
		rt.OnError(func(e creatorlane.ChannelError) {
			fmt.Fprintf(os.Stderr, "channel error: %s (%s)\n", e.Message, e.Code)
		})

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = rt.Connect(ctx, token)
		cancel()
		if err != nil {
			return fmt.Errorf("connect failed: %w", err)
		}
		defer rt.Disconnect()

		if watchConversation != "" {
			joinCtx, joinCancel := context.WithTimeout(context.Background(), 10*time.Second)
			err = rt.JoinConversation(joinCtx, watchConversation)
			joinCancel()
			if err != nil {
				return fmt.Errorf("join failed: %w", err)
			}
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		fmt.Println("\nClosing.")
		return nil
	},
}
