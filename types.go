package creatorlane

import (
	"encoding/json"
	"errors"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an error returned by the Creatorlane API.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// ErrUnauthorized is returned when the API rejects the bearer token.
// The client also invokes the configured unauthorized handler before
// returning it, so session teardown happens in one place.
var ErrUnauthorized = errors.New("unauthorized")

// ErrNotConnected is returned by live-channel commands when no websocket
// connection is established.
var ErrNotConnected = errors.New("not connected")

// Role distinguishes the two sides of the marketplace.
type Role string

const (
	RoleBrand      Role = "brand"
	RoleInfluencer Role = "influencer"
)

// ============================================================================
// Entities
// ============================================================================

// UserSummary is the denormalized participant/sender record embedded in
// conversations and messages.
type UserSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	Role   Role   `json:"role,omitempty"`
}

// Attachment is an opaque reference to an uploaded file.
type Attachment struct {
	ID       string `json:"id"`
	URL      string `json:"url,omitempty"`
	Name     string `json:"name,omitempty"`
	Size     int64  `json:"size,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// Message is a single message in a conversation. IsRead only ever
// transitions false→true; ReadAt is set exactly once alongside it.
type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversationId"`
	Sender         UserSummary  `json:"sender"`
	Text           string       `json:"text"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	IsRead         bool         `json:"isRead"`
	ReadAt         *time.Time   `json:"readAt,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// LastMessage is the cached preview of a conversation's newest message.
type LastMessage struct {
	Text      string    `json:"text"`
	SenderID  string    `json:"senderId"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is a two-participant messaging thread.
type Conversation struct {
	ID           string         `json:"id"`
	Participants []UserSummary  `json:"participants"`
	LastMessage  *LastMessage   `json:"lastMessage,omitempty"`
	UnreadCount  map[string]int `json:"unreadCount,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// Other returns the participant that is not selfID, or nil when the
// conversation has no other participant.
func (c *Conversation) Other(selfID string) *UserSummary {
	for i := range c.Participants {
		if c.Participants[i].ID != selfID {
			return &c.Participants[i]
		}
	}
	return nil
}

// UnreadFor returns the server-reported unread count for the given user.
func (c *Conversation) UnreadFor(userID string) int {
	if c.UnreadCount == nil {
		return 0
	}
	return c.UnreadCount[userID]
}

// ============================================================================
// REST envelopes
// ============================================================================

// Pagination describes the position of a page within a paginated result.
type Pagination struct {
	Page  int `json:"page"`
	Pages int `json:"pages"`
	Total int `json:"total,omitempty"`
	Limit int `json:"limit,omitempty"`
}

// ConversationList is the response of the conversation listing endpoint.
type ConversationList struct {
	Conversations []Conversation `json:"conversations"`
	Pagination    *Pagination    `json:"pagination,omitempty"`
}

// MessagePage is one page of a conversation's history. Page 1 is the newest
// page; messages within a page are ordered oldest→newest.
type MessagePage struct {
	Messages   []Message  `json:"messages"`
	Pagination Pagination `json:"pagination"`
}

// SendMessageRequest is the payload of the REST send endpoint. ClientID is
// an optional client-generated idempotency key so outbox retries never
// create duplicate messages server-side.
type SendMessageRequest struct {
	ConversationID string       `json:"conversationId"`
	Text           string       `json:"text"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	ClientID       string       `json:"clientId,omitempty"`
}

type unreadCountResponse struct {
	UnreadCount int `json:"unreadCount"`
}

// errorEnvelope covers the two error body shapes the API produces.
type errorEnvelope struct {
	Error   *APIError `json:"error,omitempty"`
	Message string    `json:"message,omitempty"`
}

func (e *errorEnvelope) toAPIError() *APIError {
	if e.Error != nil {
		return e.Error
	}
	if e.Message != "" {
		return &APIError{Message: e.Message}
	}
	return nil
}

// ============================================================================
// Live-channel payloads
// ============================================================================

// MessageReadEvent is pushed when a message's read receipt is recorded.
type MessageReadEvent struct {
	MessageID string    `json:"messageId"`
	ReadAt    time.Time `json:"readAt"`
}

// TypingEvent is pushed when a user starts or stops typing.
type TypingEvent struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

// ChannelError is pushed when a server-side channel error occurs.
type ChannelError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// envelope is the wire format for all live-channel traffic, both directions.
// RequestID correlates a command with its acknowledgment.
type envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

// sendAck is the acknowledgment payload for a message.send command.
type sendAck struct {
	Success bool     `json:"success"`
	Message *Message `json:"message,omitempty"`
	Error   string   `json:"error,omitempty"`
}
