// Package creatorlane provides the Go client SDK for the Creatorlane
// messaging platform: the REST data source, the live websocket channel, and
// the client-side stores that reconcile the two.
//
// Example:
//
//	client := creatorlane.NewClient(token)
//	rt := client.Realtime(nil)
//	_ = rt.Connect(ctx, token)
//
//	convos := creatorlane.NewConversationStore(client, nil)
//	convos.Bind(rt)
//	_ = convos.Load(ctx)
//
//	msgs := creatorlane.NewMessageStore(client, rt, nil)
//	_ = msgs.Select(ctx, convos.List()[0].ID)
//	msgs.Send(ctx, "hello")
package creatorlane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	DefaultBaseURL = "https://api.creatorlane.com"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client is the authenticated REST data source. It is safe for concurrent
// use; all stores in a session share one instance.
type Client struct {
	mu             sync.RWMutex
	token          string
	baseURL        string
	httpClient     *http.Client
	logger         *slog.Logger
	onUnauthorized func()
}

type ClientOption func(*Client)

func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithUnauthorizedHandler installs the process-wide 401 handler. It runs
// once per rejected request, before ErrUnauthorized is returned, and is the
// place to clear session state.
func WithUnauthorizedHandler(h func()) ClientOption {
	return func(c *Client) { c.onUnauthorized = h }
}

// NewClient creates a new Creatorlane client authenticated with the given
// bearer token.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken replaces the bearer token, e.g. after a session refresh.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		if c.onUnauthorized != nil {
			c.onUnauthorized()
		}
		return nil, fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	}
	if resp.StatusCode >= 400 {
		var env errorEnvelope
		if json.Unmarshal(data, &env) == nil {
			if apiErr := env.toAPIError(); apiErr != nil {
				return nil, fmt.Errorf("%s %s: %w", method, path, apiErr)
			}
		}
		return nil, fmt.Errorf("%s %s: HTTP %d", method, path, resp.StatusCode)
	}

	return data, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// ============================================================================
// Conversations
// ============================================================================

// ListConversations fetches one page of the user's conversation list, in
// server order (most recent activity first). page and limit of 0 use the
// server defaults.
func (c *Client) ListConversations(ctx context.Context, page, limit int) (*ConversationList, error) {
	data, err := c.doRequest(ctx, "GET", "/conversations", nil, pageQuery(page, limit))
	if err != nil {
		return nil, err
	}
	return decodeJSON[ConversationList](data)
}

// GetConversation fetches a single conversation, used when a deep link
// targets one not yet in the local list.
func (c *Client) GetConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	data, err := c.doRequest(ctx, "GET", "/conversations/"+conversationID, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Conversation](data)
}

// CreateConversation creates or returns the existing conversation with the
// given participant. Idempotent on the participant pair.
func (c *Client) CreateConversation(ctx context.Context, participantID string) (*Conversation, error) {
	data, err := c.doRequest(ctx, "POST", "/conversations", map[string]string{"participantId": participantID}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Conversation](data)
}

// DeleteConversation deletes a conversation.
func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	_, err := c.doRequest(ctx, "DELETE", "/conversations/"+conversationID, nil, nil)
	return err
}

// ============================================================================
// Messages
// ============================================================================

// GetMessages fetches one page of a conversation's history. Page 1 is the
// newest page; messages within a page arrive oldest→newest.
func (c *Client) GetMessages(ctx context.Context, conversationID string, page, limit int) (*MessagePage, error) {
	data, err := c.doRequest(ctx, "GET", "/conversations/"+conversationID+"/messages", nil, pageQuery(page, limit))
	if err != nil {
		return nil, err
	}
	return decodeJSON[MessagePage](data)
}

// SendMessage sends a message over REST. This is the fallback path when the
// live channel is down, and the path used by the outbox.
func (c *Client) SendMessage(ctx context.Context, req *SendMessageRequest) (*Message, error) {
	data, err := c.doRequest(ctx, "POST", "/messages", req, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Message](data)
}

// MarkMessageRead records a read receipt for a message.
func (c *Client) MarkMessageRead(ctx context.Context, messageID string) error {
	_, err := c.doRequest(ctx, "PUT", "/messages/"+messageID+"/read", nil, nil)
	return err
}

// UnreadCount fetches the total unread count across all conversations.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	data, err := c.doRequest(ctx, "GET", "/messages/unread/count", nil, nil)
	if err != nil {
		return 0, err
	}
	result, err := decodeJSON[unreadCountResponse](data)
	if err != nil {
		return 0, err
	}
	return result.UnreadCount, nil
}

func pageQuery(page, limit int) map[string]string {
	q := map[string]string{}
	if page > 0 {
		q["page"] = strconv.Itoa(page)
	}
	if limit > 0 {
		q["limit"] = strconv.Itoa(limit)
	}
	if len(q) == 0 {
		return nil
	}
	return q
}
