package creatorlane

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// ConversationStore maintains the user's conversation list, refreshed from
// REST and kept fresh by live events. Ordering is server-defined (most
// recent activity first); the store never re-sorts.
type ConversationStore struct {
	client *Client
	logger *slog.Logger

	mu            sync.Mutex
	conversations []Conversation
	loading       bool
	err           string
}

// NewConversationStore creates a conversation store backed by the given
// client. A nil logger falls back to slog.Default().
func NewConversationStore(client *Client, logger *slog.Logger) *ConversationStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationStore{client: client, logger: logger}
}

// Bind subscribes the store to live events. Any new message triggers a full
// reload rather than a local patch: conversation lists are small, and a
// reload keeps previews and unread counts server-consistent.
func (s *ConversationStore) Bind(ch Channel) {
	ch.OnMessageNew(func(Message) {
		if err := s.Load(context.Background()); err != nil {
			s.logger.Warn("conversation reload after live message failed", "error", err)
		}
	})
}

// Load replaces the list from REST. On failure the previous list is kept
// (never cleared on a transient blip) and the error is recorded.
func (s *ConversationStore) Load(ctx context.Context) error {
	s.mu.Lock()
	s.loading = true
	s.mu.Unlock()

	list, err := s.client.ListConversations(ctx, 0, 0)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	if err != nil {
		s.err = "failed to load conversations: " + err.Error()
		return err
	}
	s.err = ""
	s.conversations = list.Conversations
	return nil
}

// Create performs the idempotent create-or-get call for the given
// participant, then reloads the full list so the conversation appears with
// correct ordering and unread state. Returns nil on failure; the error is
// recorded on the store.
func (s *ConversationStore) Create(ctx context.Context, participantID string) *Conversation {
	conv, err := s.client.CreateConversation(ctx, participantID)
	if err != nil {
		s.mu.Lock()
		s.err = "failed to create conversation: " + err.Error()
		s.mu.Unlock()
		return nil
	}

	if err := s.Load(ctx); err != nil {
		s.logger.Warn("reload after conversation create failed", "error", err)
	}
	return conv
}

// Delete removes the conversation locally right away and fires the REST
// delete. The server is the source of truth on the next Load; a failed
// delete is logged, not surfaced.
func (s *ConversationStore) Delete(ctx context.Context, conversationID string) {
	s.mu.Lock()
	kept := s.conversations[:0:0]
	for _, c := range s.conversations {
		if c.ID != conversationID {
			kept = append(kept, c)
		}
	}
	s.conversations = kept
	s.mu.Unlock()

	if err := s.client.DeleteConversation(ctx, conversationID); err != nil {
		s.logger.Warn("conversation delete failed", "conversationId", conversationID, "error", err)
	}
}

// List returns a snapshot of the conversation list in server order.
func (s *ConversationStore) List() []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Conversation(nil), s.conversations...)
}

// FilterByParticipant returns the conversations whose *other* participant's
// display name contains query, case-insensitively. selfID identifies the
// current user so their own name is never matched.
func (s *ConversationStore) FilterByParticipant(selfID, query string) []Conversation {
	q := strings.ToLower(strings.TrimSpace(query))
	all := s.List()
	if q == "" {
		return all
	}
	var matched []Conversation
	for _, c := range all {
		other := c.Other(selfID)
		if other != nil && strings.Contains(strings.ToLower(other.Name), q) {
			matched = append(matched, c)
		}
	}
	return matched
}

// Loading reports whether a load is in flight.
func (s *ConversationStore) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Err returns the last recorded error message, empty when the last
// operation succeeded.
func (s *ConversationStore) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
