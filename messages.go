package creatorlane

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultPageSize is the history page size used when none is configured.
const DefaultPageSize = 50

// MessageStoreConfig configures a MessageStore.
type MessageStoreConfig struct {
	PageSize int
	// Outbox, when set, absorbs REST sends that fail at the transport level
	// while the channel is down; they are retried on reconnect.
	Outbox *Outbox
	Logger *slog.Logger
}

func (c *MessageStoreConfig) defaults() {
	if c.PageSize == 0 {
		c.PageSize = DefaultPageSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// MessageStore maintains the message list of one active conversation,
// reconciling REST history, live events, and the dual-path send into a
// gap-free, duplicate-free list that stays non-decreasing in createdAt.
//
// Sent messages are never inserted optimistically: on every transport path
// the list is populated only by the echoed live event or a later reload,
// so both paths behave identically.
type MessageStore struct {
	client  *Client
	channel Channel
	outbox  *Outbox
	logger  *slog.Logger

	pageSize int

	mu             sync.Mutex
	conversationID string
	gen            int // bumped on every Select; stale loads check-before-apply
	order          []string
	byID           map[string]Message
	page           int
	pages          int
	hasMore        bool
	loading        bool
	err            string
}

// NewMessageStore creates a message store bound to the REST client and the
// live channel. The store subscribes itself to channel events.
func NewMessageStore(client *Client, ch Channel, config *MessageStoreConfig) *MessageStore {
	cfg := MessageStoreConfig{}
	if config != nil {
		cfg = *config
	}
	cfg.defaults()

	s := &MessageStore{
		client:   client,
		channel:  ch,
		outbox:   cfg.Outbox,
		logger:   cfg.Logger,
		pageSize: cfg.PageSize,
		byID:     make(map[string]Message),
	}
	ch.OnMessageNew(s.handleLiveMessage)
	ch.OnMessageRead(s.handleReadEvent)
	ch.OnConnected(s.handleReconnect)
	return s
}

// handleReconnect re-joins the active conversation room whenever the channel
// comes up. Room membership does not survive a reconnect, so without this a
// store selected during an outage would never receive live events.
func (s *MessageStore) handleReconnect() {
	s.mu.Lock()
	id := s.conversationID
	s.mu.Unlock()
	if id == "" {
		return
	}
	if err := s.channel.JoinConversation(context.Background(), id); err != nil {
		s.logger.Warn("failed to rejoin conversation room",
			"conversationId", id, "error", err)
	}
}

// ── Selection ────────────────────────────────────────────────────────────

// Select switches the active conversation. Any in-flight load for the
// previous id is invalidated, the list is reset, and when id is non-empty
// the first history page is fetched. The previous room is left on every
// transition, including Select(""), and the new room joined.
func (s *MessageStore) Select(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	prev := s.conversationID
	if prev == conversationID {
		s.mu.Unlock()
		return nil
	}
	s.gen++
	g := s.gen
	s.conversationID = conversationID
	s.order = nil
	s.byID = make(map[string]Message)
	s.page, s.pages = 0, 0
	s.hasMore = false
	s.err = ""
	s.loading = conversationID != ""
	s.mu.Unlock()

	if prev != "" && s.channel.Connected() {
		if err := s.channel.LeaveConversation(ctx, prev); err != nil {
			s.logger.Warn("failed to leave conversation room", "conversationId", prev, "error", err)
		}
	}
	if conversationID == "" {
		return nil
	}
	if s.channel.Connected() {
		if err := s.channel.JoinConversation(ctx, conversationID); err != nil {
			s.logger.Warn("failed to join conversation room", "conversationId", conversationID, "error", err)
		}
	}

	page, err := s.client.GetMessages(ctx, conversationID, 1, s.pageSize)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != g {
		// The user navigated away while this load was in flight.
		return nil
	}
	s.loading = false
	if err != nil {
		s.err = "failed to load messages: " + err.Error()
		return err
	}
	for _, m := range page.Messages {
		s.insertLocked(m)
	}
	s.page = page.Pagination.Page
	s.pages = page.Pagination.Pages
	s.hasMore = s.page < s.pages
	return nil
}

// LoadMore fetches the next (older) history page and prepends it. Guarded:
// a no-op when nothing is selected, no pages remain, or a load is already
// in flight.
func (s *MessageStore) LoadMore(ctx context.Context) error {
	s.mu.Lock()
	if s.conversationID == "" || !s.hasMore || s.loading {
		s.mu.Unlock()
		return nil
	}
	s.loading = true
	g := s.gen
	id := s.conversationID
	next := s.page + 1
	s.mu.Unlock()

	page, err := s.client.GetMessages(ctx, id, next, s.pageSize)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != g {
		return nil
	}
	s.loading = false
	if err != nil {
		s.err = "failed to load older messages: " + err.Error()
		return err
	}
	for _, m := range page.Messages {
		s.insertLocked(m)
	}
	s.page = page.Pagination.Page
	s.pages = page.Pagination.Pages
	s.hasMore = s.page < s.pages
	return nil
}

// ── Send ─────────────────────────────────────────────────────────────────

// Send transmits text to the active conversation. Whitespace-only text and
// an empty selection are silent no-ops. Connected channel → request/ack
// send (an explicit ack failure is recorded, with no REST fallback);
// otherwise the REST endpoint is used. Attachments always take the REST
// path, which is the only one that carries them.
func (s *MessageStore) Send(ctx context.Context, text string, attachments ...Attachment) error {
	s.mu.Lock()
	id := s.conversationID
	s.mu.Unlock()

	trimmed := strings.TrimSpace(text)
	if id == "" || trimmed == "" {
		return nil
	}

	if s.channel.Connected() && len(attachments) == 0 {
		if _, err := s.channel.SendMessage(ctx, id, trimmed); err != nil {
			s.setErr("failed to send message: " + err.Error())
			return err
		}
		return nil
	}

	req := &SendMessageRequest{
		ConversationID: id,
		Text:           trimmed,
		Attachments:    attachments,
		ClientID:       uuid.NewString(),
	}
	if _, err := s.client.SendMessage(ctx, req); err != nil {
		if s.outbox != nil && retryableSendError(err) {
			if qErr := s.outbox.EnqueueSend(req); qErr == nil {
				s.logger.Info("send queued to outbox", "conversationId", id)
				return nil
			}
		}
		s.setErr("failed to send message: " + err.Error())
		return err
	}
	return nil
}

// ── Read state ───────────────────────────────────────────────────────────

// MarkRead records a read receipt for the message and optimistically
// patches the local copy. A failed receipt is non-fatal: logged only,
// never surfaced.
func (s *MessageStore) MarkRead(ctx context.Context, messageID string) {
	if err := s.client.MarkMessageRead(ctx, messageID); err != nil {
		s.logger.Warn("mark-read failed", "messageId", messageID, "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[messageID]
	if !ok || m.IsRead {
		return
	}
	now := time.Now().UTC()
	m.IsRead = true
	m.ReadAt = &now
	s.byID[messageID] = m
}

// ── Live events ──────────────────────────────────────────────────────────

func (s *MessageStore) handleLiveMessage(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conversationID == "" || m.ConversationID != s.conversationID {
		// Stale subscription or unauthorized event: drop silently.
		s.logger.Debug("dropping message for inactive conversation",
			"messageId", m.ID, "conversationId", m.ConversationID)
		return
	}
	s.insertLocked(m)
}

func (s *MessageStore) handleReadEvent(e MessageReadEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[e.MessageID]
	if !ok || m.IsRead {
		return
	}
	readAt := e.ReadAt
	if readAt.IsZero() {
		readAt = time.Now().UTC()
	}
	m.IsRead = true
	m.ReadAt = &readAt
	s.byID[e.MessageID] = m
}

// insertLocked adds a message unless its id is already present, keeping the
// list non-decreasing in createdAt. Ties keep insertion order. The id map
// gives O(1) dedup regardless of history size.
func (s *MessageStore) insertLocked(m Message) {
	if _, ok := s.byID[m.ID]; ok {
		return
	}
	s.byID[m.ID] = m

	if n := len(s.order); n == 0 || !m.CreatedAt.Before(s.byID[s.order[n-1]].CreatedAt) {
		s.order = append(s.order, m.ID)
		return
	}
	i := sort.Search(len(s.order), func(i int) bool {
		return s.byID[s.order[i]].CreatedAt.After(m.CreatedAt)
	})
	s.order = append(s.order, "")
	copy(s.order[i+1:], s.order[i:])
	s.order[i] = m.ID
}

// ── Accessors ────────────────────────────────────────────────────────────

// Messages returns the ordered message list, oldest first.
func (s *MessageStore) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// ConversationID returns the active conversation id, empty when none.
func (s *MessageStore) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// HasMore reports whether older history pages remain.
func (s *MessageStore) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// Loading reports whether a history load is in flight.
func (s *MessageStore) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Err returns the last recorded error message, empty when the last
// operation succeeded.
func (s *MessageStore) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *MessageStore) setErr(msg string) {
	s.mu.Lock()
	s.err = msg
	s.mu.Unlock()
}
