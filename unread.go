package creatorlane

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
)

// UnreadCounter maintains the single badge integer shown by navigation
// chrome. The count is server-authoritative: live events trigger a refetch,
// never a local increment, so missed or duplicate events cannot cause drift.
type UnreadCounter struct {
	client *Client
	logger *slog.Logger

	mu    sync.Mutex
	count int
}

// NewUnreadCounter creates an unread counter backed by the given client.
// A nil logger falls back to slog.Default().
func NewUnreadCounter(client *Client, logger *slog.Logger) *UnreadCounter {
	if logger == nil {
		logger = slog.Default()
	}
	return &UnreadCounter{client: client, logger: logger}
}

// Bind subscribes the counter to the live events that can change it.
func (u *UnreadCounter) Bind(ch Channel) {
	refetch := func() { u.Load(context.Background()) }
	ch.OnMessageNew(func(Message) { refetch() })
	ch.OnMessageRead(func(MessageReadEvent) { refetch() })
}

// Load refetches the count from REST. The badge is a non-critical
// indicator: any failure resets to 0 and is logged, never surfaced.
func (u *UnreadCounter) Load(ctx context.Context) {
	count, err := u.client.UnreadCount(ctx)
	if err != nil {
		u.logger.Warn("unread count fetch failed", "error", err)
		count = 0
	}
	u.mu.Lock()
	u.count = count
	u.mu.Unlock()
}

// Count returns the current unread total.
func (u *UnreadCounter) Count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.count
}

// Badge returns the display form of the current count.
func (u *UnreadCounter) Badge() string {
	return FormatBadge(u.Count())
}

// FormatBadge renders a count for badge display: empty when nothing is
// unread, "99+" above 99.
func FormatBadge(n int) string {
	switch {
	case n <= 0:
		return ""
	case n > 99:
		return "99+"
	default:
		return strconv.Itoa(n)
	}
}
