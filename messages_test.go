package creatorlane

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(i int) time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Second)
}

func msg(id, convID string, at time.Time) Message {
	return Message{ID: id, ConversationID: convID, Text: "msg " + id, CreatedAt: at}
}

// historyServer serves canned message pages keyed by conversation id.
func historyServer(t *testing.T, pages map[string]map[int]MessagePage) (*Client, *fakeChannel) {
	t.Helper()
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) != 3 || parts[0] != "conversations" || parts[2] != "messages" {
			t.Errorf("unexpected path: %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		pageNum := 1
		if p := r.URL.Query().Get("page"); p != "" {
			pageNum, _ = strconv.Atoi(p)
		}
		page, ok := pages[parts[1]][pageNum]
		if !ok {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(page)
	})
	return client, newFakeChannel()
}

func messageIDs(s *MessageStore) []string {
	msgs := s.Messages()
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}

func TestMessageStoreSelect(t *testing.T) {
	t.Run("loads first page and joins room", func(t *testing.T) {
		client, ch := historyServer(t, map[string]map[int]MessagePage{
			"conv-a": {1: {
				Messages:   []Message{msg("m1", "conv-a", ts(0)), msg("m2", "conv-a", ts(1))},
				Pagination: Pagination{Page: 1, Pages: 1},
			}},
		})
		ch.setConnected(true)
		store := NewMessageStore(client, ch, nil)

		require.NoError(t, store.Select(context.Background(), "conv-a"))

		assert.Equal(t, []string{"m1", "m2"}, messageIDs(store))
		assert.Equal(t, []string{"conv-a"}, ch.joined)
		assert.False(t, store.HasMore())
		assert.False(t, store.Loading())
	})

	t.Run("same id is a no-op", func(t *testing.T) {
		calls := 0
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			calls++
			json.NewEncoder(w).Encode(MessagePage{Pagination: Pagination{Page: 1, Pages: 1}})
		})
		ch := newFakeChannel()
		store := NewMessageStore(client, ch, nil)

		require.NoError(t, store.Select(context.Background(), "conv-a"))
		require.NoError(t, store.Select(context.Background(), "conv-a"))
		assert.Equal(t, 1, calls)
	})

	t.Run("switching leaves previous room and resets list", func(t *testing.T) {
		client, ch := historyServer(t, map[string]map[int]MessagePage{
			"conv-a": {1: {
				Messages:   []Message{msg("a1", "conv-a", ts(0))},
				Pagination: Pagination{Page: 1, Pages: 1},
			}},
			"conv-b": {1: {
				Messages:   []Message{msg("b1", "conv-b", ts(0))},
				Pagination: Pagination{Page: 1, Pages: 1},
			}},
		})
		ch.setConnected(true)
		store := NewMessageStore(client, ch, nil)

		require.NoError(t, store.Select(context.Background(), "conv-a"))
		require.NoError(t, store.Select(context.Background(), "conv-b"))

		assert.Equal(t, []string{"b1"}, messageIDs(store))
		assert.Equal(t, []string{"conv-a"}, ch.left)
		assert.Equal(t, []string{"conv-a", "conv-b"}, ch.joined)
	})

	t.Run("select empty clears and leaves", func(t *testing.T) {
		client, ch := historyServer(t, map[string]map[int]MessagePage{
			"conv-a": {1: {
				Messages:   []Message{msg("a1", "conv-a", ts(0))},
				Pagination: Pagination{Page: 1, Pages: 1},
			}},
		})
		ch.setConnected(true)
		store := NewMessageStore(client, ch, nil)

		require.NoError(t, store.Select(context.Background(), "conv-a"))
		require.NoError(t, store.Select(context.Background(), ""))

		assert.Empty(t, store.Messages())
		assert.Equal(t, "", store.ConversationID())
		assert.Equal(t, []string{"conv-a"}, ch.left)
	})

	t.Run("rejoins active room when channel reconnects", func(t *testing.T) {
		client, ch := historyServer(t, map[string]map[int]MessagePage{
			"conv-a": {1: {
				Messages:   []Message{msg("a1", "conv-a", ts(0))},
				Pagination: Pagination{Page: 1, Pages: 1},
			}},
		})
		ch.setConnected(true)
		store := NewMessageStore(client, ch, nil)
		require.NoError(t, store.Select(context.Background(), "conv-a"))

		ch.setConnected(false)
		ch.setConnected(true)
		ch.emitConnected()

		assert.Equal(t, []string{"conv-a", "conv-a"}, ch.joined)
	})

	t.Run("joins on connect after offline selection", func(t *testing.T) {
		client, ch := historyServer(t, map[string]map[int]MessagePage{
			"conv-a": {1: {
				Messages:   []Message{msg("a1", "conv-a", ts(0))},
				Pagination: Pagination{Page: 1, Pages: 1},
			}},
		})
		store := NewMessageStore(client, ch, nil)
		require.NoError(t, store.Select(context.Background(), "conv-a"))
		require.Empty(t, ch.joined)

		ch.setConnected(true)
		ch.emitConnected()

		assert.Equal(t, []string{"conv-a"}, ch.joined)
	})

	t.Run("connect without selection joins nothing", func(t *testing.T) {
		client, ch := historyServer(t, nil)
		NewMessageStore(client, ch, nil)

		ch.setConnected(true)
		ch.emitConnected()

		assert.Empty(t, ch.joined)
	})

	t.Run("stale load result is discarded", func(t *testing.T) {
		releaseA := make(chan struct{})
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if strings.Contains(r.URL.Path, "conv-a") {
				<-releaseA
				json.NewEncoder(w).Encode(MessagePage{
					Messages:   []Message{msg("a1", "conv-a", ts(0))},
					Pagination: Pagination{Page: 1, Pages: 1},
				})
				return
			}
			json.NewEncoder(w).Encode(MessagePage{
				Messages:   []Message{msg("b1", "conv-b", ts(0))},
				Pagination: Pagination{Page: 1, Pages: 1},
			})
		})
		ch := newFakeChannel()
		store := NewMessageStore(client, ch, nil)

		done := make(chan struct{})
		go func() {
			store.Select(context.Background(), "conv-a")
			close(done)
		}()
		// Let the first load reach the server before switching away.
		time.Sleep(50 * time.Millisecond)
		require.NoError(t, store.Select(context.Background(), "conv-b"))

		close(releaseA)
		<-done

		assert.Equal(t, []string{"b1"}, messageIDs(store))
		assert.Equal(t, "conv-b", store.ConversationID())
	})

	t.Run("load failure records error", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"message":"boom"}`))
		})
		ch := newFakeChannel()
		store := NewMessageStore(client, ch, nil)

		require.Error(t, store.Select(context.Background(), "conv-a"))
		assert.Contains(t, store.Err(), "failed to load messages")
		assert.False(t, store.Loading())
	})
}

func TestMessageStoreLoadMore(t *testing.T) {
	pages := map[string]map[int]MessagePage{
		"conv-a": {
			1: {
				Messages:   []Message{msg("m3", "conv-a", ts(3)), msg("m4", "conv-a", ts(4))},
				Pagination: Pagination{Page: 1, Pages: 2},
			},
			2: {
				Messages:   []Message{msg("m1", "conv-a", ts(1)), msg("m2", "conv-a", ts(2))},
				Pagination: Pagination{Page: 2, Pages: 2},
			},
		},
	}

	t.Run("prepends older page", func(t *testing.T) {
		client, ch := historyServer(t, pages)
		store := NewMessageStore(client, ch, nil)

		require.NoError(t, store.Select(context.Background(), "conv-a"))
		require.True(t, store.HasMore())

		require.NoError(t, store.LoadMore(context.Background()))

		assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, messageIDs(store))
		assert.False(t, store.HasMore())
	})

	t.Run("no-op when exhausted", func(t *testing.T) {
		client, ch := historyServer(t, pages)
		store := NewMessageStore(client, ch, nil)

		require.NoError(t, store.Select(context.Background(), "conv-a"))
		require.NoError(t, store.LoadMore(context.Background()))
		require.NoError(t, store.LoadMore(context.Background()))

		assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, messageIDs(store))
	})

	t.Run("no-op without selection", func(t *testing.T) {
		client, ch := historyServer(t, pages)
		store := NewMessageStore(client, ch, nil)
		require.NoError(t, store.LoadMore(context.Background()))
		assert.Empty(t, store.Messages())
	})
}

func TestMessageStoreLiveEvents(t *testing.T) {
	emptyPage := map[string]map[int]MessagePage{
		"conv-a": {1: {Pagination: Pagination{Page: 1, Pages: 1}}},
	}

	t.Run("duplicate event inserted once", func(t *testing.T) {
		client, ch := historyServer(t, emptyPage)
		store := NewMessageStore(client, ch, nil)
		require.NoError(t, store.Select(context.Background(), "conv-a"))

		m := msg("m1", "conv-a", ts(0))
		ch.emitMessage(m)
		ch.emitMessage(m)

		assert.Equal(t, []string{"m1"}, messageIDs(store))
	})

	t.Run("out-of-order arrival keeps timestamp order", func(t *testing.T) {
		client, ch := historyServer(t, emptyPage)
		store := NewMessageStore(client, ch, nil)
		require.NoError(t, store.Select(context.Background(), "conv-a"))

		ch.emitMessage(msg("m2", "conv-a", ts(2)))
		ch.emitMessage(msg("m1", "conv-a", ts(1)))
		ch.emitMessage(msg("m3", "conv-a", ts(3)))

		assert.Equal(t, []string{"m1", "m2", "m3"}, messageIDs(store))
	})

	t.Run("equal timestamps keep insertion order", func(t *testing.T) {
		client, ch := historyServer(t, emptyPage)
		store := NewMessageStore(client, ch, nil)
		require.NoError(t, store.Select(context.Background(), "conv-a"))

		ch.emitMessage(msg("m1", "conv-a", ts(1)))
		ch.emitMessage(msg("m2", "conv-a", ts(1)))

		assert.Equal(t, []string{"m1", "m2"}, messageIDs(store))
	})

	t.Run("wrong conversation dropped silently", func(t *testing.T) {
		client, ch := historyServer(t, emptyPage)
		store := NewMessageStore(client, ch, nil)
		require.NoError(t, store.Select(context.Background(), "conv-a"))

		ch.emitMessage(msg("x1", "conv-other", ts(0)))

		assert.Empty(t, store.Messages())
		assert.Empty(t, store.Err())
	})

	t.Run("read event patches once and stays read", func(t *testing.T) {
		client, ch := historyServer(t, emptyPage)
		store := NewMessageStore(client, ch, nil)
		require.NoError(t, store.Select(context.Background(), "conv-a"))

		ch.emitMessage(msg("m1", "conv-a", ts(0)))
		first := ts(5)
		ch.emitRead(MessageReadEvent{MessageID: "m1", ReadAt: first})
		ch.emitRead(MessageReadEvent{MessageID: "m1", ReadAt: ts(9)})

		got := store.Messages()[0]
		require.True(t, got.IsRead)
		require.NotNil(t, got.ReadAt)
		assert.Equal(t, first, *got.ReadAt)
	})

	t.Run("read event for unknown message ignored", func(t *testing.T) {
		client, ch := historyServer(t, emptyPage)
		store := NewMessageStore(client, ch, nil)
		require.NoError(t, store.Select(context.Background(), "conv-a"))

		ch.emitRead(MessageReadEvent{MessageID: "ghost", ReadAt: ts(1)})
		assert.Empty(t, store.Messages())
	})
}

func TestMessageStoreSend(t *testing.T) {
	emptyPage := map[string]map[int]MessagePage{
		"conv-a": {1: {Pagination: Pagination{Page: 1, Pages: 1}}},
	}

	t.Run("whitespace only is a no-op", func(t *testing.T) {
		client, ch := historyServer(t, emptyPage)
		ch.setConnected(true)
		store := NewMessageStore(client, ch, nil)
		require.NoError(t, store.Select(context.Background(), "conv-a"))

		require.NoError(t, store.Send(context.Background(), "   \n\t "))
		assert.Empty(t, ch.sent)
	})

	t.Run("no selection is a no-op", func(t *testing.T) {
		client, ch := historyServer(t, emptyPage)
		ch.setConnected(true)
		store := NewMessageStore(client, ch, nil)

		require.NoError(t, store.Send(context.Background(), "hello"))
		assert.Empty(t, ch.sent)
	})

	t.Run("connected channel uses request-ack path", func(t *testing.T) {
		client, ch := historyServer(t, emptyPage)
		ch.setConnected(true)
		store := NewMessageStore(client, ch, nil)
		require.NoError(t, store.Select(context.Background(), "conv-a"))

		require.NoError(t, store.Send(context.Background(), "  hi there  "))

		assert.Equal(t, []string{"hi there"}, ch.sent)
		// List stays empty until the echoed live event arrives.
		assert.Empty(t, store.Messages())
	})

	t.Run("ack failure recorded with no fallback", func(t *testing.T) {
		var restCalls int
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost && r.URL.Path == "/messages" {
				restCalls++
			}
			json.NewEncoder(w).Encode(MessagePage{Pagination: Pagination{Page: 1, Pages: 1}})
		})
		ch := newFakeChannel()
		ch.setConnected(true)
		ch.sendFn = func(conversationID, text string) (*Message, error) {
			return nil, assert.AnError
		}
		store := NewMessageStore(client, ch, nil)
		require.NoError(t, store.Select(context.Background(), "conv-a"))

		require.Error(t, store.Send(context.Background(), "hello"))
		assert.Contains(t, store.Err(), "failed to send message")
		assert.Zero(t, restCalls)
	})

	t.Run("disconnected falls back to REST with client id", func(t *testing.T) {
		var got SendMessageRequest
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost && r.URL.Path == "/messages" {
				json.NewDecoder(r.Body).Decode(&got)
				json.NewEncoder(w).Encode(Message{ID: "m-new"})
				return
			}
			json.NewEncoder(w).Encode(MessagePage{Pagination: Pagination{Page: 1, Pages: 1}})
		})
		ch := newFakeChannel()
		store := NewMessageStore(client, ch, nil)
		require.NoError(t, store.Select(context.Background(), "conv-a"))

		require.NoError(t, store.Send(context.Background(), "offline hello"))

		assert.Empty(t, ch.sent)
		assert.Equal(t, "offline hello", got.Text)
		assert.Equal(t, "conv-a", got.ConversationID)
		assert.NotEmpty(t, got.ClientID)
	})

	t.Run("attachments always take REST even when connected", func(t *testing.T) {
		var got SendMessageRequest
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost && r.URL.Path == "/messages" {
				json.NewDecoder(r.Body).Decode(&got)
				json.NewEncoder(w).Encode(Message{ID: "m-new"})
				return
			}
			json.NewEncoder(w).Encode(MessagePage{Pagination: Pagination{Page: 1, Pages: 1}})
		})
		ch := newFakeChannel()
		ch.setConnected(true)
		store := NewMessageStore(client, ch, nil)
		require.NoError(t, store.Select(context.Background(), "conv-a"))

		att := Attachment{ID: "att-1", Name: "brief.pdf"}
		require.NoError(t, store.Send(context.Background(), "see attached", att))

		assert.Empty(t, ch.sent)
		require.Len(t, got.Attachments, 1)
		assert.Equal(t, "att-1", got.Attachments[0].ID)
	})

	t.Run("transport failure queues to outbox", func(t *testing.T) {
		okClient, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(MessagePage{Pagination: Pagination{Page: 1, Pages: 1}})
		})
		ch := newFakeChannel()
		storage := NewMemoryOutbox()
		ob := NewOutbox(okClient, storage, nil)
		store := NewMessageStore(okClient, ch, &MessageStoreConfig{Outbox: ob})
		require.NoError(t, store.Select(context.Background(), "conv-a"))

		// Swap in an unreachable endpoint so the send fails at the transport.
		broken := NewClient("t", WithBaseURL("http://127.0.0.1:1"), WithTimeout(200*time.Millisecond))
		store.client = broken
		ob.client = broken

		require.NoError(t, store.Send(context.Background(), "queued hello"))

		n, err := storage.PendingCount()
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Empty(t, store.Err())
	})
}

func TestMessageStoreMarkRead(t *testing.T) {
	t.Run("success patches local copy once", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPut {
				w.Write([]byte(`{}`))
				return
			}
			json.NewEncoder(w).Encode(MessagePage{
				Messages:   []Message{msg("m1", "conv-a", ts(0))},
				Pagination: Pagination{Page: 1, Pages: 1},
			})
		})
		ch := newFakeChannel()
		store := NewMessageStore(client, ch, nil)
		require.NoError(t, store.Select(context.Background(), "conv-a"))

		store.MarkRead(context.Background(), "m1")

		got := store.Messages()[0]
		require.True(t, got.IsRead)
		require.NotNil(t, got.ReadAt)
		firstReadAt := *got.ReadAt

		store.MarkRead(context.Background(), "m1")
		assert.Equal(t, firstReadAt, *store.Messages()[0].ReadAt)
	})

	t.Run("failure is logged, not surfaced", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPut {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"message":"receipt failed"}`))
				return
			}
			json.NewEncoder(w).Encode(MessagePage{
				Messages:   []Message{msg("m1", "conv-a", ts(0))},
				Pagination: Pagination{Page: 1, Pages: 1},
			})
		})
		ch := newFakeChannel()
		store := NewMessageStore(client, ch, nil)
		require.NoError(t, store.Select(context.Background(), "conv-a"))

		store.MarkRead(context.Background(), "m1")

		assert.False(t, store.Messages()[0].IsRead)
		assert.Empty(t, store.Err())
	})
}
