package creatorlane

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func brandConv(id, otherID, otherName string) Conversation {
	return Conversation{
		ID: id,
		Participants: []UserSummary{
			{ID: "self-1", Name: "Melissa", Role: RoleInfluencer},
			{ID: otherID, Name: otherName, Role: RoleBrand},
		},
	}
}

func TestConversationStoreLoad(t *testing.T) {
	t.Run("replaces list from server", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(ConversationList{Conversations: []Conversation{
				brandConv("conv-1", "b1", "Acme"),
				brandConv("conv-2", "b2", "Globex"),
			}})
		})
		store := NewConversationStore(client, nil)

		require.NoError(t, store.Load(context.Background()))

		list := store.List()
		require.Len(t, list, 2)
		assert.Equal(t, "conv-1", list[0].ID)
		assert.Empty(t, store.Err())
	})

	t.Run("failure keeps previous list", func(t *testing.T) {
		var fail atomic.Bool
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if fail.Load() {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"message":"down"}`))
				return
			}
			json.NewEncoder(w).Encode(ConversationList{Conversations: []Conversation{
				brandConv("conv-1", "b1", "Acme"),
			}})
		})
		store := NewConversationStore(client, nil)

		require.NoError(t, store.Load(context.Background()))
		fail.Store(true)
		require.Error(t, store.Load(context.Background()))

		assert.Len(t, store.List(), 1)
		assert.Contains(t, store.Err(), "failed to load conversations")
	})
}

func TestConversationStoreCreate(t *testing.T) {
	t.Run("create then reload", func(t *testing.T) {
		var listCalls atomic.Int32
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost {
				json.NewEncoder(w).Encode(brandConv("conv-new", "b9", "Initech"))
				return
			}
			listCalls.Add(1)
			json.NewEncoder(w).Encode(ConversationList{Conversations: []Conversation{
				brandConv("conv-new", "b9", "Initech"),
			}})
		})
		store := NewConversationStore(client, nil)

		conv := store.Create(context.Background(), "b9")

		require.NotNil(t, conv)
		assert.Equal(t, "conv-new", conv.ID)
		assert.Equal(t, int32(1), listCalls.Load())
		assert.Len(t, store.List(), 1)
	})

	t.Run("create failure returns nil and records error", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"message":"participant not found"}`))
		})
		store := NewConversationStore(client, nil)

		conv := store.Create(context.Background(), "nobody")

		assert.Nil(t, conv)
		assert.Contains(t, store.Err(), "failed to create conversation")
	})
}

func TestConversationStoreDelete(t *testing.T) {
	t.Run("removes locally and calls server", func(t *testing.T) {
		var deleted atomic.Bool
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodDelete {
				deleted.Store(true)
				w.WriteHeader(http.StatusNoContent)
				return
			}
			json.NewEncoder(w).Encode(ConversationList{Conversations: []Conversation{
				brandConv("conv-1", "b1", "Acme"),
				brandConv("conv-2", "b2", "Globex"),
			}})
		})
		store := NewConversationStore(client, nil)
		require.NoError(t, store.Load(context.Background()))

		store.Delete(context.Background(), "conv-1")

		list := store.List()
		require.Len(t, list, 1)
		assert.Equal(t, "conv-2", list[0].ID)
		assert.True(t, deleted.Load())
	})

	t.Run("server failure keeps local removal", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodDelete {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"message":"nope"}`))
				return
			}
			json.NewEncoder(w).Encode(ConversationList{Conversations: []Conversation{
				brandConv("conv-1", "b1", "Acme"),
			}})
		})
		store := NewConversationStore(client, nil)
		require.NoError(t, store.Load(context.Background()))

		store.Delete(context.Background(), "conv-1")

		assert.Empty(t, store.List())
	})
}

func TestConversationStoreFilter(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ConversationList{Conversations: []Conversation{
			brandConv("conv-1", "b1", "Acme Corp"),
			brandConv("conv-2", "b2", "Globex"),
			brandConv("conv-3", "b3", "ACME Labs"),
		}})
	})
	store := NewConversationStore(client, nil)
	require.NoError(t, store.Load(context.Background()))

	t.Run("case insensitive substring", func(t *testing.T) {
		got := store.FilterByParticipant("self-1", "acme")
		require.Len(t, got, 2)
		assert.Equal(t, "conv-1", got[0].ID)
		assert.Equal(t, "conv-3", got[1].ID)
	})

	t.Run("empty query returns all", func(t *testing.T) {
		assert.Len(t, store.FilterByParticipant("self-1", "   "), 3)
	})

	t.Run("own name never matches", func(t *testing.T) {
		assert.Empty(t, store.FilterByParticipant("self-1", "Melissa"))
	})
}

func TestConversationStoreBind(t *testing.T) {
	var listCalls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		listCalls.Add(1)
		json.NewEncoder(w).Encode(ConversationList{Conversations: []Conversation{
			brandConv("conv-1", "b1", "Acme"),
		}})
	})
	store := NewConversationStore(client, nil)
	ch := newFakeChannel()
	store.Bind(ch)

	ch.emitMessage(Message{ID: "m1", ConversationID: "conv-1"})

	assert.Equal(t, int32(1), listCalls.Load())
	assert.Len(t, store.List(), 1)
}
