package creatorlane

import (
	"context"
	"sync"
)

// fakeChannel is an in-memory Channel used by store tests. Events are
// delivered synchronously via the emit helpers.
type fakeChannel struct {
	mu        sync.Mutex
	connected bool

	joined []string
	left   []string

	sendFn func(conversationID, text string) (*Message, error)
	sent   []string

	onMessageNew  []func(Message)
	onMessageRead []func(MessageReadEvent)
	onConnected   []func()
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{}
}

func (f *fakeChannel) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

func (f *fakeChannel) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeChannel) SendMessage(ctx context.Context, conversationID, text string) (*Message, error) {
	f.mu.Lock()
	f.sent = append(f.sent, text)
	fn := f.sendFn
	f.mu.Unlock()
	if fn != nil {
		return fn(conversationID, text)
	}
	return &Message{ID: "ack-msg", ConversationID: conversationID, Text: text}, nil
}

func (f *fakeChannel) JoinConversation(ctx context.Context, conversationID string) error {
	f.mu.Lock()
	f.joined = append(f.joined, conversationID)
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) LeaveConversation(ctx context.Context, conversationID string) error {
	f.mu.Lock()
	f.left = append(f.left, conversationID)
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) MarkMessageRead(ctx context.Context, messageID string) error {
	return nil
}

func (f *fakeChannel) OnMessageNew(h func(Message)) {
	f.mu.Lock()
	f.onMessageNew = append(f.onMessageNew, h)
	f.mu.Unlock()
}

func (f *fakeChannel) OnMessageRead(h func(MessageReadEvent)) {
	f.mu.Lock()
	f.onMessageRead = append(f.onMessageRead, h)
	f.mu.Unlock()
}

func (f *fakeChannel) OnConnected(h func()) {
	f.mu.Lock()
	f.onConnected = append(f.onConnected, h)
	f.mu.Unlock()
}

func (f *fakeChannel) emitMessage(m Message) {
	f.mu.Lock()
	handlers := append([]func(Message){}, f.onMessageNew...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(m)
	}
}

func (f *fakeChannel) emitRead(e MessageReadEvent) {
	f.mu.Lock()
	handlers := append([]func(MessageReadEvent){}, f.onMessageRead...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(e)
	}
}

func (f *fakeChannel) emitConnected() {
	f.mu.Lock()
	handlers := append([]func(){}, f.onConnected...)
	f.mu.Unlock()
	for _, h := range handlers {
		h()
	}
}
