package creatorlane

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

// ============================================================================
// Channel
// ============================================================================

// Channel is the live-channel surface the stores consume. RealtimeClient is
// the production implementation; tests substitute fakes.
type Channel interface {
	Connected() bool

	// SendMessage is a request/acknowledge command: it blocks until the
	// server acks the send (returning the created message) or the ack
	// times out.
	SendMessage(ctx context.Context, conversationID, text string) (*Message, error)
	JoinConversation(ctx context.Context, conversationID string) error
	LeaveConversation(ctx context.Context, conversationID string) error
	MarkMessageRead(ctx context.Context, messageID string) error

	OnMessageNew(func(Message))
	OnMessageRead(func(MessageReadEvent))
	OnConnected(func())
}

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures the realtime client.
type RealtimeConfig struct {
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
	AckTimeout           time.Duration
	Logger               *slog.Logger
}

func (c *RealtimeConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.AckTimeout == 0 {
		c.AckTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// ConnState represents the connection state.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
)

// Wire event and command types.
const (
	evAuthenticated = "authenticated"
	evMessageNew    = "message.new"
	evMessageRead   = "message.read"
	evMessageAck    = "message.ack"
	evUserOnline    = "user.online"
	evUserOffline   = "user.offline"
	evTyping        = "typing"
	evError         = "error"

	cmdMessageSend       = "message.send"
	cmdConversationJoin  = "conversation.join"
	cmdConversationLeave = "conversation.leave"
	cmdTyping            = "typing"
	cmdMessageRead       = "message.read"
)

// ============================================================================
// Event Dispatcher
// ============================================================================

type eventDispatcher struct {
	mu             sync.RWMutex
	onMessageNew   []func(Message)
	onMessageRead  []func(MessageReadEvent)
	onUserOnline   []func(string)
	onUserOffline  []func(string)
	onTyping       []func(TypingEvent)
	onError        []func(ChannelError)
	onConnected    []func()
	onDisconnected []func(code int, reason string)
	onReconnecting []func(attempt int, delay time.Duration)
}

// dispatch runs handlers synchronously so events reach subscribers in
// server-send order. Handlers must not block.
func (d *eventDispatcher) dispatch(env envelope) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	switch env.Type {
	case evMessageNew:
		var m Message
		if json.Unmarshal(env.Payload, &m) == nil {
			for _, h := range d.onMessageNew {
				h(m)
			}
		}
	case evMessageRead:
		var e MessageReadEvent
		if json.Unmarshal(env.Payload, &e) == nil {
			for _, h := range d.onMessageRead {
				h(e)
			}
		}
	case evUserOnline:
		var p struct {
			UserID string `json:"userId"`
		}
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onUserOnline {
				h(p.UserID)
			}
		}
	case evUserOffline:
		var p struct {
			UserID string `json:"userId"`
		}
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onUserOffline {
				h(p.UserID)
			}
		}
	case evTyping:
		var e TypingEvent
		if json.Unmarshal(env.Payload, &e) == nil {
			for _, h := range d.onTyping {
				h(e)
			}
		}
	case evError:
		var e ChannelError
		if json.Unmarshal(env.Payload, &e) == nil {
			for _, h := range d.onError {
				h(e)
			}
		}
	}
}

func (d *eventDispatcher) emitConnected() {
	d.mu.RLock()
	handlers := append([]func(){}, d.onConnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h()
	}
}

func (d *eventDispatcher) emitDisconnected(code int, reason string) {
	d.mu.RLock()
	handlers := append([]func(int, string){}, d.onDisconnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(code, reason)
	}
}

func (d *eventDispatcher) emitReconnecting(attempt int, delay time.Duration) {
	d.mu.RLock()
	handlers := append([]func(int, time.Duration){}, d.onReconnecting...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(attempt, delay)
	}
}

// ============================================================================
// Reconnector
// ============================================================================

// reconnector tracks backoff state. Connect and the reconnect goroutine
// touch it concurrently, so all state lives behind its own mutex.
type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int

	mu          sync.Mutex
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *RealtimeConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.mu.Lock()
	r.connectedAt = time.Now()
	r.mu.Unlock()
}

// nextDelay returns the backoff delay and the attempt number it belongs to.
func (r *reconnector) nextDelay() (time.Duration, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay, r.attempt
}

// ============================================================================
// RealtimeClient
// ============================================================================

// RealtimeClient owns the single live websocket connection of a session.
// Connect/disconnect lifecycle is driven by authentication state: losing the
// session must call Disconnect, and switching identity requires a full
// teardown before connecting with the new token.
type RealtimeClient struct {
	baseURL string
	config  *RealtimeConfig
	logger  *slog.Logger

	mu               sync.Mutex
	conn             *websocket.Conn
	state            ConnState
	token            string
	intentionalClose bool
	cancelFn         context.CancelFunc
	online           map[string]struct{}

	dispatcher *eventDispatcher
	recon      *reconnector

	pendingMu   sync.Mutex
	pendingAcks map[string]chan sendAck
}

// Realtime creates a realtime client bound to this API host. Call Connect to
// establish the connection.
func (c *Client) Realtime(config *RealtimeConfig) *RealtimeClient {
	cfg := RealtimeConfig{}
	if config != nil {
		cfg = *config
	}
	cfg.defaults()
	return &RealtimeClient{
		baseURL:     c.baseURL,
		config:      &cfg,
		logger:      cfg.Logger,
		state:       StateDisconnected,
		online:      make(map[string]struct{}),
		dispatcher:  &eventDispatcher{},
		recon:       newReconnector(&cfg),
		pendingAcks: make(map[string]chan sendAck),
	}
}

// ── Handler registration ─────────────────────────────────────────────────

func (rt *RealtimeClient) OnMessageNew(h func(Message)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onMessageNew = append(rt.dispatcher.onMessageNew, h)
	rt.dispatcher.mu.Unlock()
}

func (rt *RealtimeClient) OnMessageRead(h func(MessageReadEvent)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onMessageRead = append(rt.dispatcher.onMessageRead, h)
	rt.dispatcher.mu.Unlock()
}

func (rt *RealtimeClient) OnUserOnline(h func(userID string)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onUserOnline = append(rt.dispatcher.onUserOnline, h)
	rt.dispatcher.mu.Unlock()
}

func (rt *RealtimeClient) OnUserOffline(h func(userID string)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onUserOffline = append(rt.dispatcher.onUserOffline, h)
	rt.dispatcher.mu.Unlock()
}

func (rt *RealtimeClient) OnTyping(h func(TypingEvent)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onTyping = append(rt.dispatcher.onTyping, h)
	rt.dispatcher.mu.Unlock()
}

func (rt *RealtimeClient) OnError(h func(ChannelError)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onError = append(rt.dispatcher.onError, h)
	rt.dispatcher.mu.Unlock()
}

func (rt *RealtimeClient) OnConnected(h func()) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onConnected = append(rt.dispatcher.onConnected, h)
	rt.dispatcher.mu.Unlock()
}

func (rt *RealtimeClient) OnDisconnected(h func(code int, reason string)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onDisconnected = append(rt.dispatcher.onDisconnected, h)
	rt.dispatcher.mu.Unlock()
}

func (rt *RealtimeClient) OnReconnecting(h func(attempt int, delay time.Duration)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onReconnecting = append(rt.dispatcher.onReconnecting, h)
	rt.dispatcher.mu.Unlock()
}

// ── State ────────────────────────────────────────────────────────────────

// State returns the current connection state.
func (rt *RealtimeClient) State() ConnState {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.state
}

// Connected reports whether the live channel is currently usable. Consumers
// must treat false as "fall back to REST".
func (rt *RealtimeClient) Connected() bool {
	return rt.State() == StateConnected
}

// OnlineUsers returns the ids of users currently reported online.
func (rt *RealtimeClient) OnlineUsers() []string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	ids := make([]string, 0, len(rt.online))
	for id := range rt.online {
		ids = append(ids, id)
	}
	return ids
}

// IsUserOnline reports whether the given user is currently online.
func (rt *RealtimeClient) IsUserOnline(userID string) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	_, ok := rt.online[userID]
	return ok
}

// ── Lifecycle ────────────────────────────────────────────────────────────

// Connect establishes the websocket connection authenticated by token. It is
// a no-op when already connected with the same token, and an error when a
// connection with a different token exists: identity switches require
// Disconnect first so no subscriptions leak across sessions.
func (rt *RealtimeClient) Connect(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("connect requires a non-empty token")
	}

	rt.mu.Lock()
	if rt.state == StateConnected || rt.state == StateConnecting {
		same := rt.token == token
		rt.mu.Unlock()
		if same {
			return nil
		}
		return fmt.Errorf("already connected with a different token: disconnect first")
	}
	rt.state = StateConnecting
	rt.token = token
	rt.intentionalClose = false
	rt.mu.Unlock()

	wsURL := strings.Replace(rt.baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/ws?token=" + token

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		rt.setState(StateDisconnected)
		return fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(1 << 20)

	// The server confirms the handshake before any events flow; only then
	// does the channel count as connected.
	_, data, err := conn.Read(ctx)
	if err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		rt.setState(StateDisconnected)
		return fmt.Errorf("read handshake: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type != evAuthenticated {
		conn.Close(websocket.StatusNormalClosure, "")
		rt.setState(StateDisconnected)
		return fmt.Errorf("expected %q handshake, got %q", evAuthenticated, env.Type)
	}

	connCtx, cancel := context.WithCancel(context.Background())

	rt.mu.Lock()
	rt.conn = conn
	rt.state = StateConnected
	rt.online = make(map[string]struct{})
	rt.cancelFn = cancel
	rt.mu.Unlock()
	rt.recon.markConnected()

	rt.dispatcher.emitConnected()

	go rt.readLoop(connCtx, conn)
	go rt.heartbeatLoop(connCtx, conn)

	return nil
}

// Disconnect tears the channel down immediately, clearing the connected flag
// and the online-user set. Must be called when authentication is lost.
func (rt *RealtimeClient) Disconnect() error {
	rt.mu.Lock()
	rt.intentionalClose = true
	if rt.cancelFn != nil {
		rt.cancelFn()
		rt.cancelFn = nil
	}
	conn := rt.conn
	rt.conn = nil
	rt.state = StateDisconnected
	rt.token = ""
	rt.online = make(map[string]struct{})
	rt.mu.Unlock()

	rt.failPendingAcks("disconnected")

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}

func (rt *RealtimeClient) setState(s ConnState) {
	rt.mu.Lock()
	rt.state = s
	rt.mu.Unlock()
}

// ── Commands ─────────────────────────────────────────────────────────────

// SendMessage sends a message over the live channel and waits for the
// server's acknowledgment. A reported delivery failure comes back as an
// error; the message is never inserted locally before the echoed event.
func (rt *RealtimeClient) SendMessage(ctx context.Context, conversationID, text string) (*Message, error) {
	requestID := uuid.NewString()

	ch := make(chan sendAck, 1)
	rt.pendingMu.Lock()
	rt.pendingAcks[requestID] = ch
	rt.pendingMu.Unlock()

	err := rt.send(ctx, envelope{
		Type:      cmdMessageSend,
		Payload:   mustJSON(map[string]string{"conversationId": conversationID, "text": text}),
		RequestID: requestID,
	})
	if err != nil {
		rt.dropPendingAck(requestID)
		return nil, err
	}

	select {
	case ack, ok := <-ch:
		if !ok {
			return nil, ErrNotConnected
		}
		if !ack.Success {
			if ack.Error != "" {
				return nil, fmt.Errorf("delivery failed: %s", ack.Error)
			}
			return nil, fmt.Errorf("delivery failed")
		}
		return ack.Message, nil
	case <-time.After(rt.config.AckTimeout):
		rt.dropPendingAck(requestID)
		return nil, fmt.Errorf("send acknowledgment timed out")
	case <-ctx.Done():
		rt.dropPendingAck(requestID)
		return nil, ctx.Err()
	}
}

// JoinConversation subscribes this session to a conversation room so the
// server scopes event delivery to it.
func (rt *RealtimeClient) JoinConversation(ctx context.Context, conversationID string) error {
	return rt.send(ctx, envelope{
		Type:    cmdConversationJoin,
		Payload: mustJSON(map[string]string{"conversationId": conversationID}),
	})
}

// LeaveConversation unsubscribes this session from a conversation room.
func (rt *RealtimeClient) LeaveConversation(ctx context.Context, conversationID string) error {
	return rt.send(ctx, envelope{
		Type:    cmdConversationLeave,
		Payload: mustJSON(map[string]string{"conversationId": conversationID}),
	})
}

// Typing broadcasts a typing indicator for the conversation.
func (rt *RealtimeClient) Typing(ctx context.Context, conversationID string, isTyping bool) error {
	return rt.send(ctx, envelope{
		Type: cmdTyping,
		Payload: mustJSON(map[string]any{
			"conversationId": conversationID,
			"isTyping":       isTyping,
		}),
	})
}

// MarkMessageRead notifies the sender's session that a message was read.
func (rt *RealtimeClient) MarkMessageRead(ctx context.Context, messageID string) error {
	return rt.send(ctx, envelope{
		Type:    cmdMessageRead,
		Payload: mustJSON(map[string]string{"messageId": messageID}),
	})
}

func (rt *RealtimeClient) send(ctx context.Context, env envelope) error {
	rt.mu.Lock()
	conn := rt.conn
	rt.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// ── Loops ────────────────────────────────────────────────────────────────

func (rt *RealtimeClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			rt.mu.Lock()
			intentional := rt.intentionalClose
			if rt.conn == conn {
				rt.conn = nil
				rt.state = StateDisconnected
				rt.online = make(map[string]struct{})
			}
			rt.mu.Unlock()

			rt.failPendingAcks("connection lost")

			if intentional {
				return
			}
			rt.dispatcher.emitDisconnected(0, err.Error())
			if rt.config.AutoReconnect && rt.recon.shouldReconnect() {
				go rt.scheduleReconnect()
			}
			return
		}

		var env envelope
		if json.Unmarshal(data, &env) != nil {
			rt.logger.Debug("dropping malformed channel frame")
			continue
		}

		switch env.Type {
		case evMessageAck:
			var ack sendAck
			if json.Unmarshal(env.Payload, &ack) == nil && env.RequestID != "" {
				rt.pendingMu.Lock()
				ch, ok := rt.pendingAcks[env.RequestID]
				if ok {
					delete(rt.pendingAcks, env.RequestID)
				}
				rt.pendingMu.Unlock()
				if ok {
					ch <- ack
				}
			}
			continue
		case evUserOnline:
			rt.patchOnline(env.Payload, true)
		case evUserOffline:
			rt.patchOnline(env.Payload, false)
		}

		rt.dispatcher.dispatch(env)
	}
}

func (rt *RealtimeClient) patchOnline(payload json.RawMessage, online bool) {
	var p struct {
		UserID string `json:"userId"`
	}
	if json.Unmarshal(payload, &p) != nil || p.UserID == "" {
		return
	}
	rt.mu.Lock()
	if online {
		rt.online[p.UserID] = struct{}{}
	} else {
		delete(rt.online, p.UserID)
	}
	rt.mu.Unlock()
}

func (rt *RealtimeClient) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(rt.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

func (rt *RealtimeClient) scheduleReconnect() {
	delay, attempt := rt.recon.nextDelay()
	rt.setState(StateReconnecting)
	rt.dispatcher.emitReconnecting(attempt, delay)

	time.Sleep(delay)

	rt.mu.Lock()
	token := rt.token
	rt.state = StateDisconnected
	rt.mu.Unlock()
	if token == "" {
		// Disconnect won the race; the session is gone.
		return
	}

	if err := rt.Connect(context.Background(), token); err != nil {
		rt.logger.Warn("reconnect attempt failed", "error", err)
		if rt.config.AutoReconnect && rt.recon.shouldReconnect() {
			rt.scheduleReconnect()
		}
	}
}

func (rt *RealtimeClient) dropPendingAck(requestID string) {
	rt.pendingMu.Lock()
	delete(rt.pendingAcks, requestID)
	rt.pendingMu.Unlock()
}

func (rt *RealtimeClient) failPendingAcks(reason string) {
	rt.pendingMu.Lock()
	n := len(rt.pendingAcks)
	for id, ch := range rt.pendingAcks {
		close(ch)
		delete(rt.pendingAcks, id)
	}
	rt.pendingMu.Unlock()
	if n > 0 {
		rt.logger.Debug("abandoned pending acks", "count", n, "reason", reason)
	}
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
