package creatorlane

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Outbox types
// ============================================================================

// Outbox statuses.
const (
	OpPending = "pending"
	OpFailed  = "failed"
)

// OutboxOp is a queued message send that could not reach the server. The
// ClientID doubles as the idempotency key, so a retry that raced a
// successful delivery does not duplicate the message.
type OutboxOp struct {
	ID         string              `json:"id"`
	Request    *SendMessageRequest `json:"request"`
	Status     string              `json:"status"`
	Retries    int                 `json:"retries"`
	MaxRetries int                 `json:"maxRetries"`
	Error      string              `json:"error,omitempty"`
	CreatedAt  time.Time           `json:"createdAt"`
}

// OutboxStorage persists queued operations. MemoryOutbox keeps them for the
// lifetime of the process; BoltOutbox survives restarts.
type OutboxStorage interface {
	Enqueue(op *OutboxOp) error
	// Ready returns up to limit pending ops, oldest first.
	Ready(limit int) ([]*OutboxOp, error)
	Ack(opID string) error
	Nack(opID, errMsg string, retries int) error
	PendingCount() (int, error)
}

// ============================================================================
// MemoryOutbox
// ============================================================================

// MemoryOutbox is a goroutine-safe in-memory OutboxStorage.
type MemoryOutbox struct {
	mu  sync.Mutex
	ops map[string]*OutboxOp
}

func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{ops: make(map[string]*OutboxOp)}
}

func (s *MemoryOutbox) Enqueue(op *OutboxOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops[op.ID] = op
	return nil
}

func (s *MemoryOutbox) Ready(limit int) ([]*OutboxOp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ready []*OutboxOp
	for _, op := range s.ops {
		if op.Status == OpPending && op.Retries < op.MaxRetries {
			ready = append(ready, op)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].CreatedAt.Before(ready[j].CreatedAt) })
	if len(ready) > limit {
		ready = ready[:limit]
	}
	return ready, nil
}

func (s *MemoryOutbox) Ack(opID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ops, opID)
	return nil
}

func (s *MemoryOutbox) Nack(opID, errMsg string, retries int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if op := s.ops[opID]; op != nil {
		op.Retries = retries
		op.Error = errMsg
		if retries >= op.MaxRetries {
			op.Status = OpFailed
		}
	}
	return nil
}

func (s *MemoryOutbox) PendingCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, op := range s.ops {
		if op.Status == OpPending {
			count++
		}
	}
	return count, nil
}

// ============================================================================
// Outbox
// ============================================================================

// OutboxConfig configures an Outbox.
type OutboxConfig struct {
	RetryLimit    int
	FlushInterval time.Duration
	Logger        *slog.Logger
}

func (c *OutboxConfig) defaults() {
	if c.RetryLimit == 0 {
		c.RetryLimit = 5
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Outbox retries REST sends that failed at the transport level. Flushes run
// on a timer and on channel reconnect; at most one flush is in flight.
type Outbox struct {
	client  *Client
	storage OutboxStorage
	logger  *slog.Logger

	retryLimit    int
	flushInterval time.Duration

	mu       sync.Mutex
	flushing bool
	stopCh   chan struct{}
	stopped  bool
}

// NewOutbox creates an outbox over the given storage.
func NewOutbox(client *Client, storage OutboxStorage, config *OutboxConfig) *Outbox {
	cfg := OutboxConfig{}
	if config != nil {
		cfg = *config
	}
	cfg.defaults()
	return &Outbox{
		client:        client,
		storage:       storage,
		logger:        cfg.Logger,
		retryLimit:    cfg.RetryLimit,
		flushInterval: cfg.FlushInterval,
		stopCh:        make(chan struct{}),
	}
}

// Start launches the background flush loop.
func (o *Outbox) Start() {
	go o.flushLoop()
}

// Stop terminates the background flush loop.
func (o *Outbox) Stop() {
	o.mu.Lock()
	if !o.stopped {
		o.stopped = true
		close(o.stopCh)
	}
	o.mu.Unlock()
}

// Bind flushes the queue whenever the live channel comes (back) up, the
// moment queued sends are most likely to succeed.
func (o *Outbox) Bind(ch Channel) {
	ch.OnConnected(func() {
		go o.Flush(context.Background())
	})
}

// EnqueueSend queues a send request for later delivery. The request keeps
// its ClientID so the server can deduplicate a raced retry.
func (o *Outbox) EnqueueSend(req *SendMessageRequest) error {
	if req.ClientID == "" {
		req.ClientID = uuid.NewString()
	}
	return o.storage.Enqueue(&OutboxOp{
		ID:         req.ClientID,
		Request:    req,
		Status:     OpPending,
		MaxRetries: o.retryLimit,
		CreatedAt:  time.Now(),
	})
}

// Pending returns the number of queued sends awaiting delivery.
func (o *Outbox) Pending() int {
	n, err := o.storage.PendingCount()
	if err != nil {
		o.logger.Warn("outbox pending count failed", "error", err)
		return 0
	}
	return n
}

func (o *Outbox) flushLoop() {
	ticker := time.NewTicker(o.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-o.stopCh:
			return
		case <-ticker.C:
			o.Flush(context.Background())
		}
	}
}

// Flush attempts delivery of ready operations, oldest first. Transport
// failures count against the retry budget; a server rejection is permanent
// and fails the op immediately.
func (o *Outbox) Flush(ctx context.Context) {
	o.mu.Lock()
	if o.flushing {
		o.mu.Unlock()
		return
	}
	o.flushing = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.flushing = false
		o.mu.Unlock()
	}()

	ops, err := o.storage.Ready(10)
	if err != nil {
		o.logger.Warn("outbox read failed", "error", err)
		return
	}

	for _, op := range ops {
		_, err := o.client.SendMessage(ctx, op.Request)
		if err == nil {
			if err := o.storage.Ack(op.ID); err != nil {
				o.logger.Warn("outbox ack failed", "opId", op.ID, "error", err)
			}
			continue
		}

		retries := op.Retries + 1
		if !retryableSendError(err) {
			retries = op.MaxRetries
		}
		if nErr := o.storage.Nack(op.ID, err.Error(), retries); nErr != nil {
			o.logger.Warn("outbox nack failed", "opId", op.ID, "error", nErr)
		}
		if retries >= op.MaxRetries {
			o.logger.Warn("outbox send failed permanently",
				"opId", op.ID, "conversationId", op.Request.ConversationID, "error", err)
		}
	}
}

// retryableSendError reports whether a failed send is worth retrying: the
// server explicitly rejecting the request (API error, revoked token) is
// permanent, anything transport-level is transient.
func retryableSendError(err error) bool {
	if errors.Is(err, ErrUnauthorized) {
		return false
	}
	var apiErr *APIError
	return !errors.As(err, &apiErr)
}
