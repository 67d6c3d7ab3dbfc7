package creatorlane

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

var outboxBucket = []byte("outbox")

// BoltOutbox is a bbolt-backed OutboxStorage; queued sends survive process
// restarts. Intended for CLI and long-lived daemon use.
type BoltOutbox struct {
	db *bolt.DB
}

// OpenBoltOutbox opens (creating if needed) the outbox database at path.
func OpenBoltOutbox(path string) (*BoltOutbox, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open outbox db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(outboxBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init outbox bucket: %w", err)
	}
	return &BoltOutbox{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltOutbox) Close() error {
	return s.db.Close()
}

func (s *BoltOutbox) Enqueue(op *OutboxOp) error {
	data, err := json.Marshal(op)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(outboxBucket).Put([]byte(op.ID), data)
	})
}

func (s *BoltOutbox) Ready(limit int) ([]*OutboxOp, error) {
	var ready []*OutboxOp
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(outboxBucket).ForEach(func(k, v []byte) error {
			var op OutboxOp
			if err := json.Unmarshal(v, &op); err != nil {
				// Skip malformed entries instead of failing the whole read.
				return nil
			}
			if op.Status == OpPending && op.Retries < op.MaxRetries {
				ready = append(ready, &op)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].CreatedAt.Before(ready[j].CreatedAt) })
	if len(ready) > limit {
		ready = ready[:limit]
	}
	return ready, nil
}

func (s *BoltOutbox) Ack(opID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(outboxBucket).Delete([]byte(opID))
	})
}

func (s *BoltOutbox) Nack(opID, errMsg string, retries int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(outboxBucket)
		data := b.Get([]byte(opID))
		if data == nil {
			return nil
		}
		var op OutboxOp
		if err := json.Unmarshal(data, &op); err != nil {
			return nil
		}
		op.Retries = retries
		op.Error = errMsg
		if retries >= op.MaxRetries {
			op.Status = OpFailed
		}
		updated, err := json.Marshal(&op)
		if err != nil {
			return err
		}
		return b.Put([]byte(opID), updated)
	})
}

func (s *BoltOutbox) PendingCount() (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(outboxBucket).ForEach(func(k, v []byte) error {
			var op OutboxOp
			if json.Unmarshal(v, &op) == nil && op.Status == OpPending {
				count++
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}
