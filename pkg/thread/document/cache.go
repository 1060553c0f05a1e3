package document

import (
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/openthread/engine/pkg/thread/types"
)

var messagesBucket = []byte("messages")

// MessageCache is the on-disk store messages larger than the configured
// threshold move to after MoveMessageToCacheDelay, per spec.md §4.1. The
// in-memory Message element is kept only as a CacheHandle once cached,
// and restored back to Body on demand.
type MessageCache struct {
	db        *bolt.DB
	threshold int
}

// OpenMessageCache opens (creating if necessary) a bbolt-backed cache at
// path, with bodies over thresholdBytes eligible for cache-out.
func OpenMessageCache(path string, thresholdBytes int) (*MessageCache, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(messagesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &MessageCache{db: db, threshold: thresholdBytes}, nil
}

// Close releases the underlying bbolt database.
func (c *MessageCache) Close() error { return c.db.Close() }

// Eligible reports whether m's body exceeds the cache-out threshold.
func (c *MessageCache) Eligible(m types.Message) bool {
	return len(m.Body) > c.threshold
}

// MoveOut persists m.Body under a handle derived from its MessageID and
// clears Body, leaving CacheHandle set. Safe to call from the owner's
// timer goroutine once the owning Document's lock is held by the caller.
func (c *MessageCache) MoveOut(m *types.Message) error {
	if m.CacheHandle != "" || len(m.Body) == 0 {
		return nil
	}
	handle := string(m.MessageID)
	err := c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(messagesBucket).Put([]byte(handle), m.Body)
	})
	if err != nil {
		return err
	}
	m.CacheHandle = handle
	m.Body = nil
	return nil
}

// Restore reads m's body back from the cache, transitioning it back to
// in_memory per spec.md §9's explicit cached-message state machine.
func (c *MessageCache) Restore(m *types.Message) error {
	if m.CacheHandle == "" {
		return nil
	}
	var body []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(messagesBucket).Get([]byte(m.CacheHandle))
		if v != nil {
			body = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return err
	}
	m.Body = body
	m.CacheHandle = ""
	return nil
}
