package replay

import (
	"context"
	"encoding/binary"
	"time"

	bolt "github.com/boltdb/bolt"
)

const bucketName = "consumed"

// BoltGuard is a replay guard backed by a single-file BoltDB database, for
// deployments that need persistence across restarts without an external
// store. Bolt serializes writes, which makes the read-then-write in
// CheckAndSet atomic.
type BoltGuard struct {
	db *bolt.DB
}

// NewBoltGuard opens (or creates) the database file and ensures the consumed
// bucket exists.
func NewBoltGuard(path string) (*BoltGuard, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltGuard{db: db}, nil
}

// Close releases the database file lock.
func (g *BoltGuard) Close() error {
	return g.db.Close()
}

// CheckAndSet implements Guard. Each entry stores its expiry as a unix-nano
// timestamp; an expired entry counts as absent and is overwritten.
func (g *BoltGuard) CheckAndSet(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	var consumed bool
	err := g.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))

		now := time.Now()
		if v := b.Get([]byte(key)); len(v) == 8 {
			expiresAt := time.Unix(0, int64(binary.BigEndian.Uint64(v)))
			if now.Before(expiresAt) {
				consumed = false
				return nil
			}
		}

		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(now.Add(ttl).UnixNano()))
		if err := b.Put([]byte(key), buf); err != nil {
			return err
		}
		consumed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return consumed, nil
}
