package exclusion

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketHashes = []byte("not_wanted_hashes")
	bucketURLs   = []byte("not_wanted_urls")
	bucketWake   = []byte("wake_counts")
)

// Store is the bbolt file backing the exclusion sets and wake counts.
// Every mutation is its own transaction, so each write is durable on return.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the key-value file
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open exclusion store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketHashes, bucketURLs, bucketWake} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the file
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) has(bucket []byte, key string) bool {
	found := false
	_ = s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucket).Get([]byte(key)) != nil
		return nil
	})
	return found
}

func (s *Store) put(bucket []byte, key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), value)
	})
}

func (s *Store) count(bucket []byte) int {
	n := 0
	_ = s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucket).Stats().KeyN
		return nil
	})
	return n
}
