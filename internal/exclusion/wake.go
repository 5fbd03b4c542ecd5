package exclusion

import (
	"strconv"
	"sync"

	bolt "go.etcd.io/bbolt"
)

// WakeCounter tracks sleep cycles per item
type WakeCounter struct {
	store *Store
	mu    sync.Mutex
}

// NewWakeCounter creates a wake counter on store
func NewWakeCounter(store *Store) *WakeCounter {
	return &WakeCounter{store: store}
}

func wakeKey(id uint64) []byte {
	return []byte(strconv.FormatUint(id, 10))
}

// Get returns the current count for an item
func (w *WakeCounter) Get(id uint64) int {
	n := 0
	_ = w.store.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketWake).Get(wakeKey(id)); v != nil {
			n, _ = strconv.Atoi(string(v))
		}
		return nil
	})
	return n
}

// Increment adds one and returns the new count
func (w *WakeCounter) Increment(id uint64) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := 0
	err := w.store.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWake)
		if v := b.Get(wakeKey(id)); v != nil {
			n, _ = strconv.Atoi(string(v))
		}
		n++
		return b.Put(wakeKey(id), []byte(strconv.Itoa(n)))
	})
	return n, err
}

// Clear resets the count for an item
func (w *WakeCounter) Clear(id uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.store.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWake).Delete(wakeKey(id))
	})
}

// All returns every non-zero count
func (w *WakeCounter) All() map[uint64]int {
	out := make(map[uint64]int)
	_ = w.store.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWake).ForEach(func(k, v []byte) error {
			id, err := strconv.ParseUint(string(k), 10, 64)
			if err != nil {
				return nil
			}
			n, _ := strconv.Atoi(string(v))
			out[id] = n
			return nil
		})
	})
	return out
}
