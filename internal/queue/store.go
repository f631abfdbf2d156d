package queue

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/alexsiroli/sagra-orders/internal/orders"
)

// Bucket layout of the local database file.
var (
	bucketPending = []byte("pending")
	bucketFailed  = []byte("failed")
	bucketStats   = []byte("stats")
)

var statsKey = []byte("main")

// StorageError means the local durable storage itself misbehaved. It is
// surfaced as a warning and never blocks a direct online attempt; it does
// mean offline durability is gone until the storage recovers.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("local queue storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// QueuedSubmission is one order submission parked locally until the
// authoritative store accepts it.
type QueuedSubmission struct {
	ID         string            `json:"id"` // local id, insertion-ordered
	Submission orders.Submission `json:"submission"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
	RetryCount int               `json:"retry_count"`
	MaxRetries int               `json:"max_retries"`
	LastError  string            `json:"last_error,omitempty"`
	FailedAt   *time.Time        `json:"failed_at,omitempty"`
}

// Stats is the single fixed-key local stats record.
type Stats struct {
	LastKnownSequence int64     `json:"last_known_sequence"`
	LastSyncAt        time.Time `json:"last_sync_at"`
	PendingCount      int       `json:"pending_count"`
	FailedCount       int       `json:"failed_count"`
}

// Store is the device-local durable queue. It is private to one device and
// never shared; FIFO order is the key order of the pending bucket.
type Store struct {
	db      *bolt.DB
	nowFunc func() time.Time
}

// Open opens (or creates) the queue database file.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketPending, bucketFailed, bucketStats} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, &StorageError{Op: "init buckets", Err: err}
	}
	return &Store{db: db, nowFunc: time.Now}, nil
}

// Close releases the database file.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return &StorageError{Op: "close", Err: err}
	}
	return nil
}

// Enqueue persists a submission and returns it with its local id assigned.
// Returns only once the entry is on disk.
func (s *Store) Enqueue(sub orders.Submission, maxRetries int) (*QueuedSubmission, error) {
	entry := &QueuedSubmission{
		Submission: sub,
		EnqueuedAt: s.nowFunc().UTC(),
		RetryCount: 0,
		MaxRetries: maxRetries,
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPending)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		entry.ID = fmt.Sprintf("%016d", seq)
		buf, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(entry.ID), buf); err != nil {
			return err
		}
		return s.mutateStats(tx, func(st *Stats) {
			st.PendingCount++
		})
	})
	if err != nil {
		return nil, &StorageError{Op: "enqueue", Err: err}
	}
	return entry, nil
}

// List returns all pending submissions in insertion order.
func (s *Store) List() ([]QueuedSubmission, error) {
	var out []QueuedSubmission
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPending).ForEach(func(k, v []byte) error {
			var entry QueuedSubmission
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("corrupt entry %s: %w", k, err)
			}
			out = append(out, entry)
			return nil
		})
	})
	if err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}
	return out, nil
}

// ListFailed returns the retained terminally failed submissions, for manual
// reconciliation.
func (s *Store) ListFailed() ([]QueuedSubmission, error) {
	var out []QueuedSubmission
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFailed).ForEach(func(k, v []byte) error {
			var entry QueuedSubmission
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("corrupt entry %s: %w", k, err)
			}
			out = append(out, entry)
			return nil
		})
	})
	if err != nil {
		return nil, &StorageError{Op: "list failed", Err: err}
	}
	return out, nil
}

// Remove deletes a pending entry, typically because its order committed.
func (s *Store) Remove(id string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPending)
		if b.Get([]byte(id)) == nil {
			return fmt.Errorf("entry %s not found", id)
		}
		if err := b.Delete([]byte(id)); err != nil {
			return err
		}
		return s.mutateStats(tx, func(st *Stats) {
			if st.PendingCount > 0 {
				st.PendingCount--
			}
		})
	})
	if err != nil {
		return &StorageError{Op: "remove", Err: err}
	}
	return nil
}

// UpdateRetryCount rewrites a single entry's retry counter.
func (s *Store) UpdateRetryCount(id string, count int, lastError string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPending)
		raw := b.Get([]byte(id))
		if raw == nil {
			return fmt.Errorf("entry %s not found", id)
		}
		var entry QueuedSubmission
		if err := json.Unmarshal(raw, &entry); err != nil {
			return err
		}
		entry.RetryCount = count
		entry.LastError = lastError
		buf, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), buf)
	})
	if err != nil {
		return &StorageError{Op: "update retry count", Err: err}
	}
	return nil
}

// MoveToFailed removes an entry from active rotation after its retry budget
// is spent. The entry is retained in the failed bucket, not discarded:
// an accepted order must never silently disappear.
func (s *Store) MoveToFailed(id string, reason string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		pending := tx.Bucket(bucketPending)
		raw := pending.Get([]byte(id))
		if raw == nil {
			return fmt.Errorf("entry %s not found", id)
		}
		var entry QueuedSubmission
		if err := json.Unmarshal(raw, &entry); err != nil {
			return err
		}
		now := s.nowFunc().UTC()
		entry.LastError = reason
		entry.FailedAt = &now
		buf, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketFailed).Put([]byte(id), buf); err != nil {
			return err
		}
		if err := pending.Delete([]byte(id)); err != nil {
			return err
		}
		return s.mutateStats(tx, func(st *Stats) {
			if st.PendingCount > 0 {
				st.PendingCount--
			}
			st.FailedCount++
		})
	})
	if err != nil {
		return &StorageError{Op: "move to failed", Err: err}
	}
	return nil
}

// GetStats reads the stats record, zero-valued if never written.
func (s *Store) GetStats() (*Stats, error) {
	var st Stats
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketStats).Get(statsKey)
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &st)
	})
	if err != nil {
		return nil, &StorageError{Op: "get stats", Err: err}
	}
	return &st, nil
}

// UpdateStats applies mutate to the stats record under one write transaction.
func (s *Store) UpdateStats(mutate func(*Stats)) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return s.mutateStats(tx, mutate)
	})
	if err != nil {
		return &StorageError{Op: "update stats", Err: err}
	}
	return nil
}

// LastKnownSequence implements sequence.LocalCache for the offline fallback.
func (s *Store) LastKnownSequence() (int64, error) {
	st, err := s.GetStats()
	if err != nil {
		return 0, err
	}
	return st.LastKnownSequence, nil
}

func (s *Store) mutateStats(tx *bolt.Tx, mutate func(*Stats)) error {
	b := tx.Bucket(bucketStats)
	var st Stats
	if raw := b.Get(statsKey); raw != nil {
		if err := json.Unmarshal(raw, &st); err != nil {
			return err
		}
	}
	mutate(&st)
	buf, err := json.Marshal(&st)
	if err != nil {
		return err
	}
	return b.Put(statsKey, buf)
}
