package operation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var operationsBucket = []byte("operations")

// BoltStore is a durable Store backed by a single bbolt file, for a
// deployment that needs operations to survive a process restart without
// standing up an external database. Same interface, same
// update-under-lock shape as MemoryStore — bbolt's own transaction
// serializes writes, so no additional mutex is needed here.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) a bbolt database at path and
// ensures the operations bucket exists.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("operation: open bolt store %q: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(operationsBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("operation: create operations bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close releases the underlying bbolt file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Create(url string) (*Operation, error) {
	op := &Operation{
		ID:        uuid.New().String(),
		Status:    StatusPending,
		URL:       url,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	if err := s.put(op); err != nil {
		return nil, err
	}
	return op, nil
}

func (s *BoltStore) Get(id string) (*Operation, error) {
	var op Operation
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(operationsBucket).Get([]byte(id))
		if raw == nil {
			return fmt.Errorf("operation %q not found", id)
		}
		return json.Unmarshal(raw, &op)
	})
	if err != nil {
		return nil, err
	}
	return &op, nil
}

func (s *BoltStore) MarkRunning(id string) error {
	return s.update(id, func(op *Operation) {
		op.Status = StatusRunning
	})
}

func (s *BoltStore) MarkComplete(id string, ttfb time.Duration, timedOut bool, artefacts []Artefact) error {
	return s.update(id, func(op *Operation) {
		op.Status = StatusComplete
		op.TTFB = ttfb
		op.TimedOut = timedOut
		op.Artefacts = artefacts
	})
}

func (s *BoltStore) MarkFailed(id string, err error) error {
	return s.update(id, func(op *Operation) {
		op.Status = StatusFailed
		op.Error = err.Error()
	})
}

func (s *BoltStore) put(op *Operation) error {
	raw, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("operation: marshal operation %q: %w", op.ID, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(operationsBucket).Put([]byte(op.ID), raw)
	})
}

func (s *BoltStore) update(id string, fn func(*Operation)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(operationsBucket)
		raw := b.Get([]byte(id))
		if raw == nil {
			return fmt.Errorf("operation %q not found", id)
		}

		var op Operation
		if err := json.Unmarshal(raw, &op); err != nil {
			return fmt.Errorf("operation: unmarshal operation %q: %w", id, err)
		}

		fn(&op)
		op.UpdatedAt = time.Now()

		updated, err := json.Marshal(&op)
		if err != nil {
			return fmt.Errorf("operation: marshal operation %q: %w", id, err)
		}
		return b.Put([]byte(id), updated)
	})
}
