package store

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// Blob keys for the two durable lists and the session credential.
const (
	KeyPending = "pending_items"
	KeyFailed  = "failed_items"
	KeySession = "session_token"
)

// BlobStore is process-independent storage of string-keyed blobs. It is the
// only persistence primitive the agent relies on; everything above it
// serializes full lists as single values.
type BlobStore interface {
	// Get returns nil with no error when the key is absent.
	Get(key string) ([]byte, error)
	Put(key string, data []byte) error
	Delete(key string) error
	Close() error
}

const bucketName = "agent"

// BoltStore persists blobs in a single-file bbolt database. Writes are
// committed before Put returns, so a process crash never loses an
// acknowledged enqueue.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBolt opens (or creates) the store file. The open blocks briefly when
// another process holds the file lock, then fails instead of hanging.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open store file %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare store bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Get(key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(bucketName)).Get([]byte(key))
		if v != nil {
			out = make([]byte, len(v))
			copy(out, v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store read failed for %s: %w", key, err)
	}
	return out, nil
}

func (s *BoltStore) Put(key string, data []byte) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("store write failed for %s: %w", key, err)
	}
	return nil
}

func (s *BoltStore) Delete(key string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("store delete failed for %s: %w", key, err)
	}
	return nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
