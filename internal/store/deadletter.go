package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Guizzs26/go-inventory-agent/internal/models"
	"github.com/Guizzs26/go-inventory-agent/pkg/metrics"
)

// ErrIndexOutOfRange is returned by index-addressed dead-letter operations
// when the entry no longer exists.
var ErrIndexOutOfRange = errors.New("dead-letter index out of range")

// DeadLetterStore holds mutations the engine will not retry automatically.
// Entries wait for manual disposition: delete or requeue.
type DeadLetterStore struct {
	mu     sync.Mutex
	blobs  BlobStore
	logger *slog.Logger
}

func NewDeadLetterStore(blobs BlobStore, logger *slog.Logger) *DeadLetterStore {
	return &DeadLetterStore{blobs: blobs, logger: logger}
}

func (d *DeadLetterStore) Add(f models.FailedMutation) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	items := d.load()
	items = append(items, f)
	return d.save(items)
}

func (d *DeadLetterStore) List() []models.FailedMutation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.load()
}

func (d *DeadLetterStore) Clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.save(nil)
}

func (d *DeadLetterStore) RemoveAt(index int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	items := d.load()
	if index < 0 || index >= len(items) {
		return ErrIndexOutOfRange
	}
	items = append(items[:index], items[index+1:]...)
	return d.save(items)
}

func (d *DeadLetterStore) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.load())
}

// Requeue moves the entry at index back to the tail of the pending queue
// and removes it from the dead letter. The append happens first: if the
// removal is interrupted the item can briefly exist in both stores, which
// is resolved at the next manual inspection and never re-sent twice within
// a single flush pass.
func (d *DeadLetterStore) Requeue(index int, queue *PendingQueue) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	items := d.load()
	if index < 0 || index >= len(items) {
		return ErrIndexOutOfRange
	}
	entry := items[index]

	if err := queue.Enqueue(entry.Original); err != nil {
		return fmt.Errorf("requeue append failed: %w", err)
	}

	items = append(items[:index], items[index+1:]...)
	if err := d.save(items); err != nil {
		return fmt.Errorf("requeue removal failed (item now in both stores): %w", err)
	}

	d.logger.Info("Dead-letter entry requeued", "kind", entry.Original.Kind, "index", index)
	return nil
}

func (d *DeadLetterStore) load() []models.FailedMutation {
	raw, err := d.blobs.Get(KeyFailed)
	if err != nil {
		d.logger.Error("Failed to read dead-letter store", "error", err)
		return nil
	}
	if len(raw) == 0 {
		return nil
	}

	var items []models.FailedMutation
	if err := json.Unmarshal(raw, &items); err != nil {
		d.logger.Warn("Dead-letter blob is corrupt, treating as empty", "error", err)
		return nil
	}
	return items
}

func (d *DeadLetterStore) save(items []models.FailedMutation) error {
	if items == nil {
		items = []models.FailedMutation{}
	}

	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to serialize dead-letter store: %w", err)
	}
	if err := d.blobs.Put(KeyFailed, raw); err != nil {
		return fmt.Errorf("failed to persist dead-letter store: %w", err)
	}

	metrics.DeadLetterSize.Set(float64(len(items)))
	return nil
}
