package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Guizzs26/go-inventory-agent/internal/models"
	"github.com/Guizzs26/go-inventory-agent/pkg/metrics"
)

// PendingQueue is the ordered, durable list of not-yet-confirmed mutations.
// Insertion order is replay order. The full list is persisted as a single
// blob, so callers never observe a partial write.
//
// The mutex guards only the read-modify-persist cycle; no network call ever
// happens while it is held.
type PendingQueue struct {
	mu        sync.Mutex
	blobs     BlobStore
	logger    *slog.Logger
	onEnqueue func()
}

func NewPendingQueue(blobs BlobStore, logger *slog.Logger) *PendingQueue {
	return &PendingQueue{blobs: blobs, logger: logger}
}

// OnEnqueue installs the scheduler hook fired after every successful
// enqueue. Must be set during wiring, before concurrent use.
func (q *PendingQueue) OnEnqueue(fn func()) {
	q.onEnqueue = fn
}

// Enqueue appends m at the tail and persists the list before returning.
// The scheduler hook runs after the lock is released.
func (q *PendingQueue) Enqueue(m models.PendingMutation) error {
	q.mu.Lock()
	items := q.load()
	items = append(items, m)
	err := q.save(items)
	q.mu.Unlock()

	if err != nil {
		return err
	}

	q.logger.Info("Mutation enqueued", "kind", m.Kind, "pending", len(items))
	if q.onEnqueue != nil {
		q.onEnqueue()
	}
	return nil
}

// List returns the pending mutations in replay order. Reading never mutates.
func (q *PendingQueue) List() []models.PendingMutation {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load()
}

// ReplaceAll atomically overwrites the persisted list.
func (q *PendingQueue) ReplaceAll(items []models.PendingMutation) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.save(items)
}

// ReplaceHead commits the remainder of a flush pass that started from a
// snapshot of length snapshotLen. Mutations enqueued while the pass was
// dispatching sit beyond the snapshot and are preserved at the tail.
func (q *PendingQueue) ReplaceHead(snapshotLen int, remainder []models.PendingMutation) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	current := q.load()
	if snapshotLen > len(current) {
		snapshotLen = len(current)
	}

	next := make([]models.PendingMutation, 0, len(remainder)+len(current)-snapshotLen)
	next = append(next, remainder...)
	next = append(next, current[snapshotLen:]...)
	return q.save(next)
}

// Clear empties the list. Administrative operation.
func (q *PendingQueue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.save(nil)
}

func (q *PendingQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.load())
}

// load deserializes the pending blob. A corrupt blob is treated as empty
// rather than wedging the agent; the raw data stays in the store until the
// next save.
func (q *PendingQueue) load() []models.PendingMutation {
	raw, err := q.blobs.Get(KeyPending)
	if err != nil {
		q.logger.Error("Failed to read pending queue", "error", err)
		return nil
	}
	if len(raw) == 0 {
		return nil
	}

	var items []models.PendingMutation
	if err := json.Unmarshal(raw, &items); err != nil {
		q.logger.Warn("Pending queue blob is corrupt, treating as empty", "error", err)
		return nil
	}
	return items
}

func (q *PendingQueue) save(items []models.PendingMutation) error {
	if items == nil {
		items = []models.PendingMutation{}
	}

	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to serialize pending queue: %w", err)
	}
	if err := q.blobs.Put(KeyPending, raw); err != nil {
		return fmt.Errorf("failed to persist pending queue: %w", err)
	}

	metrics.QueueBacklog.Set(float64(len(items)))
	return nil
}
