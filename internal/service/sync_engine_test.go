package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/go-inventory-agent/internal/models"
	"github.com/Guizzs26/go-inventory-agent/internal/remote"
	"github.com/Guizzs26/go-inventory-agent/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTokens struct{ token string }

func (f fakeTokens) Token() (string, bool) { return f.token, f.token != "" }

// scriptedSender answers each Send call from a per-kind script and
// records the order mutations were dispatched in.
type scriptedSender struct {
	healthErr error
	script    func(m models.PendingMutation) (remote.Outcome, error)
	sent      []models.Kind
}

func (s *scriptedSender) Health(ctx context.Context) error { return s.healthErr }

func (s *scriptedSender) Send(ctx context.Context, m models.PendingMutation) (remote.Outcome, error) {
	s.sent = append(s.sent, m.Kind)
	return s.script(m)
}

func newTestEngine(t *testing.T, sender Sender, token string) (*SyncEngine, *store.PendingQueue, *store.DeadLetterStore) {
	t.Helper()
	blobs := store.NewMemStore()
	queue := store.NewPendingQueue(blobs, discardLogger())
	dl := store.NewDeadLetterStore(blobs, discardLogger())
	engine := NewSyncEngine(queue, dl, sender, fakeTokens{token: token}, discardLogger())
	return engine, queue, dl
}

func enqueue(t *testing.T, q *store.PendingQueue, kind models.Kind, payload string) {
	t.Helper()
	require.NoError(t, q.Enqueue(models.NewPendingMutation(kind, json.RawMessage(payload))))
}

func TestFlushEmptyQueue(t *testing.T) {
	sender := &scriptedSender{}
	engine, _, _ := newTestEngine(t, sender, "tok")

	report := engine.Flush(context.Background())

	assert.Zero(t, report.Sent)
	assert.Empty(t, report.Reason)
	assert.Empty(t, sender.sent, "empty queue must not touch the network")
}

func TestFlushWithoutCredential(t *testing.T) {
	sender := &scriptedSender{}
	engine, queue, _ := newTestEngine(t, sender, "")
	enqueue(t, queue, models.KindCategoryCreate, `{"name":"Tools"}`)

	report := engine.Flush(context.Background())

	assert.Equal(t, ReasonNoCredential, report.Reason)
	assert.Empty(t, sender.sent)
	assert.Equal(t, 1, queue.Size(), "queue must be untouched")
}

func TestFlushEndpointUnavailable(t *testing.T) {
	sender := &scriptedSender{healthErr: errors.New("dial tcp: connection refused")}
	engine, queue, _ := newTestEngine(t, sender, "tok")
	enqueue(t, queue, models.KindCategoryCreate, `{"name":"Tools"}`)

	report := engine.Flush(context.Background())

	assert.Equal(t, ReasonEndpointUnavailable, report.Reason)
	assert.Empty(t, sender.sent, "failed probe must prevent any dispatch")
	assert.Equal(t, 1, queue.Size())
}

func TestFlushDrainsInOrder(t *testing.T) {
	sender := &scriptedSender{
		script: func(m models.PendingMutation) (remote.Outcome, error) {
			return remote.Outcome{Code: 201}, nil
		},
	}
	engine, queue, dl := newTestEngine(t, sender, "tok")
	enqueue(t, queue, models.KindProductCreate, `{"sku":"S1","name":"Hammer","barcode":"111","category_id":1}`)
	enqueue(t, queue, models.KindStockCreate, `{"product_id":7,"location":"A1","quantity":5}`)
	enqueue(t, queue, models.KindMovementIn, `{"product_id":7,"quantity":2,"location":"A1","movement_source":"MANUAL"}`)

	report := engine.Flush(context.Background())

	assert.Equal(t, 3, report.Sent)
	assert.Zero(t, report.MovedToFailed)
	assert.Empty(t, report.Reason)
	assert.Equal(t, []models.Kind{models.KindProductCreate, models.KindStockCreate, models.KindMovementIn}, sender.sent)
	assert.Zero(t, queue.Size())
	assert.Zero(t, dl.Size())
}

func TestFlushPermanentFailureDoesNotBlockSiblings(t *testing.T) {
	sender := &scriptedSender{
		script: func(m models.PendingMutation) (remote.Outcome, error) {
			if m.Kind == models.KindThresholdCreate {
				return remote.Outcome{Code: 422, Detail: "min_quantity must be positive"}, nil
			}
			return remote.Outcome{Code: 200}, nil
		},
	}
	engine, queue, dl := newTestEngine(t, sender, "tok")
	enqueue(t, queue, models.KindThresholdCreate, `{"product_id":7,"min_quantity":-1}`)
	enqueue(t, queue, models.KindStockCreate, `{"product_id":7,"location":"A1","quantity":5}`)

	report := engine.Flush(context.Background())

	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 1, report.MovedToFailed)
	assert.Empty(t, report.Reason, "pass ends drained even with a dead-lettered entry")
	assert.Zero(t, queue.Size())

	failed := dl.List()
	require.Len(t, failed, 1)
	assert.Equal(t, models.KindThresholdCreate, failed[0].Original.Kind)
	require.NotNil(t, failed[0].ResponseCode)
	assert.Equal(t, 422, *failed[0].ResponseCode)
	assert.Equal(t, "min_quantity must be positive", failed[0].Diagnostic)

	require.Len(t, report.NewlyFailed, 1)
	assert.Equal(t, models.KindThresholdCreate, report.NewlyFailed[0].Original.Kind)
}

func TestFlushTransientFailureHaltsPreservingOrder(t *testing.T) {
	sender := &scriptedSender{
		script: func(m models.PendingMutation) (remote.Outcome, error) {
			if m.Kind == models.KindStockCreate {
				return remote.Outcome{Code: 503, Detail: "maintenance window"}, nil
			}
			return remote.Outcome{Code: 200}, nil
		},
	}
	engine, queue, dl := newTestEngine(t, sender, "tok")
	enqueue(t, queue, models.KindCategoryCreate, `{"name":"Tools"}`)
	enqueue(t, queue, models.KindStockCreate, `{"product_id":7,"location":"A1","quantity":5}`)
	enqueue(t, queue, models.KindMovementOut, `{"product_id":7,"quantity":1,"location":"A1","movement_source":"MANUAL"}`)

	report := engine.Flush(context.Background())

	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, "StoppedWith2Pending", report.Reason)
	assert.Zero(t, dl.Size(), "transient failures never dead-letter")

	// The failed item and everything behind it stay queued, in order.
	remaining := queue.List()
	require.Len(t, remaining, 2)
	assert.Equal(t, models.KindStockCreate, remaining[0].Kind)
	assert.Equal(t, models.KindMovementOut, remaining[1].Kind)

	// The item behind the halt must never have been attempted.
	assert.Equal(t, []models.Kind{models.KindCategoryCreate, models.KindStockCreate}, sender.sent)
}

func TestFlushTransportErrorHalts(t *testing.T) {
	sender := &scriptedSender{
		script: func(m models.PendingMutation) (remote.Outcome, error) {
			return remote.Outcome{}, errors.New("read tcp: connection reset by peer")
		},
	}
	engine, queue, _ := newTestEngine(t, sender, "tok")
	enqueue(t, queue, models.KindCategoryCreate, `{"name":"Tools"}`)
	enqueue(t, queue, models.KindCategoryCreate, `{"name":"Paint"}`)

	report := engine.Flush(context.Background())

	assert.True(t, strings.HasPrefix(report.Reason, "TransportError: "), "reason %q", report.Reason)
	assert.Contains(t, report.Reason, "connection reset")
	assert.Zero(t, report.Sent)
	assert.Equal(t, 2, queue.Size())
	assert.Len(t, sender.sent, 1, "first transport failure halts the pass")
}

func TestFlushPreservesMutationsEnqueuedMidPass(t *testing.T) {
	var engine *SyncEngine
	var queue *store.PendingQueue

	sender := &scriptedSender{}
	sender.script = func(m models.PendingMutation) (remote.Outcome, error) {
		// A scan arrives while the pass is dispatching.
		if len(sender.sent) == 1 {
			enqueue(t, queue, models.KindScanEvent, `{"barcode":"999","type":"IN","quantity":1,"location":"B2"}`)
		}
		return remote.Outcome{Code: 200}, nil
	}
	engine, queue, _ = newTestEngine(t, sender, "tok")
	enqueue(t, queue, models.KindCategoryCreate, `{"name":"Tools"}`)
	enqueue(t, queue, models.KindCategoryCreate, `{"name":"Paint"}`)

	report := engine.Flush(context.Background())

	assert.Equal(t, 2, report.Sent)

	remaining := queue.List()
	require.Len(t, remaining, 1, "mid-pass enqueue must survive the commit")
	assert.Equal(t, models.KindScanEvent, remaining[0].Kind)
}

// failingPutStore fails writes to one key to simulate a dead-letter
// persistence fault.
type failingPutStore struct {
	*store.MemStore
	failKey string
}

func (f *failingPutStore) Put(key string, value []byte) error {
	if key == f.failKey {
		return fmt.Errorf("disk full")
	}
	return f.MemStore.Put(key, value)
}

func TestFlushDeadLetterWriteFailureLeavesItemQueued(t *testing.T) {
	blobs := &failingPutStore{MemStore: store.NewMemStore(), failKey: store.KeyFailed}
	queue := store.NewPendingQueue(blobs, discardLogger())
	dl := store.NewDeadLetterStore(blobs, discardLogger())
	sender := &scriptedSender{
		script: func(m models.PendingMutation) (remote.Outcome, error) {
			return remote.Outcome{Code: 422, Detail: "rejected"}, nil
		},
	}
	engine := NewSyncEngine(queue, dl, sender, fakeTokens{token: "tok"}, discardLogger())
	require.NoError(t, queue.Enqueue(models.NewPendingMutation(models.KindCategoryCreate, json.RawMessage(`{"name":"Tools"}`))))

	report := engine.Flush(context.Background())

	// The item must not vanish: if it cannot be recorded as failed, it
	// stays pending.
	assert.Zero(t, report.MovedToFailed)
	assert.Equal(t, 1, queue.Size())
	assert.Zero(t, dl.Size())
	assert.Equal(t, "StoppedWith1Pending", report.Reason)
}
