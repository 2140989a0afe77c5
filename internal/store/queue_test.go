package store

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/go-inventory-agent/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mutation(kind models.Kind, payload string) models.PendingMutation {
	return models.NewPendingMutation(kind, json.RawMessage(payload))
}

func TestQueuePreservesInsertionOrder(t *testing.T) {
	q := NewPendingQueue(NewMemStore(), testLogger())

	require.NoError(t, q.Enqueue(mutation(models.KindCategoryCreate, `{"name":"a"}`)))
	require.NoError(t, q.Enqueue(mutation(models.KindProductCreate, `{"sku":"b"}`)))
	require.NoError(t, q.Enqueue(mutation(models.KindStockCreate, `{"product_id":1}`)))

	items := q.List()
	require.Len(t, items, 3)
	assert.Equal(t, models.KindCategoryCreate, items[0].Kind)
	assert.Equal(t, models.KindProductCreate, items[1].Kind)
	assert.Equal(t, models.KindStockCreate, items[2].Kind)
	assert.Equal(t, 3, q.Size())
}

func TestQueueSurvivesReopen(t *testing.T) {
	blobs := NewMemStore()
	q := NewPendingQueue(blobs, testLogger())
	require.NoError(t, q.Enqueue(mutation(models.KindScanEvent, `{"barcode":"123"}`)))

	// A fresh queue over the same blobs sees the same items.
	q2 := NewPendingQueue(blobs, testLogger())
	items := q2.List()
	require.Len(t, items, 1)
	assert.Equal(t, models.KindScanEvent, items[0].Kind)
	assert.JSONEq(t, `{"barcode":"123"}`, string(items[0].Payload))
}

func TestQueueEnqueueHook(t *testing.T) {
	q := NewPendingQueue(NewMemStore(), testLogger())

	fired := 0
	q.OnEnqueue(func() { fired++ })

	require.NoError(t, q.Enqueue(mutation(models.KindCategoryCreate, `{}`)))
	require.NoError(t, q.Enqueue(mutation(models.KindCategoryCreate, `{}`)))
	assert.Equal(t, 2, fired)
}

func TestQueueReplaceHeadKeepsTailBeyondSnapshot(t *testing.T) {
	q := NewPendingQueue(NewMemStore(), testLogger())
	require.NoError(t, q.Enqueue(mutation(models.KindCategoryCreate, `{"name":"a"}`)))
	require.NoError(t, q.Enqueue(mutation(models.KindCategoryCreate, `{"name":"b"}`)))

	// Snapshot of 2 taken, then a third item lands mid-pass.
	require.NoError(t, q.Enqueue(mutation(models.KindScanEvent, `{"barcode":"late"}`)))

	// The pass consumed the first item and halted on the second.
	remainder := q.List()[1:2]
	require.NoError(t, q.ReplaceHead(2, remainder))

	items := q.List()
	require.Len(t, items, 2)
	assert.JSONEq(t, `{"name":"b"}`, string(items[0].Payload))
	assert.Equal(t, models.KindScanEvent, items[1].Kind)
}

func TestQueueReplaceHeadWithOversizedSnapshot(t *testing.T) {
	q := NewPendingQueue(NewMemStore(), testLogger())
	require.NoError(t, q.Enqueue(mutation(models.KindCategoryCreate, `{"name":"a"}`)))

	// Snapshot longer than the live list clamps instead of panicking.
	require.NoError(t, q.ReplaceHead(5, nil))
	assert.Zero(t, q.Size())
}

func TestQueueClear(t *testing.T) {
	q := NewPendingQueue(NewMemStore(), testLogger())
	require.NoError(t, q.Enqueue(mutation(models.KindCategoryCreate, `{}`)))

	require.NoError(t, q.Clear())
	assert.Zero(t, q.Size())
	assert.Empty(t, q.List())
}

func TestQueueCorruptBlobTreatedAsEmpty(t *testing.T) {
	blobs := NewMemStore()
	require.NoError(t, blobs.Put(KeyPending, []byte("not json{{")))

	q := NewPendingQueue(blobs, testLogger())
	assert.Empty(t, q.List())

	// Enqueueing after corruption starts a fresh list.
	require.NoError(t, q.Enqueue(mutation(models.KindCategoryCreate, `{}`)))
	assert.Equal(t, 1, q.Size())
}
