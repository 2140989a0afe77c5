package httpapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guizzs26/go-inventory-agent/internal/models"
	"github.com/Guizzs26/go-inventory-agent/internal/remote"
	"github.com/Guizzs26/go-inventory-agent/internal/service"
	"github.com/Guizzs26/go-inventory-agent/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	router     http.Handler
	queue      *store.PendingQueue
	deadLetter *store.DeadLetterStore
	session    *remote.SessionManager
	scheduler  *service.Scheduler
}

func newFixture(t *testing.T, backend http.Handler) *fixture {
	t.Helper()

	if backend == nil {
		backend = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	}
	backendSrv := httptest.NewServer(backend)
	t.Cleanup(backendSrv.Close)

	blobs := store.NewMemStore()
	queue := store.NewPendingQueue(blobs, testLogger())
	dl := store.NewDeadLetterStore(blobs, testLogger())
	session := remote.NewSessionManager(blobs, testLogger())
	client := remote.NewClient(backendSrv.URL, session, 5*time.Second, 2*time.Second, testLogger())
	engine := service.NewSyncEngine(queue, dl, client, session, testLogger())
	scheduler := service.NewScheduler(engine, client.Reachable, service.SchedulerConfig{
		Interval: time.Hour,
		Retry:    time.Hour,
	}, testLogger())

	srv := NewServer(queue, dl, scheduler, client, session, testLogger())
	return &fixture{
		router:     srv.Router(),
		queue:      queue,
		deadLetter: dl,
		session:    session,
		scheduler:  scheduler,
	}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEnqueueAcceptsKnownKind(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/enqueue",
		`{"kind":"STOCK_CREATE","payload":{"product_id":7,"location":"A1","quantity":5}}`)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	items := f.queue.List()
	require.Len(t, items, 1)
	assert.Equal(t, models.KindStockCreate, items[0].Kind)
	assert.JSONEq(t, `{"product_id":7,"location":"A1","quantity":5}`, string(items[0].Payload))
}

func TestEnqueueRejectsUnknownKind(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/enqueue", `{"kind":"NUKE_WAREHOUSE","payload":{}}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, f.queue.Size())
}

func TestEnqueueRejectsEmptyPayload(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/api/enqueue", `{"kind":"STOCK_CREATE"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPendingListAndClear(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.queue.Enqueue(models.NewPendingMutation(models.KindCategoryCreate, json.RawMessage(`{"name":"Tools"}`))))

	rec := f.do(t, http.MethodGet, "/api/pending", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var items []models.PendingMutation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 1)

	rec = f.do(t, http.MethodDelete, "/api/pending", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, f.queue.Size())
}

func TestFailedRequeue(t *testing.T) {
	f := newFixture(t, nil)
	failed := models.NewFailedMutation(
		models.NewPendingMutation(models.KindProductCreate, json.RawMessage(`{"sku":"S1"}`)), 422, "bad sku")
	require.NoError(t, f.deadLetter.Add(failed))

	rec := f.do(t, http.MethodPost, "/api/failed/0/requeue", "")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, f.deadLetter.Size())
	assert.Equal(t, 1, f.queue.Size())
}

func TestFailedRequeueOutOfRange(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/api/failed/9/requeue", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFailedRemoveRejectsBadIndex(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodDelete, "/api/failed/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFlushAccepted(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/api/flush", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestLoginStoresToken(t *testing.T) {
	backend := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/login" {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"access_token":"fresh-jwt"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	f := newFixture(t, backend)

	rec := f.do(t, http.MethodPost, "/api/login", `{"username":"ops","password":"pw"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	token, ok := f.session.Token()
	assert.True(t, ok)
	assert.Equal(t, "fresh-jwt", token)
}

func TestLoginBackendRejection(t *testing.T) {
	backend := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	})
	f := newFixture(t, backend)

	rec := f.do(t, http.MethodPost, "/api/login", `{"username":"ops","password":"wrong"}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	_, ok := f.session.Token()
	assert.False(t, ok)
}

func TestStatus(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.queue.Enqueue(models.NewPendingMutation(models.KindCategoryCreate, json.RawMessage(`{}`))))

	rec := f.do(t, http.MethodGet, "/api/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var status struct {
		Pending        int  `json:"pending"`
		Failed         int  `json:"failed"`
		SessionExpired bool `json:"session_expired"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 1, status.Pending)
	assert.Zero(t, status.Failed)
	assert.True(t, status.SessionExpired)
}
