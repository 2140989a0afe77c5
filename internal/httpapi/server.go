package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Guizzs26/go-inventory-agent/internal/models"
	"github.com/Guizzs26/go-inventory-agent/internal/remote"
	"github.com/Guizzs26/go-inventory-agent/internal/service"
	"github.com/Guizzs26/go-inventory-agent/internal/store"
)

// Server is the local admin surface of the agent. It binds to loopback
// and exists for operators and the queuectl CLI; it is not the sync
// transport and never talks to the backend except through Login.
type Server struct {
	queue      *store.PendingQueue
	deadLetter *store.DeadLetterStore
	scheduler  *service.Scheduler
	client     *remote.Client
	session    *remote.SessionManager
	logger     *slog.Logger

	mu         sync.Mutex
	lastReport service.Report
	hasReport  bool
}

func NewServer(queue *store.PendingQueue, deadLetter *store.DeadLetterStore, scheduler *service.Scheduler, client *remote.Client, session *remote.SessionManager, logger *slog.Logger) *Server {
	s := &Server{
		queue:      queue,
		deadLetter: deadLetter,
		scheduler:  scheduler,
		client:     client,
		session:    session,
		logger:     logger,
	}
	scheduler.OnReport(func(r service.Report) {
		s.mu.Lock()
		s.lastReport = r
		s.hasReport = true
		s.mu.Unlock()
	})
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/pending", s.handlePendingList)
		r.Delete("/pending", s.handlePendingClear)
		r.Post("/enqueue", s.handleEnqueue)
		r.Get("/failed", s.handleFailedList)
		r.Post("/failed/{index}/requeue", s.handleFailedRequeue)
		r.Delete("/failed/{index}", s.handleFailedRemove)
		r.Post("/flush", s.handleFlush)
		r.Post("/login", s.handleLogin)
	})

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Pending        int             `json:"pending"`
	Failed         int             `json:"failed"`
	SessionExpired bool            `json:"session_expired"`
	Reachable      bool            `json:"reachable"`
	LastReport     *service.Report `json:"last_report,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Pending:        s.queue.Size(),
		Failed:         s.deadLetter.Size(),
		SessionExpired: s.session.IsExpired(),
		Reachable:      s.client.Reachable(),
	}
	s.mu.Lock()
	if s.hasReport {
		report := s.lastReport
		resp.LastReport = &report
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

type pendingItem struct {
	models.PendingMutation
	ProductName string `json:"product_name,omitempty"`
}

func (s *Server) handlePendingList(w http.ResponseWriter, r *http.Request) {
	items := s.queue.List()
	out := make([]pendingItem, 0, len(items))
	for _, m := range items {
		item := pendingItem{PendingMutation: m}
		// Scans carry only a barcode; resolve the display name when the
		// catalog (or its cache) can answer.
		if m.Kind == models.KindScanEvent {
			var scan models.ScanEvent
			if json.Unmarshal(m.Payload, &scan) == nil {
				item.ProductName = s.client.ProductName(r.Context(), scan.Barcode)
			}
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePendingClear(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.logger.Warn("Pending queue cleared via admin API")
	w.WriteHeader(http.StatusNoContent)
}

type enqueueRequest struct {
	Kind    models.Kind     `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if !req.Kind.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown mutation kind %q", req.Kind))
		return
	}
	if len(req.Payload) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("payload is required"))
		return
	}

	m := models.NewPendingMutation(req.Kind, req.Payload)
	if err := s.queue.Enqueue(m); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, m)
}

func (s *Server) handleFailedList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deadLetter.List())
}

func (s *Server) handleFailedRequeue(w http.ResponseWriter, r *http.Request) {
	index, ok := s.pathIndex(w, r)
	if !ok {
		return
	}
	if err := s.deadLetter.Requeue(index, s.queue); err != nil {
		if errors.Is(err, store.ErrIndexOutOfRange) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.scheduler.RequestFlush()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFailedRemove(w http.ResponseWriter, r *http.Request) {
	index, ok := s.pathIndex(w, r)
	if !ok {
		return
	}
	if err := s.deadLetter.RemoveAt(index); err != nil {
		if errors.Is(err, store.ErrIndexOutOfRange) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	s.scheduler.RequestFlush()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "flush requested"})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	token, err := s.client.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	if err := s.session.SaveToken(token); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	// A fresh credential often unblocks a queue stuck on 401s.
	s.scheduler.RequestFlush()
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged in"})
}

func (s *Server) pathIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, errors.New("index must be a non-negative integer"))
		return 0, false
	}
	return index, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// ListenAndServe runs the admin server until ctx is cancelled, then shuts
// it down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("🛠️  Admin API listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
