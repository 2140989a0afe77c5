package service

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Guizzs26/go-inventory-agent/pkg/infra"
)

// Flusher is the single operation the scheduler drives.
type Flusher interface {
	Flush(ctx context.Context) Report
}

// Scheduler serializes flush passes. Every trigger source (enqueue hook,
// admin API, periodic tick, retry tick, foreground signal) funnels into
// one buffered channel drained by a single goroutine, so at most one pass
// is ever in flight and a burst of triggers collapses into one pass over
// the whole backlog.
type Scheduler struct {
	engine   Flusher
	online   func() bool
	backoff  *infra.Backoff
	logger   *slog.Logger
	interval time.Duration
	retry    time.Duration

	kick         chan struct{}
	retryPending atomic.Bool
	onReport     func(Report)
}

// SchedulerConfig carries the two cadences: interval is the periodic
// sweep, retry is how often a deferred pass is re-attempted once the
// device looks reachable again.
type SchedulerConfig struct {
	Interval time.Duration
	Retry    time.Duration
}

func NewScheduler(engine Flusher, online func() bool, cfg SchedulerConfig, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		engine:   engine,
		online:   online,
		backoff:  infra.NewBackoff(2*time.Second, 2*time.Minute, 2.0),
		logger:   logger,
		interval: cfg.Interval,
		retry:    cfg.Retry,
		kick:     make(chan struct{}, 1),
	}
}

// OnReport registers a callback invoked after every completed pass.
func (s *Scheduler) OnReport(fn func(Report)) {
	s.onReport = fn
}

// RequestFlush asks for an immediate pass. Non-blocking: if a request is
// already queued the new one merges into it, since the pending pass will
// see the current queue contents anyway.
func (s *Scheduler) RequestFlush() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// NotifyForeground is the app-visible trigger: flush now if possible.
func (s *Scheduler) NotifyForeground() {
	s.logger.Debug("Foreground notification received")
	s.RequestFlush()
}

// Run drives the scheduler until ctx is cancelled. It owns the only
// goroutine that ever calls Flush.
func (s *Scheduler) Run(ctx context.Context) {
	periodic := time.NewTicker(s.interval)
	defer periodic.Stop()

	retry := time.NewTicker(s.retry)
	defer retry.Stop()

	s.logger.Info("⏱️  Scheduler running", "interval", s.interval, "retry_poll", s.retry)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopping", "reason", ctx.Err())
			return

		case <-s.kick:
			s.runPass(ctx, "request")

		case <-periodic.C:
			s.runPass(ctx, "periodic")

		case <-retry.C:
			if s.retryPending.Load() {
				s.runPass(ctx, "retry")
			}
		}
	}
}

func (s *Scheduler) runPass(ctx context.Context, trigger string) {
	if !s.online() {
		s.logger.Debug("Offline, deferring flush", "trigger", trigger)
		s.retryPending.Store(true)
		return
	}

	report := s.engine.Flush(ctx)

	switch {
	case report.Reason == "":
		s.backoff.Reset()
		s.retryPending.Store(false)

	case report.Reason == ReasonNoCredential:
		// Retrying cannot help until someone logs in again; the next
		// explicit trigger or periodic sweep will pick the queue back up.
		s.retryPending.Store(false)

	default:
		// Transient halt, endpoint down, or transport error: wait out the
		// backoff, then let the retry ticker re-attempt.
		wait := s.backoff.Next()
		s.logger.Info("Flush halted, backing off", "reason", report.Reason, "wait", wait, "attempt", s.backoff.Attempts())
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
		s.retryPending.Store(true)
	}

	if s.onReport != nil {
		s.onReport(report)
	}
}
