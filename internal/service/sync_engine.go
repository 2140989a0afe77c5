package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Guizzs26/go-inventory-agent/internal/models"
	"github.com/Guizzs26/go-inventory-agent/internal/remote"
	"github.com/Guizzs26/go-inventory-agent/internal/store"
	"github.com/Guizzs26/go-inventory-agent/pkg/metrics"
)

// Stop reasons reported when a flush pass aborts or halts early.
const (
	ReasonNoCredential        = "NoCredential"
	ReasonEndpointUnavailable = "EndpointUnavailable"
)

// Sender is the remote endpoint contract the engine replays against.
type Sender interface {
	Health(ctx context.Context) error
	Send(ctx context.Context, m models.PendingMutation) (remote.Outcome, error)
}

// Report summarizes one flush pass. Reason is empty when the queue fully
// drained.
type Report struct {
	Sent          int                     `json:"sent"`
	MovedToFailed int                     `json:"moved_to_failed"`
	Reason        string                  `json:"reason,omitempty"`
	NewlyFailed   []models.FailedMutation `json:"newly_failed,omitempty"`
}

// SyncEngine orchestrates flush passes: preconditions, sequential replay
// in queue order, classification-driven branching, and the commit of
// whatever remains. Nothing in a pass is fatal to the process; every abort
// path leaves durable state consistent and retryable.
type SyncEngine struct {
	queue      *store.PendingQueue
	deadLetter *store.DeadLetterStore
	sender     Sender
	tokens     remote.TokenSource
	logger     *slog.Logger
}

func NewSyncEngine(queue *store.PendingQueue, deadLetter *store.DeadLetterStore, sender Sender, tokens remote.TokenSource, logger *slog.Logger) *SyncEngine {
	return &SyncEngine{
		queue:      queue,
		deadLetter: deadLetter,
		sender:     sender,
		tokens:     tokens,
		logger:     logger,
	}
}

// Flush runs a single pass over the pending queue.
//
// Success drops the item and moves on. A permanent failure dead-letters
// the item and moves on: one bad item must not block its siblings. The
// first transient failure halts the pass with everything from that item
// onward left untouched, in order; transient failures are assumed
// correlated, and replaying past one would both waste the device's battery
// budget and break the FIFO contract dependent operations rely on. A
// transport-level error mid-pass halts the same way but is reported
// distinctly.
//
// All network calls happen here, outside any store lock.
func (e *SyncEngine) Flush(ctx context.Context) Report {
	start := time.Now()

	items := e.queue.List()
	if len(items) == 0 {
		metrics.FlushesTotal.WithLabelValues("empty").Inc()
		return Report{}
	}

	if _, ok := e.tokens.Token(); !ok {
		e.logger.Warn("Flush skipped: no session token")
		metrics.FlushesTotal.WithLabelValues("no_credential").Inc()
		return Report{Reason: ReasonNoCredential}
	}

	// One cheap probe up front instead of burning a full queue's worth of
	// timeouts when the backend is known to be down.
	if err := e.sender.Health(ctx); err != nil {
		e.logger.Warn("Flush skipped: endpoint unavailable", "error", err)
		metrics.HealthStatus.Set(0)
		metrics.FlushesTotal.WithLabelValues("endpoint_unavailable").Inc()
		return Report{Reason: ReasonEndpointUnavailable}
	}
	metrics.HealthStatus.Set(1)

	defer func() {
		metrics.FlushDuration.Observe(time.Since(start).Seconds())
	}()

	snapshotLen := len(items)
	var report Report

	i := 0
replay:
	for i < len(items) {
		m := items[i]
		l := e.logger.With("kind", m.Kind, "position", i)

		out, sendErr := e.sender.Send(ctx, m)
		if sendErr != nil {
			l.Error("Transport failure mid-pass, halting", "error", sendErr)
			report.Reason = "TransportError: " + models.Truncate(sendErr.Error(), 200)
			break
		}

		cls := Classify(out)
		switch cls.Class {
		case ClassSuccess:
			report.Sent++
			metrics.MutationsSent.WithLabelValues(string(m.Kind)).Inc()
			// Removal shifts the next item into position i; do not advance.
			items = append(items[:i], items[i+1:]...)

		case ClassPermanent:
			failed := models.NewFailedMutation(m, cls.Code, cls.Detail)
			if err := e.deadLetter.Add(failed); err != nil {
				// Dropping the item without a dead-letter record would lose
				// it entirely; leave it queued and halt instead.
				l.Error("CRITICAL: dead-letter write failed, halting pass", "error", err)
				break replay
			}
			l.Warn("Mutation permanently rejected, moved to dead letter", "code", cls.Code)
			report.MovedToFailed++
			report.NewlyFailed = append(report.NewlyFailed, failed)
			metrics.DeadLettered.WithLabelValues(string(m.Kind)).Inc()
			items = append(items[:i], items[i+1:]...)

		case ClassTransient:
			l.Warn("Transient failure, halting pass", "code", cls.Code, "detail", models.Truncate(cls.Detail, 200))
			break replay
		}
	}

	// Commit the remainder. Items enqueued while the pass was dispatching
	// sit beyond the snapshot and are preserved.
	if err := e.queue.ReplaceHead(snapshotLen, items); err != nil {
		e.logger.Error("CRITICAL: failed to commit queue remainder", "error", err)
	}

	if report.Reason == "" && len(items) > 0 {
		report.Reason = fmt.Sprintf("StoppedWith%dPending", len(items))
	}

	switch {
	case report.Reason == "":
		metrics.FlushesTotal.WithLabelValues("drained").Inc()
	case strings.HasPrefix(report.Reason, "TransportError"):
		metrics.FlushesTotal.WithLabelValues("transport_error").Inc()
	default:
		metrics.FlushesTotal.WithLabelValues("stopped").Inc()
	}

	e.logger.Info("Flush pass finished",
		"sent", report.Sent,
		"moved_to_failed", report.MovedToFailed,
		"remaining", len(items),
		"reason", report.Reason,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return report
}
